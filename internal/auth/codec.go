package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shutterdesk/internal/types"
)

// TokenClaims is the decoded payload of an access or refresh token. Subject
// is the user ID; ID is the session ID for access tokens and the refresh
// token ID for refresh tokens.
type TokenClaims struct {
	Subject   string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec encodes and verifies HMAC-signed bearer tokens. Tokens are
// colon-delimited: user_id:id:issued_epoch:expires_epoch:signature, where the
// signature is hex(HMAC-SHA256(secret, payload)) over the first four fields.
type TokenCodec struct {
	secret []byte
	clock  types.Clock
}

// NewTokenCodec creates a codec signing with the given secret.
// If clock is nil, RealClock is used.
func NewTokenCodec(secret string, clock types.Clock) *TokenCodec {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &TokenCodec{secret: []byte(secret), clock: clock}
}

// EncodeAccess builds a signed access token binding a user to a session.
func (c *TokenCodec) EncodeAccess(userID, sessionID string, issued, expires time.Time) string {
	return c.encode(userID, sessionID, issued, expires)
}

// EncodeRefresh builds a signed refresh token binding a user to a refresh
// token ID.
func (c *TokenCodec) EncodeRefresh(userID, tokenID string, issued, expires time.Time) string {
	return c.encode(userID, tokenID, issued, expires)
}

func (c *TokenCodec) encode(subject, id string, issued, expires time.Time) string {
	payload := fmt.Sprintf("%s:%s:%d:%d", subject, id, issued.Unix(), expires.Unix())
	return payload + ":" + c.sign(payload)
}

func (c *TokenCodec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Decode parses and verifies a token. Failures are typed: a token that does
// not have exactly five fields or carries non-numeric epochs is malformed, a
// wrong signature is a signature failure, and a token past its expiry is
// expired. Signatures are compared in constant time.
func (c *TokenCodec) Decode(token string) (*TokenClaims, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 5 {
		return nil, types.NewAppError(types.ErrCodeValidationMalformedToken, "malformed token", nil)
	}

	issuedEpoch, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationMalformedToken, "malformed token", nil)
	}
	expiresEpoch, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationMalformedToken, "malformed token", nil)
	}

	payload := strings.Join(parts[:4], ":")
	expected := c.sign(payload)
	if !hmac.Equal([]byte(expected), []byte(parts[4])) {
		return nil, types.NewAppError(types.ErrCodeAuthBadSignature, "token signature mismatch", nil)
	}

	claims := &TokenClaims{
		Subject:   parts[0],
		ID:        parts[1],
		IssuedAt:  time.Unix(issuedEpoch, 0).UTC(),
		ExpiresAt: time.Unix(expiresEpoch, 0).UTC(),
	}
	if c.clock.Now().After(claims.ExpiresAt) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "token has expired", nil)
	}
	return claims, nil
}

// HashToken produces a hex-encoded SHA-256 digest of a raw token string.
// Only digests are persisted; the digest must be searchable in the database
// (unlike bcrypt which is salted and non-searchable).
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// CanonicalizeEmail normalizes email addresses for consistent DB lookups.
func CanonicalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
