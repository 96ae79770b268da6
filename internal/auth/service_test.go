package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"shutterdesk/internal/types"
)

// fakeHasher avoids bcrypt cost in tests. "correct" is the only accepted
// password.
type fakeHasher struct{}

func (fakeHasher) CompareHashAndPassword(hashedPassword, password string) error {
	if password == "correct" {
		return nil
	}
	return types.NewAppError(types.ErrCodeAuthInvalidCreds, "mismatch", nil)
}

func (fakeHasher) GenerateFromPassword(password string) (string, error) {
	return "hashed:" + password, nil
}

type loginFixture struct {
	svc      *authService
	sessions *mockSessionRepo
	refresh  *mockRefreshRepo
	users    *mockUserRepo
	attempts *mockAttemptRepo
}

func newLoginFixture() *loginFixture {
	sessions := new(mockSessionRepo)
	refresh := new(mockRefreshRepo)
	users := new(mockUserRepo)
	attempts := new(mockAttemptRepo)

	clock := testClock()
	settings := stubSettings(map[string]string{})
	codec := NewTokenCodec(testSecret, clock)
	txMgr := &fakeTxManager{sessions: sessions, refresh: refresh, users: users}

	sessionSvc := NewSessionService(SessionServiceConfig{
		Sessions:  sessions,
		Users:     users,
		Codec:     codec,
		Settings:  settings,
		IDGen:     fixedIDGen{id: "sess_fixed"},
		TxManager: txMgr,
		Clock:     clock,
	})
	refreshSvc := NewRefreshService(RefreshServiceConfig{
		Tokens:         refresh,
		Sessions:       sessions,
		Users:          users,
		SessionService: sessionSvc,
		Codec:          codec,
		Settings:       settings,
		Clock:          clock,
	})
	guard := NewAttemptGuard(attempts, settings, clock, nil)

	svc := NewAuthService(AuthServiceConfig{
		Users:          users,
		SessionService: sessionSvc,
		RefreshService: refreshSvc,
		Attempts:       guard,
		Settings:       settings,
		TxManager:      txMgr,
		Hasher:         fakeHasher{},
		Clock:          clock,
	})
	return &loginFixture{svc: svc, sessions: sessions, refresh: refresh, users: users, attempts: attempts}
}

func (f *loginFixture) allowAttempts() {
	now := testClock().Now()
	f.attempts.On("LatestBlock", mock.Anything, mock.Anything, now).Return(nil, nil)
	f.attempts.On("CountRecentByEmail", mock.Anything, mock.Anything, mock.Anything).Return(0, nil)
}

func TestAuthService_Login_Success(t *testing.T) {
	f := newLoginFixture()
	f.allowAttempts()

	user := activeUser()
	user.PasswordHash = "$2a$12$stored"
	f.users.On("GetByEmail", mock.Anything, "photographer@example.com").Return(user, nil)
	f.users.On("UpdateLastLogin", mock.Anything, "user_1").Return(nil)
	f.sessions.On("Create", mock.Anything, mock.AnythingOfType("*types.Session")).Return(nil)
	f.refresh.On("Create", mock.Anything, mock.AnythingOfType("*types.RefreshToken")).Return(nil)
	f.attempts.On("ClearBlocks", mock.Anything, "photographer@example.com").Return(0, nil)

	result, err := f.svc.Login(context.Background(), " Photographer@Example.COM ", "correct", "192.168.1.1", "TestBrowser/1.0")
	require.NoError(t, err)

	assert.Equal(t, "sess_fixed", result.Session.SessionID)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.NotEqual(t, result.AccessToken, result.RefreshToken)
	assert.Equal(t, testClock().Now().Add(time.Hour), result.AccessExpiresAt)
	assert.Equal(t, testClock().Now().Add(30*24*time.Hour), result.RefreshExpiresAt)

	f.users.AssertExpectations(t)
	f.sessions.AssertExpectations(t)
	f.refresh.AssertExpectations(t)
	f.attempts.AssertExpectations(t)
}

func TestAuthService_Login_LockedEmail(t *testing.T) {
	f := newLoginFixture()

	until := testClock().Now().Add(20 * time.Minute)
	f.attempts.On("LatestBlock", mock.Anything, "photographer@example.com", mock.Anything).Return(&until, nil)

	_, err := f.svc.Login(context.Background(), "photographer@example.com", "correct", "192.168.1.1", "")
	assertCode(t, err, types.ErrCodeAuthLocked)

	// Credentials are never touched while locked.
	f.users.AssertNotCalled(t, "GetByEmail", mock.Anything, mock.Anything)
}

func TestAuthService_Login_UnknownUserMasked(t *testing.T) {
	f := newLoginFixture()
	f.allowAttempts()

	f.users.On("GetByEmail", mock.Anything, "ghost@example.com").
		Return(nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil))
	f.attempts.On("Insert", mock.Anything, mock.AnythingOfType("*types.LoginAttempt")).Return(nil)

	_, err := f.svc.Login(context.Background(), "ghost@example.com", "whatever", "192.168.1.1", "")
	assertCode(t, err, types.ErrCodeAuthInvalidCreds)
	f.attempts.AssertCalled(t, "Insert", mock.Anything, mock.AnythingOfType("*types.LoginAttempt"))
}

func TestAuthService_Login_WrongPassword(t *testing.T) {
	f := newLoginFixture()
	f.allowAttempts()

	f.users.On("GetByEmail", mock.Anything, "photographer@example.com").Return(activeUser(), nil)
	f.attempts.On("Insert", mock.Anything, mock.AnythingOfType("*types.LoginAttempt")).Return(nil)

	_, err := f.svc.Login(context.Background(), "photographer@example.com", "wrong", "192.168.1.1", "")
	assertCode(t, err, types.ErrCodeAuthInvalidCreds)

	// No session work happens on a failed login.
	f.sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAuthService_Login_InactiveUser(t *testing.T) {
	f := newLoginFixture()
	f.allowAttempts()

	inactive := activeUser()
	inactive.IsActive = false
	f.users.On("GetByEmail", mock.Anything, "photographer@example.com").Return(inactive, nil)
	f.attempts.On("Insert", mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.Login(context.Background(), "photographer@example.com", "correct", "192.168.1.1", "")
	assertCode(t, err, types.ErrCodeAuthUserInactive)
}

func TestAuthService_Login_SessionCreateFailureAborts(t *testing.T) {
	f := newLoginFixture()
	f.allowAttempts()

	f.users.On("GetByEmail", mock.Anything, "photographer@example.com").Return(activeUser(), nil)
	f.users.On("UpdateLastLogin", mock.Anything, "user_1").Return(nil)
	f.sessions.On("Create", mock.Anything, mock.Anything).
		Return(types.NewAppError(types.ErrCodeInternalDB, "insert failed", nil))

	_, err := f.svc.Login(context.Background(), "photographer@example.com", "correct", "192.168.1.1", "")
	assertCode(t, err, types.ErrCodeInternalDB)
	f.refresh.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAuthService_Login_AttemptRecordFailureDoesNotBlockLogin(t *testing.T) {
	f := newLoginFixture()
	f.allowAttempts()

	user := activeUser()
	f.users.On("GetByEmail", mock.Anything, "photographer@example.com").Return(user, nil)
	f.users.On("UpdateLastLogin", mock.Anything, "user_1").Return(nil)
	f.sessions.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.refresh.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.attempts.On("ClearBlocks", mock.Anything, "photographer@example.com").
		Return(0, types.NewAppError(types.ErrCodeInternalDB, "db down", nil))

	result, err := f.svc.Login(context.Background(), "photographer@example.com", "correct", "192.168.1.1", "")
	require.NoError(t, err)
	assert.NotNil(t, result.Session)
}

// verifiedProfile returns an OAuth profile matching activeUser's email.
func verifiedProfile() *types.OAuthProfile {
	return &types.OAuthProfile{
		Provider:      "google",
		ProviderID:    "g-10042",
		Email:         "photographer@example.com",
		Name:          "Anna Petrova",
		EmailVerified: true,
	}
}

func TestAuthService_LoginWithOAuth_Success(t *testing.T) {
	f := newLoginFixture()
	f.allowAttempts()

	f.users.On("GetByEmail", mock.Anything, "photographer@example.com").Return(activeUser(), nil)
	f.users.On("UpdateLastLogin", mock.Anything, "user_1").Return(nil)
	f.sessions.On("Create", mock.Anything, mock.AnythingOfType("*types.Session")).Return(nil)
	f.refresh.On("Create", mock.Anything, mock.AnythingOfType("*types.RefreshToken")).Return(nil)
	f.attempts.On("ClearBlocks", mock.Anything, "photographer@example.com").Return(0, nil)

	result, err := f.svc.LoginWithOAuth(context.Background(), verifiedProfile(), "192.168.1.1", "TestBrowser/1.0")
	require.NoError(t, err)

	assert.Equal(t, "sess_fixed", result.Session.SessionID)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)

	f.users.AssertExpectations(t)
	f.sessions.AssertExpectations(t)
	f.attempts.AssertExpectations(t)
}

func TestAuthService_LoginWithOAuth_UnverifiedEmailRejected(t *testing.T) {
	f := newLoginFixture()

	profile := verifiedProfile()
	profile.EmailVerified = false

	_, err := f.svc.LoginWithOAuth(context.Background(), profile, "192.168.1.1", "")
	assertCode(t, err, types.ErrCodeAuthInvalidCreds)
	f.users.AssertNotCalled(t, "GetByEmail", mock.Anything, mock.Anything)
}

func TestAuthService_LoginWithOAuth_MissingEmailRejected(t *testing.T) {
	f := newLoginFixture()

	profile := verifiedProfile()
	profile.Email = ""

	_, err := f.svc.LoginWithOAuth(context.Background(), profile, "192.168.1.1", "")
	assertCode(t, err, types.ErrCodeAuthInvalidCreds)
}

func TestAuthService_LoginWithOAuth_LockedEmail(t *testing.T) {
	f := newLoginFixture()

	until := testClock().Now().Add(20 * time.Minute)
	f.attempts.On("LatestBlock", mock.Anything, "photographer@example.com", mock.Anything).Return(&until, nil)

	_, err := f.svc.LoginWithOAuth(context.Background(), verifiedProfile(), "192.168.1.1", "")
	assertCode(t, err, types.ErrCodeAuthLocked)
	f.users.AssertNotCalled(t, "GetByEmail", mock.Anything, mock.Anything)
}

func TestAuthService_LoginWithOAuth_UnknownUserMasked(t *testing.T) {
	f := newLoginFixture()
	f.allowAttempts()

	f.users.On("GetByEmail", mock.Anything, "photographer@example.com").
		Return(nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil))
	f.attempts.On("Insert", mock.Anything, mock.MatchedBy(func(a *types.LoginAttempt) bool {
		return a.AttemptType == "oauth" && a.Email == "photographer@example.com"
	})).Return(nil)

	_, err := f.svc.LoginWithOAuth(context.Background(), verifiedProfile(), "192.168.1.1", "")
	assertCode(t, err, types.ErrCodeAuthInvalidCreds)
	f.attempts.AssertExpectations(t)
}

func TestAuthService_LoginWithOAuth_InactiveUser(t *testing.T) {
	f := newLoginFixture()
	f.allowAttempts()

	inactive := activeUser()
	inactive.IsActive = false
	f.users.On("GetByEmail", mock.Anything, "photographer@example.com").Return(inactive, nil)
	f.attempts.On("Insert", mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.LoginWithOAuth(context.Background(), verifiedProfile(), "192.168.1.1", "")
	assertCode(t, err, types.ErrCodeAuthUserInactive)
	f.sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAuthService_LoginWithOAuth_EmailCanonicalized(t *testing.T) {
	f := newLoginFixture()
	f.allowAttempts()

	profile := verifiedProfile()
	profile.Email = " Photographer@Example.COM "

	f.users.On("GetByEmail", mock.Anything, "photographer@example.com").Return(activeUser(), nil)
	f.users.On("UpdateLastLogin", mock.Anything, "user_1").Return(nil)
	f.sessions.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.refresh.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.attempts.On("ClearBlocks", mock.Anything, "photographer@example.com").Return(0, nil)

	_, err := f.svc.LoginWithOAuth(context.Background(), profile, "192.168.1.1", "")
	require.NoError(t, err)
	f.users.AssertExpectations(t)
}
