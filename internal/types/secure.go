package types

// redactedPlaceholder is the string used to replace secret values in logs and serialization.
const redactedPlaceholder = "***REDACTED***"

// redactedJSON is the pre-computed JSON encoding of the redacted placeholder.
var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString is a string type that prevents accidental logging or
// serialization of sensitive values such as the token signing secret or
// database credentials. String() and MarshalJSON() return a redacted
// placeholder, so secrets never leak through fmt functions or JSON output.
//
// Use Unmask() to retrieve the raw plaintext when it is genuinely needed.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value of the secret. Usage should be
// limited to the call sites that actually need the secret, such as HMAC
// signing or building a database connection string.
func (s SecretString) Unmask() string {
	return string(s)
}
