package types

// redacted replaces secret values wherever they would otherwise be printed.
const redacted = "***REDACTED***"

// redactedJSON is the pre-computed JSON encoding of the redacted marker.
var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a sensitive configuration value, such as the database
// URL or the Expo access token, without letting it leak through logging or
// serialization. String() and MarshalJSON() both return a redacted marker,
// so a config dump or a structured log line never exposes the plaintext.
//
// Call Unmask() at the point the real value is needed, e.g. when building
// the Authorization header for the push gateway or opening the connection
// pool.
type SecretString string

// String returns the redacted marker. Invoked by the fmt package and slog
// whenever the value is formatted.
func (s SecretString) String() string {
	return redacted
}

// MarshalJSON returns the redacted marker as a JSON string so encoded
// config or response payloads never carry the secret.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the plaintext secret. Keep call sites to the few places
// that genuinely hand the value to a driver or an HTTP client.
func (s SecretString) Unmask() string {
	return string(s)
}
