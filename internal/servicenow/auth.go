package servicenow

import (
	"encoding/base64"
)

// BasicAuthenticator holds a pre-computed HTTP Basic Authorization header
// value. The adapter only speaks Basic auth; there is no token to refresh.
type BasicAuthenticator struct {
	header string
}

// NewBasicAuthenticator creates a BasicAuthenticator from the given credentials.
// The username:password pair is base64-encoded per RFC 7617.
func NewBasicAuthenticator(username, password string) *BasicAuthenticator {
	encoded := base64.StdEncoding.EncodeToString(
		[]byte(username + ":" + password),
	)
	return &BasicAuthenticator{
		header: "Basic " + encoded,
	}
}

// Header returns the "Basic <base64>" header value.
func (b *BasicAuthenticator) Header() string {
	return b.header
}

