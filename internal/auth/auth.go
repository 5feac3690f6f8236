// Package auth resolves the requester identity for incoming API calls.
package auth

import "net/http"

// AnonymousUser is the requester recorded when no identity is supplied.
const AnonymousUser = "anonymous"

// userIDHeader carries the caller identity. Upstream infrastructure is
// trusted to have verified it.
const userIDHeader = "X-User-ID"

// Authenticator extracts the requester identity from a request.
type Authenticator interface {
	UserID(r *http.Request) string
}

// HeaderAuthenticator reads the identity from a request header, falling
// back to AnonymousUser.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) UserID(r *http.Request) string {
	if id := r.Header.Get(userIDHeader); id != "" {
		return id
	}
	return AnonymousUser
}

// StaticAuthenticator always reports the same identity. Used by the CLI
// where the caller is configured, not negotiated.
type StaticAuthenticator struct {
	ID string
}

func (a StaticAuthenticator) UserID(*http.Request) string {
	if a.ID == "" {
		return AnonymousUser
	}
	return a.ID
}
