package auth

import "context"

// Request carries the request-scoped inputs to bearer authentication.
type Request struct {
	// Realm scopes which issuer the token must come from.
	Realm string
	// Authorization is the raw Authorization header value.
	Authorization string
}

// Verdict is the outcome of bearer token validation for a single request.
type Verdict struct {
	Authenticated bool
	HasToken      bool
	// Subject is the token subject when authenticated.
	Subject string
}

// OK reports whether the request may proceed.
func (v Verdict) OK() bool {
	return v.HasToken && v.Authenticated
}

// Authenticator validates the bearer token of a request. Implementations never
// fail: any problem with the token yields a negative Verdict.
type Authenticator interface {
	Authenticate(ctx context.Context, req Request) Verdict
}
