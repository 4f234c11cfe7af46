package pmcp

import "context"

// AuthInfo is the principal identity carried alongside a request once an
// external auth flow (out of scope for this SDK, see spec.md §1) has
// verified it. The core only carries this value through to handlers; it
// never performs the verification itself.
type AuthInfo struct {
	Scheme    string // e.g. "bearer", "mtls"
	Principal string
	raw       any // the scheme-specific credential, opaque to the core
}

// Raw returns the scheme-specific credential value that produced this
// AuthInfo, for handlers that need it (e.g. to re-check scopes).
func (a AuthInfo) Raw() any { return a.raw }

// NewAuthInfo constructs an AuthInfo, attaching an opaque scheme-specific
// credential value.
func NewAuthInfo(scheme, principal string, raw any) AuthInfo {
	return AuthInfo{Scheme: scheme, Principal: principal, raw: raw}
}

type authInfoKey struct{}

// WithAuthInfo attaches auth to ctx, for handlers to recover via
// AuthInfoFromContext.
func WithAuthInfo(ctx context.Context, auth AuthInfo) context.Context {
	return context.WithValue(ctx, authInfoKey{}, auth)
}

// AuthInfoFromContext returns the AuthInfo attached to ctx, if any.
func AuthInfoFromContext(ctx context.Context) (AuthInfo, bool) {
	v, ok := ctx.Value(authInfoKey{}).(AuthInfo)
	return v, ok
}
