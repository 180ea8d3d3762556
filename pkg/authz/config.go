package authz

// IdentityMode selects how callers are identified.
type IdentityMode string

const (
	// IdentityModeJWT verifies a session token issued by the identity provider.
	IdentityModeJWT IdentityMode = "jwt"
	// IdentityModeTrustedProxy trusts X-Remote-User and X-Remote-Email set by an
	// authenticating proxy in front of the server.
	IdentityModeTrustedProxy IdentityMode = "trusted-proxy"
)

// Header and cookie names read by IdentityMiddleware.
const (
	HeaderRemoteUser  = "X-Remote-User"
	HeaderRemoteEmail = "X-Remote-Email"
	SessionCookie     = "__session"
)
