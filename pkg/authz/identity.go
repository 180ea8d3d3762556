package authz

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// identityCtxKey is an unexported type used as the context key for Subject.
type identityCtxKey struct{}

// WithSubject returns a new context with s attached.
func WithSubject(ctx context.Context, s Subject) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, s)
}

// SubjectFromContext retrieves the Subject from the context.
// Returns the zero value and false if no identity is set.
func SubjectFromContext(ctx context.Context) (Subject, bool) {
	s, ok := ctx.Value(identityCtxKey{}).(Subject)
	return s, ok
}

// UserIDFromRequest returns the authenticated user's id, if any.
func UserIDFromRequest(r *http.Request) (string, bool) {
	s, ok := SubjectFromContext(r.Context())
	if !ok || s.UserID == "" {
		return "", false
	}
	return s.UserID, true
}

// IdentityConfig configures IdentityMiddleware.
type IdentityConfig struct {
	Mode IdentityMode

	// HMACSecret verifies HS256 tokens.
	HMACSecret []byte

	// PublicKey verifies RS256 tokens. Takes precedence over HMACSecret.
	PublicKey *rsa.PublicKey

	// Issuer is the expected iss claim. If empty, issuer is not validated.
	Issuer string

	// Audience is the expected aud claim. If empty, audience is not validated.
	Audience string

	// Logger for debugging. If nil, uses slog.Default().
	Logger *slog.Logger
}

// sessionClaims are the claims read from an identity provider session token.
type sessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

var errNoVerificationKey = errors.New("no token verification key configured")

// IdentityMiddleware returns HTTP middleware that authenticates the caller and
// stores the Subject in the request context. Requests without a valid
// identity pass through unauthenticated; guards decide whether that is fatal.
//
// In jwt mode the token is read from "Authorization: Bearer <token>" or the
// session cookie. In trusted-proxy mode X-Remote-User and X-Remote-Email are
// taken as given.
func IdentityMiddleware(cfg IdentityConfig) (func(http.Handler) http.Handler, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	switch cfg.Mode {
	case IdentityModeTrustedProxy:
		cfg.Logger.Warn("identity: trusting X-Remote-User headers, only run behind an authenticating proxy")
		return trustedProxyIdentity(), nil
	case IdentityModeJWT, "":
		if cfg.PublicKey == nil && len(cfg.HMACSecret) == 0 {
			return nil, errNoVerificationKey
		}
		return jwtIdentity(cfg), nil
	default:
		return nil, fmt.Errorf("unknown identity mode %q", cfg.Mode)
	}
}

func trustedProxyIdentity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := strings.TrimSpace(r.Header.Get(HeaderRemoteUser))
			if user == "" {
				next.ServeHTTP(w, r)
				return
			}
			s := Subject{
				UserID: user,
				Email:  strings.TrimSpace(r.Header.Get(HeaderRemoteEmail)),
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), s)))
		})
	}
}

func jwtIdentity(cfg IdentityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			s, err := parseSessionToken(token, cfg)
			if err != nil {
				cfg.Logger.Debug("session token rejected", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), s)))
		})
	}
}

// extractToken reads the bearer token, falling back to the session cookie.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func parseSessionToken(tokenString string, cfg IdentityConfig) (Subject, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if cfg.PublicKey != nil {
		opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if cfg.PublicKey != nil {
			return cfg.PublicKey, nil
		}
		return cfg.HMACSecret, nil
	}, opts...)
	if err != nil {
		return Subject{}, fmt.Errorf("JWT parse error: %w", err)
	}
	if claims.Subject == "" {
		return Subject{}, errors.New("token has no subject")
	}
	return Subject{UserID: claims.Subject, Email: claims.Email}, nil
}

// LoadRSAPublicKey reads a PEM-encoded RSA public key.
func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWT public key from %s: %w", path, err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
