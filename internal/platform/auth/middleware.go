package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

const (
	// ActorHeader carries the caller id when the dev header fallback is enabled.
	ActorHeader = "X-Actor-ID"
	// RolesHeader carries comma separated roles alongside ActorHeader.
	RolesHeader = "X-Actor-Roles"

	defaultRole = RoleCustomer
	leeway      = 30 * time.Second
)

var (
	// ErrTokenExpired signals that the bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the bearer token failed verification.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Claims is the token payload. The subject is the actor id.
type Claims struct {
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens and, when allowed, trusts the dev header.
type Authenticator struct {
	key         []byte
	issuer      string
	allowHeader bool
	now         func() time.Time
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithIssuer requires the iss claim to match.
func WithIssuer(issuer string) Option {
	return func(a *Authenticator) {
		a.issuer = strings.TrimSpace(issuer)
	}
}

// WithHeaderActor enables the X-Actor-ID fallback. Only for trusted networks.
func WithHeaderActor(enabled bool) Option {
	return func(a *Authenticator) {
		a.allowHeader = enabled
	}
}

// WithClock injects a custom clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator constructs an Authenticator. An empty key disables bearer tokens.
func NewAuthenticator(signingKey string, opts ...Option) *Authenticator {
	a := &Authenticator{key: []byte(signingKey), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Authenticate attaches the caller identity when one is presented. Requests without
// credentials continue anonymously; invalid credentials are rejected.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get("Authorization"); strings.TrimSpace(raw) != "" {
			tokenStr, ok := extractBearerToken(raw)
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header invalid")
				return
			}
			identity, err := a.Verify(tokenStr)
			if err != nil {
				respondVerificationError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
			return
		}

		if a.allowHeader {
			if uid := strings.TrimSpace(r.Header.Get(ActorHeader)); uid != "" {
				identity := &Identity{UID: uid, Roles: parseRoles(r.Header.Get(RolesHeader))}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRoles rejects anonymous callers with 401 and callers lacking every role with 403.
// No roles means any authenticated caller.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}
			if len(roles) > 0 && !identity.HasAnyRole(roles...) {
				respondAuthError(w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Verify parses and validates a token signed with the configured key.
func (a *Authenticator) Verify(tokenStr string) (*Identity, error) {
	if a == nil || len(a.key) == 0 {
		return nil, fmt.Errorf("%w: bearer tokens not configured", ErrTokenInvalid)
	}
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	now := a.now()
	if claims.ExpiresAt != nil && now.After(claims.ExpiresAt.Time.Add(leeway)) {
		return nil, ErrTokenExpired
	}
	if claims.NotBefore != nil && now.Add(leeway).Before(claims.NotBefore.Time) {
		return nil, fmt.Errorf("%w: token not yet valid", ErrTokenInvalid)
	}
	if a.issuer != "" && claims.Issuer != a.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrTokenInvalid)
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrTokenInvalid)
	}

	roles := make([]string, 0, len(claims.Roles))
	for _, role := range claims.Roles {
		if role = normaliseRole(role); role != "" {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		roles = []string{defaultRole}
	}
	return &Identity{UID: subject, Email: strings.TrimSpace(claims.Email), Roles: roles}, nil
}

// Sign issues a token for the identity. Used by tooling and tests.
func (a *Authenticator) Sign(identity Identity, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Email: identity.Email,
		Roles: identity.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
}

func parseRoles(raw string) []string {
	var roles []string
	for _, part := range strings.Split(raw, ",") {
		if role := normaliseRole(part); role != "" {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return []string{defaultRole}
	}
	return roles
}

func extractBearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}

func respondVerificationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		respondAuthError(w, http.StatusUnauthorized, "token_expired", "bearer token expired")
	default:
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "bearer token invalid")
	}
}
