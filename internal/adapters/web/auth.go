package web

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Tokens are issued by the CRM. The engine only verifies them and reads the role.
const (
	RoleFinance = "finance"
	RoleAdmin   = "admin"
)

var hmacMethods = []string{"HS256", "HS384", "HS512"}

// AuthClaims is the caller identity carried in a CRM session token.
type AuthClaims struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type authKey struct{}

func authFromContext(ctx context.Context) *AuthClaims {
	c, _ := ctx.Value(authKey{}).(*AuthClaims)
	return c
}

// actor names the caller for audit fields, preferring an explicit value.
func actor(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if c := authFromContext(r.Context()); c != nil {
		return c.Username
	}
	return ""
}

// sessionToken reads the Authorization bearer token, or the auth_token cookie
// the CRM sets for browser sessions.
func sessionToken(r *http.Request) string {
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	if c, err := r.Cookie("auth_token"); err == nil {
		return c.Value
	}
	return ""
}

func (h *Handler) verify(raw string) (*AuthClaims, error) {
	claims := &AuthClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return []byte(h.jwtSecret), nil },
		jwt.WithValidMethods(hmacMethods),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.Username == "" {
		return nil, errors.New("token has no username")
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid session token (401) and puts
// the verified claims in the request context.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := sessionToken(r)
		if raw == "" {
			writeError(w, r, "authentication required", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		claims, err := h.verify(raw)
		if err != nil {
			rl := h.requestLog(r)
			rl.Debug().Err(err).Msg("token rejected")
			writeError(w, r, "invalid or expired token", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authKey{}, claims)))
	})
}

// RequireRole answers 403 unless the caller holds one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c := authFromContext(r.Context()); c == nil || !slices.Contains(roles, c.Role) {
				writeError(w, r, "insufficient role", "FORBIDDEN", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// me handles GET /api/auth/me.
func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	c := authFromContext(r.Context())
	if c == nil {
		writeError(w, r, "not authenticated", "UNAUTHORIZED", http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]any{"user_id": c.UserID, "username": c.Username, "role": c.Role})
}
