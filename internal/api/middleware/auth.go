package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/docsmith/docsmith/internal/api/models"
	"github.com/docsmith/docsmith/internal/auth"
)

type principalKey struct{}

type principal struct {
	subject string
	role    string
}

// Authenticate validates an optional JWT bearer token and stores its subject
// and role claim in the request context. Requests without an Authorization
// header continue anonymously; a header that does not verify gets 401. With a
// nil token service every request is anonymous.
func Authenticate(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || tokens == nil {
				next.ServeHTTP(w, r)
				return
			}

			const bearerPrefix = "Bearer "
			if len(authHeader) < len(bearerPrefix) ||
				!strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
				writeUnauthorized(w, r, "invalid authorization header format")
				return
			}

			tokenString := strings.TrimSpace(authHeader[len(bearerPrefix):])
			if tokenString == "" {
				writeUnauthorized(w, r, "missing bearer token")
				return
			}

			claims, err := tokens.ValidateToken(tokenString)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrTokenExpired):
					writeUnauthorized(w, r, "access token has expired")
				case errors.Is(err, auth.ErrInvalidToken):
					writeUnauthorized(w, r, "invalid access token")
				default:
					writeUnauthorized(w, r, "authentication failed")
				}
				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, principal{
				subject: claims.Subject,
				role:    claims.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects anonymous requests with 401 and authenticated requests
// whose role is not one of roles with 403.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetSubject(r.Context()) == "" {
				writeUnauthorized(w, r, "authentication required")
				return
			}

			role := GetRole(r.Context())
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}

			problem := models.NewForbidden(GetRequestID(r.Context()), "this endpoint requires role "+strings.Join(roles, " or "))
			problem.Instance = r.URL.Path
			problem.Write(w)
		})
	}
}

// writeUnauthorized writes a 401 problem. It lives here rather than in the
// response package to avoid an import cycle.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem := models.NewUnauthorized(GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	w.Header().Set("WWW-Authenticate", `Bearer realm="docsmith"`)
	problem.Write(w)
}

// GetRole retrieves the verified role from the context. Returns an empty
// string for anonymous requests.
func GetRole(ctx context.Context) string {
	if p, ok := ctx.Value(principalKey{}).(principal); ok {
		return p.role
	}
	return ""
}

// GetSubject retrieves the verified token subject from the context. Returns
// an empty string for anonymous requests.
func GetSubject(ctx context.Context) string {
	if p, ok := ctx.Value(principalKey{}).(principal); ok {
		return p.subject
	}
	return ""
}
