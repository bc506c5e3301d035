package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"ecompulse.app/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	roleAdmin  = "admin"
)

// withSession requires a valid session token and puts its claims in the
// request context.
func (a *API) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.sessions == nil {
			respondError(w, r, http.StatusServiceUnavailable, "sessions are not configured", nil)
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			respondError(w, r, http.StatusUnauthorized, err.Error(), nil)
			return
		}
		claims, err := a.sessions.Parse(token)
		if err != nil {
			respondError(w, r, http.StatusUnauthorized, "invalid token", nil)
			return
		}
		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = auth.ContextWithToken(ctx, token)
		next(w, r.WithContext(ctx))
	}
}

// RequireRole rejects requests whose authenticated user lacks role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.UserIDFromContext(r.Context()); !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="ecompulse"`)
				respondError(w, r, http.StatusUnauthorized, "authentication required", nil)
				return
			}
			if !auth.HasRole(r.Context(), role) {
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
				respondError(w, r, http.StatusForbidden, "forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// admin chains session authentication with the admin role check.
func (a *API) admin(next http.HandlerFunc) http.HandlerFunc {
	return a.withSession(RequireRole(roleAdmin)(next).ServeHTTP)
}

// withCronSecret requires "Authorization: Bearer <cron secret>".
func (a *API) withCronSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.cronSecret == "" {
			respondError(w, r, http.StatusServiceUnavailable, "cron secret is not configured", nil)
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil || subtle.ConstantTimeCompare([]byte(token), []byte(a.cronSecret)) != 1 {
			respondError(w, r, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		next(w, r)
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
