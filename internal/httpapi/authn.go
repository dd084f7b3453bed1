package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"kilit.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth resolves the session token into an Actor on every request. An
// absent header yields an anonymous actor and the request proceeds; the
// per-route gates decide what anonymity may reach. A malformed or invalid
// token is rejected here.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(authHeader)
		if strings.TrimSpace(header) == "" {
			ctx := auth.ContextWithActor(r.Context(), &auth.Actor{})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		actor, err := a.svc.ResolveActor(r.Context(), token)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}

		ctx := auth.ContextWithActor(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireActor gates a route on a logged-in session.
func (a *API) requireActor(w http.ResponseWriter, r *http.Request) (*auth.Actor, bool) {
	actor := auth.ActorFromContext(r.Context())
	if !actor.HasAuthScope() {
		handleAuthError(w, r, auth.ErrAuthRequired)
		return nil, false
	}
	return actor, true
}

// ensurePermissions gates a route on a logged-in session holding every
// listed permission.
func (a *API) ensurePermissions(w http.ResponseWriter, r *http.Request, perms ...auth.Permission) (*auth.Actor, bool) {
	actor, ok := a.requireActor(w, r)
	if !ok {
		return nil, false
	}
	if !actor.HasPermissions(perms...) {
		handleAuthError(w, r, auth.ErrForbidden)
		return nil, false
	}
	return actor, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
