package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"kilit.org/internal/audit"
	"kilit.org/internal/auth"
)

type createAppRequest struct {
	Name        string `json:"name"`
	RedirectURI string `json:"redirect_uri"`
}

type updateAppRequest struct {
	Name        *string `json:"name"`
	RedirectURI *string `json:"redirect_uri"`
}

type appResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ClientID    string    `json:"client_id"`
	RedirectURI string    `json:"redirect_uri"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// appWithSecretResponse is returned only on create and secret rotation;
// the secret is never readable afterwards.
type appWithSecretResponse struct {
	appResponse
	ClientSecret string `json:"client_secret"`
}

func toAppResponse(app *auth.App) appResponse {
	return appResponse{
		ID:          app.ID,
		Name:        app.Name,
		ClientID:    app.ClientID,
		RedirectURI: app.RedirectURI,
		CreatedAt:   app.CreatedAt,
		UpdatedAt:   app.UpdatedAt,
	}
}

func toAppWithSecretResponse(app *auth.App) appWithSecretResponse {
	return appWithSecretResponse{
		appResponse:  toAppResponse(app),
		ClientSecret: app.ClientSecret,
	}
}

func (a *API) handleAppsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listApps(w, r)
	case http.MethodPost:
		a.createApp(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAppResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/apps/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	appID := parts[0]
	switch {
	case len(parts) == 1:
		a.handleApp(w, r, appID)
	case len(parts) == 2 && parts[1] == "regenerate-secret":
		a.regenerateAppSecret(w, r, appID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) listApps(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.ensurePermissions(w, r, auth.PermissionAppsList); !ok {
		return
	}
	params, err := parseListParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	apps, total, err := a.svc.ListApps(r.Context(), params)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	items := make([]appResponse, 0, len(apps))
	for _, app := range apps {
		items = append(items, toAppResponse(app))
	}
	writeJSON(w, http.StatusOK, toListResponse(items, total, params))
}

func (a *API) createApp(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.ensurePermissions(w, r, auth.PermissionAppsCreate); !ok {
		return
	}
	var req createAppRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	app, err := a.svc.CreateApp(r.Context(), req.Name, req.RedirectURI)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "app.create", map[string]any{
		"app_id":    app.ID,
		"client_id": app.ClientID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/apps/%s", app.ID))
	writeJSON(w, http.StatusCreated, toAppWithSecretResponse(app))
}

func (a *API) handleApp(w http.ResponseWriter, r *http.Request, appID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.ensurePermissions(w, r, auth.PermissionAppsView); !ok {
			return
		}
		app, err := a.svc.GetApp(r.Context(), appID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppResponse(app))

	case http.MethodPatch:
		if _, ok := a.ensurePermissions(w, r, auth.PermissionAppsEdit); !ok {
			return
		}
		var req updateAppRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		app, err := a.svc.UpdateApp(r.Context(), appID, auth.AppUpdate{
			Name:        req.Name,
			RedirectURI: req.RedirectURI,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "app.update", map[string]any{
			"app_id": app.ID,
		})
		writeJSON(w, http.StatusOK, toAppResponse(app))

	case http.MethodDelete:
		if _, ok := a.ensurePermissions(w, r, auth.PermissionAppsDelete); !ok {
			return
		}
		if err := a.svc.DeleteApp(r.Context(), appID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "app.delete", map[string]any{
			"app_id": appID,
		})
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) regenerateAppSecret(w http.ResponseWriter, r *http.Request, appID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.ensurePermissions(w, r, auth.PermissionAppsEdit); !ok {
		return
	}
	app, err := a.svc.RegenerateAppSecret(r.Context(), appID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "app.regenerate_secret", map[string]any{
		"app_id":    app.ID,
		"client_id": app.ClientID,
	})
	writeJSON(w, http.StatusOK, toAppWithSecretResponse(app))
}
