package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"kilit.org/internal/audit"
	"kilit.org/internal/auth"
)

type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type updateUserRequest struct {
	Name   *string `json:"name"`
	Status *string `json:"status"`
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

type listResponse[T any] struct {
	Items   []T `json:"items"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

func toListResponse[T any](items []T, total int, params auth.ListParams) listResponse[T] {
	n := params.Normalize()
	return listResponse[T]{
		Items:   items,
		Total:   total,
		Page:    n.Page,
		PerPage: n.PerPage,
	}
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listUsers(w, r)
	case http.MethodPost:
		a.createUser(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]
	switch {
	case len(parts) == 1:
		a.handleUser(w, r, userID)
	case len(parts) == 2 && parts[1] == "password":
		a.setUserPassword(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.ensurePermissions(w, r, auth.PermissionUsersList); !ok {
		return
	}
	params, err := parseListParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	users, total, err := a.svc.ListUsers(r.Context(), params)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	items := make([]userResponse, 0, len(users))
	for _, u := range users {
		items = append(items, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, toListResponse(items, total, params))
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.ensurePermissions(w, r, auth.PermissionUsersCreate); !ok {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.CreateUser(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.create", map[string]any{
		"target_user_id": user.ID,
		"email":          user.Email,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.ensurePermissions(w, r, auth.PermissionUsersView); !ok {
			return
		}
		user, err := a.svc.GetUser(r.Context(), userID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toUserResponse(user))

	case http.MethodPatch:
		actor, ok := a.ensurePermissions(w, r, auth.PermissionUsersEdit)
		if !ok {
			return
		}
		if rejectSelfTarget(w, r, actor, userID) {
			return
		}
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.svc.UpdateUser(r.Context(), userID, auth.UserUpdate{
			Name:   req.Name,
			Status: req.Status,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.update", map[string]any{
			"target_user_id": user.ID,
		})
		writeJSON(w, http.StatusOK, toUserResponse(user))

	case http.MethodDelete:
		actor, ok := a.ensurePermissions(w, r, auth.PermissionUsersDelete)
		if !ok {
			return
		}
		if rejectSelfTarget(w, r, actor, userID) {
			return
		}
		if err := a.svc.DeleteUser(r.Context(), userID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.delete", map[string]any{
			"target_user_id": userID,
		})
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) setUserPassword(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	actor, ok := a.ensurePermissions(w, r, auth.PermissionUsersEdit)
	if !ok {
		return
	}
	if rejectSelfTarget(w, r, actor, userID) {
		return
	}
	var req setPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.SetUserPassword(r.Context(), userID, req.Password); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.password.set", map[string]any{
		"target_user_id": userID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// rejectSelfTarget blocks admin routes from touching the caller's own
// account; the /v1/me endpoints exist for that.
func rejectSelfTarget(w http.ResponseWriter, r *http.Request, actor *auth.Actor, userID string) bool {
	if actor.Anonymous() || actor.Identity.UserID != userID {
		return false
	}
	writeError(w, r, http.StatusForbidden, "cannot target your own account; use the /v1/me endpoints")
	return true
}
