package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"kilit.org/internal/audit"
	"kilit.org/internal/auth"
)

type setupRequest struct {
	SetupKey string `json:"setup_key"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type switchContextRequest struct {
	OrgID string `json:"org_id"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type authResponse struct {
	User      userResponse `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	OrgID     string       `json:"org_id"`
	OrgCount  int          `json:"org_count"`
}

type authzResponse struct {
	ID          string       `json:"id"`
	OrgID       string       `json:"org_id"`
	OrgCount    int          `json:"org_count"`
	Scope       []string     `json:"scope"`
	User        userResponse `json:"user"`
	Roles       []string     `json:"roles"`
	Permissions []string     `json:"permissions"`
}

type meOrgsResponse struct {
	Items []membershipResponse `json:"items"`
	Total int                  `json:"total"`
}

func toUserResponse(u *auth.User) userResponse {
	if u == nil {
		return userResponse{}
	}
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Status:    u.Status,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func toAuthResponse(res auth.AuthResult) authResponse {
	return authResponse{
		User:      toUserResponse(&res.User),
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		OrgID:     res.OrgID,
		OrgCount:  res.OrgCount,
	}
}

func (a *API) handleSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req setupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.Setup(r.Context(), req.SetupKey, req.Email, req.Name, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.setup", map[string]any{
		"email": user.Email,
	})
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if reason := loginFailureReason(err); reason != "" {
			_ = audit.LogEvent(r.Context(), "auth.login_failed", map[string]any{
				"email":  req.Email,
				"reason": reason,
			})
		}
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"email":  res.User.Email,
		"org_id": res.OrgID,
	})
	writeJSON(w, http.StatusOK, toAuthResponse(res))
}

// loginFailureReason classifies rejections worth an audit entry. Input
// validation noise is not one of them.
func loginFailureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, auth.ErrInactiveUser):
		return "inactive_user"
	case errors.Is(err, auth.ErrNoMembership):
		return "no_membership"
	default:
		return ""
	}
}

func (a *API) handleSwitchContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	var req switchContextRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.SwitchContext(r.Context(), actor, req.OrgID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.switch_context", map[string]any{
		"target_org_id": res.OrgID,
	})
	writeJSON(w, http.StatusOK, toAuthResponse(res))
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(actor.User))
}

func (a *API) handleMeAuthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}

	id := actor.Identity
	roles := make([]string, 0, len(id.Roles))
	for _, role := range id.Roles {
		roles = append(roles, string(role))
	}
	scopes := make([]string, 0, len(id.Scopes))
	for _, sc := range id.Scopes {
		scopes = append(scopes, string(sc))
	}
	perms := make([]string, 0, len(actor.Permissions))
	for _, p := range actor.Permissions {
		perms = append(perms, string(p))
	}
	sort.Strings(perms)

	writeJSON(w, http.StatusOK, authzResponse{
		ID:          id.UserID,
		OrgID:       id.OrgID,
		OrgCount:    id.OrgCount,
		Scope:       scopes,
		User:        toUserResponse(actor.User),
		Roles:       roles,
		Permissions: perms,
	})
}

// handleMeOrgs lists the session user's own memberships. Any logged-in
// user may call it; this is what feeds an org switcher, so it must not
// require admin permissions.
func (a *API) handleMeOrgs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	memberships, err := a.svc.ListUserMemberships(r.Context(), actor.Identity.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	items := make([]membershipResponse, 0, len(memberships))
	for _, m := range memberships {
		items = append(items, toMembershipResponse(m))
	}
	writeJSON(w, http.StatusOK, meOrgsResponse{Items: items, Total: len(items)})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ChangePassword(r.Context(), actor, req.CurrentPassword, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.change", nil)
	w.WriteHeader(http.StatusNoContent)
}
