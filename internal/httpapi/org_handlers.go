package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"kilit.org/internal/audit"
	"kilit.org/internal/auth"
)

type createOrgRequest struct {
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

type updateOrgRequest struct {
	Name    *string `json:"name"`
	Status  *string `json:"status"`
	OwnerID *string `json:"owner_id"`
}

type addMemberRequest struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

type updateMemberRequest struct {
	Roles []string `json:"roles"`
}

type linkAppRequest struct {
	AppID string `json:"app_id"`
}

type orgResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	OwnerID   string    `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type membershipResponse struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	UserID    string    `json:"user_id"`
	Roles     []string  `json:"roles"`
	OrgName   string    `json:"org_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type orgAppResponse struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	AppID     string    `json:"app_id"`
	AppName   string    `json:"app_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toOrgResponse(o *auth.Organization) orgResponse {
	return orgResponse{
		ID:        o.ID,
		Name:      o.Name,
		Status:    o.Status,
		OwnerID:   o.OwnerID,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func toMembershipResponse(m *auth.Membership) membershipResponse {
	return membershipResponse{
		ID:        m.ID,
		OrgID:     m.OrgID,
		UserID:    m.UserID,
		Roles:     rolesAsStrings(m.Roles),
		OrgName:   m.OrgName,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toOrgAppResponse(l *auth.OrgApp) orgAppResponse {
	return orgAppResponse{
		ID:        l.ID,
		OrgID:     l.OrgID,
		AppID:     l.AppID,
		AppName:   l.AppName,
		CreatedAt: l.CreatedAt,
	}
}

func toRoles(raw []string) []auth.Role {
	roles := make([]auth.Role, 0, len(raw))
	for _, r := range raw {
		roles = append(roles, auth.Role(r))
	}
	return roles
}

func rolesAsStrings(roles []auth.Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

func (a *API) handleOrgsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listOrgs(w, r)
	case http.MethodPost:
		a.createOrg(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOrgResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/orgs/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	orgID := parts[0]
	switch {
	case len(parts) == 1:
		a.handleOrg(w, r, orgID)
	case parts[1] == "members" && len(parts) == 2:
		a.handleOrgMembersCollection(w, r, orgID)
	case parts[1] == "members" && len(parts) == 3:
		a.handleOrgMemberResource(w, r, orgID, parts[2])
	case parts[1] == "apps" && len(parts) == 2:
		a.handleOrgAppsCollection(w, r, orgID)
	case parts[1] == "apps" && len(parts) == 3:
		a.handleOrgAppResource(w, r, orgID, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// ensureOrgVisible confines non-admin callers to the organization their
// session context names. System admins see every tenant.
func (a *API) ensureOrgVisible(w http.ResponseWriter, r *http.Request, actor *auth.Actor, orgID string) bool {
	if actor.IsSystemAdmin() || actor.MemberOf(orgID) {
		return true
	}
	writeError(w, r, http.StatusForbidden, "organization is outside your session context")
	return false
}

func (a *API) listOrgs(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.ensurePermissions(w, r, auth.PermissionOrgsList)
	if !ok {
		return
	}
	params, err := parseListParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// Non-admins get exactly their own organization as a one-row page.
	if !actor.IsSystemAdmin() {
		org, err := a.svc.GetOrganization(r.Context(), actor.Identity.OrgID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toListResponse([]orgResponse{toOrgResponse(org)}, 1, params))
		return
	}

	orgs, total, err := a.svc.ListOrganizations(r.Context(), params)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	items := make([]orgResponse, 0, len(orgs))
	for _, o := range orgs {
		items = append(items, toOrgResponse(o))
	}
	writeJSON(w, http.StatusOK, toListResponse(items, total, params))
}

func (a *API) createOrg(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.ensurePermissions(w, r, auth.PermissionOrgsCreate); !ok {
		return
	}
	var req createOrgRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.svc.CreateOrganization(r.Context(), req.Name, req.OwnerID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "org.create", map[string]any{
		"target_org_id": org.ID,
		"name":          org.Name,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/orgs/%s", org.ID))
	writeJSON(w, http.StatusCreated, toOrgResponse(org))
}

func (a *API) handleOrg(w http.ResponseWriter, r *http.Request, orgID string) {
	switch r.Method {
	case http.MethodGet:
		actor, ok := a.ensurePermissions(w, r, auth.PermissionOrgsView)
		if !ok {
			return
		}
		if !a.ensureOrgVisible(w, r, actor, orgID) {
			return
		}
		org, err := a.svc.GetOrganization(r.Context(), orgID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrgResponse(org))

	case http.MethodPatch:
		actor, ok := a.ensurePermissions(w, r, auth.PermissionOrgsEdit)
		if !ok {
			return
		}
		// A system admin administers other tenants, not the one their own
		// session lives in; everyone else is confined to their own.
		if actor.IsSystemAdmin() {
			if actor.MemberOf(orgID) {
				writeError(w, r, http.StatusForbidden, "cannot edit your own organization")
				return
			}
		} else if !actor.MemberOf(orgID) {
			writeError(w, r, http.StatusForbidden, "organization is outside your session context")
			return
		}
		var req updateOrgRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		org, err := a.svc.UpdateOrganization(r.Context(), orgID, auth.OrganizationUpdate{
			Name:    req.Name,
			Status:  req.Status,
			OwnerID: req.OwnerID,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "org.update", map[string]any{
			"target_org_id": org.ID,
		})
		writeJSON(w, http.StatusOK, toOrgResponse(org))

	case http.MethodDelete:
		actor, ok := a.ensurePermissions(w, r, auth.PermissionOrgsDelete)
		if !ok {
			return
		}
		// Nobody deletes the organization their own session lives in.
		if actor.MemberOf(orgID) {
			writeError(w, r, http.StatusForbidden, "cannot delete your own organization")
			return
		}
		if err := a.svc.DeleteOrganization(r.Context(), orgID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "org.delete", map[string]any{
			"target_org_id": orgID,
		})
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleOrgMembersCollection(w http.ResponseWriter, r *http.Request, orgID string) {
	switch r.Method {
	case http.MethodGet:
		actor, ok := a.ensurePermissions(w, r, auth.PermissionOrgMembersList)
		if !ok {
			return
		}
		if !a.ensureOrgVisible(w, r, actor, orgID) {
			return
		}
		params, err := parseListParams(r)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		members, total, err := a.svc.ListMembers(r.Context(), orgID, params)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		items := make([]membershipResponse, 0, len(members))
		for _, m := range members {
			items = append(items, toMembershipResponse(m))
		}
		writeJSON(w, http.StatusOK, toListResponse(items, total, params))

	case http.MethodPost:
		actor, ok := a.ensurePermissions(w, r, auth.PermissionOrgMembersCreate)
		if !ok {
			return
		}
		if !a.ensureOrgVisible(w, r, actor, orgID) {
			return
		}
		var req addMemberRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		member, err := a.svc.AddMember(r.Context(), orgID, req.UserID, toRoles(req.Roles))
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "org.member.add", map[string]any{
			"target_org_id":  orgID,
			"target_user_id": member.UserID,
			"roles":          rolesAsStrings(member.Roles),
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/orgs/%s/members/%s", orgID, member.ID))
		writeJSON(w, http.StatusCreated, toMembershipResponse(member))

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOrgMemberResource(w http.ResponseWriter, r *http.Request, orgID, memberID string) {
	var perm auth.Permission
	switch r.Method {
	case http.MethodGet:
		perm = auth.PermissionOrgMembersView
	case http.MethodPatch:
		perm = auth.PermissionOrgMembersEdit
	case http.MethodDelete:
		perm = auth.PermissionOrgMembersDelete
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
		return
	}
	actor, ok := a.ensurePermissions(w, r, perm)
	if !ok {
		return
	}
	if !a.ensureOrgVisible(w, r, actor, orgID) {
		return
	}

	member, err := a.svc.GetMember(r.Context(), memberID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if member.OrgID != orgID {
		writeError(w, r, http.StatusNotFound, "member not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, toMembershipResponse(member))

	case http.MethodPatch:
		var req updateMemberRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		updated, err := a.svc.UpdateMemberRoles(r.Context(), memberID, toRoles(req.Roles))
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "org.member.update", map[string]any{
			"target_org_id":  orgID,
			"target_user_id": updated.UserID,
			"roles":          rolesAsStrings(updated.Roles),
		})
		writeJSON(w, http.StatusOK, toMembershipResponse(updated))

	case http.MethodDelete:
		if err := a.svc.RemoveMember(r.Context(), memberID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "org.member.remove", map[string]any{
			"target_org_id":  orgID,
			"target_user_id": member.UserID,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) handleOrgAppsCollection(w http.ResponseWriter, r *http.Request, orgID string) {
	switch r.Method {
	case http.MethodGet:
		actor, ok := a.ensurePermissions(w, r, auth.PermissionOrgAppsList)
		if !ok {
			return
		}
		if !a.ensureOrgVisible(w, r, actor, orgID) {
			return
		}
		params, err := parseListParams(r)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		links, total, err := a.svc.ListOrgApps(r.Context(), orgID, params)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		items := make([]orgAppResponse, 0, len(links))
		for _, l := range links {
			items = append(items, toOrgAppResponse(l))
		}
		writeJSON(w, http.StatusOK, toListResponse(items, total, params))

	case http.MethodPost:
		actor, ok := a.ensurePermissions(w, r, auth.PermissionOrgAppsCreate)
		if !ok {
			return
		}
		if !a.ensureOrgVisible(w, r, actor, orgID) {
			return
		}
		var req linkAppRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		link, err := a.svc.LinkApp(r.Context(), orgID, req.AppID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "org.app.link", map[string]any{
			"target_org_id": orgID,
			"app_id":        link.AppID,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/orgs/%s/apps/%s", orgID, link.ID))
		writeJSON(w, http.StatusCreated, toOrgAppResponse(link))

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOrgAppResource(w http.ResponseWriter, r *http.Request, orgID, linkID string) {
	var perm auth.Permission
	switch r.Method {
	case http.MethodGet:
		perm = auth.PermissionOrgAppsList
	case http.MethodDelete:
		perm = auth.PermissionOrgAppsDelete
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		return
	}
	actor, ok := a.ensurePermissions(w, r, perm)
	if !ok {
		return
	}
	if !a.ensureOrgVisible(w, r, actor, orgID) {
		return
	}

	link, err := a.svc.GetOrgApp(r.Context(), linkID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if link.OrgID != orgID {
		writeError(w, r, http.StatusNotFound, "app link not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, toOrgAppResponse(link))

	case http.MethodDelete:
		if err := a.svc.UnlinkApp(r.Context(), linkID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "org.app.unlink", map[string]any{
			"target_org_id": orgID,
			"app_id":        link.AppID,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}
