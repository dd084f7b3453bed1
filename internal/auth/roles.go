package auth

import "strings"

// Role is a named bundle of permissions held by a user within one organization.
// Roles are persisted per membership as a comma-joined string and decoded
// strictly: an unknown token is an error, never dropped.
type Role string

const (
	RoleSuperuser Role = "Superuser"
	RoleOrgAdmin  Role = "OrgAdmin"
	RoleOrgEditor Role = "OrgEditor"
	RoleOrgViewer Role = "OrgViewer"
)

var knownRoles = map[Role]struct{}{
	RoleSuperuser: {},
	RoleOrgAdmin:  {},
	RoleOrgEditor: {},
	RoleOrgViewer: {},
}

// Valid reports whether r is a member of the closed role set.
func (r Role) Valid() bool {
	_, ok := knownRoles[r]
	return ok
}

// InvalidRolesError lists every unrecognized token found while decoding a
// roles string.
type InvalidRolesError struct {
	Tokens []string
}

func (e *InvalidRolesError) Error() string {
	return "auth: invalid roles: " + strings.Join(e.Tokens, ", ")
}

// Is lets callers treat bad role input as ErrInvalidInput without losing
// the offending tokens.
func (e *InvalidRolesError) Is(target error) bool {
	return target == ErrInvalidInput
}

// ParseRoles decodes a comma-joined roles string. Every token is validated;
// the returned error enumerates all unknown ones.
func ParseRoles(s string) ([]Role, error) {
	parts := strings.Split(s, ",")
	roles := make([]Role, 0, len(parts))
	var bad []string
	for _, p := range parts {
		r := Role(p)
		if !r.Valid() {
			bad = append(bad, p)
			continue
		}
		roles = append(roles, r)
	}
	if len(bad) > 0 {
		return nil, &InvalidRolesError{Tokens: bad}
	}
	return roles, nil
}

// JoinRoles encodes roles as the comma-joined storage form.
func JoinRoles(roles []Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}
