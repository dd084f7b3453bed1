package auth

// Identity is the verified content of a session token: who, in which
// organization context, with which roles and scopes. OrgCount is a snapshot
// taken at issuance and is not re-verified per request.
type Identity struct {
	UserID   string
	OrgID    string
	OrgCount int
	Roles    []Role
	Scopes   []Scope
}

// Actor is the per-request resolution of a session token: an optional
// identity plus the permission set derived from its roles at resolution
// time. A zero Actor is anonymous.
type Actor struct {
	Identity    *Identity
	User        *User
	Permissions []Permission
}

// NewActor builds an actor for the identity, recomputing its permissions
// from the policy table.
func NewActor(id Identity, user *User) *Actor {
	return &Actor{
		Identity:    &id,
		User:        user,
		Permissions: PermissionsForRoles(id.Roles),
	}
}

// Anonymous reports whether no verified identity is attached.
func (a *Actor) Anonymous() bool {
	return a == nil || a.Identity == nil
}

// HasScope reports whether the session carries the scope.
func (a *Actor) HasScope(s Scope) bool {
	if a.Anonymous() {
		return false
	}
	for _, sc := range a.Identity.Scopes {
		if sc == s {
			return true
		}
	}
	return false
}

// HasAuthScope reports whether the actor counts as logged in at all. An
// actor without it is treated exactly like an anonymous one by every
// require-auth gate.
func (a *Actor) HasAuthScope() bool {
	return a.HasScope(ScopeAuth)
}

// HasVaultScope reports whether the session may reach storage routes.
func (a *Actor) HasVaultScope() bool {
	return a.HasScope(ScopeVault)
}

// HasPermissions reports whether the actor holds every listed permission.
func (a *Actor) HasPermissions(required ...Permission) bool {
	if a.Anonymous() {
		return false
	}
	for _, req := range required {
		held := false
		for _, p := range a.Permissions {
			if p == req {
				held = true
				break
			}
		}
		if !held {
			return false
		}
	}
	return true
}

// IsSystemAdmin reports whether the actor holds the platform Superuser role;
// it gates cross-tenant operations.
func (a *Actor) IsSystemAdmin() bool {
	if a.Anonymous() {
		return false
	}
	for _, r := range a.Identity.Roles {
		if r == RoleSuperuser {
			return true
		}
	}
	return false
}

// MemberOf reports whether the actor's session context is the given org.
func (a *Actor) MemberOf(orgID string) bool {
	return !a.Anonymous() && orgID != "" && a.Identity.OrgID == orgID
}
