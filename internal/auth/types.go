package auth

import "time"

// Statuses shared by users and organizations.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Organization is one tenant. Roles and permissions are always evaluated
// within the organization named by the session's context.
type Organization struct {
	ID        string
	Name      string
	Status    string
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User is a human account. A user may belong to any number of organizations
// through memberships.
type User struct {
	ID           string
	Email        string
	Name         string
	Status       string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Membership ties a user to an organization with a set of roles. Roles are
// persisted as a comma-joined string and decoded strictly on read.
type Membership struct {
	ID        string
	OrgID     string
	UserID    string
	Roles     []Role
	OrgName   string // populated on per-user membership listings
	CreatedAt time.Time
	UpdatedAt time.Time
}

// App is a registered OAuth client with a single redirect URI.
type App struct {
	ID           string
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrgApp links an app to an organization, making it usable there.
type OrgApp struct {
	ID        string
	OrgID     string
	AppID     string
	AppName   string // populated on listings
	CreatedAt time.Time
}

// AuthorizationCode is a single-use grant code. Lifecycle: issued, then
// either redeemed (deleted atomically with the exchange) or expired.
type AuthorizationCode struct {
	ID          string
	Code        string
	State       string
	RedirectURI string
	Scope       string
	AppID       string
	OrgID       string
	UserID      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// ListParams carries pagination and filtering for list operations.
type ListParams struct {
	Page    int
	PerPage int
	Keyword string
}

// Normalize applies defaults for unset pagination fields.
func (p ListParams) Normalize() ListParams {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PerPage <= 0 {
		p.PerPage = 10
	}
	return p
}

// Offset returns the row offset for the normalized page.
func (p ListParams) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PerPage
}

// OrganizationUpdate is a partial update; nil fields are left unchanged.
type OrganizationUpdate struct {
	Name    *string
	Status  *string
	OwnerID *string
}

// UserUpdate is a partial update; nil fields are left unchanged.
type UserUpdate struct {
	Name   *string
	Status *string
}

// AppUpdate is a partial update; nil fields are left unchanged.
type AppUpdate struct {
	Name        *string
	RedirectURI *string
}

// AuthResult is returned by login and context switch.
type AuthResult struct {
	User      User
	Token     string
	ExpiresAt time.Time
	OrgID     string
	OrgCount  int
}

// AccessGrant is the product of a successful authorization-code exchange.
type AccessGrant struct {
	AccessToken string
	TokenType   string
	Scope       string
	ExpiresAt   time.Time
}
