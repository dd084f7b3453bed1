package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Organizations() OrganizationStore
	Users() UserStore
	Memberships() MembershipStore
	Apps() AppStore
	OrgApps() OrgAppStore
	Codes() CodeStore
	Ping(ctx context.Context) error
}

// OrganizationStore manages tenants.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
	List(ctx context.Context, params ListParams) ([]*Organization, int, error)
	Update(ctx context.Context, id string, upd OrganizationUpdate) (*Organization, error)
	Delete(ctx context.Context, id string) error
}

// UserStore manages accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, params ListParams) ([]*User, int, error)
	Update(ctx context.Context, id string, upd UserUpdate) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// MembershipStore manages per-organization role assignments.
type MembershipStore interface {
	Create(ctx context.Context, m *Membership) error
	Find(ctx context.Context, id string) (*Membership, error)
	FindByOrgUser(ctx context.Context, orgID, userID string) (*Membership, error)
	ListByOrg(ctx context.Context, orgID string, params ListParams) ([]*Membership, int, error)
	ListByUser(ctx context.Context, userID string) ([]*Membership, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	UpdateRoles(ctx context.Context, id string, roles []Role) (*Membership, error)
	Delete(ctx context.Context, id string) error
}

// AppStore manages registered OAuth clients.
type AppStore interface {
	Create(ctx context.Context, app *App) error
	Find(ctx context.Context, id string) (*App, error)
	FindByClientID(ctx context.Context, clientID string) (*App, error)
	List(ctx context.Context, params ListParams) ([]*App, int, error)
	Update(ctx context.Context, id string, upd AppUpdate) (*App, error)
	UpdateSecret(ctx context.Context, id, clientSecret string) (*App, error)
	Delete(ctx context.Context, id string) error
}

// OrgAppStore manages app-organization links.
type OrgAppStore interface {
	Create(ctx context.Context, link *OrgApp) error
	Find(ctx context.Context, id string) (*OrgApp, error)
	FindByOrgApp(ctx context.Context, orgID, appID string) (*OrgApp, error)
	ListByOrg(ctx context.Context, orgID string, params ListParams) ([]*OrgApp, int, error)
	Delete(ctx context.Context, id string) error
}

// RedeemRequest carries everything Redeem validates in one step.
type RedeemRequest struct {
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Now          time.Time
}

// CodeStore manages single-use authorization codes.
//
// Redeem looks up the code, validates expiry against Now, checks that the
// client credentials match the owning app and that RedirectURI equals the
// stored one, then deletes the row, all as one transactional operation, so
// that of two concurrent redemptions exactly one succeeds. A lookup miss,
// expired code, or client mismatch yields ErrCodeInvalid; a redirect
// mismatch yields ErrRedirectMismatch and leaves the code in place.
type CodeStore interface {
	Create(ctx context.Context, code *AuthorizationCode) error
	Redeem(ctx context.Context, req RedeemRequest) (*AuthorizationCode, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
