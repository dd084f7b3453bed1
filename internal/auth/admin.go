package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"kilit.org/internal/ids"
)

// Administration operations behind the user/org/app management endpoints.
// Permission checks live at the transport layer; these methods validate
// input and talk to the store.

// CreateOrganization registers a tenant. ownerID is optional.
func (s *Service) CreateOrganization(ctx context.Context, name, ownerID string) (*Organization, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	org := &Organization{
		Name:    name,
		Status:  StatusActive,
		OwnerID: strings.TrimSpace(ownerID),
	}
	if err := s.store.Organizations().Create(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganization fetches one tenant by id.
func (s *Service) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: org id is required", ErrInvalidInput)
	}
	return s.store.Organizations().Find(ctx, id)
}

// ListOrganizations returns one page of tenants plus the total count.
func (s *Service) ListOrganizations(ctx context.Context, params ListParams) ([]*Organization, int, error) {
	if err := validateListParams(params); err != nil {
		return nil, 0, err
	}
	return s.store.Organizations().List(ctx, params.Normalize())
}

// UpdateOrganization applies a partial update.
func (s *Service) UpdateOrganization(ctx context.Context, id string, upd OrganizationUpdate) (*Organization, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: org id is required", ErrInvalidInput)
	}
	if upd.Name != nil {
		if err := validateName(*upd.Name); err != nil {
			return nil, err
		}
	}
	if upd.Status != nil {
		if err := validateStatus(*upd.Status); err != nil {
			return nil, err
		}
	}
	return s.store.Organizations().Update(ctx, id, upd)
}

// DeleteOrganization removes a tenant and, through the store's references,
// its memberships and app links.
func (s *Service) DeleteOrganization(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: org id is required", ErrInvalidInput)
	}
	return s.store.Organizations().Delete(ctx, id)
}

// CreateUser registers an account with an initial password.
func (s *Service) CreateUser(ctx context.Context, email, name, password string) (*User, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &User{
		Email:        email,
		Name:         strings.TrimSpace(name),
		Status:       StatusActive,
		PasswordHash: hash,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}
	u := *user
	u.PasswordHash = ""
	return &u, nil
}

// GetUser fetches one account by id, with the password hash scrubbed.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	user, err := s.store.Users().Find(ctx, id)
	if err != nil {
		return nil, err
	}
	u := *user
	u.PasswordHash = ""
	return &u, nil
}

// ListUsers returns one page of accounts plus the total count.
func (s *Service) ListUsers(ctx context.Context, params ListParams) ([]*User, int, error) {
	if err := validateListParams(params); err != nil {
		return nil, 0, err
	}
	users, total, err := s.store.Users().List(ctx, params.Normalize())
	if err != nil {
		return nil, 0, err
	}
	out := make([]*User, len(users))
	for i, user := range users {
		u := *user
		u.PasswordHash = ""
		out[i] = &u
	}
	return out, total, nil
}

// UpdateUser applies a partial update to name or status.
func (s *Service) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if upd.Name != nil {
		if err := validateName(*upd.Name); err != nil {
			return nil, err
		}
	}
	if upd.Status != nil {
		if err := validateStatus(*upd.Status); err != nil {
			return nil, err
		}
	}
	user, err := s.store.Users().Update(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	u := *user
	u.PasswordHash = ""
	return &u, nil
}

// SetUserPassword overwrites an account's password. Administrative path;
// self-service rotation goes through ChangePassword.
func (s *Service) SetUserPassword(ctx context.Context, id, password string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}
	if _, err := s.store.Users().Find(ctx, id); err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.store.Users().UpdatePassword(ctx, id, hash)
}

// DeleteUser removes an account.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.Users().Delete(ctx, id)
}

// AddMember grants a user roles in an organization.
func (s *Service) AddMember(ctx context.Context, orgID, userID string, roles []Role) (*Membership, error) {
	if strings.TrimSpace(orgID) == "" || strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: org id and user id are required", ErrInvalidInput)
	}
	if err := validateRoles(roles); err != nil {
		return nil, err
	}
	m := &Membership{OrgID: orgID, UserID: userID, Roles: roles}
	if err := s.store.Memberships().Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMember fetches one membership row by id.
func (s *Service) GetMember(ctx context.Context, id string) (*Membership, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: member id is required", ErrInvalidInput)
	}
	return s.store.Memberships().Find(ctx, id)
}

// ListMembers returns one page of an organization's memberships.
func (s *Service) ListMembers(ctx context.Context, orgID string, params ListParams) ([]*Membership, int, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, 0, fmt.Errorf("%w: org id is required", ErrInvalidInput)
	}
	if err := validateListParams(params); err != nil {
		return nil, 0, err
	}
	return s.store.Memberships().ListByOrg(ctx, orgID, params.Normalize())
}

// ListUserMemberships returns every org the user belongs to, with org names,
// in stable store order. Feeds the org selection flow.
func (s *Service) ListUserMemberships(ctx context.Context, userID string) ([]*Membership, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.Memberships().ListByUser(ctx, userID)
}

// UpdateMemberRoles replaces a membership's role set. The change is invisible
// to outstanding sessions until their next login or context switch.
func (s *Service) UpdateMemberRoles(ctx context.Context, id string, roles []Role) (*Membership, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: member id is required", ErrInvalidInput)
	}
	if err := validateRoles(roles); err != nil {
		return nil, err
	}
	return s.store.Memberships().UpdateRoles(ctx, id, roles)
}

// RemoveMember deletes a membership row.
func (s *Service) RemoveMember(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: member id is required", ErrInvalidInput)
	}
	return s.store.Memberships().Delete(ctx, id)
}

// CreateApp registers an OAuth client. The client id and secret are server
// generated; the secret is returned once here and on explicit rotation.
func (s *Service) CreateApp(ctx context.Context, name, redirectURI string) (*App, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := validateRedirectURI(redirectURI); err != nil {
		return nil, err
	}
	secret, err := newClientSecret()
	if err != nil {
		return nil, err
	}
	app := &App{
		Name:         strings.TrimSpace(name),
		ClientID:     ids.NewPrefixed("app"),
		ClientSecret: secret,
		RedirectURI:  redirectURI,
	}
	if err := s.store.Apps().Create(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// GetApp fetches one client by id.
func (s *Service) GetApp(ctx context.Context, id string) (*App, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: app id is required", ErrInvalidInput)
	}
	return s.store.Apps().Find(ctx, id)
}

// ListApps returns one page of registered clients.
func (s *Service) ListApps(ctx context.Context, params ListParams) ([]*App, int, error) {
	if err := validateListParams(params); err != nil {
		return nil, 0, err
	}
	return s.store.Apps().List(ctx, params.Normalize())
}

// UpdateApp applies a partial update to name or redirect URI. Only one
// redirect URI is supported per client; updating replaces it.
func (s *Service) UpdateApp(ctx context.Context, id string, upd AppUpdate) (*App, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: app id is required", ErrInvalidInput)
	}
	if upd.Name != nil {
		if err := validateName(*upd.Name); err != nil {
			return nil, err
		}
	}
	if upd.RedirectURI != nil {
		if err := validateRedirectURI(*upd.RedirectURI); err != nil {
			return nil, err
		}
	}
	return s.store.Apps().Update(ctx, id, upd)
}

// RegenerateAppSecret rotates a client's secret and returns the new value.
// Outstanding authorization codes survive; they validate against the new
// secret at exchange time.
func (s *Service) RegenerateAppSecret(ctx context.Context, id string) (*App, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: app id is required", ErrInvalidInput)
	}
	secret, err := newClientSecret()
	if err != nil {
		return nil, err
	}
	return s.store.Apps().UpdateSecret(ctx, id, secret)
}

// DeleteApp removes a client registration.
func (s *Service) DeleteApp(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: app id is required", ErrInvalidInput)
	}
	return s.store.Apps().Delete(ctx, id)
}

// LinkApp makes an app usable within an organization.
func (s *Service) LinkApp(ctx context.Context, orgID, appID string) (*OrgApp, error) {
	if strings.TrimSpace(orgID) == "" || strings.TrimSpace(appID) == "" {
		return nil, fmt.Errorf("%w: org id and app id are required", ErrInvalidInput)
	}
	if _, err := s.store.Apps().Find(ctx, appID); err != nil {
		return nil, err
	}
	link := &OrgApp{OrgID: orgID, AppID: appID}
	if err := s.store.OrgApps().Create(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// GetOrgApp fetches one link row by id.
func (s *Service) GetOrgApp(ctx context.Context, id string) (*OrgApp, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: link id is required", ErrInvalidInput)
	}
	return s.store.OrgApps().Find(ctx, id)
}

// ListOrgApps returns one page of an organization's app links.
func (s *Service) ListOrgApps(ctx context.Context, orgID string, params ListParams) ([]*OrgApp, int, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, 0, fmt.Errorf("%w: org id is required", ErrInvalidInput)
	}
	if err := validateListParams(params); err != nil {
		return nil, 0, err
	}
	return s.store.OrgApps().ListByOrg(ctx, orgID, params.Normalize())
}

// UnlinkApp removes an app-organization link. Codes already issued under the
// link stay redeemable until they expire.
func (s *Service) UnlinkApp(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: link id is required", ErrInvalidInput)
	}
	return s.store.OrgApps().Delete(ctx, id)
}

func validateRoles(roles []Role) error {
	if len(roles) == 0 {
		return fmt.Errorf("%w: at least one role is required", ErrInvalidInput)
	}
	var bad []string
	for _, r := range roles {
		if !r.Valid() {
			bad = append(bad, string(r))
		}
	}
	if len(bad) > 0 {
		return &InvalidRolesError{Tokens: bad}
	}
	return nil
}

func newClientSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate client secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
