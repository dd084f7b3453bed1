// Package memory provides an in-process implementation of auth.Store. It
// backs handler tests and local single-node runs; durable deployments use
// the pg store.
package memory

import (
	"context"
	"crypto/subtle"
	"sort"
	"strings"
	"sync"
	"time"

	"kilit.org/internal/auth"
	"kilit.org/internal/ids"
)

// Store keeps every entity in maps guarded by one RWMutex. Redemption of
// authorization codes is atomic under the write lock.
type Store struct {
	mu      sync.RWMutex
	orgs    map[string]*auth.Organization
	users   map[string]*auth.User
	members map[string]*auth.Membership
	apps    map[string]*auth.App
	orgApps map[string]*auth.OrgApp
	codes   map[string]*auth.AuthorizationCode // keyed by code value
}

// New creates an empty store.
func New() *Store {
	return &Store{
		orgs:    make(map[string]*auth.Organization),
		users:   make(map[string]*auth.User),
		members: make(map[string]*auth.Membership),
		apps:    make(map[string]*auth.App),
		orgApps: make(map[string]*auth.OrgApp),
		codes:   make(map[string]*auth.AuthorizationCode),
	}
}

func (s *Store) Organizations() auth.OrganizationStore { return orgStore{s} }
func (s *Store) Users() auth.UserStore                 { return userStore{s} }
func (s *Store) Memberships() auth.MembershipStore     { return memberStore{s} }
func (s *Store) Apps() auth.AppStore                   { return appStore{s} }
func (s *Store) OrgApps() auth.OrgAppStore             { return orgAppStore{s} }
func (s *Store) Codes() auth.CodeStore                 { return codeStore{s} }

// Ping always succeeds; the store lives in the same process.
func (s *Store) Ping(ctx context.Context) error { return nil }

var _ auth.Store = (*Store)(nil)

func matchKeyword(keyword string, fields ...string) bool {
	if keyword == "" {
		return true
	}
	keyword = strings.ToLower(keyword)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), keyword) {
			return true
		}
	}
	return false
}

func page[T any](items []T, params auth.ListParams) ([]T, int) {
	total := len(items)
	p := params.Normalize()
	start := p.Offset()
	if start >= total {
		return nil, total
	}
	end := start + p.PerPage
	if end > total {
		end = total
	}
	return items[start:end], total
}

type orgStore struct{ s *Store }

func (o orgStore) Create(ctx context.Context, org *auth.Organization) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	org.ID = ids.New()
	now := time.Now().UTC()
	org.CreatedAt, org.UpdatedAt = now, now
	cp := *org
	o.s.orgs[org.ID] = &cp
	return nil
}

func (o orgStore) Find(ctx context.Context, id string) (*auth.Organization, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	org, ok := o.s.orgs[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (o orgStore) List(ctx context.Context, params auth.ListParams) ([]*auth.Organization, int, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	var all []*auth.Organization
	for _, org := range o.s.orgs {
		if matchKeyword(params.Keyword, org.Name) {
			cp := *org
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	out, total := page(all, params)
	return out, total, nil
}

func (o orgStore) Update(ctx context.Context, id string, upd auth.OrganizationUpdate) (*auth.Organization, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	org, ok := o.s.orgs[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	if upd.Name != nil {
		org.Name = *upd.Name
	}
	if upd.Status != nil {
		org.Status = *upd.Status
	}
	if upd.OwnerID != nil {
		org.OwnerID = *upd.OwnerID
	}
	org.UpdatedAt = time.Now().UTC()
	cp := *org
	return &cp, nil
}

func (o orgStore) Delete(ctx context.Context, id string) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if _, ok := o.s.orgs[id]; !ok {
		return auth.ErrNotFound
	}
	delete(o.s.orgs, id)
	// Mirror the relational store's cascading references.
	for mid, m := range o.s.members {
		if m.OrgID == id {
			delete(o.s.members, mid)
		}
	}
	for lid, l := range o.s.orgApps {
		if l.OrgID == id {
			delete(o.s.orgApps, lid)
		}
	}
	for code, c := range o.s.codes {
		if c.OrgID == id {
			delete(o.s.codes, code)
		}
	}
	return nil
}

type userStore struct{ s *Store }

func (u userStore) Create(ctx context.Context, usr *auth.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, existing := range u.s.users {
		if strings.EqualFold(existing.Email, usr.Email) {
			return auth.ErrAlreadyExists
		}
	}
	usr.ID = ids.New()
	now := time.Now().UTC()
	usr.CreatedAt, usr.UpdatedAt = now, now
	cp := *usr
	u.s.users[usr.ID] = &cp
	return nil
}

func (u userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	usr, ok := u.s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *usr
	return &cp, nil
}

func (u userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	for _, usr := range u.s.users {
		if strings.EqualFold(usr.Email, email) {
			cp := *usr
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (u userStore) List(ctx context.Context, params auth.ListParams) ([]*auth.User, int, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	var all []*auth.User
	for _, usr := range u.s.users {
		if matchKeyword(params.Keyword, usr.Name, usr.Email) {
			cp := *usr
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	out, total := page(all, params)
	return out, total, nil
}

func (u userStore) Update(ctx context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	usr, ok := u.s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	if upd.Name != nil {
		usr.Name = *upd.Name
	}
	if upd.Status != nil {
		usr.Status = *upd.Status
	}
	usr.UpdatedAt = time.Now().UTC()
	cp := *usr
	return &cp, nil
}

func (u userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	usr, ok := u.s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	usr.PasswordHash = passwordHash
	usr.UpdatedAt = time.Now().UTC()
	return nil
}

func (u userStore) Delete(ctx context.Context, id string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, ok := u.s.users[id]; !ok {
		return auth.ErrNotFound
	}
	delete(u.s.users, id)
	for mid, m := range u.s.members {
		if m.UserID == id {
			delete(u.s.members, mid)
		}
	}
	for code, c := range u.s.codes {
		if c.UserID == id {
			delete(u.s.codes, code)
		}
	}
	return nil
}

func (u userStore) Count(ctx context.Context) (int, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	return len(u.s.users), nil
}

type memberStore struct{ s *Store }

func (m memberStore) Create(ctx context.Context, mem *auth.Membership) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.orgs[mem.OrgID]; !ok {
		return auth.ErrNotFound
	}
	if _, ok := m.s.users[mem.UserID]; !ok {
		return auth.ErrNotFound
	}
	for _, existing := range m.s.members {
		if existing.OrgID == mem.OrgID && existing.UserID == mem.UserID {
			return auth.ErrAlreadyExists
		}
	}
	mem.ID = ids.New()
	now := time.Now().UTC()
	mem.CreatedAt, mem.UpdatedAt = now, now
	cp := *mem
	cp.Roles = append([]auth.Role(nil), mem.Roles...)
	m.s.members[mem.ID] = &cp
	return nil
}

func (m memberStore) copyOut(mem *auth.Membership) *auth.Membership {
	cp := *mem
	cp.Roles = append([]auth.Role(nil), mem.Roles...)
	if org, ok := m.s.orgs[mem.OrgID]; ok {
		cp.OrgName = org.Name
	}
	return &cp
}

func (m memberStore) Find(ctx context.Context, id string) (*auth.Membership, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	mem, ok := m.s.members[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return m.copyOut(mem), nil
}

func (m memberStore) FindByOrgUser(ctx context.Context, orgID, userID string) (*auth.Membership, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, mem := range m.s.members {
		if mem.OrgID == orgID && mem.UserID == userID {
			return m.copyOut(mem), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m memberStore) ListByOrg(ctx context.Context, orgID string, params auth.ListParams) ([]*auth.Membership, int, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var all []*auth.Membership
	for _, mem := range m.s.members {
		if mem.OrgID == orgID {
			all = append(all, m.copyOut(mem))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	out, total := page(all, params)
	return out, total, nil
}

func (m memberStore) ListByUser(ctx context.Context, userID string) ([]*auth.Membership, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var all []*auth.Membership
	for _, mem := range m.s.members {
		if mem.UserID == userID {
			all = append(all, m.copyOut(mem))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

func (m memberStore) CountByUser(ctx context.Context, userID string) (int, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	count := 0
	for _, mem := range m.s.members {
		if mem.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (m memberStore) UpdateRoles(ctx context.Context, id string, roles []auth.Role) (*auth.Membership, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	mem, ok := m.s.members[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	mem.Roles = append([]auth.Role(nil), roles...)
	mem.UpdatedAt = time.Now().UTC()
	return m.copyOut(mem), nil
}

func (m memberStore) Delete(ctx context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.members[id]; !ok {
		return auth.ErrNotFound
	}
	delete(m.s.members, id)
	return nil
}

type appStore struct{ s *Store }

func (a appStore) Create(ctx context.Context, app *auth.App) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, existing := range a.s.apps {
		if existing.ClientID == app.ClientID {
			return auth.ErrAlreadyExists
		}
	}
	app.ID = ids.New()
	now := time.Now().UTC()
	app.CreatedAt, app.UpdatedAt = now, now
	cp := *app
	a.s.apps[app.ID] = &cp
	return nil
}

func (a appStore) Find(ctx context.Context, id string) (*auth.App, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	app, ok := a.s.apps[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *app
	return &cp, nil
}

func (a appStore) FindByClientID(ctx context.Context, clientID string) (*auth.App, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	for _, app := range a.s.apps {
		if app.ClientID == clientID {
			cp := *app
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (a appStore) List(ctx context.Context, params auth.ListParams) ([]*auth.App, int, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	var all []*auth.App
	for _, app := range a.s.apps {
		if matchKeyword(params.Keyword, app.Name) {
			cp := *app
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	out, total := page(all, params)
	return out, total, nil
}

func (a appStore) Update(ctx context.Context, id string, upd auth.AppUpdate) (*auth.App, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	app, ok := a.s.apps[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	if upd.Name != nil {
		app.Name = *upd.Name
	}
	if upd.RedirectURI != nil {
		app.RedirectURI = *upd.RedirectURI
	}
	app.UpdatedAt = time.Now().UTC()
	cp := *app
	return &cp, nil
}

func (a appStore) UpdateSecret(ctx context.Context, id, clientSecret string) (*auth.App, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	app, ok := a.s.apps[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	app.ClientSecret = clientSecret
	app.UpdatedAt = time.Now().UTC()
	cp := *app
	return &cp, nil
}

func (a appStore) Delete(ctx context.Context, id string) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if _, ok := a.s.apps[id]; !ok {
		return auth.ErrNotFound
	}
	delete(a.s.apps, id)
	for lid, l := range a.s.orgApps {
		if l.AppID == id {
			delete(a.s.orgApps, lid)
		}
	}
	for code, c := range a.s.codes {
		if c.AppID == id {
			delete(a.s.codes, code)
		}
	}
	return nil
}

type orgAppStore struct{ s *Store }

func (o orgAppStore) Create(ctx context.Context, link *auth.OrgApp) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if _, ok := o.s.orgs[link.OrgID]; !ok {
		return auth.ErrNotFound
	}
	if _, ok := o.s.apps[link.AppID]; !ok {
		return auth.ErrNotFound
	}
	for _, existing := range o.s.orgApps {
		if existing.OrgID == link.OrgID && existing.AppID == link.AppID {
			return auth.ErrAlreadyExists
		}
	}
	link.ID = ids.New()
	link.CreatedAt = time.Now().UTC()
	cp := *link
	o.s.orgApps[link.ID] = &cp
	return nil
}

func (o orgAppStore) copyOut(link *auth.OrgApp) *auth.OrgApp {
	cp := *link
	if app, ok := o.s.apps[link.AppID]; ok {
		cp.AppName = app.Name
	}
	return &cp
}

func (o orgAppStore) Find(ctx context.Context, id string) (*auth.OrgApp, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	link, ok := o.s.orgApps[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return o.copyOut(link), nil
}

func (o orgAppStore) FindByOrgApp(ctx context.Context, orgID, appID string) (*auth.OrgApp, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	for _, link := range o.s.orgApps {
		if link.OrgID == orgID && link.AppID == appID {
			return o.copyOut(link), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (o orgAppStore) ListByOrg(ctx context.Context, orgID string, params auth.ListParams) ([]*auth.OrgApp, int, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	var all []*auth.OrgApp
	for _, link := range o.s.orgApps {
		if link.OrgID == orgID {
			all = append(all, o.copyOut(link))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	out, total := page(all, params)
	return out, total, nil
}

func (o orgAppStore) Delete(ctx context.Context, id string) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if _, ok := o.s.orgApps[id]; !ok {
		return auth.ErrNotFound
	}
	delete(o.s.orgApps, id)
	return nil
}

type codeStore struct{ s *Store }

func (c codeStore) Create(ctx context.Context, code *auth.AuthorizationCode) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if _, ok := c.s.codes[code.Code]; ok {
		return auth.ErrAlreadyExists
	}
	code.ID = ids.New()
	code.CreatedAt = time.Now().UTC()
	cp := *code
	c.s.codes[code.Code] = &cp
	return nil
}

// Redeem validates and deletes under the write lock, so concurrent attempts
// on one code serialize and only the first can succeed.
func (c codeStore) Redeem(ctx context.Context, req auth.RedeemRequest) (*auth.AuthorizationCode, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	rec, ok := c.s.codes[req.Code]
	if !ok {
		return nil, auth.ErrCodeInvalid
	}
	if !rec.ExpiresAt.After(req.Now) {
		// Expired codes are burned on sight.
		delete(c.s.codes, req.Code)
		return nil, auth.ErrCodeInvalid
	}
	app, ok := c.s.apps[rec.AppID]
	if !ok || app.ClientID != req.ClientID ||
		subtle.ConstantTimeCompare([]byte(app.ClientSecret), []byte(req.ClientSecret)) != 1 {
		return nil, auth.ErrCodeInvalid
	}
	if rec.RedirectURI != req.RedirectURI {
		// The code survives: the honest client may still redeem it.
		return nil, auth.ErrRedirectMismatch
	}
	delete(c.s.codes, req.Code)
	cp := *rec
	return &cp, nil
}

func (c codeStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	count := 0
	for code, rec := range c.s.codes {
		if !rec.ExpiresAt.After(now) {
			delete(c.s.codes, code)
			count++
		}
	}
	return count, nil
}
