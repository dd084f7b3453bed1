package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kilit.org/internal/auth"
)

func seedOrg(t *testing.T, s *Store, name string) *auth.Organization {
	t.Helper()
	org := &auth.Organization{Name: name, Status: auth.StatusActive}
	if err := s.Organizations().Create(context.Background(), org); err != nil {
		t.Fatalf("create org: %v", err)
	}
	return org
}

func seedUser(t *testing.T, s *Store, email string) *auth.User {
	t.Helper()
	u := &auth.User{Email: email, Name: "User", Status: auth.StatusActive, PasswordHash: "x"}
	if err := s.Users().Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func seedApp(t *testing.T, s *Store, clientID string) *auth.App {
	t.Helper()
	app := &auth.App{Name: "App", ClientID: clientID, ClientSecret: "secret", RedirectURI: "https://app.example.com/cb"}
	if err := s.Apps().Create(context.Background(), app); err != nil {
		t.Fatalf("create app: %v", err)
	}
	return app
}

func seedCode(t *testing.T, s *Store, code string, app *auth.App, orgID, userID string, exp time.Time) *auth.AuthorizationCode {
	t.Helper()
	rec := &auth.AuthorizationCode{
		Code:        code,
		State:       "st",
		RedirectURI: app.RedirectURI,
		Scope:       "auth vault",
		AppID:       app.ID,
		OrgID:       orgID,
		UserID:      userID,
		ExpiresAt:   exp,
	}
	if err := s.Codes().Create(context.Background(), rec); err != nil {
		t.Fatalf("create code: %v", err)
	}
	return rec
}

func TestCreateFillsIdentity(t *testing.T) {
	s := New()
	org := seedOrg(t, s, "Acme")
	if org.ID == "" {
		t.Fatal("expected generated id")
	}
	if org.CreatedAt.IsZero() || org.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps")
	}

	got, err := s.Organizations().Find(context.Background(), org.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	got.Name = "mutated"
	again, _ := s.Organizations().Find(context.Background(), org.ID)
	if again.Name != "Acme" {
		t.Fatalf("store row mutated through returned copy: %q", again.Name)
	}
}

func TestUserEmailUnique(t *testing.T) {
	s := New()
	seedUser(t, s, "a@example.com")
	err := s.Users().Create(context.Background(), &auth.User{Email: "A@Example.com", Name: "Dup", Status: auth.StatusActive})
	if !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMembershipUniquePerOrgUser(t *testing.T) {
	s := New()
	org := seedOrg(t, s, "Acme")
	u := seedUser(t, s, "a@example.com")
	ctx := context.Background()
	m := &auth.Membership{OrgID: org.ID, UserID: u.ID, Roles: []auth.Role{auth.RoleOrgAdmin}}
	if err := s.Memberships().Create(ctx, m); err != nil {
		t.Fatalf("create member: %v", err)
	}
	err := s.Memberships().Create(ctx, &auth.Membership{OrgID: org.ID, UserID: u.ID, Roles: []auth.Role{auth.RoleOrgViewer}})
	if !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMembershipJoinsOrgName(t *testing.T) {
	s := New()
	org := seedOrg(t, s, "Acme")
	u := seedUser(t, s, "a@example.com")
	ctx := context.Background()
	if err := s.Memberships().Create(ctx, &auth.Membership{OrgID: org.ID, UserID: u.ID, Roles: []auth.Role{auth.RoleOrgViewer}}); err != nil {
		t.Fatalf("create member: %v", err)
	}
	list, err := s.Memberships().ListByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(list) != 1 || list[0].OrgName != "Acme" {
		t.Fatalf("expected joined org name, got %+v", list)
	}
}

func TestListPagination(t *testing.T) {
	s := New()
	ctx := context.Background()
	emails := []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"}
	for _, e := range emails {
		seedUser(t, s, e)
	}

	got, total, err := s.Users().List(ctx, auth.ListParams{Page: 2, PerPage: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if len(got) != 2 {
		t.Fatalf("page len = %d, want 2", len(got))
	}

	got, total, err = s.Users().List(ctx, auth.ListParams{Page: 4, PerPage: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 || len(got) != 0 {
		t.Fatalf("past-the-end page: total=%d len=%d", total, len(got))
	}
}

func TestListKeywordFilter(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := &auth.User{Email: "grace@example.com", Name: "Grace Hopper", Status: auth.StatusActive}
	if err := s.Users().Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	seedUser(t, s, "other@example.com")

	got, total, err := s.Users().List(ctx, auth.ListParams{Keyword: "hopper"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(got) != 1 || got[0].Email != "grace@example.com" {
		t.Fatalf("keyword filter: total=%d got=%+v", total, got)
	}
}

func TestOrgDeleteCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	org := seedOrg(t, s, "Acme")
	u := seedUser(t, s, "a@example.com")
	app := seedApp(t, s, "app_1")
	if err := s.Memberships().Create(ctx, &auth.Membership{OrgID: org.ID, UserID: u.ID, Roles: []auth.Role{auth.RoleOrgAdmin}}); err != nil {
		t.Fatalf("create member: %v", err)
	}
	if err := s.OrgApps().Create(ctx, &auth.OrgApp{OrgID: org.ID, AppID: app.ID}); err != nil {
		t.Fatalf("link app: %v", err)
	}
	seedCode(t, s, "oac_1", app, org.ID, u.ID, time.Now().Add(time.Hour))

	if err := s.Organizations().Delete(ctx, org.ID); err != nil {
		t.Fatalf("delete org: %v", err)
	}
	if _, err := s.Memberships().FindByOrgUser(ctx, org.ID, u.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("membership survived org delete: %v", err)
	}
	if _, err := s.OrgApps().FindByOrgApp(ctx, org.ID, app.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("org app link survived org delete: %v", err)
	}
	if _, err := s.Codes().Redeem(ctx, auth.RedeemRequest{
		Code: "oac_1", ClientID: app.ClientID, ClientSecret: app.ClientSecret,
		RedirectURI: app.RedirectURI, Now: time.Now(),
	}); !errors.Is(err, auth.ErrCodeInvalid) {
		t.Fatalf("code survived org delete: %v", err)
	}
}

func TestRedeemHappyPathDeletesCode(t *testing.T) {
	s := New()
	ctx := context.Background()
	org := seedOrg(t, s, "Acme")
	u := seedUser(t, s, "a@example.com")
	app := seedApp(t, s, "app_1")
	seedCode(t, s, "oac_1", app, org.ID, u.ID, time.Now().Add(time.Hour))

	req := auth.RedeemRequest{
		Code: "oac_1", ClientID: app.ClientID, ClientSecret: app.ClientSecret,
		RedirectURI: app.RedirectURI, Now: time.Now(),
	}
	rec, err := s.Codes().Redeem(ctx, req)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if rec.OrgID != org.ID || rec.UserID != u.ID {
		t.Fatalf("wrong record: %+v", rec)
	}

	if _, err := s.Codes().Redeem(ctx, req); !errors.Is(err, auth.ErrCodeInvalid) {
		t.Fatalf("replay should fail with ErrCodeInvalid, got %v", err)
	}
}

func TestRedeemExpiredBurnsCode(t *testing.T) {
	s := New()
	ctx := context.Background()
	org := seedOrg(t, s, "Acme")
	u := seedUser(t, s, "a@example.com")
	app := seedApp(t, s, "app_1")
	seedCode(t, s, "oac_1", app, org.ID, u.ID, time.Now().Add(-time.Minute))

	req := auth.RedeemRequest{
		Code: "oac_1", ClientID: app.ClientID, ClientSecret: app.ClientSecret,
		RedirectURI: app.RedirectURI, Now: time.Now(),
	}
	if _, err := s.Codes().Redeem(ctx, req); !errors.Is(err, auth.ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid, got %v", err)
	}
	if _, err := s.Codes().Redeem(ctx, req); !errors.Is(err, auth.ErrCodeInvalid) {
		t.Fatalf("expired code should be gone, got %v", err)
	}
}

func TestRedeemWrongSecretKeepsCode(t *testing.T) {
	s := New()
	ctx := context.Background()
	org := seedOrg(t, s, "Acme")
	u := seedUser(t, s, "a@example.com")
	app := seedApp(t, s, "app_1")
	seedCode(t, s, "oac_1", app, org.ID, u.ID, time.Now().Add(time.Hour))

	bad := auth.RedeemRequest{
		Code: "oac_1", ClientID: app.ClientID, ClientSecret: "wrong",
		RedirectURI: app.RedirectURI, Now: time.Now(),
	}
	if _, err := s.Codes().Redeem(ctx, bad); !errors.Is(err, auth.ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid, got %v", err)
	}

	good := bad
	good.ClientSecret = app.ClientSecret
	if _, err := s.Codes().Redeem(ctx, good); err != nil {
		t.Fatalf("code should survive a failed client check: %v", err)
	}
}

func TestRedeemRedirectMismatchKeepsCode(t *testing.T) {
	s := New()
	ctx := context.Background()
	org := seedOrg(t, s, "Acme")
	u := seedUser(t, s, "a@example.com")
	app := seedApp(t, s, "app_1")
	seedCode(t, s, "oac_1", app, org.ID, u.ID, time.Now().Add(time.Hour))

	bad := auth.RedeemRequest{
		Code: "oac_1", ClientID: app.ClientID, ClientSecret: app.ClientSecret,
		RedirectURI: app.RedirectURI + "/", Now: time.Now(),
	}
	if _, err := s.Codes().Redeem(ctx, bad); !errors.Is(err, auth.ErrRedirectMismatch) {
		t.Fatalf("expected ErrRedirectMismatch, got %v", err)
	}

	good := bad
	good.RedirectURI = app.RedirectURI
	if _, err := s.Codes().Redeem(ctx, good); err != nil {
		t.Fatalf("code should survive a redirect mismatch: %v", err)
	}
}

func TestRedeemConcurrentSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()
	org := seedOrg(t, s, "Acme")
	u := seedUser(t, s, "a@example.com")
	app := seedApp(t, s, "app_1")
	seedCode(t, s, "oac_1", app, org.ID, u.ID, time.Now().Add(time.Hour))

	req := auth.RedeemRequest{
		Code: "oac_1", ClientID: app.ClientID, ClientSecret: app.ClientSecret,
		RedirectURI: app.RedirectURI, Now: time.Now(),
	}

	const workers = 16
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Codes().Redeem(ctx, req)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, auth.ErrCodeInvalid):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("exactly one redeem should win, got %d", wins)
	}
}

func TestDeleteExpired(t *testing.T) {
	s := New()
	ctx := context.Background()
	org := seedOrg(t, s, "Acme")
	u := seedUser(t, s, "a@example.com")
	app := seedApp(t, s, "app_1")
	now := time.Now()
	seedCode(t, s, "oac_old", app, org.ID, u.ID, now.Add(-time.Hour))
	seedCode(t, s, "oac_live", app, org.ID, u.ID, now.Add(time.Hour))

	n, err := s.Codes().DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}
	if _, err := s.Codes().Redeem(ctx, auth.RedeemRequest{
		Code: "oac_live", ClientID: app.ClientID, ClientSecret: app.ClientSecret,
		RedirectURI: app.RedirectURI, Now: now,
	}); err != nil {
		t.Fatalf("live code should remain redeemable: %v", err)
	}
}
