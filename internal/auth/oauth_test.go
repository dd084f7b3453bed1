package auth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"kilit.org/internal/auth"
)

const testRedirect = "https://app.example.com/cb"

func loginActor(t *testing.T, svc *auth.Service, email, password string) *auth.Actor {
	t.Helper()
	ctx := context.Background()
	res, err := svc.Login(ctx, email, password)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	actor, err := svc.ResolveActor(ctx, res.Token)
	if err != nil {
		t.Fatalf("ResolveActor: %v", err)
	}
	return actor
}

func seedLinkedApp(t *testing.T, svc *auth.Service, orgID string) *auth.App {
	t.Helper()
	ctx := context.Background()
	app, err := svc.CreateApp(ctx, "Dashboard", testRedirect)
	if err != nil {
		t.Fatalf("CreateApp: %v", err)
	}
	if app.ClientID == "" || app.ClientSecret == "" {
		t.Fatalf("app should get generated credentials: %+v", app)
	}
	if _, err := svc.LinkApp(ctx, orgID, app.ID); err != nil {
		t.Fatalf("LinkApp: %v", err)
	}
	return app
}

func TestAuthorizeAndExchange(t *testing.T) {
	svc, _, _ := newInstall(t)
	ctx := context.Background()
	org, user := seedMember(t, svc, "bob@kilit.test", "bob-password", auth.RoleOrgAdmin)
	app := seedLinkedApp(t, svc, org.ID)
	actor := loginActor(t, svc, "bob@kilit.test", "bob-password")

	res, err := svc.Authorize(ctx, actor, auth.AuthorizeRequest{
		ClientID:    app.ClientID,
		RedirectURI: testRedirect,
		Scope:       "auth vault",
		State:       "opaque-client-state",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !strings.HasPrefix(res.Code, "oac_") {
		t.Fatalf("code = %q", res.Code)
	}
	if res.State != "opaque-client-state" {
		t.Fatalf("state not echoed: %q", res.State)
	}

	grant, err := svc.Exchange(ctx, auth.ExchangeRequest{
		Code:         res.Code,
		RedirectURI:  testRedirect,
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
	})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if grant.TokenType != "app" {
		t.Fatalf("token type = %q", grant.TokenType)
	}
	if grant.Scope != "auth vault" {
		t.Fatalf("scope = %q", grant.Scope)
	}

	// The granted token is a regular session bound to the authorizing user
	// and org.
	granted, err := svc.ResolveActor(ctx, grant.AccessToken)
	if err != nil {
		t.Fatalf("ResolveActor(grant): %v", err)
	}
	if granted.Identity.UserID != user.ID || !granted.MemberOf(org.ID) {
		t.Fatalf("grant identity: %+v", granted.Identity)
	}

	// A code is single use.
	if _, err := svc.Exchange(ctx, auth.ExchangeRequest{
		Code:         res.Code,
		RedirectURI:  testRedirect,
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
	}); !errors.Is(err, auth.ErrCodeInvalid) {
		t.Fatalf("replay: %v", err)
	}
}

func TestAuthorizeGuards(t *testing.T) {
	svc, _, _ := newInstall(t)
	ctx := context.Background()
	org, _ := seedMember(t, svc, "bob@kilit.test", "bob-password", auth.RoleOrgAdmin)
	app := seedLinkedApp(t, svc, org.ID)
	actor := loginActor(t, svc, "bob@kilit.test", "bob-password")

	valid := auth.AuthorizeRequest{
		ClientID:    app.ClientID,
		RedirectURI: testRedirect,
		Scope:       "auth",
		State:       "st",
	}

	if _, err := svc.Authorize(ctx, &auth.Actor{}, valid); !errors.Is(err, auth.ErrAuthRequired) {
		t.Fatalf("anonymous: %v", err)
	}

	req := valid
	req.ClientID = ""
	if _, err := svc.Authorize(ctx, actor, req); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("missing client_id: %v", err)
	}

	req = valid
	req.State = ""
	if _, err := svc.Authorize(ctx, actor, req); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("missing state: %v", err)
	}

	req = valid
	req.RedirectURI = "/relative/path"
	if _, err := svc.Authorize(ctx, actor, req); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("relative redirect: %v", err)
	}

	req = valid
	req.Scope = "auth admin"
	if _, err := svc.Authorize(ctx, actor, req); !errors.Is(err, auth.ErrInvalidScope) {
		t.Fatalf("unknown scope: %v", err)
	}

	req = valid
	req.ClientID = "app_unknown"
	if _, err := svc.Authorize(ctx, actor, req); !errors.Is(err, auth.ErrInvalidClient) {
		t.Fatalf("unknown client: %v", err)
	}

	// Registered redirect matching is byte-exact.
	req = valid
	req.RedirectURI = testRedirect + "/"
	if _, err := svc.Authorize(ctx, actor, req); !errors.Is(err, auth.ErrInvalidClient) {
		t.Fatalf("trailing slash: %v", err)
	}

	// An app that exists but is not linked to the actor's org is treated as
	// an unknown client.
	other, err := svc.CreateApp(ctx, "Other", testRedirect)
	if err != nil {
		t.Fatalf("CreateApp: %v", err)
	}
	req = valid
	req.ClientID = other.ClientID
	if _, err := svc.Authorize(ctx, actor, req); !errors.Is(err, auth.ErrInvalidClient) {
		t.Fatalf("unlinked app: %v", err)
	}
}

func TestExchangeGuards(t *testing.T) {
	svc, _, _ := newInstall(t)
	ctx := context.Background()
	org, _ := seedMember(t, svc, "bob@kilit.test", "bob-password", auth.RoleOrgAdmin)
	app := seedLinkedApp(t, svc, org.ID)
	actor := loginActor(t, svc, "bob@kilit.test", "bob-password")

	res, err := svc.Authorize(ctx, actor, auth.AuthorizeRequest{
		ClientID:    app.ClientID,
		RedirectURI: testRedirect,
		Scope:       "auth vault",
		State:       "st",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	valid := auth.ExchangeRequest{
		Code:         res.Code,
		RedirectURI:  testRedirect,
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
	}

	for name, mutate := range map[string]func(*auth.ExchangeRequest){
		"missing code":     func(r *auth.ExchangeRequest) { r.Code = "" },
		"missing client":   func(r *auth.ExchangeRequest) { r.ClientID = "" },
		"missing secret":   func(r *auth.ExchangeRequest) { r.ClientSecret = "" },
		"missing redirect": func(r *auth.ExchangeRequest) { r.RedirectURI = "" },
	} {
		r := valid
		mutate(&r)
		if _, err := svc.Exchange(ctx, r); !errors.Is(err, auth.ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}

	if _, err := svc.Exchange(ctx, auth.ExchangeRequest{
		Code: "oac_unknown", RedirectURI: testRedirect,
		ClientID: app.ClientID, ClientSecret: app.ClientSecret,
	}); !errors.Is(err, auth.ErrCodeInvalid) {
		t.Fatalf("unknown code: %v", err)
	}

	// Client checks fail closed but keep the code.
	r := valid
	r.ClientSecret = "wrong"
	if _, err := svc.Exchange(ctx, r); !errors.Is(err, auth.ErrCodeInvalid) {
		t.Fatalf("wrong secret: %v", err)
	}

	// A redirect mismatch is its own failure and also keeps the code.
	r = valid
	r.RedirectURI = testRedirect + "/"
	if _, err := svc.Exchange(ctx, r); !errors.Is(err, auth.ErrRedirectMismatch) {
		t.Fatalf("redirect mismatch: %v", err)
	}

	if _, err := svc.Exchange(ctx, valid); err != nil {
		t.Fatalf("code should survive failed attempts: %v", err)
	}
}

func TestExchangeExpiredCode(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc, _, _ := newInstall(t,
		auth.WithClock(func() time.Time { return now }),
		auth.WithCodeTTL(time.Hour),
	)
	ctx := context.Background()
	org, _ := seedMember(t, svc, "bob@kilit.test", "bob-password", auth.RoleOrgAdmin)
	app := seedLinkedApp(t, svc, org.ID)
	actor := loginActor(t, svc, "bob@kilit.test", "bob-password")

	res, err := svc.Authorize(ctx, actor, auth.AuthorizeRequest{
		ClientID:    app.ClientID,
		RedirectURI: testRedirect,
		Scope:       "auth",
		State:       "st",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	now = now.Add(61 * time.Minute)
	if _, err := svc.Exchange(ctx, auth.ExchangeRequest{
		Code:         res.Code,
		RedirectURI:  testRedirect,
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
	}); !errors.Is(err, auth.ErrCodeInvalid) {
		t.Fatalf("expired code: %v", err)
	}
}

func TestExchangeAfterMembershipRevoked(t *testing.T) {
	svc, _, _ := newInstall(t)
	ctx := context.Background()
	org, user := seedMember(t, svc, "bob@kilit.test", "bob-password", auth.RoleOrgAdmin)
	app := seedLinkedApp(t, svc, org.ID)
	actor := loginActor(t, svc, "bob@kilit.test", "bob-password")

	res, err := svc.Authorize(ctx, actor, auth.AuthorizeRequest{
		ClientID:    app.ClientID,
		RedirectURI: testRedirect,
		Scope:       "auth",
		State:       "st",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	members, _, err := svc.ListMembers(ctx, org.ID, auth.ListParams{})
	if err != nil || len(members) != 1 || members[0].UserID != user.ID {
		t.Fatalf("members: %+v %v", members, err)
	}
	if err := svc.RemoveMember(ctx, members[0].ID); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}

	if _, err := svc.Exchange(ctx, auth.ExchangeRequest{
		Code:         res.Code,
		RedirectURI:  testRedirect,
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
	}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("revoked membership: %v", err)
	}
}

func TestExchangeReflectsCurrentRoles(t *testing.T) {
	svc, _, _ := newInstall(t)
	ctx := context.Background()
	org, user := seedMember(t, svc, "bob@kilit.test", "bob-password", auth.RoleOrgViewer)
	app := seedLinkedApp(t, svc, org.ID)
	actor := loginActor(t, svc, "bob@kilit.test", "bob-password")

	res, err := svc.Authorize(ctx, actor, auth.AuthorizeRequest{
		ClientID:    app.ClientID,
		RedirectURI: testRedirect,
		Scope:       "auth vault",
		State:       "st",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	// Roles changed between authorization and exchange show up in the
	// grant: membership is re-read when the code is redeemed.
	members, _, err := svc.ListMembers(ctx, org.ID, auth.ListParams{})
	if err != nil || len(members) != 1 {
		t.Fatalf("members: %+v %v", members, err)
	}
	if _, err := svc.UpdateMemberRoles(ctx, members[0].ID, []auth.Role{auth.RoleOrgAdmin}); err != nil {
		t.Fatalf("UpdateMemberRoles: %v", err)
	}

	grant, err := svc.Exchange(ctx, auth.ExchangeRequest{
		Code:         res.Code,
		RedirectURI:  testRedirect,
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
	})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	granted, err := svc.ResolveActor(ctx, grant.AccessToken)
	if err != nil {
		t.Fatalf("ResolveActor: %v", err)
	}
	if granted.Identity.UserID != user.ID {
		t.Fatalf("grant user: %+v", granted.Identity)
	}
	if !granted.HasPermissions(auth.PermissionOrgMembersCreate) {
		t.Fatal("grant should carry the membership roles at exchange time")
	}
}

func TestSweepExpiredCodes(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc, _, _ := newInstall(t,
		auth.WithClock(func() time.Time { return now }),
		auth.WithCodeTTL(time.Hour),
	)
	ctx := context.Background()
	org, _ := seedMember(t, svc, "bob@kilit.test", "bob-password", auth.RoleOrgAdmin)
	app := seedLinkedApp(t, svc, org.ID)
	actor := loginActor(t, svc, "bob@kilit.test", "bob-password")

	req := auth.AuthorizeRequest{
		ClientID:    app.ClientID,
		RedirectURI: testRedirect,
		Scope:       "auth",
		State:       "st",
	}
	stale, err := svc.Authorize(ctx, actor, req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	now = now.Add(30 * time.Minute)
	fresh, err := svc.Authorize(ctx, actor, req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	now = now.Add(40 * time.Minute)
	n, err := svc.SweepExpiredCodes(ctx)
	if err != nil {
		t.Fatalf("SweepExpiredCodes: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept = %d, want 1", n)
	}

	if _, err := svc.Exchange(ctx, auth.ExchangeRequest{
		Code: stale.Code, RedirectURI: testRedirect,
		ClientID: app.ClientID, ClientSecret: app.ClientSecret,
	}); !errors.Is(err, auth.ErrCodeInvalid) {
		t.Fatalf("stale code: %v", err)
	}
	if _, err := svc.Exchange(ctx, auth.ExchangeRequest{
		Code: fresh.Code, RedirectURI: testRedirect,
		ClientID: app.ClientID, ClientSecret: app.ClientSecret,
	}); err != nil {
		t.Fatalf("fresh code: %v", err)
	}
}
