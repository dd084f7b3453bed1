package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"kilit.org/internal/audit"
	"kilit.org/internal/auth"
	"kilit.org/internal/store/memory"
	"kilit.org/internal/stream"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testSetupKey = "boot-key"
	testRedirect = "https://app.example.com/cb"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := memory.New()
	svc, err := auth.NewService(store, testSecret, auth.WithSetupKey(testSetupKey))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	api := New(svc, ReadyProbe{Store: store}, "test")
	api.RateRPS = 1000
	api.RateBurst = 1000

	events := stream.NewHub()
	audit.SetFeed(events)
	api.Events = events
	t.Cleanup(func() { audit.SetFeed(nil) })

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	return c.do(http.MethodPost, path, body, token)
}

func (c *apiClient) get(path string, params url.Values, token string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d (body %v)", resp.StatusCode, want, body)
	}
}

// bootstrap runs first-boot setup and returns the root session.
func (c *apiClient) bootstrap() authResponse {
	c.t.Helper()
	resp := c.post("/v1/setup", map[string]any{
		"setup_key": testSetupKey,
		"email":     "root@kilit.test",
		"name":      "Root",
		"password":  "root-password",
	}, "")
	wantStatus(c.t, resp, http.StatusCreated)
	resp.Body.Close()
	return c.login("root@kilit.test", "root-password")
}

func (c *apiClient) login(email, password string) authResponse {
	c.t.Helper()
	resp := c.post("/v1/auth/login", map[string]any{
		"email":    email,
		"password": password,
	}, "")
	wantStatus(c.t, resp, http.StatusOK)
	return decode[authResponse](c.t, resp)
}

func (c *apiClient) createUser(token, email, name, password string) userResponse {
	c.t.Helper()
	resp := c.post("/v1/users", map[string]any{
		"email":    email,
		"name":     name,
		"password": password,
	}, token)
	wantStatus(c.t, resp, http.StatusCreated)
	return decode[userResponse](c.t, resp)
}

func (c *apiClient) createOrg(token, name string) orgResponse {
	c.t.Helper()
	resp := c.post("/v1/orgs", map[string]any{"name": name}, token)
	wantStatus(c.t, resp, http.StatusCreated)
	return decode[orgResponse](c.t, resp)
}

func (c *apiClient) addMember(token, orgID, userID string, roles ...string) membershipResponse {
	c.t.Helper()
	resp := c.post("/v1/orgs/"+orgID+"/members", map[string]any{
		"user_id": userID,
		"roles":   roles,
	}, token)
	wantStatus(c.t, resp, http.StatusCreated)
	return decode[membershipResponse](c.t, resp)
}

func TestSetupAndLoginFlow(t *testing.T) {
	api := newTestAPI(t)

	root := api.bootstrap()
	if root.Token == "" || !root.ExpiresAt.After(time.Now()) {
		t.Fatalf("unexpected session: %+v", root)
	}
	if root.OrgCount != 1 {
		t.Fatalf("org_count = %d, want 1", root.OrgCount)
	}

	// Setup is once per installation.
	resp := api.post("/v1/setup", map[string]any{
		"setup_key": testSetupKey,
		"email":     "second@kilit.test",
		"name":      "Second",
		"password":  "password-two",
	}, "")
	wantStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = api.post("/v1/setup", map[string]any{
		"setup_key": "wrong-key",
		"email":     "third@kilit.test",
		"name":      "Third",
		"password":  "password-three",
	}, "")
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	// Profile and resolved authorizations.
	me := decode[userResponse](t, api.get("/v1/me", nil, root.Token))
	if me.Email != "root@kilit.test" {
		t.Fatalf("me.email = %q", me.Email)
	}

	authz := decode[authzResponse](t, api.get("/v1/me/authz", nil, root.Token))
	if authz.ID != me.ID || authz.OrgID != root.OrgID {
		t.Fatalf("authz identity mismatch: %+v", authz)
	}
	if len(authz.Roles) != 1 || authz.Roles[0] != string(auth.RoleSuperuser) {
		t.Fatalf("roles = %v", authz.Roles)
	}
	if len(authz.Scope) != 2 {
		t.Fatalf("scope = %v", authz.Scope)
	}
	if !sort.StringsAreSorted(authz.Permissions) || len(authz.Permissions) == 0 {
		t.Fatalf("permissions not sorted: %v", authz.Permissions)
	}
}

func TestAuthRequiredAndTokenErrors(t *testing.T) {
	api := newTestAPI(t)
	api.bootstrap()

	// No credentials: anonymous actor, gated at the route.
	resp := api.get("/v1/me", nil, "")
	wantStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	// Garbage token is rejected with a generic message.
	resp = api.get("/v1/me", nil, "not-a-token")
	wantStatus(t, resp, http.StatusUnauthorized)
	body := decode[map[string]any](t, resp)
	if body["error"] != "invalid token" {
		t.Fatalf("error = %v", body["error"])
	}
	if rid, ok := body["request_id"].(string); !ok || rid == "" {
		t.Fatal("expected request_id in error body")
	}

	// Wrong scheme.
	req, _ := http.NewRequest(http.MethodGet, api.baseURL+"/v1/me", nil)
	req.Header.Set("Authorization", "Token abc")
	raw, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	wantStatus(t, raw, http.StatusUnauthorized)
	raw.Body.Close()

	// Credential failures.
	resp = api.post("/v1/auth/login", map[string]any{"email": "root@kilit.test", "password": "wrong-password"}, "")
	wantStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.post("/v1/auth/login", map[string]any{"email": "not-an-email", "password": "whatever-pass"}, "")
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestUserAdministration(t *testing.T) {
	api := newTestAPI(t)
	root := api.bootstrap()

	created := api.createUser(root.Token, "grace@kilit.test", "Grace", "grace-password")
	if created.ID == "" || created.Email != "grace@kilit.test" {
		t.Fatalf("unexpected user: %+v", created)
	}

	// Duplicate email conflicts.
	resp := api.post("/v1/users", map[string]any{
		"email":    "GRACE@kilit.test",
		"name":     "Shadow",
		"password": "shadow-password",
	}, root.Token)
	wantStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	// Keyword listing.
	list := decode[listResponse[userResponse]](t, api.get("/v1/users", url.Values{"keyword": {"grace"}}, root.Token))
	if list.Total != 1 || len(list.Items) != 1 {
		t.Fatalf("list = %+v", list)
	}

	// Rename.
	resp = api.do(http.MethodPatch, "/v1/users/"+created.ID, map[string]any{"name": "Grace H."}, root.Token)
	wantStatus(t, resp, http.StatusOK)
	if got := decode[userResponse](t, resp); got.Name != "Grace H." {
		t.Fatalf("name = %q", got.Name)
	}

	// Admin password reset.
	resp = api.do(http.MethodPut, "/v1/users/"+created.ID+"/password", map[string]any{"password": "fresh-password"}, root.Token)
	wantStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	// Self-targeting is blocked on admin routes.
	me := decode[userResponse](t, api.get("/v1/me", nil, root.Token))
	resp = api.do(http.MethodPatch, "/v1/users/"+me.ID, map[string]any{"name": "Sneaky"}, root.Token)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
	resp = api.do(http.MethodDelete, "/v1/users/"+me.ID, nil, root.Token)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	// Validation and unknown ids.
	resp = api.post("/v1/users", map[string]any{"email": "bad", "name": "X", "password": "short"}, root.Token)
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
	resp = api.get("/v1/users/no-such-id", nil, root.Token)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	// Wrong method advertises what is allowed.
	resp = api.do(http.MethodPut, "/v1/users", nil, root.Token)
	wantStatus(t, resp, http.StatusMethodNotAllowed)
	if allow := resp.Header.Get("Allow"); !strings.Contains(allow, http.MethodPost) {
		t.Fatalf("Allow = %q", allow)
	}
	resp.Body.Close()

	resp = api.do(http.MethodDelete, "/v1/users/"+created.ID, nil, root.Token)
	wantStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
}

func TestOrgVisibilityRules(t *testing.T) {
	api := newTestAPI(t)
	root := api.bootstrap()

	acme := api.createOrg(root.Token, "Acme")
	admin := api.createUser(root.Token, "admin@acme.test", "Admin", "admin-password")
	api.addMember(root.Token, acme.ID, admin.ID, string(auth.RoleOrgAdmin))
	session := api.login("admin@acme.test", "admin-password")

	// Non-admins get their own org as a single-row page.
	list := decode[listResponse[orgResponse]](t, api.get("/v1/orgs", nil, session.Token))
	if list.Total != 1 || len(list.Items) != 1 || list.Items[0].ID != acme.ID {
		t.Fatalf("list = %+v", list)
	}

	// The system admin sees every tenant.
	full := decode[listResponse[orgResponse]](t, api.get("/v1/orgs", nil, root.Token))
	if full.Total != 2 {
		t.Fatalf("admin list total = %d, want 2", full.Total)
	}

	// Foreign orgs are invisible to tenants.
	resp := api.get("/v1/orgs/"+root.OrgID, nil, session.Token)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	// An org admin edits their own org.
	resp = api.do(http.MethodPatch, "/v1/orgs/"+acme.ID, map[string]any{"name": "Acme Corp"}, session.Token)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// The system admin administers other tenants, never their own org.
	resp = api.do(http.MethodPatch, "/v1/orgs/"+root.OrgID, map[string]any{"name": "Mutated"}, root.Token)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
	resp = api.do(http.MethodPatch, "/v1/orgs/"+acme.ID, map[string]any{"status": "inactive"}, root.Token)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// Nobody deletes the org their session lives in.
	resp = api.do(http.MethodDelete, "/v1/orgs/"+root.OrgID, nil, root.Token)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	// Org admins lack the create and delete permissions entirely.
	resp = api.post("/v1/orgs", map[string]any{"name": "Rogue"}, session.Token)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
	resp = api.do(http.MethodDelete, "/v1/orgs/"+acme.ID, nil, session.Token)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	// Deleting the tenant cuts its members off.
	resp = api.do(http.MethodDelete, "/v1/orgs/"+acme.ID, nil, root.Token)
	wantStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
	resp = api.post("/v1/auth/login", map[string]any{"email": "admin@acme.test", "password": "admin-password"}, "")
	wantStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestMembershipRoutes(t *testing.T) {
	api := newTestAPI(t)
	root := api.bootstrap()

	acme := api.createOrg(root.Token, "Acme")
	user := api.createUser(root.Token, "member@acme.test", "Member", "member-password")
	member := api.addMember(root.Token, acme.ID, user.ID, string(auth.RoleOrgViewer))

	list := decode[listResponse[membershipResponse]](t, api.get("/v1/orgs/"+acme.ID+"/members", nil, root.Token))
	if list.Total != 1 || list.Items[0].OrgName != "Acme" {
		t.Fatalf("list = %+v", list)
	}

	got := decode[membershipResponse](t, api.get("/v1/orgs/"+acme.ID+"/members/"+member.ID, nil, root.Token))
	if got.UserID != user.ID || len(got.Roles) != 1 {
		t.Fatalf("member = %+v", got)
	}

	// The membership is addressable only under its own org.
	resp := api.get("/v1/orgs/"+root.OrgID+"/members/"+member.ID, nil, root.Token)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	// Role updates are strict.
	resp = api.do(http.MethodPatch, "/v1/orgs/"+acme.ID+"/members/"+member.ID, map[string]any{
		"roles": []string{"Superviewer"},
	}, root.Token)
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	updated := decode[membershipResponse](t, func() *http.Response {
		resp := api.do(http.MethodPatch, "/v1/orgs/"+acme.ID+"/members/"+member.ID, map[string]any{
			"roles": []string{string(auth.RoleOrgAdmin), string(auth.RoleOrgViewer)},
		}, root.Token)
		wantStatus(t, resp, http.StatusOK)
		return resp
	}())
	if len(updated.Roles) != 2 {
		t.Fatalf("roles = %v", updated.Roles)
	}

	// An org viewer has no member administration rights, listing included.
	viewer := api.createUser(root.Token, "viewer@acme.test", "Viewer", "viewer-password")
	api.addMember(root.Token, acme.ID, viewer.ID, string(auth.RoleOrgViewer))
	viewerSession := api.login("viewer@acme.test", "viewer-password")
	resp = api.get("/v1/orgs/"+acme.ID+"/members", nil, viewerSession.Token)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	// The viewer still sees its own memberships through /v1/me/orgs.
	mine := decode[meOrgsResponse](t, api.get("/v1/me/orgs", nil, viewerSession.Token))
	if mine.Total != 1 || len(mine.Items) != 1 {
		t.Fatalf("me/orgs = %+v", mine)
	}
	if mine.Items[0].OrgID != acme.ID || mine.Items[0].OrgName != "Acme" {
		t.Fatalf("membership = %+v", mine.Items[0])
	}

	resp = api.do(http.MethodDelete, "/v1/orgs/"+acme.ID+"/members/"+member.ID, nil, root.Token)
	wantStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
	resp = api.get("/v1/orgs/"+acme.ID+"/members/"+member.ID, nil, root.Token)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestAppLinkingAndOAuthFlow(t *testing.T) {
	api := newTestAPI(t)
	root := api.bootstrap()

	// Register the client app; the secret is visible exactly once.
	resp := api.post("/v1/apps", map[string]any{"name": "Dashboard", "redirect_uri": testRedirect}, root.Token)
	wantStatus(t, resp, http.StatusCreated)
	created := decode[map[string]any](t, resp)
	appID := created["id"].(string)
	clientID := created["client_id"].(string)
	clientSecret := created["client_secret"].(string)
	if clientID == "" || clientSecret == "" {
		t.Fatalf("expected generated credentials: %v", created)
	}

	shown := decode[map[string]any](t, api.get("/v1/apps/"+appID, nil, root.Token))
	if _, ok := shown["client_secret"]; ok {
		t.Fatal("client_secret must not be readable")
	}

	// Tenant and a member who will authorize.
	acme := api.createOrg(root.Token, "Acme")
	user := api.createUser(root.Token, "admin@acme.test", "Admin", "admin-password")
	api.addMember(root.Token, acme.ID, user.ID, string(auth.RoleOrgAdmin))

	resp = api.post("/v1/orgs/"+acme.ID+"/apps", map[string]any{"app_id": appID}, root.Token)
	wantStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	session := api.login("admin@acme.test", "admin-password")
	resp = api.post("/v1/oauth/authorize", map[string]any{
		"client_id":    clientID,
		"redirect_uri": testRedirect,
		"scope":        "auth vault",
		"state":        "opaque-state",
	}, session.Token)
	wantStatus(t, resp, http.StatusOK)
	issued := decode[authorizeResponse](t, resp)
	if !strings.HasPrefix(issued.Code, "oac_") || issued.State != "opaque-state" {
		t.Fatalf("unexpected authorize response: %+v", issued)
	}

	// The exchange is public; client credentials authenticate it.
	exchange := map[string]any{
		"code":          issued.Code,
		"redirect_uri":  testRedirect,
		"client_id":     clientID,
		"client_secret": clientSecret,
	}
	resp = api.post("/v1/oauth/token", exchange, "")
	wantStatus(t, resp, http.StatusOK)
	grant := decode[tokenExchangeResponse](t, resp)
	if grant.AccessToken == "" || grant.TokenType != "app" {
		t.Fatalf("unexpected grant: %+v", grant)
	}

	// The granted token is a working session for the member.
	me := decode[userResponse](t, api.get("/v1/me", nil, grant.AccessToken))
	if me.Email != "admin@acme.test" {
		t.Fatalf("grant resolved to %q", me.Email)
	}

	// Codes are single use.
	resp = api.post("/v1/oauth/token", exchange, "")
	wantStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	// Rotation returns a fresh secret.
	resp = api.post("/v1/apps/"+appID+"/regenerate-secret", nil, root.Token)
	wantStatus(t, resp, http.StatusOK)
	rotated := decode[map[string]any](t, resp)
	if rotated["client_secret"] == clientSecret {
		t.Fatal("secret did not rotate")
	}
}

func TestHealthAndInfo(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, "")
	wantStatus(t, resp, http.StatusOK)
	body := decode[map[string]any](t, resp)
	if body["service"] != serviceName {
		t.Fatalf("service = %v", body["service"])
	}

	resp = api.get("/readyz", nil, "")
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/v1/info", nil, "")
	wantStatus(t, resp, http.StatusOK)
	info := decode[map[string]any](t, resp)
	if info["version"] != "test" {
		t.Fatalf("version = %v", info["version"])
	}

	resp = api.get("/nowhere", nil, "")
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}
