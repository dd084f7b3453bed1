// Command smoke runs a full happy-path flow against a live deployment:
// admin login, tenant and member provisioning, client registration, the
// authorization-code exchange, and a request with the granted token. It
// exits non-zero on the first failure; a successful run removes the org,
// user and app it created.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

func main() {
	base := os.Getenv("KILIT_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	email := os.Getenv("KILIT_SMOKE_EMAIL")
	password := os.Getenv("KILIT_SMOKE_PASSWORD")
	if email == "" || password == "" {
		log.Fatal("KILIT_SMOKE_EMAIL and KILIT_SMOKE_PASSWORD are required (platform admin credentials)")
	}

	c := &client{base: base, http: &http.Client{Timeout: 10 * time.Second}}
	tag := fmt.Sprintf("smoke-%d", rand.Int63())

	var admin struct {
		Token string `json:"token"`
	}
	c.call(http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email": email, "password": password,
	}, &admin, "admin login")

	var org struct {
		ID string `json:"id"`
	}
	c.call(http.MethodPost, "/v1/orgs", admin.Token, map[string]any{"name": tag}, &org, "create org")
	defer c.call(http.MethodDelete, "/v1/orgs/"+org.ID, admin.Token, nil, nil, "delete org")

	var user struct {
		ID string `json:"id"`
	}
	userEmail := tag + "@smoke.test"
	c.call(http.MethodPost, "/v1/users", admin.Token, map[string]any{
		"email": userEmail, "name": tag, "password": "smoke-password",
	}, &user, "create user")
	defer c.call(http.MethodDelete, "/v1/users/"+user.ID, admin.Token, nil, nil, "delete user")

	c.call(http.MethodPost, "/v1/orgs/"+org.ID+"/members", admin.Token, map[string]any{
		"user_id": user.ID, "roles": []string{"OrgAdmin"},
	}, nil, "add member")

	redirect := "https://smoke.invalid/cb"
	var app struct {
		ID           string `json:"id"`
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	c.call(http.MethodPost, "/v1/apps", admin.Token, map[string]any{
		"name": tag, "redirect_uri": redirect,
	}, &app, "create app")
	defer c.call(http.MethodDelete, "/v1/apps/"+app.ID, admin.Token, nil, nil, "delete app")

	c.call(http.MethodPost, "/v1/orgs/"+org.ID+"/apps", admin.Token, map[string]any{
		"app_id": app.ID,
	}, nil, "link app")

	var member struct {
		Token string `json:"token"`
	}
	c.call(http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email": userEmail, "password": "smoke-password",
	}, &member, "member login")

	var issued struct {
		Code string `json:"code"`
	}
	c.call(http.MethodPost, "/v1/oauth/authorize", member.Token, map[string]any{
		"client_id": app.ClientID, "redirect_uri": redirect, "scope": "auth", "state": tag,
	}, &issued, "authorize")

	var grant struct {
		AccessToken string `json:"access_token"`
	}
	c.call(http.MethodPost, "/v1/oauth/token", "", map[string]any{
		"code": issued.Code, "redirect_uri": redirect,
		"client_id": app.ClientID, "client_secret": app.ClientSecret,
	}, &grant, "exchange code")

	var me struct {
		Email string `json:"email"`
	}
	c.call(http.MethodGet, "/v1/me", grant.AccessToken, nil, &me, "granted token /v1/me")
	if me.Email != userEmail {
		log.Fatalf("granted token resolved to %q, want %q", me.Email, userEmail)
	}

	fmt.Printf("✅ smoke test passed: org=%s app=%s\n", org.ID, app.ID)
}

type client struct {
	base string
	http *http.Client
}

// call performs one API request and decodes the response into out when
// non-nil. Any transport error or non-2xx status aborts the run.
func (c *client) call(method, path, token string, body, out any, step string) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			log.Fatalf("%s: marshal: %v", step, err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("%s: %v", step, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s: %v", step, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error     string `json:"error"`
			RequestID string `json:"request_id"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		log.Fatalf("%s: status %d: %s (request %s)", step, resp.StatusCode, apiErr.Error, apiErr.RequestID)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("%s: decode: %v", step, err)
		}
	}
}
