package httpapi

import (
	"net/http"
	"time"

	"kilit.org/internal/audit"
	"kilit.org/internal/auth"
)

type authorizeRequest struct {
	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
	Scope       string `json:"scope"`
	State       string `json:"state"`
}

type authorizeResponse struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

type tokenExchangeRequest struct {
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type tokenExchangeResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Scope       string    `json:"scope"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	var req authorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.Authorize(r.Context(), actor, auth.AuthorizeRequest{
		ClientID:    req.ClientID,
		RedirectURI: req.RedirectURI,
		Scope:       req.Scope,
		State:       req.State,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "oauth.code.issue", map[string]any{
		"client_id": req.ClientID,
	})
	writeJSON(w, http.StatusOK, authorizeResponse{
		Code:  res.Code,
		State: res.State,
	})
}

// handleToken is the sole public mutation endpoint besides login; client
// credentials authenticate the caller instead of a session.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req tokenExchangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grant, err := a.svc.Exchange(r.Context(), auth.ExchangeRequest{
		Code:         req.Code,
		RedirectURI:  req.RedirectURI,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
	})
	if err != nil {
		_ = audit.LogEvent(r.Context(), "oauth.code.redeem_failed", map[string]any{
			"client_id": req.ClientID,
		})
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "oauth.code.redeem", map[string]any{
		"client_id": req.ClientID,
	})
	writeJSON(w, http.StatusOK, tokenExchangeResponse{
		AccessToken: grant.AccessToken,
		TokenType:   grant.TokenType,
		Scope:       grant.Scope,
		ExpiresAt:   grant.ExpiresAt,
	})
}
