package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"kilit.org/internal/ids"
)

// codePrefix marks authorization-code values; the suffix is 32 hex chars of
// a random UUID.
const codePrefix = "oac"

// AuthorizeRequest asks for a single-use code on behalf of the authenticated
// actor.
type AuthorizeRequest struct {
	ClientID    string
	RedirectURI string
	Scope       string
	State       string
}

// AuthorizeResult returns the minted code together with the caller's state,
// echoed byte-for-byte and never interpreted.
type AuthorizeResult struct {
	Code  string
	State string
}

// ExchangeRequest redeems a code for an access grant. It is presented by the
// client's backend, not by a session holder, so client credentials stand in
// for authentication. There is no state parameter here; state is a
// client-side echo at authorization time only.
type ExchangeRequest struct {
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
}

// Authorize issues a single-use authorization code bound to the actor's user
// and current org context.
func (s *Service) Authorize(ctx context.Context, actor *Actor, req AuthorizeRequest) (AuthorizeResult, error) {
	if !actor.HasAuthScope() {
		return AuthorizeResult{}, ErrAuthRequired
	}
	if strings.TrimSpace(req.ClientID) == "" {
		return AuthorizeResult{}, fmt.Errorf("%w: client_id is required", ErrInvalidInput)
	}
	if err := validateState(req.State); err != nil {
		return AuthorizeResult{}, err
	}
	if err := validateRedirectURI(req.RedirectURI); err != nil {
		return AuthorizeResult{}, err
	}
	scopes, err := ParseScopes(req.Scope)
	if err != nil {
		return AuthorizeResult{}, fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}

	app, err := s.store.Apps().FindByClientID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthorizeResult{}, ErrInvalidClient
		}
		return AuthorizeResult{}, err
	}
	// Exact string equality. A looser scheme/host comparison would reopen
	// redirect abuse through path or port games.
	if req.RedirectURI != app.RedirectURI {
		return AuthorizeResult{}, ErrInvalidClient
	}
	// The app must be linked to the org the actor is operating in.
	if _, err := s.store.OrgApps().FindByOrgApp(ctx, actor.Identity.OrgID, app.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthorizeResult{}, ErrInvalidClient
		}
		return AuthorizeResult{}, err
	}

	now := s.now()
	code := &AuthorizationCode{
		Code:        ids.NewPrefixed(codePrefix),
		State:       req.State,
		RedirectURI: req.RedirectURI,
		Scope:       JoinScopes(scopes),
		AppID:       app.ID,
		OrgID:       actor.Identity.OrgID,
		UserID:      actor.Identity.UserID,
		ExpiresAt:   now.Add(s.codeTTL),
	}
	if err := s.store.Codes().Create(ctx, code); err != nil {
		return AuthorizeResult{}, err
	}
	return AuthorizeResult{Code: code.Code, State: req.State}, nil
}

// Exchange redeems a code for an access grant. The lookup, the expiry and
// client checks, and the deletion happen inside one store transaction; a
// code can therefore be redeemed exactly once no matter how many exchanges
// race on it.
func (s *Service) Exchange(ctx context.Context, req ExchangeRequest) (AccessGrant, error) {
	if strings.TrimSpace(req.Code) == "" {
		return AccessGrant{}, fmt.Errorf("%w: code is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.ClientID) == "" || req.ClientSecret == "" {
		return AccessGrant{}, fmt.Errorf("%w: client credentials are required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.RedirectURI) == "" {
		return AccessGrant{}, fmt.Errorf("%w: redirect_uri is required", ErrInvalidInput)
	}

	rec, err := s.store.Codes().Redeem(ctx, RedeemRequest{
		Code:         req.Code,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		RedirectURI:  req.RedirectURI,
		Now:          s.now(),
	})
	if err != nil {
		return AccessGrant{}, err
	}

	membership, err := s.store.Memberships().FindByOrgUser(ctx, rec.OrgID, rec.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AccessGrant{}, fmt.Errorf("%w: user is no longer a member of the organization", ErrForbidden)
		}
		return AccessGrant{}, err
	}
	count, err := s.store.Memberships().CountByUser(ctx, rec.UserID)
	if err != nil {
		return AccessGrant{}, err
	}
	scopes, err := ParseScopes(rec.Scope)
	if err != nil {
		return AccessGrant{}, fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}

	identity := Identity{
		UserID:   rec.UserID,
		OrgID:    rec.OrgID,
		OrgCount: count,
		Roles:    membership.Roles,
		Scopes:   scopes,
	}
	token, expiresAt, err := s.codec.IssueSession(identity)
	if err != nil {
		return AccessGrant{}, err
	}
	return AccessGrant{
		AccessToken: token,
		TokenType:   "app",
		Scope:       rec.Scope,
		ExpiresAt:   expiresAt,
	}, nil
}

// SweepExpiredCodes deletes codes whose expiry has passed and reports how
// many were removed.
func (s *Service) SweepExpiredCodes(ctx context.Context) (int, error) {
	return s.store.Codes().DeleteExpired(ctx, s.now())
}

func validateState(state string) error {
	if l := len(state); l < 1 || l > 250 {
		return fmt.Errorf("%w: state must be between 1 and 250 characters", ErrInvalidInput)
	}
	return nil
}

func validateRedirectURI(uri string) error {
	if l := len(uri); l < 1 || l > 250 {
		return fmt.Errorf("%w: redirect uri must be between 1 and 250 characters", ErrInvalidInput)
	}
	u, err := url.Parse(uri)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: redirect uri is not a valid absolute url", ErrInvalidInput)
	}
	return nil
}
