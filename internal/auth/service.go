package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

const defaultCodeTTL = 7 * 24 * time.Hour

// Service implements authentication, context switching, administration, and
// the authorization-code grant on top of a Store.
type Service struct {
	store    Store
	codec    *TokenCodec
	now      func() time.Time
	codeTTL  time.Duration
	setupKey string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the service clock, mainly for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) error {
		if now == nil {
			return errors.New("auth: clock must not be nil")
		}
		s.now = now
		return nil
	}
}

// WithCodeTTL configures the authorization-code lifetime.
func WithCodeTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.codeTTL = ttl
		}
		return nil
	}
}

// WithSetupKey enables the one-time bootstrap operation. Setup stays
// disabled when the key is empty.
func WithSetupKey(key string) ServiceOption {
	return func(s *Service) error {
		s.setupKey = strings.TrimSpace(key)
		return nil
	}
}

// NewService wires a Service from its store and signing secret. The secret
// is passed explicitly; nothing is read from the environment here.
func NewService(store Store, secret string, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	s := &Service{
		store:   store,
		now:     func() time.Time { return time.Now().UTC() },
		codeTTL: defaultCodeTTL,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	codec, err := NewTokenCodec(secret, WithCodecClock(func() time.Time { return s.now() }))
	if err != nil {
		return nil, err
	}
	s.codec = codec
	return s, nil
}

// Codec exposes the token codec, e.g. for purpose-token issuance.
func (s *Service) Codec() *TokenCodec {
	return s.codec
}

// Login authenticates credentials and issues a session in the user's first
// organization (stable store order). The org membership count is snapshotted
// into the token so clients can tell whether org selection applies.
func (s *Service) Login(ctx context.Context, email, password string) (AuthResult, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return AuthResult{}, err
	}
	if password == "" {
		return AuthResult{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Same failure as a wrong password: no account oracle.
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, err
	}
	if user.Status != StatusActive {
		return AuthResult{}, ErrInactiveUser
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}

	memberships, err := s.store.Memberships().ListByUser(ctx, user.ID)
	if err != nil {
		return AuthResult{}, err
	}
	if len(memberships) == 0 {
		return AuthResult{}, ErrNoMembership
	}
	current := memberships[0]

	identity := Identity{
		UserID:   user.ID,
		OrgID:    current.OrgID,
		OrgCount: len(memberships),
		Roles:    current.Roles,
		Scopes:   sessionScopes,
	}
	token, expiresAt, err := s.codec.IssueSession(identity)
	if err != nil {
		return AuthResult{}, err
	}

	u := *user
	u.PasswordHash = ""
	return AuthResult{
		User:      u,
		Token:     token,
		ExpiresAt: expiresAt,
		OrgID:     current.OrgID,
		OrgCount:  len(memberships),
	}, nil
}

// ResolveActor turns a bearer token into an Actor. An empty token resolves
// to the anonymous actor without error; any verification failure is
// ErrInvalidToken. Permissions are recomputed from the embedded roles, so a
// policy change takes effect immediately for existing tokens.
func (s *Service) ResolveActor(ctx context.Context, token string) (*Actor, error) {
	if strings.TrimSpace(token) == "" {
		return &Actor{}, nil
	}
	id, err := s.codec.VerifySession(token)
	if err != nil {
		return nil, err
	}

	user, err := s.store.Users().Find(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown subject", ErrInvalidToken)
		}
		return nil, err
	}
	if user.Status != StatusActive {
		return nil, fmt.Errorf("%w: subject is not active", ErrInvalidToken)
	}
	if _, err := s.store.Organizations().Find(ctx, id.OrgID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown org context", ErrInvalidToken)
		}
		return nil, err
	}

	u := *user
	u.PasswordHash = ""
	return NewActor(id, &u), nil
}

// SwitchContext re-validates membership in the target org and issues a new
// session for it. The user id and org count snapshot carry over unchanged;
// org id and roles come from the target membership as of now.
func (s *Service) SwitchContext(ctx context.Context, actor *Actor, targetOrgID string) (AuthResult, error) {
	if !actor.HasAuthScope() {
		return AuthResult{}, ErrAuthRequired
	}
	targetOrgID = strings.TrimSpace(targetOrgID)
	if targetOrgID == "" {
		return AuthResult{}, fmt.Errorf("%w: org id is required", ErrInvalidInput)
	}

	membership, err := s.store.Memberships().FindByOrgUser(ctx, targetOrgID, actor.Identity.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResult{}, fmt.Errorf("%w: not a member of the target organization", ErrForbidden)
		}
		return AuthResult{}, err
	}

	identity := Identity{
		UserID:   actor.Identity.UserID,
		OrgID:    membership.OrgID,
		OrgCount: actor.Identity.OrgCount,
		Roles:    membership.Roles,
		Scopes:   sessionScopes,
	}
	token, expiresAt, err := s.codec.IssueSession(identity)
	if err != nil {
		return AuthResult{}, err
	}

	var u User
	if actor.User != nil {
		u = *actor.User
	} else {
		user, err := s.store.Users().Find(ctx, actor.Identity.UserID)
		if err != nil {
			return AuthResult{}, err
		}
		u = *user
		u.PasswordHash = ""
	}
	return AuthResult{
		User:      u,
		Token:     token,
		ExpiresAt: expiresAt,
		OrgID:     membership.OrgID,
		OrgCount:  actor.Identity.OrgCount,
	}, nil
}

// Setup bootstraps an empty installation: it creates the initial user, a
// "System" organization owned by them, and a Superuser membership. It
// refuses to run twice.
func (s *Service) Setup(ctx context.Context, key, email, name, password string) (*User, error) {
	if s.setupKey == "" {
		return nil, ErrForbidden
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(key)), []byte(s.setupKey)) != 1 {
		return nil, ErrForbidden
	}
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

	count, err := s.store.Users().Count(ctx)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: setup has already been completed", ErrAlreadyExists)
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

	org := &Organization{Name: "System", Status: StatusActive, OwnerID: user.ID}
	if err := s.store.Organizations().Create(ctx, org); err != nil {
		return nil, err
	}
	membership := &Membership{
		OrgID:  org.ID,
		UserID: user.ID,
		Roles:  []Role{RoleSuperuser},
	}
	if err := s.store.Memberships().Create(ctx, membership); err != nil {
		return nil, err
	}

	u := *user
	u.PasswordHash = ""
	return &u, nil
}

// ChangePassword lets an authenticated actor rotate their own password.
func (s *Service) ChangePassword(ctx context.Context, actor *Actor, current, next string) error {
	if !actor.HasAuthScope() {
		return ErrAuthRequired
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	user, err := s.store.Users().Find(ctx, actor.Identity.UserID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	return s.store.Users().UpdatePassword(ctx, user.ID, hash)
}

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > 250 {
		return fmt.Errorf("%w: email must be between 1 and 250 characters", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	}
	return nil
}

func validateName(name string) error {
	if l := len(strings.TrimSpace(name)); l < 1 || l > 100 {
		return fmt.Errorf("%w: name must be between 1 and 100 characters", ErrInvalidInput)
	}
	return nil
}

func validateStatus(status string) error {
	if status != StatusActive && status != StatusInactive {
		return fmt.Errorf("%w: status must be %q or %q", ErrInvalidInput, StatusActive, StatusInactive)
	}
	return nil
}

func validateListParams(p ListParams) error {
	if p.Page < 0 || p.Page > 1000 {
		return fmt.Errorf("%w: page must be between 1 and 1000", ErrInvalidInput)
	}
	if p.PerPage < 0 || p.PerPage > 50 {
		return fmt.Errorf("%w: per_page must be between 1 and 50", ErrInvalidInput)
	}
	if len(p.Keyword) > 50 {
		return fmt.Errorf("%w: keyword must be at most 50 characters", ErrInvalidInput)
	}
	return nil
}
