package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer = "kilit"

	// SessionTTL is fixed: sessions die by expiry only, there is no
	// revocation store.
	SessionTTL = 14 * 24 * time.Hour

	// PurposeTTL bounds the replay window of a purpose token; the tokens
	// are stateless and are never consumed server-side.
	PurposeTTL = time.Hour
)

// sessionClaims is the wire form of an Identity. Permissions are never part
// of it; they are recomputed from roles at verification time.
type sessionClaims struct {
	OrgID    string `json:"oid"`
	OrgCount int    `json:"cnt"`
	Roles    string `json:"roles"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

// purposeClaims binds a single subject string (an action tag or resource id)
// to a short expiry.
type purposeClaims struct {
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies session and purpose tokens with a symmetric
// secret. The secret is injected at construction; there is no ambient
// configuration.
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

// TokenCodecOption configures TokenCodec behavior.
type TokenCodecOption func(*TokenCodec)

// WithCodecClock overrides the codec clock, mainly for tests.
func WithCodecClock(now func() time.Time) TokenCodecOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTokenCodec builds a codec around the given signing secret.
func NewTokenCodec(secret string, opts ...TokenCodecOption) (*TokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: signing secret is required", ErrInvalidInput)
	}
	c := &TokenCodec{
		secret: []byte(secret),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *TokenCodec) keyfunc(t *jwt.Token) (any, error) {
	if t.Method != jwt.SigningMethodHS256 {
		return nil, ErrInvalidToken
	}
	return c.secret, nil
}

func (c *TokenCodec) parser() *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
		jwt.WithExpirationRequired(),
	)
}

// IssueSession signs a session token for the given identity.
func (c *TokenCodec) IssueSession(id Identity) (string, time.Time, error) {
	if strings.TrimSpace(id.UserID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(id.OrgID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: org id is required", ErrInvalidInput)
	}
	if len(id.Roles) == 0 {
		return "", time.Time{}, fmt.Errorf("%w: at least one role is required", ErrInvalidInput)
	}
	if len(id.Scopes) == 0 {
		return "", time.Time{}, fmt.Errorf("%w: at least one scope is required", ErrInvalidInput)
	}

	now := c.now()
	expiresAt := now.Add(SessionTTL)
	claims := sessionClaims{
		OrgID:    id.OrgID,
		OrgCount: id.OrgCount,
		Roles:    JoinRoles(id.Roles),
		Scope:    JoinScopes(id.Scopes),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifySession checks the signature before interpreting anything, then
// decodes the embedded identity. Every verification failure collapses into
// ErrInvalidToken; the wrapped detail is for logs only.
func (c *TokenCodec) VerifySession(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	var claims sessionClaims
	parsed, err := c.parser().ParseWithClaims(token, &claims, c.keyfunc)
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	if err := c.validateSession(&claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	roles, err := ParseRoles(claims.Roles)
	if err != nil {
		// Unreachable for self-issued tokens; reported generically so the
		// caller never learns which role string was rejected.
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	scopes, err := ParseScopes(claims.Scope)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Identity{
		UserID:   claims.Subject,
		OrgID:    claims.OrgID,
		OrgCount: claims.OrgCount,
		Roles:    roles,
		Scopes:   scopes,
	}, nil
}

func (c *TokenCodec) validateSession(claims *sessionClaims) error {
	if claims.Issuer != issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if strings.TrimSpace(claims.OrgID) == "" {
		return errors.New("org missing")
	}
	if strings.TrimSpace(claims.Scope) == "" {
		return errors.New("scope missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := c.now()
	// Expiry is absolute; no skew allowance.
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

// IssuePurpose signs a short-lived token whose only payload is the subject:
// a literal action tag like "new_org" or the id of the resource a form will
// mutate.
func (c *TokenCodec) IssuePurpose(subject string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("%w: purpose subject is required", ErrInvalidInput)
	}
	now := c.now()
	claims := purposeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(PurposeTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign purpose token: %w", err)
	}
	return signed, nil
}

// VerifyPurpose validates a purpose token and returns its subject.
func (c *TokenCodec) VerifyPurpose(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidPurposeToken
	}
	var claims purposeClaims
	parsed, err := c.parser().ParseWithClaims(token, &claims, c.keyfunc)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidPurposeToken
	}
	if claims.Issuer != issuer || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidPurposeToken
	}
	return claims.Subject, nil
}

// RequirePurpose verifies the token and demands that its subject equals want.
func (c *TokenCodec) RequirePurpose(token, want string) error {
	subject, err := c.VerifyPurpose(token)
	if err != nil {
		return err
	}
	if subject != want {
		return ErrInvalidPurposeToken
	}
	return nil
}
