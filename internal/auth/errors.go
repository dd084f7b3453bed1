package auth

import "errors"

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")

	// Token errors deliberately carry no detail beyond "invalid token";
	// verification failures of every kind collapse into them.
	ErrInvalidToken        = errors.New("auth: invalid token")
	ErrInvalidPurposeToken = errors.New("auth: invalid purpose token")

	ErrAuthRequired       = errors.New("auth: authentication required")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInactiveUser       = errors.New("auth: user is not active")
	ErrNoMembership       = errors.New("auth: user belongs to no organization")

	ErrInvalidClient    = errors.New("auth: invalid client")
	ErrInvalidScope     = errors.New("auth: invalid scope")
	ErrCodeInvalid      = errors.New("auth: authorization code invalid")
	ErrRedirectMismatch = errors.New("auth: redirect uri mismatch")
)
