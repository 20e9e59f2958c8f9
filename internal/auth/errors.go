package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrAlreadyExists      = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: incorrect username or password")
	ErrInactiveUser       = errors.New("auth: inactive user")
	ErrInvalidToken       = errors.New("auth: could not validate credentials")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrMalformedToken     = errors.New("auth: malformed token")
	ErrTokenRevoked       = errors.New("auth: token has been revoked")
	ErrUserNotFound       = errors.New("auth: user not found")
	ErrForbidden          = errors.New("auth: not enough permissions")
)
