package account

import "errors"

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password does not meet minimum requirements")
	ErrInvalidEmail       = errors.New("invalid email address")
)
