package store

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateCode   = errors.New("duplicate intent code")
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user exists")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrAlreadyCredited = errors.New("intent already credited")
)
