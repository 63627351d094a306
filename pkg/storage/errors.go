package storage

import "errors"

var (
	ErrUnsupportedBackend = errors.New("unsupported storage type")
	ErrInvalidID          = errors.New("invalid ID")
)
