// Package errors holds the storage-level sentinel errors shared by every
// repository backend.
package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrEmptyKey     = errors.New("empty key")
	ErrInvalidData  = errors.New("invalid data type")
	ErrEntityExists = errors.New("entity already exists")
	ErrConflict     = errors.New("concurrent update conflict")
)
