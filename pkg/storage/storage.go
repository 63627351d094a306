package storage

import "context"

// Storage is a keyed in-process store of T values backing the memory
// repositories. Keys are unique; Create on an existing key fails with
// ErrEntityExists.
type Storage[T any] interface {
	Create(ctx context.Context, key string, value T) error
	Get(ctx context.Context, key string) (T, error)
	Update(ctx context.Context, key string, value T) error
	Delete(ctx context.Context, key string) error
	// Filter returns the values keep accepts, in key order. A nil keep
	// returns every value.
	Filter(ctx context.Context, keep func(T) bool) ([]T, error)
}
