package badger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/absmach/fedcycle/pkg/errors"
	"github.com/dgraph-io/badger/v4"
)

const (
	sep         = "\x00"
	maxRetries  = 16
	prefetchMax = 100
)

var (
	ErrDBConnection = errors.New("badger database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrDBScan       = errors.New("database scan error")
	ErrUpdate       = errors.New("update error")
)

type Database struct {
	db *badger.DB
}

func NewDatabase(path string) (*Database, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) view(fn func(txn *badger.Txn) error) error {
	return wrap(d.db.View(fn), ErrDBQuery)
}

// update runs fn in a read-write transaction, retrying when a concurrent
// transaction touched the same keys.
func (d *Database) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxRetries {
		err = d.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return wrap(err, ErrUpdate)
		}
	}

	return wrap(err, ErrUpdate)
}

// wrap passes domain errors through untouched and tags the rest.
func wrap(err, kind error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pkgerrors.ErrNotFound),
		errors.Is(err, pkgerrors.ErrEntityExists),
		errors.Is(err, pkgerrors.ErrConflict),
		errors.Is(err, pkgerrors.ErrInvalidData):
		return err
	default:
		return fmt.Errorf("%w: %w", kind, err)
	}
}

func key(table string, parts ...string) []byte {
	return []byte(table + sep + strings.Join(parts, sep))
}

func prefix(table string, parts ...string) []byte {
	if len(parts) == 0 {
		return []byte(table + sep)
	}

	return append(key(table, parts...), sep...)
}

func numKey(n uint64) string {
	return fmt.Sprintf("%020d", n)
}

func timeKey(t time.Time) string {
	n := t.UnixNano()
	if n < 0 {
		n = 0
	}

	return numKey(uint64(n))
}

func getRaw(txn *badger.Txn, k []byte) ([]byte, error) {
	item, err := txn.Get(k)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, pkgerrors.ErrNotFound
		}

		return nil, err
	}

	return item.ValueCopy(nil)
}

func getJSON[T any](txn *badger.Txn, k []byte) (T, error) {
	var v T
	data, err := getRaw(txn, k)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrDBScan, err)
	}

	return v, nil
}

// getRef follows an index key to the record it points at.
func getRef[T any](txn *badger.Txn, index []byte, table string) (T, error) {
	id, err := getRaw(txn, index)
	if err != nil {
		var zero T

		return zero, err
	}

	return getJSON[T](txn, key(table, string(id)))
}

func setJSON(txn *badger.Txn, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	return txn.Set(k, data)
}

func exists(txn *badger.Txn, k []byte) (bool, error) {
	_, err := txn.Get(k)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

// scan visits the values stored under prefix p in key order, or in reverse
// key order when reverse is set, until fn returns false.
func scan(txn *badger.Txn, p []byte, reverse bool, fn func(val []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = p
	opts.Reverse = reverse
	opts.PrefetchSize = prefetchMax
	it := txn.NewIterator(opts)
	defer it.Close()

	start := p
	if reverse {
		start = append(append([]byte{}, p...), 0xFF)
	}

	for it.Seek(start); it.ValidForPrefix(p); it.Next() {
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		more, err := fn(val)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}

	return nil
}

func count(txn *badger.Txn, p []byte) uint64 {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = p
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var n uint64
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		n++
	}

	return n
}
