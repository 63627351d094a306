package badger

import (
	"cmp"
	"context"
	"slices"

	pkgerrors "github.com/absmach/fedcycle/pkg/errors"
	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/dgraph-io/badger/v4"
)

const (
	cycleTable    = "cycle"
	cycleSeqIndex = "cycle_seq"
	// cycleOpenIndex holds at most one entry per process and version.
	cycleOpenIndex = "cycle_open"
)

type CycleRepository struct {
	db *Database
}

func NewCycleRepository(db *Database) *CycleRepository {
	return &CycleRepository{db: db}
}

func (r *CycleRepository) Create(ctx context.Context, c fl.Cycle) (fl.Cycle, error) {
	err := r.db.update(func(txn *badger.Txn) error {
		open := key(cycleOpenIndex, c.ProcessID, c.Version)
		taken, err := exists(txn, open)
		if err != nil {
			return err
		}
		if taken {
			return pkgerrors.ErrEntityExists
		}

		c.Sequence = count(txn, prefix(cycleSeqIndex, c.ProcessID, c.Version)) + 1
		c.Completed = false

		if err := setJSON(txn, key(cycleTable, c.ID), c); err != nil {
			return err
		}
		id := []byte(c.ID)
		if err := txn.Set(key(cycleSeqIndex, c.ProcessID, c.Version, numKey(c.Sequence)), id); err != nil {
			return err
		}

		return txn.Set(open, id)
	})
	if err != nil {
		return fl.Cycle{}, err
	}

	return c, nil
}

func (r *CycleRepository) Get(ctx context.Context, id string) (fl.Cycle, error) {
	var c fl.Cycle
	err := r.db.view(func(txn *badger.Txn) error {
		var err error
		c, err = getJSON[fl.Cycle](txn, key(cycleTable, id))

		return err
	})

	return c, err
}

func (r *CycleRepository) LatestOpen(ctx context.Context, processID, version string) (fl.Cycle, error) {
	var c fl.Cycle
	err := r.db.view(func(txn *badger.Txn) error {
		var err error
		c, err = getRef[fl.Cycle](txn, key(cycleOpenIndex, processID, version), cycleTable)

		return err
	})

	return c, err
}

func (r *CycleRepository) Complete(ctx context.Context, id string) (bool, error) {
	var flipped bool
	err := r.db.update(func(txn *badger.Txn) error {
		flipped = false
		c, err := getJSON[fl.Cycle](txn, key(cycleTable, id))
		if err != nil {
			return err
		}
		if c.Completed {
			return nil
		}
		c.Completed = true
		if err := setJSON(txn, key(cycleTable, id), c); err != nil {
			return err
		}
		if err := txn.Delete(key(cycleOpenIndex, c.ProcessID, c.Version)); err != nil {
			return err
		}
		flipped = true

		return nil
	})
	if err != nil {
		return false, err
	}

	return flipped, nil
}

func (r *CycleRepository) CountCompleted(ctx context.Context, processID string) (uint64, error) {
	cycles, err := r.List(ctx, processID)
	if err != nil {
		return 0, err
	}

	var n uint64
	for _, c := range cycles {
		if c.Completed {
			n++
		}
	}

	return n, nil
}

func (r *CycleRepository) List(ctx context.Context, processID string) ([]fl.Cycle, error) {
	cycles := []fl.Cycle{}
	err := r.db.view(func(txn *badger.Txn) error {
		return scan(txn, prefix(cycleSeqIndex, processID), false, func(val []byte) (bool, error) {
			c, err := getJSON[fl.Cycle](txn, key(cycleTable, string(val)))
			if err != nil {
				return false, err
			}
			cycles = append(cycles, c)

			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(cycles, func(a, b fl.Cycle) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})

	return cycles, nil
}

func (r *CycleRepository) ListOpen(ctx context.Context) ([]fl.Cycle, error) {
	cycles := []fl.Cycle{}
	err := r.db.view(func(txn *badger.Txn) error {
		return scan(txn, prefix(cycleOpenIndex), false, func(val []byte) (bool, error) {
			c, err := getJSON[fl.Cycle](txn, key(cycleTable, string(val)))
			if err != nil {
				return false, err
			}
			cycles = append(cycles, c)

			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(cycles, func(a, b fl.Cycle) int {
		return a.End.Compare(b.End)
	})

	return cycles, nil
}
