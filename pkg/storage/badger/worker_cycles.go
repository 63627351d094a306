package badger

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	pkgerrors "github.com/absmach/fedcycle/pkg/errors"
	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/dgraph-io/badger/v4"
)

const (
	workerCycleTable = "worker_cycle"
	wcPairIndex      = "worker_cycle_pair"
	wcKeyIndex       = "worker_cycle_key"
	wcCycleIndex     = "worker_cycle_cycle"
	wcWorkerIndex    = "worker_cycle_worker"
)

type WorkerCycleRepository struct {
	db *Database
}

func NewWorkerCycleRepository(db *Database) *WorkerCycleRepository {
	return &WorkerCycleRepository{db: db}
}

func (r *WorkerCycleRepository) Assign(ctx context.Context, wc fl.WorkerCycle) (fl.WorkerCycle, error) {
	wc.Completed = false
	err := r.db.update(func(txn *badger.Txn) error {
		for _, k := range [][]byte{key(wcPairIndex, wc.WorkerID, wc.CycleID), key(wcKeyIndex, wc.RequestKey)} {
			taken, err := exists(txn, k)
			if err != nil {
				return err
			}
			if taken {
				return pkgerrors.ErrEntityExists
			}
		}

		if err := setJSON(txn, key(workerCycleTable, wc.ID), wc); err != nil {
			return err
		}
		id := []byte(wc.ID)
		indexes := [][]byte{
			key(wcPairIndex, wc.WorkerID, wc.CycleID),
			key(wcKeyIndex, wc.RequestKey),
			key(wcCycleIndex, wc.CycleID, wc.ID),
			key(wcWorkerIndex, wc.WorkerID, wc.ID),
		}
		for _, k := range indexes {
			if err := txn.Set(k, id); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fl.WorkerCycle{}, err
	}

	return wc, nil
}

func (r *WorkerCycleRepository) IsAssigned(ctx context.Context, workerID, cycleID string) (bool, error) {
	var assigned bool
	err := r.db.view(func(txn *badger.Txn) error {
		var err error
		assigned, err = exists(txn, key(wcPairIndex, workerID, cycleID))

		return err
	})

	return assigned, err
}

func (r *WorkerCycleRepository) GetByKey(ctx context.Context, workerID, requestKey string) (fl.WorkerCycle, error) {
	var wc fl.WorkerCycle
	err := r.db.view(func(txn *badger.Txn) error {
		var err error
		wc, err = byKey(txn, workerID, requestKey)

		return err
	})

	return wc, err
}

func (r *WorkerCycleRepository) RecordDiff(ctx context.Context, workerID, requestKey string, diff []byte, at time.Time) (fl.WorkerCycle, error) {
	var wc fl.WorkerCycle
	err := r.db.update(func(txn *badger.Txn) error {
		var err error
		wc, err = byKey(txn, workerID, requestKey)
		if err != nil {
			return err
		}
		if wc.Completed {
			return pkgerrors.ErrNotFound
		}
		wc.Completed = true
		wc.CompletedAt = at
		wc.Diff = diff

		return setJSON(txn, key(workerCycleTable, wc.ID), wc)
	})
	if err != nil {
		return fl.WorkerCycle{}, err
	}

	return wc, nil
}

func (r *WorkerCycleRepository) CountCompleted(ctx context.Context, cycleID string) (uint64, error) {
	completed, err := r.ListCompleted(ctx, cycleID)
	if err != nil {
		return 0, err
	}

	return uint64(len(completed)), nil
}

func (r *WorkerCycleRepository) ListCompleted(ctx context.Context, cycleID string) ([]fl.WorkerCycle, error) {
	completed := []fl.WorkerCycle{}
	err := r.db.view(func(txn *badger.Txn) error {
		return scan(txn, prefix(wcCycleIndex, cycleID), false, func(val []byte) (bool, error) {
			wc, err := getJSON[fl.WorkerCycle](txn, key(workerCycleTable, string(val)))
			if err != nil {
				return false, err
			}
			if wc.Completed {
				completed = append(completed, wc)
			}

			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(completed, func(a, b fl.WorkerCycle) int {
		if c := a.CompletedAt.Compare(b.CompletedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return completed, nil
}

func (r *WorkerCycleRepository) LastParticipation(ctx context.Context, workerID, processID string) (uint64, error) {
	var last uint64
	err := r.db.view(func(txn *badger.Txn) error {
		return scan(txn, prefix(wcWorkerIndex, workerID), false, func(val []byte) (bool, error) {
			wc, err := getJSON[fl.WorkerCycle](txn, key(workerCycleTable, string(val)))
			if err != nil {
				return false, err
			}
			c, err := getJSON[fl.Cycle](txn, key(cycleTable, wc.CycleID))
			switch {
			case errors.Is(err, pkgerrors.ErrNotFound):
				return true, nil
			case err != nil:
				return false, err
			}
			if c.ProcessID == processID && c.Sequence > last {
				last = c.Sequence
			}

			return true, nil
		})
	})
	if err != nil {
		return 0, err
	}

	return last, nil
}

func byKey(txn *badger.Txn, workerID, requestKey string) (fl.WorkerCycle, error) {
	wc, err := getRef[fl.WorkerCycle](txn, key(wcKeyIndex, requestKey), workerCycleTable)
	if err != nil {
		return fl.WorkerCycle{}, err
	}
	if wc.WorkerID != workerID {
		return fl.WorkerCycle{}, pkgerrors.ErrNotFound
	}

	return wc, nil
}
