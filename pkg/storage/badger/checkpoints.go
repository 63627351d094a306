package badger

import (
	"context"

	pkgerrors "github.com/absmach/fedcycle/pkg/errors"
	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/dgraph-io/badger/v4"
)

const (
	checkpointTable       = "checkpoint"
	checkpointNumberIndex = "checkpoint_number"
)

type CheckpointRepository struct {
	db *Database
}

func NewCheckpointRepository(db *Database) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

func (r *CheckpointRepository) Create(ctx context.Context, c fl.Checkpoint) error {
	return r.db.update(func(txn *badger.Txn) error {
		idx := key(checkpointNumberIndex, c.ProcessID, numKey(c.Number))
		taken, err := exists(txn, idx)
		if err != nil {
			return err
		}
		if taken {
			return pkgerrors.ErrEntityExists
		}
		if err := setJSON(txn, key(checkpointTable, c.ID), c); err != nil {
			return err
		}

		return txn.Set(idx, []byte(c.ID))
	})
}

func (r *CheckpointRepository) Get(ctx context.Context, id string) (fl.Checkpoint, error) {
	var c fl.Checkpoint
	err := r.db.view(func(txn *badger.Txn) error {
		var err error
		c, err = getJSON[fl.Checkpoint](txn, key(checkpointTable, id))

		return err
	})

	return c, err
}

func (r *CheckpointRepository) GetByNumber(ctx context.Context, processID string, number uint64) (fl.Checkpoint, error) {
	var c fl.Checkpoint
	err := r.db.view(func(txn *badger.Txn) error {
		var err error
		c, err = getRef[fl.Checkpoint](txn, key(checkpointNumberIndex, processID, numKey(number)), checkpointTable)

		return err
	})

	return c, err
}

func (r *CheckpointRepository) Latest(ctx context.Context, processID string) (fl.Checkpoint, error) {
	var c fl.Checkpoint
	err := r.db.view(func(txn *badger.Txn) error {
		var id string
		if err := scan(txn, prefix(checkpointNumberIndex, processID), true, func(val []byte) (bool, error) {
			id = string(val)

			return false, nil
		}); err != nil {
			return err
		}
		if id == "" {
			return pkgerrors.ErrNotFound
		}

		var err error
		c, err = getJSON[fl.Checkpoint](txn, key(checkpointTable, id))

		return err
	})

	return c, err
}
