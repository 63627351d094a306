package badger

import (
	"context"
	"errors"

	pkgerrors "github.com/absmach/fedcycle/pkg/errors"
	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/dgraph-io/badger/v4"
)

const (
	processTable        = "process"
	processVersionIndex = "process_version"
	processNameIndex    = "process_name"
	processCreatedIndex = "process_created"
)

type ProcessRepository struct {
	db *Database
}

func NewProcessRepository(db *Database) *ProcessRepository {
	return &ProcessRepository{db: db}
}

func (r *ProcessRepository) Create(ctx context.Context, p fl.Process) (fl.Process, error) {
	err := r.db.update(func(txn *badger.Txn) error {
		taken, err := exists(txn, key(processVersionIndex, p.Name, p.Version))
		if err != nil {
			return err
		}
		if taken {
			return pkgerrors.ErrEntityExists
		}
		if err := setJSON(txn, key(processTable, p.ID), p); err != nil {
			return err
		}
		id := []byte(p.ID)
		if err := txn.Set(key(processVersionIndex, p.Name, p.Version), id); err != nil {
			return err
		}
		if err := txn.Set(key(processNameIndex, p.Name, timeKey(p.CreatedAt), p.ID), id); err != nil {
			return err
		}

		return txn.Set(key(processCreatedIndex, timeKey(p.CreatedAt), p.ID), id)
	})
	if err != nil {
		return fl.Process{}, err
	}

	return p, nil
}

func (r *ProcessRepository) Get(ctx context.Context, id string) (fl.Process, error) {
	var p fl.Process
	err := r.db.view(func(txn *badger.Txn) error {
		var err error
		p, err = getJSON[fl.Process](txn, key(processTable, id))

		return err
	})

	return p, err
}

func (r *ProcessRepository) GetByName(ctx context.Context, name, version string) (fl.Process, error) {
	var p fl.Process
	err := r.db.view(func(txn *badger.Txn) error {
		if version != "" {
			var err error
			p, err = getRef[fl.Process](txn, key(processVersionIndex, name, version), processTable)

			return err
		}

		var latest string
		if err := scan(txn, prefix(processNameIndex, name), true, func(val []byte) (bool, error) {
			latest = string(val)

			return false, nil
		}); err != nil {
			return err
		}
		if latest == "" {
			return pkgerrors.ErrNotFound
		}

		var err error
		p, err = getJSON[fl.Process](txn, key(processTable, latest))

		return err
	})

	return p, err
}

func (r *ProcessRepository) UpdateCheckpoint(ctx context.Context, id, checkpointID string) error {
	return r.db.update(func(txn *badger.Txn) error {
		p, err := getJSON[fl.Process](txn, key(processTable, id))
		if err != nil {
			return err
		}
		p.CheckpointID = checkpointID

		return setJSON(txn, key(processTable, id), p)
	})
}

func (r *ProcessRepository) List(ctx context.Context, offset, limit uint64) ([]fl.Process, uint64, error) {
	var (
		processes = []fl.Process{}
		total     uint64
	)
	err := r.db.view(func(txn *badger.Txn) error {
		p := prefix(processCreatedIndex)
		total = count(txn, p)

		var skipped uint64
		return scan(txn, p, false, func(val []byte) (bool, error) {
			if skipped < offset {
				skipped++

				return true, nil
			}
			if uint64(len(processes)) >= limit {
				return false, nil
			}
			proc, err := getJSON[fl.Process](txn, key(processTable, string(val)))
			if err != nil {
				return false, err
			}
			processes = append(processes, proc)

			return true, nil
		})
	})
	if err != nil {
		return nil, 0, err
	}

	return processes, total, nil
}

func (r *ProcessRepository) Delete(ctx context.Context, id string) error {
	return r.db.update(func(txn *badger.Txn) error {
		p, err := getJSON[fl.Process](txn, key(processTable, id))
		switch {
		case errors.Is(err, pkgerrors.ErrNotFound):
			return nil
		case err != nil:
			return err
		}

		for _, k := range [][]byte{
			key(processTable, p.ID),
			key(processVersionIndex, p.Name, p.Version),
			key(processNameIndex, p.Name, timeKey(p.CreatedAt), p.ID),
			key(processCreatedIndex, timeKey(p.CreatedAt), p.ID),
		} {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}

		return nil
	})
}
