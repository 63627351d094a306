package badger

import (
	"context"
	"errors"

	pkgerrors "github.com/absmach/fedcycle/pkg/errors"
	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/dgraph-io/badger/v4"
)

const workerTable = "worker"

type WorkerRepository struct {
	db *Database
}

func NewWorkerRepository(db *Database) *WorkerRepository {
	return &WorkerRepository{db: db}
}

func (r *WorkerRepository) Save(ctx context.Context, w fl.Worker) (fl.Worker, error) {
	var saved fl.Worker
	err := r.db.update(func(txn *badger.Txn) error {
		existing, err := getJSON[fl.Worker](txn, key(workerTable, w.ID))
		switch {
		case errors.Is(err, pkgerrors.ErrNotFound):
			saved = w
		case err != nil:
			return err
		default:
			existing.Ping = w.Ping
			existing.AvgUpload = w.AvgUpload
			existing.AvgDownload = w.AvgDownload
			existing.UpdatedAt = w.UpdatedAt
			saved = existing
		}

		return setJSON(txn, key(workerTable, w.ID), saved)
	})
	if err != nil {
		return fl.Worker{}, err
	}

	return saved, nil
}

func (r *WorkerRepository) Get(ctx context.Context, id string) (fl.Worker, error) {
	var w fl.Worker
	err := r.db.view(func(txn *badger.Txn) error {
		var err error
		w, err = getJSON[fl.Worker](txn, key(workerTable, id))

		return err
	})

	return w, err
}
