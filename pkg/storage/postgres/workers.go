package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/absmach/fedcycle/pkg/errors"
	"github.com/absmach/fedcycle/pkg/fl"
)

type WorkerRepository struct {
	db *Database
}

func NewWorkerRepository(db *Database) *WorkerRepository {
	return &WorkerRepository{db: db}
}

type dbWorker struct {
	ID          string       `db:"id"`
	Ping        float64      `db:"ping"`
	AvgUpload   float64      `db:"avg_upload"`
	AvgDownload float64      `db:"avg_download"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   sql.NullTime `db:"updated_at"`
}

func (r *WorkerRepository) Save(ctx context.Context, w fl.Worker) (fl.Worker, error) {
	query := `INSERT INTO workers (id, ping, avg_upload, avg_download, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			ping = excluded.ping,
			avg_upload = excluded.avg_upload,
			avg_download = excluded.avg_download,
			updated_at = excluded.updated_at`

	if _, err := r.db.ExecContext(ctx, query, w.ID, w.Ping, w.AvgUpload, w.AvgDownload, w.CreatedAt, nullTime(w.UpdatedAt)); err != nil {
		return fl.Worker{}, fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return r.Get(ctx, w.ID)
}

func (r *WorkerRepository) Get(ctx context.Context, id string) (fl.Worker, error) {
	query := `SELECT id, ping, avg_upload, avg_download, created_at, updated_at FROM workers WHERE id = $1`

	var row dbWorker
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fl.Worker{}, pkgerrors.ErrNotFound
		}

		return fl.Worker{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return fl.Worker{
		ID:          row.ID,
		Ping:        row.Ping,
		AvgUpload:   row.AvgUpload,
		AvgDownload: row.AvgDownload,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt.Time,
	}, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
