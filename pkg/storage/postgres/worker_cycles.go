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

const workerCycleColumns = `id, worker_id, cycle_id, request_key, is_completed, completed_at, diff, created_at`

type WorkerCycleRepository struct {
	db *Database
}

func NewWorkerCycleRepository(db *Database) *WorkerCycleRepository {
	return &WorkerCycleRepository{db: db}
}

type dbWorkerCycle struct {
	ID          string       `db:"id"`
	WorkerID    string       `db:"worker_id"`
	CycleID     string       `db:"cycle_id"`
	RequestKey  string       `db:"request_key"`
	Completed   bool         `db:"is_completed"`
	CompletedAt sql.NullTime `db:"completed_at"`
	Diff        []byte       `db:"diff"`
	CreatedAt   time.Time    `db:"created_at"`
}

func (r *WorkerCycleRepository) Assign(ctx context.Context, wc fl.WorkerCycle) (fl.WorkerCycle, error) {
	query := `INSERT INTO worker_cycles (id, worker_id, cycle_id, request_key, is_completed, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)`

	if _, err := r.db.ExecContext(ctx, query, wc.ID, wc.WorkerID, wc.CycleID, wc.RequestKey, wc.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return fl.WorkerCycle{}, pkgerrors.ErrEntityExists
		}

		return fl.WorkerCycle{}, fmt.Errorf("%w: %w", ErrCreate, err)
	}
	wc.Completed = false

	return wc, nil
}

func (r *WorkerCycleRepository) IsAssigned(ctx context.Context, workerID, cycleID string) (bool, error) {
	var count uint64
	query := `SELECT COUNT(*) FROM worker_cycles WHERE worker_id = $1 AND cycle_id = $2`
	if err := r.db.GetContext(ctx, &count, query, workerID, cycleID); err != nil {
		return false, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return count > 0, nil
}

func (r *WorkerCycleRepository) GetByKey(ctx context.Context, workerID, requestKey string) (fl.WorkerCycle, error) {
	query := `SELECT ` + workerCycleColumns + ` FROM worker_cycles WHERE worker_id = $1 AND request_key = $2`

	var row dbWorkerCycle
	if err := r.db.GetContext(ctx, &row, query, workerID, requestKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fl.WorkerCycle{}, pkgerrors.ErrNotFound
		}

		return fl.WorkerCycle{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return toWorkerCycle(row), nil
}

func (r *WorkerCycleRepository) RecordDiff(ctx context.Context, workerID, requestKey string, diff []byte, at time.Time) (fl.WorkerCycle, error) {
	query := `UPDATE worker_cycles SET is_completed = TRUE, completed_at = $1, diff = $2
		WHERE worker_id = $3 AND request_key = $4 AND is_completed = FALSE`

	res, err := r.db.ExecContext(ctx, query, at, diff, workerID, requestKey)
	if err != nil {
		return fl.WorkerCycle{}, fmt.Errorf("%w: %w", ErrUpdate, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fl.WorkerCycle{}, fmt.Errorf("%w: %w", ErrUpdate, err)
	}
	if n == 0 {
		return fl.WorkerCycle{}, pkgerrors.ErrNotFound
	}

	return r.GetByKey(ctx, workerID, requestKey)
}

func (r *WorkerCycleRepository) CountCompleted(ctx context.Context, cycleID string) (uint64, error) {
	var count uint64
	query := `SELECT COUNT(*) FROM worker_cycles WHERE cycle_id = $1 AND is_completed = TRUE`
	if err := r.db.GetContext(ctx, &count, query, cycleID); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return count, nil
}

func (r *WorkerCycleRepository) ListCompleted(ctx context.Context, cycleID string) ([]fl.WorkerCycle, error) {
	query := `SELECT ` + workerCycleColumns + ` FROM worker_cycles
		WHERE cycle_id = $1 AND is_completed = TRUE ORDER BY completed_at, id`

	var rows []dbWorkerCycle
	if err := r.db.SelectContext(ctx, &rows, query, cycleID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	wcs := make([]fl.WorkerCycle, 0, len(rows))
	for _, row := range rows {
		wcs = append(wcs, toWorkerCycle(row))
	}

	return wcs, nil
}

func (r *WorkerCycleRepository) LastParticipation(ctx context.Context, workerID, processID string) (uint64, error) {
	query := `SELECT COALESCE(MAX(c.sequence), 0) FROM worker_cycles wc
		JOIN cycles c ON c.id = wc.cycle_id
		WHERE wc.worker_id = $1 AND c.process_id = $2`

	var last uint64
	if err := r.db.GetContext(ctx, &last, query, workerID, processID); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return last, nil
}

func toWorkerCycle(row dbWorkerCycle) fl.WorkerCycle {
	return fl.WorkerCycle{
		ID:          row.ID,
		WorkerID:    row.WorkerID,
		CycleID:     row.CycleID,
		RequestKey:  row.RequestKey,
		Completed:   row.Completed,
		CompletedAt: row.CompletedAt.Time,
		Diff:        row.Diff,
		CreatedAt:   row.CreatedAt,
	}
}
