package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/absmach/fedcycle/pkg/errors"
	"github.com/absmach/fedcycle/pkg/fl"
)

const cycleColumns = `id, process_id, version, sequence, start_time, end_time, is_completed`

type CycleRepository struct {
	db *Database
}

func NewCycleRepository(db *Database) *CycleRepository {
	return &CycleRepository{db: db}
}

type dbCycle struct {
	ID        string    `db:"id"`
	ProcessID string    `db:"process_id"`
	Version   string    `db:"version"`
	Sequence  uint64    `db:"sequence"`
	Start     time.Time `db:"start_time"`
	End       time.Time `db:"end_time"`
	Completed bool      `db:"is_completed"`
}

func (r *CycleRepository) Create(ctx context.Context, c fl.Cycle) (fl.Cycle, error) {
	query := `INSERT INTO cycles (` + cycleColumns + `)
		SELECT ?, ?, ?, COUNT(*) + 1, ?, ?, 0 FROM cycles WHERE process_id = ? AND version = ?`

	if _, err := r.db.ExecContext(ctx, query, c.ID, c.ProcessID, c.Version, c.Start, c.End, c.ProcessID, c.Version); err != nil {
		if isUniqueViolation(err) {
			return fl.Cycle{}, pkgerrors.ErrEntityExists
		}

		return fl.Cycle{}, fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return r.Get(ctx, c.ID)
}

func (r *CycleRepository) Get(ctx context.Context, id string) (fl.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles WHERE id = ?`

	var row dbCycle
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fl.Cycle{}, pkgerrors.ErrNotFound
		}

		return fl.Cycle{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return toCycle(row), nil
}

func (r *CycleRepository) LatestOpen(ctx context.Context, processID, version string) (fl.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles
		WHERE process_id = ? AND version = ? AND is_completed = 0
		ORDER BY sequence DESC LIMIT 1`

	var row dbCycle
	if err := r.db.GetContext(ctx, &row, query, processID, version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fl.Cycle{}, pkgerrors.ErrNotFound
		}

		return fl.Cycle{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return toCycle(row), nil
}

func (r *CycleRepository) Complete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE cycles SET is_completed = 1 WHERE id = ? AND is_completed = 0`, id)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrUpdate, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrUpdate, err)
	}
	if n == 1 {
		return true, nil
	}

	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}

	return false, nil
}

func (r *CycleRepository) CountCompleted(ctx context.Context, processID string) (uint64, error) {
	var count uint64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM cycles WHERE process_id = ? AND is_completed = 1`, processID); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return count, nil
}

func (r *CycleRepository) List(ctx context.Context, processID string) ([]fl.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles WHERE process_id = ? ORDER BY sequence`

	return r.list(ctx, query, processID)
}

func (r *CycleRepository) ListOpen(ctx context.Context) ([]fl.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles WHERE is_completed = 0 ORDER BY end_time`

	return r.list(ctx, query)
}

func (r *CycleRepository) list(ctx context.Context, query string, args ...any) ([]fl.Cycle, error) {
	var rows []dbCycle
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	cycles := make([]fl.Cycle, 0, len(rows))
	for _, row := range rows {
		cycles = append(cycles, toCycle(row))
	}

	return cycles, nil
}

func toCycle(row dbCycle) fl.Cycle {
	return fl.Cycle{
		ID:        row.ID,
		ProcessID: row.ProcessID,
		Version:   row.Version,
		Sequence:  row.Sequence,
		Start:     row.Start,
		End:       row.End,
		Completed: row.Completed,
	}
}
