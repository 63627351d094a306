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

type CheckpointRepository struct {
	db *Database
}

func NewCheckpointRepository(db *Database) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

type dbCheckpoint struct {
	ID        string    `db:"id"`
	ProcessID string    `db:"process_id"`
	Number    uint64    `db:"number"`
	Values    []byte    `db:"vals"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *CheckpointRepository) Create(ctx context.Context, c fl.Checkpoint) error {
	query := `INSERT INTO checkpoints (id, process_id, number, vals, created_at) VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.db.ExecContext(ctx, query, c.ID, c.ProcessID, c.Number, c.Values, c.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.ErrEntityExists
		}

		return fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return nil
}

func (r *CheckpointRepository) Get(ctx context.Context, id string) (fl.Checkpoint, error) {
	query := `SELECT id, process_id, number, vals, created_at FROM checkpoints WHERE id = $1`

	return r.getOne(ctx, query, id)
}

func (r *CheckpointRepository) GetByNumber(ctx context.Context, processID string, number uint64) (fl.Checkpoint, error) {
	query := `SELECT id, process_id, number, vals, created_at FROM checkpoints WHERE process_id = $1 AND number = $2`

	return r.getOne(ctx, query, processID, number)
}

func (r *CheckpointRepository) Latest(ctx context.Context, processID string) (fl.Checkpoint, error) {
	query := `SELECT id, process_id, number, vals, created_at FROM checkpoints WHERE process_id = $1 ORDER BY number DESC LIMIT 1`

	return r.getOne(ctx, query, processID)
}

func (r *CheckpointRepository) getOne(ctx context.Context, query string, args ...any) (fl.Checkpoint, error) {
	var row dbCheckpoint
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fl.Checkpoint{}, pkgerrors.ErrNotFound
		}

		return fl.Checkpoint{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return fl.Checkpoint{
		ID:        row.ID,
		ProcessID: row.ProcessID,
		Number:    row.Number,
		Values:    row.Values,
		CreatedAt: row.CreatedAt,
	}, nil
}
