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

const processColumns = `id, name, version, model, plans, protocols, averaging_plan, client_config, server_config, checkpoint_id, created_at`

type ProcessRepository struct {
	db *Database
}

func NewProcessRepository(db *Database) *ProcessRepository {
	return &ProcessRepository{db: db}
}

type dbProcess struct {
	ID            string    `db:"id"`
	Name          string    `db:"name"`
	Version       string    `db:"version"`
	Model         []byte    `db:"model"`
	Plans         []byte    `db:"plans"`
	Protocols     []byte    `db:"protocols"`
	AveragingPlan []byte    `db:"averaging_plan"`
	ClientConfig  []byte    `db:"client_config"`
	ServerConfig  []byte    `db:"server_config"`
	CheckpointID  string    `db:"checkpoint_id"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r *ProcessRepository) Create(ctx context.Context, p fl.Process) (fl.Process, error) {
	dbp, err := toDBProcess(p)
	if err != nil {
		return fl.Process{}, err
	}

	query := `INSERT INTO processes (` + processColumns + `)
		VALUES (:id, :name, :version, :model, :plans, :protocols, :averaging_plan, :client_config, :server_config, :checkpoint_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, dbp); err != nil {
		if isUniqueViolation(err) {
			return fl.Process{}, pkgerrors.ErrEntityExists
		}

		return fl.Process{}, fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return p, nil
}

func (r *ProcessRepository) Get(ctx context.Context, id string) (fl.Process, error) {
	query := `SELECT ` + processColumns + ` FROM processes WHERE id = $1`

	return r.getOne(ctx, query, id)
}

func (r *ProcessRepository) GetByName(ctx context.Context, name, version string) (fl.Process, error) {
	if version == "" {
		query := `SELECT ` + processColumns + ` FROM processes WHERE name = $1 ORDER BY created_at DESC, id DESC LIMIT 1`

		return r.getOne(ctx, query, name)
	}

	query := `SELECT ` + processColumns + ` FROM processes WHERE name = $1 AND version = $2`

	return r.getOne(ctx, query, name, version)
}

func (r *ProcessRepository) UpdateCheckpoint(ctx context.Context, id, checkpointID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE processes SET checkpoint_id = $1 WHERE id = $2`, checkpointID, id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpdate, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpdate, err)
	}
	if n == 0 {
		return pkgerrors.ErrNotFound
	}

	return nil
}

func (r *ProcessRepository) List(ctx context.Context, offset, limit uint64) ([]fl.Process, uint64, error) {
	var total uint64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM processes`); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	query := `SELECT ` + processColumns + ` FROM processes ORDER BY created_at, id LIMIT $1 OFFSET $2`

	var rows []dbProcess
	if err := r.db.SelectContext(ctx, &rows, query, limitArg(limit), offset); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	processes := make([]fl.Process, 0, len(rows))
	for _, row := range rows {
		p, err := toProcess(row)
		if err != nil {
			return nil, 0, err
		}
		processes = append(processes, p)
	}

	return processes, total, nil
}

func (r *ProcessRepository) getOne(ctx context.Context, query string, args ...any) (fl.Process, error) {
	var row dbProcess
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fl.Process{}, pkgerrors.ErrNotFound
		}

		return fl.Process{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return toProcess(row)
}

func toDBProcess(p fl.Process) (dbProcess, error) {
	plans, err := jsonBytes(p.Plans)
	if err != nil {
		return dbProcess{}, fmt.Errorf("marshal error: %w", err)
	}
	protocols, err := jsonBytes(p.Protocols)
	if err != nil {
		return dbProcess{}, fmt.Errorf("marshal error: %w", err)
	}
	clientConfig, err := jsonBytes(p.ClientConfig)
	if err != nil {
		return dbProcess{}, fmt.Errorf("marshal error: %w", err)
	}
	serverConfig, err := jsonBytes(p.ServerConfig)
	if err != nil {
		return dbProcess{}, fmt.Errorf("marshal error: %w", err)
	}

	return dbProcess{
		ID:            p.ID,
		Name:          p.Name,
		Version:       p.Version,
		Model:         p.Model,
		Plans:         plans,
		Protocols:     protocols,
		AveragingPlan: p.AveragingPlan,
		ClientConfig:  clientConfig,
		ServerConfig:  serverConfig,
		CheckpointID:  p.CheckpointID,
		CreatedAt:     p.CreatedAt,
	}, nil
}

func toProcess(row dbProcess) (fl.Process, error) {
	plans, err := fromJSON[map[string][]byte](row.Plans)
	if err != nil {
		return fl.Process{}, err
	}
	protocols, err := fromJSON[map[string][]byte](row.Protocols)
	if err != nil {
		return fl.Process{}, err
	}
	clientConfig, err := fromJSON[map[string]any](row.ClientConfig)
	if err != nil {
		return fl.Process{}, err
	}
	serverConfig, err := fromJSON[fl.ServerConfig](row.ServerConfig)
	if err != nil {
		return fl.Process{}, err
	}

	return fl.Process{
		ID:            row.ID,
		Name:          row.Name,
		Version:       row.Version,
		Model:         row.Model,
		Plans:         plans,
		Protocols:     protocols,
		AveragingPlan: row.AveragingPlan,
		ClientConfig:  clientConfig,
		ServerConfig:  serverConfig,
		CheckpointID:  row.CheckpointID,
		CreatedAt:     row.CreatedAt,
	}, nil
}

// limitArg maps an unbounded page size to LIMIT NULL.
func limitArg(limit uint64) any {
	if limit > 1<<62 {
		return nil
	}

	return int64(limit)
}

func (r *ProcessRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM processes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}

	return nil
}
