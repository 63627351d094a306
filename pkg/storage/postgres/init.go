package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
)

const uniqueViolation = "23505"

var (
	ErrDBConnection = errors.New("database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrDBScan       = errors.New("database scan error")
	ErrCreate       = errors.New("create error")
	ErrUpdate       = errors.New("update error")
	ErrDelete       = errors.New("delete error")
	ErrMigration    = errors.New("database migration error")
)

type Database struct {
	*sqlx.DB
}

func NewDatabase(host, port, user, pass, name, sslMode string) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s", host, port, user, pass, name, sslMode)
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	database := &Database{DB: db}

	if err := database.Migrate(); err != nil {
		return nil, err
	}

	return database, nil
}

func (db *Database) Migrate() error {
	migrations := &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "1_create_fl_tables",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS processes (
						id VARCHAR(36) PRIMARY KEY,
						name VARCHAR(255) NOT NULL,
						version VARCHAR(64) NOT NULL,
						model BYTEA,
						plans JSONB,
						protocols JSONB,
						averaging_plan BYTEA,
						client_config JSONB,
						server_config JSONB NOT NULL,
						checkpoint_id VARCHAR(36) NOT NULL DEFAULT '',
						created_at TIMESTAMPTZ NOT NULL,
						UNIQUE (name, version)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_processes_name ON processes(name, created_at DESC)`,
					`CREATE TABLE IF NOT EXISTS checkpoints (
						id VARCHAR(36) PRIMARY KEY,
						process_id VARCHAR(36) NOT NULL REFERENCES processes(id) ON DELETE CASCADE,
						number BIGINT NOT NULL,
						vals BYTEA,
						created_at TIMESTAMPTZ NOT NULL,
						UNIQUE (process_id, number)
					)`,
					`CREATE TABLE IF NOT EXISTS cycles (
						id VARCHAR(36) PRIMARY KEY,
						process_id VARCHAR(36) NOT NULL REFERENCES processes(id) ON DELETE CASCADE,
						version VARCHAR(64) NOT NULL,
						sequence BIGINT NOT NULL,
						start_time TIMESTAMPTZ NOT NULL,
						end_time TIMESTAMPTZ NOT NULL,
						is_completed BOOLEAN NOT NULL DEFAULT FALSE,
						UNIQUE (process_id, version, sequence)
					)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_cycles_open ON cycles(process_id, version) WHERE is_completed = FALSE`,
					`CREATE TABLE IF NOT EXISTS workers (
						id VARCHAR(255) PRIMARY KEY,
						ping DOUBLE PRECISION NOT NULL DEFAULT 0,
						avg_upload DOUBLE PRECISION NOT NULL DEFAULT 0,
						avg_download DOUBLE PRECISION NOT NULL DEFAULT 0,
						created_at TIMESTAMPTZ NOT NULL,
						updated_at TIMESTAMPTZ
					)`,
					`CREATE TABLE IF NOT EXISTS worker_cycles (
						id VARCHAR(36) PRIMARY KEY,
						worker_id VARCHAR(255) NOT NULL,
						cycle_id VARCHAR(36) NOT NULL REFERENCES cycles(id) ON DELETE CASCADE,
						request_key VARCHAR(64) NOT NULL UNIQUE,
						is_completed BOOLEAN NOT NULL DEFAULT FALSE,
						completed_at TIMESTAMPTZ,
						diff BYTEA,
						created_at TIMESTAMPTZ NOT NULL,
						UNIQUE (worker_id, cycle_id)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_worker_cycles_cycle ON worker_cycles(cycle_id, is_completed)`,
				},
				Down: []string{
					`DROP INDEX IF EXISTS idx_worker_cycles_cycle`,
					`DROP TABLE IF EXISTS worker_cycles`,
					`DROP TABLE IF EXISTS workers`,
					`DROP INDEX IF EXISTS idx_cycles_open`,
					`DROP TABLE IF EXISTS cycles`,
					`DROP TABLE IF EXISTS checkpoints`,
					`DROP INDEX IF EXISTS idx_processes_name`,
					`DROP TABLE IF EXISTS processes`,
				},
			},
		},
	}

	if _, err := migrate.Exec(db.DB.DB, "postgres", migrations, migrate.Up); err != nil {
		return fmt.Errorf("%w: %w", ErrMigration, err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}

	return false
}

func jsonBytes(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}

	return json.Marshal(v)
}

func fromJSON[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrDBScan, err)
	}

	return v, nil
}
