package sqlite

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

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

func NewDatabase(path string) (*Database, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sqlx.Connect("sqlite3", dsn)
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
						id TEXT PRIMARY KEY,
						name TEXT NOT NULL,
						version TEXT NOT NULL,
						model BLOB,
						plans TEXT,
						protocols TEXT,
						averaging_plan BLOB,
						client_config TEXT,
						server_config TEXT NOT NULL,
						checkpoint_id TEXT NOT NULL DEFAULT '',
						created_at TIMESTAMP NOT NULL,
						UNIQUE (name, version)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_processes_name ON processes(name, created_at DESC)`,
					`CREATE TABLE IF NOT EXISTS checkpoints (
						id TEXT PRIMARY KEY,
						process_id TEXT NOT NULL,
						number INTEGER NOT NULL,
						vals BLOB,
						created_at TIMESTAMP NOT NULL,
						UNIQUE (process_id, number),
						FOREIGN KEY (process_id) REFERENCES processes(id) ON DELETE CASCADE
					)`,
					`CREATE TABLE IF NOT EXISTS cycles (
						id TEXT PRIMARY KEY,
						process_id TEXT NOT NULL,
						version TEXT NOT NULL,
						sequence INTEGER NOT NULL,
						start_time TIMESTAMP NOT NULL,
						end_time TIMESTAMP NOT NULL,
						is_completed BOOLEAN NOT NULL DEFAULT 0,
						UNIQUE (process_id, version, sequence),
						FOREIGN KEY (process_id) REFERENCES processes(id) ON DELETE CASCADE
					)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_cycles_open ON cycles(process_id, version) WHERE is_completed = 0`,
					`CREATE TABLE IF NOT EXISTS workers (
						id TEXT PRIMARY KEY,
						ping REAL NOT NULL DEFAULT 0,
						avg_upload REAL NOT NULL DEFAULT 0,
						avg_download REAL NOT NULL DEFAULT 0,
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP
					)`,
					`CREATE TABLE IF NOT EXISTS worker_cycles (
						id TEXT PRIMARY KEY,
						worker_id TEXT NOT NULL,
						cycle_id TEXT NOT NULL,
						request_key TEXT NOT NULL UNIQUE,
						is_completed BOOLEAN NOT NULL DEFAULT 0,
						completed_at TIMESTAMP,
						diff BLOB,
						created_at TIMESTAMP NOT NULL,
						UNIQUE (worker_id, cycle_id),
						FOREIGN KEY (cycle_id) REFERENCES cycles(id) ON DELETE CASCADE
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

	if _, err := migrate.Exec(db.DB.DB, "sqlite3", migrations, migrate.Up); err != nil {
		return fmt.Errorf("%w: %w", ErrMigration, err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
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
