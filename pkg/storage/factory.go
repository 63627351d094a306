package storage

import (
	"fmt"

	"github.com/absmach/fedcycle/pkg/storage/badger"
	"github.com/absmach/fedcycle/pkg/storage/postgres"
	"github.com/absmach/fedcycle/pkg/storage/sqlite"
)

type Config struct {
	Type string `env:"MANAGER_STORAGE_TYPE" envDefault:"memory"`

	PostgresHost    string `env:"MANAGER_POSTGRES_HOST"    envDefault:"localhost"`
	PostgresPort    string `env:"MANAGER_POSTGRES_PORT"    envDefault:"5432"`
	PostgresUser    string `env:"MANAGER_POSTGRES_USER"    envDefault:"fedcycle"`
	PostgresPass    string `env:"MANAGER_POSTGRES_PASS"    envDefault:"fedcycle"`
	PostgresDB      string `env:"MANAGER_POSTGRES_DB"      envDefault:"fedcycle"`
	PostgresSSLMode string `env:"MANAGER_POSTGRES_SSLMODE" envDefault:"disable"`

	SQLitePath string `env:"MANAGER_SQLITE_PATH" envDefault:"./fedcycle.db"`

	BadgerPath string `env:"MANAGER_BADGER_PATH" envDefault:"./data/badger"`
}

func NewRepositories(cfg Config) (*Repositories, error) {
	switch cfg.Type {
	case "postgres":
		return newPostgresRepositories(cfg)
	case "sqlite":
		return newSQLiteRepositories(cfg)
	case "badger":
		return newBadgerRepositories(cfg)
	case "memory", "":
		return NewMemoryRepositories(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Type)
	}
}

func newPostgresRepositories(cfg Config) (*Repositories, error) {
	db, err := postgres.NewDatabase(
		cfg.PostgresHost,
		cfg.PostgresPort,
		cfg.PostgresUser,
		cfg.PostgresPass,
		cfg.PostgresDB,
		cfg.PostgresSSLMode,
	)
	if err != nil {
		return nil, err
	}

	return &Repositories{
		Processes:    postgres.NewProcessRepository(db),
		Checkpoints:  postgres.NewCheckpointRepository(db),
		Cycles:       postgres.NewCycleRepository(db),
		Workers:      postgres.NewWorkerRepository(db),
		WorkerCycles: postgres.NewWorkerCycleRepository(db),
		Closer:       db,
	}, nil
}

func newSQLiteRepositories(cfg Config) (*Repositories, error) {
	db, err := sqlite.NewDatabase(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	return &Repositories{
		Processes:    sqlite.NewProcessRepository(db),
		Checkpoints:  sqlite.NewCheckpointRepository(db),
		Cycles:       sqlite.NewCycleRepository(db),
		Workers:      sqlite.NewWorkerRepository(db),
		WorkerCycles: sqlite.NewWorkerCycleRepository(db),
		Closer:       db,
	}, nil
}

func newBadgerRepositories(cfg Config) (*Repositories, error) {
	db, err := badger.NewDatabase(cfg.BadgerPath)
	if err != nil {
		return nil, err
	}

	return &Repositories{
		Processes:    badger.NewProcessRepository(db),
		Checkpoints:  badger.NewCheckpointRepository(db),
		Cycles:       badger.NewCycleRepository(db),
		Workers:      badger.NewWorkerRepository(db),
		WorkerCycles: badger.NewWorkerCycleRepository(db),
		Closer:       db,
	}, nil
}

// NewMemoryRepositories returns repositories that keep all state in process
// memory.
func NewMemoryRepositories() *Repositories {
	cycles := newMemoryCycleRepository()

	return &Repositories{
		Processes:    newMemoryProcessRepository(),
		Checkpoints:  newMemoryCheckpointRepository(),
		Cycles:       cycles,
		Workers:      newMemoryWorkerRepository(),
		WorkerCycles: newMemoryWorkerCycleRepository(cycles),
	}
}
