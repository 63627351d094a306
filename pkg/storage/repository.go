package storage

import (
	"context"
	"io"
	"time"

	"github.com/absmach/fedcycle/pkg/fl"
)

type ProcessRepository interface {
	// Create fails with ErrEntityExists when the name and version are taken.
	Create(ctx context.Context, p fl.Process) (fl.Process, error)
	Get(ctx context.Context, id string) (fl.Process, error)
	// GetByName returns the most recently created version when version is empty.
	GetByName(ctx context.Context, name, version string) (fl.Process, error)
	UpdateCheckpoint(ctx context.Context, id, checkpointID string) error
	List(ctx context.Context, offset, limit uint64) ([]fl.Process, uint64, error)
	// Delete removes the process and frees its name and version. Deleting a
	// missing process is not an error.
	Delete(ctx context.Context, id string) error
}

type CheckpointRepository interface {
	Create(ctx context.Context, c fl.Checkpoint) error
	Get(ctx context.Context, id string) (fl.Checkpoint, error)
	GetByNumber(ctx context.Context, processID string, number uint64) (fl.Checkpoint, error)
	Latest(ctx context.Context, processID string) (fl.Checkpoint, error)
}

type CycleRepository interface {
	// Create assigns the next sequence number for the process and version.
	// It fails with ErrEntityExists while another cycle is still open.
	Create(ctx context.Context, c fl.Cycle) (fl.Cycle, error)
	Get(ctx context.Context, id string) (fl.Cycle, error)
	LatestOpen(ctx context.Context, processID, version string) (fl.Cycle, error)
	// Complete flips the cycle to completed and reports whether this call
	// performed the transition.
	Complete(ctx context.Context, id string) (bool, error)
	CountCompleted(ctx context.Context, processID string) (uint64, error)
	List(ctx context.Context, processID string) ([]fl.Cycle, error)
	ListOpen(ctx context.Context) ([]fl.Cycle, error)
}

type WorkerRepository interface {
	// Save inserts the worker or refreshes its measurements.
	Save(ctx context.Context, w fl.Worker) (fl.Worker, error)
	Get(ctx context.Context, id string) (fl.Worker, error)
}

type WorkerCycleRepository interface {
	// Assign fails with ErrEntityExists when the worker already holds an
	// assignment for the cycle.
	Assign(ctx context.Context, wc fl.WorkerCycle) (fl.WorkerCycle, error)
	IsAssigned(ctx context.Context, workerID, cycleID string) (bool, error)
	GetByKey(ctx context.Context, workerID, requestKey string) (fl.WorkerCycle, error)
	// RecordDiff fails with ErrNotFound when no pending assignment matches.
	RecordDiff(ctx context.Context, workerID, requestKey string, diff []byte, at time.Time) (fl.WorkerCycle, error)
	CountCompleted(ctx context.Context, cycleID string) (uint64, error)
	ListCompleted(ctx context.Context, cycleID string) ([]fl.WorkerCycle, error)
	LastParticipation(ctx context.Context, workerID, processID string) (uint64, error)
}

type Repositories struct {
	Processes    ProcessRepository
	Checkpoints  CheckpointRepository
	Cycles       CycleRepository
	Workers      WorkerRepository
	WorkerCycles WorkerCycleRepository
	// Closer closes the underlying persistent storage connection.
	// It is nil for the in-memory backend.
	Closer io.Closer
}
