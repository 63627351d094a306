package manager

import (
	"context"

	"github.com/absmach/fedcycle/pkg/fl"
)

type Service interface {
	// CreateProcess registers a process, stores its model as checkpoint 1
	// and opens the first cycle.
	CreateProcess(ctx context.Context, def fl.ProcessDefinition) (fl.Process, error)
	// GetProcess resolves the latest version when version is empty.
	GetProcess(ctx context.Context, name, version string) (fl.Process, error)
	ListProcesses(ctx context.Context, offset, limit uint64) (fl.ProcessPage, error)
	GetConfigs(ctx context.Context, name, version string) (fl.ServerConfig, map[string]any, error)
	// GetCheckpoint returns the current checkpoint when number is 0.
	GetCheckpoint(ctx context.Context, name, version string, number uint64) (fl.Checkpoint, error)
	ListCycles(ctx context.Context, name, version string) ([]fl.Cycle, error)

	RegisterWorker(ctx context.Context) (fl.Worker, error)
	RequestCycle(ctx context.Context, workerID, name, version string, bw fl.Bandwidth) (fl.CycleDecision, error)
	ReportDiff(ctx context.Context, workerID, requestKey string, diff []byte) error
	// MaybeCompleteCycle aggregates and closes the cycle when it is ready and
	// reports whether this call completed it.
	MaybeCompleteCycle(ctx context.Context, cycleID string) (bool, error)
	GetLastParticipation(ctx context.Context, workerID, name, version string) (uint64, error)
	ValidateRequestKey(ctx context.Context, workerID, cycleID, requestKey string) (bool, error)
	GetPlan(ctx context.Context, workerID, cycleID, requestKey, plan string) ([]byte, error)
	GetProtocol(ctx context.Context, workerID, cycleID, requestKey, protocol string) ([]byte, error)

	// SweepCycles evaluates every open cycle whose time box has elapsed.
	SweepCycles(ctx context.Context) error
}
