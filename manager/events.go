package manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/fedcycle/pkg/fl"
)

const (
	cycleTopicTemplate = "fl/processes/%s/cycles"

	CycleStarted    = "cycle.started"
	CycleCompleted  = "cycle.completed"
	ProcessFinished = "process.finished"
)

// Event is published on a process's cycle topic whenever the process moves
// through its lifecycle.
type Event struct {
	Operation  string    `json:"operation"`
	ProcessID  string    `json:"process_id"`
	Name       string    `json:"name"`
	Version    string    `json:"version"`
	CycleID    string    `json:"cycle_id,omitempty"`
	Sequence   uint64    `json:"sequence,omitempty"`
	Checkpoint uint64    `json:"checkpoint,omitempty"`
	End        time.Time `json:"end,omitzero"`
	Timestamp  time.Time `json:"timestamp"`
}

func CycleTopic(processID string) string {
	return fmt.Sprintf(cycleTopicTemplate, processID)
}

func (svc *service) publish(ctx context.Context, p fl.Process, e Event) {
	e.ProcessID = p.ID
	e.Name = p.Name
	e.Version = p.Version
	if e.Timestamp.IsZero() {
		e.Timestamp = svc.now()
	}

	if err := svc.pubsub.Publish(ctx, CycleTopic(p.ID), e); err != nil {
		svc.logger.Warn("failed to publish cycle event",
			slog.String("operation", e.Operation),
			slog.String("process_id", p.ID),
			slog.Any("error", err),
		)
	}
}
