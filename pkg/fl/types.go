package fl

import "time"

const DefaultVersion = "1.0.0"

// Process is a registered federated-learning task. It is immutable after
// creation except for CheckpointID, which follows the latest aggregation.
type Process struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Version       string            `json:"version"`
	Model         []byte            `json:"model,omitempty"`
	Plans         map[string][]byte `json:"plans,omitempty"`
	Protocols     map[string][]byte `json:"protocols,omitempty"`
	AveragingPlan []byte            `json:"averaging_plan,omitempty"`
	ClientConfig  map[string]any    `json:"client_config,omitempty"`
	ServerConfig  ServerConfig      `json:"server_config"`
	CheckpointID  string            `json:"checkpoint_id"`
	CreatedAt     time.Time         `json:"created_at"`
}

// ProcessDefinition is what a caller supplies to host a new process. Model
// holds the initial parameters and becomes checkpoint number 1.
type ProcessDefinition struct {
	Name          string            `json:"name,omitempty"`
	Version       string            `json:"version,omitempty"`
	Model         []byte            `json:"model"`
	Plans         map[string][]byte `json:"plans,omitempty"`
	Protocols     map[string][]byte `json:"protocols,omitempty"`
	AveragingPlan []byte            `json:"averaging_plan,omitempty"`
	ClientConfig  map[string]any    `json:"client_config,omitempty"`
	ServerConfig  map[string]any    `json:"server_config"`
}

type ProcessPage struct {
	Offset    uint64    `json:"offset"`
	Limit     uint64    `json:"limit"`
	Total     uint64    `json:"total"`
	Processes []Process `json:"processes"`
}

// Checkpoint is one version of a process's model parameters.
type Checkpoint struct {
	ID        string    `json:"id"`
	ProcessID string    `json:"process_id"`
	Number    uint64    `json:"number"`
	Values    []byte    `json:"values"`
	CreatedAt time.Time `json:"created_at"`
}

// Cycle is one time-boxed training round of a process.
type Cycle struct {
	ID        string    `json:"id"`
	ProcessID string    `json:"process_id"`
	Version   string    `json:"version"`
	Sequence  uint64    `json:"sequence"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Completed bool      `json:"is_completed"`
}

// Expired reports whether the cycle's time box has elapsed at now.
func (c Cycle) Expired(now time.Time) bool {
	return !now.Before(c.End)
}

type Bandwidth struct {
	Ping     float64 `json:"ping"`
	Upload   float64 `json:"upload"`
	Download float64 `json:"download"`
}

type Worker struct {
	ID          string    `json:"id"`
	Ping        float64   `json:"ping"`
	AvgUpload   float64   `json:"avg_upload"`
	AvgDownload float64   `json:"avg_download"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// WorkerCycle binds a worker to a cycle it was admitted into.
type WorkerCycle struct {
	ID          string    `json:"id"`
	WorkerID    string    `json:"worker_id"`
	CycleID     string    `json:"cycle_id"`
	RequestKey  string    `json:"request_key"`
	Completed   bool      `json:"is_completed"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Diff        []byte    `json:"diff,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Status string

const (
	Accepted Status = "accepted"
	Rejected Status = "rejected"
)

// CycleDecision is the answer to a worker asking to join the open cycle.
type CycleDecision struct {
	Status       Status            `json:"status"`
	RequestKey   string            `json:"request_key,omitempty"`
	Model        string            `json:"model"`
	Version      string            `json:"version"`
	ModelID      string            `json:"model_id,omitempty"`
	Plans        map[string][]byte `json:"plans,omitempty"`
	Protocols    map[string][]byte `json:"protocols,omitempty"`
	ClientConfig map[string]any    `json:"client_config,omitempty"`
	Timeout      *float64          `json:"timeout,omitempty"`
}
