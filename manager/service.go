package manager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/fedcycle/pkg/eligibility"
	pkgerrors "github.com/absmach/fedcycle/pkg/errors"
	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/absmach/fedcycle/pkg/mqtt"
	"github.com/absmach/fedcycle/pkg/storage"
	"github.com/google/uuid"
)

var namegen = namegenerator.NewGenerator()

type service struct {
	processes    storage.ProcessRepository
	checkpoints  storage.CheckpointRepository
	cycles       storage.CycleRepository
	workers      storage.WorkerRepository
	workerCycles storage.WorkerCycleRepository
	aggregator   fl.Aggregator
	policy       eligibility.Policy
	pubsub       mqtt.PubSub
	logger       *slog.Logger

	now   func() time.Time
	rngMu sync.Mutex
	rng   *rand.Rand
	// locks holds one *sync.Mutex per process ID.
	locks sync.Map
}

type Option func(*service)

// WithClock replaces the wall clock used for cycle boundaries.
func WithClock(now func() time.Time) Option {
	return func(svc *service) {
		svc.now = now
	}
}

// WithRand replaces the source used to sample diffs of over-subscribed cycles.
func WithRand(rng *rand.Rand) Option {
	return func(svc *service) {
		svc.rng = rng
	}
}

func NewService(repos *storage.Repositories, aggregator fl.Aggregator, policy eligibility.Policy, pubsub mqtt.PubSub, logger *slog.Logger, opts ...Option) Service {
	svc := &service{
		processes:    repos.Processes,
		checkpoints:  repos.Checkpoints,
		cycles:       repos.Cycles,
		workers:      repos.Workers,
		workerCycles: repos.WorkerCycles,
		aggregator:   aggregator,
		policy:       policy,
		pubsub:       pubsub,
		logger:       logger,
		now:          time.Now,
		rng:          rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

func (svc *service) CreateProcess(ctx context.Context, def fl.ProcessDefinition) (fl.Process, error) {
	cfg, err := fl.ParseServerConfig(def.ServerConfig)
	if err != nil {
		return fl.Process{}, err
	}
	if def.Name == "" {
		def.Name = namegen.Generate()
	}
	if def.Version == "" {
		def.Version = fl.DefaultVersion
	}

	now := svc.timestamp()
	checkpoint := fl.Checkpoint{
		ID:        uuid.NewString(),
		Number:    1,
		Values:    def.Model,
		CreatedAt: now,
	}
	p := fl.Process{
		ID:            uuid.NewString(),
		Name:          def.Name,
		Version:       def.Version,
		Model:         def.Model,
		Plans:         def.Plans,
		Protocols:     def.Protocols,
		AveragingPlan: def.AveragingPlan,
		ClientConfig:  def.ClientConfig,
		ServerConfig:  cfg,
		CheckpointID:  checkpoint.ID,
		CreatedAt:     now,
	}

	p, err = svc.processes.Create(ctx, p)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrEntityExists) {
			return fl.Process{}, fmt.Errorf("%w: %s@%s", fl.ErrProcessExists, def.Name, def.Version)
		}

		return fl.Process{}, err
	}

	checkpoint.ProcessID = p.ID
	if err := svc.checkpoints.Create(ctx, checkpoint); err != nil {
		return fl.Process{}, svc.discard(ctx, p, err)
	}

	mu := svc.lock(p.ID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := svc.openCycle(ctx, p, now); err != nil {
		return fl.Process{}, svc.discard(ctx, p, err)
	}

	return p, nil
}

// discard removes a process whose setup failed so its name and version can
// be created again. It returns cause.
func (svc *service) discard(ctx context.Context, p fl.Process, cause error) error {
	if err := svc.processes.Delete(context.WithoutCancel(ctx), p.ID); err != nil {
		svc.logger.Error("failed to remove incomplete process",
			slog.String("process", p.Name),
			slog.String("version", p.Version),
			slog.Any("error", err),
		)

		return errors.Join(cause, err)
	}

	return cause
}

func (svc *service) GetProcess(ctx context.Context, name, version string) (fl.Process, error) {
	p, err := svc.processes.GetByName(ctx, name, version)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return fl.Process{}, fl.ErrProcessNotFound
		}

		return fl.Process{}, err
	}

	return p, nil
}

func (svc *service) ListProcesses(ctx context.Context, offset, limit uint64) (fl.ProcessPage, error) {
	processes, total, err := svc.processes.List(ctx, offset, limit)
	if err != nil {
		return fl.ProcessPage{}, err
	}

	return fl.ProcessPage{
		Offset:    offset,
		Limit:     limit,
		Total:     total,
		Processes: processes,
	}, nil
}

func (svc *service) GetConfigs(ctx context.Context, name, version string) (fl.ServerConfig, map[string]any, error) {
	p, err := svc.GetProcess(ctx, name, version)
	if err != nil {
		return fl.ServerConfig{}, nil, err
	}

	return p.ServerConfig, p.ClientConfig, nil
}

func (svc *service) GetCheckpoint(ctx context.Context, name, version string, number uint64) (fl.Checkpoint, error) {
	p, err := svc.GetProcess(ctx, name, version)
	if err != nil {
		return fl.Checkpoint{}, err
	}

	if number == 0 {
		return svc.checkpoints.Get(ctx, p.CheckpointID)
	}

	return svc.checkpoints.GetByNumber(ctx, p.ID, number)
}

func (svc *service) ListCycles(ctx context.Context, name, version string) ([]fl.Cycle, error) {
	p, err := svc.GetProcess(ctx, name, version)
	if err != nil {
		return nil, err
	}

	return svc.cycles.List(ctx, p.ID)
}

func (svc *service) RegisterWorker(ctx context.Context) (fl.Worker, error) {
	now := svc.timestamp()

	return svc.workers.Save(ctx, fl.Worker{
		ID:        uuid.NewString(),
		CreatedAt: now,
	})
}

func (svc *service) RequestCycle(ctx context.Context, workerID, name, version string, bw fl.Bandwidth) (fl.CycleDecision, error) {
	now := svc.timestamp()

	w, err := svc.workers.Save(ctx, fl.Worker{
		ID:          workerID,
		Ping:        bw.Ping,
		AvgUpload:   bw.Upload,
		AvgDownload: bw.Download,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return fl.CycleDecision{}, err
	}

	resolved, err := svc.GetProcess(ctx, name, version)
	if err != nil {
		return fl.CycleDecision{}, err
	}

	mu := svc.lock(resolved.ID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock so the checkpoint reference is current.
	p, err := svc.processes.Get(ctx, resolved.ID)
	if err != nil {
		return fl.CycleDecision{}, err
	}
	cfg := p.ServerConfig

	c, err := svc.cycles.LatestOpen(ctx, p.ID, p.Version)
	if err != nil {
		if !errors.Is(err, pkgerrors.ErrNotFound) {
			return fl.CycleDecision{}, err
		}
		completed, err := svc.cycles.CountCompleted(ctx, p.ID)
		if err != nil {
			return fl.CycleDecision{}, err
		}
		if completed >= cfg.NumCycles {
			return fl.CycleDecision{}, fl.ErrProcessFinished
		}

		return fl.CycleDecision{}, fl.ErrCycleNotFound
	}

	assigned, err := svc.workerCycles.IsAssigned(ctx, w.ID, c.ID)
	if err != nil {
		return fl.CycleDecision{}, err
	}
	if assigned || !svc.policy.Eligible(w, cfg) {
		return svc.reject(ctx, p, c, now)
	}

	key := requestKey()
	_, err = svc.workerCycles.Assign(ctx, fl.WorkerCycle{
		ID:         uuid.NewString(),
		WorkerID:   w.ID,
		CycleID:    c.ID,
		RequestKey: key,
		CreatedAt:  now,
	})
	switch {
	case errors.Is(err, pkgerrors.ErrEntityExists):
		return svc.reject(ctx, p, c, now)
	case err != nil:
		return fl.CycleDecision{}, err
	}

	return fl.CycleDecision{
		Status:       fl.Accepted,
		RequestKey:   key,
		Model:        p.Name,
		Version:      p.Version,
		ModelID:      p.CheckpointID,
		Plans:        p.Plans,
		Protocols:    p.Protocols,
		ClientConfig: p.ClientConfig,
	}, nil
}

func (svc *service) reject(ctx context.Context, p fl.Process, c fl.Cycle, now time.Time) (fl.CycleDecision, error) {
	decision := fl.CycleDecision{
		Status:  fl.Rejected,
		Model:   p.Name,
		Version: p.Version,
	}

	completed, err := svc.cycles.CountCompleted(ctx, p.ID)
	if err != nil {
		return fl.CycleDecision{}, err
	}
	if completed < p.ServerConfig.NumCycles {
		timeout := max(c.End.Sub(now).Seconds(), 0)
		decision.Timeout = &timeout
	}

	return decision, nil
}

func (svc *service) ReportDiff(ctx context.Context, workerID, requestKey string, diff []byte) error {
	if requestKey == "" {
		return fl.ErrInvalidRequestKey
	}

	wc, err := svc.workerCycles.RecordDiff(ctx, workerID, requestKey, diff, svc.timestamp())
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return fl.ErrInvalidRequestKey
		}

		return err
	}

	_, err = svc.MaybeCompleteCycle(ctx, wc.CycleID)

	return err
}

func (svc *service) MaybeCompleteCycle(ctx context.Context, cycleID string) (bool, error) {
	c, err := svc.cycles.Get(ctx, cycleID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return false, fl.ErrCycleNotFound
		}

		return false, err
	}

	mu := svc.lock(c.ProcessID)
	mu.Lock()
	defer mu.Unlock()

	// Another caller may have closed the cycle while this one waited.
	c, err = svc.cycles.Get(ctx, cycleID)
	if err != nil {
		return false, err
	}
	if c.Completed {
		return false, nil
	}

	p, err := svc.processes.Get(ctx, c.ProcessID)
	if err != nil {
		return false, err
	}
	cfg := p.ServerConfig

	n, err := svc.workerCycles.CountCompleted(ctx, c.ID)
	if err != nil {
		return false, err
	}
	now := svc.timestamp()
	if !ready(n, cfg, c, now) {
		return false, nil
	}

	reports, err := svc.workerCycles.ListCompleted(ctx, c.ID)
	if err != nil {
		return false, err
	}
	diffs := svc.sample(reports, cfg.MaxWorker)

	// Cycle k produces checkpoint k+1. It already exists when an earlier
	// attempt stored it and then failed before completing the cycle.
	next, err := svc.checkpoints.Latest(ctx, p.ID)
	if err != nil {
		return false, err
	}
	if next.Number <= c.Sequence {
		values, err := svc.aggregator.Average(ctx, p, next.Values, diffs)
		if err != nil {
			return false, fmt.Errorf("%w: cycle %d of %s: %w", fl.ErrAggregationFailed, c.Sequence, p.Name, err)
		}

		next = fl.Checkpoint{
			ID:        uuid.NewString(),
			ProcessID: p.ID,
			Number:    next.Number + 1,
			Values:    values,
			CreatedAt: now,
		}
		if err := svc.checkpoints.Create(ctx, next); err != nil {
			return false, err
		}
	}
	if p.CheckpointID != next.ID {
		if err := svc.processes.UpdateCheckpoint(ctx, p.ID, next.ID); err != nil {
			return false, err
		}
		p.CheckpointID = next.ID
	}

	done, err := svc.cycles.Complete(ctx, c.ID)
	if err != nil {
		return false, err
	}
	if !done {
		return false, nil
	}

	svc.logger.Info("cycle completed",
		slog.String("process", p.Name),
		slog.String("version", p.Version),
		slog.Uint64("sequence", c.Sequence),
		slog.Int("diffs", len(diffs)),
		slog.Uint64("checkpoint", next.Number),
	)
	svc.publish(ctx, p, Event{
		Operation:  CycleCompleted,
		CycleID:    c.ID,
		Sequence:   c.Sequence,
		Checkpoint: next.Number,
		Timestamp:  now,
	})

	completed, err := svc.cycles.CountCompleted(ctx, p.ID)
	if err != nil {
		return true, err
	}
	if completed >= cfg.NumCycles {
		svc.logger.Info("process finished", slog.String("process", p.Name), slog.String("version", p.Version))
		svc.publish(ctx, p, Event{Operation: ProcessFinished, Checkpoint: next.Number, Timestamp: now})

		return true, nil
	}

	if _, err := svc.openCycle(ctx, p, now); err != nil {
		return true, err
	}

	return true, nil
}

func (svc *service) GetLastParticipation(ctx context.Context, workerID, name, version string) (uint64, error) {
	p, err := svc.GetProcess(ctx, name, version)
	if err != nil {
		return 0, err
	}

	return svc.workerCycles.LastParticipation(ctx, workerID, p.ID)
}

func (svc *service) ValidateRequestKey(ctx context.Context, workerID, cycleID, requestKey string) (bool, error) {
	assigned, err := svc.workerCycles.IsAssigned(ctx, workerID, cycleID)
	if err != nil {
		return false, err
	}
	if !assigned {
		return false, fl.ErrCycleNotFound
	}

	wc, err := svc.workerCycles.GetByKey(ctx, workerID, requestKey)
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}

	return wc.CycleID == cycleID, nil
}

func (svc *service) GetPlan(ctx context.Context, workerID, cycleID, requestKey, plan string) ([]byte, error) {
	p, err := svc.authorizedProcess(ctx, workerID, cycleID, requestKey)
	if err != nil {
		return nil, err
	}

	data, ok := p.Plans[plan]
	if !ok {
		return nil, fmt.Errorf("%w: plan %q", pkgerrors.ErrNotFound, plan)
	}

	return data, nil
}

func (svc *service) GetProtocol(ctx context.Context, workerID, cycleID, requestKey, protocol string) ([]byte, error) {
	p, err := svc.authorizedProcess(ctx, workerID, cycleID, requestKey)
	if err != nil {
		return nil, err
	}

	data, ok := p.Protocols[protocol]
	if !ok {
		return nil, fmt.Errorf("%w: protocol %q", pkgerrors.ErrNotFound, protocol)
	}

	return data, nil
}

func (svc *service) authorizedProcess(ctx context.Context, workerID, cycleID, requestKey string) (fl.Process, error) {
	valid, err := svc.ValidateRequestKey(ctx, workerID, cycleID, requestKey)
	if err != nil {
		if errors.Is(err, fl.ErrCycleNotFound) {
			return fl.Process{}, fl.ErrInvalidRequestKey
		}

		return fl.Process{}, err
	}
	if !valid {
		return fl.Process{}, fl.ErrInvalidRequestKey
	}

	c, err := svc.cycles.Get(ctx, cycleID)
	if err != nil {
		return fl.Process{}, err
	}

	return svc.processes.Get(ctx, c.ProcessID)
}

func (svc *service) SweepCycles(ctx context.Context) error {
	open, err := svc.cycles.ListOpen(ctx)
	if err != nil {
		return err
	}

	now := svc.timestamp()
	var errs []error
	for _, c := range open {
		if !c.Expired(now) {
			continue
		}
		if _, err := svc.MaybeCompleteCycle(ctx, c.ID); err != nil {
			errs = append(errs, fmt.Errorf("cycle %s: %w", c.ID, err))
		}
	}

	return errors.Join(errs...)
}

// openCycle starts the next cycle of p. Callers hold the process lock.
func (svc *service) openCycle(ctx context.Context, p fl.Process, now time.Time) (fl.Cycle, error) {
	c, err := svc.cycles.Create(ctx, fl.Cycle{
		ID:        uuid.NewString(),
		ProcessID: p.ID,
		Version:   p.Version,
		Start:     now,
		End:       now.Add(p.ServerConfig.CycleDuration()),
	})
	if err != nil {
		return fl.Cycle{}, err
	}

	svc.publish(ctx, p, Event{
		Operation: CycleStarted,
		CycleID:   c.ID,
		Sequence:  c.Sequence,
		End:       c.End,
		Timestamp: now,
	})

	return c, nil
}

func (svc *service) lock(processID string) *sync.Mutex {
	mu, _ := svc.locks.LoadOrStore(processID, &sync.Mutex{})

	return mu.(*sync.Mutex)
}

// timestamp is the current time at the precision every backend keeps.
func (svc *service) timestamp() time.Time {
	return svc.now().UTC().Truncate(time.Microsecond)
}

// sample returns the diffs of all reports, or of exactly limit reports
// picked uniformly at random when there are more.
func (svc *service) sample(reports []fl.WorkerCycle, limit uint64) [][]byte {
	if uint64(len(reports)) > limit {
		svc.rngMu.Lock()
		svc.rng.Shuffle(len(reports), func(i, j int) {
			reports[i], reports[j] = reports[j], reports[i]
		})
		svc.rngMu.Unlock()
		reports = reports[:limit]
	}

	diffs := make([][]byte, 0, len(reports))
	for _, r := range reports {
		diffs = append(diffs, r.Diff)
	}

	return diffs
}

func ready(n uint64, cfg fl.ServerConfig, c fl.Cycle, now time.Time) bool {
	return n >= cfg.MinWorker && (n >= cfg.MaxWorker || c.Expired(now))
}

func requestKey() string {
	sum := sha256.Sum256([]byte(uuid.NewString()))

	return hex.EncodeToString(sum[:])
}
