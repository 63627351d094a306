package storage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/absmach/fedcycle/pkg/errors"
	"github.com/absmach/fedcycle/pkg/fl"
)

func memKey(parts ...string) string {
	return strings.Join(parts, "\x00")
}

type memoryProcessRepo struct {
	mu      sync.Mutex
	storage Storage[fl.Process]
	names   Storage[string]
}

func newMemoryProcessRepository() ProcessRepository {
	return &memoryProcessRepo{
		storage: NewInMemoryStorage[fl.Process](),
		names:   NewInMemoryStorage[string](),
	}
}

func (r *memoryProcessRepo) Create(ctx context.Context, p fl.Process) (fl.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.names.Create(ctx, memKey(p.Name, p.Version), p.ID); err != nil {
		return fl.Process{}, err
	}
	if err := r.storage.Create(ctx, p.ID, p); err != nil {
		_ = r.names.Delete(ctx, memKey(p.Name, p.Version))

		return fl.Process{}, err
	}

	return p, nil
}

func (r *memoryProcessRepo) Get(ctx context.Context, id string) (fl.Process, error) {
	return r.storage.Get(ctx, id)
}

func (r *memoryProcessRepo) GetByName(ctx context.Context, name, version string) (fl.Process, error) {
	if version != "" {
		id, err := r.names.Get(ctx, memKey(name, version))
		if err != nil {
			return fl.Process{}, err
		}

		return r.Get(ctx, id)
	}

	processes, err := r.storage.Filter(ctx, func(p fl.Process) bool {
		return p.Name == name
	})
	if err != nil {
		return fl.Process{}, err
	}
	if len(processes) == 0 {
		return fl.Process{}, pkgerrors.ErrNotFound
	}

	return slices.MaxFunc(processes, func(a, b fl.Process) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	}), nil
}

func (r *memoryProcessRepo) UpdateCheckpoint(ctx context.Context, id, checkpointID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	p.CheckpointID = checkpointID

	return r.storage.Update(ctx, id, p)
}

func (r *memoryProcessRepo) List(ctx context.Context, offset, limit uint64) ([]fl.Process, uint64, error) {
	processes, err := r.storage.Filter(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	slices.SortFunc(processes, func(a, b fl.Process) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	total := uint64(len(processes))
	if offset >= total {
		return []fl.Process{}, total, nil
	}
	end := total
	if limit < total-offset {
		end = offset + limit
	}

	return processes[offset:end], total, nil
}

func (r *memoryProcessRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.Get(ctx, id)
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	if err := r.names.Delete(ctx, memKey(p.Name, p.Version)); err != nil {
		return err
	}

	return r.storage.Delete(ctx, id)
}

type memoryCheckpointRepo struct {
	mu      sync.Mutex
	storage Storage[fl.Checkpoint]
	numbers Storage[string]
}

func newMemoryCheckpointRepository() CheckpointRepository {
	return &memoryCheckpointRepo{
		storage: NewInMemoryStorage[fl.Checkpoint](),
		numbers: NewInMemoryStorage[string](),
	}
}

func (r *memoryCheckpointRepo) Create(ctx context.Context, c fl.Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.numbers.Create(ctx, memKey(c.ProcessID, numKey(c.Number)), c.ID); err != nil {
		return err
	}
	if err := r.storage.Create(ctx, c.ID, c); err != nil {
		_ = r.numbers.Delete(ctx, memKey(c.ProcessID, numKey(c.Number)))

		return err
	}

	return nil
}

func (r *memoryCheckpointRepo) Get(ctx context.Context, id string) (fl.Checkpoint, error) {
	return r.storage.Get(ctx, id)
}

func (r *memoryCheckpointRepo) GetByNumber(ctx context.Context, processID string, number uint64) (fl.Checkpoint, error) {
	id, err := r.numbers.Get(ctx, memKey(processID, numKey(number)))
	if err != nil {
		return fl.Checkpoint{}, err
	}

	return r.Get(ctx, id)
}

func (r *memoryCheckpointRepo) Latest(ctx context.Context, processID string) (fl.Checkpoint, error) {
	checkpoints, err := r.storage.Filter(ctx, func(c fl.Checkpoint) bool {
		return c.ProcessID == processID
	})
	if err != nil {
		return fl.Checkpoint{}, err
	}
	if len(checkpoints) == 0 {
		return fl.Checkpoint{}, pkgerrors.ErrNotFound
	}

	return slices.MaxFunc(checkpoints, func(a, b fl.Checkpoint) int {
		return cmp.Compare(a.Number, b.Number)
	}), nil
}

type memoryCycleRepo struct {
	mu      sync.Mutex
	storage Storage[fl.Cycle]
	open    Storage[string]
}

func newMemoryCycleRepository() CycleRepository {
	return &memoryCycleRepo{
		storage: NewInMemoryStorage[fl.Cycle](),
		open:    NewInMemoryStorage[string](),
	}
}

func (r *memoryCycleRepo) Create(ctx context.Context, c fl.Cycle) (fl.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.storage.Filter(ctx, func(e fl.Cycle) bool {
		return e.ProcessID == c.ProcessID && e.Version == c.Version
	})
	if err != nil {
		return fl.Cycle{}, err
	}
	c.Sequence = uint64(len(existing)) + 1
	c.Completed = false

	if err := r.open.Create(ctx, memKey(c.ProcessID, c.Version), c.ID); err != nil {
		return fl.Cycle{}, err
	}
	if err := r.storage.Create(ctx, c.ID, c); err != nil {
		_ = r.open.Delete(ctx, memKey(c.ProcessID, c.Version))

		return fl.Cycle{}, err
	}

	return c, nil
}

func (r *memoryCycleRepo) Get(ctx context.Context, id string) (fl.Cycle, error) {
	return r.storage.Get(ctx, id)
}

func (r *memoryCycleRepo) LatestOpen(ctx context.Context, processID, version string) (fl.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.open.Get(ctx, memKey(processID, version))
	if err != nil {
		return fl.Cycle{}, err
	}

	return r.Get(ctx, id)
}

func (r *memoryCycleRepo) Complete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if c.Completed {
		return false, nil
	}

	c.Completed = true
	if err := r.storage.Update(ctx, id, c); err != nil {
		return false, err
	}
	if err := r.open.Delete(ctx, memKey(c.ProcessID, c.Version)); err != nil {
		return false, err
	}

	return true, nil
}

func (r *memoryCycleRepo) CountCompleted(ctx context.Context, processID string) (uint64, error) {
	cycles, err := r.List(ctx, processID)
	if err != nil {
		return 0, err
	}

	var count uint64
	for _, c := range cycles {
		if c.Completed {
			count++
		}
	}

	return count, nil
}

func (r *memoryCycleRepo) List(ctx context.Context, processID string) ([]fl.Cycle, error) {
	filtered, err := r.storage.Filter(ctx, func(c fl.Cycle) bool {
		return c.ProcessID == processID
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(filtered, func(a, b fl.Cycle) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})

	return filtered, nil
}

func (r *memoryCycleRepo) ListOpen(ctx context.Context) ([]fl.Cycle, error) {
	open, err := r.storage.Filter(ctx, func(c fl.Cycle) bool {
		return !c.Completed
	})
	if err != nil {
		return nil, err
	}

	return open, nil
}

type memoryWorkerRepo struct {
	mu      sync.Mutex
	storage Storage[fl.Worker]
}

func newMemoryWorkerRepository() WorkerRepository {
	return &memoryWorkerRepo{storage: NewInMemoryStorage[fl.Worker]()}
}

func (r *memoryWorkerRepo) Save(ctx context.Context, w fl.Worker) (fl.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.storage.Get(ctx, w.ID)
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		if err := r.storage.Create(ctx, w.ID, w); err != nil {
			return fl.Worker{}, err
		}

		return w, nil
	case err != nil:
		return fl.Worker{}, err
	}

	existing.Ping = w.Ping
	existing.AvgUpload = w.AvgUpload
	existing.AvgDownload = w.AvgDownload
	existing.UpdatedAt = w.UpdatedAt
	if err := r.storage.Update(ctx, w.ID, existing); err != nil {
		return fl.Worker{}, err
	}

	return existing, nil
}

func (r *memoryWorkerRepo) Get(ctx context.Context, id string) (fl.Worker, error) {
	return r.storage.Get(ctx, id)
}

type memoryWorkerCycleRepo struct {
	mu      sync.Mutex
	storage Storage[fl.WorkerCycle]
	pairs   Storage[string]
	keys    Storage[string]
	cycles  CycleRepository
}

func newMemoryWorkerCycleRepository(cycles CycleRepository) WorkerCycleRepository {
	return &memoryWorkerCycleRepo{
		storage: NewInMemoryStorage[fl.WorkerCycle](),
		pairs:   NewInMemoryStorage[string](),
		keys:    NewInMemoryStorage[string](),
		cycles:  cycles,
	}
}

func (r *memoryWorkerCycleRepo) Assign(ctx context.Context, wc fl.WorkerCycle) (fl.WorkerCycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.pairs.Create(ctx, memKey(wc.WorkerID, wc.CycleID), wc.ID); err != nil {
		return fl.WorkerCycle{}, err
	}
	if err := r.keys.Create(ctx, wc.RequestKey, wc.ID); err != nil {
		_ = r.pairs.Delete(ctx, memKey(wc.WorkerID, wc.CycleID))

		return fl.WorkerCycle{}, err
	}
	if err := r.storage.Create(ctx, wc.ID, wc); err != nil {
		_ = r.pairs.Delete(ctx, memKey(wc.WorkerID, wc.CycleID))
		_ = r.keys.Delete(ctx, wc.RequestKey)

		return fl.WorkerCycle{}, err
	}

	return wc, nil
}

func (r *memoryWorkerCycleRepo) IsAssigned(ctx context.Context, workerID, cycleID string) (bool, error) {
	_, err := r.pairs.Get(ctx, memKey(workerID, cycleID))
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}

	return true, nil
}

func (r *memoryWorkerCycleRepo) GetByKey(ctx context.Context, workerID, requestKey string) (fl.WorkerCycle, error) {
	id, err := r.keys.Get(ctx, requestKey)
	if err != nil {
		return fl.WorkerCycle{}, err
	}
	wc, err := r.storage.Get(ctx, id)
	if err != nil {
		return fl.WorkerCycle{}, err
	}
	if wc.WorkerID != workerID {
		return fl.WorkerCycle{}, pkgerrors.ErrNotFound
	}

	return wc, nil
}

func (r *memoryWorkerCycleRepo) RecordDiff(ctx context.Context, workerID, requestKey string, diff []byte, at time.Time) (fl.WorkerCycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wc, err := r.GetByKey(ctx, workerID, requestKey)
	if err != nil {
		return fl.WorkerCycle{}, err
	}
	if wc.Completed {
		return fl.WorkerCycle{}, pkgerrors.ErrNotFound
	}

	wc.Completed = true
	wc.CompletedAt = at
	wc.Diff = diff
	if err := r.storage.Update(ctx, wc.ID, wc); err != nil {
		return fl.WorkerCycle{}, err
	}

	return wc, nil
}

func (r *memoryWorkerCycleRepo) CountCompleted(ctx context.Context, cycleID string) (uint64, error) {
	completed, err := r.ListCompleted(ctx, cycleID)
	if err != nil {
		return 0, err
	}

	return uint64(len(completed)), nil
}

func (r *memoryWorkerCycleRepo) ListCompleted(ctx context.Context, cycleID string) ([]fl.WorkerCycle, error) {
	completed, err := r.storage.Filter(ctx, func(wc fl.WorkerCycle) bool {
		return wc.CycleID == cycleID && wc.Completed
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(completed, func(a, b fl.WorkerCycle) int {
		if c := a.CompletedAt.Compare(b.CompletedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return completed, nil
}

func (r *memoryWorkerCycleRepo) LastParticipation(ctx context.Context, workerID, processID string) (uint64, error) {
	assigned, err := r.storage.Filter(ctx, func(wc fl.WorkerCycle) bool {
		return wc.WorkerID == workerID
	})
	if err != nil {
		return 0, err
	}

	var last uint64
	for _, wc := range assigned {
		c, err := r.cycles.Get(ctx, wc.CycleID)
		if err != nil {
			if errors.Is(err, pkgerrors.ErrNotFound) {
				continue
			}

			return 0, err
		}
		if c.ProcessID == processID && c.Sequence > last {
			last = c.Sequence
		}
	}

	return last, nil
}

func numKey(n uint64) string {
	return fmt.Sprintf("%020d", n)
}
