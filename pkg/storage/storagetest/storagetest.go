// Package storagetest holds the behaviour every repository backend must
// share. Backend test packages call Run with their own repositories.
package storagetest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pkgerrors "github.com/absmach/fedcycle/pkg/errors"
	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/absmach/fedcycle/pkg/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises repos against the repository contracts. The repositories may
// be shared with other tests, so every case works on freshly generated ids.
func Run(t *testing.T, repos *storage.Repositories) {
	t.Run("processes", func(t *testing.T) { testProcesses(t, repos) })
	t.Run("process list", func(t *testing.T) { testProcessList(t, repos) })
	t.Run("process delete", func(t *testing.T) { testProcessDelete(t, repos) })
	t.Run("checkpoints", func(t *testing.T) { testCheckpoints(t, repos) })
	t.Run("cycles", func(t *testing.T) { testCycles(t, repos) })
	t.Run("concurrent cycle create", func(t *testing.T) { testConcurrentCycleCreate(t, repos) })
	t.Run("workers", func(t *testing.T) { testWorkers(t, repos) })
	t.Run("worker cycles", func(t *testing.T) { testWorkerCycles(t, repos) })
	t.Run("concurrent record diff", func(t *testing.T) { testConcurrentRecordDiff(t, repos) })
}

// Now returns a timestamp every backend stores without loss.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func Process(name, version string, createdAt time.Time) fl.Process {
	return fl.Process{
		ID:      uuid.NewString(),
		Name:    name,
		Version: version,
		Model:   []byte{0x01, 0x02},
		Plans: map[string][]byte{
			"training_plan": []byte("plan"),
		},
		ClientConfig: map[string]any{"lr": 0.01},
		ServerConfig: fl.ServerConfig{
			CycleLength: 60,
			MinWorker:   1,
			MaxWorker:   2,
			NumCycles:   3,
		},
		CreatedAt: createdAt,
	}
}

func createProcess(t *testing.T, repos *storage.Repositories) fl.Process {
	t.Helper()

	p, err := repos.Processes.Create(context.Background(), Process("proc-"+uuid.NewString(), fl.DefaultVersion, Now()))
	require.NoError(t, err)

	return p
}

func createCycle(t *testing.T, repos *storage.Repositories, p fl.Process) fl.Cycle {
	t.Helper()

	start := Now()
	c, err := repos.Cycles.Create(context.Background(), fl.Cycle{
		ID:        uuid.NewString(),
		ProcessID: p.ID,
		Version:   p.Version,
		Start:     start,
		End:       start.Add(time.Minute),
	})
	require.NoError(t, err)

	return c
}

func assign(t *testing.T, repos *storage.Repositories, workerID string, c fl.Cycle) fl.WorkerCycle {
	t.Helper()

	wc, err := repos.WorkerCycles.Assign(context.Background(), fl.WorkerCycle{
		ID:         uuid.NewString(),
		WorkerID:   workerID,
		CycleID:    c.ID,
		RequestKey: uuid.NewString(),
		CreatedAt:  Now(),
	})
	require.NoError(t, err)

	return wc
}

func testProcesses(t *testing.T, repos *storage.Repositories) {
	ctx := context.Background()
	name := "proc-" + uuid.NewString()
	created := Now()

	first := Process(name, "1.0.0", created)
	_, err := repos.Processes.Create(ctx, first)
	require.NoError(t, err)

	second := Process(name, "2.0.0", created.Add(time.Second))
	_, err = repos.Processes.Create(ctx, second)
	require.NoError(t, err)

	cases := []struct {
		desc    string
		name    string
		version string
		id      string
		err     error
	}{
		{desc: "get exact version", name: name, version: "1.0.0", id: first.ID},
		{desc: "get latest version", name: name, version: "", id: second.ID},
		{desc: "get unknown version", name: name, version: "9.9.9", err: pkgerrors.ErrNotFound},
		{desc: "get unknown name", name: "missing-" + uuid.NewString(), version: "", err: pkgerrors.ErrNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			p, err := repos.Processes.GetByName(ctx, tc.name, tc.version)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.id, p.ID)
		})
	}

	t.Run("duplicate name and version", func(t *testing.T) {
		dup := Process(name, "1.0.0", Now())
		_, err := repos.Processes.Create(ctx, dup)
		assert.ErrorIs(t, err, pkgerrors.ErrEntityExists)
	})

	t.Run("get by id round trips fields", func(t *testing.T) {
		p, err := repos.Processes.Get(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, first.Name, p.Name)
		assert.Equal(t, first.Version, p.Version)
		assert.Equal(t, first.Model, p.Model)
		assert.Equal(t, first.Plans, p.Plans)
		assert.Equal(t, first.ServerConfig.NumCycles, p.ServerConfig.NumCycles)
		assert.Equal(t, first.ServerConfig.MaxWorker, p.ServerConfig.MaxWorker)
		assert.InDelta(t, 0.01, p.ClientConfig["lr"], 1e-9)
		assert.True(t, first.CreatedAt.Equal(p.CreatedAt))
	})

	t.Run("update checkpoint", func(t *testing.T) {
		require.NoError(t, repos.Processes.UpdateCheckpoint(ctx, first.ID, "ckpt-1"))
		p, err := repos.Processes.Get(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "ckpt-1", p.CheckpointID)
	})

	t.Run("update checkpoint of unknown process", func(t *testing.T) {
		err := repos.Processes.UpdateCheckpoint(ctx, uuid.NewString(), "ckpt")
		assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	})

	t.Run("get unknown id", func(t *testing.T) {
		_, err := repos.Processes.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	})
}

func testProcessList(t *testing.T, repos *storage.Repositories) {
	ctx := context.Background()
	base := Now().Add(time.Hour)
	ids := make([]string, 3)
	for i := range ids {
		p := Process("list-"+uuid.NewString(), fl.DefaultVersion, base.Add(time.Duration(i)*time.Second))
		_, err := repos.Processes.Create(ctx, p)
		require.NoError(t, err)
		ids[i] = p.ID
	}

	all, total, err := repos.Processes.List(ctx, 0, math.MaxUint64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, uint64(3))
	assert.Len(t, all, int(total))

	var seen []string
	for _, p := range all {
		for _, id := range ids {
			if p.ID == id {
				seen = append(seen, id)
			}
		}
	}
	assert.Equal(t, ids, seen, "processes are listed in creation order")

	page, _, err := repos.Processes.List(ctx, 0, 1)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	empty, _, err := repos.Processes.List(ctx, total, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testCheckpoints(t *testing.T, repos *storage.Repositories) {
	ctx := context.Background()
	p := createProcess(t, repos)

	_, err := repos.Checkpoints.Latest(ctx, p.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

	for n := uint64(1); n <= 3; n++ {
		err := repos.Checkpoints.Create(ctx, fl.Checkpoint{
			ID:        uuid.NewString(),
			ProcessID: p.ID,
			Number:    n,
			Values:    []byte(fmt.Sprintf("values-%d", n)),
			CreatedAt: Now(),
		})
		require.NoError(t, err)
	}

	cases := []struct {
		desc   string
		number uint64
		values string
		err    error
	}{
		{desc: "first checkpoint", number: 1, values: "values-1"},
		{desc: "last checkpoint", number: 3, values: "values-3"},
		{desc: "missing checkpoint", number: 4, err: pkgerrors.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			c, err := repos.Checkpoints.GetByNumber(ctx, p.ID, tc.number)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.values, string(c.Values))

			byID, err := repos.Checkpoints.Get(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, c.Number, byID.Number)
		})
	}

	latest, err := repos.Checkpoints.Latest(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), latest.Number)

	err = repos.Checkpoints.Create(ctx, fl.Checkpoint{ID: uuid.NewString(), ProcessID: p.ID, Number: 2, CreatedAt: Now()})
	assert.ErrorIs(t, err, pkgerrors.ErrEntityExists)
}

func testCycles(t *testing.T, repos *storage.Repositories) {
	ctx := context.Background()
	p := createProcess(t, repos)

	_, err := repos.Cycles.LatestOpen(ctx, p.ID, p.Version)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

	first := createCycle(t, repos, p)
	assert.Equal(t, uint64(1), first.Sequence)
	assert.False(t, first.Completed)

	_, err = repos.Cycles.Create(ctx, fl.Cycle{
		ID:        uuid.NewString(),
		ProcessID: p.ID,
		Version:   p.Version,
		Start:     Now(),
		End:       Now().Add(time.Minute),
	})
	assert.ErrorIs(t, err, pkgerrors.ErrEntityExists, "only one cycle may be open")

	open, err := repos.Cycles.LatestOpen(ctx, p.ID, p.Version)
	require.NoError(t, err)
	assert.Equal(t, first.ID, open.ID)

	openCycles, err := repos.Cycles.ListOpen(ctx)
	require.NoError(t, err)
	assert.Contains(t, cycleIDs(openCycles), first.ID)

	done, err := repos.Cycles.Complete(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = repos.Cycles.Complete(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, done, "completion happens once")

	_, err = repos.Cycles.Complete(ctx, uuid.NewString())
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

	_, err = repos.Cycles.LatestOpen(ctx, p.ID, p.Version)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

	openCycles, err = repos.Cycles.ListOpen(ctx)
	require.NoError(t, err)
	assert.NotContains(t, cycleIDs(openCycles), first.ID)

	second := createCycle(t, repos, p)
	assert.Equal(t, uint64(2), second.Sequence)

	completed, err := repos.Cycles.CountCompleted(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), completed)

	cycles, err := repos.Cycles.List(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, first.ID, cycles[0].ID)
	assert.True(t, cycles[0].Completed)
	assert.Equal(t, second.ID, cycles[1].ID)

	got, err := repos.Cycles.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, second.End.Equal(got.End))
}

func testConcurrentCycleCreate(t *testing.T, repos *storage.Repositories) {
	ctx := context.Background()
	p := createProcess(t, repos)

	var (
		wg      sync.WaitGroup
		created atomic.Int64
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repos.Cycles.Create(ctx, fl.Cycle{
				ID:        uuid.NewString(),
				ProcessID: p.ID,
				Version:   p.Version,
				Start:     Now(),
				End:       Now().Add(time.Minute),
			})
			if err == nil {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), created.Load())
}

func testWorkers(t *testing.T, repos *storage.Repositories) {
	ctx := context.Background()
	id := uuid.NewString()
	created := Now()

	w, err := repos.Workers.Save(ctx, fl.Worker{ID: id, Ping: 10, AvgUpload: 5, AvgDownload: 6, CreatedAt: created})
	require.NoError(t, err)
	assert.InDelta(t, 5, w.AvgUpload, 1e-9)

	updated := Now()
	_, err = repos.Workers.Save(ctx, fl.Worker{ID: id, Ping: 20, AvgUpload: 7, AvgDownload: 8, CreatedAt: updated, UpdatedAt: updated})
	require.NoError(t, err)

	got, err := repos.Workers.Get(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 20, got.Ping, 1e-9)
	assert.InDelta(t, 7, got.AvgUpload, 1e-9)
	assert.InDelta(t, 8, got.AvgDownload, 1e-9)
	assert.True(t, created.Equal(got.CreatedAt), "creation time is kept on refresh")

	_, err = repos.Workers.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func testWorkerCycles(t *testing.T, repos *storage.Repositories) {
	ctx := context.Background()
	p := createProcess(t, repos)
	c := createCycle(t, repos, p)
	workerID := uuid.NewString()

	wc := assign(t, repos, workerID, c)

	_, err := repos.WorkerCycles.Assign(ctx, fl.WorkerCycle{
		ID:         uuid.NewString(),
		WorkerID:   workerID,
		CycleID:    c.ID,
		RequestKey: uuid.NewString(),
		CreatedAt:  Now(),
	})
	assert.ErrorIs(t, err, pkgerrors.ErrEntityExists)

	assigned, err := repos.WorkerCycles.IsAssigned(ctx, workerID, c.ID)
	require.NoError(t, err)
	assert.True(t, assigned)

	assigned, err = repos.WorkerCycles.IsAssigned(ctx, uuid.NewString(), c.ID)
	require.NoError(t, err)
	assert.False(t, assigned)

	cases := []struct {
		desc     string
		workerID string
		key      string
		err      error
	}{
		{desc: "wrong worker", workerID: uuid.NewString(), key: wc.RequestKey, err: pkgerrors.ErrNotFound},
		{desc: "unknown key", workerID: workerID, key: uuid.NewString(), err: pkgerrors.ErrNotFound},
		{desc: "matching worker and key", workerID: workerID, key: wc.RequestKey},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := repos.WorkerCycles.GetByKey(ctx, tc.workerID, tc.key)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, wc.ID, got.ID)
			assert.False(t, got.Completed)
		})
	}

	_, err = repos.WorkerCycles.RecordDiff(ctx, uuid.NewString(), wc.RequestKey, []byte("diff"), Now())
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

	at := Now()
	recorded, err := repos.WorkerCycles.RecordDiff(ctx, workerID, wc.RequestKey, []byte("diff"), at)
	require.NoError(t, err)
	assert.True(t, recorded.Completed)
	assert.Equal(t, []byte("diff"), recorded.Diff)
	assert.True(t, at.Equal(recorded.CompletedAt))

	_, err = repos.WorkerCycles.RecordDiff(ctx, workerID, wc.RequestKey, []byte("again"), Now())
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound, "a diff is recorded once")

	other := assign(t, repos, uuid.NewString(), c)
	n, err := repos.WorkerCycles.CountCompleted(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	_, err = repos.WorkerCycles.RecordDiff(ctx, other.WorkerID, other.RequestKey, []byte("other"), at.Add(time.Second))
	require.NoError(t, err)

	completed, err := repos.WorkerCycles.ListCompleted(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, completed, 2)
	assert.Equal(t, wc.ID, completed[0].ID)
	assert.Equal(t, other.ID, completed[1].ID)

	last, err := repos.WorkerCycles.LastParticipation(ctx, workerID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Sequence, last)

	last, err = repos.WorkerCycles.LastParticipation(ctx, uuid.NewString(), p.ID)
	require.NoError(t, err)
	assert.Zero(t, last)

	_, err = repos.Cycles.Complete(ctx, c.ID)
	require.NoError(t, err)
	next := createCycle(t, repos, p)
	assign(t, repos, workerID, next)

	last, err = repos.WorkerCycles.LastParticipation(ctx, workerID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, next.Sequence, last)
}

func testConcurrentRecordDiff(t *testing.T, repos *storage.Repositories) {
	ctx := context.Background()
	p := createProcess(t, repos)
	c := createCycle(t, repos, p)
	wc := assign(t, repos, uuid.NewString(), c)

	var (
		wg       sync.WaitGroup
		recorded atomic.Int64
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repos.WorkerCycles.RecordDiff(ctx, wc.WorkerID, wc.RequestKey, []byte("diff"), Now()); err == nil {
				recorded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), recorded.Load())
}

func cycleIDs(cycles []fl.Cycle) []string {
	ids := make([]string, 0, len(cycles))
	for _, c := range cycles {
		ids = append(ids, c.ID)
	}

	return ids
}

func testProcessDelete(t *testing.T, repos *storage.Repositories) {
	ctx := context.Background()
	name := "proc-" + uuid.NewString()

	p, err := repos.Processes.Create(ctx, Process(name, fl.DefaultVersion, Now()))
	require.NoError(t, err)

	require.NoError(t, repos.Processes.Delete(ctx, p.ID))

	_, err = repos.Processes.Get(ctx, p.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	_, err = repos.Processes.GetByName(ctx, name, fl.DefaultVersion)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	_, err = repos.Processes.GetByName(ctx, name, "")
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

	again, err := repos.Processes.Create(ctx, Process(name, fl.DefaultVersion, Now()))
	require.NoError(t, err, "name and version must be free after delete")
	assert.NotEqual(t, p.ID, again.ID)

	assert.NoError(t, repos.Processes.Delete(ctx, uuid.NewString()))
}
