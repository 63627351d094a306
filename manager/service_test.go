package manager_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/fedcycle/manager"
	"github.com/absmach/fedcycle/pkg/eligibility"
	pkgerrors "github.com/absmach/fedcycle/pkg/errors"
	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/absmach/fedcycle/pkg/mqtt/mocks"
	"github.com/absmach/fedcycle/pkg/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	fast = fl.Bandwidth{Ping: 5, Upload: 10, Download: 10}

	errAggregator = errors.New("aggregator unavailable")
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// meanAggregator returns the elementwise mean of the diffs and records how
// it was called.
type meanAggregator struct {
	calls atomic.Int64
	fail  atomic.Int64

	mu    sync.Mutex
	sizes []int
}

func (a *meanAggregator) Average(_ context.Context, _ fl.Process, checkpoint []byte, diffs [][]byte) ([]byte, error) {
	a.calls.Add(1)
	if a.fail.Load() > 0 {
		a.fail.Add(-1)

		return nil, errAggregator
	}

	a.mu.Lock()
	a.sizes = append(a.sizes, len(diffs))
	a.mu.Unlock()

	if len(diffs) == 0 {
		return checkpoint, nil
	}

	var sum fl.Params
	for _, raw := range diffs {
		d, err := fl.DecodeParams(raw)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = make(fl.Params, len(d))
			for i := range d {
				sum[i] = make([]float64, len(d[i]))
			}
		}
		for i := range d {
			for j, v := range d[i] {
				sum[i][j] += v
			}
		}
	}
	for i := range sum {
		for j := range sum[i] {
			sum[i][j] /= float64(len(diffs))
		}
	}

	return fl.EncodeParams(sum)
}

func (a *meanAggregator) lastSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.sizes) == 0 {
		return -1
	}

	return a.sizes[len(a.sizes)-1]
}

type fixture struct {
	svc    manager.Service
	repos  *storage.Repositories
	clock  *clock
	agg    *meanAggregator
	pubsub *mocks.MockPubSub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repos:  storage.NewMemoryRepositories(),
		clock:  newClock(),
		agg:    &meanAggregator{},
		pubsub: &mocks.MockPubSub{},
	}
	f.pubsub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.svc = manager.NewService(
		f.repos,
		f.agg,
		eligibility.Bandwidth(),
		f.pubsub,
		slog.New(slog.DiscardHandler),
		manager.WithClock(f.clock.Now),
		manager.WithRand(rand.New(rand.NewPCG(1, 2))),
	)

	return f
}

func encode(t *testing.T, values ...float64) []byte {
	t.Helper()

	data, err := fl.EncodeParams(fl.Params{values})
	require.NoError(t, err)

	return data
}

func decode(t *testing.T, data []byte) []float64 {
	t.Helper()

	p, err := fl.DecodeParams(data)
	require.NoError(t, err)
	require.Len(t, p, 1)

	return p[0]
}

func definition(t *testing.T, name string, serverConfig map[string]any) fl.ProcessDefinition {
	t.Helper()

	return fl.ProcessDefinition{
		Name:  name,
		Model: encode(t, 0),
		Plans: map[string][]byte{
			"training_plan": []byte("training"),
		},
		Protocols: map[string][]byte{
			"secure_aggregation": []byte("protocol"),
		},
		ClientConfig: map[string]any{"lr": 0.1, "batch_size": 32},
		ServerConfig: serverConfig,
	}
}

func (f *fixture) create(t *testing.T, serverConfig map[string]any) fl.Process {
	t.Helper()

	p, err := f.svc.CreateProcess(context.Background(), definition(t, "mnist-"+uuid.NewString(), serverConfig))
	require.NoError(t, err)

	return p
}

func (f *fixture) accept(t *testing.T, p fl.Process, workerID string) string {
	t.Helper()

	d, err := f.svc.RequestCycle(context.Background(), workerID, p.Name, p.Version, fast)
	require.NoError(t, err)
	require.Equal(t, fl.Accepted, d.Status)

	return d.RequestKey
}

func (f *fixture) openCycle(t *testing.T, p fl.Process) fl.Cycle {
	t.Helper()

	c, err := f.repos.Cycles.LatestOpen(context.Background(), p.ID, p.Version)
	require.NoError(t, err)

	return c
}

func (f *fixture) published(operation string, processID string) bool {
	for _, call := range f.pubsub.Calls {
		if call.Method != "Publish" || call.Arguments.String(1) != manager.CycleTopic(processID) {
			continue
		}
		if e, ok := call.Arguments.Get(2).(manager.Event); ok && e.Operation == operation {
			return true
		}
	}

	return false
}

func TestCreateProcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	existing := f.create(t, map[string]any{"num_cycles": 1})

	cases := []struct {
		desc string
		def  fl.ProcessDefinition
		err  error
	}{
		{
			desc: "create process with full config",
			def:  definition(t, "cifar", map[string]any{"min_worker": 2, "max_worker": 4, "num_cycles": 3, "cycle_length": 60}),
		},
		{
			desc: "create process with defaults",
			def:  definition(t, "defaults", map[string]any{"num_cycles": 1}),
		},
		{
			desc: "create process without name",
			def:  definition(t, "", map[string]any{"num_cycles": 1}),
		},
		{
			desc: "create process without num_cycles",
			def:  definition(t, "no-cycles", map[string]any{"min_worker": 1}),
			err:  fl.ErrConfigInvalid,
		},
		{
			desc: "create process with min_worker above max_worker",
			def:  definition(t, "inverted", map[string]any{"min_worker": 5, "max_worker": 2, "num_cycles": 1}),
			err:  fl.ErrConfigInvalid,
		},
		{
			desc: "create process with non numeric value",
			def:  definition(t, "text", map[string]any{"num_cycles": "many"}),
			err:  fl.ErrConfigInvalid,
		},
		{
			desc: "create duplicate process",
			def:  definition(t, existing.Name, map[string]any{"num_cycles": 1}),
			err:  fl.ErrProcessExists,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			p, err := f.svc.CreateProcess(ctx, tc.def)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, p.ID)
			assert.NotEmpty(t, p.Name)
			assert.Equal(t, fl.DefaultVersion, p.Version)

			c := f.openCycle(t, p)
			assert.Equal(t, uint64(1), c.Sequence)
			assert.Equal(t, p.ServerConfig.CycleDuration(), c.End.Sub(c.Start))

			checkpoint, err := f.svc.GetCheckpoint(ctx, p.Name, p.Version, 0)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), checkpoint.Number)
			assert.Equal(t, tc.def.Model, checkpoint.Values)

			assert.True(t, f.published(manager.CycleStarted, p.ID))
		})
	}

	t.Run("defaults are applied", func(t *testing.T) {
		cfg, client, err := f.svc.GetConfigs(ctx, "defaults", "")
		require.NoError(t, err)
		assert.Equal(t, uint64(fl.DefaultMinWorker), cfg.MinWorker)
		assert.Equal(t, uint64(fl.DefaultMaxWorker), cfg.MaxWorker)
		assert.Equal(t, uint64(fl.DefaultCycleLength), cfg.CycleLength)
		assert.EqualValues(t, 32, client["batch_size"])
	})
}

func TestGetProcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	def := definition(t, "versions", map[string]any{"num_cycles": 1})
	def.Version = "1.0.0"
	first, err := f.svc.CreateProcess(ctx, def)
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	def.Version = "2.0.0"
	second, err := f.svc.CreateProcess(ctx, def)
	require.NoError(t, err)

	cases := []struct {
		desc    string
		name    string
		version string
		id      string
		err     error
	}{
		{desc: "get latest version", name: "versions", id: second.ID},
		{desc: "get older version", name: "versions", version: "1.0.0", id: first.ID},
		{desc: "get unknown version", name: "versions", version: "3.0.0", err: fl.ErrProcessNotFound},
		{desc: "get unknown process", name: "missing", err: fl.ErrProcessNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			p, err := f.svc.GetProcess(ctx, tc.name, tc.version)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.id, p.ID)
		})
	}

	page, err := f.svc.ListProcesses(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), page.Total)
	require.Len(t, page.Processes, 2)
	assert.Equal(t, first.ID, page.Processes[0].ID)
}

func TestScenarioTwoWorkersFinishProcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, map[string]any{"min_worker": 2, "max_worker": 2, "num_cycles": 1, "cycle_length": 100})

	k1 := f.accept(t, p, "worker-1")
	k2 := f.accept(t, p, "worker-2")
	assert.NotEqual(t, k1, k2)
	assert.Len(t, k1, 64)
	assert.Len(t, k2, 64)

	require.NoError(t, f.svc.ReportDiff(ctx, "worker-1", k1, encode(t, 1)))
	assert.Equal(t, int64(0), f.agg.calls.Load(), "one diff is below min_worker")

	require.NoError(t, f.svc.ReportDiff(ctx, "worker-2", k2, encode(t, 3)))
	assert.Equal(t, int64(1), f.agg.calls.Load())

	checkpoint, err := f.svc.GetCheckpoint(ctx, p.Name, p.Version, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), checkpoint.Number)
	assert.Equal(t, []float64{2}, decode(t, checkpoint.Values))

	cycles, err := f.svc.ListCycles(ctx, p.Name, p.Version)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.True(t, cycles[0].Completed)

	_, err = f.svc.RequestCycle(ctx, "worker-3", p.Name, p.Version, fast)
	assert.ErrorIs(t, err, fl.ErrProcessFinished)

	assert.True(t, f.published(manager.CycleCompleted, p.ID))
	assert.True(t, f.published(manager.ProcessFinished, p.ID))
}

func TestScenarioSingleDiffAfterExpiry(t *testing.T) {
	cfg := map[string]any{"min_worker": 1, "max_worker": 3, "num_cycles": 1, "cycle_length": 100}

	cases := []struct {
		desc  string
		sweep bool
	}{
		{desc: "report before end and sweep after end", sweep: true},
		{desc: "report after end", sweep: false},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			p := f.create(t, cfg)

			key := f.accept(t, p, "worker-1")
			f.accept(t, p, "worker-2")

			if tc.sweep {
				require.NoError(t, f.svc.ReportDiff(ctx, "worker-1", key, encode(t, 5)))
				assert.Equal(t, int64(0), f.agg.calls.Load(), "cycle waits for more workers until it ends")

				require.NoError(t, f.svc.SweepCycles(ctx))
				assert.Equal(t, int64(0), f.agg.calls.Load(), "sweeping an unexpired cycle is a no-op")

				f.clock.Advance(100 * time.Second)
				require.NoError(t, f.svc.SweepCycles(ctx))
			} else {
				f.clock.Advance(101 * time.Second)
				require.NoError(t, f.svc.ReportDiff(ctx, "worker-1", key, encode(t, 5)))
			}

			assert.Equal(t, int64(1), f.agg.calls.Load())
			assert.Equal(t, 1, f.agg.lastSize())

			checkpoint, err := f.svc.GetCheckpoint(ctx, p.Name, p.Version, 0)
			require.NoError(t, err)
			assert.Equal(t, []float64{5}, decode(t, checkpoint.Values))
		})
	}
}

func TestScenarioRejectedWithTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, map[string]any{"num_cycles": 2, "cycle_length": 100, "minimum_upload_speed": 2, "minimum_download_speed": 2})

	f.clock.Advance(30 * time.Second)

	cases := []struct {
		desc    string
		worker  string
		bw      fl.Bandwidth
		status  fl.Status
		timeout float64
	}{
		{
			desc:    "slow upload is rejected",
			worker:  "slow-upload",
			bw:      fl.Bandwidth{Upload: 1, Download: 10},
			status:  fl.Rejected,
			timeout: 70,
		},
		{
			desc:    "upload equal to minimum is rejected",
			worker:  "boundary",
			bw:      fl.Bandwidth{Upload: 2, Download: 10},
			status:  fl.Rejected,
			timeout: 70,
		},
		{
			desc:    "slow download is rejected",
			worker:  "slow-download",
			bw:      fl.Bandwidth{Upload: 10, Download: 1},
			status:  fl.Rejected,
			timeout: 70,
		},
		{
			desc:   "fast worker is accepted",
			worker: "fast",
			bw:     fast,
			status: fl.Accepted,
		},
		{
			desc:    "second request of the same worker is rejected",
			worker:  "fast",
			bw:      fast,
			status:  fl.Rejected,
			timeout: 70,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			d, err := f.svc.RequestCycle(ctx, tc.worker, p.Name, "", tc.bw)
			require.NoError(t, err)
			assert.Equal(t, tc.status, d.Status)
			assert.Equal(t, p.Name, d.Model)
			assert.Equal(t, p.Version, d.Version)

			switch tc.status {
			case fl.Rejected:
				assert.Empty(t, d.RequestKey)
				require.NotNil(t, d.Timeout)
				assert.InDelta(t, tc.timeout, *d.Timeout, 0.001)
			case fl.Accepted:
				assert.NotEmpty(t, d.RequestKey)
				assert.Equal(t, p.CheckpointID, d.ModelID)
				assert.Equal(t, p.Plans, d.Plans)
				assert.Equal(t, p.Protocols, d.Protocols)
				assert.Equal(t, p.ClientConfig, d.ClientConfig)
				assert.Nil(t, d.Timeout)
			}
		})
	}

	w, err := f.repos.Workers.Get(ctx, "slow-upload")
	require.NoError(t, err)
	assert.InDelta(t, 1, w.AvgUpload, 1e-9, "bandwidth is recorded on every request")
}

func TestRequestCycleErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestCycle(ctx, "worker", "missing", "", fast)
	assert.ErrorIs(t, err, fl.ErrProcessNotFound)

	p := f.create(t, map[string]any{"min_worker": 1, "max_worker": 1, "num_cycles": 1})
	c := f.openCycle(t, p)

	// Close the cycle behind the scheduler's back.
	_, err = f.repos.Cycles.Complete(ctx, c.ID)
	require.NoError(t, err)
	_, err = f.svc.RequestCycle(ctx, "worker", p.Name, p.Version, fast)
	assert.ErrorIs(t, err, fl.ErrProcessFinished)

	q := f.create(t, map[string]any{"min_worker": 1, "max_worker": 1, "num_cycles": 2})
	c = f.openCycle(t, q)
	_, err = f.repos.Cycles.Complete(ctx, c.ID)
	require.NoError(t, err)
	_, err = f.svc.RequestCycle(ctx, "worker", q.Name, q.Version, fast)
	assert.ErrorIs(t, err, fl.ErrCycleNotFound)
}

func TestConcurrentAdmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, map[string]any{"num_cycles": 1})

	const n = 32
	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		rejected atomic.Int64
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.svc.RequestCycle(ctx, "same-worker", p.Name, p.Version, fast)
			if !assert.NoError(t, err) {
				return
			}
			switch d.Status {
			case fl.Accepted:
				accepted.Add(1)
			case fl.Rejected:
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), accepted.Load())
	assert.Equal(t, int64(n-1), rejected.Load())
}

func TestExactlyOnceAggregation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 16
	p := f.create(t, map[string]any{"min_worker": 1, "max_worker": workers, "num_cycles": 2, "cycle_length": 100})

	keys := make(map[string]string, workers)
	for i := range workers {
		id := fmt.Sprintf("worker-%d", i)
		keys[id] = f.accept(t, p, id)
	}
	var wg sync.WaitGroup
	for id, key := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.svc.ReportDiff(ctx, id, key, encode(t, 1)))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), f.agg.calls.Load())
	assert.Equal(t, workers, f.agg.lastSize())

	cycles, err := f.svc.ListCycles(ctx, p.Name, p.Version)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.True(t, cycles[0].Completed)
	assert.False(t, cycles[1].Completed)
	assert.Equal(t, uint64(2), cycles[1].Sequence)
}

func TestSequenceAndTermination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, map[string]any{"min_worker": 1, "max_worker": 1, "num_cycles": 3, "cycle_length": 10})

	for i := range 3 {
		worker := fmt.Sprintf("worker-%d", i)
		key := f.accept(t, p, worker)
		require.NoError(t, f.svc.ReportDiff(ctx, worker, key, encode(t, float64(i))))
		f.clock.Advance(time.Second)
	}

	cycles, err := f.svc.ListCycles(ctx, p.Name, p.Version)
	require.NoError(t, err)
	require.Len(t, cycles, 3)
	for i, c := range cycles {
		assert.Equal(t, uint64(i+1), c.Sequence)
		assert.True(t, c.Completed)
		if i > 0 {
			assert.False(t, c.Start.Before(cycles[i-1].Start))
		}
	}

	for n := uint64(1); n <= 4; n++ {
		checkpoint, err := f.svc.GetCheckpoint(ctx, p.Name, p.Version, n)
		require.NoError(t, err)
		assert.Equal(t, n, checkpoint.Number)
	}
	_, err = f.svc.GetCheckpoint(ctx, p.Name, p.Version, 5)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

	_, err = f.svc.RequestCycle(ctx, "late", p.Name, p.Version, fast)
	assert.ErrorIs(t, err, fl.ErrProcessFinished)

	last, err := f.svc.GetLastParticipation(ctx, "worker-2", p.Name, p.Version)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)

	last, err = f.svc.GetLastParticipation(ctx, "stranger", p.Name, p.Version)
	require.NoError(t, err)
	assert.Zero(t, last)

	_, err = f.svc.GetLastParticipation(ctx, "worker-2", "missing", "")
	assert.ErrorIs(t, err, fl.ErrProcessNotFound)
}

func TestAggregationFailureKeepsCycleOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, map[string]any{"min_worker": 1, "max_worker": 1, "num_cycles": 1})
	c := f.openCycle(t, p)

	f.agg.fail.Store(1)
	key := f.accept(t, p, "worker")
	err := f.svc.ReportDiff(ctx, "worker", key, encode(t, 4))
	require.ErrorIs(t, err, fl.ErrAggregationFailed)
	assert.ErrorIs(t, err, errAggregator)

	open := f.openCycle(t, p)
	assert.Equal(t, c.ID, open.ID)
	n, err := f.repos.WorkerCycles.CountCompleted(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n, "the diff stays recorded")

	done, err := f.svc.MaybeCompleteCycle(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = f.svc.MaybeCompleteCycle(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, done, "a completed cycle is not aggregated twice")
	assert.Equal(t, int64(2), f.agg.calls.Load())

	_, err = f.svc.MaybeCompleteCycle(ctx, uuid.NewString())
	assert.ErrorIs(t, err, fl.ErrCycleNotFound)
}

func TestReportDiffInvalidKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, map[string]any{"min_worker": 2, "max_worker": 2, "num_cycles": 1})
	key := f.accept(t, p, "worker")
	require.NoError(t, f.svc.ReportDiff(ctx, "worker", key, encode(t, 1)))

	cases := []struct {
		desc   string
		worker string
		key    string
	}{
		{desc: "empty key", worker: "worker", key: ""},
		{desc: "unknown key", worker: "worker", key: "deadbeef"},
		{desc: "key of another worker", worker: "intruder", key: key},
		{desc: "key already used", worker: "worker", key: key},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			err := f.svc.ReportDiff(ctx, tc.worker, tc.key, encode(t, 1))
			assert.ErrorIs(t, err, fl.ErrInvalidRequestKey)
		})
	}
}

func TestOversubscribedCycleIsSampled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, map[string]any{"min_worker": 1, "max_worker": 2, "num_cycles": 1})
	c := f.openCycle(t, p)

	// Record diffs directly so more than max_worker land before evaluation.
	for i := range 5 {
		worker := fmt.Sprintf("worker-%d", i)
		key := f.accept(t, p, worker)
		_, err := f.repos.WorkerCycles.RecordDiff(ctx, worker, key, encode(t, float64(i)), f.clock.Now())
		require.NoError(t, err)
	}

	done, err := f.svc.MaybeCompleteCycle(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 2, f.agg.lastSize())
}

func TestRequestKeyAuthorizesDownloads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, map[string]any{"num_cycles": 1})
	c := f.openCycle(t, p)
	key := f.accept(t, p, "worker")

	valid, err := f.svc.ValidateRequestKey(ctx, "worker", c.ID, key)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = f.svc.ValidateRequestKey(ctx, "worker", c.ID, "wrong")
	require.NoError(t, err)
	assert.False(t, valid)

	_, err = f.svc.ValidateRequestKey(ctx, "stranger", c.ID, key)
	assert.ErrorIs(t, err, fl.ErrCycleNotFound)

	cases := []struct {
		desc   string
		get    func(ctx context.Context, workerID, cycleID, requestKey, name string) ([]byte, error)
		worker string
		key    string
		name   string
		data   []byte
		err    error
	}{
		{desc: "download plan", get: f.svc.GetPlan, worker: "worker", key: key, name: "training_plan", data: []byte("training")},
		{desc: "download protocol", get: f.svc.GetProtocol, worker: "worker", key: key, name: "secure_aggregation", data: []byte("protocol")},
		{desc: "download unknown plan", get: f.svc.GetPlan, worker: "worker", key: key, name: "missing", err: pkgerrors.ErrNotFound},
		{desc: "download unknown protocol", get: f.svc.GetProtocol, worker: "worker", key: key, name: "missing", err: pkgerrors.ErrNotFound},
		{desc: "download with wrong key", get: f.svc.GetPlan, worker: "worker", key: "wrong", name: "training_plan", err: fl.ErrInvalidRequestKey},
		{desc: "download by unassigned worker", get: f.svc.GetPlan, worker: "stranger", key: key, name: "training_plan", err: fl.ErrInvalidRequestKey},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			data, err := tc.get(ctx, tc.worker, c.ID, tc.key, tc.name)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.data, data)
		})
	}
}

func TestRegisterWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.svc.RegisterWorker(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID)

	got, err := f.repos.Workers.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)
}

func TestPublishFailureDoesNotFailOperations(t *testing.T) {
	pubsub := &mocks.MockPubSub{}
	pubsub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	svc := manager.NewService(
		storage.NewMemoryRepositories(),
		fl.NewFedAvgAggregator(),
		eligibility.Bandwidth(),
		pubsub,
		slog.New(slog.DiscardHandler),
	)
	ctx := context.Background()

	p, err := svc.CreateProcess(ctx, definition(t, "resilient", map[string]any{"min_worker": 1, "max_worker": 1, "num_cycles": 1}))
	require.NoError(t, err)

	d, err := svc.RequestCycle(ctx, "worker", p.Name, p.Version, fast)
	require.NoError(t, err)
	require.Equal(t, fl.Accepted, d.Status)

	require.NoError(t, svc.ReportDiff(ctx, "worker", d.RequestKey, encode(t, 2)))

	checkpoint, err := svc.GetCheckpoint(ctx, p.Name, p.Version, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{-2}, decode(t, checkpoint.Values))
	pubsub.AssertCalled(t, "Publish", mock.Anything, manager.CycleTopic(p.ID), mock.Anything)
}

var errStorage = errors.New("storage unavailable")

// failing wraps the memory repositories and fails the next n calls of
// selected methods.
type failing struct {
	storage.ProcessRepository

	updateCheckpoint atomic.Int64
	createCheckpoint atomic.Int64
	createCycle      atomic.Int64
	completeCycle    atomic.Int64
}

func take(n *atomic.Int64) bool {
	if n.Load() > 0 {
		n.Add(-1)

		return true
	}

	return false
}

func (r *failing) UpdateCheckpoint(ctx context.Context, id, checkpointID string) error {
	if take(&r.updateCheckpoint) {
		return errStorage
	}

	return r.ProcessRepository.UpdateCheckpoint(ctx, id, checkpointID)
}

type failingCheckpoints struct {
	storage.CheckpointRepository
	r *failing
}

func (c failingCheckpoints) Create(ctx context.Context, checkpoint fl.Checkpoint) error {
	if take(&c.r.createCheckpoint) {
		return errStorage
	}

	return c.CheckpointRepository.Create(ctx, checkpoint)
}

type failingCycles struct {
	storage.CycleRepository
	r *failing
}

func (c failingCycles) Create(ctx context.Context, cycle fl.Cycle) (fl.Cycle, error) {
	if take(&c.r.createCycle) {
		return fl.Cycle{}, errStorage
	}

	return c.CycleRepository.Create(ctx, cycle)
}

func (c failingCycles) Complete(ctx context.Context, id string) (bool, error) {
	if take(&c.r.completeCycle) {
		return false, errStorage
	}

	return c.CycleRepository.Complete(ctx, id)
}

func newFailingFixture(t *testing.T) (*fixture, *failing) {
	t.Helper()

	f := newFixture(t)
	r := &failing{ProcessRepository: f.repos.Processes}
	wrapped := *f.repos
	wrapped.Processes = r
	wrapped.Checkpoints = failingCheckpoints{CheckpointRepository: f.repos.Checkpoints, r: r}
	wrapped.Cycles = failingCycles{CycleRepository: f.repos.Cycles, r: r}
	f.svc = manager.NewService(
		&wrapped,
		f.agg,
		eligibility.Bandwidth(),
		f.pubsub,
		slog.New(slog.DiscardHandler),
		manager.WithClock(f.clock.Now),
		manager.WithRand(rand.New(rand.NewPCG(1, 2))),
	)

	return f, r
}

func TestCompletionRetryAfterPartialFailure(t *testing.T) {
	cases := []struct {
		desc  string
		fail  func(r *failing)
		calls int64
	}{
		{
			desc:  "checkpoint pointer update fails",
			fail:  func(r *failing) { r.updateCheckpoint.Store(1) },
			calls: 1,
		},
		{
			desc:  "cycle completion fails",
			fail:  func(r *failing) { r.completeCycle.Store(1) },
			calls: 1,
		},
		{
			desc:  "checkpoint store fails",
			fail:  func(r *failing) { r.createCheckpoint.Store(1) },
			calls: 2,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			f, r := newFailingFixture(t)
			ctx := context.Background()
			p := f.create(t, map[string]any{"min_worker": 1, "max_worker": 1, "num_cycles": 2})
			c := f.openCycle(t, p)

			tc.fail(r)
			key := f.accept(t, p, "worker")
			err := f.svc.ReportDiff(ctx, "worker", key, encode(t, 4))
			require.ErrorIs(t, err, errStorage)

			open := f.openCycle(t, p)
			assert.Equal(t, c.ID, open.ID, "the cycle stays open")

			done, err := f.svc.MaybeCompleteCycle(ctx, c.ID)
			require.NoError(t, err)
			assert.True(t, done)
			assert.Equal(t, tc.calls, f.agg.calls.Load())

			latest, err := f.repos.Checkpoints.Latest(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, uint64(2), latest.Number, "one checkpoint per completed cycle")

			checkpoint, err := f.svc.GetCheckpoint(ctx, p.Name, p.Version, 0)
			require.NoError(t, err)
			assert.Equal(t, latest.ID, checkpoint.ID)
			assert.Equal(t, []float64{4}, decode(t, checkpoint.Values))

			next := f.openCycle(t, p)
			assert.Equal(t, uint64(2), next.Sequence)
		})
	}
}

func TestCreateProcessFailureFreesName(t *testing.T) {
	cases := []struct {
		desc string
		fail func(r *failing)
	}{
		{
			desc: "initial checkpoint store fails",
			fail: func(r *failing) { r.createCheckpoint.Store(1) },
		},
		{
			desc: "first cycle store fails",
			fail: func(r *failing) { r.createCycle.Store(1) },
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			f, r := newFailingFixture(t)
			ctx := context.Background()
			def := definition(t, "retry", map[string]any{"min_worker": 1, "max_worker": 1, "num_cycles": 1})

			tc.fail(r)
			_, err := f.svc.CreateProcess(ctx, def)
			require.ErrorIs(t, err, errStorage)

			_, err = f.svc.GetProcess(ctx, def.Name, "")
			assert.ErrorIs(t, err, fl.ErrProcessNotFound)

			p, err := f.svc.CreateProcess(ctx, def)
			require.NoError(t, err)
			assert.Equal(t, fl.DefaultVersion, p.Version)

			d, err := f.svc.RequestCycle(ctx, "worker", def.Name, "", fast)
			require.NoError(t, err)
			assert.Equal(t, fl.Accepted, d.Status)
		})
	}
}
