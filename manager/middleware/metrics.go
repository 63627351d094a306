package middleware

import (
	"context"
	"time"

	"github.com/absmach/fedcycle/manager"
	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/go-kit/kit/metrics"
)

var _ manager.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     manager.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc manager.Service) manager.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) observe(method string, begin time.Time) {
	mm.counter.With("method", method).Add(1)
	mm.latency.With("method", method).Observe(time.Since(begin).Seconds())
}

func (mm *metricsMiddleware) CreateProcess(ctx context.Context, def fl.ProcessDefinition) (fl.Process, error) {
	defer mm.observe("create-process", time.Now())

	return mm.svc.CreateProcess(ctx, def)
}

func (mm *metricsMiddleware) GetProcess(ctx context.Context, name, version string) (fl.Process, error) {
	defer mm.observe("get-process", time.Now())

	return mm.svc.GetProcess(ctx, name, version)
}

func (mm *metricsMiddleware) ListProcesses(ctx context.Context, offset, limit uint64) (fl.ProcessPage, error) {
	defer mm.observe("list-processes", time.Now())

	return mm.svc.ListProcesses(ctx, offset, limit)
}

func (mm *metricsMiddleware) GetConfigs(ctx context.Context, name, version string) (fl.ServerConfig, map[string]any, error) {
	defer mm.observe("get-configs", time.Now())

	return mm.svc.GetConfigs(ctx, name, version)
}

func (mm *metricsMiddleware) GetCheckpoint(ctx context.Context, name, version string, number uint64) (fl.Checkpoint, error) {
	defer mm.observe("get-checkpoint", time.Now())

	return mm.svc.GetCheckpoint(ctx, name, version, number)
}

func (mm *metricsMiddleware) ListCycles(ctx context.Context, name, version string) ([]fl.Cycle, error) {
	defer mm.observe("list-cycles", time.Now())

	return mm.svc.ListCycles(ctx, name, version)
}

func (mm *metricsMiddleware) RegisterWorker(ctx context.Context) (fl.Worker, error) {
	defer mm.observe("register-worker", time.Now())

	return mm.svc.RegisterWorker(ctx)
}

func (mm *metricsMiddleware) RequestCycle(ctx context.Context, workerID, name, version string, bw fl.Bandwidth) (fl.CycleDecision, error) {
	defer mm.observe("request-cycle", time.Now())

	return mm.svc.RequestCycle(ctx, workerID, name, version, bw)
}

func (mm *metricsMiddleware) ReportDiff(ctx context.Context, workerID, requestKey string, diff []byte) error {
	defer mm.observe("report-diff", time.Now())

	return mm.svc.ReportDiff(ctx, workerID, requestKey, diff)
}

func (mm *metricsMiddleware) MaybeCompleteCycle(ctx context.Context, cycleID string) (bool, error) {
	defer mm.observe("maybe-complete-cycle", time.Now())

	return mm.svc.MaybeCompleteCycle(ctx, cycleID)
}

func (mm *metricsMiddleware) GetLastParticipation(ctx context.Context, workerID, name, version string) (uint64, error) {
	defer mm.observe("get-last-participation", time.Now())

	return mm.svc.GetLastParticipation(ctx, workerID, name, version)
}

func (mm *metricsMiddleware) ValidateRequestKey(ctx context.Context, workerID, cycleID, requestKey string) (bool, error) {
	defer mm.observe("validate-request-key", time.Now())

	return mm.svc.ValidateRequestKey(ctx, workerID, cycleID, requestKey)
}

func (mm *metricsMiddleware) GetPlan(ctx context.Context, workerID, cycleID, requestKey, plan string) ([]byte, error) {
	defer mm.observe("get-plan", time.Now())

	return mm.svc.GetPlan(ctx, workerID, cycleID, requestKey, plan)
}

func (mm *metricsMiddleware) GetProtocol(ctx context.Context, workerID, cycleID, requestKey, protocol string) ([]byte, error) {
	defer mm.observe("get-protocol", time.Now())

	return mm.svc.GetProtocol(ctx, workerID, cycleID, requestKey, protocol)
}

func (mm *metricsMiddleware) SweepCycles(ctx context.Context) error {
	defer mm.observe("sweep-cycles", time.Now())

	return mm.svc.SweepCycles(ctx)
}
