package middleware

import (
	"context"

	"github.com/absmach/fedcycle/manager"
	"github.com/absmach/fedcycle/pkg/fl"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ manager.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    manager.Service
}

func Tracing(tracer trace.Tracer, svc manager.Service) manager.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) CreateProcess(ctx context.Context, def fl.ProcessDefinition) (fl.Process, error) {
	ctx, span := tm.tracer.Start(ctx, "create-process", trace.WithAttributes(
		attribute.String("name", def.Name),
		attribute.String("version", def.Version),
	))
	defer span.End()

	return tm.svc.CreateProcess(ctx, def)
}

func (tm *tracing) GetProcess(ctx context.Context, name, version string) (fl.Process, error) {
	ctx, span := tm.tracer.Start(ctx, "get-process", trace.WithAttributes(
		attribute.String("name", name),
		attribute.String("version", version),
	))
	defer span.End()

	return tm.svc.GetProcess(ctx, name, version)
}

func (tm *tracing) ListProcesses(ctx context.Context, offset, limit uint64) (fl.ProcessPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-processes", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListProcesses(ctx, offset, limit)
}

func (tm *tracing) GetConfigs(ctx context.Context, name, version string) (fl.ServerConfig, map[string]any, error) {
	ctx, span := tm.tracer.Start(ctx, "get-configs", trace.WithAttributes(
		attribute.String("name", name),
		attribute.String("version", version),
	))
	defer span.End()

	return tm.svc.GetConfigs(ctx, name, version)
}

func (tm *tracing) GetCheckpoint(ctx context.Context, name, version string, number uint64) (fl.Checkpoint, error) {
	ctx, span := tm.tracer.Start(ctx, "get-checkpoint", trace.WithAttributes(
		attribute.String("name", name),
		attribute.String("version", version),
		attribute.Int64("number", int64(number)),
	))
	defer span.End()

	return tm.svc.GetCheckpoint(ctx, name, version, number)
}

func (tm *tracing) ListCycles(ctx context.Context, name, version string) ([]fl.Cycle, error) {
	ctx, span := tm.tracer.Start(ctx, "list-cycles", trace.WithAttributes(
		attribute.String("name", name),
		attribute.String("version", version),
	))
	defer span.End()

	return tm.svc.ListCycles(ctx, name, version)
}

func (tm *tracing) RegisterWorker(ctx context.Context) (fl.Worker, error) {
	ctx, span := tm.tracer.Start(ctx, "register-worker")
	defer span.End()

	return tm.svc.RegisterWorker(ctx)
}

func (tm *tracing) RequestCycle(ctx context.Context, workerID, name, version string, bw fl.Bandwidth) (fl.CycleDecision, error) {
	ctx, span := tm.tracer.Start(ctx, "request-cycle", trace.WithAttributes(
		attribute.String("worker_id", workerID),
		attribute.String("name", name),
		attribute.String("version", version),
		attribute.Float64("upload", bw.Upload),
		attribute.Float64("download", bw.Download),
	))
	defer span.End()

	return tm.svc.RequestCycle(ctx, workerID, name, version, bw)
}

func (tm *tracing) ReportDiff(ctx context.Context, workerID, requestKey string, diff []byte) error {
	ctx, span := tm.tracer.Start(ctx, "report-diff", trace.WithAttributes(
		attribute.String("worker_id", workerID),
		attribute.Int("diff_size", len(diff)),
	))
	defer span.End()

	return tm.svc.ReportDiff(ctx, workerID, requestKey, diff)
}

func (tm *tracing) MaybeCompleteCycle(ctx context.Context, cycleID string) (bool, error) {
	ctx, span := tm.tracer.Start(ctx, "maybe-complete-cycle", trace.WithAttributes(
		attribute.String("cycle_id", cycleID),
	))
	defer span.End()

	return tm.svc.MaybeCompleteCycle(ctx, cycleID)
}

func (tm *tracing) GetLastParticipation(ctx context.Context, workerID, name, version string) (uint64, error) {
	ctx, span := tm.tracer.Start(ctx, "get-last-participation", trace.WithAttributes(
		attribute.String("worker_id", workerID),
		attribute.String("name", name),
		attribute.String("version", version),
	))
	defer span.End()

	return tm.svc.GetLastParticipation(ctx, workerID, name, version)
}

func (tm *tracing) ValidateRequestKey(ctx context.Context, workerID, cycleID, requestKey string) (bool, error) {
	ctx, span := tm.tracer.Start(ctx, "validate-request-key", trace.WithAttributes(
		attribute.String("worker_id", workerID),
		attribute.String("cycle_id", cycleID),
	))
	defer span.End()

	return tm.svc.ValidateRequestKey(ctx, workerID, cycleID, requestKey)
}

func (tm *tracing) GetPlan(ctx context.Context, workerID, cycleID, requestKey, plan string) ([]byte, error) {
	ctx, span := tm.tracer.Start(ctx, "get-plan", trace.WithAttributes(
		attribute.String("worker_id", workerID),
		attribute.String("cycle_id", cycleID),
		attribute.String("plan", plan),
	))
	defer span.End()

	return tm.svc.GetPlan(ctx, workerID, cycleID, requestKey, plan)
}

func (tm *tracing) GetProtocol(ctx context.Context, workerID, cycleID, requestKey, protocol string) ([]byte, error) {
	ctx, span := tm.tracer.Start(ctx, "get-protocol", trace.WithAttributes(
		attribute.String("worker_id", workerID),
		attribute.String("cycle_id", cycleID),
		attribute.String("protocol", protocol),
	))
	defer span.End()

	return tm.svc.GetProtocol(ctx, workerID, cycleID, requestKey, protocol)
}

func (tm *tracing) SweepCycles(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "sweep-cycles")
	defer span.End()

	return tm.svc.SweepCycles(ctx)
}
