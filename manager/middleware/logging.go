package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/fedcycle/manager"
	"github.com/absmach/fedcycle/pkg/fl"
)

var _ manager.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    manager.Service
}

func Logging(logger *slog.Logger, svc manager.Service) manager.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) CreateProcess(ctx context.Context, def fl.ProcessDefinition) (resp fl.Process, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("process",
				slog.String("id", resp.ID),
				slog.String("name", resp.Name),
				slog.String("version", resp.Version),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Create process failed", args...)

			return
		}
		lm.logger.Info("Create process completed successfully", args...)
	}(time.Now())

	return lm.svc.CreateProcess(ctx, def)
}

func (lm *loggingMiddleware) GetProcess(ctx context.Context, name, version string) (resp fl.Process, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("process",
				slog.String("name", name),
				slog.String("version", version),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get process failed", args...)

			return
		}
		lm.logger.Info("Get process completed successfully", args...)
	}(time.Now())

	return lm.svc.GetProcess(ctx, name, version)
}

func (lm *loggingMiddleware) ListProcesses(ctx context.Context, offset, limit uint64) (resp fl.ProcessPage, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
			slog.Uint64("total", resp.Total),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List processes failed", args...)

			return
		}
		lm.logger.Info("List processes completed successfully", args...)
	}(time.Now())

	return lm.svc.ListProcesses(ctx, offset, limit)
}

func (lm *loggingMiddleware) GetConfigs(ctx context.Context, name, version string) (server fl.ServerConfig, client map[string]any, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("process",
				slog.String("name", name),
				slog.String("version", version),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get configs failed", args...)

			return
		}
		lm.logger.Info("Get configs completed successfully", args...)
	}(time.Now())

	return lm.svc.GetConfigs(ctx, name, version)
}

func (lm *loggingMiddleware) GetCheckpoint(ctx context.Context, name, version string, number uint64) (resp fl.Checkpoint, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("process",
				slog.String("name", name),
				slog.String("version", version),
			),
			slog.Uint64("number", resp.Number),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get checkpoint failed", args...)

			return
		}
		lm.logger.Info("Get checkpoint completed successfully", args...)
	}(time.Now())

	return lm.svc.GetCheckpoint(ctx, name, version, number)
}

func (lm *loggingMiddleware) ListCycles(ctx context.Context, name, version string) (resp []fl.Cycle, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("process",
				slog.String("name", name),
				slog.String("version", version),
			),
			slog.Int("cycles", len(resp)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List cycles failed", args...)

			return
		}
		lm.logger.Info("List cycles completed successfully", args...)
	}(time.Now())

	return lm.svc.ListCycles(ctx, name, version)
}

func (lm *loggingMiddleware) RegisterWorker(ctx context.Context) (resp fl.Worker, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("worker_id", resp.ID),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Register worker failed", args...)

			return
		}
		lm.logger.Info("Register worker completed successfully", args...)
	}(time.Now())

	return lm.svc.RegisterWorker(ctx)
}

func (lm *loggingMiddleware) RequestCycle(ctx context.Context, workerID, name, version string, bw fl.Bandwidth) (resp fl.CycleDecision, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("worker_id", workerID),
			slog.Group("process",
				slog.String("name", name),
				slog.String("version", version),
			),
			slog.Group("bandwidth",
				slog.Float64("ping", bw.Ping),
				slog.Float64("upload", bw.Upload),
				slog.Float64("download", bw.Download),
			),
			slog.String("status", string(resp.Status)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Request cycle failed", args...)

			return
		}
		lm.logger.Info("Request cycle completed successfully", args...)
	}(time.Now())

	return lm.svc.RequestCycle(ctx, workerID, name, version, bw)
}

func (lm *loggingMiddleware) ReportDiff(ctx context.Context, workerID, requestKey string, diff []byte) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("worker_id", workerID),
			slog.Int("diff_size", len(diff)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Report diff failed", args...)

			return
		}
		lm.logger.Info("Report diff completed successfully", args...)
	}(time.Now())

	return lm.svc.ReportDiff(ctx, workerID, requestKey, diff)
}

func (lm *loggingMiddleware) MaybeCompleteCycle(ctx context.Context, cycleID string) (completed bool, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("cycle_id", cycleID),
			slog.Bool("completed", completed),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Complete cycle failed", args...)

			return
		}
		lm.logger.Debug("Complete cycle evaluated", args...)
	}(time.Now())

	return lm.svc.MaybeCompleteCycle(ctx, cycleID)
}

func (lm *loggingMiddleware) GetLastParticipation(ctx context.Context, workerID, name, version string) (last uint64, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("worker_id", workerID),
			slog.Group("process",
				slog.String("name", name),
				slog.String("version", version),
			),
			slog.Uint64("last", last),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get last participation failed", args...)

			return
		}
		lm.logger.Info("Get last participation completed successfully", args...)
	}(time.Now())

	return lm.svc.GetLastParticipation(ctx, workerID, name, version)
}

func (lm *loggingMiddleware) ValidateRequestKey(ctx context.Context, workerID, cycleID, requestKey string) (valid bool, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("worker_id", workerID),
			slog.String("cycle_id", cycleID),
			slog.Bool("valid", valid),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Validate request key failed", args...)

			return
		}
		lm.logger.Info("Validate request key completed successfully", args...)
	}(time.Now())

	return lm.svc.ValidateRequestKey(ctx, workerID, cycleID, requestKey)
}

func (lm *loggingMiddleware) GetPlan(ctx context.Context, workerID, cycleID, requestKey, plan string) (data []byte, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("worker_id", workerID),
			slog.String("cycle_id", cycleID),
			slog.String("plan", plan),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get plan failed", args...)

			return
		}
		lm.logger.Info("Get plan completed successfully", args...)
	}(time.Now())

	return lm.svc.GetPlan(ctx, workerID, cycleID, requestKey, plan)
}

func (lm *loggingMiddleware) GetProtocol(ctx context.Context, workerID, cycleID, requestKey, protocol string) (data []byte, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("worker_id", workerID),
			slog.String("cycle_id", cycleID),
			slog.String("protocol", protocol),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get protocol failed", args...)

			return
		}
		lm.logger.Info("Get protocol completed successfully", args...)
	}(time.Now())

	return lm.svc.GetProtocol(ctx, workerID, cycleID, requestKey, protocol)
}

func (lm *loggingMiddleware) SweepCycles(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Sweep cycles failed", args...)

			return
		}
		lm.logger.Debug("Sweep cycles completed successfully", args...)
	}(time.Now())

	return lm.svc.SweepCycles(ctx)
}
