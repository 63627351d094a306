package manager

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/absmach/fedcycle/pkg/mqtt"
)

const (
	workersTopic   = "fl/workers"
	cycleRequestOp = "cycle-request"
	reportOp       = "report"
	responseSuffix = "-response"

	statusSuccess = "success"
	statusError   = "error"
)

var (
	errInvalidTopic = errors.New("invalid worker topic")
	errInvalidField = errors.New("invalid message field")
)

// WorkerTopic returns the topic a worker publishes op messages to.
func WorkerTopic(workerID, op string) string {
	return fmt.Sprintf("%s/%s/%s", workersTopic, workerID, op)
}

// ResponseTopic returns the topic the manager answers op messages on.
func ResponseTopic(workerID, op string) string {
	return WorkerTopic(workerID, op+responseSuffix)
}

type reportReply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Subscribe lets workers request cycles and report diffs over MQTT. Each
// message is answered on the matching response topic.
func Subscribe(ctx context.Context, svc Service, pubsub mqtt.PubSub, logger *slog.Logger) error {
	h := Handle(ctx, svc, pubsub, logger)
	for _, op := range []string{cycleRequestOp, reportOp} {
		if err := pubsub.Subscribe(ctx, WorkerTopic("+", op), h); err != nil {
			return err
		}
	}

	return nil
}

func Handle(ctx context.Context, svc Service, pubsub mqtt.PubSub, logger *slog.Logger) mqtt.Handler {
	return func(topic string, msg map[string]any) error {
		workerID, op, err := parseWorkerTopic(topic)
		if err != nil {
			return err
		}

		switch op {
		case cycleRequestOp:
			decision, err := requestCycle(ctx, svc, workerID, msg)
			if err != nil {
				logger.WarnContext(ctx, "cycle request over mqtt failed", slog.String("worker_id", workerID), slog.Any("error", err))

				return pubsub.Publish(ctx, ResponseTopic(workerID, op), reportReply{Status: statusError, Error: err.Error()})
			}

			return pubsub.Publish(ctx, ResponseTopic(workerID, op), decision)
		case reportOp:
			reply := reportReply{Status: statusSuccess}
			if err := reportDiff(ctx, svc, workerID, msg); err != nil {
				logger.WarnContext(ctx, "report over mqtt failed", slog.String("worker_id", workerID), slog.Any("error", err))
				reply = reportReply{Status: statusError, Error: err.Error()}
			}

			return pubsub.Publish(ctx, ResponseTopic(workerID, op), reply)
		}

		return nil
	}
}

func requestCycle(ctx context.Context, svc Service, workerID string, msg map[string]any) (fl.CycleDecision, error) {
	name, ok := msg["model"].(string)
	if !ok || name == "" {
		return fl.CycleDecision{}, fmt.Errorf("%w: model", errInvalidField)
	}
	version, _ := msg["version"].(string)
	bw := fl.Bandwidth{
		Ping:     number(msg, "ping"),
		Upload:   number(msg, "upload"),
		Download: number(msg, "download"),
	}

	return svc.RequestCycle(ctx, workerID, name, version, bw)
}

func reportDiff(ctx context.Context, svc Service, workerID string, msg map[string]any) error {
	key, ok := msg["request_key"].(string)
	if !ok || key == "" {
		return fmt.Errorf("%w: request_key", errInvalidField)
	}
	encoded, ok := msg["diff"].(string)
	if !ok || encoded == "" {
		return fmt.Errorf("%w: diff", errInvalidField)
	}
	diff, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: diff: %w", errInvalidField, err)
	}

	return svc.ReportDiff(ctx, workerID, key, diff)
}

func parseWorkerTopic(topic string) (string, string, error) {
	rest, ok := strings.CutPrefix(topic, workersTopic+"/")
	if !ok {
		return "", "", errInvalidTopic
	}
	workerID, op, ok := strings.Cut(rest, "/")
	if !ok || workerID == "" || op == "" {
		return "", "", errInvalidTopic
	}

	return workerID, op, nil
}

func number(msg map[string]any, key string) float64 {
	f, _ := msg[key].(float64)

	return f
}
