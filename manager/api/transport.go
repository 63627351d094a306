package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/absmach/fedcycle/manager"
	"github.com/absmach/fedcycle/pkg/api"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxBodySize = 1024 * 1024 * 100

func MakeHandler(svc manager.Service, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(apiutil.LoggingErrorEncoder(logger, api.EncodeError)),
	}

	mux.Route("/processes", func(r chi.Router) {
		r.Post("/", otelhttp.NewHandler(kithttp.NewServer(
			createProcessEndpoint(svc),
			decodeProcessReq,
			api.EncodeResponse,
			opts...,
		), "create-process").ServeHTTP)
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			listProcessesEndpoint(svc),
			decodeListProcessesReq,
			api.EncodeResponse,
			opts...,
		), "list-processes").ServeHTTP)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
				getProcessEndpoint(svc),
				decodeProcessNameReq,
				api.EncodeResponse,
				opts...,
			), "get-process").ServeHTTP)
			r.Get("/configs", otelhttp.NewHandler(kithttp.NewServer(
				getConfigsEndpoint(svc),
				decodeProcessNameReq,
				api.EncodeResponse,
				opts...,
			), "get-process-configs").ServeHTTP)
			r.Get("/cycles", otelhttp.NewHandler(kithttp.NewServer(
				listCyclesEndpoint(svc),
				decodeProcessNameReq,
				api.EncodeResponse,
				opts...,
			), "list-process-cycles").ServeHTTP)
			r.Get("/checkpoint", otelhttp.NewHandler(kithttp.NewServer(
				getCheckpointEndpoint(svc),
				decodeCheckpointReq,
				api.EncodeResponse,
				opts...,
			), "get-process-checkpoint").ServeHTTP)
		})
	})

	mux.Route("/workers", func(r chi.Router) {
		r.Post("/", otelhttp.NewHandler(kithttp.NewServer(
			registerWorkerEndpoint(svc),
			kithttp.NopRequestDecoder,
			api.EncodeResponse,
			opts...,
		), "register-worker").ServeHTTP)
		r.Get("/{workerID}/participation", otelhttp.NewHandler(kithttp.NewServer(
			participationEndpoint(svc),
			decodeParticipationReq,
			api.EncodeResponse,
			opts...,
		), "get-worker-participation").ServeHTTP)
	})

	mux.Route("/cycles", func(r chi.Router) {
		r.Post("/request", otelhttp.NewHandler(kithttp.NewServer(
			requestCycleEndpoint(svc),
			decodeCycleReq,
			api.EncodeResponse,
			opts...,
		), "request-cycle").ServeHTTP)
		r.Post("/report", otelhttp.NewHandler(kithttp.NewServer(
			reportDiffEndpoint(svc),
			decodeReportReq,
			api.EncodeResponse,
			opts...,
		), "report-diff").ServeHTTP)
		r.Route("/{cycleID}", func(r chi.Router) {
			r.Get("/plans/{plan}", otelhttp.NewHandler(kithttp.NewServer(
				getPlanEndpoint(svc),
				decodeAssetReq("plan"),
				api.EncodeBlob,
				opts...,
			), "get-plan").ServeHTTP)
			r.Get("/protocols/{protocol}", otelhttp.NewHandler(kithttp.NewServer(
				getProtocolEndpoint(svc),
				decodeAssetReq("protocol"),
				api.EncodeBlob,
				opts...,
			), "get-protocol").ServeHTTP)
			r.Get("/validate", otelhttp.NewHandler(kithttp.NewServer(
				validateKeyEndpoint(svc),
				decodeValidateKeyReq,
				api.EncodeResponse,
				opts...,
			), "validate-request-key").ServeHTTP)
		})
	})

	mux.Get("/health", supermq.Health("manager", instanceID))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func decodeProcessReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}

	var req processReq
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}

	return req, nil
}

func decodeListProcessesReq(_ context.Context, r *http.Request) (any, error) {
	o, err := apiutil.ReadNumQuery[uint64](r, api.OffsetKey, api.DefOffset)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	l, err := apiutil.ReadNumQuery[uint64](r, api.LimitKey, api.DefLimit)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	return listProcessesReq{
		offset: o,
		limit:  l,
	}, nil
}

func decodeProcessNameReq(_ context.Context, r *http.Request) (any, error) {
	return processNameReq{
		name:    chi.URLParam(r, "name"),
		version: r.URL.Query().Get(api.VersionKey),
	}, nil
}

func decodeCheckpointReq(_ context.Context, r *http.Request) (any, error) {
	n, err := apiutil.ReadNumQuery[uint64](r, api.NumberKey, 0)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	return checkpointReq{
		processNameReq: processNameReq{
			name:    chi.URLParam(r, "name"),
			version: r.URL.Query().Get(api.VersionKey),
		},
		number: n,
	}, nil
}

func decodeParticipationReq(_ context.Context, r *http.Request) (any, error) {
	return participationReq{
		processNameReq: processNameReq{
			name:    r.URL.Query().Get(api.NameKey),
			version: r.URL.Query().Get(api.VersionKey),
		},
		workerID: chi.URLParam(r, "workerID"),
	}, nil
}

func decodeCycleReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}

	var req cycleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}

	return req, nil
}

// decodeReportReq accepts the diff either as JSON with a base64 diff or as
// a CBOR document carrying raw bytes.
func decodeReportReq(_ context.Context, r *http.Request) (any, error) {
	body := io.LimitReader(r.Body, maxBodySize)

	var req reportReq
	switch ct := r.Header.Get("Content-Type"); {
	case strings.Contains(ct, api.CBORContentType):
		if err := cbor.NewDecoder(body).Decode(&req); err != nil {
			return nil, errors.Join(err, apiutil.ErrValidation)
		}
	case strings.Contains(ct, api.ContentType):
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			return nil, errors.Join(err, apiutil.ErrValidation)
		}
	default:
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}

	return req, nil
}

func decodeAssetReq(key string) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (any, error) {
		return assetReq{
			cycleID:    chi.URLParam(r, "cycleID"),
			name:       chi.URLParam(r, key),
			workerID:   r.URL.Query().Get(api.WorkerKey),
			requestKey: r.URL.Query().Get(api.ReqKeyKey),
		}, nil
	}
}

func decodeValidateKeyReq(_ context.Context, r *http.Request) (any, error) {
	return validateKeyReq{
		assetReq: assetReq{
			cycleID:    chi.URLParam(r, "cycleID"),
			workerID:   r.URL.Query().Get(api.WorkerKey),
			requestKey: r.URL.Query().Get(api.ReqKeyKey),
		},
	}, nil
}
