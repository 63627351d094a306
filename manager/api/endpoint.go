package api

import (
	"context"
	"errors"

	"github.com/absmach/fedcycle/manager"
	pkgerrors "github.com/absmach/fedcycle/pkg/errors"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-kit/kit/endpoint"
)

func createProcessEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(processReq)
		if !ok {
			return processResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return processResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		p, err := svc.CreateProcess(ctx, req.ProcessDefinition)
		if err != nil {
			return processResponse{}, err
		}

		return processResponse{
			Process: p,
			created: true,
		}, nil
	}
}

func getProcessEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(processNameReq)
		if !ok {
			return processResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return processResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		p, err := svc.GetProcess(ctx, req.name, req.version)
		if err != nil {
			return processResponse{}, err
		}

		return processResponse{
			Process: p,
		}, nil
	}
}

func listProcessesEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listProcessesReq)
		if !ok {
			return listProcessesResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listProcessesResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		page, err := svc.ListProcesses(ctx, req.offset, req.limit)
		if err != nil {
			return listProcessesResponse{}, err
		}

		return listProcessesResponse{
			ProcessPage: page,
		}, nil
	}
}

func getConfigsEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(processNameReq)
		if !ok {
			return configsResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return configsResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		server, client, err := svc.GetConfigs(ctx, req.name, req.version)
		if err != nil {
			return configsResponse{}, err
		}

		return configsResponse{
			ServerConfig: server,
			ClientConfig: client,
		}, nil
	}
}

func listCyclesEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(processNameReq)
		if !ok {
			return cyclesResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return cyclesResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		cycles, err := svc.ListCycles(ctx, req.name, req.version)
		if err != nil {
			return cyclesResponse{}, err
		}

		return cyclesResponse{
			Cycles: cycles,
		}, nil
	}
}

func getCheckpointEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(checkpointReq)
		if !ok {
			return checkpointResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return checkpointResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		c, err := svc.GetCheckpoint(ctx, req.name, req.version, req.number)
		if err != nil {
			return checkpointResponse{}, err
		}

		return checkpointResponse{
			Checkpoint: c,
		}, nil
	}
}

func registerWorkerEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		w, err := svc.RegisterWorker(ctx)
		if err != nil {
			return workerResponse{}, err
		}

		return workerResponse{
			Worker: w,
		}, nil
	}
}

func participationEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(participationReq)
		if !ok {
			return participationResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return participationResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		seq, err := svc.GetLastParticipation(ctx, req.workerID, req.name, req.version)
		if err != nil {
			return participationResponse{}, err
		}

		return participationResponse{
			WorkerID: req.workerID,
			Sequence: seq,
		}, nil
	}
}

func requestCycleEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(cycleReq)
		if !ok {
			return cycleResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return cycleResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		d, err := svc.RequestCycle(ctx, req.WorkerID, req.Name, req.Version, req.Bandwidth)
		if err != nil {
			return cycleResponse{}, err
		}

		return cycleResponse{
			CycleDecision: d,
		}, nil
	}
}

func reportDiffEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(reportReq)
		if !ok {
			return reportResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return reportResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.ReportDiff(ctx, req.WorkerID, req.RequestKey, req.Diff); err != nil {
			return reportResponse{}, err
		}

		return reportResponse{}, nil
	}
}

func getPlanEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(assetReq)
		if !ok {
			return nil, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return nil, errors.Join(apiutil.ErrValidation, err)
		}

		return svc.GetPlan(ctx, req.workerID, req.cycleID, req.requestKey, req.name)
	}
}

func getProtocolEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(assetReq)
		if !ok {
			return nil, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return nil, errors.Join(apiutil.ErrValidation, err)
		}

		return svc.GetProtocol(ctx, req.workerID, req.cycleID, req.requestKey, req.name)
	}
}

func validateKeyEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(validateKeyReq)
		if !ok {
			return validateKeyResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return validateKeyResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		valid, err := svc.ValidateRequestKey(ctx, req.workerID, req.cycleID, req.requestKey)
		if err != nil {
			return validateKeyResponse{}, err
		}

		return validateKeyResponse{
			Valid: valid,
		}, nil
	}
}
