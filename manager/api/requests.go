package api

import (
	"errors"

	"github.com/absmach/fedcycle/pkg/api"
	"github.com/absmach/fedcycle/pkg/fl"
	apiutil "github.com/absmach/supermq/api/http/util"
)

var (
	errMissingModel      = errors.New("missing model")
	errMissingServerConf = errors.New("missing server config")
	errMissingWorker     = errors.New("missing worker id")
	errMissingRequestKey = errors.New("missing request key")
	errMissingDiff       = errors.New("missing diff")
	errLimitSize         = errors.New("invalid limit size")
)

type processReq struct {
	fl.ProcessDefinition `json:",inline"`
}

func (req *processReq) validate() error {
	if len(req.Model) == 0 {
		return errMissingModel
	}
	if len(req.ServerConfig) == 0 {
		return errMissingServerConf
	}

	return nil
}

type processNameReq struct {
	name    string
	version string
}

func (req *processNameReq) validate() error {
	if req.name == "" {
		return apiutil.ErrMissingName
	}

	return nil
}

type listProcessesReq struct {
	offset, limit uint64
}

func (req *listProcessesReq) validate() error {
	if req.limit > api.MaxLimitSize || req.limit < 1 {
		return errLimitSize
	}

	return nil
}

type checkpointReq struct {
	processNameReq
	number uint64
}

type participationReq struct {
	processNameReq
	workerID string
}

func (req *participationReq) validate() error {
	if req.workerID == "" {
		return errMissingWorker
	}

	return req.processNameReq.validate()
}

type cycleReq struct {
	fl.Bandwidth `json:",inline"`
	WorkerID     string `json:"worker_id"`
	Name         string `json:"model"`
	Version      string `json:"version,omitempty"`
}

func (req *cycleReq) validate() error {
	if req.WorkerID == "" {
		return errMissingWorker
	}
	if req.Name == "" {
		return apiutil.ErrMissingName
	}

	return nil
}

type reportReq struct {
	WorkerID   string `json:"worker_id"   cbor:"worker_id"`
	RequestKey string `json:"request_key" cbor:"request_key"`
	Diff       []byte `json:"diff"        cbor:"diff"`
}

func (req *reportReq) validate() error {
	if req.WorkerID == "" {
		return errMissingWorker
	}
	if req.RequestKey == "" {
		return errMissingRequestKey
	}
	if len(req.Diff) == 0 {
		return errMissingDiff
	}

	return nil
}

type assetReq struct {
	cycleID    string
	name       string
	workerID   string
	requestKey string
}

func (req *assetReq) validate() error {
	if req.cycleID == "" {
		return apiutil.ErrMissingID
	}
	if req.workerID == "" {
		return errMissingWorker
	}
	if req.requestKey == "" {
		return errMissingRequestKey
	}

	return nil
}

type validateKeyReq struct {
	assetReq
}
