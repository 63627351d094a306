package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/absmach/fedcycle/pkg/errors"
	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
)

const (
	OffsetKey  = "offset"
	LimitKey   = "limit"
	VersionKey = "version"
	NumberKey  = "number"
	NameKey    = "name"
	WorkerKey  = "worker_id"
	ReqKeyKey  = "request_key"
	DefOffset  = 0
	DefLimit   = 100

	ContentType     = "application/json"
	CBORContentType = "application/cbor"
	OctetStream     = "application/octet-stream"

	MaxLimitSize = 100
)

func EncodeResponse(_ context.Context, w http.ResponseWriter, response any) error {
	if ar, ok := response.(supermq.Response); ok {
		for k, v := range ar.Headers() {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(ar.Code())

		if ar.Empty() {
			return nil
		}
	}

	return json.NewEncoder(w).Encode(response)
}

// EncodeBlob writes a raw binary response body.
func EncodeBlob(_ context.Context, w http.ResponseWriter, response any) error {
	data, ok := response.([]byte)
	if !ok {
		return pkgerrors.ErrInvalidData
	}
	w.Header().Set("Content-Type", OctetStream)
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(data)

	return err
}

func EncodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", ContentType)
	switch {
	case errors.Is(err, apiutil.ErrUnsupportedContentType):
		w.WriteHeader(http.StatusUnsupportedMediaType)
	case errors.Is(err, apiutil.ErrValidation),
		errors.Is(err, pkgerrors.ErrEmptyKey),
		errors.Is(err, fl.ErrConfigInvalid):
		w.WriteHeader(http.StatusBadRequest)
	case errors.Is(err, fl.ErrInvalidRequestKey):
		w.WriteHeader(http.StatusForbidden)
	case errors.Is(err, fl.ErrProcessNotFound),
		errors.Is(err, fl.ErrCycleNotFound),
		errors.Is(err, pkgerrors.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, fl.ErrProcessExists),
		errors.Is(err, fl.ErrProcessFinished),
		errors.Is(err, pkgerrors.ErrEntityExists):
		w.WriteHeader(http.StatusConflict)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}

	if err := json.NewEncoder(w).Encode(errorRes{Err: err.Error()}); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

type errorRes struct {
	Err string `json:"error"`
}
