package sdk

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/fxamacker/cbor/v2"
)

const cyclesEndpoint = "/cycles"

// CycleRequest carries a worker's identity, the process it wants to train
// and its latest bandwidth measurements.
type CycleRequest struct {
	WorkerID string  `json:"worker_id"`
	Model    string  `json:"model"`
	Version  string  `json:"version,omitempty"`
	Ping     float64 `json:"ping"`
	Upload   float64 `json:"upload"`
	Download float64 `json:"download"`
}

type report struct {
	WorkerID   string `cbor:"worker_id"`
	RequestKey string `cbor:"request_key"`
	Diff       []byte `cbor:"diff"`
}

func (sdk *fedSDK) RequestCycle(req CycleRequest) (fl.CycleDecision, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return fl.CycleDecision{}, err
	}

	body, err := sdk.processRequest(http.MethodPost, sdk.managerURL+cyclesEndpoint+"/request", CTJSON, data, http.StatusOK)
	if err != nil {
		return fl.CycleDecision{}, err
	}

	var d fl.CycleDecision
	if err := json.Unmarshal(body, &d); err != nil {
		return fl.CycleDecision{}, err
	}

	return d, nil
}

// ReportDiff sends the diff as CBOR so it travels as raw bytes.
func (sdk *fedSDK) ReportDiff(workerID, requestKey string, diff []byte) error {
	data, err := cbor.Marshal(report{WorkerID: workerID, RequestKey: requestKey, Diff: diff})
	if err != nil {
		return err
	}

	_, err = sdk.processRequest(http.MethodPost, sdk.managerURL+cyclesEndpoint+"/report", CTCBOR, data, http.StatusNoContent)

	return err
}

func (sdk *fedSDK) GetPlan(cycleID, plan, workerID, requestKey string) ([]byte, error) {
	return sdk.processRequest(http.MethodGet, sdk.cycleURL(cycleID, "/plans/"+url.PathEscape(plan), workerID, requestKey), CTJSON, nil, http.StatusOK)
}

func (sdk *fedSDK) GetProtocol(cycleID, protocol, workerID, requestKey string) ([]byte, error) {
	return sdk.processRequest(http.MethodGet, sdk.cycleURL(cycleID, "/protocols/"+url.PathEscape(protocol), workerID, requestKey), CTJSON, nil, http.StatusOK)
}

func (sdk *fedSDK) ValidateRequestKey(cycleID, workerID, requestKey string) (bool, error) {
	body, err := sdk.processRequest(http.MethodGet, sdk.cycleURL(cycleID, "/validate", workerID, requestKey), CTJSON, nil, http.StatusOK)
	if err != nil {
		return false, err
	}

	var res struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return false, err
	}

	return res.Valid, nil
}

func (sdk *fedSDK) cycleURL(cycleID, suffix, workerID, requestKey string) string {
	q := url.Values{}
	q.Set("worker_id", workerID)
	q.Set("request_key", requestKey)

	return sdk.managerURL + cyclesEndpoint + "/" + url.PathEscape(cycleID) + suffix + "?" + q.Encode()
}
