package sdk

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/absmach/fedcycle/pkg/fl"
)

const workersEndpoint = "/workers"

func (sdk *fedSDK) RegisterWorker() (fl.Worker, error) {
	body, err := sdk.processRequest(http.MethodPost, sdk.managerURL+workersEndpoint+"/", CTJSON, nil, http.StatusCreated)
	if err != nil {
		return fl.Worker{}, err
	}

	var w fl.Worker
	if err := json.Unmarshal(body, &w); err != nil {
		return fl.Worker{}, err
	}

	return w, nil
}

func (sdk *fedSDK) GetLastParticipation(workerID, name, version string) (uint64, error) {
	q := url.Values{}
	q.Set("name", name)
	if version != "" {
		q.Set("version", version)
	}
	reqURL := sdk.managerURL + workersEndpoint + "/" + url.PathEscape(workerID) + "/participation?" + q.Encode()

	body, err := sdk.processRequest(http.MethodGet, reqURL, CTJSON, nil, http.StatusOK)
	if err != nil {
		return 0, err
	}

	var res struct {
		Sequence uint64 `json:"sequence"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, err
	}

	return res.Sequence, nil
}
