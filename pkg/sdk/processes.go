package sdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/absmach/fedcycle/pkg/fl"
)

const processesEndpoint = "/processes"

// Configs holds the two configs a process was created with.
type Configs struct {
	ServerConfig map[string]any `json:"server_config"`
	ClientConfig map[string]any `json:"client_config"`
}

func (sdk *fedSDK) CreateProcess(def fl.ProcessDefinition) (fl.Process, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return fl.Process{}, err
	}

	body, err := sdk.processRequest(http.MethodPost, sdk.managerURL+processesEndpoint+"/", CTJSON, data, http.StatusCreated)
	if err != nil {
		return fl.Process{}, err
	}

	var p fl.Process
	if err := json.Unmarshal(body, &p); err != nil {
		return fl.Process{}, err
	}

	return p, nil
}

func (sdk *fedSDK) GetProcess(name, version string) (fl.Process, error) {
	body, err := sdk.processRequest(http.MethodGet, sdk.processURL(name, "", version, nil), CTJSON, nil, http.StatusOK)
	if err != nil {
		return fl.Process{}, err
	}

	var p fl.Process
	if err := json.Unmarshal(body, &p); err != nil {
		return fl.Process{}, err
	}

	return p, nil
}

func (sdk *fedSDK) ListProcesses(offset, limit uint64) (fl.ProcessPage, error) {
	q := url.Values{}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	reqURL := sdk.managerURL + processesEndpoint + "/"
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	body, err := sdk.processRequest(http.MethodGet, reqURL, CTJSON, nil, http.StatusOK)
	if err != nil {
		return fl.ProcessPage{}, err
	}

	var page fl.ProcessPage
	if err := json.Unmarshal(body, &page); err != nil {
		return fl.ProcessPage{}, err
	}

	return page, nil
}

func (sdk *fedSDK) GetConfigs(name, version string) (Configs, error) {
	body, err := sdk.processRequest(http.MethodGet, sdk.processURL(name, "/configs", version, nil), CTJSON, nil, http.StatusOK)
	if err != nil {
		return Configs{}, err
	}

	var c Configs
	if err := json.Unmarshal(body, &c); err != nil {
		return Configs{}, err
	}

	return c, nil
}

func (sdk *fedSDK) GetCheckpoint(name, version string, number uint64) (fl.Checkpoint, error) {
	q := url.Values{}
	if number > 0 {
		q.Set("number", fmt.Sprint(number))
	}

	body, err := sdk.processRequest(http.MethodGet, sdk.processURL(name, "/checkpoint", version, q), CTJSON, nil, http.StatusOK)
	if err != nil {
		return fl.Checkpoint{}, err
	}

	var c fl.Checkpoint
	if err := json.Unmarshal(body, &c); err != nil {
		return fl.Checkpoint{}, err
	}

	return c, nil
}

func (sdk *fedSDK) ListCycles(name, version string) ([]fl.Cycle, error) {
	body, err := sdk.processRequest(http.MethodGet, sdk.processURL(name, "/cycles", version, nil), CTJSON, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var res struct {
		Cycles []fl.Cycle `json:"cycles"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, err
	}

	return res.Cycles, nil
}

func (sdk *fedSDK) processURL(name, suffix, version string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	if version != "" {
		q.Set("version", version)
	}
	u := sdk.managerURL + processesEndpoint + "/" + url.PathEscape(name) + suffix
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	return u
}
