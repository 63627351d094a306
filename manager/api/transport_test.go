package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/absmach/fedcycle/manager/api"
	"github.com/absmach/fedcycle/manager/mocks"
	pkgerrors "github.com/absmach/fedcycle/pkg/errors"
	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	workerID   = "worker-1"
	requestKey = "3f2a"
	cycleID    = "cycle-1"
)

var process = fl.Process{
	ID:           "process-1",
	Name:         "mnist",
	Version:      fl.DefaultVersion,
	CheckpointID: "checkpoint-1",
}

type testRequest struct {
	client      *http.Client
	method      string
	url         string
	contentType string
	body        io.Reader
}

func (tr testRequest) make() (*http.Response, error) {
	req, err := http.NewRequest(tr.method, tr.url, tr.body)
	if err != nil {
		return nil, err
	}
	if tr.contentType != "" {
		req.Header.Set("Content-Type", tr.contentType)
	}

	return tr.client.Do(req)
}

func newServer() (*httptest.Server, *mocks.MockService) {
	svc := &mocks.MockService{}
	handler := api.MakeHandler(svc, slog.New(slog.DiscardHandler), "test")

	return httptest.NewServer(handler), svc
}

func toJSON(t *testing.T, v any) string {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)

	return string(data)
}

func TestCreateProcess(t *testing.T) {
	ts, svc := newServer()
	defer ts.Close()

	valid := toJSON(t, map[string]any{
		"name":          "mnist",
		"model":         []byte{1, 2, 3},
		"server_config": map[string]any{"num_cycles": 2},
	})

	cases := []struct {
		desc        string
		body        string
		contentType string
		svcErr      error
		status      int
	}{
		{
			desc:        "create process",
			body:        valid,
			contentType: "application/json",
			status:      http.StatusCreated,
		},
		{
			desc:        "create existing process",
			body:        valid,
			contentType: "application/json",
			svcErr:      fl.ErrProcessExists,
			status:      http.StatusConflict,
		},
		{
			desc:        "create process with invalid config",
			body:        valid,
			contentType: "application/json",
			svcErr:      fl.ErrConfigInvalid,
			status:      http.StatusBadRequest,
		},
		{
			desc:        "create process without model",
			body:        toJSON(t, map[string]any{"name": "mnist", "server_config": map[string]any{"num_cycles": 2}}),
			contentType: "application/json",
			status:      http.StatusBadRequest,
		},
		{
			desc:        "create process with malformed body",
			body:        "{",
			contentType: "application/json",
			status:      http.StatusBadRequest,
		},
		{
			desc:        "create process with unsupported content type",
			body:        valid,
			contentType: "text/plain",
			status:      http.StatusUnsupportedMediaType,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			call := svc.On("CreateProcess", mock.Anything, mock.MatchedBy(func(def fl.ProcessDefinition) bool {
				return def.Name == "mnist" && bytes.Equal(def.Model, []byte{1, 2, 3})
			})).Return(process, tc.svcErr)
			defer call.Unset()

			res, err := testRequest{
				client:      ts.Client(),
				method:      http.MethodPost,
				url:         ts.URL + "/processes/",
				contentType: tc.contentType,
				body:        bytes.NewBufferString(tc.body),
			}.make()
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, tc.status, res.StatusCode)
			if tc.status == http.StatusCreated {
				assert.Equal(t, "/processes/mnist?version=1.0.0", res.Header.Get("Location"))
			}
		})
	}
}

func TestGetProcess(t *testing.T) {
	ts, svc := newServer()
	defer ts.Close()

	cases := []struct {
		desc    string
		name    string
		version string
		svcErr  error
		status  int
	}{
		{desc: "get latest process", name: "mnist", status: http.StatusOK},
		{desc: "get process version", name: "mnist", version: "2.0.0", status: http.StatusOK},
		{desc: "get unknown process", name: "missing", svcErr: fl.ErrProcessNotFound, status: http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			call := svc.On("GetProcess", mock.Anything, tc.name, tc.version).Return(process, tc.svcErr)
			defer call.Unset()

			url := fmt.Sprintf("%s/processes/%s", ts.URL, tc.name)
			if tc.version != "" {
				url += "?version=" + tc.version
			}
			res, err := testRequest{client: ts.Client(), method: http.MethodGet, url: url}.make()
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, tc.status, res.StatusCode)
			if tc.status != http.StatusOK {
				return
			}
			var got fl.Process
			require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
			assert.Equal(t, process.ID, got.ID)
		})
	}
}

func TestListProcesses(t *testing.T) {
	ts, svc := newServer()
	defer ts.Close()

	cases := []struct {
		desc   string
		query  string
		offset uint64
		limit  uint64
		status int
	}{
		{desc: "list with defaults", query: "", offset: 0, limit: 100, status: http.StatusOK},
		{desc: "list with paging", query: "?offset=5&limit=10", offset: 5, limit: 10, status: http.StatusOK},
		{desc: "list with limit too large", query: "?limit=1000", status: http.StatusBadRequest},
		{desc: "list with invalid offset", query: "?offset=abc", status: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			call := svc.On("ListProcesses", mock.Anything, tc.offset, tc.limit).
				Return(fl.ProcessPage{Offset: tc.offset, Limit: tc.limit, Total: 1, Processes: []fl.Process{process}}, nil)
			defer call.Unset()

			res, err := testRequest{client: ts.Client(), method: http.MethodGet, url: ts.URL + "/processes/" + tc.query}.make()
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, tc.status, res.StatusCode)
			if tc.status != http.StatusOK {
				return
			}
			var page fl.ProcessPage
			require.NoError(t, json.NewDecoder(res.Body).Decode(&page))
			assert.Equal(t, uint64(1), page.Total)
		})
	}
}

func TestGetCheckpoint(t *testing.T) {
	ts, svc := newServer()
	defer ts.Close()

	cases := []struct {
		desc   string
		query  string
		number uint64
		svcErr error
		status int
	}{
		{desc: "get current checkpoint", number: 0, status: http.StatusOK},
		{desc: "get numbered checkpoint", query: "?number=2", number: 2, status: http.StatusOK},
		{desc: "get missing checkpoint", query: "?number=9", number: 9, svcErr: pkgerrors.ErrNotFound, status: http.StatusNotFound},
		{desc: "get checkpoint with invalid number", query: "?number=x", status: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			call := svc.On("GetCheckpoint", mock.Anything, "mnist", "", tc.number).
				Return(fl.Checkpoint{ID: "checkpoint-1", Number: 1}, tc.svcErr)
			defer call.Unset()

			res, err := testRequest{client: ts.Client(), method: http.MethodGet, url: ts.URL + "/processes/mnist/checkpoint" + tc.query}.make()
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, tc.status, res.StatusCode)
		})
	}
}

func TestRequestCycle(t *testing.T) {
	ts, svc := newServer()
	defer ts.Close()

	timeout := 42.0
	cases := []struct {
		desc     string
		body     string
		decision fl.CycleDecision
		svcErr   error
		status   int
	}{
		{
			desc:     "accepted request",
			body:     `{"worker_id":"worker-1","model":"mnist","ping":5,"upload":10,"download":10}`,
			decision: fl.CycleDecision{Status: fl.Accepted, RequestKey: requestKey, Model: "mnist"},
			status:   http.StatusOK,
		},
		{
			desc:     "rejected request",
			body:     `{"worker_id":"worker-1","model":"mnist","ping":5,"upload":10,"download":10}`,
			decision: fl.CycleDecision{Status: fl.Rejected, Model: "mnist", Timeout: &timeout},
			status:   http.StatusOK,
		},
		{
			desc:   "request for finished process",
			body:   `{"worker_id":"worker-1","model":"mnist","ping":5,"upload":10,"download":10}`,
			svcErr: fl.ErrProcessFinished,
			status: http.StatusConflict,
		},
		{
			desc:   "request without worker",
			body:   `{"model":"mnist"}`,
			status: http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			call := svc.On("RequestCycle", mock.Anything, workerID, "mnist", "", fl.Bandwidth{Ping: 5, Upload: 10, Download: 10}).
				Return(tc.decision, tc.svcErr)
			defer call.Unset()

			res, err := testRequest{
				client:      ts.Client(),
				method:      http.MethodPost,
				url:         ts.URL + "/cycles/request",
				contentType: "application/json",
				body:        bytes.NewBufferString(tc.body),
			}.make()
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, tc.status, res.StatusCode)
			if tc.status != http.StatusOK {
				return
			}
			var got fl.CycleDecision
			require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
			assert.Equal(t, tc.decision, got)
		})
	}
}

func TestReportDiff(t *testing.T) {
	ts, svc := newServer()
	defer ts.Close()

	diff := []byte{0x81, 0x81, 0x01}
	report := map[string]any{"worker_id": workerID, "request_key": requestKey, "diff": diff}
	cborBody, err := cbor.Marshal(report)
	require.NoError(t, err)

	cases := []struct {
		desc        string
		body        []byte
		contentType string
		svcErr      error
		status      int
	}{
		{
			desc:        "report diff as json",
			body:        []byte(toJSON(t, report)),
			contentType: "application/json",
			status:      http.StatusNoContent,
		},
		{
			desc:        "report diff as cbor",
			body:        cborBody,
			contentType: "application/cbor",
			status:      http.StatusNoContent,
		},
		{
			desc:        "report diff with invalid key",
			body:        cborBody,
			contentType: "application/cbor",
			svcErr:      fl.ErrInvalidRequestKey,
			status:      http.StatusForbidden,
		},
		{
			desc:        "report diff with failed aggregation",
			body:        cborBody,
			contentType: "application/cbor",
			svcErr:      fl.ErrAggregationFailed,
			status:      http.StatusInternalServerError,
		},
		{
			desc:        "report diff without request key",
			body:        []byte(toJSON(t, map[string]any{"worker_id": workerID, "diff": diff})),
			contentType: "application/json",
			status:      http.StatusBadRequest,
		},
		{
			desc:        "report diff with unsupported content type",
			body:        cborBody,
			contentType: "text/plain",
			status:      http.StatusUnsupportedMediaType,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			call := svc.On("ReportDiff", mock.Anything, workerID, requestKey, diff).Return(tc.svcErr)
			defer call.Unset()

			res, err := testRequest{
				client:      ts.Client(),
				method:      http.MethodPost,
				url:         ts.URL + "/cycles/report",
				contentType: tc.contentType,
				body:        bytes.NewReader(tc.body),
			}.make()
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, tc.status, res.StatusCode)
		})
	}
}

func TestGetPlan(t *testing.T) {
	ts, svc := newServer()
	defer ts.Close()

	cases := []struct {
		desc   string
		query  string
		data   []byte
		svcErr error
		status int
	}{
		{
			desc:   "download plan",
			query:  fmt.Sprintf("?worker_id=%s&request_key=%s", workerID, requestKey),
			data:   []byte("plan-bytes"),
			status: http.StatusOK,
		},
		{
			desc:   "download plan with wrong key",
			query:  fmt.Sprintf("?worker_id=%s&request_key=%s", workerID, requestKey),
			svcErr: fl.ErrInvalidRequestKey,
			status: http.StatusForbidden,
		},
		{
			desc:   "download plan without key",
			query:  "?worker_id=" + workerID,
			status: http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			call := svc.On("GetPlan", mock.Anything, workerID, cycleID, requestKey, "training_plan").Return(tc.data, tc.svcErr)
			defer call.Unset()

			res, err := testRequest{
				client: ts.Client(),
				method: http.MethodGet,
				url:    fmt.Sprintf("%s/cycles/%s/plans/training_plan%s", ts.URL, cycleID, tc.query),
			}.make()
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, tc.status, res.StatusCode)
			if tc.status != http.StatusOK {
				return
			}
			body, err := io.ReadAll(res.Body)
			require.NoError(t, err)
			assert.Equal(t, tc.data, body)
			assert.Equal(t, "application/octet-stream", res.Header.Get("Content-Type"))
		})
	}
}

func TestValidateRequestKey(t *testing.T) {
	ts, svc := newServer()
	defer ts.Close()

	cases := []struct {
		desc   string
		valid  bool
		svcErr error
		status int
	}{
		{desc: "valid key", valid: true, status: http.StatusOK},
		{desc: "invalid key", valid: false, status: http.StatusOK},
		{desc: "unassigned worker", svcErr: fl.ErrCycleNotFound, status: http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			call := svc.On("ValidateRequestKey", mock.Anything, workerID, cycleID, requestKey).Return(tc.valid, tc.svcErr)
			defer call.Unset()

			res, err := testRequest{
				client: ts.Client(),
				method: http.MethodGet,
				url:    fmt.Sprintf("%s/cycles/%s/validate?worker_id=%s&request_key=%s", ts.URL, cycleID, workerID, requestKey),
			}.make()
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, tc.status, res.StatusCode)
			if tc.status != http.StatusOK {
				return
			}
			var got struct {
				Valid bool `json:"valid"`
			}
			require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
			assert.Equal(t, tc.valid, got.Valid)
		})
	}
}

func TestWorkers(t *testing.T) {
	ts, svc := newServer()
	defer ts.Close()

	svc.On("RegisterWorker", mock.Anything).Return(fl.Worker{ID: workerID}, nil)
	svc.On("GetLastParticipation", mock.Anything, workerID, "mnist", "").Return(uint64(3), nil)

	res, err := testRequest{client: ts.Client(), method: http.MethodPost, url: ts.URL + "/workers/"}.make()
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, "/workers/"+workerID, res.Header.Get("Location"))

	res, err = testRequest{client: ts.Client(), method: http.MethodGet, url: ts.URL + "/workers/" + workerID + "/participation?name=mnist"}.make()
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var got struct {
		Sequence uint64 `json:"sequence"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, uint64(3), got.Sequence)

	res, err = testRequest{client: ts.Client(), method: http.MethodGet, url: ts.URL + "/workers/" + workerID + "/participation"}.make()
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestHealth(t *testing.T) {
	ts, _ := newServer()
	defer ts.Close()

	res, err := testRequest{client: ts.Client(), method: http.MethodGet, url: ts.URL + "/health"}.make()
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
