package sdk

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/absmach/fedcycle/pkg/fl"
)

const (
	CTJSON string = "application/json"
	CTCBOR string = "application/cbor"
)

type SDK interface {
	// CreateProcess hosts a new federated-learning process.
	//
	// example:
	//  def := fl.ProcessDefinition{
	//    Name:         "mnist",
	//    Model:        model,
	//    ServerConfig: map[string]any{"num_cycles": 5},
	//  }
	//  p, _ := sdk.CreateProcess(def)
	//  fmt.Println(p)
	CreateProcess(def fl.ProcessDefinition) (fl.Process, error)

	// GetProcess gets a process by name. An empty version selects the most
	// recently created one.
	//
	// example:
	//  p, _ := sdk.GetProcess("mnist", "")
	//  fmt.Println(p)
	GetProcess(name, version string) (fl.Process, error)

	// ListProcesses lists processes.
	//
	// example:
	//  page, _ := sdk.ListProcesses(0, 10)
	//  fmt.Println(page)
	ListProcesses(offset, limit uint64) (fl.ProcessPage, error)

	// GetConfigs returns the server and client config of a process.
	//
	// example:
	//  cfg, _ := sdk.GetConfigs("mnist", "")
	//  fmt.Println(cfg.ServerConfig)
	GetConfigs(name, version string) (Configs, error)

	// GetCheckpoint returns a checkpoint of a process. Number 0 selects the
	// current one.
	//
	// example:
	//  c, _ := sdk.GetCheckpoint("mnist", "", 0)
	//  fmt.Println(c.Number)
	GetCheckpoint(name, version string, number uint64) (fl.Checkpoint, error)

	// ListCycles lists the cycles of a process in sequence order.
	//
	// example:
	//  cycles, _ := sdk.ListCycles("mnist", "")
	//  fmt.Println(cycles)
	ListCycles(name, version string) ([]fl.Cycle, error)

	// RegisterWorker registers a new worker and returns its id.
	//
	// example:
	//  w, _ := sdk.RegisterWorker()
	//  fmt.Println(w.ID)
	RegisterWorker() (fl.Worker, error)

	// GetLastParticipation returns the sequence of the last cycle of the
	// process the worker was admitted into, or 0.
	//
	// example:
	//  seq, _ := sdk.GetLastParticipation("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040", "mnist", "")
	//  fmt.Println(seq)
	GetLastParticipation(workerID, name, version string) (uint64, error)

	// RequestCycle asks to join the open cycle of a process.
	//
	// example:
	//  d, _ := sdk.RequestCycle(sdk.CycleRequest{WorkerID: id, Model: "mnist", Upload: 10, Download: 10})
	//  fmt.Println(d.Status)
	RequestCycle(req CycleRequest) (fl.CycleDecision, error)

	// ReportDiff reports the diff trained during an admitted cycle.
	//
	// example:
	//  _ = sdk.ReportDiff(workerID, requestKey, diff)
	ReportDiff(workerID, requestKey string, diff []byte) error

	// GetPlan downloads a plan of the cycle the request key admits into.
	//
	// example:
	//  plan, _ := sdk.GetPlan(cycleID, "training_plan", workerID, requestKey)
	GetPlan(cycleID, plan, workerID, requestKey string) ([]byte, error)

	// GetProtocol downloads a protocol of the cycle the request key admits into.
	//
	// example:
	//  protocol, _ := sdk.GetProtocol(cycleID, "secure_aggregation", workerID, requestKey)
	GetProtocol(cycleID, protocol, workerID, requestKey string) ([]byte, error)

	// ValidateRequestKey checks a request key against a cycle.
	//
	// example:
	//  ok, _ := sdk.ValidateRequestKey(cycleID, workerID, requestKey)
	ValidateRequestKey(cycleID, workerID, requestKey string) (bool, error)
}

type fedSDK struct {
	managerURL string
	client     *http.Client
}

type Config struct {
	ManagerURL      string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &fedSDK{
		managerURL: cfg.ManagerURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *fedSDK) processRequest(method, reqURL, contentType string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", contentType)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return []byte{}, fmt.Errorf("unexpected response code: %d: %s", resp.StatusCode, e.Error)
		}

		return []byte{}, fmt.Errorf("unexpected response code: %d", resp.StatusCode)
	}

	return body, nil
}
