package api

import (
	"fmt"
	"net/http"

	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/absmach/supermq"
)

var (
	_ supermq.Response = (*processResponse)(nil)
	_ supermq.Response = (*listProcessesResponse)(nil)
	_ supermq.Response = (*configsResponse)(nil)
	_ supermq.Response = (*checkpointResponse)(nil)
	_ supermq.Response = (*cyclesResponse)(nil)
	_ supermq.Response = (*workerResponse)(nil)
	_ supermq.Response = (*participationResponse)(nil)
	_ supermq.Response = (*cycleResponse)(nil)
	_ supermq.Response = (*reportResponse)(nil)
	_ supermq.Response = (*validateKeyResponse)(nil)
)

type processResponse struct {
	fl.Process
	created bool
}

func (res processResponse) Code() int {
	if res.created {
		return http.StatusCreated
	}

	return http.StatusOK
}

func (res processResponse) Headers() map[string]string {
	if res.created {
		return map[string]string{
			"Location": fmt.Sprintf("/processes/%s?version=%s", res.Name, res.Version),
		}
	}

	return map[string]string{}
}

func (res processResponse) Empty() bool {
	return false
}

type listProcessesResponse struct {
	fl.ProcessPage
}

func (res listProcessesResponse) Code() int {
	return http.StatusOK
}

func (res listProcessesResponse) Headers() map[string]string {
	return map[string]string{}
}

func (res listProcessesResponse) Empty() bool {
	return false
}

type configsResponse struct {
	ServerConfig fl.ServerConfig `json:"server_config"`
	ClientConfig map[string]any  `json:"client_config"`
}

func (res configsResponse) Code() int {
	return http.StatusOK
}

func (res configsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (res configsResponse) Empty() bool {
	return false
}

type checkpointResponse struct {
	fl.Checkpoint
}

func (res checkpointResponse) Code() int {
	return http.StatusOK
}

func (res checkpointResponse) Headers() map[string]string {
	return map[string]string{}
}

func (res checkpointResponse) Empty() bool {
	return false
}

type cyclesResponse struct {
	Cycles []fl.Cycle `json:"cycles"`
}

func (res cyclesResponse) Code() int {
	return http.StatusOK
}

func (res cyclesResponse) Headers() map[string]string {
	return map[string]string{}
}

func (res cyclesResponse) Empty() bool {
	return false
}

type workerResponse struct {
	fl.Worker
}

func (res workerResponse) Code() int {
	return http.StatusCreated
}

func (res workerResponse) Headers() map[string]string {
	return map[string]string{
		"Location": "/workers/" + res.ID,
	}
}

func (res workerResponse) Empty() bool {
	return false
}

type participationResponse struct {
	WorkerID string `json:"worker_id"`
	Sequence uint64 `json:"sequence"`
}

func (res participationResponse) Code() int {
	return http.StatusOK
}

func (res participationResponse) Headers() map[string]string {
	return map[string]string{}
}

func (res participationResponse) Empty() bool {
	return false
}

type cycleResponse struct {
	fl.CycleDecision
}

func (res cycleResponse) Code() int {
	return http.StatusOK
}

func (res cycleResponse) Headers() map[string]string {
	return map[string]string{}
}

func (res cycleResponse) Empty() bool {
	return false
}

type reportResponse struct{}

func (res reportResponse) Code() int {
	return http.StatusNoContent
}

func (res reportResponse) Headers() map[string]string {
	return map[string]string{}
}

func (res reportResponse) Empty() bool {
	return true
}

type validateKeyResponse struct {
	Valid bool `json:"valid"`
}

func (res validateKeyResponse) Code() int {
	return http.StatusOK
}

func (res validateKeyResponse) Headers() map[string]string {
	return map[string]string{}
}

func (res validateKeyResponse) Empty() bool {
	return false
}
