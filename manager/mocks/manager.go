package mocks

import (
	"context"

	"github.com/absmach/fedcycle/manager"
	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/stretchr/testify/mock"
)

var _ manager.Service = (*MockService)(nil)

// MockService is a mock implementation of the manager.Service interface
type MockService struct {
	mock.Mock
}

func (m *MockService) CreateProcess(ctx context.Context, def fl.ProcessDefinition) (fl.Process, error) {
	args := m.Called(ctx, def)

	return args.Get(0).(fl.Process), args.Error(1)
}

func (m *MockService) GetProcess(ctx context.Context, name, version string) (fl.Process, error) {
	args := m.Called(ctx, name, version)

	return args.Get(0).(fl.Process), args.Error(1)
}

func (m *MockService) ListProcesses(ctx context.Context, offset, limit uint64) (fl.ProcessPage, error) {
	args := m.Called(ctx, offset, limit)

	return args.Get(0).(fl.ProcessPage), args.Error(1)
}

func (m *MockService) GetConfigs(ctx context.Context, name, version string) (fl.ServerConfig, map[string]any, error) {
	args := m.Called(ctx, name, version)
	client, _ := args.Get(1).(map[string]any)

	return args.Get(0).(fl.ServerConfig), client, args.Error(2)
}

func (m *MockService) GetCheckpoint(ctx context.Context, name, version string, number uint64) (fl.Checkpoint, error) {
	args := m.Called(ctx, name, version, number)

	return args.Get(0).(fl.Checkpoint), args.Error(1)
}

func (m *MockService) ListCycles(ctx context.Context, name, version string) ([]fl.Cycle, error) {
	args := m.Called(ctx, name, version)
	cycles, _ := args.Get(0).([]fl.Cycle)

	return cycles, args.Error(1)
}

func (m *MockService) RegisterWorker(ctx context.Context) (fl.Worker, error) {
	args := m.Called(ctx)

	return args.Get(0).(fl.Worker), args.Error(1)
}

func (m *MockService) RequestCycle(ctx context.Context, workerID, name, version string, bw fl.Bandwidth) (fl.CycleDecision, error) {
	args := m.Called(ctx, workerID, name, version, bw)

	return args.Get(0).(fl.CycleDecision), args.Error(1)
}

func (m *MockService) ReportDiff(ctx context.Context, workerID, requestKey string, diff []byte) error {
	args := m.Called(ctx, workerID, requestKey, diff)

	return args.Error(0)
}

func (m *MockService) MaybeCompleteCycle(ctx context.Context, cycleID string) (bool, error) {
	args := m.Called(ctx, cycleID)

	return args.Bool(0), args.Error(1)
}

func (m *MockService) GetLastParticipation(ctx context.Context, workerID, name, version string) (uint64, error) {
	args := m.Called(ctx, workerID, name, version)

	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockService) ValidateRequestKey(ctx context.Context, workerID, cycleID, requestKey string) (bool, error) {
	args := m.Called(ctx, workerID, cycleID, requestKey)

	return args.Bool(0), args.Error(1)
}

func (m *MockService) GetPlan(ctx context.Context, workerID, cycleID, requestKey, plan string) ([]byte, error) {
	args := m.Called(ctx, workerID, cycleID, requestKey, plan)
	data, _ := args.Get(0).([]byte)

	return data, args.Error(1)
}

func (m *MockService) GetProtocol(ctx context.Context, workerID, cycleID, requestKey, protocol string) ([]byte, error) {
	args := m.Called(ctx, workerID, cycleID, requestKey, protocol)
	data, _ := args.Get(0).([]byte)

	return data, args.Error(1)
}

func (m *MockService) SweepCycles(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
