package manager_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/absmach/fedcycle/manager"
	svcmocks "github.com/absmach/fedcycle/manager/mocks"
	"github.com/absmach/fedcycle/pkg/fl"
	mqttmocks "github.com/absmach/fedcycle/pkg/mqtt/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const mqttWorker = "b1d10738-c5d7-4ff1-8f4d-b9328ce6f040"

func TestSubscribeWorkerTopics(t *testing.T) {
	svc := &svcmocks.MockService{}
	pubsub := &mqttmocks.MockPubSub{}

	var topics []string
	pubsub.On("Subscribe", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { topics = append(topics, args.String(1)) }).
		Return(nil)

	err := manager.Subscribe(context.Background(), svc, pubsub, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, []string{"fl/workers/+/cycle-request", "fl/workers/+/report"}, topics)
}

func TestHandleCycleRequest(t *testing.T) {
	bw := fl.Bandwidth{Ping: 5, Upload: 10, Download: 10}
	accepted := fl.CycleDecision{Status: fl.Accepted, RequestKey: "key", Model: "mnist", Version: "1.0"}

	cases := []struct {
		desc     string
		msg      map[string]any
		decision fl.CycleDecision
		svcErr   error
		reply    any
		called   bool
	}{
		{
			desc:     "accepted request",
			msg:      map[string]any{"model": "mnist", "version": "1.0", "ping": 5.0, "upload": 10.0, "download": 10.0},
			decision: accepted,
			reply:    accepted,
			called:   true,
		},
		{
			desc:   "service failure",
			msg:    map[string]any{"model": "mnist", "version": "1.0", "ping": 5.0, "upload": 10.0, "download": 10.0},
			svcErr: fl.ErrProcessNotFound,
			reply:  map[string]string{"status": "error", "error": fl.ErrProcessNotFound.Error()},
			called: true,
		},
		{
			desc:  "missing model",
			msg:   map[string]any{"version": "1.0"},
			reply: map[string]string{"status": "error"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			svc := &svcmocks.MockService{}
			pubsub := &mqttmocks.MockPubSub{}
			ctx := context.Background()

			if tc.called {
				svc.On("RequestCycle", ctx, mqttWorker, "mnist", "1.0", bw).Return(tc.decision, tc.svcErr)
			}

			var published any
			pubsub.On("Publish", ctx, manager.ResponseTopic(mqttWorker, "cycle-request"), mock.Anything).
				Run(func(args mock.Arguments) { published = args.Get(2) }).
				Return(nil)

			h := manager.Handle(ctx, svc, pubsub, slog.Default())
			err := h(manager.WorkerTopic(mqttWorker, "cycle-request"), tc.msg)
			require.NoError(t, err)

			svc.AssertExpectations(t)
			pubsub.AssertNumberOfCalls(t, "Publish", 1)
			assertReply(t, tc.reply, published)
		})
	}
}

func TestHandleReport(t *testing.T) {
	diff := []byte{1, 2, 3, 4}

	cases := []struct {
		desc   string
		msg    map[string]any
		svcErr error
		status string
		called bool
	}{
		{
			desc:   "valid report",
			msg:    map[string]any{"request_key": "key", "diff": base64.StdEncoding.EncodeToString(diff)},
			status: "success",
			called: true,
		},
		{
			desc:   "invalid request key",
			msg:    map[string]any{"request_key": "key", "diff": base64.StdEncoding.EncodeToString(diff)},
			svcErr: fl.ErrInvalidRequestKey,
			status: "error",
			called: true,
		},
		{
			desc:   "diff not base64",
			msg:    map[string]any{"request_key": "key", "diff": "%%%"},
			status: "error",
		},
		{
			desc:   "missing request key",
			msg:    map[string]any{"diff": base64.StdEncoding.EncodeToString(diff)},
			status: "error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			svc := &svcmocks.MockService{}
			pubsub := &mqttmocks.MockPubSub{}
			ctx := context.Background()

			if tc.called {
				svc.On("ReportDiff", ctx, mqttWorker, "key", diff).Return(tc.svcErr)
			}

			var published any
			pubsub.On("Publish", ctx, manager.ResponseTopic(mqttWorker, "report"), mock.Anything).
				Run(func(args mock.Arguments) { published = args.Get(2) }).
				Return(nil)

			h := manager.Handle(ctx, svc, pubsub, slog.Default())
			err := h(manager.WorkerTopic(mqttWorker, "report"), tc.msg)
			require.NoError(t, err)

			svc.AssertExpectations(t)
			assertReply(t, map[string]string{"status": tc.status}, published)
		})
	}
}

func TestHandleIgnoresForeignTopics(t *testing.T) {
	svc := &svcmocks.MockService{}
	pubsub := &mqttmocks.MockPubSub{}
	h := manager.Handle(context.Background(), svc, pubsub, slog.Default())

	err := h("fl/workers/"+mqttWorker+"/cycle-request-response", map[string]any{"status": "accepted"})
	assert.NoError(t, err)

	err = h("fl/other", map[string]any{})
	assert.Error(t, err)

	svc.AssertNotCalled(t, "RequestCycle", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	pubsub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

// assertReply compares the published reply against want. A map want only
// checks the listed fields of an error reply.
func assertReply(t *testing.T, want, got any) {
	t.Helper()

	fields, ok := want.(map[string]string)
	if !ok {
		assert.Equal(t, want, got)

		return
	}

	data, err := json.Marshal(got)
	require.NoError(t, err)
	var reply map[string]string
	require.NoError(t, json.Unmarshal(data, &reply))
	for k, v := range fields {
		assert.Equal(t, v, reply[k], k)
	}
}
