package cli_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/absmach/fedcycle/cli"
	"github.com/absmach/fedcycle/manager"
	"github.com/absmach/fedcycle/manager/api"
	"github.com/absmach/fedcycle/pkg/eligibility"
	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/absmach/fedcycle/pkg/mqtt"
	"github.com/absmach/fedcycle/pkg/sdk"
	"github.com/absmach/fedcycle/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ansi = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func setup(t *testing.T) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	svc := manager.NewService(
		storage.NewMemoryRepositories(),
		fl.NewFedAvgAggregator(),
		eligibility.Bandwidth(),
		mqtt.NewNoop(),
		logger,
	)
	ts := httptest.NewServer(api.MakeHandler(svc, logger, "test"))
	t.Cleanup(ts.Close)

	cli.SetSDK(sdk.NewSDK(sdk.Config{ManagerURL: ts.URL}))
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, string) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())

	return ansi.ReplaceAllString(stdout.String(), ""), ansi.ReplaceAllString(stderr.String(), "")
}

func writeProcess(t *testing.T) string {
	t.Helper()

	model, err := fl.EncodeParams(fl.Params{{0, 0}})
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.cbor"), model, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train.wasm"), []byte("train"), 0o644))

	path := filepath.Join(dir, "mnist.yaml")
	body := "name: mnist\nmodel: model.cbor\nplans:\n  training_plan: train.wasm\nserver_config:\n  min_worker: 1\n  max_worker: 1\n  num_cycles: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

func TestProcessesCmd(t *testing.T) {
	setup(t)
	path := writeProcess(t)

	cases := []struct {
		desc     string
		args     []string
		stdout   string
		stderr   string
		noStdout bool
	}{
		{desc: "create process", args: []string{"create", path}, stdout: `"mnist"`},
		{desc: "create duplicate process", args: []string{"create", path}, stderr: "409", noStdout: true},
		{desc: "create process from missing file", args: []string{"create", "missing.yaml"}, stderr: "error reading process file", noStdout: true},
		{desc: "create process without file", args: []string{"create"}, stdout: "usage"},
		{desc: "view process", args: []string{"view", "mnist"}, stdout: `"training_plan"`},
		{desc: "view missing process", args: []string{"view", "missing"}, stderr: "404", noStdout: true},
		{desc: "list processes", args: []string{"list"}, stdout: `"total"`},
		{desc: "view configs", args: []string{"configs", "mnist"}, stdout: `"num_cycles"`},
		{desc: "view checkpoint", args: []string{"checkpoint", "mnist"}, stdout: `"number"`},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			stdout, stderr := run(t, cli.NewProcessesCmd(), tc.args...)
			if tc.stdout != "" {
				assert.Contains(t, stdout, tc.stdout)
			}
			if tc.stderr != "" {
				assert.Contains(t, stderr, tc.stderr)
			}
			if tc.noStdout {
				assert.Empty(t, stdout)
			}
		})
	}
}

func TestCyclesAndWorkersCmd(t *testing.T) {
	setup(t)
	run(t, cli.NewProcessesCmd(), "create", writeProcess(t))

	stdout, _ := run(t, cli.NewWorkersCmd(), "register")
	var w fl.Worker
	require.NoError(t, json.Unmarshal(bytes.TrimSpace([]byte(stdout)), &w))
	require.NotEmpty(t, w.ID)

	stdout, _ = run(t, cli.NewCyclesCmd(), "request", w.ID, "mnist", "--upload", "10", "--download", "10")
	var d fl.CycleDecision
	require.NoError(t, json.Unmarshal(bytes.TrimSpace([]byte(stdout)), &d))
	require.Equal(t, fl.Accepted, d.Status)

	diff, err := fl.EncodeParams(fl.Params{{1, 1}})
	require.NoError(t, err)
	diffPath := filepath.Join(t.TempDir(), "diff.cbor")
	require.NoError(t, os.WriteFile(diffPath, diff, 0o644))

	stdout, _ = run(t, cli.NewCyclesCmd(), "report", w.ID, d.RequestKey, diffPath)
	assert.Contains(t, stdout, "ok")

	stdout, _ = run(t, cli.NewCyclesCmd(), "list", "mnist")
	assert.Contains(t, stdout, `"sequence"`)

	stdout, _ = run(t, cli.NewWorkersCmd(), "participation", w.ID, "mnist")
	assert.Contains(t, stdout, `"sequence"`)

	_, stderr := run(t, cli.NewCyclesCmd(), "report", w.ID, d.RequestKey, diffPath)
	assert.Contains(t, stderr, "403")
}
