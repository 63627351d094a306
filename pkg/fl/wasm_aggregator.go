package fl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

const defPlanTimeout = 30 * time.Second

var errPlanOutput = errors.New("averaging plan produced no checkpoint")

type planInput struct {
	Checkpoint []byte   `cbor:"checkpoint"`
	Diffs      [][]byte `cbor:"diffs"`
}

// WasmAggregator runs a process's averaging plan as a WASI command module.
// The plan reads a CBOR document {checkpoint, diffs} on stdin and writes the
// new CBOR-encoded checkpoint to stdout. Processes without an averaging plan
// are handed to the fallback aggregator.
type WasmAggregator struct {
	fallback Aggregator
	cache    wazero.CompilationCache
	timeout  time.Duration
}

func NewWasmAggregator(fallback Aggregator, timeout time.Duration) *WasmAggregator {
	if timeout <= 0 {
		timeout = defPlanTimeout
	}

	return &WasmAggregator{
		fallback: fallback,
		cache:    wazero.NewCompilationCache(),
		timeout:  timeout,
	}
}

func (w *WasmAggregator) Average(ctx context.Context, p Process, checkpoint []byte, diffs [][]byte) ([]byte, error) {
	if len(p.AveragingPlan) == 0 {
		return w.fallback.Average(ctx, p, checkpoint, diffs)
	}

	in, err := cbor.Marshal(planInput{Checkpoint: checkpoint, Diffs: diffs})
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	rcfg := wazero.NewRuntimeConfig().
		WithCompilationCache(w.cache).
		WithCloseOnContextDone(true)
	r := wazero.NewRuntimeWithConfig(ctx, rcfg)
	defer r.Close(ctx)

	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	var stdout, stderr bytes.Buffer
	mcfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs("averaging-plan", p.Name).
		WithStdin(bytes.NewReader(in)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := r.InstantiateWithConfig(ctx, p.AveragingPlan, mcfg)
	if err != nil {
		var exitErr *sys.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 0 {
			return nil, fmt.Errorf("averaging plan failed: %w: %s", err, stderr.String())
		}
	}
	if mod != nil {
		_ = mod.Close(ctx)
	}

	out := stdout.Bytes()
	if len(out) == 0 {
		return nil, errPlanOutput
	}
	if _, err := DecodeParams(out); err != nil {
		return nil, err
	}

	return out, nil
}

func (w *WasmAggregator) Close(ctx context.Context) error {
	return w.cache.Close(ctx)
}
