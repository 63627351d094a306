package fl

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Params is a model's parameters as a list of flattened tensors. Both
// checkpoints and diffs travel as CBOR-encoded Params.
type Params [][]float64

func EncodeParams(p Params) ([]byte, error) {
	return cbor.Marshal(p)
}

func DecodeParams(data []byte) (Params, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDiff
	}

	var p Params
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode params: %w", err)
	}

	return p, nil
}

// Aggregator produces a process's next checkpoint from its current
// checkpoint and the diffs reported during a cycle. Implementations must be
// deterministic for identical inputs.
type Aggregator interface {
	Average(ctx context.Context, p Process, checkpoint []byte, diffs [][]byte) ([]byte, error)
}

type FedAvgAggregator struct{}

func NewFedAvgAggregator() Aggregator {
	return &FedAvgAggregator{}
}

// Average sums the diffs elementwise, divides by their count and subtracts
// the result from the checkpoint.
func (f *FedAvgAggregator) Average(_ context.Context, _ Process, checkpoint []byte, diffs [][]byte) ([]byte, error) {
	model, err := DecodeParams(checkpoint)
	if err != nil {
		return nil, err
	}

	if len(diffs) == 0 {
		return checkpoint, nil
	}

	sums := make(Params, len(model))
	for i := range model {
		sums[i] = make([]float64, len(model[i]))
	}

	for _, raw := range diffs {
		diff, err := DecodeParams(raw)
		if err != nil {
			return nil, err
		}
		if err := sameShape(model, diff); err != nil {
			return nil, err
		}
		for i := range diff {
			for j, v := range diff[i] {
				sums[i][j] += v
			}
		}
	}

	n := float64(len(diffs))
	updated := make(Params, len(model))
	for i := range model {
		updated[i] = make([]float64, len(model[i]))
		for j := range model[i] {
			updated[i][j] = model[i][j] - sums[i][j]/n
		}
	}

	return EncodeParams(updated)
}

func sameShape(model, diff Params) error {
	if len(model) != len(diff) {
		return fmt.Errorf("%w: expected %d tensors, got %d", ErrShapeMismatch, len(model), len(diff))
	}
	for i := range model {
		if len(model[i]) != len(diff[i]) {
			return fmt.Errorf("%w: tensor %d expected %d values, got %d", ErrShapeMismatch, i, len(model[i]), len(diff[i]))
		}
	}

	return nil
}
