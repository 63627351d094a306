package fl_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerConfig(t *testing.T) {
	cases := []struct {
		desc string
		raw  map[string]any
		cfg  fl.ServerConfig
		err  error
	}{
		{
			desc: "defaults applied",
			raw:  map[string]any{"num_cycles": 5},
			cfg: fl.ServerConfig{
				CycleLength: fl.DefaultCycleLength,
				MinWorker:   fl.DefaultMinWorker,
				MaxWorker:   fl.DefaultMaxWorker,
				NumCycles:   5,
			},
		},
		{
			desc: "all keys from json numbers",
			raw: map[string]any{
				"num_cycles":                       float64(2),
				"cycle_length":                     float64(100),
				"min_worker":                       float64(1),
				"max_worker":                       float64(4),
				"minimum_upload_speed":             1.5,
				"minimum_download_speed":           2.5,
				"do_not_reuse_workers_until_cycle": float64(3),
			},
			cfg: fl.ServerConfig{
				CycleLength:                 100,
				MinWorker:                   1,
				MaxWorker:                   4,
				NumCycles:                   2,
				MinimumUploadSpeed:          1.5,
				MinimumDownloadSpeed:        2.5,
				DoNotReuseWorkersUntilCycle: 3,
			},
		},
		{
			desc: "numeric strings",
			raw:  map[string]any{"num_cycles": "1", "min_worker": "2", "max_worker": "2"},
			cfg: fl.ServerConfig{
				CycleLength: fl.DefaultCycleLength,
				MinWorker:   2,
				MaxWorker:   2,
				NumCycles:   1,
			},
		},
		{
			desc: "unknown keys preserved",
			raw:  map[string]any{"num_cycles": 1, "pool_selection": "random"},
			cfg: fl.ServerConfig{
				CycleLength: fl.DefaultCycleLength,
				MinWorker:   fl.DefaultMinWorker,
				MaxWorker:   fl.DefaultMaxWorker,
				NumCycles:   1,
				Extra:       map[string]any{"pool_selection": "random"},
			},
		},
		{
			desc: "longest cycle_length",
			raw:  map[string]any{"num_cycles": 1, "cycle_length": float64(fl.MaxCycleLength)},
			cfg: fl.ServerConfig{
				CycleLength: fl.MaxCycleLength,
				MinWorker:   fl.DefaultMinWorker,
				MaxWorker:   fl.DefaultMaxWorker,
				NumCycles:   1,
			},
		},
		{desc: "missing num_cycles", raw: map[string]any{"min_worker": 1}, err: fl.ErrConfigInvalid},
		{desc: "zero num_cycles", raw: map[string]any{"num_cycles": 0}, err: fl.ErrConfigInvalid},
		{desc: "non numeric num_cycles", raw: map[string]any{"num_cycles": "many"}, err: fl.ErrConfigInvalid},
		{desc: "boolean min_worker", raw: map[string]any{"num_cycles": 1, "min_worker": true}, err: fl.ErrConfigInvalid},
		{desc: "fractional cycle_length", raw: map[string]any{"num_cycles": 1, "cycle_length": 1.5}, err: fl.ErrConfigInvalid},
		{desc: "cycle_length overflowing duration", raw: map[string]any{"num_cycles": 1, "cycle_length": 1e10}, err: fl.ErrConfigInvalid},
		{desc: "cycle_length near int64 limit", raw: map[string]any{"num_cycles": 1, "cycle_length": "9223372036854775807"}, err: fl.ErrConfigInvalid},
		{desc: "negative max_worker", raw: map[string]any{"num_cycles": 1, "max_worker": -1}, err: fl.ErrConfigInvalid},
		{desc: "min above max", raw: map[string]any{"num_cycles": 1, "min_worker": 4, "max_worker": 2}, err: fl.ErrConfigInvalid},
		{desc: "negative upload speed", raw: map[string]any{"num_cycles": 1, "minimum_upload_speed": -1.0}, err: fl.ErrConfigInvalid},
		{desc: "nan download speed", raw: map[string]any{"num_cycles": 1, "minimum_download_speed": "NaN"}, err: fl.ErrConfigInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg, err := fl.ParseServerConfig(tc.raw)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.cfg, cfg)
		})
	}
}

func TestServerConfigJSON(t *testing.T) {
	cfg, err := fl.ParseServerConfig(map[string]any{
		"num_cycles":   3,
		"cycle_length": 60,
		"min_worker":   1,
		"max_worker":   2,
		"lr":           0.1,
	})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.CycleDuration())

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var got fl.ServerConfig
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, cfg, got)
}
