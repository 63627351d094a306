package fl

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

const (
	KeyCycleLength                 = "cycle_length"
	KeyMinWorker                   = "min_worker"
	KeyMaxWorker                   = "max_worker"
	KeyNumCycles                   = "num_cycles"
	KeyMinimumUploadSpeed          = "minimum_upload_speed"
	KeyMinimumDownloadSpeed        = "minimum_download_speed"
	KeyDoNotReuseWorkersUntilCycle = "do_not_reuse_workers_until_cycle"

	DefaultMinWorker   = 3
	DefaultMaxWorker   = 3
	DefaultCycleLength = 2500

	// MaxCycleLength is the longest cycle, in seconds, a time.Duration holds.
	MaxCycleLength = uint64(math.MaxInt64 / time.Second)
)

var knownKeys = map[string]struct{}{
	KeyCycleLength:                 {},
	KeyMinWorker:                   {},
	KeyMaxWorker:                   {},
	KeyNumCycles:                   {},
	KeyMinimumUploadSpeed:          {},
	KeyMinimumDownloadSpeed:        {},
	KeyDoNotReuseWorkersUntilCycle: {},
}

// ServerConfig holds the scheduling parameters of a process. It is parsed
// once when the process is created.
type ServerConfig struct {
	CycleLength                 uint64
	MinWorker                   uint64
	MaxWorker                   uint64
	NumCycles                   uint64
	MinimumUploadSpeed          float64
	MinimumDownloadSpeed        float64
	DoNotReuseWorkersUntilCycle uint64
	// Extra keeps keys the scheduler does not interpret.
	Extra map[string]any
}

// CycleDuration returns the configured cycle length as a duration.
func (c ServerConfig) CycleDuration() time.Duration {
	return time.Duration(c.CycleLength) * time.Second
}

// ParseServerConfig validates a caller-supplied server config map and fills
// in defaults for optional keys.
func ParseServerConfig(raw map[string]any) (ServerConfig, error) {
	cfg := ServerConfig{
		CycleLength: DefaultCycleLength,
		MinWorker:   DefaultMinWorker,
		MaxWorker:   DefaultMaxWorker,
	}

	if _, ok := raw[KeyNumCycles]; !ok {
		return ServerConfig{}, fmt.Errorf("%w: missing %s", ErrConfigInvalid, KeyNumCycles)
	}

	uints := []struct {
		key string
		dst *uint64
	}{
		{KeyCycleLength, &cfg.CycleLength},
		{KeyMinWorker, &cfg.MinWorker},
		{KeyMaxWorker, &cfg.MaxWorker},
		{KeyNumCycles, &cfg.NumCycles},
		{KeyDoNotReuseWorkersUntilCycle, &cfg.DoNotReuseWorkersUntilCycle},
	}
	for _, u := range uints {
		v, ok := raw[u.key]
		if !ok {
			continue
		}
		n, err := toUint(v)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("%w: %s: %w", ErrConfigInvalid, u.key, err)
		}
		*u.dst = n
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{KeyMinimumUploadSpeed, &cfg.MinimumUploadSpeed},
		{KeyMinimumDownloadSpeed, &cfg.MinimumDownloadSpeed},
	}
	for _, f := range floats {
		v, ok := raw[f.key]
		if !ok {
			continue
		}
		n, err := toFloat(v)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("%w: %s: %w", ErrConfigInvalid, f.key, err)
		}
		if n < 0 {
			return ServerConfig{}, fmt.Errorf("%w: %s must not be negative", ErrConfigInvalid, f.key)
		}
		*f.dst = n
	}

	switch {
	case cfg.NumCycles < 1:
		return ServerConfig{}, fmt.Errorf("%w: %s must be at least 1", ErrConfigInvalid, KeyNumCycles)
	case cfg.CycleLength < 1:
		return ServerConfig{}, fmt.Errorf("%w: %s must be at least 1", ErrConfigInvalid, KeyCycleLength)
	case cfg.CycleLength > MaxCycleLength:
		return ServerConfig{}, fmt.Errorf("%w: %s must not exceed %d", ErrConfigInvalid, KeyCycleLength, MaxCycleLength)
	case cfg.MaxWorker < 1:
		return ServerConfig{}, fmt.Errorf("%w: %s must be at least 1", ErrConfigInvalid, KeyMaxWorker)
	case cfg.MinWorker > cfg.MaxWorker:
		return ServerConfig{}, fmt.Errorf("%w: %s exceeds %s", ErrConfigInvalid, KeyMinWorker, KeyMaxWorker)
	}

	for k, v := range raw {
		if _, ok := knownKeys[k]; ok {
			continue
		}
		if cfg.Extra == nil {
			cfg.Extra = make(map[string]any)
		}
		cfg.Extra[k] = v
	}

	return cfg, nil
}

// Map returns the config in its key-value form.
func (c ServerConfig) Map() map[string]any {
	m := make(map[string]any, len(knownKeys)+len(c.Extra))
	for k, v := range c.Extra {
		m[k] = v
	}
	m[KeyCycleLength] = c.CycleLength
	m[KeyMinWorker] = c.MinWorker
	m[KeyMaxWorker] = c.MaxWorker
	m[KeyNumCycles] = c.NumCycles
	m[KeyMinimumUploadSpeed] = c.MinimumUploadSpeed
	m[KeyMinimumDownloadSpeed] = c.MinimumDownloadSpeed
	m[KeyDoNotReuseWorkersUntilCycle] = c.DoNotReuseWorkersUntilCycle

	return m
}

func (c ServerConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Map())
}

func (c *ServerConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cfg, err := ParseServerConfig(raw)
	if err != nil {
		return err
	}
	*c = cfg

	return nil
}

func toUint(v any) (uint64, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt64 {
		return 0, fmt.Errorf("%v is not a non-negative integer", v)
	}

	return uint64(f), nil
}

func toFloat(v any) (float64, error) {
	f, err := toNumber(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not a finite number", v)
	}

	return f, nil
}

func toNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not numeric", n)
		}

		return f, nil
	default:
		return 0, fmt.Errorf("%v is not numeric", v)
	}
}
