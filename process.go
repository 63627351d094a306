package fedcycle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported process file format")
	ErrMissingModel      = errors.New("process file does not name a model")
)

// LoadProcessFile reads a process definition from a TOML or YAML file. The
// model, plans, protocols and averaging plan are paths to files, relative to
// the definition file unless absolute.
//
//	name = "mnist"
//	model = "model.cbor"
//
//	[plans]
//	training_plan = "plans/train.wasm"
//
//	[server_config]
//	num_cycles = 5
func LoadProcessFile(path string) (fl.ProcessDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fl.ProcessDefinition{}, fmt.Errorf("error reading process file: %w", err)
	}

	var raw map[string]any
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		tree, err := toml.Load(string(data))
		if err != nil {
			return fl.ProcessDefinition{}, fmt.Errorf("error parsing process file: %w", err)
		}
		raw = tree.ToMap()
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fl.ProcessDefinition{}, fmt.Errorf("error parsing process file: %w", err)
		}
	default:
		return fl.ProcessDefinition{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	return definitionFromMap(raw, filepath.Dir(path))
}

func definitionFromMap(raw map[string]any, dir string) (fl.ProcessDefinition, error) {
	def := fl.ProcessDefinition{
		Name:         stringValue(raw, "name"),
		Version:      stringValue(raw, "version"),
		ClientConfig: mapValue(raw, "client_config"),
		ServerConfig: mapValue(raw, "server_config"),
	}

	model := stringValue(raw, "model")
	if model == "" {
		return fl.ProcessDefinition{}, ErrMissingModel
	}
	var err error
	if def.Model, err = readRelative(dir, model); err != nil {
		return fl.ProcessDefinition{}, err
	}

	if plan := stringValue(raw, "averaging_plan"); plan != "" {
		if def.AveragingPlan, err = readRelative(dir, plan); err != nil {
			return fl.ProcessDefinition{}, err
		}
	}
	if def.Plans, err = readAll(dir, mapValue(raw, "plans")); err != nil {
		return fl.ProcessDefinition{}, err
	}
	if def.Protocols, err = readAll(dir, mapValue(raw, "protocols")); err != nil {
		return fl.ProcessDefinition{}, err
	}

	return def, nil
}

func readAll(dir string, paths map[string]any) (map[string][]byte, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	blobs := make(map[string][]byte, len(paths))
	for name, v := range paths {
		p, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s: expected a file path, got %v", name, v)
		}
		data, err := readRelative(dir, p)
		if err != nil {
			return nil, err
		}
		blobs[name] = data
	}

	return blobs, nil
}

func readRelative(dir, path string) ([]byte, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}

	return data, nil
}

func stringValue(raw map[string]any, key string) string {
	s, _ := raw[key].(string)

	return s
}

func mapValue(raw map[string]any, key string) map[string]any {
	m, _ := raw[key].(map[string]any)

	return m
}
