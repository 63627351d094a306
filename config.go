package fedcycle

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml"
)

const (
	DefManagerURL      = "http://localhost:7070"
	DefTLSVerification = false
)

var ErrInvalidManagerURL = errors.New("invalid manager url")

// Config is the client side configuration shared by the CLI and SDK users.
type Config struct {
	Manager ManagerConfig `toml:"manager"`
}

type ManagerConfig struct {
	URL             string `toml:"url"              env:"FEDCYCLE_MANAGER_URL"              default:"http://localhost:7070"`
	TLSVerification bool   `toml:"tls_verification" env:"FEDCYCLE_MANAGER_TLS_VERIFICATION" default:"false"`
}

func DefaultConfig() Config {
	return Config{
		Manager: ManagerConfig{
			URL:             DefManagerURL,
			TLSVerification: DefTLSVerification,
		},
	}
}

// LoadConfig reads the TOML file at path, when path is set, then applies
// FEDCYCLE_* environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		tree, err := toml.LoadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to load config file: %w", err)
		}
		if err := tree.Unmarshal(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.Manager.URL)
	if err != nil {
		return errors.Join(ErrInvalidManagerURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidManagerURL, c.Manager.URL)
	}

	return nil
}
