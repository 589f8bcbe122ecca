package collapse

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Config holds the chain-detection tuning parameters.
type Config struct {
	// Window is the maximum time lag between an intermediate query and
	// its superstring.
	Window time.Duration

	// MinLengthDiff and MaxLengthDiff bound (inclusive) how much longer
	// the superstring may be than its prefix.
	MinLengthDiff int
	MaxLengthDiff int
}

// DefaultConfig returns the tuning used by the nightly analysis.
func DefaultConfig() Config {
	return Config{
		Window:        time.Second,
		MinLengthDiff: 1,
		MaxLengthDiff: 3,
	}
}

type fileConfig struct {
	Collapse struct {
		Window        string `yaml:"window"`
		MinLengthDiff *int   `yaml:"min_length_diff"`
		MaxLengthDiff *int   `yaml:"max_length_diff"`
	} `yaml:"collapse"`
}

// LoadConfig reads chain-detection tuning from a YAML file. Fields omitted
// in the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, eris.Wrapf(err, "collapse: read config %s", path)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, eris.Wrap(err, "collapse: parse config")
	}

	if fc.Collapse.Window != "" {
		w, err := time.ParseDuration(fc.Collapse.Window)
		if err != nil {
			return cfg, eris.Wrapf(err, "collapse: parse window %q", fc.Collapse.Window)
		}
		cfg.Window = w
	}
	if fc.Collapse.MinLengthDiff != nil {
		cfg.MinLengthDiff = *fc.Collapse.MinLengthDiff
	}
	if fc.Collapse.MaxLengthDiff != nil {
		cfg.MaxLengthDiff = *fc.Collapse.MaxLengthDiff
	}

	if cfg.Window <= 0 {
		return cfg, eris.New("collapse: window must be positive")
	}
	if cfg.MinLengthDiff > cfg.MaxLengthDiff {
		return cfg, eris.New("collapse: min_length_diff exceeds max_length_diff")
	}

	return cfg, nil
}
