// Package config loads application configuration and initializes logging.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Job       JobConfig       `yaml:"job" mapstructure:"job"`
	Reference ReferenceConfig `yaml:"reference" mapstructure:"reference"`
	Collapse  CollapseConfig  `yaml:"collapse" mapstructure:"collapse"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the warehouse backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// JobConfig configures the nightly sanitation run.
type JobConfig struct {
	PageSize     int     `yaml:"page_size" mapstructure:"page_size"`
	SampleRate   float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
	Workers      int     `yaml:"workers" mapstructure:"workers"`
	ExportPerSec float64 `yaml:"export_per_sec" mapstructure:"export_per_sec"`
	Notes        string  `yaml:"notes" mapstructure:"notes"`
}

// ReferenceConfig points at the static reference data files.
type ReferenceConfig struct {
	SurnamesPath string `yaml:"surnames_path" mapstructure:"surnames_path"`
	WordlistPath string `yaml:"wordlist_path" mapstructure:"wordlist_path"`
}

// CollapseConfig configures the intermediate-query collapsing command.
type CollapseConfig struct {
	ConfigPath string `yaml:"config_path" mapstructure:"config_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SANITIZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("job.page_size", 75000)
	v.SetDefault("job.sample_rate", 0.01)
	v.SetDefault("job.workers", 4)
	v.SetDefault("job.export_per_sec", 2)
	v.SetDefault("reference.surnames_path", "Names_2010Census.csv")
	v.SetDefault("reference.wordlist_path", "american.txt")
	v.SetDefault("collapse.config_path", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
