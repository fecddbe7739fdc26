package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// ExportConfig schedules the daily parquet snapshot.
type ExportConfig struct {
	Dir    string `yaml:"dir"`
	Hour   int    `yaml:"hour"`
	Minute int    `yaml:"minute"`
}

// Config captures runtime configuration for reportd.
type Config struct {
	NodeURL        string       `yaml:"nodeUrl"`
	PollInterval   Duration     `yaml:"pollInterval"`
	RequestTimeout Duration     `yaml:"requestTimeout"`
	Database       string       `yaml:"database"`
	Export         ExportConfig `yaml:"export"`
	Environment    string       `yaml:"environment"`
}

// Load reads the reportd configuration, filling defaults for anything the
// file leaves unset.
func Load(path string) (Config, error) {
	cfg := Config{
		NodeURL:        "http://127.0.0.1:8080/rpc",
		PollInterval:   Duration{Duration: time.Minute},
		RequestTimeout: Duration{Duration: 10 * time.Second},
		Database:       "reportd.db",
		Export: ExportConfig{
			Dir:  "reports",
			Hour: 0,
		},
		Environment: "dev",
	}
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.NodeURL) == "" {
		return fmt.Errorf("nodeUrl required")
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return fmt.Errorf("database required")
	}
	if cfg.PollInterval.Duration <= 0 {
		return fmt.Errorf("pollInterval must be positive")
	}
	if cfg.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("requestTimeout must be positive")
	}
	if cfg.Export.Hour < 0 || cfg.Export.Hour > 23 {
		return fmt.Errorf("export.hour must be within 0..23")
	}
	if cfg.Export.Minute < 0 || cfg.Export.Minute > 59 {
		return fmt.Errorf("export.minute must be within 0..59")
	}
	if strings.TrimSpace(cfg.Export.Dir) == "" {
		return fmt.Errorf("export.dir required")
	}
	return nil
}
