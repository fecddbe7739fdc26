package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk daemon configuration.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	NetworkName    string `toml:"NetworkName"`

	RPC     RPC     `toml:"RPC"`
	Lending Lending `toml:"Lending"`
	Gateway Gateway `toml:"Gateway"`
	Genesis Genesis `toml:"Genesis"`
}

// RPC tunes the JSON-RPC listener.
type RPC struct {
	// AdminTokenEnv names the environment variable holding the bearer
	// token for privileged methods. The token itself never lives in the
	// config file.
	AdminTokenEnv string `toml:"AdminTokenEnv"`
	// MaxRequestBytes caps the accepted request body size.
	MaxRequestBytes int64 `toml:"MaxRequestBytes"`
	// RatePerSecond and RateBurst bound per-client request rates on
	// mutating methods.
	RatePerSecond float64 `toml:"RatePerSecond"`
	RateBurst     int     `toml:"RateBurst"`
}

// Lending tunes the protocol engine.
type Lending struct {
	// MaxQuoteAgeSecs is the oracle staleness window; valuations fail
	// closed past it.
	MaxQuoteAgeSecs uint64 `toml:"MaxQuoteAgeSecs"`
	// MaxLoanDurationSecs caps fixed loan terms.
	MaxLoanDurationSecs uint64 `toml:"MaxLoanDurationSecs"`
	// FeeAuthority is the bech32 address allowed to withdraw protocol
	// fees. Empty disables fee withdrawal entirely.
	FeeAuthority string `toml:"FeeAuthority,omitempty"`
}

// Gateway controls the optional in-process REST gateway.
type Gateway struct {
	Enabled       bool   `toml:"Enabled"`
	ListenAddress string `toml:"ListenAddress"`
	// ConfigFile points at the gateway's own YAML configuration.
	ConfigFile string `toml:"ConfigFile,omitempty"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists. Unknown keys are rejected so typos fail loudly instead
// of silently running with defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown key %q", path, undecoded[0].String())
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = ":2112"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./lendpool-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "lendpool-local"
	}
	if strings.TrimSpace(cfg.RPC.AdminTokenEnv) == "" {
		cfg.RPC.AdminTokenEnv = "LENDPOOL_RPC_TOKEN"
	}
	if cfg.RPC.MaxRequestBytes <= 0 {
		cfg.RPC.MaxRequestBytes = 1 << 20
	}
	if cfg.RPC.RatePerSecond <= 0 {
		cfg.RPC.RatePerSecond = 10
	}
	if cfg.RPC.RateBurst <= 0 {
		cfg.RPC.RateBurst = 20
	}
	if cfg.Lending.MaxQuoteAgeSecs == 0 {
		cfg.Lending.MaxQuoteAgeSecs = 300
	}
	if cfg.Lending.MaxLoanDurationSecs == 0 {
		cfg.Lending.MaxLoanDurationSecs = 365 * 24 * 60 * 60
	}
	if strings.TrimSpace(cfg.Gateway.ListenAddress) == "" {
		cfg.Gateway.ListenAddress = ":8081"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
