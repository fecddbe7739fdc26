package config

import (
	"fmt"
	"strings"
)

// ValidateConfig rejects configurations that would boot a broken daemon.
// Genesis token parameters are checked by the engine at listing time; this
// covers everything the engine never sees.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		return fmt.Errorf("rpc: RPCAddress required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("node: DataDir required")
	}
	if cfg.RPC.MaxRequestBytes <= 0 {
		return fmt.Errorf("rpc: MaxRequestBytes <= 0")
	}
	if cfg.RPC.RatePerSecond <= 0 {
		return fmt.Errorf("rpc: RatePerSecond <= 0")
	}
	if cfg.RPC.RateBurst <= 0 {
		return fmt.Errorf("rpc: RateBurst <= 0")
	}
	if cfg.Lending.MaxQuoteAgeSecs == 0 {
		return fmt.Errorf("lending: MaxQuoteAgeSecs must be positive")
	}
	if _, _, err := cfg.FeeAuthorityAddress(); err != nil {
		return err
	}
	if _, err := cfg.NodeGenesis(); err != nil {
		return err
	}
	if cfg.Gateway.Enabled && strings.TrimSpace(cfg.Gateway.ListenAddress) == "" {
		return fmt.Errorf("gateway: ListenAddress required when enabled")
	}
	return nil
}
