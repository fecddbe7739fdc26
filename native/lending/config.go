package lending

import (
	"fmt"
	"math/big"
)

// Config captures the runtime configuration for the lending module.
type Config struct {
	// MaxQuoteAgeSeconds bounds oracle quote staleness; zero disables the
	// check.
	MaxQuoteAgeSeconds uint64 `toml:"MaxQuoteAgeSeconds"`
	// MaxLoanDurationSeconds caps requested loan terms; zero leaves them
	// unbounded.
	MaxLoanDurationSeconds uint64 `toml:"MaxLoanDurationSeconds"`
	// FeeAuthority is the bech32 account allowed to withdraw protocol fees.
	FeeAuthority string `toml:"FeeAuthority"`
	// Tokens lists the assets registered at genesis.
	Tokens []TokenSettings `toml:"tokens"`
}

// TokenSettings is the TOML form of a token listing.
type TokenSettings struct {
	Symbol                  string   `toml:"Symbol"`
	Decimals                uint8    `toml:"Decimals"`
	LTVBps                  uint64   `toml:"LTVBps"`
	LiquidationThresholdBps uint64   `toml:"LiquidationThresholdBps"`
	LiquidationBonusBps     uint64   `toml:"LiquidationBonusBps"`
	ReserveFactorBps        uint64   `toml:"ReserveFactorBps"`
	BorrowCap               *big.Int `toml:"BorrowCap"`
	BaseRateBps             uint64   `toml:"BaseRateBps"`
	Slope1Bps               uint64   `toml:"Slope1Bps"`
	Slope2Bps               uint64   `toml:"Slope2Bps"`
	KinkBps                 uint64   `toml:"KinkBps"`
	Active                  bool     `toml:"Active"`
	Loanable                bool     `toml:"Loanable"`
}

// DefaultConfig returns the baseline module configuration.
func DefaultConfig() Config {
	return Config{
		MaxQuoteAgeSeconds:     300,
		MaxLoanDurationSeconds: 0,
	}
}

// EnsureDefaults populates nil big.Int fields so TOML round-trips are safe.
func (c *Config) EnsureDefaults() {
	if c == nil {
		return
	}
	for i := range c.Tokens {
		if c.Tokens[i].BorrowCap == nil {
			c.Tokens[i].BorrowCap = big.NewInt(0)
		}
	}
}

// TokenConfig converts the TOML listing into the engine's parameter record.
func (s TokenSettings) TokenConfig() *TokenConfig {
	cfg := &TokenConfig{
		Symbol:                  NormalizeSymbol(s.Symbol),
		Decimals:                s.Decimals,
		LtvBps:                  s.LTVBps,
		LiquidationThresholdBps: s.LiquidationThresholdBps,
		LiquidationBonusBps:     s.LiquidationBonusBps,
		ReserveFactorBps:        s.ReserveFactorBps,
		BorrowCap:               cloneBig(s.BorrowCap),
		IsActive:                s.Active,
		IsLoanable:              s.Loanable,
	}
	if s.KinkBps != 0 || s.BaseRateBps != 0 || s.Slope1Bps != 0 || s.Slope2Bps != 0 {
		cfg.Interest = InterestModel{
			BaseRateBps: s.BaseRateBps,
			Slope1Bps:   s.Slope1Bps,
			Slope2Bps:   s.Slope2Bps,
			KinkBps:     s.KinkBps,
		}
	}
	cfg.EnsureDefaults()
	return cfg
}

// Validate checks every token listing for consistent risk parameters.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(c.Tokens))
	for _, token := range c.Tokens {
		cfg := token.TokenConfig()
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, dup := seen[cfg.Symbol]; dup {
			return fmt.Errorf("lending config: duplicate token %s", cfg.Symbol)
		}
		seen[cfg.Symbol] = struct{}{}
	}
	return nil
}
