package config

import (
	"fmt"
	"math/big"
	"strings"

	"lendpool/core"
	"lendpool/crypto"
	"lendpool/native/lending"
)

// Genesis embeds the first-boot market set in the daemon config. It is
// applied once; later changes go through the admin RPC surface.
type Genesis struct {
	Tokens   []GenesisToken   `toml:"Tokens,omitempty"`
	Prices   []GenesisPrice   `toml:"Prices,omitempty"`
	Balances []GenesisBalance `toml:"Balances,omitempty"`
	Paused   []string         `toml:"Paused,omitempty"`
}

// GenesisToken describes one market listed at first boot. Amount-like
// fields are decimal strings because base-unit values exceed TOML's
// integer range for 18-decimal assets.
type GenesisToken struct {
	Symbol                  string `toml:"Symbol"`
	Decimals                uint8  `toml:"Decimals"`
	LtvBps                  uint64 `toml:"LtvBps"`
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	LiquidationBonusBps     uint64 `toml:"LiquidationBonusBps"`
	ReserveFactorBps        uint64 `toml:"ReserveFactorBps"`
	BorrowCap               string `toml:"BorrowCap,omitempty"`
	BaseRateBps             uint64 `toml:"BaseRateBps"`
	Slope1Bps               uint64 `toml:"Slope1Bps"`
	Slope2Bps               uint64 `toml:"Slope2Bps"`
	KinkBps                 uint64 `toml:"KinkBps"`
	// CollateralOnly lists the asset for pledging without pool deposits
	// or borrows.
	CollateralOnly bool `toml:"CollateralOnly,omitempty"`
}

// GenesisPrice seeds the oracle with an opening quote.
type GenesisPrice struct {
	Symbol   string `toml:"Symbol"`
	Price    string `toml:"Price"`
	Decimals uint8  `toml:"Decimals"`
}

// GenesisBalance pre-funds an account at first boot.
type GenesisBalance struct {
	Address string `toml:"Address"`
	Symbol  string `toml:"Symbol"`
	Amount  string `toml:"Amount"`
}

// NodeGenesis converts the config genesis into the node's runtime form,
// parsing amounts and addresses.
func (c *Config) NodeGenesis() (*core.Genesis, error) {
	genesis := &core.Genesis{Paused: append([]string{}, c.Genesis.Paused...)}

	for i, token := range c.Genesis.Tokens {
		cfg := &lending.TokenConfig{
			Symbol:                  token.Symbol,
			Decimals:                token.Decimals,
			LtvBps:                  token.LtvBps,
			LiquidationThresholdBps: token.LiquidationThresholdBps,
			LiquidationBonusBps:     token.LiquidationBonusBps,
			ReserveFactorBps:        token.ReserveFactorBps,
			Interest: lending.InterestModel{
				BaseRateBps: token.BaseRateBps,
				Slope1Bps:   token.Slope1Bps,
				Slope2Bps:   token.Slope2Bps,
				KinkBps:     token.KinkBps,
			},
			IsActive:   true,
			IsLoanable: !token.CollateralOnly,
		}
		if strings.TrimSpace(token.BorrowCap) != "" {
			borrowCap, err := parseAmount(token.BorrowCap)
			if err != nil {
				return nil, fmt.Errorf("genesis token %d: BorrowCap: %w", i, err)
			}
			cfg.BorrowCap = borrowCap
		}
		genesis.Tokens = append(genesis.Tokens, cfg)
	}

	for i, price := range c.Genesis.Prices {
		value, err := parseAmount(price.Price)
		if err != nil {
			return nil, fmt.Errorf("genesis price %d (%s): %w", i, price.Symbol, err)
		}
		genesis.Prices = append(genesis.Prices, core.GenesisPrice{
			Symbol:   price.Symbol,
			Price:    value,
			Decimals: price.Decimals,
		})
	}

	for i, balance := range c.Genesis.Balances {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(balance.Address))
		if err != nil {
			return nil, fmt.Errorf("genesis balance %d: address: %w", i, err)
		}
		amount, err := parseAmount(balance.Amount)
		if err != nil {
			return nil, fmt.Errorf("genesis balance %d (%s): %w", i, balance.Symbol, err)
		}
		genesis.Balances = append(genesis.Balances, core.GenesisBalance{
			Address: addr,
			Symbol:  balance.Symbol,
			Amount:  amount,
		})
	}

	return genesis, nil
}

// FeeAuthorityAddress decodes the configured fee authority. The second
// return reports whether one is configured at all.
func (c *Config) FeeAuthorityAddress() (crypto.Address, bool, error) {
	trimmed := strings.TrimSpace(c.Lending.FeeAuthority)
	if trimmed == "" {
		return crypto.Address{}, false, nil
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, false, fmt.Errorf("lending: FeeAuthority: %w", err)
	}
	return addr, true, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}
