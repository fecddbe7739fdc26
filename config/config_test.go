package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lendpool/crypto"
)

var testTreasuryAddr = func() string {
	raw := make([]byte, 20)
	raw[0] = 0x42
	raw[19] = 0x24
	return crypto.MustNewAddress(crypto.LendPrefix, raw).String()
}()

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default file written: %v", err)
	}
	if cfg.RPCAddress != ":8080" || cfg.MetricsAddress != ":2112" {
		t.Fatalf("unexpected default addresses: %+v", cfg)
	}
	if cfg.RPC.AdminTokenEnv != "LENDPOOL_RPC_TOKEN" || cfg.RPC.MaxRequestBytes != 1<<20 {
		t.Fatalf("unexpected default rpc settings: %+v", cfg.RPC)
	}
	if cfg.Lending.MaxQuoteAgeSecs != 300 || cfg.Lending.MaxLoanDurationSecs != 365*24*60*60 {
		t.Fatalf("unexpected default lending settings: %+v", cfg.Lending)
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	// Loading the written file back round-trips.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.RPCAddress != cfg.RPCAddress || again.DataDir != cfg.DataDir {
		t.Fatalf("reload mismatch: %+v vs %+v", again, cfg)
	}
}

func TestLoadParsesFullConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := fmt.Sprintf(`RPCAddress = "0.0.0.0:9000"
MetricsAddress = ":9091"
DataDir = "./pool-data"
NetworkName = "lendpool-test"

[RPC]
AdminTokenEnv = "POOL_TOKEN"
MaxRequestBytes = 2048
RatePerSecond = 2.5
RateBurst = 5

[Lending]
MaxQuoteAgeSecs = 120
MaxLoanDurationSecs = 86400
FeeAuthority = "%s"

[Gateway]
Enabled = true
ListenAddress = ":8082"
ConfigFile = "./gateway.yaml"

[Genesis]
Paused = ["lending/liquidate"]

[[Genesis.Tokens]]
Symbol = "USDC"
Decimals = 6
LtvBps = 7500
LiquidationThresholdBps = 8000
LiquidationBonusBps = 500
ReserveFactorBps = 2000
BorrowCap = "1000000000000"
BaseRateBps = 500
Slope1Bps = 1000
Slope2Bps = 30000
KinkBps = 8000

[[Genesis.Tokens]]
Symbol = "WETH"
Decimals = 18
LtvBps = 7500
LiquidationThresholdBps = 8000
LiquidationBonusBps = 1000
ReserveFactorBps = 2000
BaseRateBps = 200
Slope1Bps = 800
Slope2Bps = 20000
KinkBps = 8000
CollateralOnly = true

[[Genesis.Prices]]
Symbol = "USDC"
Price = "100000000"
Decimals = 8

[[Genesis.Balances]]
Address = "%s"
Symbol = "USDC"
Amount = "5000000000000000000000"
`, testTreasuryAddr, testTreasuryAddr)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" || cfg.NetworkName != "lendpool-test" {
		t.Fatalf("unexpected top-level fields: %+v", cfg)
	}
	if cfg.RPC.AdminTokenEnv != "POOL_TOKEN" || cfg.RPC.RatePerSecond != 2.5 || cfg.RPC.RateBurst != 5 {
		t.Fatalf("unexpected rpc section: %+v", cfg.RPC)
	}
	if cfg.Lending.MaxQuoteAgeSecs != 120 || cfg.Lending.FeeAuthority != testTreasuryAddr {
		t.Fatalf("unexpected lending section: %+v", cfg.Lending)
	}
	if !cfg.Gateway.Enabled || cfg.Gateway.ConfigFile != "./gateway.yaml" {
		t.Fatalf("unexpected gateway section: %+v", cfg.Gateway)
	}

	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}

	genesis, err := cfg.NodeGenesis()
	if err != nil {
		t.Fatalf("node genesis: %v", err)
	}
	if len(genesis.Tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(genesis.Tokens))
	}
	usdc := genesis.Tokens[0]
	if usdc.Symbol != "USDC" || !usdc.IsLoanable || usdc.Interest.KinkBps != 8000 {
		t.Fatalf("unexpected USDC conversion: %+v", usdc)
	}
	if usdc.BorrowCap == nil || usdc.BorrowCap.Cmp(big.NewInt(1_000_000_000_000)) != 0 {
		t.Fatalf("unexpected USDC cap: %v", usdc.BorrowCap)
	}
	weth := genesis.Tokens[1]
	if weth.IsLoanable || !weth.IsActive {
		t.Fatalf("expected collateral-only WETH, got %+v", weth)
	}
	if len(genesis.Prices) != 1 || genesis.Prices[0].Price.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("unexpected prices: %+v", genesis.Prices)
	}
	if len(genesis.Balances) != 1 {
		t.Fatalf("expected 1 balance, got %d", len(genesis.Balances))
	}
	expected, _ := new(big.Int).SetString("5000000000000000000000", 10)
	if genesis.Balances[0].Amount.Cmp(expected) != 0 {
		t.Fatalf("unexpected balance amount: %v", genesis.Balances[0].Amount)
	}
	if genesis.Balances[0].Address.String() != testTreasuryAddr {
		t.Fatalf("unexpected balance address: %s", genesis.Balances[0].Address.String())
	}
	if len(genesis.Paused) != 1 || genesis.Paused[0] != "lending/liquidate" {
		t.Fatalf("unexpected paused set: %v", genesis.Paused)
	}

	authority, ok, err := cfg.FeeAuthorityAddress()
	if err != nil || !ok {
		t.Fatalf("fee authority: ok=%v err=%v", ok, err)
	}
	if authority.String() != testTreasuryAddr {
		t.Fatalf("unexpected authority: %s", authority.String())
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `RPCAddress = ":8080"
RCPAddress = ":9999"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "RCPAddress") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidateConfigRejectsBrokenSections(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	cfg := base()
	cfg.RPC.RatePerSecond = 0
	if err := ValidateConfig(cfg); err == nil || !strings.Contains(err.Error(), "RatePerSecond") {
		t.Fatalf("expected rate error, got %v", err)
	}

	cfg = base()
	cfg.Lending.FeeAuthority = "not-an-address"
	if err := ValidateConfig(cfg); err == nil || !strings.Contains(err.Error(), "FeeAuthority") {
		t.Fatalf("expected authority error, got %v", err)
	}

	cfg = base()
	cfg.Genesis.Prices = []GenesisPrice{{Symbol: "USDC", Price: "-5", Decimals: 8}}
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected genesis price error, got nil")
	}

	cfg = base()
	cfg.Genesis.Balances = []GenesisBalance{{Address: "bogus", Symbol: "USDC", Amount: "1"}}
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected genesis balance error, got nil")
	}
}
