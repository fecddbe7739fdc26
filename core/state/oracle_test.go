package state

import (
	"math/big"
	"testing"

	"lendpool/native/oracle"
)

func TestOraclePriceRoundTrip(t *testing.T) {
	m := newTestManager()

	if _, ok, err := m.OracleGetPrice("USDC"); err != nil || ok {
		t.Fatalf("expected missing quote, got ok=%v err=%v", ok, err)
	}

	quote := oracle.Quote{
		Price:     big.NewInt(100_000_000),
		Decimals:  8,
		UpdatedAt: 1_700_000_000,
		Source:    "manual",
	}
	if err := m.OraclePutPrice("USDC", quote); err != nil {
		t.Fatalf("put quote: %v", err)
	}
	if err := m.OraclePutPrice("WETH", oracle.Quote{Price: big.NewInt(200_000_000_000), Decimals: 8, UpdatedAt: 1_700_000_100, Source: "manual"}); err != nil {
		t.Fatalf("put second quote: %v", err)
	}

	loaded, ok, err := m.OracleGetPrice("USDC")
	if err != nil || !ok {
		t.Fatalf("load quote: ok=%v err=%v", ok, err)
	}
	if loaded.Price.Cmp(quote.Price) != 0 || loaded.Decimals != 8 || loaded.UpdatedAt != 1_700_000_000 || loaded.Source != "manual" {
		t.Fatalf("unexpected quote: %+v", loaded)
	}

	symbols, err := m.OracleSymbols()
	if err != nil {
		t.Fatalf("symbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "USDC" || symbols[1] != "WETH" {
		t.Fatalf("unexpected symbol index: %v", symbols)
	}

	// Overwrites keep a single index entry.
	quote.Price = big.NewInt(99_990_000)
	quote.UpdatedAt = 1_700_000_200
	if err := m.OraclePutPrice("USDC", quote); err != nil {
		t.Fatalf("replace quote: %v", err)
	}
	loaded, _, err = m.OracleGetPrice("USDC")
	if err != nil {
		t.Fatalf("reload quote: %v", err)
	}
	if loaded.Price.Cmp(big.NewInt(99_990_000)) != 0 || loaded.UpdatedAt != 1_700_000_200 {
		t.Fatalf("unexpected replaced quote: %+v", loaded)
	}
	if symbols, err = m.OracleSymbols(); err != nil || len(symbols) != 2 {
		t.Fatalf("expected stable index, got %v err=%v", symbols, err)
	}
}

func TestPauseFlagsPersistEmptySet(t *testing.T) {
	m := newTestManager()

	if _, ok, err := m.PauseFlags(); err != nil || ok {
		t.Fatalf("expected no persisted flags, got ok=%v err=%v", ok, err)
	}

	if err := m.PutPauseFlags([]string{"lending/borrow", "lendbook"}); err != nil {
		t.Fatalf("put flags: %v", err)
	}
	flags, ok, err := m.PauseFlags()
	if err != nil || !ok {
		t.Fatalf("load flags: ok=%v err=%v", ok, err)
	}
	if len(flags) != 2 || flags[0] != "lending/borrow" || flags[1] != "lendbook" {
		t.Fatalf("unexpected flags: %v", flags)
	}

	// Clearing every switch still leaves a record so genesis defaults are
	// not re-applied on restart.
	if err := m.PutPauseFlags(nil); err != nil {
		t.Fatalf("clear flags: %v", err)
	}
	flags, ok, err = m.PauseFlags()
	if err != nil || !ok {
		t.Fatalf("expected persisted empty set, got ok=%v err=%v", ok, err)
	}
	if len(flags) != 0 {
		t.Fatalf("expected empty set, got %v", flags)
	}
}
