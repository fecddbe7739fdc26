package lending

import (
	"errors"
	"math/big"
	"testing"
)

func TestBorrowRateFollowsKinkedCurve(t *testing.T) {
	model := InterestModel{BaseRateBps: 500, Slope1Bps: 1000, Slope2Bps: 30_000, KinkBps: 8000}
	cases := []struct {
		util uint64
		want uint64
	}{
		{0, 500},
		{4000, 1000},
		{8000, 1500},
		{9000, 16_500},
		{10_000, 31_500},
		{25_000, 31_500}, // capped at full utilisation
	}
	for _, tc := range cases {
		if got := model.BorrowRateBps(tc.util); got != tc.want {
			t.Fatalf("utilisation %d: expected %d bps, got %d", tc.util, tc.want, got)
		}
	}
}

func TestDepositRateTruncatesEachStep(t *testing.T) {
	model := InterestModel{BaseRateBps: 500, Slope1Bps: 1000, Slope2Bps: 30_000, KinkBps: 8000}
	// borrow 916, scaled by utilisation 305, after the reserve factor 274;
	// every division truncates.
	if got := model.DepositRateBps(3333, 1000); got != 274 {
		t.Fatalf("expected 274 bps, got %d", got)
	}
	if got := model.DepositRateBps(0, 1000); got != 0 {
		t.Fatalf("expected zero rate at zero utilisation, got %d", got)
	}
	if got := model.DepositRateBps(10_000, 10_000); got != 0 {
		t.Fatalf("expected zero rate at full reserve factor, got %d", got)
	}
}

func TestInterestModelValidateRejectsBadKink(t *testing.T) {
	if err := (InterestModel{KinkBps: 0}).Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for zero kink, got %v", err)
	}
	if err := (InterestModel{KinkBps: 10_000}).Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for kink at 100%%, got %v", err)
	}
	if err := DefaultInterestModel.Validate(); err != nil {
		t.Fatalf("default curve should validate: %v", err)
	}
}

func TestUtilisationBps(t *testing.T) {
	if got := UtilisationBps(big.NewInt(0), big.NewInt(0)); got != 0 {
		t.Fatalf("empty reserve: expected 0, got %d", got)
	}
	if got := UtilisationBps(big.NewInt(1000), big.NewInt(500)); got != 5000 {
		t.Fatalf("expected 5000, got %d", got)
	}
	if got := UtilisationBps(big.NewInt(3), big.NewInt(1)); got != 3333 {
		t.Fatalf("expected truncated 3333, got %d", got)
	}
	// Borrows above deposits clamp rather than overflow the curve.
	if got := UtilisationBps(big.NewInt(1000), big.NewInt(2500)); got != 10_000 {
		t.Fatalf("expected cap at 10000, got %d", got)
	}
}

func TestComputeRates(t *testing.T) {
	model := InterestModel{BaseRateBps: 0, Slope1Bps: 10_000, Slope2Bps: 0, KinkBps: 5000}
	reserve := seedReserve(1000, 500, 1000, 500, 1_700_000_000)
	rates, err := model.ComputeRates(reserve, 2000)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if rates.BorrowRateBps != 10_000 || rates.DepositRateBps != 4000 {
		t.Fatalf("unexpected rates: %+v", rates)
	}
	if _, err := (InterestModel{KinkBps: 0}).ComputeRates(reserve, 0); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
