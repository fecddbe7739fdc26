package lending

import (
	"errors"
	"math/big"
	"testing"

	nativecommon "lendpool/native/common"
)

type stubPauseView struct {
	modules map[string]bool
}

func (s stubPauseView) IsPaused(module string) bool {
	if s.modules == nil {
		return false
	}
	return s.modules[module]
}

func TestModulePauseBlocksEveryAction(t *testing.T) {
	env := newTestEnv(t)
	env.listToken(t, usdcConfig())
	supplier := makeAddress(0x70)
	env.fund(supplier, "USDC", big.NewInt(5_000_000))
	env.engine.SetPauses(stubPauseView{modules: map[string]bool{moduleName: true}})

	if _, err := env.engine.Deposit(supplier, "USDC", big.NewInt(1_000_000)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := env.engine.Withdraw(supplier, "USDC", big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused on withdraw, got %v", err)
	}
	if err := env.engine.DepositCollateral(supplier, "USDC", big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused on collateral, got %v", err)
	}
	if _, err := env.engine.CreatePosition(supplier, "USDC", big.NewInt(1), []CollateralSpec{{Symbol: "USDC", Amount: big.NewInt(1)}}, 0); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused on borrow, got %v", err)
	}
	if _, err := env.engine.Repay(supplier, 1, big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused on repay, got %v", err)
	}
	if _, err := env.engine.LiquidateLoan(supplier, 1); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused on liquidate, got %v", err)
	}

	if got := env.balance(supplier, "USDC"); got.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Fatalf("expected balance untouched, got %s", got)
	}
	if reserve := env.state.reserves["USDC"]; reserve.TotalDeposits.Sign() != 0 {
		t.Fatalf("expected reserve untouched, got %s", reserve.TotalDeposits)
	}
}

func TestActionPauseLeavesOtherActionsOpen(t *testing.T) {
	env := newTestEnv(t)
	env.listToken(t, usdcConfig())
	supplier := makeAddress(0x71)
	env.fund(supplier, "USDC", big.NewInt(5_000_000))
	env.engine.SetPauses(stubPauseView{modules: map[string]bool{PauseWithdraw: true}})

	shares, err := env.engine.Deposit(supplier, "USDC", big.NewInt(5_000_000))
	if err != nil {
		t.Fatalf("deposit should pass with only withdrawals paused: %v", err)
	}
	if shares.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Fatalf("unexpected shares: %s", shares)
	}
	if _, err := env.engine.Withdraw(supplier, "USDC", big.NewInt(1_000_000)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}

	env.engine.SetPauses(stubPauseView{})
	if _, err := env.engine.Withdraw(supplier, "USDC", big.NewInt(1_000_000)); err != nil {
		t.Fatalf("withdraw after unpause: %v", err)
	}
}
