package fuzz

import (
	"errors"
	"math/big"
	"testing"

	"lendpool/core"
	"lendpool/crypto"
	"lendpool/native/lending"
	"lendpool/storage"
)

const (
	fuzzBaseNow     = uint64(1_700_000_000)
	fuzzYearSeconds = uint64(31_536_000)
)

func fuzzAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.MustNewAddress(crypto.LendPrefix, raw)
}

func fuzzUSDC() *lending.TokenConfig {
	return &lending.TokenConfig{
		Symbol:                  "USDC",
		Decimals:                6,
		LtvBps:                  7500,
		LiquidationThresholdBps: 8000,
		LiquidationBonusBps:     500,
		ReserveFactorBps:        2000,
		Interest: lending.InterestModel{
			BaseRateBps: 500,
			Slope1Bps:   1000,
			Slope2Bps:   30_000,
			KinkBps:     8000,
		},
		IsActive:   true,
		IsLoanable: true,
	}
}

func fuzzWETH() *lending.TokenConfig {
	return &lending.TokenConfig{
		Symbol:                  "WETH",
		Decimals:                18,
		LtvBps:                  7500,
		LiquidationThresholdBps: 8000,
		LiquidationBonusBps:     1000,
		ReserveFactorBps:        2000,
		Interest: lending.InterestModel{
			BaseRateBps: 200,
			Slope1Bps:   800,
			Slope2Bps:   20_000,
			KinkBps:     8000,
		},
		IsActive:   true,
		IsLoanable: true,
	}
}

// economicReject lists the constraint errors an operation may legitimately
// return under fuzzed amounts. Anything else is a bug.
func economicReject(err error) bool {
	return errors.Is(err, lending.ErrAmountTooSmall) ||
		errors.Is(err, lending.ErrInsufficientLiquidity) ||
		errors.Is(err, lending.ErrInsufficientCollateral) ||
		errors.Is(err, lending.ErrInsufficientBalance) ||
		errors.Is(err, lending.ErrHealthCheckFailed)
}

func clampInt64(v, lo, hi int64) int64 {
	if v < 0 {
		v = -v
	}
	if v < 0 { // math.MinInt64
		v = hi
	}
	return lo + v%(hi-lo+1)
}

type fuzzPool struct {
	node *core.Node
	now  uint64
}

func newFuzzPool(t *testing.T) *fuzzPool {
	t.Helper()
	node, err := core.NewNode(storage.NewMemDB(), &core.Genesis{
		Tokens: []*lending.TokenConfig{fuzzUSDC(), fuzzWETH()},
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	p := &fuzzPool{node: node, now: fuzzBaseNow}
	node.SetNowFunc(func() uint64 { return p.now })
	node.SetMaxQuoteAge(3600)
	p.stamp(t)
	return p
}

func (p *fuzzPool) stamp(t *testing.T) {
	t.Helper()
	if err := p.node.OracleSetPrice("USDC", big.NewInt(100_000_000), 8, p.now); err != nil {
		t.Fatalf("stamp USDC: %v", err)
	}
	if err := p.node.OracleSetPrice("WETH", big.NewInt(200_000_000_000), 8, p.now); err != nil {
		t.Fatalf("stamp WETH: %v", err)
	}
}

func (p *fuzzPool) advance(t *testing.T, seconds uint64) {
	t.Helper()
	p.now += seconds
	p.stamp(t)
}

func (p *fuzzPool) requireSolvent(t *testing.T, stage string, prevBorrowIdx, prevLiquidityIdx *big.Int) (*big.Int, *big.Int) {
	t.Helper()
	snapshot, err := p.node.LendingReserve("USDC")
	if err != nil {
		t.Fatalf("%s: reserve: %v", stage, err)
	}
	reserve := snapshot.Reserve
	if reserve.TotalBorrows.Cmp(reserve.TotalDeposits) > 0 {
		t.Fatalf("%s: borrows %s exceed deposits %s", stage, reserve.TotalBorrows, reserve.TotalDeposits)
	}
	if reserve.TotalDeposits.Sign() < 0 || reserve.TotalDepositShares.Sign() < 0 {
		t.Fatalf("%s: negative reserve books", stage)
	}
	if prevBorrowIdx != nil && reserve.BorrowIndex.Cmp(prevBorrowIdx) < 0 {
		t.Fatalf("%s: borrow index regressed", stage)
	}
	if prevLiquidityIdx != nil && reserve.LiquidityIndex.Cmp(prevLiquidityIdx) < 0 {
		t.Fatalf("%s: liquidity index regressed", stage)
	}
	return reserve.BorrowIndex, reserve.LiquidityIndex
}

// FuzzDepositBorrowRepayWithdraw runs a full lifecycle with fuzzed amounts
// and elapsed time: supply, leveraged borrow, the interval, full repayment
// and the supplier's exit. The reserve must stay solvent with monotone
// indices at every stage, and the supplier's floor-rounded exit can never
// drain more than the books carry.
func FuzzDepositBorrowRepayWithdraw(f *testing.F) {
	f.Add(int64(100_000_000_000), int64(7_500_000_000), int64(fuzzYearSeconds))
	f.Add(int64(1), int64(1), int64(0))
	f.Add(int64(42), int64(13), int64(17))
	f.Add(int64(999_999_999_999_999), int64(3_333_333_333), int64(11))

	f.Fuzz(func(t *testing.T, depositRaw, borrowRaw, elapsedRaw int64) {
		depositAmt := big.NewInt(clampInt64(depositRaw, 1, 1_000_000_000_000_000))
		borrowAmt := big.NewInt(clampInt64(borrowRaw, 1, 7_000_000_000))
		elapsed := uint64(clampInt64(elapsedRaw, 0, int64(5*fuzzYearSeconds)))

		p := newFuzzPool(t)
		lender := fuzzAddress(0x51)
		borrower := fuzzAddress(0x52)

		if err := p.node.Mint(lender, "USDC", depositAmt); err != nil {
			t.Fatalf("mint lender: %v", err)
		}
		if _, err := p.node.LendingDeposit(lender, "USDC", depositAmt); err != nil {
			t.Fatalf("deposit %s: %v", depositAmt, err)
		}
		borrowIdx, liquidityIdx := p.requireSolvent(t, "after deposit", nil, nil)

		// Collateral easily covers the capped borrow; the binding limits are
		// pool liquidity and the fuzzed amounts themselves.
		if err := p.node.Mint(borrower, "WETH", new(big.Int).SetUint64(5_000_000_000_000_000_000)); err != nil {
			t.Fatalf("mint borrower: %v", err)
		}
		if _, err := p.node.LendingDeposit(borrower, "WETH", new(big.Int).SetUint64(5_000_000_000_000_000_000)); err != nil {
			t.Fatalf("deposit collateral: %v", err)
		}
		if err := p.node.LendingSetCollateralFlag(borrower, "WETH", true); err != nil {
			t.Fatalf("flag collateral: %v", err)
		}

		loan, err := p.node.LendingBorrow(borrower, "USDC", borrowAmt,
			[]lending.CollateralSpec{{Symbol: "WETH", Amount: new(big.Int).SetUint64(5_000_000_000_000_000_000)}}, 0)
		borrowed := err == nil
		if err != nil && !economicReject(err) {
			t.Fatalf("borrow %s: unexpected error %v", borrowAmt, err)
		}
		borrowIdx, liquidityIdx = p.requireSolvent(t, "after borrow", borrowIdx, liquidityIdx)

		p.advance(t, elapsed)

		if borrowed {
			// Cover any amount of accrued interest, then settle in full.
			// Five years at the curve ceiling scales debt by under 17x;
			// the extra absolute margin absorbs round-ups on dust loans.
			topUp := new(big.Int).Mul(borrowAmt, big.NewInt(32))
			topUp.Add(topUp, big.NewInt(1_000_000))
			if err := p.node.Mint(borrower, "USDC", topUp); err != nil {
				t.Fatalf("mint repayment: %v", err)
			}
			repaid, err := p.node.LendingRepay(borrower, loan.ID, big.NewInt(0))
			if err != nil {
				t.Fatalf("full repay: %v", err)
			}
			if repaid.Cmp(borrowAmt) < 0 {
				t.Fatalf("full repayment %s below principal %s", repaid, borrowAmt)
			}
			closed, err := p.node.LendingLoan(loan.ID)
			if err != nil {
				t.Fatalf("reload loan: %v", err)
			}
			if closed.Status != lending.LoanStatusRepaid {
				t.Fatalf("expected repaid loan, got %v", closed.Status)
			}
		}
		borrowIdx, liquidityIdx = p.requireSolvent(t, "after repay", borrowIdx, liquidityIdx)

		position, err := p.node.LendingPosition(lender, "USDC")
		if err != nil {
			t.Fatalf("lender position: %v", err)
		}
		snapshot, err := p.node.LendingReserve("USDC")
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		reserve := snapshot.Reserve
		entitlement := new(big.Int).Mul(position.DepositShares, reserve.TotalDeposits)
		entitlement.Quo(entitlement, reserve.TotalDepositShares)
		if entitlement.Sign() > 0 {
			if _, err := p.node.LendingWithdraw(lender, "USDC", entitlement); err != nil && !economicReject(err) {
				t.Fatalf("withdraw %s: unexpected error %v", entitlement, err)
			}
		}
		p.requireSolvent(t, "after exit", borrowIdx, liquidityIdx)

		// The supplier must never exit with more than deposit plus the
		// pool's booked interest, and with none at all when no time passed.
		balance, err := p.node.BalanceOf(lender, "USDC")
		if err != nil {
			t.Fatalf("lender balance: %v", err)
		}
		if elapsed == 0 && balance.Cmp(depositAmt) > 0 {
			t.Fatalf("zero-elapsed exit paid %s for deposit %s", balance, depositAmt)
		}
		vault, err := p.node.BalanceOf(p.node.LendingVault(), "USDC")
		if err != nil {
			t.Fatalf("vault balance: %v", err)
		}
		final, err := p.node.LendingReserve("USDC")
		if err != nil {
			t.Fatalf("final reserve: %v", err)
		}
		if vault.Cmp(final.Reserve.TotalDeposits) < 0 {
			t.Fatalf("vault %s cannot back booked deposits %s", vault, final.Reserve.TotalDeposits)
		}
	})
}

// FuzzShareConversionNeverFavoursCaller hammers the deposit/withdraw pair at
// a grown share price: minting then burning any amount must round so the
// pool keeps the dust.
func FuzzShareConversionNeverFavoursCaller(f *testing.F) {
	f.Add(int64(1))
	f.Add(int64(999))
	f.Add(int64(1_000_001))
	f.Add(int64(123_456_789_123))

	f.Fuzz(func(t *testing.T, amountRaw int64) {
		amount := big.NewInt(clampInt64(amountRaw, 1, 1_000_000_000_000))

		p := newFuzzPool(t)
		lender := fuzzAddress(0x61)
		borrower := fuzzAddress(0x62)

		// Seed utilisation and a year of accrual so shares trade above par.
		if err := p.node.Mint(lender, "USDC", big.NewInt(100_000_000_000)); err != nil {
			t.Fatalf("mint seed: %v", err)
		}
		if _, err := p.node.LendingDeposit(lender, "USDC", big.NewInt(100_000_000_000)); err != nil {
			t.Fatalf("seed deposit: %v", err)
		}
		if err := p.node.Mint(borrower, "WETH", new(big.Int).SetUint64(5_000_000_000_000_000_000)); err != nil {
			t.Fatalf("mint collateral: %v", err)
		}
		if _, err := p.node.LendingDeposit(borrower, "WETH", new(big.Int).SetUint64(5_000_000_000_000_000_000)); err != nil {
			t.Fatalf("deposit collateral: %v", err)
		}
		if err := p.node.LendingSetCollateralFlag(borrower, "WETH", true); err != nil {
			t.Fatalf("flag: %v", err)
		}
		if _, err := p.node.LendingBorrow(borrower, "USDC", big.NewInt(7_500_000_000),
			[]lending.CollateralSpec{{Symbol: "WETH", Amount: new(big.Int).SetUint64(5_000_000_000_000_000_000)}}, 0); err != nil {
			t.Fatalf("seed borrow: %v", err)
		}
		p.advance(t, fuzzYearSeconds)

		caller := fuzzAddress(0x63)
		if err := p.node.Mint(caller, "USDC", amount); err != nil {
			t.Fatalf("mint caller: %v", err)
		}
		shares, err := p.node.LendingDeposit(caller, "USDC", amount)
		if err != nil {
			if !errors.Is(err, lending.ErrAmountTooSmall) {
				t.Fatalf("deposit %s: unexpected error %v", amount, err)
			}
			return
		}

		snapshot, err := p.node.LendingReserve("USDC")
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		reserve := snapshot.Reserve
		redeemable := new(big.Int).Mul(shares, reserve.TotalDeposits)
		redeemable.Quo(redeemable, reserve.TotalDepositShares)
		if redeemable.Cmp(amount) > 0 {
			t.Fatalf("minted shares redeem %s for a %s deposit", redeemable, amount)
		}
		if redeemable.Sign() == 0 {
			return
		}
		if _, err := p.node.LendingWithdraw(caller, "USDC", redeemable); err != nil {
			if !economicReject(err) {
				t.Fatalf("withdraw %s: unexpected error %v", redeemable, err)
			}
			return
		}
		balance, err := p.node.BalanceOf(caller, "USDC")
		if err != nil {
			t.Fatalf("caller balance: %v", err)
		}
		if balance.Cmp(amount) > 0 {
			t.Fatalf("round trip profited: in %s out %s", amount, balance)
		}
		p.requireSolvent(t, "after round trip", nil, nil)
	})
}
