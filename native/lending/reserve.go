package lending

import (
	"math/big"
)

// accrualResult reports what a reserve accrual changed. Interest is the full
// amount added to deposits and borrows, FeeAmount the protocol's cut of it,
// and FeeShares the deposit shares minted for the fee collector.
type accrualResult struct {
	Interest  *big.Int
	FeeAmount *big.Int
	FeeShares *big.Int
	Rates     RateData
}

func emptyAccrual(rates RateData) accrualResult {
	return accrualResult{
		Interest:  big.NewInt(0),
		FeeAmount: big.NewInt(0),
		FeeShares: big.NewInt(0),
		Rates:     rates,
	}
}

// accrueReserve rolls the reserve's indexes forward to now and books the
// interest produced since the last update. Rates are evaluated on the
// pre-accrual balances. The full interest is added to both sides of the
// ledger; the protocol's share is minted as deposit shares at the
// post-accrual exchange rate so depositor claims stay fully funded. The
// caller credits the minted shares to the fee collector.
//
// Calling twice with the same timestamp is a no-op the second time.
func accrueReserve(reserve *Reserve, cfg *TokenConfig, now uint64) (accrualResult, error) {
	if reserve == nil || cfg == nil {
		return accrualResult{}, ErrNilState
	}
	if err := cfg.Interest.Validate(); err != nil {
		return accrualResult{}, err
	}
	reserve.EnsureDefaults()

	util := UtilisationBps(reserve.TotalDeposits, reserve.TotalBorrows)
	rates := RateData{
		BorrowRateBps:  cfg.Interest.BorrowRateBps(util),
		DepositRateBps: cfg.Interest.DepositRateBps(util, cfg.ReserveFactorBps),
	}

	if now <= reserve.LastUpdateTimestamp {
		return emptyAccrual(rates), nil
	}
	elapsed := now - reserve.LastUpdateTimestamp
	reserve.LastUpdateTimestamp = now

	if reserve.NormalizedDebt.Sign() == 0 {
		return emptyAccrual(rates), nil
	}

	// Index growth factor: (10000*secondsPerYear + rateBps*elapsed) over
	// 10000*secondsPerYear. The borrow side rounds up, the liquidity side
	// down, so the protocol never undercollects from borrowers or
	// overpromises to depositors.
	den := new(big.Int).Mul(basisPoints, big.NewInt(SecondsPerYear))
	borrowNum := new(big.Int).Mul(new(big.Int).SetUint64(rates.BorrowRateBps), new(big.Int).SetUint64(elapsed))
	borrowNum.Add(borrowNum, den)
	liquidityNum := new(big.Int).Mul(new(big.Int).SetUint64(rates.DepositRateBps), new(big.Int).SetUint64(elapsed))
	liquidityNum.Add(liquidityNum, den)

	reserve.BorrowIndex = mulDivUp(reserve.BorrowIndex, borrowNum, den)
	reserve.LiquidityIndex = mulDivDown(reserve.LiquidityIndex, liquidityNum, den)

	// Re-derive total borrows from normalised debt so the aggregate never
	// drifts from the per-loan records.
	grown := mulDivUp(reserve.NormalizedDebt, reserve.BorrowIndex, ray)
	interest := new(big.Int).Sub(grown, reserve.TotalBorrows)
	if interest.Sign() < 0 {
		interest.SetInt64(0)
	}
	reserve.TotalBorrows = grown
	reserve.TotalDeposits = new(big.Int).Add(reserve.TotalDeposits, interest)

	fee := mulDivDown(interest, new(big.Int).SetUint64(cfg.ReserveFactorBps), basisPoints)
	feeShares := big.NewInt(0)
	if fee.Sign() > 0 && reserve.TotalDeposits.Sign() > 0 {
		feeShares = mulDivDown(fee, reserve.TotalDepositShares, reserve.TotalDeposits)
		reserve.TotalDepositShares = new(big.Int).Add(reserve.TotalDepositShares, feeShares)
	}

	return accrualResult{Interest: interest, FeeAmount: fee, FeeShares: feeShares, Rates: rates}, nil
}

// projectedBorrowIndex computes where the borrow index would land at now
// without mutating the reserve. Health checks use it to price debt in
// reserves that are not otherwise touched by the operation.
func projectedBorrowIndex(reserve *Reserve, cfg *TokenConfig, now uint64) *big.Int {
	if reserve == nil {
		return new(big.Int).Set(ray)
	}
	reserve.EnsureDefaults()
	if cfg == nil || now <= reserve.LastUpdateTimestamp || reserve.NormalizedDebt.Sign() == 0 {
		return new(big.Int).Set(reserve.BorrowIndex)
	}
	if cfg.Interest.Validate() != nil {
		return new(big.Int).Set(reserve.BorrowIndex)
	}
	elapsed := now - reserve.LastUpdateTimestamp
	util := UtilisationBps(reserve.TotalDeposits, reserve.TotalBorrows)
	rate := cfg.Interest.BorrowRateBps(util)
	den := new(big.Int).Mul(basisPoints, big.NewInt(SecondsPerYear))
	num := new(big.Int).Mul(new(big.Int).SetUint64(rate), new(big.Int).SetUint64(elapsed))
	num.Add(num, den)
	return mulDivUp(reserve.BorrowIndex, num, den)
}

// debtFromNormalized converts normalised debt back to underlying at the given
// borrow index, rounding against the borrower.
func debtFromNormalized(normalized, borrowIndex *big.Int) *big.Int {
	if normalized == nil || normalized.Sign() == 0 {
		return big.NewInt(0)
	}
	return mulDivUp(normalized, borrowIndex, ray)
}

// normalizeDebtDown converts an underlying amount to normalised debt rounding
// down, used when reducing debt so repayments never erase more than paid.
func normalizeDebtDown(amount, borrowIndex *big.Int) *big.Int {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0)
	}
	return mulDivDown(amount, ray, borrowIndex)
}

// normalizeDebtUp converts an underlying amount to normalised debt rounding
// up, used when adding debt so borrowers owe at least what they drew.
func normalizeDebtUp(amount, borrowIndex *big.Int) *big.Int {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0)
	}
	return mulDivUp(amount, ray, borrowIndex)
}

// sharesForDeposit converts a deposit amount to shares at the reserve's
// current exchange rate, rounding down. The first deposit mints one share per
// unit.
func sharesForDeposit(reserve *Reserve, amount *big.Int) *big.Int {
	if reserve == nil || amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	reserve.EnsureDefaults()
	if reserve.TotalDepositShares.Sign() == 0 || reserve.TotalDeposits.Sign() == 0 {
		return new(big.Int).Set(amount)
	}
	return mulDivDown(amount, reserve.TotalDepositShares, reserve.TotalDeposits)
}

// sharesForWithdrawal converts an underlying amount to the shares that must
// be burned to release it, rounding up so the pool never pays out more than
// the burned claim.
func sharesForWithdrawal(reserve *Reserve, amount *big.Int) *big.Int {
	if reserve == nil || amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	reserve.EnsureDefaults()
	if reserve.TotalDeposits.Sign() == 0 {
		return new(big.Int).Set(amount)
	}
	return mulDivUp(amount, reserve.TotalDepositShares, reserve.TotalDeposits)
}

// amountForShares converts deposit shares to underlying at the current
// exchange rate, rounding down.
func amountForShares(reserve *Reserve, shares *big.Int) *big.Int {
	if reserve == nil || shares == nil || shares.Sign() <= 0 {
		return big.NewInt(0)
	}
	reserve.EnsureDefaults()
	if reserve.TotalDepositShares.Sign() == 0 {
		return big.NewInt(0)
	}
	return mulDivDown(shares, reserve.TotalDeposits, reserve.TotalDepositShares)
}

// availableLiquidity is the underlying the reserve can pay out right now:
// deposits not currently lent.
func availableLiquidity(reserve *Reserve) *big.Int {
	if reserve == nil {
		return big.NewInt(0)
	}
	reserve.EnsureDefaults()
	free := new(big.Int).Sub(reserve.TotalDeposits, reserve.TotalBorrows)
	if free.Sign() < 0 {
		free.SetInt64(0)
	}
	return free
}
