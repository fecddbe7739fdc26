package lending

import (
	"fmt"
	"math/big"
)

// InterestModel parameterises the kinked borrow rate curve for a reserve.
// Rates rise gently up to the kink utilisation and steeply beyond it, pushing
// the pool back towards the target band. All values are basis points.
type InterestModel struct {
	// BaseRateBps is the borrow rate at zero utilisation.
	BaseRateBps uint64
	// Slope1Bps is the rate increase accumulated across [0, kink].
	Slope1Bps uint64
	// Slope2Bps is the rate increase accumulated across (kink, 100%].
	Slope2Bps uint64
	// KinkBps is the utilisation at which the curve steepens. Must sit
	// strictly inside (0, 10000).
	KinkBps uint64
}

// DefaultInterestModel is applied to listed tokens that do not carry an
// explicit curve.
var DefaultInterestModel = InterestModel{
	BaseRateBps: 100,
	Slope1Bps:   700,
	Slope2Bps:   6_000,
	KinkBps:     8_000,
}

// Validate rejects curves whose kink would divide by zero or sit outside the
// utilisation range.
func (m InterestModel) Validate() error {
	if m.KinkBps == 0 || m.KinkBps >= 10_000 {
		return fmt.Errorf("%w: interest kink %d outside (0, 10000)", ErrInvalidConfig, m.KinkBps)
	}
	return nil
}

// UtilisationBps computes borrows as a share of deposits in basis points,
// truncated and capped at 10000. An empty reserve reports zero utilisation.
func UtilisationBps(totalDeposits, totalBorrows *big.Int) uint64 {
	if totalDeposits == nil || totalDeposits.Sign() <= 0 {
		return 0
	}
	if totalBorrows == nil || totalBorrows.Sign() <= 0 {
		return 0
	}
	util := mulDivDown(totalBorrows, basisPoints, totalDeposits)
	if !util.IsUint64() || util.Uint64() > 10_000 {
		return 10_000
	}
	return util.Uint64()
}

// BorrowRateBps evaluates the kinked curve at the given utilisation. Both
// segments interpolate linearly with truncating division.
func (m InterestModel) BorrowRateBps(utilisationBps uint64) uint64 {
	if utilisationBps > 10_000 {
		utilisationBps = 10_000
	}
	if utilisationBps <= m.KinkBps {
		return m.BaseRateBps + utilisationBps*m.Slope1Bps/m.KinkBps
	}
	excess := utilisationBps - m.KinkBps
	return m.BaseRateBps + m.Slope1Bps + excess*m.Slope2Bps/(10_000-m.KinkBps)
}

// DepositRateBps derives the rate passed through to depositors: the borrow
// rate scaled by utilisation, less the protocol's reserve factor. Each step
// truncates.
func (m InterestModel) DepositRateBps(utilisationBps, reserveFactorBps uint64) uint64 {
	if reserveFactorBps > 10_000 {
		reserveFactorBps = 10_000
	}
	borrow := m.BorrowRateBps(utilisationBps)
	gross := borrow * utilisationBps / 10_000
	return gross * (10_000 - reserveFactorBps) / 10_000
}

// ComputeRates evaluates the curve against a reserve's current balances.
func (m InterestModel) ComputeRates(reserve *Reserve, reserveFactorBps uint64) (RateData, error) {
	if err := m.Validate(); err != nil {
		return RateData{}, err
	}
	if reserve == nil {
		return RateData{}, ErrNilState
	}
	util := UtilisationBps(reserve.TotalDeposits, reserve.TotalBorrows)
	return RateData{
		BorrowRateBps:  m.BorrowRateBps(util),
		DepositRateBps: m.DepositRateBps(util, reserveFactorBps),
	}, nil
}
