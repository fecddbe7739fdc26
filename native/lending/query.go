package lending

import (
	"math/big"

	"lendpool/crypto"
)

// ReserveSnapshot couples a reserve's balances with the rates implied by its
// current utilisation.
type ReserveSnapshot struct {
	Reserve        *Reserve
	Rates          RateData
	UtilisationBps uint64
}

// ReserveSnapshotFor returns a copy of the named reserve and its live rates.
// The stored reserve is not accrued; callers wanting up-to-the-second debt
// should price it with the projected borrow index.
func (e *Engine) ReserveSnapshotFor(symbol string) (*ReserveSnapshot, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	symbol = NormalizeSymbol(symbol)
	cfg, err := e.loadToken(symbol, false)
	if err != nil {
		return nil, err
	}
	reserve, err := e.ensureReserve(symbol, e.now())
	if err != nil {
		return nil, err
	}
	util := UtilisationBps(reserve.TotalDeposits, reserve.TotalBorrows)
	return &ReserveSnapshot{
		Reserve: reserve.Clone(),
		Rates: RateData{
			BorrowRateBps:  cfg.Interest.BorrowRateBps(util),
			DepositRateBps: cfg.Interest.DepositRateBps(util, cfg.ReserveFactorBps),
		},
		UtilisationBps: util,
	}, nil
}

// PositionFor returns a copy of the account's standing in one reserve.
func (e *Engine) PositionFor(addr crypto.Address, symbol string) (*UserPosition, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	symbol = NormalizeSymbol(symbol)
	position, ok, err := e.state.LendingGetPosition(addr.Bytes(), symbol)
	if err != nil {
		return nil, err
	}
	if !ok || position == nil {
		return nil, ErrPositionNotFound
	}
	position.EnsureDefaults()
	return position.Clone(), nil
}

// PositionsFor returns copies of every position the account holds.
func (e *Engine) PositionsFor(addr crypto.Address) ([]*UserPosition, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	owner := addr.Bytes()
	symbols, err := e.state.LendingUserAssets(owner)
	if err != nil {
		return nil, err
	}
	positions := make([]*UserPosition, 0, len(symbols))
	for _, symbol := range symbols {
		position, ok, err := e.state.LendingGetPosition(owner, symbol)
		if err != nil {
			return nil, err
		}
		if !ok || position == nil {
			continue
		}
		position.EnsureDefaults()
		positions = append(positions, position.Clone())
	}
	return positions, nil
}

// LoanFor returns a copy of the loan record.
func (e *Engine) LoanFor(id uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	loan, ok, err := e.state.LendingGetLoan(id)
	if err != nil {
		return nil, err
	}
	if !ok || loan == nil {
		return nil, ErrLoanNotFound
	}
	loan.EnsureDefaults()
	return loan.Clone(), nil
}

// LoanDebt prices a loan's outstanding debt at the projected borrow index
// without mutating the reserve.
func (e *Engine) LoanDebt(id uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	loan, ok, err := e.state.LendingGetLoan(id)
	if err != nil {
		return nil, err
	}
	if !ok || loan == nil {
		return nil, ErrLoanNotFound
	}
	loan.EnsureDefaults()
	if loan.Status != LoanStatusActive {
		return big.NewInt(0), nil
	}
	cfg, err := e.loadToken(loan.BorrowSymbol, false)
	if err != nil {
		return nil, err
	}
	reserve, err := e.ensureReserve(loan.BorrowSymbol, e.now())
	if err != nil {
		return nil, err
	}
	idx := projectedBorrowIndex(reserve, cfg, e.now())
	return debtFromNormalized(loan.NormalizedDebt, idx), nil
}

// LoansFor returns copies of every loan the borrower has opened, newest
// last.
func (e *Engine) LoansFor(addr crypto.Address) ([]*Loan, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	ids, err := e.state.LendingLoansByBorrower(addr.Bytes())
	if err != nil {
		return nil, err
	}
	loans := make([]*Loan, 0, len(ids))
	for _, id := range ids {
		loan, ok, err := e.state.LendingGetLoan(id)
		if err != nil {
			return nil, err
		}
		if !ok || loan == nil {
			continue
		}
		loan.EnsureDefaults()
		loans = append(loans, loan.Clone())
	}
	return loans, nil
}

// AccountHealth computes the account's live health factor in basis points.
func (e *Engine) AccountHealth(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.healthFactorBps(addr.Bytes(), e.now())
}

// ProtocolFeeBalance reports the underlying currently claimable by the fee
// collector in one reserve, alongside the cumulative capture record.
func (e *Engine) ProtocolFeeBalance(symbol string) (*big.Int, *FeeAccrual, error) {
	if e == nil || e.state == nil {
		return nil, nil, ErrNilState
	}
	symbol = NormalizeSymbol(symbol)
	if _, err := e.loadToken(symbol, false); err != nil {
		return nil, nil, err
	}
	reserve, err := e.ensureReserve(symbol, e.now())
	if err != nil {
		return nil, nil, err
	}
	collector, ok, err := e.state.LendingGetPosition(e.feeCollector.Bytes(), symbol)
	if err != nil {
		return nil, nil, err
	}
	claimable := big.NewInt(0)
	if ok && collector != nil {
		collector.EnsureDefaults()
		claimable = amountForShares(reserve, collector.DepositShares)
	}
	fees, err := e.state.LendingGetFeeAccrual(symbol)
	if err != nil {
		return nil, nil, err
	}
	if fees == nil {
		fees = &FeeAccrual{}
	}
	fees.EnsureDefaults()
	return claimable, fees.Clone(), nil
}
