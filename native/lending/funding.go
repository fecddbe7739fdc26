package lending

import (
	"bytes"
	"math/big"

	"lendpool/crypto"
)

// FundingOrder describes a matched peer-to-peer fill settled through the
// pool: underlying held by the escrow account is deposited on behalf of the
// lender, and the borrower draws against the refreshed reserve in the same
// step. The borrow amount must not exceed the deposit so the fill is always
// self-funding.
type FundingOrder struct {
	// Escrow holds the listed underlying and is debited for the deposit.
	Escrow crypto.Address
	// Lender receives the deposit shares minted for the escrowed funds.
	Lender crypto.Address
	// Borrower opens the loan against the freshly funded reserve.
	Borrower crypto.Address
	// Symbol is the asset both legs settle in.
	Symbol string
	// DepositAmount is the underlying moved from escrow into the pool.
	DepositAmount *big.Int
	// BorrowAmount is the underlying drawn by the borrower.
	BorrowAmount *big.Int
	// Collaterals backs the borrower's new loan.
	Collaterals []CollateralSpec
	// Duration sets the loan deadline to now plus duration. Zero is invalid
	// for funded fills; matched loans always carry a term.
	Duration uint64
}

// SettleFunding executes both legs of a funding order atomically: the lender
// is credited deposit shares for the escrowed underlying and the borrower's
// loan is opened against the same reserve under one lock scope. Either both
// legs land or neither does, so a failed health or collateral check leaves
// the escrow untouched.
func (e *Engine) SettleFunding(order FundingOrder) (*big.Int, *Loan, error) {
	if e == nil || e.state == nil {
		return nil, nil, ErrNilState
	}
	if err := e.guard(PauseSupply); err != nil {
		return nil, nil, err
	}
	if err := e.guard(PauseBorrow); err != nil {
		return nil, nil, err
	}
	if order.DepositAmount == nil || order.DepositAmount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if order.BorrowAmount == nil || order.BorrowAmount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if order.BorrowAmount.Cmp(order.DepositAmount) > 0 {
		return nil, nil, ErrInvalidAmount
	}
	if order.Duration == 0 {
		return nil, nil, ErrInvalidDuration
	}
	if e.maxLoanDuration > 0 && order.Duration > e.maxLoanDuration {
		return nil, nil, ErrInvalidDuration
	}
	lenderBytes := order.Lender.Bytes()
	borrowerBytes := order.Borrower.Bytes()
	if bytes.Equal(lenderBytes, borrowerBytes) {
		return nil, nil, ErrSelfFunding
	}
	symbol := NormalizeSymbol(order.Symbol)
	escrowBytes := order.Escrow.Bytes()

	specs, collateralLocks, err := normalizeCollaterals(order.Collaterals)
	if err != nil {
		return nil, nil, err
	}
	lockKeys := append([]string{
		lockReserve(symbol),
		lockUser(escrowBytes),
		lockUser(lenderBytes),
		lockUser(borrowerBytes),
	}, collateralLocks...)

	release, err := e.acquire(lockKeys...)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	now := e.now()
	ctx, err := e.accrue(symbol, now)
	if err != nil {
		return nil, nil, err
	}
	if !ctx.cfg.IsActive {
		return nil, nil, ErrTokenInactive
	}
	if !ctx.cfg.IsLoanable {
		return nil, nil, ErrTokenNotLoanable
	}

	shares := sharesForDeposit(ctx.reserve, order.DepositAmount)
	if shares.Sign() == 0 {
		return nil, nil, ErrAmountTooSmall
	}
	balance, err := e.state.BalanceOf(escrowBytes, symbol)
	if err != nil {
		return nil, nil, err
	}
	if balance == nil || balance.Cmp(order.DepositAmount) < 0 {
		return nil, nil, ErrInsufficientBalance
	}

	lenderPosition, err := e.stagedPosition(ctx, lenderBytes, symbol)
	if err != nil {
		return nil, nil, err
	}
	lenderPosition.DepositShares = new(big.Int).Add(lenderPosition.DepositShares, shares)
	ctx.reserve.TotalDeposits = new(big.Int).Add(ctx.reserve.TotalDeposits, order.DepositAmount)
	ctx.reserve.TotalDepositShares = new(big.Int).Add(ctx.reserve.TotalDepositShares, shares)

	staged := e.newPositionSet(ctx, borrowerBytes)
	if err := e.stagePledges(ctx, staged, specs, symbol); err != nil {
		return nil, nil, err
	}
	loan, err := e.openLoan(ctx, staged, borrowerBytes, symbol, order.BorrowAmount, specs, order.Duration, now)
	if err != nil {
		return nil, nil, err
	}

	if err := e.state.Debit(escrowBytes, symbol, order.DepositAmount); err != nil {
		return nil, nil, err
	}
	if err := e.state.Credit(e.moduleAddress.Bytes(), symbol, order.DepositAmount); err != nil {
		return nil, nil, err
	}
	if err := e.state.Debit(e.moduleAddress.Bytes(), symbol, order.BorrowAmount); err != nil {
		return nil, nil, err
	}
	if err := e.state.Credit(borrowerBytes, symbol, order.BorrowAmount); err != nil {
		return nil, nil, err
	}

	if err := e.state.LendingPutPosition(lenderPosition); err != nil {
		return nil, nil, err
	}
	if err := staged.persist(); err != nil {
		return nil, nil, err
	}
	if err := e.state.LendingPutLoan(loan); err != nil {
		return nil, nil, err
	}
	if err := e.state.LendingAppendBorrowerLoan(borrowerBytes, loan.ID); err != nil {
		return nil, nil, err
	}
	if err := e.persistAccrual(ctx); err != nil {
		return nil, nil, err
	}
	if err := e.state.LendingPutReserve(ctx.reserve); err != nil {
		return nil, nil, err
	}
	e.emit(NewDepositedEvent(lenderBytes, symbol, order.DepositAmount, shares))
	e.emit(NewLoanCreatedEvent(loan))
	e.telemetry.IncLoanOpened(loan.BorrowSymbol)
	return shares, loan.Clone(), nil
}
