package lending

import (
	"math/big"

	"lendpool/crypto"
	"lendpool/native/oracle"
)

// LiquidationResult reports what a liquidation moved: the debt the
// liquidator paid in, the collateral seized in exchange and any residual
// debt written down against the pool.
type LiquidationResult struct {
	Loan       *Loan
	Liquidator []byte
	DebtRepaid *big.Int
	Seized     []Collateral
	Shortfall  *big.Int
}

// IsLoanLiquidatable reports whether a loan may be liquidated right now:
// either the borrower's health factor sits below par or the loan is past its
// deadline. Closed loans are never liquidatable.
func (e *Engine) IsLoanLiquidatable(loanID uint64) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	loan, ok, err := e.state.LendingGetLoan(loanID)
	if err != nil {
		return false, err
	}
	if !ok || loan == nil {
		return false, ErrLoanNotFound
	}
	if loan.Status != LoanStatusActive {
		return false, nil
	}
	now := e.now()
	if loan.DueAt > 0 && now > loan.DueAt {
		return true, nil
	}
	health, err := e.healthFactorBps(loan.Borrower, now)
	if err != nil {
		return false, err
	}
	return health.Cmp(basisPoints) < 0, nil
}

// unitsForValueUp converts a USD value back into asset units, rounding up.
func unitsForValueUp(value *big.Int, quote oracle.Quote, decimals uint8) *big.Int {
	if value == nil || value.Sign() <= 0 {
		return big.NewInt(0)
	}
	mult := new(big.Int).Mul(pow10(decimals), pow10(quote.Decimals))
	den := new(big.Int).Mul(quote.Price, usdScale)
	return mulDivUp(value, mult, den)
}

// seizureCtx tracks the running balances of one collateral symbol while the
// seizure walk consumes them.
type seizureCtx struct {
	accrual  *accrualContext
	position *UserPosition
}

// LiquidateLoan closes an eligible loan. The liquidator repays as much of
// the debt as the pledged collateral covers at a bonus over par and receives
// that collateral, walking the pledge list in order. When the collateral
// cannot cover the full debt even at par the residue is written down against
// the pool so depositor claims stay funded. Past-due shortfalls and
// zero-recovery closures are recorded as defaults.
func (e *Engine) LiquidateLoan(liquidator crypto.Address, loanID uint64) (*LiquidationResult, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard(PauseLiquidate); err != nil {
		return nil, err
	}
	peek, ok, err := e.state.LendingGetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if !ok || peek == nil {
		return nil, ErrLoanNotFound
	}

	liquidatorBytes := liquidator.Bytes()
	lockKeys := []string{
		lockLoan(loanID),
		lockReserve(peek.BorrowSymbol),
		lockUser(peek.Borrower),
		lockUser(liquidatorBytes),
	}
	for _, col := range peek.Collaterals {
		lockKeys = append(lockKeys, lockReserve(col.Symbol))
	}
	release, err := e.acquire(lockKeys...)
	if err != nil {
		return nil, err
	}
	defer release()

	loan, ok, err := e.state.LendingGetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if !ok || loan == nil {
		return nil, ErrLoanNotFound
	}
	loan.EnsureDefaults()
	if loan.Status != LoanStatusActive {
		return nil, ErrLoanNotActive
	}

	now := e.now()
	pastDue := loan.DueAt > 0 && now > loan.DueAt
	if !pastDue {
		health, err := e.healthFactorBps(loan.Borrower, now)
		if err != nil {
			return nil, err
		}
		if health.Cmp(basisPoints) >= 0 {
			return nil, ErrNotLiquidatable
		}
	}

	borrowCtx, err := e.accrue(loan.BorrowSymbol, now)
	if err != nil {
		return nil, err
	}
	debt := debtFromNormalized(loan.NormalizedDebt, borrowCtx.reserve.BorrowIndex)
	if debt.Sign() == 0 {
		return nil, ErrNotLiquidatable
	}
	borrowQuote, err := e.freshQuote(loan.BorrowSymbol, now)
	if err != nil {
		return nil, err
	}

	staged := e.newPositionSet(borrowCtx, loan.Borrower)
	accruals := map[string]*accrualContext{loan.BorrowSymbol: borrowCtx}
	seizures := make(map[string]*seizureCtx)
	for _, col := range loan.Collaterals {
		if _, ok := seizures[col.Symbol]; ok {
			continue
		}
		ctx := accruals[col.Symbol]
		if ctx == nil {
			ctx, err = e.accrue(col.Symbol, now)
			if err != nil {
				return nil, err
			}
			accruals[col.Symbol] = ctx
		}
		position, err := staged.get(col.Symbol)
		if err != nil {
			return nil, err
		}
		seizures[col.Symbol] = &seizureCtx{accrual: ctx, position: position}
	}

	// Walk the pledge list in order, covering debt at a bonus over par until
	// the debt or the collateral runs out. The walk only stages balances;
	// nothing is transferred until the liquidator's payment clears.
	type seizureStep struct {
		symbol       string
		fromVault    *big.Int
		fromDeposits *big.Int
	}
	debtRemaining := new(big.Int).Set(debt)
	seized := make([]Collateral, 0, len(loan.Collaterals))
	steps := make([]seizureStep, 0, len(loan.Collaterals))
	for _, col := range loan.Collaterals {
		sc := seizures[col.Symbol]
		cfg := sc.accrual.cfg
		position := sc.position
		position.EnsureDefaults()

		// Release the pledge regardless of how much is ultimately seized;
		// the loan closes either way.
		position.Pledged = new(big.Int).Sub(position.Pledged, col.Amount)
		if position.Pledged.Sign() < 0 {
			position.Pledged.SetInt64(0)
		}
		if debtRemaining.Sign() == 0 {
			continue
		}

		vaultAvail := new(big.Int).Set(position.CollateralBalance)
		depositAvail := big.NewInt(0)
		if position.UseAsCollateral {
			depositAvail = amountForShares(sc.accrual.reserve, position.DepositShares)
		}
		seizable := new(big.Int).Add(vaultAvail, depositAvail)
		if seizable.Cmp(col.Amount) > 0 {
			seizable = new(big.Int).Set(col.Amount)
		}
		if seizable.Sign() == 0 {
			continue
		}

		quote, err := e.freshQuote(col.Symbol, now)
		if err != nil {
			return nil, err
		}
		bonus := new(big.Int).SetUint64(10_000 + cfg.LiquidationBonusBps)
		colValue := valueDown(seizable, quote, cfg.Decimals)

		var seizeUnits *big.Int
		debtRemainingValue := valueUp(debtRemaining, borrowQuote, borrowCtx.cfg.Decimals)
		targetValue := mulDivUp(debtRemainingValue, bonus, basisPoints)
		if colValue.Cmp(targetValue) >= 0 {
			seizeUnits = unitsForValueUp(targetValue, quote, cfg.Decimals)
			if seizeUnits.Cmp(seizable) > 0 {
				seizeUnits = new(big.Int).Set(seizable)
			}
			debtRemaining = big.NewInt(0)
		} else {
			seizeUnits = new(big.Int).Set(seizable)
			// Covered debt: collateral value deflated by the bonus, priced
			// in borrow units, rounded up so coverage detection errs toward
			// closing the debt.
			mult := new(big.Int).Mul(pow10(borrowCtx.cfg.Decimals), pow10(borrowQuote.Decimals))
			mult.Mul(mult, basisPoints)
			den := new(big.Int).Mul(borrowQuote.Price, usdScale)
			den.Mul(den, bonus)
			covered := mulDivUp(colValue, mult, den)
			debtRemaining = new(big.Int).Sub(debtRemaining, covered)
			if debtRemaining.Sign() < 0 {
				debtRemaining.SetInt64(0)
			}
		}
		if seizeUnits.Sign() == 0 {
			continue
		}

		// Vault collateral leaves first; the rest is carved out of flagged
		// deposit shares.
		fromVault := new(big.Int).Set(seizeUnits)
		if fromVault.Cmp(vaultAvail) > 0 {
			fromVault = vaultAvail
		}
		if fromVault.Sign() > 0 {
			position.CollateralBalance = new(big.Int).Sub(position.CollateralBalance, fromVault)
		}
		fromDeposits := new(big.Int).Sub(seizeUnits, fromVault)
		if fromDeposits.Sign() > 0 {
			reserve := sc.accrual.reserve
			if availableLiquidity(reserve).Cmp(fromDeposits) < 0 {
				return nil, ErrInsufficientLiquidity
			}
			shares := sharesForWithdrawal(reserve, fromDeposits)
			if shares.Cmp(position.DepositShares) > 0 {
				shares = new(big.Int).Set(position.DepositShares)
			}
			position.DepositShares = new(big.Int).Sub(position.DepositShares, shares)
			reserve.TotalDeposits = new(big.Int).Sub(reserve.TotalDeposits, fromDeposits)
			reserve.TotalDepositShares = new(big.Int).Sub(reserve.TotalDepositShares, shares)
		}
		steps = append(steps, seizureStep{symbol: col.Symbol, fromVault: fromVault, fromDeposits: fromDeposits})
		seized = append(seized, Collateral{Symbol: col.Symbol, Amount: seizeUnits})
	}

	debtRepaid := new(big.Int).Sub(debt, debtRemaining)
	shortfall := debtRemaining

	if debtRepaid.Sign() > 0 {
		balance, err := e.state.BalanceOf(liquidatorBytes, loan.BorrowSymbol)
		if err != nil {
			return nil, err
		}
		if balance == nil || balance.Cmp(debtRepaid) < 0 {
			return nil, ErrInsufficientBalance
		}
		if err := e.state.Debit(liquidatorBytes, loan.BorrowSymbol, debtRepaid); err != nil {
			return nil, err
		}
		if err := e.state.Credit(e.moduleAddress.Bytes(), loan.BorrowSymbol, debtRepaid); err != nil {
			return nil, err
		}
	}
	for _, step := range steps {
		if step.fromVault.Sign() > 0 {
			if err := e.state.Debit(e.collateralAddress.Bytes(), step.symbol, step.fromVault); err != nil {
				return nil, err
			}
			if err := e.state.Credit(liquidatorBytes, step.symbol, step.fromVault); err != nil {
				return nil, err
			}
		}
		if step.fromDeposits.Sign() > 0 {
			if err := e.state.Debit(e.moduleAddress.Bytes(), step.symbol, step.fromDeposits); err != nil {
				return nil, err
			}
			if err := e.state.Credit(liquidatorBytes, step.symbol, step.fromDeposits); err != nil {
				return nil, err
			}
		}
	}

	borrowPosition, err := staged.get(loan.BorrowSymbol)
	if err != nil {
		return nil, err
	}
	borrowPosition.NormalizedDebt = new(big.Int).Sub(borrowPosition.NormalizedDebt, loan.NormalizedDebt)
	if borrowPosition.NormalizedDebt.Sign() < 0 {
		borrowPosition.NormalizedDebt.SetInt64(0)
	}
	borrowCtx.reserve.NormalizedDebt = new(big.Int).Sub(borrowCtx.reserve.NormalizedDebt, loan.NormalizedDebt)
	if borrowCtx.reserve.NormalizedDebt.Sign() < 0 {
		borrowCtx.reserve.NormalizedDebt.SetInt64(0)
	}
	borrowCtx.reserve.TotalBorrows = new(big.Int).Sub(borrowCtx.reserve.TotalBorrows, debt)
	if borrowCtx.reserve.TotalBorrows.Sign() < 0 {
		borrowCtx.reserve.TotalBorrows.SetInt64(0)
	}
	if shortfall.Sign() > 0 {
		// The unrecoverable residue is socialised: depositor claims shrink
		// together with the books so shares stay fully backed.
		borrowCtx.reserve.TotalDeposits = new(big.Int).Sub(borrowCtx.reserve.TotalDeposits, shortfall)
		if borrowCtx.reserve.TotalDeposits.Sign() < 0 {
			borrowCtx.reserve.TotalDeposits.SetInt64(0)
		}
	}

	loan.NormalizedDebt = big.NewInt(0)
	loan.BorrowAmount = big.NewInt(0)
	loan.LastInterestUpdate = now
	loan.Status = LoanStatusLiquidated
	if shortfall.Sign() > 0 && (pastDue || debtRepaid.Sign() == 0) {
		loan.Status = LoanStatusDefaulted
	}

	if err := staged.persist(); err != nil {
		return nil, err
	}
	if err := e.state.LendingPutLoan(loan); err != nil {
		return nil, err
	}
	for symbol, ctx := range accruals {
		if err := e.persistAccrual(ctx); err != nil {
			return nil, err
		}
		if symbol == loan.BorrowSymbol {
			continue
		}
		if err := e.state.LendingPutReserve(ctx.reserve); err != nil {
			return nil, err
		}
	}
	if err := e.state.LendingPutReserve(borrowCtx.reserve); err != nil {
		return nil, err
	}

	result := &LiquidationResult{
		Loan:       loan.Clone(),
		Liquidator: append([]byte(nil), liquidatorBytes...),
		DebtRepaid: debtRepaid,
		Seized:     seized,
		Shortfall:  new(big.Int).Set(shortfall),
	}
	if loan.Status == LoanStatusDefaulted {
		e.emit(NewLoanDefaultedEvent(loan, liquidatorBytes, debtRepaid, shortfall))
	} else {
		e.emit(NewLoanLiquidatedEvent(loan, liquidatorBytes, debtRepaid, shortfall))
	}
	e.telemetry.IncLiquidation(loan.BorrowSymbol, loan.Status.String())
	return result, nil
}
