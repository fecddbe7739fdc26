package lending

import (
	"math/big"
	"sort"

	"lendpool/crypto"
)

// positionSet stages one account's positions across several reserves so an
// operation mutates a single copy per symbol and persists each exactly once.
type positionSet struct {
	engine *Engine
	ctx    *accrualContext
	owner  []byte
	byKey  map[string]*UserPosition
}

func (e *Engine) newPositionSet(ctx *accrualContext, owner []byte) *positionSet {
	return &positionSet{engine: e, ctx: ctx, owner: owner, byKey: make(map[string]*UserPosition)}
}

func (s *positionSet) get(symbol string) (*UserPosition, error) {
	if position, ok := s.byKey[symbol]; ok {
		return position, nil
	}
	position, err := s.engine.stagedPosition(s.ctx, s.owner, symbol)
	if err != nil {
		return nil, err
	}
	s.byKey[symbol] = position
	return position, nil
}

func (s *positionSet) symbols() []string {
	keys := make([]string, 0, len(s.byKey))
	for symbol := range s.byKey {
		keys = append(keys, symbol)
	}
	sort.Strings(keys)
	return keys
}

func (s *positionSet) applyOverride(override *riskOverride) {
	for _, position := range s.byKey {
		override.setPosition(position)
	}
}

func (s *positionSet) persist() error {
	for _, symbol := range s.symbols() {
		if err := s.engine.state.LendingPutPosition(s.byKey[symbol]); err != nil {
			return err
		}
	}
	return nil
}

// pledgeAvailability is the underlying of one asset the account can still
// commit to a new loan: vault collateral, plus flagged deposits, minus what
// earlier loans already claim.
func pledgeAvailability(reserve *Reserve, position *UserPosition) *big.Int {
	if position == nil {
		return big.NewInt(0)
	}
	position.EnsureDefaults()
	avail := new(big.Int).Set(position.CollateralBalance)
	if position.UseAsCollateral {
		avail = collateralUnderlying(reserve, position)
	}
	avail.Sub(avail, position.Pledged)
	if avail.Sign() < 0 {
		avail.SetInt64(0)
	}
	return avail
}

// normalizeCollaterals canonicalises a borrower's collateral specs and
// returns them alongside the reserve lock keys they touch. Empty symbols,
// non-positive amounts and duplicate entries are rejected.
func normalizeCollaterals(collaterals []CollateralSpec) ([]Collateral, []string, error) {
	if len(collaterals) == 0 {
		return nil, nil, ErrInvalidCollateral
	}
	specs := make([]Collateral, 0, len(collaterals))
	lockKeys := make([]string, 0, len(collaterals))
	seen := make(map[string]struct{}, len(collaterals))
	for _, spec := range collaterals {
		symbol := NormalizeSymbol(spec.Symbol)
		if symbol == "" || spec.Amount == nil || spec.Amount.Sign() <= 0 {
			return nil, nil, ErrInvalidCollateral
		}
		if _, dup := seen[symbol]; dup {
			return nil, nil, ErrInvalidCollateral
		}
		seen[symbol] = struct{}{}
		specs = append(specs, Collateral{Symbol: symbol, Amount: new(big.Int).Set(spec.Amount)})
		lockKeys = append(lockKeys, lockReserve(symbol))
	}
	return specs, lockKeys, nil
}

// stagePledges commits the named collateral amounts on the borrower's staged
// positions. Every pledged asset must be active and carry unpledged backing
// at least the requested amount.
func (e *Engine) stagePledges(ctx *accrualContext, staged *positionSet, specs []Collateral, borrowSymbol string) error {
	for _, spec := range specs {
		if _, err := e.loadToken(spec.Symbol, true); err != nil {
			return err
		}
		position, err := staged.get(spec.Symbol)
		if err != nil {
			return err
		}
		reserve := ctx.reserve
		if spec.Symbol != borrowSymbol {
			loaded, _, err := e.state.LendingGetReserve(spec.Symbol)
			if err != nil {
				return err
			}
			reserve = loaded
		}
		if pledgeAvailability(reserve, position).Cmp(spec.Amount) < 0 {
			return ErrInsufficientCollateral
		}
		position.Pledged = new(big.Int).Add(position.Pledged, spec.Amount)
	}
	return nil
}

// openLoan applies a borrow against the staged reserve, verifies the borrow
// cap, the pool liquidity and the post-borrow account health, and constructs
// the active loan record. The caller persists and transfers afterwards.
func (e *Engine) openLoan(ctx *accrualContext, staged *positionSet, borrowerBytes []byte, borrowSymbol string, amount *big.Int, specs []Collateral, duration, now uint64) (*Loan, error) {
	if ctx.cfg.BorrowCap.Sign() > 0 {
		projected := new(big.Int).Add(ctx.reserve.TotalBorrows, amount)
		if projected.Cmp(ctx.cfg.BorrowCap) > 0 {
			return nil, ErrBorrowCapExceeded
		}
	}
	if availableLiquidity(ctx.reserve).Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	borrowPosition, err := staged.get(borrowSymbol)
	if err != nil {
		return nil, err
	}
	normalized := normalizeDebtUp(amount, ctx.reserve.BorrowIndex)
	borrowPosition.NormalizedDebt = new(big.Int).Add(borrowPosition.NormalizedDebt, normalized)
	ctx.reserve.NormalizedDebt = new(big.Int).Add(ctx.reserve.NormalizedDebt, normalized)
	ctx.reserve.TotalBorrows = new(big.Int).Add(ctx.reserve.TotalBorrows, amount)

	override := newRiskOverride()
	override.setReserve(ctx.reserve)
	staged.applyOverride(override)
	risk, err := e.accountRisk(borrowerBytes, now, override)
	if err != nil {
		return nil, err
	}
	if !risk.borrowAllowed() {
		return nil, ErrHealthCheckFailed
	}

	id, err := e.state.LendingNextLoanID()
	if err != nil {
		return nil, err
	}
	var dueAt uint64
	if duration > 0 {
		dueAt = now + duration
	}
	util := UtilisationBps(ctx.reserve.TotalDeposits, ctx.reserve.TotalBorrows)
	return &Loan{
		ID:                 id,
		Borrower:           append([]byte(nil), borrowerBytes...),
		BorrowSymbol:       borrowSymbol,
		BorrowAmount:       debtFromNormalized(normalized, ctx.reserve.BorrowIndex),
		NormalizedDebt:     normalized,
		InterestRateBps:    ctx.cfg.Interest.BorrowRateBps(util),
		CreatedAt:          now,
		LastInterestUpdate: now,
		DueAt:              dueAt,
		Status:             LoanStatusActive,
		Collaterals:        specs,
	}, nil
}

// CreatePosition opens a loan: it pledges the named collateral, draws the
// borrow amount from the pool and records the obligation. The borrower must
// end up within the loan-to-value limits of every pledged asset. A zero
// duration leaves the loan open-ended; otherwise the deadline is now plus
// duration and crossing it makes the loan liquidatable regardless of health.
func (e *Engine) CreatePosition(borrower crypto.Address, borrowSymbol string, amount *big.Int, collaterals []CollateralSpec, duration uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard(PauseBorrow); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if e.maxLoanDuration > 0 && duration > e.maxLoanDuration {
		return nil, ErrInvalidDuration
	}
	borrowSymbol = NormalizeSymbol(borrowSymbol)
	borrowerBytes := borrower.Bytes()

	specs, collateralLocks, err := normalizeCollaterals(collaterals)
	if err != nil {
		return nil, err
	}
	lockKeys := append([]string{lockReserve(borrowSymbol), lockUser(borrowerBytes)}, collateralLocks...)

	release, err := e.acquire(lockKeys...)
	if err != nil {
		return nil, err
	}
	defer release()

	now := e.now()
	ctx, err := e.accrue(borrowSymbol, now)
	if err != nil {
		return nil, err
	}
	if !ctx.cfg.IsActive {
		return nil, ErrTokenInactive
	}
	if !ctx.cfg.IsLoanable {
		return nil, ErrTokenNotLoanable
	}

	staged := e.newPositionSet(ctx, borrowerBytes)
	if err := e.stagePledges(ctx, staged, specs, borrowSymbol); err != nil {
		return nil, err
	}
	loan, err := e.openLoan(ctx, staged, borrowerBytes, borrowSymbol, amount, specs, duration, now)
	if err != nil {
		return nil, err
	}

	if err := e.state.Debit(e.moduleAddress.Bytes(), borrowSymbol, amount); err != nil {
		return nil, err
	}
	if err := e.state.Credit(borrowerBytes, borrowSymbol, amount); err != nil {
		return nil, err
	}

	if err := staged.persist(); err != nil {
		return nil, err
	}
	if err := e.state.LendingPutLoan(loan); err != nil {
		return nil, err
	}
	if err := e.state.LendingAppendBorrowerLoan(borrowerBytes, loan.ID); err != nil {
		return nil, err
	}
	if err := e.persistAccrual(ctx); err != nil {
		return nil, err
	}
	if err := e.state.LendingPutReserve(ctx.reserve); err != nil {
		return nil, err
	}
	e.emit(NewLoanCreatedEvent(loan))
	e.telemetry.IncLoanOpened(loan.BorrowSymbol)
	return loan.Clone(), nil
}

// Repay retires loan debt. A zero amount settles the full outstanding debt;
// a positive amount must not exceed it. Once the debt reaches zero the loan
// closes and its collateral pledges are released. Repayment stays available
// even for suspended assets so borrowers are never trapped.
func (e *Engine) Repay(payer crypto.Address, loanID uint64, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard(PauseRepay); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	peek, ok, err := e.state.LendingGetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if !ok || peek == nil {
		return nil, ErrLoanNotFound
	}

	payerBytes := payer.Bytes()
	lockKeys := []string{lockLoan(loanID), lockReserve(peek.BorrowSymbol), lockUser(peek.Borrower)}
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
	ctx, err := e.accrue(loan.BorrowSymbol, now)
	if err != nil {
		return nil, err
	}
	debt := debtFromNormalized(loan.NormalizedDebt, ctx.reserve.BorrowIndex)
	pay := new(big.Int).Set(amount)
	if pay.Sign() == 0 {
		pay = new(big.Int).Set(debt)
	}
	if pay.Cmp(debt) > 0 {
		return nil, ErrRepayExceedsDebt
	}

	staged := e.newPositionSet(ctx, loan.Borrower)
	if pay.Sign() > 0 {
		balance, err := e.state.BalanceOf(payerBytes, loan.BorrowSymbol)
		if err != nil {
			return nil, err
		}
		if balance == nil || balance.Cmp(pay) < 0 {
			return nil, ErrInsufficientBalance
		}
		var removeNorm *big.Int
		if pay.Cmp(debt) == 0 {
			removeNorm = new(big.Int).Set(loan.NormalizedDebt)
		} else {
			removeNorm = normalizeDebtDown(pay, ctx.reserve.BorrowIndex)
			if removeNorm.Sign() == 0 {
				return nil, ErrAmountTooSmall
			}
		}
		position, err := staged.get(loan.BorrowSymbol)
		if err != nil {
			return nil, err
		}
		position.NormalizedDebt = new(big.Int).Sub(position.NormalizedDebt, removeNorm)
		if position.NormalizedDebt.Sign() < 0 {
			position.NormalizedDebt.SetInt64(0)
		}
		loan.NormalizedDebt = new(big.Int).Sub(loan.NormalizedDebt, removeNorm)
		ctx.reserve.NormalizedDebt = new(big.Int).Sub(ctx.reserve.NormalizedDebt, removeNorm)
		if ctx.reserve.NormalizedDebt.Sign() < 0 {
			ctx.reserve.NormalizedDebt.SetInt64(0)
		}
		ctx.reserve.TotalBorrows = new(big.Int).Sub(ctx.reserve.TotalBorrows, pay)
		if ctx.reserve.TotalBorrows.Sign() < 0 {
			ctx.reserve.TotalBorrows.SetInt64(0)
		}
	}

	loan.BorrowAmount = debtFromNormalized(loan.NormalizedDebt, ctx.reserve.BorrowIndex)
	loan.LastInterestUpdate = now
	util := UtilisationBps(ctx.reserve.TotalDeposits, ctx.reserve.TotalBorrows)
	loan.InterestRateBps = ctx.cfg.Interest.BorrowRateBps(util)

	if loan.NormalizedDebt.Sign() == 0 {
		loan.Status = LoanStatusRepaid
		for _, col := range loan.Collaterals {
			position, err := staged.get(col.Symbol)
			if err != nil {
				return nil, err
			}
			position.Pledged = new(big.Int).Sub(position.Pledged, col.Amount)
			if position.Pledged.Sign() < 0 {
				position.Pledged.SetInt64(0)
			}
		}
	}

	if pay.Sign() > 0 {
		if err := e.state.Debit(payerBytes, loan.BorrowSymbol, pay); err != nil {
			return nil, err
		}
		if err := e.state.Credit(e.moduleAddress.Bytes(), loan.BorrowSymbol, pay); err != nil {
			return nil, err
		}
	}

	if err := staged.persist(); err != nil {
		return nil, err
	}
	if err := e.state.LendingPutLoan(loan); err != nil {
		return nil, err
	}
	if err := e.persistAccrual(ctx); err != nil {
		return nil, err
	}
	if err := e.state.LendingPutReserve(ctx.reserve); err != nil {
		return nil, err
	}
	e.emit(NewLoanRepaidEvent(loan, payerBytes, pay))
	if loan.Status == LoanStatusRepaid {
		e.telemetry.IncLoanClosed(loan.BorrowSymbol, loan.Status.String())
	}
	return pay, nil
}
