package lending

import (
	"bytes"
	"math/big"

	"lendpool/crypto"
	nativecommon "lendpool/native/common"
)

// stagedPosition loads the position for addr, reusing the fee collector's
// staged record when the addresses coincide so the same object is mutated
// and persisted once.
func (e *Engine) stagedPosition(ctx *accrualContext, addr []byte, symbol string) (*UserPosition, error) {
	if ctx != nil && ctx.collector != nil && bytes.Equal(addr, e.feeCollector.Bytes()) {
		return ctx.collector, nil
	}
	return e.ensurePosition(addr, symbol)
}

// Deposit moves underlying from the supplier into the pool vault and mints
// deposit shares at the reserve's current exchange rate. Amounts too small
// to mint a single share are rejected rather than silently donated to the
// pool.
func (e *Engine) Deposit(addr crypto.Address, symbol string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard(PauseSupply); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	symbol = NormalizeSymbol(symbol)
	supplier := addr.Bytes()

	release, err := e.acquire(lockReserve(symbol), lockUser(supplier))
	if err != nil {
		return nil, err
	}
	defer release()

	now := e.now()
	ctx, err := e.accrue(symbol, now)
	if err != nil {
		return nil, err
	}
	if !ctx.cfg.IsActive {
		return nil, ErrTokenInactive
	}
	if !ctx.cfg.IsLoanable {
		return nil, ErrTokenNotLoanable
	}

	shares := sharesForDeposit(ctx.reserve, amount)
	if shares.Sign() == 0 {
		return nil, ErrAmountTooSmall
	}
	balance, err := e.state.BalanceOf(supplier, symbol)
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}

	position, err := e.stagedPosition(ctx, supplier, symbol)
	if err != nil {
		return nil, err
	}
	position.DepositShares = new(big.Int).Add(position.DepositShares, shares)
	ctx.reserve.TotalDeposits = new(big.Int).Add(ctx.reserve.TotalDeposits, amount)
	ctx.reserve.TotalDepositShares = new(big.Int).Add(ctx.reserve.TotalDepositShares, shares)

	if err := e.state.Debit(supplier, symbol, amount); err != nil {
		return nil, err
	}
	if err := e.state.Credit(e.moduleAddress.Bytes(), symbol, amount); err != nil {
		return nil, err
	}

	if err := e.state.LendingPutPosition(position); err != nil {
		return nil, err
	}
	if err := e.persistAccrual(ctx); err != nil {
		return nil, err
	}
	if err := e.state.LendingPutReserve(ctx.reserve); err != nil {
		return nil, err
	}
	e.emit(NewDepositedEvent(supplier, symbol, amount, shares))
	return shares, nil
}

// Withdraw burns deposit shares and pays the requested underlying back to
// the supplier. The burn rounds up so the pool never releases more value
// than the surrendered claim. Flagged deposits may only leave to the extent
// the remaining collateral keeps every loan covered.
func (e *Engine) Withdraw(addr crypto.Address, symbol string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard(PauseWithdraw); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	symbol = NormalizeSymbol(symbol)
	supplier := addr.Bytes()

	release, err := e.acquire(lockReserve(symbol), lockUser(supplier))
	if err != nil {
		return nil, err
	}
	defer release()

	now := e.now()
	ctx, err := e.accrue(symbol, now)
	if err != nil {
		return nil, err
	}
	if !ctx.cfg.IsActive {
		return nil, ErrTokenInactive
	}

	shares := sharesForWithdrawal(ctx.reserve, amount)
	if shares.Sign() == 0 {
		return nil, ErrAmountTooSmall
	}
	position, err := e.stagedPosition(ctx, supplier, symbol)
	if err != nil {
		return nil, err
	}
	if position.DepositShares.Cmp(shares) < 0 {
		return nil, ErrInsufficientBalance
	}
	if availableLiquidity(ctx.reserve).Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	position.DepositShares = new(big.Int).Sub(position.DepositShares, shares)
	ctx.reserve.TotalDeposits = new(big.Int).Sub(ctx.reserve.TotalDeposits, amount)
	ctx.reserve.TotalDepositShares = new(big.Int).Sub(ctx.reserve.TotalDepositShares, shares)

	if position.UseAsCollateral {
		remaining := collateralUnderlying(ctx.reserve, position)
		if remaining.Cmp(position.Pledged) < 0 {
			return nil, ErrInsufficientCollateral
		}
		if err := e.requireCollateralised(supplier, now, ctx, position); err != nil {
			return nil, err
		}
	}

	if err := e.state.Debit(e.moduleAddress.Bytes(), symbol, amount); err != nil {
		return nil, err
	}
	if err := e.state.Credit(supplier, symbol, amount); err != nil {
		return nil, err
	}

	if err := e.state.LendingPutPosition(position); err != nil {
		return nil, err
	}
	if err := e.persistAccrual(ctx); err != nil {
		return nil, err
	}
	if err := e.state.LendingPutReserve(ctx.reserve); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawnEvent(supplier, symbol, amount, shares))
	return shares, nil
}

// requireCollateralised checks that the account's loan-to-value weighted
// collateral still covers its debt after the staged mutation. Debt-free
// accounts skip the oracle entirely.
func (e *Engine) requireCollateralised(addr []byte, now uint64, ctx *accrualContext, position *UserPosition) error {
	indebted, err := e.hasDebt(addr)
	if err != nil {
		return err
	}
	if !indebted && (position == nil || position.NormalizedDebt.Sign() == 0) {
		return nil
	}
	override := newRiskOverride()
	override.setPosition(position)
	if ctx != nil {
		override.setReserve(ctx.reserve)
	}
	risk, err := e.accountRisk(addr, now, override)
	if err != nil {
		return err
	}
	if !risk.borrowAllowed() {
		return ErrInsufficientCollateral
	}
	return nil
}

// DepositCollateral moves underlying into the collateral vault. Vault
// collateral backs loans directly and earns no interest.
func (e *Engine) DepositCollateral(addr crypto.Address, symbol string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := e.guard(PauseCollateral); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	symbol = NormalizeSymbol(symbol)
	owner := addr.Bytes()

	release, err := e.acquire(lockReserve(symbol), lockUser(owner))
	if err != nil {
		return err
	}
	defer release()

	if _, err := e.loadToken(symbol, true); err != nil {
		return err
	}
	balance, err := e.state.BalanceOf(owner, symbol)
	if err != nil {
		return err
	}
	if balance == nil || balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	position, err := e.ensurePosition(owner, symbol)
	if err != nil {
		return err
	}
	position.CollateralBalance = new(big.Int).Add(position.CollateralBalance, amount)

	if err := e.state.Debit(owner, symbol, amount); err != nil {
		return err
	}
	if err := e.state.Credit(e.collateralAddress.Bytes(), symbol, amount); err != nil {
		return err
	}
	if err := e.state.LendingPutPosition(position); err != nil {
		return err
	}
	e.emit(NewCollateralDepositedEvent(owner, symbol, amount))
	return nil
}

// WithdrawCollateral releases vault collateral back to the owner. Only the
// portion not pledged to active loans may leave, and an indebted account
// must stay within its loan-to-value limits afterwards.
func (e *Engine) WithdrawCollateral(addr crypto.Address, symbol string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := e.guard(PauseCollateral); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	symbol = NormalizeSymbol(symbol)
	owner := addr.Bytes()

	release, err := e.acquire(lockReserve(symbol), lockUser(owner))
	if err != nil {
		return err
	}
	defer release()

	now := e.now()
	ctx, err := e.accrue(symbol, now)
	if err != nil {
		return err
	}
	if !ctx.cfg.IsActive {
		return ErrTokenInactive
	}
	position, err := e.stagedPosition(ctx, owner, symbol)
	if err != nil {
		return err
	}
	if position.CollateralBalance.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	free := new(big.Int).Set(position.CollateralBalance)
	if position.UseAsCollateral {
		free = collateralUnderlying(ctx.reserve, position)
	}
	free.Sub(free, position.Pledged)
	if free.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}

	position.CollateralBalance = new(big.Int).Sub(position.CollateralBalance, amount)
	if err := e.requireCollateralised(owner, now, ctx, position); err != nil {
		return err
	}

	if err := e.state.Debit(e.collateralAddress.Bytes(), symbol, amount); err != nil {
		return err
	}
	if err := e.state.Credit(owner, symbol, amount); err != nil {
		return err
	}
	if err := e.state.LendingPutPosition(position); err != nil {
		return err
	}
	if err := e.persistAccrual(ctx); err != nil {
		return err
	}
	if err := e.state.LendingPutReserve(ctx.reserve); err != nil {
		return err
	}
	e.emit(NewCollateralWithdrawnEvent(owner, symbol, amount))
	return nil
}

// SetCollateralFlag opts the account's deposit shares in or out of backing
// its borrows. Opting out requires the vault collateral alone to cover every
// pledge and the account to stay within its loan-to-value limits.
func (e *Engine) SetCollateralFlag(addr crypto.Address, symbol string, enabled bool) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := e.guard(PauseCollateral); err != nil {
		return err
	}
	symbol = NormalizeSymbol(symbol)
	owner := addr.Bytes()

	release, err := e.acquire(lockReserve(symbol), lockUser(owner))
	if err != nil {
		return err
	}
	defer release()

	now := e.now()
	ctx, err := e.accrue(symbol, now)
	if err != nil {
		return err
	}
	if !ctx.cfg.IsActive {
		return ErrTokenInactive
	}
	position, err := e.stagedPosition(ctx, owner, symbol)
	if err != nil {
		return err
	}
	if position.UseAsCollateral == enabled {
		return nil
	}
	position.UseAsCollateral = enabled
	if !enabled {
		if position.CollateralBalance.Cmp(position.Pledged) < 0 {
			return ErrInsufficientCollateral
		}
		if err := e.requireCollateralised(owner, now, ctx, position); err != nil {
			return err
		}
	}
	if err := e.state.LendingPutPosition(position); err != nil {
		return err
	}
	if err := e.persistAccrual(ctx); err != nil {
		return err
	}
	if err := e.state.LendingPutReserve(ctx.reserve); err != nil {
		return err
	}
	e.emit(NewCollateralFlagEvent(owner, symbol, enabled))
	return nil
}

// WithdrawProtocolFees pays accumulated protocol fees out of the collector's
// deposit shares to the recipient. A zero amount withdraws everything
// currently claimable. Only the configured fee authority may call it.
func (e *Engine) WithdrawProtocolFees(authority crypto.Address, symbol string, recipient crypto.Address, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if len(e.feeAuthority.Bytes()) == 0 || !authority.Equal(e.feeAuthority) {
		return nil, ErrUnauthorized
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	symbol = NormalizeSymbol(symbol)
	collectorAddr := e.feeCollector.Bytes()

	release, err := e.acquire(lockReserve(symbol), lockUser(collectorAddr))
	if err != nil {
		return nil, err
	}
	defer release()

	now := e.now()
	ctx, err := e.accrue(symbol, now)
	if err != nil {
		return nil, err
	}
	collector, err := e.stagedPosition(ctx, collectorAddr, symbol)
	if err != nil {
		return nil, err
	}
	claimable := amountForShares(ctx.reserve, collector.DepositShares)
	pay := new(big.Int).Set(amount)
	if pay.Sign() == 0 {
		pay = claimable
	}
	if pay.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if pay.Cmp(claimable) > 0 {
		return nil, ErrInsufficientBalance
	}
	if availableLiquidity(ctx.reserve).Cmp(pay) < 0 {
		return nil, ErrInsufficientLiquidity
	}
	shares := sharesForWithdrawal(ctx.reserve, pay)
	if shares.Cmp(collector.DepositShares) > 0 {
		shares = new(big.Int).Set(collector.DepositShares)
	}

	collector.DepositShares = new(big.Int).Sub(collector.DepositShares, shares)
	ctx.reserve.TotalDeposits = new(big.Int).Sub(ctx.reserve.TotalDeposits, pay)
	ctx.reserve.TotalDepositShares = new(big.Int).Sub(ctx.reserve.TotalDepositShares, shares)

	if err := e.state.Debit(e.moduleAddress.Bytes(), symbol, pay); err != nil {
		return nil, err
	}
	if err := e.state.Credit(recipient.Bytes(), symbol, pay); err != nil {
		return nil, err
	}
	if err := e.state.LendingPutPosition(collector); err != nil {
		return nil, err
	}
	if err := e.persistAccrual(ctx); err != nil {
		return nil, err
	}
	if err := e.state.LendingPutReserve(ctx.reserve); err != nil {
		return nil, err
	}
	e.emit(NewFeesWithdrawnEvent(symbol, recipient.Bytes(), pay))
	return pay, nil
}
