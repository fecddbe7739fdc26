package lending

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"lendpool/core/types"
)

const (
	EventTypeDeposited           = "lending.deposited"
	EventTypeWithdrawn           = "lending.withdrawn"
	EventTypeCollateralDeposited = "lending.collateral_deposited"
	EventTypeCollateralWithdrawn = "lending.collateral_withdrawn"
	EventTypeCollateralFlag      = "lending.collateral_flag"
	EventTypeLoanCreated         = "lending.loan_created"
	EventTypeLoanRepaid          = "lending.loan_repaid"
	EventTypeLoanLiquidated      = "lending.loan_liquidated"
	EventTypeLoanDefaulted       = "lending.loan_defaulted"
	EventTypeFeesWithdrawn       = "lending.fees_withdrawn"
)

// lendingEvent adapts the canonical payload to the emitter interface.
type lendingEvent struct {
	evt *types.Event
}

func (e lendingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lendingEvent) EventAttributes() map[string]string {
	if e.evt == nil {
		return nil
	}
	return e.evt.Attributes
}

func (e lendingEvent) Event() *types.Event { return e.evt }

func amountAttr(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

// NewDepositedEvent reports underlying entering the pool and the shares
// minted for it.
func NewDepositedEvent(addr []byte, symbol string, amount, shares *big.Int) *types.Event {
	return &types.Event{Type: EventTypeDeposited, Attributes: map[string]string{
		"account": hex.EncodeToString(addr),
		"symbol":  symbol,
		"amount":  amountAttr(amount),
		"shares":  amountAttr(shares),
	}}
}

// NewWithdrawnEvent reports underlying leaving the pool and the shares
// burned for it.
func NewWithdrawnEvent(addr []byte, symbol string, amount, shares *big.Int) *types.Event {
	return &types.Event{Type: EventTypeWithdrawn, Attributes: map[string]string{
		"account": hex.EncodeToString(addr),
		"symbol":  symbol,
		"amount":  amountAttr(amount),
		"shares":  amountAttr(shares),
	}}
}

// NewCollateralDepositedEvent reports collateral posted to the vault.
func NewCollateralDepositedEvent(addr []byte, symbol string, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeCollateralDeposited, Attributes: map[string]string{
		"account": hex.EncodeToString(addr),
		"symbol":  symbol,
		"amount":  amountAttr(amount),
	}}
}

// NewCollateralWithdrawnEvent reports collateral released from the vault.
func NewCollateralWithdrawnEvent(addr []byte, symbol string, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeCollateralWithdrawn, Attributes: map[string]string{
		"account": hex.EncodeToString(addr),
		"symbol":  symbol,
		"amount":  amountAttr(amount),
	}}
}

// NewCollateralFlagEvent reports the deposit-as-collateral toggle changing.
func NewCollateralFlagEvent(addr []byte, symbol string, enabled bool) *types.Event {
	return &types.Event{Type: EventTypeCollateralFlag, Attributes: map[string]string{
		"account": hex.EncodeToString(addr),
		"symbol":  symbol,
		"enabled": strconv.FormatBool(enabled),
	}}
}

func loanAttributes(loan *Loan) map[string]string {
	attrs := make(map[string]string)
	if loan == nil {
		return attrs
	}
	attrs["loanId"] = strconv.FormatUint(loan.ID, 10)
	attrs["borrower"] = hex.EncodeToString(loan.Borrower)
	attrs["symbol"] = loan.BorrowSymbol
	attrs["amount"] = amountAttr(loan.BorrowAmount)
	attrs["rateBps"] = strconv.FormatUint(loan.InterestRateBps, 10)
	attrs["status"] = loan.Status.String()
	if loan.DueAt > 0 {
		attrs["dueAt"] = strconv.FormatUint(loan.DueAt, 10)
	}
	return attrs
}

// NewLoanCreatedEvent reports a freshly opened loan.
func NewLoanCreatedEvent(loan *Loan) *types.Event {
	return &types.Event{Type: EventTypeLoanCreated, Attributes: loanAttributes(loan)}
}

// NewLoanRepaidEvent reports a repayment against a loan; the loan attributes
// carry the remaining debt.
func NewLoanRepaidEvent(loan *Loan, payer []byte, paid *big.Int) *types.Event {
	attrs := loanAttributes(loan)
	attrs["payer"] = hex.EncodeToString(payer)
	attrs["paid"] = amountAttr(paid)
	return &types.Event{Type: EventTypeLoanRepaid, Attributes: attrs}
}

// NewLoanLiquidatedEvent reports a loan closed by liquidation.
func NewLoanLiquidatedEvent(loan *Loan, liquidator []byte, repaid, shortfall *big.Int) *types.Event {
	attrs := loanAttributes(loan)
	attrs["liquidator"] = hex.EncodeToString(liquidator)
	attrs["repaid"] = amountAttr(repaid)
	attrs["shortfall"] = amountAttr(shortfall)
	return &types.Event{Type: EventTypeLoanLiquidated, Attributes: attrs}
}

// NewLoanDefaultedEvent reports a loan written off with unrecoverable debt.
func NewLoanDefaultedEvent(loan *Loan, liquidator []byte, repaid, shortfall *big.Int) *types.Event {
	attrs := loanAttributes(loan)
	attrs["liquidator"] = hex.EncodeToString(liquidator)
	attrs["repaid"] = amountAttr(repaid)
	attrs["shortfall"] = amountAttr(shortfall)
	return &types.Event{Type: EventTypeLoanDefaulted, Attributes: attrs}
}

// NewFeesWithdrawnEvent reports protocol fees leaving the collector.
func NewFeesWithdrawnEvent(symbol string, recipient []byte, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeFeesWithdrawn, Attributes: map[string]string{
		"symbol":    symbol,
		"recipient": hex.EncodeToString(recipient),
		"amount":    amountAttr(amount),
	}}
}
