package lending

import "errors"

// Operation errors follow the failure taxonomy of the engine: validation
// errors, economic-constraint errors, staleness/authorisation errors and
// terminal-state errors. Every operation is all-or-nothing, so any of these
// surfaces before state is persisted. Callers match with errors.Is.
var (
	ErrNilState          = errors.New("lending engine: state not configured")
	ErrInvalidAmount     = errors.New("lending engine: amount must be positive")
	ErrAmountTooSmall    = errors.New("lending engine: amount too small to mint shares")
	ErrTokenUnknown      = errors.New("lending engine: token not supported")
	ErrTokenInactive     = errors.New("lending engine: token not active")
	ErrTokenNotLoanable  = errors.New("lending engine: token not loanable")
	ErrInvalidDuration   = errors.New("lending engine: loan duration invalid")
	ErrInvalidCollateral = errors.New("lending engine: invalid collateral specification")
	ErrInvalidConfig     = errors.New("lending engine: invalid rate configuration")
	ErrSelfFunding       = errors.New("lending engine: lender and borrower must differ")

	ErrInsufficientBalance   = errors.New("lending engine: insufficient balance")
	ErrInsufficientLiquidity = errors.New("lending engine: insufficient liquidity")
	ErrInsufficientCollateral = errors.New(
		"lending engine: insufficient collateral for requested operation")
	ErrHealthCheckFailed = errors.New("lending engine: position health factor below threshold")
	ErrRepayExceedsDebt  = errors.New("lending engine: repay amount exceeds outstanding debt")
	ErrBorrowCapExceeded = errors.New("lending engine: borrow cap exceeded")

	ErrPriceStale       = errors.New("lending engine: oracle price stale")
	ErrPriceUnavailable = errors.New("lending engine: oracle price unavailable")
	ErrUnauthorized     = errors.New("lending engine: caller not authorised")

	ErrLoanNotFound     = errors.New("lending engine: loan not found")
	ErrLoanNotActive    = errors.New("lending engine: loan in terminal state")
	ErrNotLiquidatable  = errors.New("lending engine: loan not eligible for liquidation")
	ErrPositionNotFound = errors.New("lending engine: position not found")
)
