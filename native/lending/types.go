package lending

import (
	"fmt"
	"math/big"
)

// Reserve captures the pooled accounting state for a single asset. Amounts
// are denominated in the asset's smallest unit and expressed as big integers
// to keep the arithmetic deterministic.
type Reserve struct {
	// Symbol identifies the underlying asset.
	Symbol string
	// TotalDeposits is the aggregate liquidity currently owed to depositors
	// (principal plus accrued interest, including the protocol's share).
	TotalDeposits *big.Int
	// TotalBorrows tracks the outstanding borrowed amount across all loans.
	// It is re-derived from NormalizedDebt on every accrual, never drifted.
	TotalBorrows *big.Int
	// TotalDepositShares is the share supply backing depositor claims.
	TotalDepositShares *big.Int
	// NormalizedDebt is the aggregate debt normalised by the borrow index
	// (ray scale).
	NormalizedDebt *big.Int
	// LiquidityIndex is the cumulative deposit growth index (ray scale).
	LiquidityIndex *big.Int
	// BorrowIndex is the cumulative borrow interest index (ray scale).
	BorrowIndex *big.Int
	// LastUpdateTimestamp records when the indexes were last refreshed,
	// in unix seconds.
	LastUpdateTimestamp uint64
}

// NewReserve returns a reserve with unit indexes, created when a token is
// listed.
func NewReserve(symbol string, now uint64) *Reserve {
	return &Reserve{
		Symbol:              symbol,
		TotalDeposits:       big.NewInt(0),
		TotalBorrows:        big.NewInt(0),
		TotalDepositShares:  big.NewInt(0),
		NormalizedDebt:      big.NewInt(0),
		LiquidityIndex:      new(big.Int).Set(ray),
		BorrowIndex:         new(big.Int).Set(ray),
		LastUpdateTimestamp: now,
	}
}

// EnsureDefaults populates nil big.Int fields so decoding partial records is
// safe. Indexes default to one ray, never zero.
func (r *Reserve) EnsureDefaults() {
	if r == nil {
		return
	}
	if r.TotalDeposits == nil {
		r.TotalDeposits = big.NewInt(0)
	}
	if r.TotalBorrows == nil {
		r.TotalBorrows = big.NewInt(0)
	}
	if r.TotalDepositShares == nil {
		r.TotalDepositShares = big.NewInt(0)
	}
	if r.NormalizedDebt == nil {
		r.NormalizedDebt = big.NewInt(0)
	}
	if r.LiquidityIndex == nil || r.LiquidityIndex.Sign() == 0 {
		r.LiquidityIndex = new(big.Int).Set(ray)
	}
	if r.BorrowIndex == nil || r.BorrowIndex.Sign() == 0 {
		r.BorrowIndex = new(big.Int).Set(ray)
	}
}

// Clone returns a deep copy of the reserve.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	return &Reserve{
		Symbol:              r.Symbol,
		TotalDeposits:       cloneBig(r.TotalDeposits),
		TotalBorrows:        cloneBig(r.TotalBorrows),
		TotalDepositShares:  cloneBig(r.TotalDepositShares),
		NormalizedDebt:      cloneBig(r.NormalizedDebt),
		LiquidityIndex:      cloneBig(r.LiquidityIndex),
		BorrowIndex:         cloneBig(r.BorrowIndex),
		LastUpdateTimestamp: r.LastUpdateTimestamp,
	}
}

// TokenConfig groups the governance-controlled parameters for a supported
// asset. All ratios are expressed in basis points.
type TokenConfig struct {
	// Symbol identifies the asset this configuration applies to.
	Symbol string
	// Decimals is the precision of the asset's smallest unit.
	Decimals uint8
	// LtvBps is the maximum loan-to-value ratio permitted at borrow time.
	LtvBps uint64
	// LiquidationThresholdBps is the ratio at which a position becomes
	// eligible for liquidation. Strictly above LtvBps.
	LiquidationThresholdBps uint64
	// LiquidationBonusBps is the premium over par paid to liquidators in
	// seized collateral (1000 = +10%).
	LiquidationBonusBps uint64
	// ReserveFactorBps is the share of borrow interest captured by the
	// protocol.
	ReserveFactorBps uint64
	// BorrowCap bounds total outstanding borrows of the asset. Zero means
	// uncapped.
	BorrowCap *big.Int
	// Interest parameterises the kinked rate curve for the asset's reserve.
	Interest InterestModel
	// IsActive gates all operations referencing the asset.
	IsActive bool
	// IsLoanable permits pool deposits and borrows; collateral-only assets
	// leave it unset.
	IsLoanable bool
}

// EnsureDefaults fills nil amounts and an unset interest model.
func (c *TokenConfig) EnsureDefaults() {
	if c == nil {
		return
	}
	if c.BorrowCap == nil {
		c.BorrowCap = big.NewInt(0)
	}
	if c.Interest == (InterestModel{}) {
		c.Interest = DefaultInterestModel
	}
}

// Validate enforces the basis-point ordering invariants for risk parameters.
func (c *TokenConfig) Validate() error {
	if c == nil || c.Symbol == "" {
		return fmt.Errorf("token config: symbol required")
	}
	if c.LtvBps >= c.LiquidationThresholdBps {
		return fmt.Errorf("token config %s: ltv %d must be below liquidation threshold %d",
			c.Symbol, c.LtvBps, c.LiquidationThresholdBps)
	}
	if c.LiquidationThresholdBps >= 10_000 {
		return fmt.Errorf("token config %s: liquidation threshold %d must be below 10000",
			c.Symbol, c.LiquidationThresholdBps)
	}
	if c.LiquidationBonusBps >= 10_000 {
		return fmt.Errorf("token config %s: liquidation bonus %d must be below 10000",
			c.Symbol, c.LiquidationBonusBps)
	}
	if c.ReserveFactorBps > 10_000 {
		return fmt.Errorf("token config %s: reserve factor %d exceeds 10000",
			c.Symbol, c.ReserveFactorBps)
	}
	if err := c.Interest.Validate(); err != nil {
		return fmt.Errorf("token config %s: %w", c.Symbol, err)
	}
	return nil
}

// Clone returns a deep copy of the token configuration.
func (c *TokenConfig) Clone() *TokenConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.BorrowCap = cloneBig(c.BorrowCap)
	return &clone
}

// UserPosition maintains one user's standing in a single reserve. Records are
// created lazily on first use and zeroed, never deleted, when emptied.
type UserPosition struct {
	// Address is the raw 20-byte account the position belongs to.
	Address []byte
	// Symbol identifies the reserve.
	Symbol string
	// DepositShares is the user's claim on the reserve's deposit pool.
	DepositShares *big.Int
	// CollateralBalance is collateral posted directly to the collateral
	// vault. It does not earn interest.
	CollateralBalance *big.Int
	// Pledged is the underlying amount committed to active loans. Withdrawals
	// may only touch balances above it.
	Pledged *big.Int
	// NormalizedDebt is the user's aggregate debt in the reserve, normalised
	// by the borrow index (ray scale).
	NormalizedDebt *big.Int
	// UseAsCollateral marks the deposit shares as backing for borrows.
	UseAsCollateral bool
}

// EnsureDefaults populates nil amounts.
func (p *UserPosition) EnsureDefaults() {
	if p == nil {
		return
	}
	if p.DepositShares == nil {
		p.DepositShares = big.NewInt(0)
	}
	if p.CollateralBalance == nil {
		p.CollateralBalance = big.NewInt(0)
	}
	if p.Pledged == nil {
		p.Pledged = big.NewInt(0)
	}
	if p.NormalizedDebt == nil {
		p.NormalizedDebt = big.NewInt(0)
	}
}

// Clone returns a deep copy of the position.
func (p *UserPosition) Clone() *UserPosition {
	if p == nil {
		return nil
	}
	return &UserPosition{
		Address:           append([]byte(nil), p.Address...),
		Symbol:            p.Symbol,
		DepositShares:     cloneBig(p.DepositShares),
		CollateralBalance: cloneBig(p.CollateralBalance),
		Pledged:           cloneBig(p.Pledged),
		NormalizedDebt:    cloneBig(p.NormalizedDebt),
		UseAsCollateral:   p.UseAsCollateral,
	}
}

// LoanStatus tracks the lifecycle of a position-based borrow.
type LoanStatus uint8

const (
	LoanStatusNone LoanStatus = iota
	LoanStatusActive
	LoanStatusRepaid
	LoanStatusLiquidated
	LoanStatusDefaulted
)

// Valid reports whether the status is a known lifecycle state.
func (s LoanStatus) Valid() bool {
	switch s {
	case LoanStatusNone, LoanStatusActive, LoanStatusRepaid, LoanStatusLiquidated, LoanStatusDefaulted:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further transitions.
func (s LoanStatus) Terminal() bool {
	switch s {
	case LoanStatusRepaid, LoanStatusLiquidated, LoanStatusDefaulted:
		return true
	default:
		return false
	}
}

func (s LoanStatus) String() string {
	switch s {
	case LoanStatusNone:
		return "none"
	case LoanStatusActive:
		return "active"
	case LoanStatusRepaid:
		return "repaid"
	case LoanStatusLiquidated:
		return "liquidated"
	case LoanStatusDefaulted:
		return "defaulted"
	default:
		return "unknown"
	}
}

// Collateral is one entry of a loan's tracked collateral set. Seizure walks
// entries in array order.
type Collateral struct {
	Symbol string
	Amount *big.Int
}

// Loan records a position-based borrow against the pool.
type Loan struct {
	// ID is the sequential loan identifier.
	ID uint64
	// Borrower is the raw 20-byte borrower address.
	Borrower []byte
	// BorrowSymbol identifies the borrowed asset.
	BorrowSymbol string
	// BorrowAmount is the outstanding debt as of LastInterestUpdate.
	BorrowAmount *big.Int
	// NormalizedDebt is the loan's debt normalised by the reserve borrow
	// index (ray scale). The live debt is NormalizedDebt * BorrowIndex.
	NormalizedDebt *big.Int
	// InterestRateBps snapshots the reserve borrow rate at the last touch.
	InterestRateBps uint64
	// CreatedAt is the loan creation time in unix seconds.
	CreatedAt uint64
	// LastInterestUpdate records when BorrowAmount was last synchronised.
	LastInterestUpdate uint64
	// DueAt is the optional repayment deadline. Zero means open-ended;
	// past-due loans are liquidatable regardless of health.
	DueAt uint64
	// Status is the lifecycle state. Terminal states are immutable.
	Status LoanStatus
	// Collaterals lists the pledged backing in seizure order.
	Collaterals []Collateral
}

// EnsureDefaults populates nil amounts.
func (l *Loan) EnsureDefaults() {
	if l == nil {
		return
	}
	if l.BorrowAmount == nil {
		l.BorrowAmount = big.NewInt(0)
	}
	if l.NormalizedDebt == nil {
		l.NormalizedDebt = big.NewInt(0)
	}
	for i := range l.Collaterals {
		if l.Collaterals[i].Amount == nil {
			l.Collaterals[i].Amount = big.NewInt(0)
		}
	}
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := &Loan{
		ID:                 l.ID,
		Borrower:           append([]byte(nil), l.Borrower...),
		BorrowSymbol:       l.BorrowSymbol,
		BorrowAmount:       cloneBig(l.BorrowAmount),
		NormalizedDebt:     cloneBig(l.NormalizedDebt),
		InterestRateBps:    l.InterestRateBps,
		CreatedAt:          l.CreatedAt,
		LastInterestUpdate: l.LastInterestUpdate,
		DueAt:              l.DueAt,
		Status:             l.Status,
	}
	if len(l.Collaterals) > 0 {
		clone.Collaterals = make([]Collateral, len(l.Collaterals))
		for i, c := range l.Collaterals {
			clone.Collaterals[i] = Collateral{Symbol: c.Symbol, Amount: cloneBig(c.Amount)}
		}
	}
	return clone
}

// RateData carries the reserve rates derived from current utilisation. It is
// computed at query or accrual time and never stored.
type RateData struct {
	DepositRateBps uint64
	BorrowRateBps  uint64
}

// FeeAccrual tracks the protocol fees captured from a reserve for reporting.
// The claimable value itself lives in the fee collector's deposit shares.
type FeeAccrual struct {
	// CumulativeAmount is the total underlying captured since listing.
	CumulativeAmount *big.Int
	// LastAccrual is the timestamp of the most recent capture.
	LastAccrual uint64
}

// EnsureDefaults populates nil amounts.
func (f *FeeAccrual) EnsureDefaults() {
	if f == nil {
		return
	}
	if f.CumulativeAmount == nil {
		f.CumulativeAmount = big.NewInt(0)
	}
}

// Clone returns a deep copy of the fee accrual record.
func (f *FeeAccrual) Clone() *FeeAccrual {
	if f == nil {
		return nil
	}
	return &FeeAccrual{
		CumulativeAmount: cloneBig(f.CumulativeAmount),
		LastAccrual:      f.LastAccrual,
	}
}

// CollateralSpec names an amount of an asset a borrower commits when opening
// a position.
type CollateralSpec struct {
	Symbol string
	Amount *big.Int
}
