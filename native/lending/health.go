package lending

import (
	"math"
	"math/big"

	"lendpool/native/oracle"
)

// MaxHealthFactor is reported for accounts with no outstanding debt. Any
// finite collateral over zero debt is unconditionally healthy.
var MaxHealthFactor = new(big.Int).SetUint64(math.MaxUint64)

// PriceSource supplies asset prices to the engine. Implementations must
// stamp quotes with their publication time so staleness can be enforced.
type PriceSource interface {
	Price(symbol string) (oracle.Quote, error)
}

// riskState aggregates one account's collateral and debt across every
// reserve, valued in the 1e18 USD reference scale.
type riskState struct {
	// collateralValue is the unweighted USD value of all counted collateral.
	collateralValue *big.Int
	// ltvWeighted applies each asset's loan-to-value ratio; borrows are
	// admitted against this figure.
	ltvWeighted *big.Int
	// thresholdWeighted applies each asset's liquidation threshold; health
	// is measured against this figure.
	thresholdWeighted *big.Int
	// debtValue is the USD value of all outstanding debt, rounded up.
	debtValue *big.Int
}

func newRiskState() riskState {
	return riskState{
		collateralValue:   big.NewInt(0),
		ltvWeighted:       big.NewInt(0),
		thresholdWeighted: big.NewInt(0),
		debtValue:         big.NewInt(0),
	}
}

// freshQuote fetches a price and rejects it when it is missing, non-positive
// or older than the engine's staleness window. Valuation fails closed rather
// than price against stale data.
func (e *Engine) freshQuote(symbol string, now uint64) (oracle.Quote, error) {
	if e == nil || e.prices == nil {
		return oracle.Quote{}, ErrPriceUnavailable
	}
	quote, err := e.prices.Price(symbol)
	if err != nil {
		return oracle.Quote{}, ErrPriceUnavailable
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return oracle.Quote{}, ErrPriceUnavailable
	}
	if e.maxQuoteAge > 0 {
		if quote.UpdatedAt > now {
			return oracle.Quote{}, ErrPriceStale
		}
		if now-quote.UpdatedAt > e.maxQuoteAge {
			return oracle.Quote{}, ErrPriceStale
		}
	}
	return quote, nil
}

// valueDown prices an asset amount in the 1e18 USD scale, rounding down.
// Collateral is valued this way so risk is never overstated in the
// account's favour.
func valueDown(amount *big.Int, quote oracle.Quote, assetDecimals uint8) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amount, quote.Price)
	den := new(big.Int).Mul(pow10(assetDecimals), pow10(quote.Decimals))
	return mulDivDown(scaled, usdScale, den)
}

// valueUp prices an asset amount in the 1e18 USD scale, rounding up. Debt is
// valued this way so obligations are never understated.
func valueUp(amount *big.Int, quote oracle.Quote, assetDecimals uint8) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amount, quote.Price)
	den := new(big.Int).Mul(pow10(assetDecimals), pow10(quote.Decimals))
	return mulDivUp(scaled, usdScale, den)
}

// collateralUnderlying is the amount of an asset counted towards the
// account's collateral: vault collateral plus, when flagged, the underlying
// value of the deposit shares.
func collateralUnderlying(reserve *Reserve, position *UserPosition) *big.Int {
	if position == nil {
		return big.NewInt(0)
	}
	position.EnsureDefaults()
	total := new(big.Int).Set(position.CollateralBalance)
	if position.UseAsCollateral && position.DepositShares.Sign() > 0 {
		total.Add(total, amountForShares(reserve, position.DepositShares))
	}
	return total
}

// riskOverride substitutes in-memory copies of positions and reserves for
// the persisted records during risk evaluation. Operations stage their
// mutations, evaluate the hypothetical account, and only persist once the
// checks pass.
type riskOverride struct {
	positions map[string]*UserPosition
	reserves  map[string]*Reserve
}

func newRiskOverride() *riskOverride {
	return &riskOverride{
		positions: make(map[string]*UserPosition),
		reserves:  make(map[string]*Reserve),
	}
}

func (o *riskOverride) setPosition(p *UserPosition) {
	if o == nil || p == nil {
		return
	}
	o.positions[p.Symbol] = p
}

func (o *riskOverride) setReserve(r *Reserve) {
	if o == nil || r == nil {
		return
	}
	o.reserves[r.Symbol] = r
}

// accountRisk walks every reserve the account has touched and aggregates
// collateral and debt values. Debt in reserves not refreshed by the current
// operation is priced at a projected borrow index so the figure is current
// without mutating those reserves. Token configuration applies regardless of
// the active flag: suspending an asset stops new operations, not risk
// accounting.
func (e *Engine) accountRisk(addr []byte, now uint64, override *riskOverride) (riskState, error) {
	risk := newRiskState()
	if e == nil || e.state == nil {
		return risk, ErrNilState
	}
	symbols, err := e.state.LendingUserAssets(addr)
	if err != nil {
		return risk, err
	}
	if override != nil {
		known := make(map[string]struct{}, len(symbols))
		for _, symbol := range symbols {
			known[symbol] = struct{}{}
		}
		for symbol := range override.positions {
			if _, ok := known[symbol]; !ok {
				symbols = append(symbols, symbol)
			}
		}
	}
	for _, symbol := range symbols {
		var position *UserPosition
		if override != nil {
			position = override.positions[symbol]
		}
		if position == nil {
			loaded, ok, err := e.state.LendingGetPosition(addr, symbol)
			if err != nil {
				return risk, err
			}
			if !ok || loaded == nil {
				continue
			}
			position = loaded
		}
		position.EnsureDefaults()
		hasCollateral := position.CollateralBalance.Sign() > 0 ||
			(position.UseAsCollateral && position.DepositShares.Sign() > 0)
		hasDebt := position.NormalizedDebt.Sign() > 0
		if !hasCollateral && !hasDebt {
			continue
		}
		cfg, ok, err := e.state.LendingGetTokenConfig(symbol)
		if err != nil {
			return risk, err
		}
		if !ok || cfg == nil {
			return risk, ErrTokenUnknown
		}
		cfg.EnsureDefaults()
		var reserve *Reserve
		if override != nil {
			reserve = override.reserves[symbol]
		}
		if reserve == nil {
			loaded, _, err := e.state.LendingGetReserve(symbol)
			if err != nil {
				return risk, err
			}
			reserve = loaded
		}
		quote, err := e.freshQuote(symbol, now)
		if err != nil {
			return risk, err
		}
		if hasCollateral {
			underlying := collateralUnderlying(reserve, position)
			value := valueDown(underlying, quote, cfg.Decimals)
			risk.collateralValue.Add(risk.collateralValue, value)
			risk.ltvWeighted.Add(risk.ltvWeighted,
				mulDivDown(value, new(big.Int).SetUint64(cfg.LtvBps), basisPoints))
			risk.thresholdWeighted.Add(risk.thresholdWeighted,
				mulDivDown(value, new(big.Int).SetUint64(cfg.LiquidationThresholdBps), basisPoints))
		}
		if hasDebt {
			idx := projectedBorrowIndex(reserve, cfg, now)
			debt := debtFromNormalized(position.NormalizedDebt, idx)
			risk.debtValue.Add(risk.debtValue, valueUp(debt, quote, cfg.Decimals))
		}
	}
	return risk, nil
}

// hasDebt reports whether the account owes anything in any reserve. It reads
// no prices, so collateral management for debt-free accounts works even when
// the oracle is unavailable.
func (e *Engine) hasDebt(addr []byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	symbols, err := e.state.LendingUserAssets(addr)
	if err != nil {
		return false, err
	}
	for _, symbol := range symbols {
		position, ok, err := e.state.LendingGetPosition(addr, symbol)
		if err != nil {
			return false, err
		}
		if ok && position != nil && position.NormalizedDebt != nil && position.NormalizedDebt.Sign() > 0 {
			return true, nil
		}
	}
	return false, nil
}

// healthFactorBps reduces an account's risk state to a single basis-point
// ratio of threshold-weighted collateral to debt. Accounts with no debt
// report MaxHealthFactor. Below 10000 the account is liquidatable.
func (e *Engine) healthFactorBps(addr []byte, now uint64) (*big.Int, error) {
	risk, err := e.accountRisk(addr, now, nil)
	if err != nil {
		return nil, err
	}
	return risk.healthFactorBps(), nil
}

func (r riskState) healthFactorBps() *big.Int {
	if r.debtValue.Sign() == 0 {
		return new(big.Int).Set(MaxHealthFactor)
	}
	return mulDivDown(r.thresholdWeighted, basisPoints, r.debtValue)
}

// borrowAllowed reports whether the account's loan-to-value weighted
// collateral covers its debt. Borrows and collateral releases must leave
// this true.
func (r riskState) borrowAllowed() bool {
	return r.ltvWeighted.Cmp(r.debtValue) >= 0
}

// healthy reports whether the account sits at or above the liquidation
// boundary.
func (r riskState) healthy() bool {
	if r.debtValue.Sign() == 0 {
		return true
	}
	return r.healthFactorBps().Cmp(basisPoints) >= 0
}
