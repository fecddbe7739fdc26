package lending

import (
	"encoding/hex"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"lendpool/core/events"
	"lendpool/core/types"
	"lendpool/crypto"
	nativecommon "lendpool/native/common"
	"lendpool/observability/metrics"
)

const moduleName = "lending"

// Pause switch names honoured by the engine, one per user-facing action. The
// bare module name pauses everything at once.
const (
	PauseSupply     = moduleName + "/supply"
	PauseWithdraw   = moduleName + "/withdraw"
	PauseCollateral = moduleName + "/collateral"
	PauseBorrow     = moduleName + "/borrow"
	PauseRepay      = moduleName + "/repay"
	PauseLiquidate  = moduleName + "/liquidate"
)

// engineState is the persistence surface the engine mutates. The module
// prefix keeps the lending methods distinct on a shared state manager;
// balance methods are the common token ledger.
type engineState interface {
	LendingGetTokenConfig(symbol string) (*TokenConfig, bool, error)
	LendingPutTokenConfig(cfg *TokenConfig) error
	LendingTokenSymbols() ([]string, error)
	LendingGetReserve(symbol string) (*Reserve, bool, error)
	LendingPutReserve(reserve *Reserve) error
	LendingGetPosition(addr []byte, symbol string) (*UserPosition, bool, error)
	LendingPutPosition(position *UserPosition) error
	LendingUserAssets(addr []byte) ([]string, error)
	LendingGetLoan(id uint64) (*Loan, bool, error)
	LendingPutLoan(loan *Loan) error
	LendingNextLoanID() (uint64, error)
	LendingLoansByBorrower(addr []byte) ([]uint64, error)
	LendingAppendBorrowerLoan(addr []byte, id uint64) error
	LendingGetFeeAccrual(symbol string) (*FeeAccrual, error)
	LendingPutFeeAccrual(symbol string, fees *FeeAccrual) error
	BalanceOf(addr []byte, symbol string) (*big.Int, error)
	Credit(addr []byte, symbol string, amount *big.Int) error
	Debit(addr []byte, symbol string, amount *big.Int) error
}

// Engine orchestrates the state transitions for the pooled lending module.
// Every exported operation runs guard checks, refreshes interest, validates
// against hypothetical balances and only then persists, so a failed call
// leaves no partial writes behind.
type Engine struct {
	state             engineState
	prices            PriceSource
	moduleAddress     crypto.Address
	collateralAddress crypto.Address
	feeCollector      crypto.Address
	feeAuthority      crypto.Address
	maxQuoteAge       uint64
	maxLoanDuration   uint64
	pauses            nativecommon.PauseView
	locks             *nativecommon.OpLock
	emitter           events.Emitter
	telemetry         *metrics.LendingMetrics
	nowFn             func() uint64
}

// NewEngine constructs a lending engine bound to the module vault addresses.
// The pool vault custodies deposits and lent funds, the collateral vault
// custodies directly posted collateral, and the fee collector accumulates
// the protocol's interest share as deposit shares.
func NewEngine(moduleAddr, collateralAddr, feeCollector crypto.Address) *Engine {
	return &Engine{
		moduleAddress:     moduleAddr,
		collateralAddress: collateralAddr,
		feeCollector:      feeCollector,
		locks:             nativecommon.NewOpLock(),
		emitter:           events.NoopEmitter{},
		telemetry:         metrics.Lending(),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetPriceSource wires the oracle used for collateral and debt valuation.
func (e *Engine) SetPriceSource(src PriceSource) {
	if e == nil {
		return
	}
	e.prices = src
}

// SetPauses installs the pause registry consulted before every operation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter wires the event sink. A nil emitter silently discards events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetNowFunc overrides the engine clock. Tests pin it to fixed timestamps.
func (e *Engine) SetNowFunc(now func() uint64) {
	if e == nil {
		return
	}
	e.nowFn = now
}

// SetMaxQuoteAge bounds how old an oracle quote may be before valuation
// fails closed. Zero disables the check.
func (e *Engine) SetMaxQuoteAge(seconds uint64) {
	if e == nil {
		return
	}
	e.maxQuoteAge = seconds
}

// SetMaxLoanDuration caps the term borrowers may request. Zero leaves terms
// unbounded.
func (e *Engine) SetMaxLoanDuration(seconds uint64) {
	if e == nil {
		return
	}
	e.maxLoanDuration = seconds
}

// SetFeeAuthority names the account permitted to withdraw protocol fees.
func (e *Engine) SetFeeAuthority(addr crypto.Address) {
	if e == nil {
		return
	}
	e.feeAuthority = addr
}

// ModuleAddress returns the pool vault address.
func (e *Engine) ModuleAddress() crypto.Address { return e.moduleAddress }

// CollateralAddress returns the collateral vault address.
func (e *Engine) CollateralAddress() crypto.Address { return e.collateralAddress }

// FeeCollector returns the account accruing the protocol's interest share.
func (e *Engine) FeeCollector() crypto.Address { return e.feeCollector }

func (e *Engine) now() uint64 {
	if e != nil && e.nowFn != nil {
		return e.nowFn()
	}
	return uint64(time.Now().Unix())
}

// guard enforces the module-wide pause and the per-action switch.
func (e *Engine) guard(action string) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	return nativecommon.Guard(e.pauses, action)
}

// acquire takes per-resource operation locks for the duration of a call.
func (e *Engine) acquire(keys ...string) (func(), error) {
	if e == nil || e.locks == nil {
		return func() {}, nil
	}
	return e.locks.Acquire(keys...)
}

func lockReserve(symbol string) string { return "reserve:" + symbol }

func lockUser(addr []byte) string { return "user:" + hex.EncodeToString(addr) }

func lockLoan(id uint64) string { return "loan:" + strconv.FormatUint(id, 10) }

// NormalizeSymbol canonicalises asset symbols to upper case.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(lendingEvent{evt: evt})
}

// loadToken fetches a token configuration, optionally requiring the asset to
// accept new operations.
func (e *Engine) loadToken(symbol string, requireActive bool) (*TokenConfig, error) {
	cfg, ok, err := e.state.LendingGetTokenConfig(symbol)
	if err != nil {
		return nil, err
	}
	if !ok || cfg == nil {
		return nil, ErrTokenUnknown
	}
	cfg.EnsureDefaults()
	if requireActive && !cfg.IsActive {
		return nil, ErrTokenInactive
	}
	return cfg, nil
}

// ensureReserve fetches a reserve, creating a fresh one with unit indexes if
// the token has no deposits yet.
func (e *Engine) ensureReserve(symbol string, now uint64) (*Reserve, error) {
	reserve, ok, err := e.state.LendingGetReserve(symbol)
	if err != nil {
		return nil, err
	}
	if !ok || reserve == nil {
		return NewReserve(symbol, now), nil
	}
	reserve.EnsureDefaults()
	return reserve, nil
}

// ensurePosition fetches a user position, creating a zeroed record on first
// touch.
func (e *Engine) ensurePosition(addr []byte, symbol string) (*UserPosition, error) {
	position, ok, err := e.state.LendingGetPosition(addr, symbol)
	if err != nil {
		return nil, err
	}
	if !ok || position == nil {
		position = &UserPosition{
			Address: append([]byte(nil), addr...),
			Symbol:  symbol,
		}
	}
	position.EnsureDefaults()
	return position, nil
}

// accrualContext staples together the records an accrual touched: the
// mutated reserve, the fee collector's position when shares were minted and
// the reporting record when underlying was captured. Nothing is persisted
// until the caller's checks pass.
type accrualContext struct {
	reserve   *Reserve
	cfg       *TokenConfig
	result    accrualResult
	collector *UserPosition
	fees      *FeeAccrual
}

// accrue loads a reserve and rolls it forward to now in memory. The caller
// mutates further, runs its checks, then persists through persistAccrual.
func (e *Engine) accrue(symbol string, now uint64) (*accrualContext, error) {
	cfg, err := e.loadToken(symbol, false)
	if err != nil {
		return nil, err
	}
	reserve, err := e.ensureReserve(symbol, now)
	if err != nil {
		return nil, err
	}
	result, err := accrueReserve(reserve, cfg, now)
	if err != nil {
		return nil, err
	}
	ctx := &accrualContext{reserve: reserve, cfg: cfg, result: result}
	if result.FeeShares.Sign() > 0 {
		collector, err := e.ensurePosition(e.feeCollector.Bytes(), symbol)
		if err != nil {
			return nil, err
		}
		collector.DepositShares = new(big.Int).Add(collector.DepositShares, result.FeeShares)
		ctx.collector = collector
	}
	if result.FeeAmount.Sign() > 0 {
		fees, err := e.state.LendingGetFeeAccrual(symbol)
		if err != nil {
			return nil, err
		}
		if fees == nil {
			fees = &FeeAccrual{}
		}
		fees.EnsureDefaults()
		fees.CumulativeAmount = new(big.Int).Add(fees.CumulativeAmount, result.FeeAmount)
		fees.LastAccrual = now
		ctx.fees = fees
	}
	util := UtilisationBps(reserve.TotalDeposits, reserve.TotalBorrows)
	e.telemetry.SetMarketRates(symbol, util, result.Rates.BorrowRateBps, result.Rates.DepositRateBps)
	e.telemetry.SetMarketSize(symbol, reserve.TotalDeposits, reserve.TotalBorrows)
	return ctx, nil
}

// persistAccrual writes the accrual side effects. The reserve itself is
// persisted by the caller after its own mutations, last in the write order.
func (e *Engine) persistAccrual(ctx *accrualContext) error {
	if ctx == nil {
		return nil
	}
	if ctx.collector != nil {
		if err := e.state.LendingPutPosition(ctx.collector); err != nil {
			return err
		}
	}
	if ctx.fees != nil {
		if err := e.state.LendingPutFeeAccrual(ctx.cfg.Symbol, ctx.fees); err != nil {
			return err
		}
	}
	return nil
}

// ListToken registers a new asset and initialises its reserve. Listing an
// already known symbol fails; use UpdateTokenConfig to change parameters.
func (e *Engine) ListToken(cfg *TokenConfig) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if cfg == nil {
		return ErrInvalidConfig
	}
	listed := cfg.Clone()
	listed.Symbol = NormalizeSymbol(listed.Symbol)
	listed.EnsureDefaults()
	if err := listed.Validate(); err != nil {
		return err
	}
	release, err := e.acquire(lockReserve(listed.Symbol))
	if err != nil {
		return err
	}
	defer release()
	if _, ok, err := e.state.LendingGetTokenConfig(listed.Symbol); err != nil {
		return err
	} else if ok {
		return ErrInvalidConfig
	}
	if err := e.state.LendingPutTokenConfig(listed); err != nil {
		return err
	}
	if err := e.state.LendingPutReserve(NewReserve(listed.Symbol, e.now())); err != nil {
		return err
	}
	e.telemetry.InitMarket(listed.Symbol)
	return nil
}

// UpdateTokenConfig replaces the parameters of a listed asset. The reserve
// is accrued under the old curve first so past interest is not repriced.
func (e *Engine) UpdateTokenConfig(cfg *TokenConfig) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if cfg == nil {
		return ErrInvalidConfig
	}
	updated := cfg.Clone()
	updated.Symbol = NormalizeSymbol(updated.Symbol)
	updated.EnsureDefaults()
	if err := updated.Validate(); err != nil {
		return err
	}
	release, err := e.acquire(lockReserve(updated.Symbol))
	if err != nil {
		return err
	}
	defer release()
	if _, ok, err := e.state.LendingGetTokenConfig(updated.Symbol); err != nil {
		return err
	} else if !ok {
		return ErrTokenUnknown
	}
	ctx, err := e.accrue(updated.Symbol, e.now())
	if err != nil {
		return err
	}
	if err := e.persistAccrual(ctx); err != nil {
		return err
	}
	if err := e.state.LendingPutReserve(ctx.reserve); err != nil {
		return err
	}
	return e.state.LendingPutTokenConfig(updated)
}

// TokenConfigs lists every registered asset sorted by symbol.
func (e *Engine) TokenConfigs() ([]*TokenConfig, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	symbols, err := e.state.LendingTokenSymbols()
	if err != nil {
		return nil, err
	}
	sort.Strings(symbols)
	configs := make([]*TokenConfig, 0, len(symbols))
	for _, symbol := range symbols {
		cfg, ok, err := e.state.LendingGetTokenConfig(symbol)
		if err != nil {
			return nil, err
		}
		if !ok || cfg == nil {
			continue
		}
		cfg.EnsureDefaults()
		configs = append(configs, cfg)
	}
	return configs, nil
}
