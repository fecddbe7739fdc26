package core

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"lendpool/core/events"
	"lendpool/core/state"
	"lendpool/crypto"
	nativecommon "lendpool/native/common"
	"lendpool/native/lendbook"
	"lendpool/native/lending"
	"lendpool/native/oracle"
	"lendpool/storage"
)

// Module vault names. crypto.ModuleAddress turns each into the keyless
// address that holds the corresponding locked funds.
const (
	moduleLendingVault    = "lending"
	moduleCollateralVault = "lending/collateral"
	moduleFeeCollector    = "lending/fees"
	moduleLendbookVault   = "lendbook"
)

var (
	// ErrInvalidAmount rejects ledger operations with nil or non-positive
	// amounts.
	ErrInvalidAmount = errors.New("node: amount must be positive")
	// ErrInvalidSymbol rejects operations without an asset symbol.
	ErrInvalidSymbol = errors.New("node: symbol required")
	// ErrInvalidPrice rejects oracle updates without a positive price.
	ErrInvalidPrice = errors.New("node: price must be positive")
)

// GenesisPrice seeds the oracle with an opening quote for one asset.
type GenesisPrice struct {
	Symbol   string
	Price    *big.Int
	Decimals uint8
}

// GenesisBalance pre-funds an account, typically an operator treasury or a
// development faucet.
type GenesisBalance struct {
	Address crypto.Address
	Symbol  string
	Amount  *big.Int
}

// Genesis describes the opening state of a fresh store: the initial market
// set, opening quotes, pre-funded balances and pre-engaged pause switches.
// It is applied exactly once; restarting against a bootstrapped database
// ignores it and every later change goes through the admin surface.
type Genesis struct {
	Tokens   []*lending.TokenConfig
	Prices   []GenesisPrice
	Balances []GenesisBalance
	Paused   []string
}

// Node is the central controller, wiring all components together. A single
// mutex serialises every operation, so each RPC observes and produces a
// consistent store.
type Node struct {
	db      storage.Database
	manager *state.Manager
	engine  *lending.Engine
	book    *lendbook.Book
	prices  *oracle.Manual
	pauses  *nativecommon.Pauses
	hub     *events.Hub
	nowFn   func() uint64

	mu sync.Mutex
}

// NewNode opens the protocol state on db, restores persisted pause switches
// and oracle quotes, and bootstraps genesis on first start.
func NewNode(db storage.Database, genesis *Genesis) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: storage required")
	}
	manager := state.NewManager(db)

	flags, _, err := manager.PauseFlags()
	if err != nil {
		return nil, fmt.Errorf("node: load pause flags: %w", err)
	}
	pauses := nativecommon.NewPauses(flags...)

	prices := oracle.NewManual("governance")
	hub := events.NewHub()

	engine := lending.NewEngine(
		crypto.ModuleAddress(moduleLendingVault),
		crypto.ModuleAddress(moduleCollateralVault),
		crypto.ModuleAddress(moduleFeeCollector),
	)
	engine.SetState(manager)
	engine.SetPriceSource(prices)
	engine.SetPauses(pauses)
	engine.SetEmitter(hub)

	book := lendbook.NewBook(crypto.ModuleAddress(moduleLendbookVault), engine)
	book.SetState(manager)
	book.SetPauses(pauses)
	book.SetEmitter(hub)

	n := &Node{
		db:      db,
		manager: manager,
		engine:  engine,
		book:    book,
		prices:  prices,
		pauses:  pauses,
		hub:     hub,
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
	}
	if err := n.restoreQuotes(); err != nil {
		return nil, err
	}
	if err := n.applyGenesis(genesis); err != nil {
		return nil, err
	}
	return n, nil
}

// restoreQuotes reloads every persisted oracle record into the live feed.
func (n *Node) restoreQuotes() error {
	symbols, err := n.manager.OracleSymbols()
	if err != nil {
		return fmt.Errorf("node: load oracle symbols: %w", err)
	}
	for _, symbol := range symbols {
		quote, ok, err := n.manager.OracleGetPrice(symbol)
		if err != nil {
			return fmt.Errorf("node: load quote %s: %w", symbol, err)
		}
		if !ok {
			continue
		}
		n.prices.SetPrice(symbol, quote.Price, quote.Decimals, quote.UpdatedAt)
	}
	return nil
}

func (n *Node) applyGenesis(genesis *Genesis) error {
	applied, err := n.manager.GenesisApplied()
	if err != nil {
		return fmt.Errorf("node: read genesis marker: %w", err)
	}
	if applied {
		return nil
	}
	if genesis != nil {
		for _, cfg := range genesis.Tokens {
			if err := n.engine.ListToken(cfg); err != nil {
				symbol := ""
				if cfg != nil {
					symbol = cfg.Symbol
				}
				return fmt.Errorf("node: genesis token %q: %w", symbol, err)
			}
		}
		for _, price := range genesis.Prices {
			if err := n.setPrice(price.Symbol, price.Price, price.Decimals, 0); err != nil {
				return fmt.Errorf("node: genesis price %q: %w", price.Symbol, err)
			}
		}
		for _, balance := range genesis.Balances {
			if balance.Amount == nil || balance.Amount.Sign() <= 0 {
				return fmt.Errorf("node: genesis balance %q: %w", balance.Symbol, ErrInvalidAmount)
			}
			symbol := lending.NormalizeSymbol(balance.Symbol)
			if symbol == "" {
				return fmt.Errorf("node: genesis balance: %w", ErrInvalidSymbol)
			}
			if err := n.manager.Credit(balance.Address.Bytes(), symbol, balance.Amount); err != nil {
				return fmt.Errorf("node: genesis balance %q: %w", symbol, err)
			}
		}
		for _, module := range genesis.Paused {
			n.pauses.SetPaused(module, true)
		}
	}
	if err := n.manager.PutPauseFlags(n.pauses.Snapshot()); err != nil {
		return fmt.Errorf("node: persist pause flags: %w", err)
	}
	return n.manager.MarkGenesisApplied()
}

// setPrice validates, stamps and persists one oracle update. Callers hold
// n.mu (or run during construction, before the node is shared).
func (n *Node) setPrice(symbol string, price *big.Int, decimals uint8, updatedAt uint64) error {
	symbol = oracle.NormalizeSymbol(symbol)
	if symbol == "" {
		return ErrInvalidSymbol
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	if updatedAt == 0 {
		updatedAt = n.nowFn()
	}
	n.prices.SetPrice(symbol, price, decimals, updatedAt)
	quote, err := n.prices.Price(symbol)
	if err != nil {
		return err
	}
	return n.manager.OraclePutPrice(symbol, quote)
}

// SetNowFunc overrides the clock for the node, the engine, the order book
// and the event stream. Tests use it; passing nil restores the wall clock.
func (n *Node) SetNowFunc(now func() uint64) {
	if n == nil {
		return
	}
	if now == nil {
		now = func() uint64 { return uint64(time.Now().Unix()) }
	}
	n.nowFn = now
	n.engine.SetNowFunc(now)
	n.book.SetNowFunc(now)
	n.hub.SetNowFunc(func() int64 { return int64(now()) })
}

// SetMaxQuoteAge forwards the oracle freshness window to the engine.
func (n *Node) SetMaxQuoteAge(seconds uint64) {
	if n == nil {
		return
	}
	n.engine.SetMaxQuoteAge(seconds)
}

// SetMaxLoanDuration forwards the term ceiling to the engine.
func (n *Node) SetMaxLoanDuration(seconds uint64) {
	if n == nil {
		return
	}
	n.engine.SetMaxLoanDuration(seconds)
}

// SetFeeAuthority names the only address allowed to withdraw protocol fees.
func (n *Node) SetFeeAuthority(addr crypto.Address) {
	if n == nil {
		return
	}
	n.engine.SetFeeAuthority(addr)
}

// Events exposes the protocol event stream for websocket fan-out.
func (n *Node) Events() *events.Hub { return n.hub }

// LendingVault returns the pooled-liquidity module address.
func (n *Node) LendingVault() crypto.Address { return n.engine.ModuleAddress() }

// CollateralVault returns the pledged-collateral module address.
func (n *Node) CollateralVault() crypto.Address { return n.engine.CollateralAddress() }

// FeeCollectorAddress returns the protocol fee treasury address.
func (n *Node) FeeCollectorAddress() crypto.Address { return n.engine.FeeCollector() }

// LendbookVault returns the order book escrow module address.
func (n *Node) LendbookVault() crypto.Address { return n.book.VaultAddress() }

// --- Token ledger ---

// Mint credits freshly issued funds to an account. Exposed through the
// admin RPC surface only; bridging real deposits in is out of scope here.
func (n *Node) Mint(addr crypto.Address, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	symbol = lending.NormalizeSymbol(symbol)
	if symbol == "" {
		return ErrInvalidSymbol
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manager.Credit(addr.Bytes(), symbol, amount)
}

// Transfer moves funds between two accounts.
func (n *Node) Transfer(from, to crypto.Address, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	symbol = lending.NormalizeSymbol(symbol)
	if symbol == "" {
		return ErrInvalidSymbol
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.manager.Debit(from.Bytes(), symbol, amount); err != nil {
		return err
	}
	return n.manager.Credit(to.Bytes(), symbol, amount)
}

// BalanceOf reports an account's spendable balance in one asset.
func (n *Node) BalanceOf(addr crypto.Address, symbol string) (*big.Int, error) {
	symbol = lending.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, ErrInvalidSymbol
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manager.BalanceOf(addr.Bytes(), symbol)
}

// --- Lending: supply side ---

// LendingDeposit supplies funds to a reserve and returns the minted shares.
func (n *Node) LendingDeposit(addr crypto.Address, symbol string, amount *big.Int) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Deposit(addr, symbol, amount)
}

// LendingWithdraw redeems supplied funds and returns the burned shares.
func (n *Node) LendingWithdraw(addr crypto.Address, symbol string, amount *big.Int) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Withdraw(addr, symbol, amount)
}

// LendingDepositCollateral locks funds in the collateral vault.
func (n *Node) LendingDepositCollateral(addr crypto.Address, symbol string, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.DepositCollateral(addr, symbol, amount)
}

// LendingWithdrawCollateral releases unpledged collateral back to the owner.
func (n *Node) LendingWithdrawCollateral(addr crypto.Address, symbol string, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.WithdrawCollateral(addr, symbol, amount)
}

// LendingSetCollateralFlag opts deposited funds in or out of backing debt.
func (n *Node) LendingSetCollateralFlag(addr crypto.Address, symbol string, enabled bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.SetCollateralFlag(addr, symbol, enabled)
}

// --- Lending: borrow side ---

// LendingBorrow opens a collateralised loan against the pool.
func (n *Node) LendingBorrow(borrower crypto.Address, symbol string, amount *big.Int, collaterals []lending.CollateralSpec, duration uint64) (*lending.Loan, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.CreatePosition(borrower, symbol, amount, collaterals, duration)
}

// LendingRepay pays down a loan and returns the amount actually applied.
func (n *Node) LendingRepay(payer crypto.Address, loanID uint64, amount *big.Int) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Repay(payer, loanID, amount)
}

// LendingLiquidate seizes collateral from an unhealthy or overdue loan.
func (n *Node) LendingLiquidate(liquidator crypto.Address, loanID uint64) (*lending.LiquidationResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.LiquidateLoan(liquidator, loanID)
}

// LendingLiquidatable reports whether a loan is currently seizable.
func (n *Node) LendingLiquidatable(loanID uint64) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.IsLoanLiquidatable(loanID)
}

// --- Lending: queries ---

// LendingTokens lists every market's configuration.
func (n *Node) LendingTokens() ([]*lending.TokenConfig, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.TokenConfigs()
}

// LendingReserve reports one reserve accrued to the present moment.
func (n *Node) LendingReserve(symbol string) (*lending.ReserveSnapshot, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.ReserveSnapshotFor(symbol)
}

// LendingReserves reports every reserve accrued to the present moment.
func (n *Node) LendingReserves() ([]*lending.ReserveSnapshot, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	configs, err := n.engine.TokenConfigs()
	if err != nil {
		return nil, err
	}
	snapshots := make([]*lending.ReserveSnapshot, 0, len(configs))
	for _, cfg := range configs {
		snapshot, err := n.engine.ReserveSnapshotFor(cfg.Symbol)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

// LendingPosition reports one account's record in one reserve.
func (n *Node) LendingPosition(addr crypto.Address, symbol string) (*lending.UserPosition, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.PositionFor(addr, symbol)
}

// LendingPositions reports every reserve record an account holds.
func (n *Node) LendingPositions(addr crypto.Address) ([]*lending.UserPosition, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.PositionsFor(addr)
}

// LendingLoan loads a loan by identifier.
func (n *Node) LendingLoan(id uint64) (*lending.Loan, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.LoanFor(id)
}

// LendingLoanDebt reports a loan's live debt including accrued interest.
func (n *Node) LendingLoanDebt(id uint64) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.LoanDebt(id)
}

// LendingLoans lists every loan a borrower has opened.
func (n *Node) LendingLoans(addr crypto.Address) ([]*lending.Loan, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.LoansFor(addr)
}

// LendingAccountHealth reports an account's health factor in basis points.
func (n *Node) LendingAccountHealth(addr crypto.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.AccountHealth(addr)
}

// LendingFeeBalance reports the redeemable protocol fee balance for an
// asset alongside its accrual record.
func (n *Node) LendingFeeBalance(symbol string) (*big.Int, *lending.FeeAccrual, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.ProtocolFeeBalance(symbol)
}

// --- Order book ---

// LendbookList escrows funds and posts an open listing.
func (n *Node) LendbookList(lender crypto.Address, symbol string, amount *big.Int, minRateBps, maxDurationSecs uint64) (*lendbook.Listing, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.book.List(lender, symbol, amount, minRateBps, maxDurationSecs)
}

// LendbookCancel refunds and closes an open listing.
func (n *Node) LendbookCancel(lender crypto.Address, id uint64) (*lendbook.Listing, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.book.Cancel(lender, id)
}

// LendbookMatch settles a borrower's ask against the best open listing.
func (n *Node) LendbookMatch(borrower crypto.Address, ask lendbook.Ask) (*lendbook.MatchResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.book.Match(borrower, ask)
}

// LendbookListing loads one listing by identifier.
func (n *Node) LendbookListing(id uint64) (*lendbook.Listing, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.book.ListingFor(id)
}

// LendbookOpenListings lists open listings in match priority order.
func (n *Node) LendbookOpenListings() ([]*lendbook.Listing, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.book.OpenListings()
}

// --- Oracle ---

// OracleSetPrice records a quote. A zero updatedAt is stamped with the
// node's clock. The quote is persisted so restarts resume the feed.
func (n *Node) OracleSetPrice(symbol string, price *big.Int, decimals uint8, updatedAt uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.setPrice(symbol, price, decimals, updatedAt)
}

// OracleQuote returns the current quote for a symbol.
func (n *Node) OracleQuote(symbol string) (oracle.Quote, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.prices.Price(symbol)
}

// OracleSymbols lists every asset the feed currently covers.
func (n *Node) OracleSymbols() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.prices.Symbols()
}

// --- Administration ---

// LendingListToken opens a new market.
func (n *Node) LendingListToken(cfg *lending.TokenConfig) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.ListToken(cfg)
}

// LendingUpdateToken replaces the parameters of a listed market.
func (n *Node) LendingUpdateToken(cfg *lending.TokenConfig) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.UpdateTokenConfig(cfg)
}

// LendingWithdrawFees redeems protocol fees to a recipient. The engine
// enforces the fee authority.
func (n *Node) LendingWithdrawFees(authority crypto.Address, symbol string, recipient crypto.Address, amount *big.Int) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.WithdrawProtocolFees(authority, symbol, recipient, amount)
}

// SetPaused toggles a pause switch (a module name, or module/action for a
// single operation) and persists the new switch set.
func (n *Node) SetPaused(module string, paused bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pauses.SetPaused(module, paused)
	return n.manager.PutPauseFlags(n.pauses.Snapshot())
}

// PausedModules reports every currently engaged pause switch.
func (n *Node) PausedModules() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pauses.Snapshot()
}
