package lendbook

import (
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"lendpool/crypto"
	nativecommon "lendpool/native/common"
	"lendpool/native/lending"
	"lendpool/native/oracle"
)

var errMockFunds = errors.New("mock: insufficient funds")

// mockBookState backs both the lending engine and the book in one ledger,
// the way the production state manager does.
type mockBookState struct {
	tokens     map[string]*lending.TokenConfig
	reserves   map[string]*lending.Reserve
	positions  map[string]*lending.UserPosition
	userAssets map[string][]string
	loans      map[uint64]*lending.Loan
	loanSeq    uint64
	borrowers  map[string][]uint64
	fees       map[string]*lending.FeeAccrual
	balances   map[string]*big.Int
	listings   map[uint64]*Listing
	listingSeq uint64
	openIDs    []uint64
}

func newMockBookState() *mockBookState {
	return &mockBookState{
		tokens:     make(map[string]*lending.TokenConfig),
		reserves:   make(map[string]*lending.Reserve),
		positions:  make(map[string]*lending.UserPosition),
		userAssets: make(map[string][]string),
		loans:      make(map[uint64]*lending.Loan),
		borrowers:  make(map[string][]uint64),
		fees:       make(map[string]*lending.FeeAccrual),
		balances:   make(map[string]*big.Int),
		listings:   make(map[uint64]*Listing),
	}
}

func addrKey(addr []byte) string { return hex.EncodeToString(addr) }

func scopedKey(addr []byte, symbol string) string {
	return hex.EncodeToString(addr) + "/" + symbol
}

func (m *mockBookState) LendingGetTokenConfig(symbol string) (*lending.TokenConfig, bool, error) {
	cfg, ok := m.tokens[symbol]
	if !ok {
		return nil, false, nil
	}
	return cfg.Clone(), true, nil
}

func (m *mockBookState) LendingPutTokenConfig(cfg *lending.TokenConfig) error {
	m.tokens[cfg.Symbol] = cfg.Clone()
	return nil
}

func (m *mockBookState) LendingTokenSymbols() ([]string, error) {
	symbols := make([]string, 0, len(m.tokens))
	for symbol := range m.tokens {
		symbols = append(symbols, symbol)
	}
	return symbols, nil
}

func (m *mockBookState) LendingGetReserve(symbol string) (*lending.Reserve, bool, error) {
	reserve, ok := m.reserves[symbol]
	if !ok {
		return nil, false, nil
	}
	return reserve.Clone(), true, nil
}

func (m *mockBookState) LendingPutReserve(reserve *lending.Reserve) error {
	m.reserves[reserve.Symbol] = reserve.Clone()
	return nil
}

func (m *mockBookState) LendingGetPosition(addr []byte, symbol string) (*lending.UserPosition, bool, error) {
	position, ok := m.positions[scopedKey(addr, symbol)]
	if !ok {
		return nil, false, nil
	}
	return position.Clone(), true, nil
}

func (m *mockBookState) LendingPutPosition(position *lending.UserPosition) error {
	m.positions[scopedKey(position.Address, position.Symbol)] = position.Clone()
	key := addrKey(position.Address)
	for _, symbol := range m.userAssets[key] {
		if symbol == position.Symbol {
			return nil
		}
	}
	m.userAssets[key] = append(m.userAssets[key], position.Symbol)
	return nil
}

func (m *mockBookState) LendingUserAssets(addr []byte) ([]string, error) {
	return append([]string(nil), m.userAssets[addrKey(addr)]...), nil
}

func (m *mockBookState) LendingGetLoan(id uint64) (*lending.Loan, bool, error) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, false, nil
	}
	return loan.Clone(), true, nil
}

func (m *mockBookState) LendingPutLoan(loan *lending.Loan) error {
	m.loans[loan.ID] = loan.Clone()
	return nil
}

func (m *mockBookState) LendingNextLoanID() (uint64, error) {
	m.loanSeq++
	return m.loanSeq, nil
}

func (m *mockBookState) LendingLoansByBorrower(addr []byte) ([]uint64, error) {
	return append([]uint64(nil), m.borrowers[addrKey(addr)]...), nil
}

func (m *mockBookState) LendingAppendBorrowerLoan(addr []byte, id uint64) error {
	key := addrKey(addr)
	m.borrowers[key] = append(m.borrowers[key], id)
	return nil
}

func (m *mockBookState) LendingGetFeeAccrual(symbol string) (*lending.FeeAccrual, error) {
	if fees, ok := m.fees[symbol]; ok {
		return fees.Clone(), nil
	}
	return nil, nil
}

func (m *mockBookState) LendingPutFeeAccrual(symbol string, fees *lending.FeeAccrual) error {
	m.fees[symbol] = fees.Clone()
	return nil
}

func (m *mockBookState) BalanceOf(addr []byte, symbol string) (*big.Int, error) {
	if balance, ok := m.balances[scopedKey(addr, symbol)]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

func (m *mockBookState) Credit(addr []byte, symbol string, amount *big.Int) error {
	key := scopedKey(addr, symbol)
	balance, ok := m.balances[key]
	if !ok {
		balance = big.NewInt(0)
	}
	m.balances[key] = new(big.Int).Add(balance, amount)
	return nil
}

func (m *mockBookState) Debit(addr []byte, symbol string, amount *big.Int) error {
	key := scopedKey(addr, symbol)
	balance, ok := m.balances[key]
	if !ok || balance.Cmp(amount) < 0 {
		return errMockFunds
	}
	m.balances[key] = new(big.Int).Sub(balance, amount)
	return nil
}

func (m *mockBookState) LendbookGetListing(id uint64) (*Listing, bool, error) {
	listing, ok := m.listings[id]
	if !ok {
		return nil, false, nil
	}
	return listing.Clone(), true, nil
}

func (m *mockBookState) LendbookPutListing(listing *Listing) error {
	m.listings[listing.ID] = listing.Clone()
	return nil
}

func (m *mockBookState) LendbookNextListingID() (uint64, error) {
	m.listingSeq++
	return m.listingSeq, nil
}

func (m *mockBookState) LendbookOpenListings() ([]uint64, error) {
	return append([]uint64(nil), m.openIDs...), nil
}

func (m *mockBookState) LendbookPutOpenListings(ids []uint64) error {
	m.openIDs = append([]uint64(nil), ids...)
	return nil
}

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.MustNewAddress(crypto.LendPrefix, raw)
}

type bookEnv struct {
	book   *Book
	engine *lending.Engine
	state  *mockBookState
	prices *oracle.Manual
	now    uint64
}

func newBookEnv(t *testing.T) *bookEnv {
	t.Helper()
	engine := lending.NewEngine(makeAddress(0x01), makeAddress(0x02), makeAddress(0x03))
	state := newMockBookState()
	engine.SetState(state)
	prices := oracle.NewManual("test")
	engine.SetPriceSource(prices)
	engine.SetMaxQuoteAge(300)
	book := NewBook(makeAddress(0x04), engine)
	book.SetState(state)
	env := &bookEnv{book: book, engine: engine, state: state, prices: prices, now: 1_700_000_000}
	clock := func() uint64 { return env.now }
	engine.SetNowFunc(clock)
	book.SetNowFunc(clock)
	return env
}

func (env *bookEnv) listToken(t *testing.T, cfg *lending.TokenConfig) {
	t.Helper()
	if err := env.engine.ListToken(cfg); err != nil {
		t.Fatalf("list token %s: %v", cfg.Symbol, err)
	}
}

func (env *bookEnv) setPrice(symbol string, price int64, decimals uint8) {
	env.prices.SetPrice(symbol, big.NewInt(price), decimals, env.now)
}

func (env *bookEnv) fund(addr crypto.Address, symbol string, amount *big.Int) {
	env.state.balances[scopedKey(addr.Bytes(), symbol)] = new(big.Int).Set(amount)
}

func (env *bookEnv) balance(addr crypto.Address, symbol string) *big.Int {
	if balance, ok := env.state.balances[scopedKey(addr.Bytes(), symbol)]; ok {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

func usdcConfig() *lending.TokenConfig {
	return &lending.TokenConfig{
		Symbol:                  "USDC",
		Decimals:                6,
		LtvBps:                  7500,
		LiquidationThresholdBps: 8000,
		LiquidationBonusBps:     500,
		ReserveFactorBps:        2000,
		Interest: lending.InterestModel{
			BaseRateBps: 500,
			Slope1Bps:   1000,
			Slope2Bps:   30_000,
			KinkBps:     8000,
		},
		IsActive:   true,
		IsLoanable: true,
	}
}

func wethConfig() *lending.TokenConfig {
	return &lending.TokenConfig{
		Symbol:                  "WETH",
		Decimals:                18,
		LtvBps:                  7500,
		LiquidationThresholdBps: 8000,
		LiquidationBonusBps:     1000,
		ReserveFactorBps:        2000,
		Interest: lending.InterestModel{
			BaseRateBps: 200,
			Slope1Bps:   800,
			Slope2Bps:   20_000,
			KinkBps:     8000,
		},
		IsActive:   true,
		IsLoanable: true,
	}
}

func mustAmount(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad amount %q", s)
	}
	return v
}

// setupMarket lists USDC and WETH with live prices and gives the borrower
// 5 WETH of flagged pool collateral.
func setupMarket(t *testing.T, env *bookEnv) (borrower crypto.Address) {
	t.Helper()
	env.listToken(t, usdcConfig())
	env.listToken(t, wethConfig())
	env.setPrice("USDC", 100_000_000, 8)     // $1.00
	env.setPrice("WETH", 200_000_000_000, 8) // $2000.00
	borrower = makeAddress(0x20)
	env.fund(borrower, "WETH", mustAmount(t, "5000000000000000000"))
	if _, err := env.engine.Deposit(borrower, "WETH", mustAmount(t, "5000000000000000000")); err != nil {
		t.Fatalf("borrower collateral deposit: %v", err)
	}
	if err := env.engine.SetCollateralFlag(borrower, "WETH", true); err != nil {
		t.Fatalf("set collateral flag: %v", err)
	}
	return borrower
}

func postListing(t *testing.T, env *bookEnv, lender crypto.Address, amount string, minRate, maxDuration uint64) *Listing {
	t.Helper()
	value := mustAmount(t, amount)
	env.fund(lender, "USDC", value)
	listing, err := env.book.List(lender, "USDC", value, minRate, maxDuration)
	if err != nil {
		t.Fatalf("post listing: %v", err)
	}
	return listing
}

func standardAsk(t *testing.T, amount string, maxRate, duration uint64) Ask {
	t.Helper()
	return Ask{
		Symbol:       "USDC",
		Amount:       mustAmount(t, amount),
		MaxRateBps:   maxRate,
		DurationSecs: duration,
		Collaterals: []lending.CollateralSpec{
			{Symbol: "WETH", Amount: mustAmount(t, "5000000000000000000")},
		},
	}
}

func TestListEscrowsFundsAndOpensListing(t *testing.T) {
	env := newBookEnv(t)
	env.listToken(t, usdcConfig())
	lender := makeAddress(0x10)
	env.fund(lender, "USDC", mustAmount(t, "50000000000"))

	listing, err := env.book.List(lender, "usdc", mustAmount(t, "50000000000"), 900, 2_592_000)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if listing.ID != 1 {
		t.Fatalf("expected first id, got %d", listing.ID)
	}
	if listing.Symbol != "USDC" {
		t.Fatalf("expected normalised symbol, got %q", listing.Symbol)
	}
	if listing.Status != ListingStatusOpen {
		t.Fatalf("unexpected status: %v", listing.Status)
	}
	if listing.CreatedAt != env.now {
		t.Fatalf("unexpected created at: %d", listing.CreatedAt)
	}
	if got := env.balance(lender, "USDC"); got.Sign() != 0 {
		t.Fatalf("expected lender escrowed, got %s", got)
	}
	if got := env.balance(env.book.VaultAddress(), "USDC"); got.Cmp(mustAmount(t, "50000000000")) != 0 {
		t.Fatalf("expected vault escrow, got %s", got)
	}
	if len(env.state.openIDs) != 1 || env.state.openIDs[0] != 1 {
		t.Fatalf("unexpected open set: %v", env.state.openIDs)
	}
}

func TestListValidation(t *testing.T) {
	env := newBookEnv(t)
	env.listToken(t, usdcConfig())
	lender := makeAddress(0x11)

	if _, err := env.book.List(lender, "USDC", nil, 900, 0); !errors.Is(err, ErrInvalidListing) {
		t.Fatalf("expected ErrInvalidListing for nil amount, got %v", err)
	}
	if _, err := env.book.List(lender, "USDC", big.NewInt(0), 900, 0); !errors.Is(err, ErrInvalidListing) {
		t.Fatalf("expected ErrInvalidListing for zero amount, got %v", err)
	}
	if _, err := env.book.List(lender, "DOGE", big.NewInt(1_000_000), 900, 0); !errors.Is(err, lending.ErrTokenUnknown) {
		t.Fatalf("expected ErrTokenUnknown, got %v", err)
	}
	if _, err := env.book.List(lender, "USDC", big.NewInt(1_000_000), 900, 0); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	inactive := usdcConfig()
	inactive.Symbol = "FRAX"
	inactive.IsActive = false
	env.listToken(t, inactive)
	env.fund(lender, "FRAX", big.NewInt(1_000_000))
	if _, err := env.book.List(lender, "FRAX", big.NewInt(1_000_000), 900, 0); !errors.Is(err, lending.ErrTokenInactive) {
		t.Fatalf("expected ErrTokenInactive, got %v", err)
	}
}

func TestCancelRefundsEscrow(t *testing.T) {
	env := newBookEnv(t)
	env.listToken(t, usdcConfig())
	lender := makeAddress(0x12)
	stranger := makeAddress(0x13)
	listing := postListing(t, env, lender, "50000000000", 900, 0)

	if _, err := env.book.Cancel(stranger, listing.ID); !errors.Is(err, ErrNotListingOwner) {
		t.Fatalf("expected ErrNotListingOwner, got %v", err)
	}
	if _, err := env.book.Cancel(lender, 99); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}

	cancelled, err := env.book.Cancel(lender, listing.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != ListingStatusCancelled {
		t.Fatalf("unexpected status: %v", cancelled.Status)
	}
	if got := env.balance(lender, "USDC"); got.Cmp(mustAmount(t, "50000000000")) != 0 {
		t.Fatalf("expected escrow refunded, got %s", got)
	}
	if got := env.balance(env.book.VaultAddress(), "USDC"); got.Sign() != 0 {
		t.Fatalf("expected vault drained, got %s", got)
	}
	if len(env.state.openIDs) != 0 {
		t.Fatalf("expected empty open set, got %v", env.state.openIDs)
	}

	if _, err := env.book.Cancel(lender, listing.ID); !errors.Is(err, ErrListingNotOpen) {
		t.Fatalf("expected ErrListingNotOpen on repeat cancel, got %v", err)
	}
}

func TestMatchSelectsLowestRateThenOldest(t *testing.T) {
	env := newBookEnv(t)
	borrower := setupMarket(t, env)
	lender1 := makeAddress(0x30)
	lender2 := makeAddress(0x31)
	lender3 := makeAddress(0x32)
	postListing(t, env, lender1, "10000000000", 1200, 0)
	second := postListing(t, env, lender2, "10000000000", 900, 0)
	postListing(t, env, lender3, "10000000000", 900, 0)

	result, err := env.book.Match(borrower, standardAsk(t, "7000000000", 1500, 86_400))
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if result.Listing.ID != second.ID {
		t.Fatalf("expected oldest lowest-rate listing %d, got %d", second.ID, result.Listing.ID)
	}
	if result.Listing.Status != ListingStatusMatched {
		t.Fatalf("unexpected status: %v", result.Listing.Status)
	}
	if result.Listing.MatchedLoanID != result.Loan.ID {
		t.Fatalf("listing loan link mismatch: %d vs %d", result.Listing.MatchedLoanID, result.Loan.ID)
	}
	// 7,000 of 10,000 deposited puts the pool at 1375 bps, above the 900 bps
	// floor, so the pool rate is recorded.
	if result.Listing.MatchedRateBps != 1375 {
		t.Fatalf("unexpected matched rate: %d", result.Listing.MatchedRateBps)
	}
	if result.Loan.DueAt != env.now+86_400 {
		t.Fatalf("unexpected due at: %d", result.Loan.DueAt)
	}
	if result.LenderShares.Cmp(mustAmount(t, "10000000000")) != 0 {
		t.Fatalf("unexpected lender shares: %s", result.LenderShares)
	}

	if got := env.state.openIDs; len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("unexpected open set after match: %v", got)
	}
	lenderPos := env.state.positions[scopedKey(lender2.Bytes(), "USDC")]
	if lenderPos == nil || lenderPos.DepositShares.Cmp(mustAmount(t, "10000000000")) != 0 {
		t.Fatalf("expected matched lender to hold pool shares, got %+v", lenderPos)
	}
	if got := env.balance(borrower, "USDC"); got.Cmp(mustAmount(t, "7000000000")) != 0 {
		t.Fatalf("expected borrower funded, got %s", got)
	}
	// The two unmatched escrows stay in the book vault.
	if got := env.balance(env.book.VaultAddress(), "USDC"); got.Cmp(mustAmount(t, "20000000000")) != 0 {
		t.Fatalf("expected remaining escrow, got %s", got)
	}
}

func TestMatchRecordsRateFloorWhenAbovePoolRate(t *testing.T) {
	env := newBookEnv(t)
	borrower := setupMarket(t, env)
	lender := makeAddress(0x33)
	postListing(t, env, lender, "10000000000", 5000, 0)

	// A small draw keeps the pool rate at 625 bps, below the 5000 bps floor.
	result, err := env.book.Match(borrower, standardAsk(t, "1000000000", 6000, 86_400))
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if result.Loan.InterestRateBps != 625 {
		t.Fatalf("unexpected pool rate: %d", result.Loan.InterestRateBps)
	}
	if result.Listing.MatchedRateBps != 5000 {
		t.Fatalf("expected floor recorded, got %d", result.Listing.MatchedRateBps)
	}
}

func TestMatchRespectsConstraints(t *testing.T) {
	env := newBookEnv(t)
	borrower := setupMarket(t, env)
	lender := makeAddress(0x34)
	postListing(t, env, lender, "10000000000", 900, 3600)

	if _, err := env.book.Match(borrower, standardAsk(t, "7000000000", 800, 3600)); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch when floor exceeds cap, got %v", err)
	}
	if _, err := env.book.Match(borrower, standardAsk(t, "7000000000", 1500, 7200)); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch when duration exceeds listing cap, got %v", err)
	}
	if _, err := env.book.Match(borrower, standardAsk(t, "20000000000", 1500, 3600)); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch when ask exceeds listing size, got %v", err)
	}

	ask := standardAsk(t, "7000000000", 1500, 3600)
	ask.Symbol = "WETH"
	if _, err := env.book.Match(borrower, ask); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch on symbol mismatch, got %v", err)
	}

	// A lender cannot fill their own ask.
	env.fund(lender, "WETH", mustAmount(t, "5000000000000000000"))
	if _, err := env.engine.Deposit(lender, "WETH", mustAmount(t, "5000000000000000000")); err != nil {
		t.Fatalf("lender collateral deposit: %v", err)
	}
	if err := env.engine.SetCollateralFlag(lender, "WETH", true); err != nil {
		t.Fatalf("set collateral flag: %v", err)
	}
	if _, err := env.book.Match(lender, standardAsk(t, "7000000000", 1500, 3600)); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch on self match, got %v", err)
	}
}

func TestMatchFailedSettlementKeepsListingOpen(t *testing.T) {
	env := newBookEnv(t)
	env.listToken(t, usdcConfig())
	env.listToken(t, wethConfig())
	env.setPrice("USDC", 100_000_000, 8)
	env.setPrice("WETH", 200_000_000_000, 8)
	borrower := makeAddress(0x35)
	// Only 1 WETH of collateral: $1500 of borrowing power.
	env.fund(borrower, "WETH", mustAmount(t, "1000000000000000000"))
	if _, err := env.engine.Deposit(borrower, "WETH", mustAmount(t, "1000000000000000000")); err != nil {
		t.Fatalf("borrower collateral deposit: %v", err)
	}
	if err := env.engine.SetCollateralFlag(borrower, "WETH", true); err != nil {
		t.Fatalf("set collateral flag: %v", err)
	}
	lender := makeAddress(0x36)
	listing := postListing(t, env, lender, "10000000000", 900, 0)

	ask := Ask{
		Symbol:       "USDC",
		Amount:       mustAmount(t, "7000000000"),
		MaxRateBps:   1500,
		DurationSecs: 86_400,
		Collaterals: []lending.CollateralSpec{
			{Symbol: "WETH", Amount: mustAmount(t, "1000000000000000000")},
		},
	}
	if _, err := env.book.Match(borrower, ask); !errors.Is(err, lending.ErrHealthCheckFailed) {
		t.Fatalf("expected health failure to bubble, got %v", err)
	}

	stored := env.state.listings[listing.ID]
	if stored.Status != ListingStatusOpen {
		t.Fatalf("expected listing still open, got %v", stored.Status)
	}
	if got := env.balance(env.book.VaultAddress(), "USDC"); got.Cmp(mustAmount(t, "10000000000")) != 0 {
		t.Fatalf("expected escrow intact, got %s", got)
	}
	if len(env.state.openIDs) != 1 {
		t.Fatalf("expected open set intact, got %v", env.state.openIDs)
	}
	if usdc, ok := env.state.reserves["USDC"]; ok && usdc.TotalDeposits.Sign() != 0 {
		t.Fatalf("expected pool untouched, got %s", usdc.TotalDeposits)
	}
}

func TestMatchValidation(t *testing.T) {
	env := newBookEnv(t)
	borrower := setupMarket(t, env)

	ask := standardAsk(t, "7000000000", 1500, 86_400)
	ask.Amount = nil
	if _, err := env.book.Match(borrower, ask); !errors.Is(err, ErrInvalidAsk) {
		t.Fatalf("expected ErrInvalidAsk for nil amount, got %v", err)
	}
	ask = standardAsk(t, "7000000000", 1500, 86_400)
	ask.DurationSecs = 0
	if _, err := env.book.Match(borrower, ask); !errors.Is(err, ErrInvalidAsk) {
		t.Fatalf("expected ErrInvalidAsk for zero duration, got %v", err)
	}
	ask = standardAsk(t, "7000000000", 1500, 86_400)
	ask.Collaterals = nil
	if _, err := env.book.Match(borrower, ask); !errors.Is(err, ErrInvalidAsk) {
		t.Fatalf("expected ErrInvalidAsk for missing collateral, got %v", err)
	}

	if _, err := env.book.Match(borrower, standardAsk(t, "7000000000", 1500, 86_400)); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch on empty book, got %v", err)
	}
}

func TestOpenListingsPriorityOrder(t *testing.T) {
	env := newBookEnv(t)
	env.listToken(t, usdcConfig())
	postListing(t, env, makeAddress(0x40), "1000000000", 1200, 0)
	postListing(t, env, makeAddress(0x41), "1000000000", 900, 0)
	postListing(t, env, makeAddress(0x42), "1000000000", 900, 0)

	listings, err := env.book.OpenListings()
	if err != nil {
		t.Fatalf("open listings: %v", err)
	}
	if len(listings) != 3 {
		t.Fatalf("expected 3 listings, got %d", len(listings))
	}
	if listings[0].ID != 2 || listings[1].ID != 3 || listings[2].ID != 1 {
		t.Fatalf("unexpected priority order: %d %d %d",
			listings[0].ID, listings[1].ID, listings[2].ID)
	}
}

type stubPauseView struct {
	modules map[string]bool
}

func (s stubPauseView) IsPaused(module string) bool {
	if s.modules == nil {
		return false
	}
	return s.modules[module]
}

func TestBookPauseBlocksActions(t *testing.T) {
	env := newBookEnv(t)
	env.listToken(t, usdcConfig())
	lender := makeAddress(0x43)
	listing := postListing(t, env, lender, "1000000000", 900, 0)

	env.book.SetPauses(stubPauseView{modules: map[string]bool{moduleName: true}})
	if _, err := env.book.List(lender, "USDC", big.NewInt(1), 900, 0); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused on list, got %v", err)
	}
	if _, err := env.book.Cancel(lender, listing.ID); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused on cancel, got %v", err)
	}
	if _, err := env.book.Match(lender, standardAsk(t, "1", 900, 3600)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused on match, got %v", err)
	}

	env.book.SetPauses(stubPauseView{modules: map[string]bool{PauseMatch: true}})
	if _, err := env.book.Match(lender, standardAsk(t, "1", 900, 3600)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused on scoped match pause, got %v", err)
	}
	if _, err := env.book.Cancel(lender, listing.ID); err != nil {
		t.Fatalf("cancel should pass with only match paused: %v", err)
	}
}
