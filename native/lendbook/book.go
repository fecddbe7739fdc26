package lendbook

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"time"

	"lendpool/core/events"
	"lendpool/core/types"
	"lendpool/crypto"
	nativecommon "lendpool/native/common"
	"lendpool/native/lending"
)

const moduleName = "lendbook"

// Pause switch names honoured by the book, one per user-facing action. The
// bare module name pauses everything at once.
const (
	PauseList   = moduleName + "/list"
	PauseCancel = moduleName + "/cancel"
	PauseMatch  = moduleName + "/match"
)

// bookState is the persistence surface the book mutates. The open-listing set
// is an explicit index the book maintains itself; the lending token lookup
// and the balance ledger are shared with the engine.
type bookState interface {
	LendbookGetListing(id uint64) (*Listing, bool, error)
	LendbookPutListing(listing *Listing) error
	LendbookNextListingID() (uint64, error)
	LendbookOpenListings() ([]uint64, error)
	LendbookPutOpenListings(ids []uint64) error
	LendingGetTokenConfig(symbol string) (*lending.TokenConfig, bool, error)
	BalanceOf(addr []byte, symbol string) (*big.Int, error)
	Credit(addr []byte, symbol string, amount *big.Int) error
	Debit(addr []byte, symbol string, amount *big.Int) error
}

// Book is the peer-to-peer convenience layer over the pool. Lenders escrow
// standing offers; a borrower's ask settles against the best open offer by
// routing both legs through the lending engine in one atomic step. The book
// itself never holds rate state, only offers and their escrow.
type Book struct {
	state   bookState
	engine  *lending.Engine
	vault   crypto.Address
	pauses  nativecommon.PauseView
	locks   *nativecommon.OpLock
	emitter events.Emitter
	nowFn   func() uint64
}

// NewBook constructs a book escrowing offers at the vault address and
// settling matches through the supplied lending engine.
func NewBook(vault crypto.Address, engine *lending.Engine) *Book {
	return &Book{
		vault:   vault,
		engine:  engine,
		locks:   nativecommon.NewOpLock(),
		emitter: events.NoopEmitter{},
	}
}

// SetState wires the book to the external persistence layer.
func (b *Book) SetState(state bookState) {
	if b == nil {
		return
	}
	b.state = state
}

// SetPauses installs the pause registry consulted before every operation.
func (b *Book) SetPauses(p nativecommon.PauseView) {
	if b == nil {
		return
	}
	b.pauses = p
}

// SetEmitter wires the event sink. A nil emitter silently discards events.
func (b *Book) SetEmitter(emitter events.Emitter) {
	if b == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	b.emitter = emitter
}

// SetNowFunc overrides the book clock. Tests pin it to fixed timestamps.
func (b *Book) SetNowFunc(now func() uint64) {
	if b == nil {
		return
	}
	b.nowFn = now
}

// VaultAddress returns the escrow vault holding open offers.
func (b *Book) VaultAddress() crypto.Address { return b.vault }

func (b *Book) now() uint64 {
	if b != nil && b.nowFn != nil {
		return b.nowFn()
	}
	return uint64(time.Now().Unix())
}

func (b *Book) guard(action string) error {
	if err := nativecommon.Guard(b.pauses, moduleName); err != nil {
		return err
	}
	return nativecommon.Guard(b.pauses, action)
}

func (b *Book) acquire(keys ...string) (func(), error) {
	if b == nil || b.locks == nil {
		return func() {}, nil
	}
	return b.locks.Acquire(keys...)
}

// The open set is a single shared resource; every mutation locks it so the
// scan in Match never observes a half-updated index.
const lockOpenSet = "open-set"

func lockListing(id uint64) string { return "listing:" + strconv.FormatUint(id, 10) }

func lockUser(addr []byte) string { return "user:" + hex.EncodeToString(addr) }

func (b *Book) emit(evt *types.Event) {
	if b == nil || b.emitter == nil || evt == nil {
		return
	}
	b.emitter.Emit(bookEvent{evt: evt})
}

func (b *Book) loadToken(symbol string) (*lending.TokenConfig, error) {
	cfg, ok, err := b.state.LendingGetTokenConfig(symbol)
	if err != nil {
		return nil, err
	}
	if !ok || cfg == nil {
		return nil, lending.ErrTokenUnknown
	}
	cfg.EnsureDefaults()
	if !cfg.IsActive {
		return nil, lending.ErrTokenInactive
	}
	if !cfg.IsLoanable {
		return nil, lending.ErrTokenNotLoanable
	}
	return cfg, nil
}

// removeOpen rewrites the open set without the given id.
func (b *Book) removeOpen(ids []uint64, id uint64) error {
	kept := make([]uint64, 0, len(ids))
	for _, candidate := range ids {
		if candidate != id {
			kept = append(kept, candidate)
		}
	}
	return b.state.LendbookPutOpenListings(kept)
}

// List escrows a lender's funds and posts a standing offer. The offer stays
// open until a borrower's ask consumes it or the lender cancels.
func (b *Book) List(lender crypto.Address, symbol string, amount *big.Int, minRateBps, maxDurationSecs uint64) (*Listing, error) {
	if b == nil || b.state == nil {
		return nil, ErrNilState
	}
	if b.engine == nil {
		return nil, ErrNilEngine
	}
	if err := b.guard(PauseList); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidListing
	}
	symbol = lending.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, ErrInvalidListing
	}
	lenderBytes := lender.Bytes()

	release, err := b.acquire(lockOpenSet, lockUser(lenderBytes))
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := b.loadToken(symbol); err != nil {
		return nil, err
	}
	balance, err := b.state.BalanceOf(lenderBytes, symbol)
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}
	open, err := b.state.LendbookOpenListings()
	if err != nil {
		return nil, err
	}
	id, err := b.state.LendbookNextListingID()
	if err != nil {
		return nil, err
	}
	listing := &Listing{
		ID:              id,
		Lender:          append([]byte(nil), lenderBytes...),
		Symbol:          symbol,
		Amount:          new(big.Int).Set(amount),
		MinRateBps:      minRateBps,
		MaxDurationSecs: maxDurationSecs,
		CreatedAt:       b.now(),
		Status:          ListingStatusOpen,
	}

	if err := b.state.Debit(lenderBytes, symbol, amount); err != nil {
		return nil, err
	}
	if err := b.state.Credit(b.vault.Bytes(), symbol, amount); err != nil {
		return nil, err
	}

	if err := b.state.LendbookPutListing(listing); err != nil {
		return nil, err
	}
	if err := b.state.LendbookPutOpenListings(append(open, id)); err != nil {
		return nil, err
	}
	b.emit(NewListedEvent(listing))
	return listing.Clone(), nil
}

// Cancel withdraws an open offer and refunds its escrow to the lender. Only
// the posting account may cancel.
func (b *Book) Cancel(lender crypto.Address, id uint64) (*Listing, error) {
	if b == nil || b.state == nil {
		return nil, ErrNilState
	}
	if err := b.guard(PauseCancel); err != nil {
		return nil, err
	}
	lenderBytes := lender.Bytes()

	release, err := b.acquire(lockOpenSet, lockListing(id), lockUser(lenderBytes))
	if err != nil {
		return nil, err
	}
	defer release()

	listing, ok, err := b.state.LendbookGetListing(id)
	if err != nil {
		return nil, err
	}
	if !ok || listing == nil {
		return nil, ErrListingNotFound
	}
	listing.EnsureDefaults()
	if listing.Status != ListingStatusOpen {
		return nil, ErrListingNotOpen
	}
	if !bytes.Equal(listing.Lender, lenderBytes) {
		return nil, ErrNotListingOwner
	}
	open, err := b.state.LendbookOpenListings()
	if err != nil {
		return nil, err
	}

	if err := b.state.Debit(b.vault.Bytes(), listing.Symbol, listing.Amount); err != nil {
		return nil, err
	}
	if err := b.state.Credit(lenderBytes, listing.Symbol, listing.Amount); err != nil {
		return nil, err
	}

	listing.Status = ListingStatusCancelled
	if err := b.state.LendbookPutListing(listing); err != nil {
		return nil, err
	}
	if err := b.removeOpen(open, id); err != nil {
		return nil, err
	}
	b.emit(NewCancelledEvent(listing))
	return listing.Clone(), nil
}

// eligible reports whether a listing can fill the ask.
func eligible(listing *Listing, symbol string, ask Ask, borrowerBytes []byte) bool {
	if listing == nil || listing.Status != ListingStatusOpen {
		return false
	}
	if listing.Symbol != symbol {
		return false
	}
	if listing.Amount == nil || listing.Amount.Cmp(ask.Amount) < 0 {
		return false
	}
	if listing.MinRateBps > ask.MaxRateBps {
		return false
	}
	if listing.MaxDurationSecs > 0 && ask.DurationSecs > listing.MaxDurationSecs {
		return false
	}
	if bytes.Equal(listing.Lender, borrowerBytes) {
		return false
	}
	return true
}

// Match settles a borrower's ask against the best open offer: the lowest
// acceptable rate floor wins and ties go to the oldest listing. The full
// escrowed amount deposits into the pool for the listing's lender and the
// borrower's loan opens against it in the same atomic step, so a failed
// health or collateral check leaves both the book and the pool untouched.
func (b *Book) Match(borrower crypto.Address, ask Ask) (*MatchResult, error) {
	if b == nil || b.state == nil {
		return nil, ErrNilState
	}
	if b.engine == nil {
		return nil, ErrNilEngine
	}
	if err := b.guard(PauseMatch); err != nil {
		return nil, err
	}
	if ask.Amount == nil || ask.Amount.Sign() <= 0 {
		return nil, ErrInvalidAsk
	}
	if ask.DurationSecs == 0 {
		return nil, ErrInvalidAsk
	}
	if len(ask.Collaterals) == 0 {
		return nil, ErrInvalidAsk
	}
	symbol := lending.NormalizeSymbol(ask.Symbol)
	if symbol == "" {
		return nil, ErrInvalidAsk
	}
	borrowerBytes := borrower.Bytes()

	release, err := b.acquire(lockOpenSet, lockUser(borrowerBytes))
	if err != nil {
		return nil, err
	}
	defer release()

	open, err := b.state.LendbookOpenListings()
	if err != nil {
		return nil, err
	}
	var best *Listing
	for _, id := range open {
		listing, ok, err := b.state.LendbookGetListing(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		listing.EnsureDefaults()
		if !eligible(listing, symbol, ask, borrowerBytes) {
			continue
		}
		if best == nil || listing.MinRateBps < best.MinRateBps ||
			(listing.MinRateBps == best.MinRateBps && listing.ID < best.ID) {
			best = listing
		}
	}
	if best == nil {
		return nil, ErrNoMatch
	}
	lenderAddr, err := crypto.NewAddress(crypto.LendPrefix, best.Lender)
	if err != nil {
		return nil, fmt.Errorf("lendbook: listing %d lender: %w", best.ID, err)
	}

	shares, loan, err := b.engine.SettleFunding(lending.FundingOrder{
		Escrow:        b.vault,
		Lender:        lenderAddr,
		Borrower:      borrower,
		Symbol:        symbol,
		DepositAmount: best.Amount,
		BorrowAmount:  ask.Amount,
		Collaterals:   ask.Collaterals,
		Duration:      ask.DurationSecs,
	})
	if err != nil {
		return nil, err
	}

	best.Status = ListingStatusMatched
	best.MatchedRateBps = loan.InterestRateBps
	if best.MinRateBps > best.MatchedRateBps {
		best.MatchedRateBps = best.MinRateBps
	}
	best.MatchedLoanID = loan.ID
	best.MatchedAt = b.now()
	if err := b.state.LendbookPutListing(best); err != nil {
		return nil, err
	}
	if err := b.removeOpen(open, best.ID); err != nil {
		return nil, err
	}
	b.emit(NewMatchedEvent(best, loan))
	return &MatchResult{Listing: best.Clone(), Loan: loan, LenderShares: shares}, nil
}

// ListingFor returns one listing by id.
func (b *Book) ListingFor(id uint64) (*Listing, error) {
	if b == nil || b.state == nil {
		return nil, ErrNilState
	}
	listing, ok, err := b.state.LendbookGetListing(id)
	if err != nil {
		return nil, err
	}
	if !ok || listing == nil {
		return nil, ErrListingNotFound
	}
	listing.EnsureDefaults()
	return listing, nil
}

// OpenListings returns every open offer in match priority order: ascending
// rate floor, oldest first within a floor.
func (b *Book) OpenListings() ([]*Listing, error) {
	if b == nil || b.state == nil {
		return nil, ErrNilState
	}
	ids, err := b.state.LendbookOpenListings()
	if err != nil {
		return nil, err
	}
	listings := make([]*Listing, 0, len(ids))
	for _, id := range ids {
		listing, ok, err := b.state.LendbookGetListing(id)
		if err != nil {
			return nil, err
		}
		if !ok || listing == nil || listing.Status != ListingStatusOpen {
			continue
		}
		listing.EnsureDefaults()
		listings = append(listings, listing)
	}
	sort.Slice(listings, func(i, j int) bool {
		if listings[i].MinRateBps != listings[j].MinRateBps {
			return listings[i].MinRateBps < listings[j].MinRateBps
		}
		return listings[i].ID < listings[j].ID
	})
	return listings, nil
}
