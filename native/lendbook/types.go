package lendbook

import (
	"math/big"

	"lendpool/native/lending"
)

// ListingStatus tracks the lifecycle of a posted offer.
type ListingStatus uint8

const (
	ListingStatusNone ListingStatus = iota
	ListingStatusOpen
	ListingStatusMatched
	ListingStatusCancelled
)

// Valid reports whether the status is a known lifecycle state.
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingStatusNone, ListingStatusOpen, ListingStatusMatched, ListingStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further transitions.
func (s ListingStatus) Terminal() bool {
	switch s {
	case ListingStatusMatched, ListingStatusCancelled:
		return true
	default:
		return false
	}
}

func (s ListingStatus) String() string {
	switch s {
	case ListingStatusNone:
		return "none"
	case ListingStatusOpen:
		return "open"
	case ListingStatusMatched:
		return "matched"
	case ListingStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Listing is a lender's standing offer. The posted funds sit in the book's
// escrow vault until the listing is matched, at which point they deposit into
// the pool on the lender's behalf, or cancelled, at which point they return.
type Listing struct {
	// ID is the sequential listing identifier.
	ID uint64
	// Lender is the raw 20-byte account that posted the offer.
	Lender []byte
	// Symbol identifies the offered asset.
	Symbol string
	// Amount is the escrowed underlying backing the offer.
	Amount *big.Int
	// MinRateBps is the lowest borrow rate the lender accepts.
	MinRateBps uint64
	// MaxDurationSecs caps the term of a matched loan. Zero leaves it open.
	MaxDurationSecs uint64
	// CreatedAt is the posting time in unix seconds. Older listings win
	// rate ties at match time.
	CreatedAt uint64
	// Status is the lifecycle state. Terminal states are immutable.
	Status ListingStatus
	// MatchedRateBps records the fixed rate floor agreed at match time. The
	// funded loan still accrues against the pool index.
	MatchedRateBps uint64
	// MatchedLoanID references the loan a match opened.
	MatchedLoanID uint64
	// MatchedAt is the settlement time in unix seconds.
	MatchedAt uint64
}

// EnsureDefaults populates nil amounts.
func (l *Listing) EnsureDefaults() {
	if l == nil {
		return
	}
	if l.Amount == nil {
		l.Amount = big.NewInt(0)
	}
}

// Clone returns a deep copy of the listing.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Lender = append([]byte(nil), l.Lender...)
	if l.Amount != nil {
		clone.Amount = new(big.Int).Set(l.Amount)
	}
	return &clone
}

// Ask is a borrower's request for matched funding. It never persists; the
// book resolves it against open listings and settles immediately or fails.
type Ask struct {
	// Symbol identifies the asset the borrower wants.
	Symbol string
	// Amount is the requested principal.
	Amount *big.Int
	// MaxRateBps is the highest rate floor the borrower accepts.
	MaxRateBps uint64
	// DurationSecs is the requested term. Matched loans always carry one.
	DurationSecs uint64
	// Collaterals backs the funded loan.
	Collaterals []lending.CollateralSpec
}

// MatchResult reports a settled fill: the consumed listing, the opened loan
// and the deposit shares minted for the listing's lender.
type MatchResult struct {
	Listing      *Listing
	Loan         *lending.Loan
	LenderShares *big.Int
}
