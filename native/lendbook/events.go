package lendbook

import (
	"encoding/hex"
	"strconv"

	"lendpool/core/types"
	"lendpool/native/lending"
)

const (
	EventTypeListed    = "lendbook.listed"
	EventTypeCancelled = "lendbook.cancelled"
	EventTypeMatched   = "lendbook.matched"
)

// bookEvent adapts the canonical payload to the emitter interface.
type bookEvent struct {
	evt *types.Event
}

func (e bookEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e bookEvent) EventAttributes() map[string]string {
	if e.evt == nil {
		return nil
	}
	return e.evt.Attributes
}

func (e bookEvent) Event() *types.Event { return e.evt }

func listingAttributes(listing *Listing) map[string]string {
	attrs := make(map[string]string)
	if listing == nil {
		return attrs
	}
	attrs["listingId"] = strconv.FormatUint(listing.ID, 10)
	attrs["lender"] = hex.EncodeToString(listing.Lender)
	attrs["symbol"] = listing.Symbol
	if listing.Amount != nil {
		attrs["amount"] = listing.Amount.String()
	} else {
		attrs["amount"] = "0"
	}
	attrs["minRateBps"] = strconv.FormatUint(listing.MinRateBps, 10)
	attrs["status"] = listing.Status.String()
	if listing.MaxDurationSecs > 0 {
		attrs["maxDurationSecs"] = strconv.FormatUint(listing.MaxDurationSecs, 10)
	}
	return attrs
}

// NewListedEvent reports a freshly posted offer.
func NewListedEvent(listing *Listing) *types.Event {
	return &types.Event{Type: EventTypeListed, Attributes: listingAttributes(listing)}
}

// NewCancelledEvent reports an offer withdrawn with its escrow refunded.
func NewCancelledEvent(listing *Listing) *types.Event {
	return &types.Event{Type: EventTypeCancelled, Attributes: listingAttributes(listing)}
}

// NewMatchedEvent reports a settled fill linking the listing to its loan.
func NewMatchedEvent(listing *Listing, loan *lending.Loan) *types.Event {
	attrs := listingAttributes(listing)
	if listing != nil {
		attrs["matchedRateBps"] = strconv.FormatUint(listing.MatchedRateBps, 10)
	}
	if loan != nil {
		attrs["loanId"] = strconv.FormatUint(loan.ID, 10)
		attrs["borrower"] = hex.EncodeToString(loan.Borrower)
		attrs["dueAt"] = strconv.FormatUint(loan.DueAt, 10)
	}
	return &types.Event{Type: EventTypeMatched, Attributes: attrs}
}
