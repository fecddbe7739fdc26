package lendbook

import "errors"

// Book errors mirror the lending engine's taxonomy: validation failures,
// missing or terminal records and authorisation failures all surface before
// any state is written. Callers match with errors.Is.
var (
	ErrNilState            = errors.New("lendbook: state not configured")
	ErrNilEngine           = errors.New("lendbook: lending engine not configured")
	ErrInvalidListing      = errors.New("lendbook: invalid listing")
	ErrInvalidAsk          = errors.New("lendbook: invalid ask")
	ErrInsufficientBalance = errors.New("lendbook: insufficient balance")

	ErrListingNotFound = errors.New("lendbook: listing not found")
	ErrListingNotOpen  = errors.New("lendbook: listing not open")
	ErrNotListingOwner = errors.New("lendbook: caller does not own listing")
	ErrNoMatch         = errors.New("lendbook: no open listing satisfies ask")
)
