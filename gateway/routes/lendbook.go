package routes

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"lendpool/core"
	"lendpool/native/lendbook"
	"lendpool/rpc"
)

// lendbookRoutes exposes the peer-to-peer order book.
type lendbookRoutes struct {
	node *core.Node
}

func newLendbookRoutes(node *core.Node) *lendbookRoutes {
	return &lendbookRoutes{node: node}
}

func (br *lendbookRoutes) mountReads(r chi.Router) {
	r.Get("/lendbook/listings", br.listOpen)
	r.Get("/lendbook/listings/{id}", br.getListing)
}

func (br *lendbookRoutes) mountWrites(r chi.Router) {
	r.Post("/lendbook/list", br.createListing)
	r.Post("/lendbook/cancel", br.cancelListing)
	r.Post("/lendbook/match", br.matchAsk)
}

func (br *lendbookRoutes) listOpen(w http.ResponseWriter, _ *http.Request) {
	listings, err := br.node.LendbookOpenListings()
	if err != nil {
		writeNodeError(w, err)
		return
	}
	results := make([]rpc.ListingResult, 0, len(listings))
	for _, listing := range listings {
		results = append(results, rpc.NewListingResult(listing))
	}
	writeJSON(w, http.StatusOK, results)
}

func (br *lendbookRoutes) getListing(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	listing, err := br.node.LendbookListing(id)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.NewListingResult(listing))
}

type listRequest struct {
	Lender          string `json:"lender"`
	Symbol          string `json:"symbol"`
	Amount          string `json:"amount"`
	MinRateBps      uint64 `json:"minRateBps"`
	MaxDurationSecs uint64 `json:"maxDurationSecs,omitempty"`
}

func (br *lendbookRoutes) createListing(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	lender, err := parseAddress(req.Lender)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	listing, err := br.node.LendbookList(lender, strings.TrimSpace(req.Symbol), amount, req.MinRateBps, req.MaxDurationSecs)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.NewListingResult(listing))
}

type cancelRequest struct {
	Lender    string `json:"lender"`
	ListingID uint64 `json:"listingId"`
}

func (br *lendbookRoutes) cancelListing(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	lender, err := parseAddress(req.Lender)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	listing, err := br.node.LendbookCancel(lender, req.ListingID)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.NewListingResult(listing))
}

type matchRequest struct {
	Borrower     string              `json:"borrower"`
	Symbol       string              `json:"symbol"`
	Amount       string              `json:"amount"`
	MaxRateBps   uint64              `json:"maxRateBps"`
	DurationSecs uint64              `json:"durationSecs"`
	Collaterals  []collateralPayload `json:"collaterals"`
}

type matchResponse struct {
	Listing      rpc.ListingResult `json:"listing"`
	Loan         rpc.LoanResult    `json:"loan"`
	LenderShares string            `json:"lenderShares"`
}

func (br *lendbookRoutes) matchAsk(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	borrower, err := parseAddress(req.Borrower)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	collaterals, err := parseCollaterals(req.Collaterals)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	match, err := br.node.LendbookMatch(borrower, lendbook.Ask{
		Symbol:       strings.TrimSpace(req.Symbol),
		Amount:       amount,
		MaxRateBps:   req.MaxRateBps,
		DurationSecs: req.DurationSecs,
		Collaterals:  collaterals,
	})
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matchResponse{
		Listing:      rpc.NewListingResult(match.Listing),
		Loan:         rpc.NewLoanResult(match.Loan),
		LenderShares: bigString(match.LenderShares),
	})
}
