package rpc

import (
	"encoding/json"
	"net/http"

	"lendpool/native/lendbook"
)

type lendbookListParams struct {
	Lender          string `json:"lender"`
	Symbol          string `json:"symbol"`
	Amount          string `json:"amount"`
	MinRateBps      uint64 `json:"minRateBps"`
	MaxDurationSecs uint64 `json:"maxDurationSecs,omitempty"`
}

type lendbookCancelParams struct {
	Lender    string `json:"lender"`
	ListingID uint64 `json:"listingId"`
}

type lendbookMatchParams struct {
	Borrower     string                  `json:"borrower"`
	Symbol       string                  `json:"symbol"`
	Amount       string                  `json:"amount"`
	MaxRateBps   uint64                  `json:"maxRateBps"`
	DurationSecs uint64                  `json:"durationSecs"`
	Collaterals  []collateralValueParams `json:"collaterals"`
}

type lendbookGetParams struct {
	ListingID uint64 `json:"listingId"`
}

type lendbookMatchResult struct {
	Listing      ListingResult `json:"listing"`
	Loan         LoanResult    `json:"loan"`
	LenderShares string        `json:"lenderShares"`
}

func (s *Server) handleLendbookList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params lendbookListParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	lender, err := decodeBech32(params.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid lender", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	listing, err := s.node.LendbookList(lender, params.Symbol, amount, params.MinRateBps, params.MaxDurationSecs)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, NewListingResult(listing))
}

func (s *Server) handleLendbookCancel(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params lendbookCancelParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	lender, err := decodeBech32(params.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid lender", err.Error())
		return
	}
	if params.ListingID == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "listingId required", nil)
		return
	}
	listing, err := s.node.LendbookCancel(lender, params.ListingID)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, NewListingResult(listing))
}

func (s *Server) handleLendbookMatch(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params lendbookMatchParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	borrower, err := decodeBech32(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	collaterals, err := parseCollaterals(params.Collaterals)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid collaterals", err.Error())
		return
	}
	ask := lendbook.Ask{
		Symbol:       params.Symbol,
		Amount:       amount,
		MaxRateBps:   params.MaxRateBps,
		DurationSecs: params.DurationSecs,
		Collaterals:  collaterals,
	}
	match, err := s.node.LendbookMatch(borrower, ask)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, lendbookMatchResult{
		Listing:      NewListingResult(match.Listing),
		Loan:         NewLoanResult(match.Loan),
		LenderShares: bigString(match.LenderShares),
	})
}

func (s *Server) handleLendbookGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected listing parameter", nil)
		return
	}
	var id uint64
	if err := json.Unmarshal(req.Params[0], &id); err != nil {
		var params lendbookGetParams
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid listing parameter", err.Error())
			return
		}
		id = params.ListingID
	}
	if id == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "listingId required", nil)
		return
	}
	listing, err := s.node.LendbookListing(id)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, NewListingResult(listing))
}

func (s *Server) handleLendbookOpen(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	listings, err := s.node.LendbookOpenListings()
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	results := make([]ListingResult, 0, len(listings))
	for _, listing := range listings {
		results = append(results, NewListingResult(listing))
	}
	writeResult(w, req.ID, results)
}
