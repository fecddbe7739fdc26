package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"

	"lendpool/native/lending"
)

type transferParams struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

type mintParams struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Amount  string `json:"amount"`
}

type tokenParams struct {
	Symbol                  string `json:"symbol"`
	Decimals                uint8  `json:"decimals"`
	LtvBps                  uint64 `json:"ltvBps"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	LiquidationBonusBps     uint64 `json:"liquidationBonusBps"`
	ReserveFactorBps        uint64 `json:"reserveFactorBps"`
	BorrowCap               string `json:"borrowCap,omitempty"`
	BaseRateBps             uint64 `json:"baseRateBps"`
	Slope1Bps               uint64 `json:"slope1Bps"`
	Slope2Bps               uint64 `json:"slope2Bps"`
	KinkBps                 uint64 `json:"kinkBps"`
	IsActive                bool   `json:"isActive"`
	IsLoanable              bool   `json:"isLoanable"`
}

type withdrawFeesParams struct {
	Authority string `json:"authority"`
	Symbol    string `json:"symbol"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount,omitempty"`
}

type withdrawFeesResult struct {
	Symbol    string `json:"symbol"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type pauseParams struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type pausesResult struct {
	Paused []string `json:"paused"`
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, symbol, ok := parseAccountParams(w, req, true)
	if !ok {
		return
	}
	balance, err := s.node.BalanceOf(addr, symbol)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceResult{
		Address: addr.String(),
		Symbol:  lending.NormalizeSymbol(symbol),
		Amount:  bigString(balance),
	})
}

func (s *Server) handleTransfer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params transferParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	from, err := decodeBech32(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	to, err := decodeBech32(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid to address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := s.node.Transfer(from, to, params.Symbol, amount); err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	balance, err := s.node.BalanceOf(from, params.Symbol)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceResult{
		Address: from.String(),
		Symbol:  lending.NormalizeSymbol(params.Symbol),
		Amount:  bigString(balance),
	})
}

func (s *Server) handleAdminMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params mintParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := s.node.Mint(addr, params.Symbol, amount); err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	balance, err := s.node.BalanceOf(addr, params.Symbol)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceResult{
		Address: addr.String(),
		Symbol:  lending.NormalizeSymbol(params.Symbol),
		Amount:  bigString(balance),
	})
}

func tokenConfigFromParams(params tokenParams) (*lending.TokenConfig, error) {
	cfg := &lending.TokenConfig{
		Symbol:                  params.Symbol,
		Decimals:                params.Decimals,
		LtvBps:                  params.LtvBps,
		LiquidationThresholdBps: params.LiquidationThresholdBps,
		LiquidationBonusBps:     params.LiquidationBonusBps,
		ReserveFactorBps:        params.ReserveFactorBps,
		Interest: lending.InterestModel{
			BaseRateBps: params.BaseRateBps,
			Slope1Bps:   params.Slope1Bps,
			Slope2Bps:   params.Slope2Bps,
			KinkBps:     params.KinkBps,
		},
		IsActive:   params.IsActive,
		IsLoanable: params.IsLoanable,
	}
	if params.BorrowCap != "" {
		borrowCap, err := parseAmount(params.BorrowCap)
		if err != nil {
			return nil, err
		}
		cfg.BorrowCap = borrowCap
	}
	return cfg, nil
}

func (s *Server) handleAdminListToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	cfg, ok := parseTokenParams(w, req)
	if !ok {
		return
	}
	if err := s.node.LendingListToken(cfg); err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, NewTokenResult(cfg))
}

func (s *Server) handleAdminUpdateToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	cfg, ok := parseTokenParams(w, req)
	if !ok {
		return
	}
	if err := s.node.LendingUpdateToken(cfg); err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, NewTokenResult(cfg))
}

func parseTokenParams(w http.ResponseWriter, req *RPCRequest) (*lending.TokenConfig, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return nil, false
	}
	var params tokenParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return nil, false
	}
	cfg, err := tokenConfigFromParams(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrowCap", err.Error())
		return nil, false
	}
	return cfg, true
}

func (s *Server) handleAdminWithdrawFees(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params withdrawFeesParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	authority, err := decodeBech32(params.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid authority", err.Error())
		return
	}
	recipient, err := decodeBech32(params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid recipient", err.Error())
		return
	}
	// An omitted amount withdraws the full claimable balance.
	amount := big.NewInt(0)
	if params.Amount != "" {
		parsed, err := parseAmount(params.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
			return
		}
		amount = parsed
	}
	withdrawn, err := s.node.LendingWithdrawFees(authority, params.Symbol, recipient, amount)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, withdrawFeesResult{
		Symbol:    lending.NormalizeSymbol(params.Symbol),
		Recipient: recipient.String(),
		Amount:    bigString(withdrawn),
	})
}

func (s *Server) handleAdminPause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params pauseParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	if params.Module == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "module required", nil)
		return
	}
	if err := s.node.SetPaused(params.Module, params.Paused); err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, pausesResult{Paused: s.node.PausedModules()})
}

func (s *Server) handleAdminPauses(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	writeResult(w, req.ID, pausesResult{Paused: s.node.PausedModules()})
}
