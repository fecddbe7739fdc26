package rpc

import (
	"encoding/json"
	"net/http"

	"lendpool/native/oracle"
)

type oracleSetPriceParams struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Decimals  uint8  `json:"decimals"`
	UpdatedAt uint64 `json:"updatedAt,omitempty"`
}

func (s *Server) handleOracleSetPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params oracleSetPriceParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid price", err.Error())
		return
	}
	if err := s.node.OracleSetPrice(params.Symbol, price, params.Decimals, params.UpdatedAt); err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	quote, err := s.node.OracleQuote(params.Symbol)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, NewQuoteResult(oracle.NormalizeSymbol(params.Symbol), quote))
}

func (s *Server) handleOracleGetQuote(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	symbol, ok := parseSymbolParam(w, req)
	if !ok {
		return
	}
	quote, err := s.node.OracleQuote(symbol)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, NewQuoteResult(oracle.NormalizeSymbol(symbol), quote))
}

func (s *Server) handleOracleSymbols(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	writeResult(w, req.ID, s.node.OracleSymbols())
}
