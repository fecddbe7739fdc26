package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"lendpool/crypto"
	"lendpool/native/lending"
)

type lendingAmountParams struct {
	From   string `json:"from"`
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

type lendingFlagParams struct {
	From    string `json:"from"`
	Symbol  string `json:"symbol"`
	Enabled bool   `json:"enabled"`
}

type lendingBorrowParams struct {
	Borrower     string                  `json:"borrower"`
	Symbol       string                  `json:"symbol"`
	Amount       string                  `json:"amount"`
	DurationSecs uint64                  `json:"durationSecs,omitempty"`
	Collaterals  []collateralValueParams `json:"collaterals"`
}

type collateralValueParams struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

type lendingRepayParams struct {
	From   string `json:"from"`
	LoanID uint64 `json:"loanId"`
	Amount string `json:"amount"`
}

type lendingLiquidateParams struct {
	Liquidator string `json:"liquidator"`
	LoanID     uint64 `json:"loanId"`
}

type lendingAccountParams struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol,omitempty"`
}

type lendingLoanParams struct {
	LoanID uint64 `json:"loanId"`
}

type lendingSymbolParams struct {
	Symbol string `json:"symbol"`
}

type lendingDepositResult struct {
	Symbol       string `json:"symbol"`
	SharesMinted string `json:"sharesMinted"`
}

type lendingWithdrawResult struct {
	Symbol         string `json:"symbol"`
	AmountReturned string `json:"amountReturned"`
}

type lendingRepayResult struct {
	LoanID  uint64 `json:"loanId"`
	Applied string `json:"applied"`
	Status  string `json:"status"`
}

type lendingLiquidateResult struct {
	Loan       LoanResult         `json:"loan"`
	Liquidator string             `json:"liquidator"`
	DebtRepaid string             `json:"debtRepaid"`
	Seized     []CollateralResult `json:"seized"`
	Shortfall  string             `json:"shortfall,omitempty"`
}

type lendingHealthResult struct {
	Address         string `json:"address"`
	HealthFactorBps string `json:"healthFactorBps"`
}

type lendingLoanDebtResult struct {
	LoanID uint64 `json:"loanId"`
	Debt   string `json:"debt"`
}

type lendingLiquidatableResult struct {
	LoanID       uint64 `json:"loanId"`
	Liquidatable bool   `json:"liquidatable"`
}

type lendingFeeBalanceResult struct {
	Symbol      string `json:"symbol"`
	Claimable   string `json:"claimable"`
	Cumulative  string `json:"cumulative"`
	LastAccrual uint64 `json:"lastAccrual"`
}

// parseAmountParams decodes the shared {from, symbol, amount} shape.
func parseAmountParams(w http.ResponseWriter, req *RPCRequest) (crypto.Address, string, *big.Int, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return crypto.Address{}, "", nil, false
	}
	var params lendingAmountParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return crypto.Address{}, "", nil, false
	}
	addr, err := decodeBech32(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return crypto.Address{}, "", nil, false
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return crypto.Address{}, "", nil, false
	}
	return addr, params.Symbol, amount, true
}

func (s *Server) handleLendingDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, symbol, amount, ok := parseAmountParams(w, req)
	if !ok {
		return
	}
	shares, err := s.node.LendingDeposit(addr, symbol, amount)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, lendingDepositResult{
		Symbol:       lending.NormalizeSymbol(symbol),
		SharesMinted: bigString(shares),
	})
}

func (s *Server) handleLendingWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, symbol, amount, ok := parseAmountParams(w, req)
	if !ok {
		return
	}
	returned, err := s.node.LendingWithdraw(addr, symbol, amount)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, lendingWithdrawResult{
		Symbol:         lending.NormalizeSymbol(symbol),
		AmountReturned: bigString(returned),
	})
}

func (s *Server) handleLendingDepositCollateral(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, symbol, amount, ok := parseAmountParams(w, req)
	if !ok {
		return
	}
	if err := s.node.LendingDepositCollateral(addr, symbol, amount); err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	s.writePosition(w, req, addr, symbol)
}

func (s *Server) handleLendingWithdrawCollateral(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, symbol, amount, ok := parseAmountParams(w, req)
	if !ok {
		return
	}
	if err := s.node.LendingWithdrawCollateral(addr, symbol, amount); err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	s.writePosition(w, req, addr, symbol)
}

func (s *Server) handleLendingSetCollateralFlag(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params lendingFlagParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	addr, err := decodeBech32(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	if err := s.node.LendingSetCollateralFlag(addr, params.Symbol, params.Enabled); err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	s.writePosition(w, req, addr, params.Symbol)
}

// writePosition answers position-mutating calls with the fresh position.
func (s *Server) writePosition(w http.ResponseWriter, req *RPCRequest, addr crypto.Address, symbol string) {
	position, err := s.node.LendingPosition(addr, symbol)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, NewPositionResult(position))
}

func (s *Server) handleLendingBorrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params lendingBorrowParams
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
	loan, err := s.node.LendingBorrow(borrower, params.Symbol, amount, collaterals, params.DurationSecs)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, NewLoanResult(loan))
}

func parseCollaterals(raw []collateralValueParams) ([]lending.CollateralSpec, error) {
	specs := make([]lending.CollateralSpec, 0, len(raw))
	for _, entry := range raw {
		amount, err := parseAmount(entry.Amount)
		if err != nil {
			return nil, err
		}
		specs = append(specs, lending.CollateralSpec{
			Symbol: strings.TrimSpace(entry.Symbol),
			Amount: amount,
		})
	}
	return specs, nil
}

func (s *Server) handleLendingRepay(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params lendingRepayParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	payer, err := decodeBech32(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	applied, err := s.node.LendingRepay(payer, params.LoanID, amount)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	loan, err := s.node.LendingLoan(params.LoanID)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, lendingRepayResult{
		LoanID:  params.LoanID,
		Applied: bigString(applied),
		Status:  loan.Status.String(),
	})
}

func (s *Server) handleLendingLiquidate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params lendingLiquidateParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	liquidator, err := decodeBech32(params.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid liquidator", err.Error())
		return
	}
	result, err := s.node.LendingLiquidate(liquidator, params.LoanID)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	seized := make([]CollateralResult, 0, len(result.Seized))
	for _, entry := range result.Seized {
		seized = append(seized, CollateralResult{Symbol: entry.Symbol, Amount: bigString(entry.Amount)})
	}
	out := lendingLiquidateResult{
		Loan:       NewLoanResult(result.Loan),
		Liquidator: formatAddress(result.Liquidator),
		DebtRepaid: bigString(result.DebtRepaid),
		Seized:     seized,
	}
	if result.Shortfall != nil && result.Shortfall.Sign() > 0 {
		out.Shortfall = result.Shortfall.String()
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleLendingGetMarket(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	symbol, ok := parseSymbolParam(w, req)
	if !ok {
		return
	}
	snapshot, err := s.node.LendingReserve(symbol)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, NewMarketResult(snapshot, s.tokenConfigFor(snapshot.Reserve.Symbol)))
}

func (s *Server) handleLendingGetMarkets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	snapshots, err := s.node.LendingReserves()
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	markets := make([]MarketResult, 0, len(snapshots))
	for _, snapshot := range snapshots {
		markets = append(markets, NewMarketResult(snapshot, s.tokenConfigFor(snapshot.Reserve.Symbol)))
	}
	writeResult(w, req.ID, markets)
}

func (s *Server) tokenConfigFor(symbol string) *lending.TokenConfig {
	tokens, err := s.node.LendingTokens()
	if err != nil {
		return nil
	}
	for _, cfg := range tokens {
		if cfg.Symbol == symbol {
			return cfg
		}
	}
	return nil
}

func (s *Server) handleLendingGetPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, symbol, ok := parseAccountParams(w, req, true)
	if !ok {
		return
	}
	position, err := s.node.LendingPosition(addr, symbol)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, NewPositionResult(position))
}

func (s *Server) handleLendingGetPositions(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, _, ok := parseAccountParams(w, req, false)
	if !ok {
		return
	}
	positions, err := s.node.LendingPositions(addr)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	results := make([]PositionResult, 0, len(positions))
	for _, position := range positions {
		results = append(results, NewPositionResult(position))
	}
	writeResult(w, req.ID, results)
}

func parseAccountParams(w http.ResponseWriter, req *RPCRequest, requireSymbol bool) (crypto.Address, string, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return crypto.Address{}, "", false
	}
	var params lendingAccountParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return crypto.Address{}, "", false
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return crypto.Address{}, "", false
	}
	if requireSymbol && strings.TrimSpace(params.Symbol) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "symbol required", nil)
		return crypto.Address{}, "", false
	}
	return addr, params.Symbol, true
}

func parseSymbolParam(w http.ResponseWriter, req *RPCRequest) (string, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected symbol parameter", nil)
		return "", false
	}
	var symbol string
	if err := json.Unmarshal(req.Params[0], &symbol); err != nil {
		var params lendingSymbolParams
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid symbol parameter", err.Error())
			return "", false
		}
		symbol = params.Symbol
	}
	if strings.TrimSpace(symbol) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "symbol required", nil)
		return "", false
	}
	return symbol, true
}

func parseLoanParam(w http.ResponseWriter, req *RPCRequest) (uint64, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected loan parameter", nil)
		return 0, false
	}
	var id uint64
	if err := json.Unmarshal(req.Params[0], &id); err != nil {
		var params lendingLoanParams
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid loan parameter", err.Error())
			return 0, false
		}
		id = params.LoanID
	}
	if id == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "loanId required", nil)
		return 0, false
	}
	return id, true
}

func (s *Server) handleLendingGetLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	id, ok := parseLoanParam(w, req)
	if !ok {
		return
	}
	loan, err := s.node.LendingLoan(id)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, NewLoanResult(loan))
}

func (s *Server) handleLendingGetLoans(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, _, ok := parseAccountParams(w, req, false)
	if !ok {
		return
	}
	loans, err := s.node.LendingLoans(addr)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	results := make([]LoanResult, 0, len(loans))
	for _, loan := range loans {
		results = append(results, NewLoanResult(loan))
	}
	writeResult(w, req.ID, results)
}

func (s *Server) handleLendingLoanDebt(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	id, ok := parseLoanParam(w, req)
	if !ok {
		return
	}
	debt, err := s.node.LendingLoanDebt(id)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, lendingLoanDebtResult{LoanID: id, Debt: bigString(debt)})
}

func (s *Server) handleLendingLiquidatable(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	id, ok := parseLoanParam(w, req)
	if !ok {
		return
	}
	eligible, err := s.node.LendingLiquidatable(id)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, lendingLiquidatableResult{LoanID: id, Liquidatable: eligible})
}

func (s *Server) handleLendingHealth(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, _, ok := parseAccountParams(w, req, false)
	if !ok {
		return
	}
	health, err := s.node.LendingAccountHealth(addr)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, lendingHealthResult{
		Address:         addr.String(),
		HealthFactorBps: bigString(health),
	})
}

func (s *Server) handleLendingFeeBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	symbol, ok := parseSymbolParam(w, req)
	if !ok {
		return
	}
	claimable, accrual, err := s.node.LendingFeeBalance(symbol)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, lendingFeeBalanceResult{
		Symbol:      lending.NormalizeSymbol(symbol),
		Claimable:   bigString(claimable),
		Cumulative:  bigString(accrual.CumulativeAmount),
		LastAccrual: accrual.LastAccrual,
	})
}
