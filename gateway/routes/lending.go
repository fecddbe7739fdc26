package routes

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"lendpool/core"
	"lendpool/crypto"
	"lendpool/native/lending"
	"lendpool/rpc"
)

// lendingRoutes wires HTTP handlers to the in-process lending module.
type lendingRoutes struct {
	node *core.Node
}

func newLendingRoutes(node *core.Node) *lendingRoutes {
	return &lendingRoutes{node: node}
}

func (lr *lendingRoutes) mountReads(r chi.Router) {
	r.Get("/lending/markets", lr.listMarkets)
	r.Get("/lending/markets/{symbol}", lr.getMarket)
	r.Get("/lending/markets/{symbol}/fees", lr.getFees)
	r.Get("/lending/positions/{address}", lr.listPositions)
	r.Get("/lending/positions/{address}/{symbol}", lr.getPosition)
	r.Get("/lending/loans/{id}", lr.getLoan)
	r.Get("/lending/loans/{id}/debt", lr.getLoanDebt)
	r.Get("/lending/accounts/{address}/loans", lr.listLoans)
	r.Get("/lending/accounts/{address}/health", lr.getHealth)
}

func (lr *lendingRoutes) mountWrites(r chi.Router) {
	r.Post("/lending/supply", lr.supplyAsset)
	r.Post("/lending/withdraw", lr.withdrawAsset)
	r.Post("/lending/collateral/deposit", lr.depositCollateral)
	r.Post("/lending/collateral/withdraw", lr.withdrawCollateral)
	r.Post("/lending/collateral/flag", lr.setCollateralFlag)
	r.Post("/lending/borrow", lr.borrowAsset)
	r.Post("/lending/repay", lr.repayAsset)
	r.Post("/lending/liquidate", lr.liquidateLoan)
}

func (lr *lendingRoutes) listMarkets(w http.ResponseWriter, _ *http.Request) {
	snapshots, err := lr.node.LendingReserves()
	if err != nil {
		writeNodeError(w, err)
		return
	}
	markets := make([]rpc.MarketResult, 0, len(snapshots))
	for _, snapshot := range snapshots {
		markets = append(markets, rpc.NewMarketResult(snapshot, lr.tokenConfigFor(snapshot.Reserve.Symbol)))
	}
	writeJSON(w, http.StatusOK, markets)
}

func (lr *lendingRoutes) getMarket(w http.ResponseWriter, r *http.Request) {
	symbol, ok := symbolParam(w, r)
	if !ok {
		return
	}
	snapshot, err := lr.node.LendingReserve(symbol)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.NewMarketResult(snapshot, lr.tokenConfigFor(snapshot.Reserve.Symbol)))
}

type feesResponse struct {
	Symbol      string `json:"symbol"`
	Claimable   string `json:"claimable"`
	Cumulative  string `json:"cumulative"`
	LastAccrual uint64 `json:"lastAccrual"`
}

func (lr *lendingRoutes) getFees(w http.ResponseWriter, r *http.Request) {
	symbol, ok := symbolParam(w, r)
	if !ok {
		return
	}
	claimable, accrual, err := lr.node.LendingFeeBalance(symbol)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feesResponse{
		Symbol:      symbol,
		Claimable:   bigString(claimable),
		Cumulative:  bigString(accrual.CumulativeAmount),
		LastAccrual: accrual.LastAccrual,
	})
}

func (lr *lendingRoutes) listPositions(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	positions, err := lr.node.LendingPositions(addr)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	results := make([]rpc.PositionResult, 0, len(positions))
	for _, position := range positions {
		results = append(results, rpc.NewPositionResult(position))
	}
	writeJSON(w, http.StatusOK, results)
}

func (lr *lendingRoutes) getPosition(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	symbol, ok := symbolParam(w, r)
	if !ok {
		return
	}
	position, err := lr.node.LendingPosition(addr, symbol)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.NewPositionResult(position))
}

func (lr *lendingRoutes) getLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	loan, err := lr.node.LendingLoan(id)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.NewLoanResult(loan))
}

type loanDebtResponse struct {
	LoanID uint64 `json:"loanId"`
	Debt   string `json:"debt"`
}

func (lr *lendingRoutes) getLoanDebt(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	debt, err := lr.node.LendingLoanDebt(id)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanDebtResponse{LoanID: id, Debt: bigString(debt)})
}

func (lr *lendingRoutes) listLoans(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	loans, err := lr.node.LendingLoans(addr)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	results := make([]rpc.LoanResult, 0, len(loans))
	for _, loan := range loans {
		results = append(results, rpc.NewLoanResult(loan))
	}
	writeJSON(w, http.StatusOK, results)
}

type healthResponse struct {
	Address         string `json:"address"`
	HealthFactorBps string `json:"healthFactorBps"`
}

func (lr *lendingRoutes) getHealth(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	health, err := lr.node.LendingAccountHealth(addr)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Address:         addr.String(),
		HealthFactorBps: bigString(health),
	})
}

type amountRequest struct {
	From   string `json:"from"`
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

func (lr *lendingRoutes) parseAmountRequest(w http.ResponseWriter, r *http.Request) (crypto.Address, string, *big.Int, bool) {
	var req amountRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return crypto.Address{}, "", nil, false
	}
	addr, err := parseAddress(req.From)
	if err != nil {
		writeBadRequest(w, err)
		return crypto.Address{}, "", nil, false
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return crypto.Address{}, "", nil, false
	}
	return addr, strings.TrimSpace(req.Symbol), amount, true
}

type supplyResponse struct {
	Symbol       string `json:"symbol"`
	SharesMinted string `json:"sharesMinted"`
}

func (lr *lendingRoutes) supplyAsset(w http.ResponseWriter, r *http.Request) {
	addr, symbol, amount, ok := lr.parseAmountRequest(w, r)
	if !ok {
		return
	}
	minted, err := lr.node.LendingDeposit(addr, symbol, amount)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, supplyResponse{Symbol: symbol, SharesMinted: bigString(minted)})
}

type withdrawResponse struct {
	Symbol         string `json:"symbol"`
	AmountReturned string `json:"amountReturned"`
}

func (lr *lendingRoutes) withdrawAsset(w http.ResponseWriter, r *http.Request) {
	addr, symbol, amount, ok := lr.parseAmountRequest(w, r)
	if !ok {
		return
	}
	returned, err := lr.node.LendingWithdraw(addr, symbol, amount)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{Symbol: symbol, AmountReturned: bigString(returned)})
}

func (lr *lendingRoutes) depositCollateral(w http.ResponseWriter, r *http.Request) {
	addr, symbol, amount, ok := lr.parseAmountRequest(w, r)
	if !ok {
		return
	}
	if err := lr.node.LendingDepositCollateral(addr, symbol, amount); err != nil {
		writeNodeError(w, err)
		return
	}
	lr.writePosition(w, addr, symbol)
}

func (lr *lendingRoutes) withdrawCollateral(w http.ResponseWriter, r *http.Request) {
	addr, symbol, amount, ok := lr.parseAmountRequest(w, r)
	if !ok {
		return
	}
	if err := lr.node.LendingWithdrawCollateral(addr, symbol, amount); err != nil {
		writeNodeError(w, err)
		return
	}
	lr.writePosition(w, addr, symbol)
}

type collateralFlagRequest struct {
	From    string `json:"from"`
	Symbol  string `json:"symbol"`
	Enabled bool   `json:"enabled"`
}

func (lr *lendingRoutes) setCollateralFlag(w http.ResponseWriter, r *http.Request) {
	var req collateralFlagRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	addr, err := parseAddress(req.From)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	symbol := strings.TrimSpace(req.Symbol)
	if err := lr.node.LendingSetCollateralFlag(addr, symbol, req.Enabled); err != nil {
		writeNodeError(w, err)
		return
	}
	lr.writePosition(w, addr, symbol)
}

// writePosition answers position-mutating calls with the fresh position.
func (lr *lendingRoutes) writePosition(w http.ResponseWriter, addr crypto.Address, symbol string) {
	position, err := lr.node.LendingPosition(addr, symbol)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.NewPositionResult(position))
}

type borrowRequest struct {
	Borrower     string              `json:"borrower"`
	Symbol       string              `json:"symbol"`
	Amount       string              `json:"amount"`
	DurationSecs uint64              `json:"durationSecs,omitempty"`
	Collaterals  []collateralPayload `json:"collaterals"`
}

func (lr *lendingRoutes) borrowAsset(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
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
	loan, err := lr.node.LendingBorrow(borrower, strings.TrimSpace(req.Symbol), amount, collaterals, req.DurationSecs)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.NewLoanResult(loan))
}

type repayRequest struct {
	From   string `json:"from"`
	LoanID uint64 `json:"loanId"`
	Amount string `json:"amount"`
}

type repayResponse struct {
	LoanID  uint64 `json:"loanId"`
	Applied string `json:"applied"`
	Status  string `json:"status"`
}

func (lr *lendingRoutes) repayAsset(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	payer, err := parseAddress(req.From)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	applied, err := lr.node.LendingRepay(payer, req.LoanID, amount)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	loan, err := lr.node.LendingLoan(req.LoanID)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repayResponse{
		LoanID:  loan.ID,
		Applied: bigString(applied),
		Status:  loan.Status.String(),
	})
}

type liquidateRequest struct {
	Liquidator string `json:"liquidator"`
	LoanID     uint64 `json:"loanId"`
}

type liquidateResponse struct {
	Loan       rpc.LoanResult         `json:"loan"`
	Liquidator string                 `json:"liquidator"`
	DebtRepaid string                 `json:"debtRepaid"`
	Seized     []rpc.CollateralResult `json:"seized"`
	Shortfall  string                 `json:"shortfall,omitempty"`
}

func (lr *lendingRoutes) liquidateLoan(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	liquidator, err := parseAddress(req.Liquidator)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	result, err := lr.node.LendingLiquidate(liquidator, req.LoanID)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	seized := make([]rpc.CollateralResult, 0, len(result.Seized))
	for _, entry := range result.Seized {
		seized = append(seized, rpc.CollateralResult{Symbol: entry.Symbol, Amount: bigString(entry.Amount)})
	}
	out := liquidateResponse{
		Loan:       rpc.NewLoanResult(result.Loan),
		Liquidator: formatAddress(result.Liquidator),
		DebtRepaid: bigString(result.DebtRepaid),
		Seized:     seized,
	}
	if result.Shortfall != nil && result.Shortfall.Sign() > 0 {
		out.Shortfall = result.Shortfall.String()
	}
	writeJSON(w, http.StatusOK, out)
}

func (lr *lendingRoutes) tokenConfigFor(symbol string) *lending.TokenConfig {
	tokens, err := lr.node.LendingTokens()
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

func symbolParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	symbol := strings.TrimSpace(chi.URLParam(r, "symbol"))
	if symbol == "" {
		writeBadRequest(w, errors.New("symbol required"))
		return "", false
	}
	return symbol, true
}

func addressParam(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err)
		return crypto.Address{}, false
	}
	return addr, true
}

func idParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("invalid id %q", raw))
		return 0, false
	}
	return id, true
}
