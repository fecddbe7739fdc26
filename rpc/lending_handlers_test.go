package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
)

func mustMint(t *testing.T, env *testEnv, addr byte, symbol, amount string) {
	t.Helper()
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		t.Fatalf("bad amount %q", amount)
	}
	if err := env.node.Mint(rpcTestAddr(addr), symbol, value); err != nil {
		t.Fatalf("mint %s %s: %v", symbol, amount, err)
	}
}

func invoke(t *testing.T, env *testEnv, handler func(http.ResponseWriter, *http.Request, *RPCRequest), params interface{}) (json.RawMessage, *RPCError) {
	t.Helper()
	req := &RPCRequest{JSONRPC: jsonRPCVersion, ID: 1}
	if params != nil {
		req.Params = []json.RawMessage{marshalParam(t, params)}
	}
	rec := httptest.NewRecorder()
	handler(rec, env.newRequest(), req)
	return decodeRPCResponse(t, rec)
}

func TestLendingFlowOverRPC(t *testing.T) {
	env := newTestEnv(t)
	lender := rpcTestAddr(0x01)
	borrower := rpcTestAddr(0x02)
	mustMint(t, env, 0x01, "USDC", "100000000000")
	mustMint(t, env, 0x02, "WETH", "5000000000000000000")

	result, rpcErr := invoke(t, env, env.server.handleLendingDeposit, lendingAmountParams{
		From: lender.String(), Symbol: "USDC", Amount: "50000000000",
	})
	if rpcErr != nil {
		t.Fatalf("deposit: %+v", rpcErr)
	}
	var deposit lendingDepositResult
	if err := json.Unmarshal(result, &deposit); err != nil {
		t.Fatalf("decode deposit: %v", err)
	}
	if deposit.SharesMinted != "50000000000" {
		t.Fatalf("expected 1:1 share mint, got %s", deposit.SharesMinted)
	}

	result, rpcErr = invoke(t, env, env.server.handleLendingDepositCollateral, lendingAmountParams{
		From: borrower.String(), Symbol: "WETH", Amount: "5000000000000000000",
	})
	if rpcErr != nil {
		t.Fatalf("deposit collateral: %+v", rpcErr)
	}
	var position PositionResult
	if err := json.Unmarshal(result, &position); err != nil {
		t.Fatalf("decode position: %v", err)
	}
	if position.CollateralBalance != "5000000000000000000" {
		t.Fatalf("unexpected collateral balance: %s", position.CollateralBalance)
	}

	result, rpcErr = invoke(t, env, env.server.handleLendingSetCollateralFlag, lendingFlagParams{
		From: borrower.String(), Symbol: "WETH", Enabled: true,
	})
	if rpcErr != nil {
		t.Fatalf("set flag: %+v", rpcErr)
	}
	if err := json.Unmarshal(result, &position); err != nil {
		t.Fatalf("decode position: %v", err)
	}
	if !position.UseAsCollateral {
		t.Fatalf("expected collateral flag set")
	}

	result, rpcErr = invoke(t, env, env.server.handleLendingBorrow, lendingBorrowParams{
		Borrower: borrower.String(), Symbol: "USDC", Amount: "7000000000",
		Collaterals: []collateralValueParams{{Symbol: "WETH", Amount: "5000000000000000000"}},
	})
	if rpcErr != nil {
		t.Fatalf("borrow: %+v", rpcErr)
	}
	var loan LoanResult
	if err := json.Unmarshal(result, &loan); err != nil {
		t.Fatalf("decode loan: %v", err)
	}
	if loan.ID != 1 || loan.BorrowAmount != "7000000000" || loan.Status != "active" {
		t.Fatalf("unexpected loan: %+v", loan)
	}

	result, rpcErr = invoke(t, env, env.server.handleLendingLoanDebt, lendingLoanParams{LoanID: loan.ID})
	if rpcErr != nil {
		t.Fatalf("loan debt: %+v", rpcErr)
	}
	var debt lendingLoanDebtResult
	if err := json.Unmarshal(result, &debt); err != nil {
		t.Fatalf("decode debt: %v", err)
	}
	if debt.Debt != "7000000000" {
		t.Fatalf("expected zero-elapsed debt 7000000000, got %s", debt.Debt)
	}

	result, rpcErr = invoke(t, env, env.server.handleLendingHealth, lendingAccountParams{Address: borrower.String()})
	if rpcErr != nil {
		t.Fatalf("health: %+v", rpcErr)
	}
	var health lendingHealthResult
	if err := json.Unmarshal(result, &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	factor, ok := new(big.Int).SetString(health.HealthFactorBps, 10)
	if !ok || factor.Cmp(big.NewInt(10_000)) <= 0 {
		t.Fatalf("expected healthy factor above par, got %s", health.HealthFactorBps)
	}

	result, rpcErr = invoke(t, env, env.server.handleLendingRepay, lendingRepayParams{
		From: borrower.String(), LoanID: loan.ID, Amount: "7000000000",
	})
	if rpcErr != nil {
		t.Fatalf("repay: %+v", rpcErr)
	}
	var repay lendingRepayResult
	if err := json.Unmarshal(result, &repay); err != nil {
		t.Fatalf("decode repay: %v", err)
	}
	if repay.Applied != "7000000000" || repay.Status != "repaid" {
		t.Fatalf("unexpected repay result: %+v", repay)
	}

	result, rpcErr = invoke(t, env, env.server.handleLendingWithdraw, lendingAmountParams{
		From: lender.String(), Symbol: "USDC", Amount: "50000000000",
	})
	if rpcErr != nil {
		t.Fatalf("withdraw: %+v", rpcErr)
	}
	var withdraw lendingWithdrawResult
	if err := json.Unmarshal(result, &withdraw); err != nil {
		t.Fatalf("decode withdraw: %v", err)
	}
	if withdraw.AmountReturned != "50000000000" {
		t.Fatalf("expected full withdrawal, got %s", withdraw.AmountReturned)
	}
}

func TestLendingMarketQueries(t *testing.T) {
	env := newTestEnv(t)

	result, rpcErr := invoke(t, env, env.server.handleLendingGetMarkets, nil)
	if rpcErr != nil {
		t.Fatalf("markets: %+v", rpcErr)
	}
	var markets []MarketResult
	if err := json.Unmarshal(result, &markets); err != nil {
		t.Fatalf("decode markets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(markets))
	}

	result, rpcErr = invoke(t, env, env.server.handleLendingGetMarket, lendingSymbolParams{Symbol: "usdc"})
	if rpcErr != nil {
		t.Fatalf("market: %+v", rpcErr)
	}
	var market MarketResult
	if err := json.Unmarshal(result, &market); err != nil {
		t.Fatalf("decode market: %v", err)
	}
	if market.Symbol != "USDC" || market.Token == nil || market.Token.LtvBps != 7500 {
		t.Fatalf("unexpected market: %+v", market)
	}
	if market.TotalDeposits != "0" || market.UtilisationBps != 0 {
		t.Fatalf("expected empty reserve, got %+v", market)
	}

	_, rpcErr = invoke(t, env, env.server.handleLendingGetMarket, lendingSymbolParams{Symbol: "DOGE"})
	if rpcErr == nil {
		t.Fatalf("expected unknown token error")
	}

	result, rpcErr = invoke(t, env, env.server.handleLendingFeeBalance, lendingSymbolParams{Symbol: "USDC"})
	if rpcErr != nil {
		t.Fatalf("fee balance: %+v", rpcErr)
	}
	var fees lendingFeeBalanceResult
	if err := json.Unmarshal(result, &fees); err != nil {
		t.Fatalf("decode fees: %v", err)
	}
	if fees.Claimable != "0" || fees.Cumulative != "0" {
		t.Fatalf("expected zero fees, got %+v", fees)
	}
}

func TestLendbookFlowOverRPC(t *testing.T) {
	env := newTestEnv(t)
	lender := rpcTestAddr(0x03)
	borrower := rpcTestAddr(0x04)
	mustMint(t, env, 0x03, "USDC", "10000000000")
	mustMint(t, env, 0x04, "WETH", "5000000000000000000")
	collateral := new(big.Int).SetUint64(5_000_000_000_000_000_000)
	if err := env.node.LendingDepositCollateral(borrower, "WETH", collateral); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if err := env.node.LendingSetCollateralFlag(borrower, "WETH", true); err != nil {
		t.Fatalf("flag collateral: %v", err)
	}

	result, rpcErr := invoke(t, env, env.server.handleLendbookList, lendbookListParams{
		Lender: lender.String(), Symbol: "USDC", Amount: "10000000000", MinRateBps: 900,
	})
	if rpcErr != nil {
		t.Fatalf("list: %+v", rpcErr)
	}
	var listing ListingResult
	if err := json.Unmarshal(result, &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if listing.Status != "open" || listing.Amount != "10000000000" {
		t.Fatalf("unexpected listing: %+v", listing)
	}

	result, rpcErr = invoke(t, env, env.server.handleLendbookOpen, nil)
	if rpcErr != nil {
		t.Fatalf("open: %+v", rpcErr)
	}
	var open []ListingResult
	if err := json.Unmarshal(result, &open); err != nil {
		t.Fatalf("decode open: %v", err)
	}
	if len(open) != 1 || open[0].ID != listing.ID {
		t.Fatalf("unexpected open set: %+v", open)
	}

	result, rpcErr = invoke(t, env, env.server.handleLendbookMatch, lendbookMatchParams{
		Borrower:     borrower.String(),
		Symbol:       "USDC",
		Amount:       "7000000000",
		MaxRateBps:   2000,
		DurationSecs: 86_400,
		Collaterals:  []collateralValueParams{{Symbol: "WETH", Amount: "5000000000000000000"}},
	})
	if rpcErr != nil {
		t.Fatalf("match: %+v", rpcErr)
	}
	var match lendbookMatchResult
	if err := json.Unmarshal(result, &match); err != nil {
		t.Fatalf("decode match: %v", err)
	}
	if match.Listing.Status != "matched" || match.Listing.MatchedLoanID != match.Loan.ID {
		t.Fatalf("unexpected matched listing: %+v", match.Listing)
	}
	if match.Loan.DueAt != rpcTestNow+86_400 || match.Loan.Status != "active" {
		t.Fatalf("unexpected matched loan: %+v", match.Loan)
	}
	if match.LenderShares != "10000000000" {
		t.Fatalf("expected full escrow deposit shares, got %s", match.LenderShares)
	}

	result, rpcErr = invoke(t, env, env.server.handleLendbookGet, lendbookGetParams{ListingID: listing.ID})
	if rpcErr != nil {
		t.Fatalf("get: %+v", rpcErr)
	}
	if err := json.Unmarshal(result, &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if listing.Status != "matched" {
		t.Fatalf("expected matched listing, got %+v", listing)
	}
}

func TestLendbookCancelOverRPC(t *testing.T) {
	env := newTestEnv(t)
	lender := rpcTestAddr(0x05)
	mustMint(t, env, 0x05, "USDC", "10000000000")

	result, rpcErr := invoke(t, env, env.server.handleLendbookList, lendbookListParams{
		Lender: lender.String(), Symbol: "USDC", Amount: "10000000000", MinRateBps: 1200,
	})
	if rpcErr != nil {
		t.Fatalf("list: %+v", rpcErr)
	}
	var listing ListingResult
	if err := json.Unmarshal(result, &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}

	result, rpcErr = invoke(t, env, env.server.handleLendbookCancel, lendbookCancelParams{
		Lender: lender.String(), ListingID: listing.ID,
	})
	if rpcErr != nil {
		t.Fatalf("cancel: %+v", rpcErr)
	}
	if err := json.Unmarshal(result, &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if listing.Status != "cancelled" {
		t.Fatalf("expected cancelled listing, got %+v", listing)
	}

	balance, err := env.node.BalanceOf(lender, "USDC")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.String() != "10000000000" {
		t.Fatalf("expected escrow refund, got %s", balance)
	}
}

func TestOracleHandlers(t *testing.T) {
	env := newTestEnv(t)

	result, rpcErr := invoke(t, env, env.server.handleOracleGetQuote, lendingSymbolParams{Symbol: "usdc"})
	if rpcErr != nil {
		t.Fatalf("quote: %+v", rpcErr)
	}
	var quote QuoteResult
	if err := json.Unmarshal(result, &quote); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if quote.Symbol != "USDC" || quote.Price != "100000000" || quote.UpdatedAt != rpcTestNow {
		t.Fatalf("unexpected quote: %+v", quote)
	}

	result, rpcErr = invoke(t, env, env.server.handleOracleSetPrice, oracleSetPriceParams{
		Symbol: "WETH", Price: "80000000000", Decimals: 8,
	})
	if rpcErr != nil {
		t.Fatalf("set price: %+v", rpcErr)
	}
	if err := json.Unmarshal(result, &quote); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if quote.Price != "80000000000" || quote.UpdatedAt != rpcTestNow {
		t.Fatalf("unexpected updated quote: %+v", quote)
	}

	_, rpcErr = invoke(t, env, env.server.handleOracleGetQuote, lendingSymbolParams{Symbol: "DOGE"})
	if rpcErr == nil {
		t.Fatalf("expected unknown symbol error")
	}

	result, rpcErr = invoke(t, env, env.server.handleOracleSymbols, nil)
	if rpcErr != nil {
		t.Fatalf("symbols: %+v", rpcErr)
	}
	var symbols []string
	if err := json.Unmarshal(result, &symbols); err != nil {
		t.Fatalf("decode symbols: %v", err)
	}
	if len(symbols) != 2 {
		t.Fatalf("expected 2 symbols, got %v", symbols)
	}
}

func TestPausedModuleSurfacesAsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	mustMint(t, env, 0x06, "USDC", "1000000")
	if err := env.node.SetPaused("lending", true); err != nil {
		t.Fatalf("pause: %v", err)
	}

	req := &RPCRequest{JSONRPC: jsonRPCVersion, ID: 1, Params: []json.RawMessage{marshalParam(t, lendingAmountParams{
		From: rpcTestAddr(0x06).String(), Symbol: "USDC", Amount: "1000000",
	})}}
	rec := httptest.NewRecorder()
	env.server.handleLendingDeposit(rec, env.newRequest(), req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for paused module, got %d", rec.Code)
	}
	_, rpcErr := decodeRPCResponse(t, rec)
	if rpcErr == nil || rpcErr.Message != "module paused" {
		t.Fatalf("expected pause error, got %+v", rpcErr)
	}
}
