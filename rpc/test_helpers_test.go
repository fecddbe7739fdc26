package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"lendpool/config"
	"lendpool/core"
	"lendpool/crypto"
	"lendpool/native/lending"
	"lendpool/storage"
)

const (
	rpcTestTokenEnv = "LENDPOOL_RPC_TEST_TOKEN"
	rpcTestToken    = "rpc-test-secret"
	rpcTestNow      = uint64(1_700_000_000)
)

type testEnv struct {
	server *Server
	node   *core.Node
}

func rpcTestAddr(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = suffix
	return crypto.MustNewAddress(crypto.LendPrefix, raw)
}

func rpcTestUSDC() *lending.TokenConfig {
	return &lending.TokenConfig{
		Symbol:                  "USDC",
		Decimals:                6,
		LtvBps:                  7500,
		LiquidationThresholdBps: 8000,
		LiquidationBonusBps:     500,
		ReserveFactorBps:        2000,
		Interest: lending.InterestModel{
			BaseRateBps: 500,
			Slope1Bps:   1000,
			Slope2Bps:   30_000,
			KinkBps:     8000,
		},
		IsActive:   true,
		IsLoanable: true,
	}
}

func rpcTestWETH() *lending.TokenConfig {
	return &lending.TokenConfig{
		Symbol:                  "WETH",
		Decimals:                18,
		LtvBps:                  7500,
		LiquidationThresholdBps: 8000,
		LiquidationBonusBps:     1000,
		ReserveFactorBps:        2000,
		Interest: lending.InterestModel{
			BaseRateBps: 200,
			Slope1Bps:   800,
			Slope2Bps:   20_000,
			KinkBps:     8000,
		},
		IsActive:   true,
		IsLoanable: true,
	}
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	node, err := core.NewNode(db, &core.Genesis{
		Tokens: []*lending.TokenConfig{rpcTestUSDC(), rpcTestWETH()},
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	node.SetNowFunc(func() uint64 { return rpcTestNow })
	node.SetMaxQuoteAge(300)
	if err := node.OracleSetPrice("USDC", big.NewInt(100_000_000), 8, 0); err != nil {
		t.Fatalf("set USDC price: %v", err)
	}
	if err := node.OracleSetPrice("WETH", big.NewInt(200_000_000_000), 8, 0); err != nil {
		t.Fatalf("set WETH price: %v", err)
	}

	t.Setenv(rpcTestTokenEnv, rpcTestToken)
	server := NewServer(node, config.RPC{
		AdminTokenEnv:   rpcTestTokenEnv,
		MaxRequestBytes: 1 << 20,
		RatePerSecond:   1000,
		RateBurst:       1000,
	})
	return &testEnv{server: server, node: node}
}

func (env *testEnv) newRequest() *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	return req
}

func marshalParam(t testing.TB, value interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal param: %v", err)
	}
	return data
}

func decodeRPCResponse(t testing.TB, rec *httptest.ResponseRecorder) (json.RawMessage, *RPCError) {
	t.Helper()
	var resp struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return resp.Result, resp.Error
}
