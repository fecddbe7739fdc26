package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lendpool/rpc"
	"lendpool/services/reportd/storage"
)

type stubCall struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     int64           `json:"id"`
}

func stubNode(t *testing.T, handler func(call stubCall) (interface{}, *nodeRPCError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call stubCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Fatalf("decode stub call: %v", err)
		}
		result, rpcErr := handler(call)
		response := map[string]interface{}{"jsonrpc": "2.0", "id": call.ID}
		if rpcErr != nil {
			response["error"] = rpcErr
		} else {
			response["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			t.Fatalf("encode stub response: %v", err)
		}
	}))
}

func testMarkets() []rpc.MarketResult {
	return []rpc.MarketResult{{
		Symbol:             "USDC",
		TotalDeposits:      "100000000000",
		TotalBorrows:       "25000000000",
		TotalDepositShares: "100000000000",
		LiquidityIndex:     "1000000000000000000000000000",
		BorrowIndex:        "1000000000000000000000000000",
		UtilisationBps:     2500,
		DepositRateBps:     150,
		BorrowRateBps:      750,
		LastUpdate:         1_700_000_000,
	}}
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "reportd.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestClientRequiresURL(t *testing.T) {
	if _, err := NewClient("  ", time.Second); err == nil {
		t.Fatalf("expected error for blank node url")
	}
}

func TestCollectOncePersistsSnapshots(t *testing.T) {
	server := stubNode(t, func(call stubCall) (interface{}, *nodeRPCError) {
		switch call.Method {
		case "lending_getMarkets":
			return testMarkets(), nil
		case "lending_feeBalance":
			return map[string]interface{}{
				"symbol":      "USDC",
				"claimable":   "4000",
				"cumulative":  "5000",
				"lastAccrual": 1_700_000_000,
			}, nil
		default:
			return nil, &nodeRPCError{Code: -32601, Message: "method not found"}
		}
	})
	defer server.Close()

	client, err := NewClient(server.URL, time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	store := openTestStore(t)
	poller, err := New(client, store, time.Minute, nil)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	observed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	poller.SetNowFunc(func() time.Time { return observed })

	if err := poller.CollectOnce(context.Background()); err != nil {
		t.Fatalf("collect once: %v", err)
	}

	markets, err := store.MarketHistory(context.Background(), "USDC", 0)
	if err != nil {
		t.Fatalf("market history: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("expected 1 market row, got %d", len(markets))
	}
	row := markets[0]
	if row.TotalDeposits != "100000000000" || row.BorrowRateBps != 750 {
		t.Fatalf("unexpected market row %+v", row)
	}
	if row.MarketTimestamp != 1_700_000_000 {
		t.Fatalf("market timestamp = %d", row.MarketTimestamp)
	}
	if !row.ObservedAt.Equal(observed) {
		t.Fatalf("observed at = %s, want %s", row.ObservedAt, observed)
	}

	fees, err := store.FeesBetween(context.Background(), observed.Add(-time.Minute), observed.Add(time.Minute))
	if err != nil {
		t.Fatalf("fees between: %v", err)
	}
	if len(fees) != 1 {
		t.Fatalf("expected 1 fee row, got %d", len(fees))
	}
	if fees[0].Symbol != "USDC" || fees[0].Claimable != "4000" || fees[0].Cumulative != "5000" {
		t.Fatalf("unexpected fee row %+v", fees[0])
	}
}

func TestCollectOnceSurfacesMarketError(t *testing.T) {
	server := stubNode(t, func(call stubCall) (interface{}, *nodeRPCError) {
		return nil, &nodeRPCError{Code: -32000, Message: "state unavailable"}
	})
	defer server.Close()

	client, err := NewClient(server.URL, time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	poller, err := New(client, openTestStore(t), time.Minute, nil)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}

	err = poller.CollectOnce(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "lending_getMarkets") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestCollectOnceKeepsMarketsWhenFeesFail(t *testing.T) {
	server := stubNode(t, func(call stubCall) (interface{}, *nodeRPCError) {
		switch call.Method {
		case "lending_getMarkets":
			return testMarkets(), nil
		default:
			return nil, &nodeRPCError{Code: -32000, Message: "fee module offline"}
		}
	})
	defer server.Close()

	client, err := NewClient(server.URL, time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	store := openTestStore(t)
	poller, err := New(client, store, time.Minute, nil)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}

	err = poller.CollectOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "poll fees") {
		t.Fatalf("expected fee poll error, got %v", err)
	}

	markets, err := store.MarketHistory(context.Background(), "USDC", 0)
	if err != nil {
		t.Fatalf("market history: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("market rows should persist before fee polling, got %d", len(markets))
	}
}
