package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"lendpool/observability"
	"lendpool/rpc"
	"lendpool/services/reportd/storage"
)

const defaultTimeout = 10 * time.Second

type nodeRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type nodeRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *nodeRPCError) Error() string {
	if e == nil {
		return "rpc error"
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type nodeRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *nodeRPCError   `json:"error"`
}

type feeBalanceResult struct {
	Symbol      string `json:"symbol"`
	Claimable   string `json:"claimable"`
	Cumulative  string `json:"cumulative"`
	LastAccrual uint64 `json:"lastAccrual"`
}

// Client issues JSON-RPC calls against a lendpool node.
type Client struct {
	target string
	client *http.Client
	nextID atomic.Int64
}

// NewClient builds a node client for the supplied RPC endpoint.
func NewClient(nodeURL string, timeout time.Duration) (*Client, error) {
	trimmed := strings.TrimSpace(nodeURL)
	if trimmed == "" {
		return nil, fmt.Errorf("collector: node url required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		target: trimmed,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	payload, err := json.Marshal(nodeRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return fmt.Errorf("encode rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("perform rpc request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read rpc response: %w", err)
	}
	var rpcResp nodeRPCResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("rpc response missing result")
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("decode rpc result: %w", err)
	}
	return nil
}

// Markets fetches the current reserve snapshots from the node.
func (c *Client) Markets(ctx context.Context) ([]rpc.MarketResult, error) {
	var markets []rpc.MarketResult
	if err := c.call(ctx, "lending_getMarkets", []interface{}{}, &markets); err != nil {
		return nil, fmt.Errorf("lending_getMarkets: %w", err)
	}
	return markets, nil
}

// FeeBalance fetches the protocol fee accrual for one reserve.
func (c *Client) FeeBalance(ctx context.Context, symbol string) (feeBalanceResult, error) {
	var fees feeBalanceResult
	params := []interface{}{map[string]string{"symbol": symbol}}
	if err := c.call(ctx, "lending_feeBalance", params, &fees); err != nil {
		return feeBalanceResult{}, fmt.Errorf("lending_feeBalance %s: %w", symbol, err)
	}
	return fees, nil
}

// Collector polls the node on an interval and persists observations.
type Collector struct {
	client   *Client
	store    *storage.Store
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.ReportdMetrics
	now      func() time.Time
}

// New builds a collector wired to the supplied client and store.
func New(client *Client, store *storage.Store, interval time.Duration, logger *slog.Logger) (*Collector, error) {
	if client == nil {
		return nil, fmt.Errorf("collector: client required")
	}
	if store == nil {
		return nil, fmt.Errorf("collector: store required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("collector: interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		client:   client,
		store:    store,
		interval: interval,
		logger:   logger,
		metrics:  observability.Reportd(),
		now:      time.Now,
	}, nil
}

// Run polls until the context is cancelled. The first round fires
// immediately so a fresh deployment has data before the first tick.
func (c *Collector) Run(ctx context.Context) error {
	if err := c.CollectOnce(ctx); err != nil {
		c.logger.Error("collection round failed", "error", err)
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.CollectOnce(ctx); err != nil {
				c.logger.Error("collection round failed", "error", err)
			}
		}
	}
}

// CollectOnce performs a single polling round: reserve snapshots first,
// then the fee accrual for every reserve the node reported.
func (c *Collector) CollectOnce(ctx context.Context) error {
	observed := c.now().UTC()

	start := c.now()
	markets, err := c.client.Markets(ctx)
	c.metrics.ObservePoll("markets", c.now().Sub(start), err)
	if err != nil {
		return fmt.Errorf("poll markets: %w", err)
	}
	marketRows := make([]storage.MarketSnapshot, 0, len(markets))
	for _, market := range markets {
		marketRows = append(marketRows, storage.MarketSnapshot{
			Symbol:             market.Symbol,
			TotalDeposits:      market.TotalDeposits,
			TotalBorrows:       market.TotalBorrows,
			TotalDepositShares: market.TotalDepositShares,
			LiquidityIndex:     market.LiquidityIndex,
			BorrowIndex:        market.BorrowIndex,
			UtilisationBps:     market.UtilisationBps,
			DepositRateBps:     market.DepositRateBps,
			BorrowRateBps:      market.BorrowRateBps,
			MarketTimestamp:    market.LastUpdate,
			ObservedAt:         observed,
		})
	}
	if err := c.store.SaveMarketSnapshots(ctx, marketRows); err != nil {
		return err
	}
	c.metrics.AddRows("market_snapshots", len(marketRows))

	feeStart := c.now()
	feeRows := make([]storage.FeeSnapshot, 0, len(markets))
	var feeErr error
	for _, market := range markets {
		fees, err := c.client.FeeBalance(ctx, market.Symbol)
		if err != nil {
			feeErr = err
			break
		}
		feeRows = append(feeRows, storage.FeeSnapshot{
			Symbol:      fees.Symbol,
			Claimable:   fees.Claimable,
			Cumulative:  fees.Cumulative,
			LastAccrual: fees.LastAccrual,
			ObservedAt:  observed,
		})
	}
	c.metrics.ObservePoll("fees", c.now().Sub(feeStart), feeErr)
	if feeErr != nil {
		return fmt.Errorf("poll fees: %w", feeErr)
	}
	if err := c.store.SaveFeeSnapshots(ctx, feeRows); err != nil {
		return err
	}
	c.metrics.AddRows("fee_snapshots", len(feeRows))

	c.logger.Info("collection round complete",
		"markets", len(marketRows),
		"fees", len(feeRows),
	)
	return nil
}

// SetNowFunc overrides wall-clock reads, for tests.
func (c *Collector) SetNowFunc(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}
