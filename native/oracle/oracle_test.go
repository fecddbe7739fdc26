package oracle

import (
	"errors"
	"math/big"
	"testing"
)

func TestManualRoundTrip(t *testing.T) {
	feed := NewManual("attester")
	feed.SetPrice("weth", big.NewInt(200_000_000_000), 8, 1_700_000_000)

	quote, err := feed.Price("WETH")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if quote.Price.Cmp(big.NewInt(200_000_000_000)) != 0 {
		t.Fatalf("unexpected price: %s", quote.Price)
	}
	if quote.Decimals != 8 || quote.UpdatedAt != 1_700_000_000 {
		t.Fatalf("unexpected quote metadata: %+v", quote)
	}
	if quote.Source != "attester" {
		t.Fatalf("unexpected source: %q", quote.Source)
	}

	// Case and whitespace normalise to the same key.
	if _, err := feed.Price("  weth "); err != nil {
		t.Fatalf("normalised lookup: %v", err)
	}
	if _, err := feed.Price("USDC"); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("expected ErrUnknownSymbol, got %v", err)
	}
}

func TestManualReturnsCopies(t *testing.T) {
	feed := NewManual("test")
	feed.SetPrice("USDC", big.NewInt(100), 8, 1)

	quote, err := feed.Price("USDC")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	quote.Price.SetInt64(999)

	again, err := feed.Price("USDC")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if again.Price.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("stored quote was mutated: %s", again.Price)
	}
}

func TestAggregatorMedian(t *testing.T) {
	a := NewManual("a")
	b := NewManual("b")
	c := NewManual("c")
	a.SetPrice("WETH", big.NewInt(100_00000000), 8, 100)
	b.SetPrice("WETH", big.NewInt(101_00000000), 8, 90)
	c.SetPrice("WETH", big.NewInt(105_00000000), 8, 95)

	agg := NewAggregator([]Source{a, b, c}, 2, 0)
	quote, err := agg.Price("weth")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if quote.Price.Cmp(big.NewInt(101_00000000)) != 0 {
		t.Fatalf("expected median 101, got %s", quote.Price)
	}
	if quote.UpdatedAt != 90 {
		t.Fatalf("expected oldest timestamp carried, got %d", quote.UpdatedAt)
	}
	if quote.Source != "aggregate" {
		t.Fatalf("unexpected source: %q", quote.Source)
	}
}

func TestAggregatorEvenCountAveragesMiddlePair(t *testing.T) {
	feeds := make([]Source, 0, 4)
	for i, price := range []int64{100, 102, 104, 110} {
		feed := NewManual("f")
		feed.SetPrice("BTC", big.NewInt(price), 0, uint64(i+1))
		feeds = append(feeds, feed)
	}
	agg := NewAggregator(feeds, 4, 0)
	quote, err := agg.Price("BTC")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if quote.Price.Cmp(big.NewInt(103)) != 0 {
		t.Fatalf("expected 103, got %s", quote.Price)
	}
}

func TestAggregatorRescalesMixedDecimals(t *testing.T) {
	coarse := NewManual("coarse")
	fine := NewManual("fine")
	coarse.SetPrice("USDC", big.NewInt(1_000_000), 6, 50)
	fine.SetPrice("USDC", big.NewInt(100_000_000), 8, 60)

	agg := NewAggregator([]Source{coarse, fine}, 2, 0)
	quote, err := agg.Price("USDC")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if quote.Decimals != 8 {
		t.Fatalf("expected 8 decimals, got %d", quote.Decimals)
	}
	if quote.Price.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("expected rescaled dollar, got %s", quote.Price)
	}
}

func TestAggregatorDropsOutliers(t *testing.T) {
	a := NewManual("a")
	b := NewManual("b")
	c := NewManual("c")
	a.SetPrice("WETH", big.NewInt(100_00000000), 8, 10)
	b.SetPrice("WETH", big.NewInt(101_00000000), 8, 20)
	c.SetPrice("WETH", big.NewInt(200_00000000), 8, 30)

	agg := NewAggregator([]Source{a, b, c}, 2, 500)
	quote, err := agg.Price("WETH")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	// The doubled feed is discarded; the surviving pair medians to 100.5.
	if quote.Price.Cmp(big.NewInt(100_50000000)) != 0 {
		t.Fatalf("expected 100.5 after filtering, got %s", quote.Price)
	}
	if quote.UpdatedAt != 10 {
		t.Fatalf("expected oldest surviving timestamp, got %d", quote.UpdatedAt)
	}
}

func TestAggregatorQuorum(t *testing.T) {
	live := NewManual("live")
	live.SetPrice("WETH", big.NewInt(100), 0, 1)
	empty := NewManual("empty")

	agg := NewAggregator([]Source{live, empty, nil}, 2, 0)
	if _, err := agg.Price("WETH"); !errors.Is(err, ErrNoQuorum) {
		t.Fatalf("expected ErrNoQuorum, got %v", err)
	}

	second := NewManual("second")
	second.SetPrice("WETH", big.NewInt(102), 0, 2)
	agg = NewAggregator([]Source{live, second, empty}, 2, 0)
	if _, err := agg.Price("WETH"); err != nil {
		t.Fatalf("expected quorum met, got %v", err)
	}
}
