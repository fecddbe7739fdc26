package oracle

import (
	"math/big"
	"sort"
)

// Aggregator medians quotes across several feeds. Feeds that error, return
// non-positive prices or stray too far from the median are discarded; the
// remainder must still reach the quorum or the lookup fails rather than
// price against thin data.
type Aggregator struct {
	sources         []Source
	minFeeds        int
	maxDeviationBps uint64
}

// NewAggregator builds an aggregator over the given feeds. minFeeds below
// one is raised to one; a zero maxDeviationBps disables the outlier filter.
func NewAggregator(sources []Source, minFeeds int, maxDeviationBps uint64) *Aggregator {
	if minFeeds < 1 {
		minFeeds = 1
	}
	return &Aggregator{
		sources:         append([]Source(nil), sources...),
		minFeeds:        minFeeds,
		maxDeviationBps: maxDeviationBps,
	}
}

// Price implements the Source interface with a deviation-filtered median.
// The reported quote carries the oldest contributing timestamp so staleness
// checks downstream judge the weakest feed.
func (a *Aggregator) Price(symbol string) (Quote, error) {
	if a == nil || len(a.sources) == 0 {
		return Quote{}, ErrNoQuorum
	}
	symbol = NormalizeSymbol(symbol)
	quotes := make([]Quote, 0, len(a.sources))
	var maxDecimals uint8
	for _, src := range a.sources {
		if src == nil {
			continue
		}
		quote, err := src.Price(symbol)
		if err != nil {
			continue
		}
		if quote.Price == nil || quote.Price.Sign() <= 0 {
			continue
		}
		if quote.Decimals > maxDecimals {
			maxDecimals = quote.Decimals
		}
		quotes = append(quotes, quote.Clone())
	}
	if len(quotes) < a.minFeeds {
		return Quote{}, ErrNoQuorum
	}

	scaled := make([]*big.Int, len(quotes))
	for i, quote := range quotes {
		scaled[i] = rescale(quote.Price, quote.Decimals, maxDecimals)
	}
	median := medianOf(scaled)

	if a.maxDeviationBps > 0 {
		kept := quotes[:0]
		keptScaled := scaled[:0]
		for i, price := range scaled {
			if withinDeviation(price, median, a.maxDeviationBps) {
				kept = append(kept, quotes[i])
				keptScaled = append(keptScaled, price)
			}
		}
		if len(kept) < a.minFeeds {
			return Quote{}, ErrNoQuorum
		}
		quotes = kept
		median = medianOf(keptScaled)
	}

	oldest := quotes[0].UpdatedAt
	for _, quote := range quotes[1:] {
		if quote.UpdatedAt < oldest {
			oldest = quote.UpdatedAt
		}
	}
	return Quote{
		Price:     median,
		Decimals:  maxDecimals,
		UpdatedAt: oldest,
		Source:    "aggregate",
	}, nil
}

func rescale(price *big.Int, from, to uint8) *big.Int {
	scaled := new(big.Int).Set(price)
	for d := from; d < to; d++ {
		scaled.Mul(scaled, big.NewInt(10))
	}
	return scaled
}

func medianOf(prices []*big.Int) *big.Int {
	sorted := make([]*big.Int, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return new(big.Int).Set(sorted[mid])
	}
	sum := new(big.Int).Add(sorted[mid-1], sorted[mid])
	return sum.Rsh(sum, 1)
}

func withinDeviation(price, median *big.Int, maxBps uint64) bool {
	if median == nil || median.Sign() <= 0 {
		return false
	}
	diff := new(big.Int).Sub(price, median)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(10_000))
	limit := new(big.Int).Mul(median, new(big.Int).SetUint64(maxBps))
	return diff.Cmp(limit) <= 0
}
