package oracle

import (
	"errors"
	"math/big"
	"strings"
	"sync"
)

var (
	// ErrUnknownSymbol is returned when no feed covers the requested asset.
	ErrUnknownSymbol = errors.New("oracle: unknown symbol")
	// ErrNoQuorum is returned when too few feeds produced usable quotes.
	ErrNoQuorum = errors.New("oracle: insufficient feeds")
)

// Quote is a single price observation. Price carries Decimals fractional
// digits; UpdatedAt is the publication time in unix seconds.
type Quote struct {
	Price     *big.Int
	Decimals  uint8
	UpdatedAt uint64
	Source    string
}

// Clone returns a deep copy of the quote.
func (q Quote) Clone() Quote {
	clone := q
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Source resolves the current price for an asset symbol.
type Source interface {
	Price(symbol string) (Quote, error)
}

// NormalizeSymbol canonicalises asset symbols to upper case.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Manual is a mutable in-memory price registry. Governance or an attester
// bridge pushes quotes into it; reads are safe for concurrent use.
type Manual struct {
	mu     sync.RWMutex
	name   string
	quotes map[string]Quote
}

// NewManual constructs an empty registry labelled with the given source
// name.
func NewManual(name string) *Manual {
	if strings.TrimSpace(name) == "" {
		name = "manual"
	}
	return &Manual{name: name, quotes: make(map[string]Quote)}
}

// SetPrice records a quote for the symbol, stamping it with the registry's
// source name.
func (m *Manual) SetPrice(symbol string, price *big.Int, decimals uint8, updatedAt uint64) {
	if m == nil {
		return
	}
	symbol = NormalizeSymbol(symbol)
	if symbol == "" || price == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[symbol] = Quote{
		Price:     new(big.Int).Set(price),
		Decimals:  decimals,
		UpdatedAt: updatedAt,
		Source:    m.name,
	}
}

// Price implements the Source interface.
func (m *Manual) Price(symbol string) (Quote, error) {
	if m == nil {
		return Quote{}, ErrUnknownSymbol
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	quote, ok := m.quotes[NormalizeSymbol(symbol)]
	if !ok {
		return Quote{}, ErrUnknownSymbol
	}
	return quote.Clone(), nil
}

// Symbols lists every asset the registry currently covers.
func (m *Manual) Symbols() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	symbols := make([]string, 0, len(m.quotes))
	for symbol := range m.quotes {
		symbols = append(symbols, symbol)
	}
	return symbols
}
