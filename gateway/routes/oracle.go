package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"lendpool/core"
	"lendpool/native/oracle"
	"lendpool/rpc"
)

type oracleRoutes struct {
	node *core.Node
}

func newOracleRoutes(node *core.Node) *oracleRoutes {
	return &oracleRoutes{node: node}
}

func (or *oracleRoutes) mountReads(r chi.Router) {
	r.Get("/oracle/quotes", or.listQuotes)
	r.Get("/oracle/quotes/{symbol}", or.getQuote)
}

func (or *oracleRoutes) listQuotes(w http.ResponseWriter, _ *http.Request) {
	symbols := or.node.OracleSymbols()
	quotes := make([]rpc.QuoteResult, 0, len(symbols))
	for _, symbol := range symbols {
		quote, err := or.node.OracleQuote(symbol)
		if err != nil {
			continue
		}
		quotes = append(quotes, rpc.NewQuoteResult(symbol, quote))
	}
	writeJSON(w, http.StatusOK, quotes)
}

func (or *oracleRoutes) getQuote(w http.ResponseWriter, r *http.Request) {
	symbol, ok := symbolParam(w, r)
	if !ok {
		return
	}
	quote, err := or.node.OracleQuote(symbol)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.NewQuoteResult(oracle.NormalizeSymbol(symbol), quote))
}
