package state

import (
	"math/big"

	"lendpool/native/oracle"
)

// OracleGetPrice loads the last persisted quote for a symbol. Prices are
// written through OraclePutPrice when governance pushes an update, so a node
// restart resumes with the feed it last served.
func (m *Manager) OracleGetPrice(symbol string) (oracle.Quote, bool, error) {
	quote := new(oracle.Quote)
	ok, err := m.readRLP(oraclePriceKey(symbol), quote)
	if err != nil || !ok {
		return oracle.Quote{}, false, err
	}
	if quote.Price == nil {
		quote.Price = big.NewInt(0)
	}
	return *quote, true, nil
}

// OraclePutPrice stores a quote and records its symbol in the feed index.
func (m *Manager) OraclePutPrice(symbol string, quote oracle.Quote) error {
	if err := m.writeRLP(oraclePriceKey(symbol), &quote); err != nil {
		return err
	}
	return m.appendStringOnce(oracleSymbolsKey, symbol)
}

// OracleSymbols lists every symbol with a persisted quote.
func (m *Manager) OracleSymbols() ([]string, error) {
	return m.readStringList(oracleSymbolsKey)
}

// PauseFlags loads the persisted pause switch set. The second return reports
// whether a set was ever written; a node that has never toggled a switch gets
// (nil, false, nil) and falls back to its genesis defaults.
func (m *Manager) PauseFlags() ([]string, bool, error) {
	var flags []string
	ok, err := m.readRLP(pauseFlagsKey, &flags)
	if err != nil || !ok {
		return nil, false, err
	}
	return flags, true, nil
}

// PutPauseFlags stores the full pause switch set, replacing any previous one.
func (m *Manager) PutPauseFlags(flags []string) error {
	if flags == nil {
		flags = []string{}
	}
	return m.writeRLP(pauseFlagsKey, &flags)
}
