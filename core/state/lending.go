package state

import (
	"lendpool/native/lending"
)

// LendingGetTokenConfig loads the risk parameters of a listed asset.
func (m *Manager) LendingGetTokenConfig(symbol string) (*lending.TokenConfig, bool, error) {
	cfg := new(lending.TokenConfig)
	ok, err := m.readRLP(lendingTokenKey(symbol), cfg)
	if err != nil || !ok {
		return nil, false, err
	}
	cfg.EnsureDefaults()
	return cfg, true, nil
}

// LendingPutTokenConfig stores a token listing and records its symbol in the
// token index.
func (m *Manager) LendingPutTokenConfig(cfg *lending.TokenConfig) error {
	if err := m.writeRLP(lendingTokenKey(cfg.Symbol), cfg); err != nil {
		return err
	}
	return m.appendStringOnce(lendingTokenListKey, cfg.Symbol)
}

// LendingTokenSymbols lists every registered asset symbol.
func (m *Manager) LendingTokenSymbols() ([]string, error) {
	return m.readStringList(lendingTokenListKey)
}

// LendingGetReserve loads a reserve's pooled balances and indexes.
func (m *Manager) LendingGetReserve(symbol string) (*lending.Reserve, bool, error) {
	reserve := new(lending.Reserve)
	ok, err := m.readRLP(lendingReserveKey(symbol), reserve)
	if err != nil || !ok {
		return nil, false, err
	}
	reserve.EnsureDefaults()
	return reserve, true, nil
}

// LendingPutReserve stores a reserve.
func (m *Manager) LendingPutReserve(reserve *lending.Reserve) error {
	return m.writeRLP(lendingReserveKey(reserve.Symbol), reserve)
}

// LendingGetPosition loads one account's record in one reserve.
func (m *Manager) LendingGetPosition(addr []byte, symbol string) (*lending.UserPosition, bool, error) {
	position := new(lending.UserPosition)
	ok, err := m.readRLP(lendingPositionKey(addr, symbol), position)
	if err != nil || !ok {
		return nil, false, err
	}
	position.EnsureDefaults()
	return position, true, nil
}

// LendingPutPosition stores a position and records the symbol in the
// account's asset index so risk checks can enumerate it.
func (m *Manager) LendingPutPosition(position *lending.UserPosition) error {
	if err := m.writeRLP(lendingPositionKey(position.Address, position.Symbol), position); err != nil {
		return err
	}
	return m.appendStringOnce(lendingAssetsKey(position.Address), position.Symbol)
}

// LendingUserAssets lists the symbols an account has ever held a position in.
func (m *Manager) LendingUserAssets(addr []byte) ([]string, error) {
	return m.readStringList(lendingAssetsKey(addr))
}

// LendingGetLoan loads a loan by identifier.
func (m *Manager) LendingGetLoan(id uint64) (*lending.Loan, bool, error) {
	loan := new(lending.Loan)
	ok, err := m.readRLP(lendingLoanKey(id), loan)
	if err != nil || !ok {
		return nil, false, err
	}
	loan.EnsureDefaults()
	return loan, true, nil
}

// LendingPutLoan stores a loan.
func (m *Manager) LendingPutLoan(loan *lending.Loan) error {
	return m.writeRLP(lendingLoanKey(loan.ID), loan)
}

// LendingNextLoanID increments and returns the loan sequence. The first loan
// is number one.
func (m *Manager) LendingNextLoanID() (uint64, error) {
	return m.nextSequence(lendingLoanSeqKey)
}

// LendingLoansByBorrower lists the loan identifiers opened by an account.
func (m *Manager) LendingLoansByBorrower(addr []byte) ([]uint64, error) {
	return m.readUint64List(lendingBorrowerKey(addr))
}

// LendingAppendBorrowerLoan records a loan under its borrower's index.
func (m *Manager) LendingAppendBorrowerLoan(addr []byte, id uint64) error {
	list, err := m.readUint64List(lendingBorrowerKey(addr))
	if err != nil {
		return err
	}
	return m.writeRLP(lendingBorrowerKey(addr), append(list, id))
}

// LendingGetFeeAccrual loads the fee reporting record for an asset, nil when
// no fees have accrued yet.
func (m *Manager) LendingGetFeeAccrual(symbol string) (*lending.FeeAccrual, error) {
	fees := new(lending.FeeAccrual)
	ok, err := m.readRLP(lendingFeesKey(symbol), fees)
	if err != nil || !ok {
		return nil, err
	}
	fees.EnsureDefaults()
	return fees, nil
}

// LendingPutFeeAccrual stores the fee reporting record for an asset.
func (m *Manager) LendingPutFeeAccrual(symbol string, fees *lending.FeeAccrual) error {
	return m.writeRLP(lendingFeesKey(symbol), fees)
}
