package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"lendpool/storage"
)

// ErrInsufficientFunds is returned by Debit when the account balance cannot
// cover the requested amount.
var ErrInsufficientFunds = errors.New("state: insufficient funds")

// Manager reads and writes protocol state on a key-value database. Records
// are RLP encoded under hashed, prefixed keys; every load returns a fresh
// copy so callers can mutate freely and persist explicitly. Manager itself
// performs no locking; the node serialises mutating access.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// readRLP loads and decodes a record, reporting whether it existed.
func (m *Manager) readRLP(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %x: %w", key[:4], err)
	}
	return true, nil
}

// writeRLP encodes and stores a record.
func (m *Manager) writeRLP(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %x: %w", key[:4], err)
	}
	return m.db.Put(key, encoded)
}

func (m *Manager) readStringList(key []byte) ([]string, error) {
	var list []string
	if _, err := m.readRLP(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Manager) appendStringOnce(key []byte, value string) error {
	list, err := m.readStringList(key)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing == value {
			return nil
		}
	}
	return m.writeRLP(key, append(list, value))
}

func (m *Manager) readUint64List(key []byte) ([]uint64, error) {
	var list []uint64
	if _, err := m.readRLP(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// nextSequence increments and returns a persisted counter, starting at one.
func (m *Manager) nextSequence(key []byte) (uint64, error) {
	var current uint64
	if _, err := m.readRLP(key, &current); err != nil {
		return 0, err
	}
	next := current + 1
	if err := m.writeRLP(key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// BalanceOf returns the token balance of an account, zero when the account
// has never been touched.
func (m *Manager) BalanceOf(addr []byte, symbol string) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := m.readRLP(balanceKey(addr, symbol), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// Credit adds to an account balance.
func (m *Manager) Credit(addr []byte, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: credit amount must be non-negative")
	}
	if amount.Sign() == 0 {
		return nil
	}
	balance, err := m.BalanceOf(addr, symbol)
	if err != nil {
		return err
	}
	return m.writeRLP(balanceKey(addr, symbol), new(big.Int).Add(balance, amount))
}

// Debit removes from an account balance, failing when it would go negative.
func (m *Manager) Debit(addr []byte, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: debit amount must be non-negative")
	}
	if amount.Sign() == 0 {
		return nil
	}
	balance, err := m.BalanceOf(addr, symbol)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	return m.writeRLP(balanceKey(addr, symbol), new(big.Int).Sub(balance, amount))
}

// GenesisApplied reports whether the store has been bootstrapped already.
func (m *Manager) GenesisApplied() (bool, error) {
	applied := false
	ok, err := m.readRLP(genesisAppliedKey, &applied)
	if err != nil || !ok {
		return false, err
	}
	return applied, nil
}

// MarkGenesisApplied records that bootstrap ran so it is never repeated.
func (m *Manager) MarkGenesisApplied() error {
	applied := true
	return m.writeRLP(genesisAppliedKey, &applied)
}
