package state

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	balancePrefix = []byte("balance:")

	lendingTokenPrefix    = []byte("lending/token:")
	lendingTokenListKey   = ethcrypto.Keccak256([]byte("lending/token-list"))
	lendingReservePrefix  = []byte("lending/reserve:")
	lendingPositionPrefix = []byte("lending/position:")
	lendingAssetsPrefix   = []byte("lending/assets:")
	lendingLoanPrefix     = []byte("lending/loan:")
	lendingLoanSeqKey     = ethcrypto.Keccak256([]byte("lending/loan-seq"))
	lendingBorrowerPrefix = []byte("lending/borrower:")
	lendingFeesPrefix     = []byte("lending/fees:")

	lendbookListingPrefix = []byte("lendbook/listing:")
	lendbookOpenListKey   = ethcrypto.Keccak256([]byte("lendbook/open"))
	lendbookSeqKey        = ethcrypto.Keccak256([]byte("lendbook/listing-seq"))

	oraclePricePrefix = []byte("oracle/price:")
	oracleSymbolsKey  = ethcrypto.Keccak256([]byte("oracle/symbols"))
	pauseFlagsKey     = ethcrypto.Keccak256([]byte("pauses/flags"))
	genesisAppliedKey = ethcrypto.Keccak256([]byte("genesis/applied"))
)

func hashKey(parts ...[]byte) []byte {
	size := 0
	for _, part := range parts {
		size += len(part)
	}
	buf := make([]byte, 0, size)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

func balanceKey(addr []byte, symbol string) []byte {
	return hashKey(balancePrefix, []byte(symbol), []byte{':'}, addr)
}

func lendingTokenKey(symbol string) []byte {
	return hashKey(lendingTokenPrefix, []byte(symbol))
}

func lendingReserveKey(symbol string) []byte {
	return hashKey(lendingReservePrefix, []byte(symbol))
}

func lendingPositionKey(addr []byte, symbol string) []byte {
	return hashKey(lendingPositionPrefix, []byte(symbol), []byte{':'}, addr)
}

func lendingAssetsKey(addr []byte) []byte {
	return hashKey(lendingAssetsPrefix, addr)
}

func lendingLoanKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return hashKey(lendingLoanPrefix, buf[:])
}

func lendingBorrowerKey(addr []byte) []byte {
	return hashKey(lendingBorrowerPrefix, addr)
}

func lendingFeesKey(symbol string) []byte {
	return hashKey(lendingFeesPrefix, []byte(symbol))
}

func lendbookListingKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return hashKey(lendbookListingPrefix, buf[:])
}

func oraclePriceKey(symbol string) []byte {
	return hashKey(oraclePricePrefix, []byte(symbol))
}
