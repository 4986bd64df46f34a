package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema
//
//   cfg                         → market.Config
//   round:<id>                  → market.Round
//   stake:<id>:<address>        → market.Stake
//   bal:<token>:<address>       → balance (decimal string)
//   nonce:<address>             → last accepted tx nonce (8 bytes, big-endian)
//   head                        → chain head (height + block hash)
//   txr:<hash>                  → chain.Receipt
//
// Round IDs are zero-padded (20 digits) so prefix scans return them in order.

const (
	prefixRound   = "round:"
	prefixStake   = "stake:"
	prefixBalance = "bal:"
	prefixNonce   = "nonce:"
	prefixReceipt = "txr:"
)

func configKey() []byte { return []byte("cfg") }
func headKey() []byte   { return []byte("head") }

// roundKey returns the key for a round
// Format: "round:{id}"
func roundKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixRound, id))
}

// roundPrefix covers every round
func roundPrefix() []byte {
	return []byte(prefixRound)
}

// stakeKey returns the key for one account's stake in a round
// Format: "stake:{id}:{address}"
func stakeKey(roundID uint64, addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixStake, roundID, addr.Hex()))
}

// stakePrefix covers every stake of a round
// Format: "stake:{id}:"
func stakePrefix(roundID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:", prefixStake, roundID))
}

// balanceKey returns the key for an account balance of one token
// Format: "bal:{token}:{address}"
func balanceKey(token string, addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, token, addr.Hex()))
}

// nonceKey returns the key for an account's tx nonce
// Format: "nonce:{address}"
func nonceKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixNonce, addr.Hex()))
}

// receiptKey returns the key for a tx receipt
// Format: "txr:{hash}"
func receiptKey(tx [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", prefixReceipt, tx[:]))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
