package storage

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/overunder/pkg/chain"
	"github.com/uhyunpark/overunder/pkg/market"
)

// backend is the raw key-value substrate (Pebble on disk, a map in tests)
type backend interface {
	get(key []byte) ([]byte, error) // (nil, nil) when the key is missing
	scan(prefix []byte, fn func(key, val []byte) error) error
	newBatch() backendBatch
	close() error
}

type backendBatch interface {
	set(key, val []byte) error
	delete(key []byte) error
	commit() error
	close() error
}

// Store persists market records, custody balances, tx nonces, the chain head and tx receipts.
// Missing and deleted keys both load as (nil, nil).
type Store struct {
	kv backend
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.kv.close()
}

// ============================================================================
// Market records
// ============================================================================

// LoadConfig loads the market config; nil if never initialised
func (s *Store) LoadConfig() (*market.Config, error) {
	data, err := s.kv.get(configKey())
	if err != nil || data == nil {
		return nil, err
	}
	var cfg market.Config
	if err := decodeJSON(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// LoadRound loads a round; nil if it doesn't exist
func (s *Store) LoadRound(id uint64) (*market.Round, error) {
	data, err := s.kv.get(roundKey(id))
	if err != nil || data == nil {
		return nil, err
	}
	return decodeRound(data)
}

// LoadRounds loads every round in ID order
func (s *Store) LoadRounds() ([]*market.Round, error) {
	var rounds []*market.Round
	err := s.kv.scan(roundPrefix(), func(_, val []byte) error {
		r, err := decodeRound(val)
		if err != nil {
			return err
		}
		rounds = append(rounds, r)
		return nil
	})
	return rounds, err
}

// LoadStake loads an account's stake in a round; nil if absent or consumed
func (s *Store) LoadStake(roundID uint64, addr common.Address) (*market.Stake, error) {
	data, err := s.kv.get(stakeKey(roundID, addr))
	if err != nil || data == nil {
		return nil, err
	}
	return decodeStake(data)
}

// LoadStakes loads all remaining stakes of a round, ordered by address
func (s *Store) LoadStakes(roundID uint64) ([]*market.Stake, error) {
	var stakes []*market.Stake
	err := s.kv.scan(stakePrefix(roundID), func(_, val []byte) error {
		st, err := decodeStake(val)
		if err != nil {
			return err
		}
		stakes = append(stakes, st)
		return nil
	})
	return stakes, err
}

// NewBatch starts an atomic group of market writes
func (s *Store) NewBatch() market.Batch {
	return &Batch{b: s.kv.newBatch()}
}

func decodeRound(data []byte) (*market.Round, error) {
	var r market.Round
	if err := decodeJSON(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal round: %w", err)
	}
	if r.HighPool == nil {
		r.HighPool = new(big.Int)
	}
	if r.LowPool == nil {
		r.LowPool = new(big.Int)
	}
	return &r, nil
}

func decodeStake(data []byte) (*market.Stake, error) {
	var st market.Stake
	if err := decodeJSON(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stake: %w", err)
	}
	if st.Amount == nil {
		st.Amount = new(big.Int)
	}
	return &st, nil
}

// Batch provides atomic batch writes for market records
type Batch struct {
	b backendBatch
}

// SaveConfig adds a config save to the batch
func (bw *Batch) SaveConfig(cfg *market.Config) error {
	data, err := encodeJSON(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return bw.b.set(configKey(), data)
}

// SaveRound adds a round save to the batch
func (bw *Batch) SaveRound(r *market.Round) error {
	data, err := encodeJSON(r)
	if err != nil {
		return fmt.Errorf("failed to marshal round: %w", err)
	}
	return bw.b.set(roundKey(r.ID), data)
}

// SaveStake adds a stake save to the batch
func (bw *Batch) SaveStake(st *market.Stake) error {
	data, err := encodeJSON(st)
	if err != nil {
		return fmt.Errorf("failed to marshal stake: %w", err)
	}
	return bw.b.set(stakeKey(st.RoundID, st.Account), data)
}

// DeleteStake adds a stake removal to the batch
func (bw *Batch) DeleteStake(roundID uint64, addr common.Address) error {
	return bw.b.delete(stakeKey(roundID, addr))
}

// SaveBalance adds a custody balance write to the batch
func (bw *Batch) SaveBalance(token string, addr common.Address, bal *big.Int) error {
	return bw.b.set(balanceKey(token, addr), encodeBig(bal))
}

// Commit writes the batch atomically
func (bw *Batch) Commit() error {
	return bw.b.commit()
}

// Close releases the batch without committing
func (bw *Batch) Close() error {
	return bw.b.close()
}

// ============================================================================
// Custody balances
// ============================================================================

// LoadBalance loads a token balance; nil if the account never held any
func (s *Store) LoadBalance(token string, addr common.Address) (*big.Int, error) {
	data, err := s.kv.get(balanceKey(token, addr))
	if err != nil || data == nil {
		return nil, err
	}
	return decodeBig(data)
}

// SaveBalances writes several balances of one token atomically
func (s *Store) SaveBalances(token string, balances map[common.Address]*big.Int) error {
	b := s.kv.newBatch()
	defer b.close()
	for addr, bal := range balances {
		if err := b.set(balanceKey(token, addr), encodeBig(bal)); err != nil {
			return fmt.Errorf("failed to stage balance: %w", err)
		}
	}
	if err := b.commit(); err != nil {
		return fmt.Errorf("failed to save balances: %w", err)
	}
	return nil
}

// ============================================================================
// Tx nonces
// ============================================================================

// LoadNonce returns the last accepted nonce for addr (0 if none)
func (s *Store) LoadNonce(addr common.Address) (uint64, error) {
	data, err := s.kv.get(nonceKey(addr))
	if err != nil || data == nil {
		return 0, err
	}
	return decodeUint64(data)
}

// SaveNonce records the last accepted nonce for addr
func (s *Store) SaveNonce(addr common.Address, nonce uint64) error {
	b := s.kv.newBatch()
	defer b.close()
	if err := b.set(nonceKey(addr), encodeUint64(nonce)); err != nil {
		return err
	}
	if err := b.commit(); err != nil {
		return fmt.Errorf("failed to save nonce: %w", err)
	}
	return nil
}

// ============================================================================
// Chain head
// ============================================================================

// LoadHead returns the last committed height and block hash (zero values on a fresh db)
func (s *Store) LoadHead() (uint64, [32]byte, error) {
	var hash [32]byte
	data, err := s.kv.get(headKey())
	if err != nil || data == nil {
		return 0, hash, err
	}
	if len(data) != 8+32 {
		return 0, hash, fmt.Errorf("invalid head record length: %d", len(data))
	}
	height, err := decodeUint64(data[:8])
	if err != nil {
		return 0, hash, err
	}
	copy(hash[:], data[8:])
	return height, hash, nil
}

// CommitBlock records the new head and the block's tx receipts in one batch.
// A tx hash that already has a receipt keeps it.
func (s *Store) CommitBlock(height uint64, hash [32]byte, receipts []chain.Receipt) error {
	b := s.kv.newBatch()
	defer b.close()
	if err := b.set(headKey(), append(encodeUint64(height), hash[:]...)); err != nil {
		return err
	}

	seen := make(map[chain.Hash]struct{}, len(receipts))
	for _, rc := range receipts {
		if _, dup := seen[rc.TxHash]; dup {
			continue
		}
		seen[rc.TxHash] = struct{}{}
		prev, err := s.kv.get(receiptKey(rc.TxHash))
		if err != nil {
			return fmt.Errorf("failed to load receipt: %w", err)
		}
		if prev != nil {
			continue
		}
		data, err := encodeJSON(rc)
		if err != nil {
			return fmt.Errorf("failed to marshal receipt: %w", err)
		}
		if err := b.set(receiptKey(rc.TxHash), data); err != nil {
			return err
		}
	}
	if err := b.commit(); err != nil {
		return fmt.Errorf("failed to save head: %w", err)
	}
	return nil
}

// LoadReceipt loads the receipt of a committed tx; nil if the hash is unknown
func (s *Store) LoadReceipt(tx chain.Hash) (*chain.Receipt, error) {
	data, err := s.kv.get(receiptKey(tx))
	if err != nil || data == nil {
		return nil, err
	}
	var rc chain.Receipt
	if err := decodeJSON(data, &rc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}
	rc.TxHash = tx
	return &rc, nil
}

var _ market.Store = (*Store)(nil)
var _ market.Batch = (*Batch)(nil)
var _ chain.HeadStore = (*Store)(nil)
