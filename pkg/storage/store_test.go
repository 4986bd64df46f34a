package storage

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/overunder/pkg/chain"
	"github.com/uhyunpark/overunder/pkg/market"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

// eachBackend runs fn against the in-memory and the Pebble store
func eachBackend(t *testing.T, fn func(t *testing.T, s *Store)) {
	t.Run("mem", func(t *testing.T) {
		s := NewMemStore()
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
	t.Run("pebble", func(t *testing.T) {
		s, err := NewPebbleStore(filepath.Join(t.TempDir(), "db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func TestStore_MissingRecordsAreNil(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *Store) {
		cfg, err := s.LoadConfig()
		require.NoError(t, err)
		assert.Nil(t, cfg)

		r, err := s.LoadRound(7)
		require.NoError(t, err)
		assert.Nil(t, r)

		st, err := s.LoadStake(7, alice)
		require.NoError(t, err)
		assert.Nil(t, st)

		bal, err := s.LoadBalance("USDC", alice)
		require.NoError(t, err)
		assert.Nil(t, bal)

		n, err := s.LoadNonce(alice)
		require.NoError(t, err)
		assert.Zero(t, n)

		h, hash, err := s.LoadHead()
		require.NoError(t, err)
		assert.Zero(t, h)
		assert.Equal(t, [32]byte{}, hash)
	})
}

func TestStore_BatchRoundTrip(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *Store) {
		round := market.NewRound(3, 50, 10, 20, 1)
		round.HighPool.SetInt64(400)
		round.Resolution = &market.Resolution{WinningSide: market.Higher, ActualCount: 60, ResolvedAt: 21}

		b := s.NewBatch()
		require.NoError(t, b.SaveConfig(&market.Config{Admin: alice, Token: "USDC", NextRoundID: 4}))
		require.NoError(t, b.SaveRound(round))
		require.NoError(t, b.SaveStake(&market.Stake{RoundID: 3, Account: bob, Side: market.Higher, Amount: big.NewInt(400)}))
		require.NoError(t, b.Commit())
		require.NoError(t, b.Close())

		cfg, err := s.LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, alice, cfg.Admin)
		assert.Equal(t, uint64(4), cfg.NextRoundID)

		got, err := s.LoadRound(3)
		require.NoError(t, err)
		assert.Equal(t, "400", got.HighPool.String())
		assert.Equal(t, "0", got.LowPool.String())
		require.NotNil(t, got.Resolution)
		assert.Equal(t, market.Higher, got.Resolution.WinningSide)

		st, err := s.LoadStake(3, bob)
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.Equal(t, "400", st.Amount.String())
	})
}

func TestStore_UncommittedBatchIsInvisible(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *Store) {
		b := s.NewBatch()
		require.NoError(t, b.SaveRound(market.NewRound(0, 1, 2, 3, 0)))
		require.NoError(t, b.Close())

		r, err := s.LoadRound(0)
		require.NoError(t, err)
		assert.Nil(t, r)
	})
}

func TestStore_DeleteStake(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *Store) {
		b := s.NewBatch()
		require.NoError(t, b.SaveStake(&market.Stake{RoundID: 1, Account: alice, Side: market.Lower, Amount: big.NewInt(5)}))
		require.NoError(t, b.SaveStake(&market.Stake{RoundID: 1, Account: bob, Side: market.Higher, Amount: big.NewInt(6)}))
		require.NoError(t, b.Commit())
		b.Close()

		b = s.NewBatch()
		require.NoError(t, b.DeleteStake(1, alice))
		require.NoError(t, b.Commit())
		b.Close()

		st, err := s.LoadStake(1, alice)
		require.NoError(t, err)
		assert.Nil(t, st)

		stakes, err := s.LoadStakes(1)
		require.NoError(t, err)
		require.Len(t, stakes, 1)
		assert.Equal(t, bob, stakes[0].Account)
	})
}

func TestStore_ScansAreScopedAndOrdered(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *Store) {
		b := s.NewBatch()
		for _, id := range []uint64{10, 2, 1} {
			require.NoError(t, b.SaveRound(market.NewRound(id, 0, 1, 2, 0)))
			require.NoError(t, b.SaveStake(&market.Stake{RoundID: id, Account: alice, Amount: big.NewInt(1)}))
		}
		require.NoError(t, b.Commit())
		b.Close()

		rounds, err := s.LoadRounds()
		require.NoError(t, err)
		require.Len(t, rounds, 3)
		assert.Equal(t, []uint64{1, 2, 10}, []uint64{rounds[0].ID, rounds[1].ID, rounds[2].ID})

		stakes, err := s.LoadStakes(1)
		require.NoError(t, err)
		assert.Len(t, stakes, 1)
	})
}

func TestStore_BalancesNoncesHead(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *Store) {
		require.NoError(t, s.SaveBalances("USDC", map[common.Address]*big.Int{
			alice: big.NewInt(100),
			bob:   big.NewInt(0),
		}))
		bal, err := s.LoadBalance("USDC", alice)
		require.NoError(t, err)
		assert.Equal(t, "100", bal.String())

		other, err := s.LoadBalance("DAI", alice)
		require.NoError(t, err)
		assert.Nil(t, other)

		require.NoError(t, s.SaveNonce(alice, 42))
		n, err := s.LoadNonce(alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), n)

		hash := [32]byte{1, 2, 3}
		require.NoError(t, s.CommitBlock(99, hash, nil))
		h, got, err := s.LoadHead()
		require.NoError(t, err)
		assert.Equal(t, uint64(99), h)
		assert.Equal(t, hash, got)
	})
}

func TestPebbleStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	s, err := NewPebbleStore(path)
	require.NoError(t, err)

	b := s.NewBatch()
	require.NoError(t, b.SaveConfig(&market.Config{Admin: alice, Token: "USDC", NextRoundID: 1}))
	require.NoError(t, b.Commit())
	b.Close()
	require.NoError(t, s.Close())

	s, err = NewPebbleStore(path)
	require.NoError(t, err)
	defer s.Close()

	cfg, err := s.LoadConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "USDC", cfg.Token)
}

func TestFileWAL_Append(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := NewFileWAL(path)
	require.NoError(t, err)
	w.Append("block 1")
	w.Append("block 2")
	require.NoError(t, w.Close())

	NewNopWAL().Append("ignored")
}

func TestStore_BatchStagesBalances(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *Store) {
		b := s.NewBatch()
		require.NoError(t, b.SaveBalance("USDC", alice, big.NewInt(70)))
		require.NoError(t, b.SaveStake(&market.Stake{RoundID: 1, Account: alice, Side: market.Lower, Amount: big.NewInt(30)}))
		require.NoError(t, b.Close())

		bal, err := s.LoadBalance("USDC", alice)
		require.NoError(t, err)
		assert.Nil(t, bal, "closed without commit")

		b = s.NewBatch()
		require.NoError(t, b.SaveBalance("USDC", alice, big.NewInt(70)))
		require.NoError(t, b.Commit())
		require.NoError(t, b.Close())
		bal, err = s.LoadBalance("USDC", alice)
		require.NoError(t, err)
		assert.Equal(t, "70", bal.String())
	})
}

func TestStore_Receipts(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *Store) {
		ok := chain.Hash{0xaa}
		bad := chain.Hash{0xbb}

		rc, err := s.LoadReceipt(ok)
		require.NoError(t, err)
		assert.Nil(t, rc)

		require.NoError(t, s.CommitBlock(4, [32]byte{4}, []chain.Receipt{
			{TxHash: ok, Height: 4, Index: 0},
			{TxHash: bad, Height: 4, Index: 1, Code: 4, Error: "betting closed"},
		}))

		rc, err = s.LoadReceipt(bad)
		require.NoError(t, err)
		require.NotNil(t, rc)
		assert.Equal(t, bad, rc.TxHash)
		assert.Equal(t, chain.Height(4), rc.Height)
		assert.Equal(t, uint32(4), rc.Code)
		assert.True(t, rc.Failed())

		// a replay of the same tx later fails, but the first outcome stands
		require.NoError(t, s.CommitBlock(5, [32]byte{5}, []chain.Receipt{
			{TxHash: ok, Height: 5, Code: 255, Error: "nonce too low"},
		}))
		rc, err = s.LoadReceipt(ok)
		require.NoError(t, err)
		require.NotNil(t, rc)
		assert.Equal(t, chain.Height(4), rc.Height)
		assert.False(t, rc.Failed())

		h, _, err := s.LoadHead()
		require.NoError(t, err)
		assert.Equal(t, uint64(5), h)
	})
}
