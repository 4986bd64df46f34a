package chain_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/overunder/pkg/chain"
	"github.com/uhyunpark/overunder/pkg/market"
	"github.com/uhyunpark/overunder/pkg/mempool"
	"github.com/uhyunpark/overunder/pkg/storage"
	"github.com/uhyunpark/overunder/pkg/util"
)

// recordingApp remembers the tick each tx was applied at
type recordingApp struct {
	mu    sync.Mutex
	clock market.Clock
	seen  map[string]market.Tick
}

func (a *recordingApp) ApplyTx(_ context.Context, raw []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen[string(raw)] = a.clock.CurrentTick()
	switch string(raw) {
	case "bad":
		return errors.New("rejected")
	case "late":
		return fmt.Errorf("%w: tick 9 > deadline 3", market.ErrBettingClosed)
	}
	return nil
}

type walLines struct{ lines []string }

func (w *walLines) Append(l string) { w.lines = append(w.lines, l) }

func newProducer(t *testing.T, st *storage.Store, mp *mempool.Mempool) (*chain.Producer, *recordingApp, *walLines) {
	t.Helper()
	app := &recordingApp{seen: map[string]market.Tick{}}
	wal := &walLines{}
	p, err := chain.NewProducer(chain.DefaultConfig(), app, mp, st, wal, util.NewStepClock(time.Unix(0, 0)), nil)
	require.NoError(t, err)
	app.clock = p
	return p, app, wal
}

func TestProducer_HeightIsTick(t *testing.T) {
	mp := mempool.NewMempool()
	p, app, wal := newProducer(t, storage.NewMemStore(), mp)
	ctx := context.Background()

	assert.Equal(t, market.Tick(0), p.CurrentTick())

	mp.PushRaw([]byte("a"))
	mp.PushRaw([]byte("bad"))
	blk, err := p.ProduceBlock(ctx)
	require.NoError(t, err)

	assert.Equal(t, chain.Height(1), blk.Height)
	assert.Equal(t, market.Tick(1), app.seen["a"])
	require.Len(t, blk.Results, 2)
	assert.NoError(t, blk.Results[0].Err)
	assert.Error(t, blk.Results[1].Err)
	assert.Len(t, wal.lines, 1)

	blk2, err := p.ProduceBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, chain.Height(2), blk2.Height)
	assert.Equal(t, blk.Hash, blk2.Parent)
	assert.Equal(t, market.Tick(2), p.CurrentTick())
}

func TestProducer_StoresReceipts(t *testing.T) {
	mp := mempool.NewMempool()
	p, _, _ := newProducer(t, storage.NewMemStore(), mp)

	for _, tx := range []string{"a", "bad", "late"} {
		mp.PushRaw([]byte(tx))
	}
	_, err := p.ProduceBlock(context.Background())
	require.NoError(t, err)

	tests := []struct {
		tx     string
		index  int
		code   uint32
		failed bool
	}{
		{"a", 0, 0, false},
		{"bad", 1, uint32(market.CodeInternal), true},
		{"late", 2, uint32(market.CodeBettingClosed), true},
	}
	for _, tt := range tests {
		rc, err := p.Receipt(chain.TxHash([]byte(tt.tx)))
		require.NoError(t, err)
		require.NotNil(t, rc, tt.tx)
		assert.Equal(t, chain.Height(1), rc.Height)
		assert.Equal(t, tt.index, rc.Index)
		assert.Equal(t, tt.code, rc.Code, tt.tx)
		assert.Equal(t, tt.failed, rc.Failed(), tt.tx)
	}

	rc, err := p.Receipt(chain.TxHash([]byte("never sent")))
	require.NoError(t, err)
	assert.Nil(t, rc)
}

func TestProducer_ResumesFromHead(t *testing.T) {
	st := storage.NewMemStore()
	mp := mempool.NewMempool()
	p, _, _ := newProducer(t, st, mp)
	for i := 0; i < 3; i++ {
		_, err := p.ProduceBlock(context.Background())
		require.NoError(t, err)
	}
	last := p.LastHash()

	p2, _, _ := newProducer(t, st, mp)
	assert.Equal(t, chain.Height(3), p2.Height())
	assert.Equal(t, last, p2.LastHash())

	blk, err := p2.ProduceBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, last, blk.Parent)
}

func TestProducer_RunStopsOnCancel(t *testing.T) {
	p, _, _ := newProducer(t, storage.NewMemStore(), mempool.NewMempool())

	ctx, cancel := context.WithCancel(context.Background())
	var commits int
	p.OnBlockCommit = func(b chain.Block) {
		commits++
		if commits == 5 {
			cancel()
		}
	}

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, commits)
	assert.Equal(t, chain.Height(5), p.Height())
}

func TestHashOfBlock_Deterministic(t *testing.T) {
	txs := [][]byte{[]byte("x"), []byte("y")}
	h1 := chain.HashOfBlock(1, chain.Hash{}, txs)
	h2 := chain.HashOfBlock(1, chain.Hash{}, txs)
	assert.Equal(t, h1, h2)

	assert.NotEqual(t, h1, chain.HashOfBlock(2, chain.Hash{}, txs))
	assert.NotEqual(t, h1, chain.HashOfBlock(1, chain.Hash{}, [][]byte{[]byte("y"), []byte("x")}))
}
