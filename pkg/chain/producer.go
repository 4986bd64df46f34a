package chain

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/overunder/pkg/market"
	"github.com/uhyunpark/overunder/pkg/util"
)

// Config tunes the block loop
type Config struct {
	MinBlockTime time.Duration
	MaxTxBytes   int64 // per block; <= 0 means unlimited
}

func DefaultConfig() Config {
	return Config{MinBlockTime: time.Second, MaxTxBytes: 1 << 24}
}

// Producer is the single block producer. Every block advances the height by one,
// and the height is the tick the market sees.
type Producer struct {
	cfg     Config
	app     Executor
	mempool Mempool
	store   HeadStore
	wal     WAL
	clock   util.Clock
	logger  *zap.SugaredLogger

	height atomic.Uint64
	mu     sync.Mutex // serializes block production
	last   Hash

	// OnBlockCommit fires after the head is persisted
	OnBlockCommit func(Block)
}

// NewProducer resumes from the persisted head (height 0 on a fresh store)
func NewProducer(cfg Config, app Executor, mp Mempool, store HeadStore, wal WAL, clock util.Clock, logger *zap.SugaredLogger) (*Producer, error) {
	if clock == nil {
		clock = util.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	height, hash, err := store.LoadHead()
	if err != nil {
		return nil, fmt.Errorf("failed to load chain head: %w", err)
	}
	p := &Producer{
		cfg:     cfg,
		app:     app,
		mempool: mp,
		store:   store,
		wal:     wal,
		clock:   clock,
		logger:  logger,
		last:    hash,
	}
	p.height.Store(height)
	return p, nil
}

// CurrentTick implements market.Clock
func (p *Producer) CurrentTick() market.Tick {
	return market.Tick(p.height.Load())
}

// Height returns the last committed (or in-progress) height
func (p *Producer) Height() Height {
	return Height(p.height.Load())
}

// LastHash returns the hash of the last committed block
func (p *Producer) LastHash() Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Receipt returns the stored outcome of a committed tx, nil if none is known
func (p *Producer) Receipt(tx Hash) (*Receipt, error) {
	return p.store.LoadReceipt(tx)
}

// Run produces a block every MinBlockTime until ctx is cancelled
func (p *Producer) Run(ctx context.Context) error {
	p.logger.Infow("producer_start", "height", p.Height(), "block_time", p.cfg.MinBlockTime)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(p.cfg.MinBlockTime):
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.ProduceBlock(ctx); err != nil {
			return err
		}
	}
}

// ProduceBlock advances the height, applies pending txs in mempool order
// and persists the new head with one receipt per tx. Tx failures are recorded, not returned.
func (p *Producer) ProduceBlock(ctx context.Context) (Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := Height(p.height.Load() + 1)
	p.height.Store(uint64(next))

	txs := p.mempool.SelectForProposal(p.cfg.MaxTxBytes)
	results := make([]TxResult, len(txs))
	receipts := make([]Receipt, len(txs))
	failed := 0
	for i, tx := range txs {
		results[i] = TxResult{TxHash: TxHash(tx), Err: p.app.ApplyTx(ctx, tx)}
		receipts[i] = newReceipt(next, i, results[i])
		if results[i].Err != nil {
			failed++
			p.logger.Infow("tx_rejected", "height", next, "tx", results[i].TxHash.String(), "code", receipts[i].Code, "err", results[i].Err)
		}
	}

	blk := Block{
		Height:  next,
		Parent:  p.last,
		Hash:    HashOfBlock(next, p.last, txs),
		Time:    p.clock.Now(),
		Txs:     txs,
		Results: results,
	}
	if err := p.store.CommitBlock(uint64(next), blk.Hash, receipts); err != nil {
		return Block{}, fmt.Errorf("failed to persist head at %d: %w", next, err)
	}
	p.last = blk.Hash

	if p.wal != nil {
		p.wal.Append(fmt.Sprintf("commit height=%d txs=%d failed=%d hash=0x%x", next, len(txs), failed, blk.Hash[:]))
	}
	// Quiet logging: only log non-empty blocks
	if len(txs) > 0 {
		p.logger.Infow("commit", "height", next, "txs", len(txs), "failed", failed, "hash", fmt.Sprintf("0x%x", blk.Hash[:8]))
	}
	if p.OnBlockCommit != nil {
		p.OnBlockCommit(blk)
	}
	return blk, nil
}

var _ market.Clock = (*Producer)(nil)
