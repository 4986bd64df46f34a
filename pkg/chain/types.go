package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/overunder/pkg/market"
)

type Height uint64

type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// Block is one committed batch of transactions. Height doubles as the market tick.
type Block struct {
	Height  Height
	Parent  Hash
	Hash    Hash
	Time    time.Time
	Txs     [][]byte
	Results []TxResult
}

// TxResult records the outcome of one transaction in a block.
// Failed transactions stay in the block; Err says why they had no effect.
type TxResult struct {
	TxHash Hash
	Err    error
}

// Receipt is the stored outcome of one transaction, looked up by its hash.
// Code is the market failure code: 0 on success, 255 for rejections that never
// reached the market (bad signature, stale nonce, malformed payload).
type Receipt struct {
	TxHash Hash   `json:"-"`
	Height Height `json:"height"`
	Index  int    `json:"index"`
	Code   uint32 `json:"code"`
	Error  string `json:"error,omitempty"`
}

// Failed reports whether the tx had no effect
func (r *Receipt) Failed() bool { return r.Error != "" }

func newReceipt(height Height, index int, res TxResult) Receipt {
	rc := Receipt{TxHash: res.TxHash, Height: height, Index: index}
	if res.Err != nil {
		rc.Code = uint32(market.CodeOf(res.Err))
		rc.Error = res.Err.Error()
	}
	return rc
}

// TxHash is keccak256 of the raw transaction bytes
func TxHash(tx []byte) Hash {
	var out Hash
	h := sha3.NewLegacyKeccak256()
	h.Write(tx)
	h.Sum(out[:0])
	return out
}

// HashOfBlock commits to height, parent and the ordered tx hashes.
// Time is left out so replaying the same txs yields the same chain.
func HashOfBlock(height Height, parent Hash, txs [][]byte) Hash {
	h := sha3.NewLegacyKeccak256()

	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], uint64(height))
	h.Write(heightBuf[:])
	h.Write(parent[:])
	for _, tx := range txs {
		th := TxHash(tx)
		h.Write(th[:])
	}

	var out Hash
	h.Sum(out[:0])
	return out
}

// ---- Collaborators (impl in pkg/app, pkg/mempool, pkg/storage) ----

// Executor applies one raw transaction against application state
type Executor interface {
	ApplyTx(ctx context.Context, raw []byte) error
}

type Mempool interface {
	SelectForProposal(maxBytes int64) [][]byte
}

// HeadStore persists the chain head together with each block's receipts.
// The first receipt stored for a tx hash is kept; later replays don't replace it.
type HeadStore interface {
	LoadHead() (uint64, [32]byte, error)
	CommitBlock(height uint64, hash [32]byte, receipts []Receipt) error
	LoadReceipt(tx Hash) (*Receipt, error)
}

type WAL interface {
	Append(line string)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, raw []byte) error

func (f ExecutorFunc) ApplyTx(ctx context.Context, raw []byte) error { return f(ctx, raw) }
