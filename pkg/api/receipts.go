package api

import (
	"sync"

	"github.com/google/uuid"

	"github.com/uhyunpark/overunder/pkg/chain"
)

const receiptIndexSize = 4096

// receiptIndex maps the receipt IDs handed out on submission to tx hashes.
// It keeps the most recent receiptIndexSize entries; older IDs are forgotten
// and the tx stays reachable by hash.
type receiptIndex struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]chain.Hash
	order []uuid.UUID
	next  int
}

func newReceiptIndex() *receiptIndex {
	return &receiptIndex{
		byID:  make(map[uuid.UUID]chain.Hash, receiptIndexSize),
		order: make([]uuid.UUID, 0, receiptIndexSize),
	}
}

// issue records a fresh receipt ID for hash
func (ri *receiptIndex) issue(hash chain.Hash) uuid.UUID {
	id := uuid.New()

	ri.mu.Lock()
	defer ri.mu.Unlock()
	if len(ri.order) < receiptIndexSize {
		ri.order = append(ri.order, id)
	} else {
		delete(ri.byID, ri.order[ri.next])
		ri.order[ri.next] = id
		ri.next = (ri.next + 1) % receiptIndexSize
	}
	ri.byID[id] = hash
	return id
}

func (ri *receiptIndex) lookup(id uuid.UUID) (chain.Hash, bool) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	h, ok := ri.byID[id]
	return h, ok
}
