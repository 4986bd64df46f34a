package mempool

import (
	"encoding/json"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
)

// Class orders transactions into buckets
type Class int

const (
	ClassAdmin      Class = iota // create_round, resolve
	ClassSettlement              // claim, refund
	ClassBet
)

// envelope is the part of a raw tx the mempool needs for ordering
type envelope struct {
	Type   string          `json:"type"`
	Action json.RawMessage `json:"action"`
}

// sender is the ordering key inside the action
type sender struct {
	Account string `json:"account"`
	Nonce   string `json:"nonce"`
}

func decodeEnvelope(b []byte) (envelope, bool) {
	var env envelope
	if len(b) == 0 || b[0] != '{' {
		return env, false
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return env, false
	}
	return env, true
}

// ClassifyRaw classifies a raw transaction by its JSON envelope type.
// Malformed input lands in the bet bucket and is rejected when applied.
func ClassifyRaw(b []byte) Class {
	env, ok := decodeEnvelope(b)
	if !ok {
		return ClassBet
	}
	return classOf(env.Type)
}

func classOf(typ string) Class {
	switch typ {
	case "create_round", "resolve":
		return ClassAdmin
	case "claim", "refund":
		return ClassSettlement
	default:
		return ClassBet
	}
}

// entry is one pending tx with its ordering keys.
// sender is empty when the envelope carries no usable account and nonce.
type entry struct {
	raw    []byte
	key    [32]byte
	class  Class
	sender string
	nonce  *big.Int
}

func newEntry(b []byte) *entry {
	e := &entry{raw: b, key: [32]byte(crypto.Keccak256(b)), class: ClassBet}
	env, ok := decodeEnvelope(b)
	if !ok {
		return e
	}
	e.class = classOf(env.Type)
	var from sender
	if len(env.Action) == 0 || json.Unmarshal(env.Action, &from) != nil || from.Account == "" {
		return e
	}
	if n, ok := new(big.Int).SetString(from.Nonce, 10); ok {
		e.sender = strings.ToLower(from.Account)
		e.nonce = n
	}
	return e
}

// Mempool keeps three FIFO queues: admin -> settlement -> bets.
// Admin first lets a resolve and the claims it unlocks land in the same block.
// Bucket priority never reorders one account's txs: within a proposal each
// account's txs appear in nonce order.
type Mempool struct {
	mu         sync.Mutex
	admin      []*entry
	settlement []*entry
	bets       []*entry
	pending    map[[32]byte]struct{}
}

func NewMempool() *Mempool {
	return &Mempool{pending: make(map[[32]byte]struct{})}
}

// PushRaw classifies and enqueues a tx. Returns false if an identical tx is already pending.
func (m *Mempool) PushRaw(b []byte) bool {
	e := newEntry(append([]byte(nil), b...))

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.pending[e.key]; dup {
		return false
	}
	m.pending[e.key] = struct{}{}
	m.enqueue(e)
	return true
}

func (m *Mempool) enqueue(e *entry) {
	switch e.class {
	case ClassAdmin:
		m.admin = append(m.admin, e)
	case ClassSettlement:
		m.settlement = append(m.settlement, e)
	default:
		m.bets = append(m.bets, e)
	}
}

// SelectForProposal returns up to maxBytes worth of txs in bucket order,
// removing selected txs from the mempool. maxBytes <= 0 means no limit.
// Selection stops at the first tx that does not fit, so a later tx never
// overtakes an earlier one.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := make([]*entry, 0, len(m.admin)+len(m.settlement)+len(m.bets))
	queue = append(queue, m.admin...)
	queue = append(queue, m.settlement...)
	queue = append(queue, m.bets...)
	orderByNonce(queue)

	var out [][]byte
	var used int64
	cut := len(queue)
	for i, e := range queue {
		n := int64(len(e.raw))
		if maxBytes > 0 && used+n > maxBytes {
			cut = i
			break
		}
		out = append(out, e.raw)
		used += n
		delete(m.pending, e.key)
	}

	m.admin, m.settlement, m.bets = nil, nil, nil
	for _, e := range queue[cut:] {
		m.enqueue(e)
	}
	return out
}

// orderByNonce sorts each sender's txs by nonce in place, reusing the
// positions that sender already holds in q. Everyone else stays put.
func orderByNonce(q []*entry) {
	slots := make(map[string][]int)
	for i, e := range q {
		if e.sender != "" {
			slots[e.sender] = append(slots[e.sender], i)
		}
	}
	for _, idx := range slots {
		if len(idx) < 2 {
			continue
		}
		group := make([]*entry, len(idx))
		for j, i := range idx {
			group[j] = q[i]
		}
		sort.SliceStable(group, func(a, b int) bool { return group[a].nonce.Cmp(group[b].nonce) < 0 })
		for j, i := range idx {
			q[i] = group[j]
		}
	}
}

// Contains reports whether a tx with the given keccak256 hash is pending
func (m *Mempool) Contains(hash [32]byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[hash]
	return ok
}

// Len returns total pending txs
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.admin) + len(m.settlement) + len(m.bets)
}
