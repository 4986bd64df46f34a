package txgen

import (
	"fmt"
	"math/big"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/overunder/pkg/crypto"
	"github.com/uhyunpark/overunder/pkg/market"
	"github.com/uhyunpark/overunder/pkg/transaction"
)

// Reader is the market state the generator looks at
type Reader interface {
	Rounds() ([]*market.Round, error)
	Stakes(roundID uint64) ([]*market.Stake, error)
}

// NonceReader returns the last consumed nonce of an account
type NonceReader interface {
	Nonce(addr common.Address) (uint64, error)
}

// Accounts derives n deterministic devnet keys from seed, so genesis can fund them
func Accounts(seed string, n int) ([]*crypto.Signer, error) {
	out := make([]*crypto.Signer, n)
	for i := range out {
		pk := ethCrypto.Keccak256([]byte(fmt.Sprintf("%s/%d", seed, i)))
		s, err := crypto.FromPrivateKeyHex(common.Bytes2Hex(pk))
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

const createTimeout market.Tick = 5

type stakeKey struct {
	round   uint64
	account common.Address
}

// Generator creates signed transactions that drive rounds through their whole lifecycle:
// the admin (when its key is known) opens and resolves rounds, bettors stake on open
// rounds, resolved stakes are claimed and stale rounds are refunded.
type Generator struct {
	cfg     Config
	admin   *crypto.Signer // nil: only bets, claims and refunds
	signers []*crypto.Signer
	domain  crypto.EIP712Domain
	reader  Reader
	nonces  NonceReader
	clock   market.Clock
	rng     *rand.Rand

	next      map[common.Address]uint64 // next nonce to use
	sides     map[stakeKey]market.Side  // side already taken per account and round
	settled   map[stakeKey]bool         // claim or refund already submitted
	resolving map[uint64]bool
	createdAt market.Tick
	created   bool
	rounds    int
}

// NewGenerator builds a generator over the given signers
func NewGenerator(cfg Config, chainID int64, admin *crypto.Signer, signers []*crypto.Signer,
	reader Reader, nonces NonceReader, clock market.Clock) *Generator {
	if cfg.MaxBet <= 0 {
		cfg.MaxBet = 1
	}
	return &Generator{
		cfg:       cfg,
		admin:     admin,
		signers:   signers,
		domain:    crypto.DefaultDomain(chainID),
		reader:    reader,
		nonces:    nonces,
		clock:     clock,
		rng:       rand.New(rand.NewSource(cfg.RandSeed)),
		next:      make(map[common.Address]uint64),
		sides:     make(map[stakeKey]market.Side),
		settled:   make(map[stakeKey]bool),
		resolving: make(map[uint64]bool),
	}
}

// GenerateBatch returns up to cfg.BatchSize signed transactions for the current tick.
// Lifecycle actions come first; the rest of the batch is bets on open rounds.
func (g *Generator) GenerateBatch() ([][]byte, error) {
	rounds, err := g.reader.Rounds()
	if err != nil {
		return nil, err
	}
	now := g.clock.CurrentTick()

	var batch [][]byte
	add := func(raw []byte, err error) error {
		if err != nil {
			return err
		}
		batch = append(batch, raw)
		return nil
	}

	if g.admin != nil {
		if err := g.adminActions(rounds, now, add); err != nil {
			return nil, err
		}
	}
	if err := g.settlements(rounds, now, add); err != nil {
		return nil, err
	}

	var open []*market.Round
	for _, r := range rounds {
		if r.PhaseAt(now) == market.PhaseOpen {
			open = append(open, r)
		}
	}
	for len(open) > 0 && len(batch) < g.cfg.BatchSize && len(g.signers) > 0 {
		r := open[g.rng.Intn(len(open))]
		s := g.signers[g.rng.Intn(len(g.signers))]
		if err := add(g.bet(s, r.ID)); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

func (g *Generator) adminActions(rounds []*market.Round, now market.Tick, add func([]byte, error) error) error {
	hasOpen := false
	for _, r := range rounds {
		if r.Resolved() {
			continue
		}
		if now <= r.DeadlineTick {
			hasOpen = true
		}
		if now >= r.FinalityTick && !g.resolving[r.ID] {
			g.resolving[r.ID] = true
			if err := add(g.resolve(r)); err != nil {
				return err
			}
		}
	}

	// a create is in flight until the round count grows or it times out
	if g.created && (len(rounds) > g.rounds || now > g.createdAt+createTimeout) {
		g.created = false
	}
	g.rounds = len(rounds)
	if !hasOpen && !g.created {
		g.created = true
		g.createdAt = now
		return add(g.create(now))
	}
	return nil
}

func (g *Generator) settlements(rounds []*market.Round, now market.Tick, add func([]byte, error) error) error {
	for _, r := range rounds {
		phase := r.PhaseAt(now)
		if phase != market.PhaseResolved && phase != market.PhaseRefundEligible {
			continue
		}
		stakes, err := g.reader.Stakes(r.ID)
		if err != nil {
			return err
		}
		for _, st := range stakes {
			key := stakeKey{r.ID, st.Account}
			if g.settled[key] {
				continue
			}
			signer := g.signerFor(st.Account)
			if signer == nil {
				continue
			}
			switch {
			case phase == market.PhaseResolved:
				g.settled[key] = true
				if err := add(g.sign(signer, transaction.TxTypeClaim, &crypto.ActionEIP712{RoundID: u64(r.ID)})); err != nil {
					return err
				}
			case phase == market.PhaseRefundEligible:
				g.settled[key] = true
				if err := add(g.sign(signer, transaction.TxTypeRefund, &crypto.ActionEIP712{RoundID: u64(r.ID)})); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (g *Generator) create(now market.Tick) ([]byte, error) {
	predicted := uint64(50 + g.rng.Intn(100))
	deadline := uint64(now) + g.cfg.BettingTicks
	finality := deadline + g.cfg.FinalityDelay
	return g.sign(g.admin, transaction.TxTypeCreateRound, &crypto.ActionEIP712{
		Count:    u64(predicted),
		Deadline: u64(deadline),
		Finality: u64(finality),
	})
}

func (g *Generator) resolve(r *market.Round) ([]byte, error) {
	// actual lands within +/-50% of the prediction
	spread := int64(r.PredictedCount/2) + 1
	actual := int64(r.PredictedCount) + g.rng.Int63n(2*spread) - spread
	if actual < 0 {
		actual = 0
	}
	return g.sign(g.admin, transaction.TxTypeResolve, &crypto.ActionEIP712{
		RoundID: u64(r.ID),
		Count:   u64(uint64(actual)),
	})
}

func (g *Generator) bet(s *crypto.Signer, roundID uint64) ([]byte, error) {
	key := stakeKey{roundID, s.Address()}
	side, ok := g.sides[key]
	if !ok {
		side = market.Side(g.rng.Intn(2))
		g.sides[key] = side
	}
	amount := g.rng.Int63n(g.cfg.MaxBet) + 1
	return g.sign(s, transaction.TxTypeBet, &crypto.ActionEIP712{
		RoundID: u64(roundID),
		Side:    uint8(side),
		Amount:  big.NewInt(amount),
	})
}

func (g *Generator) sign(s *crypto.Signer, typ transaction.TxType, act *crypto.ActionEIP712) ([]byte, error) {
	nonce, err := g.nextNonce(s.Address())
	if err != nil {
		return nil, err
	}
	act.Account = s.Address()
	act.Nonce = u64(nonce)
	tx, err := transaction.Sign(s, g.domain, typ, act)
	if err != nil {
		return nil, err
	}
	return tx.Serialize()
}

// nextNonce starts from the committed nonce and counts locally from there,
// since generated txs may still be waiting in the mempool
func (g *Generator) nextNonce(addr common.Address) (uint64, error) {
	n, ok := g.next[addr]
	if !ok {
		last, err := g.nonces.Nonce(addr)
		if err != nil {
			return 0, fmt.Errorf("failed to load nonce: %w", err)
		}
		n = last + 1
	}
	g.next[addr] = n + 1
	return n, nil
}

func (g *Generator) signerFor(addr common.Address) *crypto.Signer {
	for _, s := range g.signers {
		if s.Address() == addr {
			return s
		}
	}
	return nil
}

func u64(v uint64) *big.Int { return new(big.Int).SetUint64(v) }
