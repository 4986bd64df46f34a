package market

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Tick is one unit of the external monotonic clock (block height on the node)
type Tick uint64

// GracePeriod is the number of ticks after finality before refunds open up
const GracePeriod Tick = 100

// EscrowAddress is the custody identity holding every staked unit
var EscrowAddress = common.BytesToAddress(crypto.Keccak256([]byte("overunder/escrow"))[12:])

// Side is the outcome a stake is placed on
type Side uint8

const (
	Lower  Side = 0
	Higher Side = 1
)

func (s Side) String() string {
	switch s {
	case Lower:
		return "lower"
	case Higher:
		return "higher"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the two market sides
func (s Side) Valid() bool {
	return s == Lower || s == Higher
}

// ParseSide accepts "higher"/"lower" or the numeric form
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(v) {
	case "higher", "1":
		return Higher, nil
	case "lower", "0":
		return Lower, nil
	default:
		return 0, fmt.Errorf("invalid side: %q", v)
	}
}

// Config is the market-wide record, created exactly once
type Config struct {
	Admin       common.Address `json:"admin"`
	Token       string         `json:"token"`
	NextRoundID uint64         `json:"next_round_id"`
}

// Resolution is the outcome of a resolved round.
// A nil *Resolution on a Round means the round is still pending.
type Resolution struct {
	WinningSide Side   `json:"winning_side"`
	ActualCount uint64 `json:"actual_count"`
	ResolvedAt  Tick   `json:"resolved_at"`
}

// Round is one over/under market instance
type Round struct {
	ID             uint64 `json:"id"`
	PredictedCount uint64 `json:"predicted_count"`
	DeadlineTick   Tick   `json:"deadline_tick"` // last tick accepting bets (inclusive)
	FinalityTick   Tick   `json:"finality_tick"` // first tick resolve is allowed
	CreatedAt      Tick   `json:"created_at"`

	// Historical pool totals (token minor units). Claims never reduce these.
	HighPool *big.Int `json:"high_pool"`
	LowPool  *big.Int `json:"low_pool"`

	Resolution *Resolution `json:"resolution,omitempty"`
}

// NewRound returns a pending round with empty pools
func NewRound(id, predicted uint64, deadline, finality, now Tick) *Round {
	return &Round{
		ID:             id,
		PredictedCount: predicted,
		DeadlineTick:   deadline,
		FinalityTick:   finality,
		CreatedAt:      now,
		HighPool:       new(big.Int),
		LowPool:        new(big.Int),
	}
}

// Resolved reports whether the outcome has been recorded
func (r *Round) Resolved() bool {
	return r.Resolution != nil
}

// Pool returns the accumulated total for one side
func (r *Round) Pool(side Side) *big.Int {
	if side == Higher {
		return r.HighPool
	}
	return r.LowPool
}

// TotalPool returns high_pool + low_pool as a fresh value
func (r *Round) TotalPool() *big.Int {
	return new(big.Int).Add(r.HighPool, r.LowPool)
}

// Clone returns a deep copy so callers can mutate without touching cached state
func (r *Round) Clone() *Round {
	cp := *r
	cp.HighPool = new(big.Int).Set(r.HighPool)
	cp.LowPool = new(big.Int).Set(r.LowPool)
	if r.Resolution != nil {
		res := *r.Resolution
		cp.Resolution = &res
	}
	return &cp
}

// Phase is the lifecycle state of a round, derived from the clock
type Phase uint8

const (
	PhaseOpen Phase = iota
	PhaseBettingClosed
	PhaseResolved
	PhaseRefundEligible
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseBettingClosed:
		return "betting_closed"
	case PhaseResolved:
		return "resolved"
	case PhaseRefundEligible:
		return "refund_eligible"
	default:
		return "unknown"
	}
}

// PhaseAt evaluates the round state machine at the given tick
func (r *Round) PhaseAt(now Tick) Phase {
	switch {
	case r.Resolved():
		return PhaseResolved
	case now <= r.DeadlineTick:
		return PhaseOpen
	case refundOpen(r, now):
		return PhaseRefundEligible
	default:
		return PhaseBettingClosed
	}
}

// refundOpen is now > finality + GracePeriod, written to avoid overflow
func refundOpen(r *Round, now Tick) bool {
	return now > r.FinalityTick && now-r.FinalityTick > GracePeriod
}

// RefundOpensAfter is the last tick at which refunds are still closed,
// FinalityTick + GracePeriod saturated at math.MaxUint64.
func (r *Round) RefundOpensAfter() Tick {
	if r.FinalityTick > math.MaxUint64-GracePeriod {
		return math.MaxUint64
	}
	return r.FinalityTick + GracePeriod
}

// Stake is one account's position in a round
type Stake struct {
	RoundID uint64         `json:"round_id"`
	Account common.Address `json:"account"`
	Side    Side           `json:"side"`
	Amount  *big.Int       `json:"amount"`
}

// Payout computes a winner's share: amount * (high+low) / winningPool, floored.
// Returns zero when the stake is on the losing side.
func Payout(r *Round, s *Stake) *big.Int {
	if r.Resolution == nil || s.Side != r.Resolution.WinningSide {
		return new(big.Int)
	}
	winning := r.Pool(r.Resolution.WinningSide)
	if winning.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(s.Amount, r.TotalPool())
	return out.Quo(out, winning)
}
