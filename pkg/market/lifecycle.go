package market

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// CreateRound opens a new round and returns its sequential ID.
// Bets are accepted up to and including deadline; resolution from finality on.
func (m *Market) CreateRound(ctx context.Context, requestor common.Address, predicted uint64, deadline, finality Tick) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := m.requireAdmin(ctx, requestor)
	if err != nil {
		return 0, err
	}
	if deadline >= finality {
		return 0, fmt.Errorf("%w: deadline %d must be before finality %d", ErrInvalidWindow, deadline, finality)
	}

	now := m.clock.CurrentTick()
	id := cfg.NextRoundID
	round := NewRound(id, predicted, deadline, finality, now)

	next := *cfg
	next.NextRoundID = id + 1
	err = m.commit(func(b Batch) error {
		if err := b.SaveConfig(&next); err != nil {
			return err
		}
		return b.SaveRound(round)
	})
	if err != nil {
		return 0, err
	}

	m.logger.Info("round_created",
		zap.Uint64("round", id),
		zap.Uint64("predicted", predicted),
		zap.Uint64("deadline", uint64(deadline)),
		zap.Uint64("finality", uint64(finality)),
		zap.Uint64("tick", uint64(now)))
	m.emit(Event{Type: EventRoundCreated, RoundID: id, Account: requestor, Tick: now})
	return id, nil
}

// Resolve records the observed count. Ties go to Lower.
func (m *Market) Resolve(ctx context.Context, requestor common.Address, roundID uint64, actual uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.requireAdmin(ctx, requestor); err != nil {
		return err
	}
	round, err := m.loadRound(roundID)
	if err != nil {
		return err
	}

	now := m.clock.CurrentTick()
	if now < round.FinalityTick {
		return fmt.Errorf("%w: tick %d < finality %d", ErrTooEarly, now, round.FinalityTick)
	}
	if round.Resolved() {
		return fmt.Errorf("%w: round %d", ErrAlreadyResolved, roundID)
	}

	winner := Lower
	if actual > round.PredictedCount {
		winner = Higher
	}
	round.Resolution = &Resolution{WinningSide: winner, ActualCount: actual, ResolvedAt: now}

	if err := m.commit(func(b Batch) error { return b.SaveRound(round) }); err != nil {
		return err
	}

	m.logger.Info("round_resolved",
		zap.Uint64("round", roundID),
		zap.Uint64("actual", actual),
		zap.Uint64("predicted", round.PredictedCount),
		zap.Stringer("winner", winner),
		zap.String("high_pool", round.HighPool.String()),
		zap.String("low_pool", round.LowPool.String()))
	m.emit(Event{Type: EventRoundResolved, RoundID: roundID, Side: winner, Tick: now})
	return nil
}
