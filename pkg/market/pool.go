package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// PlaceBet moves amount into escrow and folds it into the round's side pool.
// The transfer, pool and stake commit together or not at all.
// Repeat bets accumulate; a repeat bet on the other side fails with ErrSideMismatch.
func (m *Market) PlaceBet(ctx context.Context, account common.Address, roundID uint64, side Side, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if !side.Valid() {
		return fmt.Errorf("invalid side: %d", side)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireCaller(ctx, account); err != nil {
		return err
	}
	cfg, err := m.loadConfig()
	if err != nil {
		return err
	}
	round, err := m.loadRound(roundID)
	if err != nil {
		return err
	}

	now := m.clock.CurrentTick()
	if now > round.DeadlineTick {
		return fmt.Errorf("%w: tick %d > deadline %d", ErrBettingClosed, now, round.DeadlineTick)
	}

	stake, err := m.store.LoadStake(roundID, account)
	if err != nil {
		return fmt.Errorf("failed to load stake: %w", err)
	}
	if stake != nil && stake.Side != side {
		return fmt.Errorf("%w: existing stake is on %s", ErrSideMismatch, stake.Side)
	}

	pool := round.Pool(side)
	pool.Add(pool, amount)
	if stake == nil {
		stake = &Stake{RoundID: roundID, Account: account, Side: side, Amount: new(big.Int)}
	}
	stake.Amount.Add(stake.Amount, amount)

	// The escrow transfer lands in the same batch as the pool and stake.
	err = m.commit(func(b Batch) error {
		if err := m.custody.StageTransfer(ctx, b, cfg.Token, account, EscrowAddress, amount); err != nil {
			return fmt.Errorf("failed to transfer stake: %w", err)
		}
		if err := b.SaveRound(round); err != nil {
			return err
		}
		return b.SaveStake(stake)
	})
	if err != nil {
		return err
	}

	m.logger.Info("bet_placed",
		zap.Uint64("round", roundID),
		zap.String("account", account.Hex()),
		zap.Stringer("side", side),
		zap.String("amount", amount.String()),
		zap.String("stake", stake.Amount.String()),
		zap.Uint64("tick", uint64(now)))
	m.emit(Event{Type: EventBetPlaced, RoundID: roundID, Account: account, Side: side, Amount: new(big.Int).Set(amount), Tick: now})
	return nil
}
