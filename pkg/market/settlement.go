package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Claim settles the account's stake in a resolved round and returns the payout.
// Losing stakes are consumed with a zero payout and no error.
func (m *Market) Claim(ctx context.Context, account common.Address, roundID uint64) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireCaller(ctx, account); err != nil {
		return nil, err
	}
	round, err := m.loadRound(roundID)
	if err != nil {
		return nil, err
	}
	if !round.Resolved() {
		return nil, fmt.Errorf("%w: round %d", ErrNotResolved, roundID)
	}
	stake, payout, err := m.consumeStake(ctx, round, account, func(s *Stake) *big.Int { return Payout(round, s) })
	if err != nil {
		return nil, err
	}

	now := m.clock.CurrentTick()
	if payout.Sign() == 0 {
		m.logger.Info("stake_forfeited",
			zap.Uint64("round", roundID),
			zap.String("account", account.Hex()),
			zap.String("amount", stake.Amount.String()))
		m.emit(Event{Type: EventClaimed, RoundID: roundID, Account: account, Side: stake.Side, Amount: payout, Tick: now})
		return payout, nil
	}

	m.logger.Info("claim_paid",
		zap.Uint64("round", roundID),
		zap.String("account", account.Hex()),
		zap.String("stake", stake.Amount.String()),
		zap.String("payout", payout.String()))
	m.emit(Event{Type: EventClaimed, RoundID: roundID, Account: account, Side: stake.Side, Amount: new(big.Int).Set(payout), Tick: now})
	return payout, nil
}

// Refund returns the original stake of an unresolved round once the grace period has elapsed
func (m *Market) Refund(ctx context.Context, account common.Address, roundID uint64) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireCaller(ctx, account); err != nil {
		return nil, err
	}
	round, err := m.loadRound(roundID)
	if err != nil {
		return nil, err
	}
	if round.Resolved() {
		return nil, fmt.Errorf("%w: round %d", ErrAlreadyResolved, roundID)
	}
	now := m.clock.CurrentTick()
	if !refundOpen(round, now) {
		return nil, fmt.Errorf("%w: tick %d, opens after %d", ErrRefundNotAvailable, now, round.RefundOpensAfter())
	}
	stake, principal, err := m.consumeStake(ctx, round, account, func(s *Stake) *big.Int { return new(big.Int).Set(s.Amount) })
	if err != nil {
		return nil, err
	}

	m.logger.Info("stake_refunded",
		zap.Uint64("round", roundID),
		zap.String("account", account.Hex()),
		zap.String("amount", principal.String()))
	m.emit(Event{Type: EventRefunded, RoundID: roundID, Account: account, Side: stake.Side, Amount: principal, Tick: now})
	return principal, nil
}

// consumeStake deletes the stake record and moves amount(stake) out of escrow
// in one batch. A missing record means it was already consumed.
func (m *Market) consumeStake(ctx context.Context, round *Round, account common.Address, amount func(*Stake) *big.Int) (*Stake, *big.Int, error) {
	cfg, err := m.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	stake, err := m.store.LoadStake(round.ID, account)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load stake: %w", err)
	}
	if stake == nil {
		return nil, nil, fmt.Errorf("%w: round %d account %s", ErrAlreadyClaimed, round.ID, account.Hex())
	}

	out := amount(stake)
	err = m.commit(func(b Batch) error {
		if err := b.DeleteStake(round.ID, account); err != nil {
			return err
		}
		if out.Sign() == 0 {
			return nil
		}
		if err := m.custody.StageTransfer(ctx, b, cfg.Token, EscrowAddress, account, out); err != nil {
			return fmt.Errorf("failed to transfer payout: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return stake, out, nil
}
