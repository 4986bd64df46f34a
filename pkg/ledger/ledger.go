package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/overunder/pkg/market"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSelfTransfer        = errors.New("sender and recipient are the same")
)

// Store persists token balances. LoadBalance returns (nil, nil) for unknown accounts.
type Store interface {
	LoadBalance(token string, addr common.Address) (*big.Int, error)
	SaveBalances(token string, balances map[common.Address]*big.Int) error
}

// Ledger holds fungible token balances for every account, escrow included.
// Thread-safe; each Transfer debits and credits in a single atomic write.
// As market custody it stages transfers into the market's own batch instead.
type Ledger struct {
	mu     sync.Mutex
	store  Store
	logger *zap.Logger
}

// New creates a ledger over store
func New(store Store, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, logger: logger.Named("ledger")}
}

// Balance returns the current balance (zero for unknown accounts)
func (l *Ledger) Balance(token string, addr common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(token, addr)
}

// Mint credits amount to addr out of thin air (genesis allocations and faucets)
func (l *Ledger) Mint(token string, addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal, err := l.load(token, addr)
	if err != nil {
		return err
	}
	bal.Add(bal, amount)
	if err := l.store.SaveBalances(token, map[common.Address]*big.Int{addr: bal}); err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}

	l.logger.Debug("minted",
		zap.String("token", token),
		zap.String("account", addr.Hex()),
		zap.String("amount", amount.String()))
	return nil
}

// Transfer moves amount of token from one account to another in a single atomic write
func (l *Ledger) Transfer(ctx context.Context, token string, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	staged := balanceSet{}
	if err := l.stage(staged, token, from, to, amount); err != nil {
		return err
	}
	if err := l.store.SaveBalances(token, staged); err != nil {
		return fmt.Errorf("failed to save transfer: %w", err)
	}
	return nil
}

// StageTransfer validates the move against committed balances and writes both
// resulting balances into w. Nothing changes until w's batch commits, so callers
// must commit or drop it before staging another transfer over the same accounts.
func (l *Ledger) StageTransfer(_ context.Context, w market.BalanceWriter, token string, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stage(w, token, from, to, amount)
}

func (l *Ledger) stage(w market.BalanceWriter, token string, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return ErrSelfTransfer
	}

	fromBal, err := l.load(token, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal, amount)
	}
	toBal, err := l.load(token, to)
	if err != nil {
		return err
	}

	fromBal.Sub(fromBal, amount)
	toBal.Add(toBal, amount)
	if err := w.SaveBalance(token, from, fromBal); err != nil {
		return fmt.Errorf("failed to stage debit: %w", err)
	}
	if err := w.SaveBalance(token, to, toBal); err != nil {
		return fmt.Errorf("failed to stage credit: %w", err)
	}

	l.logger.Debug("transfer",
		zap.String("token", token),
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()),
		zap.String("amount", amount.String()))
	return nil
}

// balanceSet collects staged balances of a single token
type balanceSet map[common.Address]*big.Int

func (s balanceSet) SaveBalance(_ string, addr common.Address, bal *big.Int) error {
	s[addr] = bal
	return nil
}

func (l *Ledger) load(token string, addr common.Address) (*big.Int, error) {
	bal, err := l.store.LoadBalance(token, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to load balance of %s: %w", addr.Hex(), err)
	}
	if bal == nil {
		return new(big.Int), nil
	}
	return bal, nil
}

var _ market.Custody = (*Ledger)(nil)
