package market

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Clock supplies the current tick. Must be monotonically non-decreasing.
type Clock interface {
	CurrentTick() Tick
}

// Authenticator proves that the caller in ctx controls identity
type Authenticator interface {
	RequireCaller(ctx context.Context, identity common.Address) error
}

// Custody moves fungible value between accounts and the escrow identity.
// StageTransfer validates the move and writes both resulting balances into w;
// nothing changes until the batch holding w commits. Non-positive amounts are rejected.
type Custody interface {
	StageTransfer(ctx context.Context, w BalanceWriter, token string, from, to common.Address, amount *big.Int) error
}

// BalanceWriter receives staged custody balances
type BalanceWriter interface {
	SaveBalance(token string, account common.Address, bal *big.Int) error
}

// Store persists market records. Loads return (nil, nil) for missing keys.
type Store interface {
	LoadConfig() (*Config, error)
	LoadRound(id uint64) (*Round, error)
	LoadRounds() ([]*Round, error)
	LoadStake(roundID uint64, account common.Address) (*Stake, error)
	LoadStakes(roundID uint64) ([]*Stake, error)
	NewBatch() Batch
}

// Batch groups writes that must land atomically, custody balances included
type Batch interface {
	BalanceWriter
	SaveConfig(cfg *Config) error
	SaveRound(r *Round) error
	SaveStake(s *Stake) error
	DeleteStake(roundID uint64, account common.Address) error
	Commit() error
	Close() error
}

// EventType names a state change emitted by the market
type EventType string

const (
	EventInitialised   EventType = "initialised"
	EventRoundCreated  EventType = "round_created"
	EventBetPlaced     EventType = "bet_placed"
	EventRoundResolved EventType = "round_resolved"
	EventClaimed       EventType = "claimed"
	EventRefunded      EventType = "refunded"
)

// Event describes a committed state change
type Event struct {
	Type    EventType
	RoundID uint64
	Account common.Address
	Side    Side
	Amount  *big.Int // stake for bets, payout for claims, principal for refunds
	Tick    Tick
}

// Market is the over/under engine: round lifecycle, pool accounting and settlement.
// Every mutating call holds mu for its whole duration, so operations are
// serialized exactly as if each one were a single transaction.
type Market struct {
	mu      sync.RWMutex
	store   Store
	custody Custody
	clock   Clock
	auth    Authenticator
	logger  *zap.Logger

	// OnEvent is invoked after each successful commit (while mu is held)
	OnEvent func(Event)
}

// New creates a market engine over the given collaborators
func New(store Store, custody Custody, clock Clock, auth Authenticator, logger *zap.Logger) *Market {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Market{
		store:   store,
		custody: custody,
		clock:   clock,
		auth:    auth,
		logger:  logger.Named("market"),
	}
}

// Initialise records the admin identity and wagering token. It can succeed only once.
func (m *Market) Initialise(ctx context.Context, admin common.Address, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := m.store.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg != nil {
		return ErrAlreadyInitialised
	}
	if err := m.auth.RequireCaller(ctx, admin); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if token == "" {
		return ErrInvalidToken
	}

	cfg = &Config{Admin: admin, Token: token}
	if err := m.commit(func(b Batch) error { return b.SaveConfig(cfg) }); err != nil {
		return err
	}

	m.logger.Info("initialised", zap.String("admin", admin.Hex()), zap.String("token", token))
	m.emit(Event{Type: EventInitialised, Account: admin, Tick: m.clock.CurrentTick()})
	return nil
}

// Admin returns the configured administrative identity
func (m *Market) Admin() (common.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, err := m.loadConfig()
	if err != nil {
		return common.Address{}, err
	}
	return cfg.Admin, nil
}

// Token returns the wagering token symbol
func (m *Market) Token() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, err := m.loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Token, nil
}

// Round returns a copy of the round or ErrRoundNotFound
func (m *Market) Round(id uint64) (*Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadRound(id)
}

// Rounds returns every round in ID order
func (m *Market) Rounds() ([]*Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rounds, err := m.store.LoadRounds()
	if err != nil {
		return nil, fmt.Errorf("failed to load rounds: %w", err)
	}
	return rounds, nil
}

// Stake returns the account's stake in a round, or nil if there is none.
// Unlike Claim, absence is not an error here.
func (m *Market) Stake(account common.Address, roundID uint64) (*Stake, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.store.LoadStake(roundID, account)
	if err != nil {
		return nil, fmt.Errorf("failed to load stake: %w", err)
	}
	return s, nil
}

// Stakes returns all unconsumed stakes of a round
func (m *Market) Stakes(roundID uint64) ([]*Stake, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := m.loadRound(roundID); err != nil {
		return nil, err
	}
	stakes, err := m.store.LoadStakes(roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stakes: %w", err)
	}
	return stakes, nil
}

// Phase evaluates the round's lifecycle state at the current tick
func (m *Market) Phase(roundID uint64) (Phase, Tick, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, err := m.loadRound(roundID)
	if err != nil {
		return 0, 0, err
	}
	now := m.clock.CurrentTick()
	return r.PhaseAt(now), now, nil
}

func (m *Market) loadConfig() (*Config, error) {
	cfg, err := m.store.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg == nil {
		return nil, ErrNotInitialised
	}
	return cfg, nil
}

func (m *Market) loadRound(id uint64) (*Round, error) {
	r, err := m.store.LoadRound(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load round %d: %w", id, err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %d", ErrRoundNotFound, id)
	}
	return r, nil
}

// requireAdmin checks requestor is the configured admin and has proven it
func (m *Market) requireAdmin(ctx context.Context, requestor common.Address) (*Config, error) {
	cfg, err := m.loadConfig()
	if err != nil {
		return nil, err
	}
	if requestor != cfg.Admin {
		return nil, fmt.Errorf("%w: %s is not admin", ErrUnauthorized, requestor.Hex())
	}
	if err := m.auth.RequireCaller(ctx, requestor); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return cfg, nil
}

func (m *Market) requireCaller(ctx context.Context, account common.Address) error {
	if err := m.auth.RequireCaller(ctx, account); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

// commit runs fill against a fresh batch and commits it atomically.
// Errors from fill are returned as is; nothing is written.
func (m *Market) commit(fill func(Batch) error) error {
	b := m.store.NewBatch()
	defer b.Close()
	if err := fill(b); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (m *Market) emit(ev Event) {
	if m.OnEvent != nil {
		m.OnEvent(ev)
	}
}
