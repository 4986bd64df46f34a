package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/overunder/pkg/auth"
	"github.com/uhyunpark/overunder/pkg/chain"
	"github.com/uhyunpark/overunder/pkg/crypto"
	"github.com/uhyunpark/overunder/pkg/ledger"
	"github.com/uhyunpark/overunder/pkg/market"
	"github.com/uhyunpark/overunder/pkg/mempool"
	"github.com/uhyunpark/overunder/pkg/transaction"
)

var (
	ErrNonceTooLow = errors.New("nonce too low")
	ErrBadNumber   = errors.New("number out of range")
)

// Store is everything the app persists: market records, balances and tx nonces
type Store interface {
	market.Store
	ledger.Store
	LoadNonce(addr common.Address) (uint64, error)
	SaveNonce(addr common.Address, nonce uint64) error
}

// Genesis is the initial market configuration and token allocation
type Genesis struct {
	Admin    common.Address
	Token    string
	Balances map[common.Address]*big.Int
}

// App wires the market engine to signed transactions, custody and the mempool
type App struct {
	market   *market.Market
	ledger   *ledger.Ledger
	verifier *transaction.Verifier
	mempool  *mempool.Mempool
	store    Store
	logger   *zap.Logger

	// OnEvent receives every committed market event
	OnEvent func(market.Event)
	// OnSubmit receives locally submitted txs after admission (gossip publish)
	OnSubmit func(raw []byte)
}

// New builds the application. clock is normally the block producer.
func New(store Store, clock market.Clock, mp *mempool.Mempool, chainID int64, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		ledger:   ledger.New(store, logger),
		verifier: transaction.NewVerifier(crypto.DefaultDomain(chainID)),
		mempool:  mp,
		store:    store,
		logger:   logger.Named("app"),
	}
	a.market = market.New(store, a.ledger, clock, auth.ContextAuthenticator{}, logger)
	a.market.OnEvent = func(ev market.Event) {
		if a.OnEvent != nil {
			a.OnEvent(ev)
		}
	}
	return a
}

func (a *App) Market() *market.Market { return a.market }
func (a *App) Ledger() *ledger.Ledger { return a.ledger }

// Nonce returns the last nonce consumed by addr (0 if none)
func (a *App) Nonce(addr common.Address) (uint64, error) {
	return a.store.LoadNonce(addr)
}

// InitGenesis mints genesis balances and then initialises the market on a fresh store.
// On an already initialised store it does nothing. The market config is written
// last and marks genesis as complete: a restart after a partial genesis tops each
// balance up to its genesis amount instead of minting it twice.
func (a *App) InitGenesis(ctx context.Context, g Genesis) error {
	if _, err := a.market.Admin(); err == nil {
		a.logger.Info("genesis_skipped", zap.String("reason", "already initialised"))
		return nil
	} else if !errors.Is(err, market.ErrNotInitialised) {
		return err
	}
	if g.Token == "" {
		return fmt.Errorf("failed to apply genesis: %w", market.ErrInvalidToken)
	}

	// Before initialisation no market operation can move funds, so the only
	// balances present are from an earlier genesis attempt.
	for addr, amount := range g.Balances {
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("failed to mint genesis balance for %s: %w", addr.Hex(), ledger.ErrInvalidAmount)
		}
		have, err := a.ledger.Balance(g.Token, addr)
		if err != nil {
			return err
		}
		short := new(big.Int).Sub(amount, have)
		if short.Sign() <= 0 {
			continue
		}
		if err := a.ledger.Mint(g.Token, addr, short); err != nil {
			return fmt.Errorf("failed to mint genesis balance for %s: %w", addr.Hex(), err)
		}
	}
	if err := a.market.Initialise(auth.WithCaller(ctx, g.Admin), g.Admin, g.Token); err != nil {
		return fmt.Errorf("failed to initialise market: %w", err)
	}
	a.logger.Info("genesis_applied",
		zap.String("admin", g.Admin.Hex()),
		zap.String("token", g.Token),
		zap.Int("accounts", len(g.Balances)))
	return nil
}

// SubmitTx admits a locally submitted tx: it must parse and carry a valid signature.
// Returns the tx hash used as the receipt.
func (a *App) SubmitTx(raw []byte) (chain.Hash, error) {
	if err := a.admit(raw); err != nil {
		return chain.Hash{}, err
	}
	if a.OnSubmit != nil {
		a.OnSubmit(raw)
	}
	return chain.TxHash(raw), nil
}

// ReceiveTx admits a tx gossiped by a peer (never re-published)
func (a *App) ReceiveTx(raw []byte) error {
	return a.admit(raw)
}

func (a *App) admit(raw []byte) error {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return err
	}
	if _, err := a.verifier.Verify(tx); err != nil {
		return err
	}
	if !a.mempool.PushRaw(raw) {
		return fmt.Errorf("duplicate transaction")
	}
	return nil
}

// ApplyTx executes one block transaction: verify, consume the nonce, then dispatch
// to the market with the signer attached as the proven caller.
func (a *App) ApplyTx(ctx context.Context, raw []byte) error {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return err
	}
	action, err := a.verifier.Verify(tx)
	if err != nil {
		return err
	}
	if err := a.consumeNonce(action.Account, action.Nonce); err != nil {
		return err
	}

	ctx = auth.WithCaller(ctx, action.Account)
	err = a.dispatch(ctx, tx.Type, action)
	if err != nil {
		a.logger.Debug("tx_failed",
			zap.String("type", string(tx.Type)),
			zap.String("account", action.Account.Hex()),
			zap.Uint32("code", uint32(market.CodeOf(err))),
			zap.Error(err))
	}
	return err
}

// consumeNonce enforces strictly increasing nonces per account.
// The nonce is spent even if the market rejects the action.
func (a *App) consumeNonce(addr common.Address, nonce *big.Int) error {
	if !nonce.IsUint64() {
		return fmt.Errorf("%w: nonce %s", ErrBadNumber, nonce)
	}
	last, err := a.store.LoadNonce(addr)
	if err != nil {
		return fmt.Errorf("failed to load nonce: %w", err)
	}
	if nonce.Uint64() <= last {
		return fmt.Errorf("%w: got %d, last %d", ErrNonceTooLow, nonce.Uint64(), last)
	}
	return a.store.SaveNonce(addr, nonce.Uint64())
}

func (a *App) dispatch(ctx context.Context, typ transaction.TxType, act *crypto.ActionEIP712) error {
	roundID, err := toUint64("round_id", act.RoundID)
	if err != nil {
		return err
	}

	switch typ {
	case transaction.TxTypeCreateRound:
		predicted, err := toUint64("count", act.Count)
		if err != nil {
			return err
		}
		deadline, err := toUint64("deadline", act.Deadline)
		if err != nil {
			return err
		}
		finality, err := toUint64("finality", act.Finality)
		if err != nil {
			return err
		}
		_, err = a.market.CreateRound(ctx, act.Account, predicted, market.Tick(deadline), market.Tick(finality))
		return err

	case transaction.TxTypeResolve:
		actual, err := toUint64("count", act.Count)
		if err != nil {
			return err
		}
		return a.market.Resolve(ctx, act.Account, roundID, actual)

	case transaction.TxTypeBet:
		return a.market.PlaceBet(ctx, act.Account, roundID, market.Side(act.Side), act.Amount)

	case transaction.TxTypeClaim:
		_, err := a.market.Claim(ctx, act.Account, roundID)
		return err

	case transaction.TxTypeRefund:
		_, err := a.market.Refund(ctx, act.Account, roundID)
		return err

	default:
		return fmt.Errorf("unsupported transaction type: %s", typ)
	}
}

func toUint64(field string, v *big.Int) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s=%s", ErrBadNumber, field, v)
	}
	return v.Uint64(), nil
}
