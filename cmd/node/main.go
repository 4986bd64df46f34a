package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/overunder/params"
	"github.com/uhyunpark/overunder/pkg/api"
	"github.com/uhyunpark/overunder/pkg/app"
	"github.com/uhyunpark/overunder/pkg/chain"
	"github.com/uhyunpark/overunder/pkg/crypto"
	"github.com/uhyunpark/overunder/pkg/market"
	"github.com/uhyunpark/overunder/pkg/mempool"
	"github.com/uhyunpark/overunder/pkg/p2p"
	"github.com/uhyunpark/overunder/pkg/storage"
	"github.com/uhyunpark/overunder/pkg/txgen"
	"github.com/uhyunpark/overunder/pkg/util"
)

func main() {
	envPath := flag.String("env", "", "path to .env file (default: ./.env)")
	yamlPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := params.Load(*envPath, *yamlPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (console, plus file when LOG_FILE is set)
	var logger *zap.Logger
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	} else {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Fatalw("node_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

func run(cfg params.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "db"))
	if err != nil {
		return err
	}
	defer store.Close()

	wal, err := storage.NewFileWAL(filepath.Join(cfg.Node.DataDir, "wal.log"))
	if err != nil {
		return err
	}
	defer wal.Close()

	// ---- App + block producer ----
	mp := mempool.NewMempool()

	var application *app.App
	producer, err := chain.NewProducer(
		chain.Config{MinBlockTime: cfg.Node.MinBlockTime, MaxTxBytes: chain.DefaultConfig().MaxTxBytes},
		chain.ExecutorFunc(func(ctx context.Context, raw []byte) error { return application.ApplyTx(ctx, raw) }),
		mp, store, wal, util.RealClock{}, sugar.Named("chain"),
	)
	if err != nil {
		return err
	}
	application = app.New(store, producer, mp, cfg.Node.ChainID, logger)

	balances, err := cfg.GenesisBalances()
	if err != nil {
		return err
	}

	// ---- Transaction generator (optional) ----
	// Enable with: ENABLE_TXGEN=true TXGEN_MODE=default|high [ADMIN_PRIVATE_KEY=...]
	var gen *txgen.Generator
	if cfg.TxGen.Enabled {
		gen, err = newGenerator(cfg, application, producer, balances, sugar)
		if err != nil {
			return err
		}
	} else {
		sugar.Info("txgen_disabled")
	}
	if err := application.InitGenesis(ctx, app.Genesis{
		Admin:    cfg.AdminAddress(),
		Token:    cfg.Genesis.Token,
		Balances: balances,
	}); err != nil {
		return err
	}

	// ---- API Server ----
	apiServer := api.NewServer(application, producer, mp, api.Config{TxRateLimit: cfg.API.RateLimit}, logger)

	// Hook API server to chain and market: push updates on every commit
	application.OnEvent = func(ev market.Event) {
		apiServer.BroadcastMarketEvent(ev)
	}

	g, ctx := errgroup.WithContext(ctx)

	// ---- Gossip (optional) ----
	var gossip *p2p.Gossip
	if cfg.P2P.Listen != "" {
		gossip, err = p2p.NewGossip(ctx, p2p.Config{
			ListenAddr: cfg.P2P.Listen,
			Bootstrap:  cfg.P2P.Bootstrap,
			Logger:     sugar.Named("p2p"),
		})
		if err != nil {
			return err
		}
		defer gossip.Close()

		gossip.SetHandlers(p2p.Handlers{
			OnTx: application.ReceiveTx,
			OnHead: func(from peer.ID, head p2p.HeadWire) {
				sugar.Debugw("peer_head", "peer", from.String(), "height", head.Height, "txs", head.Txs)
			},
		})
		application.OnSubmit = func(raw []byte) {
			if err := gossip.PublishTx(ctx, raw); err != nil {
				sugar.Warnw("gossip_publish_failed", "err", err)
			}
		}
		for _, a := range gossip.Addrs() {
			sugar.Infow("p2p_addr", "addr", a)
		}
	} else {
		sugar.Info("gossip_disabled")
	}

	producer.OnBlockCommit = func(b chain.Block) {
		apiServer.BroadcastBlock(b)
		if gossip != nil {
			if err := gossip.AnnounceHead(ctx, p2p.HeadWire{Height: uint64(b.Height), Hash: b.Hash, Txs: len(b.Txs)}); err != nil {
				sugar.Debugw("head_announce_failed", "err", err)
			}
		}
	}

	sugar.Infow("node_starting",
		"admin", cfg.AdminAddress().Hex(),
		"token", cfg.Genesis.Token,
		"chain_id", cfg.Node.ChainID,
		"height", producer.Height(),
		"min_block_time_ms", cfg.Node.MinBlockTime.Milliseconds(),
		"api_addr", cfg.API.Addr)

	g.Go(func() error { return producer.Run(ctx) })
	g.Go(func() error { return apiServer.Start(ctx, cfg.API.Addr) })
	g.Go(func() error { return logProgress(ctx, producer, mp, sugar) })
	if gen != nil {
		g.Go(func() error {
			return gen.Run(ctx, func(raw []byte) error {
				_, err := application.SubmitTx(raw)
				return err
			}, sugar.Named("txgen"))
		})
	}

	return g.Wait()
}

// newGenerator builds the devnet generator and adds its accounts to the genesis allocation
func newGenerator(cfg params.Config, application *app.App, producer *chain.Producer,
	balances map[common.Address]*big.Int, sugar *zap.SugaredLogger) (*txgen.Generator, error) {
	genCfg := txgen.DefaultConfig()
	if cfg.TxGen.Mode == "high" {
		genCfg = txgen.HighLoadConfig()
	}
	genCfg.NumAccounts = cfg.TxGen.Accounts

	accounts, err := txgen.Accounts(cfg.TxGen.Seed, genCfg.NumAccounts)
	if err != nil {
		return nil, err
	}
	funding, _ := new(big.Int).SetString(cfg.TxGen.Funding, 10)
	for _, a := range accounts {
		if _, ok := balances[a.Address()]; !ok && funding.Sign() > 0 {
			balances[a.Address()] = new(big.Int).Set(funding)
		}
	}

	var admin *crypto.Signer
	if cfg.TxGen.AdminKey != "" {
		admin, err = crypto.FromPrivateKeyHex(cfg.TxGen.AdminKey)
		if err != nil {
			return nil, err
		}
		if admin.Address() != cfg.AdminAddress() {
			return nil, fmt.Errorf("ADMIN_PRIVATE_KEY is for %s, admin is %s", admin.Address().Hex(), cfg.AdminAddress().Hex())
		}
	}

	sugar.Infow("txgen_enabled", "mode", cfg.TxGen.Mode, "accounts", len(accounts), "admin_key", admin != nil)
	return txgen.NewGenerator(genCfg, cfg.Node.ChainID, admin, accounts, application.Market(), application, producer), nil
}

// logProgress logs the head every logInterval blocks to reduce noise
func logProgress(ctx context.Context, producer *chain.Producer, mp *mempool.Mempool, sugar *zap.SugaredLogger) error {
	const logInterval = chain.Height(100)
	lastLogged := chain.Height(0)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h := producer.Height()
			if h-lastLogged >= logInterval || h <= 5 {
				sugar.Infow("chain_progress",
					"height", h,
					"mempool", mp.Len(),
					"blocks_since_last_log", h-lastLogged)
				lastLogged = h
			}
		}
	}
}
