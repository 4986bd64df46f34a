package txgen

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Config controls transaction generation
type Config struct {
	BatchSize     int           // Number of txs to generate per batch
	Interval      time.Duration // How often to generate batches
	NumAccounts   int           // Number of simulated bettors
	MaxBet        int64         // Upper bound of a single stake
	BettingTicks  uint64        // Ticks a generated round accepts bets
	FinalityDelay uint64        // Ticks between deadline and finality
	RandSeed      int64
}

// DefaultConfig returns reasonable defaults for a devnet
func DefaultConfig() Config {
	return Config{
		BatchSize:     10,
		Interval:      500 * time.Millisecond,
		NumAccounts:   20,
		MaxBet:        100,
		BettingTicks:  30,
		FinalityDelay: 10,
		RandSeed:      time.Now().UnixNano(),
	}
}

// HighLoadConfig returns config for stress testing
func HighLoadConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 200
	cfg.Interval = 100 * time.Millisecond
	cfg.NumAccounts = 200
	return cfg
}

// Run feeds generated transactions to submit until ctx is cancelled
func (g *Generator) Run(ctx context.Context, submit func(raw []byte) error, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	start := time.Now()
	total, rejected := 0, 0
	lastLog := start

	logger.Infow("txgen_started", "batch", g.cfg.BatchSize, "interval", g.cfg.Interval,
		"accounts", len(g.signers), "admin", g.admin != nil)

	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(start)
			logger.Infow("txgen_stopped", "total", total, "rejected", rejected,
				"rate", float64(total)/elapsed.Seconds())
			return ctx.Err()

		case <-ticker.C:
			batch, err := g.GenerateBatch()
			if err != nil {
				return err
			}
			for _, tx := range batch {
				if err := submit(tx); err != nil {
					rejected++
					continue
				}
				total++
			}

			// Log stats every 10 seconds
			if time.Since(lastLog) >= 10*time.Second {
				elapsed := time.Since(start)
				logger.Infow("txgen_stats", "total", total, "rejected", rejected,
					"rate", float64(total)/elapsed.Seconds())
				lastLog = time.Now()
			}
		}
	}
}
