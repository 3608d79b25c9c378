package trader

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// summaryTopWallets bounds the whale table logged with each summary.
const summaryTopWallets = 5

// Engine is the core trading engine. It drives the strategy on a fixed
// polling interval and periodically logs an aggregate summary of the
// ledger. The clock is injected so the loop can be driven by tests.
type Engine struct {
	sc       StrategyContext
	strategy Strategy
	clock    Clock
}

// NewEngine creates a new trading engine.
func NewEngine(sc StrategyContext, strategy Strategy, clock Clock) *Engine {
	return &Engine{
		sc:       sc,
		strategy: strategy,
		clock:    clock,
	}
}

// Run starts the engine's main loop and blocks until the context is
// cancelled. A failed tick is logged and the loop continues; only a failed
// strategy initialization aborts the run.
func (e *Engine) Run(ctx context.Context) error {
	logger := e.sc.Logger

	logger.Info("Initializing trading engine...", zap.String("strategy", e.strategy.Name()))
	if err := e.strategy.Initialize(e.sc); err != nil {
		return fmt.Errorf("failed to initialize strategy %s: %w", e.strategy.Name(), err)
	}

	interval := time.Duration(e.sc.Cfg.Trading.TickInterval) * time.Second
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Starting tick loop", zap.Duration("interval", interval))

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping trading engine...")
			return nil
		case <-ticker.C():
			ticks++
			if err := e.strategy.Tick(ctx, e.sc); err != nil {
				logger.Error("Tick failed", zap.Error(err))
			}
			if n := e.sc.Cfg.Trading.SummaryInterval; n > 0 && ticks%n == 0 {
				e.logSummary()
			}
		}
	}
}

// logSummary writes one aggregate line for our own trading and one per top
// whale wallet. Purely informational; failures never interrupt the loop.
func (e *Engine) logSummary() {
	logger := e.sc.Logger

	stats, err := e.sc.Ledger.OwnStats()
	if err != nil {
		logger.Error("Failed to compute trading stats", zap.Error(err))
		return
	}
	logger.Info("Trading summary",
		zap.Int64("total_trades", stats.TotalTrades),
		zap.Int64("successful_trades", stats.SuccessfulTrades),
		zap.Int64("closed_trades", stats.ClosedTrades),
		zap.Float64("win_rate", stats.WinRate),
		zap.String("pnl_native", stats.PnLNative.String()),
		zap.String("pnl_usd", stats.PnLUSD.String()))

	wallets, err := e.sc.Ledger.WhaleSummary(summaryTopWallets)
	if err != nil {
		logger.Error("Failed to compute whale summary", zap.Error(err))
		return
	}
	for _, w := range wallets {
		logger.Info("Whale summary",
			zap.String("wallet", w.Address),
			zap.Int64("trades", w.TotalTrades),
			zap.String("volume_usd", w.TotalVolumeUSD.String()),
			zap.String("net_position", w.NetPosition.String()))
	}
}
