package trader

import (
	"context"

	"evm-swap-bot/internal/chain"
	"evm-swap-bot/internal/config"
	"evm-swap-bot/internal/ledger"
	"evm-swap-bot/internal/pricefeed"
	"evm-swap-bot/internal/swap"
	"go.uber.org/zap"
)

// StrategyContext provides the strategy with access to the core components.
type StrategyContext struct {
	Logger  *zap.Logger
	Cfg     *config.Config
	Feed    pricefeed.Feed
	Swapper swap.Swapper
	Chain   chain.ClientInterface
	Ledger  *ledger.Ledger
}

// Strategy defines the interface for a trading strategy.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Initialize gives the strategy a chance to perform setup tasks.
	Initialize(sc StrategyContext) error

	// Tick is the main logic of the strategy, called once per engine tick.
	// Errors abort only the current tick; the engine logs and continues.
	Tick(ctx context.Context, sc StrategyContext) error
}
