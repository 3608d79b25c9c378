package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"evm-swap-bot/internal/aggregator"
	"evm-swap-bot/internal/chain"
	"evm-swap-bot/internal/config"
	"evm-swap-bot/internal/database"
	"evm-swap-bot/internal/ledger"
	"evm-swap-bot/internal/logger"
	"evm-swap-bot/internal/pricefeed"
	"evm-swap-bot/internal/swap"
	"evm-swap-bot/internal/trader"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Connect to the chain; this validates the key and the chain id.
	chainClient, err := chain.NewClient(ctx, &cfg.Chain, cfg.Gas, log)
	if err != nil {
		log.Fatal("Failed to connect to chain", zap.Error(err))
	}
	defer chainClient.Close()

	aggClient := aggregator.NewClient(&cfg.Aggregator, log)
	swapClient := swap.NewClient(aggClient, chainClient, &cfg, log)
	feed := pricefeed.NewClient(&cfg.Market, cfg.Chain.PoolAddress, log)

	sc := trader.StrategyContext{
		Logger:  log,
		Cfg:     &cfg,
		Feed:    feed,
		Swapper: swapClient,
		Chain:   chainClient,
		Ledger:  ledger.New(db, log),
	}

	// Initialize and run the trading engine
	engine := trader.NewEngine(sc, trader.NewDipRebuyStrategy(), trader.NewRealClock())
	if err := engine.Run(ctx); err != nil {
		log.Fatal("Engine stopped with error", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
}
