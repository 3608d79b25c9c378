package trader

import (
	"context"
	"fmt"

	"evm-swap-bot/internal/models"
	"evm-swap-bot/internal/pricefeed"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	reasonInitialEntry = "initial entry"
	reasonDipRebuy     = "dip rebuy"
	reasonProfitTarget = "profit target"
	reasonStopLoss     = "stop loss"

	eventWatch = "watch"
	eventSkip  = "skip"
)

// position is the single open lot. The asset amount is an estimate taken at
// entry; sells always use the actual on-chain balance.
type position struct {
	entryPriceUSD   decimal.Decimal
	entryCostNative decimal.Decimal
	assetAmount     decimal.Decimal
}

// DipRebuyStrategy holds one position at a time and alternates between two
// states. Flat: buy on the first ever tick, afterwards only when the price
// has dipped far enough below the peak seen since the last sell. Holding:
// sell everything once the price reaches the profit target (or the optional
// stop-loss floor). State only ever advances on an executed swap; a failed
// attempt leaves the strategy where it was.
type DipRebuyStrategy struct {
	asset    common.Address
	decimals int32

	holding       bool
	pos           position
	peakSinceSell decimal.Decimal
	hasTraded     bool
	lastPrice     decimal.Decimal
}

// ensure DipRebuyStrategy implements the interface
var _ Strategy = (*DipRebuyStrategy)(nil)

// NewDipRebuyStrategy creates the strategy in the flat state.
func NewDipRebuyStrategy() *DipRebuyStrategy {
	return &DipRebuyStrategy{}
}

func (s *DipRebuyStrategy) Name() string {
	return "dip_rebuy"
}

func (s *DipRebuyStrategy) Initialize(sc StrategyContext) error {
	s.asset = common.HexToAddress(sc.Cfg.Chain.TokenOut)
	s.decimals = sc.Cfg.Chain.TokenDecimals

	sc.Logger.Info("Initialized strategy",
		zap.String("strategy", s.Name()),
		zap.String("asset", s.asset.Hex()),
		zap.Float64("profit_target_pct", sc.Cfg.Trading.ProfitTargetPct),
		zap.Float64("dip_threshold_pct", sc.Cfg.Trading.DipThresholdPct),
		zap.Bool("stop_loss_enabled", sc.Cfg.Trading.StopLossEnabled),
		zap.Float64("eth_reserve", sc.Cfg.Trading.EthReserve))
	return nil
}

// Tick fetches one price sample and runs the state machine against it.
// Every tick leaves exactly one row in the ledger: an own-trade row when a
// swap was attempted, a market event otherwise.
func (s *DipRebuyStrategy) Tick(ctx context.Context, sc StrategyContext) error {
	sample, err := sc.Feed.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch price sample: %w", err)
	}

	priceBefore := s.lastPrice
	s.lastPrice = sample.PriceUSD

	if s.holding {
		return s.tickHolding(ctx, sc, sample, priceBefore)
	}
	return s.tickFlat(ctx, sc, sample, priceBefore)
}

// tickFlat tracks the post-sell peak and decides whether to enter.
func (s *DipRebuyStrategy) tickFlat(ctx context.Context, sc StrategyContext, sample *pricefeed.PriceSample, priceBefore decimal.Decimal) error {
	if sample.PriceUSD.GreaterThan(s.peakSinceSell) {
		s.peakSinceSell = sample.PriceUSD
	}

	if !s.hasTraded {
		// Nothing to anchor a dip against yet; enter immediately.
		return s.executeBuy(ctx, sc, sample, priceBefore, reasonInitialEntry)
	}

	threshold := s.peakSinceSell.Mul(pctFactor(-sc.Cfg.Trading.DipThresholdPct))
	if sample.PriceUSD.LessThanOrEqual(threshold) {
		return s.executeBuy(ctx, sc, sample, priceBefore, reasonDipRebuy)
	}

	return sc.Ledger.LogMarketEvent(eventWatch, priceBefore, sample.PriceUSD,
		fmt.Sprintf("flat, waiting for dip below %s (peak %s)", threshold, s.peakSinceSell))
}

// tickHolding checks the exit conditions against the open position.
func (s *DipRebuyStrategy) tickHolding(ctx context.Context, sc StrategyContext, sample *pricefeed.PriceSample, priceBefore decimal.Decimal) error {
	target := s.pos.entryPriceUSD.Mul(pctFactor(sc.Cfg.Trading.ProfitTargetPct))
	if sample.PriceUSD.GreaterThanOrEqual(target) {
		return s.executeSell(ctx, sc, sample, priceBefore, reasonProfitTarget)
	}

	if sc.Cfg.Trading.StopLossEnabled {
		floor := s.pos.entryPriceUSD.Mul(pctFactor(-sc.Cfg.Trading.StopLossPct))
		if sample.PriceUSD.LessThanOrEqual(floor) {
			return s.executeSell(ctx, sc, sample, priceBefore, reasonStopLoss)
		}
	}

	return sc.Ledger.LogMarketEvent(eventWatch, priceBefore, sample.PriceUSD,
		fmt.Sprintf("holding, waiting for target %s (entry %s)", target, s.pos.entryPriceUSD))
}

// executeBuy spends the wallet's native balance above the configured reserve.
// The reserve is untouchable; when nothing sits above it the tick becomes a
// skip event instead of a swap attempt.
func (s *DipRebuyStrategy) executeBuy(ctx context.Context, sc StrategyContext, sample *pricefeed.PriceSample, priceBefore decimal.Decimal, reason string) error {
	balanceWei, err := sc.Chain.NativeBalance(ctx)
	if err != nil {
		return fmt.Errorf("failed to read native balance: %w", err)
	}

	balance := decimal.NewFromBigInt(balanceWei, -18)
	spend := balance.Sub(decimal.NewFromFloat(sc.Cfg.Trading.EthReserve))
	if !spend.IsPositive() {
		sc.Logger.Warn("Skipping buy, balance at or below reserve",
			zap.String("balance", balance.String()),
			zap.Float64("reserve", sc.Cfg.Trading.EthReserve))
		return sc.Ledger.LogMarketEvent(eventSkip, priceBefore, sample.PriceUSD,
			fmt.Sprintf("buy skipped: balance %s at or below reserve", balance))
	}

	hash, ok := sc.Swapper.Buy(ctx, spend.Shift(18).BigInt(), sc.Cfg.Trading.SlippageBps)

	trade := &models.OwnTrade{
		Timestamp:    sample.At,
		Side:         models.SideBuy,
		NativeAmount: spend,
		Price:        sample.PriceUSD,
		Reason:       reason,
		TxHash:       hash,
		Success:      ok,
	}
	if sample.PriceNative.IsPositive() {
		trade.AssetAmount = spend.Div(sample.PriceNative)
	}

	if ok {
		s.holding = true
		s.hasTraded = true
		s.pos = position{
			entryPriceUSD:   sample.PriceUSD,
			entryCostNative: spend,
			assetAmount:     trade.AssetAmount,
		}
		sc.Logger.Info("Entered position",
			zap.String("reason", reason),
			zap.String("entry_price", sample.PriceUSD.String()),
			zap.String("spent_native", spend.String()))
	} else {
		sc.Logger.Warn("Buy attempt failed, staying flat", zap.String("reason", reason))
	}

	return sc.Ledger.RecordOwnTrade(trade)
}

// executeSell liquidates the full on-chain asset balance. Realized PnL is
// recorded only when the swap executed; the native leg needs a native-
// denominated price, the USD leg only the entry and exit prices.
func (s *DipRebuyStrategy) executeSell(ctx context.Context, sc StrategyContext, sample *pricefeed.PriceSample, priceBefore decimal.Decimal, reason string) error {
	balanceWei, err := sc.Chain.TokenBalance(ctx, s.asset)
	if err != nil {
		return fmt.Errorf("failed to read asset balance: %w", err)
	}
	if balanceWei.Sign() <= 0 {
		// The position exists in memory but not on chain. Drop it rather
		// than attempt zero-amount sells forever.
		sc.Logger.Warn("Position has no on-chain balance, dropping it")
		s.holding = false
		s.peakSinceSell = sample.PriceUSD
		return sc.Ledger.LogMarketEvent(eventSkip, priceBefore, sample.PriceUSD,
			"sell skipped: no on-chain asset balance, position dropped")
	}

	assetAmount := decimal.NewFromBigInt(balanceWei, -s.decimals)
	hash, ok := sc.Swapper.Sell(ctx, balanceWei, sc.Cfg.Trading.SlippageBps)

	trade := &models.OwnTrade{
		Timestamp:   sample.At,
		Side:        models.SideSell,
		AssetAmount: assetAmount,
		Price:       sample.PriceUSD,
		Reason:      reason,
		TxHash:      hash,
		Success:     ok,
	}
	if sample.PriceNative.IsPositive() {
		trade.NativeAmount = assetAmount.Mul(sample.PriceNative)
	}

	if ok {
		if sample.PriceNative.IsPositive() {
			trade.RealizedPnLNative = trade.NativeAmount.Sub(s.pos.entryCostNative)
		}
		trade.RealizedPnLUSD = assetAmount.Mul(sample.PriceUSD.Sub(s.pos.entryPriceUSD))

		s.holding = false
		s.pos = position{}
		// The sell price seeds the next dip reference.
		s.peakSinceSell = sample.PriceUSD

		sc.Logger.Info("Closed position",
			zap.String("reason", reason),
			zap.String("exit_price", sample.PriceUSD.String()),
			zap.String("pnl_native", trade.RealizedPnLNative.String()),
			zap.String("pnl_usd", trade.RealizedPnLUSD.String()))
	} else {
		sc.Logger.Warn("Sell attempt failed, keeping position", zap.String("reason", reason))
	}

	return sc.Ledger.RecordOwnTrade(trade)
}

// pctFactor returns (100 + pct) / 100 as a decimal, so thresholds like
// "10% above entry" compare exactly instead of through float rounding.
func pctFactor(pct float64) decimal.Decimal {
	return decimal.NewFromFloat(100 + pct).Div(decimal.NewFromInt(100))
}
