package ledger

import (
	"errors"
	"fmt"
	"time"

	"evm-swap-bot/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Ledger is the sole writer of the persisted trade history. All monetary
// values cross this boundary as decimals so nothing is lost to float
// coercion on the way to SQLite and back.
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New creates a Ledger on top of an already-migrated database.
func New(db *gorm.DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// WhaleTradeRecord carries one observed counterparty trade into the ledger.
type WhaleTradeRecord struct {
	Wallet       string
	Side         string // models.SideBuy or models.SideSell
	AssetAmount  decimal.Decimal
	NativeAmount decimal.Decimal
	USDValue     decimal.Decimal
	Price        decimal.Decimal
	TxHash       string
	Timestamp    time.Time
}

// RecordWhaleTrade inserts the trade row and applies its delta to the wallet
// aggregate inside a single transaction, so the two can never be observed
// separately and a retry after a crash cannot double count.
func (l *Ledger) RecordWhaleTrade(rec WhaleTradeRecord) error {
	if rec.Side != models.SideBuy && rec.Side != models.SideSell {
		return fmt.Errorf("invalid whale trade side %q", rec.Side)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	err := l.db.Transaction(func(tx *gorm.DB) error {
		trade := models.WhaleTrade{
			WalletAddress: rec.Wallet,
			Timestamp:     rec.Timestamp,
			Side:          rec.Side,
			AssetAmount:   rec.AssetAmount,
			NativeAmount:  rec.NativeAmount,
			USDValue:      rec.USDValue,
			Price:         rec.Price,
			TxHash:        rec.TxHash,
		}
		if err := tx.Create(&trade).Error; err != nil {
			return fmt.Errorf("failed to insert whale trade: %w", err)
		}

		var wallet models.WhaleWallet
		err := tx.Where("address = ?", rec.Wallet).First(&wallet).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			wallet = models.WhaleWallet{Address: rec.Wallet, FirstSeen: rec.Timestamp}
		} else if err != nil {
			return fmt.Errorf("failed to load whale wallet %s: %w", rec.Wallet, err)
		}

		wallet.TotalTrades++
		wallet.TotalVolumeUSD = wallet.TotalVolumeUSD.Add(rec.USDValue)
		if rec.Side == models.SideBuy {
			wallet.TotalBought = wallet.TotalBought.Add(rec.AssetAmount)
		} else {
			wallet.TotalSold = wallet.TotalSold.Add(rec.AssetAmount)
		}
		// Bought and sold are only ever updated together with the net,
		// keeping net_position == total_bought - total_sold.
		wallet.NetPosition = wallet.TotalBought.Sub(wallet.TotalSold)
		wallet.LastSeen = rec.Timestamp

		if err := tx.Save(&wallet).Error; err != nil {
			return fmt.Errorf("failed to upsert whale wallet %s: %w", rec.Wallet, err)
		}
		return nil
	})
	if err == nil {
		l.logger.Debug("Recorded whale trade",
			zap.String("wallet", rec.Wallet),
			zap.String("side", rec.Side),
			zap.String("usd_value", rec.USDValue.String()))
	}
	return err
}

// RecordOwnTrade appends one of the engine's own swap attempts.
func (l *Ledger) RecordOwnTrade(trade *models.OwnTrade) error {
	if trade.Timestamp.IsZero() {
		trade.Timestamp = time.Now()
	}
	if err := l.db.Create(trade).Error; err != nil {
		return fmt.Errorf("failed to insert own trade: %w", err)
	}
	return nil
}

// LogMarketEvent appends an informational market observation. The change
// percentage is derived from the before/after prices here, not by callers.
func (l *Ledger) LogMarketEvent(eventType string, priceBefore, priceAfter decimal.Decimal, description string) error {
	changePct := 0.0
	if priceBefore.IsPositive() {
		changePct, _ = priceAfter.Sub(priceBefore).Div(priceBefore).Mul(decimal.NewFromInt(100)).Float64()
	}

	event := models.MarketEvent{
		Timestamp:      time.Now(),
		EventType:      eventType,
		PriceBefore:    priceBefore,
		PriceAfter:     priceAfter,
		PriceChangePct: changePct,
		Description:    description,
	}
	if err := l.db.Create(&event).Error; err != nil {
		return fmt.Errorf("failed to insert market event: %w", err)
	}
	return nil
}

// WhaleSummary returns the top wallets ordered by total observed USD volume.
// Decimal columns are stored as text so they never lose precision; the sort
// key has to be cast back to a number here.
func (l *Ledger) WhaleSummary(topN int) ([]models.WhaleWallet, error) {
	var wallets []models.WhaleWallet
	err := l.db.
		Order("CAST(total_volume_usd AS REAL) desc").
		Limit(topN).
		Find(&wallets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query whale summary: %w", err)
	}
	return wallets, nil
}

// OwnStats aggregates the engine's own trading history.
type OwnStats struct {
	TotalTrades      int64
	SuccessfulTrades int64
	ClosedTrades     int64 // successful sells, i.e. trades with realized PnL
	WinningTrades    int64
	WinRate          float64
	PnLNative        decimal.Decimal
	PnLUSD           decimal.Decimal
}

// OwnStats computes trade counts, cumulative realized PnL and the win rate
// over closed trades. Sums are done in Go with decimals; SQLite would sum
// the decimal columns as floats.
func (l *Ledger) OwnStats() (OwnStats, error) {
	var trades []models.OwnTrade
	if err := l.db.Find(&trades).Error; err != nil {
		return OwnStats{}, fmt.Errorf("failed to query own trades: %w", err)
	}

	stats := OwnStats{}
	for _, t := range trades {
		stats.TotalTrades++
		if !t.Success {
			continue
		}
		stats.SuccessfulTrades++
		if t.Side != models.SideSell {
			continue
		}
		stats.ClosedTrades++
		stats.PnLNative = stats.PnLNative.Add(t.RealizedPnLNative)
		stats.PnLUSD = stats.PnLUSD.Add(t.RealizedPnLUSD)
		if t.RealizedPnLNative.IsPositive() {
			stats.WinningTrades++
		}
	}
	if stats.ClosedTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.ClosedTrades)
	}
	return stats, nil
}

// RecentMarketEvents returns the most recent market events, newest first.
func (l *Ledger) RecentMarketEvents(limit int) ([]models.MarketEvent, error) {
	var events []models.MarketEvent
	err := l.db.Order("id desc").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query market events: %w", err)
	}
	return events, nil
}

// RecentOwnTrades returns the most recent own trades, newest first.
func (l *Ledger) RecentOwnTrades(limit int) ([]models.OwnTrade, error) {
	var trades []models.OwnTrade
	err := l.db.Order("timestamp desc").Limit(limit).Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query own trades: %w", err)
	}
	return trades, nil
}
