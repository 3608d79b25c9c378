package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OwnTrade is one swap attempt made by the engine itself. Append-only.
// Realized PnL is filled on SELL rows only, computed against the native
// amount spent on the most recent buy (single open lot).
type OwnTrade struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	Timestamp         time.Time       `json:"timestamp"`
	Side              string          `gorm:"not null" json:"side"` // "BUY" or "SELL"
	AssetAmount       decimal.Decimal `gorm:"type:text" json:"asset_amount"`
	NativeAmount      decimal.Decimal `gorm:"type:text" json:"native_amount"`
	Price             decimal.Decimal `gorm:"type:text" json:"price"`
	RealizedPnLNative decimal.Decimal `gorm:"type:text" json:"realized_pnl_native"`
	RealizedPnLUSD    decimal.Decimal `gorm:"type:text" json:"realized_pnl_usd"`
	Reason            string          `json:"reason"` // e.g. "initial entry", "dip rebuy", "profit target"
	TxHash            string          `json:"tx_hash"`
	Success           bool            `json:"success"`
}
