package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketEvent is an informational observation about the pool. Append-only.
// PriceChangePct is derived from the before/after prices at write time.
type MarketEvent struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	EventType      string          `gorm:"index;not null" json:"event_type"`
	PriceBefore    decimal.Decimal `gorm:"type:text" json:"price_before"`
	PriceAfter     decimal.Decimal `gorm:"type:text" json:"price_after"`
	PriceChangePct float64         `json:"price_change_pct"`
	Description    string          `json:"description"`
}
