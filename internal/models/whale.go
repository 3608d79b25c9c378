package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides as stored in the database.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// WhaleWallet is the per-wallet aggregate over all observed counterparty
// trades. All counters are monotonically non-decreasing except NetPosition,
// and NetPosition always equals TotalBought - TotalSold.
type WhaleWallet struct {
	Address        string          `gorm:"primaryKey" json:"address"`
	TotalTrades    int64           `gorm:"not null" json:"total_trades"`
	TotalVolumeUSD decimal.Decimal `gorm:"type:text" json:"total_volume_usd"`
	TotalBought    decimal.Decimal `gorm:"type:text" json:"total_bought"`
	TotalSold      decimal.Decimal `gorm:"type:text" json:"total_sold"`
	NetPosition    decimal.Decimal `gorm:"type:text" json:"net_position"`
	FirstSeen      time.Time       `json:"first_seen"`
	LastSeen       time.Time       `json:"last_seen"`
}

// WhaleTrade is a single observed counterparty trade. Append-only.
type WhaleTrade struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	WalletAddress string          `gorm:"index;not null" json:"wallet_address"`
	Timestamp     time.Time       `json:"timestamp"`
	Side          string          `gorm:"not null" json:"side"` // "BUY" or "SELL"
	AssetAmount   decimal.Decimal `gorm:"type:text" json:"asset_amount"`
	NativeAmount  decimal.Decimal `gorm:"type:text" json:"native_amount"`
	USDValue      decimal.Decimal `gorm:"type:text" json:"usd_value"`
	Price         decimal.Decimal `gorm:"type:text" json:"price"`
	TxHash        string          `json:"tx_hash"`
}
