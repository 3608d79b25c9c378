package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Chain      Chain      `mapstructure:"chain"`
	Aggregator Aggregator `mapstructure:"aggregator"`
	Market     Market     `mapstructure:"market"`
	Trading    Trading    `mapstructure:"trading"`
	Gas        Gas        `mapstructure:"gas"`
	Logger     Logger     `mapstructure:"logger"`
	Database   Database   `mapstructure:"database"`
}

// Chain holds the RPC endpoint, signing identity and pair addresses.
type Chain struct {
	RpcURL        string `mapstructure:"rpc_url"`
	ChainID       int64  `mapstructure:"chain_id"`
	PrivateKey    string `mapstructure:"private_key"`
	TokenIn       string `mapstructure:"token_in"`  // wrapped-native side of the pair
	TokenOut      string `mapstructure:"token_out"` // the traded asset
	TokenDecimals int32  `mapstructure:"token_decimals"`
	PoolAddress   string `mapstructure:"pool_address"`
	RouterAddress string `mapstructure:"router_address"` // router used by the legacy encode path
}

// Aggregator holds the configuration for the swap-routing aggregator API.
type Aggregator struct {
	BaseURL        string  `mapstructure:"base_url"`
	ChainSlug      string  `mapstructure:"chain_slug"`
	Source         string  `mapstructure:"source"` // client tag sent with build requests
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Market holds the configuration for the public market-data API.
type Market struct {
	BaseURL        string `mapstructure:"base_url"`
	ChainSlug      string `mapstructure:"chain_slug"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Trading holds the configuration for the trading logic.
type Trading struct {
	SlippageBps           int     `mapstructure:"slippage_bps"`
	ProfitTargetPct       float64 `mapstructure:"profit_target_pct"`
	DipThresholdPct       float64 `mapstructure:"dip_threshold_pct"`
	StopLossEnabled       bool    `mapstructure:"stop_loss_enabled"`
	StopLossPct           float64 `mapstructure:"stop_loss_pct"`
	EthReserve            float64 `mapstructure:"eth_reserve"` // native amount never spent, kept for fees
	TickInterval          int     `mapstructure:"tick_interval"`
	SummaryInterval       int     `mapstructure:"summary_interval"` // ticks between aggregate-stats log lines
	WaitForReceipt        bool    `mapstructure:"wait_for_receipt"`
	ReceiptTimeoutSeconds int     `mapstructure:"receipt_timeout_seconds"`
}

// Gas holds the gas-parameter limits applied to every transaction.
type Gas struct {
	LimitCap           uint64  `mapstructure:"limit_cap"`     // absolute gas-limit cap, never exceeded
	DefaultLimit       uint64  `mapstructure:"default_limit"` // used when estimation fails
	MaxFeeGwei         float64 `mapstructure:"max_fee_gwei"`
	MaxPriorityFeeGwei float64 `mapstructure:"max_priority_fee_gwei"`
	SuggestFromNode    bool    `mapstructure:"suggest_from_node"` // query the node for fee caps instead of the static floor
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("aggregator.rate_limit", 5) // requests per second
	viper.SetDefault("aggregator.rate_limit_burst", 2)
	viper.SetDefault("market.timeout_seconds", 10)
	viper.SetDefault("chain.token_decimals", 18)
	viper.SetDefault("trading.slippage_bps", 50)
	viper.SetDefault("trading.tick_interval", 60)
	viper.SetDefault("trading.summary_interval", 10)
	viper.SetDefault("trading.wait_for_receipt", true)
	viper.SetDefault("trading.receipt_timeout_seconds", 180)
	viper.SetDefault("gas.limit_cap", 500000)
	viper.SetDefault("gas.default_limit", 350000)
	viper.SetDefault("gas.max_fee_gwei", 0.05)
	viper.SetDefault("gas.max_priority_fee_gwei", 0.05)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
