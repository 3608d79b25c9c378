package pricefeed

import (
	"context"
	"fmt"
	"time"

	"evm-swap-bot/internal/config"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.dexscreener.com"

// PriceSample is one observation of the traded pool. Produced once per tick
// and consumed once; never mutated.
type PriceSample struct {
	PriceUSD       decimal.Decimal
	PriceNative    decimal.Decimal // asset price denominated in the chain's native currency
	LiquidityUSD   float64
	Volume24hUSD   float64
	PriceChange1h  float64
	PriceChange6h  float64
	PriceChange24h float64
	Buys24h        int
	Sells24h       int
	At             time.Time
}

// Feed fetches the current pool state from a public market-data API.
type Feed interface {
	Fetch(ctx context.Context) (*PriceSample, error)
}

// Client is a DexScreener-style pair endpoint client.
type Client struct {
	client    *resty.Client
	chainSlug string
	pool      string
	logger    *zap.Logger
}

var _ Feed = (*Client)(nil)

// NewClient creates a market-data client for a single pool.
func NewClient(cfg *config.Market, pool string, logger *zap.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)

	return &Client{
		client:    client,
		chainSlug: cfg.ChainSlug,
		pool:      pool,
		logger:    logger,
	}
}

// pairResponse mirrors the subset of the pair endpoint payload we consume.
type pairResponse struct {
	Pairs []pairInfo `json:"pairs"`
	Pair  *pairInfo  `json:"pair"`
}

type pairInfo struct {
	PriceUsd    string `json:"priceUsd"`
	PriceNative string `json:"priceNative"`
	Liquidity   struct {
		Usd float64 `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H1  float64 `json:"h1"`
		H6  float64 `json:"h6"`
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Txns struct {
		H24 struct {
			Buys  int `json:"buys"`
			Sells int `json:"sells"`
		} `json:"h24"`
	} `json:"txns"`
}

// Fetch pulls the current price, liquidity and volume for the pool.
// A non-positive price is an error: the strategy must never act on it.
func (c *Client) Fetch(ctx context.Context) (*PriceSample, error) {
	var result pairResponse

	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&result).
		Get(fmt.Sprintf("/latest/dex/pairs/%s/%s", c.chainSlug, c.pool))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pair data: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("pair endpoint returned status %s", resp.Status())
	}

	pair := result.Pair
	if pair == nil && len(result.Pairs) > 0 {
		pair = &result.Pairs[0]
	}
	if pair == nil {
		return nil, fmt.Errorf("pair endpoint returned no pair for %s/%s", c.chainSlug, c.pool)
	}

	price, err := decimal.NewFromString(pair.PriceUsd)
	if err != nil {
		return nil, fmt.Errorf("failed to parse priceUsd %q: %w", pair.PriceUsd, err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("non-positive price %s for pool %s", price, c.pool)
	}

	// priceNative is optional on some endpoints; a zero value just disables
	// native-denominated PnL for the tick that consumed it.
	priceNative, err := decimal.NewFromString(pair.PriceNative)
	if err != nil {
		priceNative = decimal.Zero
	}

	sample := &PriceSample{
		PriceUSD:       price,
		PriceNative:    priceNative,
		LiquidityUSD:   pair.Liquidity.Usd,
		Volume24hUSD:   pair.Volume.H24,
		PriceChange1h:  pair.PriceChange.H1,
		PriceChange6h:  pair.PriceChange.H6,
		PriceChange24h: pair.PriceChange.H24,
		Buys24h:        pair.Txns.H24.Buys,
		Sells24h:       pair.Txns.H24.Sells,
		At:             time.Now(),
	}

	c.logger.Debug("Fetched price sample",
		zap.String("price_usd", sample.PriceUSD.String()),
		zap.Float64("liquidity_usd", sample.LiquidityUSD),
		zap.Float64("volume_24h", sample.Volume24hUSD))

	return sample, nil
}
