package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"evm-swap-bot/internal/config"
	"github.com/ethereum/go-ethereum/ethclient"
	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

// GasPolicy resolves the EIP-1559 fee caps for outgoing transactions.
type GasPolicy interface {
	// FeeCaps returns maxFeePerGas and maxPriorityFeePerGas in wei.
	FeeCaps(ctx context.Context) (maxFee, maxTip *big.Int, err error)
}

// gweiToWei converts a fractional gwei amount to wei.
func gweiToWei(gwei float64) *big.Int {
	return decimal.NewFromFloat(gwei).Shift(9).BigInt()
}

// StaticGasPolicy always returns the configured caps. This is the ultra-low
// default used when no node-suggested source is injected.
type StaticGasPolicy struct {
	maxFee *big.Int
	maxTip *big.Int
}

// NewStaticGasPolicy builds a policy from the configured gwei caps.
func NewStaticGasPolicy(cfg *config.Gas) *StaticGasPolicy {
	return &StaticGasPolicy{
		maxFee: gweiToWei(cfg.MaxFeeGwei),
		maxTip: gweiToWei(cfg.MaxPriorityFeeGwei),
	}
}

func (p *StaticGasPolicy) FeeCaps(_ context.Context) (*big.Int, *big.Int, error) {
	return new(big.Int).Set(p.maxFee), new(big.Int).Set(p.maxTip), nil
}

const feeCapsCacheKey = "feecaps"

// NodeGasPolicy asks the node for a tip suggestion and the latest base fee,
// clamped to the configured absolute caps. Results are cached briefly so a
// burst of transactions does not hammer the RPC.
type NodeGasPolicy struct {
	eth      *ethclient.Client
	cache    *gocache.Cache
	capFee   *big.Int
	capTip   *big.Int
	fallback *StaticGasPolicy
}

type cachedCaps struct {
	maxFee *big.Int
	maxTip *big.Int
}

// NewNodeGasPolicy creates a node-suggested gas policy with a 30s cache.
func NewNodeGasPolicy(eth *ethclient.Client, cfg *config.Gas) *NodeGasPolicy {
	return &NodeGasPolicy{
		eth:      eth,
		cache:    gocache.New(30*time.Second, time.Minute),
		capFee:   gweiToWei(cfg.MaxFeeGwei),
		capTip:   gweiToWei(cfg.MaxPriorityFeeGwei),
		fallback: NewStaticGasPolicy(cfg),
	}
}

func (p *NodeGasPolicy) FeeCaps(ctx context.Context) (*big.Int, *big.Int, error) {
	if v, ok := p.cache.Get(feeCapsCacheKey); ok {
		caps := v.(cachedCaps)
		return new(big.Int).Set(caps.maxFee), new(big.Int).Set(caps.maxTip), nil
	}

	tip, err := p.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return p.fallback.FeeCaps(ctx)
	}
	head, err := p.eth.HeaderByNumber(ctx, nil)
	if err != nil || head.BaseFee == nil {
		return p.fallback.FeeCaps(ctx)
	}

	// maxFee = 2*baseFee + tip gives headroom for two full base-fee bumps.
	maxFee := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
	maxFee = capped(maxFee, p.capFee)
	maxTip := capped(tip, p.capTip)
	if maxTip.Cmp(maxFee) > 0 {
		maxTip = new(big.Int).Set(maxFee)
	}

	p.cache.Set(feeCapsCacheKey, cachedCaps{maxFee: maxFee, maxTip: maxTip}, gocache.DefaultExpiration)
	return new(big.Int).Set(maxFee), new(big.Int).Set(maxTip), nil
}

// capped returns v limited to the configured absolute cap, which is never
// exceeded whatever the node suggests.
func capped(v, limit *big.Int) *big.Int {
	if limit.Sign() > 0 && v.Cmp(limit) > 0 {
		return new(big.Int).Set(limit)
	}
	return new(big.Int).Set(v)
}

// NewGasPolicy selects the policy from configuration.
func NewGasPolicy(eth *ethclient.Client, cfg *config.Gas) (GasPolicy, error) {
	if cfg.SuggestFromNode {
		if eth == nil {
			return nil, fmt.Errorf("node gas policy requires an RPC client")
		}
		return NewNodeGasPolicy(eth, cfg), nil
	}
	return NewStaticGasPolicy(cfg), nil
}
