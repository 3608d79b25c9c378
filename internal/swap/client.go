package swap

import (
	"context"
	"errors"
	"math/big"
	"time"

	"evm-swap-bot/internal/aggregator"
	"evm-swap-bot/internal/chain"
	"evm-swap-bot/internal/config"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

// NativeToken is the sentinel address aggregators use for the chain's
// native currency.
var NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Swapper executes swaps for the trading engine. Both calls are best-effort:
// they never return an error, only a transaction hash and whether the swap
// can be considered executed.
type Swapper interface {
	Buy(ctx context.Context, amountInWei *big.Int, slippageBps int) (string, bool)
	Sell(ctx context.Context, amountInWei *big.Int, slippageBps int) (string, bool)
}

// attemptOutcome tags the result of one encoding attempt so the fallback
// control flow is explicit instead of inferred from error types.
type attemptOutcome int

const (
	outcomeOK attemptOutcome = iota
	outcomeNeedsFallback
	outcomeFailed
)

// preparedTx is a swap transaction ready for signing and submission.
type preparedTx struct {
	to      common.Address
	value   *big.Int
	data    []byte
	gasHint uint64
}

// Client resolves, builds, signs and submits swap transactions for one
// token pair. It implements Swapper.
type Client struct {
	agg            aggregator.ClientInterface
	chain          chain.ClientInterface
	tokenIn        common.Address // native side of the pair
	tokenOut       common.Address // the traded asset
	fallbackRouter common.Address
	waitForReceipt bool
	receiptTimeout time.Duration
	logger         *zap.Logger

	// routers whose allowance was already observed sufficient; avoids an
	// extra RPC round-trip on every sell.
	approvedRouters map[common.Address]bool
}

// ensure Client implements the interface
var _ Swapper = (*Client)(nil)

// NewClient creates a swap client for the configured pair.
func NewClient(agg aggregator.ClientInterface, chainClient chain.ClientInterface, cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		agg:             agg,
		chain:           chainClient,
		tokenIn:         common.HexToAddress(cfg.Chain.TokenIn),
		tokenOut:        common.HexToAddress(cfg.Chain.TokenOut),
		fallbackRouter:  common.HexToAddress(cfg.Chain.RouterAddress),
		waitForReceipt:  cfg.Trading.WaitForReceipt,
		receiptTimeout:  time.Duration(cfg.Trading.ReceiptTimeoutSeconds) * time.Second,
		logger:          logger,
		approvedRouters: make(map[common.Address]bool),
	}
}

// Buy swaps native currency into the asset. amountInWei is the native amount
// to spend.
func (c *Client) Buy(ctx context.Context, amountInWei *big.Int, slippageBps int) (string, bool) {
	return c.swap(ctx, c.tokenIn, c.tokenOut, amountInWei, slippageBps)
}

// Sell swaps the asset back into native currency. amountInWei is the asset
// amount in minor units. The router allowance is checked first and a
// one-time maximum approval is submitted when it is insufficient; the swap
// attempt does not block on approval confirmation.
func (c *Client) Sell(ctx context.Context, amountInWei *big.Int, slippageBps int) (string, bool) {
	return c.swap(ctx, c.tokenOut, c.tokenIn, amountInWei, slippageBps)
}

// swap runs the two-step attempt sequence: the modern route/build path,
// then the legacy encode path, then give up. Failures are logged, never
// returned.
func (c *Client) swap(ctx context.Context, tokenIn, tokenOut common.Address, amount *big.Int, slippageBps int) (string, bool) {
	l := c.logger.With(
		zap.String("token_in", tokenIn.Hex()),
		zap.String("token_out", tokenOut.Hex()),
		zap.String("amount_in", amount.String()))

	if amount == nil || amount.Sign() <= 0 {
		l.Error("Refusing swap with non-positive amount")
		return "", false
	}

	tx, outcome := c.prepareModern(ctx, tokenIn, tokenOut, amount, slippageBps)
	if outcome == outcomeNeedsFallback {
		l.Warn("Modern route path failed, attempting legacy encode fallback")
		tx, outcome = c.prepareLegacy(ctx, tokenIn, tokenOut, amount, slippageBps)
	}
	if outcome != outcomeOK {
		l.Error("All encoding paths failed, giving up on this swap")
		return "", false
	}

	if tokenIn != NativeToken {
		c.ensureAllowance(ctx, tokenIn, tx.to, amount)
	}

	hash, err := c.chain.SendTx(ctx, tx.to, tx.value, tx.data, tx.gasHint)
	if err != nil {
		l.Error("Failed to submit swap transaction", zap.Error(err))
		return "", false
	}

	if c.waitForReceipt {
		mined, err := c.chain.WaitMined(ctx, hash, c.receiptTimeout)
		if !mined {
			// Timed out or reverted: the outcome is unknown-or-failed, which
			// the caller must treat exactly like a failed submission.
			l.Warn("Swap not confirmed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
			return "", false
		}
	}

	l.Info("Swap executed", zap.String("tx_hash", hash.Hex()))
	return hash.Hex(), true
}

// prepareModern resolves a route and builds the transaction payload via the
// modern aggregator endpoints. Any failure selects the fallback path.
func (c *Client) prepareModern(ctx context.Context, tokenIn, tokenOut common.Address, amount *big.Int, slippageBps int) (*preparedTx, attemptOutcome) {
	params := aggregator.RouteParams{
		TokenIn:     tokenIn.Hex(),
		TokenOut:    tokenOut.Hex(),
		AmountIn:    amount.String(),
		SlippageBps: slippageBps,
	}

	route, err := c.agg.GetRoute(ctx, params)
	if errors.Is(err, aggregator.ErrRouteNotFound) {
		// One retry: route resolution is flaky under load.
		route, err = c.agg.GetRoute(ctx, params)
	}
	if err != nil {
		c.logger.Warn("Route resolution failed", zap.Error(err))
		return nil, outcomeNeedsFallback
	}

	sender := c.chain.Address().Hex()
	built, err := c.agg.BuildTx(ctx, route, sender, sender, slippageBps)
	if err != nil {
		c.logger.Warn("Route build failed", zap.Error(err))
		return nil, outcomeNeedsFallback
	}

	data, err := hexutil.Decode(built.Data)
	if err != nil {
		c.logger.Warn("Route build returned malformed calldata", zap.Error(err))
		return nil, outcomeNeedsFallback
	}

	return &preparedTx{
		to:      common.HexToAddress(built.RouterAddress),
		value:   c.txValue(tokenIn, amount, built.TransactionValue),
		data:    data,
		gasHint: built.GasHint,
	}, outcomeOK
}

// prepareLegacy builds the transaction via the legacy encode endpoint.
func (c *Client) prepareLegacy(ctx context.Context, tokenIn, tokenOut common.Address, amount *big.Int, slippageBps int) (*preparedTx, attemptOutcome) {
	enc, err := c.agg.LegacyEncode(ctx, aggregator.EncodeParams{
		TokenIn:     tokenIn.Hex(),
		TokenOut:    tokenOut.Hex(),
		AmountIn:    amount.String(),
		Recipient:   c.chain.Address().Hex(),
		SlippageBps: slippageBps,
	})
	if err != nil {
		c.logger.Warn("Legacy encode failed", zap.Error(err))
		return nil, outcomeFailed
	}

	data, err := hexutil.Decode(enc.EncodedSwapData)
	if err != nil {
		c.logger.Warn("Legacy encode returned malformed calldata", zap.Error(err))
		return nil, outcomeFailed
	}

	router := c.fallbackRouter
	if enc.RouterAddress != "" {
		router = common.HexToAddress(enc.RouterAddress)
	}

	return &preparedTx{
		to:    router,
		value: c.txValue(tokenIn, amount, ""),
		data:  data,
	}, outcomeOK
}

// txValue returns the native value to attach: the build-phase value when
// provided, else the input amount for native-in swaps, else zero.
func (c *Client) txValue(tokenIn common.Address, amount *big.Int, transactionValue string) *big.Int {
	if transactionValue != "" {
		if v, ok := new(big.Int).SetString(transactionValue, 10); ok {
			return v
		}
	}
	if tokenIn == NativeToken {
		return new(big.Int).Set(amount)
	}
	return big.NewInt(0)
}

// ensureAllowance submits a one-time maximum approval when the router
// allowance is insufficient. It is best-effort by design: a failed read or
// approval is logged and the swap attempt proceeds regardless, since the
// swap itself will surface any real allowance problem.
func (c *Client) ensureAllowance(ctx context.Context, token, router common.Address, amount *big.Int) {
	if c.approvedRouters[router] {
		return
	}

	allowance, err := c.chain.Allowance(ctx, token, router)
	if err != nil {
		c.logger.Warn("Failed to read router allowance", zap.Error(err))
		return
	}
	if allowance.Cmp(amount) >= 0 {
		c.approvedRouters[router] = true
		return
	}

	hash, err := c.chain.Approve(ctx, token, router)
	if err != nil {
		c.logger.Error("Failed to submit router approval", zap.Error(err))
		return
	}
	// Not cached as approved: the next sell re-checks the allowance in case
	// this approval never lands.
	c.logger.Info("Submitted maximum router approval",
		zap.String("router", router.Hex()),
		zap.String("tx_hash", hash.Hex()))
}
