package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"evm-swap-bot/internal/config"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// MaxApproval is the unlimited ERC-20 allowance (2^256 - 1).
var MaxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ClientInterface defines the on-chain operations used by the swap client
// and the trading engine.
type ClientInterface interface {
	Address() common.Address
	NativeBalance(ctx context.Context) (*big.Int, error)
	TokenBalance(ctx context.Context, token common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address) (common.Hash, error)
	SendTx(ctx context.Context, to common.Address, value *big.Int, data []byte, gasHint uint64) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash, timeout time.Duration) (bool, error)
}

// Client wraps an ethclient connection with the signing key, gas policy and
// gas limits of this bot. It holds no trading state; callers must serialize
// transactions against the same sender because the nonce is fetched fresh
// per transaction.
type Client struct {
	eth        *ethclient.Client
	chainID    *big.Int
	privateKey *ecdsa.PrivateKey
	address    common.Address
	gasPolicy  GasPolicy
	gasCfg     config.Gas
	erc20      abi.ABI
	logger     *zap.Logger
}

// ensure Client implements the interface
var _ ClientInterface = (*Client)(nil)

// NewClient connects to the RPC endpoint and validates that the node serves
// the configured chain. A chain-id mismatch is a configuration error and
// therefore fatal at startup.
func NewClient(ctx context.Context, cfg *config.Chain, gasCfg config.Gas, logger *zap.Logger) (*Client, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to derive public key")
	}
	address := crypto.PubkeyToAddress(*publicKey)

	eth, err := ethclient.DialContext(ctx, cfg.RpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}
	if chainID.Int64() != cfg.ChainID {
		return nil, fmt.Errorf("chain id mismatch: node reports %s, config expects %d", chainID, cfg.ChainID)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %w", err)
	}

	gasPolicy, err := NewGasPolicy(eth, &gasCfg)
	if err != nil {
		return nil, err
	}

	logger.Info("Connected to chain",
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("address", address.Hex()))

	return &Client{
		eth:        eth,
		chainID:    chainID,
		privateKey: privateKey,
		address:    address,
		gasPolicy:  gasPolicy,
		gasCfg:     gasCfg,
		erc20:      parsed,
		logger:     logger,
	}, nil
}

// Close closes the underlying RPC connection.
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}

// Address returns the sender address derived from the signing key.
func (c *Client) Address() common.Address {
	return c.address
}

// NativeBalance returns the wallet's native balance in wei.
func (c *Client) NativeBalance(ctx context.Context) (*big.Int, error) {
	balance, err := c.eth.BalanceAt(ctx, c.address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get native balance: %w", err)
	}
	return balance, nil
}

// TokenBalance returns the wallet's ERC-20 balance in minor units.
func (c *Client) TokenBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	data, err := c.erc20.Pack("balanceOf", c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}
	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}
	var balance *big.Int
	if err := c.erc20.UnpackIntoInterface(&balance, "balanceOf", result); err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf result: %w", err)
	}
	return balance, nil
}

// Allowance returns the router allowance currently granted by the wallet.
func (c *Client) Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	data, err := c.erc20.Pack("allowance", c.address, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance call: %w", err)
	}
	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call allowance: %w", err)
	}
	var allowance *big.Int
	if err := c.erc20.UnpackIntoInterface(&allowance, "allowance", result); err != nil {
		return nil, fmt.Errorf("failed to unpack allowance result: %w", err)
	}
	return allowance, nil
}

// Approve submits a maximum ERC-20 approval for the spender. It returns as
// soon as the transaction is accepted by the node; callers decide whether to
// wait for confirmation.
func (c *Client) Approve(ctx context.Context, token, spender common.Address) (common.Hash, error) {
	data, err := c.erc20.Pack("approve", spender, MaxApproval)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack approve call: %w", err)
	}
	return c.SendTx(ctx, token, big.NewInt(0), data, 0)
}

// SendTx signs and broadcasts a dynamic-fee transaction. The nonce is
// fetched fresh, the gas limit is the network estimate with a 5% margin
// (or the gas hint / configured default when estimation fails) and is always
// capped by the configured absolute limit.
func (c *Client) SendTx(ctx context.Context, to common.Address, value *big.Int, data []byte, gasHint uint64) (common.Hash, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, c.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	maxFee, maxTip, err := c.gasPolicy.FeeCaps(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to resolve fee caps: %w", err)
	}

	gasLimit := c.gasLimit(ctx, to, value, data, gasHint)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: maxTip,
		GasFeeCap: maxFee,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.Info("Transaction submitted",
		zap.String("tx_hash", signedTx.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit),
		zap.String("max_fee_wei", maxFee.String()))

	return signedTx.Hash(), nil
}

// gasLimit estimates gas with a 5% safety margin, falling back to the build
// hint and then the configured default, and never exceeds the absolute cap.
func (c *Client) gasLimit(ctx context.Context, to common.Address, value *big.Int, data []byte, gasHint uint64) uint64 {
	limit := c.gasCfg.DefaultLimit
	estimated, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.address,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		if gasHint > 0 {
			limit = gasHint
		}
		c.logger.Warn("Gas estimation failed, using fallback limit",
			zap.Uint64("limit", limit), zap.Error(err))
	} else {
		limit = estimated * 105 / 100
	}

	if limit > c.gasCfg.LimitCap {
		limit = c.gasCfg.LimitCap
	}
	return limit
}

// WaitMined polls for the transaction receipt until the timeout elapses.
// It reports success only for a mined receipt with a successful status;
// a timeout means the outcome is unknown, not failed.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash, timeout time.Duration) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return false, fmt.Errorf("timed out waiting for receipt of %s: %w", hash.Hex(), waitCtx.Err())
		case <-ticker.C:
			receipt, err := c.eth.TransactionReceipt(waitCtx, hash)
			if err != nil {
				continue // not mined yet
			}
			if receipt.Status != types.ReceiptStatusSuccessful {
				return false, fmt.Errorf("transaction %s reverted", hash.Hex())
			}
			return true, nil
		}
	}
}
