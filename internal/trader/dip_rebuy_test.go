package trader

import (
	"context"
	"math/big"
	"testing"
	"time"

	"evm-swap-bot/internal/config"
	"evm-swap-bot/internal/database"
	"evm-swap-bot/internal/ledger"
	"evm-swap-bot/internal/models"
	"evm-swap-bot/internal/pricefeed"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// MockFeed is a mock implementation of pricefeed.Feed.
type MockFeed struct {
	mock.Mock
}

func (m *MockFeed) Fetch(ctx context.Context) (*pricefeed.PriceSample, error) {
	args := m.Called(ctx)
	if s, ok := args.Get(0).(*pricefeed.PriceSample); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockSwapper is a mock implementation of swap.Swapper.
type MockSwapper struct {
	mock.Mock
}

func (m *MockSwapper) Buy(ctx context.Context, amountInWei *big.Int, slippageBps int) (string, bool) {
	args := m.Called(ctx, amountInWei, slippageBps)
	return args.String(0), args.Bool(1)
}

func (m *MockSwapper) Sell(ctx context.Context, amountInWei *big.Int, slippageBps int) (string, bool) {
	args := m.Called(ctx, amountInWei, slippageBps)
	return args.String(0), args.Bool(1)
}

// MockChain is a mock implementation of chain.ClientInterface.
type MockChain struct {
	mock.Mock
}

func (m *MockChain) Address() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000DeaDBeef")
}

func (m *MockChain) NativeBalance(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockChain) TokenBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockChain) Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	args := m.Called(ctx, token, spender)
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockChain) Approve(ctx context.Context, token, spender common.Address) (common.Hash, error) {
	args := m.Called(ctx, token, spender)
	return args.Get(0).(common.Hash), args.Error(1)
}

func (m *MockChain) SendTx(ctx context.Context, to common.Address, value *big.Int, data []byte, gasHint uint64) (common.Hash, error) {
	args := m.Called(ctx, to, value, data, gasHint)
	return args.Get(0).(common.Hash), args.Error(1)
}

func (m *MockChain) WaitMined(ctx context.Context, hash common.Hash, timeout time.Duration) (bool, error) {
	args := m.Called(ctx, hash, timeout)
	return args.Bool(0), args.Error(1)
}

func testConfig() *config.Config {
	return &config.Config{
		Chain: config.Chain{
			TokenOut:      "0x1111111111111111111111111111111111111111",
			TokenDecimals: 18,
		},
		Trading: config.Trading{
			SlippageBps:     50,
			ProfitTargetPct: 10,
			DipThresholdPct: 15,
			EthReserve:      0.001,
			TickInterval:    60,
			SummaryInterval: 10,
		},
	}
}

// newTestLedger creates a ledger over a fresh in-memory database.
func newTestLedger(t *testing.T) *ledger.Ledger {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return ledger.New(db, zap.NewNop())
}

func setupStrategy(t *testing.T) (*DipRebuyStrategy, StrategyContext, *MockFeed, *MockSwapper, *MockChain) {
	feed := new(MockFeed)
	swapper := new(MockSwapper)
	chainClient := new(MockChain)

	sc := StrategyContext{
		Logger:  zap.NewNop(),
		Cfg:     testConfig(),
		Feed:    feed,
		Swapper: swapper,
		Chain:   chainClient,
		Ledger:  newTestLedger(t),
	}

	s := NewDipRebuyStrategy()
	require.NoError(t, s.Initialize(sc))
	return s, sc, feed, swapper, chainClient
}

func sample(priceUSD, priceNative string) *pricefeed.PriceSample {
	return &pricefeed.PriceSample{
		PriceUSD:    decimal.RequireFromString(priceUSD),
		PriceNative: decimal.RequireFromString(priceNative),
		At:          time.Now(),
	}
}

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad wei literal " + s)
	}
	return v
}

func TestFirstTickBuysBalanceAboveReserve(t *testing.T) {
	s, sc, feed, swapper, chainClient := setupStrategy(t)

	feed.On("Fetch", mock.Anything).Return(sample("100", "0.05"), nil).Once()
	// 0.01 native in the wallet, 0.001 reserved: exactly 0.009 is spendable.
	chainClient.On("NativeBalance", mock.Anything).Return(wei("10000000000000000"), nil).Once()
	swapper.On("Buy", mock.Anything, wei("9000000000000000"), 50).Return("0xbuyhash", true).Once()

	require.NoError(t, s.Tick(context.Background(), sc))

	swapper.AssertExpectations(t)

	trades, err := sc.Ledger.RecentOwnTrades(10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.SideBuy, trades[0].Side)
	assert.True(t, trades[0].Success)
	assert.Equal(t, "initial entry", trades[0].Reason)
	assert.Equal(t, "0.009", trades[0].NativeAmount.String())
	assert.Equal(t, "0xbuyhash", trades[0].TxHash)
	// 0.009 native at 0.05 native per asset: 0.18 asset expected.
	assert.Equal(t, "0.18", trades[0].AssetAmount.String())
}

func TestBuySkippedWhenBalanceAtReserveFloor(t *testing.T) {
	s, sc, feed, swapper, chainClient := setupStrategy(t)

	feed.On("Fetch", mock.Anything).Return(sample("100", "0.05"), nil).Once()
	// Balance equals the reserve: nothing is spendable.
	chainClient.On("NativeBalance", mock.Anything).Return(wei("1000000000000000"), nil).Once()

	require.NoError(t, s.Tick(context.Background(), sc))

	swapper.AssertNotCalled(t, "Buy", mock.Anything, mock.Anything, mock.Anything)

	trades, err := sc.Ledger.RecentOwnTrades(10)
	require.NoError(t, err)
	assert.Empty(t, trades)

	events, err := sc.Ledger.RecentMarketEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "skip", events[0].EventType)
}

func TestProfitTargetThresholdIsClosed(t *testing.T) {
	s, sc, feed, swapper, chainClient := setupStrategy(t)
	asset := common.HexToAddress(sc.Cfg.Chain.TokenOut)

	// Entry at 100; the 10% target means sell at 110 or better, never below.
	feed.On("Fetch", mock.Anything).Return(sample("100", "0.005"), nil).Once()
	feed.On("Fetch", mock.Anything).Return(sample("109.99", "0.0055"), nil).Once()
	feed.On("Fetch", mock.Anything).Return(sample("110", "0.0055"), nil).Once()

	chainClient.On("NativeBalance", mock.Anything).Return(wei("10000000000000000"), nil).Once()
	swapper.On("Buy", mock.Anything, mock.Anything, 50).Return("0xbuyhash", true).Once()
	chainClient.On("TokenBalance", mock.Anything, asset).Return(wei("1000000000000000000"), nil).Once()
	swapper.On("Sell", mock.Anything, wei("1000000000000000000"), 50).Return("0xsellhash", true).Once()

	ctx := context.Background()
	require.NoError(t, s.Tick(ctx, sc)) // buys at 100
	require.NoError(t, s.Tick(ctx, sc)) // 109.99 < 110: keeps holding
	require.NoError(t, s.Tick(ctx, sc)) // 110 >= 110: sells

	swapper.AssertExpectations(t)
	swapper.AssertNumberOfCalls(t, "Sell", 1)

	trades, err := sc.Ledger.RecentOwnTrades(10)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	sell := trades[0]
	assert.Equal(t, models.SideSell, sell.Side)
	assert.Equal(t, "profit target", sell.Reason)
	assert.True(t, sell.Success)
	// 1 asset sold: 10 USD above the 100 entry, 0.0055 native proceeds
	// against a 0.009 native entry cost.
	assert.Equal(t, "10", sell.RealizedPnLUSD.String())
	assert.Equal(t, "-0.0035", sell.RealizedPnLNative.String())

	events, err := sc.Ledger.RecentMarketEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 1) // only the 109.99 tick was a no-op
	assert.Equal(t, "watch", events[0].EventType)
}

func TestRebuyWaitsForDipBelowPeak(t *testing.T) {
	s, sc, feed, swapper, chainClient := setupStrategy(t)
	asset := common.HexToAddress(sc.Cfg.Chain.TokenOut)

	// Entry at 90, sold at 100. The peak then climbs to 120, so the 15% dip
	// threshold is 102: 103 is not deep enough, 102 is.
	feed.On("Fetch", mock.Anything).Return(sample("90", "0.005"), nil).Once()
	feed.On("Fetch", mock.Anything).Return(sample("100", "0.005"), nil).Once()
	feed.On("Fetch", mock.Anything).Return(sample("120", "0.005"), nil).Once()
	feed.On("Fetch", mock.Anything).Return(sample("103", "0.005"), nil).Once()
	feed.On("Fetch", mock.Anything).Return(sample("102", "0.005"), nil).Once()

	chainClient.On("NativeBalance", mock.Anything).Return(wei("10000000000000000"), nil).Twice()
	swapper.On("Buy", mock.Anything, wei("9000000000000000"), 50).Return("0xbuyhash", true).Twice()
	chainClient.On("TokenBalance", mock.Anything, asset).Return(wei("1000000000000000000"), nil).Once()
	swapper.On("Sell", mock.Anything, mock.Anything, 50).Return("0xsellhash", true).Once()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Tick(ctx, sc))
	}

	swapper.AssertExpectations(t)
	swapper.AssertNumberOfCalls(t, "Buy", 2)

	trades, err := sc.Ledger.RecentOwnTrades(10)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "dip rebuy", trades[0].Reason)
	assert.Equal(t, "102", trades[0].Price.String())
}

func TestFailedBuyLeavesStrategyFlat(t *testing.T) {
	s, sc, feed, swapper, chainClient := setupStrategy(t)

	feed.On("Fetch", mock.Anything).Return(sample("100", "0.05"), nil).Twice()
	chainClient.On("NativeBalance", mock.Anything).Return(wei("10000000000000000"), nil).Twice()
	// Both attempts fail: the strategy never entered, so it keeps trying
	// its unconditional first entry.
	swapper.On("Buy", mock.Anything, mock.Anything, 50).Return("", false).Twice()

	ctx := context.Background()
	require.NoError(t, s.Tick(ctx, sc))
	require.NoError(t, s.Tick(ctx, sc))

	swapper.AssertExpectations(t)

	trades, err := sc.Ledger.RecentOwnTrades(10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	for _, tr := range trades {
		assert.Equal(t, models.SideBuy, tr.Side)
		assert.False(t, tr.Success)
		assert.Equal(t, "initial entry", tr.Reason)
	}
}

func TestFailedSellKeepsPosition(t *testing.T) {
	s, sc, feed, swapper, chainClient := setupStrategy(t)
	asset := common.HexToAddress(sc.Cfg.Chain.TokenOut)

	feed.On("Fetch", mock.Anything).Return(sample("100", "0.005"), nil).Once()
	feed.On("Fetch", mock.Anything).Return(sample("115", "0.005"), nil).Twice()

	chainClient.On("NativeBalance", mock.Anything).Return(wei("10000000000000000"), nil).Once()
	swapper.On("Buy", mock.Anything, mock.Anything, 50).Return("0xbuyhash", true).Once()
	chainClient.On("TokenBalance", mock.Anything, asset).Return(wei("1000000000000000000"), nil).Twice()
	// First sell fails; the position survives and is retried next tick.
	swapper.On("Sell", mock.Anything, mock.Anything, 50).Return("", false).Once()
	swapper.On("Sell", mock.Anything, mock.Anything, 50).Return("0xsellhash", true).Once()

	ctx := context.Background()
	require.NoError(t, s.Tick(ctx, sc))
	require.NoError(t, s.Tick(ctx, sc))
	require.NoError(t, s.Tick(ctx, sc))

	swapper.AssertNumberOfCalls(t, "Sell", 2)

	trades, err := sc.Ledger.RecentOwnTrades(10)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.True(t, trades[0].Success)
	assert.False(t, trades[1].Success)
	assert.Equal(t, models.SideSell, trades[1].Side)
	// The failed attempt realized nothing.
	assert.True(t, trades[1].RealizedPnLUSD.IsZero())
}

func TestStopLoss(t *testing.T) {
	t.Run("DisabledByDefault", func(t *testing.T) {
		s, sc, feed, swapper, chainClient := setupStrategy(t)

		feed.On("Fetch", mock.Anything).Return(sample("100", "0.005"), nil).Once()
		feed.On("Fetch", mock.Anything).Return(sample("50", "0.0025"), nil).Once()

		chainClient.On("NativeBalance", mock.Anything).Return(wei("10000000000000000"), nil).Once()
		swapper.On("Buy", mock.Anything, mock.Anything, 50).Return("0xbuyhash", true).Once()

		ctx := context.Background()
		require.NoError(t, s.Tick(ctx, sc))
		require.NoError(t, s.Tick(ctx, sc)) // 50% drawdown, still holding

		swapper.AssertNotCalled(t, "Sell", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("SellsAtFloorWhenEnabled", func(t *testing.T) {
		s, sc, feed, swapper, chainClient := setupStrategy(t)
		sc.Cfg.Trading.StopLossEnabled = true
		sc.Cfg.Trading.StopLossPct = 20
		asset := common.HexToAddress(sc.Cfg.Chain.TokenOut)

		feed.On("Fetch", mock.Anything).Return(sample("100", "0.005"), nil).Once()
		feed.On("Fetch", mock.Anything).Return(sample("80", "0.004"), nil).Once()

		chainClient.On("NativeBalance", mock.Anything).Return(wei("10000000000000000"), nil).Once()
		swapper.On("Buy", mock.Anything, mock.Anything, 50).Return("0xbuyhash", true).Once()
		chainClient.On("TokenBalance", mock.Anything, asset).Return(wei("1000000000000000000"), nil).Once()
		swapper.On("Sell", mock.Anything, mock.Anything, 50).Return("0xsellhash", true).Once()

		ctx := context.Background()
		require.NoError(t, s.Tick(ctx, sc))
		require.NoError(t, s.Tick(ctx, sc))

		swapper.AssertExpectations(t)

		trades, err := sc.Ledger.RecentOwnTrades(1)
		require.NoError(t, err)
		require.Len(t, trades, 1)
		assert.Equal(t, "stop loss", trades[0].Reason)
		assert.True(t, trades[0].RealizedPnLUSD.IsNegative())
	})
}

func TestFeedErrorAbortsTickOnly(t *testing.T) {
	s, sc, feed, swapper, chainClient := setupStrategy(t)

	feed.On("Fetch", mock.Anything).Return(nil, assert.AnError).Once()
	feed.On("Fetch", mock.Anything).Return(sample("100", "0.05"), nil).Once()
	chainClient.On("NativeBalance", mock.Anything).Return(wei("10000000000000000"), nil).Once()
	swapper.On("Buy", mock.Anything, mock.Anything, 50).Return("0xbuyhash", true).Once()

	ctx := context.Background()
	require.Error(t, s.Tick(ctx, sc))
	require.NoError(t, s.Tick(ctx, sc))

	swapper.AssertExpectations(t)
}
