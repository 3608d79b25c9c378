package chain

import (
	"context"
	"math/big"
	"testing"

	"evm-swap-bot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticGasPolicy_ReturnsConfiguredCaps(t *testing.T) {
	p := NewStaticGasPolicy(&config.Gas{MaxFeeGwei: 0.05, MaxPriorityFeeGwei: 0.01})

	maxFee, maxTip, err := p.FeeCaps(context.Background())
	require.NoError(t, err)

	// Fractional gwei must convert exactly: 0.05 gwei = 5e7 wei.
	assert.Equal(t, "50000000", maxFee.String())
	assert.Equal(t, "10000000", maxTip.String())
}

func TestStaticGasPolicy_CallersCannotMutateCaps(t *testing.T) {
	p := NewStaticGasPolicy(&config.Gas{MaxFeeGwei: 1, MaxPriorityFeeGwei: 1})

	maxFee, _, err := p.FeeCaps(context.Background())
	require.NoError(t, err)
	maxFee.SetInt64(0)

	again, _, err := p.FeeCaps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1000000000", again.String())
}

func TestCapped(t *testing.T) {
	limit := big.NewInt(100)

	assert.Equal(t, "100", capped(big.NewInt(250), limit).String())
	assert.Equal(t, "80", capped(big.NewInt(80), limit).String())
	// A zero limit means uncapped.
	assert.Equal(t, "250", capped(big.NewInt(250), big.NewInt(0)).String())
}

func TestNewGasPolicy_Selection(t *testing.T) {
	static, err := NewGasPolicy(nil, &config.Gas{MaxFeeGwei: 1, MaxPriorityFeeGwei: 1})
	require.NoError(t, err)
	assert.IsType(t, &StaticGasPolicy{}, static)

	_, err = NewGasPolicy(nil, &config.Gas{SuggestFromNode: true})
	require.Error(t, err)
}
