package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLSTMaximalistBuysAndAddsLiquidityEachBlock(t *testing.T) {
	a := NewLSTMaximalist("maxi-1", "stETH")
	h := newFakeHandle()
	h.spotPrices["stETH"] = 1
	require.NoError(t, a.w.DepositEth(10))

	require.NoError(t, a.OnBlockMined(h, 1))

	require.Len(t, h.trades, 1)
	assert.Equal(t, "buy", h.trades[0].Action)
	assert.Equal(t, 0.0, a.w.BalanceOf("stETH"), "the bought unit is immediately re-deposited as liquidity")
}

func TestLSTMaximalistSkipsWithNoSpotPrice(t *testing.T) {
	a := NewLSTMaximalist("maxi-1", "stETH")
	h := newFakeHandle()
	require.NoError(t, a.OnBlockMined(h, 1))
	assert.Empty(t, h.trades)
}

func TestLSTMaximalistSkipsWithInsufficientEth(t *testing.T) {
	a := NewLSTMaximalist("maxi-1", "stETH")
	h := newFakeHandle()
	h.spotPrices["stETH"] = 2
	require.NoError(t, a.OnBlockMined(h, 1))
	assert.Empty(t, h.trades)
}
