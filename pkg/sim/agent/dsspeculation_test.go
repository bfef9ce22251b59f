package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSSpeculationNoOpUntilHistoryIsLongEnough(t *testing.T) {
	a := NewDSSpeculation("spec-1", "stETH")
	h := newFakeHandle()
	h.spotPrices["DS_stETH"] = 0.02
	h.yieldPerBlock["stETH"] = 0.001
	require.NoError(t, a.w.DepositEth(10))

	require.NoError(t, a.OnBlockMined(h, 1))
	require.NoError(t, a.OnBlockMined(h, 2))

	assert.Empty(t, h.trades, "the EWMA slope needs at least 3 samples before it can fire")
}

func TestDSSpeculationBuysOnSharpDecline(t *testing.T) {
	a := NewDSSpeculation("spec-1", "stETH")
	a.Threshold = 0.001
	h := newFakeHandle()
	h.spotPrices["DS_stETH"] = 0.02
	h.yieldPerBlock["stETH"] = 0.05
	require.NoError(t, a.w.DepositEth(1000))

	// Feed a steadily declining ARP series by raising DS price each block
	// (ARP falls as dsPrice rises relative to the fixed yield term).
	prices := []float64{0.01, 0.05, 0.2, 0.6, 1.0}
	for i, p := range prices {
		h.spotPrices["DS_stETH"] = p
		h.block = uint64(i + 1)
		require.NoError(t, a.OnBlockMined(h, h.block))
	}

	assert.NotEmpty(t, a.arpHistory)
	require.NotEmpty(t, h.trades, "a falling ARP series must trigger a DS buy")
	assert.Equal(t, "buy", h.trades[0].Action)
	assert.Equal(t, "sharp_decline", h.trades[0].Reason)
}

func TestDSSpeculationCloneCopiesHistoryIndependently(t *testing.T) {
	a := NewDSSpeculation("spec-1", "stETH")
	a.arpHistory = []float64{1, 2}

	clone := a.Clone().(*DSSpeculation)
	clone.arpHistory[0] = 99

	assert.Equal(t, 1.0, a.arpHistory[0])
}
