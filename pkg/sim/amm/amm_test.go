package amm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depegsim/depegsim/pkg/sim/simerrors"
	"github.com/depegsim/depegsim/pkg/sim/wallet"
)

func newConstantProductPool() *Pool {
	return New(Config{ID: "stETH", Symbol: "stETH", Kind: ConstantProduct, ReserveEth: 100, ReserveToken: 100, FeeBps: 0.003})
}

func TestConstantProductSpotPrice(t *testing.T) {
	p := newConstantProductPool()
	assert.InDelta(t, 1.0, p.PriceOfOneTokenInETH(), 1e-9)
}

func TestConstantProductSwapEthForTokenMovesPriceUp(t *testing.T) {
	p := newConstantProductPool()
	w := wallet.New("trader")
	require.NoError(t, w.DepositEth(10))

	out, err := p.SwapEthForToken(w, 10, 1)
	require.NoError(t, err)
	assert.Greater(t, out, 0.0)
	assert.Less(t, out, 10.0, "fee and slippage must leave the swapper below the no-slippage amount")

	eth, tok, _ := p.Reserves()
	assert.InDelta(t, 110.0, eth, 1e-9)
	assert.Greater(t, p.PriceOfOneTokenInETH(), 1.0, "buying the token should raise its ETH price")
	assert.Less(t, tok, 100.0)
}

func TestSwapRoundTripLosesToFeeAndSlippage(t *testing.T) {
	p := newConstantProductPool()
	w := wallet.New("trader")
	require.NoError(t, w.DepositEth(10))

	out, err := p.SwapEthForToken(w, 10, 1)
	require.NoError(t, err)

	back, err := p.SwapTokenForEth(w, out, 1)
	require.NoError(t, err)
	assert.Less(t, back, 10.0, "a round trip through fee-bearing swaps must not be profitable")
}

func TestSwapInsufficientWalletBalance(t *testing.T) {
	p := newConstantProductPool()
	w := wallet.New("trader")
	require.NoError(t, w.DepositEth(1))

	_, err := p.SwapEthForToken(w, 5, 1)
	assert.ErrorIs(t, err, simerrors.ErrInsufficientBalance)
	assert.Equal(t, 1.0, w.EthBalance(), "failed swap must not debit the wallet")
}

func TestSwapZeroReservePoolRejected(t *testing.T) {
	p := New(Config{ID: "empty", Symbol: "empty", Kind: ConstantProduct})
	w := wallet.New("trader")
	require.NoError(t, w.DepositEth(5))

	_, err := p.SwapEthForToken(w, 5, 1)
	assert.ErrorIs(t, err, simerrors.ErrEmptyPool)
	assert.Equal(t, 5.0, w.EthBalance(), "failed swap against an empty pool must refund the wallet")
}

func TestAddAndRemoveLiquidityRoundTrip(t *testing.T) {
	p := newConstantProductPool()
	w := wallet.New("lp")
	require.NoError(t, w.DepositEth(100))
	require.NoError(t, w.DepositToken("stETH", 100))

	shares, err := p.AddLiquidity(w, 50, 50)
	require.NoError(t, err)
	assert.Greater(t, shares, 0.0)

	eth, tok, err := p.RemoveLiquidity(w, shares)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, eth, 1e-9)
	assert.InDelta(t, 50.0, tok, 1e-9)
	assert.Equal(t, 0.0, w.LPBalance(p.ID))
}

func TestAddLiquidityAtomicOnPartialFailure(t *testing.T) {
	p := newConstantProductPool()
	w := wallet.New("lp")
	require.NoError(t, w.DepositEth(50))
	// no stETH balance deposited

	_, err := p.AddLiquidity(w, 50, 50)
	require.Error(t, err)
	assert.Equal(t, 50.0, w.EthBalance(), "the ETH leg must be refunded when the token leg fails")
}

func TestYieldSpacePriceIncorporatesDiscount(t *testing.T) {
	p := New(Config{ID: "DS_stETH", Symbol: "DS_stETH", Kind: YieldSpace, ReserveEth: 10, ReserveToken: 100, FeeBps: 0.003, DiscountRate: 0.1})
	undiscounted := 10.0 / 100.0
	assert.Less(t, p.PriceOfOneTokenInETH(), undiscounted, "YieldSpace spot price must be discounted below the raw ratio")
}

func TestDirectMutateFractionalAndAbsolute(t *testing.T) {
	p := newConstantProductPool()
	p.DirectMutate(-0.5, 20)
	eth, tok, _ := p.Reserves()
	assert.InDelta(t, 50.0, eth, 1e-9, "negative delta in (-1,0) is a fractional withdrawal")
	assert.InDelta(t, 120.0, tok, 1e-9, "delta outside (-1,0) is an absolute addition")
}

func TestSetReservesOverwrites(t *testing.T) {
	p := newConstantProductPool()
	p.SetReserves(5, 500)
	eth, tok, _ := p.Reserves()
	assert.Equal(t, 5.0, eth)
	assert.Equal(t, 500.0, tok)
}

func TestCloneIsIndependent(t *testing.T) {
	p := newConstantProductPool()
	w := wallet.New("lp")
	require.NoError(t, w.DepositEth(100))
	require.NoError(t, w.DepositToken("stETH", 100))
	_, err := p.AddLiquidity(w, 10, 10)
	require.NoError(t, err)

	clone := p.Clone()
	clone.SetReserves(1, 1)

	eth, _, _ := p.Reserves()
	assert.InDelta(t, 110.0, eth, 1e-9, "mutating the clone must not affect the original pool")
}

func TestPreviewDoesNotMutateState(t *testing.T) {
	p := newConstantProductPool()
	before, _, _ := p.Reserves()

	out, err := p.Preview(10, EthForToken)
	require.NoError(t, err)
	assert.Greater(t, out, 0.0)

	after, _, _ := p.Reserves()
	assert.Equal(t, before, after)
}
