package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depegsim/depegsim/pkg/sim/amm"
	"github.com/depegsim/depegsim/pkg/sim/psm"
	"github.com/depegsim/depegsim/pkg/sim/simerrors"
	"github.com/depegsim/depegsim/pkg/sim/wallet"
)

// fakeBorrower is a minimal Borrower that mints/burns ETH and tokens
// directly on the target wallet, mirroring what Engine's flash-loan
// ledger does without needing a full Engine in these unit tests.
type fakeBorrower struct {
	block uint64
}

func (f *fakeBorrower) CurrentBlock() uint64 { return f.block }
func (f *fakeBorrower) BorrowEth(w *wallet.Wallet, amt float64) error {
	return w.DepositEth(amt)
}
func (f *fakeBorrower) RepayEth(w *wallet.Wallet, amt float64) error {
	return w.WithdrawEth(amt)
}
func (f *fakeBorrower) BorrowToken(w *wallet.Wallet, symbol string, amt float64) error {
	return w.DepositToken(symbol, amt)
}
func (f *fakeBorrower) RepayToken(w *wallet.Wallet, symbol string, amt float64) error {
	return w.WithdrawToken(symbol, amt)
}

func newTestVault() *Vault {
	syms := psm.Symbols{LST: "stETH", CT: "CT_stETH", DS: "DS_stETH"}
	p := psm.New(psm.Config{Symbols: syms, ExpiryBlock: 1000, RedemptionFee: 0.001, RepurchaseFee: 0.05})
	lst := amm.New(amm.Config{ID: "stETH", Symbol: "stETH", Kind: amm.ConstantProduct, ReserveEth: 1000, ReserveToken: 1000, FeeBps: 0.003})
	ct := amm.New(amm.Config{ID: "CT_stETH", Symbol: "CT_stETH", Kind: amm.YieldSpace, ReserveEth: 500, ReserveToken: 1000, FeeBps: 0.003, DiscountRate: 0.01})
	ds := amm.New(amm.Config{ID: "DS_stETH", Symbol: "DS_stETH", Kind: amm.YieldSpace, ReserveEth: 500, ReserveToken: 1000, FeeBps: 0.003, DiscountRate: 0.01})
	return New(Config{Symbols: syms, PSM: p, LSTPool: lst, CTPool: ct, DSPool: ds, ReserveCTRatio: 0.4, WalletID: "vault:stETH"})
}

func TestDepositEthMintsLPSharesAndBuildsVaultValue(t *testing.T) {
	v := newTestVault()
	w := wallet.New("lp1")
	require.NoError(t, w.DepositEth(100))

	shares, err := v.DepositEth(w, 100, 1)
	require.NoError(t, err)
	assert.Greater(t, shares, 0.0)
	assert.Equal(t, 0.0, w.EthBalance())
	assert.Greater(t, v.TotalVaultValueEth(), 0.0)
}

func TestSecondDepositorSharesProportionalToValue(t *testing.T) {
	v := newTestVault()
	first := wallet.New("lp1")
	require.NoError(t, first.DepositEth(100))
	firstShares, err := v.DepositEth(first, 100, 1)
	require.NoError(t, err)

	second := wallet.New("lp2")
	require.NoError(t, second.DepositEth(100))
	secondShares, err := v.DepositEth(second, 100, 1)
	require.NoError(t, err)

	assert.InDelta(t, firstShares, secondShares, firstShares*0.5, "equal deposits at near-equal vault value should mint comparable shares")
}

func TestDepositWithdrawRoundTripReturnsMostOfValue(t *testing.T) {
	v := newTestVault()
	w := wallet.New("lp1")
	require.NoError(t, w.DepositEth(100))

	shares, err := v.DepositEth(w, 100, 1)
	require.NoError(t, err)

	payout, err := v.WithdrawLPTokens(w, shares, 2)
	require.NoError(t, err)
	assert.Greater(t, payout, 0.0)
	assert.Less(t, payout, 100.0, "fees along the split/unwind path must leave the depositor below principal")
	assert.Equal(t, 0.0, w.LPBalance(v.PoolID()))
}

func TestWithdrawMoreThanOutstandingSupplyFails(t *testing.T) {
	v := newTestVault()
	w := wallet.New("lp1")
	_, err := v.WithdrawLPTokens(w, 1, 1)
	assert.ErrorIs(t, err, simerrors.ErrEmptyPool)
}

func TestCalculateBuyDSOutcomeDoesNotMutateState(t *testing.T) {
	v := newTestVault()
	beforeEth, beforeTok, _ := v.DSPool.Reserves()

	outcome, err := v.CalculateBuyDSOutcome(10)
	require.NoError(t, err)
	assert.Greater(t, outcome, 0.0)

	afterEth, afterTok, _ := v.DSPool.Reserves()
	assert.Equal(t, beforeEth, afterEth)
	assert.Equal(t, beforeTok, afterTok)
}

func TestBuyDSPaysOutDSAndLeavesNoDebt(t *testing.T) {
	v := newTestVault()
	b := &fakeBorrower{block: 1}
	w := wallet.New("buyer")
	require.NoError(t, w.DepositEth(10))

	out, err := v.BuyDS(b, w, 10)
	require.NoError(t, err)
	assert.Greater(t, out, 0.0)
	assert.InDelta(t, out, w.BalanceOf("DS_stETH"), 1e-9)
	assert.Equal(t, 0.0, v.Wallet.BalanceOf("DS_stETH"), "the vault should not retain DS after a successful buy_ds")
}

func TestBuyDSRejectsNonPositiveAmount(t *testing.T) {
	v := newTestVault()
	b := &fakeBorrower{block: 1}
	w := wallet.New("buyer")
	_, err := v.BuyDS(b, w, 0)
	assert.ErrorIs(t, err, simerrors.ErrBadAmount)
}

func TestSellDSRoundTripAfterBuy(t *testing.T) {
	v := newTestVault()
	b := &fakeBorrower{block: 1}
	w := wallet.New("trader")
	require.NoError(t, w.DepositEth(10))

	dsOut, err := v.BuyDS(b, w, 10)
	require.NoError(t, err)
	require.Greater(t, dsOut, 0.0)

	ethOut, err := v.SellDS(b, w, dsOut)
	require.NoError(t, err)
	assert.Greater(t, ethOut, 0.0)
	assert.Less(t, ethOut, 10.0, "a buy_ds/sell_ds round trip must not be profitable")
	assert.Equal(t, 0.0, w.BalanceOf("DS_stETH"))
}

func TestCloneIsIndependent(t *testing.T) {
	v := newTestVault()
	w := wallet.New("lp1")
	require.NoError(t, w.DepositEth(100))
	_, err := v.DepositEth(w, 100, 1)
	require.NoError(t, err)

	clonePSM := v.PSM.Clone()
	cloneLST := v.LSTPool.Clone()
	cloneCT := v.CTPool.Clone()
	cloneDS := v.DSPool.Clone()
	clone := v.Clone(clonePSM, cloneLST, cloneCT, cloneDS)

	w2 := wallet.New("lp2")
	require.NoError(t, w2.DepositEth(50))
	_, err = clone.DepositEth(w2, 50, 2)
	require.NoError(t, err)

	supply, _ := v.LPShares()
	cloneSupply, _ := clone.LPShares()
	assert.NotEqual(t, supply, cloneSupply, "depositing into the clone must not affect the original vault's LP supply")
}
