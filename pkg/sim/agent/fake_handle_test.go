package agent

import (
	"github.com/depegsim/depegsim/pkg/sim/handle"
	"github.com/depegsim/depegsim/pkg/sim/wallet"
)

// fakeHandle is a minimal handle.Handle double that lets each strategy
// test configure just the verbs its scenario touches, instead of
// standing up a full engine. Most unconfigured swap/PSM/Vault verbs
// mutate the wallet as a slippage-free fill at the configured spot
// price (1:1 where no price is set); RemoveLiquidity,
// RedeemWithCTAndDS and RedeemWithCTPostExpiry only return a value. A
// test only needs to override a method when it wants a specific
// rejection or outcome.
type fakeHandle struct {
	w                *wallet.Wallet
	block            uint64
	numBlocks        uint64
	spotPrices       map[string]float64
	yieldPerBlock    map[string]float64
	ethYieldPerBlock float64

	psmRedemptionFee float64
	psmRepurchaseFee float64
	psmEthReserve    float64
	psmTokenReserve  float64

	swapEthForTokenErr  error
	swapTokenForEthErr  error
	addLiquidityErr     error
	depositEthToPSMErr  error
	buyDSOutcome        float64
	buyDSOutcomeErr     error
	sellDSOutcome       float64
	sellDSOutcomeErr    error
	buyDSErr            error
	sellDSErr           error
	redeemWithLSTAndDS  func(symbol string, n float64) (float64, error)
	repurchaseLSTAndDS  func(symbol string, dEth float64) (float64, error)
	vaultDepositEthErr  error
	vaultWithdrawLPFunc func(symbol string, shares float64) (float64, error)

	actions []string
	trades  []handle.TradeRecord
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		w:             wallet.New("agent-under-test"),
		numBlocks:     100,
		spotPrices:    map[string]float64{},
		yieldPerBlock: map[string]float64{},
	}
}

func (f *fakeHandle) CurrentBlock() uint64       { return f.block }
func (f *fakeHandle) NumBlocks() uint64          { return f.numBlocks }
func (f *fakeHandle) Wallet() *wallet.Wallet     { return f.w }
func (f *fakeHandle) Tokens() []string           { return nil }
func (f *fakeHandle) EthYieldPerBlock() float64  { return f.ethYieldPerBlock }

func (f *fakeHandle) SpotPrice(symbol string) (float64, error) {
	return f.spotPrices[symbol], nil
}

func (f *fakeHandle) YieldPerBlock(symbol string) (float64, error) {
	return f.yieldPerBlock[symbol], nil
}

func (f *fakeHandle) VaultLPTokenPrice(symbol string) (float64, error) { return 1, nil }

func (f *fakeHandle) AMMLPShareValueEth(symbol string, shares float64) (float64, error) {
	return shares, nil
}

func (f *fakeHandle) SwapEthForToken(symbol string, dEth float64) (float64, error) {
	if f.swapEthForTokenErr != nil {
		return 0, f.swapEthForTokenErr
	}
	if err := f.w.WithdrawEth(dEth); err != nil {
		return 0, err
	}
	price := f.spotPrices[symbol]
	out := dEth
	if price > 0 {
		out = dEth / price
	}
	_ = f.w.DepositToken(symbol, out)
	return out, nil
}

func (f *fakeHandle) SwapTokenForEth(symbol string, dTok float64) (float64, error) {
	if f.swapTokenForEthErr != nil {
		return 0, f.swapTokenForEthErr
	}
	if err := f.w.WithdrawToken(symbol, dTok); err != nil {
		return 0, err
	}
	out := dTok * f.spotPrices[symbol]
	_ = f.w.DepositEth(out)
	return out, nil
}

func (f *fakeHandle) AddLiquidity(symbol string, dEth, dTok float64) (float64, error) {
	if f.addLiquidityErr != nil {
		return 0, f.addLiquidityErr
	}
	if err := f.w.WithdrawEth(dEth); err != nil {
		return 0, err
	}
	if err := f.w.WithdrawToken(symbol, dTok); err != nil {
		_ = f.w.DepositEth(dEth)
		return 0, err
	}
	return dEth + dTok, nil
}

func (f *fakeHandle) RemoveLiquidity(symbol string, shares float64) (float64, float64, error) {
	return shares / 2, shares / 2, nil
}

func (f *fakeHandle) DepositEthToPSM(symbol string, dEth float64) error {
	if f.depositEthToPSMErr != nil {
		return f.depositEthToPSMErr
	}
	if err := f.w.WithdrawEth(dEth); err != nil {
		return err
	}
	_ = f.w.DepositToken("CT_"+symbol, dEth)
	_ = f.w.DepositToken("DS_"+symbol, dEth)
	return nil
}

func (f *fakeHandle) PSMFees(symbol string) (float64, float64, error) {
	return f.psmRedemptionFee, f.psmRepurchaseFee, nil
}

func (f *fakeHandle) PSMReserves(symbol string) (float64, float64, error) {
	return f.psmEthReserve, f.psmTokenReserve, nil
}

func (f *fakeHandle) RedeemWithCTAndDS(symbol string, n float64) (float64, error) {
	return n, nil
}

func (f *fakeHandle) RedeemWithLSTAndDS(symbol string, n float64) (float64, error) {
	if f.redeemWithLSTAndDS != nil {
		return f.redeemWithLSTAndDS(symbol, n)
	}
	if err := f.w.WithdrawToken(symbol, n); err != nil {
		return 0, err
	}
	if err := f.w.WithdrawToken("DS_"+symbol, n); err != nil {
		_ = f.w.DepositToken(symbol, n)
		return 0, err
	}
	_ = f.w.DepositEth(n)
	return n, nil
}

func (f *fakeHandle) RedeemWithCTPostExpiry(symbol string, n float64) (float64, error) {
	return n, nil
}

func (f *fakeHandle) RepurchaseLSTAndDS(symbol string, dEth float64) (float64, error) {
	if f.repurchaseLSTAndDS != nil {
		return f.repurchaseLSTAndDS(symbol, dEth)
	}
	if err := f.w.WithdrawEth(dEth); err != nil {
		return 0, err
	}
	net := dEth * (1 - f.psmRepurchaseFee)
	_ = f.w.DepositToken(symbol, net)
	_ = f.w.DepositToken("DS_"+symbol, net)
	return net, nil
}

func (f *fakeHandle) CalculateBuyDSOutcome(symbol string, dEth float64) (float64, error) {
	return f.buyDSOutcome, f.buyDSOutcomeErr
}

func (f *fakeHandle) CalculateSellDSOutcome(symbol string, dDs float64) (float64, error) {
	return f.sellDSOutcome, f.sellDSOutcomeErr
}

func (f *fakeHandle) BuyDS(symbol string, dEth float64) (float64, error) {
	if f.buyDSErr != nil {
		return 0, f.buyDSErr
	}
	if err := f.w.WithdrawEth(dEth); err != nil {
		return 0, err
	}
	out := dEth
	price := f.spotPrices["DS_"+symbol]
	if price > 0 {
		out = dEth / price
	}
	_ = f.w.DepositToken("DS_"+symbol, out)
	return out, nil
}

func (f *fakeHandle) SellDS(symbol string, dDs float64) (float64, error) {
	if f.sellDSErr != nil {
		return 0, f.sellDSErr
	}
	if err := f.w.WithdrawToken("DS_"+symbol, dDs); err != nil {
		return 0, err
	}
	out := dDs * f.spotPrices["DS_"+symbol]
	_ = f.w.DepositEth(out)
	return out, nil
}

func (f *fakeHandle) VaultDepositEth(symbol string, dEth float64) (float64, error) {
	if f.vaultDepositEthErr != nil {
		return 0, f.vaultDepositEthErr
	}
	if err := f.w.WithdrawEth(dEth); err != nil {
		return 0, err
	}
	_ = f.w.DepositLP("vault:"+symbol, dEth)
	return dEth, nil
}

func (f *fakeHandle) VaultWithdrawLP(symbol string, shares float64) (float64, error) {
	if f.vaultWithdrawLPFunc != nil {
		return f.vaultWithdrawLPFunc(symbol, shares)
	}
	if err := f.w.WithdrawLP("vault:"+symbol, shares); err != nil {
		return 0, err
	}
	_ = f.w.DepositEth(shares)
	return shares, nil
}

func (f *fakeHandle) FaceValueETH() (float64, error) {
	return f.w.EthBalance(), nil
}

func (f *fakeHandle) LogAction(agent, action, reason string) {
	f.actions = append(f.actions, agent+":"+action+":"+reason)
}

func (f *fakeHandle) LogTrade(rec handle.TradeRecord) {
	f.trades = append(f.trades, rec)
}
