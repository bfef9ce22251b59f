package agent

import (
	"fmt"
	"math"

	"github.com/depegsim/depegsim/pkg/sim/handle"
	"github.com/depegsim/depegsim/pkg/sim/wallet"
)

// RedemptionArbitrage buys a balanced basket of DS and the LST with ETH
// whenever their combined price plus the redemption fee falls short of
// 1, then immediately redeems the basket at the PSM for 1 ETH minus
// fees, capturing the depeg spread. Grounded on RedemptionArbitrageAgent.
type RedemptionArbitrage struct {
	w *wallet.Wallet

	Symbol string
}

// NewRedemptionArbitrage constructs a RedemptionArbitrage strategy for symbol.
func NewRedemptionArbitrage(id, symbol string) *RedemptionArbitrage {
	return &RedemptionArbitrage{w: wallet.New(id), Symbol: symbol}
}

func (a *RedemptionArbitrage) Name() string          { return "RedemptionArbitrage:" + a.Symbol }
func (a *RedemptionArbitrage) Wallet() *wallet.Wallet { return a.w }
func (a *RedemptionArbitrage) Bind(w *wallet.Wallet)  { a.w = w }

func (a *RedemptionArbitrage) OnAfterGenesis(h handle.Handle) error { return nil }

func (a *RedemptionArbitrage) OnBlockMined(h handle.Handle, block uint64) error {
	dsPrice, err := h.SpotPrice("DS_" + a.Symbol)
	if err != nil {
		return nil
	}
	lstPrice, err := h.SpotPrice(a.Symbol)
	if err != nil {
		return nil
	}
	redemptionFee, _, err := h.PSMFees(a.Symbol)
	if err != nil {
		return nil
	}

	margin := lstPrice + dsPrice + redemptionFee
	if margin >= 1 {
		return nil
	}

	intent := buyingIntentIncreasingBelow1(margin, 1, 3)
	combinedPrice := dsPrice + lstPrice
	if combinedPrice <= 0 {
		return nil
	}
	tokenCount := math.Floor((intent * a.w.EthBalance()) / combinedPrice)
	if tokenCount <= 0 {
		return nil
	}

	dsAmountInEth := tokenCount * dsPrice
	if outcome, err := h.CalculateBuyDSOutcome(a.Symbol, dsAmountInEth); err != nil || outcome == 0 {
		return nil
	}

	if _, err := h.BuyDS(a.Symbol, dsAmountInEth); err != nil {
		return nil
	}
	h.LogTrade(handle.TradeRecord{
		Block: block, Agent: a.Name(), Token: "DS_" + a.Symbol, Volume: dsAmountInEth,
		Action: "buy", Reason: "lst_price + ds_price < 1",
		AdditionalInfo: fmt.Sprintf("lst_price=%.6f ds_price=%.6f", lstPrice, dsPrice),
	})

	lstAmountInEth := tokenCount * lstPrice
	if _, err := h.SwapEthForToken(a.Symbol, lstAmountInEth); err != nil {
		return nil
	}
	h.LogTrade(handle.TradeRecord{
		Block: block, Agent: a.Name(), Token: a.Symbol, Volume: lstAmountInEth,
		Action: "buy", Reason: "match_ds_buy",
	})

	lstBalance := a.w.BalanceOf(a.Symbol)
	dsBalance := a.w.BalanceOf("DS_" + a.Symbol)
	redemptionAmount := math.Min(lstBalance, dsBalance)
	if redemptionAmount <= 0 {
		return nil
	}
	if _, err := h.RedeemWithLSTAndDS(a.Symbol, redemptionAmount); err != nil {
		return nil
	}
	h.LogTrade(handle.TradeRecord{
		Block: block, Agent: a.Name(), Token: "ETH", Volume: redemptionAmount,
		Action: "redeem", Reason: "immediate_redeem_after_purchase",
	})
	return nil
}

func (a *RedemptionArbitrage) Clone() handle.Agent {
	c := *a
	return &c
}
