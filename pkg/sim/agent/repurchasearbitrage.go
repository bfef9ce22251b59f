package agent

import (
	"fmt"
	"math"

	"github.com/depegsim/depegsim/pkg/sim/handle"
	"github.com/depegsim/depegsim/pkg/sim/wallet"
)

// RepurchaseArbitrage buys a basket of LST+DS directly from the PSM
// whenever their combined market price exceeds 1 plus the repurchase
// fee, then immediately sells both legs at market for a profit.
// Grounded on RepurchaseArbitrageAgent.
type RepurchaseArbitrage struct {
	w *wallet.Wallet

	Symbol string
}

// NewRepurchaseArbitrage constructs a RepurchaseArbitrage strategy for symbol.
func NewRepurchaseArbitrage(id, symbol string) *RepurchaseArbitrage {
	return &RepurchaseArbitrage{w: wallet.New(id), Symbol: symbol}
}

func (a *RepurchaseArbitrage) Name() string          { return "RepurchaseArbitrage:" + a.Symbol }
func (a *RepurchaseArbitrage) Wallet() *wallet.Wallet { return a.w }
func (a *RepurchaseArbitrage) Bind(w *wallet.Wallet)  { a.w = w }

func (a *RepurchaseArbitrage) OnAfterGenesis(h handle.Handle) error { return nil }

func (a *RepurchaseArbitrage) OnBlockMined(h handle.Handle, block uint64) error {
	dsPrice, err := h.SpotPrice("DS_" + a.Symbol)
	if err != nil {
		return nil
	}
	lstPrice, err := h.SpotPrice(a.Symbol)
	if err != nil {
		return nil
	}
	_, repurchaseFee, err := h.PSMFees(a.Symbol)
	if err != nil {
		return nil
	}

	if lstPrice+dsPrice <= 1+repurchaseFee {
		return nil
	}

	intent := buyingIntentIncreasingAbove1(lstPrice+dsPrice-repurchaseFee, 3)
	potential := intent * a.w.EthBalance()

	_, tokenReserve, err := h.PSMReserves(a.Symbol)
	if err != nil {
		return nil
	}

	transactionAmount := math.Min(math.Min(a.w.EthBalance(), tokenReserve), potential)
	if transactionAmount <= 0 {
		return nil
	}

	net, err := h.RepurchaseLSTAndDS(a.Symbol, transactionAmount)
	if err != nil || net <= 0 {
		return nil
	}
	h.LogTrade(handle.TradeRecord{
		Block: block, Agent: a.Name(), Token: a.Symbol, Volume: net * lstPrice,
		Action: "repurchase_from_psm", Reason: "lst_price + ds_price > 1",
		AdditionalInfo: fmt.Sprintf("lst_price=%.6f ds_price=%.6f", lstPrice, dsPrice),
	})
	h.LogTrade(handle.TradeRecord{
		Block: block, Agent: a.Name(), Token: "DS_" + a.Symbol, Volume: net * dsPrice,
		Action: "repurchase_from_psm", Reason: "lst_price + ds_price > 1",
	})

	if _, err := h.SellDS(a.Symbol, net); err == nil {
		h.LogTrade(handle.TradeRecord{
			Block: block, Agent: a.Name(), Token: "DS_" + a.Symbol, Volume: net * dsPrice,
			Action: "sell", Reason: "immediate_sell_after_repurchase",
		})
	}
	if _, err := h.SwapTokenForEth(a.Symbol, net); err == nil {
		h.LogTrade(handle.TradeRecord{
			Block: block, Agent: a.Name(), Token: a.Symbol, Volume: net * lstPrice,
			Action: "sell", Reason: "immediate_sell_after_repurchase",
		})
	}
	return nil
}

func (a *RepurchaseArbitrage) Clone() handle.Agent {
	c := *a
	return &c
}
