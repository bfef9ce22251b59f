package agent

import (
	"fmt"
	"math"

	"github.com/depegsim/depegsim/pkg/sim/handle"
	"github.com/depegsim/depegsim/pkg/sim/wallet"
)

// DSSpeculation trades DS momentum: it tracks the annualized risk
// premium implied by DS's price each block, and reacts to a sharp
// decline by buying DS (expecting mean reversion upward) or a sharp
// incline by selling into it. Grounded on DSShortTermAgent.
type DSSpeculation struct {
	w *wallet.Wallet

	Symbol    string
	Threshold float64

	arpHistory []float64
}

// NewDSSpeculation constructs a DSSpeculation strategy for symbol.
func NewDSSpeculation(id, symbol string) *DSSpeculation {
	return &DSSpeculation{w: wallet.New(id), Symbol: symbol, Threshold: 0.01}
}

func (a *DSSpeculation) Name() string          { return "DSSpeculation:" + a.Symbol }
func (a *DSSpeculation) Wallet() *wallet.Wallet { return a.w }
func (a *DSSpeculation) Bind(w *wallet.Wallet)  { a.w = w }

func (a *DSSpeculation) OnAfterGenesis(h handle.Handle) error { return nil }

func (a *DSSpeculation) OnBlockMined(h handle.Handle, block uint64) error {
	dsPrice, err := h.SpotPrice("DS_" + a.Symbol)
	if err != nil {
		return nil
	}
	nativeYield, err := h.YieldPerBlock(a.Symbol)
	if err != nil {
		return nil
	}

	arp := calculateARP(dsPrice, nativeYield, h.NumBlocks(), h.CurrentBlock())
	a.arpHistory = append(a.arpHistory, arp)

	var sharpDecline, sharpIncline bool
	var slope float64
	if len(a.arpHistory) >= 3 {
		sharpDecline, sharpIncline, slope = ewmaSlope(a.arpHistory, 10, 0.3, -a.Threshold, a.Threshold)
	}

	if sharpDecline && dsPrice > 0 {
		weightedVolume := 100 * slope * -1
		potential := weightedVolume / dsPrice
		volume := math.Min(a.w.EthBalance(), potential)
		if volume > 0 {
			if _, err := h.BuyDS(a.Symbol, volume); err == nil {
				h.LogTrade(handle.TradeRecord{
					Block: block, Agent: a.Name(), Token: "DS_" + a.Symbol, Volume: volume,
					Action: "buy", Reason: "sharp_decline",
					AdditionalInfo: fmt.Sprintf("arp=%.6f ewa_slope=%.6f", arp, slope),
				})
			}
		}
	}

	if sharpIncline && dsPrice > 0 {
		weightedVolume := 100 * slope / dsPrice
		balance := a.w.BalanceOf("DS_" + a.Symbol)
		volume := math.Min(weightedVolume, balance)
		if volume > 0 {
			if _, err := h.SellDS(a.Symbol, volume); err == nil {
				h.LogTrade(handle.TradeRecord{
					Block: block, Agent: a.Name(), Token: "DS_" + a.Symbol, Volume: volume / dsPrice,
					Action: "sell", Reason: "sharp_incline",
					AdditionalInfo: fmt.Sprintf("arp=%.6f ewa_slope=%.6f", arp, slope),
				})
			}
		}
	}
	return nil
}

func (a *DSSpeculation) Clone() handle.Agent {
	c := *a
	c.arpHistory = append([]float64(nil), a.arpHistory...)
	return &c
}
