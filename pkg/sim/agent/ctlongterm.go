package agent

import (
	"fmt"
	"math"

	"github.com/depegsim/depegsim/pkg/sim/handle"
	"github.com/depegsim/depegsim/pkg/sim/wallet"
)

// CTLongTerm buys CT whenever its implied fixed yield (1 - price) beats
// the LST's annualized native yield by more than a threshold, betting
// that sustained buying pressure will compress the spread over time.
// Grounded on CTLongTermAgent.
type CTLongTerm struct {
	w *wallet.Wallet

	Symbol              string
	PercentageThreshold float64
}

// NewCTLongTerm constructs a CTLongTerm strategy for symbol.
func NewCTLongTerm(id, symbol string, percentageThreshold float64) *CTLongTerm {
	return &CTLongTerm{w: wallet.New(id), Symbol: symbol, PercentageThreshold: percentageThreshold}
}

func (a *CTLongTerm) Name() string          { return "CTLongTerm:" + a.Symbol }
func (a *CTLongTerm) Wallet() *wallet.Wallet { return a.w }
func (a *CTLongTerm) Bind(w *wallet.Wallet)  { a.w = w }

func (a *CTLongTerm) OnAfterGenesis(h handle.Handle) error { return nil }

func (a *CTLongTerm) OnBlockMined(h handle.Handle, block uint64) error {
	lstYield, err := h.YieldPerBlock(a.Symbol)
	if err != nil {
		return nil
	}
	expectedLSTYield := lstYield * float64(h.NumBlocks())

	ctPrice, err := h.SpotPrice("CT_" + a.Symbol)
	if err != nil {
		return nil
	}
	fixedYield := 1 - ctPrice
	riskPremium := fixedYield - expectedLSTYield

	if riskPremium <= a.PercentageThreshold {
		return nil
	}

	weightedVolume := buyingIntent(riskPremium, 1, a.PercentageThreshold, 3)
	volumeToBuy := math.Min(weightedVolume, a.w.EthBalance())
	if volumeToBuy <= 0 {
		return nil
	}

	if _, err := h.SwapEthForToken("CT_"+a.Symbol, volumeToBuy); err != nil {
		return nil
	}
	h.LogAction(a.Name(), "swap_eth_for_token", fmt.Sprintf("bought CT with %.6f ETH", volumeToBuy))
	h.LogTrade(handle.TradeRecord{
		Block: block, Agent: a.Name(), Token: "CT_" + a.Symbol, Volume: volumeToBuy,
		Action: "buy", Reason: "risk_premium > percentage_threshold",
		AdditionalInfo: fmt.Sprintf("risk_premium=%.6f threshold=%.6f", riskPremium, a.PercentageThreshold),
	})
	return nil
}

func (a *CTLongTerm) Clone() handle.Agent {
	c := *a
	return &c
}
