package agent

import (
	"fmt"
	"math"

	"github.com/depegsim/depegsim/pkg/sim/handle"
	"github.com/depegsim/depegsim/pkg/sim/wallet"
)

// DSLongTerm accumulates DS whenever its price is cheap relative to the
// LST's annualized native yield, and in every block the LST trades
// below DepegThreshold sells part of its DS into ETH, a larger part the
// longer the run of consecutive below-threshold blocks. Grounded on
// DSLongTermAgent.
type DSLongTerm struct {
	w *wallet.Wallet

	Symbol         string
	BuyingPressure float64
	K              float64
	DepegThreshold float64

	priceHistory []float64
}

// NewDSLongTerm constructs a DSLongTerm strategy for symbol.
func NewDSLongTerm(id, symbol string, buyingPressure float64) *DSLongTerm {
	return &DSLongTerm{
		w:              wallet.New(id),
		Symbol:         symbol,
		BuyingPressure: buyingPressure,
		K:              5,
		DepegThreshold: 0.98,
	}
}

func (a *DSLongTerm) Name() string          { return "DSLongTerm:" + a.Symbol }
func (a *DSLongTerm) Wallet() *wallet.Wallet { return a.w }
func (a *DSLongTerm) Bind(w *wallet.Wallet)  { a.w = w }

func (a *DSLongTerm) OnAfterGenesis(h handle.Handle) error { return nil }

func (a *DSLongTerm) OnBlockMined(h handle.Handle, block uint64) error {
	dsPrice, err := h.SpotPrice("DS_" + a.Symbol)
	if err != nil {
		return nil
	}
	lstYield, err := h.YieldPerBlock(a.Symbol)
	if err != nil {
		return nil
	}
	lstPrice, err := h.SpotPrice(a.Symbol)
	if err != nil {
		return nil
	}
	annualizedYield := lstYield * float64(h.NumBlocks())

	intent := a.calculateBuyingIntent(dsPrice, annualizedYield)
	amountEthToBuy := intent * a.w.EthBalance() * a.BuyingPressure

	if amountEthToBuy > 0 {
		h.LogAction(a.Name(), "buy_ds", fmt.Sprintf("buying_intent=%.6f", intent))
		if out, err := h.BuyDS(a.Symbol, amountEthToBuy); err == nil {
			h.LogTrade(handle.TradeRecord{
				Block: block, Agent: a.Name(), Token: "DS_" + a.Symbol, Volume: amountEthToBuy,
				Action: "buy", Reason: "buying_intent",
				AdditionalInfo: fmt.Sprintf("buying_intent=%.6f ds_price=%.6f ds_received=%.6f", intent, dsPrice, out),
			})
		}
	}

	a.priceHistory = append(a.priceHistory, lstPrice)

	if lstPrice <= a.DepegThreshold {
		dsBalance := a.w.BalanceOf("DS_" + a.Symbol)
		streak := countConsecutiveUnderThreshold(a.priceHistory, a.DepegThreshold)
		amountToSell := math.Min(dsBalance*float64(streak)*0.1, dsBalance)
		if amountToSell > 0 {
			if out, err := h.SellDS(a.Symbol, amountToSell); err == nil {
				h.LogTrade(handle.TradeRecord{
					Block: block, Agent: a.Name(), Token: "DS_" + a.Symbol, Volume: amountToSell,
					Action: "sell", Reason: "lst_price <= depeg_threshold",
					AdditionalInfo: fmt.Sprintf("lst_price=%.6f depeg_threshold=%.6f streak=%d eth_received=%.6f", lstPrice, a.DepegThreshold, streak, out),
				})
			}
		}
	}
	return nil
}

func (a *DSLongTerm) calculateBuyingIntent(dsPrice, annualizedYield float64) float64 {
	if annualizedYield == 0 {
		return 0
	}
	return math.Exp(-a.K * (dsPrice / annualizedYield))
}

func (a *DSLongTerm) Clone() handle.Agent {
	c := *a
	c.priceHistory = append([]float64(nil), a.priceHistory...)
	return &c
}
