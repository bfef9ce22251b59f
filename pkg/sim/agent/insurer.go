package agent

import (
	"fmt"

	"github.com/depegsim/depegsim/pkg/sim/handle"
	"github.com/depegsim/depegsim/pkg/sim/wallet"
)

// Insurer sells about 1 ETH worth of its LST each block and deposits
// its entire ETH balance into the PSM, minting fresh CT+DS coverage.
// Grounded on Insurer.
type Insurer struct {
	w *wallet.Wallet

	Symbol string
}

// NewInsurer constructs an Insurer strategy for symbol.
func NewInsurer(id, symbol string) *Insurer {
	return &Insurer{w: wallet.New(id), Symbol: symbol}
}

func (a *Insurer) Name() string          { return "Insurer:" + a.Symbol }
func (a *Insurer) Wallet() *wallet.Wallet { return a.w }
func (a *Insurer) Bind(w *wallet.Wallet)  { a.w = w }

func (a *Insurer) OnAfterGenesis(h handle.Handle) error { return nil }

func (a *Insurer) OnBlockMined(h handle.Handle, block uint64) error {
	lstPrice, err := h.SpotPrice(a.Symbol)
	if err != nil || lstPrice <= 0 {
		h.LogAction(a.Name(), "skip", fmt.Sprintf("no spot price for %s", a.Symbol))
		return nil
	}

	amountLSTToSwap := 1 / lstPrice
	if _, err := h.SwapTokenForEth(a.Symbol, amountLSTToSwap); err != nil {
		h.LogAction(a.Name(), "skip", fmt.Sprintf("no more %s, would love to insure more", a.Symbol))
		return nil
	}
	h.LogAction(a.Name(), "swap_token_for_eth", fmt.Sprintf("bought 1 ETH with %.6f %s", amountLSTToSwap, a.Symbol))

	ethBalance := a.w.EthBalance()
	if ethBalance <= 0 {
		return nil
	}
	if err := h.DepositEthToPSM(a.Symbol, ethBalance); err != nil {
		h.LogAction(a.Name(), "skip", "psm deposit failed")
		return nil
	}
	h.LogAction(a.Name(), "deposit_eth_to_psm", fmt.Sprintf("deposited %.6f ETH", ethBalance))
	h.LogTrade(handle.TradeRecord{
		Block: block, Agent: a.Name(), Token: a.Symbol, Volume: ethBalance,
		Action: "deposit", Reason: "insure_proceeds",
	})
	return nil
}

func (a *Insurer) Clone() handle.Agent {
	c := *a
	return &c
}
