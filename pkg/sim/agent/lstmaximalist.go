package agent

import (
	"fmt"

	"github.com/depegsim/depegsim/pkg/sim/handle"
	"github.com/depegsim/depegsim/pkg/sim/wallet"
)

// LSTMaximalist is bullish on one LST: every block it buys roughly one
// unit of the LST with ETH, then adds a small matched amount of
// liquidity to the LST/ETH pool. Grounded on LstMaximalist.
type LSTMaximalist struct {
	w *wallet.Wallet

	Symbol string
}

// NewLSTMaximalist constructs an LSTMaximalist strategy for symbol.
func NewLSTMaximalist(id, symbol string) *LSTMaximalist {
	return &LSTMaximalist{w: wallet.New(id), Symbol: symbol}
}

func (a *LSTMaximalist) Name() string          { return "LSTMaximalist:" + a.Symbol }
func (a *LSTMaximalist) Wallet() *wallet.Wallet { return a.w }
func (a *LSTMaximalist) Bind(w *wallet.Wallet)  { a.w = w }

func (a *LSTMaximalist) OnAfterGenesis(h handle.Handle) error { return nil }

func (a *LSTMaximalist) OnBlockMined(h handle.Handle, block uint64) error {
	lstPrice, err := h.SpotPrice(a.Symbol)
	if err != nil || lstPrice <= 0 {
		return nil
	}

	if _, err := h.SwapEthForToken(a.Symbol, lstPrice); err != nil {
		h.LogAction(a.Name(), "skip", "no more ETH, would love to buy more")
		return nil
	}
	h.LogAction(a.Name(), "swap_eth_for_token", fmt.Sprintf("bought one %s with %.6f ETH", a.Symbol, lstPrice))

	if _, err := h.AddLiquidity(a.Symbol, 1, lstPrice); err != nil {
		h.LogAction(a.Name(), "skip", "could not add liquidity")
		return nil
	}
	h.LogAction(a.Name(), "add_liquidity", fmt.Sprintf("added 1 ETH and %.6f %s", lstPrice, a.Symbol))
	h.LogTrade(handle.TradeRecord{
		Block: block, Agent: a.Name(), Token: a.Symbol, Volume: lstPrice,
		Action: "buy", Reason: "maximalist",
	})
	return nil
}

func (a *LSTMaximalist) Clone() handle.Agent {
	c := *a
	return &c
}
