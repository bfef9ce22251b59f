package agent

import (
	"fmt"
	"math"

	"github.com/depegsim/depegsim/pkg/sim/handle"
	"github.com/depegsim/depegsim/pkg/sim/wallet"
)

// LVDepositor deposits into the Vault's LP pool whenever the annualized
// native yield falls far enough short of its expected APY, and
// withdraws again once the margin recovers past the native yield.
// Grounded on LVDepositorAgent.
type LVDepositor struct {
	w *wallet.Wallet

	Symbol               string
	ExpectedAPY          float64
	YieldMarginThreshold float64
}

// NewLVDepositor constructs an LVDepositor strategy for symbol.
func NewLVDepositor(id, symbol string) *LVDepositor {
	return &LVDepositor{
		w:                    wallet.New(id),
		Symbol:               symbol,
		ExpectedAPY:          0.05,
		YieldMarginThreshold: 0.25,
	}
}

func (a *LVDepositor) Name() string          { return "LVDepositor:" + a.Symbol }
func (a *LVDepositor) Wallet() *wallet.Wallet { return a.w }
func (a *LVDepositor) Bind(w *wallet.Wallet)  { a.w = w }

func (a *LVDepositor) OnAfterGenesis(h handle.Handle) error { return nil }

func (a *LVDepositor) OnBlockMined(h handle.Handle, block uint64) error {
	nativeYield, err := h.YieldPerBlock(a.Symbol)
	if err != nil {
		return nil
	}
	annualizedYield := nativeYield * float64(h.NumBlocks())
	if annualizedYield == 0 {
		return nil
	}

	yieldMargin := (a.ExpectedAPY - annualizedYield) / annualizedYield

	if yieldMargin > a.YieldMarginThreshold {
		depositAmount := buyingIntent(yieldMargin, 1, 0.25, 3)
		depositAmount = math.Min(depositAmount, a.w.EthBalance())
		if depositAmount > 0 {
			if shares, err := h.VaultDepositEth(a.Symbol, depositAmount); err == nil {
				h.LogAction(a.Name(), "vault_deposit_eth", fmt.Sprintf("deposited %.6f ETH for %.6f LV shares", depositAmount, shares))
			}
		}
	}

	if yieldMargin < nativeYield {
		redeemAmount := a.w.LPBalance("vault:" + a.Symbol)
		if redeemAmount > 0 {
			if payout, err := h.VaultWithdrawLP(a.Symbol, redeemAmount); err == nil {
				h.LogAction(a.Name(), "vault_withdraw_lp", fmt.Sprintf("redeemed %.6f LV shares for %.6f ETH", redeemAmount, payout))
				h.LogTrade(handle.TradeRecord{
					Block: block, Agent: a.Name(), Token: "vault:" + a.Symbol, Volume: redeemAmount,
					Action: "redeem", Reason: "yield margin < native yield",
					AdditionalInfo: fmt.Sprintf("yield_margin=%.6f native_yield=%.6f", yieldMargin, nativeYield),
				})
			}
		}
	}
	return nil
}

func (a *LVDepositor) Clone() handle.Agent {
	c := *a
	return &c
}
