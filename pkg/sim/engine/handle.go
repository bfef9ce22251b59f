package engine

import (
	"github.com/google/uuid"

	"github.com/depegsim/depegsim/pkg/sim/amm"
	"github.com/depegsim/depegsim/pkg/sim/handle"
	"github.com/depegsim/depegsim/pkg/sim/wallet"
)

// AgentHandle implements handle.Handle by delegating every verb to the
// owning Engine, scoped to one agent's wallet. Agents never see the
// Engine type itself.
type AgentHandle struct {
	engine *Engine
	wallet *wallet.Wallet
	name   string
}

var _ handle.Handle = (*AgentHandle)(nil)

func (h *AgentHandle) CurrentBlock() uint64 { return h.engine.CurrentBlock() }

func (h *AgentHandle) NumBlocks() uint64 { return h.engine.cfg.NumBlocks }

func (h *AgentHandle) Wallet() *wallet.Wallet { return h.wallet }

func (h *AgentHandle) Tokens() []string {
	h.engine.mu.RLock()
	defer h.engine.mu.RUnlock()
	return h.engine.sortedTokenSymbols()
}

func (h *AgentHandle) SpotPrice(symbol string) (float64, error) {
	pool, err := h.engine.AMMPool(symbol)
	if err != nil {
		return 0, err
	}
	return pool.PriceOfOneTokenInETH(), nil
}

func (h *AgentHandle) YieldPerBlock(symbol string) (float64, error) {
	h.engine.mu.RLock()
	defer h.engine.mu.RUnlock()
	tok, err := h.engine.tokenFor(symbol)
	if err != nil {
		return 0, err
	}
	return tok.YieldPerBlock, nil
}

func (h *AgentHandle) EthYieldPerBlock() float64 {
	h.engine.mu.RLock()
	defer h.engine.mu.RUnlock()
	return h.engine.ethYieldPerBlock
}

func (h *AgentHandle) VaultLPTokenPrice(symbol string) (float64, error) {
	h.engine.mu.RLock()
	tok, err := h.engine.tokenFor(symbol)
	h.engine.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	return tok.Vault.LPTokenPrice(), nil
}

func (h *AgentHandle) AMMLPShareValueEth(symbol string, shares float64) (float64, error) {
	pool, err := h.engine.AMMPool(symbol)
	if err != nil {
		return 0, err
	}
	rEth, _, totalShares := pool.Reserves()
	if totalShares <= 0 {
		return 0, nil
	}
	return (shares / totalShares) * rEth * 2, nil
}

func (h *AgentHandle) SwapEthForToken(symbol string, dEth float64) (float64, error) {
	pool, err := h.engine.AMMPool(symbol)
	if err != nil {
		return 0, err
	}
	return pool.SwapEthForToken(h.wallet, dEth, h.engine.CurrentBlock())
}

func (h *AgentHandle) SwapTokenForEth(symbol string, dTok float64) (float64, error) {
	pool, err := h.engine.AMMPool(symbol)
	if err != nil {
		return 0, err
	}
	return pool.SwapTokenForEth(h.wallet, dTok, h.engine.CurrentBlock())
}

func (h *AgentHandle) AddLiquidity(symbol string, dEth, dTok float64) (float64, error) {
	pool, err := h.engine.AMMPool(symbol)
	if err != nil {
		return 0, err
	}
	return pool.AddLiquidity(h.wallet, dEth, dTok)
}

func (h *AgentHandle) RemoveLiquidity(symbol string, shares float64) (float64, float64, error) {
	pool, err := h.engine.AMMPool(symbol)
	if err != nil {
		return 0, 0, err
	}
	return pool.RemoveLiquidity(h.wallet, shares)
}

func (h *AgentHandle) DepositEthToPSM(symbol string, dEth float64) error {
	h.engine.mu.RLock()
	tok, err := h.engine.tokenFor(symbol)
	h.engine.mu.RUnlock()
	if err != nil {
		return err
	}
	return tok.PSM.DepositEth(h.wallet, dEth)
}

func (h *AgentHandle) PSMFees(symbol string) (float64, float64, error) {
	h.engine.mu.RLock()
	tok, err := h.engine.tokenFor(symbol)
	h.engine.mu.RUnlock()
	if err != nil {
		return 0, 0, err
	}
	return tok.PSM.RedemptionFee, tok.PSM.RepurchaseFee, nil
}

func (h *AgentHandle) PSMReserves(symbol string) (float64, float64, error) {
	h.engine.mu.RLock()
	tok, err := h.engine.tokenFor(symbol)
	h.engine.mu.RUnlock()
	if err != nil {
		return 0, 0, err
	}
	eth, tokRes := tok.PSM.Reserves()
	return eth, tokRes, nil
}

func (h *AgentHandle) RedeemWithCTAndDS(symbol string, n float64) (float64, error) {
	h.engine.mu.RLock()
	tok, err := h.engine.tokenFor(symbol)
	h.engine.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	return tok.PSM.RedeemWithCTAndDS(h.wallet, n, h.engine.CurrentBlock())
}

func (h *AgentHandle) RedeemWithLSTAndDS(symbol string, n float64) (float64, error) {
	h.engine.mu.RLock()
	tok, err := h.engine.tokenFor(symbol)
	h.engine.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	return tok.PSM.RedeemWithLSTAndDS(h.wallet, n, h.engine.CurrentBlock())
}

func (h *AgentHandle) RedeemWithCTPostExpiry(symbol string, n float64) (float64, error) {
	h.engine.mu.RLock()
	tok, err := h.engine.tokenFor(symbol)
	h.engine.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	return tok.PSM.RedeemWithCTPostExpiry(h.wallet, n, h.engine.CurrentBlock())
}

func (h *AgentHandle) RepurchaseLSTAndDS(symbol string, dEth float64) (float64, error) {
	h.engine.mu.RLock()
	tok, err := h.engine.tokenFor(symbol)
	h.engine.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	return tok.PSM.RepurchaseLSTAndDS(h.wallet, dEth)
}

func (h *AgentHandle) CalculateBuyDSOutcome(symbol string, dEth float64) (float64, error) {
	h.engine.mu.RLock()
	tok, err := h.engine.tokenFor(symbol)
	h.engine.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	return tok.Vault.CalculateBuyDSOutcome(dEth)
}

func (h *AgentHandle) CalculateSellDSOutcome(symbol string, dDs float64) (float64, error) {
	h.engine.mu.RLock()
	tok, err := h.engine.tokenFor(symbol)
	h.engine.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	return tok.Vault.CalculateSellDSOutcome(dDs)
}

func (h *AgentHandle) BuyDS(symbol string, dEth float64) (float64, error) {
	h.engine.mu.RLock()
	tok, err := h.engine.tokenFor(symbol)
	h.engine.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	return tok.Vault.BuyDS(h.engine, h.wallet, dEth)
}

func (h *AgentHandle) SellDS(symbol string, dDs float64) (float64, error) {
	h.engine.mu.RLock()
	tok, err := h.engine.tokenFor(symbol)
	h.engine.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	return tok.Vault.SellDS(h.engine, h.wallet, dDs)
}

func (h *AgentHandle) VaultDepositEth(symbol string, dEth float64) (float64, error) {
	h.engine.mu.RLock()
	tok, err := h.engine.tokenFor(symbol)
	h.engine.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	return tok.Vault.DepositEth(h.wallet, dEth, h.engine.CurrentBlock())
}

func (h *AgentHandle) VaultWithdrawLP(symbol string, shares float64) (float64, error) {
	h.engine.mu.RLock()
	tok, err := h.engine.tokenFor(symbol)
	h.engine.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	return tok.Vault.WithdrawLPTokens(h.wallet, shares, h.engine.CurrentBlock())
}

// FaceValueETH prices the handle's entire wallet in ETH: raw balance,
// every token at spot, every AMM LP position's underlying share, and
// every Vault LP position's underlying share. Grounded on the original
// model's get_wallet_face_value.
func (h *AgentHandle) FaceValueETH() (float64, error) {
	w := h.wallet
	total := w.EthBalance()

	h.engine.mu.RLock()
	tokens := h.engine.tokens
	h.engine.mu.RUnlock()

	for _, tok := range tokens {
		for _, sym := range []string{tok.Symbols.LST, tok.Symbols.CT, tok.Symbols.DS} {
			bal := w.BalanceOf(sym)
			if bal <= 0 {
				continue
			}
			pool, err := h.engine.AMMPool(sym)
			if err != nil {
				return 0, err
			}
			total += bal * pool.PriceOfOneTokenInETH()
		}
		for _, pool := range []*amm.Pool{tok.LSTPool, tok.CTPool, tok.DSPool} {
			shares := w.LPBalance(pool.ID)
			if shares <= 0 {
				continue
			}
			rEth, _, totalShares := pool.Reserves()
			if totalShares > 0 {
				total += (shares / totalShares) * rEth * 2
			}
		}
		vaultShares := w.LPBalance(tok.Vault.PoolID())
		if vaultShares > 0 {
			total += vaultShares * tok.Vault.LPTokenPrice()
		}
	}
	return total, nil
}

func (h *AgentHandle) LogAction(agent, action, reason string) {
	h.engine.log.Info("block=%d agent=%s action=%s reason=%s", h.engine.CurrentBlock(), agent, action, reason)
}

func (h *AgentHandle) LogTrade(rec handle.TradeRecord) {
	rec.ID = uuid.NewString()
	h.engine.mu.Lock()
	h.engine.stats.Trades = append(h.engine.stats.Trades, rec)
	h.engine.mu.Unlock()
}
