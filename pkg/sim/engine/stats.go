package engine

import (
	"github.com/depegsim/depegsim/pkg/sim/amm"
	"github.com/depegsim/depegsim/pkg/sim/handle"
)

// AgentRow is one per-block row of the agents stats table.
type AgentRow struct {
	Block        uint64
	Agent        string
	EthBalance   float64
	FaceValueEth float64
}

// TokenRow is one per-block row of the tokens stats table.
type TokenRow struct {
	Block         uint64
	Symbol        string
	PriceLST      float64
	PriceCT       float64
	PriceDS       float64
	YieldPerBlock float64
}

// AMMRow is one per-block row of the amms stats table.
type AMMRow struct {
	Block        uint64
	PoolID       string
	ReserveEth   float64
	ReserveToken float64
	TotalShares  float64
}

// PSMRow is one per-block row of the psms stats table.
type PSMRow struct {
	Block              uint64
	Symbol             string
	EthReserve         float64
	TokenReserve       float64
	TotalRedemptionFee float64
	TotalRepurchaseFee float64
}

// VaultRow is one per-block row of the vaults stats table.
type VaultRow struct {
	Block         uint64
	Symbol        string
	LPSupply      float64
	LPTokenPrice  float64
	TotalValueEth float64
}

// BorrowedEthRow is one per-block row of the borrowed_eth stats table.
type BorrowedEthRow struct {
	Block  uint64
	Wallet string
	Amount float64
}

// BorrowedTokenRow is one per-block row of the borrowed_tokens stats table.
type BorrowedTokenRow struct {
	Block  uint64
	Wallet string
	Symbol string
	Amount float64
}

// Stats accumulates seven tidy per-block time series plus the trade log:
// the engine's entire externally visible output.
type Stats struct {
	Agents        []AgentRow
	Tokens        []TokenRow
	AMMs          []AMMRow
	PSMs          []PSMRow
	Vaults        []VaultRow
	BorrowedEth   []BorrowedEthRow
	BorrowedToken []BorrowedTokenRow
	Trades        []handle.TradeRecord
}

func newStats() *Stats {
	return &Stats{}
}

// recordStatsLocked snapshots every registered entity for block b. Caller
// must hold e.mu for the duration.
func (e *Engine) recordStatsLocked(b uint64) {
	for id, w := range e.wallets {
		h := &AgentHandle{engine: e, wallet: w}
		fv, _ := h.faceValueLocked()
		e.stats.Agents = append(e.stats.Agents, AgentRow{
			Block:        b,
			Agent:        id,
			EthBalance:   w.EthBalance(),
			FaceValueEth: fv,
		})
	}

	for _, sym := range e.sortedTokenSymbols() {
		tok := e.tokens[sym]
		e.stats.Tokens = append(e.stats.Tokens, TokenRow{
			Block:         b,
			Symbol:        sym,
			PriceLST:      tok.LSTPool.PriceOfOneTokenInETH(),
			PriceCT:       tok.CTPool.PriceOfOneTokenInETH(),
			PriceDS:       tok.DSPool.PriceOfOneTokenInETH(),
			YieldPerBlock: tok.YieldPerBlock,
		})

		for _, pr := range []struct {
			id   string
			pool *amm.Pool
		}{
			{tok.Symbols.LST, tok.LSTPool},
			{tok.Symbols.CT, tok.CTPool},
			{tok.Symbols.DS, tok.DSPool},
		} {
			eth, tokRes, shares := pr.pool.Reserves()
			e.stats.AMMs = append(e.stats.AMMs, AMMRow{
				Block:        b,
				PoolID:       pr.id,
				ReserveEth:   eth,
				ReserveToken: tokRes,
				TotalShares:  shares,
			})
		}

		ethRes, tokRes := tok.PSM.Reserves()
		e.stats.PSMs = append(e.stats.PSMs, PSMRow{
			Block:              b,
			Symbol:             sym,
			EthReserve:         ethRes,
			TokenReserve:       tokRes,
			TotalRedemptionFee: tok.PSM.TotalRedemptionFee,
			TotalRepurchaseFee: tok.PSM.TotalRepurchaseFee,
		})

		supply, _ := tok.Vault.LPShares() // holder map unused in the per-block summary row
		e.stats.Vaults = append(e.stats.Vaults, VaultRow{
			Block:         b,
			Symbol:        sym,
			LPSupply:      supply,
			LPTokenPrice:  tok.Vault.LPTokenPrice(),
			TotalValueEth: tok.Vault.TotalVaultValueEth(),
		})
	}

	for id, amt := range e.borrowedEth {
		if amt != 0 {
			e.stats.BorrowedEth = append(e.stats.BorrowedEth, BorrowedEthRow{Block: b, Wallet: id, Amount: amt})
		}
	}
	for id, bySym := range e.borrowedToken {
		for sym, amt := range bySym {
			if amt != 0 {
				e.stats.BorrowedToken = append(e.stats.BorrowedToken, BorrowedTokenRow{Block: b, Wallet: id, Symbol: sym, Amount: amt})
			}
		}
	}
}

// faceValueLocked computes FaceValueETH without re-acquiring e.mu, for
// use from recordStatsLocked which already holds it (AgentHandle's own
// FaceValueETH acquires the lock itself and would deadlock here).
func (h *AgentHandle) faceValueLocked() (float64, error) {
	w := h.wallet
	total := w.EthBalance()

	for _, tok := range h.engine.tokens {
		for _, leg := range []struct {
			symbol string
			pool   *amm.Pool
		}{
			{tok.Symbols.LST, tok.LSTPool},
			{tok.Symbols.CT, tok.CTPool},
			{tok.Symbols.DS, tok.DSPool},
		} {
			if bal := w.BalanceOf(leg.symbol); bal > 0 {
				total += bal * leg.pool.PriceOfOneTokenInETH()
			}
			if shares := w.LPBalance(leg.pool.ID); shares > 0 {
				rEth, _, totalShares := leg.pool.Reserves()
				if totalShares > 0 {
					total += (shares / totalShares) * rEth * 2
				}
			}
		}
		if vaultShares := w.LPBalance(tok.Vault.PoolID()); vaultShares > 0 {
			total += vaultShares * tok.Vault.LPTokenPrice()
		}
	}
	return total, nil
}
