// Package amm implements the two constant-function market makers used
// throughout the simulator: a constant-product (Uniswap-v2-style) pool
// and a YieldSpace pool whose adjusted reserves model time decay on a
// fixed-expiry instrument. Both variants share one Pool type distinguished
// by a Kind tag rather than a class hierarchy, per the engine's
// re-architecture notes.
package amm

import (
	"fmt"
	"math"
	"sync"

	"github.com/depegsim/depegsim/pkg/sim/simerrors"
	"github.com/depegsim/depegsim/pkg/sim/wallet"
)

// Kind tags which swap/pricing formula a Pool uses.
type Kind int

const (
	// ConstantProduct is the Uniswap-v2-style x*y=k pool.
	ConstantProduct Kind = iota
	// YieldSpace is the discount-rate-adjusted pool used for CT and DS.
	YieldSpace
)

func (k Kind) String() string {
	switch k {
	case ConstantProduct:
		return "constant_product"
	case YieldSpace:
		return "yield_space"
	default:
		return "unknown"
	}
}

// Direction names which side of the pool a swap's input is on.
type Direction int

const (
	// EthForToken swaps ETH in for the non-ETH token out.
	EthForToken Direction = iota
	// TokenForEth swaps the non-ETH token in for ETH out.
	TokenForEth
)

// FeeLedger accumulates per-block fee income on each side of the pool.
type FeeLedger struct {
	EthFees   map[uint64]float64
	TokenFees map[uint64]float64
}

func newFeeLedger() *FeeLedger {
	return &FeeLedger{
		EthFees:   make(map[uint64]float64),
		TokenFees: make(map[uint64]float64),
	}
}

// Pool is one AMM instance for a single token symbol against ETH.
type Pool struct {
	mu sync.RWMutex

	ID           string
	Symbol       string
	Kind         Kind
	ReserveEth   float64
	ReserveToken float64
	TotalShares  float64
	FeeBps       float64 // fee fraction in [0, 1)
	DiscountRate float64 // only meaningful for YieldSpace pools

	holders map[string]float64 // wallet ID -> LP shares, mirrors wallet.lpBal
	fees    *FeeLedger

	Volume24hEth   float64
	Volume24hToken float64
}

// Config describes the parameters needed to stand up a new pool.
type Config struct {
	ID           string
	Symbol       string
	Kind         Kind
	ReserveEth   float64
	ReserveToken float64
	FeeBps       float64
	DiscountRate float64
}

// New constructs a Pool from the given configuration. Reserves may be
// zero (an empty pool accepts liquidity before it accepts swaps).
func New(cfg Config) *Pool {
	return &Pool{
		ID:           cfg.ID,
		Symbol:       cfg.Symbol,
		Kind:         cfg.Kind,
		ReserveEth:   cfg.ReserveEth,
		ReserveToken: cfg.ReserveToken,
		FeeBps:       cfg.FeeBps,
		DiscountRate: cfg.DiscountRate,
		holders:      make(map[string]float64),
		fees:         newFeeLedger(),
	}
}

// adjustedReserves returns the reserves used in the swap formula: raw
// for ConstantProduct, discount-adjusted for YieldSpace.
func (p *Pool) adjustedReserves() (rEth, rTok float64) {
	if p.Kind == ConstantProduct {
		return p.ReserveEth, p.ReserveToken
	}
	d := p.DiscountRate
	return math.Pow(p.ReserveEth, 1-d), math.Pow(p.ReserveToken, 1+d)
}

// PriceOfOneTokenInETH returns the current spot price.
func (p *Pool) PriceOfOneTokenInETH() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.priceLocked()
}

func (p *Pool) priceLocked() float64 {
	if p.ReserveToken == 0 {
		return 0
	}
	spot := p.ReserveEth / p.ReserveToken
	if p.Kind == YieldSpace {
		spot *= 1 - p.DiscountRate
	}
	return spot
}

// ExpectedOut returns the no-slippage amount a swap of size amtIn would
// yield at the current spot price, after fee.
func (p *Pool) ExpectedOut(amtIn float64, dir Direction) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	spot := p.priceLocked()
	switch dir {
	case EthForToken:
		if spot == 0 {
			return 0
		}
		return amtIn * (1 - p.FeeBps) / spot
	default:
		return amtIn * (1 - p.FeeBps) * spot
	}
}

// Slippage returns the fractional difference between the no-slippage
// output and the actual swap output for amtIn.
func (p *Pool) Slippage(amtIn float64, dir Direction) (float64, error) {
	expected := p.ExpectedOut(amtIn, dir)
	actual, err := p.swapOutAmount(amtIn, dir)
	if err != nil {
		return 0, err
	}
	if expected == 0 {
		return 0, nil
	}
	return (expected - actual) / expected, nil
}

// swapOutAmount computes the raw output amount for a swap without
// mutating state. Caller must hold at least a read lock, or call before
// any lock is taken (it only reads p's fields via the receiver, which is
// safe because float64 field reads are not subject to torn writes under
// our single-writer-per-call discipline enforced by Pool's own mutex in
// the public entry points).
func (p *Pool) swapOutAmount(amtIn float64, dir Direction) (float64, error) {
	if amtIn <= 0 {
		return 0, fmt.Errorf("%w: swap amount %g", simerrors.ErrBadAmount, amtIn)
	}
	if p.ReserveEth <= 0 || p.ReserveToken <= 0 {
		return 0, fmt.Errorf("%w: pool %s has zero reserves", simerrors.ErrEmptyPool, p.ID)
	}

	rEth, rTok := p.adjustedReserves()
	f := 1 - p.FeeBps

	switch dir {
	case EthForToken:
		if p.Kind == ConstantProduct {
			return (amtIn * f * rTok) / (rEth + amtIn*f), nil
		}
		// YieldSpace: out = R_tok^(1+d) - (R_eth^(1-d) * R_tok^(1+d)) / (R_eth^(1-d) + in*(1-f))
		k := rEth * rTok
		return rTok - k/(rEth+amtIn*f), nil
	default: // TokenForEth
		if p.Kind == ConstantProduct {
			return (amtIn * f * rEth) / (rTok + amtIn*f), nil
		}
		k := rEth * rTok
		return rEth - k/(rTok+amtIn*f), nil
	}
}

// Preview computes the swap output for amtIn without mutating any
// state, for use by dry-run predictors (Vault.CalculateBuyDSOutcome and
// friends).
func (p *Pool) Preview(amtIn float64, dir Direction) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.swapOutAmount(amtIn, dir)
}

// AddLiquidity deposits (dEth, dTok) from w and mints LP shares. The
// first provider mints sqrt(dEth*dTok); subsequent providers mint
// proportional to the smaller of the two deposit ratios.
func (p *Pool) AddLiquidity(w *wallet.Wallet, dEth, dTok float64) (shares float64, err error) {
	if dEth <= 0 || dTok <= 0 {
		return 0, fmt.Errorf("%w: add_liquidity amounts (%g, %g)", simerrors.ErrBadAmount, dEth, dTok)
	}

	if err := w.WithdrawEth(dEth); err != nil {
		return 0, err
	}
	if err := w.WithdrawToken(p.Symbol, dTok); err != nil {
		_ = w.DepositEth(dEth) // undo the ETH withdrawal, routine failed atomically
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.TotalShares == 0 {
		shares = math.Sqrt(dEth * dTok)
	} else {
		shareEth := dEth / p.ReserveEth
		shareTok := dTok / p.ReserveToken
		ratio := math.Min(shareEth, shareTok)
		shares = ratio * p.TotalShares
	}

	p.ReserveEth += dEth
	p.ReserveToken += dTok
	p.TotalShares += shares
	p.holders[w.ID()] += shares

	if err := w.DepositLP(p.ID, shares); err != nil {
		return 0, err
	}
	return shares, nil
}

// RemoveLiquidity burns shares from w and returns the underlying
// (ETH, token) pair.
func (p *Pool) RemoveLiquidity(w *wallet.Wallet, shares float64) (eth, tok float64, err error) {
	if shares <= 0 {
		return 0, 0, fmt.Errorf("%w: remove_liquidity shares %g", simerrors.ErrBadAmount, shares)
	}
	if err := w.WithdrawLP(p.ID, shares); err != nil {
		return 0, 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.TotalShares <= 0 {
		return 0, 0, fmt.Errorf("%w: pool %s has no outstanding shares", simerrors.ErrEmptyPool, p.ID)
	}

	ratio := shares / p.TotalShares
	eth = ratio * p.ReserveEth
	tok = ratio * p.ReserveToken

	p.ReserveEth -= eth
	p.ReserveToken -= tok
	p.TotalShares -= shares
	p.holders[w.ID()] -= shares
	if p.holders[w.ID()] <= 1e-12 {
		delete(p.holders, w.ID())
	}

	if err := w.DepositEth(eth); err != nil {
		return 0, 0, err
	}
	if err := w.DepositToken(p.Symbol, tok); err != nil {
		return 0, 0, err
	}
	return eth, tok, nil
}

// SwapEthForToken swaps dEth from w for the pool's token, crediting the
// per-block fee ledger for block.
func (p *Pool) SwapEthForToken(w *wallet.Wallet, dEth float64, block uint64) (out float64, err error) {
	if err := w.WithdrawEth(dEth); err != nil {
		return 0, err
	}

	p.mu.Lock()
	out, err = p.swapOutAmount(dEth, EthForToken)
	if err != nil {
		p.mu.Unlock()
		_ = w.DepositEth(dEth)
		return 0, err
	}
	if out > p.ReserveToken {
		p.mu.Unlock()
		_ = w.DepositEth(dEth)
		return 0, fmt.Errorf("%w: pool %s token reserve %g < requested out %g", simerrors.ErrInsufficientReserve, p.ID, p.ReserveToken, out)
	}

	fee := dEth * p.FeeBps
	p.ReserveEth += dEth
	p.ReserveToken -= out
	p.fees.EthFees[block] += fee
	p.Volume24hEth += dEth
	p.mu.Unlock()

	if err := w.DepositToken(p.Symbol, out); err != nil {
		return 0, err
	}
	return out, nil
}

// SwapTokenForEth swaps dTok from w for ETH, crediting the per-block fee
// ledger for block.
func (p *Pool) SwapTokenForEth(w *wallet.Wallet, dTok float64, block uint64) (out float64, err error) {
	if err := w.WithdrawToken(p.Symbol, dTok); err != nil {
		return 0, err
	}

	p.mu.Lock()
	out, err = p.swapOutAmount(dTok, TokenForEth)
	if err != nil {
		p.mu.Unlock()
		_ = w.DepositToken(p.Symbol, dTok)
		return 0, err
	}
	if out > p.ReserveEth {
		p.mu.Unlock()
		_ = w.DepositToken(p.Symbol, dTok)
		return 0, fmt.Errorf("%w: pool %s eth reserve %g < requested out %g", simerrors.ErrInsufficientReserve, p.ID, p.ReserveEth, out)
	}

	fee := dTok * p.FeeBps
	p.ReserveToken += dTok
	p.ReserveEth -= out
	p.fees.TokenFees[block] += fee
	p.Volume24hToken += dTok
	p.mu.Unlock()

	if err := w.DepositEth(out); err != nil {
		return 0, err
	}
	return out, nil
}

// FeesForBlock returns the ETH-side and token-side fees accrued in the
// given block.
func (p *Pool) FeesForBlock(block uint64) (ethFee, tokenFee float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fees.EthFees[block], p.fees.TokenFees[block]
}

// Reserves returns a snapshot of the raw (unadjusted) reserves.
func (p *Pool) Reserves() (eth, tok, shares float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ReserveEth, p.ReserveToken, p.TotalShares
}

// HolderShares returns a snapshot of the LP-holder map keyed by wallet ID.
func (p *Pool) HolderShares() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.holders))
	for k, v := range p.holders {
		out[k] = v
	}
	return out
}

// Clone deep-copies the pool for Monte Carlo replicate isolation.
func (p *Pool) Clone() *Pool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c := New(Config{
		ID:           p.ID,
		Symbol:       p.Symbol,
		Kind:         p.Kind,
		ReserveEth:   p.ReserveEth,
		ReserveToken: p.ReserveToken,
		FeeBps:       p.FeeBps,
		DiscountRate: p.DiscountRate,
	})
	c.TotalShares = p.TotalShares
	c.Volume24hEth = p.Volume24hEth
	c.Volume24hToken = p.Volume24hToken
	for k, v := range p.holders {
		c.holders[k] = v
	}
	for k, v := range p.fees.EthFees {
		c.fees.EthFees[k] = v
	}
	for k, v := range p.fees.TokenFees {
		c.fees.TokenFees[k] = v
	}
	return c
}

// DirectMutate applies an absolute or fractional reserve adjustment, used
// by the EventManager's SetPrice/InjectLiquidity handlers. delta in
// (-1, 0) is read as a fractional withdrawal of the current reserve;
// any other value is an absolute addition.
func (p *Pool) DirectMutate(deltaEth, deltaTok float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if deltaEth > -1 && deltaEth < 0 {
		p.ReserveEth += deltaEth * p.ReserveEth
	} else {
		p.ReserveEth += deltaEth
	}
	if deltaTok > -1 && deltaTok < 0 {
		p.ReserveToken += deltaTok * p.ReserveToken
	} else {
		p.ReserveToken += deltaTok
	}
}

// SetReserves forcibly overwrites both reserves, leaving LP shares and
// the fee ledger untouched. The EventManager's Depeg/Repeg handlers do
// not use it: they move reserves through a swap instead.
func (p *Pool) SetReserves(eth, tok float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReserveEth = eth
	p.ReserveToken = tok
}
