// Package wallet holds the balances of one holder: a settlement-asset
// (ETH) balance, fungible token balances keyed by symbol, and LP-share
// balances keyed by pool ID. Wallets are owned by the Engine's wallet
// registry and referenced elsewhere (AMM holder maps, Vault LP maps)
// only by their ID.
package wallet

import (
	"fmt"
	"sync"

	"github.com/depegsim/depegsim/pkg/sim/simerrors"
)

// Wallet is the balance sheet of one holder: an agent, the Vault's own
// internal account, a PSM's seed account, or the genesis account.
type Wallet struct {
	mu sync.RWMutex

	id      string
	eth     float64
	tokens  map[string]float64
	lpBal   map[string]float64
}

// New creates an empty wallet with the given ID.
func New(id string) *Wallet {
	return &Wallet{
		id:     id,
		tokens: make(map[string]float64),
		lpBal:  make(map[string]float64),
	}
}

// ID returns the wallet's stable identifier.
func (w *Wallet) ID() string {
	return w.id
}

// EthBalance returns the current ETH balance.
func (w *Wallet) EthBalance() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.eth
}

// BalanceOf returns the current balance of the given token symbol.
func (w *Wallet) BalanceOf(symbol string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tokens[symbol]
}

// LPBalance returns the current LP-share balance for the given pool ID.
func (w *Wallet) LPBalance(poolID string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lpBal[poolID]
}

// DepositEth credits amt ETH to the wallet. amt must be strictly
// positive.
func (w *Wallet) DepositEth(amt float64) error {
	if amt <= 0 {
		return fmt.Errorf("%w: deposit_eth amount %g", simerrors.ErrBadAmount, amt)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.eth += amt
	return nil
}

// WithdrawEth debits amt ETH from the wallet. Fails with
// ErrInsufficientBalance if the wallet does not hold enough.
func (w *Wallet) WithdrawEth(amt float64) error {
	if amt <= 0 {
		return fmt.Errorf("%w: withdraw_eth amount %g", simerrors.ErrBadAmount, amt)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.eth < amt {
		return fmt.Errorf("%w: wallet %s has %g ETH, requested %g", simerrors.ErrInsufficientBalance, w.id, w.eth, amt)
	}
	w.eth -= amt
	return nil
}

// DepositToken credits amt of the given token symbol.
func (w *Wallet) DepositToken(symbol string, amt float64) error {
	if amt <= 0 {
		return fmt.Errorf("%w: deposit_token amount %g", simerrors.ErrBadAmount, amt)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tokens[symbol] += amt
	return nil
}

// WithdrawToken debits amt of the given token symbol.
func (w *Wallet) WithdrawToken(symbol string, amt float64) error {
	if amt <= 0 {
		return fmt.Errorf("%w: withdraw_token amount %g", simerrors.ErrBadAmount, amt)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	bal := w.tokens[symbol]
	if bal < amt {
		return fmt.Errorf("%w: wallet %s has %g %s, requested %g", simerrors.ErrInsufficientBalance, w.id, bal, symbol, amt)
	}
	w.tokens[symbol] = bal - amt
	return nil
}

// DepositLP credits shares of the given pool ID.
func (w *Wallet) DepositLP(poolID string, shares float64) error {
	if shares <= 0 {
		return fmt.Errorf("%w: deposit_lp shares %g", simerrors.ErrBadAmount, shares)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lpBal[poolID] += shares
	return nil
}

// WithdrawLP debits shares of the given pool ID.
func (w *Wallet) WithdrawLP(poolID string, shares float64) error {
	if shares <= 0 {
		return fmt.Errorf("%w: withdraw_lp shares %g", simerrors.ErrBadAmount, shares)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	bal := w.lpBal[poolID]
	if bal < shares {
		return fmt.Errorf("%w: wallet %s has %g LP shares of %s, requested %g", simerrors.ErrInsufficientBalance, w.id, bal, poolID, shares)
	}
	w.lpBal[poolID] = bal - shares
	return nil
}

// Tokens returns a snapshot copy of the token balances, including any
// that have been drawn down to zero.
func (w *Wallet) Tokens() map[string]float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]float64, len(w.tokens))
	for k, v := range w.tokens {
		out[k] = v
	}
	return out
}

// LPPositions returns a snapshot copy of the LP-share balances,
// including any that have been drawn down to zero.
func (w *Wallet) LPPositions() map[string]float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]float64, len(w.lpBal))
	for k, v := range w.lpBal {
		out[k] = v
	}
	return out
}

// Clone deep-copies the wallet for Monte Carlo replicate isolation.
func (w *Wallet) Clone() *Wallet {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c := New(w.id)
	c.eth = w.eth
	for k, v := range w.tokens {
		c.tokens[k] = v
	}
	for k, v := range w.lpBal {
		c.lpBal[k] = v
	}
	return c
}
