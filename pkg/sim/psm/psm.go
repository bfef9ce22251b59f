// Package psm implements the peg stability module: the primary market
// that mints 1 ETH into 1 coverage token (CT) + 1 depeg-swap token (DS),
// and the handful of redemption/repurchase routes back to ETH, gated by
// an expiry block.
package psm

import (
	"fmt"
	"sync"

	"github.com/depegsim/depegsim/pkg/sim/simerrors"
	"github.com/depegsim/depegsim/pkg/sim/wallet"
)

// Symbols bundles the three token symbols a PSM mints/redeems against.
type Symbols struct {
	LST string // the pegged asset, "X"
	CT  string // "CT_X"
	DS  string // "DS_X"
}

// PSM is the peg stability module for one LST.
type PSM struct {
	mu sync.RWMutex

	Symbols      Symbols
	ExpiryBlock  uint64
	EthReserve   float64
	TokenReserve float64

	RedemptionFee float64
	RepurchaseFee float64

	TotalRedemptionFee float64
	TotalRepurchaseFee float64
}

// Config describes the parameters needed to stand up a new PSM.
type Config struct {
	Symbols       Symbols
	ExpiryBlock   uint64
	RedemptionFee float64
	RepurchaseFee float64
}

// New constructs a PSM with zero reserves.
func New(cfg Config) *PSM {
	return &PSM{
		Symbols:       cfg.Symbols,
		ExpiryBlock:   cfg.ExpiryBlock,
		RedemptionFee: cfg.RedemptionFee,
		RepurchaseFee: cfg.RepurchaseFee,
	}
}

// DepositEth mints dEth of CT and dEth of DS to w in exchange for dEth
// ETH, the 1:1:1 primary-market mint.
func (p *PSM) DepositEth(w *wallet.Wallet, dEth float64) error {
	if dEth <= 0 {
		return fmt.Errorf("%w: deposit_eth amount %g", simerrors.ErrBadAmount, dEth)
	}
	if err := w.WithdrawEth(dEth); err != nil {
		return err
	}

	p.mu.Lock()
	p.EthReserve += dEth
	p.mu.Unlock()

	if err := w.DepositToken(p.Symbols.CT, dEth); err != nil {
		return err
	}
	return w.DepositToken(p.Symbols.DS, dEth)
}

// RedeemWithCTAndDS burns n each of CT and DS from w, paying out
// n*(1-redemption_fee) ETH. Allowed only at or before ExpiryBlock.
func (p *PSM) RedeemWithCTAndDS(w *wallet.Wallet, n float64, currentBlock uint64) (float64, error) {
	return p.redeemWith(w, p.Symbols.CT, n, currentBlock, true)
}

// RedeemWithLSTAndDS burns n each of the LST and DS from w, paying out
// n*(1-redemption_fee) ETH. Allowed only at or before ExpiryBlock.
func (p *PSM) RedeemWithLSTAndDS(w *wallet.Wallet, n float64, currentBlock uint64) (float64, error) {
	return p.redeemWith(w, p.Symbols.LST, n, currentBlock, true)
}

// RedeemWithCTPostExpiry burns n of CT alone, paying out
// n*(1-redemption_fee) ETH. Allowed only at or after ExpiryBlock.
func (p *PSM) RedeemWithCTPostExpiry(w *wallet.Wallet, n float64, currentBlock uint64) (float64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: redeem amount %g", simerrors.ErrBadAmount, n)
	}
	if currentBlock < p.ExpiryBlock {
		return 0, fmt.Errorf("%w: redeem_with_ct_post_expiry before expiry block %d (at %d)", simerrors.ErrWrongPhase, p.ExpiryBlock, currentBlock)
	}
	if err := w.WithdrawToken(p.Symbols.CT, n); err != nil {
		return 0, err
	}
	return p.settleRedemption(w, n, p.Symbols.CT)
}

// redeemWith is the shared implementation for the two pre-expiry
// redemption routes, which differ only in which non-DS leg they burn.
func (p *PSM) redeemWith(w *wallet.Wallet, otherSymbol string, n float64, currentBlock uint64, preExpiry bool) (float64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: redeem amount %g", simerrors.ErrBadAmount, n)
	}
	if preExpiry && currentBlock > p.ExpiryBlock {
		return 0, fmt.Errorf("%w: redeem after expiry block %d (at %d)", simerrors.ErrWrongPhase, p.ExpiryBlock, currentBlock)
	}
	if err := w.WithdrawToken(otherSymbol, n); err != nil {
		return 0, err
	}
	if err := w.WithdrawToken(p.Symbols.DS, n); err != nil {
		_ = w.DepositToken(otherSymbol, n)
		return 0, err
	}
	return p.settleRedemption(w, n, otherSymbol, p.Symbols.DS)
}

// settleRedemption applies the shared fee/reserve accounting for any
// redemption route and pays the net ETH out to w. If the PSM's ETH
// reserve cannot cover the payout, the n units of each burned symbol
// are credited back to w.
func (p *PSM) settleRedemption(w *wallet.Wallet, n float64, burned ...string) (float64, error) {
	p.mu.Lock()
	fee := n * p.RedemptionFee
	net := n - fee
	if net > p.EthReserve {
		p.mu.Unlock()
		for _, sym := range burned {
			_ = w.DepositToken(sym, n)
		}
		return 0, fmt.Errorf("%w: psm has %g ETH, redemption needs %g", simerrors.ErrInsufficientReserve, p.EthReserve, net)
	}
	p.EthReserve -= net
	p.TokenReserve += n
	p.TotalRedemptionFee += fee
	p.mu.Unlock()

	if err := w.DepositEth(net); err != nil {
		return 0, err
	}
	return net, nil
}

// RepurchaseLSTAndDS burns dEth ETH from w and mints
// net = dEth*(1-repurchase_fee) each of the LST and DS, requiring the
// PSM's token reserve to cover net.
func (p *PSM) RepurchaseLSTAndDS(w *wallet.Wallet, dEth float64) (float64, error) {
	if dEth <= 0 {
		return 0, fmt.Errorf("%w: repurchase amount %g", simerrors.ErrBadAmount, dEth)
	}

	p.mu.Lock()
	fee := dEth * p.RepurchaseFee
	net := dEth - fee
	if net > p.TokenReserve {
		p.mu.Unlock()
		return 0, fmt.Errorf("%w: psm has %g token reserve, repurchase needs %g", simerrors.ErrInsufficientReserve, p.TokenReserve, net)
	}
	p.mu.Unlock()

	if err := w.WithdrawEth(dEth); err != nil {
		return 0, err
	}

	p.mu.Lock()
	p.EthReserve += dEth
	p.TokenReserve -= net
	p.TotalRepurchaseFee += fee
	p.mu.Unlock()

	if err := w.DepositToken(p.Symbols.LST, net); err != nil {
		return 0, err
	}
	if err := w.DepositToken(p.Symbols.DS, net); err != nil {
		return 0, err
	}
	return net, nil
}

// Phase reports whether currentBlock is at or before ExpiryBlock.
func (p *PSM) Phase(currentBlock uint64) (preExpiry bool) {
	return currentBlock <= p.ExpiryBlock
}

// Reserves returns a snapshot of the ETH and token reserves.
func (p *PSM) Reserves() (eth, tok float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.EthReserve, p.TokenReserve
}

// Clone deep-copies the PSM for Monte Carlo replicate isolation.
func (p *PSM) Clone() *PSM {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c := New(Config{
		Symbols:       p.Symbols,
		ExpiryBlock:   p.ExpiryBlock,
		RedemptionFee: p.RedemptionFee,
		RepurchaseFee: p.RepurchaseFee,
	})
	c.EthReserve = p.EthReserve
	c.TokenReserve = p.TokenReserve
	c.TotalRedemptionFee = p.TotalRedemptionFee
	c.TotalRepurchaseFee = p.TotalRepurchaseFee
	return c
}
