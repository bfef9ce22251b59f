// Package simerrors defines the sentinel error taxonomy shared by every
// component in pkg/sim. Call sites wrap these with fmt.Errorf("%w: ...")
// so callers can still recover the underlying kind with errors.Is.
package simerrors

import "errors"

var (
	// ErrBadAmount is returned when a non-positive quantity is given
	// where a strictly positive one is required.
	ErrBadAmount = errors.New("bad amount")

	// ErrInsufficientBalance is returned when a wallet cannot cover a
	// withdrawal or burn.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientReserve is returned when an AMM or PSM side lacks
	// the inventory a call requires.
	ErrInsufficientReserve = errors.New("insufficient reserve")

	// ErrEmptyPool is returned when an AMM operation requires non-zero
	// reserves but finds a zero reserve on one side.
	ErrEmptyPool = errors.New("empty pool")

	// ErrWrongPhase is returned when a PSM operation is invoked in the
	// wrong half of the expiry timeline.
	ErrWrongPhase = errors.New("wrong phase")

	// ErrInsufficientLiquidity is returned when a Vault dry run shows a
	// composite routine (buy_ds/sell_ds) cannot complete.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrOverRepay is returned when a repayment exceeds the outstanding
	// borrow it targets.
	ErrOverRepay = errors.New("over repay")

	// ErrOutstandingDebt is fatal: the end-of-block borrow ledger was
	// non-zero, indicating a composite-routine bug.
	ErrOutstandingDebt = errors.New("outstanding debt at end of block")

	// ErrUnknownToken is returned when a symbol has no registered PSM,
	// Vault, or AMM set.
	ErrUnknownToken = errors.New("unknown token symbol")

	// ErrUnknownWallet is returned when a wallet ID has no registered
	// Wallet.
	ErrUnknownWallet = errors.New("unknown wallet")

	// ErrUnknownPool is returned when an LP pool ID does not match any
	// registered AMM or Vault.
	ErrUnknownPool = errors.New("unknown pool")
)
