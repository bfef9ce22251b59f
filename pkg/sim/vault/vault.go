// Package vault implements the composite flash-loan orchestrator that
// sits on top of a PSM and three AMM pools (LST/ETH, CT/ETH, DS/ETH) to
// offer a single "buy DS" / "sell DS" primitive to callers, plus LP
// deposit/withdraw via a recursive ETH split across the PSM and the
// CT/ETH pool.
package vault

import (
	"fmt"
	"sync"

	"github.com/depegsim/depegsim/pkg/sim/amm"
	"github.com/depegsim/depegsim/pkg/sim/psm"
	"github.com/depegsim/depegsim/pkg/sim/simerrors"
	"github.com/depegsim/depegsim/pkg/sim/wallet"
)

// splitThreshold is the residual-ETH cutoff (epsilon) below which the
// recursive conversion loop in DepositEth stops.
const splitThreshold = 0.01

// maxRepaymentIterations bounds the buy_ds/sell_ds repayment loops so a
// pathological pool cannot spin forever; hitting the bound is treated as
// InsufficientLiquidity.
const maxRepaymentIterations = 64

// Borrower is the slice of Engine a Vault needs: the flash-loan ledger.
// Defined here (not imported from engine) so vault never imports engine,
// breaking the cycle; *engine.Engine satisfies this structurally.
type Borrower interface {
	CurrentBlock() uint64
	BorrowEth(w *wallet.Wallet, amt float64) error
	RepayEth(w *wallet.Wallet, amt float64) error
	BorrowToken(w *wallet.Wallet, symbol string, amt float64) error
	RepayToken(w *wallet.Wallet, symbol string, amt float64) error
}

// Vault composes a PSM and three AMM pools into buy_ds/sell_ds and LP
// deposit/withdraw routines for one LST.
type Vault struct {
	mu sync.RWMutex

	Symbols        psm.Symbols
	PSM            *psm.PSM
	LSTPool        *amm.Pool // LST/ETH
	CTPool         *amm.Pool // CT/ETH
	DSPool         *amm.Pool // DS/ETH
	ReserveCTRatio float64

	Wallet *wallet.Wallet // the vault's own internal holding account

	lpSupply  float64
	lpHolders map[string]float64 // wallet ID -> shares
	poolID    string
}

// Config describes the parameters needed to stand up a new Vault.
type Config struct {
	Symbols        psm.Symbols
	PSM            *psm.PSM
	LSTPool        *amm.Pool
	CTPool         *amm.Pool
	DSPool         *amm.Pool
	ReserveCTRatio float64
	WalletID       string
}

// New constructs a Vault with its own internal wallet.
func New(cfg Config) *Vault {
	return &Vault{
		Symbols:        cfg.Symbols,
		PSM:            cfg.PSM,
		LSTPool:        cfg.LSTPool,
		CTPool:         cfg.CTPool,
		DSPool:         cfg.DSPool,
		ReserveCTRatio: cfg.ReserveCTRatio,
		Wallet:         wallet.New(cfg.WalletID),
		lpHolders:      make(map[string]float64),
		poolID:         "vault:" + cfg.Symbols.LST,
	}
}

// PoolID identifies the Vault's LP-share pool in a wallet's lp_balances.
func (v *Vault) PoolID() string { return v.poolID }

// recursiveSplit runs one pass of the deposit-side ETH split: reserve a
// CT-ratio share through the PSM, split the remainder between
// a fresh PSM mint and CT/ETH liquidity, then sell the accumulated DS
// back into ETH. It mutates v.Wallet and returns the new residual ETH.
func (v *Vault) recursiveSplit(block uint64) (float64, error) {
	e := v.Wallet.EthBalance()
	ctReserved := e * v.ReserveCTRatio

	if ctReserved > 0 {
		if err := v.PSM.DepositEth(v.Wallet, ctReserved); err != nil {
			return 0, err
		}
	}

	remainder := e - ctReserved
	rEthCT, rTokCT, _ := v.CTPool.Reserves()
	var s float64
	if rTokCT+rEthCT > 0 {
		s = rTokCT / (rTokCT + rEthCT)
	}
	ethForAmm := remainder * (1 - s)
	ctForAmm := remainder - ethForAmm

	if ctForAmm > 0 {
		if err := v.PSM.DepositEth(v.Wallet, ctForAmm); err != nil {
			return 0, err
		}
	}

	if ethForAmm > 0 && ctForAmm > 0 {
		if _, err := v.CTPool.AddLiquidity(v.Wallet, ethForAmm, ctForAmm); err != nil {
			return 0, err
		}
	}

	dsAccumulated := v.Wallet.BalanceOf(v.Symbols.DS)
	if dsAccumulated <= 0 {
		return v.Wallet.EthBalance(), nil
	}
	if _, err := v.DSPool.SwapTokenForEth(v.Wallet, dsAccumulated, block); err != nil {
		return 0, err
	}
	return v.Wallet.EthBalance(), nil
}

// TotalVaultValueEth returns the vault's full ETH-denominated holdings:
// its raw ETH, its DS balance at spot, and its CT/ETH LP position's
// underlying share.
func (v *Vault) TotalVaultValueEth() float64 {
	eth := v.Wallet.EthBalance()
	dsBal := v.Wallet.BalanceOf(v.Symbols.DS)
	dsValue := dsBal * v.DSPool.PriceOfOneTokenInETH()

	rEthCT, _, totalSharesCT := v.CTPool.Reserves()
	vaultCTShares := v.Wallet.LPBalance(v.CTPool.ID)
	var ctLPValue float64
	if totalSharesCT > 0 {
		ctLPValue = (rEthCT / totalSharesCT) * vaultCTShares
	}
	return eth + dsValue + ctLPValue
}

// DepositEth is the Vault's LP-deposit entry point: it pulls dEth from
// w, runs the recursive split until the residual ETH is below
// splitThreshold, and mints LP shares proportional to the investor's
// contribution.
func (v *Vault) DepositEth(w *wallet.Wallet, dEth float64, block uint64) (float64, error) {
	if dEth <= 0 {
		return 0, fmt.Errorf("%w: vault deposit_eth amount %g", simerrors.ErrBadAmount, dEth)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := w.WithdrawEth(dEth); err != nil {
		return 0, err
	}
	if err := v.Wallet.DepositEth(dEth); err != nil {
		return 0, err
	}

	for i := 0; i < maxRepaymentIterations; i++ {
		residual, err := v.recursiveSplit(block)
		if err != nil {
			return 0, err
		}
		if residual < splitThreshold {
			break
		}
	}

	var shares float64
	if v.lpSupply == 0 {
		shares = dEth
	} else {
		totalValue := v.TotalVaultValueEth()
		if totalValue <= 0 {
			return 0, fmt.Errorf("%w: vault %s has zero value with outstanding supply", simerrors.ErrInsufficientLiquidity, v.Symbols.LST)
		}
		shares = dEth / totalValue * v.lpSupply
	}

	v.lpSupply += shares
	v.lpHolders[w.ID()] += shares
	if err := w.DepositLP(v.poolID, shares); err != nil {
		return 0, err
	}
	return shares, nil
}

// WithdrawLPTokens burns shares from w, paying out the investor's
// ETH-denominated share of the vault split between a direct CT/ETH LP
// withdrawal and a CT sale.
func (v *Vault) WithdrawLPTokens(w *wallet.Wallet, shares float64, block uint64) (float64, error) {
	if shares <= 0 {
		return 0, fmt.Errorf("%w: vault withdraw shares %g", simerrors.ErrBadAmount, shares)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.lpSupply <= 0 {
		return 0, fmt.Errorf("%w: vault %s has no outstanding LP supply", simerrors.ErrEmptyPool, v.Symbols.LST)
	}

	if err := w.WithdrawLP(v.poolID, shares); err != nil {
		return 0, err
	}

	ratio := shares / v.lpSupply
	targetValue := ratio * v.TotalVaultValueEth()

	vaultCTShares := v.Wallet.LPBalance(v.CTPool.ID)
	ctSharesToPull := ratio * vaultCTShares

	var payout float64
	if ctSharesToPull > 0 {
		ethOut, ctOut, err := v.CTPool.RemoveLiquidity(v.Wallet, ctSharesToPull)
		if err != nil {
			return 0, err
		}
		payout += ethOut
		if ctOut > 0 {
			ethFromCT, err := v.CTPool.SwapTokenForEth(v.Wallet, ctOut, block)
			if err != nil {
				return 0, err
			}
			payout += ethFromCT
		}
	}

	remaining := targetValue - payout
	available := v.Wallet.EthBalance()
	if remaining > 0 {
		if remaining > available {
			remaining = available
		}
		payout += remaining
	}

	v.lpSupply -= shares
	v.lpHolders[w.ID()] -= shares
	if v.lpHolders[w.ID()] <= 1e-12 {
		delete(v.lpHolders, w.ID())
	}

	if payout > 0 {
		if err := v.Wallet.WithdrawEth(payout); err != nil {
			return 0, err
		}
		if err := w.DepositEth(payout); err != nil {
			return 0, err
		}
	}
	return payout, nil
}

// CalculateBuyDSOutcome dry-runs BuyDS and returns the DS amount the
// caller would receive, without mutating any real state. The dry run
// executes the same sequence of swaps BuyDS does against cloned CT/DS
// pools and a scratch wallet, so per-iteration slippage in the
// repayment loop matches what the live run will face; a dry run that
// priced every iteration at the same spot (as a pure Preview loop
// would) can admit a trade the live run then fails to complete.
func (v *Vault) CalculateBuyDSOutcome(dEth float64) (float64, error) {
	if dEth <= 0 {
		return 0, fmt.Errorf("%w: buy_ds amount %g", simerrors.ErrBadAmount, dEth)
	}
	dsPrice := v.DSPool.PriceOfOneTokenInETH()
	ctPrice := v.CTPool.PriceOfOneTokenInETH()
	if dsPrice <= 0 || ctPrice <= 0 {
		return 0, fmt.Errorf("%w: zero spot price in buy_ds dry run", simerrors.ErrEmptyPool)
	}

	dEth = v.capBuyDSInput(dEth, dsPrice)
	nDS := dEth / dsPrice
	borrowed := nDS * ctPrice
	totalEth := dEth + borrowed

	ctSim := v.CTPool.Clone()
	dsSim := v.DSPool.Clone()
	scratch := wallet.New("vault-buyds-dryrun")
	if err := scratch.DepositToken(v.Symbols.CT, totalEth); err != nil {
		return 0, err
	}

	ethFromCT, err := ctSim.SwapTokenForEth(scratch, totalEth, 0)
	if err != nil {
		return 0, nil
	}
	if err := scratch.DepositToken(v.Symbols.DS, totalEth); err != nil {
		return 0, err
	}

	remaining := borrowed - ethFromCT
	dsOwned := totalEth
	for i := 0; i < maxRepaymentIterations && remaining > 1e-9; i++ {
		price := dsSim.PriceOfOneTokenInETH()
		if price <= 0 {
			return 0, nil
		}
		dsToSell := remaining / price / (1 - dsSim.FeeBps)
		if dsToSell > dsOwned {
			dsToSell = dsOwned
		}
		if dsToSell <= 0 {
			break
		}
		ethOut, err := dsSim.SwapTokenForEth(scratch, dsToSell, 0)
		if err != nil {
			return 0, nil
		}
		dsOwned -= dsToSell
		remaining -= ethOut
	}
	if remaining > 1e-9 || dsOwned <= 0 {
		return 0, nil
	}
	return dsOwned, nil
}

// CalculateSellDSOutcome dry-runs SellDS and returns the ETH amount the
// caller would receive, without mutating any real state. As with
// CalculateBuyDSOutcome, it simulates the CT-repurchase loop against a
// cloned CT pool and a scratch wallet so compounding slippage across
// iterations matches the live run.
func (v *Vault) CalculateSellDSOutcome(dDs float64) (float64, error) {
	if dDs <= 0 {
		return 0, fmt.Errorf("%w: sell_ds amount %g", simerrors.ErrBadAmount, dDs)
	}
	dDs = v.capSellDSInput(dDs)
	if dDs <= 0 {
		return 0, nil
	}

	redemptionFee := v.PSM.RedemptionFee
	ethFromRedeem := dDs * (1 - redemptionFee)

	ctSim := v.CTPool.Clone()
	scratch := wallet.New("vault-sellds-dryrun")
	if err := scratch.DepositEth(ethFromRedeem); err != nil {
		return 0, err
	}

	ctOwned := 0.0
	budget := ethFromRedeem
	for i := 0; i < maxRepaymentIterations && ctOwned+1e-9 < dDs; i++ {
		price := ctSim.PriceOfOneTokenInETH()
		if price <= 0 {
			return 0, nil
		}
		needed := (dDs - ctOwned) * price / (1 - ctSim.FeeBps)
		if needed > budget {
			needed = budget
		}
		if needed <= 0 {
			break
		}
		ctOut, err := ctSim.SwapEthForToken(scratch, needed, 0)
		if err != nil {
			return 0, nil
		}
		ctOwned += ctOut
		budget -= needed
	}
	if ctOwned+1e-9 < dDs {
		return 0, nil
	}
	return scratch.EthBalance(), nil
}

func (v *Vault) capBuyDSInput(dEth, dsPrice float64) float64 {
	_, dsTok, _ := v.DSPool.Reserves()
	maxDS := dsTok * 0.5
	if dEth/dsPrice > maxDS {
		return maxDS * dsPrice
	}
	return dEth
}

func (v *Vault) capSellDSInput(dDs float64) float64 {
	_, ctTok, _ := v.CTPool.Reserves()
	dsEth, _, _ := v.DSPool.Reserves()
	if dDs > ctTok*0.5 {
		dDs = ctTok * 0.5
	}
	ctPrice := v.CTPool.PriceOfOneTokenInETH()
	if ctPrice > 0 && dDs*ctPrice > dsEth*0.5 {
		dDs = dsEth * 0.5 / ctPrice
	}
	return dDs
}

// BuyDS is the flash-loan DS purchase routine. It borrows ETH from b,
// mints a CT+DS bundle via the PSM, sells the CT leg, and sells DS in a
// repayment loop until the CT borrow is repaid, handing the investor
// whatever DS remains. On failure it returns InsufficientLiquidity: any
// failure reached before the ETH borrow is opened has no side effects,
// and any failure reached after it unwinds via unwindBuyDS, which
// liquidates whatever CT/DS the vault is mid-holding, repays as much of
// the borrow as that covers, and refunds the remainder to w — so the
// borrow never survives the call outstanding.
func (v *Vault) BuyDS(b Borrower, w *wallet.Wallet, dEth float64) (float64, error) {
	outcome, err := v.CalculateBuyDSOutcome(dEth)
	if err != nil {
		return 0, err
	}
	if outcome <= 0 {
		return 0, fmt.Errorf("%w: buy_ds dry run returned non-positive outcome", simerrors.ErrInsufficientLiquidity)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	dsPrice := v.DSPool.PriceOfOneTokenInETH()
	ctPrice := v.CTPool.PriceOfOneTokenInETH()
	dEth = v.capBuyDSInput(dEth, dsPrice)

	if err := w.WithdrawEth(dEth); err != nil {
		return 0, err
	}
	if err := v.Wallet.DepositEth(dEth); err != nil {
		_ = w.DepositEth(dEth)
		return 0, err
	}

	nDS := dEth / dsPrice
	borrowed := nDS * ctPrice

	if err := b.BorrowEth(v.Wallet, borrowed); err != nil {
		bal := v.Wallet.EthBalance()
		if bal >= dEth && dEth > 0 {
			_ = v.Wallet.WithdrawEth(dEth)
			_ = w.DepositEth(dEth)
		}
		return 0, err
	}

	totalEth := dEth + borrowed
	if err := v.PSM.DepositEth(v.Wallet, totalEth); err != nil {
		if uerr := v.unwindBuyDS(b, w, borrowed); uerr != nil {
			return 0, fmt.Errorf("%w: unwind after mint failure: %v", simerrors.ErrInsufficientLiquidity, uerr)
		}
		return 0, fmt.Errorf("%w: %v", simerrors.ErrInsufficientLiquidity, err)
	}

	ctBal := v.Wallet.BalanceOf(v.Symbols.CT)
	ethFromCT, err := v.CTPool.SwapTokenForEth(v.Wallet, ctBal, b.CurrentBlock())
	if err != nil {
		if uerr := v.unwindBuyDS(b, w, borrowed); uerr != nil {
			return 0, fmt.Errorf("%w: unwind after CT sale failure: %v", simerrors.ErrInsufficientLiquidity, uerr)
		}
		return 0, fmt.Errorf("%w: %v", simerrors.ErrInsufficientLiquidity, err)
	}

	remaining := borrowed - ethFromCT
	for i := 0; i < maxRepaymentIterations && remaining > 1e-9; i++ {
		price := v.DSPool.PriceOfOneTokenInETH()
		if price <= 0 {
			if uerr := v.unwindBuyDS(b, w, borrowed); uerr != nil {
				return 0, fmt.Errorf("%w: unwind after DS pool exhaustion: %v", simerrors.ErrInsufficientLiquidity, uerr)
			}
			return 0, fmt.Errorf("%w: DS pool exhausted mid buy_ds", simerrors.ErrInsufficientLiquidity)
		}
		dsOwned := v.Wallet.BalanceOf(v.Symbols.DS)
		dsToSell := remaining / price / (1 - v.DSPool.FeeBps)
		if dsToSell > dsOwned {
			dsToSell = dsOwned
		}
		if dsToSell <= 0 {
			if uerr := v.unwindBuyDS(b, w, borrowed); uerr != nil {
				return 0, fmt.Errorf("%w: unwind after exhausting DS: %v", simerrors.ErrInsufficientLiquidity, uerr)
			}
			return 0, fmt.Errorf("%w: vault exhausted DS before repaying buy_ds borrow", simerrors.ErrInsufficientLiquidity)
		}
		ethOut, err := v.DSPool.SwapTokenForEth(v.Wallet, dsToSell, b.CurrentBlock())
		if err != nil {
			if uerr := v.unwindBuyDS(b, w, borrowed); uerr != nil {
				return 0, fmt.Errorf("%w: unwind after DS sale failure: %v", simerrors.ErrInsufficientLiquidity, uerr)
			}
			return 0, fmt.Errorf("%w: %v", simerrors.ErrInsufficientLiquidity, err)
		}
		remaining -= ethOut
	}
	if remaining > 1e-9 {
		if uerr := v.unwindBuyDS(b, w, borrowed); uerr != nil {
			return 0, fmt.Errorf("%w: unwind after repayment cap: %v", simerrors.ErrInsufficientLiquidity, uerr)
		}
		return 0, fmt.Errorf("%w: could not raise enough ETH to repay buy_ds borrow", simerrors.ErrInsufficientLiquidity)
	}

	if err := b.RepayEth(v.Wallet, borrowed); err != nil {
		return 0, err
	}

	payout := v.Wallet.BalanceOf(v.Symbols.DS)
	if payout <= 0 {
		return 0, fmt.Errorf("%w: buy_ds left nothing to pay out", simerrors.ErrInsufficientLiquidity)
	}
	if err := v.Wallet.WithdrawToken(v.Symbols.DS, payout); err != nil {
		return 0, err
	}
	if err := w.DepositToken(v.Symbols.DS, payout); err != nil {
		return 0, err
	}
	return payout, nil
}

// unwindBuyDS reverses an in-flight buy_ds after the ETH borrow has
// already been opened: it sells off whatever CT/DS the vault is
// currently holding back into ETH, repays as much of borrowed as that
// ETH covers, and refunds whatever ETH is left over to the investor's
// wallet w. It returns an error if the liquidation proceeds fall short
// of borrowed, leaving debt outstanding — a case the slippage-aware dry
// run in CalculateBuyDSOutcome is meant to make unreachable.
func (v *Vault) unwindBuyDS(b Borrower, w *wallet.Wallet, borrowed float64) error {
	if ctBal := v.Wallet.BalanceOf(v.Symbols.CT); ctBal > 0 {
		_, _ = v.CTPool.SwapTokenForEth(v.Wallet, ctBal, b.CurrentBlock())
	}
	if dsBal := v.Wallet.BalanceOf(v.Symbols.DS); dsBal > 0 {
		_, _ = v.DSPool.SwapTokenForEth(v.Wallet, dsBal, b.CurrentBlock())
	}

	available := v.Wallet.EthBalance()
	repay := borrowed
	if repay > available {
		repay = available
	}
	if repay > 0 {
		if err := b.RepayEth(v.Wallet, repay); err != nil {
			return err
		}
	}
	if repay+1e-9 < borrowed {
		return fmt.Errorf("%w: liquidated %g ETH against a %g buy_ds borrow", simerrors.ErrInsufficientLiquidity, available, borrowed)
	}

	refund := v.Wallet.EthBalance()
	if refund > 0 {
		if err := v.Wallet.WithdrawEth(refund); err != nil {
			return err
		}
		if err := w.DepositEth(refund); err != nil {
			return err
		}
	}
	return nil
}

// SellDS is the flash-loan DS sale routine: it borrows CT, redeems the
// investor's DS against that borrowed CT at the PSM, then buys CT back
// on the open market to repay the borrow. A failed PSM redemption, which
// leaves the borrowed CT untouched, repays it and returns the investor's
// DS directly. Any later failure unwinds via unwindSellDS, which spends whatever ETH
// the vault is mid-holding on one last CT purchase and repays as much
// of the borrow as the vault's CT balance covers, so the borrow never
// survives the call outstanding.
func (v *Vault) SellDS(b Borrower, w *wallet.Wallet, dDs float64) (float64, error) {
	outcome, err := v.CalculateSellDSOutcome(dDs)
	if err != nil {
		return 0, err
	}
	if outcome <= 0 {
		return 0, fmt.Errorf("%w: sell_ds dry run returned non-positive outcome", simerrors.ErrInsufficientLiquidity)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	dDs = v.capSellDSInput(dDs)

	if err := w.WithdrawToken(v.Symbols.DS, dDs); err != nil {
		return 0, err
	}
	if err := v.Wallet.DepositToken(v.Symbols.DS, dDs); err != nil {
		_ = w.DepositToken(v.Symbols.DS, dDs)
		return 0, err
	}

	if err := b.BorrowToken(v.Wallet, v.Symbols.CT, dDs); err != nil {
		_ = v.Wallet.WithdrawToken(v.Symbols.DS, dDs)
		_ = w.DepositToken(v.Symbols.DS, dDs)
		return 0, err
	}

	ethReceived, err := v.PSM.RedeemWithCTAndDS(v.Wallet, dDs, b.CurrentBlock())
	if err != nil {
		// Redemption never ran: the borrowed CT and the investor's DS are
		// still sitting untouched in v.Wallet, so this reverses exactly
		// rather than through unwindSellDS's lossy liquidation path.
		if rerr := b.RepayToken(v.Wallet, v.Symbols.CT, dDs); rerr != nil {
			return 0, fmt.Errorf("%w: unwind after redeem failure: %v", simerrors.ErrInsufficientLiquidity, rerr)
		}
		_ = v.Wallet.WithdrawToken(v.Symbols.DS, dDs)
		_ = w.DepositToken(v.Symbols.DS, dDs)
		return 0, fmt.Errorf("%w: %v", simerrors.ErrInsufficientLiquidity, err)
	}

	ctOwned := 0.0
	budget := ethReceived
	for i := 0; i < maxRepaymentIterations && ctOwned+1e-9 < dDs; i++ {
		price := v.CTPool.PriceOfOneTokenInETH()
		if price <= 0 {
			if uerr := v.unwindSellDS(b, dDs); uerr != nil {
				return 0, fmt.Errorf("%w: unwind after CT pool exhaustion: %v", simerrors.ErrInsufficientLiquidity, uerr)
			}
			return 0, fmt.Errorf("%w: CT pool exhausted mid sell_ds", simerrors.ErrInsufficientLiquidity)
		}
		needed := (dDs - ctOwned) * price / (1 - v.CTPool.FeeBps)
		if needed > budget {
			needed = budget
		}
		if needed <= 0 {
			if uerr := v.unwindSellDS(b, dDs); uerr != nil {
				return 0, fmt.Errorf("%w: unwind after exhausting ETH: %v", simerrors.ErrInsufficientLiquidity, uerr)
			}
			return 0, fmt.Errorf("%w: vault exhausted ETH before repaying sell_ds borrow", simerrors.ErrInsufficientLiquidity)
		}
		ctOut, err := v.CTPool.SwapEthForToken(v.Wallet, needed, b.CurrentBlock())
		if err != nil {
			if uerr := v.unwindSellDS(b, dDs); uerr != nil {
				return 0, fmt.Errorf("%w: unwind after CT purchase failure: %v", simerrors.ErrInsufficientLiquidity, uerr)
			}
			return 0, fmt.Errorf("%w: %v", simerrors.ErrInsufficientLiquidity, err)
		}
		ctOwned += ctOut
		budget -= needed
	}
	if ctOwned+1e-9 < dDs {
		if uerr := v.unwindSellDS(b, dDs); uerr != nil {
			return 0, fmt.Errorf("%w: unwind after repayment cap: %v", simerrors.ErrInsufficientLiquidity, uerr)
		}
		return 0, fmt.Errorf("%w: could not buy back enough CT to repay sell_ds borrow", simerrors.ErrInsufficientLiquidity)
	}

	if err := b.RepayToken(v.Wallet, v.Symbols.CT, dDs); err != nil {
		return 0, err
	}

	payout := v.Wallet.EthBalance()
	if payout <= 0 {
		return 0, fmt.Errorf("%w: sell_ds left nothing to pay out", simerrors.ErrInsufficientLiquidity)
	}
	if err := v.Wallet.WithdrawEth(payout); err != nil {
		return 0, err
	}
	if err := w.DepositEth(payout); err != nil {
		return 0, err
	}
	return payout, nil
}

// unwindSellDS reverses an in-flight sell_ds after the CT borrow has
// already been opened: it spends whatever ETH the vault is currently
// holding on one last CT purchase, repays as much of the dDs CT debt as
// the vault's resulting CT balance covers, and reports an error if that
// falls short — the investor's DS was already redeemed through the PSM
// at this point, so (unlike unwindBuyDS) there is no ETH left to refund
// once the debt is cleared.
func (v *Vault) unwindSellDS(b Borrower, dDs float64) error {
	if avail := v.Wallet.EthBalance(); avail > 0 {
		_, _ = v.CTPool.SwapEthForToken(v.Wallet, avail, b.CurrentBlock())
	}

	ctHeld := v.Wallet.BalanceOf(v.Symbols.CT)
	repay := dDs
	if repay > ctHeld {
		repay = ctHeld
	}
	if repay > 0 {
		if err := b.RepayToken(v.Wallet, v.Symbols.CT, repay); err != nil {
			return err
		}
	}
	if repay+1e-9 < dDs {
		return fmt.Errorf("%w: repurchased %g CT against a %g sell_ds borrow", simerrors.ErrInsufficientLiquidity, ctHeld, dDs)
	}
	return nil
}

// Clone deep-copies the vault for Monte Carlo replicate isolation. The
// caller supplies already-cloned PSM/AMM pools since a Vault does not
// own them (a TokenInfo does); Clone only owns its wallet and LP ledger.
func (v *Vault) Clone(newPSM *psm.PSM, lst, ct, ds *amm.Pool) *Vault {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c := New(Config{
		Symbols:        v.Symbols,
		PSM:            newPSM,
		LSTPool:        lst,
		CTPool:         ct,
		DSPool:         ds,
		ReserveCTRatio: v.ReserveCTRatio,
		WalletID:       v.Wallet.ID(),
	})
	c.Wallet = v.Wallet.Clone()
	c.lpSupply = v.lpSupply
	for k, val := range v.lpHolders {
		c.lpHolders[k] = val
	}
	return c
}

// LPShares returns the vault's outstanding LP supply and the holder map.
func (v *Vault) LPShares() (supply float64, holders map[string]float64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]float64, len(v.lpHolders))
	for k, val := range v.lpHolders {
		out[k] = val
	}
	return v.lpSupply, out
}

// LPTokenPrice returns the ETH-denominated price of one Vault LP share.
func (v *Vault) LPTokenPrice() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.lpSupply <= 0 {
		return 1.0
	}
	return v.TotalVaultValueEth() / v.lpSupply
}
