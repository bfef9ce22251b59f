// Package engine implements the block loop: it owns every Wallet, PSM,
// AMM pool, and Vault by stable ID, drives yield distribution, event
// application, and shuffled agent dispatch each block, enforces the
// end-of-block zero-debt invariant, and records the per-block
// statistics tables plus the trade log. Agents never see this type
// directly — they see the handle.Handle this package exposes through
// AgentHandle.
package engine

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/depegsim/depegsim/pkg/logger"
	"github.com/depegsim/depegsim/pkg/sim/amm"
	"github.com/depegsim/depegsim/pkg/sim/event"
	"github.com/depegsim/depegsim/pkg/sim/handle"
	"github.com/depegsim/depegsim/pkg/sim/psm"
	"github.com/depegsim/depegsim/pkg/sim/simerrors"
	"github.com/depegsim/depegsim/pkg/sim/vault"
	"github.com/depegsim/depegsim/pkg/sim/wallet"
)

// debtEpsilon is the tolerance used at the end-of-block zero-debt
// assertion to absorb floating-point rounding.
const debtEpsilon = 1e-9

// Config is the engine-level configuration.
type Config struct {
	NumBlocks               uint64
	InitialEthBalance       float64
	PSMExpiryAfterBlock     uint64
	InitialEthYieldPerBlock float64
	EventsPath              string
	PrintStats              bool
	ShuffleSeed             int64
}

// DefaultConfig returns the engine defaults used when no configuration
// is supplied.
func DefaultConfig() *Config {
	return &Config{
		NumBlocks:               100,
		InitialEthBalance:       1000,
		PSMExpiryAfterBlock:     100,
		InitialEthYieldPerBlock: 0,
		ShuffleSeed:             0,
	}
}

// TokenConfig describes the per-token registration options.
type TokenConfig struct {
	Symbol       string
	ReserveEth   float64
	ReserveToken float64
	// FeeBps is the AMM swap fee as a fraction in [0, 1), e.g. 0.003 for
	// 30 basis points, despite the field's name.
	FeeBps               float64
	Risk                 float64
	InitialYieldPerBlock float64
	InitialAgentBalance  float64
}

// TokenInfo bundles everything one registered LST owns: its PSM, its
// three AMM pools, its Vault, and its current yield rate.
type TokenInfo struct {
	Symbols       psm.Symbols
	PSM           *psm.PSM
	LSTPool       *amm.Pool
	CTPool        *amm.Pool
	DSPool        *amm.Pool
	Vault         *vault.Vault
	YieldPerBlock float64
}

// Engine is the block-loop scheduler and sole owner of simulation state.
type Engine struct {
	mu sync.RWMutex

	cfg    Config
	log    *logger.Logger
	rng    *rand.Rand
	events *event.Manager

	currentBlock     uint64
	ethYieldPerBlock float64

	wallets map[string]*wallet.Wallet
	tokens  map[string]*TokenInfo
	agents  []handle.Agent

	genesis        *wallet.Wallet
	internalWallet *wallet.Wallet // pre-funded account the EventManager trades through

	borrowedEth        map[string]float64
	totalBorrowedEth   float64
	borrowedToken      map[string]map[string]float64
	totalBorrowedToken map[string]float64

	stats *Stats
}

// New constructs an Engine from the given configuration.
func New(cfg *Config, log *logger.Logger) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.NewLogger(logger.DefaultConfig())
	}
	e := &Engine{
		cfg:                *cfg,
		log:                log,
		rng:                rand.New(rand.NewSource(cfg.ShuffleSeed)),
		events:             event.NewManager(),
		ethYieldPerBlock:   cfg.InitialEthYieldPerBlock,
		wallets:            make(map[string]*wallet.Wallet),
		tokens:             make(map[string]*TokenInfo),
		borrowedEth:        make(map[string]float64),
		borrowedToken:      make(map[string]map[string]float64),
		totalBorrowedToken: make(map[string]float64),
		stats:              newStats(),
	}
	e.genesis = wallet.New("genesis")
	_ = e.genesis.DepositEth(cfg.InitialEthBalance * 1000)
	e.internalWallet = wallet.New("event-manager")
	e.wallets[e.genesis.ID()] = e.genesis
	return e
}

// Events exposes the event schedule for loading from an external file.
func (e *Engine) Events() *event.Manager { return e.events }

// RegisterToken creates the PSM, the three AMM pools, and the Vault for
// one LST.
func (e *Engine) RegisterToken(tc TokenConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tokens[tc.Symbol]; exists {
		return fmt.Errorf("engine: token %s already registered", tc.Symbol)
	}

	syms := psm.Symbols{LST: tc.Symbol, CT: "CT_" + tc.Symbol, DS: "DS_" + tc.Symbol}

	p := psm.New(psm.Config{
		Symbols:       syms,
		ExpiryBlock:   e.cfg.PSMExpiryAfterBlock,
		RedemptionFee: 0.001,
		RepurchaseFee: 0.05,
	})

	const seedEth = 100.0
	if err := p.DepositEth(e.genesis, seedEth); err != nil {
		return fmt.Errorf("engine: seed psm for %s: %w", tc.Symbol, err)
	}

	lstPool := amm.New(amm.Config{
		ID:           tc.Symbol,
		Symbol:       tc.Symbol,
		Kind:         amm.ConstantProduct,
		ReserveEth:   tc.ReserveEth,
		ReserveToken: tc.ReserveToken,
		FeeBps:       tc.FeeBps,
	})

	base := e.genesis.EthBalance() / 100 // a stable bootstrap liquidity baseline, not drawn from any wallet
	discountRate := 0.0
	if e.cfg.PSMExpiryAfterBlock > 0 {
		discountRate = 1.0 / float64(e.cfg.PSMExpiryAfterBlock)
	}

	ctPool := amm.New(amm.Config{
		ID:           syms.CT,
		Symbol:       syms.CT,
		Kind:         amm.YieldSpace,
		ReserveEth:   (1 - tc.Risk) * base,
		ReserveToken: base,
		FeeBps:       tc.FeeBps,
		DiscountRate: discountRate,
	})
	dsPool := amm.New(amm.Config{
		ID:           syms.DS,
		Symbol:       syms.DS,
		Kind:         amm.YieldSpace,
		ReserveEth:   tc.Risk * base,
		ReserveToken: base,
		FeeBps:       tc.FeeBps,
		DiscountRate: discountRate,
	})

	v := vault.New(vault.Config{
		Symbols:        syms,
		PSM:            p,
		LSTPool:        lstPool,
		CTPool:         ctPool,
		DSPool:         dsPool,
		ReserveCTRatio: 0.4,
		WalletID:       "vault:" + tc.Symbol,
	})
	e.wallets[v.Wallet.ID()] = v.Wallet

	e.tokens[tc.Symbol] = &TokenInfo{
		Symbols:       syms,
		PSM:           p,
		LSTPool:       lstPool,
		CTPool:        ctPool,
		DSPool:        dsPool,
		Vault:         v,
		YieldPerBlock: tc.InitialYieldPerBlock,
	}
	return nil
}

// AddAgent registers one agent, seeds its wallet, and runs its
// post-genesis hook.
func (e *Engine) AddAgent(a handle.Agent, initialEth float64) error {
	e.mu.Lock()
	w := a.Wallet()
	if _, exists := e.wallets[w.ID()]; exists {
		e.mu.Unlock()
		return fmt.Errorf("engine: wallet %s already registered", w.ID())
	}
	if err := w.DepositEth(initialEth); err != nil {
		e.mu.Unlock()
		return err
	}
	e.wallets[w.ID()] = w
	e.agents = append(e.agents, a)
	e.mu.Unlock()

	h := &AgentHandle{engine: e, wallet: w, name: a.Name()}
	return a.OnAfterGenesis(h)
}

// AddAgents registers multiple agents with the same initial ETH balance.
func (e *Engine) AddAgents(agents []handle.Agent, initialEth float64) error {
	for _, a := range agents {
		if err := e.AddAgent(a, initialEth); err != nil {
			return err
		}
	}
	return nil
}

// CurrentBlock returns the block currently being processed.
func (e *Engine) CurrentBlock() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentBlock
}

// InternalWallet returns the account the EventManager trades through.
func (e *Engine) InternalWallet() *wallet.Wallet { return e.internalWallet }

// AMMPool resolves symbol to whichever pool (LST, CT, or DS) names it.
func (e *Engine) AMMPool(symbol string) (*amm.Pool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, tok := range e.tokens {
		switch symbol {
		case tok.Symbols.LST:
			return tok.LSTPool, nil
		case tok.Symbols.CT:
			return tok.CTPool, nil
		case tok.Symbols.DS:
			return tok.DSPool, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", simerrors.ErrUnknownToken, symbol)
}

// tokenFor resolves symbol to its owning TokenInfo, matching any of the
// three family members.
func (e *Engine) tokenFor(symbol string) (*TokenInfo, error) {
	for _, tok := range e.tokens {
		if symbol == tok.Symbols.LST || symbol == tok.Symbols.CT || symbol == tok.Symbols.DS {
			return tok, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", simerrors.ErrUnknownToken, symbol)
}

// SetYieldPerBlock sets the LST's per-block yield rate.
func (e *Engine) SetYieldPerBlock(symbol string, y float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	tok, err := e.tokenFor(symbol)
	if err != nil {
		return err
	}
	tok.YieldPerBlock = y
	return nil
}

// SetEthYieldPerBlock sets the engine-wide ETH yield rate.
func (e *Engine) SetEthYieldPerBlock(y float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ethYieldPerBlock = y
}

// BorrowEth implements vault.Borrower: it mints the flash-loan amount
// into w and records it against the ledger.
func (e *Engine) BorrowEth(w *wallet.Wallet, amt float64) error {
	if amt <= 0 {
		return fmt.Errorf("%w: borrow_eth amount %g", simerrors.ErrBadAmount, amt)
	}
	e.mu.Lock()
	e.borrowedEth[w.ID()] += amt
	e.totalBorrowedEth += amt
	e.mu.Unlock()
	return w.DepositEth(amt)
}

// RepayEth implements vault.Borrower.
func (e *Engine) RepayEth(w *wallet.Wallet, amt float64) error {
	if amt <= 0 {
		return fmt.Errorf("%w: repay_eth amount %g", simerrors.ErrBadAmount, amt)
	}
	e.mu.Lock()
	owed := e.borrowedEth[w.ID()]
	if amt > owed+debtEpsilon {
		e.mu.Unlock()
		return fmt.Errorf("%w: wallet %s owes %g, tried to repay %g", simerrors.ErrOverRepay, w.ID(), owed, amt)
	}
	e.mu.Unlock()

	if err := w.WithdrawEth(amt); err != nil {
		return err
	}

	e.mu.Lock()
	e.borrowedEth[w.ID()] -= amt
	e.totalBorrowedEth -= amt
	e.mu.Unlock()
	return nil
}

// BorrowToken implements vault.Borrower.
func (e *Engine) BorrowToken(w *wallet.Wallet, symbol string, amt float64) error {
	if amt <= 0 {
		return fmt.Errorf("%w: borrow_token amount %g", simerrors.ErrBadAmount, amt)
	}
	e.mu.Lock()
	if e.borrowedToken[w.ID()] == nil {
		e.borrowedToken[w.ID()] = make(map[string]float64)
	}
	e.borrowedToken[w.ID()][symbol] += amt
	e.totalBorrowedToken[symbol] += amt
	e.mu.Unlock()
	return w.DepositToken(symbol, amt)
}

// RepayToken implements vault.Borrower.
func (e *Engine) RepayToken(w *wallet.Wallet, symbol string, amt float64) error {
	if amt <= 0 {
		return fmt.Errorf("%w: repay_token amount %g", simerrors.ErrBadAmount, amt)
	}
	e.mu.Lock()
	owed := e.borrowedToken[w.ID()][symbol]
	if amt > owed+debtEpsilon {
		e.mu.Unlock()
		return fmt.Errorf("%w: wallet %s owes %g %s, tried to repay %g", simerrors.ErrOverRepay, w.ID(), owed, symbol, amt)
	}
	e.mu.Unlock()

	if err := w.WithdrawToken(symbol, amt); err != nil {
		return err
	}

	e.mu.Lock()
	e.borrowedToken[w.ID()][symbol] -= amt
	e.totalBorrowedToken[symbol] -= amt
	e.mu.Unlock()
	return nil
}

// Stats returns the accumulated per-block statistics tables.
func (e *Engine) Stats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// StartMining runs the block loop for cfg.NumBlocks blocks.
func (e *Engine) StartMining() error {
	e.mu.Lock()
	e.recordStatsLocked(0)
	e.mu.Unlock()

	for b := uint64(1); b <= e.cfg.NumBlocks; b++ {
		if err := e.runBlock(b); err != nil {
			return fmt.Errorf("engine: block %d: %w", b, err)
		}
	}
	return nil
}

func (e *Engine) runBlock(b uint64) error {
	e.mu.Lock()
	e.currentBlock = b
	e.distributeYieldLocked()
	e.mu.Unlock()

	if err := e.events.Apply(b, e); err != nil {
		return err
	}

	if err := e.dispatchAgents(b); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.assertDebtEmptyLocked(); err != nil {
		return err
	}
	e.recordStatsLocked(b)
	if e.cfg.PrintStats {
		e.log.Info("block %d settled: %d wallets, %d tokens", b, len(e.wallets), len(e.tokens))
	}
	return nil
}

func (e *Engine) distributeYieldLocked() {
	for _, w := range e.wallets {
		for _, tok := range e.tokens {
			if tok.YieldPerBlock <= 0 {
				continue
			}
			bal := w.BalanceOf(tok.Symbols.LST)
			if bal > 0 {
				_ = w.DepositToken(tok.Symbols.LST, bal*tok.YieldPerBlock)
			}
		}
		if e.ethYieldPerBlock > 0 {
			bal := w.EthBalance()
			if bal > 0 {
				_ = w.DepositEth(bal * e.ethYieldPerBlock)
			}
		}
	}
}

func (e *Engine) dispatchAgents(b uint64) error {
	e.mu.RLock()
	order := make([]int, len(e.agents))
	for i := range order {
		order[i] = i
	}
	e.mu.RUnlock()
	e.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	for _, idx := range order {
		e.mu.RLock()
		a := e.agents[idx]
		e.mu.RUnlock()
		h := &AgentHandle{engine: e, wallet: a.Wallet(), name: a.Name()}
		if err := a.OnBlockMined(h, b); err != nil {
			return fmt.Errorf("agent %s: %w", a.Name(), err)
		}
	}
	return nil
}

func (e *Engine) assertDebtEmptyLocked() error {
	if abs(e.totalBorrowedEth) > debtEpsilon {
		return fmt.Errorf("%w: total borrowed ETH = %g", simerrors.ErrOutstandingDebt, e.totalBorrowedEth)
	}
	for sym, amt := range e.totalBorrowedToken {
		if abs(amt) > debtEpsilon {
			return fmt.Errorf("%w: total borrowed %s = %g", simerrors.ErrOutstandingDebt, sym, amt)
		}
	}
	return nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// sortedTokenSymbols returns registered LST symbols in stable order, for
// deterministic stats output.
func (e *Engine) sortedTokenSymbols() []string {
	out := make([]string, 0, len(e.tokens))
	for sym := range e.tokens {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
