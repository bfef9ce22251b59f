package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/depegsim/depegsim/pkg/parallel"
	"github.com/depegsim/depegsim/pkg/sim/simerrors"
	"github.com/depegsim/depegsim/pkg/sim/wallet"
)

// Clone produces an independent copy of the engine's entire state —
// every wallet, every token's PSM/pools/Vault, the event schedule, and
// every agent's strategy state rebound to its own cloned wallet — seeded
// with its own shuffle source. Clones share nothing: two replicates can
// run their block loops concurrently without synchronization between
// them.
func (e *Engine) Clone(shuffleSeed int64) *Engine {
	e.mu.RLock()
	defer e.mu.RUnlock()

	clonedWallets := make(map[string]*wallet.Wallet, len(e.wallets))
	for id, w := range e.wallets {
		clonedWallets[id] = w.Clone()
	}

	clonedTokens := make(map[string]*TokenInfo, len(e.tokens))
	for sym, tok := range e.tokens {
		newPSM := tok.PSM.Clone()
		newLST := tok.LSTPool.Clone()
		newCT := tok.CTPool.Clone()
		newDS := tok.DSPool.Clone()
		newVault := tok.Vault.Clone(newPSM, newLST, newCT, newDS)

		// Vault.Clone produces its own wallet copy; that copy, not the
		// generic one taken above, is the object vault operations will
		// mutate from here on, so it must be the one the wallets
		// registry and stats snapshots see.
		clonedWallets[newVault.Wallet.ID()] = newVault.Wallet

		clonedTokens[sym] = &TokenInfo{
			Symbols:       tok.Symbols,
			PSM:           newPSM,
			LSTPool:       newLST,
			CTPool:        newCT,
			DSPool:        newDS,
			Vault:         newVault,
			YieldPerBlock: tok.YieldPerBlock,
		}
	}

	clonedBorrowedToken := make(map[string]map[string]float64, len(e.borrowedToken))
	for id, bySym := range e.borrowedToken {
		m := make(map[string]float64, len(bySym))
		for sym, amt := range bySym {
			m[sym] = amt
		}
		clonedBorrowedToken[id] = m
	}
	clonedTotalBorrowedToken := make(map[string]float64, len(e.totalBorrowedToken))
	for sym, amt := range e.totalBorrowedToken {
		clonedTotalBorrowedToken[sym] = amt
	}
	clonedBorrowedEth := make(map[string]float64, len(e.borrowedEth))
	for id, amt := range e.borrowedEth {
		clonedBorrowedEth[id] = amt
	}

	clone := &Engine{
		cfg:                e.cfg,
		log:                e.log,
		rng:                rand.New(rand.NewSource(shuffleSeed)),
		events:             e.events.Clone(),
		currentBlock:       e.currentBlock,
		ethYieldPerBlock:   e.ethYieldPerBlock,
		wallets:            clonedWallets,
		tokens:             clonedTokens,
		genesis:            clonedWallets[e.genesis.ID()],
		internalWallet:     e.internalWallet.Clone(),
		borrowedEth:        clonedBorrowedEth,
		totalBorrowedEth:   e.totalBorrowedEth,
		borrowedToken:      clonedBorrowedToken,
		totalBorrowedToken: clonedTotalBorrowedToken,
		stats:              newStats(),
	}

	for _, a := range e.agents {
		agentClone := a.Clone()
		agentClone.Bind(clonedWallets[a.Wallet().ID()])
		clone.agents = append(clone.agents, agentClone)
	}

	return clone
}

// MonteCarlo runs n independent replicates of the engine's current state
// to completion (each for cfg.NumBlocks blocks) concurrently across a
// worker pool, and returns each replicate's final Stats in input order.
// Replicates differ only in their shuffle seed, derived from the base
// engine's cfg.ShuffleSeed so a run is reproducible given that seed.
func (e *Engine) MonteCarlo(n int) ([]*Stats, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: montecarlo replicate count %d", simerrors.ErrBadAmount, n)
	}

	pp := parallel.NewParallelProcessor(nil)
	defer pp.Close()

	type outcome struct {
		index int
		stats *Stats
		err   error
	}

	outcomes := make(chan outcome, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			replicate := e.Clone(e.cfg.ShuffleSeed + int64(i) + 1)
			data, err := pp.Run(fmt.Sprintf("montecarlo-%d", i), func(ctx context.Context) (interface{}, error) {
				if err := replicate.StartMining(); err != nil {
					return nil, err
				}
				return replicate.Stats(), nil
			})
			if err != nil {
				outcomes <- outcome{index: i, err: err}
				return
			}
			outcomes <- outcome{index: i, stats: data.(*Stats)}
		}(i)
	}

	wg.Wait()
	close(outcomes)

	results := make([]*Stats, n)
	var firstErr error
	for o := range outcomes {
		if o.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("montecarlo replicate %d: %w", o.index, o.err)
			}
			continue
		}
		results[o.index] = o.stats
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}
