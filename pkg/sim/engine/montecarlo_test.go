package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depegsim/depegsim/pkg/sim/agent"
	"github.com/depegsim/depegsim/pkg/sim/handle"
	"github.com/depegsim/depegsim/pkg/sim/simerrors"
)

func newTestEngineWithAgents(t *testing.T, numBlocks uint64) *Engine {
	t.Helper()
	eng := newTestEngine(t, numBlocks)
	pop := []handle.Agent{
		agent.NewDSLongTerm("ds-long-term", "stETH", 0.1),
		agent.NewInsurer("insurer", "stETH"),
		agent.NewLSTMaximalist("lst-maximalist", "stETH"),
		agent.NewRedemptionArbitrage("redemption-arb", "stETH"),
	}
	require.NoError(t, eng.AddAgents(pop, 10))
	return eng
}

func TestCloneProducesIndependentWalletsAndPools(t *testing.T) {
	eng := newTestEngineWithAgents(t, 5)
	clone := eng.Clone(eng.cfg.ShuffleSeed + 1)

	require.NotSame(t, eng, clone)
	require.Len(t, clone.agents, len(eng.agents))

	pool, err := eng.AMMPool("stETH")
	require.NoError(t, err)
	clonePool, err := clone.AMMPool("stETH")
	require.NoError(t, err)
	require.NotSame(t, pool, clonePool)

	clonePool.DirectMutate(0, 500)
	eth, _, _ := pool.Reserves()
	cloneEth, _, _ := clonePool.Reserves()
	assert.NotEqual(t, eth, cloneEth, "mutating a clone's pool must not affect the original")
}

func TestCloneRebindsAgentWalletsToClonedWallets(t *testing.T) {
	eng := newTestEngineWithAgents(t, 5)
	clone := eng.Clone(eng.cfg.ShuffleSeed + 1)

	for i, a := range eng.agents {
		cloneAgent := clone.agents[i]
		assert.Equal(t, a.Wallet().ID(), cloneAgent.Wallet().ID())
		assert.NotSame(t, a.Wallet(), cloneAgent.Wallet(), "a cloned agent must be bound to the clone's own wallet instance")
		assert.Same(t, clone.wallets[cloneAgent.Wallet().ID()], cloneAgent.Wallet())
	}
}

func TestCloneDeepCopiesVaultIndependently(t *testing.T) {
	eng := newTestEngineWithAgents(t, 5)
	clone := eng.Clone(eng.cfg.ShuffleSeed + 1)

	originalVault := eng.tokens["stETH"].Vault
	cloneVault := clone.tokens["stETH"].Vault
	require.NotSame(t, originalVault, cloneVault)
	require.NotSame(t, originalVault.Wallet, cloneVault.Wallet)
}

func TestMonteCarloRejectsNonPositiveReplicateCount(t *testing.T) {
	eng := newTestEngineWithAgents(t, 5)
	_, err := eng.MonteCarlo(0)
	assert.ErrorIs(t, err, simerrors.ErrBadAmount)

	_, err = eng.MonteCarlo(-3)
	assert.ErrorIs(t, err, simerrors.ErrBadAmount)
}

func TestMonteCarloReturnsOneStatsPerReplicateInOrder(t *testing.T) {
	eng := newTestEngineWithAgents(t, 5)
	results, err := eng.MonteCarlo(4)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, s := range results {
		require.NotNil(t, s)
		assert.Equal(t, int(eng.cfg.NumBlocks)+1, countDistinctBlocks(s.Tokens))
		assert.Empty(t, s.BorrowedEth, "each replicate must end with no residual flash-loan debt")
	}
}

func TestMonteCarloDoesNotMutateBaseEngine(t *testing.T) {
	eng := newTestEngineWithAgents(t, 5)
	baseBlock := eng.CurrentBlock()

	_, err := eng.MonteCarlo(3)
	require.NoError(t, err)

	assert.Equal(t, baseBlock, eng.CurrentBlock(), "running replicates must not advance the base engine's own block counter")
}

func TestMonteCarloReplicatesAreMutuallyIndependent(t *testing.T) {
	eng := newTestEngineWithAgents(t, 8)
	results, err := eng.MonteCarlo(5)
	require.NoError(t, err)

	seenPrices := map[float64]int{}
	for _, s := range results {
		last := s.Tokens[len(s.Tokens)-1]
		seenPrices[last.PriceLST]++
	}
	assert.Greater(t, len(seenPrices), 1, "replicates seeded differently should not all converge on an identical final price")
}
