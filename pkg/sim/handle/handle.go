// Package handle defines the neutral contract between the Engine and
// Agent strategies. It exists to break the import cycle that would
// otherwise exist between pkg/sim/engine (which must invoke agents) and
// pkg/sim/agent (whose strategies must read engine state): engine
// implements Handle without importing agent, and agent imports only
// handle and wallet, never engine.
//
// Agents never see raw engine state — they see a thin Handle exposing
// the verbs a trading strategy needs and nothing else.
package handle

import "github.com/depegsim/depegsim/pkg/sim/wallet"

// TradeRecord is a structured log entry an agent emits for one trade.
// ID is assigned by the engine when the record is logged, so strategies
// never construct one themselves.
type TradeRecord struct {
	ID             string
	Block          uint64
	Agent          string
	Token          string
	Volume         float64
	Action         string
	Reason         string
	AdditionalInfo string
}

// Direction names which side of an AMM swap the input amount is on.
type Direction int

const (
	EthForToken Direction = iota
	TokenForEth
)

// Handle is the engine surface an Agent strategy is allowed to see. It
// never exposes engine internals (wallet registries, AMM/PSM/Vault
// pointers) directly — only these verbs, scoped to the calling agent's
// own wallet.
type Handle interface {
	// CurrentBlock returns the block number the engine is currently
	// processing.
	CurrentBlock() uint64

	// NumBlocks returns the configured total length of the run, used by
	// strategies that annualize a per-block yield or price.
	NumBlocks() uint64

	// Wallet returns the handle's own wallet.
	Wallet() *wallet.Wallet

	// Tokens lists every registered token symbol (the LST side of each
	// registered family).
	Tokens() []string

	// SpotPrice returns the current AMM spot price of one unit of
	// symbol in ETH. symbol may be the LST, CT, or DS family member.
	SpotPrice(symbol string) (float64, error)

	// YieldPerBlock returns the token's current per-block yield rate.
	YieldPerBlock(symbol string) (float64, error)

	// EthYieldPerBlock returns the engine-wide ETH yield rate.
	EthYieldPerBlock() float64

	// VaultLPTokenPrice returns the ETH-denominated price of one Vault
	// LP share for the given LST symbol.
	VaultLPTokenPrice(symbol string) (float64, error)

	// AMMLPShareValueEth returns the ETH-denominated value of holder's
	// LP shares in the named pool ("X", "CT_X", or "DS_X").
	AMMLPShareValueEth(symbol string, shares float64) (float64, error)

	// SwapEthForToken swaps dEth of the handle's own ETH for symbol.
	SwapEthForToken(symbol string, dEth float64) (float64, error)

	// SwapTokenForEth swaps dTok of symbol for ETH.
	SwapTokenForEth(symbol string, dTok float64) (float64, error)

	// AddLiquidity provides liquidity to symbol's AMM pool.
	AddLiquidity(symbol string, dEth, dTok float64) (shares float64, err error)

	// RemoveLiquidity withdraws shares from symbol's AMM pool.
	RemoveLiquidity(symbol string, shares float64) (eth, tok float64, err error)

	// DepositEthToPSM mints CT+DS 1:1:1 from dEth via the PSM.
	DepositEthToPSM(symbol string, dEth float64) error

	// PSMFees returns the PSM's current redemption and repurchase fee
	// fractions for symbol.
	PSMFees(symbol string) (redemptionFee, repurchaseFee float64, err error)

	// PSMReserves returns the PSM's current ETH and token reserves for
	// symbol.
	PSMReserves(symbol string) (ethReserve, tokenReserve float64, err error)

	// RedeemWithCTAndDS redeems n CT+DS for ETH, pre-expiry only.
	RedeemWithCTAndDS(symbol string, n float64) (float64, error)

	// RedeemWithLSTAndDS redeems n LST+DS for ETH, pre-expiry only.
	RedeemWithLSTAndDS(symbol string, n float64) (float64, error)

	// RedeemWithCTPostExpiry redeems n CT alone for ETH, post-expiry only.
	RedeemWithCTPostExpiry(symbol string, n float64) (float64, error)

	// RepurchaseLSTAndDS repurchases LST+DS with dEth via the PSM.
	RepurchaseLSTAndDS(symbol string, dEth float64) (float64, error)

	// CalculateBuyDSOutcome dry-runs BuyDS without mutating state.
	CalculateBuyDSOutcome(symbol string, dEth float64) (float64, error)

	// CalculateSellDSOutcome dry-runs SellDS without mutating state.
	CalculateSellDSOutcome(symbol string, dDs float64) (float64, error)

	// BuyDS runs the Vault's flash-loan DS purchase routine.
	BuyDS(symbol string, dEth float64) (float64, error)

	// SellDS runs the Vault's flash-loan DS sale routine.
	SellDS(symbol string, dDs float64) (float64, error)

	// VaultDepositEth provides LP liquidity to the Vault.
	VaultDepositEth(symbol string, dEth float64) (shares float64, err error)

	// VaultWithdrawLP withdraws LP shares from the Vault.
	VaultWithdrawLP(symbol string, shares float64) (eth float64, err error)

	// FaceValueETH returns the ETH-denominated mark of the handle's
	// entire wallet: raw ETH, every token balance at spot, every AMM LP
	// position's underlying share, and every Vault LP position's
	// underlying share.
	FaceValueETH() (float64, error)

	// LogAction records a free-form per-block action note.
	LogAction(agent, action, reason string)

	// LogTrade records a structured trade.
	LogTrade(rec TradeRecord)
}

// Agent is the contract the engine requires of a trading strategy.
type Agent interface {
	// Name identifies the agent in logs and stats rows.
	Name() string

	// Wallet returns the agent's own wallet.
	Wallet() *wallet.Wallet

	// OnAfterGenesis runs once, after the agent's wallet has been
	// seeded and before block 1, with h bound to the agent's wallet.
	OnAfterGenesis(h Handle) error

	// OnBlockMined runs once per block, after the EventManager has
	// applied that block's events. Reference strategies catch their own
	// expected domain errors (InsufficientLiquidity, BadAmount); any
	// error returned here is fatal for the run.
	OnBlockMined(h Handle, block uint64) error

	// Clone returns a deep copy of the agent's internal strategy state
	// (thresholds, running totals, anything it tracks beyond the
	// wallet), used by the engine's Monte Carlo fan-out. The clone's
	// wallet field is left pointing at the original wallet; the caller
	// must call Bind with the replicate's own cloned wallet before use.
	Clone() Agent

	// Bind rewrites the agent's wallet reference. Used only by the
	// engine's Monte Carlo clone path to attach a cloned agent to its
	// replicate's own cloned wallet.
	Bind(w *wallet.Wallet)
}
