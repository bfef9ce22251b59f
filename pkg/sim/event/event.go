// Package event implements the time-ordered schedule of protocol
// perturbations — depegs, repegs, yield adjustments, and direct
// liquidity/price shocks — that the engine applies at the start of each
// block before agents trade.
package event

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/depegsim/depegsim/pkg/sim/amm"
	"github.com/depegsim/depegsim/pkg/sim/simerrors"
	"github.com/depegsim/depegsim/pkg/sim/wallet"
)

// Kind enumerates the event types the manager understands, replacing
// dispatch on a string field.
type Kind int

const (
	Depeg Kind = iota
	Repeg
	YieldAdjust
	EthYieldAdjust
	SetPrice
	InjectLiquidity
)

// UnmarshalJSON accepts the wire names used by the event file schema.
func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "depeg":
		*k = Depeg
	case "repeg":
		*k = Repeg
	case "yield_adjustment":
		*k = YieldAdjust
	case "eth_yield_adjustment":
		*k = EthYieldAdjust
	case "set_price":
		*k = SetPrice
	case "inject_liquidity":
		*k = InjectLiquidity
	default:
		return fmt.Errorf("event: unknown type %q", s)
	}
	return nil
}

func (k Kind) String() string {
	switch k {
	case Depeg:
		return "depeg"
	case Repeg:
		return "repeg"
	case YieldAdjust:
		return "yield_adjustment"
	case EthYieldAdjust:
		return "eth_yield_adjustment"
	case SetPrice:
		return "set_price"
	case InjectLiquidity:
		return "inject_liquidity"
	default:
		return "unknown"
	}
}

// Event is one scheduled perturbation.
type Event struct {
	Block      uint64  `json:"block"`
	Kind       Kind    `json:"type"`
	Token      string  `json:"token"`
	Percentage float64 `json:"percentage"`
	seq        int     // insertion order, used to break block ties
}

// wireEvent mirrors the external JSON schedule file format for decoding.
type wireEvent struct {
	Block      uint64  `json:"block"`
	Type       Kind    `json:"type"`
	Token      string  `json:"token"`
	Percentage float64 `json:"percentage"`
}

// EngineView is the slice of Engine the event manager needs: the AMM
// pools for a symbol and its per-token yield state. Defined here so
// event never imports engine; *engine.Engine satisfies this
// structurally.
type EngineView interface {
	AMMPool(symbol string) (*amm.Pool, error)
	SetYieldPerBlock(symbol string, y float64) error
	SetEthYieldPerBlock(y float64)
	InternalWallet() *wallet.Wallet
	CurrentBlock() uint64
}

// Manager holds the time-ordered event schedule.
type Manager struct {
	events []Event
}

// NewManager constructs an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// LoadJSON decodes an event file and appends its entries to the
// schedule, preserving decode order for same-block tie-breaking.
func (m *Manager) LoadJSON(data []byte) error {
	var wire []wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("event: decode event file: %w", err)
	}
	for _, we := range wire {
		m.Add(Event{
			Block:      we.Block,
			Kind:       we.Type,
			Token:      we.Token,
			Percentage: we.Percentage,
		})
	}
	return nil
}

// Add appends one event to the schedule.
func (m *Manager) Add(e Event) {
	e.seq = len(m.events)
	m.events = append(m.events, e)
}

// Clone copies the event schedule for Monte Carlo replicate isolation.
// The schedule is fixed at load time and never mutated by Apply, so this
// is a shallow slice copy rather than a per-event deep copy.
func (m *Manager) Clone() *Manager {
	c := &Manager{events: make([]Event, len(m.events))}
	copy(c.events, m.events)
	return c
}

// Events returns the schedule ordered by block, then insertion order.
func (m *Manager) Events() []Event {
	out := make([]Event, len(m.events))
	copy(out, m.events)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Block < out[j].Block })
	return out
}

// Apply runs every event scheduled for block b, in schedule order.
func (m *Manager) Apply(b uint64, eng EngineView) error {
	for _, e := range m.Events() {
		if e.Block != b {
			continue
		}
		if err := m.applyOne(e, eng); err != nil {
			return fmt.Errorf("event: block %d %s on %s: %w", e.Block, e.Kind, e.Token, err)
		}
	}
	return nil
}

func (m *Manager) applyOne(e Event, eng EngineView) error {
	switch e.Kind {
	case Depeg:
		pool, err := eng.AMMPool(e.Token)
		if err != nil {
			return err
		}
		spot := pool.PriceOfOneTokenInETH()
		return m.retarget(e.Token, spot*(1-e.Percentage), eng)
	case Repeg:
		return m.retarget(e.Token, 1.0, eng)
	case SetPrice, InjectLiquidity:
		pool, err := eng.AMMPool(e.Token)
		if err != nil {
			return err
		}
		pool.DirectMutate(e.Percentage, 0)
		return nil
	case YieldAdjust:
		return eng.SetYieldPerBlock(e.Token, e.Percentage)
	case EthYieldAdjust:
		eng.SetEthYieldPerBlock(e.Percentage)
		return nil
	default:
		return fmt.Errorf("%w: event kind %d", simerrors.ErrBadAmount, e.Kind)
	}
}

// retarget moves pool's reserves so the spot price becomes targetPrice,
// solving for the constant-product reserves x'=sqrt(k*p*), y'=sqrt(k/p*)
// and executing the implied swap through the normal swap path (using
// the manager's own pre-funded wallet) so fee accounting and reserves
// update identically to an agent-initiated trade. The swap input is
// grossed up for the pool's fee, so that with the fee retained in the
// reserves a constant-product pool's spot price lands on targetPrice.
func (m *Manager) retarget(symbol string, targetPrice float64, eng EngineView) error {
	pool, err := eng.AMMPool(symbol)
	if err != nil {
		return err
	}
	if targetPrice <= 0 {
		return fmt.Errorf("%w: retarget price %g", simerrors.ErrBadAmount, targetPrice)
	}

	rEth, rTok, _ := pool.Reserves()
	k := rEth * rTok
	if k <= 0 {
		return fmt.Errorf("%w: pool %s has zero liquidity", simerrors.ErrEmptyPool, symbol)
	}

	newEth := math.Sqrt(k * targetPrice)
	newTok := math.Sqrt(k / targetPrice)

	w := eng.InternalWallet()
	block := eng.CurrentBlock()

	// grossIn solves (r+d)(r+g*d) = target^2 for the input d on the side
	// holding reserve r, where g = 1-fee is the share of d the swap formula
	// prices while the whole of d stays in the reserve.
	g := 1 - pool.FeeBps
	grossIn := func(r, target float64) float64 {
		b := r * (1 + g)
		return (-b + math.Sqrt(b*b+4*g*(target*target-r*r))) / (2 * g)
	}

	switch {
	case newEth > rEth:
		dEth := grossIn(rEth, newEth)
		if err := w.DepositEth(dEth); err != nil {
			return err
		}
		if _, err := pool.SwapEthForToken(w, dEth, block); err != nil {
			return err
		}
	case newTok > rTok:
		dTok := grossIn(rTok, newTok)
		if err := w.DepositToken(symbol, dTok); err != nil {
			return err
		}
		if _, err := pool.SwapTokenForEth(w, dTok, block); err != nil {
			return err
		}
	}
	return nil
}
