package state

import (
	"errors"
	"fmt"

	"terrarium.ai/internal/sim/agent"
	"terrarium.ai/internal/sim/world"
)

// ErrInvariant marks a world invariant violation. It is fatal for a run.
var ErrInvariant = errors.New("world invariant violated")

// State is the complete simulation state for one epoch. The scheduler owns it
// and hands it explicitly to each phase.
type State struct {
	Epoch  uint64
	Grid   *world.Grid
	Agents *agent.Store
}

// New assembles a state and rebuilds cell occupancy from agent positions.
func New(epoch uint64, g *world.Grid, agents []*agent.Agent) (*State, error) {
	store, err := agent.NewStore(agents...)
	if err != nil {
		return nil, err
	}
	for i := range g.Cells {
		g.Cells[i].Occupants = nil
	}
	for _, a := range store.Living() {
		if !g.InBounds(a.Pos) {
			return nil, fmt.Errorf("agent %s at %s: %w", a.ID, a.Pos, ErrInvariant)
		}
		g.AddOccupant(a.Pos, a.ID)
	}
	s := &State{Epoch: epoch, Grid: g, Agents: store}
	if err := s.CheckInvariants(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *State) Clone() *State {
	return &State{Epoch: s.Epoch, Grid: s.Grid.Clone(), Agents: s.Agents.Clone()}
}

// TotalFood is the food on the grid plus the food held by every agent.
func (s *State) TotalFood() int {
	n := s.Grid.TotalFood()
	for _, a := range s.Agents.All() {
		n += a.Food
	}
	return n
}

// TickParams are the fixed physics applied at the start of every epoch.
type TickParams struct {
	RegenFraction    float64
	HungerStep       float64
	EnergyDecay      float64
	StarvationDamage float64
}

// Tick returns the next epoch's pre-deliberation state. The receiver is not
// modified.
func (s *State) Tick(p TickParams) *State {
	next := s.Clone()
	next.Epoch = s.Epoch + 1
	next.Grid.Regenerate(p.RegenFraction)
	for _, a := range next.Agents.Living() {
		a.Hunger = agent.Clamp01(a.Hunger + p.HungerStep)
		a.Energy = agent.Clamp01(a.Energy - p.EnergyDecay)
		if a.Hunger >= 1 {
			a.Health = agent.Clamp01(a.Health - p.StarvationDamage)
		}
	}
	return next
}

// CheckInvariants verifies grid bounds, cell food, occupancy, and agent attribute
// ranges. Any failure wraps ErrInvariant.
func (s *State) CheckInvariants() error {
	if err := s.Grid.Check(); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvariant)
	}
	seen := 0
	for _, a := range s.Agents.All() {
		if !s.Grid.InBounds(a.Pos) {
			return fmt.Errorf("agent %s position %s out of bounds: %w", a.ID, a.Pos, ErrInvariant)
		}
		for name, v := range map[string]float64{"health": a.Health, "hunger": a.Hunger, "energy": a.Energy, "strength": a.Strength} {
			if v < 0 || v > 1 || v != v {
				return fmt.Errorf("agent %s %s=%v outside [0,1]: %w", a.ID, name, v, ErrInvariant)
			}
		}
		if a.Food < 0 {
			return fmt.Errorf("agent %s food=%d: %w", a.ID, a.Food, ErrInvariant)
		}
		if a.Alive {
			if !contains(s.Grid.At(a.Pos).Occupants, a.ID) {
				return fmt.Errorf("agent %s missing from cell %s: %w", a.ID, a.Pos, ErrInvariant)
			}
			seen++
		}
	}
	total := 0
	for i, c := range s.Grid.Cells {
		total += len(c.Occupants)
		for _, id := range c.Occupants {
			a, ok := s.Agents.Get(id)
			if !ok || !a.Alive || a.Pos != s.Grid.PosOf(i) {
				return fmt.Errorf("cell %s lists stale occupant %s: %w", s.Grid.PosOf(i), id, ErrInvariant)
			}
		}
	}
	if total != seen {
		return fmt.Errorf("occupancy %d != living %d: %w", total, seen, ErrInvariant)
	}
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
