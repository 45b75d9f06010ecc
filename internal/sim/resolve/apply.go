package resolve

import (
	"fmt"

	"terrarium.ai/internal/sim/agent"
	"terrarium.ai/internal/sim/event"
	"terrarium.ai/internal/sim/state"
)

// Apply performs the state change recorded by e. The resolver produces the
// next state through Apply and replay reuses it, so both paths stay identical.
func Apply(s *state.State, e event.Event, p Params) error {
	switch e.Kind {
	case event.EpochStart, event.EpochEnd, event.ActionFailed, event.Spoke:
		return nil
	}
	a, err := living(s, e.Agent)
	if err != nil {
		return fmt.Errorf("apply %s: %w", e.Kind, err)
	}

	switch e.Kind {
	case event.Moved:
		if e.Payload.To == nil || !s.Grid.InBounds(*e.Payload.To) {
			return fmt.Errorf("apply Moved %s: bad destination: %w", e.Agent, state.ErrInvariant)
		}
		s.Grid.RemoveOccupant(a.Pos, a.ID)
		a.Pos = *e.Payload.To
		s.Grid.AddOccupant(a.Pos, a.ID)
		a.Energy = agent.Clamp01(a.Energy - p.MoveEnergy)

	case event.Gathered:
		c := s.Grid.At(a.Pos)
		if c == nil || e.Payload.Amount <= 0 || c.Food < e.Payload.Amount {
			return fmt.Errorf("apply Gathered %s amount %d: %w", e.Agent, e.Payload.Amount, state.ErrInvariant)
		}
		c.Food -= e.Payload.Amount
		a.Food += e.Payload.Amount
		a.Energy = agent.Clamp01(a.Energy - p.GatherEnergy)

	case event.Ate:
		n := e.Payload.Amount
		if n <= 0 {
			n = 1
		}
		if a.Food < n {
			return fmt.Errorf("apply Ate %s: inventory %d: %w", e.Agent, a.Food, state.ErrInvariant)
		}
		a.Food -= n
		a.Hunger = agent.Clamp01(a.Hunger - p.EatRelief*float64(n))

	case event.Rested:
		a.Energy = agent.Clamp01(a.Energy + p.RestEnergy)
		if a.Hunger < p.WellFedHunger {
			a.Health = agent.Clamp01(a.Health + p.RestHeal)
		}

	case event.Gave:
		to, ok := s.Agents.Get(e.Target)
		if !ok {
			return fmt.Errorf("apply Gave: unknown target %s: %w", e.Target, state.ErrInvariant)
		}
		if e.Payload.Amount <= 0 || a.Food < e.Payload.Amount {
			return fmt.Errorf("apply Gave %s amount %d inventory %d: %w", e.Agent, e.Payload.Amount, a.Food, state.ErrInvariant)
		}
		a.Food -= e.Payload.Amount
		to.Food += e.Payload.Amount

	case event.Attacked:
		to, ok := s.Agents.Get(e.Target)
		if !ok {
			return fmt.Errorf("apply Attacked: unknown target %s: %w", e.Target, state.ErrInvariant)
		}
		to.Health = agent.Clamp01(to.Health - e.Payload.Damage)
		a.Energy = agent.Clamp01(a.Energy - p.AttackEnergy)

	case event.Died:
		a.Alive = false
		a.Health = 0
		a.DiedEpoch = e.Epoch
		a.DeathCause = e.Payload.Cause
		s.Grid.RemoveOccupant(a.Pos, a.ID)

	default:
		return fmt.Errorf("apply: unknown event kind %q", e.Kind)
	}
	return nil
}

func living(s *state.State, id string) (*agent.Agent, error) {
	a, ok := s.Agents.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown agent %q: %w", id, state.ErrInvariant)
	}
	if !a.Alive {
		return nil, fmt.Errorf("agent %s is dead: %w", id, state.ErrInvariant)
	}
	return a, nil
}
