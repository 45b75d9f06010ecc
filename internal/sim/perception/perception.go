// Package perception builds each agent's per-epoch view from the frozen
// post-tick state. It only reads.
package perception

import (
	"sort"

	"terrarium.ai/internal/sim/agent"
	"terrarium.ai/internal/sim/event"
	"terrarium.ai/internal/sim/state"
	"terrarium.ai/internal/sim/world"
)

type Config struct {
	Radius int
	Window int
}

func DefaultConfig() Config { return Config{Radius: 1, Window: 5} }

// Build returns a's working state. history is the recent event stream with
// the newest event last.
func Build(s *state.State, a *agent.Agent, history []event.Event, cfg Config) agent.WorkingState {
	if cfg.Radius <= 0 {
		cfg.Radius = 1
	}
	ws := agent.WorkingState{Epoch: s.Epoch, Self: a.Pos}

	visible := s.Grid.Visible(a.Pos, cfg.Radius)
	for _, p := range visible {
		c := s.Grid.At(p)
		vc := agent.VisibleCell{Pos: p, Terrain: c.Terrain, Food: c.Food}
		if d, ok := world.DirectionTo(a.Pos, p); ok {
			vc.Dir = d.String()
		}
		for _, id := range c.Occupants {
			vc.Occupants = append(vc.Occupants, id)
			if id != a.ID {
				ws.Neighbors = append(ws.Neighbors, id)
			}
		}
		ws.Cells = append(ws.Cells, vc)
	}
	sort.Strings(ws.Neighbors)

	ws.Recent = recent(s, a.ID, visible, history, cfg.Window)
	ws.Goal = Goal(a)
	return ws
}

func recent(s *state.State, id string, visible []world.Pos, history []event.Event, window int) []string {
	if window <= 0 {
		return nil
	}
	picked := make([]event.Event, 0, window)
	for i := len(history) - 1; i >= 0 && len(picked) < window; i-- {
		e := history[i]
		if e.Kind == event.EpochStart || e.Kind == event.EpochEnd {
			continue
		}
		if e.Involves(id) || touchesAny(e, visible) {
			picked = append(picked, e)
		}
	}
	out := make([]string, 0, len(picked))
	for i := len(picked) - 1; i >= 0; i-- {
		out = append(out, event.Describe(picked[i], id, s.Agents.Name))
	}
	return out
}

func touchesAny(e event.Event, visible []world.Pos) bool {
	for _, p := range visible {
		if e.Touches(p) {
			return true
		}
	}
	return false
}

// Goal derives the agent's current goal from its vitals and self beliefs.
func Goal(a *agent.Agent) string {
	switch {
	case a.Hunger >= 0.6 && a.Food > 0:
		return "eat"
	case a.Hunger >= 0.6:
		return "find food"
	case a.Energy <= 0.2:
		return "rest"
	case a.Beliefs.Self.Safety < 0.3:
		return "stay safe"
	default:
		return "pursue aspiration"
	}
}
