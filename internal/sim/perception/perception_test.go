package perception

import (
	"strings"
	"testing"

	"terrarium.ai/internal/sim/agent"
	"terrarium.ai/internal/sim/event"
	"terrarium.ai/internal/sim/state"
	"terrarium.ai/internal/sim/world"
)

func buildState(t *testing.T, agents ...*agent.Agent) *state.State {
	t.Helper()
	g, _ := world.NewGrid(5, 5)
	for _, a := range agents {
		a.Alive = true
		a.Health = 1
		a.Energy = 1
		a.Beliefs = agent.NewBeliefs()
	}
	s, err := state.New(3, g, agents)
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}
	return s
}

func TestBuild_VisibilityAndNeighbors(t *testing.T) {
	s := buildState(t,
		&agent.Agent{ID: "A1", Name: "Ada", Pos: world.Pos{X: 0, Y: 0}},
		&agent.Agent{ID: "A2", Name: "Bram", Pos: world.Pos{X: 1, Y: 1}},
		&agent.Agent{ID: "A3", Name: "Cleo", Pos: world.Pos{X: 0, Y: 0}},
		&agent.Agent{ID: "A4", Name: "Dara", Pos: world.Pos{X: 3, Y: 3}},
	)
	a1, _ := s.Agents.Get("A1")
	ws := Build(s, a1, nil, DefaultConfig())

	if len(ws.Cells) != 4 {
		t.Fatalf("corner cells=%d want 4", len(ws.Cells))
	}
	if got := strings.Join(ws.Neighbors, ","); got != "A2,A3" {
		t.Fatalf("neighbors=%s want A2,A3", got)
	}
	if ws.Sees("A4") {
		t.Fatalf("A4 is two cells away and must not be visible")
	}
	if len(ws.Moves()) != 3 {
		t.Fatalf("corner moves=%v", ws.Moves())
	}

	a2, _ := s.Agents.Get("A2")
	if ws := Build(s, a2, nil, DefaultConfig()); len(ws.Cells) != 9 {
		t.Fatalf("interior cells=%d want 9", len(ws.Cells))
	}
}

func TestBuild_RecentWindow(t *testing.T) {
	s := buildState(t,
		&agent.Agent{ID: "A1", Name: "Ada", Pos: world.Pos{X: 2, Y: 2}},
		&agent.Agent{ID: "A2", Name: "Bram", Pos: world.Pos{X: 2, Y: 2}},
		&agent.Agent{ID: "A3", Name: "Cleo", Pos: world.Pos{X: 4, Y: 4}},
	)
	far := world.Pos{X: 4, Y: 4}
	here := world.Pos{X: 2, Y: 2}
	var history []event.Event
	history = append(history, event.NewEpochStart(1, 3))
	for i := 0; i < 6; i++ {
		history = append(history, event.NewGave(uint64(i+1), "A2", "A1", here, i+1))
	}
	history = append(history, event.NewRested(2, "A3", far))
	history = append(history, event.NewEpochEnd(2, 3, "x"))

	a1, _ := s.Agents.Get("A1")
	ws := Build(s, a1, history, DefaultConfig())
	if len(ws.Recent) != 5 {
		t.Fatalf("recent=%d want 5: %v", len(ws.Recent), ws.Recent)
	}
	if !strings.Contains(ws.Recent[4], "Bram gave you 6 food") {
		t.Fatalf("newest entry should be last: %q", ws.Recent[4])
	}
	for _, r := range ws.Recent {
		if strings.Contains(r, "Cleo") {
			t.Fatalf("event outside view leaked: %q", r)
		}
	}
}

func TestGoal(t *testing.T) {
	a := &agent.Agent{Hunger: 0.7, Food: 2, Energy: 1, Beliefs: agent.NewBeliefs()}
	if g := Goal(a); g != "eat" {
		t.Fatalf("goal=%s", g)
	}
	a.Food = 0
	if g := Goal(a); g != "find food" {
		t.Fatalf("goal=%s", g)
	}
	a.Hunger, a.Energy = 0.1, 0.1
	if g := Goal(a); g != "rest" {
		t.Fatalf("goal=%s", g)
	}
}
