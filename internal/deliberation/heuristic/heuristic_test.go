package heuristic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terrarium.ai/internal/deliberation"
	"terrarium.ai/internal/sim/action"
	"terrarium.ai/internal/sim/agent"
	"terrarium.ai/internal/sim/perception"
	"terrarium.ai/internal/sim/state"
	"terrarium.ai/internal/sim/world"
)

func request(t *testing.T, mutate func(a *agent.Agent, g *world.Grid)) deliberation.Request {
	t.Helper()
	g, err := world.NewGrid(3, 3)
	require.NoError(t, err)
	for i := range g.Cells {
		g.Cells[i] = world.Cell{Terrain: world.Fertile, Capacity: 20}
	}
	a := &agent.Agent{ID: "A1", Name: "Ada", Alive: true, Health: 1, Energy: 1, Pos: world.Pos{X: 1, Y: 1}, Beliefs: agent.NewBeliefs()}
	mutate(a, g)
	s, err := state.New(2, g, []*agent.Agent{a})
	require.NoError(t, err)
	ws := perception.Build(s, a, nil, perception.DefaultConfig())
	return deliberation.NewRequest(s, a, ws, 100)
}

func decide(t *testing.T, req deliberation.Request) action.Action {
	t.Helper()
	text, err := New(7).Decide(context.Background(), req)
	require.NoError(t, err)
	act, f := deliberation.Parse(text, req)
	require.Nil(t, f, "reply %q", text)
	return act
}

func TestDecide_Priorities(t *testing.T) {
	eat := request(t, func(a *agent.Agent, g *world.Grid) { a.Hunger, a.Food = 0.8, 2 })
	assert.Equal(t, action.Eat, decide(t, eat).Kind)

	rest := request(t, func(a *agent.Agent, g *world.Grid) { a.Energy, a.Food = 0.1, 5 })
	assert.Equal(t, action.Rest, decide(t, rest).Kind)

	gather := request(t, func(a *agent.Agent, g *world.Grid) { g.At(world.Pos{X: 1, Y: 1}).Food = 4 })
	assert.Equal(t, action.Gather, decide(t, gather).Kind)

	seek := request(t, func(a *agent.Agent, g *world.Grid) {
		g.At(world.Pos{X: 2, Y: 0}).Food = 9
		g.At(world.Pos{X: 0, Y: 2}).Food = 3
	})
	got := decide(t, seek)
	assert.Equal(t, action.Move, got.Kind)
	assert.Equal(t, world.NorthEast, got.Dir)
}

func TestDecide_Deterministic(t *testing.T) {
	req := request(t, func(a *agent.Agent, g *world.Grid) { a.Food = 4 })
	d := New(11)
	first, err := d.Decide(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := d.Decide(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
