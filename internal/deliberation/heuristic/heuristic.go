// Package heuristic is an offline decision backend. Its choices are a pure
// function of the seed, the epoch, the agent, and the request contents.
package heuristic

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"

	"terrarium.ai/internal/deliberation"
	"terrarium.ai/internal/sim/world"
)

type Decider struct {
	seed int64
}

func New(seed int64) *Decider { return &Decider{seed: seed} }

func (d *Decider) rng(req deliberation.Request) *rand.Rand {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d/%d/%s", d.seed, req.Epoch, req.Agent)
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

// Decide replies in the same "ACTION:" form a model is asked for, so the
// reply goes through the normal parser.
func (d *Decider) Decide(ctx context.Context, req deliberation.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rng := d.rng(req)
	v := req.Vitals
	traits := req.Identity.Traits
	here, _ := req.Working.Here()

	switch {
	case v.Hunger > 0.6 && v.Food > 0:
		return "ACTION: EAT", nil
	case v.Energy < 0.2:
		return "ACTION: REST", nil
	case v.Food < 3 && here.Food > 0:
		return "ACTION: GATHER", nil
	case v.Food < 3:
		if dir, ok := bestFood(req); ok {
			return "ACTION: MOVE " + dir, nil
		}
	}

	neighbors := req.Working.Neighbors
	if len(neighbors) > 0 {
		target := req.NameOf(neighbors[rng.Intn(len(neighbors))])
		if traits.Agreeableness > 0.7 && v.Food > 5 {
			return fmt.Sprintf("ACTION: GIVE %s 1", target), nil
		}
		if traits.Extraversion > 0.5 && rng.Float64() < 0.3 {
			return fmt.Sprintf("ACTION: SPEAK %s %s", target, greetings[rng.Intn(len(greetings))]), nil
		}
		if traits.Agreeableness < 0.2 && v.Hunger > 0.8 && rng.Float64() < 0.2 {
			return "ACTION: ATTACK " + target, nil
		}
	}

	switch n := rng.Intn(10); {
	case n <= 4:
		moves := req.Working.Moves()
		if len(moves) == 0 {
			return "ACTION: WAIT", nil
		}
		return "ACTION: MOVE " + moves[rng.Intn(len(moves))].String(), nil
	case n <= 6:
		return "ACTION: GATHER", nil
	case n == 7:
		return "ACTION: REST", nil
	default:
		return "ACTION: WAIT", nil
	}
}

var greetings = []string{
	"hello, how are you holding up?",
	"there is food nearby if you look",
	"let us work together",
	"stay safe out here",
}

// bestFood picks the direction of the visible neighbour cell with the most
// food; ties resolve to the first direction in compass order.
func bestFood(req deliberation.Request) (string, bool) {
	best, bestFood := "", 0
	for _, d := range world.Directions {
		for _, c := range req.Working.Cells {
			if c.Dir == d.String() && c.Food > bestFood {
				best, bestFood = c.Dir, c.Food
			}
		}
	}
	return best, best != ""
}
