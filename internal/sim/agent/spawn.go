package agent

import (
	"fmt"
	"math/rand"
	"strings"

	"terrarium.ai/internal/sim/world"
)

var Values = []string{"survival", "relationships", "status", "freedom", "knowledge", "comfort"}

var valueText = map[string]string{
	"survival":      "staying alive",
	"relationships": "connections with others",
	"status":        "being respected and admired",
	"freedom":       "independence and autonomy",
	"knowledge":     "understanding the world",
	"comfort":       "safety and ease",
}

var Aspirations = []string{
	"to be respected by others",
	"to protect those around me",
	"to accumulate resources and security",
	"to explore and understand the world",
	"to live a peaceful, quiet life",
	"to become powerful and influential",
}

var names = []string{
	"Ada", "Bram", "Cleo", "Dara", "Emil", "Fenna", "Goran", "Hale", "Ines", "Jory",
	"Kaia", "Lior", "Mira", "Nils", "Orla", "Pax", "Quin", "Rhea", "Soren", "Tova",
	"Ulla", "Vero", "Wren", "Xan", "Yara", "Zev",
}

// Template describes one agent explicitly; zero fields are filled from the seed.
type Template struct {
	Name       string
	Aspiration string
	Values     []string
	Traits     *Traits
	Strength   float64
	Pos        *world.Pos
}

type SpawnConfig struct {
	Count        int
	StartingFood int
	Seed         int64
	Roster       []Template
}

// Spawn creates agents A1..An deterministically from cfg.Seed and places them
// on the grid. Roster entries take the first ids.
func Spawn(g *world.Grid, cfg SpawnConfig) ([]*Agent, error) {
	n := cfg.Count
	if len(cfg.Roster) > n {
		n = len(cfg.Roster)
	}
	if n <= 0 {
		return nil, fmt.Errorf("agent: no agents to spawn")
	}
	if cfg.StartingFood < 0 {
		return nil, fmt.Errorf("agent: negative starting food")
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	used := map[string]bool{}
	out := make([]*Agent, 0, n)
	for i := 0; i < n; i++ {
		var sp Template
		if i < len(cfg.Roster) {
			sp = cfg.Roster[i]
		}
		a := &Agent{
			ID:      fmt.Sprintf("A%d", i+1),
			Name:    sp.Name,
			Beliefs: NewBeliefs(),
			Health:  1,
			Energy:  1,
			Food:    cfg.StartingFood,
			Alive:   true,
		}
		if a.Name == "" {
			a.Name = pickName(i, used)
		}
		used[strings.ToLower(a.Name)] = true

		traits := Traits{
			Openness:          rng.Float64(),
			Conscientiousness: rng.Float64(),
			Extraversion:      rng.Float64(),
			Agreeableness:     rng.Float64(),
			Neuroticism:       rng.Float64(),
		}
		if sp.Traits != nil {
			traits = *sp.Traits
		}
		a.Identity = Identity{Traits: traits, Values: sp.Values, Aspiration: sp.Aspiration}
		if len(a.Identity.Values) == 0 {
			a.Identity.Values = randomValues(rng)
		}
		if a.Identity.Aspiration == "" {
			a.Identity.Aspiration = Aspirations[rng.Intn(len(Aspirations))]
		}
		a.Strength = sp.Strength
		if a.Strength <= 0 {
			a.Strength = 0.5 + 0.3*rng.Float64()
		}
		a.Strength = Clamp01(a.Strength)

		if sp.Pos != nil {
			if !g.InBounds(*sp.Pos) {
				return nil, fmt.Errorf("agent %s: position %s out of bounds", a.ID, *sp.Pos)
			}
			a.Pos = *sp.Pos
		} else {
			a.Pos = world.Pos{X: rng.Intn(g.Width), Y: rng.Intn(g.Height)}
		}
		g.AddOccupant(a.Pos, a.ID)
		out = append(out, a)
	}
	return out, nil
}

func pickName(i int, used map[string]bool) string {
	for k := 0; k < len(names); k++ {
		n := names[(i+k)%len(names)]
		if round := (i + k) / len(names); round > 0 {
			n = fmt.Sprintf("%s %d", n, round+1)
		}
		if !used[strings.ToLower(n)] {
			return n
		}
	}
	return fmt.Sprintf("Agent %d", i+1)
}

func randomValues(rng *rand.Rand) []string {
	perm := rng.Perm(len(Values))
	count := 2 + rng.Intn(2)
	out := make([]string, 0, count+1)
	for _, i := range perm[:count] {
		out = append(out, Values[i])
	}
	hasSurvival := false
	for _, v := range out {
		if v == "survival" {
			hasSurvival = true
		}
	}
	if !hasSurvival && rng.Float64() < 0.7 {
		out = append([]string{"survival"}, out[:len(out)-1]...)
	}
	return out
}

// Describe renders the identity in second person for prompting.
func (id Identity) Describe(name string) string {
	vals := make([]string, 0, len(id.Values))
	for _, v := range id.Values {
		if t, ok := valueText[v]; ok {
			vals = append(vals, t)
		} else {
			vals = append(vals, v)
		}
	}
	return fmt.Sprintf("You are %s.\nPersonality: You are %s.\nValues: You care most about %s.\nAspiration: Your life goal is %s.",
		name, id.Traits.Describe(), strings.Join(vals, ", "), id.Aspiration)
}

func (t Traits) Describe() string {
	var parts []string
	pick := func(v float64, hi, lo string) {
		if v > 0.7 {
			parts = append(parts, hi)
		} else if v < 0.3 {
			parts = append(parts, lo)
		}
	}
	pick(t.Openness, "curious and creative", "practical and conventional")
	pick(t.Conscientiousness, "organized and disciplined", "spontaneous and flexible")
	pick(t.Extraversion, "outgoing and energetic", "reserved and solitary")
	pick(t.Agreeableness, "cooperative and trusting", "competitive and skeptical")
	pick(t.Neuroticism, "anxious and sensitive", "calm and emotionally stable")
	if len(parts) == 0 {
		return "balanced in temperament"
	}
	return strings.Join(parts, ", ")
}
