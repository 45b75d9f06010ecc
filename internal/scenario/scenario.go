// Package scenario loads the TOML file that describes one run: the world to
// generate, who lives in it, how long it lasts, and which decider drives it.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"terrarium.ai/internal/sim/agent"
	"terrarium.ai/internal/sim/state"
	"terrarium.ai/internal/sim/world"
)

type Scenario struct {
	Meta       Meta         `toml:"meta"`
	World      World        `toml:"world"`
	Agents     Agents       `toml:"agents"`
	Roster     []AgentEntry `toml:"agent"`
	Simulation Simulation   `toml:"simulation"`
	LLM        LLM          `toml:"llm"`
}

type Meta struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

type World struct {
	Width           int     `toml:"width"`
	Height          int     `toml:"height"`
	FertileFraction float64 `toml:"fertile_fraction"`
	InitialFood     int     `toml:"initial_food"`
	Capacity        int     `toml:"capacity"`
}

type Agents struct {
	Count        int `toml:"count"`
	StartingFood int `toml:"starting_food"`
}

// AgentEntry pins parts of one agent; anything left empty is drawn from the seed.
type AgentEntry struct {
	Name       string   `toml:"name"`
	Aspiration string   `toml:"aspiration"`
	Values     []string `toml:"values"`
	Strength   float64  `toml:"strength"`
	X          *int     `toml:"x"`
	Y          *int     `toml:"y"`

	Openness          *float64 `toml:"openness"`
	Conscientiousness *float64 `toml:"conscientiousness"`
	Extraversion      *float64 `toml:"extraversion"`
	Agreeableness     *float64 `toml:"agreeableness"`
	Neuroticism       *float64 `toml:"neuroticism"`
}

type Simulation struct {
	Seed      int64 `toml:"seed"`
	MaxEpochs int   `toml:"max_epochs"`
}

type LLM struct {
	Provider  string  `toml:"provider"`
	Model     string  `toml:"model"`
	APIKeyEnv string  `toml:"api_key_env"`
	BaseURL   string  `toml:"base_url"`
	MaxTokens int     `toml:"max_tokens"`
	Temp      float64 `toml:"temperature"`
}

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderHeuristic = "heuristic"
)

func Defaults() Scenario {
	return Scenario{
		Meta:       Meta{Name: "terrarium"},
		World:      World{Width: 10, Height: 10, FertileFraction: 0.3, InitialFood: 10, Capacity: 20},
		Agents:     Agents{Count: 6, StartingFood: 3},
		Simulation: Simulation{Seed: 1337, MaxEpochs: 100},
		LLM:        LLM{Provider: ProviderHeuristic, MaxTokens: 500, Temp: 0.7},
	}
}

var ErrInvalid = errors.New("invalid scenario")

// Load decodes path over Defaults.
func Load(path string) (Scenario, error) {
	sc := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return sc, fmt.Errorf("read scenario %s: %w", path, err)
	}
	md, err := toml.Decode(string(raw), &sc)
	if err != nil {
		return sc, fmt.Errorf("decode scenario: %w", err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return sc, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}
	if err := sc.Validate(); err != nil {
		return sc, err
	}
	return sc, nil
}

func (sc Scenario) Validate() error {
	w := sc.World
	if w.Width <= 0 || w.Height <= 0 {
		return fmt.Errorf("%w: world %dx%d", ErrInvalid, w.Width, w.Height)
	}
	if w.FertileFraction < 0 || w.FertileFraction > 1 {
		return fmt.Errorf("%w: fertile_fraction=%v", ErrInvalid, w.FertileFraction)
	}
	if w.Capacity < 0 || w.InitialFood < 0 {
		return fmt.Errorf("%w: negative food or capacity", ErrInvalid)
	}
	if sc.Agents.Count <= 0 && len(sc.Roster) == 0 {
		return fmt.Errorf("%w: no agents", ErrInvalid)
	}
	if sc.Agents.StartingFood < 0 {
		return fmt.Errorf("%w: starting_food=%d", ErrInvalid, sc.Agents.StartingFood)
	}
	if sc.Simulation.MaxEpochs < 0 {
		return fmt.Errorf("%w: max_epochs=%d", ErrInvalid, sc.Simulation.MaxEpochs)
	}
	switch sc.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderHeuristic:
	default:
		return fmt.Errorf("%w: llm provider %q", ErrInvalid, sc.LLM.Provider)
	}
	for i, e := range sc.Roster {
		if (e.X == nil) != (e.Y == nil) {
			return fmt.Errorf("%w: agent %d sets only one of x/y", ErrInvalid, i)
		}
		if e.Strength < 0 || e.Strength > 1 {
			return fmt.Errorf("%w: agent %d strength=%v", ErrInvalid, i, e.Strength)
		}
	}
	return nil
}

// APIKey reads the provider key from the configured environment variable.
func (l LLM) APIKey() string {
	env := l.APIKeyEnv
	if env == "" {
		switch l.Provider {
		case ProviderAnthropic:
			env = "ANTHROPIC_API_KEY"
		case ProviderOpenAI:
			env = "OPENAI_API_KEY"
		default:
			return ""
		}
	}
	return os.Getenv(env)
}

func (sc Scenario) GenConfig() world.GenConfig {
	return world.GenConfig{
		Width:           sc.World.Width,
		Height:          sc.World.Height,
		FertileFraction: sc.World.FertileFraction,
		InitialFood:     sc.World.InitialFood,
		Capacity:        sc.World.Capacity,
		Seed:            sc.Simulation.Seed,
	}
}

func (sc Scenario) SpawnConfig() agent.SpawnConfig {
	count := sc.Agents.Count
	if len(sc.Roster) > count {
		count = len(sc.Roster)
	}
	cfg := agent.SpawnConfig{Count: count, StartingFood: sc.Agents.StartingFood, Seed: sc.Simulation.Seed}
	for _, e := range sc.Roster {
		sp := agent.Template{Name: e.Name, Aspiration: e.Aspiration, Values: e.Values, Strength: e.Strength}
		if e.X != nil && e.Y != nil {
			sp.Pos = &world.Pos{X: *e.X, Y: *e.Y}
		}
		if e.Openness != nil || e.Conscientiousness != nil || e.Extraversion != nil || e.Agreeableness != nil || e.Neuroticism != nil {
			tr := agent.Traits{Openness: 0.5, Conscientiousness: 0.5, Extraversion: 0.5, Agreeableness: 0.5, Neuroticism: 0.5}
			set := func(dst *float64, v *float64) {
				if v != nil {
					*dst = agent.Clamp01(*v)
				}
			}
			set(&tr.Openness, e.Openness)
			set(&tr.Conscientiousness, e.Conscientiousness)
			set(&tr.Extraversion, e.Extraversion)
			set(&tr.Agreeableness, e.Agreeableness)
			set(&tr.Neuroticism, e.Neuroticism)
			sp.Traits = &tr
		}
		cfg.Roster = append(cfg.Roster, sp)
	}
	return cfg
}

// NewState generates the grid and agents for epoch 0.
func (sc Scenario) NewState() (*state.State, error) {
	g, err := world.Generate(sc.GenConfig())
	if err != nil {
		return nil, err
	}
	agents, err := agent.Spawn(g, sc.SpawnConfig())
	if err != nil {
		return nil, err
	}
	return state.New(0, g, agents)
}
