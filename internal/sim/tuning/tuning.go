package tuning

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"terrarium.ai/internal/sim/beliefs"
	"terrarium.ai/internal/sim/perception"
	"terrarium.ai/internal/sim/resolve"
	"terrarium.ai/internal/sim/state"
)

// Tuning holds the fixed physics and engine cadence of a run. It is stored in
// every snapshot so a resumed or replayed run uses the same values.
type Tuning struct {
	Physics     Physics     `yaml:"physics"`
	Actions     Actions     `yaml:"actions"`
	Beliefs     Beliefs     `yaml:"beliefs"`
	Persistence Persistence `yaml:"persistence"`
	Engine      Engine      `yaml:"engine"`
	Environment Environment `yaml:"environment"`
}

type Physics struct {
	RegenFraction    float64 `yaml:"regen_fraction"`
	HungerStep       float64 `yaml:"hunger_step"`
	EnergyDecay      float64 `yaml:"energy_decay"`
	StarvationDamage float64 `yaml:"starvation_damage"`
}

type Actions struct {
	GatherCap     int     `yaml:"gather_cap"`
	GatherSplit   string  `yaml:"gather_split"`
	MoveEnergy    float64 `yaml:"move_energy"`
	GatherEnergy  float64 `yaml:"gather_energy"`
	AttackEnergy  float64 `yaml:"attack_energy"`
	AttackDamage  float64 `yaml:"attack_damage"`
	EatRelief     float64 `yaml:"eat_relief"`
	RestEnergy    float64 `yaml:"rest_energy"`
	RestHeal      float64 `yaml:"rest_heal"`
	WellFedHunger float64 `yaml:"well_fed_hunger"`
	MaxGive       int     `yaml:"max_give"`
}

type Beliefs struct {
	RecentEvents     int     `yaml:"recent_events"`
	ConsolidateEvery int     `yaml:"consolidate_every"`
	MaxEpisodes      int     `yaml:"max_episodes"`
	Rate             float64 `yaml:"belief_rate"`
}

type Persistence struct {
	SnapshotEvery    int `yaml:"snapshot_every"`
	EpochsPerLogFile int `yaml:"epochs_per_log_file"`
}

type Engine struct {
	DeliberationTimeoutMs int     `yaml:"deliberation_timeout_ms"`
	EpochsPerSecond       float64 `yaml:"epochs_per_second"`
}

func Defaults() Tuning {
	return Tuning{
		Physics: Physics{
			RegenFraction:    0.1,
			HungerStep:       0.05,
			EnergyDecay:      0.01,
			StarvationDamage: 0.1,
		},
		Actions: Actions{
			GatherCap:     5,
			GatherSplit:   string(resolve.SplitEqual),
			MoveEnergy:    0.05,
			GatherEnergy:  0.1,
			AttackEnergy:  0.1,
			AttackDamage:  0.3,
			EatRelief:     0.3,
			RestEnergy:    0.3,
			RestHeal:      0.05,
			WellFedHunger: 0.5,
			MaxGive:       100,
		},
		Beliefs: Beliefs{
			RecentEvents:     5,
			ConsolidateEvery: 5,
			MaxEpisodes:      10,
			Rate:             0.5,
		},
		Persistence: Persistence{
			SnapshotEvery:    10,
			EpochsPerLogFile: 1000,
		},
		Engine: Engine{
			DeliberationTimeoutMs: 10000,
			EpochsPerSecond:       1,
		},
	}
}

// Load reads path over Defaults; keys absent from the file keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

var ErrInvalid = errors.New("invalid tuning")

func (t Tuning) Validate() error {
	unit := []struct {
		name string
		v    float64
	}{
		{"regen_fraction", t.Physics.RegenFraction},
		{"hunger_step", t.Physics.HungerStep},
		{"energy_decay", t.Physics.EnergyDecay},
		{"starvation_damage", t.Physics.StarvationDamage},
		{"move_energy", t.Actions.MoveEnergy},
		{"gather_energy", t.Actions.GatherEnergy},
		{"attack_energy", t.Actions.AttackEnergy},
		{"attack_damage", t.Actions.AttackDamage},
		{"eat_relief", t.Actions.EatRelief},
		{"rest_energy", t.Actions.RestEnergy},
		{"rest_heal", t.Actions.RestHeal},
		{"well_fed_hunger", t.Actions.WellFedHunger},
		{"belief_rate", t.Beliefs.Rate},
	}
	for _, u := range unit {
		if u.v < 0 || u.v > 1 {
			return fmt.Errorf("%w: %s=%v outside [0,1]", ErrInvalid, u.name, u.v)
		}
	}
	switch resolve.SplitMode(t.Actions.GatherSplit) {
	case resolve.SplitEqual, resolve.SplitStrength:
	default:
		return fmt.Errorf("%w: gather_split=%q", ErrInvalid, t.Actions.GatherSplit)
	}
	positive := []struct {
		name string
		v    int
	}{
		{"gather_cap", t.Actions.GatherCap},
		{"max_give", t.Actions.MaxGive},
		{"recent_events", t.Beliefs.RecentEvents},
		{"consolidate_every", t.Beliefs.ConsolidateEvery},
		{"max_episodes", t.Beliefs.MaxEpisodes},
		{"snapshot_every", t.Persistence.SnapshotEvery},
		{"epochs_per_log_file", t.Persistence.EpochsPerLogFile},
		{"deliberation_timeout_ms", t.Engine.DeliberationTimeoutMs},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%w: %s=%d must be positive", ErrInvalid, p.name, p.v)
		}
	}
	if t.Engine.EpochsPerSecond <= 0 {
		return fmt.Errorf("%w: epochs_per_second=%v must be positive", ErrInvalid, t.Engine.EpochsPerSecond)
	}
	return t.Environment.validate()
}

func (t Tuning) TickParams() state.TickParams {
	return state.TickParams{
		RegenFraction:    t.Physics.RegenFraction,
		HungerStep:       t.Physics.HungerStep,
		EnergyDecay:      t.Physics.EnergyDecay,
		StarvationDamage: t.Physics.StarvationDamage,
	}
}

func (t Tuning) ResolveParams() resolve.Params {
	a := t.Actions
	return resolve.Params{
		GatherCap:     a.GatherCap,
		Split:         resolve.SplitMode(a.GatherSplit),
		MoveEnergy:    a.MoveEnergy,
		GatherEnergy:  a.GatherEnergy,
		AttackEnergy:  a.AttackEnergy,
		AttackDamage:  a.AttackDamage,
		EatRelief:     a.EatRelief,
		RestEnergy:    a.RestEnergy,
		RestHeal:      a.RestHeal,
		WellFedHunger: a.WellFedHunger,
	}
}

func (t Tuning) BeliefConfig() beliefs.Config {
	c := beliefs.DefaultConfig()
	c.ConsolidateEvery = t.Beliefs.ConsolidateEvery
	c.MaxEpisodes = t.Beliefs.MaxEpisodes
	c.Rate = t.Beliefs.Rate
	return c
}

func (t Tuning) PerceptionConfig() perception.Config {
	c := perception.DefaultConfig()
	c.Window = t.Beliefs.RecentEvents
	return c
}

func (t Tuning) DeliberationTimeout() time.Duration {
	return time.Duration(t.Engine.DeliberationTimeoutMs) * time.Millisecond
}
