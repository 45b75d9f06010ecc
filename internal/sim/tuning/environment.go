package tuning

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"terrarium.ai/internal/sim/resolve"
	"terrarium.ai/internal/sim/state"
)

// Environment is an optional repeating cycle of phases that scale the fixed
// physics. A zero CycleLength disables it and every epoch uses the base values.
type Environment struct {
	CycleLength int     `yaml:"cycle_length"`
	Phases      []Phase `yaml:"phases"`
}

// Phase covers the cycle positions [Start, End) with End <= 1.
type Phase struct {
	Name  string  `yaml:"name"`
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`

	Regen       float64 `yaml:"regen_modifier"`
	EnergyDrain float64 `yaml:"energy_drain_modifier"`
	MoveCost    float64 `yaml:"move_cost_modifier"`
}

// UnmarshalYAML defaults omitted modifiers to 1.
func (p *Phase) UnmarshalYAML(value *yaml.Node) error {
	type plain Phase
	v := plain{Regen: 1, EnergyDrain: 1, MoveCost: 1}
	if err := value.Decode(&v); err != nil {
		return err
	}
	*p = Phase(v)
	return nil
}

func (e Environment) Enabled() bool { return e.CycleLength > 0 && len(e.Phases) > 0 }

// PhaseAt returns the phase in force at epoch. A cycle position no phase
// covers falls back to the first phase.
func (e Environment) PhaseAt(epoch uint64) (Phase, bool) {
	if !e.Enabled() {
		return Phase{}, false
	}
	n := uint64(e.CycleLength)
	pos := float64(epoch%n) / float64(n)
	for _, p := range e.Phases {
		if pos >= p.Start && pos < p.End {
			return p, true
		}
	}
	return e.Phases[0], true
}

func (e Environment) validate() error {
	if e.CycleLength < 0 {
		return fmt.Errorf("%w: environment.cycle_length=%d is negative", ErrInvalid, e.CycleLength)
	}
	for _, p := range e.Phases {
		if p.Start < 0 || p.End > 1 || p.Start >= p.End {
			return fmt.Errorf("%w: environment phase %q range [%v,%v)", ErrInvalid, p.Name, p.Start, p.End)
		}
		if p.Regen < 0 || p.EnergyDrain < 0 || p.MoveCost < 0 {
			return fmt.Errorf("%w: environment phase %q has a negative modifier", ErrInvalid, p.Name)
		}
	}
	return nil
}

// PhaseName is the name of the phase in force at epoch, or "" when the
// environment is disabled.
func (t Tuning) PhaseName(epoch uint64) string {
	p, _ := t.Environment.PhaseAt(epoch)
	return p.Name
}

// TickParamsAt is TickParams scaled by the phase in force at epoch, the
// epoch the tick produces.
func (t Tuning) TickParamsAt(epoch uint64) state.TickParams {
	tp := t.TickParams()
	if p, ok := t.Environment.PhaseAt(epoch); ok {
		tp.RegenFraction = min(1, tp.RegenFraction*p.Regen)
		tp.EnergyDecay = min(1, tp.EnergyDecay*p.EnergyDrain)
	}
	return tp
}

func (t Tuning) ResolveParamsAt(epoch uint64) resolve.Params {
	rp := t.ResolveParams()
	if p, ok := t.Environment.PhaseAt(epoch); ok {
		rp.MoveEnergy = min(1, rp.MoveEnergy*p.MoveCost)
	}
	return rp
}
