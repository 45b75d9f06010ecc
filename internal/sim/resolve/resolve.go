// Package resolve merges one epoch's proposed actions into the next state.
//
// Every legality check reads the frozen pre-action state. The resolver first
// decides the full ordered event list and then derives the next state by
// applying those events, which is also exactly what replay does.
package resolve

import (
	"errors"
	"fmt"
	"sort"

	"terrarium.ai/internal/sim/action"
	"terrarium.ai/internal/sim/agent"
	"terrarium.ai/internal/sim/event"
	"terrarium.ai/internal/sim/state"
	"terrarium.ai/internal/sim/world"
)

type SplitMode string

const (
	SplitEqual    SplitMode = "equal"
	SplitStrength SplitMode = "strength"
)

type Params struct {
	GatherCap     int
	Split         SplitMode
	MoveEnergy    float64
	GatherEnergy  float64
	AttackEnergy  float64
	AttackDamage  float64
	EatRelief     float64
	RestEnergy    float64
	RestHeal      float64
	WellFedHunger float64
}

// Failure reasons recorded on ActionFailed events during resolution.
const (
	ReasonOutOfBounds      = "out_of_bounds"
	ReasonTargetNotVisible = "target_not_visible"
	ReasonSelfTarget       = "self_target"
	ReasonNoFood           = "no_food"
	ReasonNoShare          = "no_share"
	ReasonNoInventory      = "no_food_in_inventory"
	ReasonBadAmount        = "bad_amount"
)

var ErrDuplicateProposal = errors.New("resolve: more than one proposal for an agent")

type Resolver struct {
	p Params
}

func New(p Params) *Resolver {
	if p.GatherCap <= 0 {
		p.GatherCap = 5
	}
	if p.Split == "" {
		p.Split = SplitEqual
	}
	return &Resolver{p: p}
}

func (r *Resolver) Params() Params { return r.p }

// Resolve returns the next state and the ordered events of this epoch. frozen
// is never modified. Living agents without a proposal wait; proposals from
// unknown or dead agents are ignored.
func (r *Resolver) Resolve(frozen *state.State, proposals []action.Proposal) (*state.State, []event.Event, error) {
	byAgent := make(map[string]action.Proposal, len(proposals))
	for _, pr := range proposals {
		if _, dup := byAgent[pr.Action.Agent]; dup {
			return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateProposal, pr.Action.Agent)
		}
		byAgent[pr.Action.Agent] = pr
	}

	epoch := frozen.Epoch
	living := frozen.Agents.Living()
	acts := make([]action.Action, 0, len(living))
	var evs []event.Event

	// Deliberation notes, then legality against the frozen state.
	for _, a := range living {
		pr, ok := byAgent[a.ID]
		if !ok {
			pr = action.Proposal{Action: action.NewWait(a.ID)}
		}
		if pr.Note != nil {
			evs = append(evs, event.NewActionFailed(epoch, a.ID, "", a.Pos, pr.Note.Attempted, pr.Note.Reason))
			acts = append(acts, action.NewWait(a.ID))
			continue
		}
		act := pr.Action
		act.Agent = a.ID
		if reason := r.illegal(frozen, a, act); reason != "" {
			evs = append(evs, event.NewActionFailed(epoch, a.ID, act.Target, a.Pos, act.Kind.String(), reason))
			act = action.NewWait(a.ID)
		}
		acts = append(acts, act)
	}

	evs = append(evs, r.moves(frozen, acts)...)
	evs = append(evs, r.gathers(frozen, acts)...)
	evs = append(evs, r.eatRest(frozen, acts)...)
	evs = append(evs, r.talkAndGive(frozen, acts)...)
	attacks := r.attacks(frozen, acts)

	next := frozen.Clone()
	for _, e := range evs {
		if err := Apply(next, e, r.p); err != nil {
			return nil, nil, err
		}
	}
	for _, e := range attacks {
		if err := Apply(next, e, r.p); err != nil {
			return nil, nil, err
		}
	}
	evs = append(evs, attacks...)

	deaths := r.deaths(next, living, attacks)
	for _, e := range deaths {
		if err := Apply(next, e, r.p); err != nil {
			return nil, nil, err
		}
	}
	evs = append(evs, deaths...)
	return next, evs, nil
}

func (r *Resolver) illegal(frozen *state.State, a *agent.Agent, act action.Action) string {
	switch act.Kind {
	case action.Move:
		if !frozen.Grid.InBounds(a.Pos.Add(act.Dir)) {
			return ReasonOutOfBounds
		}
	case action.Speak, action.Give, action.Attack:
		if act.Target == a.ID {
			return ReasonSelfTarget
		}
		t, ok := frozen.Agents.Get(act.Target)
		if !ok || !t.Alive || t.Pos.Distance(a.Pos) > 1 {
			return ReasonTargetNotVisible
		}
		if act.Kind == action.Give && act.Amount <= 0 {
			return ReasonBadAmount
		}
	}
	return ""
}

func (r *Resolver) moves(frozen *state.State, acts []action.Action) []event.Event {
	var out []event.Event
	for _, act := range acts {
		if act.Kind != action.Move {
			continue
		}
		a, _ := frozen.Agents.Get(act.Agent)
		out = append(out, event.NewMoved(frozen.Epoch, a.ID, a.Pos, a.Pos.Add(act.Dir)))
	}
	return out
}

func (r *Resolver) gathers(frozen *state.State, acts []action.Action) []event.Event {
	groups := map[world.Pos][]*agent.Agent{}
	var cells []world.Pos
	for _, act := range acts {
		if act.Kind != action.Gather {
			continue
		}
		a, _ := frozen.Agents.Get(act.Agent)
		if _, ok := groups[a.Pos]; !ok {
			cells = append(cells, a.Pos)
		}
		groups[a.Pos] = append(groups[a.Pos], a)
	}

	shares := map[string]int{}
	for _, p := range cells {
		for id, n := range r.split(frozen.Grid.At(p).Food, groups[p]) {
			shares[id] = n
		}
	}

	var out []event.Event
	for _, act := range acts {
		if act.Kind != action.Gather {
			continue
		}
		a, _ := frozen.Agents.Get(act.Agent)
		switch n := shares[a.ID]; {
		case n > 0:
			out = append(out, event.NewGathered(frozen.Epoch, a.ID, a.Pos, n))
		case frozen.Grid.At(a.Pos).Food > 0:
			// The cell had food but the split left this gatherer nothing.
			out = append(out, event.NewActionFailed(frozen.Epoch, a.ID, "", a.Pos, action.Gather.String(), ReasonNoShare))
		default:
			out = append(out, event.NewActionFailed(frozen.Epoch, a.ID, "", a.Pos, action.Gather.String(), ReasonNoFood))
		}
	}
	return out
}

// split divides a cell's food among its gatherers. The total never exceeds
// the food present nor cap times the number of gatherers; remainders stay in
// the cell.
func (r *Resolver) split(food int, gatherers []*agent.Agent) map[string]int {
	out := make(map[string]int, len(gatherers))
	n := len(gatherers)
	if n == 0 || food <= 0 {
		return out
	}
	limit := r.p.GatherCap
	avail := food
	if avail > limit*n {
		avail = limit * n
	}

	sort.Slice(gatherers, func(i, j int) bool { return gatherers[i].ID < gatherers[j].ID })

	total := 0.0
	for _, g := range gatherers {
		total += g.Strength
	}
	if r.p.Split == SplitStrength && total > 0 {
		for _, g := range gatherers {
			share := int(float64(avail) * g.Strength / total)
			if share > limit {
				share = limit
			}
			out[g.ID] = share
		}
		return out
	}
	each := avail / n
	for _, g := range gatherers {
		out[g.ID] = each
	}
	return out
}

func (r *Resolver) eatRest(frozen *state.State, acts []action.Action) []event.Event {
	var out []event.Event
	for _, act := range acts {
		a, _ := frozen.Agents.Get(act.Agent)
		switch act.Kind {
		case action.Eat:
			if a.Food < 1 {
				out = append(out, event.NewActionFailed(frozen.Epoch, a.ID, "", a.Pos, action.Eat.String(), ReasonNoInventory))
				continue
			}
			out = append(out, event.NewAte(frozen.Epoch, a.ID, a.Pos))
		case action.Rest:
			out = append(out, event.NewRested(frozen.Epoch, a.ID, a.Pos))
		}
	}
	return out
}

// talkAndGive records speech and clamps gifts to the giver's frozen inventory.
// A giver proposes nothing else this epoch, so the frozen inventory is what it
// still holds when gifts transfer.
func (r *Resolver) talkAndGive(frozen *state.State, acts []action.Action) []event.Event {
	var out []event.Event
	for _, act := range acts {
		a, _ := frozen.Agents.Get(act.Agent)
		switch act.Kind {
		case action.Speak:
			out = append(out, event.NewSpoke(frozen.Epoch, a.ID, act.Target, a.Pos, act.Message))
		case action.Give:
			amount := act.Amount
			if amount > a.Food {
				amount = a.Food
			}
			if amount <= 0 {
				out = append(out, event.NewActionFailed(frozen.Epoch, a.ID, act.Target, a.Pos, action.Give.String(), ReasonNoInventory))
				continue
			}
			out = append(out, event.NewGave(frozen.Epoch, a.ID, act.Target, a.Pos, amount))
		}
	}
	return out
}

// attacks resolves every attack against the frozen health of its target.
func (r *Resolver) attacks(frozen *state.State, acts []action.Action) []event.Event {
	var out []event.Event
	for _, act := range acts {
		if act.Kind != action.Attack {
			continue
		}
		a, _ := frozen.Agents.Get(act.Agent)
		t, _ := frozen.Agents.Get(act.Target)
		dmg := r.p.AttackDamage * a.Strength
		if dmg > t.Health {
			dmg = t.Health
		}
		out = append(out, event.NewAttacked(frozen.Epoch, a.ID, t.ID, a.Pos, dmg))
	}
	return out
}

// Starvations records a Died event for every living agent the tick left at
// zero health and applies it to st. Agents that starve this way take no part
// in the rest of the epoch.
func Starvations(st *state.State, p Params) ([]event.Event, error) {
	var out []event.Event
	for _, a := range st.Agents.Living() {
		if a.Health <= 0 {
			out = append(out, event.NewDied(st.Epoch, a.ID, a.Pos, agent.CauseStarvation, ""))
		}
	}
	for _, e := range out {
		if err := Apply(st, e, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// deaths follow attacks. Starvation deaths were taken out after the tick, so
// an agent at zero health here was brought down by this epoch's attacks.
func (r *Resolver) deaths(next *state.State, living []*agent.Agent, attacks []event.Event) []event.Event {
	damage := map[string]map[string]float64{}
	for _, e := range attacks {
		if e.Payload.Damage <= 0 {
			continue
		}
		if damage[e.Target] == nil {
			damage[e.Target] = map[string]float64{}
		}
		damage[e.Target][e.Agent] += e.Payload.Damage
	}

	var out []event.Event
	for _, fa := range living {
		a, _ := next.Agents.Get(fa.ID)
		if !a.Alive || a.Health > 0 {
			continue
		}
		cause, killer := agent.CauseStarvation, ""
		if by := damage[a.ID]; len(by) > 0 {
			cause = agent.CauseViolence
			best := -1.0
			for _, id := range sortedKeys(by) {
				if by[id] > best {
					best, killer = by[id], id
				}
			}
		}
		out = append(out, event.NewDied(next.Epoch, a.ID, a.Pos, cause, killer))
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
