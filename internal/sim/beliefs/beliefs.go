// Package beliefs turns resolved events into episodic memory and periodically
// folds that memory into each agent's belief store.
package beliefs

import (
	"fmt"
	"sort"

	"terrarium.ai/internal/sim/action"
	"terrarium.ai/internal/sim/agent"
	"terrarium.ai/internal/sim/event"
	"terrarium.ai/internal/sim/state"
)

type Config struct {
	ConsolidateEvery int
	MaxEpisodes      int
	Rate             float64
	Radius           int

	SafetyHit      float64
	SafetyRegress  float64
	CompetenceStep float64
}

func DefaultConfig() Config {
	return Config{
		ConsolidateEvery: 5,
		MaxEpisodes:      10,
		Rate:             0.5,
		Radius:           1,
		SafetyHit:        0.2,
		SafetyRegress:    0.1,
		CompetenceStep:   0.05,
	}
}

type signal struct{ trust, sentiment float64 }

// signals[kind] holds the target's signal first and the actor's second.
var signals = map[event.Kind][2]signal{
	event.Gave:     {{1, 1}, {0.2, 0.5}},
	event.Attacked: {{-1, -1}, {-0.3, -0.5}},
	event.Spoke:    {{0.3, 0.4}, {0.1, 0.2}},
}

type Updater struct {
	cfg Config
}

func New(cfg Config) *Updater {
	d := DefaultConfig()
	if cfg.ConsolidateEvery <= 0 {
		cfg.ConsolidateEvery = d.ConsolidateEvery
	}
	if cfg.MaxEpisodes <= 0 {
		cfg.MaxEpisodes = d.MaxEpisodes
	}
	if cfg.Rate <= 0 || cfg.Rate > 1 {
		cfg.Rate = d.Rate
	}
	if cfg.Radius <= 0 {
		cfg.Radius = d.Radius
	}
	return &Updater{cfg: cfg}
}

// Update mutates only beliefs and memory of the living agents in next.
// frozen is the post-tick state the epoch's perception ran on; evs are the
// epoch's resolved events in log order.
func (u *Updater) Update(next, frozen *state.State, evs []event.Event) {
	living := next.Agents.Living()
	for _, a := range living {
		u.observe(a, frozen)
		a.Beliefs.Self.Safety = agent.Clamp01(a.Beliefs.Self.Safety + u.cfg.SafetyRegress*(0.5-a.Beliefs.Self.Safety))
	}

	for _, e := range evs {
		switch e.Kind {
		case event.Gave, event.Attacked, event.Spoke:
			sig := signals[e.Kind]
			if a := aliveIn(next, e.Agent); a != nil {
				a.Memory = append(a.Memory, agent.Episode{
					Epoch: e.Epoch, Other: e.Target, Kind: string(e.Kind), Role: agent.RoleActor,
					Trust: sig[1].trust, Sentiment: sig[1].sentiment,
				})
			}
			if t := aliveIn(next, e.Target); t != nil {
				t.Memory = append(t.Memory, agent.Episode{
					Epoch: e.Epoch, Other: e.Agent, Kind: string(e.Kind), Role: agent.RoleTarget,
					Trust: sig[0].trust, Sentiment: sig[0].sentiment,
				})
				if e.Kind == event.Attacked {
					t.Beliefs.Self.Safety = agent.Clamp01(t.Beliefs.Self.Safety - u.cfg.SafetyHit)
				}
			}
		case event.Gathered:
			if a := aliveIn(next, e.Agent); a != nil {
				a.Beliefs.Self.Competence = agent.Clamp01(a.Beliefs.Self.Competence + u.cfg.CompetenceStep)
			}
		case event.ActionFailed:
			if e.Payload.Attempted != action.Gather.String() {
				continue
			}
			if a := aliveIn(next, e.Agent); a != nil {
				a.Beliefs.Self.Competence = agent.Clamp01(a.Beliefs.Self.Competence - u.cfg.CompetenceStep)
			}
		}
	}

	due := next.Epoch%uint64(u.cfg.ConsolidateEvery) == 0
	for _, a := range living {
		if due || len(a.Memory) > u.cfg.MaxEpisodes {
			u.Consolidate(a)
		}
	}
}

func (u *Updater) observe(a *agent.Agent, frozen *state.State) {
	fa, ok := frozen.Agents.Get(a.ID)
	if !ok {
		return
	}
	for _, p := range frozen.Grid.Visible(fa.Pos, u.cfg.Radius) {
		c := frozen.Grid.At(p)
		a.Beliefs.World[p.Key()] = agent.CellBelief{Terrain: c.Terrain, Food: c.Food, SeenEpoch: frozen.Epoch}
	}
}

// Consolidate folds a's episodes into its social beliefs and clears them.
func (u *Updater) Consolidate(a *agent.Agent) {
	if len(a.Memory) == 0 {
		return
	}
	byOther := map[string][]agent.Episode{}
	for _, ep := range a.Memory {
		byOther[ep.Other] = append(byOther[ep.Other], ep)
	}
	others := make([]string, 0, len(byOther))
	for id := range byOther {
		others = append(others, id)
	}
	sort.Strings(others)

	for _, id := range others {
		eps := byOther[id]
		var trust, sentiment float64
		last := uint64(0)
		for _, ep := range eps {
			trust += ep.Trust
			sentiment += ep.Sentiment
			if ep.Epoch > last {
				last = ep.Epoch
			}
		}
		n := float64(len(eps))
		b := a.Beliefs.Social[id]
		b.Trust = agent.ClampSigned(b.Trust + u.cfg.Rate*(trust/n-b.Trust))
		b.Sentiment = agent.ClampSigned(b.Sentiment + u.cfg.Rate*(sentiment/n-b.Sentiment))
		b.Summary = summarize(eps)
		b.Interactions += len(eps)
		if last > b.LastEpoch {
			b.LastEpoch = last
		}
		a.Beliefs.Social[id] = b
	}
	a.Memory = nil
}

var phrases = []struct {
	kind string
	role agent.Role
	text string
}{
	{string(event.Attacked), agent.RoleTarget, "has attacked me"},
	{string(event.Gave), agent.RoleTarget, "has given me food"},
	{string(event.Attacked), agent.RoleActor, "I have attacked them"},
	{string(event.Gave), agent.RoleActor, "I have given them food"},
	{string(event.Spoke), agent.RoleTarget, "talks to me"},
	{string(event.Spoke), agent.RoleActor, "I talk to them"},
}

// summarize names the most frequent recent interaction; ties go to the
// earlier entry in phrases.
func summarize(eps []agent.Episode) string {
	best, bestN := "", 0
	for _, ph := range phrases {
		n := 0
		for _, ep := range eps {
			if ep.Kind == ph.kind && ep.Role == ph.role {
				n++
			}
		}
		if n > bestN {
			best, bestN = ph.text, n
		}
	}
	if bestN == 0 {
		return ""
	}
	return fmt.Sprintf("%s (%d of %d recent)", best, bestN, len(eps))
}

func aliveIn(s *state.State, id string) *agent.Agent {
	if id == "" {
		return nil
	}
	a, ok := s.Agents.Get(id)
	if !ok || !a.Alive {
		return nil
	}
	return a
}
