package engine

import (
	"terrarium.ai/internal/observerproto"
	"terrarium.ai/internal/sim/agent"
	"terrarium.ai/internal/sim/event"
	"terrarium.ai/internal/sim/perception"
	"terrarium.ai/internal/sim/state"
)

// Views is an immutable projection of the last committed epoch. A new value
// replaces it after every commit; readers never see a partial epoch.
type Views struct {
	Status observerproto.Status
	World  observerproto.WorldView
	Agents []observerproto.AgentView
	Events []observerproto.EventView
}

func (v *Views) Agent(id string) (observerproto.AgentView, bool) {
	for _, a := range v.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return observerproto.AgentView{}, false
}

// Views returns the current projection. The result must not be modified.
func (s *Scheduler) Views() *Views { return s.views.Load() }

func (s *Scheduler) Status() observerproto.Status { return s.views.Load().Status }

// Subscribe returns a channel that receives one message per committed epoch.
// Slow subscribers lose the oldest queued message. cancel releases it.
func (s *Scheduler) Subscribe(buf int) (<-chan *observerproto.EpochMsg, func()) {
	if buf <= 0 {
		buf = 8
	}
	ch := make(chan *observerproto.EpochMsg, buf)
	s.subsMu.Lock()
	if s.subs == nil {
		s.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.nextSub++
	id := s.nextSub
	s.subs[id] = ch
	s.subsMu.Unlock()
	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Scheduler) closeSubscribers() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for id, c := range s.subs {
		delete(s.subs, id)
		close(c)
	}
	s.subs = nil
}

func (s *Scheduler) status() observerproto.Status {
	st := observerproto.Status{
		RunID:     s.meta.RunID,
		Scenario:  s.meta.Scenario,
		State:     s.State().String(),
		Epoch:     s.st.Epoch,
		Speed:     s.speed,
		Alive:     s.st.Agents.LivingCount(),
		Agents:    s.st.Agents.Len(),
		MaxEpochs: s.meta.MaxEpochs,
		Pending:   s.pending != nil,
		StopCause: s.stopCause,
		Phase:     s.tun.PhaseName(s.st.Epoch),
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// publish replaces the read views and, when batch is the events of a newly
// committed epoch, fans it out to subscribers.
func (s *Scheduler) publish(batch []event.Event) {
	v := &Views{
		Status: s.status(),
		World:  WorldView(s.st),
		Agents: AgentViews(s.st),
		Events: EventViews(s.st, tail(s.history, recentCap)),
	}
	s.views.Store(v)
	if batch == nil {
		return
	}

	msg := &observerproto.EpochMsg{
		Type:            "EPOCH",
		ProtocolVersion: observerproto.Version,
		Epoch:           s.st.Epoch,
		Status:          v.Status,
		Agents:          v.Agents,
		Events:          EventViews(s.st, batch),
	}
	if end := batch[len(batch)-1]; end.Kind == event.EpochEnd {
		msg.Digest = end.Payload.Digest
	}
	s.subsMu.Lock()
	for _, ch := range s.subs {
		sendLatest(ch, msg)
	}
	s.subsMu.Unlock()
}

func sendLatest(ch chan *observerproto.EpochMsg, m *observerproto.EpochMsg) {
	select {
	case ch <- m:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- m:
	default:
	}
}

func tail(evs []event.Event, n int) []event.Event {
	if len(evs) > n {
		return evs[len(evs)-n:]
	}
	return evs
}

// WorldView projects the grid of s.
func WorldView(s *state.State) observerproto.WorldView {
	g := s.Grid
	w := observerproto.WorldView{
		Epoch:     s.Epoch,
		Width:     g.Width,
		Height:    g.Height,
		TotalFood: g.TotalFood(),
		Cells:     make([]observerproto.CellView, len(g.Cells)),
	}
	for i, c := range g.Cells {
		p := g.PosOf(i)
		w.Cells[i] = observerproto.CellView{
			X: p.X, Y: p.Y,
			Terrain:   c.Terrain.String(),
			Food:      c.Food,
			Capacity:  c.Capacity,
			Occupants: append([]string(nil), c.Occupants...),
		}
	}
	return w
}

// AgentViews projects every agent of s, dead ones included.
func AgentViews(s *state.State) []observerproto.AgentView {
	all := s.Agents.All()
	out := make([]observerproto.AgentView, 0, len(all))
	for _, a := range all {
		out = append(out, agentView(s, a))
	}
	return out
}

func agentView(s *state.State, a *agent.Agent) observerproto.AgentView {
	v := observerproto.AgentView{
		ID:         a.ID,
		Name:       a.Name,
		Alive:      a.Alive,
		X:          a.Pos.X,
		Y:          a.Pos.Y,
		Health:     a.Health,
		Hunger:     a.Hunger,
		Energy:     a.Energy,
		Strength:   a.Strength,
		Food:       a.Food,
		Aspiration: a.Identity.Aspiration,
		Values:     append([]string(nil), a.Identity.Values...),
		DiedEpoch:  a.DiedEpoch,
		DeathCause: a.DeathCause,
		Safety:     a.Beliefs.Self.Safety,
		Competence: a.Beliefs.Self.Competence,
		Episodes:   len(a.Memory),
	}
	if a.Alive {
		v.Goal = perception.Goal(a)
	}
	for _, id := range a.Beliefs.SocialIDs() {
		b := a.Beliefs.Social[id]
		v.Social = append(v.Social, observerproto.SocialView{
			ID: id, Name: s.Agents.Name(id),
			Trust: b.Trust, Sentiment: b.Sentiment, Summary: b.Summary, Interactions: b.Interactions,
		})
	}
	return v
}

// EventViews renders evs with display names from s.
func EventViews(s *state.State, evs []event.Event) []observerproto.EventView {
	out := make([]observerproto.EventView, 0, len(evs))
	for _, e := range evs {
		out = append(out, observerproto.EventView{
			Epoch:   e.Epoch,
			Kind:    string(e.Kind),
			Agent:   e.Agent,
			Target:  e.Target,
			Summary: event.Describe(e, "", s.Agents.Name),
		})
	}
	return out
}
