package agent

import (
	"fmt"
	"sort"
)

// Store holds every agent of a run, living or dead, addressed by id.
type Store struct {
	byID map[string]*Agent
	ids  []string
}

func NewStore(agents ...*Agent) (*Store, error) {
	s := &Store{byID: make(map[string]*Agent, len(agents))}
	for _, a := range agents {
		if err := s.Add(a); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Add(a *Agent) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("agent: missing id")
	}
	if _, ok := s.byID[a.ID]; ok {
		return fmt.Errorf("agent: duplicate id %s", a.ID)
	}
	a.Normalize()
	s.byID[a.ID] = a
	i := sort.SearchStrings(s.ids, a.ID)
	s.ids = append(s.ids, "")
	copy(s.ids[i+1:], s.ids[i:])
	s.ids[i] = a.ID
	return nil
}

func (s *Store) Get(id string) (*Agent, bool) {
	a, ok := s.byID[id]
	return a, ok
}

// IDs returns all ids in sorted order; callers must not modify it.
func (s *Store) IDs() []string { return s.ids }

func (s *Store) Len() int { return len(s.ids) }

// All returns every agent in id order.
func (s *Store) All() []*Agent {
	out := make([]*Agent, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.byID[id])
	}
	return out
}

// Living returns the living agents in id order.
func (s *Store) Living() []*Agent {
	out := make([]*Agent, 0, len(s.ids))
	for _, id := range s.ids {
		if a := s.byID[id]; a.Alive {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) LivingCount() int {
	n := 0
	for _, a := range s.byID {
		if a.Alive {
			n++
		}
	}
	return n
}

// Name returns the display name for id, or id itself when unknown.
func (s *Store) Name(id string) string {
	if a, ok := s.byID[id]; ok && a.Name != "" {
		return a.Name
	}
	return id
}

func (s *Store) Clone() *Store {
	out := &Store{byID: make(map[string]*Agent, len(s.byID)), ids: append([]string(nil), s.ids...)}
	for id, a := range s.byID {
		out.byID[id] = a.Clone()
	}
	return out
}
