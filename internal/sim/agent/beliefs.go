package agent

import (
	"sort"

	"terrarium.ai/internal/sim/world"
)

type SocialBelief struct {
	Trust        float64 `json:"trust"`
	Sentiment    float64 `json:"sentiment"`
	Summary      string  `json:"summary,omitempty"`
	Interactions int     `json:"interactions"`
	LastEpoch    uint64  `json:"last_epoch"`
}

// CellBelief is what an agent last saw of a cell; it may be stale.
type CellBelief struct {
	Terrain   world.Terrain `json:"terrain"`
	Food      int           `json:"food"`
	SeenEpoch uint64        `json:"seen_epoch"`
}

type SelfBelief struct {
	Safety     float64 `json:"safety"`
	Competence float64 `json:"competence"`
}

// Beliefs are agent-local opinions keyed by agent id or cell key.
type Beliefs struct {
	Social map[string]SocialBelief `json:"social"`
	World  map[string]CellBelief   `json:"world"`
	Self   SelfBelief              `json:"self"`
}

func NewBeliefs() Beliefs {
	return Beliefs{
		Social: map[string]SocialBelief{},
		World:  map[string]CellBelief{},
		Self:   SelfBelief{Safety: 0.5, Competence: 0.5},
	}
}

func (b Beliefs) Clone() Beliefs {
	out := Beliefs{
		Social: make(map[string]SocialBelief, len(b.Social)),
		World:  make(map[string]CellBelief, len(b.World)),
		Self:   b.Self,
	}
	for k, v := range b.Social {
		out.Social[k] = v
	}
	for k, v := range b.World {
		out.World[k] = v
	}
	return out
}

func (b Beliefs) SocialIDs() []string {
	ids := make([]string, 0, len(b.Social))
	for id := range b.Social {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (b Beliefs) WorldKeys() []string {
	keys := make([]string, 0, len(b.World))
	for k := range b.World {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
