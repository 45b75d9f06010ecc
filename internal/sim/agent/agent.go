package agent

import (
	"terrarium.ai/internal/sim/world"
)

// Traits is the five-factor personality vector; every value is in [0,1].
type Traits struct {
	Openness          float64 `json:"openness"`
	Conscientiousness float64 `json:"conscientiousness"`
	Extraversion      float64 `json:"extraversion"`
	Agreeableness     float64 `json:"agreeableness"`
	Neuroticism       float64 `json:"neuroticism"`
}

// Identity is set once at creation and never mutated.
type Identity struct {
	Traits     Traits   `json:"traits"`
	Values     []string `json:"values"`
	Aspiration string   `json:"aspiration"`
}

const (
	CauseStarvation = "starvation"
	CauseViolence   = "violence"
)

type Agent struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Identity Identity  `json:"identity"`
	Beliefs  Beliefs   `json:"beliefs"`
	Memory   []Episode `json:"memory,omitempty"`

	Pos      world.Pos `json:"pos"`
	Health   float64   `json:"health"`
	Hunger   float64   `json:"hunger"`
	Energy   float64   `json:"energy"`
	Strength float64   `json:"strength"`
	Food     int       `json:"food"`

	Alive      bool   `json:"alive"`
	DiedEpoch  uint64 `json:"died_epoch,omitempty"`
	DeathCause string `json:"death_cause,omitempty"`
}

func (a *Agent) Clone() *Agent {
	out := *a
	out.Identity.Values = append([]string(nil), a.Identity.Values...)
	out.Beliefs = a.Beliefs.Clone()
	if len(a.Memory) > 0 {
		out.Memory = append([]Episode(nil), a.Memory...)
	} else {
		out.Memory = nil
	}
	return &out
}

// Normalize replaces nil belief maps so decoded and freshly built agents
// encode identically.
func (a *Agent) Normalize() {
	if a.Beliefs.Social == nil {
		a.Beliefs.Social = map[string]SocialBelief{}
	}
	if a.Beliefs.World == nil {
		a.Beliefs.World = map[string]CellBelief{}
	}
	if len(a.Memory) == 0 {
		a.Memory = nil
	}
}

// snapEps absorbs the residue repeated float steps leave near the bounds, so
// ten steps of 0.1 from 1 land exactly on 0.
const snapEps = 1e-9

// Clamp01 bounds v to [0,1], snapping values within snapEps of a bound onto it.
func Clamp01(v float64) float64 {
	if v < snapEps {
		return 0
	}
	if v > 1-snapEps {
		return 1
	}
	return v
}

// ClampSigned bounds v to [-1,1].
func ClampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
