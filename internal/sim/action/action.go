package action

import (
	"fmt"
	"strings"

	"terrarium.ai/internal/sim/world"
)

type Kind uint8

const (
	Wait Kind = iota
	Move
	Gather
	Eat
	Rest
	Speak
	Give
	Attack
)

var kindNames = [...]string{"wait", "move", "gather", "eat", "rest", "speak", "give", "attack"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

var kindAliases = map[string]Kind{
	"wait": Wait, "idle": Wait, "nothing": Wait,
	"move": Move, "go": Move, "walk": Move,
	"gather": Gather, "forage": Gather, "collect": Gather,
	"eat": Eat,
	"rest": Rest, "sleep": Rest,
	"speak": Speak, "say": Speak, "talk": Speak,
	"give": Give, "share": Give,
	"attack": Attack, "fight": Attack, "hit": Attack,
}

// ParseKind matches an action keyword case-insensitively, including common synonyms.
func ParseKind(s string) (Kind, bool) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	return k, ok
}

// Targeted reports whether the kind names another agent.
func (k Kind) Targeted() bool { return k == Speak || k == Give || k == Attack }

// Action is one proposed action. Only the fields of its Kind are meaningful.
type Action struct {
	Agent   string          `json:"agent"`
	Kind    Kind            `json:"kind"`
	Dir     world.Direction `json:"dir,omitempty"`
	Target  string          `json:"target,omitempty"`
	Amount  int             `json:"amount,omitempty"`
	Message string          `json:"message,omitempty"`
}

func NewWait(agent string) Action { return Action{Agent: agent, Kind: Wait} }

func (a Action) String() string {
	switch a.Kind {
	case Move:
		return fmt.Sprintf("MOVE %s", a.Dir)
	case Speak:
		return fmt.Sprintf("SPEAK %s %q", a.Target, a.Message)
	case Give:
		return fmt.Sprintf("GIVE %s %d", a.Target, a.Amount)
	case Attack:
		return fmt.Sprintf("ATTACK %s", a.Target)
	default:
		return strings.ToUpper(a.Kind.String())
	}
}

// Note records why a proposal fell back to Wait before resolution.
type Note struct {
	Attempted string `json:"attempted"`
	Reason    string `json:"reason"`
	Detail    string `json:"detail,omitempty"`
}

// Proposal is what deliberation hands to the resolver for one agent.
type Proposal struct {
	Action Action `json:"action"`
	Note   *Note  `json:"note,omitempty"`
}
