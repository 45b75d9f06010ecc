// Package deliberation asks an external decision service for one action per
// living agent and parses its free-form reply into a structured proposal.
package deliberation

import (
	"context"
	"fmt"
	"strings"

	"terrarium.ai/internal/sim/action"
	"terrarium.ai/internal/sim/agent"
	"terrarium.ai/internal/sim/state"
)

// Decider is one decision backend. It returns the raw reply text.
type Decider interface {
	Decide(ctx context.Context, req Request) (string, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, req Request) (string, error)

func (f DeciderFunc) Decide(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

type Vitals struct {
	Health float64 `json:"health"`
	Hunger float64 `json:"hunger"`
	Energy float64 `json:"energy"`
	Food   int     `json:"food"`
}

// Request is everything a backend may see about one agent for one epoch.
// Beliefs holds only the entries for currently visible agents.
type Request struct {
	Agent     string                        `json:"agent"`
	Name      string                        `json:"name"`
	Epoch     uint64                        `json:"epoch"`
	Identity  agent.Identity                `json:"identity"`
	Vitals    Vitals                        `json:"vitals"`
	Beliefs   map[string]agent.SocialBelief `json:"beliefs,omitempty"`
	Self      agent.SelfBelief              `json:"self"`
	Working   agent.WorkingState            `json:"working"`
	Catalogue action.Catalogue              `json:"-"`
	Names     map[string]string             `json:"names,omitempty"`

	System string `json:"-"`
	Prompt string `json:"-"`
}

// NameOf returns the display name of a visible agent, or id itself.
func (r Request) NameOf(id string) string {
	if n, ok := r.Names[id]; ok {
		return n
	}
	return id
}

// NewRequest assembles the request for a from the frozen state and its
// working view, and renders both prompts.
func NewRequest(s *state.State, a *agent.Agent, ws agent.WorkingState, maxGive int) Request {
	req := Request{
		Agent:    a.ID,
		Name:     a.Name,
		Epoch:    s.Epoch,
		Identity: a.Identity,
		Vitals:   Vitals{Health: a.Health, Hunger: a.Hunger, Energy: a.Energy, Food: a.Food},
		Self:     a.Beliefs.Self,
		Working:  ws,
		Names:    map[string]string{},
	}
	for _, id := range ws.Neighbors {
		req.Names[id] = s.Agents.Name(id)
		if b, ok := a.Beliefs.Social[id]; ok {
			if req.Beliefs == nil {
				req.Beliefs = map[string]agent.SocialBelief{}
			}
			req.Beliefs[id] = b
		}
	}
	req.Catalogue = action.NewCatalogue(a.Food, ws.Moves(), ws.Neighbors, maxGive)
	req.System = systemPrompt(req)
	req.Prompt = userPrompt(req)
	return req
}

func systemPrompt(r Request) string {
	return r.Identity.Describe(r.Name) + "\n\n" +
		"You live in a small grid world with other people. Each turn you choose exactly one action. " +
		"Food grows on fertile land; hunger rises every turn and starvation hurts."
}

func userPrompt(r Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Turn %d.\n", r.Epoch)
	if r.Working.Phase != "" {
		fmt.Fprintf(&b, "Season: %s.\n", r.Working.Phase)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Your state: health %.2f, hunger %.2f, energy %.2f, carrying %d food.\n", r.Vitals.Health, r.Vitals.Hunger, r.Vitals.Energy, r.Vitals.Food)
	fmt.Fprintf(&b, "You feel %s and %s.\n", level(r.Self.Safety, "safe", "unsafe"), level(r.Self.Competence, "capable", "unskilled"))

	b.WriteString("\nWhat you see:\n")
	for _, c := range r.Working.Cells {
		where := "here"
		if c.Dir != "" {
			where = c.Dir
		}
		fmt.Fprintf(&b, "- %s: %s, %d food", where, c.Terrain, c.Food)
		var people []string
		for _, id := range c.Occupants {
			if id != r.Agent {
				people = append(people, r.NameOf(id))
			}
		}
		if len(people) > 0 {
			fmt.Fprintf(&b, ", people: %s", strings.Join(people, ", "))
		}
		b.WriteString("\n")
	}

	if len(r.Working.Neighbors) > 0 {
		b.WriteString("\nPeople nearby:\n")
		for _, id := range r.Working.Neighbors {
			bel, ok := r.Beliefs[id]
			if !ok {
				fmt.Fprintf(&b, "- %s: a stranger\n", r.NameOf(id))
				continue
			}
			fmt.Fprintf(&b, "- %s: trust %.2f, feeling %.2f", r.NameOf(id), bel.Trust, bel.Sentiment)
			if bel.Summary != "" {
				fmt.Fprintf(&b, ", %s", bel.Summary)
			}
			b.WriteString("\n")
		}
	}

	if len(r.Working.Recent) > 0 {
		b.WriteString("\nRecently:\n")
		for _, line := range r.Working.Recent {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}

	fmt.Fprintf(&b, "\nCurrent goal: %s.\n", r.Working.Goal)
	b.WriteString("\nActions you can take:\n")
	for _, line := range r.Catalogue.Lines(r.NameOf) {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	b.WriteString("\nThink briefly, then end your reply with one line of the form\n" +
		"ACTION: <VERB> <arguments>\n" +
		"for example ACTION: MOVE ne, ACTION: GIVE Bram 2 or ACTION: SPEAK Bram hello.\n")
	return b.String()
}

func level(v float64, hi, lo string) string {
	switch {
	case v >= 0.6:
		return hi
	case v <= 0.4:
		return lo
	default:
		return "somewhat " + hi
	}
}
