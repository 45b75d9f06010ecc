package action

import (
	"fmt"
	"strings"

	"terrarium.ai/internal/sim/world"
)

// Template is one legal action shape offered to an agent this epoch.
type Template struct {
	Kind      Kind
	Dirs      []world.Direction
	Targets   []string
	MaxAmount int
}

type Catalogue []Template

// NewCatalogue enumerates the legal templates for an agent holding food,
// able to move in moves, and seeing the visible agent ids.
func NewCatalogue(food int, moves []world.Direction, visible []string, maxGive int) Catalogue {
	c := Catalogue{
		{Kind: Wait},
		{Kind: Rest},
		{Kind: Gather},
	}
	if len(moves) > 0 {
		c = append(c, Template{Kind: Move, Dirs: moves})
	}
	if food >= 1 {
		c = append(c, Template{Kind: Eat})
	}
	if len(visible) > 0 {
		c = append(c, Template{Kind: Speak, Targets: visible})
		if food >= 1 {
			limit := maxGive
			if limit <= 0 {
				limit = food
			}
			c = append(c, Template{Kind: Give, Targets: visible, MaxAmount: limit})
		}
		c = append(c, Template{Kind: Attack, Targets: visible})
	}
	return c
}

func (c Catalogue) Lookup(k Kind) (Template, bool) {
	for _, t := range c {
		if t.Kind == k {
			return t, true
		}
	}
	return Template{}, false
}

func (c Catalogue) Allows(k Kind) bool {
	_, ok := c.Lookup(k)
	return ok
}

// Lines renders the catalogue for a prompt; name maps ids to display names.
func (c Catalogue) Lines(name func(string) string) []string {
	out := make([]string, 0, len(c))
	for _, t := range c {
		switch t.Kind {
		case Move:
			dirs := make([]string, len(t.Dirs))
			for i, d := range t.Dirs {
				dirs[i] = d.String()
			}
			out = append(out, "MOVE <direction>  directions: "+strings.Join(dirs, ", "))
		case Speak:
			out = append(out, "SPEAK <name> <message>  to: "+joinNames(t.Targets, name))
		case Give:
			out = append(out, fmt.Sprintf("GIVE <name> <amount 1-%d>  to: %s", t.MaxAmount, joinNames(t.Targets, name)))
		case Attack:
			out = append(out, "ATTACK <name>  targets: "+joinNames(t.Targets, name))
		case Gather:
			out = append(out, "GATHER  collect food from your cell")
		case Eat:
			out = append(out, "EAT  eat one food from your inventory")
		case Rest:
			out = append(out, "REST  recover energy")
		default:
			out = append(out, "WAIT  do nothing")
		}
	}
	return out
}

func joinNames(ids []string, name func(string) string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = name(id)
	}
	return strings.Join(parts, ", ")
}
