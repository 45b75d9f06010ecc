package event

import "fmt"

// Describe renders e as a short line from viewer's point of view. name maps
// agent ids to display names.
func Describe(e Event, viewer string, name func(string) string) string {
	who := func(id string) string {
		if id == viewer {
			return "you"
		}
		return name(id)
	}
	actor, target := who(e.Agent), who(e.Target)
	var s string
	switch e.Kind {
	case Moved:
		s = fmt.Sprintf("%s moved from %s to %s", actor, e.Payload.From, e.Payload.To)
	case Gathered:
		s = fmt.Sprintf("%s gathered %d food", actor, e.Payload.Amount)
	case Ate:
		s = fmt.Sprintf("%s ate", actor)
	case Rested:
		s = fmt.Sprintf("%s rested", actor)
	case Spoke:
		s = fmt.Sprintf("%s said to %s: %q", actor, target, e.Payload.Message)
	case Gave:
		s = fmt.Sprintf("%s gave %s %d food", actor, target, e.Payload.Amount)
	case Attacked:
		s = fmt.Sprintf("%s attacked %s (%.2f damage)", actor, target, e.Payload.Damage)
	case ActionFailed:
		s = fmt.Sprintf("%s tried to %s but failed (%s)", actor, e.Payload.Attempted, e.Payload.Reason)
	case Died:
		if e.Payload.Killer != "" {
			s = fmt.Sprintf("%s died of %s, killed by %s", actor, e.Payload.Cause, who(e.Payload.Killer))
		} else {
			s = fmt.Sprintf("%s died of %s", actor, e.Payload.Cause)
		}
	default:
		s = string(e.Kind)
	}
	return fmt.Sprintf("epoch %d: %s", e.Epoch, s)
}
