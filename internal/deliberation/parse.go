package deliberation

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"terrarium.ai/internal/sim/action"
	"terrarium.ai/internal/sim/world"
)

// Parse failure reasons. They end up verbatim on ActionFailed events.
const (
	ReasonNoAction        = "no_action"
	ReasonNotInCatalogue  = "not_in_catalogue"
	ReasonBadDirection    = "bad_direction"
	ReasonUnknownTarget   = "unknown_target"
	ReasonAmbiguousTarget = "ambiguous_target"
	ReasonBadAmount       = "bad_amount"
	ReasonMissingArgument = "missing_argument"
	ReasonSchema          = "schema"
	ReasonTimeout         = "timeout"
	ReasonDeciderError    = "decider_error"
)

const MaxMessageRunes = 280

// Failure explains why a reply could not become an action.
type Failure struct {
	Reason    string
	Attempted string
	Detail    string
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return f.Reason
	}
	return f.Reason + ": " + f.Detail
}

func (f *Failure) Note() *action.Note {
	attempted := f.Attempted
	if attempted == "" {
		attempted = "unknown"
	}
	return &action.Note{Attempted: attempted, Reason: f.Reason, Detail: f.Detail}
}

const decisionSchema = `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "action":    {"type": "string", "minLength": 1},
    "direction": {"type": "string"},
    "target":    {"type": "string"},
    "amount":    {"type": "integer"},
    "message":   {"type": "string"}
  }
}`

var schema = jsonschema.MustCompileString("decision.schema.json", decisionSchema)

var actionLine = regexp.MustCompile(`(?im)^[\s*>\-]*ACTION\s*:\s*(.+?)\s*$`)

type decision struct {
	Action    string `json:"action"`
	Direction string `json:"direction"`
	Target    string `json:"target"`
	Amount    *int   `json:"amount"`
	Message   string `json:"message"`
}

// Parse extracts one action for req.Agent from a reply. It tries an embedded
// JSON object, then an "ACTION:" line, then the last non-empty line.
func Parse(text string, req Request) (action.Action, *Failure) {
	if raw, ok := findJSON(text); ok {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			if m, ok := v.(map[string]any); ok {
				if _, has := m["action"]; has {
					return parseDecision(raw, v, req)
				}
			}
		}
	}
	if m := actionLine.FindStringSubmatch(text); m != nil {
		return parseVerb(m[1], req)
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return parseVerb(l, req)
		}
	}
	return action.NewWait(req.Agent), &Failure{Reason: ReasonNoAction, Detail: "empty reply"}
}

func parseDecision(raw string, v any, req Request) (action.Action, *Failure) {
	m, _ := v.(map[string]any)
	attempted, _ := m["action"].(string)
	if err := schema.Validate(v); err != nil {
		return action.NewWait(req.Agent), &Failure{Reason: ReasonSchema, Attempted: strings.ToLower(attempted), Detail: err.Error()}
	}
	var d decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return action.NewWait(req.Agent), &Failure{Reason: ReasonSchema, Attempted: strings.ToLower(attempted), Detail: err.Error()}
	}

	k, ok := action.ParseKind(d.Action)
	if !ok {
		return action.NewWait(req.Agent), &Failure{Reason: ReasonNoAction, Detail: d.Action}
	}
	args := argSet{dir: d.Direction, target: d.Target, message: d.Message, hasAmount: d.Amount != nil}
	if d.Amount != nil {
		args.amount = strconv.Itoa(*d.Amount)
	}
	return build(k, args, req)
}

func parseVerb(line string, req Request) (action.Action, *Failure) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return action.NewWait(req.Agent), &Failure{Reason: ReasonNoAction}
	}
	verb := strings.Trim(fields[0], "`*\"'.,:;!()[]<>")
	k, ok := action.ParseKind(verb)
	if !ok {
		return action.NewWait(req.Agent), &Failure{Reason: ReasonNoAction, Detail: truncate(line, 60)}
	}
	rest := fields[1:]
	var args argSet
	switch k {
	case action.Move:
		if len(rest) > 0 {
			args.dir = strings.Join(rest, " ")
		}
	case action.Speak:
		if len(rest) > 0 {
			args.target = rest[0]
			args.message = strings.Join(rest[1:], " ")
		}
	case action.Give:
		if len(rest) > 0 {
			args.target = rest[0]
		}
		if len(rest) > 1 {
			args.amount, args.hasAmount = rest[1], true
		}
	case action.Attack:
		if len(rest) > 0 {
			args.target = strings.Join(rest, " ")
		}
	}
	return build(k, args, req)
}

type argSet struct {
	dir       string
	target    string
	amount    string
	hasAmount bool
	message   string
}

func build(k action.Kind, args argSet, req Request) (action.Action, *Failure) {
	fail := func(reason, detail string) (action.Action, *Failure) {
		return action.NewWait(req.Agent), &Failure{Reason: reason, Attempted: k.String(), Detail: detail}
	}
	tmpl, ok := req.Catalogue.Lookup(k)
	if !ok {
		return fail(ReasonNotInCatalogue, "")
	}
	act := action.Action{Agent: req.Agent, Kind: k}

	switch k {
	case action.Move:
		if strings.TrimSpace(args.dir) == "" {
			return fail(ReasonMissingArgument, "direction")
		}
		d, ok := world.ParseDirection(strings.Trim(args.dir, "`*\"'.,;!()"))
		if !ok {
			return fail(ReasonBadDirection, args.dir)
		}
		act.Dir = d

	case action.Speak, action.Give, action.Attack:
		if strings.TrimSpace(args.target) == "" {
			return fail(ReasonMissingArgument, "target")
		}
		id, reason := resolveTarget(args.target, tmpl.Targets, req)
		if reason != "" {
			return fail(reason, args.target)
		}
		act.Target = id

		if k == action.Speak {
			msg := strings.Trim(strings.TrimSpace(args.message), "\"'")
			if msg == "" {
				return fail(ReasonMissingArgument, "message")
			}
			act.Message = truncate(msg, MaxMessageRunes)
		}
		if k == action.Give {
			if !args.hasAmount {
				return fail(ReasonBadAmount, "missing")
			}
			n, err := strconv.Atoi(strings.Trim(args.amount, ".,;!"))
			if err != nil || n < 1 || n > tmpl.MaxAmount {
				return fail(ReasonBadAmount, args.amount)
			}
			act.Amount = n
		}
	}
	return act, nil
}

// resolveTarget matches a reference against the visible ids: exact id, then
// case-insensitive display name, then a unique name prefix.
func resolveTarget(ref string, visible []string, req Request) (string, string) {
	ref = strings.Trim(strings.TrimSpace(ref), "`*\"'.,:;!()[]<>@")
	if ref == "" {
		return "", ReasonMissingArgument
	}
	for _, id := range visible {
		if id == ref {
			return id, ""
		}
	}
	low := strings.ToLower(ref)
	for _, id := range visible {
		if strings.ToLower(req.NameOf(id)) == low {
			return id, ""
		}
	}
	var hits []string
	for _, id := range visible {
		if strings.HasPrefix(strings.ToLower(req.NameOf(id)), low) {
			hits = append(hits, id)
		}
	}
	switch len(hits) {
	case 0:
		return "", ReasonUnknownTarget
	case 1:
		return hits[0], ""
	default:
		return "", ReasonAmbiguousTarget
	}
}

// findJSON returns the first balanced {...} span in text.
func findJSON(text string) (string, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		depth, inStr, esc := 0, false, false
		for i := start; i < len(text); i++ {
			c := text[i]
			switch {
			case esc:
				esc = false
			case inStr && c == '\\':
				esc = true
			case c == '"':
				inStr = !inStr
			case inStr:
			case c == '{':
				depth++
			case c == '}':
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
