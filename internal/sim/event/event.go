package event

import (
	"terrarium.ai/internal/sim/world"
)

type Kind string

const (
	EpochStart   Kind = "EpochStart"
	EpochEnd     Kind = "EpochEnd"
	Moved        Kind = "Moved"
	Gathered     Kind = "Gathered"
	Ate          Kind = "Ate"
	Rested       Kind = "Rested"
	Spoke        Kind = "Spoke"
	Gave         Kind = "Gave"
	Attacked     Kind = "Attacked"
	ActionFailed Kind = "ActionFailed"
	Died         Kind = "Died"
)

// Payload carries the kind-specific fields; unused fields are omitted on the wire.
type Payload struct {
	From      *world.Pos `json:"from,omitempty"`
	To        *world.Pos `json:"to,omitempty"`
	Amount    int        `json:"amount,omitempty"`
	Damage    float64    `json:"damage,omitempty"`
	Message   string     `json:"message,omitempty"`
	Attempted string     `json:"attempted,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Cause     string     `json:"cause,omitempty"`
	Killer    string     `json:"killer,omitempty"`
	Alive     int        `json:"alive,omitempty"`
	Digest    string     `json:"digest,omitempty"`
}

// Event is one resolved effect. Events are the only input replay needs
// beyond a snapshot.
type Event struct {
	Epoch   uint64     `json:"epoch"`
	Kind    Kind       `json:"kind"`
	Agent   string     `json:"agent,omitempty"`
	Target  string     `json:"target,omitempty"`
	At      *world.Pos `json:"at,omitempty"`
	Payload Payload    `json:"payload"`
}

func at(p world.Pos) *world.Pos { return &p }

func NewEpochStart(epoch uint64, alive int) Event {
	return Event{Epoch: epoch, Kind: EpochStart, Payload: Payload{Alive: alive}}
}

func NewEpochEnd(epoch uint64, alive int, digest string) Event {
	return Event{Epoch: epoch, Kind: EpochEnd, Payload: Payload{Alive: alive, Digest: digest}}
}

func NewMoved(epoch uint64, agent string, from, to world.Pos) Event {
	return Event{Epoch: epoch, Kind: Moved, Agent: agent, At: at(from), Payload: Payload{From: at(from), To: at(to)}}
}

func NewGathered(epoch uint64, agent string, pos world.Pos, amount int) Event {
	return Event{Epoch: epoch, Kind: Gathered, Agent: agent, At: at(pos), Payload: Payload{Amount: amount}}
}

func NewAte(epoch uint64, agent string, pos world.Pos) Event {
	return Event{Epoch: epoch, Kind: Ate, Agent: agent, At: at(pos), Payload: Payload{Amount: 1}}
}

func NewRested(epoch uint64, agent string, pos world.Pos) Event {
	return Event{Epoch: epoch, Kind: Rested, Agent: agent, At: at(pos)}
}

func NewSpoke(epoch uint64, agent, target string, pos world.Pos, msg string) Event {
	return Event{Epoch: epoch, Kind: Spoke, Agent: agent, Target: target, At: at(pos), Payload: Payload{Message: msg}}
}

func NewGave(epoch uint64, agent, target string, pos world.Pos, amount int) Event {
	return Event{Epoch: epoch, Kind: Gave, Agent: agent, Target: target, At: at(pos), Payload: Payload{Amount: amount}}
}

func NewAttacked(epoch uint64, agent, target string, pos world.Pos, damage float64) Event {
	return Event{Epoch: epoch, Kind: Attacked, Agent: agent, Target: target, At: at(pos), Payload: Payload{Damage: damage}}
}

func NewActionFailed(epoch uint64, agent, target string, pos world.Pos, attempted, reason string) Event {
	return Event{Epoch: epoch, Kind: ActionFailed, Agent: agent, Target: target, At: at(pos), Payload: Payload{Attempted: attempted, Reason: reason}}
}

func NewDied(epoch uint64, agent string, pos world.Pos, cause, killer string) Event {
	return Event{Epoch: epoch, Kind: Died, Agent: agent, At: at(pos), Payload: Payload{Cause: cause, Killer: killer}}
}

// Involves reports whether id is the actor or target of e.
func (e Event) Involves(id string) bool {
	return id != "" && (e.Agent == id || e.Target == id)
}

// Touches reports whether e happened on or moved into p.
func (e Event) Touches(p world.Pos) bool {
	if e.At != nil && *e.At == p {
		return true
	}
	return e.Payload.To != nil && *e.Payload.To == p
}
