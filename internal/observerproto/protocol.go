package observerproto

// Version is the observer protocol version.
const Version = "0.1"

// Client -> Server. First message on the observer WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Optional: only stream events involving these agents.
	Agents []string `json:"agents,omitempty"`
}

// Server -> Client. Sent once per committed epoch.
type EpochMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Epoch           uint64      `json:"epoch"`
	Digest          string      `json:"digest"`
	Status          Status      `json:"status"`
	Agents          []AgentView `json:"agents"`
	Events          []EventView `json:"events"`
}

type Status struct {
	RunID     string  `json:"run_id"`
	Scenario  string  `json:"scenario"`
	State     string  `json:"state"`
	Epoch     uint64  `json:"epoch"`
	Speed     float64 `json:"speed"`
	Alive     int     `json:"alive"`
	Agents    int     `json:"agents"`
	MaxEpochs int     `json:"max_epochs"`
	Pending   bool    `json:"pending_write"`
	LastError string  `json:"last_error,omitempty"`
	StopCause string  `json:"stop_cause,omitempty"`
	Phase     string  `json:"phase,omitempty"`
}

type CellView struct {
	X         int      `json:"x"`
	Y         int      `json:"y"`
	Terrain   string   `json:"terrain"`
	Food      int      `json:"food"`
	Capacity  int      `json:"capacity"`
	Occupants []string `json:"occupants,omitempty"`
}

type WorldView struct {
	Epoch     uint64     `json:"epoch"`
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	TotalFood int        `json:"total_food"`
	Cells     []CellView `json:"cells"`
}

type SocialView struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Trust        float64 `json:"trust"`
	Sentiment    float64 `json:"sentiment"`
	Summary      string  `json:"summary,omitempty"`
	Interactions int     `json:"interactions"`
}

type AgentView struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Alive      bool     `json:"alive"`
	X          int      `json:"x"`
	Y          int      `json:"y"`
	Health     float64  `json:"health"`
	Hunger     float64  `json:"hunger"`
	Energy     float64  `json:"energy"`
	Strength   float64  `json:"strength"`
	Food       int      `json:"food"`
	Goal       string   `json:"goal,omitempty"`
	Aspiration string   `json:"aspiration"`
	Values     []string `json:"values"`
	DiedEpoch  uint64   `json:"died_epoch,omitempty"`
	DeathCause string   `json:"death_cause,omitempty"`

	Safety     float64      `json:"safety"`
	Competence float64      `json:"competence"`
	Social     []SocialView `json:"social,omitempty"`
	Episodes   int          `json:"episodes"`
}

type EventView struct {
	Epoch   uint64 `json:"epoch"`
	Kind    string `json:"kind"`
	Agent   string `json:"agent,omitempty"`
	Target  string `json:"target,omitempty"`
	Summary string `json:"summary"`
}

// HTTP body for POST /v1/control.
type ControlRequest struct {
	Command string  `json:"command"`
	Speed   float64 `json:"speed,omitempty"`
}

type ControlResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Status Status `json:"status"`
}

const (
	CommandPause    = "pause"
	CommandResume   = "resume"
	CommandStep     = "step"
	CommandSetSpeed = "set_speed"
	CommandStop     = "stop"
)
