package agent

import "terrarium.ai/internal/sim/world"

// VisibleCell is a cell as seen this epoch. Dir is empty for the agent's own cell.
type VisibleCell struct {
	Pos       world.Pos     `json:"pos"`
	Dir       string        `json:"dir,omitempty"`
	Terrain   world.Terrain `json:"terrain"`
	Food      int           `json:"food"`
	Occupants []string      `json:"occupants,omitempty"`
}

// WorkingState is rebuilt every epoch by perception and never persisted.
type WorkingState struct {
	Epoch     uint64        `json:"epoch"`
	Self      world.Pos     `json:"self"`
	Cells     []VisibleCell `json:"cells"`
	Neighbors []string      `json:"neighbors,omitempty"`
	Recent    []string      `json:"recent,omitempty"`
	Goal      string        `json:"goal"`
	// Phase is the environment phase in force, empty when none is configured.
	Phase string `json:"phase,omitempty"`
}

// Moves returns the in-bounds directions out of the agent's cell.
func (ws WorkingState) Moves() []world.Direction {
	var out []world.Direction
	for _, d := range world.Directions {
		for _, c := range ws.Cells {
			if c.Pos == ws.Self.Add(d) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

func (ws WorkingState) Sees(id string) bool {
	for _, n := range ws.Neighbors {
		if n == id {
			return true
		}
	}
	return false
}

func (ws WorkingState) Here() (VisibleCell, bool) {
	for _, c := range ws.Cells {
		if c.Pos == ws.Self {
			return c, true
		}
	}
	return VisibleCell{}, false
}
