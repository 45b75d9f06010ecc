package agent

type Role uint8

const (
	RoleActor Role = iota + 1
	RoleTarget
)

func (r Role) String() string {
	if r == RoleActor {
		return "actor"
	}
	return "target"
}

// Episode is one short-lived interaction record, dropped once consolidated
// into beliefs.
type Episode struct {
	Epoch     uint64  `json:"epoch"`
	Other     string  `json:"other"`
	Kind      string  `json:"kind"`
	Role      Role    `json:"role"`
	Trust     float64 `json:"trust"`
	Sentiment float64 `json:"sentiment"`
}
