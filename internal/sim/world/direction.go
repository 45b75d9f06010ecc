package world

import (
	"fmt"
	"strings"
)

type Direction uint8

const (
	North Direction = iota
	NorthEast
	East
	SouthEast
	South
	SouthWest
	West
	NorthWest
)

// Directions lists all eight directions clockwise from north.
var Directions = []Direction{North, NorthEast, East, SouthEast, South, SouthWest, West, NorthWest}

var dirNames = [...]string{"n", "ne", "e", "se", "s", "sw", "w", "nw"}

var dirDeltas = [...][2]int{{0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}}

func (d Direction) String() string {
	if int(d) < len(dirNames) {
		return dirNames[d]
	}
	return "?"
}

// Delta returns the grid offset; north is y-1.
func (d Direction) Delta() (dx, dy int) {
	if int(d) >= len(dirDeltas) {
		return 0, 0
	}
	return dirDeltas[d][0], dirDeltas[d][1]
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	v, ok := ParseDirection(string(b))
	if !ok {
		return fmt.Errorf("unknown direction %q", string(b))
	}
	*d = v
	return nil
}

var dirAliases = map[string]Direction{
	"n": North, "north": North, "up": North,
	"ne": NorthEast, "northeast": NorthEast, "north-east": NorthEast,
	"e": East, "east": East, "right": East,
	"se": SouthEast, "southeast": SouthEast, "south-east": SouthEast,
	"s": South, "south": South, "down": South,
	"sw": SouthWest, "southwest": SouthWest, "south-west": SouthWest,
	"w": West, "west": West, "left": West,
	"nw": NorthWest, "northwest": NorthWest, "north-west": NorthWest,
}

func ParseDirection(s string) (Direction, bool) {
	d, ok := dirAliases[strings.ToLower(strings.TrimSpace(s))]
	return d, ok
}

// DirectionTo returns the direction of a neighbouring position q from p.
func DirectionTo(p, q Pos) (Direction, bool) {
	dx, dy := q.X-p.X, q.Y-p.Y
	for i, d := range dirDeltas {
		if d[0] == dx && d[1] == dy {
			return Direction(i), true
		}
	}
	return 0, false
}
