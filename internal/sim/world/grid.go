package world

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

type Terrain uint8

const (
	Barren Terrain = iota
	Fertile
)

func (t Terrain) String() string {
	switch t {
	case Fertile:
		return "fertile"
	default:
		return "barren"
	}
}

func (t Terrain) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Terrain) UnmarshalText(b []byte) error {
	switch string(b) {
	case "fertile":
		*t = Fertile
	case "barren":
		*t = Barren
	default:
		return fmt.Errorf("unknown terrain %q", string(b))
	}
	return nil
}

type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Pos) Add(d Direction) Pos {
	dx, dy := d.Delta()
	return Pos{X: p.X + dx, Y: p.Y + dy}
}

// Distance is the Chebyshev distance, so the 8 neighbours are at distance 1.
func (p Pos) Distance(q Pos) int {
	dx := p.X - q.X
	if dx < 0 {
		dx = -dx
	}
	dy := p.Y - q.Y
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

func (p Pos) Key() string { return strconv.Itoa(p.X) + "," + strconv.Itoa(p.Y) }

func (p Pos) String() string { return "(" + p.Key() + ")" }

type Cell struct {
	Terrain  Terrain `json:"terrain"`
	Food     int     `json:"food"`
	Capacity int     `json:"capacity"`
	// Occupants holds the ids of living agents on this cell, sorted.
	Occupants []string `json:"occupants,omitempty"`
}

// Grid is a fixed width x height array of cells in row-major order.
// Its topology never changes after construction.
type Grid struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Cells  []Cell `json:"cells"`
}

var ErrBadSize = errors.New("world: grid dimensions must be positive")

func NewGrid(width, height int) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrBadSize
	}
	return &Grid{Width: width, Height: height, Cells: make([]Cell, width*height)}, nil
}

func (g *Grid) InBounds(p Pos) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < g.Width && p.Y < g.Height
}

func (g *Grid) index(p Pos) int { return p.Y*g.Width + p.X }

func (g *Grid) PosOf(i int) Pos { return Pos{X: i % g.Width, Y: i / g.Width} }

// At returns the cell at p, or nil when p is out of bounds.
func (g *Grid) At(p Pos) *Cell {
	if !g.InBounds(p) {
		return nil
	}
	return &g.Cells[g.index(p)]
}

// Visible returns the in-bounds positions within radius of p in row-major order.
func (g *Grid) Visible(p Pos, radius int) []Pos {
	out := make([]Pos, 0, (2*radius+1)*(2*radius+1))
	for y := p.Y - radius; y <= p.Y+radius; y++ {
		for x := p.X - radius; x <= p.X+radius; x++ {
			q := Pos{X: x, Y: y}
			if g.InBounds(q) {
				out = append(out, q)
			}
		}
	}
	return out
}

func (g *Grid) Clone() *Grid {
	out := &Grid{Width: g.Width, Height: g.Height, Cells: make([]Cell, len(g.Cells))}
	for i, c := range g.Cells {
		out.Cells[i] = c
		if len(c.Occupants) > 0 {
			out.Cells[i].Occupants = append([]string(nil), c.Occupants...)
		}
	}
	return out
}

func (g *Grid) TotalFood() int {
	n := 0
	for _, c := range g.Cells {
		n += c.Food
	}
	return n
}

func (g *Grid) TotalCapacity() int {
	n := 0
	for _, c := range g.Cells {
		n += c.Capacity
	}
	return n
}

// Regenerate adds ceil(capacity*fraction) food to every fertile cell, clamped
// to capacity, and returns the total food added.
func (g *Grid) Regenerate(fraction float64) int {
	if fraction <= 0 {
		return 0
	}
	added := 0
	for i := range g.Cells {
		c := &g.Cells[i]
		if c.Terrain != Fertile || c.Food >= c.Capacity {
			continue
		}
		inc := int(math.Ceil(float64(c.Capacity) * fraction))
		if c.Food+inc > c.Capacity {
			inc = c.Capacity - c.Food
		}
		c.Food += inc
		added += inc
	}
	return added
}

func (g *Grid) AddOccupant(p Pos, id string) {
	c := g.At(p)
	if c == nil {
		return
	}
	i := sort.SearchStrings(c.Occupants, id)
	if i < len(c.Occupants) && c.Occupants[i] == id {
		return
	}
	c.Occupants = append(c.Occupants, "")
	copy(c.Occupants[i+1:], c.Occupants[i:])
	c.Occupants[i] = id
}

func (g *Grid) RemoveOccupant(p Pos, id string) {
	c := g.At(p)
	if c == nil {
		return
	}
	i := sort.SearchStrings(c.Occupants, id)
	if i >= len(c.Occupants) || c.Occupants[i] != id {
		return
	}
	c.Occupants = append(c.Occupants[:i], c.Occupants[i+1:]...)
	if len(c.Occupants) == 0 {
		c.Occupants = nil
	}
}

// Check verifies the grid-local invariants.
func (g *Grid) Check() error {
	if len(g.Cells) != g.Width*g.Height {
		return fmt.Errorf("grid has %d cells, want %d", len(g.Cells), g.Width*g.Height)
	}
	for i, c := range g.Cells {
		p := g.PosOf(i)
		if c.Food < 0 || c.Food > c.Capacity {
			return fmt.Errorf("cell %s food %d outside [0,%d]", p, c.Food, c.Capacity)
		}
		if c.Terrain == Barren && (c.Capacity != 0 || c.Food != 0) {
			return fmt.Errorf("barren cell %s holds food %d capacity %d", p, c.Food, c.Capacity)
		}
		if !sort.StringsAreSorted(c.Occupants) {
			return fmt.Errorf("cell %s occupants not sorted", p)
		}
	}
	return nil
}
