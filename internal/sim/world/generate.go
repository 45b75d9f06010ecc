package world

import (
	"fmt"
	"math"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"
)

type GenConfig struct {
	Width           int
	Height          int
	FertileFraction float64
	InitialFood     int
	Capacity        int
	Seed            int64
}

// Generate builds a grid whose fertile cells are the highest-scoring cells of
// a seeded noise field, so the fertile share is exact and patches cluster.
func Generate(cfg GenConfig) (*Grid, error) {
	g, err := NewGrid(cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	if cfg.FertileFraction < 0 || cfg.FertileFraction > 1 {
		return nil, fmt.Errorf("world: fertile fraction %v outside [0,1]", cfg.FertileFraction)
	}
	if cfg.Capacity < 0 || cfg.InitialFood < 0 {
		return nil, fmt.Errorf("world: negative capacity or initial food")
	}

	noise := opensimplex.NewNormalized(cfg.Seed)
	type scored struct {
		idx int
		v   float64
	}
	scores := make([]scored, len(g.Cells))
	for i := range g.Cells {
		p := g.PosOf(i)
		scores[i] = scored{idx: i, v: octaveNoise(noise, float64(p.X), float64(p.Y), 3, 0.15, 0.5)}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].v != scores[j].v {
			return scores[i].v > scores[j].v
		}
		return scores[i].idx < scores[j].idx
	})

	fertile := int(math.Round(cfg.FertileFraction * float64(len(g.Cells))))
	food := cfg.InitialFood
	if food > cfg.Capacity {
		food = cfg.Capacity
	}
	for _, s := range scores[:fertile] {
		g.Cells[s.idx] = Cell{Terrain: Fertile, Food: food, Capacity: cfg.Capacity}
	}
	return g, nil
}

func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0
	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}
	return total / maxVal
}
