package space

import (
	"math"

	"mobsim.dev/internal/sim/geo"
)

// Grid is a cell-hashed index over XZ positions for nearby-entity queries.
// It is rebuilt (Clear + Insert) by its owning loop each pass; candidates
// returned by Nearby still need exact distance checks.
type Grid struct {
	cellSize float64
	cells    map[[2]int][]GridEntry
}

type GridEntry struct {
	ID  string
	Pos geo.Vec3
}

func NewGrid(cellSize float64) *Grid {
	if cellSize <= 0 {
		cellSize = 64
	}
	return &Grid{cellSize: cellSize, cells: map[[2]int][]GridEntry{}}
}

func (g *Grid) key(x, z float64) [2]int {
	return [2]int{int(math.Floor(x / g.cellSize)), int(math.Floor(z / g.cellSize))}
}

func (g *Grid) Clear() {
	for k, v := range g.cells {
		g.cells[k] = v[:0]
	}
}

func (g *Grid) Insert(id string, pos geo.Vec3) {
	k := g.key(pos.X, pos.Z)
	g.cells[k] = append(g.cells[k], GridEntry{ID: id, Pos: pos})
}

// Nearby returns entries whose cells overlap the radius around pos.
func (g *Grid) Nearby(pos geo.Vec3, radius float64) []GridEntry {
	lo := g.key(pos.X-radius, pos.Z-radius)
	hi := g.key(pos.X+radius, pos.Z+radius)

	var out []GridEntry
	for cx := lo[0]; cx <= hi[0]; cx++ {
		for cz := lo[1]; cz <= hi[1]; cz++ {
			out = append(out, g.cells[[2]int{cx, cz}]...)
		}
	}
	return out
}

// NearbyWithin filters Nearby candidates by exact horizontal distance.
func (g *Grid) NearbyWithin(pos geo.Vec3, radius float64) []GridEntry {
	cands := g.Nearby(pos, radius)
	out := cands[:0]
	r2 := radius * radius
	for _, c := range cands {
		if c.Pos.HorizDistSq(pos) <= r2 {
			out = append(out, c)
		}
	}
	return out
}
