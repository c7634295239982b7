package nav

import (
	"container/heap"
	"math"

	"mobsim.dev/internal/sim/geo"
	"mobsim.dev/internal/sim/space"
)

// Waypoint is one node of a computed route. Waypoints sit at ground level;
// Jump marks a climb the walker has to jump for.
type Waypoint struct {
	Pos  geo.Vec3
	Jump bool
}

type navNeighbor struct {
	col      int
	row      int
	cost     float64
	diagonal bool
}

var navNeighborOffsets = [...]navNeighbor{
	{col: 0, row: -1, cost: 1, diagonal: false},
	{col: 1, row: 0, cost: 1, diagonal: false},
	{col: 0, row: 1, cost: 1, diagonal: false},
	{col: -1, row: 0, cost: 1, diagonal: false},
	{col: 1, row: -1, cost: math.Sqrt2, diagonal: true},
	{col: 1, row: 1, cost: math.Sqrt2, diagonal: true},
	{col: -1, row: 1, cost: math.Sqrt2, diagonal: true},
	{col: -1, row: -1, cost: math.Sqrt2, diagonal: true},
}

// jumpStep is the ground-height rise between neighboring cells that a walker
// cannot step over without jumping.
const jumpStep = 4.0

// Grid is a walkability grid sampled from scene geometry over a rectangular
// XZ region. It implements Pathfinder.
type Grid struct {
	minX, minZ float64
	cols, rows int
	cellSize   float64
	walkable   []bool
	groundY    []float64
}

// GridConfig bounds the sampled region. AgentRadius and AgentHeight carve
// clearance around solid geometry.
type GridConfig struct {
	MinX, MinZ  float64
	MaxX, MaxZ  float64
	CellSize    float64
	AgentRadius float64
	AgentHeight float64
	ProbeHeight float64
}

// NewGrid samples the scene once. Cells with no solid ground below the probe
// height, or with a solid body inside the walker's clearance volume, are
// unwalkable.
func NewGrid(scene space.Scene, cfg GridConfig) *Grid {
	if cfg.CellSize <= 0 {
		cfg.CellSize = 8
	}
	if cfg.AgentRadius <= 0 {
		cfg.AgentRadius = 2
	}
	if cfg.AgentHeight <= 0 {
		cfg.AgentHeight = 6
	}
	if cfg.ProbeHeight <= 0 {
		cfg.ProbeHeight = 512
	}
	cols := int(math.Ceil((cfg.MaxX - cfg.MinX) / cfg.CellSize))
	rows := int(math.Ceil((cfg.MaxZ - cfg.MinZ) / cfg.CellSize))
	if cols <= 0 {
		cols = 1
	}
	if rows <= 0 {
		rows = 1
	}
	g := &Grid{
		minX:     cfg.MinX,
		minZ:     cfg.MinZ,
		cols:     cols,
		rows:     rows,
		cellSize: cfg.CellSize,
		walkable: make([]bool, cols*rows),
		groundY:  make([]float64, cols*rows),
	}

	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			cx := cfg.MinX + (float64(col)+0.5)*g.cellSize
			cz := cfg.MinZ + (float64(row)+0.5)*g.cellSize
			probe := geo.Vec3{X: cx, Y: cfg.ProbeHeight, Z: cz}
			ground, ok := space.GroundBelow(scene, probe, 2*cfg.ProbeHeight, 8)
			if !ok {
				continue
			}
			idx := g.index(col, row)
			g.groundY[idx] = ground

			// Clearance check: a body across the walker's standing volume
			// blocks the cell.
			feet := geo.Vec3{X: cx, Y: ground + 0.5, Z: cz}
			head := geo.Vec3{X: cx, Y: ground + cfg.AgentHeight, Z: cz}
			if _, blocked := scene.CastSegment(feet, head, nil); blocked {
				continue
			}
			g.walkable[idx] = true
		}
	}
	return g
}

func (g *Grid) inBounds(col, row int) bool {
	return g != nil && col >= 0 && row >= 0 && col < g.cols && row < g.rows
}

func (g *Grid) index(col, row int) int { return row*g.cols + col }

func (g *Grid) isWalkable(col, row int) bool {
	if !g.inBounds(col, row) {
		return false
	}
	return g.walkable[g.index(col, row)]
}

func (g *Grid) worldPos(col, row int) geo.Vec3 {
	idx := g.index(col, row)
	return geo.Vec3{
		X: g.minX + (float64(col)+0.5)*g.cellSize,
		Y: g.groundY[idx],
		Z: g.minZ + (float64(row)+0.5)*g.cellSize,
	}
}

func (g *Grid) locate(x, z float64) (int, int, bool) {
	if g == nil || g.cols == 0 || g.rows == 0 {
		return 0, 0, false
	}
	col := int(math.Floor((x - g.minX) / g.cellSize))
	row := int(math.Floor((z - g.minZ) / g.cellSize))
	if col < 0 {
		col = 0
	}
	if col >= g.cols {
		col = g.cols - 1
	}
	if row < 0 {
		row = 0
	}
	if row >= g.rows {
		row = g.rows - 1
	}
	if !g.inBounds(col, row) {
		return 0, 0, false
	}
	return col, row, true
}

func (g *Grid) canTraverseDiagonal(current navPoint, delta navNeighbor) bool {
	if g == nil || !delta.diagonal {
		return true
	}
	// Both orthogonal neighbors must be open or the walker clips a corner.
	if !g.isWalkable(current.col+delta.col, current.row) {
		return false
	}
	if !g.isWalkable(current.col, current.row+delta.row) {
		return false
	}
	return true
}

func (g *Grid) closestWalkable(col, row int) (int, int, bool) {
	if !g.inBounds(col, row) {
		return 0, 0, false
	}
	type node struct {
		col int
		row int
	}
	visited := map[int]struct{}{g.index(col, row): {}}
	queue := []node{{col: col, row: row}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if g.walkable[g.index(cur.col, cur.row)] {
			return cur.col, cur.row, true
		}
		for _, delta := range navNeighborOffsets {
			nc, nr := cur.col+delta.col, cur.row+delta.row
			if !g.inBounds(nc, nr) {
				continue
			}
			idx := g.index(nc, nr)
			if _, seen := visited[idx]; seen {
				continue
			}
			visited[idx] = struct{}{}
			queue = append(queue, node{col: nc, row: nr})
		}
	}
	return 0, 0, false
}

type navPoint struct {
	col int
	row int
}

func (g *Grid) heuristic(a, b navPoint) float64 {
	dx := math.Abs(float64(a.col - b.col))
	dz := math.Abs(float64(a.row - b.row))
	if dx > dz {
		return dx + (math.Sqrt2-1)*dz
	}
	return dz + (math.Sqrt2-1)*dx
}

type pathNode struct {
	point  navPoint
	g      float64
	f      float64
	index  int
	parent *pathNode
}

type pathQueue []*pathNode

func (pq pathQueue) Len() int { return len(pq) }

func (pq pathQueue) Less(i, j int) bool { return pq[i].f < pq[j].f }

func (pq pathQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *pathQueue) Push(x any) {
	n := len(*pq)
	item := x.(*pathNode)
	item.index = n
	*pq = append(*pq, item)
}

func (pq *pathQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

func (g *Grid) astar(start, goal navPoint) ([]navPoint, bool) {
	open := &pathQueue{}
	heap.Init(open)
	heap.Push(open, &pathNode{point: start, g: 0, f: g.heuristic(start, goal)})
	gScore := map[int]float64{g.index(start.col, start.row): 0}
	closed := make(map[int]struct{})

	for open.Len() > 0 {
		current := heap.Pop(open).(*pathNode)
		currIdx := g.index(current.point.col, current.point.row)
		if _, seen := closed[currIdx]; seen {
			continue
		}
		closed[currIdx] = struct{}{}
		if current.point == goal {
			return reconstructPath(current), true
		}

		for _, delta := range navNeighborOffsets {
			if delta.diagonal && !g.canTraverseDiagonal(current.point, delta) {
				continue
			}
			nc := current.point.col + delta.col
			nr := current.point.row + delta.row
			if !g.isWalkable(nc, nr) {
				continue
			}
			idx := g.index(nc, nr)
			if _, seen := closed[idx]; seen {
				continue
			}
			tentativeG := current.g + delta.cost
			if prev, ok := gScore[idx]; ok && tentativeG >= prev {
				continue
			}
			gScore[idx] = tentativeG
			heap.Push(open, &pathNode{
				point:  navPoint{col: nc, row: nr},
				g:      tentativeG,
				f:      tentativeG + g.heuristic(navPoint{col: nc, row: nr}, goal),
				parent: current,
			})
		}
	}
	return nil, false
}

func reconstructPath(end *pathNode) []navPoint {
	if end == nil {
		return nil
	}
	path := make([]navPoint, 0)
	for node := end; node != nil; node = node.parent {
		path = append(path, node.point)
	}
	for i := 0; i < len(path)/2; i++ {
		j := len(path) - 1 - i
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// FindPath computes a waypoint route from start to target. The final
// waypoint is the exact target; intermediate waypoints are cell centers at
// ground height, with Jump set where the ground rises more than a step.
func (g *Grid) FindPath(start, target geo.Vec3) ([]Waypoint, error) {
	if g == nil {
		return nil, ErrUnreachable
	}
	startCol, startRow, ok := g.locate(start.X, start.Z)
	if !ok {
		return nil, ErrUnreachable
	}
	goalCol, goalRow, ok := g.locate(target.X, target.Z)
	if !ok {
		return nil, ErrUnreachable
	}
	if !g.walkable[g.index(startCol, startRow)] {
		sc, sr, ok := g.closestWalkable(startCol, startRow)
		if !ok {
			return nil, ErrUnreachable
		}
		startCol, startRow = sc, sr
	}
	if !g.walkable[g.index(goalCol, goalRow)] {
		return nil, ErrUnreachable
	}

	nodes, ok := g.astar(navPoint{startCol, startRow}, navPoint{goalCol, goalRow})
	if !ok || len(nodes) == 0 {
		return nil, ErrUnreachable
	}
	if len(nodes) == 1 {
		return []Waypoint{{Pos: target}}, nil
	}

	wps := make([]Waypoint, 0, len(nodes))
	prevY := g.groundY[g.index(nodes[0].col, nodes[0].row)]
	for i := 1; i < len(nodes); i++ {
		p := g.worldPos(nodes[i].col, nodes[i].row)
		wps = append(wps, Waypoint{Pos: p, Jump: p.Y-prevY > jumpStep})
		prevY = p.Y
	}
	last := wps[len(wps)-1]
	if last.Pos.HorizDist(target) > 1 {
		wps = append(wps, Waypoint{Pos: target})
	} else {
		wps[len(wps)-1].Pos = target
	}
	return wps, nil
}
