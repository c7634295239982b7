package nav

import "mobsim.dev/internal/sim/geo"

// Cursor walks a computed route one waypoint at a time. Arrival checks are
// horizontal-only: waypoints sit at ground level while the walker's origin
// carries a standing offset, so a full 3D check would never pass.
type Cursor struct {
	Waypoints []Waypoint
	Index     int
}

func NewCursor(wps []Waypoint) *Cursor {
	return &Cursor{Waypoints: wps}
}

// Current returns the waypoint being walked toward.
func (c *Cursor) Current() (Waypoint, bool) {
	if c == nil || c.Index < 0 || c.Index >= len(c.Waypoints) {
		return Waypoint{}, false
	}
	return c.Waypoints[c.Index], true
}

func (c *Cursor) Done() bool {
	return c == nil || c.Index >= len(c.Waypoints)
}

// Advance consumes waypoints the position has arrived at (within the
// horizontal threshold) and returns whether any were consumed.
func (c *Cursor) Advance(pos geo.Vec3, arrive float64) bool {
	advanced := false
	for {
		wp, ok := c.Current()
		if !ok {
			return advanced
		}
		if pos.HorizDist(wp.Pos) > arrive {
			return advanced
		}
		c.Index++
		advanced = true
	}
}

// Reanchor skips waypoints the position has already passed. The walker kept
// moving on its old route while this one computed, so replaying from the
// start would backtrack. A waypoint counts as passed when the position is
// closer to the following waypoint than the waypoint itself is.
func (c *Cursor) Reanchor(pos geo.Vec3) {
	if c == nil {
		return
	}
	i := 0
	for i < len(c.Waypoints)-1 {
		wp := c.Waypoints[i]
		next := c.Waypoints[i+1]
		if pos.HorizDist(next.Pos) < wp.Pos.HorizDist(next.Pos) {
			i++
			continue
		}
		break
	}
	c.Index = i
}
