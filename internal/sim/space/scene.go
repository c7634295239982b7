package space

import (
	"mobsim.dev/internal/sim/geo"
)

// Hit is the first geometry intersected by a cast.
type Hit struct {
	Point geo.Vec3
	// Name identifies the body that was hit ("" for terrain).
	Name string
	// Solid is false for decorative geometry that must not count as ground
	// or block sight.
	Solid bool
}

// Scene answers the geometry queries simulation needs. Implementations are
// read-only from the simulation's point of view.
type Scene interface {
	// CastDown casts straight down from origin, at most maxDist, and
	// returns the first hit of any kind.
	CastDown(origin geo.Vec3, maxDist float64) (Hit, bool)

	// CastSegment casts from a to b and returns the first solid hit,
	// skipping bodies named in ignore.
	CastSegment(a, b geo.Vec3, ignore map[string]bool) (Hit, bool)
}

// GroundBelow probes for solid ground under origin. Non-solid hits are
// skipped by re-casting from just below them, at most skipLimit times, so a
// decoration is never mistaken for ground.
func GroundBelow(s Scene, origin geo.Vec3, maxDist float64, skipLimit int) (float64, bool) {
	from := origin
	remaining := maxDist
	for i := 0; i <= skipLimit; i++ {
		hit, ok := s.CastDown(from, remaining)
		if !ok {
			return 0, false
		}
		if hit.Solid {
			return hit.Point.Y, true
		}
		drop := from.Y - hit.Point.Y
		remaining -= drop
		if remaining <= 0 {
			return 0, false
		}
		from = geo.Vec3{X: hit.Point.X, Y: hit.Point.Y - 1e-3, Z: hit.Point.Z}
	}
	return 0, false
}

// LineOfSight reports whether b is visible from a, ignoring the named
// bodies (typically the looker and the candidate themselves).
func LineOfSight(s Scene, a, b geo.Vec3, ignore map[string]bool) bool {
	_, blocked := s.CastSegment(a, b, ignore)
	return !blocked
}
