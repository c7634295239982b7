package space

import (
	"math"

	"mobsim.dev/internal/sim/geo"
)

// Box is an axis-aligned body in the scene.
type Box struct {
	Name  string
	Min   geo.Vec3
	Max   geo.Vec3
	Solid bool
}

func (b Box) contains2D(x, z float64) bool {
	return x >= b.Min.X && x <= b.Max.X && z >= b.Min.Z && z <= b.Max.Z
}

// BoxScene is the built-in Scene: a heightfield ground plus axis-aligned
// boxes. Ground is sampled on a coarse step for segment casts; boxes use
// exact slab tests.
type BoxScene struct {
	// GroundAt returns terrain height at (x, z). Nil means flat ground at
	// GroundY.
	GroundAt func(x, z float64) float64
	GroundY  float64

	Boxes []Box
}

func (s *BoxScene) groundHeight(x, z float64) float64 {
	if s.GroundAt != nil {
		return s.GroundAt(x, z)
	}
	return s.GroundY
}

func (s *BoxScene) CastDown(origin geo.Vec3, maxDist float64) (Hit, bool) {
	best := Hit{}
	bestY := math.Inf(-1)
	found := false

	for _, b := range s.Boxes {
		if !b.contains2D(origin.X, origin.Z) {
			continue
		}
		top := b.Max.Y
		if top > origin.Y || top < origin.Y-maxDist {
			continue
		}
		if top > bestY {
			bestY = top
			best = Hit{Point: geo.Vec3{X: origin.X, Y: top, Z: origin.Z}, Name: b.Name, Solid: b.Solid}
			found = true
		}
	}

	g := s.groundHeight(origin.X, origin.Z)
	if g <= origin.Y && g >= origin.Y-maxDist && g > bestY {
		best = Hit{Point: geo.Vec3{X: origin.X, Y: g, Z: origin.Z}, Solid: true}
		found = true
	}
	return best, found
}

const segmentStep = 2.0

func (s *BoxScene) CastSegment(a, b geo.Vec3, ignore map[string]bool) (Hit, bool) {
	bestT := math.Inf(1)
	var best Hit
	found := false

	for _, box := range s.Boxes {
		if !box.Solid {
			continue
		}
		if ignore != nil && ignore[box.Name] {
			continue
		}
		if t, ok := segmentBox(a, b, box); ok && t < bestT {
			bestT = t
			d := b.Sub(a)
			best = Hit{Point: a.Add(d.Scale(t)), Name: box.Name, Solid: true}
			found = true
		}
	}

	// Terrain: sample along the segment and flag the first point that dips
	// under ground.
	d := b.Sub(a)
	length := d.Len()
	if length > 1e-9 {
		steps := int(length/segmentStep) + 1
		for i := 1; i < steps; i++ {
			t := float64(i) / float64(steps)
			if t >= bestT {
				break
			}
			p := a.Add(d.Scale(t))
			if g := s.groundHeight(p.X, p.Z); p.Y < g {
				best = Hit{Point: geo.Vec3{X: p.X, Y: g, Z: p.Z}, Solid: true}
				bestT = t
				found = true
				break
			}
		}
	}
	return best, found
}

// segmentBox is a slab test returning the entry parameter in [0, 1].
func segmentBox(a, b geo.Vec3, box Box) (float64, bool) {
	d := b.Sub(a)
	tmin, tmax := 0.0, 1.0

	axis := func(o, dir, lo, hi float64) bool {
		if math.Abs(dir) < 1e-12 {
			return o >= lo && o <= hi
		}
		t1 := (lo - o) / dir
		t2 := (hi - o) / dir
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tmin {
			tmin = t1
		}
		if t2 < tmax {
			tmax = t2
		}
		return tmin <= tmax
	}

	if !axis(a.X, d.X, box.Min.X, box.Max.X) {
		return 0, false
	}
	if !axis(a.Y, d.Y, box.Min.Y, box.Max.Y) {
		return 0, false
	}
	if !axis(a.Z, d.Z, box.Min.Z, box.Max.Z) {
		return 0, false
	}
	return tmin, true
}
