package jump

import (
	"math"

	"mobsim.dev/internal/sim/geo"
	"mobsim.dev/internal/sim/space"
)

// Config carries the vertical-physics knobs.
type Config struct {
	Gravity float64
	// TimeoutSeconds force-lands a jump that never finds ground.
	TimeoutSeconds float64
	// SkipLimit bounds how many non-solid hits a ground probe steps through.
	SkipLimit int
}

// Simulator integrates vertical arcs for the agents a node simulates.
// Horizontal movement stays with the behavior engine; a jump overlays it
// and blocks nothing.
type Simulator struct {
	scene space.Scene
	cfg   Config

	states map[string]*arc
}

type arc struct {
	velY    float64
	elapsed float64
}

func NewSimulator(scene space.Scene, cfg Config) *Simulator {
	if cfg.Gravity <= 0 {
		cfg.Gravity = 196.2
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 3
	}
	if cfg.SkipLimit <= 0 {
		cfg.SkipLimit = 4
	}
	return &Simulator{scene: scene, cfg: cfg, states: map[string]*arc{}}
}

// Trigger starts a jump at the given power. Ignored while already airborne.
func (s *Simulator) Trigger(id string, power float64) {
	if _, up := s.states[id]; up {
		return
	}
	s.states[id] = &arc{velY: power}
}

func (s *Simulator) Airborne(id string) bool {
	_, up := s.states[id]
	return up
}

// Cancel drops the arc without landing. Used on release/teardown.
func (s *Simulator) Cancel(id string) {
	delete(s.states, id)
}

// Step advances one agent's arc by dt seconds and returns the new height.
// landed is true on the tick the arc ends, whether by ground contact or by
// the hard timeout.
func (s *Simulator) Step(id string, pos geo.Vec3, standingOffset float64, dt float64) (newY float64, landed bool) {
	a := s.states[id]
	if a == nil {
		return pos.Y, false
	}

	a.elapsed += dt
	a.velY -= s.cfg.Gravity * dt
	predicted := pos.Y + a.velY*dt

	if a.elapsed >= s.cfg.TimeoutSeconds {
		delete(s.states, id)
		if ground, ok := s.probeGround(pos, pos.Y-predicted, standingOffset); ok {
			return ground + standingOffset, true
		}
		return pos.Y, true
	}

	if a.velY < 0 {
		if ground, ok := s.probeGround(pos, pos.Y-predicted, standingOffset); ok {
			if predicted <= ground+standingOffset {
				delete(s.states, id)
				return ground + standingOffset, true
			}
		}
	}
	return predicted, false
}

// probeGround casts down far enough to cover this tick's fall plus the
// standing offset, skipping non-solid hits.
func (s *Simulator) probeGround(pos geo.Vec3, drop, standingOffset float64) (float64, bool) {
	depth := standingOffset + 1 + math.Max(0, drop)
	return space.GroundBelow(s.scene, pos, depth, s.cfg.SkipLimit)
}
