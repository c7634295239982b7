// Package fallback keeps long-orphaned agents minimally alive on the
// coordinator: straight-line wandering at a capped cadence, no pathfinding,
// no sight. A node claim takes the agent back at any time.
package fallback

import (
	"log"
	"math"
	"math/rand"
	"time"

	"mobsim.dev/internal/sim/agent"
	"mobsim.dev/internal/sim/geo"
	"mobsim.dev/internal/sim/space"
)

type Config struct {
	// After is how long an agent must stay orphaned before the fallback
	// picks it up.
	After time.Duration
	// Interval caps the step cadence.
	Interval time.Duration
	// SpeedMult scales the agent's walk speed down to a drift.
	SpeedMult float64
	// MaxAgents bounds how many agents one pass simulates.
	MaxAgents int
}

func (c *Config) applyDefaults() {
	if c.After <= 0 {
		c.After = 3 * time.Second
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.SpeedMult <= 0 {
		c.SpeedMult = 0.35
	}
	if c.MaxAgents <= 0 {
		c.MaxAgents = 100
	}
}

type walk struct {
	orphanedAt time.Time
	active     bool
	goal       geo.Vec3
	hasGoal    bool
	nextPickAt time.Time
}

// Simulator runs on the coordinator's loop goroutine and is not safe for
// concurrent use.
type Simulator struct {
	cfg   Config
	reg   *agent.Registry
	scene space.Scene
	rng   *rand.Rand
	log   *log.Logger

	lastStep time.Time
	walks    map[string]*walk
}

func New(reg *agent.Registry, scene space.Scene, cfg Config, rng *rand.Rand, logger *log.Logger) *Simulator {
	cfg.applyDefaults()
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Simulator{
		cfg:   cfg,
		reg:   reg,
		scene: scene,
		rng:   rng,
		log:   logger,
		walks: map[string]*walk{},
	}
}

// Forget drops fallback state for an agent, typically on a fresh claim or
// removal.
func (s *Simulator) Forget(id string) {
	delete(s.walks, id)
}

// Active reports whether the agent is currently fallback-simulated.
func (s *Simulator) Active(id string) bool {
	w := s.walks[id]
	return w != nil && w.active
}

// ActiveCount returns how many agents the fallback is carrying.
func (s *Simulator) ActiveCount() int {
	n := 0
	for _, w := range s.walks {
		if w.active {
			n++
		}
	}
	return n
}

// Step runs one capped pass over the orphaned population and returns the
// IDs it moved. Calls faster than the interval are no-ops.
func (s *Simulator) Step(now time.Time) []string {
	if s.lastStep.IsZero() {
		s.lastStep = now
		return nil
	}
	elapsed := now.Sub(s.lastStep)
	if elapsed < s.cfg.Interval {
		return nil
	}
	s.lastStep = now
	dt := elapsed.Seconds()

	var moved []string
	count := 0
	for _, id := range s.reg.IDs() {
		rec := s.reg.Get(id)
		if rec == nil || rec.Owner != "" || !rec.Alive {
			delete(s.walks, id)
			continue
		}
		w := s.walks[id]
		if w == nil {
			w = &walk{orphanedAt: now}
			s.walks[id] = w
		}
		if now.Sub(w.orphanedAt) < s.cfg.After {
			continue
		}
		if count >= s.cfg.MaxAgents {
			break
		}
		count++
		w.active = true
		if rec.Status != agent.StatusFallback {
			rec.Status = agent.StatusFallback
		}
		if s.advance(rec, w, now, dt) {
			moved = append(moved, id)
		}
	}
	return moved
}

func (s *Simulator) advance(rec *agent.Record, w *walk, now time.Time, dt float64) bool {
	if w.hasGoal && rec.Pos.HorizDist(w.goal) <= 1.0 {
		w.hasGoal = false
		w.nextPickAt = now.Add(time.Duration(2+s.rng.Intn(5)) * time.Second)
	}
	if !w.hasGoal {
		if now.Before(w.nextPickAt) {
			return false
		}
		ang := s.rng.Float64() * 2 * math.Pi
		dist := (0.2 + 0.8*s.rng.Float64()) * rec.Config.WanderRadius
		w.goal = rec.SpawnPos.Add(geo.Heading(ang).Scale(dist))
		w.hasGoal = true
	}

	delta := w.goal.Sub(rec.Pos).Flat()
	dist := delta.Len()
	if dist < 1e-6 {
		w.hasGoal = false
		return false
	}
	step := rec.Config.WalkSpeed * s.cfg.SpeedMult * dt
	if step > dist {
		step = dist
	}
	dir := delta.Scale(1 / dist)
	rec.Pos = rec.Pos.Add(dir.Scale(step))
	rec.Yaw = math.Atan2(dir.X, dir.Z)
	if s.scene != nil {
		probe := geo.Vec3{X: rec.Pos.X, Y: rec.Pos.Y + 4, Z: rec.Pos.Z}
		if ground, ok := space.GroundBelow(s.scene, probe, 8+rec.Config.StandingOffset, 4); ok {
			rec.Pos.Y = ground + rec.Config.StandingOffset
		}
	}
	rec.State = agent.StateWandering
	rec.LastUpdate = now
	return true
}
