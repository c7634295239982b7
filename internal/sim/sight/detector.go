package sight

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"mobsim.dev/internal/sim/agent"
	"mobsim.dev/internal/sim/geo"
	"mobsim.dev/internal/sim/space"
)

// Config carries detection cadence and cone shape.
type Config struct {
	// ConeAngleDeg is the TOTAL directional cone angle; the dot-product
	// check uses half of it.
	ConeAngleDeg float64

	IdleIntervalMin time.Duration
	IdleIntervalMax time.Duration
	EngagedInterval time.Duration

	// LoopInterval is the shared loop's wake cadence; Step calls inside
	// the same interval are no-ops.
	LoopInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConeAngleDeg <= 0 {
		c.ConeAngleDeg = 120
	}
	if c.IdleIntervalMin <= 0 {
		c.IdleIntervalMin = time.Second
	}
	if c.IdleIntervalMax < c.IdleIntervalMin {
		c.IdleIntervalMax = 3 * time.Second
	}
	if c.EngagedInterval <= 0 {
		c.EngagedInterval = 1500 * time.Millisecond
	}
	if c.LoopInterval <= 0 {
		c.LoopInterval = 100 * time.Millisecond
	}
}

// EventKind reports a target transition.
type EventKind string

const (
	EventAcquired EventKind = "ACQUIRED"
	EventLost     EventKind = "LOST"
)

// Event tells the behavior engine that an agent's target changed. LastKnown
// is where a lost target was last seen.
type Event struct {
	AgentID   string
	Kind      EventKind
	TargetID  string
	LastKnown geo.Vec3
}

// Detector services all registered agents from one schedule instead of one
// loop per agent. Everything runs on the owning simulation goroutine.
type Detector struct {
	cfg   Config
	scene space.Scene
	src   Source
	rng   *rand.Rand

	sched    schedule
	slots    map[string]*slot
	lastStep time.Time
}

type slot struct {
	rec *agent.Record

	targetID  string
	lastSeen  geo.Vec3
	hasTarget bool
}

func NewDetector(scene space.Scene, src Source, cfg Config, rng *rand.Rand) *Detector {
	cfg.applyDefaults()
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Detector{
		cfg:   cfg,
		scene: scene,
		src:   src,
		rng:   rng,
		slots: map[string]*slot{},
	}
}

// Register adds an agent to the shared schedule with an immediate first
// pass. The returned detach frees the slot; a forgotten detach would leave
// the agent scheduled forever.
func (d *Detector) Register(rec *agent.Record, now time.Time) func() {
	s := &slot{rec: rec}
	d.slots[rec.ID] = s
	d.sched.push(rec.ID, now)
	return func() {
		delete(d.slots, rec.ID)
	}
}

// Target returns the live state of an agent's held target. ok is false when
// no target is held or the target left the world.
func (d *Detector) Target(id string) (Candidate, bool) {
	s := d.slots[id]
	if s == nil || !s.hasTarget {
		return Candidate{}, false
	}
	return d.src.Candidate(s.targetID)
}

// DropTarget clears a held target without an event (used when behavior
// resolves the loss itself, e.g. flee termination).
func (d *Detector) DropTarget(id string) {
	if s := d.slots[id]; s != nil {
		s.hasTarget = false
		s.targetID = ""
	}
}

// Step services every agent whose detection is due and returns the target
// transitions. Calls more frequent than the loop interval are no-ops.
func (d *Detector) Step(now time.Time) []Event {
	if !d.lastStep.IsZero() && now.Sub(d.lastStep) < d.cfg.LoopInterval {
		return nil
	}
	d.lastStep = now

	var events []Event
	for {
		id, ok := d.sched.popDue(now)
		if !ok {
			break
		}
		s := d.slots[id]
		if s == nil {
			// Detached since scheduling; the entry just dies here.
			continue
		}
		if ev, changed := d.detect(s); changed {
			events = append(events, ev)
		}
		d.reschedule(s, now)
	}
	return events
}

func (d *Detector) reschedule(s *slot, now time.Time) {
	var wait time.Duration
	if s.hasTarget {
		wait = d.cfg.EngagedInterval
	} else {
		span := d.cfg.IdleIntervalMax - d.cfg.IdleIntervalMin
		wait = d.cfg.IdleIntervalMin + time.Duration(d.rng.Float64()*float64(span))
	}
	d.sched.push(s.rec.ID, now.Add(wait))
}

// detect runs the full pipeline for one agent: gather, cone, line of sight,
// ally filter, sort, pick nearest.
func (d *Detector) detect(s *slot) (Event, bool) {
	rec := s.rec
	if !rec.Alive {
		return d.setTarget(s, Candidate{}, false)
	}

	cands := d.src.CandidatesNear(rec.ID, rec.Pos, rec.Config.SightRange)

	cosHalf := math.Cos(d.cfg.ConeAngleDeg / 2 * math.Pi / 180)
	forward := geo.Heading(rec.Yaw)
	eye := rec.Pos

	kept := cands[:0]
	for _, c := range cands {
		if !c.Alive || c.ID == rec.ID {
			continue
		}
		if rec.Config.SightMode == agent.SightDirectional {
			to := c.Pos.Sub(eye).Flat().Norm()
			if to.IsZero() || forward.Dot(to) < cosHalf {
				continue
			}
		}
		if !space.LineOfSight(d.scene, eye, c.Pos, map[string]bool{rec.ID: true, c.ID: true}) {
			continue
		}
		if isAlly(rec.Config, c) {
			continue
		}
		kept = append(kept, c)
	}

	if len(kept) == 0 {
		return d.setTarget(s, Candidate{}, false)
	}

	sort.Slice(kept, func(i, j int) bool {
		di := kept[i].Pos.DistSq(eye)
		dj := kept[j].Pos.DistSq(eye)
		if math.Abs(di-dj) > 1e-9 {
			return di < dj
		}
		return kept[i].ID < kept[j].ID
	})
	return d.setTarget(s, kept[0], true)
}

func isAlly(cfg agent.Config, c Candidate) bool {
	if cfg.AttackAllies {
		return false
	}
	if cfg.Faction == "" && c.Faction == "" {
		return true
	}
	return cfg.Faction != "" && cfg.Faction == c.Faction
}

func (d *Detector) setTarget(s *slot, c Candidate, has bool) (Event, bool) {
	switch {
	case has && (!s.hasTarget || s.targetID != c.ID):
		s.hasTarget = true
		s.targetID = c.ID
		s.lastSeen = c.Pos
		return Event{AgentID: s.rec.ID, Kind: EventAcquired, TargetID: c.ID}, true
	case has:
		s.lastSeen = c.Pos
		return Event{}, false
	case s.hasTarget:
		last := s.lastSeen
		prev := s.targetID
		s.hasTarget = false
		s.targetID = ""
		return Event{AgentID: s.rec.ID, Kind: EventLost, TargetID: prev, LastKnown: last}, true
	default:
		return Event{}, false
	}
}
