package behavior

import (
	"log"
	"math/rand"
	"time"

	"mobsim.dev/internal/sim/agent"
	"mobsim.dev/internal/sim/geo"
	"mobsim.dev/internal/sim/jump"
	"mobsim.dev/internal/sim/nav"
	"mobsim.dev/internal/sim/sight"
	"mobsim.dev/internal/sim/space"
)

// Config carries the engine-level knobs; per-agent parameters live in the
// agent's own config.
type Config struct {
	WanderCooldownMin time.Duration
	WanderCooldownMax time.Duration
	WanderChance      float64

	StuckWindow          time.Duration
	StuckMinDisplacement float64

	ArriveThreshold  float64
	PathFailureLimit int
}

func (c *Config) applyDefaults() {
	if c.WanderCooldownMin <= 0 {
		c.WanderCooldownMin = 2 * time.Second
	}
	if c.WanderCooldownMax < c.WanderCooldownMin {
		c.WanderCooldownMax = 6 * time.Second
	}
	if c.WanderChance <= 0 {
		c.WanderChance = 0.3
	}
	if c.StuckWindow <= 0 {
		c.StuckWindow = 1200 * time.Millisecond
	}
	if c.StuckMinDisplacement <= 0 {
		c.StuckMinDisplacement = 1.5
	}
	if c.ArriveThreshold <= 0 {
		c.ArriveThreshold = 2
	}
	if c.PathFailureLimit <= 0 {
		c.PathFailureLimit = 3
	}
}

// Engine drives the per-tick movement state machine for every agent a node
// simulates. It owns behavior state only; routes live in the nav adapter,
// arcs in the jump simulator, targets in the detector.
type Engine struct {
	cfg   Config
	nav   *nav.Adapter
	jumps *jump.Simulator
	det   *sight.Detector
	scene space.Scene
	rng   *rand.Rand
	log   *log.Logger

	boards map[string]*blackboard
}

// blackboard is the engine's scratch state for one agent.
type blackboard struct {
	nextWanderAt time.Time

	// meleeHold is this engagement's randomized hold distance.
	meleeHold float64

	// threatPos tracks the flee threat even after sight loses it.
	threatPos   geo.Vec3
	hasThreat   bool
	noticeUntil time.Time

	// requested goal of the newest route ask, for push-recalc checks.
	lastGoal    geo.Vec3
	hasLastGoal bool

	// rolling displacement window for stuck detection.
	samples []posSample

	jumpedForWaypoint int
}

type posSample struct {
	at  time.Time
	pos geo.Vec3
}

func NewEngine(n *nav.Adapter, j *jump.Simulator, d *sight.Detector, scene space.Scene, cfg Config, rng *rand.Rand, logger *log.Logger) *Engine {
	cfg.applyDefaults()
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		cfg:    cfg,
		nav:    n,
		jumps:  j,
		det:    d,
		scene:  scene,
		rng:    rng,
		log:    logger,
		boards: map[string]*blackboard{},
	}
}

// Register adds an agent and returns its detach func.
func (e *Engine) Register(rec *agent.Record, now time.Time) func() {
	e.boards[rec.ID] = &blackboard{
		nextWanderAt:      now.Add(e.wanderCooldown()),
		jumpedForWaypoint: -1,
	}
	return func() { delete(e.boards, rec.ID) }
}

func (e *Engine) wanderCooldown() time.Duration {
	span := e.cfg.WanderCooldownMax - e.cfg.WanderCooldownMin
	return e.cfg.WanderCooldownMin + time.Duration(e.rng.Float64()*float64(span))
}

// ApplySightEvents folds target transitions into behavior state. Combat
// takes precedence over wandering: any pending wander destination dies on
// acquisition.
func (e *Engine) ApplySightEvents(events []sight.Event, lookup func(string) *agent.Record, now time.Time) {
	for _, ev := range events {
		rec := lookup(ev.AgentID)
		bb := e.boards[ev.AgentID]
		if rec == nil || bb == nil {
			continue
		}
		switch ev.Kind {
		case sight.EventAcquired:
			e.onAcquired(rec, bb, now)
		case sight.EventLost:
			e.onLost(rec, bb, ev.LastKnown, now)
		}
	}
}

func (e *Engine) onAcquired(rec *agent.Record, bb *blackboard, now time.Time) {
	tgt, ok := e.det.Target(rec.ID)
	switch {
	case rec.Config.CombatMovement():
		e.clearTravel(rec, bb)
		bb.meleeHold = e.meleeHoldDistance(rec.Config)
		rec.State = agent.StateCombatApproaching
	case rec.Config.MoveMode == agent.ModeFlee:
		if ok {
			bb.threatPos = tgt.Pos
			bb.hasThreat = true
		}
		if rec.State != agent.StateFleeing {
			e.clearTravel(rec, bb)
			bb.noticeUntil = now.Add(time.Duration(rec.Config.FleeNoticeSeconds * float64(time.Second)))
			rec.State = agent.StateFleeing
		}
	default:
		// ModeNone watches and does nothing.
	}
}

func (e *Engine) onLost(rec *agent.Record, bb *blackboard, lastKnown geo.Vec3, now time.Time) {
	if rec.State == agent.StateFleeing {
		// Keep fleeing from the remembered threat until the safe-distance
		// check clears it.
		return
	}
	switch rec.State {
	case agent.StateCombatApproaching, agent.StateCombatMelee, agent.StateCombatRanged:
		// Walk to the last known position before giving up.
		e.clearTravel(rec, bb)
		dest := lastKnown
		rec.Destination = &dest
		rec.State = agent.StateWandering
	}
}

func (e *Engine) meleeHoldDistance(cfg agent.Config) float64 {
	lo := cfg.MeleeOffsetMin()
	hi := cfg.MeleeOffsetRange
	if hi <= lo {
		return hi
	}
	return lo + e.rng.Float64()*(hi-lo)
}

func (e *Engine) desiredRange(rec *agent.Record, bb *blackboard) float64 {
	if rec.Config.MoveMode == agent.ModeMelee {
		if bb.meleeHold <= 0 {
			bb.meleeHold = e.meleeHoldDistance(rec.Config)
		}
		return bb.meleeHold
	}
	return rec.Config.SightRange * rec.Config.RangedHoldFraction
}
