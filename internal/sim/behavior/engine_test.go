package behavior_test

import (
	"io"
	"log"
	"math"
	"math/rand"
	"testing"
	"time"

	"mobsim.dev/internal/sim/agent"
	"mobsim.dev/internal/sim/behavior"
	"mobsim.dev/internal/sim/geo"
	"mobsim.dev/internal/sim/jump"
	"mobsim.dev/internal/sim/nav"
	"mobsim.dev/internal/sim/sight"
	"mobsim.dev/internal/sim/space"
)

// linePather returns a single waypoint at the target, which is all a flat
// test scene needs.
type linePather struct{}

func (linePather) FindPath(from, to geo.Vec3) ([]nav.Waypoint, error) {
	return []nav.Waypoint{{Pos: to}}, nil
}

type stubSource struct {
	cands map[string]sight.Candidate
}

func (s *stubSource) CandidatesNear(selfID string, pos geo.Vec3, radius float64) []sight.Candidate {
	var out []sight.Candidate
	for id, c := range s.cands {
		if id == selfID {
			continue
		}
		if pos.HorizDist(c.Pos) <= radius {
			out = append(out, c)
		}
	}
	return out
}

func (s *stubSource) Candidate(id string) (sight.Candidate, bool) {
	c, ok := s.cands[id]
	return c, ok
}

type fixture struct {
	t     *testing.T
	scene *space.BoxScene
	src   *stubSource
	det   *sight.Detector
	adp   *nav.Adapter
	jumps *jump.Simulator
	eng   *behavior.Engine
	recs  map[string]*agent.Record
	now   time.Time
}

func newFixture(t *testing.T, cfg behavior.Config) *fixture {
	t.Helper()
	scene := &space.BoxScene{GroundY: 0}
	src := &stubSource{cands: map[string]sight.Candidate{}}
	rng := rand.New(rand.NewSource(7))
	quiet := log.New(io.Discard, "", 0)

	det := sight.NewDetector(scene, src, sight.Config{}, rng)
	svc := nav.NewService(linePather{}, 1, quiet)
	t.Cleanup(svc.Close)
	adp := nav.NewAdapter(svc, nav.AdapterConfig{})
	jumps := jump.NewSimulator(scene, jump.Config{})
	eng := behavior.NewEngine(adp, jumps, det, scene, cfg, rng, quiet)

	return &fixture{
		t:     t,
		scene: scene,
		src:   src,
		det:   det,
		adp:   adp,
		jumps: jumps,
		eng:   eng,
		recs:  map[string]*agent.Record{},
		now:   time.Unix(1000, 0),
	}
}

// calmConfig keeps idle agents idle so combat tests stay deterministic.
func calmConfig() behavior.Config {
	return behavior.Config{
		WanderCooldownMin: time.Hour,
		WanderCooldownMax: time.Hour,
	}
}

func (f *fixture) spawn(id string, pos geo.Vec3, mut func(*agent.Config)) *agent.Record {
	f.t.Helper()
	cfg := agent.Config{}
	cfg.ApplyDefaults()
	if mut != nil {
		mut(&cfg)
	}
	rec := agent.NewRecord(id, cfg, pos, f.now)
	f.recs[id] = rec
	f.det.Register(rec, f.now)
	f.adp.Register(id)
	f.eng.Register(rec, f.now)
	return rec
}

func (f *fixture) lookup(id string) *agent.Record { return f.recs[id] }

func (f *fixture) position(id string) (geo.Vec3, bool) {
	rec := f.recs[id]
	if rec == nil {
		return geo.Vec3{}, false
	}
	return rec.Pos, true
}

// tick advances the fixture by one 50ms frame through the full pipeline.
func (f *fixture) tick() {
	f.now = f.now.Add(50 * time.Millisecond)
	events := f.det.Step(f.now)
	f.eng.ApplySightEvents(events, f.lookup, f.now)
	f.adp.Drain(f.position)
	for _, rec := range f.recs {
		f.eng.Step(rec, f.now, 0.05)
	}
}

func (f *fixture) tickUntil(limit int, done func() bool) bool {
	f.t.Helper()
	for i := 0; i < limit; i++ {
		f.tick()
		if done() {
			return true
		}
	}
	return false
}

func TestMeleeApproachStopsInsideOffset(t *testing.T) {
	f := newFixture(t, calmConfig())
	rec := f.spawn("mob-1", geo.Vec3{X: 0, Y: 3, Z: 0}, func(c *agent.Config) {
		c.Faction = "wild"
		c.SightRange = 60
		c.MoveMode = agent.ModeMelee
		c.MeleeOffsetRange = 5
	})
	hostile := sight.Candidate{ID: "p1", Pos: geo.Vec3{X: 50, Y: 3, Z: 0}, Faction: "player", Alive: true}
	f.src.cands[hostile.ID] = hostile
	rec.Yaw = rec.Pos.YawTo(hostile.Pos)

	sawApproach := false
	ok := f.tickUntil(300, func() bool {
		if rec.State == agent.StateCombatApproaching {
			sawApproach = true
		}
		return rec.State == agent.StateCombatMelee
	})
	if !ok {
		t.Fatalf("never reached melee, state=%s dist=%.1f", rec.State, rec.Pos.HorizDist(hostile.Pos))
	}
	if !sawApproach {
		t.Fatalf("skipped the approach state")
	}
	if d := rec.Pos.HorizDist(hostile.Pos); d > 5.0 {
		t.Fatalf("stopped at %.2f, want inside melee offset 5", d)
	}

	// Holding still inside range, facing the target.
	before := rec.Pos
	f.tick()
	if rec.Pos.HorizDist(before) > 1e-9 {
		t.Fatalf("moved while holding in melee")
	}
	if want := rec.Pos.YawTo(hostile.Pos); math.Abs(rec.Yaw-want) > 1e-9 {
		t.Fatalf("yaw=%f, want facing target %f", rec.Yaw, want)
	}
}

func TestMeleeReapproachesWhenTargetRetreats(t *testing.T) {
	f := newFixture(t, calmConfig())
	rec := f.spawn("mob-1", geo.Vec3{X: 0, Y: 3, Z: 0}, func(c *agent.Config) {
		c.Faction = "wild"
		c.SightRange = 60
		c.MoveMode = agent.ModeMelee
		c.MeleeOffsetRange = 5
	})
	hostile := sight.Candidate{ID: "p1", Pos: geo.Vec3{X: 20, Y: 3, Z: 0}, Faction: "player", Alive: true}
	f.src.cands[hostile.ID] = hostile
	rec.Yaw = rec.Pos.YawTo(hostile.Pos)

	if !f.tickUntil(200, func() bool { return rec.State == agent.StateCombatMelee }) {
		t.Fatalf("never reached melee")
	}

	hostile.Pos.X += 30
	f.src.cands[hostile.ID] = hostile
	if !f.tickUntil(10, func() bool { return rec.State == agent.StateCombatApproaching }) {
		t.Fatalf("did not resume approaching after target retreated")
	}
}

func TestRangedHoldsAtFraction(t *testing.T) {
	f := newFixture(t, calmConfig())
	rec := f.spawn("mob-1", geo.Vec3{X: 0, Y: 3, Z: 0}, func(c *agent.Config) {
		c.Faction = "wild"
		c.SightRange = 60
		c.MoveMode = agent.ModeRanged
		c.RangedHoldFraction = 0.7
	})
	hostile := sight.Candidate{ID: "p1", Pos: geo.Vec3{X: 55, Y: 3, Z: 0}, Faction: "player", Alive: true}
	f.src.cands[hostile.ID] = hostile
	rec.Yaw = rec.Pos.YawTo(hostile.Pos)

	if !f.tickUntil(200, func() bool { return rec.State == agent.StateCombatRanged }) {
		t.Fatalf("never reached ranged hold, state=%s", rec.State)
	}
	d := rec.Pos.HorizDist(hostile.Pos)
	if hold := 60 * 0.7; d > hold || d < hold-2 {
		t.Fatalf("holding at %.2f, want just inside %.1f", d, hold)
	}
}

func TestFleeRunsUntilSafe(t *testing.T) {
	f := newFixture(t, calmConfig())
	rec := f.spawn("mob-1", geo.Vec3{X: 0, Y: 3, Z: 0}, func(c *agent.Config) {
		c.Faction = "wild"
		c.SightRange = 60
		c.SightMode = agent.SightOmni
		c.MoveMode = agent.ModeFlee
	})
	threat := sight.Candidate{ID: "p1", Pos: geo.Vec3{X: 10, Y: 3, Z: 0}, Faction: "player", Alive: true}
	f.src.cands[threat.ID] = threat

	if !f.tickUntil(10, func() bool { return rec.State == agent.StateFleeing }) {
		t.Fatalf("threat not noticed")
	}

	// The notice pause: rooted, staring at the threat.
	start := rec.Pos
	f.tick()
	f.tick()
	if rec.Pos.HorizDist(start) > 1e-9 {
		t.Fatalf("moved during the notice pause")
	}
	if want := rec.Pos.YawTo(threat.Pos); math.Abs(rec.Yaw-want) > 1e-9 {
		t.Fatalf("yaw=%f, want staring at threat %f", rec.Yaw, want)
	}

	safe := rec.Config.SightRange * rec.Config.FleeSafeFactor
	if !f.tickUntil(600, func() bool { return rec.State == agent.StateIdle }) {
		t.Fatalf("never calmed down, dist=%.1f state=%s", rec.Pos.HorizDist(threat.Pos), rec.State)
	}
	if d := rec.Pos.HorizDist(threat.Pos); d < safe {
		t.Fatalf("calmed down at %.1f, want past %.1f", d, safe)
	}
	if _, held := f.det.Target(rec.ID); held {
		t.Fatalf("target still held after flee ended")
	}
	if rec.Destination != nil {
		t.Fatalf("stale flee destination left behind")
	}
}

func TestLostTargetInvestigated(t *testing.T) {
	f := newFixture(t, calmConfig())
	rec := f.spawn("mob-1", geo.Vec3{X: 0, Y: 3, Z: 0}, func(c *agent.Config) {
		c.Faction = "wild"
		c.SightRange = 60
		c.MoveMode = agent.ModeMelee
	})
	hostile := sight.Candidate{ID: "p1", Pos: geo.Vec3{X: 30, Y: 3, Z: 0}, Faction: "player", Alive: true}
	f.src.cands[hostile.ID] = hostile
	rec.Yaw = rec.Pos.YawTo(hostile.Pos)

	if !f.tickUntil(10, func() bool { return rec.State == agent.StateCombatApproaching }) {
		t.Fatalf("never acquired")
	}

	delete(f.src.cands, hostile.ID)
	if !f.tickUntil(60, func() bool { return rec.State == agent.StateWandering }) {
		t.Fatalf("loss did not trigger an investigation walk, state=%s", rec.State)
	}
	if rec.Destination == nil {
		t.Fatalf("no investigation destination")
	}
	goal := *rec.Destination
	if goal.HorizDist(hostile.Pos) > 1e-9 {
		t.Fatalf("investigating %v, want last known %v", goal, hostile.Pos)
	}
	if !f.tickUntil(400, func() bool { return rec.State == agent.StateIdle }) {
		t.Fatalf("investigation never finished")
	}
	if d := rec.Pos.HorizDist(goal); d > 2.5 {
		t.Fatalf("stopped %.2f from last known position", d)
	}
}

func TestStuckAgentJumps(t *testing.T) {
	f := newFixture(t, calmConfig())
	rec := f.spawn("mob-1", geo.Vec3{X: 0, Y: 3, Z: 0}, nil)
	rec.Config.WalkSpeed = 0 // wants to move, cannot
	dest := geo.Vec3{X: 40, Y: 3, Z: 0}
	rec.Destination = &dest
	rec.State = agent.StateWandering

	jumped := f.tickUntil(40, func() bool { return rec.Jumping })
	if !jumped {
		t.Fatalf("stuck agent never jumped")
	}
	if rec.Destination == nil {
		t.Fatalf("stuck recovery dropped the destination")
	}
}

func TestWanderStaysInsideRadius(t *testing.T) {
	f := newFixture(t, behavior.Config{
		WanderCooldownMin: 100 * time.Millisecond,
		WanderCooldownMax: 150 * time.Millisecond,
		WanderChance:      1,
	})
	rec := f.spawn("mob-1", geo.Vec3{X: 5, Y: 3, Z: 5}, func(c *agent.Config) {
		c.WanderRadius = 30
	})

	if !f.tickUntil(20, func() bool { return rec.State == agent.StateWandering }) {
		t.Fatalf("never started wandering")
	}
	if rec.Destination == nil {
		t.Fatalf("wandering without a destination")
	}
	if d := rec.Destination.HorizDist(rec.SpawnPos); d > 30 {
		t.Fatalf("wander goal %.1f from spawn, want inside radius 30", d)
	}
	if !f.tickUntil(200, func() bool { return rec.State == agent.StateIdle }) {
		t.Fatalf("wander never arrived")
	}
	if d := rec.Pos.HorizDist(rec.SpawnPos); d > 30+1 {
		t.Fatalf("ended up %.1f from spawn", d)
	}
}

func TestCommandedDestinationStartsWalk(t *testing.T) {
	f := newFixture(t, calmConfig())
	rec := f.spawn("mob-1", geo.Vec3{X: 0, Y: 3, Z: 0}, nil)

	dest := geo.Vec3{X: 24, Y: 3, Z: 0}
	rec.Destination = &dest
	f.tick()
	if rec.State != agent.StateWandering {
		t.Fatalf("state=%s, want wandering toward the commanded point", rec.State)
	}
	if !f.tickUntil(120, func() bool { return rec.State == agent.StateIdle }) {
		t.Fatalf("never arrived at the commanded point")
	}
	if d := rec.Pos.HorizDist(dest); d > 2.5 {
		t.Fatalf("stopped %.2f away from the commanded point", d)
	}
}
