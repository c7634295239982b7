// Package node runs one simulation node: it mirrors the coordinator's
// agent roster, claims the agents near its local viewpoint, and simulates
// the claimed ones through the behavior pipeline. One goroutine owns all
// of it; transport goroutines only feed the channels.
package node

import (
	"context"
	"log"
	"math/rand"
	"time"

	"mobsim.dev/internal/metrics"
	"mobsim.dev/internal/protocol"
	"mobsim.dev/internal/sim/agent"
	"mobsim.dev/internal/sim/behavior"
	"mobsim.dev/internal/sim/geo"
	"mobsim.dev/internal/sim/jump"
	"mobsim.dev/internal/sim/nav"
	"mobsim.dev/internal/sim/sight"
	"mobsim.dev/internal/sim/space"
	"mobsim.dev/internal/sim/syncer"
	"mobsim.dev/internal/sim/tuning"
)

// Sender pushes one message to the coordinator. The ws client implements
// it; tests use a capture.
type Sender interface {
	Send(v any) error
}

// heartbeatEvery paces the NODE_VIEWPOINT reports that double as the
// connection keepalive. Must stay well under the server's read deadline.
const heartbeatEvery = 5 * time.Second

// maxStepDt clamps the integration step after a stall so physics does not
// teleport agents across a multi-second gap.
const maxStepDt = 0.25

type Runtime struct {
	tun    tuning.Tuning
	params protocol.SimParams
	selfID string
	log    *log.Logger

	sender  Sender
	mirrors *agent.Registry
	src     *mirrorSource

	scene  space.Scene
	navSvc *nav.Service
	nav    *nav.Adapter
	jumps  *jump.Simulator
	det    *sight.Detector
	engine *behavior.Engine
	outbox *syncer.Outbox

	viewpoint geo.Vec3

	// owned holds the teardown handles per claimed agent; its key set is
	// the authoritative "what am I simulating" answer.
	owned map[string]*agent.Handles
	plans map[string]claimPlan

	// rosterPrimed flips once the first step has scheduled claims for the
	// orphans that arrived with WELCOME.
	rosterPrimed bool

	inbox  chan []byte
	frames chan time.Time
	vp     chan geo.Vec3
	cands  chan []sight.Candidate
	stop   chan struct{}

	lastStep      time.Time
	lastPrimary   time.Time
	nextHeartbeat time.Time

	lastPathReqs  uint64
	lastPathFails uint64

	metrics *metrics.Node
	rng     *rand.Rand
}

// New wires the simulation pipeline for one node session. welcome carries
// the coordinator-issued identity, shared params, and roster; tun supplies
// the node-local knobs the coordinator does not arbitrate; viewpoint is
// the host's starting position.
func New(tun tuning.Tuning, welcome protocol.WelcomeMsg, viewpoint geo.Vec3, sender Sender, scene space.Scene, pf nav.Pathfinder, logger *log.Logger) *Runtime {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	src := newMirrorSource()
	det := sight.NewDetector(scene, src, sight.Config{
		ConeAngleDeg:    tun.Sight.ConeAngleDeg,
		IdleIntervalMin: time.Duration(tun.Sight.IdleIntervalMinMs) * time.Millisecond,
		IdleIntervalMax: time.Duration(tun.Sight.IdleIntervalMaxMs) * time.Millisecond,
		EngagedInterval: time.Duration(tun.Sight.EngagedIntervalMs) * time.Millisecond,
		LoopInterval:    time.Duration(tun.Sight.LoopIntervalMs) * time.Millisecond,
	}, rng)

	svc := nav.NewService(pf, tun.Path.Workers, logger)
	adp := nav.NewAdapter(svc, nav.AdapterConfig{
		RecalcEvery:       time.Duration(tun.Path.RecalcIntervalMs) * time.Millisecond,
		CombatRecalcEvery: time.Duration(tun.Path.CombatRecalcIntervalMs) * time.Millisecond,
	})

	jumps := jump.NewSimulator(scene, jump.Config{
		Gravity:        tun.Jump.Gravity,
		TimeoutSeconds: float64(tun.Jump.TimeoutMs) / 1000,
		SkipLimit:      tun.Jump.RaycastSkipLimit,
	})

	eng := behavior.NewEngine(adp, jumps, det, scene, behavior.Config{
		WanderCooldownMin:    time.Duration(tun.Wander.CooldownMinMs) * time.Millisecond,
		WanderCooldownMax:    time.Duration(tun.Wander.CooldownMaxMs) * time.Millisecond,
		WanderChance:         tun.Wander.Chance,
		StuckWindow:          time.Duration(tun.Stuck.WindowMs) * time.Millisecond,
		StuckMinDisplacement: tun.Stuck.MinDisplacement,
		ArriveThreshold:      tun.Path.ArriveThreshold,
		PathFailureLimit:     tun.Path.FailureLimit,
	}, rng, logger)

	outbox := syncer.NewOutbox(syncer.Config{
		SendInterval: time.Duration(welcome.Params.SendIntervalMs) * time.Millisecond,
		MaxBatch:     tun.Sync.MaxBatch,
	})

	r := &Runtime{
		tun:       tun,
		params:    welcome.Params,
		selfID:    welcome.NodeID,
		log:       logger,
		sender:    sender,
		mirrors:   agent.NewRegistry(),
		src:       src,
		scene:     scene,
		navSvc:    svc,
		nav:       adp,
		jumps:     jumps,
		det:       det,
		engine:    eng,
		outbox:    outbox,
		viewpoint: viewpoint,
		owned:     map[string]*agent.Handles{},
		plans:     map[string]claimPlan{},
		inbox:     make(chan []byte, 1024),
		frames:    make(chan time.Time, 1),
		vp:        make(chan geo.Vec3, 8),
		cands:     make(chan []sight.Candidate, 8),
		stop:      make(chan struct{}),
		rng:       rng,
	}
	for _, st := range welcome.Agents {
		if err := r.mirrors.Add(agent.RecordFromWire(st, time.Now())); err != nil {
			logger.Printf("roster entry %s: %v", st.ID, err)
		}
	}
	return r
}

func (r *Runtime) SetMetrics(m *metrics.Node) { r.metrics = m }

func (r *Runtime) NodeID() string { return r.selfID }

// Inbox receives raw coordinator frames, normally from ws.Client.ReadPump.
func (r *Runtime) Inbox() chan<- []byte { return r.inbox }

// Tick is the host-driven primary clock. Non-blocking: a frame that finds
// the loop busy is dropped, the next one lands.
func (r *Runtime) Tick(now time.Time) {
	select {
	case r.frames <- now:
	default:
	}
}

// MoveViewpoint reports the host's local viewpoint. Claim eligibility and
// release hysteresis key off it.
func (r *Runtime) MoveViewpoint(p geo.Vec3) {
	select {
	case r.vp <- p:
	default:
	}
}

// SetCandidates replaces the host-supplied sight candidates (players and
// anything else agents may target beyond each other).
func (r *Runtime) SetCandidates(cs []sight.Candidate) {
	select {
	case r.cands <- cs:
	default:
	}
}

// primeClaims schedules claims for the orphans that were already in the
// roster, so a fresh node picks up existing agents without waiting for
// churn. Runs once, on the first step, against the newest mirror state.
func (r *Runtime) primeClaims(now time.Time) {
	if r.rosterPrimed {
		return
	}
	r.rosterPrimed = true
	r.mirrors.Each(func(rec *agent.Record) {
		if rec.Owner != "" || !rec.Alive {
			return
		}
		if _, pending := r.plans[rec.ID]; pending {
			return
		}
		r.scheduleClaim(rec.ID, rec.Pos, rec.ClaimVersion, now)
	})
}

// Run drives the loop until ctx ends. The secondary ticker only steps the
// simulation when the primary clock has gone quiet.
func (r *Runtime) Run(ctx context.Context) error {
	secondary := time.Second / time.Duration(r.tun.SecondaryTickHz)
	stall := time.Duration(r.tun.PrimaryStallMs) * time.Millisecond
	watchdog := time.NewTicker(secondary)
	defer watchdog.Stop()
	defer r.navSvc.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case b := <-r.inbox:
			r.handleFrame(b, time.Now())
		case now := <-r.frames:
			r.lastPrimary = now
			r.step(now)
		case now := <-watchdog.C:
			if r.lastPrimary.IsZero() || now.Sub(r.lastPrimary) > stall {
				r.step(now)
			}
		case p := <-r.vp:
			r.viewpoint = p
		case cs := <-r.cands:
			r.src.setExternal(cs)
		}
	}
}

func (r *Runtime) Stop() { close(r.stop) }

// Close releases the path workers. Run does this itself on exit; hosts
// that drive the runtime through StepOnce call it directly.
func (r *Runtime) Close() { r.navSvc.Close() }

// StepOnce applies the given inbound frames and advances one tick. Tests
// drive the runtime through this, the way Run would.
func (r *Runtime) StepOnce(now time.Time, frames ...[]byte) {
	for _, b := range frames {
		r.handleFrame(b, now)
	}
	r.step(now)
}

func (r *Runtime) step(now time.Time) {
	started := time.Now()

	dt := 1.0 / float64(r.params.TickRateHz)
	if !r.lastStep.IsZero() {
		dt = now.Sub(r.lastStep).Seconds()
		if dt <= 0 {
			return
		}
		if dt > maxStepDt {
			dt = maxStepDt
		}
	}
	r.lastStep = now

	r.primeClaims(now)
	r.src.rebuild(r.mirrors)

	events := r.det.Step(now)
	r.engine.ApplySightEvents(events, r.mirrors.Get, now)

	r.nav.Drain(func(id string) (geo.Vec3, bool) {
		rec := r.mirrors.Get(id)
		if rec == nil {
			return geo.Vec3{}, false
		}
		return rec.Pos, true
	})

	for id := range r.owned {
		rec := r.mirrors.Get(id)
		if rec == nil {
			continue
		}
		r.engine.Step(rec, now, dt)
		rec.LastUpdate = now
	}

	r.releaseFar(now)
	r.firePlans(now)
	r.flushUpdates(now)
	r.heartbeat(now)

	if r.metrics != nil {
		r.metrics.OwnedAgents.Set(float64(len(r.owned)))
		r.metrics.MirrorAgents.Set(float64(r.mirrors.Len()))
		reqs, fails := r.nav.Stats()
		r.metrics.PathRequests.Add(float64(reqs - r.lastPathReqs))
		r.metrics.PathFailures.Add(float64(fails - r.lastPathFails))
		r.lastPathReqs, r.lastPathFails = reqs, fails
		r.metrics.TickDuration.Observe(time.Since(started).Seconds())
	}
}

func (r *Runtime) flushUpdates(now time.Time) {
	recs := make([]*agent.Record, 0, len(r.owned))
	for id := range r.owned {
		if rec := r.mirrors.Get(id); rec != nil {
			recs = append(recs, rec)
		}
	}
	for _, msg := range r.outbox.Collect(now, recs) {
		if err := r.sender.Send(msg); err != nil {
			r.log.Printf("send AGENT_POS: %v", err)
			return
		}
		if r.metrics != nil {
			r.metrics.UpdatesSent.Add(float64(len(msg.Updates)))
		}
	}
}

func (r *Runtime) heartbeat(now time.Time) {
	if now.Before(r.nextHeartbeat) {
		return
	}
	r.nextHeartbeat = now.Add(heartbeatEvery)
	msg := protocol.NodeViewpointMsg{
		Type:            protocol.TypeNodeViewpoint,
		ProtocolVersion: protocol.Version,
		Pos:             agent.WireVec3(r.viewpoint),
	}
	if err := r.sender.Send(msg); err != nil {
		r.log.Printf("send NODE_VIEWPOINT: %v", err)
	}
}

// adopt wires the simulation pipeline for a granted agent and returns its
// handle arena. Everything registered here is released as a unit.
func (r *Runtime) adopt(rec *agent.Record, now time.Time) {
	h := &agent.Handles{}
	h.Add(r.det.Register(rec, now))
	h.Add(r.nav.Register(rec.ID))
	h.Add(r.engine.Register(rec, now))
	h.Add(func() { r.jumps.Cancel(rec.ID) })
	h.Add(func() { r.outbox.Forget(rec.ID) })
	r.owned[rec.ID] = h
}

// teardown detaches a previously adopted agent. Safe to call for agents
// never adopted.
func (r *Runtime) teardown(id string) {
	h := r.owned[id]
	if h == nil {
		return
	}
	delete(r.owned, id)
	h.Release()
}
