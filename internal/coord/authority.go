// Package coord is the coordinating authority for the agent population:
// it owns the registry, arbitrates claims, rebroadcasts position writes,
// sweeps dead owners, and runs the fallback simulator for long orphans.
package coord

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mobsim.dev/internal/metrics"
	"mobsim.dev/internal/persistence/snapshot"
	"mobsim.dev/internal/protocol"
	"mobsim.dev/internal/sim/agent"
	"mobsim.dev/internal/sim/fallback"
	"mobsim.dev/internal/sim/geo"
	"mobsim.dev/internal/sim/space"
	"mobsim.dev/internal/sim/syncer"
	"mobsim.dev/internal/sim/tuning"
)

const requestTimeout = 3 * time.Second

// JoinRequest is a node handshake entering the loop.
type JoinRequest struct {
	NodeName  string
	Viewpoint *geo.Vec3
	Out       chan []byte
	Resp      chan JoinResponse
}

type JoinResponse struct {
	NodeID  string
	Welcome protocol.WelcomeMsg
}

// Envelope carries one decoded node message into the loop. Exactly one
// field is set.
type Envelope struct {
	NodeID    string
	Claim     *protocol.ClaimAgentMsg
	Release   *protocol.ReleaseAgentMsg
	Pos       *protocol.AgentPosMsg
	Viewpoint *protocol.NodeViewpointMsg
}

// EventSink receives ownership and lifecycle events for indexing. Calls
// happen on the loop goroutine; implementations must not block.
type EventSink interface {
	AgentEvent(now time.Time, kind, agentID, nodeID string, version uint64, pos geo.Vec3)
}

type nodeState struct {
	id           string
	name         string
	out          chan []byte
	viewpoint    geo.Vec3
	hasViewpoint bool
	joinedAt     time.Time
}

type Authority struct {
	cfg   tuning.Tuning
	log   *log.Logger
	reg   *agent.Registry
	nodes map[string]*nodeState
	fb    *fallback.Simulator
	rng   *rand.Rand

	validate syncer.WriteValidator

	join    chan JoinRequest
	leave   chan string
	inbox   chan Envelope
	spawn   chan spawnReq
	remove  chan removeReq
	command chan commandReq
	status  chan statusReq
	roster  chan rosterReq
	stop    chan struct{}

	tick      atomic.Uint64
	lastSweep time.Time

	events       EventSink
	snapshotSink chan<- snapshot.StateV1
	metrics      *metrics.Coordinator
}

func New(cfg tuning.Tuning, scene space.Scene, logger *log.Logger) *Authority {
	reg := agent.NewRegistry()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	a := &Authority{
		cfg:   cfg,
		log:   logger,
		reg:   reg,
		nodes: map[string]*nodeState{},
		rng:   rng,

		join:    make(chan JoinRequest, 64),
		leave:   make(chan string, 64),
		inbox:   make(chan Envelope, 1024),
		spawn:   make(chan spawnReq, 64),
		remove:  make(chan removeReq, 64),
		command: make(chan commandReq, 64),
		status:  make(chan statusReq, 16),
		roster:  make(chan rosterReq, 16),
		stop:    make(chan struct{}),
	}
	a.fb = fallback.New(reg, scene, fallback.Config{
		After:     time.Duration(cfg.Fallback.AfterMs) * time.Millisecond,
		Interval:  time.Duration(cfg.Fallback.UpdateIntervalMs) * time.Millisecond,
		SpeedMult: cfg.Fallback.SpeedMult,
		MaxAgents: cfg.Fallback.MaxAgents,
	}, rng, logger)
	return a
}

func (a *Authority) SetEventSink(s EventSink)                   { a.events = s }
func (a *Authority) SetSnapshotSink(ch chan<- snapshot.StateV1) { a.snapshotSink = ch }
func (a *Authority) SetMetrics(m *metrics.Coordinator)          { a.metrics = m }
func (a *Authority) SetWriteValidator(v syncer.WriteValidator)  { a.validate = v }

func (a *Authority) Join() chan<- JoinRequest { return a.join }
func (a *Authority) Leave() chan<- string     { return a.leave }
func (a *Authority) Inbox() chan<- Envelope   { return a.inbox }

func (a *Authority) CurrentTick() uint64 { return a.tick.Load() }

// Run drives the loop until ctx ends or Stop is called. All registry access
// happens here; nothing else touches it.
func (a *Authority) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(a.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []string
	var pendingEnvs []Envelope

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stop:
			return nil
		case req := <-a.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-a.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-a.inbox:
			pendingEnvs = append(pendingEnvs, env)
		case req := <-a.spawn:
			a.handleSpawn(req, time.Now())
		case req := <-a.remove:
			a.handleRemove(req, time.Now())
		case req := <-a.command:
			a.handleCommand(req, time.Now())
		case req := <-a.status:
			a.handleStatus(req)
		case req := <-a.roster:
			a.handleRoster(req)
		case <-ticker.C:
			a.step(time.Now(), pendingJoins, pendingLeaves, pendingEnvs)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingEnvs = pendingEnvs[:0]
		}
	}
}

func (a *Authority) Stop() { close(a.stop) }

// StepOnce advances one tick with explicit inputs. Tests drive the
// authority through this, the way the server loop would.
func (a *Authority) StepOnce(now time.Time, joins []JoinRequest, leaves []string, envs []Envelope) uint64 {
	a.step(now, joins, leaves, envs)
	return a.tick.Load()
}

func (a *Authority) step(now time.Time, joins []JoinRequest, leaves []string, envs []Envelope) {
	started := time.Now()

	for _, req := range joins {
		a.handleJoin(req, now)
	}
	for _, id := range leaves {
		a.handleLeave(id, now)
	}
	for _, env := range envs {
		a.handleEnvelope(env, now)
	}

	a.sweepOwners(now)

	if moved := a.fb.Step(now); len(moved) != 0 {
		a.broadcastFallbackMoves(moved)
	}
	if a.metrics != nil {
		a.metrics.FallbackActive.Set(float64(a.fb.ActiveCount()))
	}

	tick := a.tick.Add(1)
	a.maybeSnapshot(tick, now)

	if a.metrics != nil {
		a.metrics.AgentCount.Set(float64(a.reg.Len()))
		a.metrics.TickDuration.Observe(time.Since(started).Seconds())
	}
}

func (a *Authority) handleJoin(req JoinRequest, now time.Time) {
	id := "node-" + uuid.NewString()[:8]
	n := &nodeState{
		id:       id,
		name:     req.NodeName,
		out:      req.Out,
		joinedAt: now,
	}
	if req.Viewpoint != nil {
		n.viewpoint = *req.Viewpoint
		n.hasViewpoint = true
	}
	a.nodes[id] = n

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		NodeID:          id,
		Params:          a.simParams(),
		Agents:          a.rosterStates(),
	}
	if req.Resp != nil {
		req.Resp <- JoinResponse{NodeID: id, Welcome: welcome}
	}
	if a.metrics != nil {
		a.metrics.ConnectedNodes.Set(float64(len(a.nodes)))
	}
	a.log.Printf("node joined id=%s name=%q agents=%d", id, req.NodeName, a.reg.Len())
}

func (a *Authority) handleLeave(id string, now time.Time) {
	n := a.nodes[id]
	if n == nil {
		return
	}
	delete(a.nodes, id)

	orphaned := a.orphanOwnedBy(id, now)
	if len(orphaned) != 0 {
		a.broadcastOrphans(orphaned)
	}
	if a.metrics != nil {
		a.metrics.ConnectedNodes.Set(float64(len(a.nodes)))
	}
	a.log.Printf("node left id=%s orphaned=%d", id, len(orphaned))
}

func (a *Authority) handleEnvelope(env Envelope, now time.Time) {
	n := a.nodes[env.NodeID]
	if n == nil {
		return
	}
	switch {
	case env.Claim != nil:
		a.handleClaim(n, env.Claim, now)
	case env.Release != nil:
		a.handleRelease(n, env.Release, now)
	case env.Pos != nil:
		a.handlePos(n, env.Pos, now)
	case env.Viewpoint != nil:
		n.viewpoint = agent.Vec3FromWire(env.Viewpoint.Pos)
		n.hasViewpoint = true
	}
}

func (a *Authority) simParams() protocol.SimParams {
	return protocol.SimParams{
		TickRateHz:          a.cfg.TickRateHz,
		SimulationRadius:    a.cfg.Ownership.SimulationRadius,
		ReleaseHysteresis:   a.cfg.Ownership.ReleaseHysteresis,
		MaxAgentsPerNode:    a.cfg.Ownership.MaxAgentsPerNode,
		ClaimDelayBaseMs:    a.cfg.Ownership.ClaimDelayBaseMs,
		ClaimDelayPerUnitMs: a.cfg.Ownership.ClaimDelayPerUnitMs,
		OwnershipTimeoutMs:  a.cfg.Ownership.TimeoutMs,
		SendIntervalMs:      a.cfg.Sync.SendIntervalMs,
	}
}

func (a *Authority) rosterStates() []protocol.AgentState {
	var out []protocol.AgentState
	a.reg.Each(func(rec *agent.Record) {
		out = append(out, rec.WireState())
	})
	return out
}

func (a *Authority) spawnID() string {
	return fmt.Sprintf("mob-%s", uuid.NewString()[:8])
}
