// Package syncer is the position write-through boundary. The owning node
// collects its agents' moves into batched updates on a capped interval;
// everyone else applies inbound batches to read-only mirrors.
package syncer

import (
	"math"
	"time"

	"mobsim.dev/internal/protocol"
	"mobsim.dev/internal/sim/agent"
	"mobsim.dev/internal/sim/geo"
)

type Config struct {
	// SendInterval caps the outbound cadence.
	SendInterval time.Duration
	// MaxBatch splits oversized update sets into multiple messages.
	MaxBatch int
	// PosEpsilon and YawEpsilon gate the delta compression: a change below
	// both is not worth a send.
	PosEpsilon float64
	YawEpsilon float64
}

func (c *Config) applyDefaults() {
	if c.SendInterval <= 0 {
		c.SendInterval = 100 * time.Millisecond
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 50
	}
	if c.PosEpsilon <= 0 {
		c.PosEpsilon = 0.01
	}
	if c.YawEpsilon <= 0 {
		c.YawEpsilon = 0.001
	}
}

type lastSent struct {
	pos     geo.Vec3
	yaw     float64
	state   agent.State
	jumping bool
	version uint64
}

// Outbox tracks what was last sent per agent and emits only the deltas.
// Owned by the node loop goroutine.
type Outbox struct {
	cfg      Config
	last     map[string]lastSent
	nextSend time.Time
}

func NewOutbox(cfg Config) *Outbox {
	cfg.applyDefaults()
	return &Outbox{cfg: cfg, last: map[string]lastSent{}}
}

// Collect returns the due outbound batches for the agents this node owns,
// or nil between send intervals.
func (o *Outbox) Collect(now time.Time, owned []*agent.Record) []protocol.AgentPosMsg {
	if now.Before(o.nextSend) {
		return nil
	}
	o.nextSend = now.Add(o.cfg.SendInterval)

	var updates []protocol.PosUpdate
	for _, rec := range owned {
		ls, seen := o.last[rec.ID]
		if seen && !o.dirty(ls, rec) {
			continue
		}
		o.last[rec.ID] = lastSent{
			pos:     rec.Pos,
			yaw:     rec.Yaw,
			state:   rec.State,
			jumping: rec.Jumping,
			version: rec.ClaimVersion,
		}
		updates = append(updates, protocol.PosUpdate{
			AgentID: rec.ID,
			Pos:     agent.WireVec3(rec.Pos),
			Yaw:     rec.Yaw,
			State:   string(rec.State),
			Jumping: rec.Jumping,
			Version: rec.ClaimVersion,
		})
	}
	return protocol.SplitUpdates(updates, o.cfg.MaxBatch)
}

func (o *Outbox) dirty(ls lastSent, rec *agent.Record) bool {
	if ls.version != rec.ClaimVersion || ls.state != rec.State || ls.jumping != rec.Jumping {
		return true
	}
	if ls.pos.Dist(rec.Pos) > o.cfg.PosEpsilon {
		return true
	}
	return math.Abs(geo.WrapYaw(ls.yaw-rec.Yaw)) > o.cfg.YawEpsilon
}

// Forget drops delta state for a released or removed agent.
func (o *Outbox) Forget(id string) {
	delete(o.last, id)
}

// ApplyMirror applies an inbound batch to local mirrors. Updates for agents
// this node owns are dropped: the local simulation is authoritative for
// those and a remote write would race it. Stale claim versions are dropped
// for the same reason. A newer version is adopted, so a mirror tracks
// ownership churn it never saw a grant for.
func ApplyMirror(reg *agent.Registry, updates []protocol.PosUpdate, selfNode string, now time.Time) int {
	applied := 0
	for _, u := range updates {
		rec := reg.Get(u.AgentID)
		if rec == nil {
			continue
		}
		if selfNode != "" && rec.Owner == selfNode {
			continue
		}
		if u.Version < rec.ClaimVersion {
			continue
		}
		rec.ClaimVersion = u.Version
		rec.Pos = agent.Vec3FromWire(u.Pos)
		rec.Yaw = u.Yaw
		if u.State != "" {
			rec.State = agent.State(u.State)
		}
		rec.Jumping = u.Jumping
		rec.LastUpdate = now
		applied++
	}
	return applied
}

// WriteValidator vets one authoritative write before it lands. The trust
// model is deliberately open, so the default accepts everything; the hook
// exists for deployments that want to bolt a check on.
type WriteValidator func(rec *agent.Record, u protocol.PosUpdate) error

// ApplyAuthoritative folds an owner's batch into the coordinator registry.
// Only the current owner at the current claim version may write; everything
// else is counted and dropped. The applied subset comes back so the caller
// can rebroadcast exactly what landed.
func ApplyAuthoritative(reg *agent.Registry, updates []protocol.PosUpdate, sender string, validate WriteValidator, now time.Time) (applied []protocol.PosUpdate, rejected int) {
	for _, u := range updates {
		rec := reg.Get(u.AgentID)
		if rec == nil || rec.Owner != sender || u.Version != rec.ClaimVersion {
			rejected++
			continue
		}
		if validate != nil {
			if err := validate(rec, u); err != nil {
				rejected++
				continue
			}
		}
		rec.Pos = agent.Vec3FromWire(u.Pos)
		rec.Yaw = u.Yaw
		if u.State != "" {
			rec.State = agent.State(u.State)
		}
		rec.Jumping = u.Jumping
		rec.LastUpdate = now
		applied = append(applied, u)
	}
	return applied, rejected
}

// FilterByViewpoint keeps the updates within the broadcast radius of one
// node's viewpoint. radius <= 0 disables the filter.
func FilterByViewpoint(updates []protocol.PosUpdate, vp geo.Vec3, radius float64) []protocol.PosUpdate {
	if radius <= 0 {
		return updates
	}
	var out []protocol.PosUpdate
	for _, u := range updates {
		if agent.Vec3FromWire(u.Pos).HorizDist(vp) <= radius {
			out = append(out, u)
		}
	}
	return out
}
