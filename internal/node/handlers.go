package node

import (
	"encoding/json"
	"time"

	"mobsim.dev/internal/protocol"
	"mobsim.dev/internal/sim/agent"
	"mobsim.dev/internal/sim/syncer"
)

// handleFrame routes one raw coordinator frame. Malformed frames are
// logged and dropped; the connection stays up.
func (r *Runtime) handleFrame(raw []byte, now time.Time) {
	base, err := protocol.DecodeBase(raw)
	if err != nil {
		r.log.Printf("bad frame: %v", err)
		return
	}

	switch base.Type {
	case protocol.TypeAgentPos:
		var m protocol.AgentPosMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			r.log.Printf("bad AGENT_POS: %v", err)
			return
		}
		syncer.ApplyMirror(r.mirrors, m.Updates, r.selfID, now)
		r.refreshPlans(m.Updates)

	case protocol.TypeAgentsOrphaned:
		var m protocol.AgentsOrphanedMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			r.log.Printf("bad AGENTS_ORPHANED: %v", err)
			return
		}
		r.handleOrphans(&m, now)

	case protocol.TypeClaimResult:
		var m protocol.ClaimResultMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			r.log.Printf("bad CLAIM_RESULT: %v", err)
			return
		}
		r.handleClaimResult(&m, now)

	case protocol.TypeAgentSpawned:
		var m protocol.AgentSpawnedMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			r.log.Printf("bad AGENT_SPAWNED: %v", err)
			return
		}
		r.handleSpawned(&m, now)

	case protocol.TypeAgentRemoved:
		var m protocol.AgentRemovedMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			r.log.Printf("bad AGENT_REMOVED: %v", err)
			return
		}
		r.handleRemoved(&m)

	case protocol.TypeAgentJump:
		var m protocol.AgentJumpMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			r.log.Printf("bad AGENT_JUMP: %v", err)
			return
		}
		if rec := r.ownedRecord(m.AgentID); rec != nil {
			r.engine.TriggerJump(rec)
		}

	case protocol.TypeAgentMove:
		var m protocol.AgentMoveMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			r.log.Printf("bad AGENT_MOVE: %v", err)
			return
		}
		if rec := r.ownedRecord(m.AgentID); rec != nil {
			d := agent.Vec3FromWire(m.Dest)
			rec.Destination = &d
		}

	case protocol.TypeError:
		var m protocol.ErrorMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		r.log.Printf("coordinator error code=%s message=%q", m.Code, m.Message)
	}
}

// handleOrphans updates the mirrors and schedules one claim attempt per
// orphan in range. An existing plan is replaced: the newest notice carries
// the freshest position and version.
func (r *Runtime) handleOrphans(m *protocol.AgentsOrphanedMsg, now time.Time) {
	for _, o := range m.Orphans {
		rec := r.mirrors.Get(o.AgentID)
		if rec == nil {
			continue
		}
		// We can be the stale owner named by a timeout sweep; drop the
		// local pipeline before racing everyone else for the re-claim.
		r.teardown(o.AgentID)

		rec.Owner = ""
		rec.Status = agent.StatusOrphaned
		if o.Version > rec.ClaimVersion {
			rec.ClaimVersion = o.Version
		}
		rec.Pos = agent.Vec3FromWire(o.Pos)
		rec.LastUpdate = now

		if rec.Alive {
			r.scheduleClaim(o.AgentID, rec.Pos, rec.ClaimVersion, now)
		}
	}
}

func (r *Runtime) handleSpawned(m *protocol.AgentSpawnedMsg, now time.Time) {
	rec := agent.RecordFromWire(m.Agent, now)
	if err := r.mirrors.Add(rec); err != nil {
		return
	}
	if rec.Owner == "" && rec.Alive {
		r.scheduleClaim(rec.ID, rec.Pos, rec.ClaimVersion, now)
	}
}

func (r *Runtime) handleRemoved(m *protocol.AgentRemovedMsg) {
	r.teardown(m.AgentID)
	delete(r.plans, m.AgentID)
	r.mirrors.Remove(m.AgentID)
}

// ownedRecord resolves an agent only if this node simulates it.
func (r *Runtime) ownedRecord(id string) *agent.Record {
	if _, ok := r.owned[id]; !ok {
		return nil
	}
	return r.mirrors.Get(id)
}
