package node

import (
	"time"

	"mobsim.dev/internal/protocol"
	"mobsim.dev/internal/sim/agent"
	"mobsim.dev/internal/sim/geo"
)

// claimPlan is one scheduled claim attempt. The version and position are
// frozen at notice time; if either moves on before the delay elapses,
// somebody else got there first and the attempt is dropped. Each orphan
// notice produces at most one plan, and a fired plan is never retried.
type claimPlan struct {
	due     time.Time
	version uint64
	pos     geo.Vec3
}

// scheduleClaim queues a distance-weighted claim attempt. The closest node
// computes the shortest delay, so it normally wins without arbitration.
func (r *Runtime) scheduleClaim(agentID string, pos geo.Vec3, version uint64, now time.Time) {
	dist := pos.HorizDist(r.viewpoint)
	if dist > r.params.SimulationRadius {
		return
	}
	delay := time.Duration(float64(r.params.ClaimDelayBaseMs)+dist*r.params.ClaimDelayPerUnitMs) * time.Millisecond
	r.plans[agentID] = claimPlan{due: now.Add(delay), version: version, pos: pos}
}

// refreshPlans re-reads pending plans against an applied update batch.
// Same-version movement is the coordinator's fallback walk, not a rival
// owner, so the expected position follows it instead of tripping the
// abort below.
func (r *Runtime) refreshPlans(updates []protocol.PosUpdate) {
	for _, u := range updates {
		p, ok := r.plans[u.AgentID]
		if !ok || u.Version != p.version {
			continue
		}
		p.pos = agent.Vec3FromWire(u.Pos)
		r.plans[u.AgentID] = p
	}
}

// firePlans sends the due claim attempts. Every abort here is silent:
// losing a race is expected traffic, not an error.
func (r *Runtime) firePlans(now time.Time) {
	for id, p := range r.plans {
		if now.Before(p.due) {
			continue
		}
		delete(r.plans, id)

		rec := r.mirrors.Get(id)
		if rec == nil || !rec.Alive {
			continue
		}
		if rec.Owner != "" {
			continue
		}
		// A version past the notice means a grant we never saw directly;
		// position drift beyond epsilon is the older, weaker signal for
		// the same thing.
		if rec.ClaimVersion > p.version {
			continue
		}
		if rec.Pos.Dist(p.pos) > r.tun.Ownership.ClaimRaceEpsilon {
			continue
		}
		if limit := r.params.MaxAgentsPerNode; limit > 0 && len(r.owned) >= limit {
			continue
		}
		if rec.Pos.HorizDist(r.viewpoint) > r.params.SimulationRadius {
			continue
		}

		msg := protocol.ClaimAgentMsg{
			Type:            protocol.TypeClaimAgent,
			ProtocolVersion: protocol.Version,
			AgentID:         id,
			KnownVersion:    rec.ClaimVersion,
		}
		if err := r.sender.Send(msg); err != nil {
			r.log.Printf("send CLAIM_AGENT %s: %v", id, err)
			return
		}
	}
}

// handleClaimResult settles one of our claim attempts.
func (r *Runtime) handleClaimResult(m *protocol.ClaimResultMsg, now time.Time) {
	rec := r.mirrors.Get(m.AgentID)
	if rec == nil {
		return
	}

	if !m.Accepted {
		r.countClaim("rejected")
		if m.Owner != "" {
			rec.Owner = m.Owner
			rec.Status = agent.StatusClaimed
		}
		if m.Version > rec.ClaimVersion {
			rec.ClaimVersion = m.Version
		}
		return
	}

	r.countClaim("granted")
	if _, ok := r.owned[m.AgentID]; ok {
		// Duplicate grant after a lost result; the pipeline is already up.
		rec.ClaimVersion = m.Version
		return
	}
	rec.Owner = r.selfID
	rec.ClaimVersion = m.Version
	rec.Status = agent.StatusClaimed
	if m.State != nil {
		applyGrantState(rec, m.State)
	}
	rec.LastUpdate = now
	r.adopt(rec, now)
	r.log.Printf("claimed agent=%s version=%d owned=%d", rec.ID, rec.ClaimVersion, len(r.owned))
}

// applyGrantState adopts the authoritative snapshot that rides on a grant.
// The mirror may lag by a sync interval; simulation starts from what the
// coordinator recorded, not from the mirror.
func applyGrantState(rec *agent.Record, st *protocol.AgentState) {
	rec.Pos = agent.Vec3FromWire(st.Pos)
	rec.Yaw = st.Yaw
	if st.State != "" {
		rec.State = agent.State(st.State)
	}
	rec.Jumping = false
	rec.Health = st.Health
	rec.MaxHealth = st.MaxHealth
	rec.Alive = st.Alive
	if st.Destination != nil {
		d := agent.Vec3FromWire(*st.Destination)
		rec.Destination = &d
	} else {
		rec.Destination = nil
	}
}

// releaseFar hands back agents that drifted past the simulation radius
// times the hysteresis factor. The slack stops claim/release thrash at
// the boundary.
func (r *Runtime) releaseFar(now time.Time) {
	limit := r.params.SimulationRadius * r.params.ReleaseHysteresis
	if limit <= 0 {
		return
	}
	for id := range r.owned {
		rec := r.mirrors.Get(id)
		if rec == nil {
			continue
		}
		if rec.Pos.HorizDist(r.viewpoint) <= limit {
			continue
		}
		r.release(rec, now)
	}
}

// release sends the final state write and detaches the local pipeline. The
// version bump and orphan fan-out come back from the coordinator.
func (r *Runtime) release(rec *agent.Record, now time.Time) {
	msg := protocol.ReleaseAgentMsg{
		Type:            protocol.TypeReleaseAgent,
		ProtocolVersion: protocol.Version,
		AgentID:         rec.ID,
		Version:         rec.ClaimVersion,
		Pos:             agent.WireVec3(rec.Pos),
		Yaw:             rec.Yaw,
		State:           string(rec.State),
	}
	if err := r.sender.Send(msg); err != nil {
		r.log.Printf("send RELEASE_AGENT %s: %v", rec.ID, err)
	}
	r.teardown(rec.ID)
	rec.Owner = ""
	rec.Status = agent.StatusOrphaned
	r.log.Printf("released agent=%s dist=%.0f owned=%d", rec.ID, rec.Pos.HorizDist(r.viewpoint), len(r.owned))
}

// ReleaseAll hands back everything this node owns, for a clean shutdown.
func (r *Runtime) ReleaseAll(now time.Time) {
	for id := range r.owned {
		if rec := r.mirrors.Get(id); rec != nil {
			r.release(rec, now)
		}
	}
}

func (r *Runtime) countClaim(result string) {
	if r.metrics != nil {
		r.metrics.ClaimsSent.WithLabelValues(result).Inc()
	}
}
