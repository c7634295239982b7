package coord

import (
	"time"

	"mobsim.dev/internal/protocol"
	"mobsim.dev/internal/sim/agent"
	"mobsim.dev/internal/sim/syncer"
)

// Claim arbitration is first come first served: requests drain from one
// channel in arrival order, so a race between two nodes is settled by whose
// message lands first. The loser finds out through the result code.

func (a *Authority) handleClaim(n *nodeState, msg *protocol.ClaimAgentMsg, now time.Time) {
	rec := a.reg.Get(msg.AgentID)
	if rec == nil || !rec.Alive {
		a.rejectClaim(n, msg.AgentID, protocol.ErrUnknownAgent, "", 0)
		a.countClaim("unknown")
		return
	}
	if rec.Owner == n.id {
		// Lost CLAIM_RESULT; re-grant at the current version.
		a.grantClaim(n, rec, rec.ClaimVersion)
		return
	}
	if rec.Owner != "" {
		a.rejectClaim(n, msg.AgentID, protocol.ErrClaimTaken, rec.Owner, rec.ClaimVersion)
		a.countClaim("taken")
		return
	}
	if msg.KnownVersion != rec.ClaimVersion {
		// The node raced an ownership change it has not seen yet.
		a.rejectClaim(n, msg.AgentID, protocol.ErrClaimStale, "", rec.ClaimVersion)
		a.countClaim("stale")
		return
	}
	if limit := a.cfg.Ownership.MaxAgentsPerNode; limit > 0 && len(a.reg.OwnedBy(n.id)) >= limit {
		a.rejectClaim(n, msg.AgentID, protocol.ErrClaimCap, "", rec.ClaimVersion)
		a.countClaim("cap")
		return
	}

	version, _ := a.reg.SetOwner(rec.ID, n.id, now)
	a.fb.Forget(rec.ID)
	a.grantClaim(n, rec, version)
	a.emitEvent(now, "claim", rec.ID, n.id, version, rec.Pos)
	a.countClaim("granted")
}

func (a *Authority) grantClaim(n *nodeState, rec *agent.Record, version uint64) {
	state := rec.WireState()
	a.sendTo(n, protocol.ClaimResultMsg{
		Type:            protocol.TypeClaimResult,
		ProtocolVersion: protocol.Version,
		AgentID:         rec.ID,
		Accepted:        true,
		Version:         version,
		Owner:           n.id,
		State:           &state,
	})
}

func (a *Authority) countClaim(result string) {
	if a.metrics != nil {
		a.metrics.ClaimsTotal.WithLabelValues(result).Inc()
	}
}

// handleRelease hands an agent back. The version must match the node's
// grant exactly: a release that lost a race against a timeout sweep or a
// newer claim is stale and must not clobber the current state.
func (a *Authority) handleRelease(n *nodeState, msg *protocol.ReleaseAgentMsg, now time.Time) {
	rec := a.reg.Get(msg.AgentID)
	if rec == nil {
		return
	}
	if rec.Owner != n.id || msg.Version != rec.ClaimVersion {
		a.log.Printf("stale release agent=%s node=%s version=%d current=%d", msg.AgentID, n.id, msg.Version, rec.ClaimVersion)
		return
	}

	// Final authoritative write rides along with the release.
	rec.Pos = agent.Vec3FromWire(msg.Pos)
	rec.Yaw = msg.Yaw
	if msg.State != "" {
		rec.State = agent.State(msg.State)
	}
	rec.Jumping = false

	a.reg.ClearOwner(rec.ID, now)
	a.emitEvent(now, "release", rec.ID, n.id, rec.ClaimVersion, rec.Pos)
	a.countOrphan("release", 1)
	a.broadcastOrphans([]protocol.OrphanEntry{orphanEntry(rec)})
}

func (a *Authority) handlePos(n *nodeState, msg *protocol.AgentPosMsg, now time.Time) {
	applied, rejected := syncer.ApplyAuthoritative(a.reg, msg.Updates, n.id, a.validate, now)
	if a.metrics != nil {
		a.metrics.PosApplied.Add(float64(len(applied)))
		a.metrics.PosRejected.Add(float64(rejected))
	}
	if rejected != 0 {
		a.log.Printf("dropped %d stale pos updates from node %s", rejected, n.id)
	}
	a.rebroadcastPos(applied, n.id)
}

// sweepOwners orphans agents whose owner stopped writing. A node that went
// quiet past the timeout is treated as gone for those agents even if its
// socket is still up.
func (a *Authority) sweepOwners(now time.Time) {
	interval := time.Duration(a.cfg.Ownership.SweepIntervalMs) * time.Millisecond
	if interval <= 0 || now.Sub(a.lastSweep) < interval {
		return
	}
	a.lastSweep = now

	timeout := time.Duration(a.cfg.Ownership.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		return
	}

	var orphans []protocol.OrphanEntry
	a.reg.Each(func(rec *agent.Record) {
		if rec.Owner == "" || now.Sub(rec.LastUpdate) < timeout {
			return
		}
		owner := rec.Owner
		a.reg.ClearOwner(rec.ID, now)
		orphans = append(orphans, orphanEntry(rec))
		a.emitEvent(now, "timeout", rec.ID, owner, rec.ClaimVersion, rec.Pos)
		a.log.Printf("ownership timeout agent=%s node=%s", rec.ID, owner)
	})
	if len(orphans) != 0 {
		a.countOrphan("timeout", len(orphans))
		a.broadcastOrphans(orphans)
	}
}

// orphanOwnedBy clears everything a departed node held and returns the
// orphan entries for broadcast.
func (a *Authority) orphanOwnedBy(nodeID string, now time.Time) []protocol.OrphanEntry {
	ids := a.reg.OwnedBy(nodeID)
	orphans := make([]protocol.OrphanEntry, 0, len(ids))
	for _, id := range ids {
		rec := a.reg.Get(id)
		if rec == nil {
			continue
		}
		a.reg.ClearOwner(id, now)
		orphans = append(orphans, orphanEntry(rec))
		a.emitEvent(now, "disconnect", id, nodeID, rec.ClaimVersion, rec.Pos)
	}
	if len(orphans) != 0 {
		a.countOrphan("disconnect", len(orphans))
	}
	return orphans
}

func (a *Authority) countOrphan(reason string, n int) {
	if a.metrics != nil {
		a.metrics.OrphansTotal.WithLabelValues(reason).Add(float64(n))
	}
}

func orphanEntry(rec *agent.Record) protocol.OrphanEntry {
	return protocol.OrphanEntry{
		AgentID: rec.ID,
		Pos:     agent.WireVec3(rec.Pos),
		Version: rec.ClaimVersion,
	}
}
