package coord

import (
	"encoding/json"
	"time"

	"mobsim.dev/internal/protocol"
	"mobsim.dev/internal/sim/agent"
	"mobsim.dev/internal/sim/geo"
	"mobsim.dev/internal/sim/syncer"
)

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func (a *Authority) sendTo(n *nodeState, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		a.log.Printf("marshal for node %s: %v", n.id, err)
		return
	}
	sendLatest(n.out, b)
	if a.metrics != nil {
		a.metrics.BroadcastBytes.Add(float64(len(b)))
	}
}

// broadcast marshals once and queues to every node except the named one.
func (a *Authority) broadcast(v any, except string) {
	b, err := json.Marshal(v)
	if err != nil {
		a.log.Printf("marshal broadcast: %v", err)
		return
	}
	for id, n := range a.nodes {
		if id == except {
			continue
		}
		sendLatest(n.out, b)
		if a.metrics != nil {
			a.metrics.BroadcastBytes.Add(float64(len(b)))
		}
	}
}

// rebroadcastPos fans applied updates out to every other node, filtered to
// each node's viewpoint so a far-away node is not flooded with movement it
// cannot see. Nodes that never reported a viewpoint get everything.
func (a *Authority) rebroadcastPos(updates []protocol.PosUpdate, except string) {
	if len(updates) == 0 {
		return
	}
	radius := a.cfg.Sync.BroadcastRadius
	for id, n := range a.nodes {
		if id == except {
			continue
		}
		ups := updates
		if n.hasViewpoint {
			ups = syncer.FilterByViewpoint(updates, n.viewpoint, radius)
		}
		for _, msg := range protocol.SplitUpdates(ups, a.cfg.Sync.MaxBatch) {
			a.sendTo(n, msg)
		}
	}
}

func (a *Authority) broadcastOrphans(orphans []protocol.OrphanEntry) {
	a.broadcast(protocol.AgentsOrphanedMsg{
		Type:            protocol.TypeAgentsOrphaned,
		ProtocolVersion: protocol.Version,
		Orphans:         orphans,
	}, "")
}

func (a *Authority) broadcastFallbackMoves(ids []string) {
	updates := make([]protocol.PosUpdate, 0, len(ids))
	for _, id := range ids {
		rec := a.reg.Get(id)
		if rec == nil {
			continue
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
	a.rebroadcastPos(updates, "")
}

func (a *Authority) broadcastSpawned(rec *agent.Record) {
	a.broadcast(protocol.AgentSpawnedMsg{
		Type:            protocol.TypeAgentSpawned,
		ProtocolVersion: protocol.Version,
		Agent:           rec.WireState(),
	}, "")
}

func (a *Authority) broadcastRemoved(id string) {
	a.broadcast(protocol.AgentRemovedMsg{
		Type:            protocol.TypeAgentRemoved,
		ProtocolVersion: protocol.Version,
		AgentID:         id,
	}, "")
}

// rejectClaim carries the current version when the record exists, so the
// loser can resync its mirror from the rejection alone.
func (a *Authority) rejectClaim(n *nodeState, agentID, code, owner string, version uint64) {
	a.sendTo(n, protocol.ClaimResultMsg{
		Type:            protocol.TypeClaimResult,
		ProtocolVersion: protocol.Version,
		AgentID:         agentID,
		Accepted:        false,
		Code:            code,
		Owner:           owner,
		Version:         version,
	})
}

func (a *Authority) emitEvent(now time.Time, kind, agentID, nodeID string, version uint64, pos geo.Vec3) {
	if a.events == nil {
		return
	}
	a.events.AgentEvent(now, kind, agentID, nodeID, version, pos)
}
