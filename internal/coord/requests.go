package coord

import (
	"context"
	"errors"
	"sort"
	"time"

	"mobsim.dev/internal/protocol"
	"mobsim.dev/internal/sim/agent"
	"mobsim.dev/internal/sim/geo"
)

// Request plumbing for the admin surface. Every exported method wraps a
// typed request onto the loop and waits for the reply under a timeout, so
// a wedged loop turns into an error instead of a stuck HTTP handler.

type spawnReq struct {
	Def  agent.Definition
	Resp chan spawnResp
}

type spawnResp struct {
	State protocol.AgentState
	Err   string
}

type removeReq struct {
	AgentID string
	Resp    chan removeResp
}

type removeResp struct {
	Err string
}

type commandReq struct {
	AgentID string
	Jump    bool
	Dest    *geo.Vec3
	Resp    chan commandResp
}

type commandResp struct {
	Err string
}

type statusReq struct {
	Resp chan StatusInfo
}

type rosterReq struct {
	Resp chan []protocol.AgentState
}

// NodeInfo describes one connected node for the status surface.
type NodeInfo struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Agents    int         `json:"agents"`
	Viewpoint *[3]float64 `json:"viewpoint,omitempty"`
	JoinedAt  time.Time   `json:"joined_at"`
}

type StatusInfo struct {
	Tick           uint64     `json:"tick"`
	Agents         int        `json:"agents"`
	Claimed        int        `json:"claimed"`
	Orphaned       int        `json:"orphaned"`
	FallbackActive int        `json:"fallback_active"`
	Nodes          []NodeInfo `json:"nodes"`
}

func requestCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, requestTimeout)
}

// SpawnAgent adds a validated definition to the population. The caller is
// expected to have run it through agent.ParseDefinition already.
func (a *Authority) SpawnAgent(ctx context.Context, def agent.Definition) (protocol.AgentState, error) {
	req := spawnReq{Def: def, Resp: make(chan spawnResp, 1)}
	ctx, cancel := requestCtx(ctx)
	defer cancel()
	select {
	case a.spawn <- req:
	case <-ctx.Done():
		return protocol.AgentState{}, ctx.Err()
	}
	select {
	case r := <-req.Resp:
		if r.Err != "" {
			return protocol.AgentState{}, errors.New(r.Err)
		}
		return r.State, nil
	case <-ctx.Done():
		return protocol.AgentState{}, ctx.Err()
	}
}

func (a *Authority) RemoveAgent(ctx context.Context, agentID string) error {
	req := removeReq{AgentID: agentID, Resp: make(chan removeResp, 1)}
	ctx, cancel := requestCtx(ctx)
	defer cancel()
	select {
	case a.remove <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case r := <-req.Resp:
		if r.Err != "" {
			return errors.New(r.Err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CommandJump makes the owning node trigger a jump. Fails when nobody is
// simulating the agent; the fallback walker has no physics.
func (a *Authority) CommandJump(ctx context.Context, agentID string) error {
	return a.sendCommand(ctx, commandReq{AgentID: agentID, Jump: true})
}

// CommandMove sets a destination. Owned agents get the command relayed to
// their owner; orphans carry it until the next claim picks it up.
func (a *Authority) CommandMove(ctx context.Context, agentID string, dest geo.Vec3) error {
	d := dest
	return a.sendCommand(ctx, commandReq{AgentID: agentID, Dest: &d})
}

func (a *Authority) sendCommand(ctx context.Context, req commandReq) error {
	req.Resp = make(chan commandResp, 1)
	ctx, cancel := requestCtx(ctx)
	defer cancel()
	select {
	case a.command <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case r := <-req.Resp:
		if r.Err != "" {
			return errors.New(r.Err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Authority) Status(ctx context.Context) (StatusInfo, error) {
	req := statusReq{Resp: make(chan StatusInfo, 1)}
	ctx, cancel := requestCtx(ctx)
	defer cancel()
	select {
	case a.status <- req:
	case <-ctx.Done():
		return StatusInfo{}, ctx.Err()
	}
	select {
	case info := <-req.Resp:
		return info, nil
	case <-ctx.Done():
		return StatusInfo{}, ctx.Err()
	}
}

// Agents returns the full roster as wire states.
func (a *Authority) Agents(ctx context.Context) ([]protocol.AgentState, error) {
	req := rosterReq{Resp: make(chan []protocol.AgentState, 1)}
	ctx, cancel := requestCtx(ctx)
	defer cancel()
	select {
	case a.roster <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case states := <-req.Resp:
		return states, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Authority) handleSpawn(req spawnReq, now time.Time) {
	rec := agent.NewRecordFromDefinition(req.Def, a.spawnID(), now)
	if err := a.reg.Add(rec); err != nil {
		req.Resp <- spawnResp{Err: err.Error()}
		return
	}
	a.broadcastSpawned(rec)
	a.emitEvent(now, "spawn", rec.ID, "", rec.ClaimVersion, rec.Pos)
	a.log.Printf("spawned agent=%s pos=%.1f,%.1f,%.1f", rec.ID, rec.Pos.X, rec.Pos.Y, rec.Pos.Z)
	req.Resp <- spawnResp{State: rec.WireState()}
}

func (a *Authority) handleRemove(req removeReq, now time.Time) {
	rec := a.reg.Remove(req.AgentID)
	if rec == nil {
		req.Resp <- removeResp{Err: "unknown agent " + req.AgentID}
		return
	}
	a.fb.Forget(rec.ID)
	a.broadcastRemoved(rec.ID)
	a.emitEvent(now, "remove", rec.ID, rec.Owner, rec.ClaimVersion, rec.Pos)
	a.log.Printf("removed agent=%s owner=%q", rec.ID, rec.Owner)
	req.Resp <- removeResp{}
}

func (a *Authority) handleCommand(req commandReq, now time.Time) {
	rec := a.reg.Get(req.AgentID)
	if rec == nil {
		req.Resp <- commandResp{Err: "unknown agent " + req.AgentID}
		return
	}

	if req.Jump {
		n := a.nodes[rec.Owner]
		if n == nil {
			req.Resp <- commandResp{Err: "agent " + req.AgentID + " has no owner"}
			return
		}
		a.sendTo(n, protocol.AgentJumpMsg{
			Type:            protocol.TypeAgentJump,
			ProtocolVersion: protocol.Version,
			AgentID:         rec.ID,
		})
		req.Resp <- commandResp{}
		return
	}

	if req.Dest != nil {
		d := *req.Dest
		rec.Destination = &d
		if n := a.nodes[rec.Owner]; n != nil {
			a.sendTo(n, protocol.AgentMoveMsg{
				Type:            protocol.TypeAgentMove,
				ProtocolVersion: protocol.Version,
				AgentID:         rec.ID,
				Dest:            agent.WireVec3(d),
			})
		}
		req.Resp <- commandResp{}
		return
	}

	req.Resp <- commandResp{Err: "empty command"}
}

func (a *Authority) handleStatus(req statusReq) {
	info := StatusInfo{
		Tick:           a.tick.Load(),
		Agents:         a.reg.Len(),
		FallbackActive: a.fb.ActiveCount(),
	}
	a.reg.Each(func(rec *agent.Record) {
		if rec.Owner != "" {
			info.Claimed++
		} else {
			info.Orphaned++
		}
	})
	for _, n := range a.nodes {
		ni := NodeInfo{
			ID:       n.id,
			Name:     n.name,
			Agents:   len(a.reg.OwnedBy(n.id)),
			JoinedAt: n.joinedAt,
		}
		if n.hasViewpoint {
			vp := agent.WireVec3(n.viewpoint)
			ni.Viewpoint = &vp
		}
		info.Nodes = append(info.Nodes, ni)
	}
	sort.Slice(info.Nodes, func(i, j int) bool { return info.Nodes[i].ID < info.Nodes[j].ID })
	req.Resp <- info
}

func (a *Authority) handleRoster(req rosterReq) {
	req.Resp <- a.rosterStates()
}
