package coord

import (
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"mobsim.dev/internal/protocol"
	"mobsim.dev/internal/sim/agent"
	"mobsim.dev/internal/sim/geo"
	"mobsim.dev/internal/sim/tuning"
)

func testConfig() tuning.Tuning {
	cfg := tuning.Defaults()
	cfg.Ownership.TimeoutMs = 1000
	cfg.Ownership.SweepIntervalMs = 100
	cfg.Fallback.AfterMs = 2000
	cfg.Fallback.UpdateIntervalMs = 500
	cfg.SnapshotEveryTicks = 0
	return cfg
}

func newTestAuthority(t *testing.T, cfg tuning.Tuning) *Authority {
	t.Helper()
	return New(cfg, nil, log.New(io.Discard, "", 0))
}

func joinNode(t *testing.T, a *Authority, name string, vp *geo.Vec3, now time.Time) (string, chan []byte, protocol.WelcomeMsg) {
	t.Helper()
	out := make(chan []byte, 256)
	resp := make(chan JoinResponse, 1)
	a.StepOnce(now, []JoinRequest{{NodeName: name, Viewpoint: vp, Out: out, Resp: resp}}, nil, nil)
	select {
	case r := <-resp:
		return r.NodeID, out, r.Welcome
	default:
		t.Fatalf("no join response for %q", name)
		return "", nil, protocol.WelcomeMsg{}
	}
}

func spawnTestAgent(t *testing.T, a *Authority, id string, pos geo.Vec3, now time.Time) *agent.Record {
	t.Helper()
	rec := agent.NewRecord(id, agent.Config{}, pos, now)
	if err := a.reg.Add(rec); err != nil {
		t.Fatalf("add %s: %v", id, err)
	}
	return rec
}

func drainFrames(ch chan []byte) [][]byte {
	var out [][]byte
	for {
		select {
		case b := <-ch:
			out = append(out, b)
		default:
			return out
		}
	}
}

func msgsOfType[T any](t *testing.T, frames [][]byte, typ string) []T {
	t.Helper()
	var out []T
	for _, b := range frames {
		base, err := protocol.DecodeBase(b)
		if err != nil {
			t.Fatalf("decode base: %v", err)
		}
		if base.Type != typ {
			continue
		}
		var m T
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("decode %s: %v", typ, err)
		}
		out = append(out, m)
	}
	return out
}

func claimEnv(node, agentID string, version uint64) Envelope {
	return Envelope{NodeID: node, Claim: &protocol.ClaimAgentMsg{
		Type:            protocol.TypeClaimAgent,
		ProtocolVersion: protocol.Version,
		AgentID:         agentID,
		KnownVersion:    version,
	}}
}

func releaseEnv(node, agentID string, version uint64, pos [3]float64, state string) Envelope {
	return Envelope{NodeID: node, Release: &protocol.ReleaseAgentMsg{
		Type:            protocol.TypeReleaseAgent,
		ProtocolVersion: protocol.Version,
		AgentID:         agentID,
		Version:         version,
		Pos:             pos,
		State:           state,
	}}
}

func posEnv(node string, updates ...protocol.PosUpdate) Envelope {
	return Envelope{NodeID: node, Pos: &protocol.AgentPosMsg{
		Type:            protocol.TypeAgentPos,
		ProtocolVersion: protocol.Version,
		Updates:         updates,
	}}
}

func TestClaimFirstComeWins(t *testing.T) {
	a := newTestAuthority(t, testConfig())
	now := time.Unix(1000, 0)
	rec := spawnTestAgent(t, a, "mob-1", geo.Vec3{X: 10, Y: 3}, now)

	nodeA, outA, welcome := joinNode(t, a, "alpha", nil, now)
	nodeB, outB, _ := joinNode(t, a, "beta", nil, now)
	if len(welcome.Agents) != 1 || welcome.Agents[0].ID != "mob-1" {
		t.Fatalf("welcome roster = %+v", welcome.Agents)
	}

	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{
		claimEnv(nodeA, "mob-1", 0),
		claimEnv(nodeB, "mob-1", 0),
	})

	grants := msgsOfType[protocol.ClaimResultMsg](t, drainFrames(outA), protocol.TypeClaimResult)
	if len(grants) != 1 || !grants[0].Accepted {
		t.Fatalf("first claimant not granted: %+v", grants)
	}
	if grants[0].Version != 1 || grants[0].Owner != nodeA {
		t.Fatalf("grant = %+v", grants[0])
	}
	if grants[0].State == nil || grants[0].State.ID != "mob-1" {
		t.Fatalf("grant missing state: %+v", grants[0])
	}

	losses := msgsOfType[protocol.ClaimResultMsg](t, drainFrames(outB), protocol.TypeClaimResult)
	if len(losses) != 1 || losses[0].Accepted {
		t.Fatalf("second claimant not rejected: %+v", losses)
	}
	if losses[0].Code != protocol.ErrClaimTaken || losses[0].Owner != nodeA {
		t.Fatalf("loser result = %+v", losses[0])
	}

	if rec.Owner != nodeA || rec.ClaimVersion != 1 || rec.Status != agent.StatusClaimed {
		t.Fatalf("record after claim: owner=%q version=%d status=%q", rec.Owner, rec.ClaimVersion, rec.Status)
	}
	if a.fb.Active("mob-1") {
		t.Fatalf("fallback still active after claim")
	}
}

func TestClaimStaleVersionRejected(t *testing.T) {
	a := newTestAuthority(t, testConfig())
	now := time.Unix(1000, 0)
	spawnTestAgent(t, a, "mob-1", geo.Vec3{X: 10}, now)

	nodeA, outA, _ := joinNode(t, a, "alpha", nil, now)
	nodeB, outB, _ := joinNode(t, a, "beta", nil, now)

	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{claimEnv(nodeA, "mob-1", 0)})
	drainFrames(outA)
	drainFrames(outB)

	// Owner walks away; the release bumps the version to 2.
	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{releaseEnv(nodeA, "mob-1", 1, [3]float64{20, 3, 0}, "IDLE")})
	drainFrames(outA)
	drainFrames(outB)

	// B never saw the release and claims with its stale view.
	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{claimEnv(nodeB, "mob-1", 1)})
	res := msgsOfType[protocol.ClaimResultMsg](t, drainFrames(outB), protocol.TypeClaimResult)
	if len(res) != 1 || res[0].Accepted || res[0].Code != protocol.ErrClaimStale {
		t.Fatalf("stale claim result = %+v", res)
	}

	// With the current version the claim goes through.
	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{claimEnv(nodeB, "mob-1", 2)})
	res = msgsOfType[protocol.ClaimResultMsg](t, drainFrames(outB), protocol.TypeClaimResult)
	if len(res) != 1 || !res[0].Accepted || res[0].Version != 3 {
		t.Fatalf("refreshed claim result = %+v", res)
	}
}

func TestClaimCapRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Ownership.MaxAgentsPerNode = 1
	a := newTestAuthority(t, cfg)
	now := time.Unix(1000, 0)
	spawnTestAgent(t, a, "mob-1", geo.Vec3{X: 1}, now)
	spawnTestAgent(t, a, "mob-2", geo.Vec3{X: 2}, now)

	nodeA, outA, _ := joinNode(t, a, "alpha", nil, now)

	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{
		claimEnv(nodeA, "mob-1", 0),
		claimEnv(nodeA, "mob-2", 0),
	})
	res := msgsOfType[protocol.ClaimResultMsg](t, drainFrames(outA), protocol.TypeClaimResult)
	if len(res) != 2 {
		t.Fatalf("want 2 results, got %d", len(res))
	}
	if !res[0].Accepted {
		t.Fatalf("first claim rejected: %+v", res[0])
	}
	if res[1].Accepted || res[1].Code != protocol.ErrClaimCap {
		t.Fatalf("cap not enforced: %+v", res[1])
	}
}

func TestClaimUnknownAgent(t *testing.T) {
	a := newTestAuthority(t, testConfig())
	now := time.Unix(1000, 0)
	nodeA, outA, _ := joinNode(t, a, "alpha", nil, now)

	a.StepOnce(now.Add(50*time.Millisecond), nil, nil, []Envelope{claimEnv(nodeA, "ghost", 0)})
	res := msgsOfType[protocol.ClaimResultMsg](t, drainFrames(outA), protocol.TypeClaimResult)
	if len(res) != 1 || res[0].Accepted || res[0].Code != protocol.ErrUnknownAgent {
		t.Fatalf("unknown-agent claim result = %+v", res)
	}
}

func TestReleaseAppliesFinalWrite(t *testing.T) {
	a := newTestAuthority(t, testConfig())
	now := time.Unix(1000, 0)
	rec := spawnTestAgent(t, a, "mob-1", geo.Vec3{X: 10, Y: 3}, now)

	nodeA, outA, _ := joinNode(t, a, "alpha", nil, now)
	_, outB, _ := joinNode(t, a, "beta", nil, now)

	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{claimEnv(nodeA, "mob-1", 0)})
	drainFrames(outA)
	drainFrames(outB)

	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{releaseEnv(nodeA, "mob-1", 1, [3]float64{42, 5, -7}, "IDLE")})

	if rec.Owner != "" || rec.Status != agent.StatusOrphaned {
		t.Fatalf("release did not orphan: owner=%q status=%q", rec.Owner, rec.Status)
	}
	if rec.ClaimVersion != 2 {
		t.Fatalf("version after release = %d", rec.ClaimVersion)
	}
	if rec.Pos.X != 42 || rec.Pos.Z != -7 {
		t.Fatalf("final write lost, pos=%v", rec.Pos)
	}

	orphans := msgsOfType[protocol.AgentsOrphanedMsg](t, drainFrames(outB), protocol.TypeAgentsOrphaned)
	if len(orphans) != 1 || len(orphans[0].Orphans) != 1 {
		t.Fatalf("orphan broadcast = %+v", orphans)
	}
	if o := orphans[0].Orphans[0]; o.AgentID != "mob-1" || o.Version != 2 {
		t.Fatalf("orphan entry = %+v", o)
	}

	// A duplicate release at the old grant version changes nothing.
	pos := rec.Pos
	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{releaseEnv(nodeA, "mob-1", 1, [3]float64{0, 0, 0}, "IDLE")})
	if rec.Pos != pos || rec.ClaimVersion != 2 {
		t.Fatalf("stale release mutated state: pos=%v version=%d", rec.Pos, rec.ClaimVersion)
	}
}

func TestTimeoutSweepOrphans(t *testing.T) {
	a := newTestAuthority(t, testConfig())
	now := time.Unix(1000, 0)
	rec := spawnTestAgent(t, a, "mob-1", geo.Vec3{X: 10}, now)

	nodeA, outA, _ := joinNode(t, a, "alpha", nil, now)
	_, outB, _ := joinNode(t, a, "beta", nil, now)

	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{claimEnv(nodeA, "mob-1", 0)})
	drainFrames(outA)
	drainFrames(outB)

	// Owner goes silent past the 1s timeout.
	now = now.Add(1500 * time.Millisecond)
	a.StepOnce(now, nil, nil, nil)

	if rec.Owner != "" || rec.Status != agent.StatusOrphaned {
		t.Fatalf("sweep did not orphan: owner=%q status=%q", rec.Owner, rec.Status)
	}
	if rec.ClaimVersion != 2 {
		t.Fatalf("version after sweep = %d", rec.ClaimVersion)
	}
	orphans := msgsOfType[protocol.AgentsOrphanedMsg](t, drainFrames(outB), protocol.TypeAgentsOrphaned)
	if len(orphans) != 1 {
		t.Fatalf("no orphan broadcast after sweep")
	}
	// The stale owner hears it too.
	if n := len(msgsOfType[protocol.AgentsOrphanedMsg](t, drainFrames(outA), protocol.TypeAgentsOrphaned)); n != 1 {
		t.Fatalf("stale owner missed orphan broadcast, got %d", n)
	}
}

func TestOwnerWritesKeepOwnershipAlive(t *testing.T) {
	a := newTestAuthority(t, testConfig())
	now := time.Unix(1000, 0)
	rec := spawnTestAgent(t, a, "mob-1", geo.Vec3{X: 10}, now)

	nodeA, outA, _ := joinNode(t, a, "alpha", nil, now)
	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{claimEnv(nodeA, "mob-1", 0)})
	drainFrames(outA)

	// Writes every 600ms stay inside the 1s timeout.
	for i := 0; i < 4; i++ {
		now = now.Add(600 * time.Millisecond)
		a.StepOnce(now, nil, nil, []Envelope{posEnv(nodeA, protocol.PosUpdate{
			AgentID: "mob-1",
			Pos:     [3]float64{10 + float64(i), 0, 0},
			Version: 1,
		})})
	}
	if rec.Owner != nodeA {
		t.Fatalf("active owner swept: owner=%q", rec.Owner)
	}
}

func TestDisconnectOrphansOwnedAgents(t *testing.T) {
	a := newTestAuthority(t, testConfig())
	now := time.Unix(1000, 0)
	rec := spawnTestAgent(t, a, "mob-1", geo.Vec3{X: 10}, now)

	nodeA, outA, _ := joinNode(t, a, "alpha", nil, now)
	_, outB, _ := joinNode(t, a, "beta", nil, now)

	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{claimEnv(nodeA, "mob-1", 0)})
	drainFrames(outA)
	drainFrames(outB)

	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, []string{nodeA}, nil)

	if rec.Owner != "" {
		t.Fatalf("disconnect left owner=%q", rec.Owner)
	}
	if _, ok := a.nodes[nodeA]; ok {
		t.Fatalf("node still registered after leave")
	}
	orphans := msgsOfType[protocol.AgentsOrphanedMsg](t, drainFrames(outB), protocol.TypeAgentsOrphaned)
	if len(orphans) != 1 || orphans[0].Orphans[0].AgentID != "mob-1" {
		t.Fatalf("orphan broadcast = %+v", orphans)
	}
}

func TestPosRebroadcastFiltersByViewpoint(t *testing.T) {
	a := newTestAuthority(t, testConfig())
	now := time.Unix(1000, 0)
	rec := spawnTestAgent(t, a, "mob-1", geo.Vec3{X: 10}, now)

	nodeA, outA, _ := joinNode(t, a, "owner", nil, now)
	_, outNear, _ := joinNode(t, a, "near", &geo.Vec3{X: 0, Y: 3, Z: 0}, now)
	_, outFar, _ := joinNode(t, a, "far", &geo.Vec3{X: 10000, Y: 3, Z: 0}, now)

	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{claimEnv(nodeA, "mob-1", 0)})
	drainFrames(outA)
	drainFrames(outNear)
	drainFrames(outFar)

	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{posEnv(nodeA, protocol.PosUpdate{
		AgentID: "mob-1",
		Pos:     [3]float64{30, 3, 0},
		Yaw:     1.5,
		State:   "WANDERING",
		Version: 1,
	})})

	if rec.Pos.X != 30 {
		t.Fatalf("authoritative write not applied, pos=%v", rec.Pos)
	}
	near := msgsOfType[protocol.AgentPosMsg](t, drainFrames(outNear), protocol.TypeAgentPos)
	if len(near) != 1 || near[0].Updates[0].AgentID != "mob-1" {
		t.Fatalf("near node missed rebroadcast: %+v", near)
	}
	if n := len(msgsOfType[protocol.AgentPosMsg](t, drainFrames(outFar), protocol.TypeAgentPos)); n != 0 {
		t.Fatalf("far node got %d pos messages despite filter", n)
	}
	if n := len(msgsOfType[protocol.AgentPosMsg](t, drainFrames(outA), protocol.TypeAgentPos)); n != 0 {
		t.Fatalf("sender got its own write echoed back")
	}
}

func TestStalePosWriteDropped(t *testing.T) {
	a := newTestAuthority(t, testConfig())
	now := time.Unix(1000, 0)
	rec := spawnTestAgent(t, a, "mob-1", geo.Vec3{X: 10}, now)

	nodeA, outA, _ := joinNode(t, a, "owner", nil, now)
	_, outB, _ := joinNode(t, a, "watcher", nil, now)

	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{claimEnv(nodeA, "mob-1", 0)})
	drainFrames(outA)
	drainFrames(outB)

	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{posEnv(nodeA, protocol.PosUpdate{
		AgentID: "mob-1",
		Pos:     [3]float64{99, 0, 0},
		Version: 0, // pre-claim version
	})})

	if rec.Pos.X != 10 {
		t.Fatalf("stale write landed, pos=%v", rec.Pos)
	}
	if n := len(msgsOfType[protocol.AgentPosMsg](t, drainFrames(outB), protocol.TypeAgentPos)); n != 0 {
		t.Fatalf("stale write rebroadcast %d messages", n)
	}
}

func TestFallbackMovesBroadcast(t *testing.T) {
	a := newTestAuthority(t, testConfig())
	now := time.Unix(1000, 0)
	rec := spawnTestAgent(t, a, "mob-1", geo.Vec3{X: 5, Y: 3}, now)

	_, outB, _ := joinNode(t, a, "watcher", nil, now)

	// Walk state is created on the first pass after the prime; the agent
	// must then age past the orphan threshold before the walker takes it.
	a.StepOnce(now.Add(600*time.Millisecond), nil, nil, nil)
	drainFrames(outB)
	a.StepOnce(now.Add(3200*time.Millisecond), nil, nil, nil)

	if !a.fb.Active("mob-1") {
		t.Fatalf("fallback not active for aged orphan")
	}
	if rec.Status != agent.StatusFallback {
		t.Fatalf("status = %q", rec.Status)
	}
	msgs := msgsOfType[protocol.AgentPosMsg](t, drainFrames(outB), protocol.TypeAgentPos)
	if len(msgs) == 0 {
		t.Fatalf("no fallback movement broadcast")
	}
	u := msgs[0].Updates[0]
	if u.AgentID != "mob-1" || u.State != "WANDERING" || u.Version != rec.ClaimVersion {
		t.Fatalf("fallback update = %+v", u)
	}
}

func TestSpawnAndRemoveBroadcast(t *testing.T) {
	a := newTestAuthority(t, testConfig())
	now := time.Unix(1000, 0)
	_, outA, _ := joinNode(t, a, "alpha", nil, now)

	spawn := spawnReq{
		Def:  agent.Definition{ID: "mob-9", Pos: [3]float64{1, 2, 3}},
		Resp: make(chan spawnResp, 1),
	}
	a.handleSpawn(spawn, now)
	r := <-spawn.Resp
	if r.Err != "" || r.State.ID != "mob-9" {
		t.Fatalf("spawn resp = %+v", r)
	}
	spawned := msgsOfType[protocol.AgentSpawnedMsg](t, drainFrames(outA), protocol.TypeAgentSpawned)
	if len(spawned) != 1 || spawned[0].Agent.ID != "mob-9" {
		t.Fatalf("spawn broadcast = %+v", spawned)
	}

	rm := removeReq{AgentID: "mob-9", Resp: make(chan removeResp, 1)}
	a.handleRemove(rm, now)
	if r := <-rm.Resp; r.Err != "" {
		t.Fatalf("remove resp = %+v", r)
	}
	removed := msgsOfType[protocol.AgentRemovedMsg](t, drainFrames(outA), protocol.TypeAgentRemoved)
	if len(removed) != 1 || removed[0].AgentID != "mob-9" {
		t.Fatalf("remove broadcast = %+v", removed)
	}
	if a.reg.Get("mob-9") != nil {
		t.Fatalf("agent still in registry after remove")
	}
}

func TestCommandJumpRoutedToOwner(t *testing.T) {
	a := newTestAuthority(t, testConfig())
	now := time.Unix(1000, 0)
	spawnTestAgent(t, a, "mob-1", geo.Vec3{X: 10}, now)

	nodeA, outA, _ := joinNode(t, a, "alpha", nil, now)
	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{claimEnv(nodeA, "mob-1", 0)})
	drainFrames(outA)

	cmd := commandReq{AgentID: "mob-1", Jump: true, Resp: make(chan commandResp, 1)}
	a.handleCommand(cmd, now)
	if r := <-cmd.Resp; r.Err != "" {
		t.Fatalf("jump command failed: %s", r.Err)
	}
	jumps := msgsOfType[protocol.AgentJumpMsg](t, drainFrames(outA), protocol.TypeAgentJump)
	if len(jumps) != 1 || jumps[0].AgentID != "mob-1" {
		t.Fatalf("jump not routed to owner: %+v", jumps)
	}
}

func TestCommandJumpNeedsOwner(t *testing.T) {
	a := newTestAuthority(t, testConfig())
	now := time.Unix(1000, 0)
	spawnTestAgent(t, a, "mob-1", geo.Vec3{X: 10}, now)

	cmd := commandReq{AgentID: "mob-1", Jump: true, Resp: make(chan commandResp, 1)}
	a.handleCommand(cmd, now)
	if r := <-cmd.Resp; r.Err == "" {
		t.Fatalf("jump on orphan should fail")
	}
}

func TestCommandMoveRelayedAndStored(t *testing.T) {
	a := newTestAuthority(t, testConfig())
	now := time.Unix(1000, 0)
	rec := spawnTestAgent(t, a, "mob-1", geo.Vec3{X: 10}, now)

	// Orphan: destination sticks to the record for the next claimant.
	cmd := commandReq{AgentID: "mob-1", Dest: &geo.Vec3{X: 50, Y: 3, Z: -4}, Resp: make(chan commandResp, 1)}
	a.handleCommand(cmd, now)
	if r := <-cmd.Resp; r.Err != "" {
		t.Fatalf("move command failed: %s", r.Err)
	}
	if rec.Destination == nil || rec.Destination.X != 50 {
		t.Fatalf("destination not stored: %v", rec.Destination)
	}

	nodeA, outA, _ := joinNode(t, a, "alpha", nil, now)
	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{claimEnv(nodeA, "mob-1", 0)})
	drainFrames(outA)

	// Owned: the command is relayed to the simulating node.
	cmd = commandReq{AgentID: "mob-1", Dest: &geo.Vec3{X: -9, Y: 3, Z: 12}, Resp: make(chan commandResp, 1)}
	a.handleCommand(cmd, now)
	if r := <-cmd.Resp; r.Err != "" {
		t.Fatalf("move command failed: %s", r.Err)
	}
	moves := msgsOfType[protocol.AgentMoveMsg](t, drainFrames(outA), protocol.TypeAgentMove)
	if len(moves) != 1 || moves[0].Dest != [3]float64{-9, 3, 12} {
		t.Fatalf("move not relayed: %+v", moves)
	}
}

func TestStatusCounts(t *testing.T) {
	a := newTestAuthority(t, testConfig())
	now := time.Unix(1000, 0)
	spawnTestAgent(t, a, "mob-1", geo.Vec3{X: 1}, now)
	spawnTestAgent(t, a, "mob-2", geo.Vec3{X: 2}, now)

	nodeA, outA, _ := joinNode(t, a, "alpha", nil, now)
	now = now.Add(50 * time.Millisecond)
	a.StepOnce(now, nil, nil, []Envelope{claimEnv(nodeA, "mob-1", 0)})
	drainFrames(outA)

	req := statusReq{Resp: make(chan StatusInfo, 1)}
	a.handleStatus(req)
	info := <-req.Resp
	if info.Agents != 2 || info.Claimed != 1 || info.Orphaned != 1 {
		t.Fatalf("status = %+v", info)
	}
	if len(info.Nodes) != 1 || info.Nodes[0].ID != nodeA || info.Nodes[0].Agents != 1 {
		t.Fatalf("status nodes = %+v", info.Nodes)
	}
}

func TestEnvelopeFromUnknownNodeIgnored(t *testing.T) {
	a := newTestAuthority(t, testConfig())
	now := time.Unix(1000, 0)
	rec := spawnTestAgent(t, a, "mob-1", geo.Vec3{X: 10}, now)

	a.StepOnce(now, nil, nil, []Envelope{claimEnv("node-bogus", "mob-1", 0)})
	if rec.Owner != "" {
		t.Fatalf("claim from unregistered node granted")
	}
}
