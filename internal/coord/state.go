package coord

import (
	"time"

	"mobsim.dev/internal/persistence/snapshot"
	"mobsim.dev/internal/sim/agent"
)

func (a *Authority) maybeSnapshot(tick uint64, now time.Time) {
	if a.snapshotSink == nil || tick == 0 || a.cfg.SnapshotEveryTicks <= 0 {
		return
	}
	if tick%uint64(a.cfg.SnapshotEveryTicks) != 0 {
		return
	}
	state := a.exportState(tick, now)
	select {
	case a.snapshotSink <- state:
	default:
		// Drop when the writer is backed up.
	}
}

func (a *Authority) exportState(tick uint64, now time.Time) snapshot.StateV1 {
	st := snapshot.StateV1{
		Header: snapshot.Header{
			Version: 1,
			Tick:    tick,
			SavedAt: now.UTC().Format(time.RFC3339Nano),
		},
		TickRateHz:       a.cfg.TickRateHz,
		SimulationRadius: a.cfg.Ownership.SimulationRadius,
	}
	a.reg.Each(func(rec *agent.Record) {
		st.Agents = append(st.Agents, snapshotAgent(rec))
	})
	return st
}

// FinalSnapshot exports the current state directly. Only safe after Run
// has returned; the loop no longer owns the registry then.
func (a *Authority) FinalSnapshot(now time.Time) snapshot.StateV1 {
	return a.exportState(a.tick.Load(), now)
}

// RestoreState loads a saved population. Call before Run starts; nothing
// else touches the registry yet. Ownership is not restored: agents come
// back orphaned at their saved claim version and nodes re-claim, the same
// path as recovering from a coordinator crash.
func (a *Authority) RestoreState(st snapshot.StateV1, now time.Time) int {
	restored := 0
	for _, av := range st.Agents {
		rec := restoreAgent(av, now)
		if err := a.reg.Add(rec); err != nil {
			a.log.Printf("restore agent %s: %v", av.ID, err)
			continue
		}
		restored++
	}
	return restored
}

func snapshotAgent(rec *agent.Record) snapshot.AgentV1 {
	av := snapshot.AgentV1{
		ID:           rec.ID,
		Pos:          agent.WireVec3(rec.Pos),
		SpawnPos:     agent.WireVec3(rec.SpawnPos),
		Yaw:          rec.Yaw,
		State:        string(rec.State),
		Jumping:      rec.Jumping,
		Health:       rec.Health,
		MaxHealth:    rec.MaxHealth,
		Alive:        rec.Alive,
		ClaimVersion: rec.ClaimVersion,
		Config:       snapshotConfig(rec.Config),
	}
	if rec.Destination != nil {
		d := agent.WireVec3(*rec.Destination)
		av.Destination = &d
	}
	return av
}

func restoreAgent(av snapshot.AgentV1, now time.Time) *agent.Record {
	cfg := restoreConfig(av.Config)
	cfg.ApplyDefaults()
	rec := &agent.Record{
		ID:           av.ID,
		Config:       cfg,
		Pos:          agent.Vec3FromWire(av.Pos),
		SpawnPos:     agent.Vec3FromWire(av.SpawnPos),
		Yaw:          av.Yaw,
		Health:       av.Health,
		MaxHealth:    av.MaxHealth,
		Alive:        av.Alive,
		State:        agent.State(av.State),
		Jumping:      av.Jumping,
		ClaimVersion: av.ClaimVersion,
		Status:       agent.StatusOrphaned,
		LastUpdate:   now,
	}
	if rec.State == "" {
		rec.State = agent.StateIdle
	}
	if av.Destination != nil {
		d := agent.Vec3FromWire(*av.Destination)
		rec.Destination = &d
	}
	return rec
}

func snapshotConfig(c agent.Config) snapshot.ConfigV1 {
	return snapshot.ConfigV1{
		MaxHealth:          c.MaxHealth,
		WalkSpeed:          c.WalkSpeed,
		JumpPower:          c.JumpPower,
		SightRange:         c.SightRange,
		SightMode:          string(c.SightMode),
		MoveMode:           string(c.MoveMode),
		Faction:            c.Faction,
		AttackAllies:       c.AttackAllies,
		WanderRadius:       c.WanderRadius,
		MeleeOffsetRange:   c.MeleeOffsetRange,
		RangedHoldFraction: c.RangedHoldFraction,
		FleeDistanceFactor: c.FleeDistanceFactor,
		FleeSafeFactor:     c.FleeSafeFactor,
		FleeNoticeSeconds:  c.FleeNoticeSeconds,
		FleeSpeedMult:      c.FleeSpeedMult,
		StandingOffset:     c.StandingOffset,
	}
}

func restoreConfig(c snapshot.ConfigV1) agent.Config {
	return agent.Config{
		MaxHealth:          c.MaxHealth,
		WalkSpeed:          c.WalkSpeed,
		JumpPower:          c.JumpPower,
		SightRange:         c.SightRange,
		SightMode:          agent.SightMode(c.SightMode),
		MoveMode:           agent.MoveMode(c.MoveMode),
		Faction:            c.Faction,
		AttackAllies:       c.AttackAllies,
		WanderRadius:       c.WanderRadius,
		MeleeOffsetRange:   c.MeleeOffsetRange,
		RangedHoldFraction: c.RangedHoldFraction,
		FleeDistanceFactor: c.FleeDistanceFactor,
		FleeSafeFactor:     c.FleeSafeFactor,
		FleeNoticeSeconds:  c.FleeNoticeSeconds,
		FleeSpeedMult:      c.FleeSpeedMult,
		StandingOffset:     c.StandingOffset,
	}
}
