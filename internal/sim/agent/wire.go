package agent

import (
	"time"

	"mobsim.dev/internal/protocol"
	"mobsim.dev/internal/sim/geo"
)

// Wire converts the config to its wire form.
func (c Config) Wire() protocol.AgentConfig {
	return protocol.AgentConfig{
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

// ConfigFromWire converts back; defaults are not applied here.
func ConfigFromWire(w protocol.AgentConfig) Config {
	return Config{
		MaxHealth:          w.MaxHealth,
		WalkSpeed:          w.WalkSpeed,
		JumpPower:          w.JumpPower,
		SightRange:         w.SightRange,
		SightMode:          SightMode(w.SightMode),
		MoveMode:           MoveMode(w.MoveMode),
		Faction:            w.Faction,
		AttackAllies:       w.AttackAllies,
		WanderRadius:       w.WanderRadius,
		MeleeOffsetRange:   w.MeleeOffsetRange,
		RangedHoldFraction: w.RangedHoldFraction,
		FleeDistanceFactor: w.FleeDistanceFactor,
		FleeSafeFactor:     w.FleeSafeFactor,
		FleeNoticeSeconds:  w.FleeNoticeSeconds,
		FleeSpeedMult:      w.FleeSpeedMult,
		StandingOffset:     w.StandingOffset,
	}
}

// WireState captures the record for rosters, claim grants, and spawn
// broadcasts.
func (r *Record) WireState() protocol.AgentState {
	st := protocol.AgentState{
		ID:           r.ID,
		Pos:          WireVec3(r.Pos),
		SpawnPos:     WireVec3(r.SpawnPos),
		Yaw:          r.Yaw,
		State:        string(r.State),
		Jumping:      r.Jumping,
		Health:       r.Health,
		MaxHealth:    r.MaxHealth,
		Alive:        r.Alive,
		Owner:        r.Owner,
		ClaimVersion: r.ClaimVersion,
		Config:       r.Config.Wire(),
	}
	if r.Destination != nil {
		d := WireVec3(*r.Destination)
		st.Destination = &d
	}
	return st
}

// RecordFromWire builds a local mirror from a roster entry or spawn
// broadcast.
func RecordFromWire(st protocol.AgentState, now time.Time) *Record {
	cfg := ConfigFromWire(st.Config)
	cfg.ApplyDefaults()
	rec := &Record{
		ID:           st.ID,
		Config:       cfg,
		Pos:          Vec3FromWire(st.Pos),
		SpawnPos:     Vec3FromWire(st.SpawnPos),
		Yaw:          st.Yaw,
		Health:       st.Health,
		MaxHealth:    st.MaxHealth,
		Alive:        st.Alive,
		State:        State(st.State),
		Jumping:      st.Jumping,
		Owner:        st.Owner,
		ClaimVersion: st.ClaimVersion,
		Status:       StatusOrphaned,
		LastUpdate:   now,
	}
	if rec.MaxHealth <= 0 {
		rec.MaxHealth = cfg.MaxHealth
		rec.Health = cfg.MaxHealth
	}
	if rec.State == "" {
		rec.State = StateIdle
	}
	if (rec.SpawnPos == geo.Vec3{}) {
		rec.SpawnPos = rec.Pos
	}
	if rec.Owner != "" {
		rec.Status = StatusClaimed
	}
	if st.Destination != nil {
		d := Vec3FromWire(*st.Destination)
		rec.Destination = &d
	}
	return rec
}

// WireVec3 converts a vector to its wire triple.
func WireVec3(v geo.Vec3) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// Vec3FromWire converts a wire triple back to a vector.
func Vec3FromWire(p [3]float64) geo.Vec3 {
	return geo.Vec3{X: p[0], Y: p[1], Z: p[2]}
}
