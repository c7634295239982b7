package behavior

import (
	"math"
	"time"

	"mobsim.dev/internal/sim/agent"
	"mobsim.dev/internal/sim/geo"
	"mobsim.dev/internal/sim/space"
)

// pushRecalcThreshold is how far a movement goal may drift before the held
// route is stale enough to recompute immediately.
const pushRecalcThreshold = 4.0

// groundProbeReach bounds how far above and below the origin the walking
// ground snap looks.
const groundProbeReach = 4.0

// Step advances one agent by dt seconds. The intra-tick order is fixed:
// state evaluation, horizontal movement, vertical integration, stuck and
// ground correction, facing. The caller performs the position write after
// Step returns.
func (e *Engine) Step(rec *agent.Record, now time.Time, dt float64) {
	bb := e.boards[rec.ID]
	if bb == nil || !rec.Alive {
		return
	}

	e.evaluate(rec, bb, now)
	dir, moving := e.moveHorizontal(rec, bb, now, dt)

	newY, _ := e.jumps.Step(rec.ID, rec.Pos, rec.Config.StandingOffset, dt)
	rec.Pos.Y = newY
	rec.Jumping = e.jumps.Airborne(rec.ID)

	e.updateStuck(rec, bb, now)
	if !rec.Jumping {
		e.groundSnap(rec)
	}

	e.face(rec, bb, dir, moving, now)
}

// TriggerJump starts a jump on behalf of an external command.
func (e *Engine) TriggerJump(rec *agent.Record) {
	if rec == nil || !rec.Alive {
		return
	}
	e.jumps.Trigger(rec.ID, rec.Config.JumpPower)
}

func (e *Engine) evaluate(rec *agent.Record, bb *blackboard, now time.Time) {
	switch rec.State {
	case agent.StateIdle:
		if rec.Destination != nil {
			rec.State = agent.StateWandering
			return
		}
		if now.Before(bb.nextWanderAt) {
			return
		}
		bb.nextWanderAt = now.Add(e.wanderCooldown())
		if e.rng.Float64() >= e.cfg.WanderChance {
			return
		}
		dest := e.wanderPoint(rec)
		rec.Destination = &dest
		rec.State = agent.StateWandering

	case agent.StateWandering:
		if rec.Destination == nil {
			rec.State = agent.StateIdle
			return
		}
		if rec.Pos.HorizDist(*rec.Destination) <= e.cfg.ArriveThreshold {
			e.clearTravel(rec, bb)
			rec.State = agent.StateIdle
			bb.nextWanderAt = now.Add(e.wanderCooldown())
		}

	case agent.StateCombatApproaching:
		tgt, ok := e.det.Target(rec.ID)
		if !ok {
			return
		}
		if rec.Pos.HorizDist(tgt.Pos) <= e.desiredRange(rec, bb) {
			e.clearTravel(rec, bb)
			if rec.Config.MoveMode == agent.ModeMelee {
				rec.State = agent.StateCombatMelee
			} else {
				rec.State = agent.StateCombatRanged
			}
		}

	case agent.StateCombatMelee, agent.StateCombatRanged:
		tgt, ok := e.det.Target(rec.ID)
		if !ok {
			return
		}
		if rec.Pos.HorizDist(tgt.Pos) > e.desiredRange(rec, bb) {
			rec.State = agent.StateCombatApproaching
		}

	case agent.StateFleeing:
		e.evaluateFlee(rec, bb, now)
	}
}

func (e *Engine) evaluateFlee(rec *agent.Record, bb *blackboard, now time.Time) {
	if tgt, ok := e.det.Target(rec.ID); ok {
		bb.threatPos = tgt.Pos
		bb.hasThreat = true
	}
	if !bb.hasThreat {
		e.endFlee(rec, bb, now)
		return
	}
	if rec.Pos.HorizDist(bb.threatPos) > rec.Config.SightRange*rec.Config.FleeSafeFactor {
		e.endFlee(rec, bb, now)
		return
	}
	if now.Before(bb.noticeUntil) {
		return
	}
	if rec.Destination != nil && rec.Pos.HorizDist(*rec.Destination) <= e.cfg.ArriveThreshold {
		e.clearTravel(rec, bb)
	}
	if rec.Destination == nil {
		away := rec.Pos.Sub(bb.threatPos).Flat().Norm()
		if away.IsZero() {
			away = geo.Heading(e.rng.Float64() * 2 * math.Pi)
		}
		dest := rec.Pos.Add(away.Scale(rec.Config.SightRange * rec.Config.FleeDistanceFactor))
		rec.Destination = &dest
	}
}

func (e *Engine) endFlee(rec *agent.Record, bb *blackboard, now time.Time) {
	e.det.DropTarget(rec.ID)
	e.clearTravel(rec, bb)
	bb.hasThreat = false
	bb.noticeUntil = time.Time{}
	rec.State = agent.StateIdle
	bb.nextWanderAt = now.Add(e.wanderCooldown())
}

// clearTravel drops the destination and any route built for it.
func (e *Engine) clearTravel(rec *agent.Record, bb *blackboard) {
	rec.Destination = nil
	e.nav.ClearRoute(rec.ID)
	bb.jumpedForWaypoint = -1
}

func (e *Engine) wanderPoint(rec *agent.Record) geo.Vec3 {
	ang := e.rng.Float64() * 2 * math.Pi
	dist := (0.2 + 0.8*e.rng.Float64()) * rec.Config.WanderRadius
	return rec.SpawnPos.Add(geo.Heading(ang).Scale(dist))
}

// movementGoal picks this tick's travel goal and speed, if any.
func (e *Engine) movementGoal(rec *agent.Record, bb *blackboard, now time.Time) (goal geo.Vec3, speed float64, combat, ok bool) {
	switch rec.State {
	case agent.StateWandering:
		if rec.Destination != nil {
			return *rec.Destination, rec.Config.WalkSpeed, false, true
		}
	case agent.StateCombatApproaching:
		if tgt, held := e.det.Target(rec.ID); held {
			return tgt.Pos, rec.Config.WalkSpeed, true, true
		}
	case agent.StateFleeing:
		if now.After(bb.noticeUntil) && rec.Destination != nil {
			return *rec.Destination, rec.Config.WalkSpeed * rec.Config.FleeSpeedMult, false, true
		}
	}
	return geo.Vec3{}, 0, false, false
}

func (e *Engine) moveHorizontal(rec *agent.Record, bb *blackboard, now time.Time, dt float64) (geo.Vec3, bool) {
	goal, speed, combat, ok := e.movementGoal(rec, bb, now)
	if !ok {
		return geo.Vec3{}, false
	}

	// A destination the pathfinder keeps failing on gets abandoned; a
	// single bad result does not, since the async recompute race produces
	// transient misses.
	if e.nav.Failures(rec.ID) >= e.cfg.PathFailureLimit {
		e.nav.ResetFailures(rec.ID)
		if rec.Destination != nil {
			e.clearTravel(rec, bb)
			if rec.State == agent.StateWandering {
				rec.State = agent.StateIdle
				bb.nextWanderAt = now.Add(e.wanderCooldown())
			}
			return geo.Vec3{}, false
		}
	}

	cursor := e.nav.Route(rec.ID)
	needRoute := (cursor == nil || cursor.Done()) && !e.nav.InFlight(rec.ID)
	if combat {
		needRoute = true
	}
	if bb.hasLastGoal && goal.HorizDist(bb.lastGoal) > pushRecalcThreshold {
		e.nav.ClearRoute(rec.ID)
		bb.jumpedForWaypoint = -1
		cursor = nil
		needRoute = true
	}
	if needRoute && e.nav.Request(rec.ID, rec.Pos, goal, combat) {
		bb.lastGoal = goal
		bb.hasLastGoal = true
	}

	// Walk the route when one is held; head straight for the goal while a
	// route computes or none is needed.
	target := goal
	if cursor != nil && !cursor.Done() {
		cursor.Advance(rec.Pos, e.cfg.ArriveThreshold)
		if wp, held := cursor.Current(); held {
			target = wp.Pos
			if wp.Jump && bb.jumpedForWaypoint != cursor.Index && !e.jumps.Airborne(rec.ID) {
				e.jumps.Trigger(rec.ID, rec.Config.JumpPower)
				bb.jumpedForWaypoint = cursor.Index
			}
		}
	}

	delta := target.Sub(rec.Pos).Flat()
	dist := delta.Len()
	if dist < 1e-6 {
		return geo.Vec3{}, false
	}
	dir := delta.Scale(1 / dist)
	step := speed * dt
	if step > dist {
		step = dist
	}
	rec.Pos = rec.Pos.Add(dir.Scale(step))
	return dir, true
}

func (e *Engine) updateStuck(rec *agent.Record, bb *blackboard, now time.Time) {
	bb.samples = append(bb.samples, posSample{at: now, pos: rec.Pos})
	cutoff := now.Add(-e.cfg.StuckWindow)
	for len(bb.samples) > 1 && bb.samples[1].at.Before(cutoff) {
		bb.samples = bb.samples[1:]
	}
	if rec.State == agent.StateIdle || rec.Jumping {
		return
	}
	if now.Sub(bb.samples[0].at) < e.cfg.StuckWindow {
		return
	}
	if rec.Pos.HorizDist(bb.samples[0].pos) >= e.cfg.StuckMinDisplacement {
		return
	}
	// Stuck: jump free and keep the destination so recovery stays
	// position-driven.
	e.jumps.Trigger(rec.ID, rec.Config.JumpPower)
	bb.samples = bb.samples[:0]
}

// groundSnap keeps a grounded agent's origin at standing height over the
// terrain, stepping down small ledges and correcting an underground origin.
func (e *Engine) groundSnap(rec *agent.Record) {
	probe := geo.Vec3{X: rec.Pos.X, Y: rec.Pos.Y + groundProbeReach, Z: rec.Pos.Z}
	depth := 2*groundProbeReach + rec.Config.StandingOffset
	ground, ok := space.GroundBelow(e.scene, probe, depth, 4)
	if !ok {
		return
	}
	rec.Pos.Y = ground + rec.Config.StandingOffset
}

func (e *Engine) face(rec *agent.Record, bb *blackboard, dir geo.Vec3, moving bool, now time.Time) {
	if moving {
		rec.Yaw = math.Atan2(dir.X, dir.Z)
		return
	}
	switch rec.State {
	case agent.StateCombatApproaching, agent.StateCombatMelee, agent.StateCombatRanged:
		if tgt, ok := e.det.Target(rec.ID); ok {
			rec.Yaw = rec.Pos.YawTo(tgt.Pos)
		}
	case agent.StateFleeing:
		if now.Before(bb.noticeUntil) && bb.hasThreat {
			rec.Yaw = rec.Pos.YawTo(bb.threatPos)
		}
	}
}
