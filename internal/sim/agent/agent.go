package agent

import (
	"time"

	"mobsim.dev/internal/sim/geo"
)

// Status says who is simulating an agent right now. Exactly one applies at
// any time; transitions happen only through claim, release, and timeout
// events.
type Status string

const (
	StatusClaimed  Status = "CLAIMED"
	StatusOrphaned Status = "ORPHANED"
	StatusFallback Status = "FALLBACK"
)

// SightMode selects the target-detection shape.
type SightMode string

const (
	SightDirectional SightMode = "DIRECTIONAL"
	SightOmni        SightMode = "OMNI"
)

// MoveMode selects how an agent reacts to an acquired target.
type MoveMode string

const (
	ModeMelee  MoveMode = "MELEE"
	ModeRanged MoveMode = "RANGED"
	ModeFlee   MoveMode = "FLEE"
	ModeNone   MoveMode = "NONE"
)

// State is the movement behavior state. Jumping overlays any of these and is
// tracked as a separate flag on the record.
type State string

const (
	StateIdle              State = "IDLE"
	StateWandering         State = "WANDERING"
	StateCombatApproaching State = "COMBAT_APPROACHING"
	StateCombatMelee       State = "COMBAT_MELEE"
	StateCombatRanged      State = "COMBAT_RANGED"
	StateFleeing           State = "FLEEING"
)

// Config is the immutable per-agent configuration published by the spawner.
// Zero fields take the defaults applied by ApplyDefaults.
type Config struct {
	MaxHealth float64 `json:"max_health,omitempty"`
	WalkSpeed float64 `json:"walk_speed,omitempty"`
	JumpPower float64 `json:"jump_power,omitempty"`

	SightRange float64   `json:"sight_range,omitempty"`
	SightMode  SightMode `json:"sight_mode,omitempty"`

	MoveMode     MoveMode `json:"move_mode,omitempty"`
	Faction      string   `json:"faction,omitempty"`
	AttackAllies bool     `json:"attack_allies,omitempty"`

	WanderRadius float64 `json:"wander_radius,omitempty"`

	MeleeOffsetRange   float64 `json:"melee_offset_range,omitempty"`
	RangedHoldFraction float64 `json:"ranged_hold_fraction,omitempty"`

	FleeDistanceFactor float64 `json:"flee_distance_factor,omitempty"`
	FleeSafeFactor     float64 `json:"flee_safe_factor,omitempty"`
	FleeNoticeSeconds  float64 `json:"flee_notice_seconds,omitempty"`
	FleeSpeedMult      float64 `json:"flee_speed_mult,omitempty"`

	// StandingOffset is the height of the agent origin above the ground
	// (hip height plus half the root height).
	StandingOffset float64 `json:"standing_offset,omitempty"`
}

// ApplyDefaults fills zero fields in place.
func (c *Config) ApplyDefaults() {
	if c.MaxHealth <= 0 {
		c.MaxHealth = 100
	}
	if c.WalkSpeed <= 0 {
		c.WalkSpeed = 16
	}
	if c.JumpPower <= 0 {
		c.JumpPower = 50
	}
	if c.SightRange <= 0 {
		c.SightRange = 200
	}
	if c.SightMode == "" {
		c.SightMode = SightDirectional
	}
	if c.MoveMode == "" {
		c.MoveMode = ModeRanged
	}
	if c.WanderRadius <= 0 {
		c.WanderRadius = 60
	}
	if c.MeleeOffsetRange <= 0 {
		c.MeleeOffsetRange = 8
	}
	if c.RangedHoldFraction <= 0 {
		c.RangedHoldFraction = 0.7
	}
	if c.FleeDistanceFactor <= 0 {
		c.FleeDistanceFactor = 2.0
	}
	if c.FleeSafeFactor <= 0 {
		c.FleeSafeFactor = 2.5
	}
	if c.FleeNoticeSeconds <= 0 {
		c.FleeNoticeSeconds = 0.4
	}
	if c.FleeSpeedMult <= 0 {
		c.FleeSpeedMult = 1.5
	}
	if c.StandingOffset <= 0 {
		c.StandingOffset = 3
	}
}

// MeleeOffsetMin is the lower bound of the randomized melee hold distance.
// Clamped to the configured range when the range is tighter.
func (c Config) MeleeOffsetMin() float64 {
	if c.MeleeOffsetRange < 3 {
		return c.MeleeOffsetRange
	}
	return 3
}

// CombatMovement reports whether target acquisition should drive pursuit.
func (c Config) CombatMovement() bool {
	return c.MoveMode == ModeMelee || c.MoveMode == ModeRanged
}

// Record is the shared per-agent state read by every node and written only
// by the current owner (or the fallback simulator while unowned).
type Record struct {
	ID     string
	Config Config

	Pos geo.Vec3
	Yaw float64

	// Health fields are owned by an external authority; this subsystem
	// reads them and never writes.
	Health    float64
	MaxHealth float64
	Alive     bool

	State   State
	Jumping bool

	// Destination may be set externally to command the agent.
	Destination *geo.Vec3

	// SpawnPos anchors wander destinations.
	SpawnPos geo.Vec3

	Owner        string
	ClaimVersion uint64
	Status       Status
	LastUpdate   time.Time
}

// NewRecord builds a freshly spawned, unowned record.
func NewRecord(id string, cfg Config, pos geo.Vec3, now time.Time) *Record {
	cfg.ApplyDefaults()
	return &Record{
		ID:         id,
		Config:     cfg,
		Pos:        pos,
		SpawnPos:   pos,
		Health:     cfg.MaxHealth,
		MaxHealth:  cfg.MaxHealth,
		Alive:      true,
		State:      StateIdle,
		Status:     StatusOrphaned,
		LastUpdate: now,
	}
}

// Clone copies the record, including the destination pointer's value.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Destination != nil {
		d := *r.Destination
		cp.Destination = &d
	}
	return &cp
}
