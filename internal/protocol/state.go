package protocol

// AgentState is the full shared record for one agent as it travels the
// wire: WELCOME rosters, spawn broadcasts, claim grants.
type AgentState struct {
	ID           string      `json:"id"`
	Pos          [3]float64  `json:"pos"`
	SpawnPos     [3]float64  `json:"spawn_pos"`
	Yaw          float64     `json:"yaw"`
	State        string      `json:"state"`
	Jumping      bool        `json:"jumping,omitempty"`
	Health       float64     `json:"health"`
	MaxHealth    float64     `json:"max_health"`
	Alive        bool        `json:"alive"`
	Owner        string      `json:"owner,omitempty"`
	ClaimVersion uint64      `json:"claim_version"`
	Destination  *[3]float64 `json:"destination,omitempty"`
	Config       AgentConfig `json:"config"`
}

// AgentConfig mirrors the spawner-published per-agent configuration. Zero
// fields mean "use the default"; receivers fill defaults themselves.
type AgentConfig struct {
	MaxHealth float64 `json:"max_health,omitempty"`
	WalkSpeed float64 `json:"walk_speed,omitempty"`
	JumpPower float64 `json:"jump_power,omitempty"`

	SightRange float64 `json:"sight_range,omitempty"`
	SightMode  string  `json:"sight_mode,omitempty"`

	MoveMode     string `json:"move_mode,omitempty"`
	Faction      string `json:"faction,omitempty"`
	AttackAllies bool   `json:"attack_allies,omitempty"`

	WanderRadius float64 `json:"wander_radius,omitempty"`

	MeleeOffsetRange   float64 `json:"melee_offset_range,omitempty"`
	RangedHoldFraction float64 `json:"ranged_hold_fraction,omitempty"`

	FleeDistanceFactor float64 `json:"flee_distance_factor,omitempty"`
	FleeSafeFactor     float64 `json:"flee_safe_factor,omitempty"`
	FleeNoticeSeconds  float64 `json:"flee_notice_seconds,omitempty"`
	FleeSpeedMult      float64 `json:"flee_speed_mult,omitempty"`

	StandingOffset float64 `json:"standing_offset,omitempty"`
}
