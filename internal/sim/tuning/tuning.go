package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz         int `yaml:"tick_rate_hz"`
	SecondaryTickHz    int `yaml:"secondary_tick_hz"`
	PrimaryStallMs     int `yaml:"primary_stall_ms"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	Ownership Ownership `yaml:"ownership"`
	Sync      Sync      `yaml:"sync"`
	Fallback  Fallback  `yaml:"fallback"`
	Sight     Sight     `yaml:"sight"`
	Wander    Wander    `yaml:"wander"`
	Path      Path      `yaml:"path"`
	Jump      Jump      `yaml:"jump"`
	Stuck     Stuck     `yaml:"stuck"`
}

type Ownership struct {
	SimulationRadius    float64 `yaml:"simulation_radius"`
	ReleaseHysteresis   float64 `yaml:"release_hysteresis"`
	MaxAgentsPerNode    int     `yaml:"max_agents_per_node"`
	ClaimDelayBaseMs    int     `yaml:"claim_delay_base_ms"`
	ClaimDelayPerUnitMs float64 `yaml:"claim_delay_per_unit_ms"`
	TimeoutMs           int     `yaml:"timeout_ms"`
	SweepIntervalMs     int     `yaml:"sweep_interval_ms"`
	ClaimRaceEpsilon    float64 `yaml:"claim_race_epsilon"`
}

type Sync struct {
	SendIntervalMs  int     `yaml:"send_interval_ms"`
	BroadcastRadius float64 `yaml:"broadcast_radius"`
	MaxBatch        int     `yaml:"max_batch"`
}

type Fallback struct {
	AfterMs          int     `yaml:"after_ms"`
	UpdateIntervalMs int     `yaml:"update_interval_ms"`
	SpeedMult        float64 `yaml:"speed_mult"`
	MaxAgents        int     `yaml:"max_agents"`
}

type Sight struct {
	ConeAngleDeg      float64 `yaml:"cone_angle_deg"`
	IdleIntervalMinMs int     `yaml:"idle_interval_min_ms"`
	IdleIntervalMaxMs int     `yaml:"idle_interval_max_ms"`
	EngagedIntervalMs int     `yaml:"engaged_interval_ms"`
	LoopIntervalMs    int     `yaml:"loop_interval_ms"`
}

type Wander struct {
	RadiusMin     float64 `yaml:"radius_min"`
	RadiusMax     float64 `yaml:"radius_max"`
	CooldownMinMs int     `yaml:"cooldown_min_ms"`
	CooldownMaxMs int     `yaml:"cooldown_max_ms"`
	Chance        float64 `yaml:"chance"`
}

type Path struct {
	RecalcIntervalMs       int     `yaml:"recalc_interval_ms"`
	CombatRecalcIntervalMs int     `yaml:"combat_recalc_interval_ms"`
	FailureLimit           int     `yaml:"failure_limit"`
	ArriveThreshold        float64 `yaml:"arrive_threshold"`
	Workers                int     `yaml:"workers"`
}

type Jump struct {
	Gravity          float64 `yaml:"gravity"`
	TimeoutMs        int     `yaml:"timeout_ms"`
	RaycastSkipLimit int     `yaml:"raycast_skip_limit"`
}

type Stuck struct {
	WindowMs        int     `yaml:"window_ms"`
	MinDisplacement float64 `yaml:"min_displacement"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:         20,
		SecondaryTickHz:    10,
		PrimaryStallMs:     250,
		SnapshotEveryTicks: 1200,
		Ownership: Ownership{
			SimulationRadius:    300,
			ReleaseHysteresis:   1.2,
			MaxAgentsPerNode:    40,
			ClaimDelayBaseMs:    50,
			ClaimDelayPerUnitMs: 5,
			TimeoutMs:           5000,
			SweepIntervalMs:     2000,
			ClaimRaceEpsilon:    0.5,
		},
		Sync: Sync{
			SendIntervalMs:  100,
			BroadcastRadius: 500,
			MaxBatch:        50,
		},
		Fallback: Fallback{
			AfterMs:          3000,
			UpdateIntervalMs: 1000,
			SpeedMult:        0.35,
			MaxAgents:        100,
		},
		Sight: Sight{
			ConeAngleDeg:      120,
			IdleIntervalMinMs: 1000,
			IdleIntervalMaxMs: 3000,
			EngagedIntervalMs: 1500,
			LoopIntervalMs:    100,
		},
		Wander: Wander{
			RadiusMin:     20,
			RadiusMax:     80,
			CooldownMinMs: 2000,
			CooldownMaxMs: 6000,
			Chance:        0.3,
		},
		Path: Path{
			RecalcIntervalMs:       1000,
			CombatRecalcIntervalMs: 100,
			FailureLimit:           3,
			ArriveThreshold:        2.0,
			Workers:                2,
		},
		Jump: Jump{
			Gravity:          196.2,
			TimeoutMs:        3000,
			RaycastSkipLimit: 4,
		},
		Stuck: Stuck{
			WindowMs:        1200,
			MinDisplacement: 1.5,
		},
	}
}

// Load reads tuning.yaml over the defaults, so a partial file only
// overrides what it names.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}
