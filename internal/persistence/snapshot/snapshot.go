// Package snapshot serializes coordinator state to disk so a restart can
// resume the population instead of respawning it. Files carry a one-line
// JSON header for quick inspection followed by a zstd-compressed gob body.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version int    `json:"version"`
	Tick    uint64 `json:"tick"`
	SavedAt string `json:"saved_at"`
}

// StateV1 is the full coordinator state at one tick. Ownership is not
// persisted: every agent comes back orphaned and nodes re-claim on
// reconnect, which is the same path as a coordinator crash.
type StateV1 struct {
	Header Header `json:"header"`

	TickRateHz       int     `json:"tick_rate_hz"`
	SimulationRadius float64 `json:"simulation_radius"`

	Agents []AgentV1 `json:"agents"`
}

type AgentV1 struct {
	ID       string     `json:"id"`
	Pos      [3]float64 `json:"pos"`
	SpawnPos [3]float64 `json:"spawn_pos"`
	Yaw      float64    `json:"yaw"`

	State   string `json:"state"`
	Jumping bool   `json:"jumping,omitempty"`

	Health    float64 `json:"health"`
	MaxHealth float64 `json:"max_health"`
	Alive     bool    `json:"alive"`

	ClaimVersion uint64 `json:"claim_version"`

	Destination *[3]float64 `json:"destination,omitempty"`

	Config ConfigV1 `json:"config"`
}

type ConfigV1 struct {
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

// FilePath names the snapshot for a tick under dir.
func FilePath(dir string, tick uint64) string {
	return filepath.Join(dir, "snapshots", fmt.Sprintf("%d.snap.zst", tick))
}

func WriteState(path string, state StateV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(state.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&state); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadState(path string) (StateV1, error) {
	var state StateV1
	f, err := os.Open(path)
	if err != nil {
		return state, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return state, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is for humans; the gob body repeats it.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&state); err != nil {
		return state, fmt.Errorf("gob decode: %w", err)
	}
	return state, nil
}
