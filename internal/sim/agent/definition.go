package agent

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"mobsim.dev/internal/sim/geo"
)

// Definition is the spawn document published by the external spawner. It is
// validated against DefinitionSchema before a record is created.
type Definition struct {
	ID     string     `json:"id,omitempty"`
	Pos    [3]float64 `json:"pos"`
	Config Config     `json:"config,omitempty"`
}

// DefinitionSchema mirrors the Definition shape. The copy under schemas/ is
// the published artifact; this constant keeps runtime validation free of
// file-path dependencies.
const DefinitionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["pos"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "pos": {
      "type": "array",
      "items": {"type": "number"},
      "minItems": 3,
      "maxItems": 3
    },
    "config": {
      "type": "object",
      "properties": {
        "max_health": {"type": "number", "exclusiveMinimum": 0},
        "walk_speed": {"type": "number", "exclusiveMinimum": 0},
        "jump_power": {"type": "number", "exclusiveMinimum": 0},
        "sight_range": {"type": "number", "exclusiveMinimum": 0},
        "sight_mode": {"enum": ["DIRECTIONAL", "OMNI"]},
        "move_mode": {"enum": ["MELEE", "RANGED", "FLEE", "NONE"]},
        "faction": {"type": "string"},
        "attack_allies": {"type": "boolean"},
        "wander_radius": {"type": "number", "exclusiveMinimum": 0},
        "melee_offset_range": {"type": "number", "exclusiveMinimum": 0},
        "ranged_hold_fraction": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
        "flee_distance_factor": {"type": "number", "exclusiveMinimum": 0},
        "flee_safe_factor": {"type": "number", "exclusiveMinimum": 0},
        "flee_notice_seconds": {"type": "number", "exclusiveMinimum": 0},
        "flee_speed_mult": {"type": "number", "exclusiveMinimum": 0},
        "standing_offset": {"type": "number", "exclusiveMinimum": 0}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`

var (
	defSchemaOnce sync.Once
	defSchema     *jsonschema.Schema
	defSchemaErr  error
)

func compiledDefinitionSchema() (*jsonschema.Schema, error) {
	defSchemaOnce.Do(func() {
		defSchema, defSchemaErr = jsonschema.CompileString("agent_definition.schema.json", DefinitionSchema)
	})
	return defSchema, defSchemaErr
}

// ParseDefinition validates and decodes a spawn document.
func ParseDefinition(raw []byte) (Definition, error) {
	var def Definition
	sch, err := compiledDefinitionSchema()
	if err != nil {
		return def, fmt.Errorf("definition schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return def, fmt.Errorf("definition: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return def, fmt.Errorf("definition: %w", err)
	}
	if err := json.Unmarshal(raw, &def); err != nil {
		return def, fmt.Errorf("definition: %w", err)
	}
	return def, nil
}

// NewRecordFromDefinition builds the record for a validated definition,
// assigning id when the document left it empty.
func NewRecordFromDefinition(def Definition, id string, now time.Time) *Record {
	if def.ID != "" {
		id = def.ID
	}
	pos := geo.Vec3{X: def.Pos[0], Y: def.Pos[1], Z: def.Pos[2]}
	return NewRecord(id, def.Config, pos, now)
}
