package sight

import "mobsim.dev/internal/sim/geo"

// Candidate is anything an agent could acquire as a target: a player or an
// opposing agent.
type Candidate struct {
	ID      string
	Pos     geo.Vec3
	Faction string
	Alive   bool
}

// Source supplies detection candidates. Implementations exclude the looker
// itself from CandidatesNear.
type Source interface {
	CandidatesNear(selfID string, pos geo.Vec3, radius float64) []Candidate
	// Candidate resolves a held target's live state between detection
	// passes. ok is false once the target left the world.
	Candidate(id string) (Candidate, bool)
}
