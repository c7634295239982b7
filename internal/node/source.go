package node

import (
	"mobsim.dev/internal/sim/agent"
	"mobsim.dev/internal/sim/geo"
	"mobsim.dev/internal/sim/sight"
	"mobsim.dev/internal/sim/space"
)

// mirrorSource feeds the sight detector from the mirror registry plus the
// host-supplied externals (players). Rebuilt by the loop each tick, read
// by the detector inside the same tick.
type mirrorSource struct {
	grid     *space.Grid
	byID     map[string]sight.Candidate
	external []sight.Candidate
}

func newMirrorSource() *mirrorSource {
	return &mirrorSource{
		grid: space.NewGrid(64),
		byID: map[string]sight.Candidate{},
	}
}

func (s *mirrorSource) setExternal(cs []sight.Candidate) {
	s.external = cs
}

func (s *mirrorSource) rebuild(reg *agent.Registry) {
	s.grid.Clear()
	s.byID = make(map[string]sight.Candidate, len(s.byID))

	reg.Each(func(rec *agent.Record) {
		c := sight.Candidate{
			ID:      rec.ID,
			Pos:     rec.Pos,
			Faction: rec.Config.Faction,
			Alive:   rec.Alive,
		}
		s.byID[rec.ID] = c
		s.grid.Insert(rec.ID, rec.Pos)
	})
	for _, c := range s.external {
		s.byID[c.ID] = c
		s.grid.Insert(c.ID, c.Pos)
	}
}

func (s *mirrorSource) CandidatesNear(selfID string, pos geo.Vec3, radius float64) []sight.Candidate {
	entries := s.grid.NearbyWithin(pos, radius)
	out := make([]sight.Candidate, 0, len(entries))
	for _, e := range entries {
		if e.ID == selfID {
			continue
		}
		if c, ok := s.byID[e.ID]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *mirrorSource) Candidate(id string) (sight.Candidate, bool) {
	c, ok := s.byID[id]
	return c, ok
}
