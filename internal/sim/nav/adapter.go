package nav

import (
	"time"

	"golang.org/x/time/rate"

	"mobsim.dev/internal/sim/geo"
)

// Adapter owns the per-agent route state on a simulating node: request
// rate limiting, in-flight versioning, failure counting, and the active
// cursor. It is driven from the node's simulation goroutine only.
type Adapter struct {
	svc *Service

	recalcEvery       time.Duration
	combatRecalcEvery time.Duration

	results chan Result
	agents  map[string]*agentRoute

	requests uint64
	failures uint64
}

type agentRoute struct {
	limiter *rate.Limiter
	combat  bool

	// nextVersion tags the newest request; older completions are stale
	// and dropped.
	nextVersion uint64
	inflight    bool
	failures    int
	cursor      *Cursor
}

// AdapterConfig carries the recompute limits.
type AdapterConfig struct {
	RecalcEvery       time.Duration
	CombatRecalcEvery time.Duration
}

func NewAdapter(svc *Service, cfg AdapterConfig) *Adapter {
	if cfg.RecalcEvery <= 0 {
		cfg.RecalcEvery = time.Second
	}
	if cfg.CombatRecalcEvery <= 0 {
		cfg.CombatRecalcEvery = 100 * time.Millisecond
	}
	return &Adapter{
		svc:               svc,
		recalcEvery:       cfg.RecalcEvery,
		combatRecalcEvery: cfg.CombatRecalcEvery,
		results:           make(chan Result, 256),
	}
}

// Register adds an agent and returns its detach func. Detach supersedes any
// in-flight computation and drops the route state.
func (a *Adapter) Register(id string) func() {
	if a.agents == nil {
		a.agents = map[string]*agentRoute{}
	}
	a.agents[id] = &agentRoute{
		limiter: rate.NewLimiter(rate.Every(a.recalcEvery), 1),
	}
	return func() { delete(a.agents, id) }
}

// Request asks for a fresh route. Returns false when the limiter, the
// compute queue, or an unknown agent shed the request. A granted request
// supersedes any older in-flight one.
func (a *Adapter) Request(id string, from, to geo.Vec3, combat bool) bool {
	e := a.agents[id]
	if e == nil {
		return false
	}
	if e.combat != combat {
		e.combat = combat
		if combat {
			e.limiter.SetLimit(rate.Every(a.combatRecalcEvery))
		} else {
			e.limiter.SetLimit(rate.Every(a.recalcEvery))
		}
	}
	if !e.limiter.Allow() {
		return false
	}
	e.nextVersion++
	e.inflight = true
	req := Request{AgentID: id, Version: e.nextVersion, From: from, To: to}
	if err := a.svc.Submit(req, a.results); err != nil {
		e.inflight = false
		e.failures++
		a.failures++
		return false
	}
	a.requests++
	return true
}

// Drain applies completed computations. pos supplies the agent's current
// position so a new route re-anchors instead of backtracking.
func (a *Adapter) Drain(pos func(string) (geo.Vec3, bool)) {
	for {
		select {
		case r := <-a.results:
			e := a.agents[r.AgentID]
			if e == nil || r.Version != e.nextVersion {
				continue
			}
			e.inflight = false
			if r.Err != nil {
				e.failures++
				a.failures++
				continue
			}
			e.failures = 0
			c := NewCursor(r.Waypoints)
			if p, ok := pos(r.AgentID); ok {
				c.Reanchor(p)
			}
			e.cursor = c
		default:
			return
		}
	}
}

// Route returns the active cursor, or nil while none is held.
func (a *Adapter) Route(id string) *Cursor {
	if e := a.agents[id]; e != nil {
		return e.cursor
	}
	return nil
}

func (a *Adapter) InFlight(id string) bool {
	if e := a.agents[id]; e != nil {
		return e.inflight
	}
	return false
}

func (a *Adapter) Failures(id string) int {
	if e := a.agents[id]; e != nil {
		return e.failures
	}
	return 0
}

// ClearRoute drops the cursor and supersedes anything in flight. Failure
// counts survive so repeated bad destinations still get abandoned.
func (a *Adapter) ClearRoute(id string) {
	e := a.agents[id]
	if e == nil {
		return
	}
	e.cursor = nil
	if e.inflight {
		e.nextVersion++
		e.inflight = false
	}
}

func (a *Adapter) ResetFailures(id string) {
	if e := a.agents[id]; e != nil {
		e.failures = 0
	}
}

// Stats returns the lifetime request and failure totals across all agents.
func (a *Adapter) Stats() (requests, failures uint64) {
	return a.requests, a.failures
}
