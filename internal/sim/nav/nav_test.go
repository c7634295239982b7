package nav

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"mobsim.dev/internal/sim/geo"
	"mobsim.dev/internal/sim/space"
)

func TestCursorAdvanceConsumesReachedWaypoints(t *testing.T) {
	c := NewCursor([]Waypoint{
		{Pos: geo.Vec3{X: 0, Z: 0}},
		{Pos: geo.Vec3{X: 10, Z: 0}},
		{Pos: geo.Vec3{X: 20, Z: 0}},
	})

	// The walker's origin sits above the waypoint by its standing offset;
	// arrival is horizontal only.
	if !c.Advance(geo.Vec3{X: 0.5, Y: 3, Z: 0}, 2) {
		t.Fatal("first waypoint not consumed")
	}
	wp, ok := c.Current()
	if !ok || wp.Pos.X != 10 {
		t.Fatalf("current = %+v ok=%v, want x=10", wp, ok)
	}

	if c.Advance(geo.Vec3{X: 3, Y: 3, Z: 0}, 2) {
		t.Fatal("advanced while short of the waypoint")
	}

	// A wide threshold consumes every remaining waypoint in one call.
	if !c.Advance(geo.Vec3{X: 20, Y: 3, Z: 0}, 25) {
		t.Fatal("remaining waypoints not consumed")
	}
	if !c.Done() {
		t.Fatalf("cursor not done at index %d", c.Index)
	}
}

func TestCursorReanchorSkipsPassedWaypoints(t *testing.T) {
	route := []Waypoint{
		{Pos: geo.Vec3{X: 0}},
		{Pos: geo.Vec3{X: 10}},
		{Pos: geo.Vec3{X: 20}},
	}

	c := NewCursor(route)
	c.Reanchor(geo.Vec3{X: 12})
	wp, ok := c.Current()
	if !ok || wp.Pos.X != 20 {
		t.Fatalf("current after reanchor = %+v ok=%v, want x=20", wp, ok)
	}

	// Behind the route start nothing is skipped.
	c = NewCursor(route)
	c.Reanchor(geo.Vec3{X: -5})
	wp, ok = c.Current()
	if !ok || wp.Pos.X != 0 {
		t.Fatalf("current after reanchor = %+v ok=%v, want x=0", wp, ok)
	}
}

func TestGridRouteAcrossFlatGround(t *testing.T) {
	g := NewGrid(&space.BoxScene{GroundY: 0}, GridConfig{MaxX: 80, MaxZ: 80, CellSize: 8})

	target := geo.Vec3{X: 58, Y: 0, Z: 6}
	wps, err := g.FindPath(geo.Vec3{X: 4, Y: 3, Z: 4}, target)
	if err != nil {
		t.Fatalf("find path: %v", err)
	}
	if len(wps) != 8 {
		t.Fatalf("waypoint count = %d want 8", len(wps))
	}
	if first := wps[0].Pos; first.X != 12 || first.Y != 0 || first.Z != 4 {
		t.Fatalf("first waypoint = %v, want the next cell center", first)
	}
	if last := wps[len(wps)-1].Pos; last != target {
		t.Fatalf("last waypoint = %v want %v", last, target)
	}
	for i, wp := range wps {
		if wp.Jump {
			t.Fatalf("waypoint %d flagged jump on flat ground", i)
		}
	}
}

func TestGridSameCellRoutesDirect(t *testing.T) {
	g := NewGrid(&space.BoxScene{GroundY: 0}, GridConfig{MaxX: 80, MaxZ: 80, CellSize: 8})

	target := geo.Vec3{X: 6, Y: 0, Z: 5}
	wps, err := g.FindPath(geo.Vec3{X: 4, Y: 0, Z: 4}, target)
	if err != nil {
		t.Fatalf("find path: %v", err)
	}
	if len(wps) != 1 || wps[0].Pos != target {
		t.Fatalf("wps = %v, want the exact target only", wps)
	}
}

// towerScene blocks exactly one cell: the tower tops out above the probe
// ceiling, so its roof is never sampled as ground and its body fills the
// standing clearance.
func towerScene() *space.BoxScene {
	return &space.BoxScene{
		GroundY: 0,
		Boxes: []space.Box{
			{Name: "tower", Min: geo.Vec3{X: 40, Y: 0, Z: 40}, Max: geo.Vec3{X: 48, Y: 80, Z: 48}, Solid: true},
		},
	}
}

func TestGridUnreachableTarget(t *testing.T) {
	g := NewGrid(towerScene(), GridConfig{MaxX: 80, MaxZ: 80, CellSize: 8, ProbeHeight: 64})

	_, err := g.FindPath(geo.Vec3{X: 4, Z: 4}, geo.Vec3{X: 44, Z: 44})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v want ErrUnreachable", err)
	}
}

func TestGridStartRescuedToNearestWalkable(t *testing.T) {
	g := NewGrid(towerScene(), GridConfig{MaxX: 80, MaxZ: 80, CellSize: 8, ProbeHeight: 64})

	target := geo.Vec3{X: 4, Y: 0, Z: 4}
	wps, err := g.FindPath(geo.Vec3{X: 44, Z: 44}, target)
	if err != nil {
		t.Fatalf("find path from blocked cell: %v", err)
	}
	if len(wps) == 0 {
		t.Fatal("empty route")
	}
	if last := wps[len(wps)-1].Pos; last != target {
		t.Fatalf("last waypoint = %v want %v", last, target)
	}
	for i, wp := range wps {
		if wp.Pos.X == 44 && wp.Pos.Z == 44 {
			t.Fatalf("waypoint %d routed through the tower cell", i)
		}
	}
}

func TestGridClimbMarksJumpWaypoint(t *testing.T) {
	scene := &space.BoxScene{GroundAt: func(x, z float64) float64 {
		if x >= 40 {
			return 10
		}
		return 0
	}}
	g := NewGrid(scene, GridConfig{MaxX: 80, MaxZ: 16, CellSize: 8})

	target := geo.Vec3{X: 76, Y: 10, Z: 4}
	wps, err := g.FindPath(geo.Vec3{X: 4, Y: 0, Z: 4}, target)
	if err != nil {
		t.Fatalf("find path: %v", err)
	}
	if len(wps) != 9 {
		t.Fatalf("waypoint count = %d want 9", len(wps))
	}
	jumps := 0
	for _, wp := range wps {
		if !wp.Jump {
			continue
		}
		jumps++
		if wp.Pos.X != 44 || wp.Pos.Y != 10 {
			t.Fatalf("jump waypoint at %v, want the plateau edge", wp.Pos)
		}
	}
	if jumps != 1 {
		t.Fatalf("jump count = %d want 1", jumps)
	}
	if last := wps[len(wps)-1].Pos; last != target {
		t.Fatalf("last waypoint = %v want %v", last, target)
	}
}

// stubPather resolves every route as a single waypoint at the target, or
// fails with err when set.
type stubPather struct {
	err error
}

func (p stubPather) FindPath(from, to geo.Vec3) ([]Waypoint, error) {
	if p.err != nil {
		return nil, p.err
	}
	return []Waypoint{{Pos: to}}, nil
}

func newTestAdapter(t *testing.T, pf Pathfinder) (*Adapter, *Service) {
	t.Helper()
	svc := NewService(pf, 1, log.New(io.Discard, "", 0))
	t.Cleanup(svc.Close)
	// Hour-scale limits so a second request inside one test is always shed.
	a := NewAdapter(svc, AdapterConfig{RecalcEvery: time.Hour, CombatRecalcEvery: time.Hour})
	return a, svc
}

func TestAdapterRouteRoundTrip(t *testing.T) {
	a, svc := newTestAdapter(t, stubPather{})
	detach := a.Register("mob-1")
	defer detach()

	from := geo.Vec3{X: 4, Y: 3, Z: 4}
	to := geo.Vec3{X: 40, Y: 0, Z: 12}
	if !a.Request("mob-1", from, to, false) {
		t.Fatal("request shed")
	}
	if !a.InFlight("mob-1") {
		t.Fatal("request not marked in flight")
	}

	// Close waits for the worker, so the result is buffered before Drain.
	svc.Close()
	a.Drain(func(string) (geo.Vec3, bool) { return from, true })

	c := a.Route("mob-1")
	if c == nil {
		t.Fatal("no cursor after drain")
	}
	wp, ok := c.Current()
	if !ok || wp.Pos != to {
		t.Fatalf("cursor waypoint = %+v ok=%v, want %v", wp, ok, to)
	}
	if a.InFlight("mob-1") {
		t.Fatal("still in flight after drain")
	}
	reqs, fails := a.Stats()
	if reqs != 1 || fails != 0 {
		t.Fatalf("stats = %d/%d want 1/0", reqs, fails)
	}
}

func TestAdapterLimiterShedsRepeats(t *testing.T) {
	a, _ := newTestAdapter(t, stubPather{})
	detach := a.Register("mob-1")
	defer detach()

	from := geo.Vec3{X: 4, Z: 4}
	to := geo.Vec3{X: 40, Z: 4}
	if !a.Request("mob-1", from, to, false) {
		t.Fatal("first request shed")
	}
	if a.Request("mob-1", from, to, false) {
		t.Fatal("second request passed the limiter")
	}
	if reqs, _ := a.Stats(); reqs != 1 {
		t.Fatalf("requests = %d want 1", reqs)
	}
	if a.Request("unknown", from, to, false) {
		t.Fatal("unknown agent accepted")
	}
}

func TestAdapterStaleResultDropped(t *testing.T) {
	a, svc := newTestAdapter(t, stubPather{})
	detach := a.Register("mob-1")
	defer detach()

	if !a.Request("mob-1", geo.Vec3{X: 4, Z: 4}, geo.Vec3{X: 40, Z: 4}, false) {
		t.Fatal("request shed")
	}
	// Supersede before the result lands.
	a.ClearRoute("mob-1")

	svc.Close()
	a.Drain(func(string) (geo.Vec3, bool) { return geo.Vec3{}, false })

	if a.Route("mob-1") != nil {
		t.Fatal("stale result installed a cursor")
	}
}

func TestAdapterCountsFailures(t *testing.T) {
	a, svc := newTestAdapter(t, stubPather{err: ErrUnreachable})
	detach := a.Register("mob-1")
	defer detach()

	if !a.Request("mob-1", geo.Vec3{X: 4, Z: 4}, geo.Vec3{X: -900, Z: 4}, false) {
		t.Fatal("request shed")
	}
	svc.Close()
	a.Drain(func(string) (geo.Vec3, bool) { return geo.Vec3{}, false })

	if n := a.Failures("mob-1"); n != 1 {
		t.Fatalf("failures = %d want 1", n)
	}
	if a.Route("mob-1") != nil {
		t.Fatal("cursor installed from a failed computation")
	}
	if _, fails := a.Stats(); fails != 1 {
		t.Fatalf("failure total = %d want 1", fails)
	}

	a.ResetFailures("mob-1")
	if n := a.Failures("mob-1"); n != 0 {
		t.Fatalf("failures after reset = %d want 0", n)
	}
}
