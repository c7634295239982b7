package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mobsim.dev/internal/persistence/snapshot"
	"mobsim.dev/internal/sim/geo"
)

func openTestIndex(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx, path
}

func reopen(t *testing.T, path string) *SQLiteIndex {
	t.Helper()
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestAgentHistoryRoundTrip(t *testing.T) {
	idx, path := openTestIndex(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	idx.AgentEvent(now, "spawn", "mob-1", "", 0, geo.Vec3{X: 10, Z: 5})
	idx.AgentEvent(now.Add(time.Second), "claim", "mob-1", "node-a", 1, geo.Vec3{X: 10, Z: 5})
	idx.AgentEvent(now.Add(2*time.Second), "release", "mob-1", "node-a", 1, geo.Vec3{X: 14, Z: 5})
	idx.AgentEvent(now.Add(3*time.Second), "spawn", "mob-2", "", 0, geo.Vec3{X: -3})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx = reopen(t, path)
	events, err := idx.AgentHistory(context.Background(), "mob-1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("history length = %d want 3", len(events))
	}
	if events[0].Kind != "release" || events[1].Kind != "claim" || events[2].Kind != "spawn" {
		t.Fatalf("kinds newest-first = %s %s %s", events[0].Kind, events[1].Kind, events[2].Kind)
	}
	if events[1].NodeID != "node-a" || events[1].Version != 1 {
		t.Fatalf("claim event = %+v", events[1])
	}
	if events[0].Pos[0] != 14 || events[0].Pos[2] != 5 {
		t.Fatalf("release pos = %v", events[0].Pos)
	}
	if !events[2].TS.Equal(now) {
		t.Fatalf("spawn ts = %v want %v", events[2].TS, now)
	}
}

func TestAgentHistoryLimit(t *testing.T) {
	idx, path := openTestIndex(t)
	now := time.Now()
	for i := 0; i < 10; i++ {
		idx.AgentEvent(now.Add(time.Duration(i)*time.Second), "claim", "mob-1", "node-a", uint64(i), geo.Vec3{})
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx = reopen(t, path)
	events, err := idx.AgentHistory(context.Background(), "mob-1", 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("history length = %d want 3", len(events))
	}
	if events[0].Version != 9 {
		t.Fatalf("newest version = %d want 9", events[0].Version)
	}
}

func TestLatestSnapshot(t *testing.T) {
	idx, path := openTestIndex(t)

	if _, ok, err := idx.LatestSnapshot(context.Background()); err != nil || ok {
		t.Fatalf("empty index: ok=%v err=%v", ok, err)
	}

	st := snapshot.StateV1{
		Header: snapshot.Header{Version: 1, Tick: 100, SavedAt: "2024-05-01T12:00:00Z"},
		Agents: []snapshot.AgentV1{{ID: "mob-1"}},
	}
	idx.RecordSnapshot("/data/snapshots/100.snap.zst", st)

	st.Header.Tick = 300
	st.Header.SavedAt = "2024-05-01T12:01:00Z"
	st.Agents = append(st.Agents, snapshot.AgentV1{ID: "mob-2"})
	idx.RecordSnapshot("/data/snapshots/300.snap.zst", st)

	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	idx = reopen(t, path)

	e, ok, err := idx.LatestSnapshot(context.Background())
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if e.Tick != 300 || e.Agents != 2 {
		t.Fatalf("latest = %+v", e)
	}
	if e.Path != "/data/snapshots/300.snap.zst" {
		t.Fatalf("path = %q", e.Path)
	}
}

func TestSnapshotSameTickReplaced(t *testing.T) {
	idx, path := openTestIndex(t)

	st := snapshot.StateV1{Header: snapshot.Header{Version: 1, Tick: 100, SavedAt: "2024-05-01T12:00:00Z"}}
	idx.RecordSnapshot("/data/a.snap.zst", st)
	idx.RecordSnapshot("/data/b.snap.zst", st)

	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	idx = reopen(t, path)

	e, ok, err := idx.LatestSnapshot(context.Background())
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if e.Path != "/data/b.snap.zst" {
		t.Fatalf("path = %q want the replacement", e.Path)
	}
}

func TestWritesAfterCloseAreDropped(t *testing.T) {
	idx, _ := openTestIndex(t)
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Must not panic or block.
	idx.AgentEvent(time.Now(), "spawn", "mob-1", "", 0, geo.Vec3{})
	idx.RecordSnapshot("/data/x.snap.zst", snapshot.StateV1{})

	var nilIdx *SQLiteIndex
	nilIdx.AgentEvent(time.Now(), "spawn", "mob-1", "", 0, geo.Vec3{})
	if nilIdx.Dropped() != 0 {
		t.Fatal("nil index reported drops")
	}
}
