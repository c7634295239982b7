// Package indexdb keeps a queryable sqlite index of ownership events and
// snapshot locations. It is a secondary artifact: every write is
// non-blocking and shed under pressure, so the authority loop never waits
// on the database.
package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"mobsim.dev/internal/persistence/snapshot"
	"mobsim.dev/internal/sim/geo"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	ev   eventRow
	snap snapshotRow
}

type eventRow struct {
	TS      string
	Kind    string
	AgentID string
	NodeID  string
	Version uint64
	X, Y, Z float64
}

type snapshotRow struct {
	Tick    uint64
	Path    string
	SavedAt string
	Agents  int
}

// EventEntry is one indexed ownership event.
type EventEntry struct {
	Seq     int64
	TS      time.Time
	Kind    string
	AgentID string
	NodeID  string
	Version uint64
	Pos     [3]float64
}

// SnapshotEntry locates one recorded snapshot file.
type SnapshotEntry struct {
	Tick    uint64
	Path    string
	SavedAt time.Time
	Agents  int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// High buffer: a node death orphans its whole roster in one sweep
		// and every event lands here at once.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			kind TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_agent_seq ON events(agent_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_seq ON events(kind, seq);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			saved_at TEXT NOT NULL,
			agents INTEGER NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// AgentEvent implements the authority's event sink. It runs on the loop
// goroutine and must never block.
func (s *SQLiteIndex) AgentEvent(now time.Time, kind, agentID, nodeID string, version uint64, pos geo.Vec3) {
	if s == nil || s.closed.Load() {
		return
	}
	r := eventRow{
		TS:      now.UTC().Format(time.RFC3339Nano),
		Kind:    kind,
		AgentID: agentID,
		NodeID:  nodeID,
		Version: version,
		X:       pos.X,
		Y:       pos.Y,
		Z:       pos.Z,
	}
	select {
	case s.ch <- req{kind: reqEvent, ev: r}:
	default:
		// Drop if the indexer falls behind; snapshots remain the source
		// of truth.
		s.dropped.Add(1)
	}
}

// RecordSnapshot notes where a snapshot file landed so a restart can find
// the newest one without scanning the directory.
func (s *SQLiteIndex) RecordSnapshot(path string, st snapshot.StateV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:    st.Header.Tick,
		Path:    path,
		SavedAt: st.Header.SavedAt,
		Agents:  len(st.Agents),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snap: r}:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports writes shed under pressure.
func (s *SQLiteIndex) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// LatestSnapshot returns the newest recorded snapshot. ok is false when
// the index has never seen one.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (SnapshotEntry, bool, error) {
	var e SnapshotEntry
	var savedAt string
	row := s.db.QueryRowContext(ctx,
		`SELECT tick, path, saved_at, agents FROM snapshots ORDER BY tick DESC LIMIT 1`)
	if err := row.Scan(&e.Tick, &e.Path, &savedAt, &e.Agents); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, false, nil
		}
		return e, false, err
	}
	e.SavedAt, _ = time.Parse(time.RFC3339Nano, savedAt)
	return e, true, nil
}

// AgentHistory returns the most recent events for one agent, newest first.
func (s *SQLiteIndex) AgentHistory(ctx context.Context, agentID string, limit int) ([]EventEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, ts, kind, agent_id, node_id, version, x, y, z
		 FROM events WHERE agent_id = ? ORDER BY seq DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventEntry
	for rows.Next() {
		var e EventEntry
		var ts string
		if err := rows.Scan(&e.Seq, &ts, &e.Kind, &e.AgentID, &e.NodeID, &e.Version,
			&e.Pos[0], &e.Pos[1], &e.Pos[2]); err != nil {
			return nil, err
		}
		e.TS, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertEvent, _ := s.db.Prepare(`INSERT INTO events(ts,kind,agent_id,node_id,version,x,y,z) VALUES(?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,saved_at,agents) VALUES(?,?,?,?)`)
	defer func() {
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 1000
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEvent:
			if insertEvent != nil {
				e := r.ev
				if _, err := tx.Stmt(insertEvent).Exec(
					e.TS, e.Kind, e.AgentID, e.NodeID,
					int64(e.Version), e.X, e.Y, e.Z,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			if insertSnapshot != nil {
				sn := r.snap
				if _, err := tx.Stmt(insertSnapshot).Exec(
					int64(sn.Tick), sn.Path, sn.SavedAt, sn.Agents,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
