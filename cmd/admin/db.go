package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite index path (optional; overrides -data)")
	limit := fs.Int("limit", 20, "result limit")
	agentID := fs.String("agent", "", "agent_id filter (events)")
	kind := fs.String("kind", "", "kind filter (events): claim|release|timeout|disconnect|spawn|remove")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index.db")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,saved_at,agents FROM snapshots ORDER BY tick DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64  `json:"tick"`
				Path    string `json:"path"`
				SavedAt string `json:"saved_at"`
				Agents  int    `json:"agents"`
			}
			if err := rows.Scan(&r.Tick, &r.Path, &r.SavedAt, &r.Agents); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "events":
		sel := `SELECT seq,ts,kind,agent_id,node_id,version,x,y,z FROM events`
		var (
			where []string
			qargs []any
		)
		if strings.TrimSpace(*agentID) != "" {
			where = append(where, "agent_id=?")
			qargs = append(qargs, strings.TrimSpace(*agentID))
		}
		if strings.TrimSpace(*kind) != "" {
			where = append(where, "kind=?")
			qargs = append(qargs, strings.TrimSpace(*kind))
		}
		if len(where) > 0 {
			sel += " WHERE " + strings.Join(where, " AND ")
		}
		sel += " ORDER BY seq DESC LIMIT ?"
		qargs = append(qargs, *limit)

		rows, err := db.Query(sel, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Seq     int64   `json:"seq"`
				TS      string  `json:"ts"`
				Kind    string  `json:"kind"`
				AgentID string  `json:"agent_id"`
				NodeID  string  `json:"node_id,omitempty"`
				Version uint64  `json:"version"`
				X       float64 `json:"x"`
				Y       float64 `json:"y"`
				Z       float64 `json:"z"`
			}
			if err := rows.Scan(&r.Seq, &r.TS, &r.Kind, &r.AgentID, &r.NodeID, &r.Version, &r.X, &r.Y, &r.Z); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data|-db PATH] [-limit N] [-agent ID] [-kind K] events|snapshots")
		os.Exit(2)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
