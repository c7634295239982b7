package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

func statusCmd(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8081", "admin base url")
	_ = fs.Parse(args)

	call(http.MethodGet, join(*baseURL, "/v1/status"), nil)
}

func agentsCmd(args []string) {
	fs := flag.NewFlagSet("agents", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8081", "admin base url")
	_ = fs.Parse(args)

	call(http.MethodGet, join(*baseURL, "/v1/agents"), nil)
}

func spawnCmd(args []string) {
	fs := flag.NewFlagSet("spawn", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8081", "admin base url")
	pos := fs.String("pos", "", "spawn position X,Y,Z")
	config := fs.String("config", "", "agent config as raw JSON (optional)")
	file := fs.String("f", "", "send a full spawn document from FILE (- for stdin)")
	count := fs.Int("n", 1, "spawn this many")
	_ = fs.Parse(args)

	var doc []byte
	switch {
	case strings.TrimSpace(*file) != "":
		var err error
		if *file == "-" {
			doc, err = io.ReadAll(os.Stdin)
		} else {
			doc, err = os.ReadFile(*file)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "read document:", err)
			os.Exit(1)
		}
	case strings.TrimSpace(*pos) != "":
		p, err := parseVec(*pos)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -pos:", err)
			os.Exit(2)
		}
		m := map[string]any{"pos": p}
		if strings.TrimSpace(*config) != "" {
			var raw json.RawMessage
			if err := json.Unmarshal([]byte(*config), &raw); err != nil {
				fmt.Fprintln(os.Stderr, "bad -config:", err)
				os.Exit(2)
			}
			m["config"] = raw
		}
		doc, _ = json.Marshal(m)
	default:
		fmt.Fprintln(os.Stderr, "missing -pos or -f")
		os.Exit(2)
	}

	if *count < 1 {
		*count = 1
	}
	for i := 0; i < *count; i++ {
		call(http.MethodPost, join(*baseURL, "/v1/agents"), doc)
	}
}

func removeCmd(args []string) {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8081", "admin base url")
	_ = fs.Parse(args)

	id := requireID(fs, "remove")
	call(http.MethodDelete, join(*baseURL, "/v1/agents/"+id), nil)
}

func jumpCmd(args []string) {
	fs := flag.NewFlagSet("jump", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8081", "admin base url")
	_ = fs.Parse(args)

	id := requireID(fs, "jump")
	call(http.MethodPost, join(*baseURL, "/v1/agents/"+id+"/jump"), nil)
}

func moveCmd(args []string) {
	fs := flag.NewFlagSet("move", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8081", "admin base url")
	dest := fs.String("dest", "", "destination X,Y,Z (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*dest) == "" {
		fmt.Fprintln(os.Stderr, "missing -dest")
		os.Exit(2)
	}
	d, err := parseVec(*dest)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -dest:", err)
		os.Exit(2)
	}
	id := requireID(fs, "move")
	body, _ := json.Marshal(map[string]any{"dest": d})
	call(http.MethodPost, join(*baseURL, "/v1/agents/"+id+"/move"), body)
}

func requireID(fs *flag.FlagSet, cmd string) string {
	if fs.NArg() < 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		fmt.Fprintf(os.Stderr, "usage: admin %s [flags] AGENT_ID\n", cmd)
		os.Exit(2)
	}
	return strings.TrimSpace(fs.Arg(0))
}

func join(baseURL, path string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
}

func parseVec(s string) ([3]float64, error) {
	var v [3]float64
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("want X,Y,Z, got %q", s)
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return v, err
		}
		v[i] = f
	}
	return v, nil
}

// call prints the response body either way and exits non-zero when the
// coordinator said no.
func call(method, u string, body []byte) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, u, rd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
