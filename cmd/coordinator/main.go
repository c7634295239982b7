package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"mobsim.dev/internal/coord"
	"mobsim.dev/internal/httpadmin"
	"mobsim.dev/internal/metrics"
	"mobsim.dev/internal/persistence/indexdb"
	"mobsim.dev/internal/persistence/snapshot"
	"mobsim.dev/internal/sim/space"
	"mobsim.dev/internal/sim/tuning"
	"mobsim.dev/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "node websocket listen address")
		adminAddr  = flag.String("admin_addr", "127.0.0.1:8081", "admin http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite event index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "resume from the newest snapshot when -snapshot is empty")
		groundY    = flag.Float64("ground_y", 0, "flat scene ground height")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[coordinator] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", *tuningPath)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
	}

	auth := coord.New(tune, &space.BoxScene{GroundY: *groundY}, logger)
	auth.SetMetrics(metrics.NewCoordinator(prometheus.DefaultRegisterer))
	if idx != nil {
		auth.SetEventSink(idx)
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = resolveLatestSnapshot(*dataDir, idx, logger)
	}
	if snapshotToLoad != "" {
		st, err := snapshot.ReadState(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		n := auth.RestoreState(st, time.Now())
		logger.Printf("resumed from snapshot=%s tick=%d agents=%d", filepath.Base(snapshotToLoad), st.Header.Tick, n)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer.
	snapCh := make(chan snapshot.StateV1, 2)
	auth.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case st := <-snapCh:
				writeSnapshot(st, *dataDir, idx, logger)
			}
		}
	}()

	runDone := make(chan error, 1)
	go func() { runDone <- auth.Run(ctx) }()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(auth, logger).Handler())

	wsSrv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	admRouter := httpadmin.NewServer(auth, logger).Router()
	if envBool("MOBSIM_ENABLE_PPROF", false) {
		admRouter.Mount("/debug", middleware.Profiler())
	}
	admSrv := &http.Server{
		Addr:              *adminAddr,
		Handler:           admRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = admSrv.Shutdown(ctx2)
		_ = wsSrv.Shutdown(ctx2)
	}()

	go func() {
		logger.Printf("admin listening on %s", *adminAddr)
		if err := admSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("admin ListenAndServe: %v", err)
		}
	}()

	logger.Printf("listening on %s", *addr)
	if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// The loop owns the registry; wait for it to exit before exporting a
	// parting snapshot so the restart resumes exactly here.
	<-runDone
	st := auth.FinalSnapshot(time.Now())
	writeSnapshot(st, *dataDir, idx, logger)
	logger.Printf("shutdown complete tick=%d agents=%d", st.Header.Tick, len(st.Agents))
}

func writeSnapshot(st snapshot.StateV1, dataDir string, idx *indexdb.SQLiteIndex, logger *log.Logger) {
	path := snapshot.FilePath(dataDir, st.Header.Tick)
	if err := snapshot.WriteState(path, st); err != nil {
		logger.Printf("snapshot write: %v", err)
		return
	}
	if idx != nil {
		idx.RecordSnapshot(path, st)
	}
	logger.Printf("snapshot tick=%d agents=%d path=%s", st.Header.Tick, len(st.Agents), filepath.Base(path))
}

// resolveLatestSnapshot prefers the index record, falling back to a
// directory scan when the index is disabled or its entry went stale.
func resolveLatestSnapshot(dataDir string, idx *indexdb.SQLiteIndex, logger *log.Logger) string {
	if idx != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e, ok, err := idx.LatestSnapshot(ctx)
		if err != nil {
			logger.Printf("index latest snapshot: %v", err)
		} else if ok {
			if _, statErr := os.Stat(e.Path); statErr == nil {
				return e.Path
			}
		}
	}
	return latestSnapshotFile(dataDir)
}

func latestSnapshotFile(dataDir string) string {
	dir := filepath.Join(dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
