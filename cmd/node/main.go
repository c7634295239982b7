package main

import (
	"context"
	"flag"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mobsim.dev/internal/metrics"
	"mobsim.dev/internal/node"
	"mobsim.dev/internal/protocol"
	"mobsim.dev/internal/sim/geo"
	"mobsim.dev/internal/sim/nav"
	"mobsim.dev/internal/sim/space"
	"mobsim.dev/internal/sim/tuning"
	"mobsim.dev/internal/transport/ws"
)

func main() {
	var (
		url         = flag.String("url", "ws://127.0.0.1:8080/v1/ws", "coordinator ws url")
		name        = flag.String("name", "node", "node name reported in the handshake")
		tuningPath  = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		metricsAddr = flag.String("metrics_addr", "", "prometheus listen address (empty to disable)")

		vpX     = flag.Float64("x", 0, "viewpoint x")
		vpZ     = flag.Float64("z", 0, "viewpoint z")
		groundY = flag.Float64("ground_y", 0, "flat scene ground height")

		patrolRadius = flag.Float64("patrol_radius", 0, "orbit the viewpoint at this radius (0 disables)")
		patrolPeriod = flag.Duration("patrol_period", 2*time.Minute, "time per patrol lap")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[node] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", *tuningPath)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	viewpoint := geo.Vec3{X: *vpX, Y: *groundY, Z: *vpZ}
	vp := [3]float64{viewpoint.X, viewpoint.Y, viewpoint.Z}
	hello := protocol.HelloMsg{NodeName: *name, Viewpoint: &vp}

	client, err := ws.Dial(ctx, *url, hello, logger)
	if err != nil {
		logger.Fatalf("dial coordinator: %v", err)
	}
	defer client.Close()

	welcome := client.Welcome()

	scene := &space.BoxScene{GroundY: *groundY}
	// The grid is sampled once; bound it by everything this node can be
	// asked to simulate, patrol drift included.
	reach := welcome.Params.SimulationRadius*welcome.Params.ReleaseHysteresis + *patrolRadius + 64
	grid := nav.NewGrid(scene, nav.GridConfig{
		MinX: viewpoint.X - reach,
		MaxX: viewpoint.X + reach,
		MinZ: viewpoint.Z - reach,
		MaxZ: viewpoint.Z + reach,
	})

	rt := node.New(tune, welcome, viewpoint, client, scene, grid, logger)
	rt.SetMetrics(metrics.NewNode(prometheus.DefaultRegisterer))

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		msrv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			<-ctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel2()
			_ = msrv.Shutdown(ctx2)
		}()
		go func() {
			logger.Printf("metrics listening on %s", *metricsAddr)
			if err := msrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics ListenAndServe: %v", err)
			}
		}()
	}

	runDone := make(chan error, 1)
	go func() { runDone <- rt.Run(ctx) }()

	go func() {
		err := client.ReadPump(ctx, rt.Inbox())
		if err != nil && ctx.Err() == nil {
			logger.Printf("coordinator connection lost: %v", err)
		}
		cancel()
	}()

	interval := time.Second / time.Duration(tune.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case now := <-ticker.C:
			rt.Tick(now)
			if *patrolRadius > 0 {
				angle := 2 * math.Pi * float64(now.Sub(start)) / float64(*patrolPeriod)
				rt.MoveViewpoint(geo.Vec3{
					X: viewpoint.X + *patrolRadius*math.Cos(angle),
					Y: viewpoint.Y,
					Z: viewpoint.Z + *patrolRadius*math.Sin(angle),
				})
			}
		}
	}

	// Hand everything back before dropping the connection; the loop has
	// exited, so direct calls are safe again.
	<-runDone
	rt.ReleaseAll(time.Now())
	logger.Printf("released all agents; exiting")
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
