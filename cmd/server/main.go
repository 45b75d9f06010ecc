package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"terrarium.ai/internal/persistence/archive"
	"terrarium.ai/internal/persistence/indexdb"
	persistlog "terrarium.ai/internal/persistence/log"
	"terrarium.ai/internal/persistence/snapshot"
	"terrarium.ai/internal/scenario"
	"terrarium.ai/internal/sim/engine"
	"terrarium.ai/internal/sim/tuning"
	"terrarium.ai/internal/transport/observer"
)

func main() {
	var (
		addr         = flag.String("addr", "127.0.0.1:8080", "http listen address")
		scenarioPath = flag.String("scenario", "./configs/scenario.toml", "scenario file")
		tuningPath   = flag.String("tuning", "./configs/tuning.yaml", "tuning file")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		disableDB    = flag.Bool("disable_db", false, "disable the sqlite read index")
		paused       = flag.Bool("paused", false, "start paused; advance with step or resume")
		snapPath     = flag.String("snapshot", "", "path to snapshot to resume from (optional)")
		resume       = flag.Bool("resume", true, "resume from the latest snapshot in the data dir if present")
		exitOnStop   = flag.Bool("exit_on_stop", false, "exit when the run stops instead of serving the final state")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	sc := scenario.Defaults()
	if _, err := os.Stat(*scenarioPath); err == nil {
		sc, err = scenario.Load(*scenarioPath)
		if err != nil {
			logger.Fatalf("load scenario: %v", err)
		}
	} else {
		logger.Printf("scenario not found (%s); using defaults", *scenarioPath)
	}
	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}

	start, err := loadStart(sc, tune, *dataDir, strings.TrimSpace(*snapPath), *resume, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	decider, err := newDecider(sc)
	if err != nil {
		logger.Fatalf("decider: %v", err)
	}

	// Optional read-model index (does not affect sim determinism).
	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}

	snapDir := filepath.Join(*dataDir, "snapshots")
	evLog := persistlog.NewEventLog(filepath.Join(*dataDir, "events"), start.meta.Tuning.Persistence.EpochsPerLogFile)
	cfg := engine.Config{
		State:       start.state,
		Meta:        start.meta,
		Decider:     decider,
		Events:      evLog,
		Snapshots:   snapshot.Store{Dir: snapDir},
		History:     start.history,
		StartPaused: *paused,
		Logger:      logger,
	}
	var hist observer.History
	if idx != nil {
		cfg.Index = idx
		hist = idx
	}
	sched, err := engine.New(cfg)
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}
	if idx != nil {
		m := start.meta
		m.RunID = sched.RunID()
		if err := idx.UpsertRun(m); err != nil {
			logger.Printf("index backend: upsert run: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		err := sched.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("run stopped: %v", err)
		}
		if err := evLog.Close(); err != nil {
			logger.Printf("close event log: %v", err)
		}
		st := sched.Status()
		if dst, err := archive.ArchiveRun(*dataDir, snapDir, st.StopCause); err != nil {
			logger.Printf("archive run: %v", err)
		} else {
			logger.Printf("archived run %s at epoch %d to %s", st.RunID, st.Epoch, dst)
		}
		if *exitOnStop {
			cancel()
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		writeMetrics(rw, sched, idx)
	})
	if envBool("TERRARIUM_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (TERRARIUM_ENABLE_PPROF_HTTP=false)")
	}
	mux.Handle("/v1/", observer.NewServer(sched, hist, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (run %s, epoch %d)", *addr, sched.RunID(), sched.Status().Epoch)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	<-runDone
	if idx != nil {
		if err := idx.Close(); err != nil {
			logger.Printf("close index: %v", err)
		}
	}
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

func writeMetrics(rw http.ResponseWriter, sched *engine.Scheduler, idx *indexdb.SQLiteIndex) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	st := sched.Status()
	run := st.RunID

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP terrarium_epoch Last committed epoch.\n")
	fmt.Fprintf(rw, "# TYPE terrarium_epoch gauge\n")
	fmt.Fprintf(rw, "terrarium_epoch{run=%q} %d\n", run, st.Epoch)

	fmt.Fprintf(rw, "# HELP terrarium_agents Agents by liveness.\n")
	fmt.Fprintf(rw, "# TYPE terrarium_agents gauge\n")
	fmt.Fprintf(rw, "terrarium_agents{run=%q,state=%q} %d\n", run, "alive", st.Alive)
	fmt.Fprintf(rw, "terrarium_agents{run=%q,state=%q} %d\n", run, "dead", st.Agents-st.Alive)

	fmt.Fprintf(rw, "# HELP terrarium_speed Pacing in epochs per second.\n")
	fmt.Fprintf(rw, "# TYPE terrarium_speed gauge\n")
	fmt.Fprintf(rw, "terrarium_speed{run=%q} %g\n", run, st.Speed)

	pending := 0
	if st.Pending {
		pending = 1
	}
	fmt.Fprintf(rw, "# HELP terrarium_pending_write Whether a committed epoch is waiting to be persisted.\n")
	fmt.Fprintf(rw, "# TYPE terrarium_pending_write gauge\n")
	fmt.Fprintf(rw, "terrarium_pending_write{run=%q} %d\n", run, pending)

	if idx == nil {
		return
	}
	s := idx.Stats()
	fmt.Fprintf(rw, "# HELP terrarium_index_queue_depth Read index queue depth.\n")
	fmt.Fprintf(rw, "# TYPE terrarium_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "terrarium_index_queue_depth %d\n", s.QueueDepth)
	fmt.Fprintf(rw, "# HELP terrarium_index_queue_capacity Read index queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE terrarium_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "terrarium_index_queue_capacity %d\n", s.QueueCapacity)
	fmt.Fprintf(rw, "# HELP terrarium_index_dropped_total Index records dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE terrarium_index_dropped_total counter\n")
	fmt.Fprintf(rw, "terrarium_index_dropped_total{kind=%q} %d\n", "events", s.DropEventsTotal)
	fmt.Fprintf(rw, "terrarium_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
