// Command tof-tracker watches a directory of time-of-flight depth frames and
// appends one tracking record per processed frame to CSV and SQLite, with an
// optional HTTP monitor.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/fsutil"
	"github.com/banshee-data/presence.report/internal/timeutil"
	"github.com/banshee-data/presence.report/internal/tof/l1frames"
	"github.com/banshee-data/presence.report/internal/tof/l3grid"
	"github.com/banshee-data/presence.report/internal/tof/l4perception"
	"github.com/banshee-data/presence.report/internal/tof/monitor"
	"github.com/banshee-data/presence.report/internal/tof/pipeline"
	"github.com/banshee-data/presence.report/internal/tof/storage/csvlog"
	"github.com/banshee-data/presence.report/internal/tof/storage/sqlite"
	"github.com/banshee-data/presence.report/internal/version"
)

var (
	framesDir   = flag.String("frames", "", "Directory the camera writes depth frames into (required)")
	configPath  = flag.String("config", "", "Tuning config JSON (defaults built in when empty)")
	csvPath     = flag.String("csv", "tracking_records.csv", "CSV record log (empty disables)")
	dbPath      = flag.String("db", "tof_records.db", "SQLite record store (empty disables)")
	listen      = flag.String("listen", ":8090", "Monitor listen address (empty disables)")
	assetsHost  = flag.String("echarts-assets", "", "Alternative host for echarts assets")
	runID       = flag.String("run-id", "", "Run identifier stamped on records (random UUID when empty)")
	trace       = flag.Bool("trace", false, "Enable per-frame trace logging")
	quiet       = flag.Bool("quiet", false, "Only log actionable warnings")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// options carries the flag values into run.
type options struct {
	framesDir  string
	configPath string
	csvPath    string
	dbPath     string
	listen     string
	assetsHost string
	runID      string
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("tof-tracker", version.String())
		return
	}
	if *framesDir == "" {
		log.Fatal("frame directory is required (-frames)")
	}
	setupLogging(os.Stderr, *quiet, *trace)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, options{
		framesDir:  *framesDir,
		configPath: *configPath,
		csvPath:    *csvPath,
		dbPath:     *dbPath,
		listen:     *listen,
		assetsHost: *assetsHost,
		runID:      *runID,
	})
	stop()
	if err != nil {
		log.Fatal(err)
	}
}

// run wires the pipeline and blocks until ctx is cancelled. Startup errors
// are returned after every sink opened so far has been closed.
func run(ctx context.Context, o options) error {
	if o.framesDir == "" {
		return errors.New("frame directory is required")
	}
	tuning := config.DefaultTuningConfig()
	if o.configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(o.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg, err := pipeline.ConfigFromTuning(tuning)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.RunID = o.runID

	decoder := l1frames.Decoder{
		Scale:  tuning.GetDepthScale(),
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
	}
	source := l1frames.NewDirSource(fsutil.OSFileSystem{}, o.framesDir, decoder)
	driver, err := pipeline.NewDriver(cfg, source, timeutil.RealClock{})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	if o.csvPath != "" {
		w, err := csvlog.Open(fsutil.OSFileSystem{}, o.csvPath, tuning.GetTimestampLayout())
		if err != nil {
			return fmt.Errorf("failed to open CSV log: %w", err)
		}
		defer w.Close()
		driver.AddRecordSink(w)
		log.Printf("appending records to %s", w.Path())
	}

	if o.dbPath != "" {
		store, err := sqlite.Open(o.dbPath)
		if err != nil {
			return fmt.Errorf("failed to open record database: %w", err)
		}
		defer store.Close()
		store.TimestampLayout = tuning.GetTimestampLayout()

		params, err := json.Marshal(tuning)
		if err != nil {
			return fmt.Errorf("failed to encode run parameters: %w", err)
		}
		if _, err := store.BeginRun(ctx, sqlite.RunInfo{
			RunID:      driver.RunID(),
			StartedAt:  time.Now(),
			SourceDir:  o.framesDir,
			ParamsJSON: params,
		}); err != nil {
			return fmt.Errorf("failed to register run: %w", err)
		}
		defer func() {
			if err := store.EndRun(context.Background(), driver.RunID(), time.Now()); err != nil {
				log.Printf("failed to close run: %v", err)
			}
		}()
		driver.AddRecordSink(store)
		log.Printf("storing records in %s", o.dbPath)
	}

	var wg sync.WaitGroup
	if o.listen != "" {
		mon := monitor.New(monitor.Options{
			Stats:      driver.Stats,
			AssetsHost: o.assetsHost,
			FovH:       cfg.Camera.FovH,
			FovV:       cfg.Camera.FovV,
		})
		driver.AddRenderSink(mon)

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("monitor listening on %s", o.listen)
			if err := monitor.NewServer(o.listen, mon.Handler()).ListenAndServe(ctx); err != nil {
				log.Printf("monitor stopped: %v", err)
			}
		}()
	}

	log.Printf("run %s watching %s (%dx%d, fov %.1fx%.1f deg)",
		driver.RunID(), o.framesDir, cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FovH, cfg.Camera.FovV)
	if err := driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		log.Printf("pipeline stopped: %v", err)
	}
	wg.Wait()

	st := driver.Stats()
	log.Printf("run %s finished: %d iterations, %d records, %d skipped, %d fallbacks, %d sink errors",
		driver.RunID(), st.Iterations, st.Emitted, st.Skipped, st.Fallbacks, st.SinkErrors)
	return nil
}

// setupLogging routes the ops and diag streams of every pipeline package to
// w. Trace output is per frame and only enabled on request.
func setupLogging(w io.Writer, quiet, trace bool) {
	ops, diag, tr := w, w, io.Writer(nil)
	if quiet {
		diag = nil
	}
	if trace {
		tr = w
	}
	for _, set := range []func(ops, diag, trace io.Writer){
		l3grid.SetLogWriters,
		l4perception.SetLogWriters,
		pipeline.SetLogWriters,
		monitor.SetLogWriters,
	} {
		set(ops, diag, tr)
	}
}
