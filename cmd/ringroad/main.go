// Command ringroad sweeps a single-lane ring road over a list of vehicle
// counts and records the speed–density and flow–density results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/ringroad/internal/config"
	"github.com/banshee-data/ringroad/internal/db"
	"github.com/banshee-data/ringroad/internal/fsutil"
	"github.com/banshee-data/ringroad/internal/monitor"
	"github.com/banshee-data/ringroad/internal/report"
	"github.com/banshee-data/ringroad/internal/sim"
	"github.com/banshee-data/ringroad/internal/sweep"
	"github.com/banshee-data/ringroad/internal/units"
	"github.com/banshee-data/ringroad/internal/version"
)

// options is the parsed command line.
type options struct {
	runIDM      bool
	runCustom   bool
	configPath  string
	outDir      string
	counts      []int
	dbPath      string
	listen      string
	plots       bool
	cooldown    time.Duration
	hasCooldown bool
	speedUnit   string
	seed        uint64
	hasSeed     bool
	showVersion bool
}

// initError marks failures before the sweep started.
type initError struct{ err error }

func (e *initError) Error() string { return e.err.Error() }
func (e *initError) Unwrap() error { return e.err }

func initErrorf(format string, args ...interface{}) error {
	return &initError{err: fmt.Errorf(format, args...)}
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("ringroad", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.BoolVar(&o.runIDM, "run-idm", false, "Run the Intelligent Driver Model")
	fs.BoolVar(&o.runCustom, "run-custom", false, "Run the custom follower-aware model")
	fs.StringVar(&o.configPath, "config", "", "Path to a JSON or YAML sweep configuration (defaults built in)")
	fs.StringVar(&o.outDir, "out", "", "Directory for the result files (overrides config output_dir)")
	counts := fs.String("counts", "", "Comma-separated vehicle counts (overrides config vehicle_counts)")
	fs.StringVar(&o.dbPath, "db", "", "SQLite file to persist runs in (disabled when empty)")
	fs.StringVar(&o.listen, "listen", "", "Serve the live monitor on this address, e.g. :8080 (disabled when empty)")
	fs.BoolVar(&o.plots, "plots", false, "Write figure PNGs and report.html after the sweep")
	cooldown := fs.String("cooldown", "", "Pause after the sweep, e.g. 5s (overrides config cooldown)")
	seed := fs.String("seed", "", "Seed for the initial vehicle spacing (overrides config seed; from the clock when unset)")
	fs.StringVar(&o.speedUnit, "units", units.MPS, "Speed units for figures: "+units.GetValidUnitsString())
	fs.BoolVar(&o.showVersion, "version", false, "Print version information and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if o.runIDM && o.runCustom {
		return nil, errors.New("-run-idm and -run-custom are mutually exclusive")
	}
	if err := units.Validate(o.speedUnit); err != nil {
		return nil, err
	}

	var err error
	if o.counts, err = parseCSVIntSlice(*counts); err != nil {
		return nil, fmt.Errorf("-counts: %w", err)
	}
	if *cooldown != "" {
		if o.cooldown, err = time.ParseDuration(*cooldown); err != nil {
			return nil, fmt.Errorf("-cooldown: %w", err)
		}
		if o.cooldown < 0 {
			return nil, fmt.Errorf("-cooldown: must not be negative, got %v", o.cooldown)
		}
		o.hasCooldown = true
	}
	if *seed != "" {
		if o.seed, err = strconv.ParseUint(*seed, 10, 64); err != nil {
			return nil, fmt.Errorf("-seed: %w", err)
		}
		o.hasSeed = true
	}
	return o, nil
}

// parseCSVIntSlice parses a comma-separated list of ints
func parseCSVIntSlice(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid int '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// variant resolves the model: a mode flag wins over the config file.
func (o *options) variant(cfg *config.SimConfig) (sim.Variant, error) {
	switch {
	case o.runIDM:
		return sim.VariantReference, nil
	case o.runCustom:
		return sim.VariantCustom, nil
	}
	return cfg.GetVariant()
}

func loadConfig(o *options) (*config.SimConfig, error) {
	cfg := config.EmptySimConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadSimConfig(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.outDir != "" {
		cfg.OutputDir = &o.outDir
	}
	if len(o.counts) > 0 {
		cfg.VehicleCounts = o.counts
	}
	if o.hasCooldown {
		d := o.cooldown.String()
		cfg.Cooldown = &d
	}
	if o.hasSeed {
		cfg.Seed = &o.seed
	}
	return cfg, cfg.Validate()
}

// resolveSeed fixes the spacing seed for this run. An unset seed is taken
// from now so that placement differs between runs; the value is logged
// and stored with the run so it can be replayed with -seed.
func resolveSeed(cfg *config.SimConfig, now time.Time) uint64 {
	if cfg.Seed == nil {
		seed := uint64(now.UnixNano())
		cfg.Seed = &seed
	}
	return *cfg.Seed
}

func run(ctx context.Context, o *options, stdout io.Writer) error {
	return runWith(ctx, o, fsutil.OSFileSystem{}, stdout)
}

func runWith(ctx context.Context, o *options, fsys fsutil.FileSystem, stdout io.Writer) (err error) {
	cfg, err := loadConfig(o)
	if err != nil {
		return &initError{err: err}
	}
	variant, err := o.variant(cfg)
	if err != nil {
		return &initError{err: err}
	}
	seed := resolveSeed(cfg, time.Now())
	settings, err := cfg.ToSettings()
	if err != nil {
		return &initError{err: err}
	}

	outDir := cfg.GetOutputDir()
	lines, err := sweep.NewLineRecorder(fsys,
		filepath.Join(outDir, cfg.GetSpeedFile()),
		filepath.Join(outDir, cfg.GetFlowFile()),
	)
	if err != nil {
		return initErrorf("open result files: %w", err)
	}
	defer func() {
		// Every line is flushed as it is written; a failure here still
		// means a stream may be incomplete.
		if cerr := lines.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close result files: %w", cerr))
		}
	}()
	recorders := []sweep.Recorder{lines}

	var store *db.DB
	if o.dbPath != "" {
		if store, err = db.NewDB(o.dbPath); err != nil {
			return initErrorf("failed to connect to database: %w", err)
		}
		defer store.Close()
		recorders = append(recorders, store)
	}

	runnerOpts := []sweep.Option{sweep.WithCooldown(cfg.GetCooldown())}
	var renderer *monitor.Renderer
	if o.listen != "" {
		renderer = monitor.NewRenderer(settings.PixelsPerUnit)
		runnerOpts = append(runnerOpts, sweep.WithObserver(renderer))
	}
	runner := sweep.NewRunner(recorders, runnerOpts...)

	serverErr := make(chan error, 1)
	if o.listen != "" {
		wsCfg := monitor.WebServerConfig{
			Address:   o.listen,
			Renderer:  renderer,
			Sweep:     runner,
			SpeedUnit: o.speedUnit,
		}
		if store != nil {
			wsCfg.Admin = store
		}
		ws, err := monitor.NewWebServer(wsCfg)
		if err != nil {
			return initErrorf("monitor: %w", err)
		}
		if err := ws.Listen(); err != nil {
			return initErrorf("monitor: %w", err)
		}
		serverCtx, stopServer := context.WithCancel(ctx)
		defer func() {
			stopServer()
			if err := <-serverErr; err != nil {
				log.Printf("monitor: %v", err)
			}
		}()
		go func() { serverErr <- ws.Start(serverCtx) }()
	}

	log.Printf("ringroad %s: %s model, %d scenarios, seed %d, results in %s",
		version.Version, variant, len(cfg.GetVehicleCounts()), seed, outDir)

	state, runErr := runner.Run(ctx, sweep.Request{
		Variant:       variant,
		VehicleCounts: cfg.GetVehicleCounts(),
		Settings:      settings,
	})
	var cfgErr *sim.ConfigError
	if errors.As(runErr, &cfgErr) {
		return &initError{err: runErr}
	}

	printSummary(stdout, state, o.speedUnit)
	for _, w := range state.Warnings {
		log.Printf("WARNING: %s", w)
	}

	if o.plots && len(state.SpeedSeries) > 0 {
		if err := writeReport(fsys, outDir, state, o.speedUnit); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	return runErr
}

func printSummary(w io.Writer, state sweep.SweepState, unit string) {
	fmt.Fprintf(w, "run %s: %s, %d/%d scenarios\n",
		state.RunID, state.Status, state.CompletedScenarios, state.TotalScenarios)
	for _, s := range state.Results {
		fmt.Fprintf(w, "  %3d vehicles  density %7.2f veh/km  speed %6.2f %s  flow %7.1f veh/h\n",
			s.VehicleCount, units.DensityPerKm(s.Density),
			units.ConvertSpeed(s.AvgSpeed, unit), units.SpeedLabel(unit),
			units.FlowPerHour(s.Flow))
	}
	if c, ok := report.PeakFlow(state.FlowSeries); ok {
		fmt.Fprintf(w, "capacity %.1f veh/h at %.2f veh/km\n",
			units.FlowPerHour(c.Flow), units.DensityPerKm(c.CriticalDensity))
	}
}

func writeReport(fsys fsutil.FileSystem, dir string, state sweep.SweepState, unit string) error {
	o := report.DefaultOptions()
	o.SpeedUnit = unit
	paths, err := report.WriteFigures(fsys, dir, state, o)
	if err != nil {
		return fmt.Errorf("figures: %w", err)
	}

	htmlPath := filepath.Join(dir, report.HTMLReport)
	f, err := fsys.Create(htmlPath)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := report.RenderHTML(f, state, unit); err != nil {
		f.Close()
		return fmt.Errorf("report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	log.Printf("wrote %s, %s", strings.Join(paths, ", "), htmlPath)
	return nil
}

func main() {
	o, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("ringroad: %v", err)
	}
	if o.showVersion {
		fmt.Printf("ringroad %s (git %s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, os.Stdout); err != nil {
		var ie *initError
		if !errors.As(err, &ie) && errors.Is(err, context.Canceled) {
			// Interrupted: results of completed scenarios are already on disk.
			log.Printf("ringroad: %v", err)
			return
		}
		log.Fatalf("ringroad: %v", err)
	}
}
