// Command tracefeatures reduces dense trace CSVs to windowed feature rows,
// normalizes and factors them, stores the run and optionally serves the
// pick API for it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/tracefeatures/internal/api"
	"github.com/banshee-data/tracefeatures/internal/assoc"
	"github.com/banshee-data/tracefeatures/internal/config"
	"github.com/banshee-data/tracefeatures/internal/decompose"
	"github.com/banshee-data/tracefeatures/internal/features"
	"github.com/banshee-data/tracefeatures/internal/fsutil"
	"github.com/banshee-data/tracefeatures/internal/store"
	"github.com/banshee-data/tracefeatures/internal/trace"
	"github.com/banshee-data/tracefeatures/internal/units"
	"github.com/banshee-data/tracefeatures/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("tracefeatures: %v", err)
	}
}

type options struct {
	configPath string
	subsample  int
	fps        float64
	workers    int
	dbPath     string
	listen     string
	components int
	version    bool
	files      []string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("tracefeatures", flag.ContinueOnError)
	fs.SetOutput(stderr)
	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "Path to analysis config JSON (defaults built in)")
	fs.IntVar(&o.subsample, "subsample", 0, "Samples per window (overrides config)")
	fs.Float64Var(&o.fps, "fps", 0, "Dense frame rate in Hz (overrides config)")
	fs.IntVar(&o.workers, "workers", -1, "Concurrent trace aggregations, 0 for one per trace (overrides config)")
	fs.StringVar(&o.dbPath, "db", "", "SQLite run store path (overrides config)")
	fs.StringVar(&o.listen, "listen", "", "Serve the pick API on this address after the run, e.g. :8080")
	fs.IntVar(&o.components, "components", -1, "Factors to report, 0 for all (overrides config)")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: tracefeatures [flags] trace.csv...\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.files = fs.Args()
	return o, nil
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(o *options) (*config.AnalysisConfig, error) {
	cfg := config.DefaultAnalysisConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadAnalysisConfig(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.subsample != 0 {
		cfg.SubsampleFactor = &o.subsample
	}
	if o.fps != 0 {
		cfg.FramesPerSecond = &o.fps
	}
	if o.workers >= 0 {
		cfg.Workers = &o.workers
	}
	if o.dbPath != "" {
		cfg.DatabasePath = &o.dbPath
	}
	if o.components >= 0 {
		cfg.Components = &o.components
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// analysis is the outcome of one run over a set of traces.
type analysis struct {
	params   features.Params
	records  trace.Records
	combined *features.Combined
	index    *assoc.Index
	norm     *features.NormParams
	factors  *decompose.Factors
}

func analyze(ctx context.Context, cfg *config.AnalysisConfig, traces []trace.Trace) (*analysis, error) {
	a := &analysis{
		params: features.Params{
			SubsampleFactor: cfg.GetSubsampleFactor(),
			SampleRateHz:    cfg.GetFramesPerSecond(),
		},
		records: trace.RecordsOf(traces),
	}

	var err error
	if a.combined, err = features.Run(ctx, traces, a.params, cfg.GetWorkers()); err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	if a.index, err = assoc.FromCombined(a.combined, a.records); err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	if a.combined.Rows() == 0 {
		log.Printf("no windows retained across %d traces; skipping normalization", len(traces))
		return a, nil
	}

	normed, norm, err := features.Normalize(a.combined.Matrix())
	if err != nil {
		return nil, err
	}
	a.norm = &norm
	if a.factors, err = decompose.Factorize(normed, cfg.GetComponents(), features.ColumnNames[:]); err != nil {
		return nil, err
	}
	return a, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	o, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	if o.version {
		fmt.Fprintln(stdout, version.String("tracefeatures"))
		return nil
	}
	if len(o.files) == 0 {
		return errors.New("no trace files given")
	}

	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	traces, err := trace.LoadCSVs(fsutil.OSFileSystem{}, o.files)
	if err != nil {
		return err
	}

	start := time.Now()
	a, err := analyze(ctx, cfg, traces)
	if err != nil {
		return err
	}
	log.Printf("analyzed %d traces into %d rows in %v", len(traces), a.combined.Rows(), time.Since(start))

	db, err := store.NewDB(cfg.GetDatabasePath())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	saved, err := db.SaveRun(ctx, store.RunInput{
		Params:   a.params,
		Combined: a.combined,
		Index:    a.index,
		Norm:     a.norm,
	})
	if err != nil {
		return err
	}

	writeSummary(stdout, saved, a, cfg)

	if o.listen == "" {
		return nil
	}
	return serve(ctx, o.listen, a, db, cfg)
}

func writeSummary(w io.Writer, run *store.Run, a *analysis, cfg *config.AnalysisConfig) {
	fmt.Fprintf(w, "run %s: %d rows (subsample %d @ %g Hz)\n",
		run.ID, run.Rows, run.SubsampleFactor, run.SampleRateHz)
	for _, ts := range run.Traces {
		fmt.Fprintf(w, "  trace %s: %d rows from row %d\n", ts.ID, ts.Retained, ts.RowOffset)
	}
	if a.norm == nil {
		return
	}

	speed, angular := cfg.GetSpeedUnits(), cfg.GetAngularUnits()
	fmt.Fprintf(w, "column means:\n")
	for j, name := range features.ColumnNames {
		m := a.norm.Means[j]
		switch j {
		case features.ColTurnRate:
			fmt.Fprintf(w, "  %-40s %10.4f %s/s\n", name, units.ConvertAngle(m, angular), angular)
		case features.ColBearing:
			fmt.Fprintf(w, "  %-40s %10.4f %s\n", name, units.ConvertAngle(m, angular), angular)
		case features.ColHorizSpeed, features.ColVertVel:
			fmt.Fprintf(w, "  %-40s %10.4f %s\n", name, units.ConvertSpeed(m, speed), units.SpeedLabel(speed))
		default:
			fmt.Fprintf(w, "  %-40s %10.4f\n", name, m)
		}
	}
	for _, j := range a.norm.Degenerate {
		fmt.Fprintf(w, "  constant column: %s\n", features.ColumnNames[j])
	}

	for k := 0; k < a.factors.K(); k++ {
		fmt.Fprintf(w, "factor %d (%.1f%% energy):", k+1, 100*a.factors.Energy[k])
		for i, l := range a.factors.Loadings(k) {
			if i == 3 {
				break
			}
			fmt.Fprintf(w, " %s %+.3f;", l.Name, l.Weight)
		}
		fmt.Fprintln(w)
	}
}

func serve(ctx context.Context, addr string, a *analysis, db *store.DB, cfg *config.AnalysisConfig) error {
	srv, err := api.NewServer(a.index, a.combined, api.Options{
		Norm:         a.norm,
		Factors:      a.factors,
		Store:        db,
		SpeedUnits:   cfg.GetSpeedUnits(),
		AngularUnits: cfg.GetAngularUnits(),
	})
	if err != nil {
		return err
	}

	mux := srv.ServeMux()
	// mount the admin debugging routes (accessible only locally or over Tailscale)
	if err := db.AttachAdminRoutes(mux); err != nil {
		return err
	}

	server := &http.Server{
		Addr:    addr,
		Handler: api.LoggingMiddleware(mux),
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("serving pick API on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
	return nil
}
