// pfss-run - Headless PFSS coronal field pipeline
//
// Acquires an AIA 193 image and a GONG synoptic magnetogram, solves the
// potential-field source-surface model, traces field lines from a seed grid
// and writes figures plus Parquet / gzip CSV exports. Optionally records the
// run in ClickHouse.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/pfss-run ./cmd/pfss-run

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/export"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/pipeline"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

func main() {
	defaults := common.DefaultConfig()
	configPath := flag.String("config", "", "YAML config file (overlays defaults)")
	dataDir := flag.String("data-dir", defaults.DataDir, "Input cache directory")
	outputDir := flag.String("output", defaults.OutputDir, "Output directory for figures and exports")
	nr := flag.Int("nr", defaults.Model.NR, "Radial shell count")
	rss := flag.Float64("rss", defaults.Model.RSS, "Source-surface radius (solar radii)")
	workers := flag.Int("workers", 0, "Solver/tracer workers (0 = NumCPU)")
	synthetic := flag.Bool("synthetic", false, "Use offline synthetic inputs (no network)")
	noSave := flag.Bool("no-save", false, "Skip writing figures and exports")
	progress := flag.Bool("progress", false, "Print progress lines during solve and trace")
	logLevel := flag.String("log-level", defaults.LogLevel, "Log level: debug, info, warn, error")
	toClickHouse := flag.Bool("clickhouse", false, "Insert field lines and run summary into ClickHouse")
	chHost := flag.String("ch-host", defaults.ClickHouseAddr(), "ClickHouse address")
	chDB := flag.String("ch-db", defaults.ClickHouseDatabase, "ClickHouse database")
	linesTable := flag.String("lines-table", "pfss_lines", "ClickHouse field-line table")
	runsTable := flag.String("runs-table", "pfss_runs", "ClickHouse run summary table")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "pfss-run v%s - PFSS Coronal Field Pipeline\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Runs acquisition, solve, tracing and rendering once.\n\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	cfg := defaults
	if *configPath != "" {
		var err error
		if cfg, err = common.LoadFile(*configPath); err != nil {
			log.Fatalf("Config error: %v", err)
		}
	}
	// Explicit flags override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data-dir":
			cfg.DataDir = *dataDir
		case "output":
			cfg.OutputDir = *outputDir
		case "nr":
			cfg.Model.NR = *nr
		case "rss":
			cfg.Model.RSS = *rss
		case "workers":
			cfg.Model.Workers = *workers
			cfg.Tracer.Workers = *workers
		case "log-level":
			cfg.LogLevel = *logLevel
		case "ch-db":
			cfg.ClickHouseDatabase = *chDB
		}
	})

	log.Println("=========================================================")
	log.Printf("PFSS Run v%s", Version)
	log.Println("=========================================================")
	log.Printf("Data dir:   %s", cfg.DataDir)
	log.Printf("Output dir: %s", cfg.OutputDir)
	log.Printf("Model:      nr=%d rss=%.2f", cfg.Model.NR, cfg.Model.RSS)
	log.Printf("Seeds:      %dx%d sin(lat) [%.2f, %.2f] lon [%.0f, %.0f]",
		cfg.Seeds.NLat, cfg.Seeds.NLon, cfg.Seeds.SinLatMin, cfg.Seeds.SinLatMax,
		cfg.Seeds.LonMinDeg, cfg.Seeds.LonMaxDeg)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("\nShutdown requested...")
		cancel()
	}()

	stats := common.NewStats()
	stats.SetSilent(!*progress)
	p := pipeline.New(cfg, common.NewLogger(os.Stderr, cfg.LogLevel), stats)

	if *synthetic {
		log.Println("Writing synthetic inputs...")
		if err := pipeline.WriteSynthetic(p.Fetcher, pipeline.SyntheticEpoch); err != nil {
			log.Fatalf("Synthetic input error: %v", err)
		}
	}

	startTime := time.Now()
	stats.StartReporter()
	res, err := p.Run(ctx)
	stats.StopReporter()
	if err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}

	if !*noSave {
		written, err := res.Save(cfg.OutputDir)
		if err != nil {
			log.Fatalf("Save failed: %v", err)
		}
		for _, path := range written {
			log.Printf("Wrote %s", path)
		}
	}

	if *toClickHouse {
		if err := insertClickHouse(ctx, cfg, *chHost, *linesTable, *runsTable, res); err != nil {
			log.Fatalf("ClickHouse error: %v", err)
		}
	}

	elapsed := time.Since(startTime)
	s := res.Summary

	log.Println()
	log.Println("=========================================================")
	log.Println("Final Statistics")
	log.Println("=========================================================")
	log.Printf("Run ID:         %s", res.RunID)
	log.Printf("Observation:    %s", s.ObsTime.Format(time.RFC3339))
	log.Printf("Grid:           %d x %d x %d", s.NR, s.NS, s.NPhi)
	log.Printf("Field lines:    %d (open %d, closed %d)", s.Lines, s.Open, s.Closed)
	log.Printf("Open fraction:  %.1f%%", 100*s.OpenFraction())
	log.Printf("Solve:          %.2fs", s.SolveSeconds)
	log.Printf("Trace:          %.2fs (%d steps)", s.TraceSeconds, stats.GetStepsTaken())
	log.Printf("Elapsed:        %v", elapsed.Round(time.Millisecond))
	log.Println("=========================================================")
}

func insertClickHouse(ctx context.Context, cfg *common.Config, addr, linesTable, runsTable string, res *pipeline.Result) error {
	log.Printf("Connecting to ClickHouse at %s...", addr)

	sink, err := export.DialLines(ctx, addr, cfg.ClickHouseDatabase, cfg.ClickHouseUser, cfg.ClickHousePassword, linesTable)
	if err != nil {
		return err
	}
	defer sink.Close()
	if err := sink.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("create %s: %w", sink.Table, err)
	}
	if err := sink.Write(ctx, res.Points()); err != nil {
		return err
	}
	if err := sink.Flush(ctx); err != nil {
		return err
	}
	log.Printf("Inserted %d points into %s", sink.Inserted(), sink.Table)

	runs, err := export.OpenRuns(ctx, addr, cfg.ClickHouseDatabase, cfg.ClickHouseUser, cfg.ClickHousePassword, runsTable)
	if err != nil {
		return err
	}
	defer runs.Close()
	if err := runs.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	if err := runs.Insert(ctx, res.Summary); err != nil {
		return err
	}
	log.Printf("Recorded run %s", res.RunID)
	return nil
}
