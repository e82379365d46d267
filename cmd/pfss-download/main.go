// pfss-download - Fetch the PFSS sample inputs into the local cache
//
// Data sources:
//   - JSOC: SDO/AIA 193 A synoptic image (helioprojective)
//   - NSO GONG: zero-point corrected synoptic magnetogram (Carrington CEA)
//
// Files already present are never downloaded again.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/pfss-download ./cmd/pfss-download

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/fetch"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/pipeline"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

func main() {
	defaults := common.DefaultConfig()
	destDir := flag.String("dest", defaults.DataDir, "Destination directory (env PFSS_DATA_DIR)")
	timeout := flag.Duration("timeout", 5*time.Minute, "HTTP timeout per download")
	listSources := flag.Bool("list", false, "List available data sources")
	source := flag.String("source", "all", "Source to download (or 'all')")
	synthetic := flag.Bool("synthetic", false, "Write offline synthetic inputs instead of downloading")
	logLevel := flag.String("log-level", defaults.LogLevel, "Log level: debug, info, warn, error")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "pfss-download v%s - PFSS Input Downloader\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Downloads the observation image and synoptic magnetogram.\n\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nData Sources:\n")
		for _, s := range fetch.Sources {
			fmt.Fprintf(os.Stderr, "  %-15s %s\n", s.Name, s.Desc)
		}
	}

	flag.Parse()

	if *listSources {
		fmt.Printf("Available PFSS data sources:\n\n")
		for _, s := range fetch.Sources {
			fmt.Printf("  %-15s %s\n", s.Name, s.Desc)
			fmt.Printf("                  URL: %s\n", s.URL)
			fmt.Printf("                  File: %s\n\n", s.Filename)
		}
		return
	}

	fmt.Println("=========================================================")
	fmt.Printf("PFSS Download v%s\n", Version)
	fmt.Println("=========================================================")
	fmt.Printf("Destination: %s\n", *destDir)
	fmt.Printf("Timeout:     %v\n", *timeout)
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutdown requested...")
		cancel()
	}()

	f := fetch.New(*destDir, *timeout, common.NewLogger(os.Stderr, *logLevel))

	if *synthetic {
		if err := pipeline.WriteSynthetic(f, pipeline.SyntheticEpoch); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Synthetic inputs written for %s\n", pipeline.SyntheticEpoch.Format(time.RFC3339))
		return
	}

	startTime := time.Now()
	failed := 0

	for _, src := range fetch.Sources {
		if *source != "all" && *source != src.Name {
			continue
		}

		fmt.Printf("[%s] %s\n", src.Name, src.URL)
		path, err := f.Fetch(ctx, src)
		if err != nil {
			fmt.Printf("  ERROR: %v\n", err)
			failed++
			continue
		}
		fmt.Printf("  Ready: %s\n", path)
	}

	elapsed := time.Since(startTime)

	fmt.Println()
	fmt.Println("=========================================================")
	fmt.Println("Download Summary")
	fmt.Println("=========================================================")
	fmt.Printf("Downloaded: %d files (%d bytes)\n", f.Stats.Downloaded.Load(), f.Stats.Bytes.Load())
	fmt.Printf("Cached:     %d files\n", f.Stats.Skipped.Load())
	fmt.Printf("Unzipped:   %d files\n", f.Stats.Unzipped.Load())
	fmt.Printf("Failed:     %d files\n", failed)
	fmt.Printf("Elapsed:    %v\n", elapsed.Round(time.Millisecond))
	fmt.Println("=========================================================")

	if failed > 0 {
		os.Exit(1)
	}
}
