// pfss-ingest - Load exported field-line points into ClickHouse
//
// Reads field_lines.parquet (parquet-go) or field_lines.csv.gz (pgzip)
// files written by pfss-run and inserts them via the ch-go native protocol.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/pfss-ingest ./cmd/pfss-ingest

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/export"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

const NumWorkers = 4

type Stats struct {
	TotalRows     atomic.Uint64
	FilesComplete atomic.Uint64
	FilesFailed   atomic.Uint64
	StartTime     time.Time
}

type target struct {
	addr, db, user, password, table string
	batchSize                       int
}

func isExport(path string) bool {
	return strings.HasSuffix(path, ".parquet") || strings.HasSuffix(path, ".csv.gz")
}

func processFile(ctx context.Context, filePath string, t target, stats *Stats) error {
	fileName := filepath.Base(filePath)

	sink, err := export.DialLines(ctx, t.addr, t.db, t.user, t.password, t.table)
	if err != nil {
		return err
	}
	defer sink.Close()
	sink.BatchSize = t.batchSize

	startTime := time.Now()
	if strings.HasSuffix(filePath, ".parquet") {
		err = export.ScanParquet(filePath, 1000, func(rows []export.Point) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return sink.Write(ctx, rows)
		})
	} else {
		var f *os.File
		if f, err = os.Open(filePath); err != nil {
			return err
		}
		var rows []export.Point
		rows, err = export.ReadCSVGz(f)
		f.Close()
		if err == nil {
			err = sink.Write(ctx, rows)
		}
	}
	if err != nil {
		return err
	}
	if err := sink.Flush(ctx); err != nil {
		return err
	}

	n := sink.Inserted()
	stats.TotalRows.Add(n)
	elapsed := time.Since(startTime)
	log.Printf("[%s] %d rows in %.2fs", fileName, n, elapsed.Seconds())
	return nil
}

func main() {
	defaults := common.DefaultConfig()
	chHost := flag.String("ch-host", defaults.ClickHouseAddr(), "ClickHouse address")
	chDB := flag.String("ch-db", defaults.ClickHouseDatabase, "ClickHouse database")
	chTable := flag.String("ch-table", "pfss_lines", "ClickHouse table")
	workers := flag.Int("workers", NumWorkers, "Number of parallel file workers")
	batchSize := flag.Int("batch", export.DefaultBatchSize, "Rows per native INSERT")
	create := flag.Bool("create", true, "Create the table if it does not exist")
	sourceDir := flag.String("source-dir", defaults.OutputDir, "Default export directory")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "pfss-ingest v%s - Field-Line Export Ingester\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] [path|files...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "If no paths specified, uses -source-dir default.\n\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	inputPaths := flag.Args()
	if len(inputPaths) == 0 {
		inputPaths = []string{*sourceDir}
	}

	log.Println("=========================================================")
	log.Printf("PFSS Ingest v%s", Version)
	log.Println("=========================================================")
	log.Printf("Input:   %d path(s)", len(inputPaths))
	log.Printf("Workers: %d | Batch: %d", *workers, *batchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("\nShutdown requested...")
		cancel()
	}()

	t := target{
		addr:      *chHost,
		db:        *chDB,
		user:      defaults.ClickHouseUser,
		password:  defaults.ClickHousePassword,
		table:     *chTable,
		batchSize: *batchSize,
	}

	log.Printf("Connecting to ClickHouse at %s...", t.addr)
	testSink, err := export.DialLines(ctx, t.addr, t.db, t.user, t.password, t.table)
	if err != nil {
		log.Fatalf("ClickHouse connection failed: %v", err)
	}
	if *create {
		if err := testSink.EnsureSchema(ctx); err != nil {
			log.Fatalf("Create table failed: %v", err)
		}
	}
	testSink.Close()
	log.Printf("Table: %s.%s", t.db, t.table)

	var files []string
	for _, inputPath := range inputPaths {
		info, err := os.Stat(inputPath)
		if err != nil {
			log.Printf("Warning: cannot access %s: %v", inputPath, err)
			continue
		}
		if info.IsDir() {
			filepath.Walk(inputPath, func(path string, info os.FileInfo, err error) error {
				if err == nil && !info.IsDir() && isExport(path) {
					files = append(files, path)
				}
				return nil
			})
		} else if isExport(inputPath) {
			files = append(files, inputPath)
		}
	}

	if len(files) == 0 {
		log.Fatal("No export files found")
	}

	sort.Strings(files)
	log.Printf("Found %d export file(s)", len(files))

	stats := &Stats{StartTime: time.Now()}
	sem := make(chan struct{}, max(*workers, 1))
	var wg sync.WaitGroup

	for _, filePath := range files {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(fp string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := processFile(ctx, fp, t, stats); err != nil {
				log.Printf("[%s] Error: %v", filepath.Base(fp), err)
				stats.FilesFailed.Add(1)
				return
			}
			stats.FilesComplete.Add(1)
		}(filePath)
	}

	wg.Wait()

	elapsed := time.Since(stats.StartTime)
	totalRows := stats.TotalRows.Load()

	log.Println()
	log.Println("=========================================================")
	log.Println("Final Statistics")
	log.Println("=========================================================")
	log.Printf("Files:      %d ok, %d failed", stats.FilesComplete.Load(), stats.FilesFailed.Load())
	log.Printf("Total Rows: %d", totalRows)
	log.Printf("Elapsed:    %v", elapsed.Round(time.Millisecond))
	log.Printf("Rate:       %.0f rows/sec", float64(totalRows)/elapsed.Seconds())
	log.Println("=========================================================")

	if stats.FilesFailed.Load() > 0 {
		os.Exit(1)
	}
}
