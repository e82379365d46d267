package export

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/tracing"
)

// RunSummary is one row per pipeline run.
type RunSummary struct {
	RunID           uuid.UUID
	ObsTime         time.Time
	CreatedAt       time.Time
	MagnetogramFile string
	ImageFile       string
	NR              int
	NS              int
	NPhi            int
	RSS             float64
	Lines           int
	Open            int
	Closed          int
	OpenPositive    int
	OpenNegative    int
	MeanExpansion   float64 // over open lines; 0 when none are open
	SolveSeconds    float64
	TraceSeconds    float64
}

// Summarize counts line topology for a run. Grid and file fields are left
// for the caller.
func Summarize(runID uuid.UUID, obsTime time.Time, lines []tracing.FieldLine) RunSummary {
	s := RunSummary{
		RunID:     runID,
		ObsTime:   obsTime.UTC(),
		CreatedAt: time.Now().UTC(),
		Lines:     len(lines),
	}
	var sum float64
	var n int
	for _, l := range lines {
		if !l.IsOpen {
			s.Closed++
			continue
		}
		s.Open++
		if l.Polarity > 0 {
			s.OpenPositive++
		} else {
			s.OpenNegative++
		}
		if f := l.ExpansionFactor; !math.IsNaN(f) && !math.IsInf(f, 0) {
			sum += f
			n++
		}
	}
	if n > 0 {
		s.MeanExpansion = sum / float64(n)
	}
	return s
}

// OpenFraction returns the share of traced lines that reach the source surface.
func (s RunSummary) OpenFraction() float64 {
	if s.Lines == 0 {
		return 0
	}
	return float64(s.Open) / float64(s.Lines)
}

// values is the column order of RunsDDL.
func (s RunSummary) values() []any {
	return []any{
		s.RunID.String(),
		s.ObsTime,
		s.CreatedAt,
		s.MagnetogramFile,
		s.ImageFile,
		uint32(s.NR),
		uint32(s.NS),
		uint32(s.NPhi),
		s.RSS,
		uint32(s.Lines),
		uint32(s.Open),
		uint32(s.Closed),
		uint32(s.OpenPositive),
		uint32(s.OpenNegative),
		s.MeanExpansion,
		s.SolveSeconds,
		s.TraceSeconds,
	}
}

// RunsDDL creates the run summary table.
func RunsDDL(tableFQN string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    run_id String,
    obs_time DateTime,
    created_at DateTime,
    magnetogram_file String,
    image_file String,
    nr UInt32,
    ns UInt32,
    nphi UInt32,
    rss Float64,
    lines UInt32,
    open UInt32,
    closed UInt32,
    open_positive UInt32,
    open_negative UInt32,
    mean_expansion Float64,
    solve_seconds Float64,
    trace_seconds Float64
) ENGINE = MergeTree
ORDER BY (obs_time, run_id)`, tableFQN)
}

// RunSink records run summaries through the clickhouse-go driver.
type RunSink struct {
	conn  driver.Conn
	table string
}

// OpenRuns connects to ClickHouse for summary inserts.
func OpenRuns(ctx context.Context, addr, database, user, password, table string) (*RunSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse connection failed: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping failed: %w", err)
	}
	return &RunSink{conn: conn, table: database + "." + table}, nil
}

// EnsureSchema creates the summary table when it does not exist.
func (s *RunSink) EnsureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, RunsDDL(s.table))
}

// Insert writes summaries as one batch.
func (s *RunSink) Insert(ctx context.Context, runs ...RunSummary) error {
	if len(runs) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, r := range runs {
		if err := batch.Append(r.values()...); err != nil {
			batch.Abort()
			return fmt.Errorf("append run %s: %w", r.RunID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func (s *RunSink) Close() error {
	return s.conn.Close()
}
