package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/proto"
)

// DefaultBatchSize is the number of rows sent per native INSERT.
const DefaultBatchSize = 100000

// LineBatch holds field-line points as native columns.
type LineBatch struct {
	RunID           *proto.ColStr
	ObsTime         *proto.ColDateTime
	Line            *proto.ColInt32
	Seq             *proto.ColInt32
	LonDeg          *proto.ColFloat64
	LatDeg          *proto.ColFloat64
	R               *proto.ColFloat64
	Open            *proto.ColBool
	Polarity        *proto.ColInt32
	ExpansionFactor *proto.ColFloat64
	StartTerm       *proto.ColStr
	EndTerm         *proto.ColStr
}

func NewLineBatch() *LineBatch {
	return &LineBatch{
		RunID:           new(proto.ColStr),
		ObsTime:         new(proto.ColDateTime),
		Line:            new(proto.ColInt32),
		Seq:             new(proto.ColInt32),
		LonDeg:          new(proto.ColFloat64),
		LatDeg:          new(proto.ColFloat64),
		R:               new(proto.ColFloat64),
		Open:            new(proto.ColBool),
		Polarity:        new(proto.ColInt32),
		ExpansionFactor: new(proto.ColFloat64),
		StartTerm:       new(proto.ColStr),
		EndTerm:         new(proto.ColStr),
	}
}

func (b *LineBatch) Reset() {
	b.RunID.Reset()
	b.ObsTime.Reset()
	b.Line.Reset()
	b.Seq.Reset()
	b.LonDeg.Reset()
	b.LatDeg.Reset()
	b.R.Reset()
	b.Open.Reset()
	b.Polarity.Reset()
	b.ExpansionFactor.Reset()
	b.StartTerm.Reset()
	b.EndTerm.Reset()
}

func (b *LineBatch) Len() int {
	return b.RunID.Rows()
}

func (b *LineBatch) Input() proto.Input {
	return proto.Input{
		{Name: "run_id", Data: b.RunID},
		{Name: "obs_time", Data: b.ObsTime},
		{Name: "line", Data: b.Line},
		{Name: "seq", Data: b.Seq},
		{Name: "lon_deg", Data: b.LonDeg},
		{Name: "lat_deg", Data: b.LatDeg},
		{Name: "r", Data: b.R},
		{Name: "open", Data: b.Open},
		{Name: "polarity", Data: b.Polarity},
		{Name: "expansion_factor", Data: b.ExpansionFactor},
		{Name: "start_term", Data: b.StartTerm},
		{Name: "end_term", Data: b.EndTerm},
	}
}

func (b *LineBatch) Append(p Point) {
	b.RunID.Append(p.RunID)
	b.ObsTime.Append(time.Unix(p.ObsTime, 0).UTC())
	b.Line.Append(p.Line)
	b.Seq.Append(p.Seq)
	b.LonDeg.Append(p.LonDeg)
	b.LatDeg.Append(p.LatDeg)
	b.R.Append(p.R)
	b.Open.Append(p.Open)
	b.Polarity.Append(p.Polarity)
	b.ExpansionFactor.Append(p.ExpansionFactor)
	b.StartTerm.Append(p.StartTerm)
	b.EndTerm.Append(p.EndTerm)
}

// InsertQuery returns the INSERT statement for a fully-qualified table.
func (b *LineBatch) InsertQuery(tableFQN string) string {
	input := b.Input()
	names := make([]string, len(input))
	for i, c := range input {
		names[i] = c.Name
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES", tableFQN, strings.Join(names, ", "))
}

// LinesDDL creates the field-line point table.
func LinesDDL(tableFQN string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    run_id String,
    obs_time DateTime,
    line Int32,
    seq Int32,
    lon_deg Float64,
    lat_deg Float64,
    r Float64,
    open Bool,
    polarity Int32,
    expansion_factor Float64,
    start_term LowCardinality(String),
    end_term LowCardinality(String)
) ENGINE = MergeTree
ORDER BY (run_id, line, seq)`, tableFQN)
}

// LineSink streams points to ClickHouse over the native protocol.
type LineSink struct {
	Conn      *ch.Client
	Table     string // database.table
	BatchSize int

	batch    *LineBatch
	inserted uint64
}

// DialLines opens a native connection for point inserts.
func DialLines(ctx context.Context, addr, database, user, password, table string) (*LineSink, error) {
	conn, err := ch.Dial(ctx, ch.Options{
		Address:     addr,
		Database:    database,
		User:        user,
		Password:    password,
		Compression: ch.CompressionLZ4,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse connection failed: %w", err)
	}
	return &LineSink{Conn: conn, Table: database + "." + table, BatchSize: DefaultBatchSize}, nil
}

// EnsureSchema creates the point table when it does not exist.
func (s *LineSink) EnsureSchema(ctx context.Context) error {
	return s.Conn.Do(ctx, ch.Query{Body: LinesDDL(s.Table)})
}

// Write buffers points and flushes every BatchSize rows.
func (s *LineSink) Write(ctx context.Context, points []Point) error {
	if s.batch == nil {
		s.batch = NewLineBatch()
	}
	size := s.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	for _, p := range points {
		s.batch.Append(p)
		if s.batch.Len() >= size {
			if err := s.Flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush sends any buffered rows.
func (s *LineSink) Flush(ctx context.Context) error {
	if s.batch == nil || s.batch.Len() == 0 {
		return nil
	}
	n := s.batch.Len()
	if err := s.Conn.Do(ctx, ch.Query{
		Body:  s.batch.InsertQuery(s.Table),
		Input: s.batch.Input(),
	}); err != nil {
		return fmt.Errorf("insert %s: %w", s.Table, err)
	}
	s.inserted += uint64(n)
	s.batch.Reset()
	return nil
}

// Inserted reports rows sent so far.
func (s *LineSink) Inserted() uint64 { return s.inserted }

func (s *LineSink) Close() error {
	return s.Conn.Close()
}
