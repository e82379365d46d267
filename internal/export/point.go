// Package export archives traced field lines as Parquet, gzipped CSV and
// ClickHouse rows. Every exported row carries the run ID so points from
// one pipeline run can be joined with its run summary.
package export

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/tracing"
)

// Point is one vertex of a traced field line.
type Point struct {
	RunID           string  `parquet:"run_id"`
	ObsTime         int64   `parquet:"obs_time"` // unix seconds
	Line            int32   `parquet:"line"`
	Seq             int32   `parquet:"seq"`
	LonDeg          float64 `parquet:"lon_deg"`
	LatDeg          float64 `parquet:"lat_deg"`
	R               float64 `parquet:"r"`
	Open            bool    `parquet:"open"`
	Polarity        int32   `parquet:"polarity"`
	ExpansionFactor float64 `parquet:"expansion_factor"`
	StartTerm       string  `parquet:"start_term"`
	EndTerm         string  `parquet:"end_term"`
}

// NewRunID returns a time-ordered run identifier.
func NewRunID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("run id: %w", err)
	}
	return id, nil
}

// Flatten turns lines into rows, line by line and vertex by vertex.
func Flatten(runID uuid.UUID, obsTime time.Time, lines []tracing.FieldLine) []Point {
	n := 0
	for _, l := range lines {
		n += len(l.Coords)
	}
	id := runID.String()
	ts := obsTime.Unix()

	points := make([]Point, 0, n)
	for i, l := range lines {
		start, end := l.Start.String(), l.End.String()
		for j, c := range l.Coords {
			points = append(points, Point{
				RunID:           id,
				ObsTime:         ts,
				Line:            int32(i),
				Seq:             int32(j),
				LonDeg:          c.LonDeg(),
				LatDeg:          c.LatDeg(),
				R:               c.R,
				Open:            l.IsOpen,
				Polarity:        int32(l.Polarity),
				ExpansionFactor: l.ExpansionFactor,
				StartTerm:       start,
				EndTerm:         end,
			})
		}
	}
	return points
}
