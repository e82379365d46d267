package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/export"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/render"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/solar"
)

// Output file names written by Save.
const (
	LinesParquet      = "field_lines.parquet"
	LinesCSV          = "field_lines.csv.gz"
	SourceSurfaceFITS = "source_surface_br.fits"
)

// Points flattens the traced lines into export rows.
func (r *Result) Points() []export.Point {
	return export.Flatten(r.RunID, r.Summary.ObsTime, r.Lines)
}

// Save writes the figures, field-line exports and the source-surface map
// into dir and returns the written paths in a stable order.
func (r *Result) Save(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	var written []string

	names := make([]string, 0, len(r.Figures))
	for name := range r.Figures {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(dir, name+".png")
		if err := render.WriteFile(path, r.Figures[name]); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	points := r.Points()
	path := filepath.Join(dir, LinesParquet)
	if err := export.WriteParquet(path, points); err != nil {
		return written, err
	}
	written = append(written, path)

	path = filepath.Join(dir, LinesCSV)
	if err := export.SaveCSVGz(path, points); err != nil {
		return written, err
	}
	written = append(written, path)

	ss, err := r.Output.SourceSurfaceBr()
	if err != nil {
		return written, err
	}
	path = filepath.Join(dir, SourceSurfaceFITS)
	if err := solar.SaveFITS(path, ss); err != nil {
		return written, err
	}
	written = append(written, path)
	return written, nil
}
