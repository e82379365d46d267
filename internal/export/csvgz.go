package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"

	"github.com/klauspost/pgzip"
)

var csvHeader = []string{
	"run_id", "obs_time", "line", "seq", "lon_deg", "lat_deg", "r",
	"open", "polarity", "expansion_factor", "start_term", "end_term",
}

// WriteCSVGz writes points as gzip-compressed CSV with a header row.
func WriteCSVGz(w io.Writer, points []Point) error {
	gz, err := pgzip.NewWriterLevel(w, pgzip.DefaultCompression)
	if err != nil {
		return err
	}
	if err := gz.SetConcurrency(256*1024, runtime.NumCPU()); err != nil {
		return err
	}

	cw := csv.NewWriter(gz)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	rec := make([]string, len(csvHeader))
	for _, p := range points {
		rec[0] = p.RunID
		rec[1] = strconv.FormatInt(p.ObsTime, 10)
		rec[2] = strconv.Itoa(int(p.Line))
		rec[3] = strconv.Itoa(int(p.Seq))
		rec[4] = strconv.FormatFloat(p.LonDeg, 'g', -1, 64)
		rec[5] = strconv.FormatFloat(p.LatDeg, 'g', -1, 64)
		rec[6] = strconv.FormatFloat(p.R, 'g', -1, 64)
		rec[7] = strconv.FormatBool(p.Open)
		rec[8] = strconv.Itoa(int(p.Polarity))
		rec[9] = strconv.FormatFloat(p.ExpansionFactor, 'g', -1, 64)
		rec[10] = p.StartTerm
		rec[11] = p.EndTerm
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return gz.Close()
}

// SaveCSVGz writes points to path via a temp file and atomic rename.
func SaveCSVGz(path string, points []Point) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create file failed: %w", err)
	}
	err = WriteCSVGz(f, points)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write csv.gz: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename failed: %w", err)
	}
	return nil
}

// ReadCSVGz parses points written by WriteCSVGz.
func ReadCSVGz(r io.Reader) ([]Point, error) {
	gz, err := pgzip.NewReaderN(r, 256*1024, runtime.NumCPU())
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	cr := csv.NewReader(gz)
	cr.FieldsPerRecord = len(csvHeader)
	cr.ReuseRecord = true

	if _, err := cr.Read(); err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}

	var points []Point
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return points, nil
		}
		if err != nil {
			return nil, err
		}
		p, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", len(points)+2, err)
		}
		points = append(points, p)
	}
}

func parseRecord(rec []string) (Point, error) {
	var p Point
	var err error
	p.RunID = rec[0]
	if p.ObsTime, err = strconv.ParseInt(rec[1], 10, 64); err != nil {
		return p, err
	}
	ints := []struct {
		src string
		dst *int32
	}{{rec[2], &p.Line}, {rec[3], &p.Seq}, {rec[8], &p.Polarity}}
	for _, v := range ints {
		n, err := strconv.ParseInt(v.src, 10, 32)
		if err != nil {
			return p, err
		}
		*v.dst = int32(n)
	}
	floats := []struct {
		src string
		dst *float64
	}{{rec[4], &p.LonDeg}, {rec[5], &p.LatDeg}, {rec[6], &p.R}, {rec[9], &p.ExpansionFactor}}
	for _, v := range floats {
		if *v.dst, err = strconv.ParseFloat(v.src, 64); err != nil {
			return p, err
		}
	}
	if p.Open, err = strconv.ParseBool(rec[7]); err != nil {
		return p, err
	}
	p.StartTerm, p.EndTerm = rec[10], rec[11]
	return p, nil
}
