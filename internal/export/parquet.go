package export

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// WriteParquet writes points to path via a temp file and atomic rename.
func WriteParquet(path string, points []Point) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create file failed: %w", err)
	}

	w := parquet.NewGenericWriter[Point](f)
	_, err = w.Write(points)
	if err == nil {
		err = w.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename failed: %w", err)
	}
	return nil
}

// ReadParquet reads every point from a Parquet file.
func ReadParquet(path string) ([]Point, error) {
	var points []Point
	err := ScanParquet(path, 1000, func(batch []Point) error {
		points = append(points, batch...)
		return nil
	})
	return points, err
}

// ScanParquet streams rows to fn in batches of up to batchSize. The slice
// passed to fn is reused between calls.
func ScanParquet(path string, batchSize int, fn func([]Point) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return fmt.Errorf("parquet open: %w", err)
	}

	reader := parquet.NewGenericReader[Point](pf)
	defer reader.Close()

	buf := make([]Point, batchSize)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if ferr := fn(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("parquet read: %w", err)
		}
		if n == 0 {
			return nil
		}
	}
}
