package solar

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
)

// SubtractMean returns a new map with the array mean removed elementwise.
// Header, WCS and frame are preserved; m is left untouched.
func SubtractMean(m *Map) (*Map, error) {
	if err := m.checkFinite(); err != nil {
		return nil, err
	}
	mean := stat.Mean(m.Data, nil)

	out := make([]float64, len(m.Data))
	copy(out, m.Data)
	floats.AddConst(-mean, out)
	return m.withData(out), nil
}

// Resample box-averages m down to nx by ny pixels and rescales the WCS.
// Each output pixel averages the input pixels whose centres fall inside it.
func Resample(m *Map, nx, ny int) (*Map, error) {
	if nx < 1 || ny < 1 {
		return nil, fmt.Errorf("%w: resample to %dx%d", common.ErrInvalidConfig, nx, ny)
	}
	if nx > m.NX || ny > m.NY {
		return nil, fmt.Errorf("%w: resample %dx%d up to %dx%d is not supported", common.ErrInvalidConfig, m.NX, m.NY, nx, ny)
	}
	if nx == m.NX && ny == m.NY {
		return m.Clone(), nil
	}

	fx := float64(m.NX) / float64(nx)
	fy := float64(m.NY) / float64(ny)
	sum := make([]float64, nx*ny)
	count := make([]float64, nx*ny)
	for y := 0; y < m.NY; y++ {
		oy := min(int((float64(y)+0.5)/fy), ny-1)
		for x := 0; x < m.NX; x++ {
			ox := min(int((float64(x)+0.5)/fx), nx-1)
			sum[oy*nx+ox] += m.Data[y*m.NX+x]
			count[oy*nx+ox]++
		}
	}
	floats.Div(sum, count)

	hdr := m.Header.Clone()
	for i, f := range []float64{fx, fy} {
		n := i + 1
		crpix, _ := hdr.Float(fmt.Sprintf("CRPIX%d", n))
		cdelt, _ := hdr.Float(fmt.Sprintf("CDELT%d", n))
		// FITS pixel centres are at integers; edges at half-integers.
		hdr.Set(fmt.Sprintf("CRPIX%d", n), (crpix-0.5)/f+0.5)
		hdr.Set(fmt.Sprintf("CDELT%d", n), cdelt*f)
	}
	return NewMap(nx, ny, sum, hdr)
}

// Summary holds descriptive statistics of a raster.
type Summary struct {
	Min, Max  float64
	Mean, Std float64
}

// Describe computes min/max/mean/std for logging.
func Describe(m *Map) Summary {
	if len(m.Data) == 0 {
		return Summary{}
	}
	mean, std := stat.MeanStdDev(m.Data, nil)
	if len(m.Data) == 1 {
		std = 0
	}
	return Summary{
		Min:  floats.Min(m.Data),
		Max:  floats.Max(m.Data),
		Mean: mean,
		Std:  std,
	}
}

// MaxAbs returns the largest absolute pixel value, used for symmetric colour scales.
func MaxAbs(m *Map) float64 {
	var v float64
	for _, d := range m.Data {
		v = math.Max(v, math.Abs(d))
	}
	return v
}
