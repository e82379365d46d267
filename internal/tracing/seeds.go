// Package tracing generates seed footpoints and integrates magnetic field
// lines through a solved PFSS model.
package tracing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/solar"
)

// SeedGrid is a rectangular grid of footpoints in sine latitude and
// Carrington longitude at a fixed radius.
type SeedGrid struct {
	SinLatMin, SinLatMax float64
	LonMinDeg, LonMaxDeg float64
	NLat, NLon           int
	R                    float64 // solar radii
}

// SeedGridFromConfig converts the configuration block.
func SeedGridFromConfig(c common.SeedConfig) SeedGrid {
	return SeedGrid{
		SinLatMin: c.SinLatMin,
		SinLatMax: c.SinLatMax,
		LonMinDeg: c.LonMinDeg,
		LonMaxDeg: c.LonMaxDeg,
		NLat:      c.NLat,
		NLon:      c.NLon,
		R:         c.Radius,
	}
}

// Seeds is an ordered seed set and the frame its coordinates are in.
type Seeds struct {
	Coords []solar.SphericalCoord
	Frame  solar.Frame
}

// Len returns the number of seeds.
func (s Seeds) Len() int { return len(s.Coords) }

// GenerateSeeds lays out NLat x NLon seeds with both ends of each range
// included. Seeds are ordered longitude-major: all latitudes of the first
// longitude, then the next longitude.
func GenerateSeeds(g SeedGrid, frame solar.Frame) (Seeds, error) {
	if g.NLat < 1 || g.NLon < 1 {
		return Seeds{}, fmt.Errorf("%w: seed counts must be >= 1, got %dx%d", common.ErrInvalidConfig, g.NLat, g.NLon)
	}
	for _, v := range []float64{g.SinLatMin, g.SinLatMax, g.LonMinDeg, g.LonMaxDeg, g.R} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Seeds{}, fmt.Errorf("%w: non-finite seed grid parameter", common.ErrInvalidConfig)
		}
	}
	if g.SinLatMin < -1 || g.SinLatMax > 1 {
		return Seeds{}, fmt.Errorf("%w: sine latitude [%g, %g] outside [-1, 1]", common.ErrInvalidConfig, g.SinLatMin, g.SinLatMax)
	}
	if g.SinLatMin > g.SinLatMax || g.LonMinDeg > g.LonMaxDeg {
		return Seeds{}, fmt.Errorf("%w: inverted seed range", common.ErrInvalidConfig)
	}
	if g.R < 1 {
		return Seeds{}, fmt.Errorf("%w: seed radius %g is below the photosphere", common.ErrInvalidConfig, g.R)
	}

	sinLat := linspace(g.SinLatMin, g.SinLatMax, g.NLat)
	lon := linspace(g.LonMinDeg, g.LonMaxDeg, g.NLon)

	coords := make([]solar.SphericalCoord, 0, g.NLat*g.NLon)
	for _, l := range lon {
		for _, s := range sinLat {
			coords = append(coords, solar.SphericalCoord{
				Lon: l * math.Pi / 180,
				Lat: math.Asin(s),
				R:   g.R,
			})
		}
	}
	return Seeds{Coords: coords, Frame: frame}, nil
}

// linspace returns n evenly spaced values from lo to hi inclusive.
// Both ends are exact so bounds checks on the result hold.
func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	floats.Span(out, lo, hi)
	out[0], out[n-1] = lo, hi
	return out
}
