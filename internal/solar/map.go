// Package solar provides solar map handling for the PFSS pipeline.
// This package reads FITS rasters (EUV images and synoptic magnetograms),
// carries their WCS and observer metadata, and converts between the
// Carrington, Stonyhurst and helioprojective frames.
package solar

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
)

// RadiusMeters is the nominal solar radius (IAU 2015) used for projections.
const RadiusMeters = 6.957e8

// Header holds FITS header cards in file order. Keys are upper-case.
type Header struct {
	keys   []string
	values map[string]any
}

// NewHeader creates an empty header.
func NewHeader() *Header {
	return &Header{values: make(map[string]any)}
}

// Set adds or replaces a card.
func (h *Header) Set(key string, value any) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

// Get returns the raw card value.
func (h *Header) Get(key string) (any, bool) {
	v, ok := h.values[strings.ToUpper(key)]
	return v, ok
}

// Float returns a numeric card. String cards holding a number are accepted.
func (h *Header) Float(key string) (float64, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// String returns a string card, trimmed.
func (h *Header) String(key string) (string, bool) {
	v, ok := h.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return strings.TrimSpace(s), ok
}

// Keys returns card names in insertion order.
func (h *Header) Keys() []string {
	return append([]string(nil), h.keys...)
}

// Clone returns a deep copy of the card list.
func (h *Header) Clone() *Header {
	c := &Header{
		keys:   append([]string(nil), h.keys...),
		values: make(map[string]any, len(h.values)),
	}
	for k, v := range h.values {
		c.values[k] = v
	}
	return c
}

// Map is a 2D raster with its coordinate metadata.
// Data is row-major: Data[y*NX+x], x along FITS axis 1.
type Map struct {
	Data   []float64
	NX, NY int
	Header *Header
	WCS    WCS
	Frame  Frame
}

// NewMap builds a map from raw pixels and a header, deriving WCS and frame.
func NewMap(nx, ny int, data []float64, hdr *Header) (*Map, error) {
	if nx < 1 || ny < 1 || len(data) != nx*ny {
		return nil, fmt.Errorf("%w: %dx%d raster with %d values", common.ErrMalformedInput, nx, ny, len(data))
	}
	if hdr == nil {
		return nil, fmt.Errorf("%w: missing header", common.ErrMalformedInput)
	}
	hdr.Set("NAXIS1", nx)
	hdr.Set("NAXIS2", ny)

	wcs, err := NewWCS(hdr)
	if err != nil {
		return nil, err
	}
	frame, err := FrameFromHeader(hdr, wcs)
	if err != nil {
		return nil, err
	}
	return &Map{Data: data, NX: nx, NY: ny, Header: hdr, WCS: wcs, Frame: frame}, nil
}

// At returns the pixel at column x, row y.
func (m *Map) At(x, y int) float64 {
	return m.Data[y*m.NX+x]
}

// Clone copies pixels and header; WCS and frame are values.
func (m *Map) Clone() *Map {
	return &Map{
		Data:   append([]float64(nil), m.Data...),
		NX:     m.NX,
		NY:     m.NY,
		Header: m.Header.Clone(),
		WCS:    m.WCS,
		Frame:  m.Frame,
	}
}

// withData returns a map sharing metadata with m but holding new pixels.
func (m *Map) withData(data []float64) *Map {
	return &Map{
		Data:   data,
		NX:     m.NX,
		NY:     m.NY,
		Header: m.Header.Clone(),
		WCS:    m.WCS,
		Frame:  m.Frame,
	}
}

// checkFinite fails fast on empty or NaN/Inf rasters.
func (m *Map) checkFinite() error {
	if m == nil || len(m.Data) == 0 {
		return fmt.Errorf("%w: empty raster", common.ErrMalformedInput)
	}
	for i, v := range m.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value at pixel (%d, %d)", common.ErrMalformedInput, i%m.NX, i/m.NX)
		}
	}
	return nil
}

// SphericalCoord is a point in a heliographic frame.
// Lon and Lat are radians, R is in solar radii.
type SphericalCoord struct {
	Lon float64
	Lat float64
	R   float64
}

// LonDeg returns the longitude in degrees, wrapped to [0, 360).
func (c SphericalCoord) LonDeg() float64 {
	return WrapDegrees(c.Lon * 180 / math.Pi)
}

// LatDeg returns the latitude in degrees.
func (c SphericalCoord) LatDeg() float64 {
	return c.Lat * 180 / math.Pi
}

// WrapDegrees maps an angle into [0, 360).
func WrapDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}
