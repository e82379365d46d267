package pfss

import (
	"fmt"
	"math"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/solar"
)

// Input is the immutable model descriptor handed to a Solver.
type Input struct {
	Grid  Grid
	Frame solar.Frame

	// Br is the photospheric radial field on the (s, phi) centres,
	// indexed Br[j*NPhi+i].
	Br []float64

	header *solar.Header
}

// NewInput validates a synoptic magnetogram and model parameters and
// copies the field onto the solver grid.
func NewInput(m *solar.Map, nr int, rss float64) (*Input, error) {
	if nr < 1 {
		return nil, fmt.Errorf("%w: nr must be >= 1, got %d", common.ErrInvalidConfig, nr)
	}
	if !(rss > 1) || math.IsInf(rss, 0) {
		return nil, fmt.Errorf("%w: rss must be > 1, got %g", common.ErrInvalidConfig, rss)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: nil magnetogram", common.ErrMalformedInput)
	}
	if m.Frame.Name != solar.FrameCarrington {
		return nil, fmt.Errorf("%w: magnetogram frame is %s, want carrington", common.ErrMalformedInput, m.Frame.Name)
	}
	if !m.WCS.Cylindrical() {
		return nil, fmt.Errorf("%w: magnetogram projection %s is not cylindrical", common.ErrMalformedInput, m.WCS.Proj)
	}
	if m.NX < 2 || m.NY < 2 {
		return nil, fmt.Errorf("%w: magnetogram %dx%d is too small", common.ErrMalformedInput, m.NX, m.NY)
	}
	for i, v := range m.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite field at pixel %d", common.ErrMalformedInput, i)
		}
	}

	w := m.WCS
	span := math.Abs(w.CDelt[0]) * float64(m.NX)
	if math.Abs(span-360) > 1e-3*360 {
		return nil, fmt.Errorf("%w: magnetogram spans %.3f degrees of longitude, want 360", common.ErrMalformedInput, span)
	}
	flipX := w.CDelt[0] < 0
	lonOrigin := w.Linear(0, -0.5)
	if flipX {
		lonOrigin = w.Linear(0, float64(m.NX)-0.5)
	}
	g := NewGrid(nr, m.NY, m.NX, rss, solar.WrapDegrees(lonOrigin)*math.Pi/180)

	var br []float64
	var err error
	if w.Proj == solar.ProjCEA {
		br, err = sampleCEA(m, g, flipX)
	} else {
		br, err = sampleCAR(m, g, flipX)
	}
	if err != nil {
		return nil, err
	}

	return &Input{
		Grid:   g,
		Frame:  m.Frame,
		Br:     br,
		header: ceaHeader(m.Header, g),
	}, nil
}

// sampleCEA copies a sine-latitude map, reordering axes into ascending s and phi.
func sampleCEA(m *solar.Map, g Grid, flipX bool) ([]float64, error) {
	w := m.WCS
	s0 := w.Lambda * w.Linear(1, 0) * math.Pi / 180
	s1 := w.Lambda * w.Linear(1, float64(m.NY-1)) * math.Pi / 180
	flipY := s0 > s1
	lo, hi := math.Min(s0, s1), math.Max(s0, s1)
	tol := 0.05 * g.DS
	if math.Abs(lo-g.SCentre(0)) > tol || math.Abs(hi-g.SCentre(g.NS-1)) > tol {
		return nil, fmt.Errorf("%w: sine-latitude rows span [%.4f, %.4f], want full sphere", common.ErrMalformedInput, lo, hi)
	}

	br := make([]float64, g.NS*g.NPhi)
	for j := 0; j < g.NS; j++ {
		y := j
		if flipY {
			y = m.NY - 1 - j
		}
		for i := 0; i < g.NPhi; i++ {
			x := i
			if flipX {
				x = m.NX - 1 - i
			}
			br[j*g.NPhi+i] = m.At(x, y)
		}
	}
	return br, nil
}

// sampleCAR interpolates a plate carree map linearly in latitude onto the
// uniform sine-latitude centres.
func sampleCAR(m *solar.Map, g Grid, flipX bool) ([]float64, error) {
	w := m.WCS
	l0, l1 := w.Linear(1, -0.5), w.Linear(1, float64(m.NY)-0.5)
	lo, hi := math.Min(l0, l1), math.Max(l0, l1)
	if math.Abs(lo+90) > 0.5*math.Abs(w.CDelt[1]) || math.Abs(hi-90) > 0.5*math.Abs(w.CDelt[1]) {
		return nil, fmt.Errorf("%w: latitude rows span [%.3f, %.3f], want full sphere", common.ErrMalformedInput, lo, hi)
	}

	br := make([]float64, g.NS*g.NPhi)
	for j := 0; j < g.NS; j++ {
		lat := math.Asin(g.SCentre(j)) * 180 / math.Pi
		fy := w.LinearToPixel(1, lat)
		fy = math.Max(0, math.Min(float64(m.NY-1), fy))
		y0 := int(math.Floor(fy))
		y1 := min(y0+1, m.NY-1)
		t := fy - float64(y0)
		for i := 0; i < g.NPhi; i++ {
			x := i
			if flipX {
				x = m.NX - 1 - i
			}
			br[j*g.NPhi+i] = (1-t)*m.At(x, y0) + t*m.At(x, y1)
		}
	}
	return br, nil
}

// ceaHeader rewrites the spatial cards of src to describe the solver grid.
func ceaHeader(src *solar.Header, g Grid) *solar.Header {
	h := src.Clone()
	h.Set("CTYPE1", "CRLN-CEA")
	h.Set("CTYPE2", "CRLT-CEA")
	h.Set("CUNIT1", "deg")
	h.Set("CUNIT2", "deg")
	h.Set("CRPIX1", 0.5)
	h.Set("CRVAL1", g.LonOrigin*180/math.Pi)
	h.Set("CDELT1", g.DPhi*180/math.Pi)
	h.Set("CRPIX2", float64(g.NS)/2+0.5)
	h.Set("CRVAL2", 0.0)
	h.Set("CDELT2", g.DS*180/math.Pi)
	h.Set("PV2_1", 1.0)
	identity := map[string]float64{"PC1_1": 1, "PC1_2": 0, "PC2_1": 0, "PC2_2": 1}
	for k, v := range identity {
		if _, ok := h.Get(k); ok {
			h.Set(k, v)
		}
	}
	if _, ok := h.Get("CROTA2"); ok {
		h.Set("CROTA2", 0.0)
	}
	return h
}

// Map wraps a field sampled on the (s, phi) centres as a Carrington CEA map.
func (in *Input) Map(data []float64) (*solar.Map, error) {
	return solar.NewMap(in.Grid.NPhi, in.Grid.NS, data, in.header.Clone())
}
