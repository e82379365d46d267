package render

import (
	"fmt"
	"math"

	"gonum.org/v1/plot/plotter"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/solar"
)

// projector maps pixels and heliographic coordinates into plot axes.
type projector struct {
	m        *solar.Map
	synoptic bool
}

func newProjector(m *solar.Map) (*projector, error) {
	switch {
	case m.WCS.Cylindrical() && m.Frame.Name == solar.FrameCarrington:
		return &projector{m: m, synoptic: true}, nil
	case m.WCS.Proj == solar.ProjTAN && m.Frame.Name == solar.FrameHelioprojective:
		if m.Frame.Observer == nil {
			return nil, fmt.Errorf("%w: helioprojective image without observer", common.ErrMalformedInput)
		}
		return &projector{m: m}, nil
	}
	return nil, fmt.Errorf("%w: cannot draw %s map in %s projection", common.ErrMalformedInput, m.Frame.Name, m.WCS.Proj)
}

func (p *projector) labels() (string, string) {
	switch {
	case !p.synoptic:
		return "Helioprojective longitude (arcsec)", "Helioprojective latitude (arcsec)"
	case p.m.WCS.Proj == solar.ProjCEA:
		return "Carrington longitude (deg)", "Sine latitude"
	default:
		return "Carrington longitude (deg)", "Latitude (deg)"
	}
}

// x and y convert fractional pixel positions to axis values.
func (p *projector) x(px float64) float64 { return p.m.WCS.Linear(0, px) }

func (p *projector) y(py float64) float64 {
	v := p.m.WCS.Linear(1, py)
	if p.synoptic && p.m.WCS.Proj == solar.ProjCEA {
		return p.m.WCS.Lambda * v * math.Pi / 180
	}
	return v
}

// project converts an overlay into polyline segments in axis units.
// A segment is broken where the path wraps in longitude or passes behind
// the Sun.
func (p *projector) project(ov Overlay) ([]plotter.XYs, error) {
	if p.synoptic {
		return p.projectSynoptic(ov)
	}
	return p.projectDisk(ov)
}

func (p *projector) projectSynoptic(ov Overlay) ([]plotter.XYs, error) {
	if ov.Frame.Name != solar.FrameCarrington {
		return nil, fmt.Errorf("%w: %s overlay on a carrington map", common.ErrFrameMismatch, ov.Frame.Name)
	}
	w := p.m.WCS
	lonStart := math.Min(w.Linear(0, -0.5), w.Linear(0, float64(p.m.NX)-0.5))

	var segments []plotter.XYs
	var cur plotter.XYs
	prevLon := math.NaN()
	for _, c := range ov.Coords {
		lon := lonStart + solar.WrapDegrees(c.LonDeg()-lonStart)
		px, py, ok := w.WorldToPixel(lon, c.LatDeg())
		if !ok {
			segments, cur = flush(segments, cur)
			prevLon = math.NaN()
			continue
		}
		if !math.IsNaN(prevLon) && math.Abs(lon-prevLon) > 180 {
			segments, cur = flush(segments, cur)
		}
		cur = append(cur, plotter.XY{X: p.x(px), Y: p.y(py)})
		prevLon = lon
	}
	segments, _ = flush(segments, cur)
	return segments, nil
}

func (p *projector) projectDisk(ov Overlay) ([]plotter.XYs, error) {
	obs := p.m.Frame.Observer
	var shift float64
	switch ov.Frame.Name {
	case solar.FrameCarrington:
	case solar.FrameStonyhurst:
		shift = (obs.CarrLon - obs.HGLon) * math.Pi / 180
	default:
		return nil, fmt.Errorf("%w: %s overlay on a helioprojective image", common.ErrFrameMismatch, ov.Frame.Name)
	}

	w := p.m.WCS
	var segments []plotter.XYs
	var cur plotter.XYs
	for _, c := range ov.Coords {
		c.Lon += shift
		tx, ty, visible := solar.Helioprojective(c, obs)
		if !visible {
			segments, cur = flush(segments, cur)
			continue
		}
		px, py, ok := w.WorldToPixel(tx, ty)
		if !ok {
			segments, cur = flush(segments, cur)
			continue
		}
		cur = append(cur, plotter.XY{X: p.x(px), Y: p.y(py)})
	}
	segments, _ = flush(segments, cur)
	return segments, nil
}

func flush(segments []plotter.XYs, cur plotter.XYs) ([]plotter.XYs, plotter.XYs) {
	if len(cur) > 0 {
		segments = append(segments, cur)
	}
	return segments, nil
}
