// Package render draws solar rasters with coordinate overlays.
//
// A figure is drawn in the raster's own projection: synoptic maps use
// Carrington longitude and sine latitude (or latitude for CAR maps),
// helioprojective images use arcseconds from disk centre. Overlays are
// heliographic coordinates projected through the raster's WCS.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/solar"
)

// Style selects how an overlay is drawn.
type Style int

const (
	StyleLine Style = iota
	StyleScatter
)

// Overlay is a coordinate sequence drawn over the raster.
type Overlay struct {
	Coords []solar.SphericalCoord
	Frame  solar.Frame
	Style  Style
	Color  color.Color // nil draws black
}

// Figure is a raster plus its overlays.
type Figure struct {
	Title    string
	Map      *solar.Map
	Overlays []Overlay
}

// Render draws fig and returns PNG bytes. Width and height are inches.
func Render(fig Figure, width, height float64) ([]byte, error) {
	p, err := build(fig)
	if err != nil {
		return nil, err
	}
	wt, err := p.WriterTo(vg.Length(width)*vg.Inch, vg.Length(height)*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("render %q: %w", fig.Title, err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render %q: %w", fig.Title, err)
	}
	return buf.Bytes(), nil
}

// Save renders fig to path. Nothing is written if rendering fails.
func Save(fig Figure, path string, width, height float64) error {
	png, err := Render(fig, width, height)
	if err != nil {
		return err
	}
	return WriteFile(path, png)
}

// WriteFile writes data via a temp file and atomic rename.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename failed: %w", err)
	}
	return nil
}

func build(fig Figure) (*plot.Plot, error) {
	m := fig.Map
	if m == nil || len(m.Data) == 0 {
		return nil, fmt.Errorf("%w: figure %q has no raster", common.ErrMalformedInput, fig.Title)
	}
	proj, err := newProjector(m)
	if err != nil {
		return nil, err
	}

	p := plot.New()
	p.Title.Text = fig.Title
	p.X.Label.Text, p.Y.Label.Text = proj.labels()

	grid := &rasterGrid{m: m, proj: proj}
	var pal palette.Palette
	if proj.synoptic {
		grid.z = m.Data
		v := solar.MaxAbs(m)
		if v == 0 {
			v = 1
		}
		cmap := moreland.SmoothBlueRed()
		cmap.SetMin(-v)
		cmap.SetMax(v)
		cmap.SetConvergePoint(0)
		pal = cmap.Palette(255)
		hm := plotter.NewHeatMap(grid, pal)
		hm.Min, hm.Max = -v, v
		hm.Rasterized = true
		p.Add(hm)
	} else {
		grid.z = logScale(m.Data)
		lo, hi := minMax(grid.z)
		cmap := moreland.ExtendedBlackBody()
		cmap.SetMin(lo)
		cmap.SetMax(hi)
		pal = cmap.Palette(255)
		hm := plotter.NewHeatMap(grid, pal)
		hm.Min, hm.Max = lo, hi
		hm.Rasterized = true
		p.Add(hm)
	}

	x0, x1 := proj.x(-0.5), proj.x(float64(m.NX)-0.5)
	y0, y1 := proj.y(-0.5), proj.y(float64(m.NY)-0.5)
	p.X.Min, p.X.Max = math.Min(x0, x1), math.Max(x0, x1)
	p.Y.Min, p.Y.Max = math.Min(y0, y1), math.Max(y0, y1)

	for i, ov := range fig.Overlays {
		segments, err := proj.project(ov)
		if err != nil {
			return nil, fmt.Errorf("overlay %d: %w", i, err)
		}
		if err := addOverlay(p, ov, segments); err != nil {
			return nil, fmt.Errorf("overlay %d: %w", i, err)
		}
	}
	return p, nil
}

func addOverlay(p *plot.Plot, ov Overlay, segments []plotter.XYs) error {
	c := ov.Color
	if c == nil {
		c = color.Black
	}
	for _, seg := range segments {
		switch ov.Style {
		case StyleScatter:
			s, err := plotter.NewScatter(seg)
			if err != nil {
				return err
			}
			s.GlyphStyle.Color = c
			s.GlyphStyle.Radius = vg.Points(2.5)
			s.GlyphStyle.Shape = draw.CircleGlyph{}
			p.Add(s)
		default:
			if len(seg) < 2 {
				continue
			}
			l, err := plotter.NewLine(seg)
			if err != nil {
				return err
			}
			l.LineStyle.Color = c
			l.LineStyle.Width = vg.Points(1)
			p.Add(l)
		}
	}
	return nil
}

// rasterGrid adapts a map to plotter.GridXYZ in projected axis units.
type rasterGrid struct {
	m    *solar.Map
	z    []float64
	proj *projector
}

func (g *rasterGrid) Dims() (c, r int)   { return g.m.NX, g.m.NY }
func (g *rasterGrid) Z(c, r int) float64 { return g.z[r*g.m.NX+c] }
func (g *rasterGrid) X(c int) float64    { return g.proj.x(float64(c)) }
func (g *rasterGrid) Y(r int) float64    { return g.proj.y(float64(r)) }

// logScale maps intensities to log10, flooring non-positive pixels.
func logScale(data []float64) []float64 {
	_, hi := minMax(data)
	floor := math.Max(hi*1e-4, 1e-6)
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = math.Log10(math.Max(v, floor))
	}
	return out
}

func minMax(data []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		return 0, 1
	}
	if lo == hi {
		hi = lo + 1
	}
	return lo, hi
}
