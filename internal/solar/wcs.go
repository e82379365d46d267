package solar

import (
	"fmt"
	"math"
	"strings"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
)

// Projection is the FITS WCS projection code (last part of CTYPEi).
type Projection string

const (
	ProjCAR Projection = "CAR" // plate carrée
	ProjCEA Projection = "CEA" // cylindrical equal area, y ∝ sin(lat)
	ProjTAN Projection = "TAN" // gnomonic, used by helioprojective images
)

const deg = math.Pi / 180

// WCS is a two-axis celestial WCS. Pixel coordinates are 0-based;
// world coordinates are degrees for CAR/CEA and arcsec for TAN.
type WCS struct {
	CType [2]string
	CRPix [2]float64
	CRVal [2]float64
	CDelt [2]float64
	PC    [2][2]float64
	Proj  Projection

	// Lambda is the CEA scale parameter PV2_1.
	Lambda float64

	// unit converts world units to degrees (1/3600 for arcsec).
	unit float64
}

// NewWCS reads CTYPE/CRPIX/CRVAL/CDELT (+ CROTA2 or PCi_j) from a header.
func NewWCS(h *Header) (WCS, error) {
	w := WCS{Lambda: 1, unit: 1, PC: [2][2]float64{{1, 0}, {0, 1}}}

	for i := 0; i < 2; i++ {
		n := i + 1
		ct, ok := h.String(fmt.Sprintf("CTYPE%d", n))
		if !ok || ct == "" {
			return WCS{}, fmt.Errorf("%w: missing CTYPE%d", common.ErrMalformedInput, n)
		}
		w.CType[i] = strings.ToUpper(ct)

		for _, key := range []struct {
			name string
			dst  *float64
		}{
			{"CRPIX", &w.CRPix[i]},
			{"CRVAL", &w.CRVal[i]},
			{"CDELT", &w.CDelt[i]},
		} {
			v, ok := h.Float(fmt.Sprintf("%s%d", key.name, n))
			if !ok {
				return WCS{}, fmt.Errorf("%w: missing %s%d", common.ErrMalformedInput, key.name, n)
			}
			*key.dst = v
		}
	}
	if w.CDelt[0] == 0 || w.CDelt[1] == 0 {
		return WCS{}, fmt.Errorf("%w: zero CDELT", common.ErrMalformedInput)
	}

	p1, p2 := projectionOf(w.CType[0]), projectionOf(w.CType[1])
	if p1 != p2 {
		return WCS{}, fmt.Errorf("%w: mixed projections %s/%s", common.ErrMalformedInput, w.CType[0], w.CType[1])
	}
	switch p1 {
	case ProjCAR, ProjCEA, ProjTAN:
		w.Proj = p1
	default:
		return WCS{}, fmt.Errorf("%w: unsupported projection %q", common.ErrMalformedInput, w.CType[0])
	}

	if u, ok := h.String("CUNIT1"); ok && strings.EqualFold(u, "arcsec") {
		w.unit = 1.0 / 3600
	} else if w.Proj == ProjTAN && !ok {
		// Helioprojective images default to arcsec.
		w.unit = 1.0 / 3600
	}

	if pv, ok := h.Float("PV2_1"); ok && pv != 0 {
		w.Lambda = pv
	}

	// GONG synoptic maps store CDELT2 in sine-latitude rather than degrees.
	if w.Proj == ProjCEA {
		if ny, ok := h.Float("NAXIS2"); ok && math.Abs(w.CDelt[1])*ny <= 2.0001 {
			w.CDelt[1] *= 180 / math.Pi
		}
	}

	hasPC := false
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if v, ok := h.Float(fmt.Sprintf("PC%d_%d", i+1, j+1)); ok {
				w.PC[i][j] = v
				hasPC = true
			}
		}
	}
	if !hasPC {
		if rot, ok := h.Float("CROTA2"); ok && rot != 0 {
			c, s := math.Cos(rot*deg), math.Sin(rot*deg)
			ratio := w.CDelt[1] / w.CDelt[0]
			w.PC = [2][2]float64{{c, -s * ratio}, {s / ratio, c}}
		}
	}
	return w, nil
}

func projectionOf(ctype string) Projection {
	if i := strings.LastIndex(ctype, "-"); i >= 0 {
		return Projection(ctype[i+1:])
	}
	return ""
}

// Linear returns the world value along one axis ignoring projection and
// rotation: CRVAL + CDELT*(p+1-CRPIX). Figures use it for axis values.
func (w WCS) Linear(axis int, p float64) float64 {
	return w.CRVal[axis] + w.CDelt[axis]*(p+1-w.CRPix[axis])
}

// LinearToPixel inverts Linear.
func (w WCS) LinearToPixel(axis int, v float64) float64 {
	return (v-w.CRVal[axis])/w.CDelt[axis] + w.CRPix[axis] - 1
}

// intermediate applies PC and CDELT: pixel -> projection plane (world units).
func (w WCS) intermediate(x, y float64) (float64, float64) {
	dx, dy := x+1-w.CRPix[0], y+1-w.CRPix[1]
	return w.CDelt[0] * (w.PC[0][0]*dx + w.PC[0][1]*dy),
		w.CDelt[1] * (w.PC[1][0]*dx + w.PC[1][1]*dy)
}

func (w WCS) fromIntermediate(ix, iy float64) (float64, float64, bool) {
	a, b := ix/w.CDelt[0], iy/w.CDelt[1]
	det := w.PC[0][0]*w.PC[1][1] - w.PC[0][1]*w.PC[1][0]
	if det == 0 {
		return 0, 0, false
	}
	dx := (w.PC[1][1]*a - w.PC[0][1]*b) / det
	dy := (-w.PC[1][0]*a + w.PC[0][0]*b) / det
	return dx + w.CRPix[0] - 1, dy + w.CRPix[1] - 1, true
}

// PixelToWorld converts a 0-based pixel to (lon, lat) in world units.
func (w WCS) PixelToWorld(x, y float64) (float64, float64) {
	ix, iy := w.intermediate(x, y)
	switch w.Proj {
	case ProjCEA:
		s := w.Lambda * iy * deg
		s = math.Max(-1, math.Min(1, s))
		return ix + w.CRVal[0], math.Asin(s) / deg
	case ProjTAN:
		lon, lat := tanToCelestial(ix*w.unit, iy*w.unit, w.CRVal[0]*w.unit, w.CRVal[1]*w.unit)
		return lon / w.unit, lat / w.unit
	default:
		return ix + w.CRVal[0], iy + w.CRVal[1]
	}
}

// WorldToPixel converts (lon, lat) in world units to a 0-based pixel.
// ok is false for points the projection cannot represent.
func (w WCS) WorldToPixel(lon, lat float64) (float64, float64, bool) {
	var ix, iy float64
	switch w.Proj {
	case ProjCEA:
		ix = lon - w.CRVal[0]
		iy = math.Sin(lat*deg) / (w.Lambda * deg)
	case ProjTAN:
		var ok bool
		ix, iy, ok = celestialToTan(lon*w.unit, lat*w.unit, w.CRVal[0]*w.unit, w.CRVal[1]*w.unit)
		if !ok {
			return 0, 0, false
		}
		ix, iy = ix/w.unit, iy/w.unit
	default:
		ix = lon - w.CRVal[0]
		iy = lat - w.CRVal[1]
	}
	return w.fromIntermediate(ix, iy)
}

// Cylindrical reports whether the map is a CAR or CEA synoptic projection.
func (w WCS) Cylindrical() bool {
	return w.Proj == ProjCAR || w.Proj == ProjCEA
}

// tanToCelestial deprojects gnomonic plane coordinates (degrees) to
// spherical coordinates with the reference point at (lon0, lat0).
func tanToCelestial(x, y, lon0, lat0 float64) (float64, float64) {
	rTheta := math.Hypot(x, y)
	phi := math.Atan2(x, -y)
	theta := math.Pi / 2
	if rTheta > 0 {
		theta = math.Atan(180 / (math.Pi * rTheta))
	}

	// Native pole at phi_p = 180 deg for zenithal projections.
	dphi := phi - math.Pi
	sd0, cd0 := math.Sin(lat0*deg), math.Cos(lat0*deg)
	st, ct := math.Sin(theta), math.Cos(theta)

	lon := lon0*deg + math.Atan2(-ct*math.Sin(dphi), st*cd0-ct*sd0*math.Cos(dphi))
	lat := math.Asin(st*sd0 + ct*cd0*math.Cos(dphi))
	return lon / deg, lat / deg
}

// celestialToTan is the inverse of tanToCelestial.
func celestialToTan(lon, lat, lon0, lat0 float64) (float64, float64, bool) {
	dl := (lon - lon0) * deg
	sd, cd := math.Sin(lat*deg), math.Cos(lat*deg)
	sd0, cd0 := math.Sin(lat0*deg), math.Cos(lat0*deg)

	phi := math.Pi + math.Atan2(-cd*math.Sin(dl), sd*cd0-cd*sd0*math.Cos(dl))
	theta := math.Asin(sd*sd0 + cd*cd0*math.Cos(dl))
	if theta <= 0 {
		return 0, 0, false
	}
	rTheta := 180 / math.Pi / math.Tan(theta)
	return rTheta * math.Sin(phi), -rTheta * math.Cos(phi), true
}
