package solar

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
)

// FrameName identifies a solar coordinate frame.
type FrameName string

const (
	FrameCarrington      FrameName = "carrington"
	FrameStonyhurst      FrameName = "stonyhurst"
	FrameHelioprojective FrameName = "helioprojective"
)

// Observer is the position of the instrument, taken from *_OBS keywords.
type Observer struct {
	HGLon   float64 // Stonyhurst longitude, degrees (HGLN_OBS)
	HGLat   float64 // Stonyhurst latitude, degrees (HGLT_OBS), also B0
	Dist    float64 // distance from Sun centre, metres (DSUN_OBS)
	CarrLon float64 // Carrington longitude, degrees (CRLN_OBS)
}

// Frame is a coordinate frame at an epoch, optionally with an observer.
type Frame struct {
	Name     FrameName
	ObsTime  time.Time
	Observer *Observer
}

// Compatible reports whether two frames share name and epoch.
func (f Frame) Compatible(o Frame) bool {
	return f.Name == o.Name && f.ObsTime.Equal(o.ObsTime)
}

func (f Frame) String() string {
	return fmt.Sprintf("%s@%s", f.Name, f.ObsTime.UTC().Format(time.RFC3339))
}

var timeLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
}

func parseObsTime(h *Header) (time.Time, error) {
	raw, ok := h.String("DATE-OBS")
	if !ok || raw == "" {
		if raw, ok = h.String("T_OBS"); !ok || raw == "" {
			return time.Time{}, fmt.Errorf("%w: missing DATE-OBS", common.ErrMalformedInput)
		}
	}
	raw = strings.TrimSuffix(strings.TrimSuffix(raw, "_TAI"), "Z")
	if !strings.ContainsAny(raw, "T ") {
		if tobs, ok := h.String("TIME-OBS"); ok && tobs != "" {
			raw = raw + "T" + tobs
		}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable DATE-OBS %q", common.ErrMalformedInput, raw)
}

// FrameFromHeader derives the map frame from CTYPE1 and the *_OBS cards.
func FrameFromHeader(h *Header, w WCS) (Frame, error) {
	t, err := parseObsTime(h)
	if err != nil {
		return Frame{}, err
	}

	f := Frame{ObsTime: t}
	switch {
	case strings.HasPrefix(w.CType[0], "CRLN"):
		f.Name = FrameCarrington
	case strings.HasPrefix(w.CType[0], "HGLN"):
		f.Name = FrameStonyhurst
	case strings.HasPrefix(w.CType[0], "HPLN"):
		f.Name = FrameHelioprojective
	default:
		return Frame{}, fmt.Errorf("%w: unknown frame for CTYPE1 %q", common.ErrMalformedInput, w.CType[0])
	}

	if dsun, ok := h.Float("DSUN_OBS"); ok {
		obs := &Observer{Dist: dsun}
		obs.HGLon, _ = h.Float("HGLN_OBS")
		if lat, ok := h.Float("HGLT_OBS"); ok {
			obs.HGLat = lat
		} else {
			obs.HGLat, _ = h.Float("CRLT_OBS")
		}
		obs.CarrLon, _ = h.Float("CRLN_OBS")
		f.Observer = obs
	}
	if f.Name == FrameHelioprojective && f.Observer == nil {
		return Frame{}, fmt.Errorf("%w: helioprojective map without DSUN_OBS", common.ErrMalformedInput)
	}
	return f, nil
}

// CarringtonToStonyhurst shifts a Carrington longitude (radians) into the
// Stonyhurst frame of the observer.
func CarringtonToStonyhurst(lon float64, obs *Observer) float64 {
	return lon - (obs.CarrLon-obs.HGLon)*deg
}

// Heliocentric converts a Stonyhurst point to heliocentric Cartesian metres,
// with z towards the observer and y towards solar north in the image plane.
func Heliocentric(c SphericalCoord, obs *Observer) (x, y, z float64) {
	r := c.R * RadiusMeters
	dl := c.Lon - obs.HGLon*deg
	b0 := obs.HGLat * deg
	sl, cl := math.Sin(c.Lat), math.Cos(c.Lat)

	x = r * cl * math.Sin(dl)
	y = r * (sl*math.Cos(b0) - cl*math.Cos(dl)*math.Sin(b0))
	z = r * (sl*math.Sin(b0) + cl*math.Cos(dl)*math.Cos(b0))
	return x, y, z
}

// Helioprojective converts a Carrington coordinate into (Tx, Ty) arcsec as
// seen by obs. visible is false when the Sun occults the point.
func Helioprojective(c SphericalCoord, obs *Observer) (tx, ty float64, visible bool) {
	c.Lon = CarringtonToStonyhurst(c.Lon, obs)
	x, y, z := Heliocentric(c, obs)

	dz := obs.Dist - z
	d := math.Sqrt(x*x + y*y + dz*dz)
	tx = math.Atan2(x, dz) / deg * 3600
	ty = math.Asin(y/d) / deg * 3600
	return tx, ty, !occulted(x, y, z, obs.Dist)
}

// occulted tests whether the segment observer -> point crosses the solar
// sphere before reaching the point.
func occulted(x, y, z, dist float64) bool {
	// Ray O + t*(P-O), O = (0, 0, dist), t in (0, 1).
	dx, dy, dz := x, y, z-dist
	a := dx*dx + dy*dy + dz*dz
	b := 2 * dist * dz
	c := dist*dist - RadiusMeters*RadiusMeters
	disc := b*b - 4*a*c
	if disc < 0 {
		return false
	}
	t := (-b - math.Sqrt(disc)) / (2 * a)
	return t > 0 && t < 1-1e-9
}
