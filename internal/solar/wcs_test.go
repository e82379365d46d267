package solar

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
)

var epoch = time.Date(2019, 3, 10, 0, 14, 0, 0, time.UTC)

func TestWCS_CEARoundTrip(t *testing.T) {
	m := NewCarringtonMap(360, 180, epoch, func(float64, float64) float64 { return 0 })

	lon, lat := m.WCS.PixelToWorld(0, 0)
	assert.InDelta(t, 0.5, lon, 1e-9)
	assert.InDelta(t, math.Asin(-1+1.0/180)*180/math.Pi, lat, 1e-9)

	for _, p := range [][2]float64{{10, 20}, {179.5, 89.5}, {359, 179}} {
		lon, lat := m.WCS.PixelToWorld(p[0], p[1])
		x, y, ok := m.WCS.WorldToPixel(lon, lat)
		require.True(t, ok)
		assert.InDelta(t, p[0], x, 1e-9)
		assert.InDelta(t, p[1], y, 1e-9)
	}
}

func TestWCS_GONGSineLatitudeQuirk(t *testing.T) {
	hdr := NewHeader()
	hdr.Set("CTYPE1", "CRLN-CEA")
	hdr.Set("CTYPE2", "CRLT-CEA")
	hdr.Set("CRPIX1", 180.5)
	hdr.Set("CRPIX2", 90.5)
	hdr.Set("CRVAL1", 180.0)
	hdr.Set("CRVAL2", 0.0)
	hdr.Set("CDELT1", 1.0)
	hdr.Set("CDELT2", 2.0/180) // sine-latitude units
	hdr.Set("NAXIS2", 180)

	w, err := NewWCS(hdr)
	require.NoError(t, err)

	_, lat := w.PixelToWorld(0, 179)
	assert.InDelta(t, math.Asin(1-1.0/180)*180/math.Pi, lat, 1e-9)
}

func TestWCS_TANRoundTrip(t *testing.T) {
	m := NewHelioprojectiveMap(128, epoch, 0, 0)

	tx, ty := m.WCS.PixelToWorld(63.5, 63.5)
	assert.InDelta(t, 0, tx, 1e-6)
	assert.InDelta(t, 0, ty, 1e-6)

	for _, p := range [][2]float64{{0, 0}, {100, 20}, {127, 127}} {
		tx, ty := m.WCS.PixelToWorld(p[0], p[1])
		x, y, ok := m.WCS.WorldToPixel(tx, ty)
		require.True(t, ok)
		assert.InDelta(t, p[0], x, 1e-6)
		assert.InDelta(t, p[1], y, 1e-6)
	}
}

func TestWCS_RotationRoundTrip(t *testing.T) {
	m := NewHelioprojectiveMap(64, epoch, 0, 0)
	m.Header.Set("CROTA2", 12.5)
	w, err := NewWCS(m.Header)
	require.NoError(t, err)

	tx, ty := w.PixelToWorld(10, 50)
	x, y, ok := w.WorldToPixel(tx, ty)
	require.True(t, ok)
	assert.InDelta(t, 10, x, 1e-6)
	assert.InDelta(t, 50, y, 1e-6)
}

func TestWCS_MissingKeywords(t *testing.T) {
	hdr := NewHeader()
	hdr.Set("CTYPE1", "CRLN-CEA")
	hdr.Set("CTYPE2", "CRLT-CEA")
	hdr.Set("CRPIX1", 1.0)

	_, err := NewWCS(hdr)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrMalformedInput)
}

func TestWCS_UnsupportedProjection(t *testing.T) {
	hdr := NewHeader()
	for k, v := range map[string]any{
		"CTYPE1": "HPLN-AZP", "CTYPE2": "HPLT-AZP",
		"CRPIX1": 1.0, "CRPIX2": 1.0, "CRVAL1": 0.0, "CRVAL2": 0.0, "CDELT1": 1.0, "CDELT2": 1.0,
	} {
		hdr.Set(k, v)
	}
	_, err := NewWCS(hdr)
	assert.ErrorIs(t, err, common.ErrMalformedInput)
}
