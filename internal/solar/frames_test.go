package solar

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
)

func TestFrameFromHeader_DateAndTimeCards(t *testing.T) {
	hdr := NewHeader()
	hdr.Set("DATE-OBS", "2019-03-10")
	hdr.Set("TIME-OBS", "00:14")

	f, err := FrameFromHeader(hdr, WCS{CType: [2]string{"CRLN-CEA", "CRLT-CEA"}})
	require.NoError(t, err)
	assert.Equal(t, FrameCarrington, f.Name)
	assert.True(t, f.ObsTime.Equal(time.Date(2019, 3, 10, 0, 14, 0, 0, time.UTC)))
	assert.Nil(t, f.Observer)
}

func TestFrameFromHeader_HelioprojectiveNeedsObserver(t *testing.T) {
	hdr := NewHeader()
	hdr.Set("DATE-OBS", "2019-03-10T00:00:04.57")

	_, err := FrameFromHeader(hdr, WCS{CType: [2]string{"HPLN-TAN", "HPLT-TAN"}})
	assert.ErrorIs(t, err, common.ErrMalformedInput)
}

func TestFrameFromHeader_MissingDate(t *testing.T) {
	_, err := FrameFromHeader(NewHeader(), WCS{CType: [2]string{"CRLN-CEA", "CRLT-CEA"}})
	assert.ErrorIs(t, err, common.ErrMalformedInput)
}

func TestFrame_Compatible(t *testing.T) {
	a := Frame{Name: FrameCarrington, ObsTime: epoch}
	assert.True(t, a.Compatible(Frame{Name: FrameCarrington, ObsTime: epoch.In(time.FixedZone("x", 3600))}))
	assert.False(t, a.Compatible(Frame{Name: FrameStonyhurst, ObsTime: epoch}))
	assert.False(t, a.Compatible(Frame{Name: FrameCarrington, ObsTime: epoch.Add(time.Hour)}))
}

func TestHelioprojective_DiskCentreAndLimb(t *testing.T) {
	obs := &Observer{HGLon: 0, HGLat: 0, Dist: 1.496e11, CarrLon: 90}

	// Disk centre: Carrington longitude equal to the observer's.
	tx, ty, vis := Helioprojective(SphericalCoord{Lon: 90 * deg, Lat: 0, R: 1}, obs)
	assert.InDelta(t, 0, tx, 1e-6)
	assert.InDelta(t, 0, ty, 1e-6)
	assert.True(t, vis)

	// Just inside the west limb sits at about the solar angular radius.
	rsun := math.Asin(RadiusMeters/obs.Dist) / deg * 3600
	tx, _, vis = Helioprojective(SphericalCoord{Lon: 179 * deg, Lat: 0, R: 1}, obs)
	assert.InDelta(t, rsun, tx, 1.0)
	assert.True(t, vis)

	// Far side is hidden.
	_, _, vis = Helioprojective(SphericalCoord{Lon: 270 * deg, Lat: 0, R: 1}, obs)
	assert.False(t, vis)

	// Off-limb loop top behind the limb but high enough is visible.
	_, _, vis = Helioprojective(SphericalCoord{Lon: 185 * deg, Lat: 0, R: 2}, obs)
	assert.True(t, vis)
}

func TestHeliocentric_NorthPoleTiltsWithB0(t *testing.T) {
	obs := &Observer{HGLat: 7.25, Dist: 1.496e11}
	_, y, z := Heliocentric(SphericalCoord{Lat: math.Pi / 2, R: 1}, obs)
	assert.Greater(t, z, 0.0, "north pole visible for positive B0")
	assert.InDelta(t, RadiusMeters*math.Cos(7.25*deg), y, 1)
}
