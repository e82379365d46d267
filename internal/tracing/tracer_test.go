package tracing

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/pfss"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/solar"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func solveMap(t *testing.T, m *solar.Map, nr int, rss float64) *pfss.Output {
	t.Helper()
	in, err := pfss.NewInput(m, nr, rss)
	require.NoError(t, err)
	out, err := pfss.NewFDSolver(2, quietLogger(), nil).Solve(context.Background(), in)
	require.NoError(t, err)
	return out
}

func newTracer(workers int) *RK4Tracer {
	return &RK4Tracer{MaxSteps: 5000, Workers: workers, Logger: quietLogger()}
}

// axisymmetric l=1 field, Br = sin(lat) on the photosphere
func dipoleSolution(t *testing.T) *pfss.Output {
	t.Helper()
	m := solar.NewCarringtonMap(16, 48, epoch, func(_, s float64) float64 { return s })
	return solveMap(t, m, 20, 2.5)
}

func seedAt(lonDeg, sinLat, r float64) Seeds {
	return Seeds{
		Coords: []solar.SphericalCoord{{Lon: lonDeg * math.Pi / 180, Lat: math.Asin(sinLat), R: r}},
		Frame:  carrington,
	}
}

func TestTrace_DipolePairConnects(t *testing.T) {
	field := solar.DipolePair(90, 0.3, 150, 0.3, 50, 10)
	m := solar.NewCarringtonMap(36, 18, epoch, field)
	m, err := solar.SubtractMean(m)
	require.NoError(t, err)
	out := solveMap(t, m, 10, 2.5)

	lines, err := newTracer(1).Trace(context.Background(), seedAt(90, 0.3, 1.01), out)
	require.NoError(t, err)
	require.Len(t, lines, 1)

	l := lines[0]
	require.Greater(t, len(l.Coords), 2, "line must not be degenerate")
	first, last := l.Coords[0], l.Coords[len(l.Coords)-1]
	r := func(c solar.SphericalCoord) float64 { return c.R }
	assert.NotEqual(t, toCartesian(first), toCartesian(last))

	// Forward follows B out of the positive spot.
	require.Contains(t, []Termination{TermPhotosphere, TermSourceSurface}, l.End)
	pos := solar.SphericalCoord{Lon: 90 * math.Pi / 180, Lat: math.Asin(0.3), R: 1}
	neg := solar.SphericalCoord{Lon: 150 * math.Pi / 180, Lat: math.Asin(0.3), R: 1}
	if l.End == TermPhotosphere {
		assert.InDelta(t, 1, r(last), 1e-9)
		assert.Less(t, solar.AngularDistance(last, neg), solar.AngularDistance(last, pos),
			"closed line should land nearer the negative spot")
	} else {
		assert.InDelta(t, 2.5, r(last), 1e-9)
	}
}

func TestTrace_OpenAndClosed(t *testing.T) {
	out := dipoleSolution(t)
	seeds := Seeds{Frame: carrington, Coords: []solar.SphericalCoord{
		{Lon: 1, Lat: math.Asin(0.95), R: 1.01},  // north polar cap
		{Lon: 2, Lat: math.Asin(0.1), R: 1.01},   // low latitude loop
		{Lon: 3, Lat: math.Asin(-0.95), R: 1.01}, // south polar cap
	}}

	lines, err := newTracer(1).Trace(context.Background(), seeds, out)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	north, loop, south := lines[0], lines[1], lines[2]

	assert.True(t, north.IsOpen)
	assert.Equal(t, 1, north.Polarity)
	assert.Equal(t, TermPhotosphere, north.Start)
	assert.Equal(t, TermSourceSurface, north.End)
	assert.InDelta(t, 2.5, north.SourceSurfaceFootpoint.R, 1e-9)
	assert.InDelta(t, 1, north.SolarFootpoint.R, 1e-9)
	assert.Greater(t, north.ExpansionFactor, 0.0)
	assert.False(t, math.IsNaN(north.ExpansionFactor))

	assert.False(t, loop.IsOpen)
	assert.Zero(t, loop.Polarity)
	assert.Equal(t, TermPhotosphere, loop.Start)
	assert.Equal(t, TermPhotosphere, loop.End)
	assert.True(t, math.IsNaN(loop.ExpansionFactor))
	assert.Equal(t, solar.SphericalCoord{}, loop.SourceSurfaceFootpoint)

	assert.True(t, south.IsOpen)
	assert.Equal(t, -1, south.Polarity)
	assert.Equal(t, TermSourceSurface, south.Start)
	assert.Equal(t, TermPhotosphere, south.End)

	// Open lines stay in their hemisphere; the loop crosses the equator.
	for _, c := range north.Coords {
		assert.Greater(t, c.Lat, 0.0)
	}
	assert.Less(t, loop.Coords[len(loop.Coords)-1].Lat, 0.0)
}

func TestTrace_OrderAndCount(t *testing.T) {
	out := dipoleSolution(t)
	seeds, err := GenerateSeeds(SeedGridFromConfig(common.DefaultConfig().Seeds), carrington)
	require.NoError(t, err)

	lines, err := newTracer(4).Trace(context.Background(), seeds, out)
	require.NoError(t, err)
	require.Len(t, lines, seeds.Len())
	for i, l := range lines {
		assert.Equal(t, seeds.Coords[i], l.Seed(), "line %d", i)
		for _, c := range l.Coords {
			assert.GreaterOrEqual(t, c.R, 1-1e-9)
			assert.LessOrEqual(t, c.R, 2.5+1e-9)
		}
	}
}

func TestTrace_Deterministic(t *testing.T) {
	out := dipoleSolution(t)
	seeds, err := GenerateSeeds(SeedGrid{
		SinLatMin: -0.8, SinLatMax: 0.8, LonMinDeg: 0, LonMaxDeg: 300, NLat: 6, NLon: 4, R: 1.05,
	}, carrington)
	require.NoError(t, err)

	a, err := newTracer(1).Trace(context.Background(), seeds, out)
	require.NoError(t, err)
	b, err := newTracer(1).Trace(context.Background(), seeds, out)
	require.NoError(t, err)
	c, err := newTracer(5).Trace(context.Background(), seeds, out)
	require.NoError(t, err)

	if diff := cmp.Diff(a, b, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("repeat trace differs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(a, c, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("worker count changed result (-1 worker +5 workers):\n%s", diff)
	}
}

func TestTrace_FrameMismatch(t *testing.T) {
	out := dipoleSolution(t)

	seeds := seedAt(10, 0.5, 1.01)
	seeds.Frame.ObsTime = epoch.AddDate(0, 0, 1)
	_, err := newTracer(1).Trace(context.Background(), seeds, out)
	require.ErrorIs(t, err, common.ErrFrameMismatch)

	seeds = seedAt(10, 0.5, 1.01)
	seeds.Frame.Name = solar.FrameStonyhurst
	_, err = newTracer(1).Trace(context.Background(), seeds, out)
	require.ErrorIs(t, err, common.ErrFrameMismatch)
}

func TestTrace_InvalidSeeds(t *testing.T) {
	out := dipoleSolution(t)

	for _, r := range []float64{0.9, 2.6, math.NaN()} {
		_, err := newTracer(1).Trace(context.Background(), seedAt(10, 0.5, r), out)
		require.ErrorIs(t, err, common.ErrInvalidConfig, "r=%g", r)
	}

	tr := newTracer(1)
	tr.MaxSteps = 0
	_, err := tr.Trace(context.Background(), seedAt(10, 0.5, 1.01), out)
	require.ErrorIs(t, err, common.ErrInvalidConfig)

	tr = newTracer(1)
	tr.Step = -0.1
	_, err = tr.Trace(context.Background(), seedAt(10, 0.5, 1.01), out)
	require.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestTrace_NullField(t *testing.T) {
	m := solar.NewCarringtonMap(16, 8, epoch, func(float64, float64) float64 { return 0 })
	out := solveMap(t, m, 4, 2.5)

	lines, err := newTracer(1).Trace(context.Background(), seedAt(45, 0.2, 1.5), out)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Len(t, lines[0].Coords, 1)
	assert.Equal(t, TermNullField, lines[0].Start)
	assert.Equal(t, TermNullField, lines[0].End)
	assert.False(t, lines[0].IsOpen)
}

func TestTrace_MaxSteps(t *testing.T) {
	out := dipoleSolution(t)
	tr := &RK4Tracer{MaxSteps: 3, Step: 0.001, Workers: 1, Logger: quietLogger()}

	lines, err := tr.Trace(context.Background(), seedAt(0, 0.95, 1.5), out)
	require.NoError(t, err)
	assert.Equal(t, TermMaxSteps, lines[0].Start)
	assert.Equal(t, TermMaxSteps, lines[0].End)
	assert.Len(t, lines[0].Coords, 7)
}

func TestTrace_Stats(t *testing.T) {
	out := dipoleSolution(t)
	stats := common.NewStats()
	tr := NewRK4Tracer(common.TracerConfig{MaxSteps: 100, Workers: 2}, quietLogger(), stats)

	seeds, err := GenerateSeeds(SeedGridFromConfig(common.DefaultConfig().Seeds), carrington)
	require.NoError(t, err)
	_, err = tr.Trace(context.Background(), seeds, out)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), stats.GetLinesTraced())
	assert.Greater(t, stats.GetStepsTaken(), uint64(25))
}

func TestTrace_Cancelled(t *testing.T) {
	out := dipoleSolution(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTracer(2).Trace(ctx, seedAt(10, 0.5, 1.01), out)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClip(t *testing.T) {
	p := vec3{0, 0, 2.4}
	q := vec3{0, 0, 2.6}
	assert.InDelta(t, 2.5, clip(p, q, 2.5, true).norm(), 1e-12)
	assert.InDelta(t, 2.5, clip(p, q, 2.5, true)[2], 1e-12)

	p = vec3{1.02, 0, 0}
	q = vec3{0.98, 0.01, 0}
	c := clip(p, q, 1, false)
	assert.InDelta(t, 1, c.norm(), 1e-12)
	assert.Greater(t, c[0], 0.98)
	assert.Less(t, c[0], 1.02)
}
