package pfss

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/solar"
)

var epoch = time.Date(2019, 3, 10, 0, 14, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dipoleMap(nx, ny int) *solar.Map {
	return solar.NewCarringtonMap(nx, ny, epoch, solar.DipolePair(90, 0.3, 150, 0.3, 20, 12))
}

func solve(t *testing.T, m *solar.Map, nr int, rss float64, workers int) *Output {
	t.Helper()
	in, err := NewInput(m, nr, rss)
	require.NoError(t, err)
	out, err := NewFDSolver(workers, quietLogger(), nil).Solve(context.Background(), in)
	require.NoError(t, err)
	return out
}

func TestNewInput_Validation(t *testing.T) {
	good := dipoleMap(36, 18)

	tests := []struct {
		name string
		m    *solar.Map
		nr   int
		rss  float64
		want error
	}{
		{"zero shells", good, 0, 2.5, common.ErrInvalidConfig},
		{"negative shells", good, -3, 2.5, common.ErrInvalidConfig},
		{"rss at photosphere", good, 10, 1, common.ErrInvalidConfig},
		{"rss below photosphere", good, 10, 0.5, common.ErrInvalidConfig},
		{"rss NaN", good, 10, math.NaN(), common.ErrInvalidConfig},
		{"nil map", nil, 10, 2.5, common.ErrMalformedInput},
		{"helioprojective map", solar.NewHelioprojectiveMap(16, epoch, 0, 0), 10, 2.5, common.ErrMalformedInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInput(tt.m, tt.nr, tt.rss)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewInput_PartialSphere(t *testing.T) {
	m := dipoleMap(36, 18)
	hdr := m.Header.Clone()
	hdr.Set("CDELT1", 5.0) // 180 degrees of longitude
	partial, err := solar.NewMap(m.NX, m.NY, m.Data, hdr)
	require.NoError(t, err)

	_, err = NewInput(partial, 10, 2.5)
	require.ErrorIs(t, err, common.ErrMalformedInput)
}

func TestNewInput_NonFinite(t *testing.T) {
	m := dipoleMap(36, 18)
	m.Data[7] = math.Inf(1)
	_, err := NewInput(m, 10, 2.5)
	require.ErrorIs(t, err, common.ErrMalformedInput)
}

func TestNewInput_CopiesData(t *testing.T) {
	m := dipoleMap(36, 18)
	in, err := NewInput(m, 10, 2.5)
	require.NoError(t, err)

	want := append([]float64(nil), in.Br...)
	for i := range m.Data {
		m.Data[i] = 0
	}
	assert.Equal(t, want, in.Br)
	assert.Equal(t, 36, in.Grid.NPhi)
	assert.Equal(t, 18, in.Grid.NS)
	assert.InDelta(t, 0, in.Grid.LonOrigin, 1e-12)
	assert.True(t, in.Frame.Compatible(m.Frame))
}

func TestNewInput_CARResampled(t *testing.T) {
	nx, ny := 24, 12
	hdr := solar.NewHeader()
	hdr.Set("CTYPE1", "CRLN-CAR")
	hdr.Set("CTYPE2", "CRLT-CAR")
	hdr.Set("CRPIX1", float64(nx)/2+0.5)
	hdr.Set("CRPIX2", float64(ny)/2+0.5)
	hdr.Set("CRVAL1", 180.0)
	hdr.Set("CRVAL2", 0.0)
	hdr.Set("CDELT1", 360/float64(nx))
	hdr.Set("CDELT2", 180/float64(ny))
	hdr.Set("DATE-OBS", "2019-03-10T00:14:00")

	// Br linear in latitude survives linear interpolation exactly inside the rows.
	data := make([]float64, nx*ny)
	for y := 0; y < ny; y++ {
		lat := -90 + (float64(y)+0.5)*180/float64(ny)
		for x := 0; x < nx; x++ {
			data[y*nx+x] = lat
		}
	}
	m, err := solar.NewMap(nx, ny, data, hdr)
	require.NoError(t, err)

	in, err := NewInput(m, 5, 2.5)
	require.NoError(t, err)
	for j := 1; j < in.Grid.NS-1; j++ {
		want := math.Asin(in.Grid.SCentre(j)) * 180 / math.Pi
		assert.InDelta(t, want, in.Br[j*in.Grid.NPhi], 1e-9, "row %d", j)
	}
}

func TestSolve_Deterministic(t *testing.T) {
	m := dipoleMap(36, 18)
	a := solve(t, m, 10, 2.5, 1)
	b := solve(t, m, 10, 2.5, 1)
	c := solve(t, m, 10, 2.5, 7)

	assert.Equal(t, a.Phi, b.Phi)
	assert.Equal(t, a.Br, b.Br)
	assert.Equal(t, a.Phi, c.Phi, "worker count must not change the result")
	assert.Equal(t, a.Bt, c.Bt)
	assert.Equal(t, a.Bp, c.Bp)
}

func TestSolve_PhotosphereMatchesInput(t *testing.T) {
	m := dipoleMap(36, 18)
	out := solve(t, m, 10, 2.5, 0)

	ph, err := out.PhotosphereBr()
	require.NoError(t, err)
	assert.Equal(t, m.Data, ph.Data)
	assert.Equal(t, solar.ProjCEA, ph.WCS.Proj)
	assert.True(t, ph.Frame.Compatible(m.Frame))

	// Pixel centres at r = 1 reproduce the boundary through interpolation.
	g := out.Grid
	for _, p := range [][2]int{{3, 4}, {10, 17}, {0, 0}, {17, 35}} {
		j, i := p[0], p[1]
		lat := math.Asin(g.SCentre(j))
		lon := g.LonOrigin + g.PhiCentre(i)
		br, _, _ := out.BAt(1, lat, lon)
		assert.InDelta(t, m.At(i, j), br, 1e-9)
	}
}

func TestSolve_ZeroField(t *testing.T) {
	m := solar.NewCarringtonMap(16, 8, epoch, func(float64, float64) float64 { return 0 })
	out := solve(t, m, 4, 2.0, 2)
	for _, v := range out.Phi {
		assert.Zero(t, v)
	}
	for _, v := range out.Br {
		assert.Zero(t, v)
	}
}

// The potential is built from face fluxes, so the net flux out of every
// cell vanishes up to round-off.
func TestSolve_DivergenceFree(t *testing.T) {
	m := dipoleMap(36, 18)
	out := solve(t, m, 10, 2.5, 3)
	g := out.Grid
	nr, ns, np := g.NR, g.NS, g.NPhi

	var bmax float64
	for _, v := range out.Br {
		bmax = math.Max(bmax, math.Abs(v))
	}
	require.Greater(t, bmax, 0.0)

	for k := 0; k < nr; k++ {
		r0, r1 := math.Exp(g.RhoFace(k)), math.Exp(g.RhoFace(k+1))
		for j := 0; j < ns; j++ {
			w0 := math.Sqrt(1 - g.SFace(j)*g.SFace(j))
			w1 := math.Sqrt(1 - g.SFace(j+1)*g.SFace(j+1))
			wc := math.Sqrt(1 - g.SCentre(j)*g.SCentre(j))
			for i := 0; i < np; i++ {
				next := (i + 1) % np
				// Fluxes per unit (drho ds dphi), divided by r_c^2.
				rc := math.Exp(g.RhoCentre(k))
				fr := (r1*r1*out.Br[((k+1)*ns+j)*np+i] - r0*r0*out.Br[(k*ns+j)*np+i]) / (rc * rc * g.DR)
				fs := -(w1*out.Bt[(k*(ns+1)+j+1)*np+i] - w0*out.Bt[(k*(ns+1)+j)*np+i]) / g.DS
				fp := (out.Bp[(k*ns+j)*np+next] - out.Bp[(k*ns+j)*np+i]) / (wc * g.DPhi)
				div := fr + fs + fp
				scale := math.Abs(fr) + math.Abs(fs) + math.Abs(fp) + bmax
				assert.Less(t, math.Abs(div)/scale, 1e-8, "cell (%d,%d,%d)", k, j, i)
			}
		}
	}
}

// An axisymmetric l=1 boundary has the closed-form PFSS decay
// Br(rss)/Br(1) = 3 rss^-3 / (2 + rss^-3).
func TestSolve_DipoleDecay(t *testing.T) {
	m := solar.NewCarringtonMap(8, 48, epoch, func(_, s float64) float64 { return s })
	rss := 2.5
	out := solve(t, m, 30, rss, 2)

	ss, err := out.SourceSurfaceBr()
	require.NoError(t, err)

	q := math.Pow(rss, -3)
	want := 3 * q / (2 + q)
	j := ss.NY - 1
	got := ss.At(0, j) / m.At(0, j)
	assert.InEpsilon(t, want, got, 0.05)

	// Axisymmetric input gives no azimuthal field.
	for _, v := range out.Bp {
		assert.InDelta(t, 0, v, 1e-9)
	}
}

func TestSolve_Cancelled(t *testing.T) {
	in, err := NewInput(dipoleMap(36, 18), 10, 2.5)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewFDSolver(2, quietLogger(), nil).Solve(ctx, in)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSolve_Stats(t *testing.T) {
	in, err := NewInput(dipoleMap(36, 18), 4, 2.5)
	require.NoError(t, err)

	stats := common.NewStats()
	_, err = NewFDSolver(3, quietLogger(), stats).Solve(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, uint64(19), stats.GetModesSolved())
}

func TestSolve_SingleShell(t *testing.T) {
	out := solve(t, dipoleMap(12, 6), 1, 2.5, 1)
	assert.Len(t, out.Phi, 12*6)
	assert.Len(t, out.Br, 2*12*6)
}

func TestBCartesian_PreservesMagnitude(t *testing.T) {
	m := solar.NewCarringtonMap(8, 48, epoch, func(_, s float64) float64 { return s })
	out := solve(t, m, 10, 2.5, 1)

	bx, by, bz := out.BCartesian(0.3, 0.2, 1.5)
	br, bt, bp := out.BAt(math.Sqrt(0.09+0.04+2.25), math.Asin(1.5/math.Sqrt(2.38)), math.Atan2(0.2, 0.3))
	assert.InDelta(t, br*br+bt*bt+bp*bp, bx*bx+by*by+bz*bz, 1e-12)

	bx, by, bz = out.BCartesian(0, 0, 0)
	assert.Zero(t, bx)
	assert.Zero(t, by)
	assert.Zero(t, bz)
}

func TestGrid(t *testing.T) {
	g := NewGrid(10, 20, 40, math.E, math.Pi/2)
	assert.InDelta(t, 0.1, g.DR, 1e-15)
	assert.InDelta(t, 0.1, g.DS, 1e-15)
	assert.Equal(t, -1.0, g.SFace(0))
	assert.InDelta(t, 1.0, g.SFace(20), 1e-15)
	assert.InDelta(t, 1.0, g.RhoFace(10), 1e-15)
	assert.InDelta(t, 0, g.Phi(math.Pi/2), 1e-15)
	assert.InDelta(t, 3*math.Pi/2, g.Phi(0), 1e-15)
	assert.Equal(t, 8000, g.Cells())
}
