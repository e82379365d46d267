package pfss

import (
	"math"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/solar"
)

// Output is a solved model. It is read-only once returned by a Solver.
//
// Layouts, with i the fastest index:
//
//	Phi  [NR][NS][NPhi]    cell centres
//	Br   [NR+1][NS][NPhi]  radial faces
//	Bt   [NR][NS+1][NPhi]  sine-latitude faces, colatitude component
//	Bp   [NR][NS][NPhi]    longitude faces
type Output struct {
	Grid  Grid
	Frame solar.Frame

	Phi []float64
	Br  []float64
	Bt  []float64
	Bp  []float64

	input *Input
}

func newOutput(in *Input, phi []float64) *Output {
	g := in.Grid
	nr, ns, np := g.NR, g.NS, g.NPhi
	o := &Output{
		Grid:  g,
		Frame: in.Frame,
		Phi:   phi,
		Br:    make([]float64, (nr+1)*ns*np),
		Bt:    make([]float64, nr*(ns+1)*np),
		Bp:    make([]float64, nr*ns*np),
		input: in,
	}
	at := func(k, j, i int) float64 { return phi[(k*ns+j)*np+i] }

	// Br = -(1/r) dPhi/drho. The photosphere carries the boundary data
	// itself; above the top centre the potential is mirrored to zero.
	copy(o.Br[:ns*np], in.Br)
	for k := 1; k <= nr; k++ {
		inv := math.Exp(-g.RhoFace(k)) / g.DR
		for j := 0; j < ns; j++ {
			for i := 0; i < np; i++ {
				upper := -at(nr-1, j, i)
				if k < nr {
					upper = at(k, j, i)
				}
				o.Br[(k*ns+j)*np+i] = -(upper - at(k-1, j, i)) * inv
			}
		}
	}

	// Bt = sqrt(1-s^2)/r dPhi/ds, zero on the polar faces.
	for k := 0; k < nr; k++ {
		rc := math.Exp(g.RhoCentre(k))
		for j := 1; j < ns; j++ {
			f := math.Sqrt(1-g.SFace(j)*g.SFace(j)) / (rc * g.DS)
			for i := 0; i < np; i++ {
				o.Bt[(k*(ns+1)+j)*np+i] = (at(k, j, i) - at(k, j-1, i)) * f
			}
		}
	}

	// Bp = -1/(r sqrt(1-s^2)) dPhi/dphi, periodic in phi.
	for k := 0; k < nr; k++ {
		rc := math.Exp(g.RhoCentre(k))
		for j := 0; j < ns; j++ {
			sc := g.SCentre(j)
			f := 1 / (rc * math.Sqrt(1-sc*sc) * g.DPhi)
			for i := 0; i < np; i++ {
				prev := (i + np - 1) % np
				o.Bp[(k*ns+j)*np+i] = -(at(k, j, i) - at(k, j, prev)) * f
			}
		}
	}
	return o
}

// BAt returns (Br, Btheta, Bphi) at radius r (solar radii), latitude and
// Carrington longitude (radians), interpolating each staggered component
// trilinearly. Points outside [1, RSS] are clamped to the boundary.
func (o *Output) BAt(r, lat, lon float64) (br, bt, bp float64) {
	g := o.Grid
	rho := math.Log(math.Max(1, math.Min(g.RSS, r)))
	s := math.Sin(lat)
	phi := g.Phi(lon)

	fk := rho / g.DR
	fj := (s+1)/g.DS - 0.5
	fi := phi/g.DPhi - 0.5
	br = interp3(o.Br, g.NR+1, g.NS, g.NPhi, fk, fj, fi)

	fk = rho/g.DR - 0.5
	bt = interp3(o.Bt, g.NR, g.NS+1, g.NPhi, fk, fj+0.5, fi)
	bp = interp3(o.Bp, g.NR, g.NS, g.NPhi, fk, fj, fi+0.5)
	return br, bt, bp
}

// BCartesian returns the field in Carrington Cartesian axes at (x, y, z),
// with z along the rotation axis and x towards Carrington longitude 0.
func (o *Output) BCartesian(x, y, z float64) (bx, by, bz float64) {
	r := math.Sqrt(x*x + y*y + z*z)
	if r == 0 {
		return 0, 0, 0
	}
	lat := math.Asin(z / r)
	lon := math.Atan2(y, x)
	br, bt, bp := o.BAt(r, lat, lon)

	sl, cl := math.Sin(lat), math.Cos(lat)
	sp, cp := math.Sin(lon), math.Cos(lon)
	bx = br*cl*cp + bt*sl*cp - bp*sp
	by = br*cl*sp + bt*sl*sp + bp*cp
	bz = br*sl - bt*cl
	return bx, by, bz
}

// SourceSurfaceBr returns Br on the source surface as a Carrington map.
func (o *Output) SourceSurfaceBr() (*solar.Map, error) {
	return o.radialSlice(o.Grid.NR)
}

// PhotosphereBr returns Br on the inner boundary; it equals the input field.
func (o *Output) PhotosphereBr() (*solar.Map, error) {
	return o.radialSlice(0)
}

func (o *Output) radialSlice(k int) (*solar.Map, error) {
	n := o.Grid.NS * o.Grid.NPhi
	data := make([]float64, n)
	copy(data, o.Br[k*n:(k+1)*n])
	return o.input.Map(data)
}

// interp3 samples a [nk][nj][ni] array at fractional indices, clamping k
// and j to the array and wrapping i periodically.
func interp3(data []float64, nk, nj, ni int, fk, fj, fi float64) float64 {
	k0, tk := clampIndex(fk, nk)
	j0, tj := clampIndex(fj, nj)

	fi = math.Mod(fi, float64(ni))
	if fi < 0 {
		fi += float64(ni)
	}
	i0 := int(math.Floor(fi))
	ti := fi - float64(i0)
	i0 %= ni
	i1 := (i0 + 1) % ni

	k1, j1 := min(k0+1, nk-1), min(j0+1, nj-1)
	v := func(k, j, i int) float64 { return data[(k*nj+j)*ni+i] }

	c00 := v(k0, j0, i0)*(1-ti) + v(k0, j0, i1)*ti
	c01 := v(k0, j1, i0)*(1-ti) + v(k0, j1, i1)*ti
	c10 := v(k1, j0, i0)*(1-ti) + v(k1, j0, i1)*ti
	c11 := v(k1, j1, i0)*(1-ti) + v(k1, j1, i1)*ti
	c0 := c00*(1-tj) + c01*tj
	c1 := c10*(1-tj) + c11*tj
	return c0*(1-tk) + c1*tk
}

func clampIndex(f float64, n int) (int, float64) {
	if n == 1 || f <= 0 {
		return 0, 0
	}
	if f >= float64(n-1) {
		return n - 2, 1
	}
	i := int(math.Floor(f))
	return i, f - float64(i)
}
