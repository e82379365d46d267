// Package pfss solves the potential field source surface model.
//
// The domain 1 <= r <= RSS is discretised on a grid uniform in
// rho = ln(r), s = sin(latitude) and Carrington longitude phi. The scalar
// potential lives on cell centres and the field B = -grad(Phi) on cell
// faces, so the discrete divergence of B is zero in every cell.
package pfss

import "math"

// Grid describes the (rho, s, phi) mesh. Face index k runs 0..NR,
// centre index k runs 0..NR-1, and likewise for s and phi.
type Grid struct {
	NR   int
	NS   int
	NPhi int
	RSS  float64

	DR   float64 // rho spacing, ln(RSS)/NR
	DS   float64 // sine-latitude spacing, 2/NS
	DPhi float64 // longitude spacing in radians, 2*pi/NPhi

	// LonOrigin is the Carrington longitude of phi = 0, radians.
	LonOrigin float64
}

// NewGrid builds a grid spanning the full sphere out to rss.
func NewGrid(nr, ns, nphi int, rss, lonOrigin float64) Grid {
	return Grid{
		NR:        nr,
		NS:        ns,
		NPhi:      nphi,
		RSS:       rss,
		DR:        math.Log(rss) / float64(nr),
		DS:        2 / float64(ns),
		DPhi:      2 * math.Pi / float64(nphi),
		LonOrigin: lonOrigin,
	}
}

// RhoFace is ln(r) at radial face k.
func (g Grid) RhoFace(k int) float64 { return float64(k) * g.DR }

// RhoCentre is ln(r) at radial centre k.
func (g Grid) RhoCentre(k int) float64 { return (float64(k) + 0.5) * g.DR }

// SFace is sine latitude at face j; SFace(0) = -1, SFace(NS) = 1.
func (g Grid) SFace(j int) float64 { return -1 + float64(j)*g.DS }

// SCentre is sine latitude at centre j.
func (g Grid) SCentre(j int) float64 { return -1 + (float64(j)+0.5)*g.DS }

// PhiFace is the longitude offset of face i.
func (g Grid) PhiFace(i int) float64 { return float64(i) * g.DPhi }

// PhiCentre is the longitude offset of centre i.
func (g Grid) PhiCentre(i int) float64 { return (float64(i) + 0.5) * g.DPhi }

// Phi converts a Carrington longitude (radians) to a grid offset in [0, 2*pi).
func (g Grid) Phi(lon float64) float64 {
	p := math.Mod(lon-g.LonOrigin, 2*math.Pi)
	if p < 0 {
		p += 2 * math.Pi
	}
	return p
}

// Cells returns the number of potential samples.
func (g Grid) Cells() int { return g.NR * g.NS * g.NPhi }
