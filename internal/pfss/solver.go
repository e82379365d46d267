package pfss

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
)

// Solver turns an input descriptor into a field solution.
type Solver interface {
	Solve(ctx context.Context, in *Input) (*Output, error)
}

// FDSolver is the finite-difference solver. The potential is expanded in
// Fourier modes along phi and in the eigenvectors of the discrete s
// operator, leaving one tridiagonal radial system per (l, m) pair.
type FDSolver struct {
	Workers int // 0 = runtime.NumCPU()
	Logger  *slog.Logger
	Stats   *common.Stats
}

// NewFDSolver creates a solver with numWorkers goroutines (0 = auto-detect).
func NewFDSolver(numWorkers int, logger *slog.Logger, stats *common.Stats) *FDSolver {
	return &FDSolver{Workers: numWorkers, Logger: logger, Stats: stats}
}

// modeStripe holds the spectral potential for one wavenumber m:
// phiHat[k*NS+j], before the inverse FFT along phi.
type modeStripe []complex128

// Solve computes the potential and the staggered face fields.
func (s *FDSolver) Solve(ctx context.Context, in *Input) (*Output, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: nil input", common.ErrInvalidConfig)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := s.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	g := in.Grid
	nm := g.NPhi/2 + 1
	if s.Stats != nil {
		s.Stats.SetModesTotal(uint64(nm))
	}
	start := time.Now()
	logger.Info("pfss solve", "nr", g.NR, "ns", g.NS, "nphi", g.NPhi, "rss", g.RSS, "workers", workers)

	// Boundary field in Fourier space, normalised so Sequence inverts it.
	brHat := make([][]complex128, g.NS)
	fft := fourier.NewFFT(g.NPhi)
	scale := complex(1/float64(g.NPhi), 0)
	for j := 0; j < g.NS; j++ {
		row := fft.Coefficients(nil, in.Br[j*g.NPhi:(j+1)*g.NPhi])
		for m := range row {
			row[m] *= scale
		}
		brHat[j] = row
	}

	stripes := make([]modeStripe, nm)
	errs := make([]error, nm)

	// Contiguous chunks of wavenumbers per worker; every m owns its stripe.
	chunkSize := (nm + workers - 1) / workers
	var wg sync.WaitGroup
	for workerID := 0; workerID < workers; workerID++ {
		lo := workerID * chunkSize
		hi := min(lo+chunkSize, nm)
		if lo >= nm {
			break
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for m := lo; m < hi; m++ {
				if ctx.Err() != nil {
					return
				}
				stripes[m], errs[m] = solveMode(g, m, brHat)
				if s.Stats != nil {
					s.Stats.AddModes(1)
				}
			}
		}(lo, hi)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for m, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("%w: mode m=%d: %w", common.ErrSolver, m, err)
		}
	}

	phi := synthesize(g, stripes, workers)
	out := newOutput(in, phi)
	logger.Info("pfss solved", "modes", nm, "elapsed", time.Since(start).Round(time.Millisecond))
	return out, nil
}

// solveMode solves every (l, m) radial system for one wavenumber and
// returns the potential back in s space.
func solveMode(g Grid, m int, brHat [][]complex128) (modeStripe, error) {
	ns, nr := g.NS, g.NR
	mu := 2 * math.Sin(math.Pi*float64(m)/float64(g.NPhi)) / g.DPhi
	mu *= mu

	// -A, where A is the flux-form s operator including the phi term.
	op := mat.NewSymDense(ns, nil)
	for j := 0; j < ns; j++ {
		sf0, sf1, sc := g.SFace(j), g.SFace(j+1), g.SCentre(j)
		w0, w1 := 1-sf0*sf0, 1-sf1*sf1
		op.SetSym(j, j, (w0+w1)/(g.DS*g.DS)+mu/(1-sc*sc))
		if j+1 < ns {
			op.SetSym(j, j+1, -w1/(g.DS*g.DS))
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(op, true) {
		return nil, fmt.Errorf("eigen decomposition did not converge")
	}
	lambda := eig.Values(nil)
	var q mat.Dense
	eig.VectorsTo(&q)

	// Project the boundary onto the eigenvectors.
	bl := make([]complex128, ns)
	for l := 0; l < ns; l++ {
		var acc complex128
		for j := 0; j < ns; j++ {
			acc += complex(q.At(j, l), 0) * brHat[j][m]
		}
		bl[l] = acc
	}

	// Radial solves, then back to s space.
	stripe := make(modeStripe, nr*ns)
	radial := make([]complex128, nr)
	sys := newRadialSystem(g)
	for l := 0; l < ns; l++ {
		sys.solve(math.Max(lambda[l], 0), bl[l], radial)
		for k := 0; k < nr; k++ {
			if radial[k] == 0 {
				continue
			}
			row := stripe[k*ns : (k+1)*ns]
			for j := 0; j < ns; j++ {
				row[j] += complex(q.At(j, l), 0) * radial[k]
			}
		}
	}
	return stripe, nil
}

// radialSystem holds the fixed radial coefficients and Thomas scratch.
type radialSystem struct {
	g      Grid
	a, c   []float64 // sub/super diagonal weights e^{rho} on faces
	vol    []float64 // dr^2 e^{rho} at centres
	diag   []float64
	cPrime []float64
	dPrime []complex128
}

func newRadialSystem(g Grid) *radialSystem {
	nr := g.NR
	rs := &radialSystem{
		g:      g,
		a:      make([]float64, nr),
		c:      make([]float64, nr),
		vol:    make([]float64, nr),
		diag:   make([]float64, nr),
		cPrime: make([]float64, nr),
		dPrime: make([]complex128, nr),
	}
	for k := 0; k < nr; k++ {
		rs.a[k] = math.Exp(g.RhoFace(k))
		rs.c[k] = math.Exp(g.RhoFace(k + 1))
		rs.vol[k] = g.DR * g.DR * math.Exp(g.RhoCentre(k))
	}
	return rs
}

// solve fills x with the radial profile for eigenvalue lambda and
// boundary coefficient b. The bottom row carries the Neumann condition
// Br(1) = b, the top row the Dirichlet condition Phi(RSS) = 0.
func (rs *radialSystem) solve(lambda float64, b complex128, x []complex128) {
	nr := rs.g.NR
	for k := 0; k < nr; k++ {
		rs.diag[k] = -(rs.a[k] + rs.c[k]) - lambda*rs.vol[k]
	}
	rs.diag[0] += rs.a[0]
	rs.diag[nr-1] -= rs.c[nr-1]

	rhs0 := complex(-rs.a[0]*rs.g.DR, 0) * b

	// Thomas algorithm: sub-diagonal a[k] (k >= 1), super-diagonal c[k] (k < nr-1).
	if nr == 1 {
		x[0] = rhs0 / complex(rs.diag[0], 0)
		return
	}
	rs.cPrime[0] = rs.c[0] / rs.diag[0]
	rs.dPrime[0] = rhs0 / complex(rs.diag[0], 0)
	for k := 1; k < nr; k++ {
		den := rs.diag[k] - rs.a[k]*rs.cPrime[k-1]
		if k < nr-1 {
			rs.cPrime[k] = rs.c[k] / den
		}
		// Interior rows have a zero right-hand side.
		rs.dPrime[k] = -complex(rs.a[k], 0) * rs.dPrime[k-1] / complex(den, 0)
	}
	x[nr-1] = rs.dPrime[nr-1]
	for k := nr - 2; k >= 0; k-- {
		x[k] = rs.dPrime[k] - complex(rs.cPrime[k], 0)*x[k+1]
	}
}

// synthesize runs the inverse FFT for every (k, j) row of the potential.
func synthesize(g Grid, stripes []modeStripe, workers int) []float64 {
	nm := len(stripes)
	phi := make([]float64, g.Cells())
	rows := g.NR * g.NS

	chunkSize := (rows + workers - 1) / workers
	var wg sync.WaitGroup
	for workerID := 0; workerID < workers; workerID++ {
		lo := workerID * chunkSize
		hi := min(lo+chunkSize, rows)
		if lo >= rows {
			break
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fft := fourier.NewFFT(g.NPhi)
			coeff := make([]complex128, nm)
			for row := lo; row < hi; row++ {
				for m := 0; m < nm; m++ {
					coeff[m] = stripes[m][row]
				}
				fft.Sequence(phi[row*g.NPhi:(row+1)*g.NPhi], coeff)
			}
		}(lo, hi)
	}
	wg.Wait()
	return phi
}
