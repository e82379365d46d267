package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/pfss"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/solar"
)

// Tracer integrates one field line per seed through a solution.
// Implementations return lines in seed order.
type Tracer interface {
	Trace(ctx context.Context, seeds Seeds, out *pfss.Output) ([]FieldLine, error)
}

// Termination records why one end of a line stopped.
type Termination int

const (
	TermPhotosphere Termination = iota
	TermSourceSurface
	TermNullField
	TermMaxSteps
)

func (t Termination) String() string {
	switch t {
	case TermPhotosphere:
		return "photosphere"
	case TermSourceSurface:
		return "source_surface"
	case TermNullField:
		return "null_field"
	case TermMaxSteps:
		return "max_steps"
	}
	return fmt.Sprintf("termination(%d)", int(t))
}

// FieldLine is a traced path from its backward end, through the seed, to
// its forward end. Forward follows the direction of B.
type FieldLine struct {
	Coords  []solar.SphericalCoord
	SeedPos int // index of the seed within Coords

	Start, End Termination

	IsOpen   bool
	Polarity int // +1 outward, -1 inward at the photosphere; 0 when closed

	SolarFootpoint         solar.SphericalCoord
	SourceSurfaceFootpoint solar.SphericalCoord // zero for closed lines

	// ExpansionFactor is (1/RSS)^2 |B(1)| / |B(RSS)| along open lines, NaN otherwise.
	ExpansionFactor float64
}

// Seed returns the starting coordinate.
func (l FieldLine) Seed() solar.SphericalCoord { return l.Coords[l.SeedPos] }

// RK4Tracer integrates dx/ds = B/|B| with a fixed-step fourth order
// Runge-Kutta scheme in Cartesian Carrington coordinates.
type RK4Tracer struct {
	Step     float64 // solar radii; 0 picks min(0.01*(RSS-1), DR/2)
	MaxSteps int     // per direction
	Workers  int     // 0 = runtime.NumCPU()
	Stats    *common.Stats
	Logger   *slog.Logger
}

// NewRK4Tracer builds a tracer from the tracer configuration block.
func NewRK4Tracer(cfg common.TracerConfig, logger *slog.Logger, stats *common.Stats) *RK4Tracer {
	return &RK4Tracer{
		Step:     cfg.StepSize,
		MaxSteps: cfg.MaxSteps,
		Workers:  cfg.Workers,
		Stats:    stats,
		Logger:   logger,
	}
}

type vec3 [3]float64

func (a vec3) add(b vec3, s float64) vec3 {
	return vec3{a[0] + s*b[0], a[1] + s*b[1], a[2] + s*b[2]}
}

func (a vec3) dot(b vec3) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func (a vec3) norm() float64 { return math.Sqrt(a.dot(a)) }

func toCartesian(c solar.SphericalCoord) vec3 {
	cl := math.Cos(c.Lat)
	return vec3{c.R * cl * math.Cos(c.Lon), c.R * cl * math.Sin(c.Lon), c.R * math.Sin(c.Lat)}
}

func toSpherical(p vec3) solar.SphericalCoord {
	r := p.norm()
	lon := math.Atan2(p[1], p[0])
	if lon < 0 {
		lon += 2 * math.Pi
	}
	return solar.SphericalCoord{Lon: lon, Lat: math.Asin(math.Max(-1, math.Min(1, p[2]/r))), R: r}
}

// Trace validates the seeds against the solution and traces every seed.
func (t *RK4Tracer) Trace(ctx context.Context, seeds Seeds, out *pfss.Output) ([]FieldLine, error) {
	if out == nil {
		return nil, fmt.Errorf("%w: nil solution", common.ErrInvalidConfig)
	}
	if !seeds.Frame.Compatible(out.Frame) {
		return nil, fmt.Errorf("%w: seeds in %s, model in %s", common.ErrFrameMismatch, seeds.Frame, out.Frame)
	}
	rss := out.Grid.RSS
	for i, s := range seeds.Coords {
		if !(s.R >= 1 && s.R <= rss) {
			return nil, fmt.Errorf("%w: seed %d at r=%g outside [1, %g]", common.ErrInvalidConfig, i, s.R, rss)
		}
	}
	if t.MaxSteps < 1 {
		return nil, fmt.Errorf("%w: max steps must be >= 1", common.ErrInvalidConfig)
	}
	step := t.Step
	if step == 0 {
		step = math.Min(0.01*(rss-1), out.Grid.DR/2)
	}
	if !(step > 0) || math.IsInf(step, 0) {
		return nil, fmt.Errorf("%w: step size %g", common.ErrInvalidConfig, step)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := t.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	n := seeds.Len()
	start := time.Now()
	logger.Info("tracing field lines", "seeds", n, "step", step, "workers", workers)

	lines := make([]FieldLine, n)
	errs := make([]error, n)
	w := &walker{out: out, step: step, maxSteps: t.MaxSteps, stats: t.Stats}

	// Sequential for small seed sets, chunked otherwise.
	if n < 2*workers || workers == 1 {
		w.traceRange(ctx, seeds.Coords, lines, errs, 0, n)
	} else {
		chunkSize := (n + workers - 1) / workers
		var wg sync.WaitGroup
		for workerID := 0; workerID < workers; workerID++ {
			lo := workerID * chunkSize
			hi := min(lo+chunkSize, n)
			if lo >= n {
				break
			}
			wg.Add(1)
			go func(lo, hi int) {
				defer wg.Done()
				w.traceRange(ctx, seeds.Coords, lines, errs, lo, hi)
			}(lo, hi)
		}
		wg.Wait()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	open := 0
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("%w: seed %d: %w", common.ErrTracer, i, err)
		}
		if lines[i].IsOpen {
			open++
		}
	}
	logger.Info("traced field lines", "lines", n, "open", open, "elapsed", time.Since(start).Round(time.Millisecond))
	return lines, nil
}

// walker holds the per-trace constants shared by all workers.
type walker struct {
	out      *pfss.Output
	step     float64
	maxSteps int
	stats    *common.Stats
}

func (w *walker) traceRange(ctx context.Context, seeds []solar.SphericalCoord, lines []FieldLine, errs []error, lo, hi int) {
	for i := lo; i < hi; i++ {
		if ctx.Err() != nil {
			return
		}
		lines[i], errs[i] = w.traceOne(seeds[i])
		if w.stats != nil {
			w.stats.AddLines(1)
		}
	}
}

func (w *walker) traceOne(seed solar.SphericalCoord) (FieldLine, error) {
	p0 := toCartesian(seed)
	back, startTerm, err := w.integrate(p0, -1)
	if err != nil {
		return FieldLine{}, err
	}
	fwd, endTerm, err := w.integrate(p0, 1)
	if err != nil {
		return FieldLine{}, err
	}

	coords := make([]solar.SphericalCoord, 0, len(back)+1+len(fwd))
	for i := len(back) - 1; i >= 0; i-- {
		coords = append(coords, toSpherical(back[i]))
	}
	coords = append(coords, seed)
	for _, p := range fwd {
		coords = append(coords, toSpherical(p))
	}

	line := FieldLine{
		Coords:          coords,
		SeedPos:         len(back),
		Start:           startTerm,
		End:             endTerm,
		ExpansionFactor: math.NaN(),
	}
	w.classify(&line)
	return line, nil
}

// classify fills the topology metadata from the two terminations.
func (w *walker) classify(l *FieldLine) {
	first, last := l.Coords[0], l.Coords[len(l.Coords)-1]
	startSS, endSS := l.Start == TermSourceSurface, l.End == TermSourceSurface
	l.IsOpen = startSS != endSS

	switch {
	case !l.IsOpen:
		l.SolarFootpoint = first
		return
	case endSS:
		// B points away from the Sun along the line.
		l.Polarity = 1
		l.SolarFootpoint, l.SourceSurfaceFootpoint = first, last
	default:
		l.Polarity = -1
		l.SolarFootpoint, l.SourceSurfaceFootpoint = last, first
	}

	b1 := w.fieldStrength(l.SolarFootpoint)
	bss := w.fieldStrength(l.SourceSurfaceFootpoint)
	if bss > 0 {
		rss := w.out.Grid.RSS
		l.ExpansionFactor = b1 / bss / (rss * rss)
	}
}

func (w *walker) fieldStrength(c solar.SphericalCoord) float64 {
	br, bt, bp := w.out.BAt(c.R, c.Lat, c.Lon)
	return math.Sqrt(br*br + bt*bt + bp*bp)
}

// direction returns the unit field vector times dir, or ok=false in a null.
func (w *walker) direction(p vec3, dir float64) (vec3, bool, error) {
	bx, by, bz := w.out.BCartesian(p[0], p[1], p[2])
	b := vec3{bx, by, bz}
	n := b.norm()
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return vec3{}, false, fmt.Errorf("non-finite field at r=%g", p.norm())
	}
	if n == 0 {
		return vec3{}, false, nil
	}
	return vec3{dir * bx / n, dir * by / n, dir * bz / n}, true, nil
}

// integrate steps from p0 along dir*B until a boundary, a null or the
// step limit. The seed itself is not included in the returned points.
func (w *walker) integrate(p0 vec3, dir float64) ([]vec3, Termination, error) {
	rss := w.out.Grid.RSS
	h := w.step
	var pts []vec3
	p := p0
	steps := 0
	defer func() {
		if w.stats != nil {
			w.stats.AddSteps(uint64(steps))
		}
	}()

	for steps < w.maxSteps {
		k1, ok, err := w.direction(p, dir)
		if err != nil || !ok {
			return pts, TermNullField, err
		}
		k2, ok, err := w.direction(p.add(k1, h/2), dir)
		if err != nil || !ok {
			return pts, TermNullField, err
		}
		k3, ok, err := w.direction(p.add(k2, h/2), dir)
		if err != nil || !ok {
			return pts, TermNullField, err
		}
		k4, ok, err := w.direction(p.add(k3, h), dir)
		if err != nil || !ok {
			return pts, TermNullField, err
		}

		next := p
		for i := 0; i < 3; i++ {
			next[i] += h / 6 * (k1[i] + 2*k2[i] + 2*k3[i] + k4[i])
		}
		steps++

		r := next.norm()
		switch {
		case r < 1:
			return append(pts, clip(p, next, 1, false)), TermPhotosphere, nil
		case r > rss:
			return append(pts, clip(p, next, rss, true)), TermSourceSurface, nil
		}
		pts = append(pts, next)
		p = next
	}
	return pts, TermMaxSteps, nil
}

// clip returns the point where the segment p->q crosses the sphere of
// the given radius, projected exactly onto it. outward selects the exit
// root (p inside the sphere) over the entry root (p outside).
func clip(p, q vec3, radius float64, outward bool) vec3 {
	d := vec3{q[0] - p[0], q[1] - p[1], q[2] - p[2]}
	a := d.dot(d)
	b := 2 * p.dot(d)
	c := p.dot(p) - radius*radius

	t := 1.0
	if disc := b*b - 4*a*c; a > 0 && disc >= 0 {
		sq := math.Sqrt(disc)
		if outward {
			t = (-b + sq) / (2 * a)
		} else {
			t = (-b - sq) / (2 * a)
		}
		t = math.Max(0, math.Min(1, t))
	}
	x := p.add(d, t)
	s := radius / x.norm()
	return vec3{x[0] * s, x[1] * s, x[2] * s}
}
