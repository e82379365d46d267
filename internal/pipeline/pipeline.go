// Package pipeline runs the PFSS workflow end to end: acquire the
// observation image and magnetogram, preprocess, solve the potential field,
// seed and trace field lines, and draw the figures.
package pipeline

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/export"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/fetch"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/pfss"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/render"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/solar"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/tracing"
)

// Catalogue names of the two inputs.
const (
	ImageSource       = "aia_193"
	MagnetogramSource = "gong_synoptic"
)

// Figure keys in Result.Figures.
const (
	FigureMagnetogram   = "magnetogram"
	FigureSourceSurface = "source_surface"
	FigureImage         = "image"
)

// Stage names a pipeline step for error reporting.
type Stage string

const (
	StageConfig     Stage = "config"
	StageAcquire    Stage = "acquire"
	StageRead       Stage = "read"
	StagePreprocess Stage = "preprocess"
	StageInput      Stage = "input"
	StageSolve      Stage = "solve"
	StageSeeds      Stage = "seeds"
	StageTrace      Stage = "trace"
	StageRender     Stage = "render"
)

// StageError reports the step that failed. errors.Is still matches the
// wrapped taxonomy sentinel.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

func fail(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Result holds everything one run produced.
type Result struct {
	RunID       uuid.UUID
	Image       *solar.Map // resampled observation image
	Magnetogram *solar.Map // mean-subtracted magnetogram
	Input       *pfss.Input
	Output      *pfss.Output
	Seeds       tracing.Seeds
	Lines       []tracing.FieldLine
	Figures     map[string][]byte // PNG bytes keyed by Figure* name
	Summary     export.RunSummary
}

// Pipeline wires the steps together. New fills every field; callers may
// swap Solver or Tracer for another backend.
type Pipeline struct {
	Config  *common.Config
	Fetcher *fetch.Fetcher
	Solver  pfss.Solver
	Tracer  tracing.Tracer
	Logger  *slog.Logger
	Stats   *common.Stats
}

// New builds a pipeline with the default backends.
func New(cfg *common.Config, logger *slog.Logger, stats *common.Stats) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if stats == nil {
		stats = common.NewStats()
	}
	return &Pipeline{
		Config:  cfg,
		Fetcher: fetch.New(cfg.DataDir, 5*time.Minute, logger),
		Solver:  pfss.NewFDSolver(cfg.Model.Workers, logger, stats),
		Tracer:  tracing.NewRK4Tracer(cfg.Tracer, logger, stats),
		Logger:  logger,
		Stats:   stats,
	}
}

// Run validates the configuration, acquires both inputs and processes them.
// Nothing is downloaded when the configuration is invalid.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if err := p.Config.Validate(); err != nil {
		return nil, fail(StageConfig, err)
	}
	paths, err := p.Fetcher.FetchAll(ctx, ImageSource, MagnetogramSource)
	if err != nil {
		return nil, fail(StageAcquire, err)
	}
	return p.Process(ctx, paths[ImageSource], paths[MagnetogramSource])
}

// Process runs every step after acquisition on local FITS files.
func (p *Pipeline) Process(ctx context.Context, imagePath, magPath string) (*Result, error) {
	cfg := p.Config
	if err := cfg.Validate(); err != nil {
		return nil, fail(StageConfig, err)
	}
	log := p.Logger

	runID, err := export.NewRunID()
	if err != nil {
		return nil, fail(StageConfig, err)
	}
	res := &Result{RunID: runID, Figures: make(map[string][]byte)}

	image, err := solar.ReadFITS(imagePath)
	if err != nil {
		return nil, fail(StageRead, err)
	}
	mag, err := solar.ReadFITS(magPath)
	if err != nil {
		return nil, fail(StageRead, err)
	}
	log.Info("inputs loaded",
		"image", fmt.Sprintf("%dx%d %s", image.NX, image.NY, image.Frame),
		"magnetogram", fmt.Sprintf("%dx%d %s", mag.NX, mag.NY, mag.Frame))

	if res.Magnetogram, err = solar.SubtractMean(mag); err != nil {
		return nil, fail(StagePreprocess, err)
	}
	if res.Image, err = resampleImage(image, cfg.Image); err != nil {
		return nil, fail(StagePreprocess, err)
	}
	st := solar.Describe(res.Magnetogram)
	log.Debug("magnetogram preprocessed", "min", st.Min, "max", st.Max, "mean", st.Mean, "std", st.Std)

	if res.Input, err = pfss.NewInput(res.Magnetogram, cfg.Model.NR, cfg.Model.RSS); err != nil {
		return nil, fail(StageInput, err)
	}
	g := res.Input.Grid
	log.Info("model configured", "nr", g.NR, "ns", g.NS, "nphi", g.NPhi, "rss", g.RSS)

	solveStart := time.Now()
	if res.Output, err = p.Solver.Solve(ctx, res.Input); err != nil {
		return nil, fail(StageSolve, err)
	}
	solveTime := time.Since(solveStart)

	// Seeds share the model's frame so the tracer accepts them.
	grid := tracing.SeedGridFromConfig(cfg.Seeds)
	if res.Seeds, err = tracing.GenerateSeeds(grid, res.Input.Frame); err != nil {
		return nil, fail(StageSeeds, err)
	}

	traceStart := time.Now()
	if res.Lines, err = p.Tracer.Trace(ctx, res.Seeds, res.Output); err != nil {
		return nil, fail(StageTrace, err)
	}
	traceTime := time.Since(traceStart)

	res.Summary = export.Summarize(runID, res.Input.Frame.ObsTime, res.Lines)
	res.Summary.MagnetogramFile = filepath.Base(magPath)
	res.Summary.ImageFile = filepath.Base(imagePath)
	res.Summary.NR, res.Summary.NS, res.Summary.NPhi, res.Summary.RSS = g.NR, g.NS, g.NPhi, g.RSS
	res.Summary.SolveSeconds = solveTime.Seconds()
	res.Summary.TraceSeconds = traceTime.Seconds()
	log.Info("field lines traced",
		"lines", res.Summary.Lines, "open", res.Summary.Open, "closed", res.Summary.Closed,
		"solve", solveTime.Round(time.Millisecond), "trace", traceTime.Round(time.Millisecond))

	if err := p.drawFigures(res); err != nil {
		return nil, fail(StageRender, err)
	}
	return res, nil
}

func resampleImage(m *solar.Map, c common.ImageConfig) (*solar.Map, error) {
	if c.ResampleX == 0 || c.ResampleY == 0 {
		return m, nil
	}
	// Never upsample a small image.
	nx, ny := min(c.ResampleX, m.NX), min(c.ResampleY, m.NY)
	return solar.Resample(m, nx, ny)
}

var (
	colorOpenPositive = color.RGBA{R: 200, G: 30, B: 30, A: 255}
	colorOpenNegative = color.RGBA{R: 30, G: 60, B: 200, A: 255}
	colorClosed       = color.Black
	colorSeeds        = color.RGBA{G: 160, A: 255}
)

func lineColor(l tracing.FieldLine) color.Color {
	switch {
	case !l.IsOpen:
		return colorClosed
	case l.Polarity > 0:
		return colorOpenPositive
	default:
		return colorOpenNegative
	}
}

func (p *Pipeline) drawFigures(res *Result) error {
	cfg := p.Config.Image
	frame := res.Seeds.Frame

	lines := make([]render.Overlay, 0, len(res.Lines))
	for _, l := range res.Lines {
		lines = append(lines, render.Overlay{Coords: l.Coords, Frame: frame, Color: lineColor(l)})
	}
	seeds := render.Overlay{Coords: res.Seeds.Coords, Frame: frame, Style: render.StyleScatter, Color: colorSeeds}

	ss, err := res.Output.SourceSurfaceBr()
	if err != nil {
		return err
	}
	var footpoints []solar.SphericalCoord
	for _, l := range res.Lines {
		if l.IsOpen {
			footpoints = append(footpoints, l.SourceSurfaceFootpoint)
		}
	}

	figs := map[string]render.Figure{
		FigureMagnetogram: {
			Title:    "Input magnetogram",
			Map:      res.Magnetogram,
			Overlays: append(append([]render.Overlay{}, lines...), seeds),
		},
		FigureSourceSurface: {
			Title: fmt.Sprintf("Source surface Br (%.2g Rsun)", res.Output.Grid.RSS),
			Map:   ss,
			Overlays: []render.Overlay{
				{Coords: footpoints, Frame: frame, Style: render.StyleScatter, Color: colorSeeds},
			},
		},
		FigureImage: {
			Title:    "Observation with field lines",
			Map:      res.Image,
			Overlays: lines,
		},
	}
	for _, name := range []string{FigureMagnetogram, FigureSourceSurface, FigureImage} {
		png, err := render.Render(figs[name], cfg.FigureWidth, cfg.FigureHeight)
		if err != nil {
			return fmt.Errorf("%s figure: %w", name, err)
		}
		res.Figures[name] = png
		p.Logger.Debug("figure rendered", "name", name, "bytes", len(png))
	}
	return nil
}
