package common

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// Stats holds atomic counters for solve and trace telemetry
type Stats struct {
	ModesSolved uint64 // Atomic counter for azimuthal wavenumbers solved
	ModesTotal  uint64 // Wavenumbers in the current solve
	LinesTraced uint64 // Atomic counter for field lines finished
	StepsTaken  uint64 // Atomic counter for RK4 steps integrated

	// Internal state for reporter
	running   atomic.Bool
	stopCh    chan struct{}
	silent    bool
	out       io.Writer
	lastSteps uint64
	lastTime  time.Time

	// Moving average window for step-rate calculation
	rateWindow     []float64
	rateWindowSize int
	rateIndex      int
}

// NewStats creates a new Stats instance
func NewStats() *Stats {
	return &Stats{
		out:            os.Stdout,
		rateWindow:     make([]float64, 10), // 10-sample moving average (5 seconds)
		rateWindowSize: 10,
	}
}

// SetModesTotal records how many wavenumbers the current solve covers
func (s *Stats) SetModesTotal(n uint64) {
	atomic.StoreUint64(&s.ModesTotal, n)
}

// AddModes atomically increments the solved wavenumber counter
func (s *Stats) AddModes(count uint64) {
	atomic.AddUint64(&s.ModesSolved, count)
}

// AddLines atomically increments the traced line counter
func (s *Stats) AddLines(count uint64) {
	atomic.AddUint64(&s.LinesTraced, count)
}

// AddSteps atomically increments the integration step counter
func (s *Stats) AddSteps(count uint64) {
	atomic.AddUint64(&s.StepsTaken, count)
}

// GetModesSolved atomically reads the solved wavenumber counter
func (s *Stats) GetModesSolved() uint64 {
	return atomic.LoadUint64(&s.ModesSolved)
}

// GetLinesTraced atomically reads the traced line counter
func (s *Stats) GetLinesTraced() uint64 {
	return atomic.LoadUint64(&s.LinesTraced)
}

// GetStepsTaken atomically reads the integration step counter
func (s *Stats) GetStepsTaken() uint64 {
	return atomic.LoadUint64(&s.StepsTaken)
}

// SetSilent enables or disables silent mode
func (s *Stats) SetSilent(silent bool) {
	s.silent = silent
}

// SetOutput redirects progress lines (default stdout)
func (s *Stats) SetOutput(w io.Writer) {
	s.out = w
}

// StartReporter starts a background goroutine that prints progress
// every 500ms using newline-based output to avoid conflicts with log.Printf
func (s *Stats) StartReporter() {
	if s.running.Load() {
		return // Already running
	}

	s.running.Store(true)
	s.lastTime = time.Now()
	s.lastSteps = s.GetStepsTaken()
	s.stopCh = make(chan struct{})

	go s.reporterLoop(s.stopCh)
}

// StopReporter stops the background reporter goroutine
func (s *Stats) StopReporter() {
	if !s.running.Load() {
		return
	}

	s.running.Store(false)
	close(s.stopCh)
}

func (s *Stats) reporterLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.printStatus(time.Now())
		}
	}
}

// printStatus prints one progress line: solve coverage, lines traced and
// the smoothed integration rate in thousands of steps per second
func (s *Stats) printStatus(now time.Time) {
	if s.silent {
		return
	}

	elapsed := now.Sub(s.lastTime).Seconds()
	if elapsed < 0.001 {
		// Avoid division by zero on first tick
		return
	}

	steps := s.GetStepsTaken()
	ksps := (float64(steps-s.lastSteps) / 1000) / elapsed

	s.rateWindow[s.rateIndex] = ksps
	s.rateIndex = (s.rateIndex + 1) % s.rateWindowSize

	fmt.Fprintf(s.out, "[Progress] Solve: %d/%d modes | Trace: %d lines | Steps: %.1f k/s (avg: %.1f)\n",
		s.GetModesSolved(),
		atomic.LoadUint64(&s.ModesTotal),
		s.GetLinesTraced(),
		ksps,
		s.smoothedRate(),
	)

	s.lastSteps = steps
	s.lastTime = now
}

// smoothedRate averages the non-zero samples of the rate window
func (s *Stats) smoothedRate() float64 {
	var sum float64
	var count int
	for _, v := range s.rateWindow {
		if v > 0 {
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// Reset resets all counters (useful for testing or restarting)
func (s *Stats) Reset() {
	atomic.StoreUint64(&s.ModesSolved, 0)
	atomic.StoreUint64(&s.ModesTotal, 0)
	atomic.StoreUint64(&s.LinesTraced, 0)
	atomic.StoreUint64(&s.StepsTaken, 0)
	s.lastSteps = 0
	s.lastTime = time.Now()

	for i := range s.rateWindow {
		s.rateWindow[i] = 0
	}
	s.rateIndex = 0
}
