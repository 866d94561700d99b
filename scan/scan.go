/*Package scan runs pump-probe scans: a two dimensional sweep of pump power
(outer) and optical delay (inner), with a frame set captured and saved at
every point.

A scan runs on one worker and is stopped cooperatively.  Session.Stop sets
the run's StopFlag, which the worker checks before every point; a move or
capture already in progress always finishes first.
*/
package scan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/nasa-jpl/pumpprobe/acquisition"
	"github.com/nasa-jpl/pumpprobe/camera"
	"github.com/nasa-jpl/pumpprobe/persist"
	"github.com/nasa-jpl/pumpprobe/position"
	"github.com/nasa-jpl/pumpprobe/sweep"
	"github.com/nasa-jpl/pumpprobe/trace"
	"github.com/nasa-jpl/pumpprobe/util"
)

// SweepConfig is the configuration of one swept axis
type SweepConfig struct {
	Start float64 `koanf:"Start" yaml:"Start" json:"start"`
	Stop  float64 `koanf:"Stop" yaml:"Stop" json:"stop"`
	Step  float64 `koanf:"Step" yaml:"Step" json:"step"`

	// Tolerance is the settle tolerance of the axis, in its own units
	Tolerance float64 `koanf:"Tolerance" yaml:"Tolerance" json:"tolerance"`
}

// Axis returns the sweep of the axis
func (s SweepConfig) Axis() sweep.Axis {
	return sweep.Axis{Start: s.Start, Stop: s.Stop, Step: s.Step}
}

// Config is everything a scan needs besides the hardware
type Config struct {
	Delay SweepConfig `koanf:"Delay" yaml:"Delay" json:"delay"`

	// DelayExtra is a finer delay range merged into the delay grid, written
	// "start, step, stop".  Empty disables it.
	DelayExtra string `koanf:"DelayExtra" yaml:"DelayExtra" json:"delayExtra"`

	Power SweepConfig `koanf:"Power" yaml:"Power" json:"power"`

	Camera camera.Settings `koanf:"Camera" yaml:"Camera" json:"camera"`

	Output persist.Config `koanf:"Output" yaml:"Output" json:"output"`

	Trace trace.Config `koanf:"Trace" yaml:"Trace" json:"trace"`
}

// DefaultConfig sweeps delay 0..10 in steps of 1 at one power, with the
// tolerances of a typical delay line (mm) and waveplate rotator (deg)
var DefaultConfig = Config{
	Delay:  SweepConfig{Start: 0, Stop: 10, Step: 1, Tolerance: 5e-4},
	Power:  SweepConfig{Start: 0, Stop: 0, Step: 1, Tolerance: 1e-3},
	Camera: camera.Settings{Exposure: 100 * time.Millisecond, Binning: "1x1"},
	Output: persist.Config{Folder: "data", Name: "scan", Channels: persist.AllChannels, VisualFormat: "png", Overwrite: "ask"},
}

func tolerance(field string, v float64) error {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return &sweep.ConfigurationError{Field: field, Err: fmt.Errorf("tolerance must be positive, got %v", v)}
	}
	return nil
}

// Grids validates c and returns the power and delay grids
func (c Config) Grids() (power, delay []float64, err error) {
	if err = tolerance("delay.tolerance", c.Delay.Tolerance); err != nil {
		return
	}
	if err = tolerance("power.tolerance", c.Power.Tolerance); err != nil {
		return
	}
	delay, err = sweep.BuildGridString(c.Delay.Axis(), c.DelayExtra)
	if err != nil {
		var ce *sweep.ConfigurationError
		if errors.As(err, &ce) {
			ce.Field = "delay." + ce.Field
		}
		return nil, nil, err
	}
	power, err = sweep.BuildGrid(c.Power.Axis(), nil)
	if err != nil {
		var ce *sweep.ConfigurationError
		if errors.As(err, &ce) {
			ce.Field = "power." + ce.Field
		}
		return nil, nil, err
	}
	if err = c.Output.Validate(); err != nil {
		return nil, nil, &sweep.ConfigurationError{Field: "output", Err: err}
	}
	if _, err = c.Trace.Rect(); err != nil {
		return nil, nil, &sweep.ConfigurationError{Field: "trace.roi", Err: err}
	}
	if c.Camera.Binning != "" {
		if _, err = camera.ParseBinning(c.Camera.Binning); err != nil {
			return nil, nil, &sweep.ConfigurationError{Field: "camera.binning", Value: c.Camera.Binning, Err: err}
		}
	}
	return power, delay, nil
}

// StopFlag is the cooperative cancellation token of a run
type StopFlag struct {
	v atomic.Bool
}

// Stop sets the flag
func (f *StopFlag) Stop() { f.v.Store(true) }

// Stopped returns true once Stop has been called
func (f *StopFlag) Stopped() bool { return f.v.Load() }

// Run is one scan: its grids, its stop flag, and its progress
type Run struct {
	ID     string
	Config Config

	// PowerGrid is the outer loop and DelayGrid the inner
	PowerGrid []float64
	DelayGrid []float64

	Stop *StopFlag

	Started time.Time

	step atomic.Int64
}

// NewRun validates cfg and builds its grids.  Errors are
// *sweep.ConfigurationError.
func NewRun(cfg Config) (*Run, error) {
	power, delay, err := cfg.Grids()
	if err != nil {
		return nil, err
	}
	return &Run{
		ID:        uuid.NewString(),
		Config:    cfg,
		PowerGrid: power,
		DelayGrid: delay,
		Stop:      &StopFlag{},
	}, nil
}

// Total is the number of points in the run
func (r *Run) Total() int {
	return len(r.PowerGrid) * len(r.DelayGrid)
}

// Step is the number of points completed
func (r *Run) Step() int {
	return int(r.step.Load())
}

// Percent is the progress of the run, 0 to 100
func (r *Run) Percent() int {
	t := r.Total()
	if t == 0 {
		return 0
	}
	return int(util.Clamp(float64(100*int64(r.Step())/int64(t)), 0, 100))
}

// PointError locates a failure in the sweep
type PointError struct {
	Point sweep.Point
	Err   error
}

func (e *PointError) Error() string {
	return fmt.Sprintf("at power %g (index %d), delay %g (index %d): %v",
		e.Point.Power, e.Point.PowerIndex, e.Point.Delay, e.Point.DelayIndex, e.Err)
}

func (e *PointError) Unwrap() error {
	return e.Err
}

// Kind names the class of a run error: configuration, hardware, capture,
// persistence, canceled, or other
func Kind(err error) string {
	var (
		ce *sweep.ConfigurationError
		he *position.HardwareFaultError
		ae *acquisition.CaptureError
		pe *persist.PersistenceError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce):
		return "configuration"
	case errors.As(err, &he):
		return "hardware"
	case errors.As(err, &ae):
		return "capture"
	case errors.As(err, &pe):
		return "persistence"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}

// Result is the outcome of a run
type Result struct {
	RunID     string        `json:"runID"`
	Name      string        `json:"name"`
	Completed int           `json:"completed"`
	Total     int           `json:"total"`
	Stopped   bool          `json:"stopped"`
	Started   time.Time     `json:"started"`
	Finished  time.Time     `json:"finished"`
	Err       error         `json:"-"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Status is the final status message of the run: done, stopped, or
// error: <kind>
func (r Result) Status() string {
	switch {
	case errors.Is(r.Err, persist.ErrOverwriteDeclined):
		return "stopped"
	case r.Err != nil:
		return "error: " + Kind(r.Err)
	case r.Stopped:
		return "stopped"
	default:
		return "done"
	}
}

func (r Result) String() string {
	return fmt.Sprintf("%s: %s of %s points in %s",
		r.Status(), humanize.Comma(int64(r.Completed)), humanize.Comma(int64(r.Total)), r.Duration.Round(time.Millisecond))
}
