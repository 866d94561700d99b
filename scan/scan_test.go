package scan_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/pumpprobe/acquisition"
	"github.com/nasa-jpl/pumpprobe/camera"
	"github.com/nasa-jpl/pumpprobe/lockin"
	"github.com/nasa-jpl/pumpprobe/persist"
	"github.com/nasa-jpl/pumpprobe/position"
	"github.com/nasa-jpl/pumpprobe/scan"
	"github.com/nasa-jpl/pumpprobe/sweep"
)

// stage arrives instantly and records every commanded position
type stage struct {
	mu       sync.Mutex
	name     string
	pos      float64
	failNext int
	log      *[]string
}

func (s *stage) MoveTo(p float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return errors.New("socket closed")
	}
	s.pos = p
	*s.log = append(*s.log, s.name)
	return nil
}

func (s *stage) GetPos() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, nil
}

type rig struct {
	orch       *scan.Orchestrator
	ctl        *position.Controller
	cam        *camera.Mock
	gate       *lockin.Mock
	delay      *stage
	power      *stage
	moves      []string
	statuses   []string
	progress   []int
	reconnects int
	mu         sync.Mutex
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{}
	r.delay = &stage{name: "delay", log: &r.moves}
	r.power = &stage{name: "power", log: &r.moves}
	r.ctl = position.New(position.ReconnectFunc(func() error {
		r.reconnects++
		return nil
	}), position.RetryPolicy{PollInterval: time.Millisecond, Interval: time.Millisecond})
	require.NoError(t, r.ctl.Add(scan.DelayAxis, r.delay, 5e-4))
	require.NoError(t, r.ctl.Add(scan.PowerAxis, r.power, 1e-3))

	r.gate = lockin.NewMock()
	r.cam = camera.NewMock(8, 8)
	r.cam.PumpOn = func() bool { return r.gate.Level("1") >= acquisition.DefaultOpen }
	r.orch = &scan.Orchestrator{
		Mover:   r.ctl,
		Camera:  r.cam,
		Frames:  acquisition.New(r.cam, r.gate, "1"),
		Confirm: persist.Never,
		Observer: scan.FuncObserver{
			OnProgress: func(p int) {
				r.mu.Lock()
				r.progress = append(r.progress, p)
				r.mu.Unlock()
			},
			OnStatus: func(s string) {
				r.mu.Lock()
				r.statuses = append(r.statuses, s)
				r.mu.Unlock()
			},
		},
	}
	return r
}

func config(t *testing.T, delay, power scan.SweepConfig) scan.Config {
	t.Helper()
	cfg := scan.DefaultConfig
	cfg.Delay = delay
	cfg.Power = power
	cfg.Output.Folder = t.TempDir()
	cfg.Output.Name = "run"
	return cfg
}

func newRun(t *testing.T, cfg scan.Config) *scan.Run {
	t.Helper()
	run, err := scan.NewRun(cfg)
	require.NoError(t, err)
	return run
}

func datFiles(t *testing.T, dir string) []string {
	t.Helper()
	m, err := filepath.Glob(filepath.Join(dir, "*.dat"))
	require.NoError(t, err)
	out := make([]string, len(m))
	for i, p := range m {
		out[i] = filepath.Base(p)
	}
	return out
}

func TestRunVisitsEveryPoint(t *testing.T) {
	r := newRig(t)
	cfg := config(t,
		scan.SweepConfig{Start: 0, Stop: 2, Step: 1, Tolerance: 5e-4},
		scan.SweepConfig{Start: 0, Stop: 10, Step: 10, Tolerance: 1e-3})
	run := newRun(t, cfg)
	require.Equal(t, 6, run.Total())

	res := r.orch.Run(context.Background(), run)
	require.NoError(t, res.Err)
	assert.Equal(t, 6, res.Completed)
	assert.False(t, res.Stopped)
	assert.Equal(t, "done", res.Status())
	assert.Equal(t, 12, r.cam.Captures(), "two frames per point")
	assert.Len(t, datFiles(t, filepath.Join(cfg.Output.Folder, "diffNorm_run")), 6)

	// initial positioning, then power outer and delay inner
	want := []string{"delay", "power",
		"power", "delay", "delay", "delay",
		"power", "delay", "delay", "delay"}
	assert.Equal(t, want, r.moves)
	assert.Equal(t, []int{0, 16, 33, 50, 66, 83, 100}, r.progress)
	assert.Equal(t, "done", r.statuses[len(r.statuses)-1])
}

func TestStopEndsAtIterationBoundary(t *testing.T) {
	r := newRig(t)
	cfg := config(t,
		scan.SweepConfig{Start: 0, Stop: 4, Step: 1, Tolerance: 5e-4},
		scan.SweepConfig{Start: 0, Stop: 1, Step: 1, Tolerance: 1e-3})
	run := newRun(t, cfg)
	r.orch.Observer = scan.FuncObserver{OnProgress: func(int) {
		if run.Step() == 2 {
			run.Stop.Stop()
		}
	}}

	res := r.orch.Run(context.Background(), run)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, 10, res.Total)
	assert.True(t, res.Stopped)
	assert.Equal(t, "stopped", res.Status())
	assert.Equal(t, 4, r.cam.Captures(), "the point in flight finishes, no new point starts")
	assert.Equal(t, []string{"pwr_0.0_delay_0.0.dat", "pwr_0.0_delay_1.0.dat"},
		datFiles(t, filepath.Join(cfg.Output.Folder, "ref_run")))
}

func TestEndToEndDegeneratePower(t *testing.T) {
	r := newRig(t)
	cfg := config(t,
		scan.SweepConfig{Start: 0, Stop: 2, Step: 1, Tolerance: 5e-4},
		scan.SweepConfig{Start: 5, Stop: 5, Step: 1, Tolerance: 1e-3})
	cfg.Trace.Enabled = true
	run := newRun(t, cfg)
	require.Equal(t, 3, run.Total())

	res := r.orch.Run(context.Background(), run)
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Completed)

	dir := cfg.Output.Folder
	for _, ch := range []string{"ref_run", "pumped_run", "diff_run", "diffNorm_run"} {
		assert.Equal(t,
			[]string{"pwr_5.0_delay_0.0.dat", "pwr_5.0_delay_1.0.dat", "pwr_5.0_delay_2.0.dat"},
			datFiles(t, filepath.Join(dir, ch)), ch)
		assert.FileExists(t, filepath.Join(dir, ch, "pwr_5.0_delay_0.0.dat.png"))
	}
	for _, fn := range []string{"run.dat", "run.png", "protocol_run.png", "protocol_run.yml", "trace_run.csv", "trace_run.png"} {
		assert.FileExists(t, filepath.Join(dir, fn))
	}

	// the baseline is the reference frame of the first point
	base, err := os.ReadFile(filepath.Join(dir, "run.dat"))
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(dir, "ref_run", "pwr_5.0_delay_0.0.dat"))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(base))
	assert.Equal(t, []int{0, 5, 0, 0, 5, 0, 0, 5, 0}, r.gate.History())
}

type failingFrames struct{ calls int }

func (f *failingFrames) CaptureFrameSet() (acquisition.FrameSet, error) {
	f.calls++
	return acquisition.FrameSet{}, &acquisition.CaptureError{Stage: acquisition.StagePumped, Err: errors.New("readout timeout")}
}

func TestCaptureErrorEndsRun(t *testing.T) {
	r := newRig(t)
	frames := &failingFrames{}
	r.orch.Frames = frames
	cfg := config(t,
		scan.SweepConfig{Start: 0, Stop: 2, Step: 1, Tolerance: 5e-4},
		scan.SweepConfig{Start: 0, Stop: 0, Step: 1, Tolerance: 1e-3})

	res := r.orch.Run(context.Background(), newRun(t, cfg))
	var ce *acquisition.CaptureError
	require.ErrorAs(t, res.Err, &ce)
	var pe *scan.PointError
	require.ErrorAs(t, res.Err, &pe)
	assert.Equal(t, sweep.Point{Power: 0, Delay: 0}, pe.Point)
	assert.Equal(t, 1, frames.calls, "the orchestrator does not retry a capture")
	assert.Equal(t, 0, res.Completed)
	assert.Equal(t, "error: capture", res.Status())
	assert.Equal(t, "error: capture", r.statuses[len(r.statuses)-1])
}

func TestDeclinedOverwriteStopsRun(t *testing.T) {
	r := newRig(t)
	cfg := config(t,
		scan.SweepConfig{Start: 0, Stop: 2, Step: 1, Tolerance: 5e-4},
		scan.SweepConfig{Start: 0, Stop: 0, Step: 1, Tolerance: 1e-3})
	res := r.orch.Run(context.Background(), newRun(t, cfg))
	require.NoError(t, res.Err)

	run := newRun(t, cfg)
	res = r.orch.Run(context.Background(), run)
	assert.ErrorIs(t, res.Err, persist.ErrOverwriteDeclined)
	assert.True(t, run.Stop.Stopped())
	assert.Equal(t, 0, res.Completed)
	assert.Equal(t, "stopped", res.Status())
}

func TestRunOverwritePolicyOverridesConfirmer(t *testing.T) {
	r := newRig(t)
	cfg := config(t,
		scan.SweepConfig{Start: 0, Stop: 0, Step: 1, Tolerance: 5e-4},
		scan.SweepConfig{Start: 0, Stop: 0, Step: 1, Tolerance: 1e-3})
	res := r.orch.Run(context.Background(), newRun(t, cfg))
	require.NoError(t, res.Err)

	// the rig refuses, the run says always
	cfg.Output.Overwrite = "always"
	res = r.orch.Run(context.Background(), newRun(t, cfg))
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, "done", res.Status())
}

func TestRunAppliesTolerances(t *testing.T) {
	r := newRig(t)
	cfg := config(t,
		scan.SweepConfig{Start: 0, Stop: 1, Step: 1, Tolerance: 0.25},
		scan.SweepConfig{Start: 0, Stop: 0, Step: 1, Tolerance: 0.5})
	res := r.orch.Run(context.Background(), newRun(t, cfg))
	require.NoError(t, res.Err)
	s, _ := r.ctl.Session(scan.DelayAxis)
	assert.Equal(t, 0.25, s.Tolerance)
	s, _ = r.ctl.Session(scan.PowerAxis)
	assert.Equal(t, 0.5, s.Tolerance)
}

func TestEmptyGridIsAConfigurationError(t *testing.T) {
	r := newRig(t)
	cfg := config(t,
		scan.SweepConfig{Start: 0, Stop: 1, Step: 1, Tolerance: 5e-4},
		scan.SweepConfig{Start: 0, Stop: 0, Step: 1, Tolerance: 1e-3})
	run := &scan.Run{ID: "empty", Config: cfg, PowerGrid: []float64{0}, Stop: &scan.StopFlag{}}

	res := r.orch.Run(context.Background(), run)
	var ce *sweep.ConfigurationError
	require.ErrorAs(t, res.Err, &ce)
	assert.Equal(t, "grid", ce.Field)
	assert.Equal(t, "error: configuration", res.Status())
	assert.Empty(t, r.moves)
	assert.Zero(t, r.cam.Captures())
}

func TestOversizedSweepIsRejectedBeforeStart(t *testing.T) {
	cfg := config(t,
		scan.SweepConfig{Start: 0, Stop: 1e308, Step: 1e-308, Tolerance: 5e-4},
		scan.SweepConfig{Start: 0, Stop: 0, Step: 1, Tolerance: 1e-3})
	_, err := scan.NewRun(cfg)
	var ce *sweep.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "delay.step", ce.Field)
}

func TestFaultDuringScanIsRecovered(t *testing.T) {
	r := newRig(t)
	cfg := config(t,
		scan.SweepConfig{Start: 0, Stop: 3, Step: 1, Tolerance: 5e-4},
		scan.SweepConfig{Start: 1, Stop: 1, Step: 1, Tolerance: 1e-3})
	r.orch.Observer = scan.FuncObserver{OnProgress: func(p int) {
		if p == 25 {
			r.delay.mu.Lock()
			r.delay.failNext = 1
			r.delay.mu.Unlock()
		}
	}}
	res := r.orch.Run(context.Background(), newRun(t, cfg))
	require.NoError(t, res.Err)
	assert.Equal(t, 4, res.Completed)
	assert.Equal(t, 1, r.reconnects)
	s, _ := r.ctl.Session(scan.PowerAxis)
	assert.Equal(t, 1., s.LastCommanded)
	pos, _ := r.power.GetPos()
	assert.Equal(t, 1., pos, "power setpoint restored after the reconnect")
}

func TestConfigurationErrors(t *testing.T) {
	good := config(t,
		scan.SweepConfig{Start: 0, Stop: 2, Step: 1, Tolerance: 5e-4},
		scan.SweepConfig{Start: 0, Stop: 0, Step: 1, Tolerance: 1e-3})
	cases := map[string]func(*scan.Config){
		"delay.step":        func(c *scan.Config) { c.Delay.Step = 0 },
		"power.step":        func(c *scan.Config) { c.Power.Stop = 3; c.Power.Step = 0 },
		"delay.subsequence": func(c *scan.Config) { c.DelayExtra = "1, 2" },
		"delay.tolerance":   func(c *scan.Config) { c.Delay.Tolerance = 0 },
		"output":            func(c *scan.Config) { c.Output.Overwrite = "maybe" },
		"camera.binning":    func(c *scan.Config) { c.Camera.Binning = "4by4" },
		"trace.roi":         func(c *scan.Config) { c.Trace.ROI = []int{1} },
	}
	for field, mutate := range cases {
		cfg := good
		mutate(&cfg)
		_, err := scan.NewRun(cfg)
		var ce *sweep.ConfigurationError
		if assert.ErrorAs(t, err, &ce, field) {
			assert.Equal(t, field, ce.Field)
		}
		assert.Equal(t, "configuration", scan.Kind(err))
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", scan.Kind(nil))
	assert.Equal(t, "hardware", scan.Kind(&scan.PointError{Err: &position.HardwareFaultError{Axis: "delay"}}))
	assert.Equal(t, "persistence", scan.Kind(&persist.PersistenceError{Err: os.ErrPermission}))
	assert.Equal(t, "canceled", scan.Kind(context.Canceled))
	assert.Equal(t, "other", scan.Kind(errors.New("?")))
}
