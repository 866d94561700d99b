package scan

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nasa-jpl/pumpprobe/acquisition"
	"github.com/nasa-jpl/pumpprobe/camera"
	"github.com/nasa-jpl/pumpprobe/improc"
	"github.com/nasa-jpl/pumpprobe/persist"
	"github.com/nasa-jpl/pumpprobe/position"
	"github.com/nasa-jpl/pumpprobe/sweep"
	"github.com/nasa-jpl/pumpprobe/trace"
)

// Mover moves named axes and waits for them to settle.
// *position.Controller satisfies it.
type Mover interface {
	MoveTo(ctx context.Context, name string, target float64) error
	SetTolerance(name string, tolerance float64) error
	Sessions() []position.AxisSession
}

// FrameSource captures the frames of one point.
// *acquisition.Pipeline satisfies it.
type FrameSource interface {
	CaptureFrameSet() (acquisition.FrameSet, error)
}

// Journal records runs.  *journal.DB satisfies it.
type Journal interface {
	BeginRun(id, name, folder string, total int, started time.Time) error
	RecordPoint(runID string, step int, pt sweep.Point, signal float64) error
	FinishRun(id string, points int, stopped bool, runErr error, finished time.Time) error
}

// Axis names used when none are configured
const (
	DelayAxis = "delay"
	PowerAxis = "power"
)

// Orchestrator drives runs over one set of hardware
type Orchestrator struct {
	Mover  Mover
	Camera camera.Camera
	Frames FrameSource

	// DelayAxis and PowerAxis are the names of the axes in Mover
	DelayAxis string
	PowerAxis string

	// Confirm answers for the ask overwrite policy.  Nil refuses.
	Confirm persist.Confirmer

	// Sink, if not nil, replaces the filesystem for saved frames
	Sink persist.Sink

	// Journal, if not nil, records every run and point
	Journal Journal

	Observer Observer
	Logger   *log.Logger
}

func (o *Orchestrator) names() (delay, power string) {
	delay, power = o.DelayAxis, o.PowerAxis
	if delay == "" {
		delay = DelayAxis
	}
	if power == "" {
		power = PowerAxis
	}
	return
}

func (o *Orchestrator) observer() Observer {
	if o.Observer == nil {
		return LogObserver{Logger: o.Logger}
	}
	return o.Observer
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
	}
}

// journal failures are logged, they never stop a scan
func (o *Orchestrator) journal(what string, err error) {
	if err != nil {
		o.logf("journal: %s: %v\n", what, err)
	}
}

func (o *Orchestrator) protocol(run *Run, pt sweep.Point) persist.Protocol {
	p := persist.NewProtocol(run.Started, run.Config.Camera)
	p.RunID = run.ID
	p.Name = run.Config.Output.Name
	p.Folder = run.Config.Output.Folder
	p.Point = pt
	p.Delay = run.Config.Delay.Axis()
	p.Power = run.Config.Power.Axis()
	p.Extra = run.Config.DelayExtra
	p.Points = run.Total()
	p.Position = map[string]float64{}
	for _, s := range o.Mover.Sessions() {
		if s.Commanded {
			p.Position[s.Name] = s.LastCommanded
		}
	}
	return p
}

// Run executes run to completion, until its stop flag is set, or until the
// first error.  ctx is only for teardown of the process; cancelling it
// abandons a move that is recovering from a fault.  Stopping a run is done
// with run.Stop.
func (o *Orchestrator) Run(ctx context.Context, run *Run) Result {
	obs := o.observer()
	if run.Started.IsZero() {
		run.Started = time.Now()
	}
	res := Result{RunID: run.ID, Name: run.Config.Output.Name, Total: run.Total(), Started: run.Started}
	if o.Journal != nil {
		o.journal("begin", o.Journal.BeginRun(run.ID, run.Config.Output.Name, run.Config.Output.Folder, run.Total(), run.Started))
	}
	err := o.sweep(ctx, run, obs)

	res.Completed = run.Step()
	res.Stopped = run.Stop.Stopped() || res.Completed < res.Total
	res.Err = err
	if err != nil {
		res.Error = err.Error()
	}
	res.Finished = time.Now()
	res.Duration = res.Finished.Sub(res.Started)
	if o.Journal != nil {
		o.journal("finish", o.Journal.FinishRun(run.ID, res.Completed, res.Stopped, err, res.Finished))
	}
	obs.Status(res.Status())
	obs.Done(res)
	return res
}

func (o *Orchestrator) sweep(ctx context.Context, run *Run, obs Observer) error {
	delayAx, powerAx := o.names()
	cfg := run.Config
	if len(run.DelayGrid) == 0 || len(run.PowerGrid) == 0 {
		return &sweep.ConfigurationError{Field: "grid", Err: fmt.Errorf("%d delays by %d powers is an empty scan", len(run.DelayGrid), len(run.PowerGrid))}
	}

	var tr *trace.Recorder
	if cfg.Trace.Enabled {
		roi, _ := cfg.Trace.Rect()
		tr = trace.New(roi)
		defer func() {
			if err := tr.Save(cfg.Output.Folder, cfg.Output.Name); err != nil {
				o.logf("saving trace: %v\n", err)
			}
		}()
	}

	policy, err := persist.ParsePolicy(cfg.Output.Overwrite)
	if err != nil {
		return &sweep.ConfigurationError{Field: "output.overwrite", Value: cfg.Output.Overwrite, Err: err}
	}
	mgr := persist.New(cfg.Output, persist.ConfirmerFor(policy, o.Confirm), run.Stop)
	mgr.Logger = o.Logger
	if o.Sink != nil {
		mgr.Sink = o.Sink
	}

	if err := o.Mover.SetTolerance(delayAx, cfg.Delay.Tolerance); err != nil {
		return &sweep.ConfigurationError{Field: "delay.tolerance", Err: err}
	}
	if err := o.Mover.SetTolerance(powerAx, cfg.Power.Tolerance); err != nil {
		return &sweep.ConfigurationError{Field: "power.tolerance", Err: err}
	}

	// initial positioning and camera setup
	obs.Status("moving to start")
	if err := o.Mover.MoveTo(ctx, delayAx, run.DelayGrid[0]); err != nil {
		return err
	}
	if err := o.Mover.MoveTo(ctx, powerAx, run.PowerGrid[0]); err != nil {
		return err
	}
	if err := o.Camera.Configure(cfg.Camera); err != nil {
		return &acquisition.CaptureError{Stage: acquisition.StageConfigure, Err: err}
	}
	obs.Progress(0)

	for pi, pwr := range run.PowerGrid {
		if run.Stop.Stopped() {
			return nil
		}
		if err := o.Mover.MoveTo(ctx, powerAx, pwr); err != nil {
			return &PointError{Point: sweep.Point{PowerIndex: pi, Power: pwr, DelayIndex: -1}, Err: err}
		}
		for di, dly := range run.DelayGrid {
			if run.Stop.Stopped() {
				return nil
			}
			pt := sweep.Point{PowerIndex: pi, Power: pwr, DelayIndex: di, Delay: dly}
			if err := o.point(ctx, run, mgr, tr, pt, delayAx); err != nil {
				return &PointError{Point: pt, Err: err}
			}
			obs.Progress(run.Percent())
		}
	}
	return nil
}

// point moves, captures, and saves one scan point
func (o *Orchestrator) point(ctx context.Context, run *Run, mgr *persist.Manager, tr *trace.Recorder, pt sweep.Point, delayAx string) error {
	if err := o.Mover.MoveTo(ctx, delayAx, pt.Delay); err != nil {
		return err
	}
	set, err := o.Frames.CaptureFrameSet()
	if err != nil {
		return err
	}
	if err := mgr.Save(set, pt); err != nil {
		return err
	}
	step := int(run.step.Add(1))

	// keep a usable reference even if the run is stopped right away
	if step == 1 {
		if err := mgr.SaveBaseline(set, o.protocol(run, pt)); err != nil {
			return err
		}
	}
	var signal float64
	if tr != nil {
		signal = tr.Record(pt, set.Normalized)
	}
	if o.Journal != nil {
		if tr == nil {
			w, h := set.Normalized.Dims()
			signal = improc.ROIMean(set.Normalized, improc.CentralHalf(w, h))
		}
		o.journal(fmt.Sprintf("point %d", step), o.Journal.RecordPoint(run.ID, step, pt, signal))
	}
	return nil
}
