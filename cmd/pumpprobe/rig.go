package main

import (
	"context"
	"fmt"
	"log"

	"github.com/nasa-jpl/pumpprobe/acquisition"
	"github.com/nasa-jpl/pumpprobe/camera"
	"github.com/nasa-jpl/pumpprobe/journal"
	"github.com/nasa-jpl/pumpprobe/lockin"
	"github.com/nasa-jpl/pumpprobe/newport"
	"github.com/nasa-jpl/pumpprobe/persist"
	"github.com/nasa-jpl/pumpprobe/position"
	"github.com/nasa-jpl/pumpprobe/scan"
)

// Rig is the hardware of the experiment, wired for scanning
type Rig struct {
	Positions *position.Controller
	Camera    camera.Camera
	LockIn    lockin.LockIn
	Journal   *journal.DB
	Session   *scan.Session

	closers []func() error
}

// Close releases the connections of the rig
func (r *Rig) Close() {
	for _, c := range r.closers {
		if err := c(); err != nil {
			log.Println(err)
		}
	}
}

// BuildRig connects to the instruments, or their mocks, and returns a rig
// with an idle scan session.  ask answers overwrite questions when the
// overwrite policy of a run is ask; nil refuses.
func BuildRig(ctx context.Context, c Config, ask persist.Confirmer) (*Rig, error) {
	var (
		driver newport.Driver
		rig    = &Rig{}
	)
	if c.Mock {
		mx := newport.NewMockXPS()
		driver = mx
		gate := lockin.NewMock()
		cam := camera.NewMock(256, 256)
		cam.PumpOn = func() bool { return gate.Level(c.LockIn.Channel) >= c.LockIn.OpenLevel }
		rig.Camera, rig.LockIn = cam, gate
	} else {
		xps := newport.NewXPS(c.XPS.Addr)
		xps.Groups = []string{newport.GroupOf(c.XPS.DelayPositioner), newport.GroupOf(c.XPS.PowerPositioner)}
		if xps.Groups[0] == xps.Groups[1] {
			xps.Groups = xps.Groups[:1]
		}
		xps.Initialize = c.XPS.Initialize
		if c.XPS.Initialize {
			log.Println("initializing and homing", xps.Groups)
		}
		// a reconnect is the full connect sequence, kill/initialize/home included
		if err := xps.Reconnect(); err != nil {
			return nil, fmt.Errorf("connecting to XPS at %s: %w", xps.Addr, err)
		}
		rig.closers = append(rig.closers, xps.Close)
		driver = xps

		rd := lockin.NewRemoteDevice(c.LockIn.Addr, c.LockIn.Serial, c.LockIn.Baud)
		li, err := lockin.Connect(rd)
		if err != nil {
			rig.Close()
			return nil, fmt.Errorf("connecting to lock-in at %s: %w", c.LockIn.Addr, err)
		}
		log.Printf("lock-in is an SR%d\n", li.Model())
		rig.closers = append(rig.closers, rd.Close)
		rig.LockIn = li
		rig.Camera = camera.NewHTTPCamera(c.Camera.URL)
	}

	ctl := position.New(driver, c.Motion)
	ctl.Logger = log.Default()
	if err := ctl.Add(scan.DelayAxis, newport.Positioner(driver, c.XPS.DelayPositioner), c.Delay.Tolerance); err != nil {
		rig.Close()
		return nil, err
	}
	if err := ctl.Add(scan.PowerAxis, newport.Positioner(driver, c.XPS.PowerPositioner), c.Power.Tolerance); err != nil {
		rig.Close()
		return nil, err
	}
	rig.Positions = ctl

	pipe := acquisition.New(rig.Camera, rig.LockIn, c.LockIn.Channel)
	pipe.Open, pipe.Closed = c.LockIn.OpenLevel, c.LockIn.ClosedLevel

	orch := &scan.Orchestrator{
		Mover:    ctl,
		Camera:   rig.Camera,
		Frames:   pipe,
		Confirm:  ask,
		Observer: scan.LogObserver{},
		Logger:   log.Default(),
	}
	if c.Journal != "" {
		db, err := journal.Open(c.Journal)
		if err != nil {
			rig.Close()
			return nil, err
		}
		rig.closers = append(rig.closers, db.Close)
		rig.Journal = db
		orch.Journal = db
	}
	rig.Session = scan.NewSession(ctx, orch)
	ctl.Status = rig.Session.AxisStatus
	return rig, nil
}
