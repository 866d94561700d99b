// Package motion contains abstract interfaces for motion stages and
// the controllers that drive them.
package motion

// Axis is one controllable, position-readable stage
type Axis interface {
	// MoveTo commands an absolute move.  It need not wait for the stage
	// to arrive.
	MoveTo(float64) error

	// GetPos gets the current position of the stage
	GetPos() (float64, error)
}

// Controller describes a motion controller with named axes
type Controller interface {
	// GetPos gets the current position of an axis
	GetPos(string) (float64, error)

	// MoveAbs moves an axis to an absolute position
	MoveAbs(string, float64) error
}

// Homer is a controller that can home its axes
type Homer interface {
	// Home homes an axis
	Home(string) error
}

type boundAxis struct {
	ctl  Controller
	name string
}

func (b boundAxis) MoveTo(pos float64) error { return b.ctl.MoveAbs(b.name, pos) }

func (b boundAxis) GetPos() (float64, error) { return b.ctl.GetPos(b.name) }

// Bind returns an Axis that addresses the axis name on ctl
func Bind(ctl Controller, name string) Axis {
	return boundAxis{ctl: ctl, name: name}
}
