/*Package acquisition captures the frames of one scan point: a reference
frame with the pump beam blocked, a pumped frame with it open, and the
difference and normalized difference derived from the two.

The pipeline does not retry.  A failed capture or gate command is returned
to the caller as a *CaptureError, after a best effort to close the gate.
*/
package acquisition

import (
	"fmt"

	"github.com/nasa-jpl/pumpprobe/camera"
	"github.com/nasa-jpl/pumpprobe/improc"
	"github.com/nasa-jpl/pumpprobe/lockin"
)

const (
	// DefaultClosed is the gate level that blocks the pump beam
	DefaultClosed = 0

	// DefaultOpen is the gate level that passes the pump beam
	DefaultOpen = 5
)

// FrameSet is the result of one capture
type FrameSet struct {
	Reference  *improc.Image
	Pumped     *improc.Image
	Difference *improc.Image
	Normalized *improc.FloatImage
}

// Stage names the step of a capture that failed
type Stage string

const (
	StageConfigure Stage = "configure camera"
	StageCloseGate Stage = "close gate"
	StageReference Stage = "capture reference"
	StageOpenGate  Stage = "open gate"
	StagePumped    Stage = "capture pumped"
	StageRestore   Stage = "restore gate"
	StageDerive    Stage = "derive"
)

// CaptureError is generated when the camera or shutter gate fails
type CaptureError struct {
	Stage Stage
	Err   error

	// Restore is the error of closing the gate after Err, when that failed
	// too.  The pump may still be reaching the sample.
	Restore error
}

func (e *CaptureError) Error() string {
	if e.Restore != nil {
		return fmt.Sprintf("capture error during %s: %v (closing gate: %v)", e.Stage, e.Err, e.Restore)
	}
	return fmt.Sprintf("capture error during %s: %v", e.Stage, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Gate is the shutter the pump beam passes through
type Gate = lockin.Gate

// Pipeline captures frame sets with one camera and one gate channel
type Pipeline struct {
	Camera camera.Camera
	Gate   Gate

	// Channel is the gate's output channel, e.g. the lock-in aux output "1"
	Channel string

	// Closed and Open are the gate levels for blocked and passed pump
	Closed int
	Open   int
}

// New returns a pipeline with the default gate levels
func New(cam camera.Camera, gate Gate, channel string) *Pipeline {
	return &Pipeline{Camera: cam, Gate: gate, Channel: channel, Closed: DefaultClosed, Open: DefaultOpen}
}

// CaptureFrameSet closes the gate and captures the reference, opens it and
// captures the pumped frame, then closes it again.  The steps are strictly
// sequential.
func (p *Pipeline) CaptureFrameSet() (FrameSet, error) {
	var fs FrameSet
	if err := p.Gate.SetGate(p.Channel, p.Closed); err != nil {
		return fs, &CaptureError{Stage: StageCloseGate, Err: err}
	}
	ref, err := p.Camera.Capture()
	if err != nil {
		return fs, &CaptureError{Stage: StageReference, Err: err}
	}
	if err := p.Gate.SetGate(p.Channel, p.Open); err != nil {
		return fs, &CaptureError{Stage: StageOpenGate, Err: err, Restore: p.Gate.SetGate(p.Channel, p.Closed)}
	}
	pumped, err := p.Camera.Capture()
	if err != nil {
		return fs, &CaptureError{Stage: StagePumped, Err: err, Restore: p.Gate.SetGate(p.Channel, p.Closed)}
	}
	if err := p.Gate.SetGate(p.Channel, p.Closed); err != nil {
		return fs, &CaptureError{Stage: StageRestore, Err: err}
	}
	return Derive(ref, pumped)
}

// Derive computes the difference and normalized frames
func Derive(reference, pumped *improc.Image) (FrameSet, error) {
	diff, err := improc.Difference(pumped, reference)
	if err != nil {
		return FrameSet{}, &CaptureError{Stage: StageDerive, Err: err}
	}
	norm, err := improc.Normalize(diff, reference)
	if err != nil {
		return FrameSet{}, &CaptureError{Stage: StageDerive, Err: err}
	}
	return FrameSet{Reference: reference, Pumped: pumped, Difference: diff, Normalized: norm}, nil
}
