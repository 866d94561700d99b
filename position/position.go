/*Package position drives motion axes to setpoints and keeps them there
through controller faults.

A Controller owns one AxisSession per axis.  MoveTo records the setpoint,
commands the move, and polls until the axis is within tolerance.  If any call
to the hardware fails, the shared controller connection is reset with the
Reconnector and every axis is sent back to its last commanded setpoint, since
a reset loses all of them.  This repeats at the policy interval until it
succeeds; by default it never gives up.
*/
package position

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/nasa-jpl/pumpprobe/motion"
)

// State is the connection state of an axis
type State int

const (
	// Connected axes accept commands
	Connected State = iota

	// Faulted axes have seen a communication error
	Faulted

	// Reconnecting axes are waiting on a reset of the controller
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Faulted:
		return "faulted"
	case Reconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reconnector resets the connection to a motion controller
type Reconnector interface {
	Reconnect() error
}

// ReconnectFunc adapts a function to Reconnector
type ReconnectFunc func() error

// Reconnect calls f
func (f ReconnectFunc) Reconnect() error { return f() }

// RetryPolicy controls polling and fault recovery
type RetryPolicy struct {
	// PollInterval is the time between position reads while moving
	PollInterval time.Duration `koanf:"PollInterval" yaml:"PollInterval"`

	// Interval is the time between reconnect attempts, and before the first
	Interval time.Duration `koanf:"ReconnectInterval" yaml:"ReconnectInterval"`

	// MaxElapsed bounds the time spent reconnecting.  Zero is unbounded.
	MaxElapsed time.Duration `koanf:"MaxReconnectDuration" yaml:"MaxReconnectDuration"`

	// MaxAttempts bounds the number of reconnect attempts.  Zero is unbounded.
	MaxAttempts int `koanf:"MaxReconnectAttempts" yaml:"MaxReconnectAttempts"`
}

// DefaultPolicy polls every 50 ms and reconnects every 30 s, forever
var DefaultPolicy = RetryPolicy{
	PollInterval: 50 * time.Millisecond,
	Interval:     30 * time.Second,
}

// Bounded returns true if the policy can give up
func (p RetryPolicy) Bounded() bool {
	return p.MaxElapsed > 0 || p.MaxAttempts > 0
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.ExponentialBackOff{
		InitialInterval:     p.Interval,
		RandomizationFactor: 0,
		Multiplier:          1,
		MaxInterval:         p.Interval,
		MaxElapsedTime:      p.MaxElapsed,
		Clock:               backoff.SystemClock,
	}
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// HardwareFaultError is generated when a bounded retry policy gives up on a
// controller
type HardwareFaultError struct {
	// Axis is the axis whose move triggered recovery
	Axis string

	// Attempts is the number of reconnects tried
	Attempts int

	Err error
}

func (e *HardwareFaultError) Error() string {
	return fmt.Sprintf("hardware fault on axis %s after %d reconnect attempts: %v", e.Axis, e.Attempts, e.Err)
}

func (e *HardwareFaultError) Unwrap() error {
	return e.Err
}

// ErrUnknownAxis is generated when an axis name has not been added
var ErrUnknownAxis = errors.New("unknown axis")

// AxisSession is the runtime state of one axis
type AxisSession struct {
	Name string `json:"name"`

	// LastCommanded is the setpoint restored after a reconnect.
	// It is meaningful only when Commanded is true.
	LastCommanded float64 `json:"lastCommanded"`
	Commanded     bool    `json:"commanded"`

	Tolerance float64 `json:"tolerance"`
	State     State   `json:"state"`
}

type entry struct {
	axis    motion.Axis
	session AxisSession
}

// Controller moves a set of axes that share one controller connection
type Controller struct {
	// Status, if not nil, is called on every state transition of a move
	// with the axis name and a human readable message
	Status func(axis, msg string)

	// Logger, if not nil, receives the same messages and reconnect errors
	Logger *log.Logger

	policy RetryPolicy
	rc     Reconnector

	mu    sync.Mutex // guards entries
	moveM sync.Mutex // one move at a time
	axes  map[string]*entry
	order []string
}

// New returns a Controller that resets the connection with rc.  Zero
// intervals in policy take the value of DefaultPolicy.
func New(rc Reconnector, policy RetryPolicy) *Controller {
	if policy.PollInterval <= 0 {
		policy.PollInterval = DefaultPolicy.PollInterval
	}
	if policy.Interval <= 0 {
		policy.Interval = DefaultPolicy.Interval
	}
	return &Controller{rc: rc, policy: policy, axes: map[string]*entry{}}
}

// Policy returns the retry policy
func (c *Controller) Policy() RetryPolicy {
	return c.policy
}

// Add adds an axis with its settle tolerance
func (c *Controller) Add(name string, ax motion.Axis, tolerance float64) error {
	if tolerance <= 0 || math.IsNaN(tolerance) {
		return fmt.Errorf("axis %s: tolerance must be positive, got %v", name, tolerance)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.axes[name]; ok {
		return fmt.Errorf("axis %s already added", name)
	}
	c.axes[name] = &entry{axis: ax, session: AxisSession{Name: name, Tolerance: tolerance}}
	c.order = append(c.order, name)
	return nil
}

// SetTolerance changes the settle tolerance of an axis
func (c *Controller) SetTolerance(name string, tolerance float64) error {
	if tolerance <= 0 || math.IsNaN(tolerance) {
		return fmt.Errorf("axis %s: tolerance must be positive, got %v", name, tolerance)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.axes[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAxis, name)
	}
	e.session.Tolerance = tolerance
	return nil
}

// Session returns a snapshot of the session of an axis
func (c *Controller) Session(name string) (AxisSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.axes[name]
	if !ok {
		return AxisSession{}, false
	}
	return e.session, true
}

// Sessions returns a snapshot of every session, in the order axes were added
func (c *Controller) Sessions() []AxisSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AxisSession, 0, len(c.order))
	for _, n := range c.order {
		out = append(out, c.axes[n].session)
	}
	return out
}

// GetPos reads the position of an axis.  Errors are returned, not recovered.
func (c *Controller) GetPos(name string) (float64, error) {
	c.mu.Lock()
	e, ok := c.axes[name]
	c.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAxis, name)
	}
	return e.axis.GetPos()
}

func (c *Controller) status(axis, msg string) {
	if c.Logger != nil {
		c.Logger.Printf("%s: %s\n", axis, msg)
	}
	if c.Status != nil {
		c.Status(axis, msg)
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.axes {
		e.session.State = s
	}
}

// MoveTo moves an axis to target and blocks until it is within tolerance.
// Communication faults are recovered by reconnecting; MoveTo returns an
// error only when ctx is done, the axis is unknown, or a bounded retry
// policy gives up (a *HardwareFaultError).
func (c *Controller) MoveTo(ctx context.Context, name string, target float64) error {
	c.moveM.Lock()
	defer c.moveM.Unlock()

	c.mu.Lock()
	e, ok := c.axes[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAxis, name)
	}
	e.session.LastCommanded = target
	e.session.Commanded = true
	tol := e.session.Tolerance
	c.mu.Unlock()

	c.status(name, "moving")
	if err := e.axis.MoveTo(target); err != nil {
		if err := c.recover(ctx, name, err); err != nil {
			return err
		}
	}
	tick := time.NewTicker(c.policy.PollInterval)
	defer tick.Stop()
	for {
		pos, err := e.axis.GetPos()
		if err != nil {
			if err := c.recover(ctx, name, err); err != nil {
				return err
			}
			continue
		}
		if math.Abs(pos-target) <= tol {
			c.status(name, fmt.Sprintf("settled at %g", pos))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// recover resets the controller and restores every commanded setpoint.
// It returns nil once the moves have been reissued.
func (c *Controller) recover(ctx context.Context, name string, cause error) error {
	c.setState(Faulted)
	c.status(name, fmt.Sprintf("fault: %v", cause))

	// give the controller time to come back before the first attempt
	wait := time.NewTimer(c.policy.Interval)
	select {
	case <-ctx.Done():
		wait.Stop()
		return ctx.Err()
	case <-wait.C:
	}

	attempts := 0
	op := func() error {
		attempts++
		c.setState(Reconnecting)
		c.status(name, "reconnecting")
		if err := c.rc.Reconnect(); err != nil {
			return err
		}
		return c.reissue()
	}
	notify := func(err error, next time.Duration) {
		c.setState(Faulted)
		if c.Logger != nil {
			c.Logger.Printf("%s: reconnect attempt %d failed: %v, retrying in %s\n", name, attempts, err, next)
		}
	}
	err := backoff.RetryNotify(op, c.policy.backoff(ctx), notify)
	if err != nil {
		c.setState(Faulted)
		if !c.policy.Bounded() {
			// the backoff stops once the deadline of ctx is nearer than the
			// next attempt; an unbounded policy only ends with ctx
			<-ctx.Done()
			return ctx.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &HardwareFaultError{Axis: name, Attempts: attempts, Err: err}
	}
	c.setState(Connected)
	c.status(name, "moving")
	return nil
}

// reissue commands every axis with a setpoint back to it
func (c *Controller) reissue() error {
	c.mu.Lock()
	type cmd struct {
		name string
		ax   motion.Axis
		pos  float64
	}
	cmds := make([]cmd, 0, len(c.order))
	for _, n := range c.order {
		e := c.axes[n]
		if e.session.Commanded {
			cmds = append(cmds, cmd{n, e.axis, e.session.LastCommanded})
		}
	}
	c.mu.Unlock()
	for _, m := range cmds {
		if err := m.ax.MoveTo(m.pos); err != nil {
			return fmt.Errorf("restoring %s to %g: %w", m.name, m.pos, err)
		}
	}
	return nil
}
