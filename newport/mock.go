package newport

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	mockServoPeriod     = time.Millisecond
	xpsPositioningError = 1e-7 // up to 100 nm on lengths, 100 nrad on angles
	floatCmpTol         = 1e-12

	// DefaultMockVelocity is the speed of mock positioners, in units per second
	DefaultMockVelocity = 100.
)

// ErrMockDisconnected is returned by a MockXPS after Disconnect and before a
// successful Reconnect
var ErrMockDisconnected = errors.New("mock XPS: connection lost")

func randN1to1() float64 {
	return rand.Float64()*2 - 1 // [0,1] => [0,2] => [-1,1]
}

/*MockXPS is an in-process stand-in for an XPS controller.

Moves are asynchronous; a servo loop walks each positioner towards its target
at Velocity and lands within 100 nano-units of it.  Faults may be injected
with FailNext and Disconnect.  A Reconnect homes every positioner to zero, as
kill/initialize/home does on the real controller.
*/
type MockXPS struct {
	// Velocity of every positioner, in units per second
	Velocity float64

	mu        sync.Mutex
	pos       map[string]float64
	homed     map[string]bool
	gen       map[string]int // move generation; a newer move aborts an older one
	failNext  int
	downFor   int // reconnect attempts that will fail
	down      bool
	reconnect int
	moves     map[string]int
}

// NewMockXPS returns a mock controller whose positioners are homed at zero
func NewMockXPS() *MockXPS {
	return &MockXPS{
		Velocity: DefaultMockVelocity,
		pos:      make(map[string]float64),
		homed:    make(map[string]bool),
		gen:      make(map[string]int),
		moves:    make(map[string]int),
	}
}

// FailNext makes the next n move or position calls fail with a TCP timeout
func (c *MockXPS) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
}

// Disconnect drops the connection.  Every call fails until Reconnect has
// been attempted failedReconnects+1 times.
func (c *MockXPS) Disconnect(failedReconnects int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = true
	c.downFor = failedReconnects
}

// Reconnects returns the number of successful reconnects
func (c *MockXPS) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect
}

// Moves returns the number of accepted move commands for a positioner
func (c *MockXPS) Moves(positioner string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moves[positioner]
}

// fault returns the injected error for this call, if any.  c.mu must be held.
func (c *MockXPS) fault() error {
	if c.down {
		return ErrMockDisconnected
	}
	if c.failNext > 0 {
		c.failNext--
		return XPSErr(-2)
	}
	return nil
}

// GetPos gets the current position of a positioner
func (c *MockXPS) GetPos(positioner string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault(); err != nil {
		return 0, err
	}
	return c.pos[positioner], nil
}

// MoveAbs starts a move of positioner to pos and returns immediately
func (c *MockXPS) MoveAbs(positioner string, pos float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault(); err != nil {
		return err
	}
	if homed, seen := c.homed[positioner]; seen && !homed {
		return XPSErr(-109)
	}
	c.homed[positioner] = true
	c.moves[positioner]++
	c.gen[positioner]++
	go c.servo(positioner, pos, c.gen[positioner])
	return nil
}

// Home homes the positioner to zero
func (c *MockXPS) Home(positioner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault(); err != nil {
		return err
	}
	c.gen[positioner]++
	c.pos[positioner] = 0
	c.homed[positioner] = true
	return nil
}

// Reconnect restores a dropped connection and homes every positioner
func (c *MockXPS) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.downFor > 0 {
		c.downFor--
		return ErrMockDisconnected
	}
	c.down = false
	c.failNext = 0
	c.reconnect++
	for k := range c.gen {
		c.gen[k]++
		c.pos[k] = 0
		c.homed[k] = true
	}
	return nil
}

// servo walks positioner towards pos until it arrives or a newer move
// supersedes this one
func (c *MockXPS) servo(positioner string, pos float64, gen int) {
	tick := time.NewTicker(mockServoPeriod)
	defer tick.Stop()
	for range tick.C {
		c.mu.Lock()
		if c.gen[positioner] != gen {
			c.mu.Unlock()
			return
		}
		last := c.pos[positioner]
		posErr := pos - last
		step := c.Velocity * mockServoPeriod.Seconds()
		if math.Abs(posErr) <= step+floatCmpTol {
			c.pos[positioner] = pos + randN1to1()*xpsPositioningError
			c.mu.Unlock()
			return
		}
		if math.Signbit(posErr) {
			step = -step
		}
		c.pos[positioner] = last + step
		c.mu.Unlock()
	}
}
