package position_test

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/pumpprobe/newport"
	"github.com/nasa-jpl/pumpprobe/position"
)

var fast = position.RetryPolicy{PollInterval: time.Millisecond, Interval: 5 * time.Millisecond}

// fakeAxis reaches its target a few polls after a move.  While broken every
// call fails.  A reset sends it back to zero, as re-homing would.
type fakeAxis struct {
	mu       sync.Mutex
	pos      float64
	target   float64
	polls    int
	broken   bool
	failPoll int // the poll on which the connection drops, if nonzero
	moves    []float64
	readings []float64
}

func (a *fakeAxis) MoveTo(p float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.broken {
		return errors.New("connection lost")
	}
	a.target = p
	a.polls = 0
	a.moves = append(a.moves, p)
	return nil
}

func (a *fakeAxis) GetPos() (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.broken {
		return 0, errors.New("connection lost")
	}
	a.polls++
	if a.failPoll > 0 && a.polls == a.failPoll {
		a.failPoll = 0
		a.broken = true
		return 0, errors.New("connection lost")
	}
	if a.polls >= 3 {
		a.pos = a.target
	} else {
		a.pos = a.target + 1 // far outside tolerance
	}
	a.readings = append(a.readings, a.pos)
	return a.pos, nil
}

func (a *fakeAxis) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.broken = false
	a.pos, a.target = 0, 0
}

// rig is two axes on one controller that can be made to fail
type rig struct {
	delay, power *fakeAxis
	failResets   int
	resets       int
	mu           sync.Mutex
}

func (r *rig) Reconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	if r.failResets > 0 {
		r.failResets--
		return errors.New("controller unreachable")
	}
	r.delay.reset()
	r.power.reset()
	return nil
}

func (r *rig) breakAll() {
	r.delay.mu.Lock()
	r.delay.broken = true
	r.delay.mu.Unlock()
	r.power.mu.Lock()
	r.power.broken = true
	r.power.mu.Unlock()
}

func newRig(t *testing.T, policy position.RetryPolicy) (*rig, *position.Controller) {
	r := &rig{delay: &fakeAxis{}, power: &fakeAxis{}}
	c := position.New(r, policy)
	require.NoError(t, c.Add("delay", r.delay, 5e-4))
	require.NoError(t, c.Add("power", r.power, 1e-3))
	return r, c
}

func TestMoveToConverges(t *testing.T) {
	r, c := newRig(t, fast)
	var msgs []string
	c.Status = func(axis, msg string) { msgs = append(msgs, axis+" "+msg) }
	require.NoError(t, c.MoveTo(context.Background(), "delay", 1.5))
	p, err := c.GetPos("delay")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, p, 5e-4)
	assert.Equal(t, []string{"delay moving", "delay settled at 1.5"}, msgs)
	assert.GreaterOrEqual(t, len(r.delay.readings), 3)
}

func TestMoveToNeverReturnsOutOfTolerance(t *testing.T) {
	r, c := newRig(t, fast)
	for _, target := range []float64{0.1, 2, -3} {
		require.NoError(t, c.MoveTo(context.Background(), "power", target))
		r.power.mu.Lock()
		last := r.power.readings[len(r.power.readings)-1]
		r.power.mu.Unlock()
		assert.LessOrEqual(t, math.Abs(last-target), 1e-3)
	}
}

func TestFaultThenRecoveryRestoresBothSetpoints(t *testing.T) {
	r, c := newRig(t, fast)
	ctx := context.Background()
	require.NoError(t, c.MoveTo(ctx, "power", 0.25))
	require.NoError(t, c.MoveTo(ctx, "delay", 1))

	r.breakAll()
	r.failResets = 2
	var msgs []string
	c.Status = func(axis, msg string) { msgs = append(msgs, msg) }

	require.NoError(t, c.MoveTo(ctx, "delay", 2))

	assert.Equal(t, 3, r.resets, "two failed resets then one success")
	// the power axis was re-commanded to its old setpoint after the reset
	assert.Equal(t, []float64{0.25, 0.25}, r.power.moves)
	assert.Equal(t, 2., r.delay.target)
	assert.Contains(t, msgs, "reconnecting")
	assert.Equal(t, "settled at 2", msgs[len(msgs)-1])

	for _, s := range c.Sessions() {
		assert.Equal(t, position.Connected, s.State, s.Name)
	}
	ds, _ := c.Session("delay")
	assert.Equal(t, 2., ds.LastCommanded)
	ps, _ := c.Session("power")
	assert.Equal(t, 0.25, ps.LastCommanded)
}

func TestFaultDuringPollIsRecovered(t *testing.T) {
	r, c := newRig(t, fast)
	r.delay.failPoll = 2
	require.NoError(t, c.MoveTo(context.Background(), "delay", 3))
	assert.Equal(t, 1, r.resets)
	assert.Equal(t, []float64{3, 3}, r.delay.moves, "move reissued after the reset")
	p, err := c.GetPos("delay")
	require.NoError(t, err)
	assert.Equal(t, 3., p)
}

func TestBoundedPolicyGivesUp(t *testing.T) {
	policy := fast
	policy.MaxAttempts = 3
	r, c := newRig(t, policy)
	r.breakAll()
	r.failResets = 100
	err := c.MoveTo(context.Background(), "delay", 1)
	var hf *position.HardwareFaultError
	require.ErrorAs(t, err, &hf)
	assert.Equal(t, 3, hf.Attempts)
	assert.Equal(t, "delay", hf.Axis)
	s, _ := c.Session("delay")
	assert.Equal(t, position.Faulted, s.State)
}

func TestUnboundedPolicyStopsOnContext(t *testing.T) {
	r, c := newRig(t, fast)
	r.breakAll()
	r.failResets = math.MaxInt32
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.MoveTo(ctx, "delay", 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, fast.Bounded())
}

func TestUnboundedPolicyNeverReportsHardwareFault(t *testing.T) {
	// the deadline falls between two reconnect attempts
	slow := position.RetryPolicy{PollInterval: time.Millisecond, Interval: 30 * time.Millisecond}
	r, c := newRig(t, slow)
	r.breakAll()
	r.failResets = math.MaxInt32
	ctx, cancel := context.WithTimeout(context.Background(), 75*time.Millisecond)
	defer cancel()
	err := c.MoveTo(ctx, "delay", 1)
	var hf *position.HardwareFaultError
	assert.False(t, errors.As(err, &hf), "unexpected %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Error(t, ctx.Err(), "MoveTo returned before the deadline")
}

func TestUnknownAxisAndBadTolerance(t *testing.T) {
	_, c := newRig(t, fast)
	assert.ErrorIs(t, c.MoveTo(context.Background(), "focus", 1), position.ErrUnknownAxis)
	assert.Error(t, c.Add("focus", &fakeAxis{}, 0))
	assert.Error(t, c.Add("delay", &fakeAxis{}, 1), "duplicate axis")
}

func TestMockXPSDisconnectRecovers(t *testing.T) {
	xps := newport.NewMockXPS()
	c := position.New(xps, fast)
	require.NoError(t, c.Add("delay", newport.Positioner(xps, "GROUP1.POSITIONER"), 5e-4))
	require.NoError(t, c.Add("power", newport.Positioner(xps, "GROUP3.POSITIONER"), 1e-3))
	ctx := context.Background()
	require.NoError(t, c.MoveTo(ctx, "power", 0.5))
	require.NoError(t, c.MoveTo(ctx, "delay", 0.1))

	xps.Disconnect(1)
	require.NoError(t, c.MoveTo(ctx, "delay", 0.2))
	assert.Equal(t, 1, xps.Reconnects())

	// the reconnect homed both stages; power must have been sent back
	require.Eventually(t, func() bool {
		p, err := xps.GetPos("GROUP3.POSITIONER")
		return err == nil && math.Abs(p-0.5) <= 1e-3
	}, 2*time.Second, time.Millisecond)
}

func TestHTTP(t *testing.T) {
	_, c := newRig(t, fast)
	r := chi.NewRouter()
	position.HTTP(c, r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/axis/delay/pos", "application/json", strings.NewReader(`{"f64": 0.75}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/axis/delay/pos")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"f64": 0.75}`, string(body))

	resp, err = http.Get(srv.URL + "/axis/delay/state")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.JSONEq(t, `{"str": "connected"}`, string(body))

	resp, err = http.Get(srv.URL + "/axis/power/connected")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.JSONEq(t, `{"bool": true}`, string(body))

	resp, err = http.Get(srv.URL + "/axis/focus/pos")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
