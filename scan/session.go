package scan

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nasa-jpl/pumpprobe/server/middleware/locker"
)

// ErrBusy is generated when a scan is started while another is running
var ErrBusy = errors.New("a scan is already running")

// Status is a snapshot of a Session
type Status struct {
	Running bool    `json:"running"`
	RunID   string  `json:"runID,omitempty"`
	Percent int     `json:"percent"`
	Step    int     `json:"step"`
	Total   int     `json:"total"`
	Message string  `json:"message"`
	Last    *Result `json:"last,omitempty"`
}

// Session starts runs on a background worker, one at a time, and tracks
// their progress for callers that poll
type Session struct {
	// Observer, if not nil, also receives every event of every run
	Observer Observer

	// Locker, if not nil, is locked while a run is in progress so that
	// manual moves and captures cannot interleave with the scan
	Locker *locker.Locker

	orch *Orchestrator
	ctx  context.Context

	mu      sync.Mutex
	run     *Run
	percent int
	message string
	last    *Result
	done    chan struct{}
}

// NewSession returns a Session running scans with o.  ctx bounds the life
// of every run; it is the process context, not a stop button.
func NewSession(ctx context.Context, o *Orchestrator) *Session {
	s := &Session{orch: o, ctx: ctx, message: "idle"}
	prev := o.Observer
	obs := Observers{FuncObserver{OnProgress: s.progress, OnStatus: s.status, OnDone: s.finish}}
	if prev != nil {
		obs = append(obs, prev)
	}
	o.Observer = obs
	return s
}

// Orchestrator returns the orchestrator runs are executed with
func (s *Session) Orchestrator() *Orchestrator {
	return s.orch
}

func (s *Session) progress(p int) {
	s.mu.Lock()
	s.percent = p
	s.mu.Unlock()
	if s.Observer != nil {
		s.Observer.Progress(p)
	}
}

// Status forwards a message from the positioning layer or the run
func (s *Session) status(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
	if s.Observer != nil {
		s.Observer.Status(msg)
	}
}

// AxisStatus adapts status to position.Controller.Status
func (s *Session) AxisStatus(axis, msg string) {
	s.status(axis + ": " + msg)
}

// finish ends the run: the lock is released before the run is cleared, so
// the next run cannot take it first
func (s *Session) finish(r Result) {
	if s.Locker != nil {
		s.Locker.Unlock()
	}
	s.mu.Lock()
	s.last = &r
	s.message = r.Status()
	s.run = nil
	s.mu.Unlock()
	if s.Observer != nil {
		s.Observer.Done(r)
	}
}

// StartScan validates cfg and starts a run in the background, returning its
// ID.  Configuration errors are returned before anything moves.
func (s *Session) StartScan(cfg Config) (string, error) {
	run, err := NewRun(cfg)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	if s.run != nil {
		s.mu.Unlock()
		return "", ErrBusy
	}
	run.Started = time.Now()
	s.run = run
	s.percent = 0
	s.message = "starting"
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	if s.Locker != nil {
		s.Locker.Lock()
	}
	go func() {
		defer close(done)
		s.orch.Run(s.ctx, run)
	}()
	return run.ID, nil
}

// Stop asks the running scan to stop at the next point.  It returns false
// if no scan is running.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return false
	}
	s.run.Stop.Stop()
	s.message = "stopping"
	return true
}

// Wait blocks until the current run, if any, has finished
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Percent: s.percent, Message: s.message, Last: s.last}
	if s.run != nil {
		st.Running = true
		st.RunID = s.run.ID
		st.Step = s.run.Step()
		st.Total = s.run.Total()
	}
	return st
}
