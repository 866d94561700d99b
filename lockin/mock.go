package lockin

import "sync"

// Mock is an in-process lock-in.  It records every gate level it is set to.
type Mock struct {
	mu      sync.Mutex
	level   map[string]int
	history []int

	// Fail, if not nil, is returned by every call
	Fail error
}

// NewMock returns a Mock with every channel at zero
func NewMock() *Mock {
	return &Mock{level: map[string]int{}}
}

// SetGate sets the level of an aux channel
func (m *Mock) SetGate(channel string, level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.level[channel] = level
	m.history = append(m.history, level)
	return nil
}

// Level returns the current level of an aux channel
func (m *Mock) Level(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level[channel]
}

// History returns every level set, on any channel, in order
func (m *Mock) History() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.history...)
}

// GetXYR returns a fixed signal
func (m *Mock) GetXYR() ([3]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return [3]float64{}, m.Fail
	}
	return [3]float64{1e-3, 0, 1e-3}, nil
}

// Model returns 830
func (m *Mock) Model() int { return 830 }
