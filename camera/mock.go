package camera

import (
	"errors"
	"math"
	"sync"

	"github.com/nasa-jpl/pumpprobe/improc"
)

// Mock is an in-process camera producing a gaussian spot on a flat
// background.  While PumpOn reports true the spot brightens by PumpGain.
type Mock struct {
	Width, Height int

	// Background is the dark level of every pixel
	Background int64

	// Peak is the height of the spot above background
	Peak float64

	// PumpGain is the fractional change of the spot while pumped
	PumpGain float64

	// PumpOn, if not nil, reports whether the pump beam is unblocked
	PumpOn func() bool

	// Fail, if not nil, is returned by Capture
	Fail error

	mu       sync.Mutex
	settings Settings
	captures int
}

// NewMock returns a w x h mock camera
func NewMock(w, h int) *Mock {
	return &Mock{Width: w, Height: h, Background: 100, Peak: 1000, PumpGain: 0.05}
}

// Configure records the settings.  The binning divides the frame size.
func (m *Mock) Configure(s Settings) error {
	if s.Exposure < 0 {
		return errors.New("negative exposure time")
	}
	if s.Binning != "" {
		if _, err := ParseBinning(s.Binning); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	return nil
}

// Settings returns the last settings applied
func (m *Mock) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// Captures returns the number of frames taken
func (m *Mock) Captures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captures
}

// Capture produces a frame
func (m *Mock) Capture() (*improc.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	m.captures++
	w, h := m.Width, m.Height
	if b, err := ParseBinning(m.settings.Binning); err == nil {
		w, h = max(w/b.H, 1), max(h/b.V, 1)
	}
	peak := m.Peak
	if m.PumpOn != nil && m.PumpOn() {
		peak *= 1 + m.PumpGain
	}
	out := improc.NewImage(w, h)
	cx, cy := float64(w-1)/2, float64(h-1)/2
	sigma := float64(min(w, h)) / 6
	if sigma == 0 {
		sigma = 1
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r2 := (float64(x)-cx)*(float64(x)-cx) + (float64(y)-cy)*(float64(y)-cy)
			out.Set(x, y, m.Background+int64(math.Round(peak*math.Exp(-r2/(2*sigma*sigma)))))
		}
	}
	return out, nil
}
