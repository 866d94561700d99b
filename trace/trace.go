// Package trace follows the mean normalized signal of a scan as it runs,
// and writes it out as CSV and a plot of signal against delay per power.
package trace

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/nasa-jpl/pumpprobe/improc"
	"github.com/nasa-jpl/pumpprobe/sweep"
	"github.com/nasa-jpl/pumpprobe/util"
)

// Config is the trace section of the configuration
type Config struct {
	Enabled bool `koanf:"Enabled" yaml:"Enabled"`

	// ROI is x0, y0, x1, y1 in pixels.  Empty means the central half of
	// the frame.
	ROI []int `koanf:"ROI" yaml:"ROI"`
}

// Rect returns the configured ROI, the zero rectangle when unset
func (c Config) Rect() (image.Rectangle, error) {
	switch len(c.ROI) {
	case 0:
		return image.Rectangle{}, nil
	case 4:
		r := image.Rect(c.ROI[0], c.ROI[1], c.ROI[2], c.ROI[3])
		if r.Empty() {
			return r, fmt.Errorf("trace ROI %v is empty", c.ROI)
		}
		return r, nil
	default:
		return image.Rectangle{}, fmt.Errorf("trace ROI needs 4 values x0,y0,x1,y1, got %d", len(c.ROI))
	}
}

// Sample is the signal at one scan point
type Sample struct {
	Power  float64 `json:"power"`
	Delay  float64 `json:"delay"`
	Signal float64 `json:"signal"`
}

// Recorder accumulates samples.  It is safe for concurrent use; the scan
// worker records while HTTP handlers read.
type Recorder struct {
	// ROI is averaged over.  The zero rectangle means the central half.
	ROI image.Rectangle

	mu      sync.Mutex
	samples []Sample
}

// New returns a Recorder averaging over roi
func New(roi image.Rectangle) *Recorder {
	return &Recorder{ROI: roi}
}

// Record adds the mean of f inside the ROI at pt and returns it
func (r *Recorder) Record(pt sweep.Point, f improc.Frame) float64 {
	roi := r.ROI
	if roi.Empty() {
		w, h := f.Dims()
		roi = improc.CentralHalf(w, h)
	}
	s := improc.ROIMean(f, roi)
	r.mu.Lock()
	r.samples = append(r.samples, Sample{Power: pt.Power, Delay: pt.Delay, Signal: s})
	r.mu.Unlock()
	return s
}

// Samples returns a copy of the samples so far
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.samples...)
}

// WriteCSV writes the samples as power,delay,signal rows under a header
func (r *Recorder) WriteCSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "power,delay,signal")
	for _, s := range r.Samples() {
		fmt.Fprintln(bw, util.Float64SliceToCSV([]float64{s.Power, s.Delay, s.Signal}, 'g', -1))
	}
	return bw.Flush()
}

// Plot draws signal against delay with one line per power
func (r *Recorder) Plot() (*plot.Plot, error) {
	var (
		powers []float64
		lines  = map[float64]plotter.XYs{}
	)
	for _, s := range r.Samples() {
		if _, ok := lines[s.Power]; !ok {
			powers = append(powers, s.Power)
		}
		lines[s.Power] = append(lines[s.Power], plotter.XY{X: s.Delay, Y: s.Signal})
	}
	p := plot.New()
	p.Title.Text = "mean normalized signal"
	p.X.Label.Text = "delay"
	p.Y.Label.Text = "signal"
	p.Add(plotter.NewGrid())
	for i, pwr := range powers {
		l, s, err := plotter.NewLinePoints(lines[pwr])
		if err != nil {
			return nil, fmt.Errorf("power %g: %w", pwr, err)
		}
		l.Color = plotutil.Color(i)
		l.Width = vg.Points(1)
		s.Color = l.Color
		p.Add(l, s)
		p.Legend.Add(fmt.Sprintf("power %g", pwr), l, s)
	}
	p.Legend.Top = true
	return p, nil
}

// Save writes trace_<name>.csv and trace_<name>.png to folder
func (r *Recorder) Save(folder, name string) error {
	base := filepath.Join(folder, "trace_"+name)
	fid, err := os.Create(base + ".csv")
	if err != nil {
		return err
	}
	err = r.WriteCSV(fid)
	if cerr := fid.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if len(r.Samples()) == 0 {
		return nil
	}
	p, err := r.Plot()
	if err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 5*vg.Inch, base+".png")
}
