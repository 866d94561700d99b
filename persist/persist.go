/*Package persist writes the frames of a scan to disk.

Each enabled channel gets its own folder under the output folder, named
<prefix>_<name>, and each scan point a text file inside it:

	ref_run1/pwr_5.0_delay_0.5.dat
	ref_run1/pwr_5.0_delay_0.5.dat.png

An existing file is only overwritten when the Confirmer agrees.  A refusal
stops the whole run, not just the point.
*/
package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/nasa-jpl/pumpprobe/acquisition"
	"github.com/nasa-jpl/pumpprobe/improc"
	"github.com/nasa-jpl/pumpprobe/sweep"
)

// ErrOverwriteDeclined is generated when a file exists and the Confirmer
// refused to replace it
var ErrOverwriteDeclined = errors.New("overwrite declined")

// PersistenceError is generated when a frame cannot be written
type PersistenceError struct {
	Channel string
	Path    string
	Point   sweep.Point
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error: %s channel, %s: %v", e.Channel, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Stopper is set when a run must not continue
type Stopper interface {
	Stop()
}

// Channels selects which frames of a FrameSet are written
type Channels struct {
	Reference  bool `koanf:"Reference" yaml:"Reference" json:"reference"`
	Pumped     bool `koanf:"Pumped" yaml:"Pumped" json:"pumped"`
	Difference bool `koanf:"Difference" yaml:"Difference" json:"difference"`
	Normalized bool `koanf:"Normalized" yaml:"Normalized" json:"normalized"`
}

// AllChannels enables every channel
var AllChannels = Channels{Reference: true, Pumped: true, Difference: true, Normalized: true}

// Config is the output configuration of a run
type Config struct {
	// Folder is the base output folder
	Folder string `koanf:"Folder" yaml:"Folder" json:"folder"`

	// Name is the file base name, used in every folder and baseline name
	Name string `koanf:"Name" yaml:"Name" json:"name"`

	Channels Channels `koanf:"Channels" yaml:"Channels" json:"channels"`

	// VisualFormat is the format of the renders, png, jpeg, tiff or bmp
	VisualFormat string `koanf:"VisualFormat" yaml:"VisualFormat" json:"visualFormat"`

	// Overwrite is the overwrite policy, ask, always or never
	Overwrite string `koanf:"Overwrite" yaml:"Overwrite" json:"overwrite"`

	// Fits also writes the reference, pumped and difference frames of
	// each point as one FITS cube
	Fits bool `koanf:"Fits" yaml:"Fits" json:"fits"`

	Render improc.RenderOptions `koanf:"Render" yaml:"Render" json:"render"`
}

// Validate checks that the output can be named
func (c Config) Validate() error {
	if c.Folder == "" {
		return errors.New("output folder is empty")
	}
	if c.Name == "" {
		return errors.New("output file name is empty")
	}
	if _, err := ParsePolicy(c.Overwrite); err != nil {
		return err
	}
	return nil
}

type channel struct {
	prefix string
	format string
	frame  func(acquisition.FrameSet) improc.Frame
}

var channels = []channel{
	{"ref", improc.FormatInt, func(fs acquisition.FrameSet) improc.Frame { return fs.Reference }},
	{"pumped", improc.FormatInt, func(fs acquisition.FrameSet) improc.Frame { return fs.Pumped }},
	{"diff", improc.FormatInt, func(fs acquisition.FrameSet) improc.Frame { return fs.Difference }},
	{"diffNorm", improc.FormatFloat5, func(fs acquisition.FrameSet) improc.Frame { return fs.Normalized }},
}

func (c Channels) enabled() []channel {
	on := []bool{c.Reference, c.Pumped, c.Difference, c.Normalized}
	var out []channel
	for i, ch := range channels {
		if on[i] {
			out = append(out, ch)
		}
	}
	return out
}

// Manager writes FrameSets for one run.  It is not thread safe; a run has
// one worker.
type Manager struct {
	Config
	Sink    Sink
	Confirm Confirmer

	// Stop is set when an overwrite is declined
	Stop Stopper

	// Logger, if not nil, reports every file written
	Logger *log.Logger
}

// New returns a Manager writing to the local filesystem
func New(cfg Config, confirm Confirmer, stop Stopper) *Manager {
	return &Manager{Config: cfg, Sink: FileSink{}, Confirm: confirm, Stop: stop}
}

// ChannelFolder returns the folder a channel is written to
func (m *Manager) ChannelFolder(prefix string) string {
	return filepath.Join(m.Folder, prefix+"_"+m.Name)
}

func (m *Manager) logf(format string, args ...interface{}) {
	if m.Logger != nil {
		m.Logger.Printf(format, args...)
	}
}

// writeText writes f as text to path, asking before replacing a file
func (m *Manager) writeText(path string, f improc.Frame, format string) error {
	err := m.Sink.WriteText(path, f, format, false)
	if errors.Is(err, fs.ErrExist) {
		if m.Confirm == nil || !m.Confirm.ConfirmOverwrite(path) {
			if m.Stop != nil {
				m.Stop.Stop()
			}
			return ErrOverwriteDeclined
		}
		err = m.Sink.WriteText(path, f, format, true)
	}
	return err
}

// write writes f as text with its render next to it as <path>.<ext>
func (m *Manager) write(path string, f improc.Frame, format string) error {
	if err := m.writeText(path, f, format); err != nil {
		return err
	}
	img, err := improc.Render(f, m.Render)
	if err != nil {
		return err
	}
	err = m.Sink.WriteVisual(path+"."+improc.VisualExtension(m.VisualFormat), img)
	if err != nil {
		return err
	}
	m.logf("wrote %s\n", path)
	return nil
}

// Save writes each enabled channel of fs for point pt.  The first failure
// stops the save and is returned as a *PersistenceError.
func (m *Manager) Save(set acquisition.FrameSet, pt sweep.Point) error {
	fn := PointName(pt) + ".dat"
	for _, ch := range m.Channels.enabled() {
		dir := m.ChannelFolder(ch.prefix)
		path := filepath.Join(dir, fn)
		if err := os.MkdirAll(dir, 0777); err != nil {
			return &PersistenceError{Channel: ch.prefix, Path: dir, Point: pt, Err: err}
		}
		if err := m.write(path, ch.frame(set), ch.format); err != nil {
			return &PersistenceError{Channel: ch.prefix, Path: path, Point: pt, Err: err}
		}
	}
	if m.Fits {
		dir := filepath.Join(m.Folder, "fits_"+m.Name)
		path := filepath.Join(dir, PointName(pt)+".fits")
		if err := m.writeFits(dir, path, set, pt); err != nil {
			return &PersistenceError{Channel: "fits", Path: path, Point: pt, Err: err}
		}
	}
	return nil
}
