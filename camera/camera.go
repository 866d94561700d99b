/*Package camera describes the camera the experiment captures frames with,
and provides a client for a camera served over HTTP and an in-process mock.
*/
package camera

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nasa-jpl/pumpprobe/improc"
)

// Binning encapsulates information about pixel addition on camera
type Binning struct {
	// H is the horizontal binning factor
	H int `json:"h"`

	// V is the vertical binning factor
	V int `json:"v"`
}

// String returns the binning as HxV, e.g. 4x4
func (b Binning) String() string {
	return fmt.Sprintf("%dx%d", b.H, b.V)
}

// ParseBinning parses "4x4" or "4" into a Binning
func ParseBinning(s string) (Binning, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	parts := strings.SplitN(s, "x", 2)
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 1 {
		return Binning{}, fmt.Errorf("invalid binning %q", s)
	}
	v := h
	if len(parts) == 2 {
		v, err = strconv.Atoi(parts[1])
		if err != nil || v < 1 {
			return Binning{}, fmt.Errorf("invalid binning %q", s)
		}
	}
	return Binning{H: h, V: v}, nil
}

// Settings are applied to the camera once before a scan
type Settings struct {
	Exposure time.Duration `koanf:"Exposure" yaml:"Exposure" json:"exposure"`

	// Binning is written HxV, e.g. 4x4
	Binning string `koanf:"Binning" yaml:"Binning" json:"binning"`

	Gain int `koanf:"Gain" yaml:"Gain" json:"gain"`

	// Mode is the readout mode, e.g. "Normal" or "Alternate Normal"
	Mode string `koanf:"Mode" yaml:"Mode" json:"mode"`
}

// Camera captures frames
type Camera interface {
	// Configure applies exposure, binning, gain, and readout mode
	Configure(Settings) error

	// Capture takes one frame
	Capture() (*improc.Image, error)
}
