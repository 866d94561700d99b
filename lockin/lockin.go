/*Package lockin drives Stanford Research SR830 and SR844 lock-in amplifiers,
whose auxiliary analog outputs double as an electronic shutter gate for the
pump beam.

The two models spell the aux output command differently.  Connect asks the
instrument for its identity once and returns the matching variant.
*/
package lockin

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/pumpprobe/comm"
)

// ErrUnknownModel is generated when *IDN? does not name a supported model
var ErrUnknownModel = errors.New("lock-in model not recognized")

var modelRE = regexp.MustCompile(`SR(\d{3})`)

// Device is the transport a lock-in is spoken to over.
// *comm.RemoteDevice satisfies it.
type Device interface {
	OpenSendRecv([]byte) ([]byte, error)
	OpenSend([]byte) error
}

// Gate sets the level of an auxiliary output used as a shutter gate
type Gate interface {
	SetGate(channel string, level int) error
}

// LockIn is a connected lock-in amplifier
type LockIn interface {
	Gate

	// GetXYR returns the X, Y, and R outputs in volts
	GetXYR() ([3]float64, error)

	// Model returns the model number, e.g. 830
	Model() int
}

// NewRemoteDevice returns a transport for a lock-in at addr.  When isSerial
// is true addr is a serial port at baud; otherwise addr is the host:port of
// a GPIB-ethernet gateway.  Commands are paced to one per 10 ms.
func NewRemoteDevice(addr string, isSerial bool, baud int) *comm.RemoteDevice {
	var cfg *serial.Config
	if isSerial {
		cfg = &serial.Config{Name: addr, Baud: baud, ReadTimeout: time.Second}
	}
	rd := comm.NewRemoteDevice(addr, isSerial, &comm.LF, cfg)
	rd.Limiter = rate.NewLimiter(rate.Every(10*time.Millisecond), 1)
	return rd
}

// Connect identifies the instrument behind dev and returns the variant for
// its model
func Connect(dev Device) (LockIn, error) {
	resp, err := dev.OpenSendRecv([]byte("*IDN?"))
	if err != nil {
		return nil, err
	}
	idn := strings.TrimSpace(string(resp))
	m := modelRE.FindStringSubmatch(idn)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, idn)
	}
	model, _ := strconv.Atoi(m[1])
	switch model {
	case 830:
		return &sr830{srBase{dev: dev, model: model}}, nil
	case 844:
		return &sr844{srBase{dev: dev, model: model}}, nil
	default:
		return nil, fmt.Errorf("%w: SR%d", ErrUnknownModel, model)
	}
}

type srBase struct {
	dev   Device
	model int
}

func (s srBase) Model() int { return s.model }

func (s srBase) GetXYR() ([3]float64, error) {
	var out [3]float64
	resp, err := s.dev.OpenSendRecv([]byte("SNAP? 1,2,3"))
	if err != nil {
		return out, err
	}
	parts := strings.Split(strings.TrimSpace(string(resp)), ",")
	if len(parts) != 3 {
		return out, fmt.Errorf("SNAP? returned %d values, expected 3: %q", len(parts), resp)
	}
	for i, p := range parts {
		out[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s srBase) aux(cmd, channel string, level int) error {
	return s.dev.OpenSend([]byte(fmt.Sprintf("%s %s, %d", cmd, channel, level)))
}

// sr830 spells the aux output command AUXV
type sr830 struct{ srBase }

func (s *sr830) SetGate(channel string, level int) error {
	return s.aux("AUXV", channel, level)
}

// sr844 spells the aux output command AUXO
type sr844 struct{ srBase }

func (s *sr844) SetGate(channel string, level int) error {
	return s.aux("AUXO", channel, level)
}
