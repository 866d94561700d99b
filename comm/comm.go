/*Package comm provides embeddable types for communication with lab hardware
over TCP or RS-232.

Most usages of this package will boil down to:
	1.  embed a *RemoteDevice in a type that represents your hardware.
	2.  set the Terminators if the defaults (carriage return both ways) are wrong
	3.  Write any methods you see fit based on SendRecv

A minimal example for a sensor that responds to "RD?" with a number:

	type MySensor struct {
		*comm.RemoteDevice
	}

	func (ms *MySensor) ReadTemp() (float64, error) {
		resp, err := ms.OpenSendRecv([]byte("RD?"))
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(string(resp), 64)
	}

Connections made by TCPSetup or a pool carry per-call deadlines, see Deadline.
*/
package comm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"
)

var (
	// ErrNoSerialConf is generated when IsSerial is true but no serial
	// configuration was given
	ErrNoSerialConf = errors.New("IsSerial=true but the device has no serial config")

	// ErrNotConnected is generated when the connection is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// DefaultTimeout is used for connect, read and write when a device does
// not set its own
const DefaultTimeout = 3 * time.Second

// Terminators holds the bytes that end a message in each direction
type Terminators struct {
	Rx byte
	Tx byte
}

// CR is the default terminator pair
var CR = Terminators{Rx: '\r', Tx: '\r'}

// LF is a common alternative to CR
var LF = Terminators{Rx: '\n', Tx: '\n'}

/*RemoteDevice has an address and can Open, Send, Recv and Close.

The device is concurrent-safe for SendRecv; a mutex serializes the exchange of
a command and its response.
*/
type RemoteDevice struct {
	Addr     string
	IsSerial bool
	Timeout  time.Duration
	Terminators

	// Limiter, if not nil, paces outgoing messages.  Some GPIB gateways drop
	// commands sent back to back.
	Limiter *rate.Limiter

	serCfg *serial.Config
	conn   io.ReadWriteCloser
	rdr    *bufio.Reader
	mu     sync.Mutex
}

// NewRemoteDevice creates a new RemoteDevice instance.  term and serCfg may
// be nil; the default terminators are CR.
func NewRemoteDevice(addr string, isSerial bool, term *Terminators, serCfg *serial.Config) *RemoteDevice {
	t := CR
	if term != nil {
		t = *term
	}
	if serCfg != nil && serCfg.Name == "" {
		serCfg.Name = addr
	}
	return &RemoteDevice{
		Addr:        addr,
		IsSerial:    isSerial,
		Timeout:     DefaultTimeout,
		Terminators: t,
		serCfg:      serCfg,
	}
}

func (rd *RemoteDevice) timeout() time.Duration {
	if rd.Timeout <= 0 {
		return DefaultTimeout
	}
	return rd.Timeout
}

// Open the connection.  A no-op if already open.
func (rd *RemoteDevice) Open() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.conn != nil {
		return nil
	}
	// exponential backoff, some gateways do not like being connection thrashed.
	// A refused connection is permanent, a timeout is retried.
	permanent := false
	op := func() error {
		err := rd.open()
		if err == nil {
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "refused") || errors.Is(err, ErrNoSerialConf) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		if permanent {
			return err
		}
		return fmt.Errorf("connection timeout to %s: %w", rd.Addr, err)
	}
	return nil
}

func (rd *RemoteDevice) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if rd.IsSerial {
		if rd.serCfg == nil {
			return ErrNoSerialConf
		}
		cfg := *rd.serCfg
		if cfg.ReadTimeout == 0 {
			cfg.ReadTimeout = rd.timeout()
		}
		conn, err = serial.OpenPort(&cfg)
	} else {
		conn, err = TCPSetup(rd.Addr, rd.timeout())
	}
	if err != nil {
		return err
	}
	rd.conn = conn
	rd.rdr = bufio.NewReader(conn)
	return nil
}

// Close the connection.  A no-op if already closed.
func (rd *RemoteDevice) Close() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.close()
}

func (rd *RemoteDevice) close() error {
	if rd.conn == nil {
		return nil
	}
	err := rd.conn.Close()
	rd.conn = nil
	rd.rdr = nil
	return err
}

// Connected returns true if the connection is open
func (rd *RemoteDevice) Connected() bool {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.conn != nil
}

func (rd *RemoteDevice) send(b []byte) error {
	if rd.conn == nil {
		return ErrNotConnected
	}
	if rd.Limiter != nil {
		if err := rd.Limiter.Wait(context.Background()); err != nil {
			return err
		}
	}
	Deadline(rd.conn, rd.timeout())
	msg := make([]byte, 0, len(b)+1)
	msg = append(msg, b...)
	msg = append(msg, rd.Tx)
	_, err := rd.conn.Write(msg)
	return err
}

func (rd *RemoteDevice) recv() ([]byte, error) {
	if rd.conn == nil {
		return nil, ErrNotConnected
	}
	Deadline(rd.conn, rd.timeout())
	buf, err := rd.rdr.ReadBytes(rd.Rx)
	if err != nil {
		if len(buf) > 0 && err == io.EOF {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	return bytes.TrimSuffix(buf, []byte{rd.Rx}), nil
}

// Send writes data to the remote with the Tx terminator appended
func (rd *RemoteDevice) Send(b []byte) error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.send(b)
}

// Recv receives data from the remote and strips the Rx terminator
func (rd *RemoteDevice) Recv() ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.recv()
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped.
// A failed exchange closes the connection so the next Open starts clean.
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if err := rd.send(b); err != nil {
		rd.close()
		return nil, err
	}
	resp, err := rd.recv()
	if err != nil {
		rd.close()
	}
	return resp, err
}

// OpenSendRecv opens the connection if needed, then calls SendRecv
func (rd *RemoteDevice) OpenSendRecv(b []byte) ([]byte, error) {
	if err := rd.Open(); err != nil {
		return nil, err
	}
	return rd.SendRecv(b)
}

// OpenSend opens the connection if needed, then calls Send.
// A failed send closes the connection.
func (rd *RemoteDevice) OpenSend(b []byte) error {
	if err := rd.Open(); err != nil {
		return err
	}
	rd.mu.Lock()
	defer rd.mu.Unlock()
	err := rd.send(b)
	if err != nil {
		rd.close()
	}
	return err
}

// TCPSetup opens a new TCP connection with a timeout on connect
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}

// Deadline sets a read and write deadline timeout from now on rw, if rw
// supports deadlines.  Serial ports do not; their timeout is fixed at open.
func Deadline(rw io.ReadWriter, timeout time.Duration) {
	if c, ok := rw.(net.Conn); ok {
		deadline := time.Now().Add(timeout)
		c.SetDeadline(deadline)
	}
}

// ReadUntil reads from r until the delimiter is found, returning everything
// before it.  r is read one byte at a time so nothing past the delimiter is
// consumed, which keeps r reusable for the next exchange.
func ReadUntil(r io.Reader, delim []byte) ([]byte, error) {
	var (
		buf bytes.Buffer
		b   = make([]byte, 1)
	)
	for {
		n, err := r.Read(b)
		if n == 1 {
			buf.WriteByte(b[0])
			if bytes.HasSuffix(buf.Bytes(), delim) {
				return bytes.TrimSuffix(buf.Bytes(), delim), nil
			}
		}
		if err != nil {
			if err == io.EOF && buf.Len() > 0 {
				return buf.Bytes(), ErrTerminatorNotFound
			}
			return buf.Bytes(), err
		}
	}
}
