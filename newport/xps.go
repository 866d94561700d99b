package newport

import (
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/nasa-jpl/pumpprobe/comm"
	"github.com/nasa-jpl/pumpprobe/util"
)

var (
	// XPSErrorCodes maps XPS error integers to strings
	XPSErrorCodes = map[int]string{
		0: "SUCCESS",

		-115: "HARDWARE FUNCTION NOT SUPPORTED",
		-113: "BOTH ENDS OF RUNS ACTIVATED",
		-112: "EXCITATION SIGNAL INITIALIZATION",
		-111: "GATHERING BUFFER FULL",
		-110: "NOT ALLOWED FOR GANTRY",
		-109: "NEED TO BE HOMED AT LEAST ONCE",
		-108: "SOCKET CLOSED BY ADMIN",
		-107: "NEED ADMINISTRATOR RIGHTS",
		-106: "WRONG USERNAME OR PASSWORD",
		-105: "SCALING CALIBRATION",
		-104: "PID TUNING INITIALIZATION",
		-103: "SIGNAL POINTS NOT ENOUGH",
		-102: "RELAY FEEDBACK TEST SIGNAL NOISY",
		-101: "RELAY FEEDBACK TEST NO OSCILLATION",
		-100: "INTERNAL ERROR",
		-99:  "FATAL EXTERNAL MODULE LOAD",
		-98:  "OPTIONAL EXTERNAL MODULE UNLOAD",
		-97:  "OPTIONAL EXTERNAL MODULE LOAD",
		-96:  "OPTIONAL EXTERNAL MODULE KILL",
		-95:  "OPTIONAL EXTERNAL MODULE EXECUTE",
		-94:  "OPTIONAL EXTERNAL MODULE FILE",

		-85: "HOME SEARCH GANTRY TOLERANCE ERROR",
		-83: "EVENT ID UNDEFINED",
		-82: "EVENT BUFFER FULL",
		-81: "ACTIONS NOT CONFIGURED",
		-80: "EVENTS NOT CONFIGURED",

		-75: "TRAJ TIME",
		-74: "READ FILE PARAMETER KEY",
		-73: "END OF FILE",
		-72: "TRAJ INIITALIZATION",
		-71: "MSG QUEUE",
		-70: "TRAJ FINAL VELOCITY",
		-69: "TRAJ ACC LIMIT",
		-68: "TRAJ VEL LIMIT",
		// no -67
		-66: "TRAJ EMPTY",
		-65: "TRAJ ELEM LINE",
		-64: "TRAJ ELEM SWEEP",
		-63: "TRAJ ELEM RADIUS",
		-62: "TRAJ ELEM TYPE",
		-61: "READ FILE",
		-60: "WRITE FILE",

		-51: "SPIN OUT OF RANGE",
		-50: "MOTOR INITIALIZATION ERROR",
		-49: "GROUP HOME SEARCH ZM ERROR",
		-48: "BASE VELOCITY",
		-47: "WRONG TCL TASKNAME",
		-46: "NOT ALLOWED BACKLASH",
		-45: "END OF RUN",
		-44: "SLAVE",
		-43: "GATHERING RUNNING",
		-42: "JOB OUT OF RANGE",
		-41: "SLAVE CONFIGURATION",
		-40: "MNEMO EVENT",
		-39: "NMEMO ACTION",
		-38: "TCL INTERPRETOR",
		-37: "TCL SCRIPT KILL",
		-36: "UNKNOWN TCL FILE",
		-35: "TRAVEL LIMITS",
		// no -34
		-33: "GROUP MOTION DONE TIMEOUT",
		-32: "GATHERING NOT CONFIGURED",
		-31: "HOME OUT OF RANGE",
		-30: "GATHERING NOT STARTED",
		-29: "MNEMOTYPEGATHERING",
		-28: "GROUP HOME SEARCH TIMEOUT",
		-27: "GROUP ABORT MOTION",
		-26: "EMERGENCY SIGNAL",
		-25: "FOLLOWING ERROR",
		-24: "UNCOMPATIBLE",
		-23: "POSITION COMPARE NOT SET",
		-22: "NOT ALLOWED ACTION",
		-21: "IN INITIALIZATION",
		-20: "FATAL INIT",
		-19: "GROUP NAME",
		-18: "POSITIONER NAME",
		-17: "PARAMETER OUT OF RANGE",
		-16: "WRONG TYPE UNSIGNEDINT",
		-15: "WRONG TYPE INT",
		-14: "WRONG TYPE DOUBLE",
		-13: "WRONG TYPE CHAR",
		-12: "WRONG TYPE BOOL",
		-11: "WRONG TYPE BIT WORD",
		-10: "WRONG TYPE",
		-9:  "WRONG PARAMETER NUMBER",
		-8:  "WRONG OBJECT TYPE",
		-7:  "WRONG FORMAT",
		// no -6
		-5: "POSITIONER ERROR",
		-4: "UNKNOWN COMMAND",
		-3: "STRING TOO LONG",
		-2: "TCP TIMEOUT",
		-1: "BUSY SOCKET",
		1:  "TCL INTERPRETOR ERROR",
	}
)

const (
	// XPSPort is the TCP port of the XPS native API
	XPSPort = 5001

	endOfAPI = "EndOfAPI"

	xpsConcurrencyLimit = 4
)

// XPSErr is a fancy Error() wrapper around error codes
type XPSErr int

// Error implements the error interface
func (e XPSErr) Error() string {
	if s, ok := XPSErrorCodes[int(e)]; ok {
		return fmt.Sprintf("%d - %s", e, s)
	}
	return fmt.Sprintf("%d - ERROR_UNKNOWN_TO_PUMPPROBE", e)
}

// XPSError converts an error code to something that implements the error interface
func XPSError(code int) error {
	if code == 0 {
		return nil
	}
	return XPSErr(code)
}

// popError pulls the error code off of a raw response
// and returns the code and the remaining comma separated values.
// "0,1.5,EndOfAPI" => 0, ["1.5"]
func popError(resp string) (int, []string, error) {
	resp = strings.TrimSuffix(strings.TrimSpace(resp), endOfAPI)
	resp = strings.TrimSuffix(resp, ",")
	parts := strings.Split(resp, ",")
	code, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, nil, fmt.Errorf("malformed XPS response %q: %w", resp, err)
	}
	return code, parts[1:], nil
}

// GroupOf returns the group portion of a positioner name,
// GROUP1.POSITIONER => GROUP1
func GroupOf(positioner string) string {
	if i := strings.IndexByte(positioner, '.'); i >= 0 {
		return positioner[:i]
	}
	return positioner
}

/*XPS represents an XPS series motion controller spoken to over its native
TCP API.

Each positioner is addressed by its full name, e.g. GROUP1.POSITIONER.  The
usual practice of one positioner per group is assumed, so group-level
commands are issued for the positioner's group.

Commands are sent over a small pool of sockets, the XPS serves several
simultaneously.  A socket that errors is discarded rather than reused.
*/
type XPS struct {
	Addr string

	// Timeout bounds query commands
	Timeout time.Duration

	// MoveTimeout bounds GroupMoveAbsolute and GroupHomeSearch, which the
	// controller does not answer until motion is complete
	MoveTimeout time.Duration

	// Groups are killed, initialized and homed by Reconnect when Initialize is true
	Groups     []string
	Initialize bool

	pool *comm.Pool
}

// NewXPS makes a new XPS instance.  If addr has no port, XPSPort is used.
func NewXPS(addr string) *XPS {
	if !strings.Contains(addr, ":") {
		addr = fmt.Sprintf("%s:%d", addr, XPSPort)
	}
	xps := &XPS{
		Addr:        addr,
		Timeout:     comm.DefaultTimeout,
		MoveTimeout: time.Minute,
	}
	xps.pool = comm.NewPool(xpsConcurrencyLimit, time.Minute, func() (io.ReadWriteCloser, error) {
		return comm.TCPSetup(xps.Addr, xps.Timeout)
	})
	return xps
}

// Raw sends a command and returns the raw response with EndOfAPI removed
func (xps *XPS) Raw(cmd string) (string, error) {
	return xps.raw(cmd, xps.Timeout)
}

func (xps *XPS) raw(cmd string, timeout time.Duration) (string, error) {
	conn, err := xps.pool.Get()
	if err != nil {
		return "", err
	}
	comm.Deadline(conn, timeout)
	if _, err = io.WriteString(conn, cmd); err != nil {
		xps.pool.Destroy(conn)
		return "", err
	}
	resp, err := comm.ReadUntil(conn, []byte(endOfAPI))
	if err != nil {
		xps.pool.Destroy(conn)
		return "", err
	}
	xps.pool.Put(conn)
	return string(resp), nil
}

// call sends a command and returns the values following the error code
func (xps *XPS) call(cmd string, timeout time.Duration) ([]string, error) {
	resp, err := xps.raw(cmd, timeout)
	if err != nil {
		return nil, err
	}
	code, vals, err := popError(resp)
	if err != nil {
		return nil, err
	}
	return vals, XPSError(code)
}

// GroupKill kills a group, returning it to the not initialized state
func (xps *XPS) GroupKill(gid string) error {
	_, err := xps.call(fmt.Sprintf("GroupKill(%s)", gid), xps.Timeout)
	return err
}

// GroupInitialize initializes a group
func (xps *XPS) GroupInitialize(gid string) error {
	_, err := xps.call(fmt.Sprintf("GroupInitialize(%s)", gid), xps.Timeout)
	return err
}

// GroupHomeSearch homes a group.  It blocks until homing is complete.
func (xps *XPS) GroupHomeSearch(gid string) error {
	_, err := xps.call(fmt.Sprintf("GroupHomeSearch(%s)", gid), xps.MoveTimeout)
	return err
}

// GroupMoveAbsolute moves a group or positioner to an absolute position
func (xps *XPS) GroupMoveAbsolute(gid string, pos []float64) error {
	fstr := util.Float64SliceToCSV(pos, 'G', 9)
	_, err := xps.call(fmt.Sprintf("GroupMoveAbsolute(%s,%s)", gid, fstr), xps.MoveTimeout)
	return err
}

// GroupPositionCurrentGet gets the current absolute position of the n
// elements of a group.  There is no way to query n from the controller.
func (xps *XPS) GroupPositionCurrentGet(gid string, n int) ([]float64, error) {
	args := make([]string, n)
	for i := range args {
		args[i] = "double *"
	}
	vals, err := xps.call(fmt.Sprintf("GroupPositionCurrentGet(%s,%s)", gid, strings.Join(args, ",")), xps.Timeout)
	if err != nil {
		return nil, err
	}
	if len(vals) < n {
		return nil, fmt.Errorf("GroupPositionCurrentGet(%s): expected %d values, got %d", gid, n, len(vals))
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i], err = strconv.ParseFloat(strings.TrimSpace(vals[i]), 64)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MoveAbs moves a positioner to an absolute position
func (xps *XPS) MoveAbs(positioner string, pos float64) error {
	return xps.GroupMoveAbsolute(positioner, []float64{pos})
}

// GetPos gets the current position of a positioner
func (xps *XPS) GetPos(positioner string) (float64, error) {
	p, err := xps.GroupPositionCurrentGet(positioner, 1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

// Home kills, initializes and homes the group of a positioner
func (xps *XPS) Home(positioner string) error {
	gid := GroupOf(positioner)
	// kill fails harmlessly on a group that was never initialized
	if err := xps.GroupKill(gid); err != nil {
		log.Printf("XPS %s GroupKill(%s): %s\n", xps.Addr, gid, err)
	}
	if err := xps.GroupInitialize(gid); err != nil {
		return err
	}
	return xps.GroupHomeSearch(gid)
}

// Reconnect discards every pooled socket and, when Initialize is set,
// re-initializes and homes the configured groups.  Positions are lost; the
// caller must re-issue its setpoints.
func (xps *XPS) Reconnect() error {
	xps.pool.Drain()
	conn, err := xps.pool.Get()
	if err != nil {
		return err
	}
	xps.pool.Put(conn)
	if !xps.Initialize {
		return nil
	}
	for _, g := range xps.Groups {
		if err := xps.Home(g); err != nil {
			return fmt.Errorf("initializing %s: %w", g, err)
		}
	}
	return nil
}

// Close frees all idle sockets to the controller
func (xps *XPS) Close() error {
	xps.pool.Drain()
	return nil
}
