package newport

import (
	"errors"
	"net"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeXPS answers the native API commands the driver uses
type fakeXPS struct {
	mu   sync.Mutex
	pos  map[string]string
	cmds []string
	code string // response code forced on every command, if not empty
}

var callRE = regexp.MustCompile(`^(\w+)\(([^,)]*)(?:,([^)]*))?\)`)

func (f *fakeXPS) serve(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.handle(conn)
		}
	}()
	return ln.Addr().String()
}

func (f *fakeXPS) handle(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		conn.Write([]byte(f.reply(string(buf[:n]))))
	}
}

func (f *fakeXPS) reply(cmd string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	if f.code != "" {
		return f.code + "," + endOfAPI
	}
	m := callRE.FindStringSubmatch(cmd)
	if m == nil {
		return "-4," + endOfAPI
	}
	switch m[1] {
	case "GroupMoveAbsolute":
		f.pos[m[2]] = m[3]
		return "0," + endOfAPI
	case "GroupPositionCurrentGet":
		p, ok := f.pos[m[2]]
		if !ok {
			p = "0"
		}
		return "0," + p + "," + endOfAPI
	default:
		return "0," + endOfAPI
	}
}

func (f *fakeXPS) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

func TestXPSMoveAndGetPos(t *testing.T) {
	f := &fakeXPS{pos: map[string]string{}}
	xps := NewXPS(f.serve(t))
	defer xps.Close()
	if err := xps.MoveAbs("GROUP1.POSITIONER", 1.25); err != nil {
		t.Fatal(err)
	}
	pos, err := xps.GetPos("GROUP1.POSITIONER")
	if err != nil {
		t.Fatal(err)
	}
	if pos != 1.25 {
		t.Errorf("expected position 1.25, got %v", pos)
	}
	cmds := f.commands()
	if cmds[0] != "GroupMoveAbsolute(GROUP1.POSITIONER,1.25)" {
		t.Errorf("unexpected move command %q", cmds[0])
	}
	if cmds[1] != "GroupPositionCurrentGet(GROUP1.POSITIONER,double *)" {
		t.Errorf("unexpected position command %q", cmds[1])
	}
}

func TestXPSErrorCodeIsXPSErr(t *testing.T) {
	f := &fakeXPS{pos: map[string]string{}, code: "-109"}
	xps := NewXPS(f.serve(t))
	defer xps.Close()
	err := xps.MoveAbs("GROUP3.POSITIONER", 10)
	var xerr XPSErr
	if !errors.As(err, &xerr) || xerr != -109 {
		t.Fatalf("expected XPSErr(-109), got %v", err)
	}
	if !strings.Contains(err.Error(), "HOMED") {
		t.Errorf("expected error text to describe the code, got %q", err.Error())
	}
}

func TestXPSReconnectInitializesGroups(t *testing.T) {
	f := &fakeXPS{pos: map[string]string{}}
	xps := NewXPS(f.serve(t))
	defer xps.Close()
	xps.Groups = []string{"GROUP1", "GROUP3"}
	xps.Initialize = true
	if err := xps.Reconnect(); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"GroupKill(GROUP1)", "GroupInitialize(GROUP1)", "GroupHomeSearch(GROUP1)",
		"GroupKill(GROUP3)", "GroupInitialize(GROUP3)", "GroupHomeSearch(GROUP3)",
	}
	got := f.commands()
	if len(got) != len(want) {
		t.Fatalf("expected %d commands, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestXPSUnreachable(t *testing.T) {
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	addr := ln.Addr().String()
	ln.Close()
	xps := NewXPS(addr)
	xps.Timeout = 100 * time.Millisecond
	if _, err := xps.GetPos("GROUP1.POSITIONER"); err == nil {
		t.Error("expected an error talking to a closed port")
	}
}

func TestNewXPSDefaultPort(t *testing.T) {
	xps := NewXPS("192.168.50.2")
	if xps.Addr != "192.168.50.2:5001" {
		t.Errorf("expected default port to be appended, got %s", xps.Addr)
	}
}

func TestPopError(t *testing.T) {
	code, vals, err := popError("0,1.5,2.5,EndOfAPI")
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 || len(vals) != 2 || vals[0] != "1.5" || vals[1] != "2.5" {
		t.Errorf("unexpected parse: code=%d vals=%v", code, vals)
	}
	code, vals, err = popError("-17,EndOfAPI")
	if err != nil {
		t.Fatal(err)
	}
	if code != -17 || len(vals) != 0 {
		t.Errorf("unexpected parse: code=%d vals=%v", code, vals)
	}
}

func TestXPSErrUnknownCode(t *testing.T) {
	e := XPSErr(-9999)
	if !strings.Contains(e.Error(), "-9999") {
		t.Errorf("expected code in message, got %s", e.Error())
	}
	if XPSError(0) != nil {
		t.Error("expected code 0 to be no error")
	}
}

func TestGroupOf(t *testing.T) {
	if g := GroupOf("GROUP1.POSITIONER"); g != "GROUP1" {
		t.Errorf("expected GROUP1, got %s", g)
	}
	if g := GroupOf("GROUP2"); g != "GROUP2" {
		t.Errorf("expected GROUP2, got %s", g)
	}
}
