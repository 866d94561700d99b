package persist

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Confirmer decides whether an existing file may be replaced
type Confirmer interface {
	ConfirmOverwrite(path string) bool
}

// ConfirmFunc adapts a function to a Confirmer
type ConfirmFunc func(path string) bool

// ConfirmOverwrite calls f
func (f ConfirmFunc) ConfirmOverwrite(path string) bool { return f(path) }

var (
	// Always replaces existing files
	Always = ConfirmFunc(func(string) bool { return true })

	// Never refuses, which stops the run at the first existing file
	Never = ConfirmFunc(func(string) bool { return false })
)

// Policy names an overwrite policy
type Policy string

const (
	PolicyAsk    Policy = "ask"
	PolicyAlways Policy = "always"
	PolicyNever  Policy = "never"
)

// ParsePolicy parses an overwrite policy.  Empty means ask.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyAsk, nil
	case PolicyAsk, PolicyAlways, PolicyNever:
		return p, nil
	default:
		return "", fmt.Errorf("unknown overwrite policy %q, use ask, always or never", s)
	}
}

// Prompt asks an operator on a terminal.  Only an answer starting with y
// confirms.
type Prompt struct {
	In  io.Reader
	Out io.Writer

	mu  sync.Mutex
	scn *bufio.Scanner
}

// ConfirmOverwrite implements Confirmer
func (p *Prompt) ConfirmOverwrite(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scn == nil {
		p.scn = bufio.NewScanner(p.In)
	}
	fmt.Fprintf(p.Out, "%s already exists. Overwrite? [y/N] ", path)
	if !p.scn.Scan() {
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(p.scn.Text())), "y")
}

// ConfirmerFor returns the Confirmer of a policy.  ask uses ask, which may
// be nil where no operator can answer; that refuses.
func ConfirmerFor(p Policy, ask Confirmer) Confirmer {
	switch p {
	case PolicyAlways:
		return Always
	case PolicyNever:
		return Never
	default:
		if ask == nil {
			return Never
		}
		return ask
	}
}
