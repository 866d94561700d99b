/*Package sweep builds the ordered position grids a scan visits.

A grid is built from an Axis (start, stop, step) and, optionally, a finer
SubSequence that is merged into it.  Without a sub-sequence the grid runs in
the direction of the sweep, from start towards stop.  With one, the result is
the ascending union of both ranges with exact duplicates removed.

	delay, err := sweep.BuildGrid(sweep.Axis{Start: 0, Stop: 10, Step: 5}, &sweep.SubSequence{Start: 0, Step: 1, Stop: 3})
	// delay == [0 1 2 3 5 10]
*/
package sweep

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/nasa-jpl/pumpprobe/util"
)

// Axis describes the sweep of one physical axis.  The sign of Step is ignored;
// the effective step always points from Start to Stop.
type Axis struct {
	Start float64 `yaml:"Start" json:"start"`
	Stop  float64 `yaml:"Stop" json:"stop"`
	Step  float64 `yaml:"Step" json:"step"`
}

// SubSequence is a finer-resolution insert into a grid, written by operators
// as "start, step, stop"
type SubSequence struct {
	Start float64 `json:"start"`
	Step  float64 `json:"step"`
	Stop  float64 `json:"stop"`
}

// Point is one cell of the two dimensional sweep.  Power is the outer axis
// and Delay the inner one.
type Point struct {
	PowerIndex int     `json:"powerIndex"`
	Power      float64 `json:"power"`
	DelayIndex int     `json:"delayIndex"`
	Delay      float64 `json:"delay"`
}

// ConfigurationError is generated when sweep input cannot be turned into a grid
type ConfigurationError struct {
	// Field names the offending input, e.g. "delay.step"
	Field string

	// Value is the raw input, when there is one
	Value string

	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("configuration error: %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// MaxPoints bounds the number of values one axis or sub-sequence may produce
const MaxPoints = 1000000

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Validate checks that the axis describes a usable range
func (a Axis) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{{"start", a.Start}, {"stop", a.Stop}, {"step", a.Step}} {
		if !finite(f.v) {
			return &ConfigurationError{Field: f.name, Err: fmt.Errorf("%v is not a finite number", f.v)}
		}
	}
	if a.Start != a.Stop && a.Step == 0 {
		return &ConfigurationError{Field: "step", Err: fmt.Errorf("step is zero but start %v != stop %v", a.Start, a.Stop)}
	}
	if n := a.count(); !finite(n) || n > MaxPoints {
		return &ConfigurationError{Field: "step", Err: fmt.Errorf("%v to %v in steps of %v is more than %d points", a.Start, a.Stop, a.Step, MaxPoints)}
	}
	return nil
}

// count is the number of values in start..stop, as a float so that huge
// ranges do not overflow
func (a Axis) count() float64 {
	if a.Start == a.Stop {
		return 1
	}
	return math.Floor(math.Abs(a.Stop-a.Start)/math.Abs(a.Step)) + 1
}

// values returns the inclusive range start..stop with the step sign corrected
func values(start, stop, step float64) []float64 {
	if start == stop {
		return []float64{start}
	}
	step = math.Abs(step)
	if stop < start {
		step = -step
	}
	// one step past stop, so stop itself is included
	return util.Arange(start, stop+step, step)
}

// Values returns the grid of the axis alone, in sweep direction
func (a Axis) Values() ([]float64, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	out := values(a.Start, a.Stop, a.Step)
	if len(out) == 0 {
		return nil, &ConfigurationError{Field: "step", Err: fmt.Errorf("%v to %v in steps of %v has no points", a.Start, a.Stop, a.Step)}
	}
	return out, nil
}

var numberTokens = regexp.MustCompile(`[,;\s]+`)

// ParseSubSequence parses "start, step, stop".  Commas, semicolons and
// whitespace all separate terms.  Exactly three numeric terms are required.
func ParseSubSequence(s string) (SubSequence, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return SubSequence{}, &ConfigurationError{Field: "subsequence", Value: s, Err: fmt.Errorf("empty")}
	}
	parts := numberTokens.Split(raw, -1)
	nums := make([]float64, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		f, err := strconv.ParseFloat(p, 64)
		if err != nil || !finite(f) {
			return SubSequence{}, &ConfigurationError{Field: "subsequence", Value: s, Err: fmt.Errorf("term %q is not a number", p)}
		}
		nums = append(nums, f)
	}
	if len(nums) != 3 {
		return SubSequence{}, &ConfigurationError{Field: "subsequence", Value: s, Err: fmt.Errorf("expected start, step, stop, got %d terms", len(nums))}
	}
	return SubSequence{Start: nums[0], Step: nums[1], Stop: nums[2]}, nil
}

// Values returns the inclusive sub-sequence range
func (ss SubSequence) Values() ([]float64, error) {
	a := Axis{Start: ss.Start, Stop: ss.Stop, Step: ss.Step}
	if err := a.Validate(); err != nil {
		ce := err.(*ConfigurationError)
		ce.Field = "subsequence." + ce.Field
		return nil, ce
	}
	out := values(ss.Start, ss.Stop, ss.Step)
	if len(out) == 0 {
		return nil, &ConfigurationError{Field: "subsequence.step", Err: fmt.Errorf("%v to %v in steps of %v has no points", ss.Start, ss.Stop, ss.Step)}
	}
	return out, nil
}

// BuildGrid returns the ordered positions for axis.  When extra is non-nil
// its values are merged in and the result is ascending with exact duplicates
// removed, regardless of the direction of the sweep.
func BuildGrid(axis Axis, extra *SubSequence) ([]float64, error) {
	base, err := axis.Values()
	if err != nil {
		return nil, err
	}
	if extra == nil {
		return base, nil
	}
	sub, err := extra.Values()
	if err != nil {
		return nil, err
	}
	return util.UniqueFloat64(append(sub, base...)), nil
}

// BuildGridString is BuildGrid with the sub-sequence given as text.  An empty
// string means there is no sub-sequence.
func BuildGridString(axis Axis, extra string) ([]float64, error) {
	if strings.TrimSpace(extra) == "" {
		return BuildGrid(axis, nil)
	}
	ss, err := ParseSubSequence(extra)
	if err != nil {
		return nil, err
	}
	return BuildGrid(axis, &ss)
}
