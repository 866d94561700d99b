// Package util contains misc internal utilities.
package util

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Float64SliceToCSV converts a slice of floats to CSV formatted data.
// fmt and prec are passed to strconv.FormatFloat.
// e.g., []float64{1,2.5} => "1,2.5"
func Float64SliceToCSV(fs []float64, fmt byte, prec int) string {
	s := make([]string, len(fs))
	for i, v := range fs {
		s[i] = strconv.FormatFloat(v, fmt, prec, 64)
	}
	return strings.Join(s, ",")
}

// Arange returns start, start+step, start+2*step, ... for all values
// strictly before stop, in the direction of step.  A zero step, or a step
// pointing away from stop, yields an empty slice, as does a range too long
// to count in an int.
//
// Values are computed as start+i*step rather than by accumulation, so that
// rounding error does not build up along long ranges.
func Arange(start, stop, step float64) []float64 {
	if step == 0 || math.IsNaN(step) {
		return nil
	}
	q := math.Ceil((stop - start) / step)
	if !(q > 0) || q > math.MaxInt32 {
		return nil
	}
	n := int(q)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = start + float64(i)*step
	}
	return out
}

// UniqueFloat64 returns the ascending, deduplicated values of fs.
// Only exactly equal values are merged.  The input is not modified.
func UniqueFloat64(fs []float64) []float64 {
	out := make([]float64, len(fs))
	copy(out, fs)
	sort.Float64s(out)
	if len(out) < 2 {
		return out
	}
	j := 0
	for i := 1; i < len(out); i++ {
		if out[i] != out[j] {
			j++
			out[j] = out[i]
		}
	}
	return out[:j+1]
}

// Clamp restricts x to the range [low, high]
func Clamp(x, low, high float64) float64 {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}
