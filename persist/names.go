package persist

import (
	"math"
	"strconv"
	"strings"

	"github.com/nasa-jpl/pumpprobe/sweep"
)

// FormatValue prints a position the way the files of earlier runs name it:
// the shortest representation that reads back to the same float, with a
// trailing ".0" on whole numbers and an exponent below 1e-4 or from 1e16 up.
//
//	5 -> "5.0", 0.1 -> "0.1", 1e-5 -> "1e-05", 2.5e16 -> "2.5e+16"
func FormatValue(f float64) string {
	if math.IsNaN(f) {
		return "nan"
	}
	if math.IsInf(f, 0) {
		if f < 0 {
			return "-inf"
		}
		return "inf"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

// PointName is the file base name of a scan point, pwr_<power>_delay_<delay>
func PointName(pt sweep.Point) string {
	return "pwr_" + FormatValue(pt.Power) + "_delay_" + FormatValue(pt.Delay)
}
