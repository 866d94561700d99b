package improc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

const (
	// FormatInt writes samples as truncated integers
	FormatInt = "%d"

	// FormatFloat5 writes samples with five decimal places
	FormatFloat5 = "%.5f"
)

// WriteText writes f as text, one row per line with samples separated by a
// single space, each line terminated by a newline.  format is a printf verb
// for one sample; FormatInt and FormatFloat5 are written without fmt.
func WriteText(w io.Writer, f Frame, format string) error {
	width, height := f.Dims()
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 32)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := f.Float(y*width + x)
			buf = buf[:0]
			if x > 0 {
				buf = append(buf, ' ')
			}
			switch format {
			case FormatInt:
				buf = strconv.AppendInt(buf, int64(v), 10)
			case FormatFloat5:
				buf = strconv.AppendFloat(buf, v, 'f', 5, 64)
			default:
				if format != "" && format[len(format)-1] == 'd' {
					buf = append(buf, fmt.Sprintf(format, int64(v))...)
				} else {
					buf = append(buf, fmt.Sprintf(format, v)...)
				}
			}
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
