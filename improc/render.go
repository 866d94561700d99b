package improc

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"strings"

	"github.com/disintegration/gift"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/floats"
)

// RenderOptions control the orientation and size of a render
type RenderOptions struct {
	// Rotate is a clockwise rotation in degrees, one of 0, 90, 180, 270
	Rotate int `koanf:"Rotate" yaml:"Rotate"`

	// Transpose swaps rows and columns before rotation
	Transpose bool `koanf:"Transpose" yaml:"Transpose"`

	// MinWidth, if larger than the frame, scales it up by pixel replication.
	// Binned frames are often too small to inspect.
	MinWidth int `koanf:"MinWidth" yaml:"MinWidth"`
}

// Levels returns the black and white levels for displaying f, the extrema
// of its central half
func Levels(f Frame) (lo, hi float64) {
	w, h := f.Dims()
	vals := Region(f, CentralHalf(w, h))
	if len(vals) == 0 {
		return 0, 0
	}
	return floats.Min(vals), floats.Max(vals)
}

// Gray scales f to 8 bits between its display levels.  Samples outside the
// levels are clipped.
func Gray(f Frame) *image.Gray {
	w, h := f.Dims()
	lo, hi := Levels(f)
	out := image.NewGray(image.Rect(0, 0, w, h))
	span := hi - lo
	for i := range out.Pix {
		if span <= 0 || math.IsNaN(span) {
			break
		}
		v := (f.Float(i) - lo) / span * 255
		switch {
		case v < 0 || math.IsNaN(v):
			v = 0
		case v > 255:
			v = 255
		}
		out.Pix[i] = uint8(math.Round(v))
	}
	return out
}

// Render returns an 8-bit grayscale picture of f for visual inspection
func Render(f Frame, opts RenderOptions) (image.Image, error) {
	var filters []gift.Filter
	if opts.Transpose {
		filters = append(filters, gift.Transpose())
	}
	switch opts.Rotate {
	case 0:
	case 90:
		filters = append(filters, gift.Rotate270()) // gift rotates counter-clockwise
	case 180:
		filters = append(filters, gift.Rotate180())
	case 270:
		filters = append(filters, gift.Rotate90())
	default:
		return nil, fmt.Errorf("rotation must be 0, 90, 180 or 270, got %d", opts.Rotate)
	}
	src := Gray(f)
	g := gift.New(filters...)
	b := g.Bounds(src.Bounds())
	if opts.MinWidth > b.Dx() && b.Dx() > 0 {
		g.Add(gift.Resize(opts.MinWidth, 0, gift.NearestNeighborResampling))
		b = g.Bounds(src.Bounds())
	}
	if len(g.Filters) == 0 {
		return src, nil
	}
	dst := image.NewGray(b)
	g.Draw(dst, src)
	return dst, nil
}

// VisualExtension returns the file extension for a visual format name,
// defaulting to png
func VisualExtension(format string) string {
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		return "jpg"
	case "tif", "tiff":
		return "tiff"
	case "bmp":
		return "bmp"
	default:
		return "png"
	}
}

// EncodeVisual writes img in the named format: png (the default), jpeg,
// tiff or bmp
func EncodeVisual(w io.Writer, img image.Image, format string) error {
	switch VisualExtension(format) {
	case "jpg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	case "tiff":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case "bmp":
		return bmp.Encode(w, img)
	default:
		return png.Encode(w, img)
	}
}
