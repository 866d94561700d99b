/*Package improc holds the image types of the experiment and the small amount
of arithmetic done on them: difference and normalized difference frames,
text export, and an 8-bit render for quick inspection.

Images are row-major, Height rows of Width samples.
*/
package improc

import (
	"errors"
	"fmt"
	"image"

	"gonum.org/v1/gonum/stat"
)

// ErrShapeMismatch is generated when two images of different shape are combined
var ErrShapeMismatch = errors.New("image shapes do not match")

// Frame is any image whose samples can be read as float64
type Frame interface {
	// Dims returns the width and height of the frame
	Dims() (int, int)

	// Float returns sample i, in row-major order, as a float64
	Float(i int) float64
}

// Image is a frame of signed integer samples, as read from a camera or
// derived by subtraction
type Image struct {
	Width  int
	Height int
	Pix    []int64
}

// NewImage returns a zero image of the given shape
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]int64, width*height)}
}

// Dims returns the width and height of the image
func (im *Image) Dims() (int, int) { return im.Width, im.Height }

// Float returns sample i as a float64
func (im *Image) Float(i int) float64 { return float64(im.Pix[i]) }

// At returns the sample at column x, row y
func (im *Image) At(x, y int) int64 { return im.Pix[y*im.Width+x] }

// Set sets the sample at column x, row y
func (im *Image) Set(x, y int, v int64) { im.Pix[y*im.Width+x] = v }

// FloatImage is a frame of float samples, e.g. a normalized difference
type FloatImage struct {
	Width  int
	Height int
	Pix    []float64
}

// NewFloatImage returns a zero float image of the given shape
func NewFloatImage(width, height int) *FloatImage {
	return &FloatImage{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// Dims returns the width and height of the image
func (im *FloatImage) Dims() (int, int) { return im.Width, im.Height }

// Float returns sample i
func (im *FloatImage) Float(i int) float64 { return im.Pix[i] }

// At returns the sample at column x, row y
func (im *FloatImage) At(x, y int) float64 { return im.Pix[y*im.Width+x] }

func sameShape(a, b Frame) error {
	aw, ah := a.Dims()
	bw, bh := b.Dims()
	if aw != bw || ah != bh {
		return fmt.Errorf("%w: %dx%d and %dx%d", ErrShapeMismatch, aw, ah, bw, bh)
	}
	return nil
}

// Difference returns pumped - reference, elementwise
func Difference(pumped, reference *Image) (*Image, error) {
	if err := sameShape(pumped, reference); err != nil {
		return nil, err
	}
	out := NewImage(pumped.Width, pumped.Height)
	for i := range out.Pix {
		out.Pix[i] = pumped.Pix[i] - reference.Pix[i]
	}
	return out, nil
}

// Normalize returns difference / reference, elementwise.  Where the
// reference is zero the result is zero.
func Normalize(difference, reference *Image) (*FloatImage, error) {
	if err := sameShape(difference, reference); err != nil {
		return nil, err
	}
	out := NewFloatImage(difference.Width, difference.Height)
	for i, r := range reference.Pix {
		if r != 0 {
			out.Pix[i] = float64(difference.Pix[i]) / float64(r)
		}
	}
	return out, nil
}

// CentralHalf returns the central half of a w x h frame in each dimension,
// the region used for display levels and the default signal ROI.
// Frames too small to have a central half return the whole frame.
func CentralHalf(w, h int) image.Rectangle {
	r := image.Rect(w/4, h/4, w*3/4, h*3/4)
	if r.Empty() {
		return image.Rect(0, 0, w, h)
	}
	return r
}

// Region copies the samples of f inside roi, clipped to the frame, in
// row-major order
func Region(f Frame, roi image.Rectangle) []float64 {
	w, h := f.Dims()
	roi = roi.Intersect(image.Rect(0, 0, w, h))
	out := make([]float64, 0, roi.Dx()*roi.Dy())
	for y := roi.Min.Y; y < roi.Max.Y; y++ {
		for x := roi.Min.X; x < roi.Max.X; x++ {
			out = append(out, f.Float(y*w+x))
		}
	}
	return out
}

// ROIMean returns the mean of f inside roi.  An roi that does not overlap
// the frame has a mean of zero.
func ROIMean(f Frame, roi image.Rectangle) float64 {
	vals := Region(f, roi)
	if len(vals) == 0 {
		return 0
	}
	return stat.Mean(vals, nil)
}
