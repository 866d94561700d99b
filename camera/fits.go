package camera

import (
	"fmt"
	"io"

	"github.com/astrogo/fitsio"

	"github.com/nasa-jpl/pumpprobe/improc"
)

// WriteFits streams a fits file to w.  More than one frame is written as a
// cube.  Samples are stored as 32-bit integers so signed difference frames
// survive unchanged.
func WriteFits(w io.Writer, metadata []fitsio.Card, frames []*improc.Image) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to write")
	}
	width, height := frames[0].Width, frames[0].Height
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{width, height}
	if len(frames) > 1 {
		dims = append(dims, len(frames))
	}
	im := fitsio.NewImage(32, dims)
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}

	ints := make([]int32, 0, width*height*len(frames))
	for _, f := range frames {
		if f.Width != width || f.Height != height {
			return improc.ErrShapeMismatch
		}
		for _, v := range f.Pix {
			ints = append(ints, int32(v))
		}
	}
	err = im.Write(ints)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

func cardFloat(hdr *fitsio.Header, name string, dflt float64) float64 {
	c := hdr.Get(name)
	if c == nil {
		return dflt
	}
	switch v := c.Value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return dflt
}

// ReadFits decodes the primary image of a fits file into an Image.  BZERO
// and BSCALE are applied, so unsigned 16-bit data stored with BZERO 32768
// reads back as its original values.
func ReadFits(r io.Reader) (*improc.Image, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	hdu := f.HDU(0)
	img, ok := hdu.(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("primary HDU is not an image")
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) < 2 {
		return nil, fmt.Errorf("expected a 2D image, got %d axes", len(axes))
	}
	width, height := axes[0], axes[1]
	n := width * height
	// Read fills every plane, the slice must hold them all
	nelem := 1
	for _, a := range axes {
		nelem *= a
	}
	bzero := cardFloat(hdr, "BZERO", 0)
	bscale := cardFloat(hdr, "BSCALE", 1)
	out := improc.NewImage(width, height)
	scale := func(i int, v float64) {
		out.Pix[i] = int64(v*bscale + bzero)
	}
	switch hdr.Bitpix() {
	case 8:
		raw := make([]uint8, nelem)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			scale(i, float64(raw[i]))
		}
	case 16:
		raw := make([]int16, nelem)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			scale(i, float64(raw[i]))
		}
	case 32:
		raw := make([]int32, nelem)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			scale(i, float64(raw[i]))
		}
	case -32:
		raw := make([]float32, nelem)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			scale(i, float64(raw[i]))
		}
	case -64:
		raw := make([]float64, nelem)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			scale(i, raw[i])
		}
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", hdr.Bitpix())
	}
	return out, nil
}
