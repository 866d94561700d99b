package persist

import (
	"bufio"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/nasa-jpl/pumpprobe/improc"
)

// Sink stores frames
type Sink interface {
	// WriteText writes f as numeric text.  Unless overwrite is true an
	// existing file is an error satisfying errors.Is(err, fs.ErrExist).
	// A missing folder is an error.
	WriteText(path string, f improc.Frame, format string, overwrite bool) error

	// WriteVisual writes a picture, in the format named by the extension
	WriteVisual(path string, img image.Image) error
}

// FileSink is a Sink on the local filesystem
type FileSink struct{}

func create(path string, overwrite bool) (*os.File, error) {
	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flag |= os.O_EXCL
	}
	return os.OpenFile(path, flag, 0666)
}

// WriteText implements Sink
func (FileSink) WriteText(path string, f improc.Frame, format string, overwrite bool) error {
	fid, err := create(path, overwrite)
	if err != nil {
		return err
	}
	err = improc.WriteText(fid, f, format)
	if cerr := fid.Close(); err == nil {
		err = cerr
	}
	return err
}

// WriteVisual implements Sink.  Existing renders are replaced; they follow
// the text file they belong to.
func (FileSink) WriteVisual(path string, img image.Image) error {
	fid, err := create(path, true)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(fid)
	err = improc.EncodeVisual(w, img, strings.TrimPrefix(filepath.Ext(path), "."))
	if err == nil {
		err = w.Flush()
	}
	if cerr := fid.Close(); err == nil {
		err = cerr
	}
	return err
}
