package persist

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"gopkg.in/yaml.v2"

	"github.com/nasa-jpl/pumpprobe/acquisition"
	"github.com/nasa-jpl/pumpprobe/camera"
	"github.com/nasa-jpl/pumpprobe/improc"
	"github.com/nasa-jpl/pumpprobe/sweep"
)

// Protocol is the state of a run when its baseline was taken
type Protocol struct {
	RunID    string             `yaml:"RunID"`
	Started  string             `yaml:"Started"`
	Name     string             `yaml:"Name"`
	Folder   string             `yaml:"Folder"`
	Point    sweep.Point        `yaml:"Point"`
	Delay    sweep.Axis         `yaml:"Delay"`
	Power    sweep.Axis         `yaml:"Power"`
	Extra    string             `yaml:"DelayExtra,omitempty"`
	Points   int                `yaml:"Points"`
	Exposure string             `yaml:"Exposure"`
	Binning  string             `yaml:"Binning,omitempty"`
	Gain     int                `yaml:"Gain"`
	Mode     string             `yaml:"Mode,omitempty"`
	Position map[string]float64 `yaml:"Position,omitempty"`
}

// NewProtocol fills the camera fields of a Protocol
func NewProtocol(started time.Time, s camera.Settings) Protocol {
	return Protocol{
		Started:  started.Format(time.RFC3339),
		Exposure: s.Exposure.String(),
		Binning:  s.Binning,
		Gain:     s.Gain,
		Mode:     s.Mode,
	}
}

func (p Protocol) lines() []string {
	out := []string{
		fmt.Sprintf("Run %s  %s", p.Name, p.RunID),
		"Started " + p.Started,
		fmt.Sprintf("Delay %g to %g step %g", p.Delay.Start, p.Delay.Stop, p.Delay.Step),
	}
	if p.Extra != "" {
		out = append(out, "Delay insert "+p.Extra)
	}
	out = append(out,
		fmt.Sprintf("Power %g to %g step %g", p.Power.Start, p.Power.Stop, p.Power.Step),
		fmt.Sprintf("%s points, baseline at power %g delay %g", humanize.Comma(int64(p.Points)), p.Point.Power, p.Point.Delay),
		fmt.Sprintf("Exposure %s  gain %d  binning %s  mode %s", p.Exposure, p.Gain, p.Binning, p.Mode),
	)
	return out
}

const (
	annotationSize    = 13.
	annotationSpacing = 1.4
	annotationMargin  = 8
	annotationWidth   = 480
)

// Annotate draws img above a panel listing the protocol
func Annotate(img image.Image, p Protocol) (*image.RGBA, error) {
	ttf, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}
	lines := p.lines()
	lineH := int(math.Round(annotationSize * annotationSpacing))
	b := img.Bounds()
	w := max(b.Dx(), annotationWidth)
	h := b.Dy() + 2*annotationMargin + lineH*len(lines)
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Bounds(), image.Black, image.Point{}, draw.Src)
	draw.Draw(out, image.Rect(0, 0, b.Dx(), b.Dy()), img, b.Min, draw.Src)

	ctx := freetype.NewContext()
	ctx.SetDPI(72)
	ctx.SetFont(ttf)
	ctx.SetFontSize(annotationSize)
	ctx.SetHinting(font.HintingFull)
	ctx.SetSrc(image.White)
	ctx.SetClip(out.Bounds())
	ctx.SetDst(out)
	pt := freetype.Pt(annotationMargin, b.Dy()+annotationMargin+int(annotationSize))
	for _, s := range lines {
		if _, err := ctx.DrawString(s, pt); err != nil {
			return nil, fmt.Errorf("drawing %q: %w", s, err)
		}
		pt.Y += ctx.PointToFixed(annotationSize * annotationSpacing)
	}
	return out, nil
}

// SaveBaseline writes the reference frame of the first point of a run as
// <name>.dat and <name>.png in the output folder, with the run protocol
// beside it as protocol_<name>.png and protocol_<name>.yml.  The .dat file
// follows the overwrite policy.
func (m *Manager) SaveBaseline(set acquisition.FrameSet, p Protocol) error {
	base := filepath.Join(m.Folder, m.Name)
	perr := func(path string, err error) error {
		return &PersistenceError{Channel: "baseline", Path: path, Point: p.Point, Err: err}
	}
	if err := os.MkdirAll(m.Folder, 0777); err != nil {
		return perr(m.Folder, err)
	}
	if err := m.writeText(base+".dat", set.Reference, improc.FormatInt); err != nil {
		return perr(base+".dat", err)
	}
	render, err := improc.Render(set.Reference, m.Render)
	if err != nil {
		return perr(base+".png", err)
	}
	if err := m.Sink.WriteVisual(base+".png", render); err != nil {
		return perr(base+".png", err)
	}

	proto := filepath.Join(m.Folder, "protocol_"+m.Name)
	annotated, err := Annotate(render, p)
	if err != nil {
		return perr(proto+".png", err)
	}
	if err := m.Sink.WriteVisual(proto+".png", annotated); err != nil {
		return perr(proto+".png", err)
	}
	snap, err := yaml.Marshal(p)
	if err != nil {
		return perr(proto+".yml", err)
	}
	if err := os.WriteFile(proto+".yml", snap, 0666); err != nil {
		return perr(proto+".yml", err)
	}
	m.logf("wrote baseline %s\n", base)
	return nil
}

func (m *Manager) writeFits(dir, path string, set acquisition.FrameSet, pt sweep.Point) error {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return err
	}
	cards := []fitsio.Card{
		{Name: "POWER", Value: pt.Power, Comment: "power stage position"},
		{Name: "DELAY", Value: pt.Delay, Comment: "delay line position"},
		{Name: "PLANES", Value: "reference,pumped,difference"},
	}
	var buf bytes.Buffer
	err := camera.WriteFits(&buf, cards, []*improc.Image{set.Reference, set.Pumped, set.Difference})
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0666)
}
