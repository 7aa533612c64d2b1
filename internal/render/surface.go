// Package render draws detection overlays onto a 2-D surface.
package render

import (
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Surface is the drawing target of a renderer. Path calls accumulate until Stroke or
// Fill, which consume the path. Transforms compose like a canvas: each call applies
// before the ones already in effect.
type Surface interface {
	Clear()
	Push()
	Pop()
	Scale(x, y float64)
	Translate(x, y float64)
	MoveTo(x, y float64)
	LineTo(x, y float64)
	ClosePath()
	Stroke()
	Fill()
	Arc(x, y, r, angle1, angle2 float64)
	Rect(x, y, w, h float64)
	FillText(s string, x, y float64)
	SetColor(c color.Color)
	SetLineWidth(w float64)
}

// Overlay colors.
var (
	Aqua      = color.RGBA{0x00, 0xff, 0xff, 0xff}
	Red       = color.RGBA{0xff, 0x00, 0x00, 0xff}
	Blue      = color.RGBA{0x00, 0x00, 0xff, 0xff}
	Magenta   = color.RGBA{0xff, 0x00, 0xff, 0xff}
	LabelText = color.White
)

const labelFontSize = 14

var (
	fontOnce  sync.Once
	labelFont *truetype.Font
)

// labelFace returns a new face of the bundled Go font. Faces cache glyphs and are
// not safe for concurrent use, so each canvas gets its own.
func labelFace() font.Face {
	fontOnce.Do(func() {
		f, err := truetype.Parse(goregular.TTF)
		if err != nil {
			panic(err)
		}
		labelFont = f
	})
	return truetype.NewFace(labelFont, &truetype.Options{Size: labelFontSize})
}

// Canvas is a Surface backed by an RGBA image.
type Canvas struct {
	dc    *gg.Context
	color color.Color
}

var _ Surface = (*Canvas)(nil)

// NewCanvas creates a transparent canvas of the given size.
func NewCanvas(width, height int) *Canvas {
	dc := gg.NewContext(width, height)
	dc.SetFontFace(labelFace())
	c := &Canvas{dc: dc, color: color.Black}
	dc.SetColor(c.color)
	return c
}

// Size returns the canvas dimensions.
func (c *Canvas) Size() image.Point {
	return image.Pt(c.dc.Width(), c.dc.Height())
}

// Clear makes every pixel transparent. The current transform and color are kept.
func (c *Canvas) Clear() {
	c.dc.SetColor(color.Transparent)
	c.dc.Clear()
	c.dc.SetColor(c.color)
}

func (c *Canvas) Push()                  { c.dc.Push() }
func (c *Canvas) Pop()                   { c.dc.Pop() }
func (c *Canvas) Scale(x, y float64)     { c.dc.Scale(x, y) }
func (c *Canvas) Translate(x, y float64) { c.dc.Translate(x, y) }
func (c *Canvas) MoveTo(x, y float64)    { c.dc.MoveTo(x, y) }
func (c *Canvas) LineTo(x, y float64)    { c.dc.LineTo(x, y) }
func (c *Canvas) ClosePath()             { c.dc.ClosePath() }
func (c *Canvas) Stroke()                { c.dc.Stroke() }
func (c *Canvas) Fill()                  { c.dc.Fill() }
func (c *Canvas) SetLineWidth(w float64) { c.dc.SetLineWidth(w) }

func (c *Canvas) Arc(x, y, r, angle1, angle2 float64) {
	c.dc.NewSubPath()
	c.dc.DrawArc(x, y, r, angle1, angle2)
}

func (c *Canvas) Rect(x, y, w, h float64) {
	c.dc.DrawRectangle(x, y, w, h)
}

// FillText anchors the text at the transformed position but draws the glyphs
// upright, so labels stay readable under the mirror transform.
func (c *Canvas) FillText(s string, x, y float64) {
	px, py := c.dc.TransformPoint(x, y)
	c.dc.Push()
	c.dc.Identity()
	c.dc.DrawString(s, px, py)
	c.dc.Pop()
}

func (c *Canvas) SetColor(col color.Color) {
	c.color = col
	c.dc.SetColor(col)
}

// Image returns a copy of the current pixels.
func (c *Canvas) Image() *image.NRGBA {
	return imaging.Clone(c.dc.Image())
}

// Op is one recorded Surface call. Points are in surface space, after the
// transform in effect at the time of the call.
type Op struct {
	Name   string
	Points []gg.Point
	Radius float64
	Text   string
	Color  color.Color
	Width  float64
}

// Recorder is a Surface that records calls instead of drawing them.
type Recorder struct {
	Ops    []Op
	matrix gg.Matrix
	stack  []gg.Matrix
}

var _ Surface = (*Recorder)(nil)

// NewRecorder returns an empty recorder with the identity transform.
func NewRecorder() *Recorder {
	return &Recorder{matrix: gg.Identity()}
}

func (r *Recorder) record(op Op) { r.Ops = append(r.Ops, op) }

func (r *Recorder) point(x, y float64) gg.Point {
	tx, ty := r.matrix.TransformPoint(x, y)
	return gg.Point{X: tx, Y: ty}
}

func (r *Recorder) Clear() { r.record(Op{Name: "Clear"}) }

func (r *Recorder) Push() {
	r.stack = append(r.stack, r.matrix)
	r.record(Op{Name: "Push"})
}

func (r *Recorder) Pop() {
	if n := len(r.stack); n > 0 {
		r.matrix = r.stack[n-1]
		r.stack = r.stack[:n-1]
	}
	r.record(Op{Name: "Pop"})
}

func (r *Recorder) Scale(x, y float64) {
	r.matrix = r.matrix.Scale(x, y)
	r.record(Op{Name: "Scale", Points: []gg.Point{{X: x, Y: y}}})
}

func (r *Recorder) Translate(x, y float64) {
	r.matrix = r.matrix.Translate(x, y)
	r.record(Op{Name: "Translate", Points: []gg.Point{{X: x, Y: y}}})
}

func (r *Recorder) MoveTo(x, y float64) {
	r.record(Op{Name: "MoveTo", Points: []gg.Point{r.point(x, y)}})
}

func (r *Recorder) LineTo(x, y float64) {
	r.record(Op{Name: "LineTo", Points: []gg.Point{r.point(x, y)}})
}

func (r *Recorder) ClosePath() { r.record(Op{Name: "ClosePath"}) }
func (r *Recorder) Stroke()    { r.record(Op{Name: "Stroke"}) }
func (r *Recorder) Fill()      { r.record(Op{Name: "Fill"}) }

func (r *Recorder) Arc(x, y, radius, angle1, angle2 float64) {
	r.record(Op{Name: "Arc", Points: []gg.Point{r.point(x, y)}, Radius: radius})
}

func (r *Recorder) Rect(x, y, w, h float64) {
	r.record(Op{Name: "Rect", Points: []gg.Point{r.point(x, y), r.point(x+w, y+h)}})
}

func (r *Recorder) FillText(s string, x, y float64) {
	r.record(Op{Name: "FillText", Points: []gg.Point{r.point(x, y)}, Text: s})
}

func (r *Recorder) SetColor(c color.Color) { r.record(Op{Name: "SetColor", Color: c}) }

func (r *Recorder) SetLineWidth(w float64) { r.record(Op{Name: "SetLineWidth", Width: w}) }

// Count returns how many ops named name were recorded.
func (r *Recorder) Count(name string) int {
	n := 0
	for _, op := range r.Ops {
		if op.Name == name {
			n++
		}
	}
	return n
}

// Names returns the recorded op names in order.
func (r *Recorder) Names() []string {
	names := make([]string, len(r.Ops))
	for i, op := range r.Ops {
		names[i] = op.Name
	}
	return names
}

// Reset drops every recorded op and restores the identity transform.
func (r *Recorder) Reset() {
	r.Ops = nil
	r.stack = nil
	r.matrix = gg.Identity()
}
