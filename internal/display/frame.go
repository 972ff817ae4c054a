package display

import (
	"fmt"
	"image"
	"image/draw"
	"strings"

	"github.com/golang/freetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"
)

// Geometry of a PCD8544 panel and the text grid laid over it.
const (
	Width  = 84
	Height = 48

	CellWidth = 7
	RowHeight = 16
	Columns   = Width / CellWidth
	Rows      = Height / RowHeight

	// Baseline offset inside a text row.
	baseline = 12

	banks = Height / 8
)

const (
	FontBasic  = "basic"
	FontGoMono = "gomono"
)

type glyphRenderer interface {
	drawText(dst draw.Image, x, y int, s string) error
}

// basicRenderer draws the 7x13 bitmap face; it maps 1:1 onto the cell grid.
type basicRenderer struct{}

func (basicRenderer) drawText(dst draw.Image, x, y int, s string) error {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.White,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
	return nil
}

// ttfRenderer rasterizes a TrueType font with freetype. Each rune is placed
// on its own cell so columns stay aligned with the bitmap face.
type ttfRenderer struct {
	ctx *freetype.Context
}

func newTTFRenderer(ttf []byte, sizePx float64) (*ttfRenderer, error) {
	f, err := freetype.ParseFont(ttf)
	if err != nil {
		return nil, fmt.Errorf("display: parse font: %w", err)
	}
	c := freetype.NewContext()
	c.SetDPI(72)
	c.SetFont(f)
	c.SetFontSize(sizePx)
	c.SetSrc(image.White)
	c.SetHinting(font.HintingFull)
	return &ttfRenderer{ctx: c}, nil
}

func (r *ttfRenderer) drawText(dst draw.Image, x, y int, s string) error {
	r.ctx.SetDst(dst)
	r.ctx.SetClip(dst.Bounds())
	for i, ch := range []rune(s) {
		if _, err := r.ctx.DrawString(string(ch), freetype.Pt(x+i*CellWidth, y)); err != nil {
			return fmt.Errorf("display: draw %q: %w", s, err)
		}
	}
	return nil
}

func newRenderer(name string) (glyphRenderer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", FontBasic:
		return basicRenderer{}, nil
	case FontGoMono:
		return newTTFRenderer(gomono.TTF, 11)
	default:
		return nil, fmt.Errorf("display: unknown font %q", name)
	}
}

// Frame is an off-screen copy of the panel. Lit pixels are white.
type Frame struct {
	img *image.Gray
	r   glyphRenderer
}

func NewFrame(fontName string) (*Frame, error) {
	r, err := newRenderer(fontName)
	if err != nil {
		return nil, err
	}
	return &Frame{img: image.NewGray(image.Rect(0, 0, Width, Height)), r: r}, nil
}

func (f *Frame) Clear() {
	draw.Draw(f.img, f.img.Bounds(), image.Black, image.Point{}, draw.Src)
}

// WriteTextAt draws text starting at cell (col, row). Text running past the
// right edge is cut off.
func (f *Frame) WriteTextAt(col, row int, text string) error {
	if col < 0 || col >= Columns || row < 0 || row >= Rows {
		return fmt.Errorf("display: cell (%d,%d) outside %dx%d grid", col, row, Columns, Rows)
	}
	runes := []rune(text)
	if n := Columns - col; len(runes) > n {
		runes = runes[:n]
	}
	x := col * CellWidth
	y := row * RowHeight
	area := image.Rect(x, y, x+len(runes)*CellWidth, y+RowHeight)
	draw.Draw(f.img, area, image.Black, image.Point{}, draw.Src)
	return f.r.drawText(f.img, x, y+baseline, string(runes))
}

// Lit reports whether pixel (x, y) is on.
func (f *Frame) Lit(x, y int) bool {
	return f.img.GrayAt(x, y).Y >= 0x80
}

// Banks packs the frame into PCD8544 RAM order: six horizontal banks of 84
// columns, each byte holding 8 vertical pixels with the LSB on top.
func (f *Frame) Banks() []byte {
	out := make([]byte, 0, banks*Width)
	for b := 0; b < banks; b++ {
		for x := 0; x < Width; x++ {
			var v byte
			for bit := 0; bit < 8; bit++ {
				if f.Lit(x, b*8+bit) {
					v |= 1 << bit
				}
			}
			out = append(out, v)
		}
	}
	return out
}

// Text returns a crude ASCII rendering, handy in logs and test failures.
func (f *Frame) Text() string {
	var sb strings.Builder
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			if f.Lit(x, y) {
				sb.WriteByte('#')
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
