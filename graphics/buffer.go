package graphics

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// Buffer is one bit-packed colour plane of the panel.
//
// The byte layout always follows the physical panel; rotation only changes
// how logical coordinates are mapped onto it.
type Buffer struct {
	pix      []byte
	width    int
	height   int
	rotation Rotation
	inverted bool
	ink      Color
}

// NewBW returns a black and white plane filled with white. Its polarity is
// inverted: a set bit is a white pixel.
func NewBW(width, height int) *Buffer {
	return newBuffer(width, height, true, Black)
}

// NewRed returns a red plane filled with white. A set bit is a red pixel.
func NewRed(width, height int) *Buffer {
	return newBuffer(width, height, false, Red)
}

func newBuffer(width, height int, inverted bool, ink Color) *Buffer {
	b := &Buffer{
		pix:      make([]byte, BufferLength(width, height)),
		width:    width,
		height:   height,
		inverted: inverted,
		ink:      ink,
	}
	b.Clear(White)
	return b
}

func (b *Buffer) String() string {
	return fmt.Sprintf("graphics.Buffer{%s, %dx%d, %s}", b.ink, b.width, b.height, b.rotation)
}

// Bytes returns the plane as it is transmitted to the controller. The slice
// aliases the buffer.
func (b *Buffer) Bytes() []byte {
	return b.pix
}

// Rows returns physical rows y to y+h of the plane, ready for a partial
// update of the full panel width. The slice aliases the buffer. It panics
// unless 0 <= y and y+h <= height with h >= 0.
func (b *Buffer) Rows(y, h int) []byte {
	if y < 0 || h < 0 || y+h > b.height {
		panic(fmt.Sprintf("graphics: rows %d+%d outside plane of height %d", y, h, b.height))
	}
	stride := (b.width + 7) / 8
	return b.pix[y*stride : (y+h)*stride]
}

// Size returns the physical panel dimensions.
func (b *Buffer) Size() (int, int) {
	return b.width, b.height
}

// Inverted reports the plane polarity.
func (b *Buffer) Inverted() bool {
	return b.inverted
}

// Rotation returns the current rotation.
func (b *Buffer) Rotation() Rotation {
	return b.rotation
}

// SetRotation changes how logical coordinates are mapped. Buffer contents are
// left untouched.
func (b *Buffer) SetRotation(r Rotation) {
	b.rotation = r % 4
}

// SetPixel turns the logical pixel (x, y) on or off. Points outside the
// rotated bounds are ignored.
func (b *Buffer) SetPixel(x, y int, on bool) {
	if OutsideBounds(x, y, b.width, b.height, b.rotation) {
		return
	}
	index, bit := Address(x, y, b.width, b.height, b.rotation)
	if on != b.inverted {
		b.pix[index] |= bit
	} else {
		b.pix[index] &^= bit
	}
}

// Pixel reports whether the logical pixel (x, y) is on.
func (b *Buffer) Pixel(x, y int) bool {
	if OutsideBounds(x, y, b.width, b.height, b.rotation) {
		return false
	}
	index, bit := Address(x, y, b.width, b.height, b.rotation)
	return (b.pix[index]&bit != 0) != b.inverted
}

// Clear fills the whole plane with c.
func (b *Buffer) Clear(c Color) {
	value := c.ByteValue(b.inverted)
	for i := range b.pix {
		b.pix[i] = value
	}
}

// Bounds implements image.Image in the logical coordinate frame.
func (b *Buffer) Bounds() image.Rectangle {
	if b.rotation.swapsAxes() {
		return image.Rect(0, 0, b.height, b.width)
	}
	return image.Rect(0, 0, b.width, b.height)
}

// ColorModel implements image.Image. Colours are reduced to white or the
// plane's ink.
func (b *Buffer) ColorModel() color.Model {
	return color.Palette{White, b.ink}
}

// At implements image.Image.
func (b *Buffer) At(x, y int) color.Color {
	if b.Pixel(x, y) {
		return b.ink
	}
	return White
}

// Set implements draw.Image.
func (b *Buffer) Set(x, y int, c color.Color) {
	b.SetPixel(x, y, color.Palette{White, b.ink}.Index(c) == 1)
}

var _ draw.Image = (*Buffer)(nil)

// Split quantizes src to the panel palette and plots it into the BW and red
// planes. The rectangle r is in the logical frame of bw; sp is the matching
// point in src. Red pixels are left white on the BW plane.
func Split(bw, red *Buffer, r image.Rectangle, src image.Image, sp image.Point) {
	clipped := r.Intersect(bw.Bounds())
	if clipped.Empty() {
		return
	}
	sp = sp.Add(clipped.Min.Sub(r.Min))
	r = clipped
	pal := image.NewPaletted(image.Rect(0, 0, r.Dx(), r.Dy()), Palette)
	draw.Draw(pal, pal.Bounds(), src, sp, draw.Src)

	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			c := Color(pal.ColorIndexAt(x, y))
			bw.SetPixel(r.Min.X+x, r.Min.Y+y, c == Black)
			if red != nil {
				red.SetPixel(r.Min.X+x, r.Min.Y+y, c == Red)
			}
		}
	}
}
