package graphics

import "image/color"

// Color is a logical ink colour of the tri-color panel.
type Color uint8

const (
	White Color = iota
	Black
	Red
)

// Palette holds every colour the panel can show, indexed by Color.
var Palette = color.Palette{White, Black, Red}

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	case Red:
		return "red"
	default:
		return "unknown"
	}
}

// RGBA implements color.Color.
func (c Color) RGBA() (r, g, b, a uint32) {
	switch c {
	case Black:
		return 0, 0, 0, 0xffff
	case Red:
		return 0xffff, 0, 0, 0xffff
	default:
		return 0xffff, 0xffff, 0xffff, 0xffff
	}
}

// Ink reports whether c puts ink on a plane.
func (c Color) Ink() bool {
	return c != White
}

// ByteValue returns the byte that paints eight pixels of c on a plane with
// the given polarity.
func (c Color) ByteValue(inverted bool) byte {
	if c.Ink() != inverted {
		return 0xff
	}
	return 0x00
}
