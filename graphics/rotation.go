package graphics

import "fmt"

// Rotation defines clockwise pixel rotation.
type Rotation uint8

// Supported rotations.
const (
	Rotate0   Rotation = iota
	Rotate90           // Rotate 90° clock wise
	Rotate180          // Rotate 180°
	Rotate270          // Rotate 270° clock wise
)

func (r Rotation) String() string {
	switch r % 4 {
	case Rotate90:
		return "90°"
	case Rotate180:
		return "180°"
	case Rotate270:
		return "270°"
	default:
		return "0°"
	}
}

// ParseRotation parses a rotation in degrees or one of its aliases.
func ParseRotation(s string) (Rotation, error) {
	switch s {
	case "", "no", "0":
		return Rotate0, nil
	case "90", "right", "cw":
		return Rotate90, nil
	case "180", "flip":
		return Rotate180, nil
	case "270", "left", "ccw":
		return Rotate270, nil
	default:
		return Rotate0, fmt.Errorf("graphics: invalid rotation %q", s)
	}
}

// swapsAxes reports whether the logical frame is transposed.
func (r Rotation) swapsAxes() bool {
	return r%4 == Rotate90 || r%4 == Rotate270
}

// BufferLength is the number of bytes needed for a width x height plane. Rows
// are padded to whole bytes.
func BufferLength(width, height int) int {
	return (width + 7) / 8 * height
}

// OutsideBounds reports whether the logical point (x, y) falls outside a
// width x height panel viewed at rotation r.
func OutsideBounds(x, y, width, height int, r Rotation) bool {
	if x < 0 || y < 0 {
		return true
	}
	if r.swapsAxes() {
		return x >= height || y >= width
	}
	return x >= width || y >= height
}

// RotateCoordinates maps a logical point to physical panel coordinates.
func RotateCoordinates(x, y, width, height int, r Rotation) (int, int) {
	switch r % 4 {
	case Rotate90:
		return width - 1 - y, x
	case Rotate180:
		return width - 1 - x, height - 1 - y
	case Rotate270:
		return y, height - 1 - x
	default:
		return x, y
	}
}

// Address returns the byte index and bit mask of the logical point (x, y).
// The most significant bit is the leftmost pixel of a byte. The point must be
// inside the bounds reported by OutsideBounds.
func Address(x, y, width, height int, r Rotation) (int, byte) {
	nx, ny := RotateCoordinates(x, y, width, height, r)
	return nx/8 + (width+7)/8*ny, 0x80 >> uint(nx%8)
}
