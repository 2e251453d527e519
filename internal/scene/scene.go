// Package scene renders the images shown by the command line tool.
package scene

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/timschmolka/epd154/graphics"
)

// FontStyle selects one of the embedded Go fonts.
type FontStyle int

const (
	FontRegular FontStyle = iota
	FontBold
)

var (
	regularFont = mustParse(goregular.TTF)
	boldFont    = mustParse(gobold.TTF)
)

func mustParse(ttf []byte) *truetype.Font {
	f, err := truetype.Parse(ttf)
	if err != nil {
		panic(fmt.Sprintf("scene: embedded font: %v", err))
	}
	return f
}

// Face returns a font face of the given style and size in points.
func Face(style FontStyle, size float64) font.Face {
	f := regularFont
	if style == FontBold {
		f = boldFont
	}
	return truetype.NewFace(f, &truetype.Options{Size: size})
}

func newCanvas(width, height int) *gg.Context {
	dc := gg.NewContext(width, height)
	dc.SetColor(graphics.White)
	dc.Clear()
	return dc
}

// Demo draws a test card exercising both planes: a border, a ruler every 10
// pixels, a circle, a title and a red box.
func Demo(width, height int) image.Image {
	dc := newCanvas(width, height)
	w, h := float64(width), float64(height)

	dc.SetColor(graphics.Black)
	dc.SetLineWidth(2)
	dc.DrawRectangle(1, 1, w-2, h-2)
	dc.Stroke()

	dc.SetLineWidth(1)
	for x := 10; x < width; x += 10 {
		tick := 4.0
		if x%50 == 0 {
			tick = 8
		}
		dc.DrawLine(float64(x)+0.5, 2, float64(x)+0.5, 2+tick)
	}
	for y := 10; y < height; y += 10 {
		tick := 4.0
		if y%50 == 0 {
			tick = 8
		}
		dc.DrawLine(2, float64(y)+0.5, 2+tick, float64(y)+0.5)
	}
	dc.Stroke()

	dc.SetLineWidth(3)
	dc.DrawCircle(w/2, h/2+10, w/4)
	dc.Stroke()

	dc.SetColor(graphics.Red)
	dc.DrawRectangle(w/2-w/8, h/2+10-h/8, w/4, h/4)
	dc.Fill()

	dc.SetColor(graphics.Black)
	dc.SetFontFace(Face(FontBold, h/10))
	dc.DrawStringAnchored("SSD1681", w/2, h/6, 0.5, 0.5)

	dc.SetColor(graphics.Red)
	dc.SetFontFace(Face(FontRegular, h/16))
	dc.DrawStringAnchored(fmt.Sprintf("%dx%d", width, height), w/2, h-h/10, 0.5, 0.5)

	return dc.Image()
}

// ClockBand is the rectangle of a Clock image that changes from minute to
// minute. Its x edges are byte aligned so the band can be sent as a
// partial update.
func ClockBand(width, height int) image.Rectangle {
	top := height / 3
	bottom := height * 2 / 3
	return image.Rect(0, top, width, bottom)
}

// Clock renders t with layout centred in ClockBand and the date underneath.
func Clock(t time.Time, layout string, width, height int) image.Image {
	dc := newCanvas(width, height)
	w, h := float64(width), float64(height)
	band := ClockBand(width, height)

	dc.SetColor(graphics.Red)
	dc.DrawRectangle(0, 0, w, float64(band.Min.Y)-4)
	dc.Fill()

	dc.SetColor(graphics.White)
	dc.SetFontFace(Face(FontBold, h/10))
	dc.DrawStringAnchored(t.Format("Monday"), w/2, float64(band.Min.Y)/2, 0.5, 0.5)

	dc.SetColor(graphics.Black)
	dc.SetFontFace(Face(FontBold, float64(band.Dy())*0.6))
	dc.DrawStringAnchored(t.Format(layout), w/2, float64(band.Min.Y+band.Max.Y)/2, 0.5, 0.5)

	dc.SetFontFace(Face(FontRegular, h/12))
	dc.DrawStringAnchored(t.Format("2 Jan 2006"), w/2, float64(band.Max.Y+height)/2, 0.5, 0.5)

	return dc.Image()
}

// Fit scales src to fit inside width x height keeping its aspect ratio and
// centres it on a white background.
func Fit(src image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	sb := src.Bounds()
	if sb.Empty() {
		return dst
	}
	scale := min(float64(width)/float64(sb.Dx()), float64(height)/float64(sb.Dy()))
	dw := max(1, int(float64(sb.Dx())*scale))
	dh := max(1, int(float64(sb.Dy())*scale))
	x0 := (width - dw) / 2
	y0 := (height - dh) / 2

	draw.CatmullRom.Scale(dst, image.Rect(x0, y0, x0+dw, y0+dh), src, sb, draw.Over, nil)
	return dst
}
