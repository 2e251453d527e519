package main

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/fogleman/gg"
	"github.com/robfig/cron/v3"

	"github.com/timschmolka/epd154/epd"
	"github.com/timschmolka/epd154/graphics"
	appLog "github.com/timschmolka/epd154/internal/log"
	"github.com/timschmolka/epd154/internal/scene"
)

func newPlanes(r graphics.Rotation) (bw, red *graphics.Buffer) {
	bw = graphics.NewBW(epd.Width, epd.Height)
	red = graphics.NewRed(epd.Width, epd.Height)
	bw.SetRotation(r)
	red.SetRotation(r)
	return bw, red
}

// logicalSize is the canvas size for rotation r.
func logicalSize(r graphics.Rotation) (int, int) {
	bw, _ := newPlanes(r)
	b := bw.Bounds()
	return b.Dx(), b.Dy()
}

// renderPlanes splits img, drawn in the logical frame, into fresh planes.
func renderPlanes(img image.Image, r graphics.Rotation) (bw, red *graphics.Buffer) {
	bw, red = newPlanes(r)
	graphics.Split(bw, red, bw.Bounds(), img, img.Bounds().Min)
	appLog.Debug("planes rendered", "size", img.Bounds().Size(), "rotation", bw.Rotation())
	return bw, red
}

// compose rebuilds the picture the panel would show from both planes. Red
// wins over black like on the panel.
func compose(bw, red *graphics.Buffer) image.Image {
	b := bw.Bounds()
	img := image.NewPaletted(b, graphics.Palette)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			switch {
			case red.Pixel(x, y):
				img.SetColorIndex(x, y, uint8(graphics.Red))
			case bw.Pixel(x, y):
				img.SetColorIndex(x, y, uint8(graphics.Black))
			}
		}
	}
	return img
}

func savePreview(path string, bw, red *graphics.Buffer) error {
	if err := gg.SavePNG(path, compose(bw, red)); err != nil {
		return fmt.Errorf("failed to save preview: %w", err)
	}
	appLog.Info("preview written", "path", path)
	return nil
}

// panelRows maps the logical rows [top, bottom) onto the physical rows of the
// panel. ok is false when the rows become columns on the panel.
func panelRows(top, bottom int, r graphics.Rotation) (y, h int, ok bool) {
	switch r {
	case graphics.Rotate0:
		return top, bottom - top, true
	case graphics.Rotate180:
		return epd.Height - bottom, bottom - top, true
	default:
		return 0, 0, false
	}
}

func (a *app) showImage(img image.Image) error {
	bw, red := renderPlanes(img, a.rotate)
	if a.flags.dryRun {
		return savePreview(a.flags.out, bw, red)
	}

	d, err := a.open()
	if err != nil {
		return err
	}
	defer closeDisplay(d)

	if err := d.UpdateBWFrame(bw.Bytes()); err != nil {
		return err
	}
	if err := d.UpdateRedFrame(red.Bytes()); err != nil {
		return err
	}
	start := time.Now()
	if err := d.DisplayFrame(); err != nil {
		return err
	}
	appLog.Info("frame displayed", "took", time.Since(start).Round(time.Millisecond))
	return nil
}

func (a *app) demo() error {
	w, h := logicalSize(a.rotate)
	return a.showImage(scene.Demo(w, h))
}

func (a *app) show(path string) error {
	src, err := gg.LoadImage(path)
	if err != nil {
		return fmt.Errorf("failed to load image %s: %w", path, err)
	}
	w, h := logicalSize(a.rotate)
	appLog.Debug("fitting image", "path", path, "size", src.Bounds().Size(), "target", image.Pt(w, h))
	return a.showImage(scene.Fit(src, w, h))
}

// clockRenderer keeps the display state between clock ticks.
type clockRenderer struct {
	d        *epd.Display
	layout   string
	rotate   graphics.Rotation
	every    int
	partials int
	last     string
	lastDate string
}

func (c *clockRenderer) tick(now time.Time) error {
	text := now.Format(c.layout)
	date := now.Format("2006-01-02")
	if text == c.last && date == c.lastDate {
		return nil
	}

	w, h := logicalSize(c.rotate)
	bw, red := renderPlanes(scene.Clock(now, c.layout, w, h), c.rotate)

	band := scene.ClockBand(w, h)
	y, rows, ok := panelRows(band.Min.Y, band.Max.Y, c.rotate)
	// The weekday and date lie outside the band.
	if date != c.lastDate || c.partials >= c.every || !ok {
		if err := c.d.UpdateBWFrame(bw.Bytes()); err != nil {
			return err
		}
		if err := c.d.UpdateRedFrame(red.Bytes()); err != nil {
			return err
		}
		if err := c.d.DisplayFrame(); err != nil {
			return err
		}
		c.partials = 0
		appLog.Debug("clock full refresh", "time", text)
	} else {
		if err := c.d.UpdatePartialBWFrame(bw.Rows(y, rows), 0, y, epd.Width, rows); err != nil {
			return err
		}
		if err := c.d.DisplayPartialFrame(); err != nil {
			return err
		}
		c.partials++
		appLog.Debug("clock partial refresh", "time", text, "y", y, "rows", rows)
	}
	c.last = text
	c.lastDate = date
	return nil
}

func (a *app) clock(ctx context.Context) error {
	if a.flags.dryRun {
		w, h := logicalSize(a.rotate)
		bw, red := renderPlanes(scene.Clock(time.Now(), a.conf.Clock.Layout, w, h), a.rotate)
		return savePreview(a.flags.out, bw, red)
	}

	d, err := a.open()
	if err != nil {
		return err
	}
	defer closeDisplay(d)

	cr := &clockRenderer{
		d:      d,
		layout: a.conf.Clock.Layout,
		rotate: a.rotate,
		every:  a.conf.Clock.FullRefreshEvery,
	}
	if err := cr.tick(time.Now()); err != nil {
		return err
	}

	// The first refresh error stops the clock.
	errCh := make(chan error, 1)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(a.conf.Clock.Schedule, func() {
		if err := cr.tick(time.Now()); err != nil {
			select {
			case errCh <- err:
			default:
			}
		}
	}); err != nil {
		return fmt.Errorf("invalid clock schedule %q: %w", a.conf.Clock.Schedule, err)
	}
	appLog.Info("clock started", "schedule", a.conf.Clock.Schedule, "layout", a.conf.Clock.Layout)
	c.Start()

	select {
	case <-ctx.Done():
		err = nil
	case err = <-errCh:
	}
	<-c.Stop().Done()
	return err
}
