// Package epd drives the SSD1681 controller of a 1.54" 200x200 black, white
// and red e-paper panel over SPI.
//
// The controller holds one RAM plane for black/white and one for red. A
// refresh is a two step affair: stage planes with the Update and Clear
// methods, then call DisplayFrame to run the slow physical refresh.
package epd

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"

	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/timschmolka/epd154/graphics"
)

var (
	ErrNotInitialized = errors.New("epd: display not initialized")
	ErrHalted         = errors.New("epd: display is in deep sleep")
	ErrBounds         = errors.New("epd: rectangle out of panel bounds")
	ErrTooSmall       = errors.New("epd: partial rectangle must be at least 2x2 pixels")
	ErrAlignment      = errors.New("epd: x must be a multiple of 8")
	ErrBufferSize     = errors.New("epd: invalid buffer size")
)

type DisplayConfig struct {
	DCPin   string
	CSPin   string
	RSTPin  string
	BUSYPin string

	// SPIPort is the spireg port name, empty for the first available.
	SPIPort      string
	SPIFrequency physic.Frequency
	SPIMode      spi.Mode

	ResetHoldTime time.Duration
	BusyPollTime  time.Duration
	// BusyTimeout bounds WaitUntilIdle. Zero waits forever.
	BusyTimeout time.Duration

	OnBusyStateChange func(busy bool)

	// Delay is used for every wait; defaults to time.Sleep.
	Delay func(time.Duration)
}

func DefaultConfig() DisplayConfig {
	return DisplayConfig{
		DCPin:   "GPIO25",
		CSPin:   "GPIO8",
		RSTPin:  "GPIO17",
		BUSYPin: "GPIO24",

		SPIFrequency: 1 * physic.MegaHertz,
		SPIMode:      spi.Mode0,

		ResetHoldTime: 10 * time.Millisecond,
		BusyPollTime:  10 * time.Millisecond,
		BusyTimeout:   0,

		OnBusyStateChange: nil,
	}
}

// Phase is the controller state as tracked by the driver.
type Phase uint8

const (
	Uninitialized Phase = iota
	Initialized
	FrameStaged
	Activated
	Sleeping
)

func (p Phase) String() string {
	switch p {
	case Initialized:
		return "initialized"
	case FrameStaged:
		return "frame staged"
	case Activated:
		return "activated"
	case Sleeping:
		return "sleeping"
	default:
		return "uninitialized"
	}
}

// Display is a handle to the controller. It owns its Interface, and with it
// the control lines, for its whole lifetime.
type Display struct {
	port   spi.PortCloser
	iface  *Interface
	width  int
	height int
	phase  Phase

	// Planes used by Draw, allocated on first use.
	bw  *graphics.Buffer
	red *graphics.Buffer
}

// New opens the default SPI port and pins and initializes the display.
func New() (*Display, error) {
	return NewWithConfig(DefaultConfig())
}

func NewWithConfig(config DisplayConfig) (*Display, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init failed: %w", err)
	}

	port, err := spireg.Open(config.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("SPI open failed: %w", err)
	}

	pins, err := lookupPins(config)
	if err != nil {
		if closeErr := port.Close(); closeErr != nil {
			return nil, fmt.Errorf("GPIO init failed and port close failed: %w", closeErr)
		}
		return nil, err
	}

	d, err := NewSPI(port, pins, &config)
	if err != nil {
		if closeErr := port.Close(); closeErr != nil {
			return nil, fmt.Errorf("display init failed and port close failed: %w", closeErr)
		}
		return nil, err
	}
	d.port = port
	return d, nil
}

// NewSPI connects to p and initializes the display. The caller keeps
// ownership of p.
func NewSPI(p spi.Port, pins Pins, config *DisplayConfig) (*Display, error) {
	if config == nil {
		def := DefaultConfig()
		config = &def
	}
	if pins.DC == nil || pins.RST == nil || pins.Busy == nil {
		return nil, errors.New("epd: DC, RST and BUSY pins are required")
	}
	if pins.CS != nil {
		if err := pins.CS.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("%w: CS pin: %w", ErrTransport, err)
		}
	}
	if err := pins.Busy.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("%w: BUSY pin: %w", ErrTransport, err)
	}

	c, err := p.Connect(config.SPIFrequency, config.SPIMode, 8)
	if err != nil {
		return nil, fmt.Errorf("SPI connect failed: %w", err)
	}

	d := NewDisplay(NewInterface(c, pins, config))
	if err := d.Init(); err != nil {
		return nil, fmt.Errorf("display init failed: %w", err)
	}
	return d, nil
}

// NewDisplay wraps an existing Interface. The display is not initialized;
// call Init before staging frames.
func NewDisplay(iface *Interface) *Display {
	return &Display{
		iface:  iface,
		width:  Width,
		height: Height,
	}
}

func lookupPins(config DisplayConfig) (Pins, error) {
	var pins Pins
	if config.CSPin != "" {
		cs := gpioreg.ByName(config.CSPin)
		if cs == nil {
			return pins, fmt.Errorf("epd: CS pin %q not found", config.CSPin)
		}
		pins.CS = cs
	}
	dc := gpioreg.ByName(config.DCPin)
	rst := gpioreg.ByName(config.RSTPin)
	busy := gpioreg.ByName(config.BUSYPin)
	if dc == nil || rst == nil || busy == nil {
		return pins, errors.New("failed to initialize GPIO pins")
	}
	pins.DC, pins.RST, pins.Busy = dc, rst, busy
	return pins, nil
}

// Init resets the controller and programs panel geometry, RAM addressing,
// border waveform and temperature source. The order is mandated by the
// controller.
func (d *Display) Init() error {
	if err := d.iface.Reset(); err != nil {
		return err
	}
	if err := d.iface.WaitUntilIdle(); err != nil {
		return err
	}

	if err := d.iface.SendCommand(cmdSoftwareReset); err != nil {
		return err
	}
	if err := d.iface.WaitUntilIdle(); err != nil {
		return err
	}

	if err := d.iface.SendCommandWithData(cmdDriverOutputControl, byte(d.height-1), 0x00, 0x00); err != nil {
		return err
	}
	if err := d.iface.SendCommandWithData(cmdDataEntryMode, dataEntryIncrementXY); err != nil {
		return err
	}
	if err := d.useFullFrame(); err != nil {
		return err
	}
	if err := d.iface.SendCommandWithData(cmdBorderWaveformControl, borderWaveformFollowLUT|borderWaveformLUT1); err != nil {
		return err
	}
	if err := d.iface.SendCommandWithData(cmdTemperatureControl, tempSensorInternal); err != nil {
		return err
	}
	if err := d.iface.WaitUntilIdle(); err != nil {
		return err
	}

	d.phase = Initialized
	return nil
}

// SetRAMWindow selects the RAM area written by subsequent data. X is byte
// granular. It panics unless startX < endX and startY < endY.
func (d *Display) SetRAMWindow(startX, startY, endX, endY int) error {
	if startX >= endX {
		panic(fmt.Sprintf("epd: RAM window start x %d must be less than end x %d", startX, endX))
	}
	if startY >= endY {
		panic(fmt.Sprintf("epd: RAM window start y %d must be less than end y %d", startY, endY))
	}

	if err := d.iface.SendCommandWithData(cmdSetRAMXStartEndPos,
		byte(startX>>3),
		byte(endX>>3),
	); err != nil {
		return err
	}
	return d.iface.SendCommandWithData(cmdSetRAMYStartEndPos,
		byte(startY),
		byte(startY>>8),
		byte(endY),
		byte(endY>>8),
	)
}

// SetRAMCounter moves the RAM write position.
func (d *Display) SetRAMCounter(x, y int) error {
	// x is positioned in bytes; the bit position inside a byte is irrelevant.
	if err := d.iface.SendCommandWithData(cmdSetRAMXCounter, byte(x>>3)); err != nil {
		return err
	}
	return d.iface.SendCommandWithData(cmdSetRAMYCounter, byte(y), byte(y>>8))
}

func (d *Display) useFullFrame() error {
	if err := d.SetRAMWindow(0, 0, d.width-1, d.height-1); err != nil {
		return err
	}
	return d.SetRAMCounter(0, 0)
}

func (d *Display) ready() error {
	switch d.phase {
	case Uninitialized:
		return ErrNotInitialized
	case Sleeping:
		return ErrHalted
	}
	return nil
}

// UpdateBWFrame writes a whole black and white plane to controller RAM.
func (d *Display) UpdateBWFrame(buffer []byte) error {
	return d.updateFrame(cmdWriteRAMBW, buffer)
}

// UpdateRedFrame writes a whole red plane to controller RAM.
func (d *Display) UpdateRedFrame(buffer []byte) error {
	return d.updateFrame(cmdWriteRAMRed, buffer)
}

func (d *Display) updateFrame(cmd byte, buffer []byte) error {
	if err := d.ready(); err != nil {
		return err
	}
	if len(buffer) != graphics.BufferLength(d.width, d.height) {
		return ErrBufferSize
	}
	if err := d.useFullFrame(); err != nil {
		return err
	}
	if err := d.iface.SendCommandWithData(cmd, buffer...); err != nil {
		return err
	}
	d.phase = FrameStaged
	return nil
}

// UpdatePartialBWFrame writes buffer, a w x h plane, into the RAM window at
// (x, y). x must be a multiple of 8 and both w and h at least 2.
func (d *Display) UpdatePartialBWFrame(buffer []byte, x, y, w, h int) error {
	return d.updatePartialFrame(cmdWriteRAMBW, buffer, x, y, w, h)
}

// UpdatePartialRedFrame is UpdatePartialBWFrame for the red plane.
func (d *Display) UpdatePartialRedFrame(buffer []byte, x, y, w, h int) error {
	return d.updatePartialFrame(cmdWriteRAMRed, buffer, x, y, w, h)
}

func (d *Display) updatePartialFrame(cmd byte, buffer []byte, x, y, w, h int) error {
	if err := d.ready(); err != nil {
		return err
	}
	if x < 0 || y < 0 || w < 1 || h < 1 || x+w > d.width || y+h > d.height {
		return ErrBounds
	}
	// The window end is inclusive and must lie past its start on both axes.
	if w < 2 || h < 2 {
		return ErrTooSmall
	}
	if x%8 != 0 {
		return ErrAlignment
	}
	if len(buffer) != graphics.BufferLength(w, h) {
		return ErrBufferSize
	}

	if err := d.SetRAMWindow(x, y, x+w-1, y+h-1); err != nil {
		return err
	}
	if err := d.SetRAMCounter(x, y); err != nil {
		return err
	}
	if err := d.iface.SendCommandWithData(cmd, buffer...); err != nil {
		return err
	}
	d.phase = FrameStaged
	return nil
}

// ClearBWFrame makes the whole black and white RAM plane white.
func (d *Display) ClearBWFrame() error {
	return d.FillBWFrame(graphics.White)
}

// ClearRedFrame makes the whole red RAM plane white.
func (d *Display) ClearRedFrame() error {
	return d.FillRedFrame(graphics.White)
}

// FillBWFrame floods the black and white RAM plane with c.
func (d *Display) FillBWFrame(c graphics.Color) error {
	return d.fillFrame(cmdWriteRAMBW, c.ByteValue(true))
}

// FillRedFrame floods the red RAM plane with c.
func (d *Display) FillRedFrame(c graphics.Color) error {
	return d.fillFrame(cmdWriteRAMRed, c.ByteValue(false))
}

func (d *Display) fillFrame(cmd, value byte) error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.useFullFrame(); err != nil {
		return err
	}
	if err := d.iface.SendCommand(cmd); err != nil {
		return err
	}
	if err := d.iface.SendRepeatedByte(value, d.width/8*d.height); err != nil {
		return err
	}
	d.phase = FrameStaged
	return nil
}

// DisplayFrame runs a full refresh from controller RAM and blocks until the
// panel is idle.
func (d *Display) DisplayFrame() error {
	return d.activate(displayUpdateSequenceFull)
}

// DisplayPartialFrame runs a partial refresh and blocks until the panel is
// idle.
func (d *Display) DisplayPartialFrame() error {
	return d.activate(displayUpdateSequencePartial)
}

func (d *Display) activate(sequence byte) error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.iface.SendCommandWithData(cmdDisplayUpdateControl2, sequence); err != nil {
		return err
	}
	if err := d.iface.SendCommand(cmdMasterActivation); err != nil {
		return err
	}
	if err := d.iface.WaitUntilIdle(); err != nil {
		return err
	}
	d.phase = Activated
	return nil
}

// Phase returns the tracked controller state.
func (d *Display) Phase() Phase {
	return d.phase
}

// Size returns the panel dimensions.
func (d *Display) Size() (int, int) {
	return d.width, d.height
}

// String implements conn.Resource.
func (d *Display) String() string {
	return fmt.Sprintf("epd.Display{%s, %dx%d}", d.iface, d.width, d.height)
}

// Halt puts the controller into deep sleep. Only Init wakes it up again.
func (d *Display) Halt() error {
	if d.phase == Sleeping {
		return nil
	}
	if err := d.iface.SendCommandWithData(cmdDeepSleepMode, deepSleepMode1); err != nil {
		return err
	}
	d.phase = Sleeping
	return nil
}

// Close halts the display and releases the SPI port when it was opened by
// NewWithConfig. The port is released even when Halt fails.
func (d *Display) Close() error {
	err := d.Halt()
	if d.port == nil {
		return err
	}
	return errors.Join(err, d.port.Close())
}

// ColorModel implements display.Drawer.
func (d *Display) ColorModel() color.Model {
	return graphics.Palette
}

// Bounds implements display.Drawer.
func (d *Display) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.width, d.height)
}

// Draw implements display.Drawer. src is reduced to white, black and red,
// both planes are written and a full refresh is run. Pixels outside r are
// left as they were drawn last time.
func (d *Display) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	if d.bw == nil {
		d.bw = graphics.NewBW(d.width, d.height)
		d.red = graphics.NewRed(d.width, d.height)
	}
	graphics.Split(d.bw, d.red, r, src, sp)

	if err := d.UpdateBWFrame(d.bw.Bytes()); err != nil {
		return err
	}
	if err := d.UpdateRedFrame(d.red.Bytes()); err != nil {
		return err
	}
	return d.DisplayFrame()
}

var _ display.Drawer = (*Display)(nil)
