package epd

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

// maxChunkSize is the largest single bus write. Linux spidev rejects
// transfers above 4096 bytes by default.
const maxChunkSize = 4096

var (
	// ErrTransport wraps every bus or control line failure.
	ErrTransport = errors.New("epd: transport error")
	// ErrBusyTimeout is returned when the busy line stays high longer than
	// the configured BusyTimeout.
	ErrBusyTimeout = errors.New("epd: timeout waiting for display to be ready")
)

// Pins are the control lines of the controller. CS may be nil when chip
// select is driven by the SPI controller itself.
type Pins struct {
	CS   gpio.PinOut
	DC   gpio.PinOut
	RST  gpio.PinOut
	Busy gpio.PinIn
}

// Interface turns control line and bus operations into command and data
// transactions. It knows nothing about the controller's registers.
type Interface struct {
	conn conn.Conn
	cs   gpio.PinOut
	dc   gpio.PinOut
	rst  gpio.PinOut
	busy gpio.PinIn

	resetHoldTime time.Duration
	busyPollTime  time.Duration
	busyTimeout   time.Duration
	onBusy        func(busy bool)
	delay         func(time.Duration)
}

// NewInterface returns an Interface writing to c. Timing and the busy hook
// are taken from config; a nil config uses DefaultConfig.
func NewInterface(c conn.Conn, pins Pins, config *DisplayConfig) *Interface {
	if config == nil {
		def := DefaultConfig()
		config = &def
	}
	delay := config.Delay
	if delay == nil {
		delay = time.Sleep
	}
	return &Interface{
		conn:          c,
		cs:            pins.CS,
		dc:            pins.DC,
		rst:           pins.RST,
		busy:          pins.Busy,
		resetHoldTime: config.ResetHoldTime,
		busyPollTime:  config.BusyPollTime,
		busyTimeout:   config.BusyTimeout,
		onBusy:        config.OnBusyStateChange,
		delay:         delay,
	}
}

func (i *Interface) String() string {
	return fmt.Sprintf("epd.Interface{%s}", i.conn)
}

// SendCommand transmits a single opcode with the DC line low.
func (i *Interface) SendCommand(cmd byte) error {
	return i.transfer(gpio.Low, []byte{cmd})
}

// SendData transmits data with the DC line high. Chip select stays asserted
// across all chunks of data.
func (i *Interface) SendData(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return i.transfer(gpio.High, data)
}

// SendCommandWithData sends cmd followed by its payload.
func (i *Interface) SendCommandWithData(cmd byte, data ...byte) error {
	if err := i.SendCommand(cmd); err != nil {
		return err
	}
	return i.SendData(data)
}

// SendRepeatedByte transmits value count times as data without building a
// buffer of count bytes.
func (i *Interface) SendRepeatedByte(value byte, count int) error {
	if count <= 0 {
		return nil
	}
	chunk := make([]byte, min(count, maxChunkSize))
	for j := range chunk {
		chunk[j] = value
	}

	if err := i.setPin("DC", i.dc, gpio.High); err != nil {
		return err
	}
	if err := i.selectChip(gpio.Low); err != nil {
		return err
	}
	for count > 0 {
		n := min(count, len(chunk))
		if err := i.tx(chunk[:n]); err != nil {
			return err
		}
		count -= n
	}
	return i.selectChip(gpio.High)
}

// WaitUntilIdle polls the busy line until the controller reports idle. With
// a zero BusyTimeout it waits forever.
func (i *Interface) WaitUntilIdle() error {
	if i.onBusy != nil {
		i.onBusy(true)
		defer i.onBusy(false)
	}

	var deadline time.Time
	if i.busyTimeout > 0 {
		deadline = time.Now().Add(i.busyTimeout)
	}
	for i.busy.Read() == gpio.High {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return ErrBusyTimeout
		}
		if i.busyPollTime > 0 {
			i.delay(i.busyPollTime)
		}
	}
	return nil
}

// Reset pulses the reset line low.
func (i *Interface) Reset() error {
	if err := i.setPin("RST", i.rst, gpio.Low); err != nil {
		return err
	}
	i.delay(i.resetHoldTime)
	if err := i.setPin("RST", i.rst, gpio.High); err != nil {
		return err
	}
	i.delay(i.resetHoldTime)
	return nil
}

func (i *Interface) transfer(dc gpio.Level, data []byte) error {
	if err := i.setPin("DC", i.dc, dc); err != nil {
		return err
	}
	if err := i.selectChip(gpio.Low); err != nil {
		return err
	}
	for len(data) > 0 {
		n := min(len(data), maxChunkSize)
		if err := i.tx(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return i.selectChip(gpio.High)
}

func (i *Interface) tx(data []byte) error {
	if err := i.conn.Tx(data, nil); err != nil {
		return fmt.Errorf("%w: bus write: %w", ErrTransport, err)
	}
	return nil
}

func (i *Interface) selectChip(level gpio.Level) error {
	if i.cs == nil {
		return nil
	}
	return i.setPin("CS", i.cs, level)
}

func (i *Interface) setPin(name string, pin gpio.PinOut, level gpio.Level) error {
	if err := pin.Out(level); err != nil {
		return fmt.Errorf("%w: %s pin: %w", ErrTransport, name, err)
	}
	return nil
}
