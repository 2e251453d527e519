package epd

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

var errInjected = errors.New("injected failure")

// txn is one chip select bracket as seen by the controller.
type txn struct {
	cmd  bool
	data []byte
}

func command(op byte, data ...byte) []txn {
	t := []txn{{cmd: true, data: []byte{op}}}
	if len(data) > 0 {
		t = append(t, txn{data: data})
	}
	return t
}

// fakeBus is a conn.Conn that tracks chip select and data/command levels to
// split recorded writes into transactions.
type fakeBus struct {
	rec    conntest.Record
	events []string
	txns   []txn
	open   bool
	sleeps []time.Duration

	cs   *tracePin
	dc   *tracePin
	rst  *tracePin
	busy *busyPin

	failTxAfter int // fail the n-th bus write when > 0
	writes      int
}

func newFakeBus() *fakeBus {
	b := &fakeBus{}
	b.cs = &tracePin{Pin: &gpiotest.Pin{N: "CS", L: gpio.High}, bus: b}
	b.dc = &tracePin{Pin: &gpiotest.Pin{N: "DC"}, bus: b}
	b.rst = &tracePin{Pin: &gpiotest.Pin{N: "RST", L: gpio.High}, bus: b}
	b.busy = &busyPin{Pin: &gpiotest.Pin{N: "BUSY", L: gpio.Low}}
	return b
}

func (b *fakeBus) pins() Pins {
	return Pins{CS: b.cs, DC: b.dc, RST: b.rst, Busy: b.busy}
}

func (b *fakeBus) config() *DisplayConfig {
	config := DefaultConfig()
	config.Delay = func(d time.Duration) {
		b.sleeps = append(b.sleeps, d)
	}
	return &config
}

func (b *fakeBus) iface() *Interface {
	return NewInterface(b, b.pins(), b.config())
}

// display returns an initialized Display with the bus history cleared.
func (b *fakeBus) display() *Display {
	d := NewDisplay(b.iface())
	if err := d.Init(); err != nil {
		panic(err)
	}
	b.reset()
	return d
}

func (b *fakeBus) reset() {
	b.rec.Ops = nil
	b.events = nil
	b.txns = nil
	b.sleeps = nil
	b.writes = 0
}

func (b *fakeBus) String() string {
	return "fakeBus"
}

func (b *fakeBus) Duplex() conn.Duplex {
	return conn.Half
}

func (b *fakeBus) Tx(w, r []byte) error {
	b.writes++
	if b.failTxAfter > 0 && b.writes >= b.failTxAfter {
		return errInjected
	}
	b.events = append(b.events, fmt.Sprintf("tx(%d)", len(w)))
	if !b.open {
		return errors.New("write outside of a chip select bracket")
	}
	last := &b.txns[len(b.txns)-1]
	if len(last.data) == 0 {
		last.cmd = b.dc.Read() == gpio.Low
	}
	last.data = append(last.data, w...)
	return b.rec.Tx(w, r)
}

// bytes returns every byte written to the bus.
func (b *fakeBus) bytes() []byte {
	var out []byte
	for _, op := range b.rec.Ops {
		out = append(out, op.W...)
	}
	return out
}

type tracePin struct {
	*gpiotest.Pin
	bus  *fakeBus
	fail bool
}

func (p *tracePin) Out(l gpio.Level) error {
	if p.fail {
		return errInjected
	}
	level := "low"
	if l == gpio.High {
		level = "high"
	}
	p.bus.events = append(p.bus.events, p.N+"="+level)
	if p.N == "CS" {
		switch {
		case l == gpio.Low && !p.bus.open:
			p.bus.txns = append(p.bus.txns, txn{})
			p.bus.open = true
		case l == gpio.High:
			p.bus.open = false
		}
	}
	return p.Pin.Out(l)
}

// busyPin reports busy for the first n reads.
type busyPin struct {
	*gpiotest.Pin
	n     int
	reads int
}

func (p *busyPin) Read() gpio.Level {
	p.reads++
	if p.reads <= p.n {
		return gpio.High
	}
	return p.Pin.Read()
}

// fakePort is a spi.Port handing out the fake bus.
type fakePort struct {
	bus    *fakeBus
	freq   physic.Frequency
	mode   spi.Mode
	closed int
}

func (p *fakePort) Close() error {
	p.closed++
	return nil
}

func (p *fakePort) String() string {
	return "fakePort"
}

func (p *fakePort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	if bits != 8 {
		return nil, fmt.Errorf("unexpected bits per word %d", bits)
	}
	p.freq, p.mode = f, mode
	return &fakeConn{fakeBus: p.bus}, nil
}

func (p *fakePort) LimitSpeed(f physic.Frequency) error {
	return nil
}

type fakeConn struct {
	*fakeBus
}

func (c *fakeConn) TxPackets(p []spi.Packet) error {
	return errors.New("not supported")
}
