package epd

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestSendCommandBracket(t *testing.T) {
	bus := newFakeBus()
	if err := bus.iface().SendCommand(0x12); err != nil {
		t.Fatal(err)
	}
	want := []string{"DC=low", "CS=low", "tx(1)", "CS=high"}
	if !reflect.DeepEqual(bus.events, want) {
		t.Errorf("events = %v, want %v", bus.events, want)
	}
}

func TestSendCommandWithData(t *testing.T) {
	bus := newFakeBus()
	if err := bus.iface().SendCommandWithData(0x45, 1, 2, 3, 4); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"DC=low", "CS=low", "tx(1)", "CS=high",
		"DC=high", "CS=low", "tx(4)", "CS=high",
	}
	if !reflect.DeepEqual(bus.events, want) {
		t.Errorf("events = %v, want %v", bus.events, want)
	}
	if !reflect.DeepEqual(bus.txns, command(0x45, 1, 2, 3, 4)) {
		t.Errorf("txns = %v", bus.txns)
	}
}

func TestSendDataChunks(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		chunks []int
	}{
		{"empty", 0, nil},
		{"single byte", 1, []int{1}},
		{"exact chunk", 4096, []int{4096}},
		{"one over", 4097, []int{4096, 1}},
		{"full plane", 5000, []int{4096, 904}},
		{"three chunks", 10000, []int{4096, 4096, 1808}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newFakeBus()
			data := make([]byte, tt.size)
			for i := range data {
				data[i] = byte(i)
			}
			if err := bus.iface().SendData(data); err != nil {
				t.Fatal(err)
			}
			var chunks []int
			for _, op := range bus.rec.Ops {
				chunks = append(chunks, len(op.W))
			}
			if !reflect.DeepEqual(chunks, tt.chunks) {
				t.Errorf("chunks = %v, want %v", chunks, tt.chunks)
			}
			if tt.size == 0 {
				if len(bus.txns) != 0 {
					t.Errorf("empty data opened %d transactions", len(bus.txns))
				}
				return
			}
			if len(bus.txns) != 1 {
				t.Fatalf("got %d chip select brackets, want 1", len(bus.txns))
			}
			if bus.txns[0].cmd {
				t.Error("data sent with DC low")
			}
			if string(bus.txns[0].data) != string(data) {
				t.Error("data was altered in transit")
			}
		})
	}
}

func TestSendRepeatedByte(t *testing.T) {
	bus := newFakeBus()
	if err := bus.iface().SendRepeatedByte(0xa5, 5000); err != nil {
		t.Fatal(err)
	}
	if len(bus.txns) != 1 {
		t.Fatalf("got %d chip select brackets, want 1", len(bus.txns))
	}
	if got := bus.bytes(); len(got) != 5000 || strings.Trim(string(got), "\xa5") != "" {
		t.Errorf("sent %d bytes, want 5000 x 0xa5", len(got))
	}
	if len(bus.rec.Ops) != 2 {
		t.Errorf("got %d bus writes, want 2", len(bus.rec.Ops))
	}
}

func TestSendRepeatedByteZero(t *testing.T) {
	bus := newFakeBus()
	if err := bus.iface().SendRepeatedByte(0xff, 0); err != nil {
		t.Fatal(err)
	}
	if len(bus.events) != 0 {
		t.Errorf("events = %v, want none", bus.events)
	}
}

func TestReset(t *testing.T) {
	bus := newFakeBus()
	if err := bus.iface().Reset(); err != nil {
		t.Fatal(err)
	}
	if want := []string{"RST=low", "RST=high"}; !reflect.DeepEqual(bus.events, want) {
		t.Errorf("events = %v, want %v", bus.events, want)
	}
	want := []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}
	if !reflect.DeepEqual(bus.sleeps, want) {
		t.Errorf("sleeps = %v, want %v", bus.sleeps, want)
	}
}

func TestWaitUntilIdle(t *testing.T) {
	bus := newFakeBus()
	bus.busy.n = 3
	var states []bool
	config := bus.config()
	config.OnBusyStateChange = func(busy bool) {
		states = append(states, busy)
	}
	if err := NewInterface(bus, bus.pins(), config).WaitUntilIdle(); err != nil {
		t.Fatal(err)
	}
	if bus.busy.reads != 4 {
		t.Errorf("busy read %d times, want 4", bus.busy.reads)
	}
	if len(bus.sleeps) != 3 {
		t.Errorf("slept %d times, want 3", len(bus.sleeps))
	}
	if !reflect.DeepEqual(states, []bool{true, false}) {
		t.Errorf("busy states = %v, want [true false]", states)
	}
}

func TestWaitUntilIdleTimeout(t *testing.T) {
	bus := newFakeBus()
	bus.busy.n = 1 << 30
	config := bus.config()
	config.Delay = time.Sleep
	config.BusyPollTime = time.Millisecond
	config.BusyTimeout = 20 * time.Millisecond
	err := NewInterface(bus, bus.pins(), config).WaitUntilIdle()
	if !errors.Is(err, ErrBusyTimeout) {
		t.Errorf("WaitUntilIdle() = %v, want ErrBusyTimeout", err)
	}
}

func TestTransportErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeBus)
	}{
		{"dc pin", func(b *fakeBus) { b.dc.fail = true }},
		{"cs pin", func(b *fakeBus) { b.cs.fail = true }},
		{"bus write", func(b *fakeBus) { b.failTxAfter = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newFakeBus()
			tt.setup(bus)
			err := bus.iface().SendCommandWithData(0x44, 0, 24)
			if !errors.Is(err, ErrTransport) {
				t.Errorf("error = %v, want ErrTransport", err)
			}
			if !errors.Is(err, errInjected) {
				t.Errorf("error = %v, want the cause to be kept", err)
			}
		})
	}
}

func TestResetPinError(t *testing.T) {
	bus := newFakeBus()
	bus.rst.fail = true
	if err := bus.iface().Reset(); !errors.Is(err, ErrTransport) {
		t.Errorf("Reset() = %v, want ErrTransport", err)
	}
}

func TestNilChipSelect(t *testing.T) {
	bus := newFakeBus()
	pins := bus.pins()
	pins.CS = nil
	bus.open = true
	bus.txns = []txn{{}}
	if err := NewInterface(bus, pins, bus.config()).SendData([]byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	if want := []string{"DC=high", "tx(2)"}; !reflect.DeepEqual(bus.events, want) {
		t.Errorf("events = %v, want %v", bus.events, want)
	}
}
