package hw

import (
	"fmt"
	"sync"

	"github.com/sweeney/irrigation-io/internal/errcode"
)

// WriteEvent records a single digital write for protocol-order assertions.
type WriteEvent struct {
	Pin   int
	Value bool
}

// FakeDriver is a test double for PinDriver. Digital inputs return either the
// next value from a per-pin scripted sequence or a fixed level; analog inputs
// return fixed raw codes. Every digital write is recorded in Trace. It also
// implements Sleeper as a no-op so bit-bang tests run instantly.
type FakeDriver struct {
	mu sync.Mutex

	// Fixed input levels and raw codes, keyed by pin.
	DigitalLevels map[int]bool
	AnalogCodes   map[int]int

	// InputSeq, if set for a pin, is consumed one value per read before
	// falling back to DigitalLevels. Used to feed shift-register bit streams.
	InputSeq map[int][]bool

	// ReadErr, if set for a pin, is returned by reads of that pin.
	ReadErr map[int]error

	// Trace records every digital write in order.
	Trace []WriteEvent

	// Written holds the last written level per output pin.
	Written map[int]bool

	inputs  map[int]bool
	outputs map[int]bool
	analog  map[int]bool

	// Closed tracks whether Close was called.
	Closed bool

	// Delays counts DelayMicros calls by microsecond amount.
	Delays map[int]int
}

// NewFakeDriver returns an empty FakeDriver; pins are configured through the
// normal PinDriver calls.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		DigitalLevels: make(map[int]bool),
		AnalogCodes:   make(map[int]int),
		InputSeq:      make(map[int][]bool),
		ReadErr:       make(map[int]error),
		Written:       make(map[int]bool),
		inputs:        make(map[int]bool),
		outputs:       make(map[int]bool),
		analog:        make(map[int]bool),
		Delays:        make(map[int]int),
	}
}

func (f *FakeDriver) ConfigureDigitalInput(pin int, pullup bool) error {
	if pin < 0 {
		return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("configure input pin %d", pin), nil)
	}
	f.mu.Lock()
	f.inputs[pin] = true
	f.mu.Unlock()
	return nil
}

func (f *FakeDriver) ConfigureDigitalOutput(pin int, initial bool) error {
	if pin < 0 {
		return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("configure output pin %d", pin), nil)
	}
	f.mu.Lock()
	f.outputs[pin] = true
	f.mu.Unlock()
	// Mirror the real driver: low first, then the optional raise.
	f.record(pin, false)
	if initial {
		f.record(pin, true)
	}
	return nil
}

func (f *FakeDriver) ConfigureAnalogInput(pin int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.AnalogCodes[pin]; !ok {
		return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("pin %d has no ADC channel", pin), nil)
	}
	f.analog[pin] = true
	return nil
}

func (f *FakeDriver) ReadDigital(pin int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ReadErr[pin]; err != nil {
		return false, err
	}
	if !f.inputs[pin] {
		return false, errcode.Wrap(errcode.InvalidState, fmt.Sprintf("pin %d not configured as input", pin), nil)
	}
	if seq := f.InputSeq[pin]; len(seq) > 0 {
		v := seq[0]
		f.InputSeq[pin] = seq[1:]
		return v, nil
	}
	return f.DigitalLevels[pin], nil
}

func (f *FakeDriver) WriteDigital(pin int, value bool) error {
	f.mu.Lock()
	configured := f.outputs[pin]
	f.mu.Unlock()
	if !configured {
		return errcode.Wrap(errcode.InvalidState, fmt.Sprintf("pin %d not configured as output", pin), nil)
	}
	f.record(pin, value)
	return nil
}

func (f *FakeDriver) ReadAnalog(pin int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ReadErr[pin]; err != nil {
		return 0, err
	}
	if !f.analog[pin] {
		return 0, errcode.Wrap(errcode.InvalidState, fmt.Sprintf("pin %d not configured as analog input", pin), nil)
	}
	return f.AnalogCodes[pin], nil
}

func (f *FakeDriver) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// DelayMicros counts delays instead of sleeping.
func (f *FakeDriver) DelayMicros(us int) {
	f.mu.Lock()
	f.Delays[us]++
	f.mu.Unlock()
}

// LastWrite returns the most recent written level for pin.
func (f *FakeDriver) LastWrite(pin int) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.Written[pin]
	return v, ok
}

// TraceFor returns the recorded writes for a single pin, in order.
func (f *FakeDriver) TraceFor(pin int) []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []bool
	for _, ev := range f.Trace {
		if ev.Pin == pin {
			out = append(out, ev.Value)
		}
	}
	return out
}

// ResetTrace discards the recorded writes.
func (f *FakeDriver) ResetTrace() {
	f.mu.Lock()
	f.Trace = nil
	f.mu.Unlock()
}

func (f *FakeDriver) record(pin int, value bool) {
	f.mu.Lock()
	f.Trace = append(f.Trace, WriteEvent{Pin: pin, Value: value})
	f.Written[pin] = value
	f.mu.Unlock()
}
