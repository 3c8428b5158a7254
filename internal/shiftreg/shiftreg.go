// Package shiftreg drives chained 74HC595 output and 74HC165 input shift
// registers over a bit-banged 3/4-wire protocol. Byte buffers (one per chip)
// live behind a timeout-bounded bank lock; the wire transfer itself runs
// outside that lock, serialized by a dedicated transfer mutex so two
// transfers of the same bank can never interleave.
package shiftreg

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/irrigation-io/internal/errcode"
	"github.com/sweeney/irrigation-io/internal/hw"
	"github.com/sweeney/irrigation-io/internal/timedmutex"
)

// MaxChips bounds the number of chained chips per direction.
const MaxChips = 8

// Protocol timing, microseconds. Lower bounds from the 74HC595/74HC165
// datasheets with generous margin.
const (
	bitDelayUs    = 1 // data setup/hold per bit
	latchSettleUs = 5 // latch commit settle
	loadPulseUs   = 5 // parallel-load pulse and settle
)

// Config describes the bank wiring. Pin numbers are controller GPIO numbers;
// OutputEnablePin may be -1 when the enable line is hard-wired.
type Config struct {
	OutputClockPin  int `json:"outputClockPin"`
	OutputLatchPin  int `json:"outputLatchPin"`
	OutputDataPin   int `json:"outputDataPin"`
	OutputEnablePin int `json:"outputEnablePin"` // active low, -1 if not wired
	NumOutputChips  int `json:"numOutputRegisters"`

	InputClockPin int `json:"inputClockPin"`
	InputLoadPin  int `json:"inputLoadPin"`
	InputDataPin  int `json:"inputDataPin"`
	NumInputChips int `json:"numInputRegisters"`
}

// Driver owns the byte buffers for one bank of chained registers.
type Driver struct {
	cfg   Config
	pins  hw.PinDriver
	sleep hw.Sleeper

	bank        *timedmutex.Mutex
	lockTimeout time.Duration
	wire        sync.Mutex // serializes bit-bang transfers

	outputs []byte
	inputs  []byte

	readCount  atomic.Uint32
	writeCount atomic.Uint32
	errorCount atomic.Uint32
}

// New configures the bank pins and drives every output register to zero
// before the output-enable line is asserted, so the chips never expose an
// undefined level.
func New(pins hw.PinDriver, sleep hw.Sleeper, cfg Config, lockTimeout time.Duration) (*Driver, error) {
	if cfg.NumOutputChips < 0 || cfg.NumOutputChips > MaxChips ||
		cfg.NumInputChips < 0 || cfg.NumInputChips > MaxChips {
		return nil, errcode.Wrap(errcode.InvalidArgument,
			fmt.Sprintf("chip counts out=%d in=%d (max %d)", cfg.NumOutputChips, cfg.NumInputChips, MaxChips), nil)
	}
	if lockTimeout <= 0 {
		lockTimeout = timedmutex.DefaultTimeout
	}

	d := &Driver{
		cfg:         cfg,
		pins:        pins,
		sleep:       sleep,
		bank:        timedmutex.New(),
		lockTimeout: lockTimeout,
		outputs:     make([]byte, cfg.NumOutputChips),
		inputs:      make([]byte, cfg.NumInputChips),
	}

	if cfg.NumOutputChips > 0 {
		if err := d.configureOutputPins(); err != nil {
			return nil, err
		}
		// Flush the zeroed buffer to hardware while the enable line is
		// still deasserted.
		if err := d.WriteOutputs(); err != nil {
			return nil, fmt.Errorf("initial output flush: %w", err)
		}
		if cfg.OutputEnablePin >= 0 {
			if err := d.pins.WriteDigital(cfg.OutputEnablePin, false); err != nil {
				return nil, fmt.Errorf("assert output enable: %w", err)
			}
		}
	}

	if cfg.NumInputChips > 0 {
		if err := d.configureInputPins(); err != nil {
			return nil, err
		}
	}

	return d, nil
}

func (d *Driver) configureOutputPins() error {
	if err := d.pins.ConfigureDigitalOutput(d.cfg.OutputClockPin, false); err != nil {
		return fmt.Errorf("output clock pin: %w", err)
	}
	if err := d.pins.ConfigureDigitalOutput(d.cfg.OutputLatchPin, false); err != nil {
		return fmt.Errorf("output latch pin: %w", err)
	}
	if err := d.pins.ConfigureDigitalOutput(d.cfg.OutputDataPin, false); err != nil {
		return fmt.Errorf("output data pin: %w", err)
	}
	if d.cfg.OutputEnablePin >= 0 {
		// Enable is active low: hold high (disabled) until the zero flush.
		if err := d.pins.ConfigureDigitalOutput(d.cfg.OutputEnablePin, true); err != nil {
			return fmt.Errorf("output enable pin: %w", err)
		}
	}
	return nil
}

func (d *Driver) configureInputPins() error {
	// Clock and load idle high on the 74HC165.
	if err := d.pins.ConfigureDigitalOutput(d.cfg.InputClockPin, true); err != nil {
		return fmt.Errorf("input clock pin: %w", err)
	}
	if err := d.pins.ConfigureDigitalOutput(d.cfg.InputLoadPin, true); err != nil {
		return fmt.Errorf("input load pin: %w", err)
	}
	if err := d.pins.ConfigureDigitalInput(d.cfg.InputDataPin, true); err != nil {
		return fmt.Errorf("input data pin: %w", err)
	}
	return nil
}

// WriteOutputs serializes the current output buffer to the chips and latches
// it. The buffer is copied under the bank lock; the transfer itself runs
// outside it.
func (d *Driver) WriteOutputs() error {
	if d.cfg.NumOutputChips == 0 {
		return nil
	}

	if err := d.bank.Lock(d.lockTimeout); err != nil {
		d.errorCount.Add(1)
		return errcode.Wrap(errcode.Timeout, "write outputs", err)
	}
	snapshot := make([]byte, len(d.outputs))
	copy(snapshot, d.outputs)
	d.bank.Unlock()

	d.wire.Lock()
	defer d.wire.Unlock()

	// Latch low while shifting, high to commit.
	if err := d.pins.WriteDigital(d.cfg.OutputLatchPin, false); err != nil {
		d.errorCount.Add(1)
		return err
	}

	// Highest chip index first so its byte ends up furthest down the chain.
	for chip := len(snapshot) - 1; chip >= 0; chip-- {
		b := snapshot[chip]
		for bit := 7; bit >= 0; bit-- {
			level := (b>>uint(bit))&1 == 1
			if err := d.pins.WriteDigital(d.cfg.OutputDataPin, level); err != nil {
				d.errorCount.Add(1)
				return err
			}
			if err := d.pins.WriteDigital(d.cfg.OutputClockPin, true); err != nil {
				d.errorCount.Add(1)
				return err
			}
			d.sleep.DelayMicros(bitDelayUs)
			if err := d.pins.WriteDigital(d.cfg.OutputClockPin, false); err != nil {
				d.errorCount.Add(1)
				return err
			}
			d.sleep.DelayMicros(bitDelayUs)
		}
	}

	if err := d.pins.WriteDigital(d.cfg.OutputLatchPin, true); err != nil {
		d.errorCount.Add(1)
		return err
	}
	d.sleep.DelayMicros(latchSettleUs)

	d.writeCount.Add(1)
	return nil
}

// ReadInputs captures the parallel inputs of every input chip into the bank
// buffer. The capture runs outside the bank lock; captured bytes are
// committed under it afterwards.
func (d *Driver) ReadInputs() error {
	if d.cfg.NumInputChips == 0 {
		return nil
	}

	d.wire.Lock()
	captured := make([]byte, d.cfg.NumInputChips)

	// Parallel-load pulse captures all inputs at once.
	if err := d.pins.WriteDigital(d.cfg.InputLoadPin, false); err != nil {
		d.wire.Unlock()
		d.errorCount.Add(1)
		return err
	}
	d.sleep.DelayMicros(loadPulseUs)
	if err := d.pins.WriteDigital(d.cfg.InputLoadPin, true); err != nil {
		d.wire.Unlock()
		d.errorCount.Add(1)
		return err
	}
	d.sleep.DelayMicros(loadPulseUs)

	// Serial capture, highest chip first, MSB first.
	for chip := d.cfg.NumInputChips - 1; chip >= 0; chip-- {
		var b byte
		for bit := 0; bit < 8; bit++ {
			level, err := d.pins.ReadDigital(d.cfg.InputDataPin)
			if err != nil {
				d.wire.Unlock()
				d.errorCount.Add(1)
				return err
			}
			b <<= 1
			if level {
				b |= 1
			}
			if err := d.pins.WriteDigital(d.cfg.InputClockPin, false); err != nil {
				d.wire.Unlock()
				d.errorCount.Add(1)
				return err
			}
			d.sleep.DelayMicros(bitDelayUs)
			if err := d.pins.WriteDigital(d.cfg.InputClockPin, true); err != nil {
				d.wire.Unlock()
				d.errorCount.Add(1)
				return err
			}
		}
		captured[chip] = b
	}
	d.wire.Unlock()

	if err := d.bank.Lock(d.lockTimeout); err != nil {
		d.errorCount.Add(1)
		return errcode.Wrap(errcode.Timeout, "commit inputs", err)
	}
	copy(d.inputs, captured)
	d.bank.Unlock()

	d.readCount.Add(1)
	return nil
}

// SetOutputBit updates one bit in the output buffer. It does not touch
// hardware; call WriteOutputs to flush.
func (d *Driver) SetOutputBit(chip, bit int, state bool) error {
	if err := validateIndex(chip, bit, d.cfg.NumOutputChips); err != nil {
		d.errorCount.Add(1)
		return err
	}
	if err := d.bank.Lock(d.lockTimeout); err != nil {
		d.errorCount.Add(1)
		return errcode.Wrap(errcode.Timeout, "set output bit", err)
	}
	defer d.bank.Unlock()

	if state {
		d.outputs[chip] |= 1 << uint(bit)
	} else {
		d.outputs[chip] &^= 1 << uint(bit)
	}
	return nil
}

// GetOutputBit returns one bit of the output buffer.
func (d *Driver) GetOutputBit(chip, bit int) (bool, error) {
	if err := validateIndex(chip, bit, d.cfg.NumOutputChips); err != nil {
		return false, err
	}
	if err := d.bank.Lock(d.lockTimeout); err != nil {
		d.errorCount.Add(1)
		return false, errcode.Wrap(errcode.Timeout, "get output bit", err)
	}
	defer d.bank.Unlock()
	return (d.outputs[chip]>>uint(bit))&1 == 1, nil
}

// GetInputBit returns one bit of the most recent input capture.
func (d *Driver) GetInputBit(chip, bit int) (bool, error) {
	if err := validateIndex(chip, bit, d.cfg.NumInputChips); err != nil {
		return false, err
	}
	if err := d.bank.Lock(d.lockTimeout); err != nil {
		d.errorCount.Add(1)
		return false, errcode.Wrap(errcode.Timeout, "get input bit", err)
	}
	defer d.bank.Unlock()
	return (d.inputs[chip]>>uint(bit))&1 == 1, nil
}

// SetOutputByte replaces a whole chip's output byte in the buffer.
func (d *Driver) SetOutputByte(chip int, value byte) error {
	if chip < 0 || chip >= d.cfg.NumOutputChips {
		d.errorCount.Add(1)
		return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("output chip %d", chip), nil)
	}
	if err := d.bank.Lock(d.lockTimeout); err != nil {
		d.errorCount.Add(1)
		return errcode.Wrap(errcode.Timeout, "set output byte", err)
	}
	defer d.bank.Unlock()
	d.outputs[chip] = value
	return nil
}

// GetOutputByte returns a chip's output byte from the buffer.
func (d *Driver) GetOutputByte(chip int) (byte, error) {
	if chip < 0 || chip >= d.cfg.NumOutputChips {
		return 0, errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("output chip %d", chip), nil)
	}
	if err := d.bank.Lock(d.lockTimeout); err != nil {
		d.errorCount.Add(1)
		return 0, errcode.Wrap(errcode.Timeout, "get output byte", err)
	}
	defer d.bank.Unlock()
	return d.outputs[chip], nil
}

// GetInputByte returns a chip's byte from the most recent input capture.
func (d *Driver) GetInputByte(chip int) (byte, error) {
	if chip < 0 || chip >= d.cfg.NumInputChips {
		return 0, errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("input chip %d", chip), nil)
	}
	if err := d.bank.Lock(d.lockTimeout); err != nil {
		d.errorCount.Add(1)
		return 0, errcode.Wrap(errcode.Timeout, "get input byte", err)
	}
	defer d.bank.Unlock()
	return d.inputs[chip], nil
}

// Statistics returns the transfer and error counters.
func (d *Driver) Statistics() (reads, writes, errors uint32) {
	return d.readCount.Load(), d.writeCount.Load(), d.errorCount.Load()
}

// NumOutputChips returns the configured output chain length.
func (d *Driver) NumOutputChips() int { return d.cfg.NumOutputChips }

// NumInputChips returns the configured input chain length.
func (d *Driver) NumInputChips() int { return d.cfg.NumInputChips }

func validateIndex(chip, bit, maxChips int) error {
	if chip < 0 || chip >= maxChips || bit < 0 || bit > 7 {
		return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("chip %d bit %d", chip, bit), nil)
	}
	return nil
}
