//go:build linux

package hw

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/irrigation-io/internal/errcode"
)

// DefaultADCChannels maps controller pin numbers to IIO voltage channels on
// the reference hardware. Pins absent from the map cannot be configured as
// analog inputs.
var DefaultADCChannels = map[int]int{
	32: 4,
	33: 5,
	34: 6,
	35: 7,
	36: 0,
	37: 1,
	38: 2,
	39: 3,
}

// RealOptions configures the hardware driver.
type RealOptions struct {
	// ChipName is the GPIO character device, e.g. "gpiochip0".
	ChipName string
	// ADCPath is the IIO device directory holding in_voltageN_raw files.
	ADCPath string
	// ADCChannels maps pin numbers to IIO channel numbers.
	// Nil means DefaultADCChannels.
	ADCChannels map[int]int
}

// RealDriver drives pins on actual hardware.
type RealDriver struct {
	chip *gpiocdev.Chip

	mu      sync.Mutex
	inputs  map[int]*gpiocdev.Line
	outputs map[int]*gpiocdev.Line
	analog  map[int]int // pin -> IIO channel

	adcPath  string
	channels map[int]int
}

// NewRealDriver opens the GPIO character device.
func NewRealDriver(opts RealOptions) (*RealDriver, error) {
	if opts.ChipName == "" {
		opts.ChipName = "gpiochip0"
	}
	if opts.ADCPath == "" {
		opts.ADCPath = "/sys/bus/iio/devices/iio:device0"
	}
	channels := opts.ADCChannels
	if channels == nil {
		channels = DefaultADCChannels
	}

	chip, err := gpiocdev.NewChip(opts.ChipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", opts.ChipName, err)
	}

	return &RealDriver{
		chip:     chip,
		inputs:   make(map[int]*gpiocdev.Line),
		outputs:  make(map[int]*gpiocdev.Line),
		analog:   make(map[int]int),
		adcPath:  opts.ADCPath,
		channels: channels,
	}, nil
}

// ConfigureDigitalInput requests pin as an input line.
func (d *RealDriver) ConfigureDigitalInput(pin int, pullup bool) error {
	if pin < 0 {
		return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("configure input pin %d", pin), nil)
	}

	lineOpts := []gpiocdev.LineReqOption{gpiocdev.AsInput}
	if pullup {
		lineOpts = append(lineOpts, gpiocdev.WithPullUp)
	}
	line, err := d.chip.RequestLine(pin, lineOpts...)
	if err != nil {
		return fmt.Errorf("request input pin %d: %w", pin, err)
	}

	d.mu.Lock()
	d.inputs[pin] = line
	d.mu.Unlock()
	return nil
}

// ConfigureDigitalOutput requests pin as an output line, driven low first.
func (d *RealDriver) ConfigureDigitalOutput(pin int, initial bool) error {
	if pin < 0 {
		return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("configure output pin %d", pin), nil)
	}

	// Request with value 0 so the pin settles at the OFF level before any
	// optional raise.
	line, err := d.chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		return fmt.Errorf("request output pin %d: %w", pin, err)
	}
	if initial {
		if err := line.SetValue(1); err != nil {
			line.Close()
			return fmt.Errorf("raise output pin %d: %w", pin, err)
		}
	}

	d.mu.Lock()
	d.outputs[pin] = line
	d.mu.Unlock()
	return nil
}

// ConfigureAnalogInput maps pin to its ADC channel.
func (d *RealDriver) ConfigureAnalogInput(pin int) error {
	ch, ok := d.channels[pin]
	if !ok {
		return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("pin %d has no ADC channel", pin), nil)
	}

	d.mu.Lock()
	d.analog[pin] = ch
	d.mu.Unlock()
	return nil
}

// ReadDigital returns the level of a configured input pin.
func (d *RealDriver) ReadDigital(pin int) (bool, error) {
	d.mu.Lock()
	line, ok := d.inputs[pin]
	d.mu.Unlock()
	if !ok {
		return false, errcode.Wrap(errcode.InvalidState, fmt.Sprintf("pin %d not configured as input", pin), nil)
	}

	v, err := line.Value()
	if err != nil {
		return false, errcode.Wrap(errcode.HardwareError, fmt.Sprintf("read pin %d", pin), err)
	}
	return v != 0, nil
}

// WriteDigital drives a configured output pin.
func (d *RealDriver) WriteDigital(pin int, value bool) error {
	d.mu.Lock()
	line, ok := d.outputs[pin]
	d.mu.Unlock()
	if !ok {
		return errcode.Wrap(errcode.InvalidState, fmt.Sprintf("pin %d not configured as output", pin), nil)
	}

	level := 0
	if value {
		level = 1
	}
	if err := line.SetValue(level); err != nil {
		return errcode.Wrap(errcode.HardwareError, fmt.Sprintf("write pin %d", pin), err)
	}
	return nil
}

// ReadAnalog reads the raw code of a configured analog pin from IIO sysfs.
func (d *RealDriver) ReadAnalog(pin int) (int, error) {
	d.mu.Lock()
	ch, ok := d.analog[pin]
	d.mu.Unlock()
	if !ok {
		return 0, errcode.Wrap(errcode.InvalidState, fmt.Sprintf("pin %d not configured as analog input", pin), nil)
	}

	path := filepath.Join(d.adcPath, fmt.Sprintf("in_voltage%d_raw", ch))
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errcode.Wrap(errcode.HardwareError, fmt.Sprintf("read adc channel %d", ch), err)
	}
	raw, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errcode.Wrap(errcode.HardwareError, fmt.Sprintf("parse adc channel %d", ch), err)
	}
	if raw < 0 {
		raw = 0
	}
	if raw > ADCResolution {
		raw = ADCResolution
	}
	return raw, nil
}

// Close releases all claimed lines and the chip.
func (d *RealDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for pin, line := range d.inputs {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close input pin %d: %w", pin, err))
		}
	}
	for pin, line := range d.outputs {
		// Reconfigure outputs to input before closing so external hardware
		// does not see a held level across restarts.
		if err := line.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure output pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output pin %d: %w", pin, err))
		}
	}
	d.inputs = map[int]*gpiocdev.Line{}
	d.outputs = map[int]*gpiocdev.Line{}
	d.analog = map[int]int{}

	if d.chip != nil {
		if err := d.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		d.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
