//go:build !linux

package hw

import "errors"

// RealDriver is not available on non-Linux platforms.
type RealDriver struct{}

// RealOptions configures the hardware driver.
type RealOptions struct {
	ChipName    string
	ADCPath     string
	ADCChannels map[int]int
}

var errUnsupported = errors.New("hw: not supported on this platform (requires Linux)")

// NewRealDriver returns an error on non-Linux platforms.
func NewRealDriver(opts RealOptions) (*RealDriver, error) {
	return nil, errUnsupported
}

func (d *RealDriver) ConfigureDigitalInput(pin int, pullup bool) error { return errUnsupported }

func (d *RealDriver) ConfigureDigitalOutput(pin int, initial bool) error { return errUnsupported }

func (d *RealDriver) ConfigureAnalogInput(pin int) error { return errUnsupported }

func (d *RealDriver) ReadDigital(pin int) (bool, error) { return false, errUnsupported }

func (d *RealDriver) WriteDigital(pin int, value bool) error { return errUnsupported }

func (d *RealDriver) ReadAnalog(pin int) (int, error) { return 0, errUnsupported }

func (d *RealDriver) Close() error { return nil }
