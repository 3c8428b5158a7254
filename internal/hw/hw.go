// Package hw provides the single-pin GPIO abstraction the rest of the I/O
// core is built on. The real implementation uses the Linux GPIO character
// device for digital pins and the IIO sysfs interface for analog channels.
// The fake implementation allows testing without hardware, including the
// bit-banged shift-register protocol.
package hw

import "time"

// PinDriver configures and accesses individual pins. Configuration must
// precede use: reading or writing an unconfigured pin is an error. All
// operations are synchronous and side-effect only the named pin.
type PinDriver interface {
	// ConfigureDigitalInput claims pin as a digital input, optionally
	// with an internal pull-up.
	ConfigureDigitalInput(pin int, pullup bool) error

	// ConfigureDigitalOutput claims pin as a digital output. The pin is
	// always driven to the low (OFF) level first and only then raised if
	// initial is true, so it never passes through an undefined level.
	ConfigureDigitalOutput(pin int, initial bool) error

	// ConfigureAnalogInput claims pin as an analog input. Only pins wired
	// to an ADC channel are accepted.
	ConfigureAnalogInput(pin int) error

	// ReadDigital returns the current level of a configured digital input.
	ReadDigital(pin int) (bool, error)

	// WriteDigital drives a configured digital output.
	WriteDigital(pin int, value bool) error

	// ReadAnalog returns the raw 12-bit code (0-4095) of a configured
	// analog input.
	ReadAnalog(pin int) (int, error)

	// Close releases all claimed pins.
	Close() error
}

// Sleeper provides the microsecond delays used by bit-banged protocols.
// Abstracting it keeps the protocol logic testable with a no-op clock.
type Sleeper interface {
	DelayMicros(us int)
}

// ADCResolution is the raw code range of the ADC: 12-bit, codes 0-4095.
const ADCResolution = 4095

// StdSleeper delays with time.Sleep. Good enough for 74HC595/74HC165 timing,
// which only needs lower bounds.
type StdSleeper struct{}

func (StdSleeper) DelayMicros(us int) { time.Sleep(time.Duration(us) * time.Microsecond) }
