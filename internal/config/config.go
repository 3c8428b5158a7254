// Package config loads and validates the I/O point table and shift-register
// bank description from a JSON file. Field names and defaults follow the
// controller's configuration schema: omitted fields take documented defaults,
// present fields win.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sweeney/irrigation-io/internal/errcode"
	"github.com/sweeney/irrigation-io/internal/shiftreg"
	"github.com/sweeney/irrigation-io/internal/signal"
)

// PointKind is the configured variant of an I/O point.
type PointKind string

const (
	KindAnalogInputGPIO  PointKind = "GPIO_AI"
	KindBinaryInputGPIO  PointKind = "GPIO_BI"
	KindBinaryOutputGPIO PointKind = "GPIO_BO"
	KindBinaryInputSR    PointKind = "SHIFT_REG_BI"
	KindBinaryOutputSR   PointKind = "SHIFT_REG_BO"
)

// IsInput reports whether the poll cycle reads this kind.
func (k PointKind) IsInput() bool {
	return k == KindAnalogInputGPIO || k == KindBinaryInputGPIO || k == KindBinaryInputSR
}

// IsOutput reports whether the kind is settable by actuator calls.
func (k PointKind) IsOutput() bool {
	return k == KindBinaryOutputGPIO || k == KindBinaryOutputSR
}

// IsShiftRegister reports whether the kind is addressed by chip and bit.
func (k PointKind) IsShiftRegister() bool {
	return k == KindBinaryInputSR || k == KindBinaryOutputSR
}

func (k PointKind) valid() bool {
	switch k {
	case KindAnalogInputGPIO, KindBinaryInputGPIO, KindBinaryOutputGPIO,
		KindBinaryInputSR, KindBinaryOutputSR:
		return true
	}
	return false
}

// AlarmRules holds the four fault-rule thresholds and the shared
// persistence/hysteresis counters for one point.
type AlarmRules struct {
	CheckRateOfChange     bool    `json:"checkRateOfChange"`
	RateOfChangeThreshold float64 `json:"rateOfChangeThreshold"`

	CheckDisconnected     bool    `json:"checkDisconnected"`
	DisconnectedThreshold float64 `json:"disconnectedThreshold"`

	CheckMaxValue     bool    `json:"checkMaxValue"`
	MaxValueThreshold float64 `json:"maxValueThreshold"`

	CheckStuckSignal          bool    `json:"checkStuckSignal"`
	StuckSignalWindowSamples  int     `json:"stuckSignalWindowSamples"`
	StuckSignalDeltaThreshold float64 `json:"stuckSignalDeltaThreshold"`

	PersistenceSamples int `json:"alarmPersistenceSamples"`
	SamplesToClear     int `json:"samplesToClearAlarmCondition"`

	// Accepted for schema compatibility; evaluation never restores trust
	// from it. See the alarm package.
	GoodSamplesToRestoreTrust int `json:"consecutiveGoodSamplesToRestoreTrust"`
}

// AlarmConfig enables fault monitoring for a point.
type AlarmConfig struct {
	Enabled bool       `json:"enabled"`
	Rules   AlarmRules `json:"rules"`
}

// Point is the immutable configuration of one I/O point.
type Point struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Kind     PointKind `json:"type"`
	Pin      int       `json:"pin"`
	ChipIdx  int       `json:"chipIndex"`
	BitIdx   int       `json:"bitIndex"`
	Inverted bool      `json:"isInverted"`

	RangeMin float64 `json:"rangeMin"`
	RangeMax float64 `json:"rangeMax"`

	Signal signal.Config `json:"signalConfig"`
	Alarm  AlarmConfig   `json:"alarmConfig"`
}

// File is the top-level configuration document.
type File struct {
	ShiftRegister shiftreg.Config `json:"shiftRegisterConfig"`
	Points        []Point         `json:"ioPoints"`
}

// defaultPoint carries the schema defaults applied before unmarshalling, so
// only fields present in the JSON override them.
func defaultPoint() Point {
	return Point{
		Pin:      -1,
		RangeMin: 0,
		RangeMax: 100,
		Signal: signal.Config{
			Gain:            1,
			Scale:           1,
			Filter:          signal.FilterNone,
			WindowSize:      5,
			PrecisionDigits: 2,
		},
		Alarm: AlarmConfig{
			Rules: AlarmRules{
				RateOfChangeThreshold:     50,
				DisconnectedThreshold:     0.5,
				MaxValueThreshold:         4090,
				StuckSignalWindowSamples:  10,
				StuckSignalDeltaThreshold: 1.0,
				PersistenceSamples:        1,
				SamplesToClear:            3,
				GoodSamplesToRestoreTrust: 5,
			},
		},
	}
}

// UnmarshalJSON fills schema defaults before decoding.
func (p *Point) UnmarshalJSON(data []byte) error {
	type alias Point
	tmp := alias(defaultPoint())
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*p = Point(tmp)
	return nil
}

// UnmarshalJSON fills bank-pin defaults (-1 = unwired) before decoding.
func (f *File) UnmarshalJSON(data []byte) error {
	type alias File
	tmp := alias(File{
		ShiftRegister: shiftreg.Config{
			OutputClockPin:  -1,
			OutputLatchPin:  -1,
			OutputDataPin:   -1,
			OutputEnablePin: -1,
			InputClockPin:   -1,
			InputLoadPin:    -1,
			InputDataPin:    -1,
		},
	})
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*f = File(tmp)
	return nil
}

// Load reads and validates a configuration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the whole document for internal consistency.
func (f *File) Validate() error {
	seen := make(map[string]bool, len(f.Points))
	for i := range f.Points {
		p := &f.Points[i]
		if p.ID == "" {
			return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("point %d has no id", i), nil)
		}
		if seen[p.ID] {
			return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("duplicate point id %q", p.ID), nil)
		}
		seen[p.ID] = true

		if !p.Kind.valid() {
			return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("point %q: unknown type %q", p.ID, p.Kind), nil)
		}

		if p.Kind.IsShiftRegister() {
			if p.ChipIdx < 0 || p.ChipIdx >= shiftreg.MaxChips || p.BitIdx < 0 || p.BitIdx > 7 {
				return errcode.Wrap(errcode.InvalidArgument,
					fmt.Sprintf("point %q: chip %d bit %d out of range", p.ID, p.ChipIdx, p.BitIdx), nil)
			}
		} else if p.Pin < 0 {
			return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("point %q: pin not set", p.ID), nil)
		}

		if p.Kind == KindAnalogInputGPIO && p.RangeMax <= p.RangeMin {
			return errcode.Wrap(errcode.InvalidArgument,
				fmt.Sprintf("point %q: range [%g,%g] is empty", p.ID, p.RangeMin, p.RangeMax), nil)
		}

		if err := signal.Validate(p.Signal); err != nil {
			return fmt.Errorf("point %q: %w", p.ID, err)
		}

		if p.Alarm.Enabled {
			r := p.Alarm.Rules
			if r.PersistenceSamples < 1 || r.SamplesToClear < 1 {
				return errcode.Wrap(errcode.InvalidArgument,
					fmt.Sprintf("point %q: persistence %d / clear %d must be >= 1", p.ID, r.PersistenceSamples, r.SamplesToClear), nil)
			}
			if r.CheckStuckSignal && (r.StuckSignalWindowSamples < 2 || r.StuckSignalWindowSamples > 20) {
				return errcode.Wrap(errcode.InvalidArgument,
					fmt.Sprintf("point %q: stuck-signal window %d out of range 2-20", p.ID, r.StuckSignalWindowSamples), nil)
			}
		}
	}

	sr := f.ShiftRegister
	if sr.NumOutputChips < 0 || sr.NumOutputChips > shiftreg.MaxChips ||
		sr.NumInputChips < 0 || sr.NumInputChips > shiftreg.MaxChips {
		return errcode.Wrap(errcode.InvalidArgument,
			fmt.Sprintf("shift register chip counts out=%d in=%d", sr.NumOutputChips, sr.NumInputChips), nil)
	}
	if sr.NumOutputChips > 0 && (sr.OutputClockPin < 0 || sr.OutputLatchPin < 0 || sr.OutputDataPin < 0) {
		return errcode.Wrap(errcode.InvalidArgument, "shift register output pins not fully wired", nil)
	}
	if sr.NumInputChips > 0 && (sr.InputClockPin < 0 || sr.InputLoadPin < 0 || sr.InputDataPin < 0) {
		return errcode.Wrap(errcode.InvalidArgument, "shift register input pins not fully wired", nil)
	}

	// Points must address chips the bank actually has.
	for i := range f.Points {
		p := &f.Points[i]
		switch p.Kind {
		case KindBinaryInputSR:
			if p.ChipIdx >= sr.NumInputChips {
				return errcode.Wrap(errcode.InvalidArgument,
					fmt.Sprintf("point %q: input chip %d but only %d configured", p.ID, p.ChipIdx, sr.NumInputChips), nil)
			}
		case KindBinaryOutputSR:
			if p.ChipIdx >= sr.NumOutputChips {
				return errcode.Wrap(errcode.InvalidArgument,
					fmt.Sprintf("point %q: output chip %d but only %d configured", p.ID, p.ChipIdx, sr.NumOutputChips), nil)
			}
		}
	}

	return nil
}
