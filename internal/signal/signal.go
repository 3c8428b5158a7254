// Package signal implements the conditioning pipeline applied to every raw
// sensor reading: offset, gain, scaling, optional lookup-table linearization,
// simple-moving-average filtering, and precision rounding. The pipeline
// itself is pure; per-point filter state is held in a State value owned by
// the caller and never shared across points.
package signal

import (
	"fmt"
	"math"

	"github.com/sweeney/irrigation-io/internal/errcode"
	"github.com/sweeney/irrigation-io/internal/hw"
	"github.com/sweeney/irrigation-io/internal/ring"
)

// FilterType selects the smoothing filter.
type FilterType string

const (
	FilterNone FilterType = "none"
	FilterSMA  FilterType = "sma"
)

// MaxWindow bounds SMA filter storage per point. Configured windows are
// clamped to this regardless of the requested size.
const MaxWindow = 32

// maxPrecision bounds rounding to what float64 sensor data meaningfully holds.
const maxPrecision = 6

// LookupPoint is one breakpoint of a piecewise-linear calibration table.
type LookupPoint struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// Config is the per-point conditioning configuration.
type Config struct {
	Enabled         bool          `json:"enabled"`
	Offset          float64       `json:"offset"`
	Gain            float64       `json:"gain"`
	Scale           float64       `json:"scalingFactor"`
	Filter          FilterType    `json:"filterType"`
	WindowSize      int           `json:"smaWindowSize"`
	PrecisionDigits int           `json:"precisionDigits"`
	LookupTable     []LookupPoint `json:"lookupTable,omitempty"`
}

// State holds the mutable SMA filter state for one point.
type State struct {
	buf *ring.Buffer
	sum float64
}

// NewState allocates filter state sized to the config's clamped window.
func NewState(cfg Config) *State {
	w := cfg.WindowSize
	if w < 1 {
		w = 1
	}
	if w > MaxWindow {
		w = MaxWindow
	}
	return &State{buf: ring.New(w)}
}

// Reset discards accumulated filter state.
func (s *State) Reset() {
	s.buf.Reset()
	s.sum = 0
}

// Samples returns how many samples the filter currently holds.
func (s *State) Samples() int { return s.buf.Len() }

// Apply runs the conditioning pipeline on one raw value. When conditioning is
// disabled the raw value passes through unchanged.
func (c Config) Apply(raw float64, st *State) float64 {
	if !c.Enabled {
		return raw
	}

	v := raw + c.Offset
	v *= c.Gain
	v *= c.Scale

	if len(c.LookupTable) >= 2 {
		v = interpolate(v, c.LookupTable)
	}

	if c.Filter == FilterSMA && c.WindowSize >= 1 && st != nil {
		displaced, full := st.buf.Push(v)
		st.sum += v
		if full {
			st.sum -= displaced
		}
		v = st.sum / float64(st.buf.Len())
	}

	return roundTo(v, c.PrecisionDigits)
}

// interpolate maps v through the sorted breakpoint table, clamping at the
// table ends.
func interpolate(v float64, table []LookupPoint) float64 {
	if v <= table[0].Input {
		return table[0].Output
	}
	last := table[len(table)-1]
	if v >= last.Input {
		return last.Output
	}
	for i := 0; i < len(table)-1; i++ {
		x1, y1 := table[i].Input, table[i].Output
		x2, y2 := table[i+1].Input, table[i+1].Output
		if v >= x1 && v <= x2 {
			if x2 == x1 {
				return y1
			}
			return y1 + (y2-y1)*(v-x1)/(x2-x1)
		}
	}
	return v
}

func roundTo(v float64, digits int) float64 {
	if digits < 0 {
		digits = 0
	}
	if digits > maxPrecision {
		digits = maxPrecision
	}
	mult := math.Pow(10, float64(digits))
	return math.Round(v*mult) / mult
}

// RawToEngineering converts a 12-bit ADC code to engineering units over the
// point's configured [min,max] range.
func RawToEngineering(raw int, min, max float64) float64 {
	normalized := float64(raw) / float64(hw.ADCResolution)
	return min + normalized*(max-min)
}

// Validate rejects configurations the pipeline cannot honor.
func Validate(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Filter != "" && cfg.Filter != FilterNone && cfg.Filter != FilterSMA {
		return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("filter type %q", cfg.Filter), nil)
	}
	if cfg.Filter == FilterSMA && cfg.WindowSize < 1 {
		return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("sma window %d", cfg.WindowSize), nil)
	}
	if cfg.PrecisionDigits < 0 || cfg.PrecisionDigits > maxPrecision {
		return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("precision digits %d", cfg.PrecisionDigits), nil)
	}
	if n := len(cfg.LookupTable); n == 1 {
		return errcode.Wrap(errcode.InvalidArgument, "lookup table needs at least 2 entries", nil)
	}
	for i := 1; i < len(cfg.LookupTable); i++ {
		if cfg.LookupTable[i].Input <= cfg.LookupTable[i-1].Input {
			return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("lookup table not sorted at entry %d", i), nil)
		}
	}
	return nil
}
