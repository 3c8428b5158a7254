// Package iocore owns the set of configured I/O points and their runtime
// state. A periodic poller reads every input through the pin and
// shift-register drivers, conditions the readings, and commits them under the
// registry lock; actuator writes flow the other way through SetBinaryOutput.
package iocore

import (
	"fmt"
	"log"
	"time"

	"github.com/sweeney/irrigation-io/internal/config"
	"github.com/sweeney/irrigation-io/internal/errcode"
	"github.com/sweeney/irrigation-io/internal/hw"
	"github.com/sweeney/irrigation-io/internal/shiftreg"
	"github.com/sweeney/irrigation-io/internal/signal"
	"github.com/sweeney/irrigation-io/internal/timedmutex"
)

// MaxPoints bounds the registry size.
const MaxPoints = 64

// DefaultPollInterval is used when StartPolling is given a zero interval.
const DefaultPollInterval = time.Second

// RuntimeState is the mutable per-point state, exported as a copy by the
// accessors.
type RuntimeState struct {
	RawValue         float64
	ConditionedValue float64
	DigitalState     bool
	ErrorState       bool
	ErrorCount       uint32
	UpdateCount      uint32
	LastUpdate       time.Time
}

// Stats are the registry-wide counters.
type Stats struct {
	CycleCount  uint32
	TotalErrors uint32
	LastUpdate  time.Time
	PointCount  int
}

type record struct {
	cfg    config.Point
	state  RuntimeState
	filter *signal.State
}

// Options tune registry construction.
type Options struct {
	// LockTimeout bounds every state-lock acquisition. Zero means the
	// timedmutex default.
	LockTimeout time.Duration
	// Now is the clock; nil means time.Now. Injected by tests.
	Now func() time.Time
	// OnSample, if set, is called outside the registry lock with every
	// freshly conditioned value of an alarm-monitored analog point.
	OnSample func(id string, conditioned float64)
}

// Registry owns point configuration and runtime state.
type Registry struct {
	pins   hw.PinDriver
	bank   *shiftreg.Driver // nil when no shift registers are configured
	mu     *timedmutex.Mutex
	points map[string]*record
	order  []string

	lockTimeout time.Duration
	now         func() time.Time
	onSample    func(string, float64)

	cycleCount  uint32
	totalErrors uint32
	lastUpdate  time.Time

	// Poller lifecycle, guarded by the registry lock only at start/stop.
	pollStop     chan struct{}
	pollDone     chan struct{}
	pollRunning  bool
	pollInterval time.Duration
}

// New configures every point's backing hardware and initializes runtime
// state. Every binary output is driven to its safe OFF hardware level before
// New returns, regardless of any previously persisted state.
func New(pins hw.PinDriver, bank *shiftreg.Driver, points []config.Point, opts Options) (*Registry, error) {
	if pins == nil {
		return nil, errcode.Wrap(errcode.InvalidArgument, "nil pin driver", nil)
	}
	if len(points) > MaxPoints {
		return nil, errcode.Wrap(errcode.NoMemory, fmt.Sprintf("%d points exceeds limit %d", len(points), MaxPoints), nil)
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = timedmutex.DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Registry{
		pins:        pins,
		bank:        bank,
		mu:          timedmutex.New(),
		points:      make(map[string]*record, len(points)),
		lockTimeout: opts.LockTimeout,
		now:         opts.Now,
		onSample:    opts.OnSample,
	}

	if err := r.configurePoints(points, true); err != nil {
		return nil, err
	}

	return r, nil
}

// configurePoints (re)builds the point table. When forceOutputsOff is true
// every binary output is driven to the OFF hardware level; reload passes
// false so in-flight actuator states survive reconfiguration.
func (r *Registry) configurePoints(points []config.Point, forceOutputsOff bool) error {
	old := r.points
	table := make(map[string]*record, len(points))
	order := make([]string, 0, len(points))

	for i := range points {
		cfg := points[i]
		if _, dup := table[cfg.ID]; dup {
			return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("duplicate point id %q", cfg.ID), nil)
		}
		if cfg.Kind.IsShiftRegister() && r.bank == nil {
			return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("point %q needs a shift register bank", cfg.ID), nil)
		}

		rec := &record{cfg: cfg, filter: signal.NewState(cfg.Signal)}

		switch cfg.Kind {
		case config.KindAnalogInputGPIO:
			if err := r.pins.ConfigureAnalogInput(cfg.Pin); err != nil {
				return fmt.Errorf("point %q: %w", cfg.ID, err)
			}

		case config.KindBinaryInputGPIO:
			if err := r.pins.ConfigureDigitalInput(cfg.Pin, true); err != nil {
				return fmt.Errorf("point %q: %w", cfg.ID, err)
			}

		case config.KindBinaryOutputGPIO:
			// Configure OFF on init and for points new to a reload;
			// points surviving a reload keep their in-flight state.
			if prev, ok := old[cfg.ID]; !forceOutputsOff && ok && prev.cfg.Kind == cfg.Kind {
				rec.state = prev.state
			} else if err := r.pins.ConfigureDigitalOutput(cfg.Pin, false); err != nil {
				return fmt.Errorf("point %q: %w", cfg.ID, err)
			}

		case config.KindBinaryInputSR:
			// Addressed at poll time; the bank pins are already configured.

		case config.KindBinaryOutputSR:
			if prev, ok := old[cfg.ID]; !forceOutputsOff && ok && prev.cfg.Kind == cfg.Kind {
				rec.state = prev.state
			} else if err := r.bank.SetOutputBit(cfg.ChipIdx, cfg.BitIdx, false); err != nil {
				return fmt.Errorf("point %q: %w", cfg.ID, err)
			}

		default:
			return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("point %q: unknown kind %q", cfg.ID, cfg.Kind), nil)
		}

		table[cfg.ID] = rec
		order = append(order, cfg.ID)
	}

	if forceOutputsOff && r.bank != nil && r.bank.NumOutputChips() > 0 {
		// Commit the cleared bits before the registry reports ready.
		if err := r.bank.WriteOutputs(); err != nil {
			return fmt.Errorf("safe output flush: %w", err)
		}
	}

	r.points = table
	r.order = order
	return nil
}

// StartPolling launches the poll task. interval <= 0 means
// DefaultPollInterval. Starting an already running poller is InvalidState.
func (r *Registry) StartPolling(interval time.Duration) error {
	if err := r.mu.Lock(r.lockTimeout); err != nil {
		return errcode.Wrap(errcode.Timeout, "start polling", err)
	}
	defer r.mu.Unlock()

	if r.pollRunning {
		return errcode.Wrap(errcode.InvalidState, "polling already started", nil)
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	r.pollInterval = interval
	r.pollStop = make(chan struct{})
	r.pollDone = make(chan struct{})
	r.pollRunning = true

	go r.pollLoop(interval, r.pollStop, r.pollDone)
	return nil
}

// StopPolling signals the poll task and waits for it to exit. Stopping a
// stopped poller is a no-op.
func (r *Registry) StopPolling() error {
	if err := r.mu.Lock(r.lockTimeout); err != nil {
		return errcode.Wrap(errcode.Timeout, "stop polling", err)
	}
	if !r.pollRunning {
		r.mu.Unlock()
		return nil
	}
	stop, done := r.pollStop, r.pollDone
	r.pollRunning = false
	r.mu.Unlock()

	close(stop)
	<-done
	return nil
}

// PollInterval returns the interval the poller was last started with.
func (r *Registry) PollInterval() time.Duration {
	if r.pollInterval == 0 {
		return DefaultPollInterval
	}
	return r.pollInterval
}

func (r *Registry) pollLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := r.PollOnce(); err != nil {
				log.Printf("iocore: poll cycle: %v", err)
			}
		}
	}
}

// PollOnce runs one poll cycle: shift-register input capture first, then
// every input point, then the cycle counters. Per-point hardware failures are
// recovered locally (error flag and counter, last good value retained); only
// a registry lock timeout aborts the cycle.
func (r *Registry) PollOnce() error {
	// Capture before taking the registry lock: the bit-bang transfer's
	// duration depends on external timing.
	if r.bank != nil && r.bank.NumInputChips() > 0 {
		if err := r.bank.ReadInputs(); err != nil {
			log.Printf("iocore: shift register capture: %v", err)
		}
	}

	if err := r.mu.Lock(r.lockTimeout); err != nil {
		return errcode.Wrap(errcode.Timeout, "poll cycle", err)
	}

	type sample struct {
		id string
		v  float64
	}
	var samples []sample

	now := r.now()
	for _, id := range r.order {
		rec := r.points[id]
		if !rec.cfg.Kind.IsInput() {
			continue
		}

		switch rec.cfg.Kind {
		case config.KindAnalogInputGPIO:
			if ok := r.updateAnalog(rec, now); ok && rec.cfg.Alarm.Enabled {
				samples = append(samples, sample{id, rec.state.ConditionedValue})
			}
		case config.KindBinaryInputGPIO, config.KindBinaryInputSR:
			r.updateBinary(rec, now)
		}
	}

	r.cycleCount++
	r.lastUpdate = now
	onSample := r.onSample
	r.mu.Unlock()

	if onSample != nil {
		for _, s := range samples {
			onSample(s.id, s.v)
		}
	}
	return nil
}

// updateAnalog reads, converts, and conditions one analog point. Returns
// false when the hardware read failed.
func (r *Registry) updateAnalog(rec *record, now time.Time) bool {
	raw, err := r.pins.ReadAnalog(rec.cfg.Pin)
	if err != nil {
		r.markError(rec)
		return false
	}

	rawValue := signal.RawToEngineering(raw, rec.cfg.RangeMin, rec.cfg.RangeMax)
	conditioned := rec.cfg.Signal.Apply(rawValue, rec.filter)

	rec.state.RawValue = rawValue
	rec.state.ConditionedValue = conditioned
	rec.state.ErrorState = false
	rec.state.LastUpdate = now
	rec.state.UpdateCount++
	return true
}

func (r *Registry) updateBinary(rec *record, now time.Time) {
	var v bool
	var err error
	switch rec.cfg.Kind {
	case config.KindBinaryInputGPIO:
		v, err = r.pins.ReadDigital(rec.cfg.Pin)
	case config.KindBinaryInputSR:
		v, err = r.bank.GetInputBit(rec.cfg.ChipIdx, rec.cfg.BitIdx)
	}
	if err != nil {
		r.markError(rec)
		return
	}

	if rec.cfg.Inverted {
		v = !v
	}

	rec.state.DigitalState = v
	rec.state.RawValue = boolToFloat(v)
	rec.state.ConditionedValue = rec.state.RawValue
	rec.state.ErrorState = false
	rec.state.LastUpdate = now
	rec.state.UpdateCount++
}

// markError flags a failed read without disturbing the last good value.
func (r *Registry) markError(rec *record) {
	rec.state.ErrorState = true
	rec.state.ErrorCount++
	r.totalErrors++
}

// SetBinaryOutput drives an output point to the given logical state. The
// hardware level honors the point's inversion flag; the stored logical state
// does not.
func (r *Registry) SetBinaryOutput(id string, state bool) error {
	cfg, err := r.pointConfig(id)
	if err != nil {
		return err
	}
	if !cfg.Kind.IsOutput() {
		return errcode.Wrap(errcode.InvalidArgument, fmt.Sprintf("point %q is not a binary output", id), nil)
	}

	hwState := state
	if cfg.Inverted {
		hwState = !state
	}

	switch cfg.Kind {
	case config.KindBinaryOutputGPIO:
		err = r.pins.WriteDigital(cfg.Pin, hwState)
	case config.KindBinaryOutputSR:
		if err = r.bank.SetOutputBit(cfg.ChipIdx, cfg.BitIdx, hwState); err == nil {
			err = r.bank.WriteOutputs()
		}
	}
	if err != nil {
		return fmt.Errorf("point %q: %w", id, err)
	}

	if err := r.mu.Lock(r.lockTimeout); err != nil {
		return errcode.Wrap(errcode.Timeout, "commit output state", err)
	}
	defer r.mu.Unlock()

	rec := r.points[id]
	rec.state.DigitalState = state
	rec.state.RawValue = boolToFloat(state)
	rec.state.ConditionedValue = rec.state.RawValue
	rec.state.LastUpdate = r.now()
	rec.state.UpdateCount++
	return nil
}

// GetBinaryOutput returns the stored logical state of an output point
// without touching hardware.
func (r *Registry) GetBinaryOutput(id string) (bool, error) {
	st, err := r.GetRuntimeState(id)
	if err != nil {
		return false, err
	}
	return st.DigitalState, nil
}

// GetBinaryInput returns the stored logical state of a binary input.
func (r *Registry) GetBinaryInput(id string) (bool, error) {
	st, err := r.GetRuntimeState(id)
	if err != nil {
		return false, err
	}
	return st.DigitalState, nil
}

// GetAnalogConditioned returns the stored conditioned value.
func (r *Registry) GetAnalogConditioned(id string) (float64, error) {
	st, err := r.GetRuntimeState(id)
	if err != nil {
		return 0, err
	}
	return st.ConditionedValue, nil
}

// GetAnalogRaw returns the stored engineering-unit raw value.
func (r *Registry) GetAnalogRaw(id string) (float64, error) {
	st, err := r.GetRuntimeState(id)
	if err != nil {
		return 0, err
	}
	return st.RawValue, nil
}

// GetRuntimeState returns a copy of the point's runtime state.
func (r *Registry) GetRuntimeState(id string) (RuntimeState, error) {
	if err := r.mu.Lock(r.lockTimeout); err != nil {
		return RuntimeState{}, errcode.Wrap(errcode.Timeout, "get runtime state", err)
	}
	defer r.mu.Unlock()

	rec, ok := r.points[id]
	if !ok {
		return RuntimeState{}, errcode.Wrap(errcode.NotFound, fmt.Sprintf("point %q", id), nil)
	}
	return rec.state, nil
}

// PointConfig returns a copy of the point's configuration.
func (r *Registry) PointConfig(id string) (config.Point, error) {
	return r.pointConfig(id)
}

// PointIDs returns all point ids in configuration order.
func (r *Registry) PointIDs() ([]string, error) {
	if err := r.mu.Lock(r.lockTimeout); err != nil {
		return nil, errcode.Wrap(errcode.Timeout, "point ids", err)
	}
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out, nil
}

// Statistics returns the registry-wide counters.
func (r *Registry) Statistics() (Stats, error) {
	if err := r.mu.Lock(r.lockTimeout); err != nil {
		return Stats{}, errcode.Wrap(errcode.Timeout, "statistics", err)
	}
	defer r.mu.Unlock()
	return Stats{
		CycleCount:  r.cycleCount,
		TotalErrors: r.totalErrors,
		LastUpdate:  r.lastUpdate,
		PointCount:  len(r.order),
	}, nil
}

// Reload replaces the point table. The poller is stopped for the duration
// and restarted with the interval from the original start. Unlike New,
// reload does not force outputs OFF: points that keep their id and kind
// retain their runtime state, so in-flight actuator states are preserved.
func (r *Registry) Reload(points []config.Point) error {
	if len(points) > MaxPoints {
		return errcode.Wrap(errcode.NoMemory, fmt.Sprintf("%d points exceeds limit %d", len(points), MaxPoints), nil)
	}

	if err := r.mu.Lock(r.lockTimeout); err != nil {
		return errcode.Wrap(errcode.Timeout, "reload", err)
	}
	wasPolling := r.pollRunning
	interval := r.pollInterval
	r.mu.Unlock()

	if wasPolling {
		if err := r.StopPolling(); err != nil {
			return err
		}
	}

	if err := r.mu.Lock(r.lockTimeout); err != nil {
		return errcode.Wrap(errcode.Timeout, "reload", err)
	}
	err := r.configurePoints(points, false)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if wasPolling {
		return r.StartPolling(interval)
	}
	return nil
}

// ShutdownOutputs drives every configured binary output to its OFF hardware
// level. Called on daemon shutdown.
func (r *Registry) ShutdownOutputs() error {
	ids, err := r.PointIDs()
	if err != nil {
		return err
	}
	var firstErr error
	for _, id := range ids {
		cfg, err := r.pointConfig(id)
		if err != nil {
			continue
		}
		if !cfg.Kind.IsOutput() {
			continue
		}
		if err := r.SetBinaryOutput(id, false); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) pointConfig(id string) (config.Point, error) {
	if err := r.mu.Lock(r.lockTimeout); err != nil {
		return config.Point{}, errcode.Wrap(errcode.Timeout, "point config", err)
	}
	defer r.mu.Unlock()

	rec, ok := r.points[id]
	if !ok {
		return config.Point{}, errcode.Wrap(errcode.NotFound, fmt.Sprintf("point %q", id), nil)
	}
	return rec.cfg, nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
