// Package alarm evaluates rule-based alarms over conditioned analog
// samples. Each monitored point keeps a short sample history; a periodic
// task checks the configured rules against it and drives per-rule
// persistence and clear counters.
package alarm

import (
	"fmt"
	"log"
	"time"

	"github.com/sweeney/irrigation-io/internal/config"
	"github.com/sweeney/irrigation-io/internal/errcode"
	"github.com/sweeney/irrigation-io/internal/ring"
	"github.com/sweeney/irrigation-io/internal/timedmutex"
)

// HistorySize is the per-point sample history depth.
const HistorySize = 20

// DefaultInterval is used when Start is given a zero interval.
const DefaultInterval = 5 * time.Second

// Kind identifies one alarm rule.
type Kind string

const (
	RateOfChange Kind = "rate_of_change"
	Disconnected Kind = "disconnected"
	MaxValue     Kind = "max_value"
	StuckSignal  Kind = "stuck_signal"
)

// kindOrder fixes evaluation and snapshot ordering.
var kindOrder = []Kind{RateOfChange, Disconnected, MaxValue, StuckSignal}

// Event is one alarm activation or clear, delivered to the OnEvent hook.
type Event struct {
	PointID string
	Kind    Kind
	Active  bool
	Value   float64
	Time    time.Time
}

// RuleState is the snapshot of one rule on one point.
type RuleState struct {
	Active          bool
	PersistCount    int
	ClearCount      int
	ActivationCount uint32
	LastActivation  time.Time
}

// Snapshot is the externally visible state of one monitored point.
type Snapshot struct {
	PointID     string
	Trusted     bool
	SampleCount int
	LastValue   float64
	Rules       map[Kind]RuleState
}

// Stats are the engine-wide counters.
type Stats struct {
	EvalCount        uint32
	ActiveRules      int
	TotalActivations uint32
	PointCount       int
}

type ruleState struct {
	active          bool
	persistCount    int
	clearCount      int
	activationCount uint32
	lastActivation  time.Time
}

type pointState struct {
	rules   config.AlarmRules
	history *ring.Buffer
	trusted bool
	rule    map[Kind]*ruleState
}

// Options tune engine construction.
type Options struct {
	// LockTimeout bounds every state-lock acquisition. Zero means the
	// timedmutex default.
	LockTimeout time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
	// OnEvent, if set, is called outside the engine lock once per
	// activation and once per clear.
	OnEvent func(Event)
}

// Engine holds all monitored points.
type Engine struct {
	mu          *timedmutex.Mutex
	lockTimeout time.Duration
	now         func() time.Time
	onEvent     func(Event)

	points map[string]*pointState
	order  []string

	evalCount        uint32
	totalActivations uint32

	taskStop    chan struct{}
	taskDone    chan struct{}
	taskRunning bool
}

// New builds an engine monitoring every alarm-enabled analog input in
// points. Binary points and points without alarms are ignored.
func New(points []config.Point, opts Options) *Engine {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = timedmutex.DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Engine{
		mu:          timedmutex.New(),
		lockTimeout: opts.LockTimeout,
		now:         opts.Now,
		onEvent:     opts.OnEvent,
		points:      make(map[string]*pointState),
	}

	for _, p := range points {
		if p.Kind != config.KindAnalogInputGPIO || !p.Alarm.Enabled {
			continue
		}
		ps := &pointState{
			rules:   p.Alarm.Rules,
			history: ring.New(HistorySize),
			trusted: true,
			rule:    make(map[Kind]*ruleState, len(kindOrder)),
		}
		for _, k := range kindOrder {
			ps.rule[k] = &ruleState{}
		}
		e.points[p.ID] = ps
		e.order = append(e.order, p.ID)
	}
	return e
}

// RecordValue appends one conditioned sample to the point's history.
// Unmonitored points are silently ignored so the poller can feed every
// sample through without filtering.
func (e *Engine) RecordValue(id string, v float64) error {
	if err := e.mu.Lock(e.lockTimeout); err != nil {
		return errcode.Wrap(errcode.Timeout, "record value", err)
	}
	defer e.mu.Unlock()

	ps, ok := e.points[id]
	if !ok {
		return nil
	}
	ps.history.Push(v)
	return nil
}

// Start launches the evaluation task. interval <= 0 means DefaultInterval.
func (e *Engine) Start(interval time.Duration) error {
	if err := e.mu.Lock(e.lockTimeout); err != nil {
		return errcode.Wrap(errcode.Timeout, "start alarm task", err)
	}
	defer e.mu.Unlock()

	if e.taskRunning {
		return errcode.Wrap(errcode.InvalidState, "alarm task already started", nil)
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	e.taskStop = make(chan struct{})
	e.taskDone = make(chan struct{})
	e.taskRunning = true

	go e.run(interval, e.taskStop, e.taskDone)
	return nil
}

// Stop signals the evaluation task and waits for it to exit.
func (e *Engine) Stop() error {
	if err := e.mu.Lock(e.lockTimeout); err != nil {
		return errcode.Wrap(errcode.Timeout, "stop alarm task", err)
	}
	if !e.taskRunning {
		e.mu.Unlock()
		return nil
	}
	stop, done := e.taskStop, e.taskDone
	e.taskRunning = false
	e.mu.Unlock()

	close(stop)
	<-done
	return nil
}

func (e *Engine) run(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := e.EvaluateOnce(); err != nil {
				log.Printf("alarm: evaluation: %v", err)
			}
		}
	}
}

// EvaluateOnce runs one evaluation pass over every monitored point.
// Persistence and clear counters advance once per pass.
func (e *Engine) EvaluateOnce() error {
	if err := e.mu.Lock(e.lockTimeout); err != nil {
		return errcode.Wrap(errcode.Timeout, "evaluate alarms", err)
	}

	var events []Event
	now := e.now()
	for _, id := range e.order {
		ps := e.points[id]
		if ps.history.Len() == 0 {
			continue
		}
		for _, k := range kindOrder {
			if ev, fired := e.step(id, ps, k, now); fired {
				events = append(events, ev)
			}
		}
	}
	e.evalCount++
	onEvent := e.onEvent
	e.mu.Unlock()

	if onEvent != nil {
		for _, ev := range events {
			onEvent(ev)
		}
	}
	return nil
}

// step advances one rule's counters against the current history and
// reports whether an activation or clear event fired.
//
// The counter shape: a condition tick only advances the persistence
// counter, a good tick only advances the clear counter. Persistence is
// zeroed when the clear counter reaches its threshold, and the clear
// counter is zeroed only when an active alarm actually clears.
func (e *Engine) step(id string, ps *pointState, k Kind, now time.Time) (Event, bool) {
	enabled, ready, condition := checkRule(ps, k)
	if !enabled || !ready {
		return Event{}, false
	}

	rs := ps.rule[k]
	latest := ps.history.Value(0)

	if condition {
		rs.persistCount++
		if rs.persistCount >= ps.rules.PersistenceSamples && !rs.active {
			rs.active = true
			rs.activationCount++
			rs.lastActivation = now
			e.totalActivations++
			// An activation permanently revokes trust in the signal.
			ps.trusted = false
			return Event{PointID: id, Kind: k, Active: true, Value: latest, Time: now}, true
		}
		return Event{}, false
	}

	rs.clearCount++
	if rs.clearCount >= ps.rules.SamplesToClear {
		cleared := rs.active
		if cleared {
			rs.active = false
			rs.clearCount = 0
		}
		rs.persistCount = 0
		if cleared {
			return Event{PointID: id, Kind: k, Active: false, Value: latest, Time: now}, true
		}
	}
	return Event{}, false
}

// checkRule reports whether the rule is enabled, whether the history is
// deep enough to judge it, and whether its alarm condition currently
// holds. Counters must not move while ready is false.
func checkRule(ps *pointState, k Kind) (enabled, ready, condition bool) {
	h := ps.history
	switch k {
	case RateOfChange:
		if !ps.rules.CheckRateOfChange {
			return false, false, false
		}
		if h.Len() < 2 {
			return true, false, false
		}
		delta := h.Value(0) - h.Value(1)
		if delta < 0 {
			delta = -delta
		}
		return true, true, delta > ps.rules.RateOfChangeThreshold

	case Disconnected:
		if !ps.rules.CheckDisconnected {
			return false, false, false
		}
		return true, true, h.Value(0) <= ps.rules.DisconnectedThreshold

	case MaxValue:
		if !ps.rules.CheckMaxValue {
			return false, false, false
		}
		return true, true, h.Value(0) >= ps.rules.MaxValueThreshold

	case StuckSignal:
		if !ps.rules.CheckStuckSignal {
			return false, false, false
		}
		w := ps.rules.StuckSignalWindowSamples
		if h.Len() < w {
			return true, false, false
		}
		newest := h.Value(0)
		for i := 1; i < w; i++ {
			d := h.Value(i) - newest
			if d < 0 {
				d = -d
			}
			if d > ps.rules.StuckSignalDeltaThreshold {
				return true, true, false
			}
		}
		return true, true, true
	}
	return false, false, false
}

// PointAlarms returns the snapshot of one monitored point.
func (e *Engine) PointAlarms(id string) (Snapshot, error) {
	if err := e.mu.Lock(e.lockTimeout); err != nil {
		return Snapshot{}, errcode.Wrap(errcode.Timeout, "point alarms", err)
	}
	defer e.mu.Unlock()

	ps, ok := e.points[id]
	if !ok {
		return Snapshot{}, errcode.Wrap(errcode.NotFound, fmt.Sprintf("point %q not monitored", id), nil)
	}
	return snapshotOf(id, ps), nil
}

// Snapshots returns every monitored point's snapshot in configuration order.
func (e *Engine) Snapshots() ([]Snapshot, error) {
	if err := e.mu.Lock(e.lockTimeout); err != nil {
		return nil, errcode.Wrap(errcode.Timeout, "snapshots", err)
	}
	defer e.mu.Unlock()

	out := make([]Snapshot, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, snapshotOf(id, e.points[id]))
	}
	return out, nil
}

// AnyActive reports whether any rule on any point is currently active.
func (e *Engine) AnyActive() (bool, error) {
	if err := e.mu.Lock(e.lockTimeout); err != nil {
		return false, errcode.Wrap(errcode.Timeout, "any active", err)
	}
	defer e.mu.Unlock()

	for _, ps := range e.points {
		for _, rs := range ps.rule {
			if rs.active {
				return true, nil
			}
		}
	}
	return false, nil
}

// Statistics returns the engine-wide counters.
func (e *Engine) Statistics() (Stats, error) {
	if err := e.mu.Lock(e.lockTimeout); err != nil {
		return Stats{}, errcode.Wrap(errcode.Timeout, "statistics", err)
	}
	defer e.mu.Unlock()

	active := 0
	for _, ps := range e.points {
		for _, rs := range ps.rule {
			if rs.active {
				active++
			}
		}
	}
	return Stats{
		EvalCount:        e.evalCount,
		ActiveRules:      active,
		TotalActivations: e.totalActivations,
		PointCount:       len(e.order),
	}, nil
}

func snapshotOf(id string, ps *pointState) Snapshot {
	s := Snapshot{
		PointID:     id,
		Trusted:     ps.trusted,
		SampleCount: ps.history.Len(),
		Rules:       make(map[Kind]RuleState, len(kindOrder)),
	}
	if ps.history.Len() > 0 {
		s.LastValue = ps.history.Value(0)
	}
	for _, k := range kindOrder {
		rs := ps.rule[k]
		s.Rules[k] = RuleState{
			Active:          rs.active,
			PersistCount:    rs.persistCount,
			ClearCount:      rs.clearCount,
			ActivationCount: rs.activationCount,
			LastActivation:  rs.lastActivation,
		}
	}
	return s
}
