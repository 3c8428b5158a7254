// Package status provides a thread-safe status tracker for the irrigation-io
// daemon. It is read by the HTTP handlers and by the MQTT system-event
// publisher.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/irrigation-io/internal/alarm"
	"github.com/sweeney/irrigation-io/internal/iocore"
)

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	AlarmMs     int64
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	ConfigPath  string
}

// PointStatus is the display view of one I/O point, assembled by the daemon
// from the registry and the alarm engine.
type PointStatus struct {
	ID          string
	Name        string
	Kind        string
	Value       float64
	Raw         float64
	Digital     bool
	Error       bool
	ErrorCount  uint32
	UpdateCount uint32
	LastUpdate  time.Time
	AlarmActive bool
	Trusted     bool
	Monitored   bool
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type — safe to use after the lock is released.
type Snapshot struct {
	Points        []PointStatus
	Poll          iocore.Stats
	Alarms        alarm.Stats
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// ActiveAlarms counts points with at least one active alarm rule.
func (s Snapshot) ActiveAlarms() int {
	n := 0
	for _, p := range s.Points {
		if p.AlarmActive {
			n++
		}
	}
	return n
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// UpdatePoints replaces the point table and poll counters.
// Called after every poll cycle the daemon surfaces.
func (t *Tracker) UpdatePoints(points []PointStatus, poll iocore.Stats) {
	t.mu.Lock()
	t.snap.Points = points
	t.snap.Poll = poll
	t.mu.Unlock()
}

// UpdateAlarms replaces the alarm engine counters.
func (t *Tracker) UpdateAlarms(stats alarm.Stats) {
	t.mu.Lock()
	t.snap.Alarms = stats
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	points := make([]PointStatus, len(s.Points))
	copy(points, s.Points)
	t.mu.RUnlock()
	s.Points = points
	s.Now = time.Now()
	return s
}
