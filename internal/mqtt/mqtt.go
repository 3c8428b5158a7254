// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/irrigation-io/internal/alarm"
)

// TopicAlarms is the MQTT topic for alarm activations and clears.
const TopicAlarms = "irrigation/io/alarms"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "irrigation/io/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishAlarm sends an alarm transition to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishAlarm(event alarm.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// AlarmPayload represents the MQTT message payload structure.
type AlarmPayload struct {
	Alarm AlarmInner `json:"alarm"`
}

// AlarmInner contains the alarm transition details.
type AlarmInner struct {
	Timestamp string  `json:"timestamp"`
	Point     string  `json:"point"`
	Rule      string  `json:"rule"`
	State     string  `json:"state"` // "ACTIVE" or "CLEARED"
	Value     float64 `json:"value"`
}

// FormatAlarmPayload creates the JSON payload for an alarm transition.
func FormatAlarmPayload(event alarm.Event) ([]byte, error) {
	state := "CLEARED"
	if event.Active {
		state = "ACTIVE"
	}
	payload := AlarmPayload{
		Alarm: AlarmInner{
			Timestamp: event.Time.UTC().Format(time.RFC3339),
			Point:     event.PointID,
			Rule:      string(event.Kind),
			State:     state,
			Value:     event.Value,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
