package mqtt

import (
	"github.com/sweeney/irrigation-io/internal/alarm"
)

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	// Alarms contains all alarm transitions that were published.
	Alarms []alarm.Event

	// AlarmPayloads contains the JSON payloads that were published.
	AlarmPayloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by PublishAlarm.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishAlarm records the alarm transition.
func (f *FakePublisher) PublishAlarm(event alarm.Event) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	f.Alarms = append(f.Alarms, event)

	payload, err := FormatAlarmPayload(event)
	if err != nil {
		return err
	}
	f.AlarmPayloads = append(f.AlarmPayloads, payload)

	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.Alarms = nil
	f.AlarmPayloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
