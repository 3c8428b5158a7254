package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string      `json:"event,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	StartTime     string      `json:"start_time"`
	Timestamp     string      `json:"timestamp"`
	MQTT          MQTTStatus  `json:"mqtt"`
	Poll          PollJSON    `json:"poll"`
	Alarms        AlarmsJSON  `json:"alarms"`
	Points        []PointJSON `json:"points"`
	Config        ConfigJSON  `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// PollJSON is the JSON representation of the poll counters.
type PollJSON struct {
	Cycles      uint32 `json:"cycles"`
	TotalErrors uint32 `json:"total_errors"`
	Points      int    `json:"points"`
}

// AlarmsJSON is the JSON representation of the alarm engine counters.
type AlarmsJSON struct {
	Evaluations      uint32 `json:"evaluations"`
	ActiveRules      int    `json:"active_rules"`
	TotalActivations uint32 `json:"total_activations"`
	MonitoredPoints  int    `json:"monitored_points"`
}

// PointJSON is the JSON representation of one I/O point.
type PointJSON struct {
	ID          string  `json:"id"`
	Name        string  `json:"name,omitempty"`
	Kind        string  `json:"type"`
	Value       float64 `json:"value"`
	Raw         float64 `json:"raw"`
	Digital     bool    `json:"digital"`
	Error       bool    `json:"error"`
	ErrorCount  uint32  `json:"error_count"`
	UpdateCount uint32  `json:"update_count"`
	LastUpdate  string  `json:"last_update,omitempty"`
	AlarmActive bool    `json:"alarm_active"`
	Trusted     bool    `json:"trusted"`
	Monitored   bool    `json:"monitored"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	AlarmMs     int64  `json:"alarm_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
	ConfigPath  string `json:"config_path,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	points := make([]PointJSON, 0, len(snap.Points))
	for _, p := range snap.Points {
		pj := PointJSON{
			ID:          p.ID,
			Name:        p.Name,
			Kind:        p.Kind,
			Value:       p.Value,
			Raw:         p.Raw,
			Digital:     p.Digital,
			Error:       p.Error,
			ErrorCount:  p.ErrorCount,
			UpdateCount: p.UpdateCount,
			AlarmActive: p.AlarmActive,
			Trusted:     p.Trusted,
			Monitored:   p.Monitored,
		}
		if !p.LastUpdate.IsZero() {
			pj.LastUpdate = p.LastUpdate.UTC().Format(time.RFC3339)
		}
		points = append(points, pj)
	}

	return StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Poll: PollJSON{
			Cycles:      snap.Poll.CycleCount,
			TotalErrors: snap.Poll.TotalErrors,
			Points:      snap.Poll.PointCount,
		},
		Alarms: AlarmsJSON{
			Evaluations:      snap.Alarms.EvalCount,
			ActiveRules:      snap.Alarms.ActiveRules,
			TotalActivations: snap.Alarms.TotalActivations,
			MonitoredPoints:  snap.Alarms.PointCount,
		},
		Points: points,
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			AlarmMs:     snap.Config.AlarmMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			ConfigPath:  snap.Config.ConfigPath,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
