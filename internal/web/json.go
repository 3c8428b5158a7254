package web

import (
	"github.com/sweeney/irrigation-io/internal/status"
)

// formatJSON renders the daemon status for the /index.json endpoint. The
// envelope is shared with the MQTT system-event payloads.
func formatJSON(snap status.Snapshot) []byte {
	return status.FormatJSON(snap)
}
