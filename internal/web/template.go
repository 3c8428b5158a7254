package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/irrigation-io/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"onOff": func(b bool) string {
		if b {
			return "ON"
		}
		return "OFF"
	},
	"isAnalog": func(kind string) bool {
		return kind == "GPIO_AI"
	},
	"fmtValue": func(v float64) string {
		return fmt.Sprintf("%g", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Irrigation I/O</title>
<style>
body { font-family: monospace; max-width: 760px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.alarm { color: red; font-weight: bold; }
.ok { color: green; }
.err { color: red; }
.untrusted { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Irrigation I/O</h1>

<h2>Points</h2>
<table>
<tr><th>ID</th><th>Type</th><th>Value</th><th>Alarm</th><th>Trust</th><th>Errors</th></tr>
{{range .Points}}<tr>
<td title="{{.Name}}">{{.ID}}</td>
<td>{{.Kind}}</td>
<td class="{{if not (isAnalog .Kind)}}{{if .Digital}}on{{else}}off{{end}}{{end}}">{{if isAnalog .Kind}}{{fmtValue .Value}}{{else}}{{onOff .Digital}}{{end}}</td>
<td class="{{if .AlarmActive}}alarm{{else}}ok{{end}}">{{if .AlarmActive}}ACTIVE{{else if .Monitored}}ok{{else}}&mdash;{{end}}</td>
<td class="{{if not .Trusted}}untrusted{{end}}">{{if not .Monitored}}&mdash;{{else if .Trusted}}yes{{else}}no{{end}}</td>
<td class="{{if .Error}}err{{end}}">{{.ErrorCount}}</td>
</tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>Counters</h2>
<table>
<tr><th>Poll cycles</th><td>{{.Poll.CycleCount}}</td></tr>
<tr><th>Read errors</th><td>{{.Poll.TotalErrors}}</td></tr>
<tr><th>Alarm evaluations</th><td>{{.Alarms.EvalCount}}</td></tr>
<tr><th>Active alarm rules</th><td>{{.Alarms.ActiveRules}}</td></tr>
<tr><th>Total activations</th><td>{{.Alarms.TotalActivations}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Alarm check</th><td>{{.Config.AlarmMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Config</th><td>{{.Config.ConfigPath}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
