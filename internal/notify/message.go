package notify

import (
	"fmt"
	"time"

	"uptime-incident-engine/internal/monitor"
)

const timeLayout = "2006-01-02 15:04 MST"

// statusLine describes the check behind an event in one line.
func statusLine(res *monitor.CheckResult, up bool) string {
	line := "Status: "
	switch {
	case res == nil && up:
		return line + "UP"
	case res == nil:
		return line + "DOWN"
	case res.ErrorType == monitor.ErrorTimeout:
		line += "TIMEOUT"
	case res.StatusCode == 0 && up:
		line += "UP"
	case res.StatusCode == 0:
		line += "DOWN (" + string(res.ErrorType) + ")"
	case res.StatusCode >= 500:
		line += fmt.Sprintf("HTTP %d (server error)", res.StatusCode)
	default:
		line += fmt.Sprintf("HTTP %d", res.StatusCode)
	}
	if res.ErrorMessage != "" {
		line += " - " + res.ErrorMessage
	}
	return line
}

func downMessage(ev monitor.Event) string {
	return fmt.Sprintf("🚨 DOWN: %s\n%s\nTarget: %s\nAt: %s",
		ev.Monitor.Name,
		statusLine(ev.Result, false),
		ev.Monitor.Target(),
		ev.At.UTC().Format(timeLayout),
	)
}

func upMessage(ev monitor.Event) string {
	return fmt.Sprintf("✅ UP: %s\n%s\nDown for: %s\nAt: %s",
		ev.Monitor.Name,
		statusLine(ev.Result, true),
		ev.Incident.Duration(ev.At).Round(time.Second),
		ev.At.UTC().Format(timeLayout),
	)
}

// message renders the plain text form of an event.
func message(ev monitor.Event) string {
	if ev.Kind == monitor.EventIncidentResolved {
		return upMessage(ev)
	}
	return downMessage(ev)
}
