package notify

import (
	"fmt"
	"strings"
	"time"
)

// Time returns the tick the notification was raised for.
func (n Notification) Time() time.Time {
	return time.UnixMilli(n.CronTimestamp).UTC()
}

// Title is a one-line summary such as "🔴 api is down".
func (n Notification) Title() string {
	return fmt.Sprintf("%s %s %s", n.Icon(), n.Monitor.Name, n.verb())
}

// Icon is the status emoji of the event.
func (n Notification) Icon() string {
	switch n.Type {
	case EventAlert:
		return "🔴"
	case EventDegraded:
		return "🟡"
	default:
		return "🟢"
	}
}

func (n Notification) verb() string {
	switch n.Type {
	case EventAlert:
		return "is down"
	case EventDegraded:
		return "is degraded"
	default:
		return "has recovered"
	}
}

// Details lists the optional facts of the event as "Key: value" lines.
func (n Notification) Details() []string {
	var lines []string
	if n.Monitor.URL != "" {
		lines = append(lines, "Target: "+n.Monitor.URL)
	}
	if n.StatusCode != 0 {
		lines = append(lines, fmt.Sprintf("Status code: %d", n.StatusCode))
	}
	if n.Message != "" {
		lines = append(lines, "Reason: "+n.Message)
	}
	if n.Latency > 0 {
		lines = append(lines, fmt.Sprintf("Latency: %dms", n.Latency.Milliseconds()))
	}
	if n.Region != "" {
		lines = append(lines, "Region: "+n.Region)
	}
	if n.IncidentID != "" {
		lines = append(lines, "Incident: "+n.IncidentID)
	}
	lines = append(lines, "Time: "+n.Time().Format("2006-01-02 15:04:05 UTC"))
	return lines
}

// Text renders the title followed by the details, one per line.
func (n Notification) Text() string {
	return n.Title() + "\n" + strings.Join(n.Details(), "\n")
}

// dedupKey identifies the monitor on incident tools that correlate events.
func (n Notification) dedupKey() string {
	return fmt.Sprintf("monitor-%d", n.Monitor.ID)
}
