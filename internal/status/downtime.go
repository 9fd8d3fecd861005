package status

import (
	"fmt"
	"sort"
	"time"
)

type interval struct {
	start, end time.Time
}

// Downtime sums how long the given incidents kept the monitor down during
// the calendar day of day. Overlapping incidents are counted once.
func (t *Tracker) Downtime(day time.Time, incidents []Incident) time.Duration {
	start, end := t.dayWindow(day)
	return mergedDowntime(incidents, start, end, t.now())
}

func mergedDowntime(incidents []Incident, dayStart, dayEnd, now time.Time) time.Duration {
	spans := make([]interval, 0, len(incidents))
	for _, inc := range incidents {
		s := inc.StartedAt
		e := inc.end(now)
		if e.After(dayEnd) {
			e = dayEnd
		}
		if s.Before(dayStart) {
			s = dayStart
		}
		if e.After(s) {
			spans = append(spans, interval{start: s, end: e})
		}
	}
	if len(spans) == 0 {
		return 0
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start.Before(spans[j].start) })

	var total time.Duration
	cur := spans[0]
	for _, sp := range spans[1:] {
		if !sp.start.After(cur.end) {
			if sp.end.After(cur.end) {
				cur.end = sp.end
			}
			continue
		}
		total += cur.end.Sub(cur.start)
		cur = sp
	}
	total += cur.end.Sub(cur.start)
	return total
}

// DowntimeLabel renders d as "Downtime for Xh Ym".
func DowntimeLabel(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	if d < time.Minute {
		return "Downtime for less than a minute"
	}
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	if h == 0 {
		return fmt.Sprintf("Downtime for %dm", m)
	}
	return fmt.Sprintf("Downtime for %dh %dm", h, m)
}
