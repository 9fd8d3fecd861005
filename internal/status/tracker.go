package status

import (
	"math"
	"time"
)

// Tracker turns check aggregates, incidents and status reports into a
// day-bucketed status history. It holds options only and is safe for
// concurrent use.
type Tracker struct {
	blacklist Blacklist
	loc       *time.Location
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithBlacklist replaces the default blacklist.
func WithBlacklist(b Blacklist) Option {
	return func(t *Tracker) { t.blacklist = b }
}

// WithLocation sets the timezone used to cut calendar days (default UTC).
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// WithClock overrides the clock used to clamp ongoing incidents.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a Tracker with the default blacklist and UTC days.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		blacklist: DefaultBlacklist,
		loc:       time.UTC,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Day is the classified status of one bucket.
type Day struct {
	Day           time.Time      `json:"day"`
	Status        Status         `json:"status"`
	Label         string         `json:"label"`
	OK            int64          `json:"ok"`
	Count         int64          `json:"count"`
	Uptime        float64        `json:"uptime"`
	Incidents     []Incident     `json:"incidents,omitempty"`
	StatusReports []StatusReport `json:"statusReports,omitempty"`
	DowntimeMs    int64          `json:"downtimeMs"`
	DowntimeLabel string         `json:"downtimeLabel,omitempty"`
}

// Result is the tracker output served to dashboards.
type Result struct {
	Days          []Day   `json:"days"`
	TotalUptime   float64 `json:"totalUptime"`
	CurrentStatus Status  `json:"currentStatus"`
}

// Compute classifies every bucket independently and derives the overall
// uptime and current status. Days keep the order of data.
//
// When no checks were counted the total uptime is 100: an empty history
// reads as healthy rather than as an outage.
func (t *Tracker) Compute(data []CheckAggregate, incidents []Incident, reports []StatusReport) Result {
	now := t.now()
	days := make([]Day, 0, len(data))

	var okSum, countSum int64
	for _, bucket := range data {
		day := t.classifyBucket(bucket, incidents, reports, now)
		if day.Status != Blacklisted {
			okSum += bucket.OK
			countSum += bucket.Count
		}
		days = append(days, day)
	}

	ratio := 100.0
	if countSum > 0 {
		ratio = float64(okSum) * 100 / float64(countSum)
	}

	return Result{
		Days:          days,
		TotalUptime:   round2(ratio),
		CurrentStatus: currentStatus(ratio, incidents, reports),
	}
}

func (t *Tracker) classifyBucket(bucket CheckAggregate, incidents []Incident, reports []StatusReport, now time.Time) Day {
	start, end := t.dayWindow(bucket.BucketStart)
	day := Day{
		Day:   start,
		OK:    bucket.OK,
		Count: bucket.Count,
	}
	if bucket.Count > 0 {
		day.Uptime = round2(float64(bucket.OK) * 100 / float64(bucket.Count))
	}

	for _, inc := range incidents {
		if overlaps(inc.StartedAt, inc.end(now), start, end) {
			day.Incidents = append(day.Incidents, inc)
		}
	}
	for _, r := range reports {
		if first, ok := r.firstUpdate(); ok && t.sameDay(first, start) {
			day.StatusReports = append(day.StatusReports, r)
		}
	}

	if d := mergedDowntime(day.Incidents, start, end, now); d > 0 {
		day.DowntimeMs = d.Milliseconds()
		day.DowntimeLabel = DowntimeLabel(d)
	}

	if reason, ok := t.blacklist.Lookup(start); ok {
		day.Status = Blacklisted
		day.Label = reason
		return day
	}

	switch {
	case len(day.Incidents) > 0:
		day.Status = IncidentStatus
	case anyUnresolved(day.StatusReports):
		day.Status = DegradedPerformance
	case bucket.Count == 0:
		day.Status = Unknown
	default:
		day.Status = Classify(float64(bucket.OK) * 100 / float64(bucket.Count))
	}
	day.Label = day.Status.Label()
	return day
}

func currentStatus(ratio float64, incidents []Incident, reports []StatusReport) Status {
	if anyUnresolved(reports) {
		return DegradedPerformance
	}
	for _, inc := range incidents {
		if inc.Ongoing() {
			return IncidentStatus
		}
	}
	return Classify(ratio)
}

func anyUnresolved(reports []StatusReport) bool {
	for _, r := range reports {
		if r.Unresolved() {
			return true
		}
	}
	return false
}

// dayWindow returns the inclusive [startOfDay, endOfDay] window around t.
func (t *Tracker) dayWindow(ts time.Time) (time.Time, time.Time) {
	local := ts.In(t.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, t.loc)
	end := start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return start, end
}

func (t *Tracker) sameDay(ts, dayStart time.Time) bool {
	start, _ := t.dayWindow(ts)
	return start.Equal(dayStart)
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !aEnd.Before(bStart)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
