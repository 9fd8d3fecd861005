package status

import "time"

// Status is the classified health of a bucket or a whole monitor.
type Status string

const (
	Operational         Status = "operational"
	DegradedPerformance Status = "degraded_performance"
	PartialOutage       Status = "partial_outage"
	MajorOutage         Status = "major_outage"
	Unknown             Status = "unknown"
	IncidentStatus      Status = "incident"
	Blacklisted         Status = "blacklisted"
)

// Label returns the human-readable name shown on tracker bars.
func (s Status) Label() string {
	switch s {
	case Operational:
		return "Operational"
	case DegradedPerformance:
		return "Degraded Performance"
	case PartialOutage:
		return "Partial Outage"
	case MajorOutage:
		return "Major Outage"
	case Unknown:
		return "Missing"
	case IncidentStatus:
		return "Incident"
	case Blacklisted:
		return "Blacklisted"
	default:
		return string(s)
	}
}

// Uptime thresholds, in percent.
const (
	OperationalThreshold   = 98.0
	DegradedThreshold      = 60.0
	PartialOutageThreshold = 30.0
)

// Classify maps an uptime percentage onto a status.
func Classify(uptime float64) Status {
	switch {
	case uptime >= OperationalThreshold:
		return Operational
	case uptime >= DegradedThreshold:
		return DegradedPerformance
	case uptime > PartialOutageThreshold:
		return PartialOutage
	default:
		return MajorOutage
	}
}

// CheckAggregate is the ok/count tally of one monitor for one bucket.
type CheckAggregate struct {
	BucketStart time.Time `json:"bucketStart"`
	OK          int64     `json:"ok"`
	Count       int64     `json:"count"`
}

// Incident is opened when a monitor starts failing and resolved on recovery.
type Incident struct {
	ID             int64      `json:"id"`
	MonitorID      int64      `json:"monitorId"`
	StartedAt      time.Time  `json:"startedAt"`
	ResolvedAt     *time.Time `json:"resolvedAt"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt"`
	Cause          string     `json:"cause,omitempty"`
}

// Ongoing reports whether the incident has not been resolved yet.
func (i Incident) Ongoing() bool {
	return i.ResolvedAt == nil
}

// end returns the effective end of the incident, clamping open incidents to now.
func (i Incident) end(now time.Time) time.Time {
	if i.ResolvedAt == nil {
		return now
	}
	return *i.ResolvedAt
}

// ReportStatus is the lifecycle state of a status report.
type ReportStatus string

const (
	ReportInvestigating ReportStatus = "investigating"
	ReportIdentified    ReportStatus = "identified"
	ReportMonitoring    ReportStatus = "monitoring"
	ReportResolved      ReportStatus = "resolved"
)

// Terminal reports whether the status no longer degrades the tracker.
func (s ReportStatus) Terminal() bool {
	return s == ReportResolved || s == ReportMonitoring
}

// Valid reports whether s is a known report status.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportInvestigating, ReportIdentified, ReportMonitoring, ReportResolved:
		return true
	}
	return false
}

// StatusReport is a manually written incident communication.
type StatusReport struct {
	ID      string               `json:"id"`
	Title   string               `json:"title"`
	Status  ReportStatus         `json:"status"`
	Updates []StatusReportUpdate `json:"updates"`
}

// StatusReportUpdate is one timestamped entry of a status report.
type StatusReportUpdate struct {
	Status  ReportStatus `json:"status"`
	Message string       `json:"message"`
	Date    time.Time    `json:"date"`
}

// Unresolved reports whether the report still affects the current status.
func (r StatusReport) Unresolved() bool {
	return !r.Status.Terminal()
}

// firstUpdate returns the earliest update date, false if there are no updates.
func (r StatusReport) firstUpdate() (time.Time, bool) {
	var first time.Time
	for i, u := range r.Updates {
		if i == 0 || u.Date.Before(first) {
			first = u.Date
		}
	}
	return first, len(r.Updates) > 0
}
