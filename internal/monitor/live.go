package monitor

import (
	"sync"
	"time"
)

// maxLivePoints bounds the in-memory probe history per monitor (one day at
// the default one-minute interval).
const maxLivePoints = 1440

// LatencyPoint is a single probe result with timestamp.
type LatencyPoint struct {
	Time    int64 `json:"t"`
	Latency int   `json:"v"`
	Up      bool  `json:"up"`
}

// Snapshot is the live view of one monitor served by the API.
type Snapshot struct {
	State         State          `json:"state"`
	LastCheckTime int64          `json:"last_check_time"`
	LastLatencyMs int            `json:"last_latency_ms"`
	Uptime24h     float64        `json:"uptime_24h"`
	Latency       []LatencyPoint `json:"latency_history,omitempty"`
}

// LiveHistory keeps recent probe points in memory. Durable per-day data
// lives in storage; this only backs the monitor list.
type LiveHistory struct {
	mu       sync.RWMutex
	monitors map[int64]*liveMonitor
	now      func() time.Time
}

type liveMonitor struct {
	state  State
	points []LatencyPoint
}

func NewLiveHistory() *LiveHistory {
	return &LiveHistory{monitors: make(map[int64]*liveMonitor), now: time.Now}
}

// Record appends a probe point and the state it produced.
func (h *LiveHistory) Record(id int64, at time.Time, latency time.Duration, up bool, state State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.monitors[id]
	if !ok {
		m = &liveMonitor{}
		h.monitors[id] = m
	}
	m.state = state
	m.points = append(m.points, LatencyPoint{Time: at.Unix(), Latency: int(latency.Milliseconds()), Up: up})
	if len(m.points) > maxLivePoints {
		m.points = append(m.points[:0], m.points[len(m.points)-maxLivePoints:]...)
	}
}

// Get returns the snapshot of a monitor. withPoints copies the latency series.
func (h *LiveHistory) Get(id int64, withPoints bool) (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.monitors[id]
	if !ok {
		return Snapshot{State: StateOperational, Uptime24h: 100}, false
	}
	snap := Snapshot{
		State:     m.state,
		Uptime24h: calcUptimeWindow(m.points, h.now().Unix(), 24*3600),
	}
	if n := len(m.points); n > 0 {
		snap.LastCheckTime = m.points[n-1].Time
		snap.LastLatencyMs = m.points[n-1].Latency
	}
	if withPoints {
		snap.Latency = append([]LatencyPoint(nil), m.points...)
	}
	return snap, true
}

// Remove drops a monitor that is no longer configured.
func (h *LiveHistory) Remove(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.monitors, id)
}

// calcUptimeWindow returns the percentage of up points newer than the
// window, 100 when there are none.
func calcUptimeWindow(points []LatencyPoint, now int64, windowSec int64) float64 {
	cutoff := now - windowSec
	total := 0
	up := 0
	for _, p := range points {
		if p.Time >= cutoff {
			total++
			if p.Up {
				up++
			}
		}
	}
	if total == 0 {
		return 100.0
	}
	return float64(up) / float64(total) * 100.0
}
