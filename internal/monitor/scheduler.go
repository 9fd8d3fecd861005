package monitor

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/makt28/uptrack/internal/config"
)

// Scheduler runs one probe loop per enabled monitor and restarts loops whose
// config changed.
type Scheduler struct {
	cfgMgr   *config.Manager
	analyzer *Analyzer

	mu    sync.Mutex
	loops map[int64]*probeLoop
	// draining holds, per monitor, a channel closed once the previous loop
	// has fully exited. A replacement loop waits on it before probing.
	draining map[int64]<-chan struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopped  bool
}

type probeLoop struct {
	cfg    config.Monitor
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(cfgMgr *config.Manager, analyzer *Analyzer) *Scheduler {
	return &Scheduler{
		cfgMgr:   cfgMgr,
		analyzer: analyzer,
		loops:    make(map[int64]*probeLoop),
		draining: make(map[int64]<-chan struct{}),
	}
}

// Start launches the probe loops and follows config changes until Stop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	changes := s.cfgMgr.Subscribe()
	s.reconcile(ctx, s.cfgMgr.Get())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				slog.Info("config changed, reconciling monitors")
				s.reconcile(ctx, s.cfgMgr.Get())
			}
		}
	}()
}

// Stop cancels every loop and waits for in-flight probes to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped || s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()
	clear(s.loops)
	clear(s.draining)
	s.mu.Unlock()

	s.wg.Wait()
}

// reconcile makes the running loops match the enabled monitors in cfg.
func (s *Scheduler) reconcile(ctx context.Context, cfg config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	want := make(map[int64]config.Monitor, len(cfg.Monitors))
	for _, m := range cfg.Monitors {
		if m.IsEnabled() {
			want[m.ID] = m
		}
	}

	for id, loop := range s.loops {
		m, keep := want[id]
		switch {
		case !keep:
			slog.Info("stopping monitor", "monitor_id", id)
			loop.cancel()
			delete(s.loops, id)
			cleared := make(chan struct{})
			s.draining[id] = cleared
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer close(cleared)
				<-loop.done
				s.analyzer.RemoveState(id)
			}()
		case !reflect.DeepEqual(loop.cfg, m):
			slog.Info("restarting changed monitor", "monitor_id", id)
			loop.cancel()
			delete(s.loops, id)
			s.draining[id] = loop.done
		}
	}

	for id, m := range want {
		if _, running := s.loops[id]; running {
			continue
		}
		prev := s.draining[id]
		delete(s.draining, id)

		loopCtx, cancel := context.WithCancel(ctx)
		loop := &probeLoop{cfg: m, cancel: cancel, done: make(chan struct{})}
		s.loops[id] = loop
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer close(loop.done)
			if prev != nil {
				// prev is already cancelled; this only waits out its in-flight probe.
				<-prev
				if loopCtx.Err() != nil {
					return
				}
			}
			s.run(loopCtx, m, m.IntervalDuration(cfg.System.CheckInterval))
		}()
	}
}

// CronTimestamp returns the scheduling tick t belongs to: t truncated to
// the interval, in unix milliseconds. Every probe of one tick shares it.
func CronTimestamp(t time.Time, interval time.Duration) int64 {
	return t.Truncate(interval).UnixMilli()
}

// untilNextTick is the wait from now to the next interval boundary.
func untilNextTick(now time.Time, interval time.Duration) time.Duration {
	return now.Truncate(interval).Add(interval).Sub(now)
}

// run probes m once right away and then on every interval boundary.
func (s *Scheduler) run(ctx context.Context, m config.Monitor, interval time.Duration) {
	prober := NewProber(m)
	timeout := time.Duration(m.Timeout) * time.Second
	slog.Info("monitor started", "monitor_id", m.ID, "name", m.Name, "type", m.Type, "interval", interval)

	s.probe(ctx, prober, m, timeout, CronTimestamp(time.Now(), interval))

	timer := time.NewTimer(untilNextTick(time.Now(), interval))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("monitor stopped", "monitor_id", m.ID, "name", m.Name)
			return
		case tick := <-timer.C:
			s.probe(ctx, prober, m, timeout, CronTimestamp(tick, interval))
			timer.Reset(untilNextTick(time.Now(), interval))
		}
	}
}

func (s *Scheduler) probe(ctx context.Context, prober Prober, m config.Monitor, timeout time.Duration, cronTimestamp int64) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := prober.Probe(probeCtx, m.Target)
	if ctx.Err() != nil {
		// Stopped mid-probe; the result reflects cancellation, not the target.
		return
	}
	s.analyzer.Process(ctx, m, cronTimestamp, result)
}
