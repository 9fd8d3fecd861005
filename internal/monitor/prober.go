package monitor

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-ping/ping"

	"github.com/makt28/uptrack/internal/config"
)

// ProbeResult is the outcome of a single probe attempt.
type ProbeResult struct {
	Up         bool
	Latency    time.Duration
	StatusCode int
	Error      string
}

// Prober is the interface for all probe type implementations.
type Prober interface {
	Probe(ctx context.Context, target string) ProbeResult
}

// --- HTTP Prober ---

type HTTPProber struct {
	client *http.Client
}

func NewHTTPProber(ignoreTLS bool) *HTTPProber {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: ignoreTLS}
	transport.DisableKeepAlives = true
	return &HTTPProber{client: &http.Client{Transport: transport}}
}

func (p *HTTPProber) Probe(ctx context.Context, target string) ProbeResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return ProbeResult{Up: false, Error: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("User-Agent", "uptrack/1 (+uptime monitor)")

	resp, err := p.client.Do(req)
	if err != nil {
		return ProbeResult{
			Up:      false,
			Latency: time.Since(start),
			Error:   fmt.Sprintf("request failed: %v", err),
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode >= 400 {
		return ProbeResult{
			Up:         false,
			Latency:    latency,
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("HTTP %d", resp.StatusCode),
		}
	}

	return ProbeResult{Up: true, Latency: latency, StatusCode: resp.StatusCode}
}

// --- TCP Prober ---

type TCPProber struct{}

func (p *TCPProber) Probe(ctx context.Context, target string) ProbeResult {
	start := time.Now()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return ProbeResult{
			Up:      false,
			Latency: time.Since(start),
			Error:   fmt.Sprintf("tcp dial: %v", err),
		}
	}
	conn.Close()

	return ProbeResult{Up: true, Latency: time.Since(start)}
}

// --- ICMP Prober ---

// ICMPProber sends a single echo request. Unprivileged (UDP) mode is used
// unless Privileged is set, which needs CAP_NET_RAW.
type ICMPProber struct {
	Privileged bool
}

func (p *ICMPProber) Probe(ctx context.Context, target string) ProbeResult {
	pinger, err := ping.NewPinger(target)
	if err != nil {
		return ProbeResult{Up: false, Error: fmt.Sprintf("ping: %v", err)}
	}
	pinger.Count = 1
	pinger.SetPrivileged(p.Privileged)
	pinger.Timeout = 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		pinger.Timeout = time.Until(deadline)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()
	start := time.Now()
	err = pinger.Run()
	close(done)
	if err != nil {
		return ProbeResult{Up: false, Latency: time.Since(start), Error: fmt.Sprintf("ping: %v", err)}
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return ProbeResult{Up: false, Latency: time.Since(start), Error: "ping: no reply"}
	}
	return ProbeResult{Up: true, Latency: stats.AvgRtt}
}

// NewProber creates the appropriate prober for a monitor.
func NewProber(m config.Monitor) Prober {
	switch m.Type {
	case "tcp":
		return &TCPProber{}
	case "ping":
		return &ICMPProber{Privileged: m.Privileged}
	default:
		return NewHTTPProber(m.IgnoreTLS)
	}
}
