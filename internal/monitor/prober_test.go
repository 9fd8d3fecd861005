package monitor

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/makt28/uptrack/internal/config"
)

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/broken") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPProber(false)
	if res := p.Probe(context.Background(), srv.URL+"/ok"); !res.Up || res.StatusCode != 200 {
		t.Errorf("ok probe = %+v", res)
	}
	res := p.Probe(context.Background(), srv.URL+"/broken")
	if res.Up || res.StatusCode != 500 || res.Error != "HTTP 500" {
		t.Errorf("broken probe = %+v", res)
	}
}

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()

	p := &TCPProber{}
	if res := p.Probe(context.Background(), addr); !res.Up {
		t.Errorf("open port probe = %+v", res)
	}
	ln.Close()
	if res := p.Probe(context.Background(), addr); res.Up {
		t.Error("closed port reported up")
	}
}

func TestNewProber(t *testing.T) {
	tests := []struct {
		m    config.Monitor
		want Prober
	}{
		{config.Monitor{Type: "tcp"}, &TCPProber{}},
		{config.Monitor{Type: "ping"}, &ICMPProber{}},
		{config.Monitor{Type: "ping", Privileged: true}, &ICMPProber{Privileged: true}},
	}
	for _, tt := range tests {
		got := NewProber(tt.m)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("NewProber(%+v) = %#v, want %#v", tt.m, got, tt.want)
		}
	}
	if _, ok := NewProber(config.Monitor{Type: "http"}).(*HTTPProber); !ok {
		t.Error("http monitor did not get an HTTPProber")
	}
}
