// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package heartbeat

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMonitor_DownAfterThresholdThenUp(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" || !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var statuses []string
	alerts := 0
	m := NewMonitor(srv.URL, Options{
		FailureThreshold: 2,
		Alert:            func(string, string) error { alerts++; return nil },
	}, func(status string) {
		mu.Lock()
		statuses = append(statuses, status)
		mu.Unlock()
	})

	if m.GetStatus() != StatusUnknown {
		t.Fatalf("initial status = %s", m.GetStatus())
	}

	m.CheckHealth()
	if m.GetStatus() != StatusUp {
		t.Fatalf("expected up, got %s", m.GetStatus())
	}

	healthy.Store(false)
	m.CheckHealth()
	if m.GetStatus() != StatusUp {
		t.Errorf("one failure should not mark the server down")
	}
	m.CheckHealth()
	if m.GetStatus() != StatusDown {
		t.Fatalf("expected down after threshold, got %s", m.GetStatus())
	}
	m.CheckHealth()
	if alerts != 1 {
		t.Errorf("expected a single alert for the outage, got %d", alerts)
	}

	healthy.Store(true)
	m.CheckHealth()
	if m.GetStatus() != StatusUp {
		t.Errorf("expected recovery to up, got %s", m.GetStatus())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{StatusUp, StatusDown, StatusDown, StatusUp}
	if len(statuses) != len(want) {
		t.Fatalf("callbacks = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("callback %d = %s, want %s", i, statuses[i], want[i])
		}
	}
}

func TestMonitor_UnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := NewMonitor(url, Options{FailureThreshold: 1, Alert: func(string, string) error { return nil }}, nil)
	m.CheckHealth()
	if m.GetStatus() != StatusDown {
		t.Errorf("expected down, got %s", m.GetStatus())
	}
	m.Stop()
	m.Stop()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMonitor_SetIntervalTakesEffect(t *testing.T) {
	var probes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		io.WriteString(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	m := NewMonitor(srv.URL, Options{Interval: time.Hour}, nil)
	m.Start()
	defer m.Stop()

	waitFor(t, "first probe", func() bool { return probes.Load() == 1 })

	m.SetInterval(20 * time.Millisecond)
	if m.Interval() != 20*time.Millisecond {
		t.Errorf("Interval() = %s", m.Interval())
	}
	waitFor(t, "probes at the new interval", func() bool { return probes.Load() >= 3 })
}

func TestMonitor_SetIntervalBeforeStart(t *testing.T) {
	m := NewMonitor("http://127.0.0.1:1", Options{Interval: time.Hour}, nil)
	m.SetInterval(time.Minute)
	m.SetInterval(2 * time.Minute)
	if m.Interval() != 2*time.Minute {
		t.Errorf("Interval() = %s", m.Interval())
	}
	m.Stop()
}

func TestMonitor_StopWaitsForProbeInFlight(t *testing.T) {
	inFlight := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inFlight <- struct{}{}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	var callbacks atomic.Int32
	m := NewMonitor(srv.URL, Options{
		Interval:         time.Hour,
		FailureThreshold: 1,
		Alert:            func(string, string) error { return nil },
	}, func(string) { callbacks.Add(1) })
	m.Start()

	select {
	case <-inFlight:
	case <-time.After(5 * time.Second):
		t.Fatal("probe never reached the server")
	}

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return while a probe was in flight")
	}

	time.Sleep(20 * time.Millisecond)
	if n := callbacks.Load(); n != 0 {
		t.Errorf("expected no status callback from an aborted probe, got %d", n)
	}
}
