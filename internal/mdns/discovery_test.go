package mdns

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestEngine_SecondSessionRejected(t *testing.T) {
	engine := NewEngine(Options{}, nil)
	defer engine.Close()

	// Occupy the session guard as a running scan would.
	engine.sem <- struct{}{}
	defer func() { <-engine.sem }()

	_, err := engine.Scan(context.Background())
	if !errors.Is(err, ErrScanInProgress) {
		t.Errorf("Scan() during active session error = %v, want %v", err, ErrScanInProgress)
	}
}

func TestEngine_CollectEndsOnPlateau(t *testing.T) {
	engine := NewEngine(Options{
		SessionTimeout: 30 * time.Second,
		PollInterval:   5 * time.Millisecond,
		MinCollectTime: 20 * time.Millisecond,
		PlateauPolls:   4,
	}, nil)
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The simulated device map grows for a few polls, then stops.
	polls := 0
	count := func() int {
		polls++
		if polls < 3 {
			return polls
		}
		return 3
	}

	start := time.Now()
	engine.collect(ctx, count)
	elapsed := time.Since(start)

	if elapsed >= 5*time.Second {
		t.Errorf("collect ran %v, want early termination well before the timeout", elapsed)
	}
	if elapsed < engine.opts.MinCollectTime {
		t.Errorf("collect ended after %v, before the %v minimum", elapsed, engine.opts.MinCollectTime)
	}
}

func TestEngine_CollectHonorsCancellation(t *testing.T) {
	engine := NewEngine(Options{
		PollInterval:   5 * time.Millisecond,
		MinCollectTime: time.Hour, // plateau can never fire
		PlateauPolls:   1,
	}, nil)
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		// Growing count keeps the plateau detector busy forever.
		n := 0
		engine.collect(ctx, func() int { n++; return n })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("collect did not exit on cancellation")
	}
}

func TestFilterResults(t *testing.T) {
	nm := NewNetworkManager(nil)
	nm.localIPs = []net.IP{net.ParseIP("192.168.1.5").To4()}

	devices := []Device{
		{ID: "192.168.1.30", IP: "192.168.1.30"},
		{ID: "192.168.1.5", IP: "192.168.1.5"}, // the host itself
		{ID: "192.168.1.9", IP: "192.168.1.9"},
		{ID: "service:_onvif._tcp.local"},
	}

	filtered := filterResults(devices, nm)
	if len(filtered) != 3 {
		t.Fatalf("filtered = %d devices, want 3", len(filtered))
	}
	for _, dev := range filtered {
		if dev.IP == "192.168.1.5" {
			t.Error("filter kept the host's own address")
		}
	}

	// Sorted by address, synthetic keys last.
	if filtered[0].IP != "192.168.1.9" || filtered[1].IP != "192.168.1.30" {
		t.Errorf("order = [%s %s ...], want numeric ascent 192.168.1.9, 192.168.1.30",
			filtered[0].IP, filtered[1].IP)
	}
	if filtered[2].ID != "service:_onvif._tcp.local" {
		t.Errorf("last entry = %q, want the service-keyed device", filtered[2].ID)
	}
}

func TestEngine_ExpiryEventsReachSubscribers(t *testing.T) {
	engine := NewEngine(Options{CacheTTL: 5 * time.Minute}, nil)
	defer engine.Close()

	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	engine.cache.now = func() time.Time { return now }

	engine.cache.Upsert(&Device{ID: "192.168.1.10", IP: "192.168.1.10", Name: "Front Door"})
	now = now.Add(10 * time.Minute)
	engine.cache.sweep()

	select {
	case ev := <-engine.Events():
		if ev.Kind != EventExpired {
			t.Errorf("event kind = %v, want %v", ev.Kind, EventExpired)
		}
		if ev.Device.DisplayName() != "Front Door" {
			t.Errorf("expired device = %q, want %q", ev.Device.DisplayName(), "Front Door")
		}
	default:
		t.Fatal("no expiry event published")
	}
}

func TestState_String(t *testing.T) {
	states := map[State]string{
		StateIdle:         "idle",
		StateInitializing: "initializing",
		StateQuerying:     "querying",
		StateListening:    "listening",
		StateCollecting:   "collecting",
		StateFiltering:    "filtering",
		StateCancelled:    "cancelled",
	}
	for state, want := range states {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
