// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/waymark-analytics/waymark/internal/collector"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx) //nolint:errcheck
	return h, cancel
}

func TestBroadcastReachesWatcher(t *testing.T) {
	h, cancel := startHub(t)
	defer cancel()

	ch, unsubscribe := h.SubscribeAll()
	defer unsubscribe()

	h.BroadcastJourneyUpdate("user-1", "interest", 33.3, 15)

	select {
	case msg := <-ch:
		if msg.Type != MessageTypeJourneyUpdate {
			t.Errorf("type = %q, want journey_update", msg.Type)
		}
		data, ok := msg.Data.(JourneyUpdateData)
		if !ok {
			t.Fatalf("unexpected payload %T", msg.Data)
		}
		if data.UserID != "user-1" || data.Stage != "interest" {
			t.Errorf("payload = %+v", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never received broadcast")
	}
}

func TestUnsubscribedWatcherStops(t *testing.T) {
	h, cancel := startHub(t)
	defer cancel()

	ch, unsubscribe := h.SubscribeAll()
	unsubscribe()

	if _, open := <-ch; open {
		t.Error("channel should be closed after unsubscribe")
	}

	// Broadcasting after unsubscribe must not panic.
	h.Broadcast(MessageTypeEvent, nil)
}

func TestBroadcastMetricsPayload(t *testing.T) {
	h, cancel := startHub(t)
	defer cancel()

	ch, unsubscribe := h.SubscribeAll()
	defer unsubscribe()

	h.BroadcastMetrics([]collector.Snapshot{
		{Name: "page_views", Type: collector.Counter, Value: 12, Trend: collector.TrendUp},
	})

	select {
	case msg := <-ch:
		data, ok := msg.Data.(MetricUpdateData)
		if !ok {
			t.Fatalf("unexpected payload %T", msg.Data)
		}
		if len(data.Metrics) != 1 || data.Metrics[0].Name != "page_views" {
			t.Errorf("metrics payload = %+v", data.Metrics)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("metric update never arrived")
	}
}

func TestClientCountTracksRegistration(t *testing.T) {
	h, cancel := startHub(t)
	defer cancel()

	c := NewClient(h, nil)
	h.Register <- c

	deadline := time.Now().Add(5 * time.Second)
	for h.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	h.Unregister <- c
	for h.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestShutdownClosesWatchers(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	ch, _ := h.SubscribeAll()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop")
	}

	select {
	case _, open := <-ch:
		if open {
			t.Error("watcher channel should be closed on shutdown")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher channel never closed")
	}
}

func TestPongReplyAfterStaleDrop(t *testing.T) {
	h, cancel := startHub(t)
	defer cancel()

	c := NewClient(h, nil)
	h.Register <- c

	deadline := time.Now().Add(5 * time.Second)
	for h.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	// No write pump is draining, so filling the buffer makes the next
	// dispatch treat the client as stale and drop it.
	for i := 0; i < cap(c.send); i++ {
		c.send <- Message{Type: MessageTypeEvent}
	}
	h.Broadcast(MessageTypeEvent, nil)

	for h.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("stale client never dropped")
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("dropped client was never stopped")
	}

	// The read pump may still be answering an inbound ping while the
	// hub drops the client. That reply must not panic.
	c.replyPong()
}

func TestPongReplyAfterShutdown(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	c := NewClient(h, nil)
	h.Register <- c

	deadline := time.Now().Add(5 * time.Second)
	for h.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop")
	}

	c.replyPong()
	c.stop() // idempotent
}
