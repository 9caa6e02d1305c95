package talkbase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestFeedConfigDefaults(t *testing.T) {
	cfg := FeedConfig{}
	cfg.defaults()

	if cfg.ReconnectBaseDelay != time.Second {
		t.Fatalf("unexpected base delay: %v", cfg.ReconnectBaseDelay)
	}
	if cfg.ReconnectMaxDelay != 30*time.Second {
		t.Fatalf("unexpected max delay: %v", cfg.ReconnectMaxDelay)
	}
	if cfg.MaxReconnectAttempts != 10 {
		t.Fatalf("unexpected max attempts: %d", cfg.MaxReconnectAttempts)
	}
	if cfg.HeartbeatInterval != 25*time.Second {
		t.Fatalf("unexpected heartbeat interval: %v", cfg.HeartbeatInterval)
	}
}

func TestReconnector(t *testing.T) {
	t.Run("backoff grows and is capped", func(t *testing.T) {
		cfg := &FeedConfig{ReconnectBaseDelay: time.Second, ReconnectMaxDelay: 5 * time.Second, MaxReconnectAttempts: 100}
		r := newReconnector(cfg)

		prev := time.Duration(0)
		for i := 0; i < 6; i++ {
			d := r.nextDelay()
			if d > cfg.ReconnectMaxDelay {
				t.Fatalf("delay %v exceeds cap", d)
			}
			if d < prev && d != cfg.ReconnectMaxDelay {
				t.Fatalf("delay shrank from %v to %v before hitting the cap", prev, d)
			}
			prev = d
		}
		if prev != cfg.ReconnectMaxDelay {
			t.Fatalf("expected backoff to reach the cap, got %v", prev)
		}
	})

	t.Run("attempt limit", func(t *testing.T) {
		cfg := &FeedConfig{ReconnectBaseDelay: time.Second, ReconnectMaxDelay: time.Second, MaxReconnectAttempts: 2}
		r := newReconnector(cfg)

		if !r.shouldReconnect() {
			t.Fatal("expected first attempt allowed")
		}
		r.nextDelay()
		r.nextDelay()
		if r.shouldReconnect() {
			t.Fatal("expected reconnect exhausted after 2 attempts")
		}
	})

	t.Run("stable connection resets the attempt count", func(t *testing.T) {
		cfg := &FeedConfig{ReconnectBaseDelay: time.Second, ReconnectMaxDelay: 30 * time.Second, MaxReconnectAttempts: 10}
		r := newReconnector(cfg)

		r.nextDelay()
		r.nextDelay()
		r.nextDelay()

		// A connection that held for over a minute starts backoff fresh.
		r.connectedAt = time.Now().Add(-2 * time.Minute)
		d := r.nextDelay()
		if d >= 2*cfg.ReconnectBaseDelay {
			t.Fatalf("expected base-level delay after a stable connection, got %v", d)
		}
	})

	t.Run("reset clears state", func(t *testing.T) {
		cfg := &FeedConfig{ReconnectBaseDelay: time.Second, ReconnectMaxDelay: time.Second, MaxReconnectAttempts: 1}
		r := newReconnector(cfg)
		r.nextDelay()
		r.reset()
		if !r.shouldReconnect() {
			t.Fatal("expected reconnect allowed after reset")
		}
	})
}

func TestFeedDispatcher(t *testing.T) {
	t.Run("change routes to collection and wildcard handlers", func(t *testing.T) {
		f := NewFeedClient("https://api.example.com", &FeedConfig{})

		roomChanges := make(chan ChangePayload, 4)
		allChanges := make(chan ChangePayload, 4)
		f.OnChange("rooms", func(p ChangePayload) { roomChanges <- p })
		f.OnChange("", func(p ChangePayload) { allChanges <- p })

		payload, _ := json.Marshal(ChangePayload{Collection: "rooms"})
		f.dispatcher.dispatch(FeedEnvelope{Type: "change", Payload: payload})

		for _, ch := range []chan ChangePayload{roomChanges, allChanges} {
			select {
			case p := <-ch:
				if p.Collection != "rooms" {
					t.Fatalf("unexpected payload: %+v", p)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for change event")
			}
		}

		payload, _ = json.Marshal(ChangePayload{Collection: "users"})
		f.dispatcher.dispatch(FeedEnvelope{Type: "change", Payload: payload})
		select {
		case p := <-roomChanges:
			t.Fatalf("rooms handler saw an unrelated change: %+v", p)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("push routes to push handlers", func(t *testing.T) {
		f := NewFeedClient("https://api.example.com", &FeedConfig{})

		pushes := make(chan FeedPushPayload, 4)
		f.OnPush(func(p FeedPushPayload) { pushes <- p })

		payload, _ := json.Marshal(FeedPushPayload{Title: "Ada", Body: "hello", Kind: NotifyMessage})
		f.dispatcher.dispatch(FeedEnvelope{Type: "push", Payload: payload})

		select {
		case p := <-pushes:
			if p.Title != "Ada" || p.Kind != NotifyMessage {
				t.Fatalf("unexpected push: %+v", p)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for push event")
		}
	})
}

func TestFeedClientDisconnected(t *testing.T) {
	f := NewFeedClient("https://api.example.com/", &FeedConfig{})

	if f.State() != StateDisconnected {
		t.Fatalf("expected disconnected state, got %s", f.State())
	}

	// Commands without a connection report offline rather than panicking.
	err := f.SubscribeCollection(context.Background(), "rooms")
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}

	if err := f.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
}
