package talkbase

import (
	"context"
	"sync"
	"testing"
)

// collectAlerts is an Alerter that records what fired.
type collectAlerts struct {
	mu    sync.Mutex
	notes []Notification
}

func (a *collectAlerts) Alert(n Notification) {
	a.mu.Lock()
	a.notes = append(a.notes, n)
	a.mu.Unlock()
}

func (a *collectAlerts) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.notes)
}

func TestNotificationSuppression(t *testing.T) {
	ctx := context.Background()

	t.Run("active room suppresses the alert and marks read", func(t *testing.T) {
		alerts := &collectAlerts{}
		c := newTestClient(t, WithAlerter(alerts))
		room, _, recipient := newTestRoom(t, c)

		unsubscribe, err := c.Notifications().Subscribe(recipient.UID, func([]Notification) {})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		defer unsubscribe()

		c.Notifications().SetActiveRoom(room.ID)

		if _, err := c.Messages().Append(ctx, room.ID, &MessageInput{Text: "hi"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}

		// The notification is stored but auto-marked read without alerting.
		waitFor(t, "auto mark-read", func() bool {
			count, err := c.Notifications().UnreadCount(ctx, recipient.UID)
			return err == nil && count == 0
		})
		notes, err := c.Notifications().List(ctx, recipient.UID, 0)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(notes) != 1 || !notes[0].Read {
			t.Fatalf("expected one read notification, got %+v", notes)
		}
		if alerts.count() != 0 {
			t.Fatalf("expected no alerts, got %d", alerts.count())
		}
	})

	t.Run("inactive room alerts and stays unread", func(t *testing.T) {
		alerts := &collectAlerts{}
		c := newTestClient(t, WithAlerter(alerts))
		room, _, recipient := newTestRoom(t, c)

		unsubscribe, err := c.Notifications().Subscribe(recipient.UID, func([]Notification) {})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		defer unsubscribe()

		if _, err := c.Messages().Append(ctx, room.ID, &MessageInput{Text: "hi"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}

		waitFor(t, "alert", func() bool { return alerts.count() == 1 })

		count, err := c.Notifications().UnreadCount(ctx, recipient.UID)
		if err != nil {
			t.Fatalf("UnreadCount failed: %v", err)
		}
		if count != 1 {
			t.Fatalf("expected 1 unread, got %d", count)
		}
	})

	t.Run("clearing the active room re-enables alerts", func(t *testing.T) {
		alerts := &collectAlerts{}
		c := newTestClient(t, WithAlerter(alerts))
		room, _, recipient := newTestRoom(t, c)

		unsubscribe, err := c.Notifications().Subscribe(recipient.UID, func([]Notification) {})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		defer unsubscribe()

		c.Notifications().SetActiveRoom(room.ID)
		if _, err := c.Messages().Append(ctx, room.ID, &MessageInput{Text: "one"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		waitFor(t, "suppressed mark-read", func() bool {
			count, err := c.Notifications().UnreadCount(ctx, recipient.UID)
			return err == nil && count == 0
		})

		c.Notifications().ClearActiveRoom(room.ID)
		if _, err := c.Messages().Append(ctx, room.ID, &MessageInput{Text: "two"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		waitFor(t, "alert after clear", func() bool { return alerts.count() == 1 })
	})

	t.Run("each notification routes exactly once", func(t *testing.T) {
		alerts := &collectAlerts{}
		c := newTestClient(t, WithAlerter(alerts))
		room, _, recipient := newTestRoom(t, c)

		unsubscribe, err := c.Notifications().Subscribe(recipient.UID, func([]Notification) {})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		defer unsubscribe()

		if _, err := c.Messages().Append(ctx, room.ID, &MessageInput{Text: "one"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		waitFor(t, "first alert", func() bool { return alerts.count() >= 1 })

		// Further snapshots of the same unread notification must not re-alert.
		if _, err := c.Messages().Append(ctx, room.ID, &MessageInput{Text: "two"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		waitFor(t, "second alert", func() bool { return alerts.count() >= 2 })
		if alerts.count() != 2 {
			t.Fatalf("expected exactly 2 alerts, got %d", alerts.count())
		}
	})
}

func TestNotificationActiveRooms(t *testing.T) {
	c := newTestClient(t)
	n := c.Notifications()

	n.SetActiveRoom("a_b")
	n.SetActiveRoom("a_c")
	if got := n.ActiveRooms(); len(got) != 2 {
		t.Fatalf("expected 2 active rooms, got %v", got)
	}

	n.ClearActiveRoom("a_b")
	got := n.ActiveRooms()
	if len(got) != 1 || got[0] != "a_c" {
		t.Fatalf("expected [a_c], got %v", got)
	}
}

func TestNotificationReads(t *testing.T) {
	ctx := context.Background()

	t.Run("mark all read is atomic and idempotent", func(t *testing.T) {
		c := newTestClient(t)
		room, _, recipient := newTestRoom(t, c)

		for _, text := range []string{"one", "two", "three"} {
			if _, err := c.Messages().Append(ctx, room.ID, &MessageInput{Text: text}); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
		}

		count, err := c.Notifications().UnreadCount(ctx, recipient.UID)
		if err != nil {
			t.Fatalf("UnreadCount failed: %v", err)
		}
		if count != 3 {
			t.Fatalf("expected 3 unread, got %d", count)
		}

		if err := c.Notifications().MarkAllRead(ctx, recipient.UID); err != nil {
			t.Fatalf("MarkAllRead failed: %v", err)
		}
		count, err = c.Notifications().UnreadCount(ctx, recipient.UID)
		if err != nil {
			t.Fatalf("UnreadCount failed: %v", err)
		}
		if count != 0 {
			t.Fatalf("expected 0 unread, got %d", count)
		}

		// Nothing unread left; a second call is a no-op.
		if err := c.Notifications().MarkAllRead(ctx, recipient.UID); err != nil {
			t.Fatalf("MarkAllRead failed: %v", err)
		}
	})

	t.Run("list returns newest first", func(t *testing.T) {
		c := newTestClient(t)
		room, _, recipient := newTestRoom(t, c)

		for _, text := range []string{"one", "two"} {
			if _, err := c.Messages().Append(ctx, room.ID, &MessageInput{Text: text}); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
		}

		notes, err := c.Notifications().List(ctx, recipient.UID, 0)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(notes) != 2 {
			t.Fatalf("expected 2 notifications, got %d", len(notes))
		}
		first, ok := notes[0].Payload.(MessagePayload)
		if !ok || first.Preview != "two" {
			t.Fatalf("expected newest first, got %+v", notes[0].Payload)
		}
	})

	t.Run("delete removes the notification", func(t *testing.T) {
		c := newTestClient(t)
		room, _, recipient := newTestRoom(t, c)

		if _, err := c.Messages().Append(ctx, room.ID, &MessageInput{Text: "hi"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		notes, err := c.Notifications().List(ctx, recipient.UID, 0)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if err := c.Notifications().Delete(ctx, notes[0].ID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		remaining, err := c.Notifications().List(ctx, recipient.UID, 0)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(remaining) != 0 {
			t.Fatalf("expected empty list, got %d", len(remaining))
		}
	})
}

func TestNotificationNoSelfNotify(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	sess := signUp(t, c, "ada@example.com", "Ada")

	// Calling yourself rings no one; the record for the recipient-is-sender
	// case is never stored.
	if _, err := c.Calls().Start(ctx, sess.UID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	unread, err := c.Notifications().UnreadCount(ctx, sess.UID)
	if err != nil {
		t.Fatalf("UnreadCount failed: %v", err)
	}
	if unread != 0 {
		t.Fatalf("expected no self-notifications, got %d unread", unread)
	}
	notes, err := c.Notifications().List(ctx, sess.UID, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(notes) != 0 {
		t.Fatalf("expected empty list, got %d", len(notes))
	}
}

func TestNotificationOpen(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	room, _, recipient := newTestRoom(t, c)

	navigated := make(chan string, 1)
	c.Events().OnNavigate(func(roomID string) { navigated <- roomID })

	if _, err := c.Messages().Append(ctx, room.ID, &MessageInput{Text: "ping"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	notes, err := c.Notifications().List(ctx, recipient.UID, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notes))
	}

	if err := c.Notifications().Open(ctx, notes[0]); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	waitFor(t, "navigate event", func() bool {
		select {
		case roomID := <-navigated:
			return roomID == room.ID
		default:
			return false
		}
	})
	unread, err := c.Notifications().UnreadCount(ctx, recipient.UID)
	if err != nil {
		t.Fatalf("UnreadCount failed: %v", err)
	}
	if unread != 0 {
		t.Fatal("expected the opened notification to be read")
	}
}
