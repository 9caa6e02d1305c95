package talkbase

import (
	"context"
	"strings"
	"testing"
)

func TestOutboxOnline(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	room, _, _ := newTestRoom(t, c)

	o := NewOutbox(c, nil)
	o.Init()
	defer o.Destroy()

	msg, err := o.Append(ctx, room.ID, &MessageInput{Text: "hi"})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if strings.HasPrefix(msg.ID, "local-") {
		t.Fatal("expected a real id while online")
	}
	if o.Size() != 0 {
		t.Fatalf("expected empty queue, got %d", o.Size())
	}
}

func TestOutboxQueueAndFlush(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	room, _, _ := newTestRoom(t, c)

	o := NewOutbox(c, nil)
	o.Init()
	defer o.Destroy()

	c.Gate().SetOnline(false)

	first, err := o.Append(ctx, room.ID, &MessageInput{Text: "first"})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if !strings.HasPrefix(first.ID, "local-") {
		t.Fatalf("expected placeholder id, got %s", first.ID)
	}
	if _, err := o.Append(ctx, room.ID, &MessageInput{Text: "second"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if o.Size() != 2 {
		t.Fatalf("expected 2 queued ops, got %d", o.Size())
	}

	// Reconnect triggers an in-order flush.
	c.Gate().SetOnline(true)

	waitFor(t, "flush", func() bool { return o.Size() == 0 })
	waitFor(t, "messages delivered", func() bool {
		page, err := c.Messages().History(ctx, room.ID, nil)
		return err == nil && len(page.Messages) == 2
	})

	page, err := c.Messages().History(ctx, room.ID, nil)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if page.Messages[0].Text != "first" || page.Messages[1].Text != "second" {
		t.Fatalf("expected FIFO replay, got %s then %s", page.Messages[0].Text, page.Messages[1].Text)
	}
}

func TestOutboxAcksGoneTargets(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	room, _, _ := newTestRoom(t, c)

	msg, err := c.Messages().Append(ctx, room.ID, &MessageInput{Text: "hi"})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := c.Messages().Delete(ctx, room.ID, msg.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	o := NewOutbox(c, nil)
	o.Init()
	defer o.Destroy()

	c.Gate().SetOnline(false)

	// Queue a delete whose target is already gone. On flush the desired end
	// state holds, so the op is acked rather than retried.
	if err := o.Delete(ctx, room.ID, msg.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if o.Size() != 1 {
		t.Fatalf("expected 1 queued op, got %d", o.Size())
	}

	c.Gate().SetOnline(true)
	waitFor(t, "ack", func() bool { return o.Size() == 0 })
}

func TestOutboxMarkAllRead(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	room, _, recipient := newTestRoom(t, c)

	if _, err := c.Messages().Append(ctx, room.ID, &MessageInput{Text: "hi"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	o := NewOutbox(c, nil)
	o.Init()
	defer o.Destroy()

	c.Gate().SetOnline(false)

	if err := o.MarkAllRead(ctx, recipient.UID); err != nil {
		t.Fatalf("MarkAllRead failed: %v", err)
	}
	if o.Size() != 1 {
		t.Fatalf("expected 1 queued op, got %d", o.Size())
	}

	c.Gate().SetOnline(true)
	waitFor(t, "flush", func() bool { return o.Size() == 0 })
	waitFor(t, "notifications read", func() bool {
		count, err := c.Notifications().UnreadCount(ctx, recipient.UID)
		return err == nil && count == 0
	})
}

func TestOutboxEvents(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	room, _, _ := newTestRoom(t, c)

	o := NewOutbox(c, nil)
	o.Init()
	defer o.Destroy()

	queued := make(chan *OutboxOp, 4)
	sent := make(chan *OutboxOp, 4)
	o.On("op.queued", func(event string, op *OutboxOp) { queued <- op })
	o.On("op.sent", func(event string, op *OutboxOp) { sent <- op })

	c.Gate().SetOnline(false)
	if _, err := o.Append(ctx, room.ID, &MessageInput{Text: "hi"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	op := <-queued
	if op.Kind != OutboxAppend || op.Status != "pending" {
		t.Fatalf("unexpected queued op: %+v", op)
	}

	c.Gate().SetOnline(true)
	waitFor(t, "op.sent", func() bool {
		select {
		case <-sent:
			return true
		default:
			return false
		}
	})
}
