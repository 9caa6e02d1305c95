package talkbase

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestRoomsGetOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("both orderings converge", func(t *testing.T) {
		c := newTestClient(t)
		sender, recipient := twoUsers(t, c)

		a, err := c.Rooms().GetOrCreate(ctx, sender.UID, recipient.UID)
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		b, err := c.Rooms().GetOrCreate(ctx, recipient.UID, sender.UID)
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		if a.ID != b.ID {
			t.Fatalf("expected one room, got %s and %s", a.ID, b.ID)
		}
	})

	t.Run("carries participant details", func(t *testing.T) {
		c := newTestClient(t)
		sender, recipient := twoUsers(t, c)

		room, err := c.Rooms().GetOrCreate(ctx, sender.UID, recipient.UID)
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		if len(room.Participants) != 2 {
			t.Fatalf("expected 2 participants, got %v", room.Participants)
		}
		p, ok := room.ParticipantDetails[recipient.UID]
		if !ok {
			t.Fatal("expected recipient details")
		}
		if p.DisplayName != "Bob" {
			t.Fatalf("unexpected details: %+v", p)
		}
		if other := room.Other(sender.UID); other != recipient.UID {
			t.Fatalf("expected other participant %s, got %s", recipient.UID, other)
		}
	})

	t.Run("invalid participant rejected", func(t *testing.T) {
		c := newTestClient(t)
		signUp(t, c, "ada@example.com", "Ada")
		if _, err := c.Rooms().GetOrCreate(ctx, "", "u2"); err == nil {
			t.Fatal("expected error for empty participant")
		}
	})

	t.Run("concurrent callers converge on one record", func(t *testing.T) {
		c := newTestClient(t)
		sender, recipient := twoUsers(t, c)

		const callers = 8
		rooms := make([]*Room, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				room, err := c.Rooms().GetOrCreate(ctx, sender.UID, recipient.UID)
				if err != nil {
					t.Errorf("GetOrCreate failed: %v", err)
					return
				}
				rooms[i] = room
			}(i)
		}
		wg.Wait()

		for i := 1; i < callers; i++ {
			if rooms[i] == nil || rooms[i].ID != rooms[0].ID {
				t.Fatalf("caller %d diverged: %+v", i, rooms[i])
			}
			if rooms[i].CreatedAt != rooms[0].CreatedAt {
				t.Fatalf("caller %d has a different record: %+v", i, rooms[i])
			}
		}
	})
}

func TestRoomsActivity(t *testing.T) {
	ctx := context.Background()

	t.Run("append updates the room summary", func(t *testing.T) {
		c := newTestClient(t)
		sender, recipient := twoUsers(t, c)

		room, err := c.Rooms().GetOrCreate(ctx, sender.UID, recipient.UID)
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}

		msg, err := c.Messages().Append(ctx, room.ID, &MessageInput{Text: "hello"})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}

		got, err := c.Rooms().Get(ctx, room.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.MessageCount != 1 {
			t.Fatalf("expected messageCount 1, got %d", got.MessageCount)
		}
		if got.LastActivityAt != msg.SentAt {
			t.Fatalf("expected lastActivityAt %d, got %d", msg.SentAt, got.LastActivityAt)
		}
		if got.LastMessage == nil || got.LastMessage.Text != "hello" || got.LastMessage.SenderID != sender.UID {
			t.Fatalf("unexpected last message: %+v", got.LastMessage)
		}
	})

	t.Run("list orders by recent activity", func(t *testing.T) {
		c := newTestClient(t)
		third := signUp(t, c, "cara@example.com", "Cara")
		sender, recipient := twoUsers(t, c)

		first, err := c.Rooms().GetOrCreate(ctx, sender.UID, recipient.UID)
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		second, err := c.Rooms().GetOrCreate(ctx, sender.UID, third.UID)
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}

		if _, err := c.Messages().Append(ctx, second.ID, &MessageInput{Text: "a"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if _, err := c.Messages().Append(ctx, first.ID, &MessageInput{Text: "b"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}

		rooms, err := c.Rooms().ListForUser(ctx, sender.UID, 0)
		if err != nil {
			t.Fatalf("ListForUser failed: %v", err)
		}
		if len(rooms) != 2 {
			t.Fatalf("expected 2 rooms, got %d", len(rooms))
		}
		if rooms[0].ID != first.ID || rooms[1].ID != second.ID {
			t.Fatalf("expected [%s %s], got [%s %s]", first.ID, second.ID, rooms[0].ID, rooms[1].ID)
		}
	})

	t.Run("append invalidates the cached list", func(t *testing.T) {
		c := newTestClient(t)
		sender, recipient := twoUsers(t, c)

		room, err := c.Rooms().GetOrCreate(ctx, sender.UID, recipient.UID)
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}

		// Prime the cache.
		before, err := c.Rooms().ListForUser(ctx, sender.UID, 0)
		if err != nil {
			t.Fatalf("ListForUser failed: %v", err)
		}
		if before[0].MessageCount != 0 {
			t.Fatalf("expected fresh room, got %+v", before[0])
		}

		if _, err := c.Messages().Append(ctx, room.ID, &MessageInput{Text: "hello"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}

		after, err := c.Rooms().ListForUser(ctx, sender.UID, 0)
		if err != nil {
			t.Fatalf("ListForUser failed: %v", err)
		}
		if after[0].MessageCount != 1 {
			t.Fatalf("expected cache invalidated, got %+v", after[0])
		}
	})
}

func TestRoomsSubscribe(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	sender, recipient := twoUsers(t, c)

	snapshots := make(chan []Room, 16)
	unsubscribe, err := c.Rooms().Subscribe(sender.UID, func(rooms []Room) {
		snapshots <- rooms
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsubscribe()

	room, err := c.Rooms().GetOrCreate(ctx, sender.UID, recipient.UID)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	waitFor(t, "room snapshot", func() bool {
		select {
		case rooms := <-snapshots:
			return len(rooms) == 1 && rooms[0].ID == room.ID
		default:
			return false
		}
	})
}

func TestRoomsListLimit(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	sess := signUp(t, c, "ada@example.com", "Ada")

	for i := 0; i < 60; i++ {
		peer := fmt.Sprintf("peer%02d", i)
		if _, err := c.Rooms().GetOrCreate(ctx, sess.UID, peer); err != nil {
			t.Fatalf("GetOrCreate %s failed: %v", peer, err)
		}
	}

	t.Run("default cap", func(t *testing.T) {
		rooms, err := c.Rooms().ListForUser(ctx, sess.UID, 0)
		if err != nil {
			t.Fatalf("ListForUser failed: %v", err)
		}
		if len(rooms) != DefaultRoomListLimit {
			t.Fatalf("expected %d rooms, got %d", DefaultRoomListLimit, len(rooms))
		}
	})

	t.Run("explicit limit", func(t *testing.T) {
		rooms, err := c.Rooms().ListForUser(ctx, sess.UID, 10)
		if err != nil {
			t.Fatalf("ListForUser failed: %v", err)
		}
		if len(rooms) != 10 {
			t.Fatalf("expected 10 rooms, got %d", len(rooms))
		}
	})
}

func TestRoomsListOffline(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	room, sender, _ := newTestRoom(t, c)

	t.Run("cold cache yields empty", func(t *testing.T) {
		c.Gate().SetOnline(false)
		defer c.Gate().SetOnline(true)

		rooms, err := c.Rooms().ListForUser(ctx, sender.UID, 0)
		if err != nil {
			t.Fatalf("ListForUser failed: %v", err)
		}
		if len(rooms) != 0 {
			t.Fatalf("expected no rooms offline, got %d", len(rooms))
		}
	})

	t.Run("warm cache still serves", func(t *testing.T) {
		rooms, err := c.Rooms().ListForUser(ctx, sender.UID, 0)
		if err != nil {
			t.Fatalf("ListForUser failed: %v", err)
		}
		if len(rooms) != 1 || rooms[0].ID != room.ID {
			t.Fatalf("unexpected list: %+v", rooms)
		}

		c.Gate().SetOnline(false)
		defer c.Gate().SetOnline(true)

		cached, err := c.Rooms().ListForUser(ctx, sender.UID, 0)
		if err != nil {
			t.Fatalf("ListForUser failed: %v", err)
		}
		if len(cached) != 1 || cached[0].ID != room.ID {
			t.Fatalf("expected the cached room, got %+v", cached)
		}
	})
}
