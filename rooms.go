package talkbase

import (
	"context"
	"errors"
	"strconv"
)

// ============================================================================
// RoomsClient
// ============================================================================

// RoomsClient handles the room directory: deterministic two-party rooms,
// activity summaries, and per-user room lists with short-lived caching.
type RoomsClient struct{ c *Client }

// DefaultRoomListLimit caps ListForUser when the caller passes no limit.
const DefaultRoomListLimit = 50

// Cache keys follow the entity_scope_params convention so one prefix sweep
// invalidates every cached page for a user.
func roomListCacheKey(uid string, limit int) string {
	return roomListCachePrefix(uid) + strconv.Itoa(limit)
}

func roomListCachePrefix(uid string) string { return "rooms_list_" + uid + "_" }

// GetOrCreate returns the room between uidA and uidB, creating it when it
// does not exist yet. Both orderings of the pair converge on the same room;
// concurrent callers converge on one record.
func (r *RoomsClient) GetOrCreate(ctx context.Context, uidA, uidB string) (*Room, error) {
	if err := r.c.ready(); err != nil {
		return nil, err
	}
	id, err := RoomID(uidA, uidB)
	if err != nil {
		return nil, err
	}

	var room Room
	err = r.c.docs().Get(ctx, colRooms, id, &room)
	if err == nil {
		room.ID = id
		return &room, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, transportErr("rooms.get", err)
	}

	pair, _ := SplitRoomID(id)
	room = Room{
		Participants:       pair[:],
		ParticipantDetails: make(map[string]Participant),
		CreatedAt:          r.c.docs().Now(),
	}
	for _, uid := range pair {
		var u User
		if err := r.c.docs().Get(ctx, colUsers, uid, &u); err == nil {
			room.ParticipantDetails[uid] = Participant{
				Email:       u.Email,
				DisplayName: u.DisplayName,
				PhotoURL:    u.PhotoURL,
			}
		}
	}

	err = r.c.docs().Create(ctx, colRooms, id, room)
	if errors.Is(err, ErrExists) {
		// Lost the race; the winner's record is the room.
		if err := r.c.docs().Get(ctx, colRooms, id, &room); err != nil {
			return nil, transportErr("rooms.get", err)
		}
	} else if err != nil {
		return nil, transportErr("rooms.create", err)
	}
	room.ID = id

	r.invalidateLists(pair[:])
	return &room, nil
}

// Get fetches a room by id.
func (r *RoomsClient) Get(ctx context.Context, roomID string) (*Room, error) {
	var room Room
	if err := r.c.docs().Get(ctx, colRooms, roomID, &room); err != nil {
		return nil, transportErr("rooms.get", err)
	}
	room.ID = roomID
	return &room, nil
}

// ListForUser returns the user's rooms, most recently active first, capped
// at limit (DefaultRoomListLimit when <= 0). Results are cached briefly;
// mutations through this client invalidate the cache. Offline with a cold
// cache the list is empty rather than an error.
func (r *RoomsClient) ListForUser(ctx context.Context, uid string, limit int) ([]Room, error) {
	if limit <= 0 {
		limit = DefaultRoomListLimit
	}
	key := roomListCacheKey(uid, limit)
	if cached, ok := r.c.cache.Get(key); ok {
		return cached.([]Room), nil
	}
	if !r.c.gate.CanPerformOperation() {
		return nil, nil
	}

	q := roomsQuery(uid)
	q.Limit = limit
	docs, err := r.c.docs().Query(ctx, q)
	if err != nil {
		return nil, transportErr("rooms.list", err)
	}
	rooms, err := decodeRooms(docs)
	if err != nil {
		return nil, transportErr("rooms.list", err)
	}

	r.c.cache.Set(key, rooms, r.c.roomCacheTTL)
	return rooms, nil
}

// Subscribe streams room list snapshots for a user, most recently active
// first. The returned function cancels the subscription.
func (r *RoomsClient) Subscribe(uid string, fn func([]Room)) (func(), error) {
	return r.c.docs().Watch(roomsQuery(uid), func(docs []Document) {
		rooms, err := decodeRooms(docs)
		if err != nil {
			r.c.logger.Error().Err(err).Str("uid", uid).Msg("bad room snapshot")
			return
		}
		// Cached pages are stale relative to what the watch delivered.
		r.c.cache.DeletePrefix(roomListCachePrefix(uid))
		r.c.events.dispatchRooms(rooms)
		fn(rooms)
	})
}

// touchActivity updates the room summary after a message append: preview,
// activity time, and message count.
func (r *RoomsClient) touchActivity(ctx context.Context, roomID string, msg *Message) error {
	err := r.c.docs().Update(ctx, colRooms, roomID, map[string]any{
		"lastMessage": LastMessage{
			Text:      msg.Preview(),
			Timestamp: msg.SentAt,
			SenderID:  msg.SenderID,
			Kind:      msg.Kind,
		},
		"lastActivityAt": msg.SentAt,
		"messageCount":   Increment(1),
	})
	if err != nil {
		return transportErr("rooms.touch", err)
	}
	if pair, ok := SplitRoomID(roomID); ok {
		r.invalidateLists(pair[:])
	}
	return nil
}

func (r *RoomsClient) invalidateLists(uids []string) {
	for _, uid := range uids {
		r.c.cache.DeletePrefix(roomListCachePrefix(uid))
	}
}

func roomsQuery(uid string) Query {
	return Query{
		Collection: colRooms,
		Filters:    []Filter{{Field: "participants", Op: "array-contains", Value: uid}},
		OrderBy:    "lastActivityAt",
		Desc:       true,
	}
}

func decodeRooms(docs []Document) ([]Room, error) {
	rooms := make([]Room, 0, len(docs))
	for _, doc := range docs {
		var room Room
		if err := doc.Decode(&room); err != nil {
			return nil, err
		}
		room.ID = doc.ID
		rooms = append(rooms, room)
	}
	return rooms, nil
}
