package talkbase

import (
	"context"
	"sync"
)

// ============================================================================
// Alerter
// ============================================================================

// Alerter receives notifications that passed suppression and should be shown
// to the user. Implementations render toasts, badges, or system notifications.
type Alerter interface {
	Alert(n Notification)
}

// AlerterFunc adapts a function to the Alerter interface.
type AlerterFunc func(n Notification)

func (f AlerterFunc) Alert(n Notification) { f(n) }

// ============================================================================
// NotificationsClient
// ============================================================================

// NotificationsClient routes notifications: every event is stored for the
// recipient, but display is suppressed for rooms the user is actively
// viewing. Suppressed message notifications are auto-marked read so the
// unread count stays truthful.
type NotificationsClient struct {
	c *Client

	mu          sync.Mutex
	activeRooms map[string]bool
	unwatch     []func()
}

func newNotificationsClient(c *Client) *NotificationsClient {
	return &NotificationsClient{
		c:           c,
		activeRooms: make(map[string]bool),
	}
}

// ----------------------------------------------------------------------------
// Active room set
// ----------------------------------------------------------------------------

// SetActiveRoom marks a room as currently viewed. Message notifications for
// active rooms are stored but not alerted.
func (n *NotificationsClient) SetActiveRoom(roomID string) {
	n.mu.Lock()
	n.activeRooms[roomID] = true
	n.mu.Unlock()
}

// ClearActiveRoom unmarks a room. Notifications for it alert again.
func (n *NotificationsClient) ClearActiveRoom(roomID string) {
	n.mu.Lock()
	delete(n.activeRooms, roomID)
	n.mu.Unlock()
}

// ActiveRooms returns the rooms currently marked active.
func (n *NotificationsClient) ActiveRooms() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	rooms := make([]string, 0, len(n.activeRooms))
	for id := range n.activeRooms {
		rooms = append(rooms, id)
	}
	return rooms
}

func (n *NotificationsClient) isActive(roomID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.activeRooms[roomID]
}

// ----------------------------------------------------------------------------
// Delivery
// ----------------------------------------------------------------------------

// notifyMessage stores a message notification for the other room participant.
func (n *NotificationsClient) notifyMessage(ctx context.Context, roomID string, msg *Message) error {
	room, err := n.c.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	recipient := room.Other(msg.SenderID)
	if recipient == "" {
		return nil
	}
	return n.deliver(ctx, Notification{
		RecipientID: recipient,
		SenderID:    msg.SenderID,
		Kind:        NotifyMessage,
		Payload: MessagePayload{
			RoomID:     roomID,
			SenderName: msg.SenderName,
			Preview:    msg.Preview(),
		},
	})
}

// notifyCall stores a call notification for the callee.
func (n *NotificationsClient) notifyCall(ctx context.Context, call *Call) error {
	return n.deliver(ctx, Notification{
		RecipientID: call.ReceiverID,
		SenderID:    call.CallerID,
		Kind:        NotifyCall,
		Payload: CallPayload{
			CallID:     call.ID,
			RoomID:     call.RoomID,
			CallerName: call.CallerName,
		},
	})
}

// notifyCommunity stores a community notification for one member.
func (n *NotificationsClient) notifyCommunity(ctx context.Context, recipient, sender string, p CommunityPayload) error {
	return n.deliver(ctx, Notification{
		RecipientID: recipient,
		SenderID:    sender,
		Kind:        NotifyCommunity,
		Payload:     p,
	})
}

// notifyStatus stores a status notification for a contact.
func (n *NotificationsClient) notifyStatus(ctx context.Context, recipient, sender string, p StatusPayload) error {
	return n.deliver(ctx, Notification{
		RecipientID: recipient,
		SenderID:    sender,
		Kind:        NotifyStatus,
		Payload:     p,
	})
}

func (n *NotificationsClient) deliver(ctx context.Context, note Notification) error {
	if note.RecipientID == note.SenderID {
		return nil
	}
	note.CreatedAt = n.c.docs().Now()
	id, err := n.c.docs().Add(ctx, colNotifications, note)
	if err != nil {
		return transportErr("notifications.deliver", err)
	}
	note.ID = id
	n.c.events.dispatchNotification(note)
	return nil
}

// ----------------------------------------------------------------------------
// Subscription and suppression
// ----------------------------------------------------------------------------

// Subscribe streams notification snapshots for uid, newest first. On top of
// delivering snapshots it routes each notification exactly once: when the
// notification's room is active it is auto-marked read without alerting,
// otherwise the client alerter fires.
func (n *NotificationsClient) Subscribe(uid string, fn func([]Notification)) (func(), error) {
	routed := make(map[string]bool)
	var routedMu sync.Mutex

	unwatch, err := n.c.docs().Watch(notificationsQuery(uid), func(docs []Document) {
		notes, err := decodeNotifications(docs)
		if err != nil {
			n.c.logger.Error().Err(err).Str("uid", uid).Msg("bad notification snapshot")
			return
		}
		for _, note := range notes {
			if note.Read {
				continue
			}
			routedMu.Lock()
			seen := routed[note.ID]
			routed[note.ID] = true
			routedMu.Unlock()
			if seen {
				continue
			}
			n.route(note)
		}
		fn(notes)
	})
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.unwatch = append(n.unwatch, unwatch)
	n.mu.Unlock()
	return unwatch, nil
}

// route applies the suppression rule to one unread notification.
func (n *NotificationsClient) route(note Notification) {
	if roomID := note.RoomID(); note.Kind == NotifyMessage && roomID != "" && n.isActive(roomID) {
		// The user is looking at this room; reading is implicit.
		if err := n.MarkRead(context.Background(), note.ID); err != nil {
			n.c.logger.Warn().Err(err).Str("notification", note.ID).
				Msg("auto mark-read failed")
		}
		return
	}
	if n.c.notificationAlerter != nil {
		n.c.notificationAlerter.Alert(note)
	}
	n.c.events.dispatchAlert(note)
}

// ----------------------------------------------------------------------------
// Reads
// ----------------------------------------------------------------------------

// List returns the most recent notifications for uid, newest first.
func (n *NotificationsClient) List(ctx context.Context, uid string, limit int) ([]Notification, error) {
	q := notificationsQuery(uid)
	q.Limit = limit
	docs, err := n.c.docs().Query(ctx, q)
	if err != nil {
		return nil, transportErr("notifications.list", err)
	}
	notes, err := decodeNotifications(docs)
	if err != nil {
		return nil, transportErr("notifications.list", err)
	}
	return notes, nil
}

// UnreadCount returns how many notifications for uid are unread.
func (n *NotificationsClient) UnreadCount(ctx context.Context, uid string) (int, error) {
	docs, err := n.c.docs().Query(ctx, Query{
		Collection: colNotifications,
		Filters: []Filter{
			{Field: "recipientId", Op: "==", Value: uid},
			{Field: "read", Op: "==", Value: false},
		},
	})
	if err != nil {
		return 0, transportErr("notifications.unread", err)
	}
	return len(docs), nil
}

// MarkRead marks a single notification read.
func (n *NotificationsClient) MarkRead(ctx context.Context, id string) error {
	err := n.c.docs().Update(ctx, colNotifications, id, map[string]any{
		"read":   true,
		"readAt": n.c.docs().Now(),
	})
	return transportErr("notifications.markread", err)
}

// MarkAllRead marks every unread notification for uid read in one atomic
// batch. With nothing unread it is a no-op.
func (n *NotificationsClient) MarkAllRead(ctx context.Context, uid string) error {
	docs, err := n.c.docs().Query(ctx, Query{
		Collection: colNotifications,
		Filters: []Filter{
			{Field: "recipientId", Op: "==", Value: uid},
			{Field: "read", Op: "==", Value: false},
		},
	})
	if err != nil {
		return transportErr("notifications.markall", err)
	}
	if len(docs) == 0 {
		return nil
	}

	readAt := n.c.docs().Now()
	ops := make([]BatchOp, 0, len(docs))
	for _, doc := range docs {
		ops = append(ops, BatchOp{
			Kind:       BatchUpdate,
			Collection: colNotifications,
			ID:         doc.ID,
			Fields:     map[string]any{"read": true, "readAt": readAt},
		})
	}
	return transportErr("notifications.markall", n.c.docs().Batch(ctx, ops))
}

// Open marks a notification read and, for room-scoped kinds, asks the UI to
// navigate to the room via the event bus.
func (n *NotificationsClient) Open(ctx context.Context, note Notification) error {
	if !note.Read {
		if err := n.MarkRead(ctx, note.ID); err != nil {
			return err
		}
	}
	if roomID := note.RoomID(); roomID != "" {
		n.c.events.dispatchNavigate(roomID)
	}
	return nil
}

// Delete removes a notification.
func (n *NotificationsClient) Delete(ctx context.Context, id string) error {
	return transportErr("notifications.delete", n.c.docs().Delete(ctx, colNotifications, id))
}

// ----------------------------------------------------------------------------
// Lifecycle
// ----------------------------------------------------------------------------

func (n *NotificationsClient) reset() {
	n.mu.Lock()
	n.activeRooms = make(map[string]bool)
	n.mu.Unlock()
}

func (n *NotificationsClient) close() {
	n.mu.Lock()
	unwatch := n.unwatch
	n.unwatch = nil
	n.mu.Unlock()
	for _, u := range unwatch {
		u()
	}
}

func notificationsQuery(uid string) Query {
	return Query{
		Collection: colNotifications,
		Filters:    []Filter{{Field: "recipientId", Op: "==", Value: uid}},
		OrderBy:    "createdAt",
		Desc:       true,
	}
}

func decodeNotifications(docs []Document) ([]Notification, error) {
	notes := make([]Notification, 0, len(docs))
	for _, doc := range docs {
		var note Notification
		if err := doc.Decode(&note); err != nil {
			return nil, err
		}
		note.ID = doc.ID
		notes = append(notes, note)
	}
	return notes, nil
}
