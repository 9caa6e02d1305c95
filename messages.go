package talkbase

import (
	"context"
	"strings"
)

// ============================================================================
// MessagesClient
// ============================================================================

// MessagesClient handles the per-room message log: append, edit, delete,
// reactions, live subscriptions, and search.
type MessagesClient struct{ c *Client }

// MessageInput describes a message to append. Text or Attachment must be set.
type MessageInput struct {
	Text       string
	Kind       MessageKind
	Attachment *Attachment
}

// Append writes a message to roomID as the signed-in user, bumps the room's
// activity summary, and routes a notification to the other participant.
func (m *MessagesClient) Append(ctx context.Context, roomID string, in *MessageInput) (*Message, error) {
	if err := m.c.ready(); err != nil {
		return nil, err
	}
	sess := m.c.CurrentSession()
	if sess == nil {
		return nil, ErrForbidden
	}
	if in == nil || (in.Text == "" && in.Attachment == nil) {
		return nil, ErrEmptyMessage
	}

	kind := in.Kind
	if kind == "" {
		kind = KindText
		if in.Attachment != nil {
			kind = kindForMime(in.Attachment.MimeType)
		}
	}

	msg := Message{
		RoomID:      roomID,
		SenderID:    sess.UID,
		SenderName:  sess.DisplayName,
		SenderEmail: sess.Email,
		Kind:        kind,
		Text:        in.Text,
		Attachment:  in.Attachment,
		SentAt:      m.c.docs().Now(),
	}

	id, err := m.c.docs().Add(ctx, messagesCollection(roomID), msg)
	if err != nil {
		return nil, transportErr("messages.append", err)
	}
	msg.ID = id

	// The activity touch and notification delivery are best-effort; the
	// message is already stored.
	if err := m.c.rooms.touchActivity(ctx, roomID, &msg); err != nil {
		m.c.logger.Warn().Err(err).
			Str("room", roomID).Str("message", id).
			Msg("room activity not updated")
	}

	if err := m.c.notifications.notifyMessage(ctx, roomID, &msg); err != nil {
		m.c.logger.Warn().Err(err).
			Str("room", roomID).Str("message", id).
			Msg("message notification not delivered")
	}

	return &msg, nil
}

// Edit replaces the text of an existing message and marks it edited.
// The message id and original send time are preserved.
func (m *MessagesClient) Edit(ctx context.Context, roomID, messageID, text string) error {
	if err := m.c.ready(); err != nil {
		return err
	}
	col := messagesCollection(roomID)
	if err := m.c.docs().Get(ctx, col, messageID, nil); err != nil {
		return transportErr("messages.edit", err)
	}
	err := m.c.docs().Update(ctx, col, messageID, map[string]any{
		"text":     text,
		"edited":   true,
		"editedAt": m.c.docs().Now(),
	})
	return transportErr("messages.edit", err)
}

// Delete removes a message from the room log. Deleting twice returns
// ErrNotFound on the second call.
func (m *MessagesClient) Delete(ctx context.Context, roomID, messageID string) error {
	if err := m.c.ready(); err != nil {
		return err
	}
	col := messagesCollection(roomID)
	if err := m.c.docs().Get(ctx, col, messageID, nil); err != nil {
		return transportErr("messages.delete", err)
	}
	return transportErr("messages.delete", m.c.docs().Delete(ctx, col, messageID))
}

// React toggles the signed-in user's reaction with emoji on a message.
// A second identical call removes the reaction; an emoji with no remaining
// reactors disappears from the message.
func (m *MessagesClient) React(ctx context.Context, roomID, messageID, emoji string) error {
	if err := m.c.ready(); err != nil {
		return err
	}
	sess := m.c.CurrentSession()
	if sess == nil {
		return ErrForbidden
	}

	col := messagesCollection(roomID)
	var msg Message
	if err := m.c.docs().Get(ctx, col, messageID, &msg); err != nil {
		return transportErr("messages.react", err)
	}

	reactions := msg.Reactions
	if reactions == nil {
		reactions = make(map[string][]string)
	}
	uids := reactions[emoji]
	idx := -1
	for i, uid := range uids {
		if uid == sess.UID {
			idx = i
			break
		}
	}
	if idx >= 0 {
		uids = append(uids[:idx], uids[idx+1:]...)
	} else {
		uids = append(uids, sess.UID)
	}
	if len(uids) == 0 {
		delete(reactions, emoji)
	} else {
		reactions[emoji] = uids
	}

	err := m.c.docs().Update(ctx, col, messageID, map[string]any{
		"reactions": reactions,
	})
	return transportErr("messages.react", err)
}

// Get fetches a single message.
func (m *MessagesClient) Get(ctx context.Context, roomID, messageID string) (*Message, error) {
	var msg Message
	if err := m.c.docs().Get(ctx, messagesCollection(roomID), messageID, &msg); err != nil {
		return nil, transportErr("messages.get", err)
	}
	msg.ID = messageID
	return &msg, nil
}

// Subscribe streams message snapshots for a room. Each snapshot holds the
// most recent messages, oldest first, bounded by the client snapshot limit.
// The returned function cancels the subscription.
func (m *MessagesClient) Subscribe(roomID string, fn func([]Message)) (func(), error) {
	q := Query{
		Collection: messagesCollection(roomID),
		OrderBy:    "sentAt",
		Desc:       true,
		Limit:      m.c.snapshotLimit,
	}
	return m.c.docs().Watch(q, func(docs []Document) {
		messages, err := decodeMessages(docs)
		if err != nil {
			m.c.logger.Error().Err(err).Str("room", roomID).Msg("bad message snapshot")
			return
		}
		reverseMessages(messages)
		m.c.events.dispatchMessages(roomID, messages)
		fn(messages)
	})
}

// History returns a page of messages ending at the page cursor, newest page
// first. Messages within a page are oldest first.
func (m *MessagesClient) History(ctx context.Context, roomID string, opts *PageOptions) (*MessagePage, error) {
	limit := m.c.snapshotLimit
	q := Query{
		Collection: messagesCollection(roomID),
		OrderBy:    "sentAt",
		Desc:       true,
	}
	if opts != nil {
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		if opts.Cursor != nil {
			q.StartAfter = opts.Cursor.After
			q.StartAfterID = opts.Cursor.AfterID
		}
	}
	q.Limit = limit

	docs, err := m.c.docs().Query(ctx, q)
	if err != nil {
		return nil, transportErr("messages.history", err)
	}
	messages, err := decodeMessages(docs)
	if err != nil {
		return nil, transportErr("messages.history", err)
	}

	page := &MessagePage{Messages: messages}
	if len(messages) == limit {
		last := messages[len(messages)-1]
		page.Next = &PageCursor{After: last.SentAt, AfterID: last.ID}
	}
	reverseMessages(page.Messages)
	return page, nil
}

// Search scans the most recent messages of a room for a case-insensitive
// substring match. The scan window is bounded; older matches are not found.
func (m *MessagesClient) Search(ctx context.Context, roomID, term string) ([]Message, error) {
	if term == "" {
		return nil, nil
	}
	if !m.c.gate.CanPerformOperation() {
		return nil, nil
	}
	docs, err := m.c.docs().Query(ctx, Query{
		Collection: messagesCollection(roomID),
		OrderBy:    "sentAt",
		Desc:       true,
		Limit:      m.c.searchWindow,
	})
	if err != nil {
		return nil, transportErr("messages.search", err)
	}
	recent, err := decodeMessages(docs)
	if err != nil {
		return nil, transportErr("messages.search", err)
	}

	needle := strings.ToLower(term)
	var matches []Message
	for _, msg := range recent {
		if strings.Contains(strings.ToLower(msg.Text), needle) {
			matches = append(matches, msg)
		}
	}
	reverseMessages(matches)
	return matches, nil
}

func decodeMessages(docs []Document) ([]Message, error) {
	messages := make([]Message, 0, len(docs))
	for _, doc := range docs {
		var msg Message
		if err := doc.Decode(&msg); err != nil {
			return nil, err
		}
		msg.ID = doc.ID
		messages = append(messages, msg)
	}
	return messages, nil
}

func reverseMessages(messages []Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
