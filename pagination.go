package talkbase

import "context"

// ============================================================================
// Pagination
// ============================================================================

// PageCursor marks where the previous page ended. Cursors are opaque to
// callers; pass them back unchanged.
type PageCursor struct {
	After   Timestamp `json:"after"`
	AfterID string    `json:"afterId"`
}

// PageOptions controls a paged read.
type PageOptions struct {
	Limit  int
	Cursor *PageCursor
}

// MessagePage is one page of room history, oldest message first. Next is nil
// on the last page.
type MessagePage struct {
	Messages []Message
	Next     *PageCursor
}

// ============================================================================
// Pagers
// ============================================================================

// RoomPager walks a user's room list page by page, most recently active
// first. Next returns successive pages, HasMore reports whether another call
// can still return results, and Reset rewinds to the first page.
type RoomPager struct {
	r        *RoomsClient
	uid      string
	pageSize int
	cursor   *PageCursor
	done     bool
}

// Pager returns a pager over uid's rooms. pageSize <= 0 uses
// DefaultRoomListLimit.
func (r *RoomsClient) Pager(uid string, pageSize int) *RoomPager {
	if pageSize <= 0 {
		pageSize = DefaultRoomListLimit
	}
	return &RoomPager{r: r, uid: uid, pageSize: pageSize}
}

// HasMore reports whether Next can still return results.
func (p *RoomPager) HasMore() bool { return !p.done }

// Reset rewinds the pager to the first page.
func (p *RoomPager) Reset() { p.cursor, p.done = nil, false }

// Next returns the next page. After the last page it returns an empty page.
func (p *RoomPager) Next(ctx context.Context) ([]Room, error) {
	if p.done {
		return nil, nil
	}
	q := roomsQuery(p.uid)
	q.Limit = p.pageSize
	if p.cursor != nil {
		q.StartAfter = p.cursor.After
		q.StartAfterID = p.cursor.AfterID
	}
	docs, err := p.r.c.docs().Query(ctx, q)
	if err != nil {
		return nil, transportErr("rooms.page", err)
	}
	rooms, err := decodeRooms(docs)
	if err != nil {
		return nil, transportErr("rooms.page", err)
	}
	if len(rooms) < p.pageSize {
		p.done = true
	} else {
		last := rooms[len(rooms)-1]
		p.cursor = &PageCursor{After: last.LastActivityAt, AfterID: last.ID}
	}
	return rooms, nil
}

// NotificationPager walks a user's notification history page by page, newest
// first. Same contract as RoomPager.
type NotificationPager struct {
	n        *NotificationsClient
	uid      string
	pageSize int
	cursor   *PageCursor
	done     bool
}

// Pager returns a pager over uid's notification history. pageSize <= 0 uses
// DefaultRoomListLimit.
func (n *NotificationsClient) Pager(uid string, pageSize int) *NotificationPager {
	if pageSize <= 0 {
		pageSize = DefaultRoomListLimit
	}
	return &NotificationPager{n: n, uid: uid, pageSize: pageSize}
}

// HasMore reports whether Next can still return results.
func (p *NotificationPager) HasMore() bool { return !p.done }

// Reset rewinds the pager to the first page.
func (p *NotificationPager) Reset() { p.cursor, p.done = nil, false }

// Next returns the next page. After the last page it returns an empty page.
func (p *NotificationPager) Next(ctx context.Context) ([]Notification, error) {
	if p.done {
		return nil, nil
	}
	q := notificationsQuery(p.uid)
	q.Limit = p.pageSize
	if p.cursor != nil {
		q.StartAfter = p.cursor.After
		q.StartAfterID = p.cursor.AfterID
	}
	docs, err := p.n.c.docs().Query(ctx, q)
	if err != nil {
		return nil, transportErr("notifications.page", err)
	}
	notes, err := decodeNotifications(docs)
	if err != nil {
		return nil, transportErr("notifications.page", err)
	}
	if len(notes) < p.pageSize {
		p.done = true
	} else {
		last := notes[len(notes)-1]
		p.cursor = &PageCursor{After: last.CreatedAt, AfterID: last.ID}
	}
	return notes, nil
}
