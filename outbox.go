// Offline support: an outbox queue for message writes issued while the
// backend is unreachable, flushed in order once connectivity returns.
//
// Usage:
//
//	outbox := talkbase.NewOutbox(client, nil)
//	outbox.Init()
//	defer outbox.Destroy()
//
//	msg, _ := outbox.Append(ctx, roomID, &talkbase.MessageInput{Text: "hello"})
package talkbase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Outbox types
// ============================================================================

// OutboxKind identifies what a queued operation does when flushed.
type OutboxKind string

const (
	OutboxAppend   OutboxKind = "message.append"
	OutboxEdit     OutboxKind = "message.edit"
	OutboxDelete   OutboxKind = "message.delete"
	OutboxReact    OutboxKind = "message.react"
	OutboxMarkRead OutboxKind = "notification.markallread"
)

// OutboxOp is one queued offline write.
type OutboxOp struct {
	ID        string        `json:"id"`
	Kind      OutboxKind    `json:"kind"`
	RoomID    string        `json:"roomId,omitempty"`
	MessageID string        `json:"messageId,omitempty"`
	Text      string        `json:"text,omitempty"`
	Emoji     string        `json:"emoji,omitempty"`
	UID       string        `json:"uid,omitempty"`
	Input     *MessageInput `json:"-"`
	Status    string        `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	Retries   int           `json:"retries"`
	Error     string        `json:"error,omitempty"`
}

// OutboxOptions configures the outbox.
type OutboxOptions struct {
	RetryLimit    int
	FlushInterval time.Duration
}

// OutboxEventHandler handles outbox events: "op.queued", "op.sent",
// "op.failed", "flush.complete".
type OutboxEventHandler func(event string, op *OutboxOp)

// ============================================================================
// Outbox
// ============================================================================

// Outbox queues message writes while the connection gate reports the backend
// unreachable and replays them in FIFO order when it comes back. A replayed
// delete or edit that finds its target gone is acked, not retried; the
// desired end state already holds.
type Outbox struct {
	client        *Client
	retryLimit    int
	flushInterval time.Duration

	mu        sync.Mutex
	queue     map[string]*OutboxOp
	listeners map[string][]OutboxEventHandler
	flushing  bool
	stopCh    chan struct{}
	stopped   bool
	ungate    func()
}

// NewOutbox creates an outbox on top of client.
func NewOutbox(client *Client, opts *OutboxOptions) *Outbox {
	o := &Outbox{
		client:    client,
		queue:     make(map[string]*OutboxOp),
		listeners: make(map[string][]OutboxEventHandler),
		stopCh:    make(chan struct{}),
	}
	if opts != nil {
		o.retryLimit = opts.RetryLimit
		o.flushInterval = opts.FlushInterval
	}
	if o.retryLimit == 0 {
		o.retryLimit = 5
	}
	if o.flushInterval == 0 {
		o.flushInterval = time.Second
	}
	return o
}

// Init starts the background flush and hooks the connection gate so a
// reconnect triggers an immediate flush.
func (o *Outbox) Init() {
	o.ungate = o.client.Gate().Subscribe(func(state ConnectionState) {
		if state.CanPerformOperation() {
			go o.Flush(context.Background())
		}
	})
	go o.flushLoop()
}

// Destroy stops background tasks.
func (o *Outbox) Destroy() {
	o.mu.Lock()
	if !o.stopped {
		o.stopped = true
		close(o.stopCh)
	}
	ungate := o.ungate
	o.ungate = nil
	o.listeners = make(map[string][]OutboxEventHandler)
	o.mu.Unlock()
	if ungate != nil {
		ungate()
	}
}

// On registers an event handler.
func (o *Outbox) On(event string, h OutboxEventHandler) {
	o.mu.Lock()
	o.listeners[event] = append(o.listeners[event], h)
	o.mu.Unlock()
}

func (o *Outbox) emit(event string, op *OutboxOp) {
	o.mu.Lock()
	handlers := append([]OutboxEventHandler{}, o.listeners[event]...)
	o.mu.Unlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }() // swallow panics in user callbacks
			h(event, op)
		}()
	}
}

// Size returns the number of pending operations.
func (o *Outbox) Size() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	count := 0
	for _, op := range o.queue {
		if op.Status == "pending" {
			count++
		}
	}
	return count
}

// ----------------------------------------------------------------------------
// Dispatch
// ----------------------------------------------------------------------------

// Append sends a message, queueing it when offline. A queued append returns
// a placeholder message whose ID carries the "local-" prefix until the flush
// assigns the real one.
func (o *Outbox) Append(ctx context.Context, roomID string, in *MessageInput) (*Message, error) {
	msg, err := o.client.Messages().Append(ctx, roomID, in)
	if !errors.Is(err, ErrOffline) {
		return msg, err
	}

	op := o.enqueue(&OutboxOp{Kind: OutboxAppend, RoomID: roomID, Input: in})
	sess := o.client.CurrentSession()
	local := &Message{
		ID:     "local-" + op.ID,
		RoomID: roomID,
		Kind:   in.Kind,
		Text:   in.Text,
		SentAt: NowTimestamp(),
	}
	if sess != nil {
		local.SenderID = sess.UID
		local.SenderName = sess.DisplayName
	}
	return local, nil
}

// Edit edits a message, queueing the edit when offline.
func (o *Outbox) Edit(ctx context.Context, roomID, messageID, text string) error {
	err := o.client.Messages().Edit(ctx, roomID, messageID, text)
	if !errors.Is(err, ErrOffline) {
		return err
	}
	o.enqueue(&OutboxOp{Kind: OutboxEdit, RoomID: roomID, MessageID: messageID, Text: text})
	return nil
}

// Delete deletes a message, queueing the delete when offline.
func (o *Outbox) Delete(ctx context.Context, roomID, messageID string) error {
	err := o.client.Messages().Delete(ctx, roomID, messageID)
	if !errors.Is(err, ErrOffline) {
		return err
	}
	o.enqueue(&OutboxOp{Kind: OutboxDelete, RoomID: roomID, MessageID: messageID})
	return nil
}

// React toggles a reaction, queueing the toggle when offline.
func (o *Outbox) React(ctx context.Context, roomID, messageID, emoji string) error {
	err := o.client.Messages().React(ctx, roomID, messageID, emoji)
	if !errors.Is(err, ErrOffline) {
		return err
	}
	o.enqueue(&OutboxOp{Kind: OutboxReact, RoomID: roomID, MessageID: messageID, Emoji: emoji})
	return nil
}

// MarkAllRead marks notifications read, queueing when offline.
func (o *Outbox) MarkAllRead(ctx context.Context, uid string) error {
	if o.client.Gate().CanPerformOperation() {
		return o.client.Notifications().MarkAllRead(ctx, uid)
	}
	o.enqueue(&OutboxOp{Kind: OutboxMarkRead, UID: uid})
	return nil
}

func (o *Outbox) enqueue(op *OutboxOp) *OutboxOp {
	op.ID = uuid.NewString()
	op.Status = "pending"
	op.CreatedAt = time.Now()
	o.mu.Lock()
	o.queue[op.ID] = op
	o.mu.Unlock()
	o.emit("op.queued", op)
	return op
}

// ----------------------------------------------------------------------------
// Flush
// ----------------------------------------------------------------------------

// Flush replays pending operations in creation order. It stops early when
// the backend goes away again mid-flush.
func (o *Outbox) Flush(ctx context.Context) {
	o.mu.Lock()
	if o.flushing {
		o.mu.Unlock()
		return
	}
	o.flushing = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.flushing = false
		o.mu.Unlock()
	}()

	for _, op := range o.ready() {
		if !o.client.Gate().CanPerformOperation() {
			return
		}
		err := o.replay(ctx, op)
		switch {
		case err == nil, errors.Is(err, ErrNotFound):
			o.ack(op.ID)
			o.emit("op.sent", op)
		case errors.Is(err, ErrOffline):
			return
		default:
			o.nack(op.ID, err.Error())
			o.emit("op.failed", op)
		}
	}
	o.emit("flush.complete", nil)
}

func (o *Outbox) replay(ctx context.Context, op *OutboxOp) error {
	switch op.Kind {
	case OutboxAppend:
		_, err := o.client.Messages().Append(ctx, op.RoomID, op.Input)
		return err
	case OutboxEdit:
		return o.client.Messages().Edit(ctx, op.RoomID, op.MessageID, op.Text)
	case OutboxDelete:
		return o.client.Messages().Delete(ctx, op.RoomID, op.MessageID)
	case OutboxReact:
		return o.client.Messages().React(ctx, op.RoomID, op.MessageID, op.Emoji)
	case OutboxMarkRead:
		return o.client.Notifications().MarkAllRead(ctx, op.UID)
	default:
		return nil
	}
}

func (o *Outbox) ready() []*OutboxOp {
	o.mu.Lock()
	defer o.mu.Unlock()
	var ops []*OutboxOp
	for _, op := range o.queue {
		if op.Status == "pending" && op.Retries < o.retryLimit {
			ops = append(ops, op)
		}
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].CreatedAt.Before(ops[j].CreatedAt) })
	return ops
}

func (o *Outbox) ack(id string) {
	o.mu.Lock()
	delete(o.queue, id)
	o.mu.Unlock()
}

func (o *Outbox) nack(id, errMsg string) {
	o.mu.Lock()
	if op := o.queue[id]; op != nil {
		op.Retries++
		op.Error = errMsg
		if op.Retries >= o.retryLimit {
			op.Status = "failed"
		}
	}
	o.mu.Unlock()
}

func (o *Outbox) flushLoop() {
	ticker := time.NewTicker(o.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			if o.Size() > 0 && o.client.Gate().CanPerformOperation() {
				o.Flush(context.Background())
			}
		}
	}
}
