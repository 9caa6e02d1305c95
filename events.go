package talkbase

import "sync"

// ============================================================================
// Event Bus
// ============================================================================

// EventBus fans out client-wide events to registered handlers. Handlers run
// on their own goroutines so a slow consumer cannot stall the SDK.
type EventBus struct {
	mu             sync.RWMutex
	onSession      []func(*Session)
	onMessages     []func(roomID string, messages []Message)
	onRooms        []func(rooms []Room)
	onNotification []func(Notification)
	onIncomingCall []func(Call)
	onAlert        []func(Notification)
	onNavigate     []func(roomID string)
}

func newEventBus() *EventBus {
	return &EventBus{}
}

// OnSessionChange registers a handler for sign-in and sign-out.
// The session is nil after sign-out.
func (b *EventBus) OnSessionChange(h func(*Session)) {
	b.mu.Lock()
	b.onSession = append(b.onSession, h)
	b.mu.Unlock()
}

// OnMessages registers a handler for message snapshots.
func (b *EventBus) OnMessages(h func(roomID string, messages []Message)) {
	b.mu.Lock()
	b.onMessages = append(b.onMessages, h)
	b.mu.Unlock()
}

// OnRooms registers a handler for room list snapshots.
func (b *EventBus) OnRooms(h func(rooms []Room)) {
	b.mu.Lock()
	b.onRooms = append(b.onRooms, h)
	b.mu.Unlock()
}

// OnNotification registers a handler for every stored notification,
// suppressed or not.
func (b *EventBus) OnNotification(h func(Notification)) {
	b.mu.Lock()
	b.onNotification = append(b.onNotification, h)
	b.mu.Unlock()
}

// OnIncomingCall registers a handler for incoming calls.
func (b *EventBus) OnIncomingCall(h func(Call)) {
	b.mu.Lock()
	b.onIncomingCall = append(b.onIncomingCall, h)
	b.mu.Unlock()
}

// OnAlert registers a handler for notifications that passed suppression.
func (b *EventBus) OnAlert(h func(Notification)) {
	b.mu.Lock()
	b.onAlert = append(b.onAlert, h)
	b.mu.Unlock()
}

// OnNavigate registers a handler for navigation requests, raised when the
// user opens a room-scoped notification.
func (b *EventBus) OnNavigate(h func(roomID string)) {
	b.mu.Lock()
	b.onNavigate = append(b.onNavigate, h)
	b.mu.Unlock()
}

func (b *EventBus) dispatchSession(sess *Session) {
	b.mu.RLock()
	handlers := append([]func(*Session){}, b.onSession...)
	b.mu.RUnlock()
	for _, h := range handlers {
		go h(sess)
	}
}

func (b *EventBus) dispatchMessages(roomID string, messages []Message) {
	b.mu.RLock()
	handlers := append([]func(string, []Message){}, b.onMessages...)
	b.mu.RUnlock()
	for _, h := range handlers {
		go h(roomID, messages)
	}
}

func (b *EventBus) dispatchRooms(rooms []Room) {
	b.mu.RLock()
	handlers := append([]func([]Room){}, b.onRooms...)
	b.mu.RUnlock()
	for _, h := range handlers {
		go h(rooms)
	}
}

func (b *EventBus) dispatchNotification(n Notification) {
	b.mu.RLock()
	handlers := append([]func(Notification){}, b.onNotification...)
	b.mu.RUnlock()
	for _, h := range handlers {
		go h(n)
	}
}

func (b *EventBus) dispatchIncomingCall(call Call) {
	b.mu.RLock()
	handlers := append([]func(Call){}, b.onIncomingCall...)
	b.mu.RUnlock()
	for _, h := range handlers {
		go h(call)
	}
}

func (b *EventBus) dispatchAlert(n Notification) {
	b.mu.RLock()
	handlers := append([]func(Notification){}, b.onAlert...)
	b.mu.RUnlock()
	for _, h := range handlers {
		go h(n)
	}
}

func (b *EventBus) dispatchNavigate(roomID string) {
	b.mu.RLock()
	handlers := append([]func(string){}, b.onNavigate...)
	b.mu.RUnlock()
	for _, h := range handlers {
		go h(roomID)
	}
}
