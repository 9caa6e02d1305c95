package talkbase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ============================================================================
// Feed wire format
// ============================================================================

// FeedEnvelope is the wire format for every feed event.
type FeedEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ChangePayload announces that documents in a collection changed. The feed
// carries no document bodies; subscribers re-query over HTTP.
type ChangePayload struct {
	Collection string `json:"collection"`
}

// FeedPushPayload carries a foreground push delivered over the feed.
type FeedPushPayload struct {
	Title  string           `json:"title"`
	Body   string           `json:"body"`
	Kind   NotificationKind `json:"kind"`
	RoomID string           `json:"roomId,omitempty"`
	Sender string           `json:"sender,omitempty"`
}

// feedCommand is a client-to-server command.
type feedCommand struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type pongPayload struct {
	RequestID string `json:"requestId"`
}

// ============================================================================
// Configuration
// ============================================================================

// FeedConfig configures the realtime feed client.
type FeedConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	Logger               zerolog.Logger
}

func (c *FeedConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// FeedState represents the feed connection state.
type FeedState string

const (
	StateDisconnected FeedState = "disconnected"
	StateConnecting   FeedState = "connecting"
	StateConnected    FeedState = "connected"
	StateReconnecting FeedState = "reconnecting"
)

// ============================================================================
// Feed dispatcher
// ============================================================================

type feedDispatcher struct {
	mu             sync.RWMutex
	onChange       map[string][]func(ChangePayload)
	onPush         []func(FeedPushPayload)
	onConnected    []func()
	onDisconnected []func(reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

func newFeedDispatcher() *feedDispatcher {
	return &feedDispatcher{
		onChange: make(map[string][]func(ChangePayload)),
	}
}

func (d *feedDispatcher) dispatch(env FeedEnvelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch env.Type {
	case "change":
		var p ChangePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onChange[p.Collection] {
				go h(p)
			}
			for _, h := range d.onChange[""] {
				go h(p)
			}
		}
	case "push":
		var p FeedPushPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onPush {
				go h(p)
			}
		}
	}
}

func (d *feedDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h()
	}
}

func (d *feedDispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(reason)
	}
}

func (d *feedDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *FeedConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// FeedClient
// ============================================================================

// FeedClient is the WebSocket change feed with auto-reconnect and heartbeat.
// It announces which collections changed; the remote backend re-queries over
// HTTP and re-delivers full result sets to watchers.
type FeedClient struct {
	baseURL          string
	config           *FeedConfig
	conn             *websocket.Conn
	mu               sync.Mutex
	state            FeedState
	intentionalClose bool
	dispatcher       *feedDispatcher
	recon            *reconnector
	cancelFn         context.CancelFunc
	pingCounter      int
	pendingPings     map[string]chan pongPayload
	pendingMu        sync.Mutex
}

// NewFeedClient creates a feed client for baseURL. Call Connect to establish
// the connection.
func NewFeedClient(baseURL string, config *FeedConfig) *FeedClient {
	cfg := *config
	cfg.defaults()
	return &FeedClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		config:       &cfg,
		state:        StateDisconnected,
		dispatcher:   newFeedDispatcher(),
		recon:        newReconnector(&cfg),
		pendingPings: make(map[string]chan pongPayload),
	}
}

// OnChange registers a handler for change events on collection. An empty
// collection matches every change.
func (f *FeedClient) OnChange(collection string, h func(ChangePayload)) {
	f.dispatcher.mu.Lock()
	f.dispatcher.onChange[collection] = append(f.dispatcher.onChange[collection], h)
	f.dispatcher.mu.Unlock()
}

// OnPush registers a handler for foreground push payloads.
func (f *FeedClient) OnPush(h func(FeedPushPayload)) {
	f.dispatcher.mu.Lock()
	f.dispatcher.onPush = append(f.dispatcher.onPush, h)
	f.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (f *FeedClient) OnConnected(h func()) {
	f.dispatcher.mu.Lock()
	f.dispatcher.onConnected = append(f.dispatcher.onConnected, h)
	f.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (f *FeedClient) OnDisconnected(h func(reason string)) {
	f.dispatcher.mu.Lock()
	f.dispatcher.onDisconnected = append(f.dispatcher.onDisconnected, h)
	f.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (f *FeedClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	f.dispatcher.mu.Lock()
	f.dispatcher.onReconnecting = append(f.dispatcher.onReconnecting, h)
	f.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (f *FeedClient) State() FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Connect establishes the feed connection.
func (f *FeedClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.state == StateConnected || f.state == StateConnecting {
		f.mu.Unlock()
		return nil
	}
	f.state = StateConnecting
	f.intentionalClose = false
	f.mu.Unlock()

	wsURL := strings.Replace(f.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/feed?token=" + f.config.Token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		f.mu.Lock()
		f.state = StateDisconnected
		f.mu.Unlock()
		return fmt.Errorf("feed dial: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.state = StateConnected
	f.mu.Unlock()
	f.recon.markConnected()
	f.dispatcher.emitConnected()

	connCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancelFn = cancel
	f.mu.Unlock()

	go f.readLoop(connCtx)
	go f.heartbeatLoop(connCtx)

	return nil
}

// Disconnect gracefully closes the feed.
func (f *FeedClient) Disconnect() error {
	f.mu.Lock()
	f.intentionalClose = true
	if f.cancelFn != nil {
		f.cancelFn()
		f.cancelFn = nil
	}
	conn := f.conn
	f.conn = nil
	f.state = StateDisconnected
	f.mu.Unlock()

	f.clearPendingPings()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	f.dispatcher.emitDisconnected("client disconnect")
	return nil
}

// SubscribeCollection asks the server to include collection in this feed.
func (f *FeedClient) SubscribeCollection(ctx context.Context, collection string) error {
	return f.send(ctx, &feedCommand{
		Type:    "subscribe",
		Payload: map[string]string{"collection": collection},
	})
}

// UnsubscribeCollection removes collection from this feed.
func (f *FeedClient) UnsubscribeCollection(ctx context.Context, collection string) error {
	return f.send(ctx, &feedCommand{
		Type:    "unsubscribe",
		Payload: map[string]string{"collection": collection},
	})
}

// Ping sends a ping and waits for the pong.
func (f *FeedClient) Ping(ctx context.Context) error {
	f.pingCounter++
	requestID := fmt.Sprintf("ping-%d", f.pingCounter)

	ch := make(chan pongPayload, 1)
	f.pendingMu.Lock()
	f.pendingPings[requestID] = ch
	f.pendingMu.Unlock()

	err := f.send(ctx, &feedCommand{
		Type:    "ping",
		Payload: map[string]string{"requestId": requestID},
	})
	if err != nil {
		f.dropPending(requestID)
		return err
	}

	select {
	case <-ch:
		return nil
	case <-time.After(10 * time.Second):
		f.dropPending(requestID)
		return fmt.Errorf("ping timeout")
	case <-ctx.Done():
		f.dropPending(requestID)
		return ctx.Err()
	}
}

func (f *FeedClient) send(ctx context.Context, cmd *feedCommand) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()

	if conn == nil {
		return ErrOffline
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (f *FeedClient) readLoop(ctx context.Context) {
	for {
		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			f.mu.Lock()
			intentional := f.intentionalClose
			f.mu.Unlock()
			if intentional {
				return
			}

			f.mu.Lock()
			f.state = StateDisconnected
			f.conn = nil
			f.mu.Unlock()

			f.dispatcher.emitDisconnected(err.Error())

			if f.config.AutoReconnect && f.recon.shouldReconnect() {
				f.scheduleReconnect(context.Background())
			}
			return
		}

		var env FeedEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}

		if env.Type == "pong" {
			var p pongPayload
			if json.Unmarshal(env.Payload, &p) == nil && p.RequestID != "" {
				f.pendingMu.Lock()
				ch, ok := f.pendingPings[p.RequestID]
				if ok {
					delete(f.pendingPings, p.RequestID)
				}
				f.pendingMu.Unlock()
				if ok {
					ch <- p
				}
			}
			continue
		}

		f.dispatcher.dispatch(env)
	}
}

func (f *FeedClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(f.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			s := f.state
			f.mu.Unlock()
			if s != StateConnected {
				return
			}

			if err := f.Ping(ctx); err != nil {
				f.mu.Lock()
				conn := f.conn
				f.mu.Unlock()
				if conn != nil {
					conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}

func (f *FeedClient) scheduleReconnect(ctx context.Context) {
	delay := f.recon.nextDelay()
	f.mu.Lock()
	f.state = StateReconnecting
	f.mu.Unlock()

	f.dispatcher.emitReconnecting(f.recon.attempt, delay)
	f.config.Logger.Info().
		Int("attempt", f.recon.attempt).Dur("delay", delay).
		Msg("feed reconnecting")

	time.Sleep(delay)

	if err := f.Connect(ctx); err != nil {
		if f.config.AutoReconnect && f.recon.shouldReconnect() {
			f.scheduleReconnect(ctx)
		} else {
			f.mu.Lock()
			f.state = StateDisconnected
			f.mu.Unlock()
		}
	}
}

func (f *FeedClient) dropPending(requestID string) {
	f.pendingMu.Lock()
	delete(f.pendingPings, requestID)
	f.pendingMu.Unlock()
}

func (f *FeedClient) clearPendingPings() {
	f.pendingMu.Lock()
	for k, ch := range f.pendingPings {
		close(ch)
		delete(f.pendingPings, k)
	}
	f.pendingMu.Unlock()
}
