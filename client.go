// Package talkbase provides the Go client SDK for the TalkBase chat platform.
//
// State lives in a hosted backend; the client wraps it with room keying,
// caching, connection gating, and notification routing (sub-module pattern).
//
// Example:
//
//	client := talkbase.NewClient(backend)
//	defer client.Close()
//
//	sess, _ := client.SignIn(ctx, "ada@example.com", "secret")
//
//	room, _ := client.Rooms().GetOrCreate(ctx, sess.UID, "u-bob")
//	client.Messages().Append(ctx, room.ID, &talkbase.MessageInput{Text: "Hello!"})
//	client.Notifications().SetActiveRoom(room.ID)
package talkbase

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Defaults
// ============================================================================

const (
	// DefaultRoomCacheTTL is how long a user's room list stays cached.
	DefaultRoomCacheTTL = 60 * time.Second

	// DefaultSnapshotLimit bounds how many recent messages a subscription
	// delivers per snapshot.
	DefaultSnapshotLimit = 100

	// DefaultSearchWindow bounds how many recent messages Search scans.
	DefaultSearchWindow = 50
)

// ============================================================================
// Client
// ============================================================================

// Client is the entry point to the SDK. Sub-clients are reached through the
// accessor methods and share the client's session, cache, and gate.
type Client struct {
	backend Backend
	logger  zerolog.Logger
	cache   *Cache
	gate    *ConnectionGate
	events  *EventBus

	roomCacheTTL        time.Duration
	snapshotLimit       int
	searchWindow        int
	notificationAlerter Alerter

	messages      *MessagesClient
	rooms         *RoomsClient
	notifications *NotificationsClient
	users         *UsersClient
	communities   *CommunitiesClient
	calls         *CallsClient
	files         *FilesClient
	presence      *PresenceClient

	unwatchAuth func()
}

type ClientOption func(*Client)

// WithLogger sets the structured logger. Default is a no-op logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithCacheTTL sets the default TTL for cached reads.
func WithCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) { c.cache = NewCache(ttl) }
}

// WithRoomCacheTTL sets how long room lists stay cached.
func WithRoomCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) { c.roomCacheTTL = ttl }
}

// WithSnapshotLimit sets the per-snapshot message bound for subscriptions.
func WithSnapshotLimit(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.snapshotLimit = n
		}
	}
}

// WithSearchWindow sets how many recent messages Search scans.
func WithSearchWindow(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.searchWindow = n
		}
	}
}

// WithAlerter sets the sink for user-visible alerts raised by the
// notification router. Default drops them.
func WithAlerter(a Alerter) ClientOption {
	return func(c *Client) { c.notificationAlerter = a }
}

// NewClient creates a client on top of backend.
func NewClient(backend Backend, opts ...ClientOption) *Client {
	c := &Client{
		backend:       backend,
		logger:        zerolog.Nop(),
		gate:          NewConnectionGate(),
		events:        newEventBus(),
		roomCacheTTL:  DefaultRoomCacheTTL,
		snapshotLimit: DefaultSnapshotLimit,
		searchWindow:  DefaultSearchWindow,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.cache == nil {
		c.cache = NewCache(DefaultCacheTTL)
	}
	c.cache.StartSweeper(DefaultSweepInterval)

	c.messages = &MessagesClient{c: c}
	c.rooms = &RoomsClient{c: c}
	c.notifications = newNotificationsClient(c)
	c.users = &UsersClient{c: c}
	c.communities = &CommunitiesClient{c: c}
	c.calls = &CallsClient{c: c}
	c.files = &FilesClient{c: c}
	c.presence = &PresenceClient{c: c}

	c.unwatchAuth = backend.Auth().OnSessionChange(func(sess *Session) {
		if sess == nil {
			c.events.dispatchSession(nil)
			return
		}
		copied := *sess
		c.events.dispatchSession(&copied)
	})

	return c
}

// Close releases client resources. It does not sign the user out.
func (c *Client) Close() {
	if c.unwatchAuth != nil {
		c.unwatchAuth()
	}
	c.notifications.close()
	c.cache.Stop()
}

// Messages returns the per-room message log sub-client.
func (c *Client) Messages() *MessagesClient { return c.messages }

// Rooms returns the room directory sub-client.
func (c *Client) Rooms() *RoomsClient { return c.rooms }

// Notifications returns the notification router sub-client.
func (c *Client) Notifications() *NotificationsClient { return c.notifications }

// Users returns the user profile sub-client.
func (c *Client) Users() *UsersClient { return c.users }

// Communities returns the communities sub-client.
func (c *Client) Communities() *CommunitiesClient { return c.communities }

// Calls returns the call signaling sub-client.
func (c *Client) Calls() *CallsClient { return c.calls }

// Files returns the attachment upload sub-client.
func (c *Client) Files() *FilesClient { return c.files }

// Presence returns the presence sub-client.
func (c *Client) Presence() *PresenceClient { return c.presence }

// Gate returns the connection gate. Transports flip it as connectivity
// changes; callers may subscribe to drive UI state.
func (c *Client) Gate() *ConnectionGate { return c.gate }

// Events returns the typed event bus.
func (c *Client) Events() *EventBus { return c.events }

// Logger returns the client logger.
func (c *Client) Logger() zerolog.Logger { return c.logger }

// ============================================================================
// Session
// ============================================================================

// SignUp creates an account, signs in, and provisions the user profile.
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (*Session, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	sess, err := c.backend.Auth().SignUp(ctx, email, password, displayName)
	if err != nil {
		return nil, transportErr("auth.signup", err)
	}
	if err := c.users.provision(ctx, sess); err != nil {
		return nil, err
	}
	c.presence.wentOnline(ctx, sess.UID)
	return sess, nil
}

// SignIn authenticates and marks the user online.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	sess, err := c.backend.Auth().SignIn(ctx, email, password)
	if err != nil {
		return nil, transportErr("auth.signin", err)
	}
	c.presence.wentOnline(ctx, sess.UID)
	return sess, nil
}

// SignOut marks the user offline, clears cached state, and signs out.
func (c *Client) SignOut(ctx context.Context) error {
	sess := c.backend.Auth().CurrentSession()
	if sess != nil {
		c.presence.wentOffline(ctx, sess.UID)
	}
	c.cache.Clear()
	c.notifications.reset()
	if err := c.backend.Auth().SignOut(ctx); err != nil {
		return transportErr("auth.signout", err)
	}
	return nil
}

// CurrentSession returns the signed-in session, or nil.
func (c *Client) CurrentSession() *Session {
	return c.backend.Auth().CurrentSession()
}

// currentUID returns the signed-in uid, or "" when signed out.
func (c *Client) currentUID() string {
	sess := c.backend.Auth().CurrentSession()
	if sess == nil {
		return ""
	}
	return sess.UID
}

// ready gates mutating operations on connectivity. Reads against cached
// state do not go through it.
func (c *Client) ready() error {
	if !c.gate.CanPerformOperation() {
		return ErrOffline
	}
	return nil
}

func (c *Client) docs() DocumentStore { return c.backend.Documents() }
