package talkbase

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrExists is returned by DocumentStore.Create when the key is already
// present. RoomDirectory relies on it for idempotent get-or-create.
var ErrExists = errors.New("talkbase: already exists")

// ============================================================================
// Documents
// ============================================================================

// Document is a stored record: an id plus its JSON encoding.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	return json.Unmarshal(d.Data, v)
}

// Filter is a single field predicate in a query.
type Filter struct {
	Field string
	Op    string // "==" or "array-contains"
	Value any
}

// Query describes an ordered, bounded read over one collection. StartAfter
// holds the OrderBy value of the last document of the previous page (with
// StartAfterID as tiebreak) for cursor pagination.
type Query struct {
	Collection   string
	Filters      []Filter
	OrderBy      string
	Desc         bool
	Limit        int
	StartAfter   any
	StartAfterID string
}

// Where appends an equality or containment filter.
func (q Query) Where(field, op string, value any) Query {
	q.Filters = append(q.Filters, Filter{Field: field, Op: op, Value: value})
	return q
}

// WatchFunc receives the full result set of a watched query on every change.
// Each invocation is the authoritative complete ordered set, not a diff.
type WatchFunc func(docs []Document)

// ============================================================================
// Batched writes
// ============================================================================

// BatchOpKind selects the mutation type of a batch entry.
type BatchOpKind string

const (
	BatchSet    BatchOpKind = "set"
	BatchUpdate BatchOpKind = "update"
	BatchDelete BatchOpKind = "delete"
)

// BatchOp is one mutation inside an atomic multi-document write.
type BatchOp struct {
	Kind       BatchOpKind
	Collection string
	ID         string
	Value      any            // BatchSet
	Fields     map[string]any // BatchUpdate
}

// Increment, used as a value inside Update/BatchUpdate fields, adds its
// amount to the current numeric value of the field instead of replacing it.
type Increment int64

// ============================================================================
// Capability contracts
// ============================================================================

// DocumentStore is the keyed-document capability of the backend platform:
// CRUD by key, atomic merge-update, ordered range queries with cursors,
// real-time subscription to a query's result set, and atomic batched writes.
type DocumentStore interface {
	// Add stores v under a fresh id and returns it.
	Add(ctx context.Context, collection string, v any) (string, error)
	// Create stores v under id only if absent; returns ErrExists otherwise.
	// The check-and-set is atomic.
	Create(ctx context.Context, collection, id string, v any) error
	// Set stores v under id, creating or replacing.
	Set(ctx context.Context, collection, id string, v any) error
	// Get decodes the document at id into out; ErrNotFound when absent.
	Get(ctx context.Context, collection, id string, out any) error
	// Update merges fields into the document at id; ErrNotFound when absent.
	// Increment values are applied additively.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	// Delete removes the document at id; ErrNotFound when absent.
	Delete(ctx context.Context, collection, id string) error
	// Query runs q and returns the matching documents in order.
	Query(ctx context.Context, q Query) ([]Document, error)
	// Watch invokes fn with the full result set of q now and after every
	// change, in server write order. The returned handle must be called on
	// teardown; leaked watches keep firing against stale state.
	Watch(q Query, fn WatchFunc) (unsubscribe func(), err error)
	// Batch applies all ops atomically: either every mutation is visible or
	// none is.
	Batch(ctx context.Context, ops []BatchOp) error
	// Now returns the server-ordered clock used for write timestamps.
	Now() Timestamp
}

// BlobStore is the byte-storage capability: upload under a path, get back a
// durable download URL.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (url string, err error)
}

// Session is the authenticated user visible to the SDK.
type Session struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
}

// Authenticator is the credential/session capability.
type Authenticator interface {
	SignUp(ctx context.Context, email, password, displayName string) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	// CurrentSession returns the active session, or nil when signed out.
	CurrentSession() *Session
	// OnSessionChange fires with the new session (nil on sign-out).
	OnSessionChange(fn func(*Session)) (unsubscribe func())
}

// PushPayload is a foreground push message delivered to this device.
type PushPayload struct {
	Title  string           `json:"title"`
	Body   string           `json:"body"`
	Kind   NotificationKind `json:"kind"`
	RoomID string           `json:"roomId,omitempty"`
	Sender string           `json:"sender,omitempty"`
}

// PushTransport is the cross-device delivery capability: a per-device token
// for server-side targeting plus a foreground payload feed.
type PushTransport interface {
	Token(ctx context.Context) (string, error)
	OnForegroundPush(fn func(PushPayload)) (unsubscribe func())
}

// Backend bundles the platform capabilities the SDK consumes. The concrete
// platform is out of scope; MemoryBackend provides all capabilities
// in-process for tests and local use.
type Backend interface {
	Documents() DocumentStore
	Blobs() BlobStore
	Auth() Authenticator
	Push() PushTransport
}

// ============================================================================
// Collection names
// ============================================================================

const (
	colUsers         = "users"
	colRooms         = "rooms"
	colNotifications = "notifications"
	colCommunities   = "communities"
	colCalls         = "calls"
)

// messagesCollection returns the per-room message log collection.
func messagesCollection(roomID string) string {
	return colRooms + "/" + roomID + "/messages"
}

// communityMessagesCollection returns a community's message log collection.
func communityMessagesCollection(communityID string) string {
	return colCommunities + "/" + communityID + "/messages"
}

// contactsCollection returns a user's contact list collection.
func contactsCollection(uid string) string {
	return colUsers + "/" + uid + "/contacts"
}
