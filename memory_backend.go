package talkbase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// MemoryBackend
// ============================================================================

// MemoryBackend implements every Backend capability in-process. It is the
// test double for the SDK and doubles as a fully functional local mode: the
// document store honors the same query, watch, and batch semantics the remote
// platform provides.
type MemoryBackend struct {
	docs  *MemoryDocuments
	blobs *MemoryBlobs
	auth  *MemoryAuth
	push  *MemoryPush
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		docs:  NewMemoryDocuments(),
		blobs: NewMemoryBlobs(),
		auth:  NewMemoryAuth(),
		push:  NewMemoryPush(),
	}
}

func (b *MemoryBackend) Documents() DocumentStore { return b.docs }
func (b *MemoryBackend) Blobs() BlobStore         { return b.blobs }
func (b *MemoryBackend) Auth() Authenticator      { return b.auth }
func (b *MemoryBackend) Push() PushTransport      { return b.push }

// MemoryPushTransport returns the concrete push transport for tests that
// need to inject foreground payloads.
func (b *MemoryBackend) MemoryPushTransport() *MemoryPush { return b.push }

// ============================================================================
// MemoryDocuments
// ============================================================================

// MemoryDocuments is a goroutine-safe in-memory document store with
// Firestore-like semantics: JSON documents keyed by collection and id,
// filtered/ordered queries with cursors, watches that re-deliver the full
// result set on every change, and atomic batches.
type MemoryDocuments struct {
	mu       sync.Mutex
	data     map[string]map[string]json.RawMessage // collection -> id -> doc
	watchers map[int]*docWatcher
	nextID   int
	lastNow  Timestamp
}

// NewMemoryDocuments creates an empty store.
func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{
		data:     make(map[string]map[string]json.RawMessage),
		watchers: make(map[int]*docWatcher),
	}
}

// Now returns a strictly increasing millisecond clock so that two writes from
// the same process never share a timestamp.
func (s *MemoryDocuments) Now() Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := Timestamp(time.Now().UnixMilli())
	if now <= s.lastNow {
		now = s.lastNow + 1
	}
	s.lastNow = now
	return now
}

func (s *MemoryDocuments) Add(ctx context.Context, collection string, v any) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, v); err != nil {
		return "", err
	}
	return id, nil
}

func (s *MemoryDocuments) Create(ctx context.Context, collection, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	col := s.col(collection)
	if _, ok := col[id]; ok {
		s.mu.Unlock()
		return ErrExists
	}
	col[id] = raw
	s.notifyLocked(collection)
	s.mu.Unlock()
	return nil
}

func (s *MemoryDocuments) Set(ctx context.Context, collection, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.col(collection)[id] = raw
	s.notifyLocked(collection)
	s.mu.Unlock()
	return nil
}

func (s *MemoryDocuments) Get(ctx context.Context, collection, id string, out any) error {
	s.mu.Lock()
	raw, ok := s.col(collection)[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (s *MemoryDocuments) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateLocked(collection, id, fields); err != nil {
		return err
	}
	s.notifyLocked(collection)
	return nil
}

func (s *MemoryDocuments) updateLocked(collection, id string, fields map[string]any) error {
	col := s.col(collection)
	raw, ok := col[id]
	if !ok {
		return ErrNotFound
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	for k, v := range fields {
		if inc, ok := v.(Increment); ok {
			cur, _ := doc[k].(float64)
			doc[k] = cur + float64(inc)
			continue
		}
		norm, err := normalize(v)
		if err != nil {
			return err
		}
		doc[k] = norm
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	col[id] = merged
	return nil
}

func (s *MemoryDocuments) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.col(collection)
	if _, ok := col[id]; !ok {
		return ErrNotFound
	}
	delete(col, id)
	s.notifyLocked(collection)
	return nil
}

func (s *MemoryDocuments) Query(ctx context.Context, q Query) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(q)
}

func (s *MemoryDocuments) Watch(q Query, fn WatchFunc) (func(), error) {
	w := newDocWatcher(fn)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	w.query = q
	s.watchers[id] = w
	// Initial delivery: the current result set.
	docs, err := s.queryLocked(q)
	if err != nil {
		delete(s.watchers, id)
		s.mu.Unlock()
		return nil, err
	}
	w.enqueue(docs)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
		w.close()
	}, nil
}

func (s *MemoryDocuments) Batch(ctx context.Context, ops []BatchOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate before mutating so the batch is all-or-nothing.
	for _, op := range ops {
		switch op.Kind {
		case BatchSet:
		case BatchUpdate, BatchDelete:
			if _, ok := s.col(op.Collection)[op.ID]; !ok {
				return fmt.Errorf("batch %s %s/%s: %w", op.Kind, op.Collection, op.ID, ErrNotFound)
			}
		default:
			return fmt.Errorf("batch: unknown op kind %q", op.Kind)
		}
	}

	touched := make(map[string]bool)
	for _, op := range ops {
		switch op.Kind {
		case BatchSet:
			raw, err := json.Marshal(op.Value)
			if err != nil {
				return err
			}
			id := op.ID
			if id == "" {
				id = uuid.NewString()
			}
			s.col(op.Collection)[id] = raw
		case BatchUpdate:
			if err := s.updateLocked(op.Collection, op.ID, op.Fields); err != nil {
				return err
			}
		case BatchDelete:
			delete(s.col(op.Collection), op.ID)
		}
		touched[op.Collection] = true
	}
	for collection := range touched {
		s.notifyLocked(collection)
	}
	return nil
}

func (s *MemoryDocuments) col(name string) map[string]json.RawMessage {
	col, ok := s.data[name]
	if !ok {
		col = make(map[string]json.RawMessage)
		s.data[name] = col
	}
	return col
}

// queryLocked evaluates q against the current data. Tiebreak is document id
// ascending so ordering is deterministic for equal field values.
func (s *MemoryDocuments) queryLocked(q Query) ([]Document, error) {
	type row struct {
		doc Document
		key any
	}
	var rows []row
	for id, raw := range s.col(q.Collection) {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		if !matchFilters(fields, q.Filters) {
			continue
		}
		rows = append(rows, row{doc: Document{ID: id, Data: raw}, key: fields[q.OrderBy]})
	}

	sort.Slice(rows, func(i, j int) bool {
		c := compareValues(rows[i].key, rows[j].key)
		if c == 0 {
			c = strings.Compare(rows[i].doc.ID, rows[j].doc.ID)
		}
		if q.Desc {
			return c > 0
		}
		return c < 0
	})

	// Cursor: skip to just past (StartAfter, StartAfterID).
	start := 0
	if q.StartAfter != nil || q.StartAfterID != "" {
		after, err := normalize(q.StartAfter)
		if err != nil {
			return nil, err
		}
		for i, r := range rows {
			c := compareValues(r.key, after)
			if c == 0 {
				c = strings.Compare(r.doc.ID, q.StartAfterID)
			}
			if q.Desc {
				c = -c
			}
			if c <= 0 {
				start = i + 1
			}
		}
	}
	rows = rows[start:]

	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]Document, len(rows))
	for i, r := range rows {
		out[i] = r.doc
	}
	return out, nil
}

// notifyLocked re-evaluates every watch on collection and enqueues the fresh
// result set. Enqueueing under the store lock preserves server write order;
// delivery happens on each watcher's own goroutine.
func (s *MemoryDocuments) notifyLocked(collection string) {
	for _, w := range s.watchers {
		if w.query.Collection != collection {
			continue
		}
		docs, err := s.queryLocked(w.query)
		if err != nil {
			continue
		}
		w.enqueue(docs)
	}
}

// ----------------------------------------------------------------------------
// Watch delivery
// ----------------------------------------------------------------------------

// docWatcher delivers result-set snapshots to a callback sequentially and in
// enqueue order.
type docWatcher struct {
	query  Query
	fn     WatchFunc
	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]Document
	closed bool
}

func newDocWatcher(fn WatchFunc) *docWatcher {
	w := &docWatcher{fn: fn}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

func (w *docWatcher) enqueue(docs []Document) {
	w.mu.Lock()
	if !w.closed {
		w.queue = append(w.queue, docs)
		w.cond.Signal()
	}
	w.mu.Unlock()
}

func (w *docWatcher) run() {
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if w.closed && len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		docs := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()
		w.fn(docs)
	}
}

func (w *docWatcher) close() {
	w.mu.Lock()
	w.closed = true
	w.queue = nil
	w.cond.Signal()
	w.mu.Unlock()
}

// ----------------------------------------------------------------------------
// Value helpers
// ----------------------------------------------------------------------------

// normalize round-trips v through JSON so comparisons see the same types a
// stored document would produce (numbers as float64, structs as maps).
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch v.(type) {
	case string, bool, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func matchFilters(fields map[string]any, filters []Filter) bool {
	for _, f := range filters {
		want, err := normalize(f.Value)
		if err != nil {
			return false
		}
		got := fields[f.Field]
		switch f.Op {
		case "==":
			if compareValues(got, want) != 0 {
				return false
			}
		case "array-contains":
			arr, ok := got.([]any)
			if !ok {
				return false
			}
			found := false
			for _, el := range arr {
				if compareValues(el, want) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// compareValues orders JSON scalar values: nil < bool < number < string.
func compareValues(a, b any) int {
	ra, rb := valueRank(a), valueRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		return strings.Compare(av, b.(string))
	default:
		// Composite values have no meaningful order; treat equal JSON as equal.
		ja, _ := json.Marshal(a)
		jb, _ := json.Marshal(b)
		return strings.Compare(string(ja), string(jb))
	}
}

func valueRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

// ============================================================================
// MemoryBlobs
// ============================================================================

// MemoryBlobs stores uploaded bytes by path and hands back mem:// URLs.
type MemoryBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
	types map[string]string
}

// NewMemoryBlobs creates an empty blob store.
func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{
		blobs: make(map[string][]byte),
		types: make(map[string]string),
	}
}

func (b *MemoryBlobs) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("blob path is required")
	}
	b.mu.Lock()
	b.blobs[path] = append([]byte(nil), data...)
	b.types[path] = contentType
	b.mu.Unlock()
	return "mem://" + path, nil
}

// Read returns a previously uploaded blob, for tests.
func (b *MemoryBlobs) Read(path string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[path]
	return data, ok
}

// ============================================================================
// MemoryAuth
// ============================================================================

type memoryAccount struct {
	session  Session
	password string
}

// MemoryAuth is an in-process Authenticator keyed by email.
type MemoryAuth struct {
	mu        sync.Mutex
	accounts  map[string]*memoryAccount
	current   *Session
	nextID    int
	listeners map[int]func(*Session)
}

// NewMemoryAuth creates an authenticator with no accounts.
func NewMemoryAuth() *MemoryAuth {
	return &MemoryAuth{
		accounts:  make(map[string]*memoryAccount),
		listeners: make(map[int]func(*Session)),
	}
}

func (a *MemoryAuth) SignUp(ctx context.Context, email, password, displayName string) (*Session, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password are required")
	}
	a.mu.Lock()
	if _, ok := a.accounts[email]; ok {
		a.mu.Unlock()
		return nil, ErrExists
	}
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}
	acct := &memoryAccount{
		session:  Session{UID: uuid.NewString(), Email: email, DisplayName: displayName},
		password: password,
	}
	a.accounts[email] = acct
	sess := acct.session
	a.current = &sess
	handlers := a.listenersLocked()
	a.mu.Unlock()

	for _, h := range handlers {
		h(&sess)
	}
	return &sess, nil
}

func (a *MemoryAuth) SignIn(ctx context.Context, email, password string) (*Session, error) {
	a.mu.Lock()
	acct, ok := a.accounts[email]
	if !ok || acct.password != password {
		a.mu.Unlock()
		return nil, fmt.Errorf("invalid credentials")
	}
	sess := acct.session
	a.current = &sess
	handlers := a.listenersLocked()
	a.mu.Unlock()

	for _, h := range handlers {
		h(&sess)
	}
	return &sess, nil
}

func (a *MemoryAuth) SignOut(ctx context.Context) error {
	a.mu.Lock()
	a.current = nil
	handlers := a.listenersLocked()
	a.mu.Unlock()

	for _, h := range handlers {
		h(nil)
	}
	return nil
}

func (a *MemoryAuth) CurrentSession() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return nil
	}
	sess := *a.current
	return &sess
}

func (a *MemoryAuth) OnSessionChange(fn func(*Session)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

func (a *MemoryAuth) listenersLocked() []func(*Session) {
	out := make([]func(*Session), 0, len(a.listeners))
	for _, h := range a.listeners {
		out = append(out, h)
	}
	return out
}

// ============================================================================
// MemoryPush
// ============================================================================

// MemoryPush is an in-process PushTransport. Tests call Deliver to simulate
// a foreground payload arriving on this device.
type MemoryPush struct {
	mu        sync.Mutex
	token     string
	nextID    int
	listeners map[int]func(PushPayload)
}

// NewMemoryPush creates a transport with a fresh device token.
func NewMemoryPush() *MemoryPush {
	return &MemoryPush{
		token:     uuid.NewString(),
		listeners: make(map[int]func(PushPayload)),
	}
}

func (p *MemoryPush) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token, nil
}

func (p *MemoryPush) OnForegroundPush(fn func(PushPayload)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Deliver invokes every foreground listener with payload.
func (p *MemoryPush) Deliver(payload PushPayload) {
	p.mu.Lock()
	handlers := make([]func(PushPayload), 0, len(p.listeners))
	for _, h := range p.listeners {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}
