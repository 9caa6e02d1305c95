package talkbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// RemoteBackend
// ============================================================================

const (
	DefaultBaseURL = "https://api.talkbase.dev"
	DefaultTimeout = 30 * time.Second
)

// RemoteConfig configures the hosted backend.
type RemoteConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     zerolog.Logger
	Feed       *FeedConfig
}

// RemoteBackend talks to the hosted TalkBase platform: documents and auth
// over HTTP, change notifications and pushes over the websocket feed.
type RemoteBackend struct {
	rt   *remoteTransport
	feed *FeedClient
	docs *remoteDocuments
	blob *remoteBlobs
	auth *remoteAuth
	push *remotePush
}

// NewRemoteBackend creates a backend for cfg. Call Connect to open the feed;
// without it, reads and writes work but watches stay silent.
func NewRemoteBackend(cfg RemoteConfig) *RemoteBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	feedCfg := FeedConfig{AutoReconnect: true, Logger: cfg.Logger}
	if cfg.Feed != nil {
		feedCfg = *cfg.Feed
	}
	feedCfg.Token = cfg.APIKey

	rt := &remoteTransport{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: cfg.HTTPClient,
	}
	b := &RemoteBackend{
		rt:   rt,
		feed: NewFeedClient(cfg.BaseURL, &feedCfg),
	}
	b.docs = newRemoteDocuments(rt, b.feed, cfg.Logger)
	b.blob = &remoteBlobs{rt: rt}
	b.auth = &remoteAuth{rt: rt}
	b.push = newRemotePush(rt, b.feed)
	return b
}

func (b *RemoteBackend) Documents() DocumentStore { return b.docs }
func (b *RemoteBackend) Blobs() BlobStore         { return b.blob }
func (b *RemoteBackend) Auth() Authenticator      { return b.auth }
func (b *RemoteBackend) Push() PushTransport      { return b.push }

// Feed returns the underlying feed client so callers can wire connectivity
// into a ConnectionGate.
func (b *RemoteBackend) Feed() *FeedClient { return b.feed }

// Connect opens the change feed.
func (b *RemoteBackend) Connect(ctx context.Context) error {
	return b.feed.Connect(ctx)
}

// Close closes the change feed.
func (b *RemoteBackend) Close() error {
	return b.feed.Disconnect()
}

// BindGate flips gate as the feed connects and drops.
func (b *RemoteBackend) BindGate(gate *ConnectionGate) {
	b.feed.OnConnected(func() { gate.SetBackendOnline(true) })
	b.feed.OnDisconnected(func(string) { gate.SetBackendOnline(false) })
}

// ============================================================================
// Transport
// ============================================================================

type remoteTransport struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func (t *remoteTransport) do(ctx context.Context, method, path string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := statusErr(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func statusErr(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return ErrExists
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusUnauthorized:
		return ErrForbidden
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func collectionPath(collection string) string {
	return "/api/db/" + url.PathEscape(collection)
}

func documentPath(collection, id string) string {
	return collectionPath(collection) + "/" + url.PathEscape(id)
}

// ============================================================================
// Documents
// ============================================================================

// remoteDocuments implements DocumentStore over HTTP. Watches re-query when
// the feed announces a change in the watched collection, so every delivery
// is a full, fresh result set.
type remoteDocuments struct {
	rt     *remoteTransport
	feed   *FeedClient
	logger zerolog.Logger

	mu       sync.Mutex
	watchers map[int]*remoteWatcher
	nextID   int
	lastNow  Timestamp
}

type remoteWatcher struct {
	query Query
	w     *docWatcher
}

func newRemoteDocuments(rt *remoteTransport, feed *FeedClient, logger zerolog.Logger) *remoteDocuments {
	d := &remoteDocuments{
		rt:       rt,
		feed:     feed,
		logger:   logger,
		watchers: make(map[int]*remoteWatcher),
	}
	feed.OnChange("", func(p ChangePayload) { d.refresh(p.Collection) })
	// A reconnect may have missed change events; refresh everything.
	feed.OnConnected(func() { d.refresh("") })
	return d
}

func (d *remoteDocuments) Now() Timestamp {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := Timestamp(time.Now().UnixMilli())
	if now <= d.lastNow {
		now = d.lastNow + 1
	}
	d.lastNow = now
	return now
}

func (d *remoteDocuments) Add(ctx context.Context, collection string, v any) (string, error) {
	var res struct {
		ID string `json:"id"`
	}
	if err := d.rt.do(ctx, "POST", collectionPath(collection), v, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

func (d *remoteDocuments) Create(ctx context.Context, collection, id string, v any) error {
	return d.rt.do(ctx, "PUT", documentPath(collection, id)+"?ifAbsent=true", v, nil)
}

func (d *remoteDocuments) Set(ctx context.Context, collection, id string, v any) error {
	return d.rt.do(ctx, "PUT", documentPath(collection, id), v, nil)
}

func (d *remoteDocuments) Get(ctx context.Context, collection, id string, out any) error {
	if out == nil {
		var discard json.RawMessage
		return d.rt.do(ctx, "GET", documentPath(collection, id), nil, &discard)
	}
	return d.rt.do(ctx, "GET", documentPath(collection, id), nil, out)
}

func (d *remoteDocuments) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return d.rt.do(ctx, "PATCH", documentPath(collection, id), splitIncrements(fields), nil)
}

func (d *remoteDocuments) Delete(ctx context.Context, collection, id string) error {
	return d.rt.do(ctx, "DELETE", documentPath(collection, id), nil, nil)
}

func (d *remoteDocuments) Query(ctx context.Context, q Query) ([]Document, error) {
	var docs []Document
	if err := d.rt.do(ctx, "POST", "/api/db/query", q, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (d *remoteDocuments) Watch(q Query, fn WatchFunc) (func(), error) {
	rw := &remoteWatcher{query: q, w: newDocWatcher(fn)}
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.watchers[id] = rw
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	if err := d.feed.SubscribeCollection(ctx, q.Collection); err != nil && !errors.Is(err, ErrOffline) {
		d.logger.Warn().Err(err).Str("collection", q.Collection).Msg("feed subscribe failed")
	}

	// Initial delivery.
	docs, err := d.Query(ctx, q)
	if err != nil {
		d.mu.Lock()
		delete(d.watchers, id)
		d.mu.Unlock()
		rw.w.close()
		return nil, err
	}
	rw.w.enqueue(docs)

	return func() {
		d.mu.Lock()
		delete(d.watchers, id)
		d.mu.Unlock()
		rw.w.close()
	}, nil
}

// wireUpdate carries increments in a separate map so a plain set of the same
// field stays distinguishable on the wire.
type wireUpdate struct {
	Fields     map[string]any   `json:"fields,omitempty"`
	Increments map[string]int64 `json:"increments,omitempty"`
}

func splitIncrements(fields map[string]any) wireUpdate {
	upd := wireUpdate{}
	for k, v := range fields {
		if inc, ok := v.(Increment); ok {
			if upd.Increments == nil {
				upd.Increments = make(map[string]int64)
			}
			upd.Increments[k] = int64(inc)
			continue
		}
		if upd.Fields == nil {
			upd.Fields = make(map[string]any)
		}
		upd.Fields[k] = v
	}
	return upd
}

type wireBatchOp struct {
	Kind       BatchOpKind `json:"kind"`
	Collection string      `json:"collection"`
	ID         string      `json:"id,omitempty"`
	Value      any         `json:"value,omitempty"`
	Update     *wireUpdate `json:"update,omitempty"`
}

func (d *remoteDocuments) Batch(ctx context.Context, ops []BatchOp) error {
	wire := make([]wireBatchOp, 0, len(ops))
	for _, op := range ops {
		wop := wireBatchOp{Kind: op.Kind, Collection: op.Collection, ID: op.ID, Value: op.Value}
		if op.Kind == BatchUpdate {
			upd := splitIncrements(op.Fields)
			wop.Update = &upd
		}
		wire = append(wire, wop)
	}
	return d.rt.do(ctx, "POST", "/api/db/batch", wire, nil)
}

// refresh re-runs every watch that matches collection. An empty collection
// matches all watches.
func (d *remoteDocuments) refresh(collection string) {
	d.mu.Lock()
	var stale []*remoteWatcher
	for _, rw := range d.watchers {
		if collection == "" || rw.query.Collection == collection {
			stale = append(stale, rw)
		}
	}
	d.mu.Unlock()

	for _, rw := range stale {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		docs, err := d.Query(ctx, rw.query)
		cancel()
		if err != nil {
			d.logger.Warn().Err(err).
				Str("collection", rw.query.Collection).
				Msg("watch refresh failed")
			continue
		}
		rw.w.enqueue(docs)
	}
}

// ============================================================================
// Blobs
// ============================================================================

type remoteBlobs struct {
	rt *remoteTransport
}

func (b *remoteBlobs) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", path)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write file data: %w", err)
	}
	_ = w.WriteField("contentType", contentType)
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, "POST",
		b.rt.baseURL+"/api/storage/"+url.PathEscape(path), &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if b.rt.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.rt.apiKey)
	}

	resp, err := b.rt.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return "", err
	}

	var res struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	return res.URL, nil
}

// ============================================================================
// Auth
// ============================================================================

type remoteAuth struct {
	rt *remoteTransport

	mu        sync.Mutex
	current   *Session
	nextID    int
	listeners map[int]func(*Session)
}

func (a *remoteAuth) SignUp(ctx context.Context, email, password, displayName string) (*Session, error) {
	var sess Session
	err := a.rt.do(ctx, "POST", "/api/auth/signup", map[string]string{
		"email": email, "password": password, "displayName": displayName,
	}, &sess)
	if err != nil {
		return nil, err
	}
	a.setCurrent(&sess)
	return &sess, nil
}

func (a *remoteAuth) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var sess Session
	err := a.rt.do(ctx, "POST", "/api/auth/signin", map[string]string{
		"email": email, "password": password,
	}, &sess)
	if err != nil {
		return nil, err
	}
	a.setCurrent(&sess)
	return &sess, nil
}

func (a *remoteAuth) SignOut(ctx context.Context) error {
	if err := a.rt.do(ctx, "POST", "/api/auth/signout", nil, nil); err != nil {
		return err
	}
	a.setCurrent(nil)
	return nil
}

func (a *remoteAuth) CurrentSession() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return nil
	}
	sess := *a.current
	return &sess
}

func (a *remoteAuth) OnSessionChange(fn func(*Session)) func() {
	a.mu.Lock()
	if a.listeners == nil {
		a.listeners = make(map[int]func(*Session))
	}
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

func (a *remoteAuth) setCurrent(sess *Session) {
	a.mu.Lock()
	a.current = sess
	handlers := make([]func(*Session), 0, len(a.listeners))
	for _, h := range a.listeners {
		handlers = append(handlers, h)
	}
	a.mu.Unlock()
	for _, h := range handlers {
		h(sess)
	}
}

// ============================================================================
// Push
// ============================================================================

type remotePush struct {
	rt *remoteTransport

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(PushPayload)
}

func newRemotePush(rt *remoteTransport, feed *FeedClient) *remotePush {
	p := &remotePush{rt: rt, listeners: make(map[int]func(PushPayload))}
	feed.OnPush(func(fp FeedPushPayload) {
		p.dispatch(PushPayload{
			Title:  fp.Title,
			Body:   fp.Body,
			Kind:   fp.Kind,
			RoomID: fp.RoomID,
			Sender: fp.Sender,
		})
	})
	return p
}

func (p *remotePush) Token(ctx context.Context) (string, error) {
	var res struct {
		Token string `json:"token"`
	}
	if err := p.rt.do(ctx, "GET", "/api/push/token", nil, &res); err != nil {
		return "", err
	}
	return res.Token, nil
}

func (p *remotePush) OnForegroundPush(fn func(PushPayload)) func() {
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

func (p *remotePush) dispatch(payload PushPayload) {
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
