package talkbase

import "sync"

// ============================================================================
// Connection gate
// ============================================================================

// ConnectionState is a snapshot of the gate.
type ConnectionState struct {
	Online        bool
	BackendOnline bool
}

// CanPerformOperation reports whether a remote operation should be attempted.
func (s ConnectionState) CanPerformOperation() bool {
	return s.Online && s.BackendOnline
}

// GateListener observes connection state changes.
type GateListener func(ConnectionState)

// ConnectionGate tracks network-level and backend-level connectivity and
// gates expensive remote operations while disconnected. Callers of expensive
// reads and searches check CanPerformOperation first and short-circuit to a
// cached or empty result instead of queueing doomed requests.
//
// A network offline event also disables the backend connection; coming back
// online re-enables it.
type ConnectionGate struct {
	mu            sync.Mutex
	online        bool
	backendOnline bool
	nextID        int
	listeners     map[int]GateListener
}

// NewConnectionGate creates a gate that starts online.
func NewConnectionGate() *ConnectionGate {
	return &ConnectionGate{
		online:        true,
		backendOnline: true,
		listeners:     make(map[int]GateListener),
	}
}

// SetOnline records a network-level online/offline transition and flips the
// backend connection with it.
func (g *ConnectionGate) SetOnline(online bool) {
	g.mu.Lock()
	if g.online == online {
		g.mu.Unlock()
		return
	}
	g.online = online
	g.backendOnline = online
	state := g.stateLocked()
	handlers := g.listenersLocked()
	g.mu.Unlock()

	for _, h := range handlers {
		h(state)
	}
}

// SetBackendOnline enables or disables the backend connection independently
// of network state (e.g. deliberately pausing remote writes).
func (g *ConnectionGate) SetBackendOnline(online bool) {
	g.mu.Lock()
	if g.backendOnline == online {
		g.mu.Unlock()
		return
	}
	g.backendOnline = online
	state := g.stateLocked()
	handlers := g.listenersLocked()
	g.mu.Unlock()

	for _, h := range handlers {
		h(state)
	}
}

// State returns the current snapshot.
func (g *ConnectionGate) State() ConnectionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

// CanPerformOperation reports whether remote operations should be attempted.
func (g *ConnectionGate) CanPerformOperation() bool {
	return g.State().CanPerformOperation()
}

// Subscribe registers a listener for state changes and returns an unsubscribe
// handle. The handle must be called on teardown to avoid callbacks against
// torn-down state.
func (g *ConnectionGate) Subscribe(l GateListener) (unsubscribe func()) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = l
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.listeners, id)
		g.mu.Unlock()
	}
}

func (g *ConnectionGate) stateLocked() ConnectionState {
	return ConnectionState{Online: g.online, BackendOnline: g.backendOnline}
}

func (g *ConnectionGate) listenersLocked() []GateListener {
	out := make([]GateListener, 0, len(g.listeners))
	for _, l := range g.listeners {
		out = append(out, l)
	}
	return out
}
