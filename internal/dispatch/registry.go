package dispatch

import (
	"log/slog"
	"sync"

	"github.com/example/ride-coordination/internal/models"
	"github.com/example/ride-coordination/internal/observability"
)

// Handle is a live connection owned by the transport layer. Send must not
// block; implementations drop or fail instead.
type Handle interface {
	Send(kind models.EventKind, payload any) error
}

// Registry maps an actor identity to at most one live handle.
type Registry struct {
	log *slog.Logger

	mu       sync.RWMutex
	byID     map[string]Handle
	byHandle map[Handle]string
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log,
		byID:     make(map[string]Handle),
		byHandle: make(map[Handle]string),
	}
}

// Connect binds identity to h, replacing any previous handle for identity.
// The replaced handle is not notified.
func (r *Registry) Connect(identity string, h Handle) {
	if identity == "" || h == nil {
		return
	}
	r.mu.Lock()
	if prev, ok := r.byID[identity]; ok && prev != h {
		delete(r.byHandle, prev)
	}
	// a handle re-registering under a new identity leaves its old one
	if old, ok := r.byHandle[h]; ok && old != identity && r.byID[old] == h {
		delete(r.byID, old)
	}
	r.byID[identity] = h
	r.byHandle[h] = identity
	n := len(r.byID)
	r.mu.Unlock()

	observability.PresenceConnections.Set(float64(n))
	r.log.Debug("presence_connect", "identity", identity)
}

// Disconnect removes the entry that currently maps to exactly h. A stale
// handle that was already replaced is a no-op.
func (r *Registry) Disconnect(h Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	identity, ok := r.byHandle[h]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byHandle, h)
	if r.byID[identity] == h {
		delete(r.byID, identity)
	}
	n := len(r.byID)
	r.mu.Unlock()

	observability.PresenceConnections.Set(float64(n))
	r.log.Debug("presence_disconnect", "identity", identity)
}

func (r *Registry) Lookup(identity string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byID[identity]
	return h, ok
}

// Len reports the number of identities with a live handle.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
