// Package streamreg bridges the two-phase chat protocol. Initiating a chat
// registers a prepared generation context under a one-time handle; the
// follow-up stream request claims it. Handles are single use.
package streamreg

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/chatstore"
)

// DefaultTTL is how long an unclaimed registration survives before the
// janitor evicts it.
const DefaultTTL = 5 * time.Minute

// Context is the state registered at initiation and claimed by the stream.
type Context struct {
	Window    []chatstore.Message
	UserID    int64
	SessionID string

	registeredAt time.Time
}

// Registry maps one-time stream handles to pending generation contexts.
type Registry struct {
	mu      sync.Mutex
	pending map[string]Context
	logger  *log.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// New returns an empty registry. The janitor is not started until
// StartJanitor is called.
func New() *Registry {
	return &Registry{
		pending: make(map[string]Context),
		stop:    make(chan struct{}),
	}
}

// SetLogger sets an optional logger for eviction warnings.
func (r *Registry) SetLogger(l *log.Logger) {
	r.logger = l
}

// Register stores the context under a fresh handle and returns the handle.
func (r *Registry) Register(sc Context) string {
	handle := uuid.NewString()
	sc.registeredAt = time.Now()
	r.mu.Lock()
	r.pending[handle] = sc
	r.mu.Unlock()
	return handle
}

// Consume atomically removes and returns the context for handle. Each handle
// yields its context to exactly one caller; unknown or already-claimed
// handles report not found.
func (r *Registry) Consume(handle string) (Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.pending[handle]
	if ok {
		delete(r.pending, handle)
	}
	return sc, ok
}

// Len returns the number of registrations waiting to be claimed.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// StartJanitor evicts registrations older than ttl, checking every interval.
// Non-positive arguments fall back to DefaultTTL and ttl/10.
func (r *Registry) StartJanitor(ttl, interval time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if interval <= 0 {
		interval = ttl / 10
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := r.sweep(ttl); n > 0 && r.logger != nil {
					r.logger.Printf("[WARN] streamreg: evicted %d expired registrations", n)
				}
			case <-r.stop:
				return
			}
		}
	}()
}

// StopJanitor stops the background sweep. Safe to call more than once.
func (r *Registry) StopJanitor() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// sweep removes registrations older than ttl and returns how many went.
func (r *Registry) sweep(ttl time.Duration) int {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for handle, sc := range r.pending {
		if now.Sub(sc.registeredAt) >= ttl {
			delete(r.pending, handle)
			evicted++
		}
	}
	return evicted
}
