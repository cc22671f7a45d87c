// Package sessions keeps the live coaching sessions in memory with an idle expiry.
package sessions

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"writingcoach/pkg/coach"
	"writingcoach/pkg/llmsvc/llm"
	"writingcoach/pkg/logx"
)

// Default expiry settings.
const (
	DefaultTTL             = time.Hour
	DefaultCleanupInterval = 10 * time.Minute
)

// Registry maps session ids to sessions. Sessions not touched for the TTL are dropped.
type Registry struct {
	cache   *cache.Cache
	invoker llm.Invoker
	logger  *logx.Logger
}

// NewRegistry creates a registry whose sessions call invoker. Non-positive
// durations fall back to the defaults.
func NewRegistry(invoker llm.Invoker, ttl, cleanup time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cleanup <= 0 {
		cleanup = DefaultCleanupInterval
	}

	r := &Registry{
		cache:   cache.New(ttl, cleanup),
		invoker: invoker,
		logger:  logx.NewLogger("sessions"),
	}
	r.cache.OnEvicted(func(id string, _ interface{}) {
		r.logger.Info("Session %s expired", id)
	})
	return r
}

// Create starts a new session with a fresh id.
func (r *Registry) Create(opts ...coach.Option) *coach.Session {
	id := uuid.NewString()
	s := coach.New(id, r.invoker, opts...)
	r.cache.Set(id, s, cache.DefaultExpiration)
	r.logger.Info("Session %s created", id)
	return s
}

// Get returns the session with id and refreshes its expiry.
func (r *Registry) Get(id string) (*coach.Session, bool) {
	x, found := r.cache.Get(id)
	if !found {
		return nil, false
	}
	s, ok := x.(*coach.Session)
	if !ok {
		return nil, false
	}
	r.cache.Set(id, s, cache.DefaultExpiration)
	return s, true
}

// Touch refreshes the expiry of id. It reports whether the session exists.
func (r *Registry) Touch(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Delete removes id. It reports whether the session existed.
func (r *Registry) Delete(id string) bool {
	if _, found := r.cache.Get(id); !found {
		return false
	}
	r.cache.Delete(id)
	return true
}

// Count returns the number of live sessions, expired ones awaiting cleanup included.
func (r *Registry) Count() int {
	return r.cache.ItemCount()
}

// IDs returns the ids of the live sessions.
func (r *Registry) IDs() []string {
	items := r.cache.Items()
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	return ids
}
