package session

import (
	"log/slog"
	"time"

	"github.com/vaanihq/vaani/channel"
	"github.com/vaanihq/vaani/store/cache"
)

// DefaultTTL is the sliding idle window after which a session expires.
const DefaultTTL = 30 * time.Minute

const cleanupInterval = 5 * time.Minute

// Store holds sessions in an in-process TTL'd cache. A session is exclusively
// owned by the node holding the cache entry; there is no cross-node mutation.
type Store struct {
	cache *cache.LRUCache[string, *Session]
	ttl   time.Duration
	done  chan struct{}
}

// NewStore creates a session store with the given sliding TTL
// (DefaultTTL if ttl <= 0).
func NewStore(capacity int, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		cache: cache.NewLRUCache[string, *Session](capacity, ttl),
		ttl:   ttl,
		done:  make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// OnExpire registers a callback fired when a session expires or is evicted.
// The conversation service uses it to mark orphaned flow runs abandoned.
func (s *Store) OnExpire(fn func(*Session)) {
	s.cache.OnEvict(func(_ string, sess *Session) {
		fn(sess)
	})
}

// Get returns the session for a recipient, or nil if none exists.
// Reading touches the sliding TTL.
func (s *Store) Get(recipient string) *Session {
	sess, ok := s.cache.Get(recipient)
	if !ok {
		return nil
	}
	s.cache.Touch(recipient, s.ttl)
	return sess
}

// GetOrCreate returns the existing session or creates a fresh one tagged
// with the platform of the message that caused it.
func (s *Store) GetOrCreate(recipient string, platform channel.Platform) *Session {
	if sess := s.Get(recipient); sess != nil {
		// Platform tag is refreshed on every inbound: the same recipient id
		// always maps to one channel, but the tag may be missing after upgrade.
		if platform != "" {
			sess.SetPlatform(platform)
		}
		return sess
	}

	sess := newSession(recipient, platform)
	s.cache.Set(recipient, sess, s.ttl)
	slog.Debug("session: created", "recipient", recipient, "platform", platform)
	return sess
}

// SetData writes one key on the recipient's session, creating the session if
// needed. Best-effort: a failed write degrades to first-visitor behavior.
func (s *Store) SetData(recipient, key string, value any) {
	sess := s.GetOrCreate(recipient, "")
	sess.Set(key, value)
}

// SetMany writes several keys on the recipient's session.
func (s *Store) SetMany(recipient string, kv map[string]any) {
	sess := s.GetOrCreate(recipient, "")
	for k, v := range kv {
		sess.Set(k, v)
	}
}

// GetData reads one key from the recipient's session.
func (s *Store) GetData(recipient, key string) (any, bool) {
	sess := s.Get(recipient)
	if sess == nil {
		return nil, false
	}
	return sess.Get(key)
}

// Touch resets the sliding TTL and stamps last_active_at.
func (s *Store) Touch(recipient string) {
	if sess := s.Get(recipient); sess != nil {
		sess.Set(KeyLastActiveAt, time.Now())
	}
}

// Clear deletes the session for a recipient.
func (s *Store) Clear(recipient string) {
	s.cache.Remove(recipient)
	slog.Debug("session: cleared", "recipient", recipient)
}

// Size returns the number of live sessions.
func (s *Store) Size() int {
	return s.cache.Size()
}

// Close stops the background cleanup goroutine.
func (s *Store) Close() {
	close(s.done)
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.cache.CleanupExpired(); n > 0 {
				slog.Debug("session: expired sessions cleaned", "count", n)
			}
		case <-s.done:
			return
		}
	}
}
