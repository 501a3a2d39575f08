package session

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/podrex/internal/config"
	"github.com/temcen/podrex/pkg/models"
)

// Store holds live sessions. Update applies fn under the session's lock and
// commits only when fn returns nil, so concurrent mutations never interleave
// partial state. Every method reports SESSION_NOT_FOUND for unknown ids.
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, id string, fn func(*models.Session) error) error
	Delete(ctx context.Context, id string) error
	Len(ctx context.Context) (int, error)
}

type sessionEntry struct {
	mu      sync.Mutex
	session *models.Session
	elem    *list.Element
}

// MemoryStore keeps sessions in a map with LRU ordering and TTL expiry.
// A janitor goroutine sweeps expired sessions from the cold end of the LRU
// list; capacity overflow evicts the least recently used session.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	lru      *list.List // front = most recently used; values are session ids

	capacity int
	ttl      time.Duration
	logger   *logrus.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMemoryStore(cfg config.SessionConfig, logger *logrus.Logger) *MemoryStore {
	ctx, cancel := context.WithCancel(context.Background())

	s := &MemoryStore{
		sessions: make(map[string]*sessionEntry),
		lru:      list.New(),
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}

	if cfg.CleanupInterval > 0 && cfg.TTL > 0 {
		s.wg.Add(1)
		go s.janitor(cfg.CleanupInterval)
	}

	return s
}

// Stop halts the janitor. Sessions stay readable until the process exits.
func (s *MemoryStore) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *MemoryStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return models.NewError(models.ErrInternalInvariant, "session id %s already exists", session.ID)
	}

	for s.capacity > 0 && len(s.sessions) >= s.capacity {
		s.evictOldestLocked()
	}

	entry := &sessionEntry{session: session}
	entry.elem = s.lru.PushFront(session.ID)
	s.sessions[session.ID] = entry
	return nil
}

// Get returns a snapshot of the session and refreshes its TTL. The queue
// slice is shared (it is immutable after creation); cursor and the
// engaged/excluded sets are copied so readers never observe a half-applied
// update.
func (s *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	entry.session.LastAccessed = s.now()
	snapshot := cloneSession(entry.session)
	entry.mu.Unlock()

	s.touch(entry)
	return snapshot, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(*models.Session) error) error {
	entry, err := s.lookup(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	working := cloneSession(entry.session)
	if err := fn(working); err != nil {
		entry.mu.Unlock()
		return err
	}
	working.LastAccessed = s.now()
	entry.session = working
	entry.mu.Unlock()

	// Lock order is store before entry, so the LRU touch happens after the
	// entry lock is released.
	s.touch(entry)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok {
		return models.NewError(models.ErrSessionNotFound, "session %s not found", id)
	}
	delete(s.sessions, id)
	s.lru.Remove(entry.elem)
	return nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

// lookup finds a live entry, expiring it lazily when its TTL has passed.
func (s *MemoryStore) lookup(id string) (*sessionEntry, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()

	if ok && s.expired(entry) {
		s.mu.Lock()
		if current, still := s.sessions[id]; still && current == entry {
			delete(s.sessions, id)
			s.lru.Remove(entry.elem)
		}
		s.mu.Unlock()
		ok = false
	}
	if !ok {
		return nil, models.NewError(models.ErrSessionNotFound, "session %s not found", id)
	}
	return entry, nil
}

func (s *MemoryStore) expired(entry *sessionEntry) bool {
	if s.ttl <= 0 {
		return false
	}
	entry.mu.Lock()
	last := entry.session.LastAccessed
	entry.mu.Unlock()
	return s.now().Sub(last) > s.ttl
}

func (s *MemoryStore) touch(entry *sessionEntry) {
	s.mu.Lock()
	// MoveToFront is a no-op when the entry was evicted concurrently.
	s.lru.MoveToFront(entry.elem)
	s.mu.Unlock()
}

// evictOldestLocked removes the back of the LRU list. Caller holds s.mu.
func (s *MemoryStore) evictOldestLocked() {
	back := s.lru.Back()
	if back == nil {
		return
	}
	id := back.Value.(string)
	s.lru.Remove(back)
	delete(s.sessions, id)
	if s.logger != nil {
		s.logger.WithField("session_id", id).Debug("Evicted session at capacity")
	}
}

func (s *MemoryStore) janitor(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()

		case <-s.ctx.Done():
			return
		}
	}
}

// sweep walks the LRU list from the cold end and drops every expired
// session. LRU order matches last-access order, so the walk stops at the
// first live session.
func (s *MemoryStore) sweep() {
	cutoff := s.now().Add(-s.ttl)
	removed := 0

	s.mu.Lock()
	for {
		back := s.lru.Back()
		if back == nil {
			break
		}
		id := back.Value.(string)
		entry := s.sessions[id]

		entry.mu.Lock()
		last := entry.session.LastAccessed
		entry.mu.Unlock()

		if !last.Before(cutoff) {
			break
		}
		s.lru.Remove(back)
		delete(s.sessions, id)
		removed++
	}
	s.mu.Unlock()

	if removed > 0 && s.logger != nil {
		s.logger.WithField("count", removed).Debug("Swept expired sessions")
	}
}

func cloneSession(session *models.Session) *models.Session {
	clone := *session
	clone.EngagedIDs = copySet(session.EngagedIDs)
	clone.ExcludedIDs = copySet(session.ExcludedIDs)
	return &clone
}

func copySet(set map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(set))
	for k := range set {
		out[k] = struct{}{}
	}
	return out
}
