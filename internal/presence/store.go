package presence

import (
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-presence/internal/stats"
	"github.com/npezzotti/go-presence/internal/types"
)

// Store is the arbitrated presence cache. It holds at most one record
// per user and resolves conflicts by source: a realtime write always
// replaces whatever is there, a REST write is discarded once a
// realtime record exists. REST responses carry no ordering guarantee
// relative to realtime events, so comparing timestamps could not
// prevent a live status regressing to stale data; tagging by origin
// can.
type Store struct {
	log   *log.Logger
	stats stats.StatsProvider

	mu       sync.RWMutex
	records  map[int]types.PresenceRecord
	watchers map[int]func(userId int)
	nextId   int
}

func NewStore(logger *log.Logger, su stats.StatsProvider) *Store {
	su.RegisterMetric("PresenceUpdates")
	su.RegisterMetric("RestWritesSuppressed")

	return &Store{
		log:      logger,
		stats:    su,
		records:  make(map[int]types.PresenceRecord),
		watchers: make(map[int]func(userId int)),
	}
}

// UpdateFromRealtime writes rec unconditionally. This is the only
// write path allowed to replace an existing realtime record.
func (s *Store) UpdateFromRealtime(rec types.PresenceRecord) {
	rec.Source = types.SourceRealtime
	rec.ObservedAt = time.Now()

	s.mu.Lock()
	s.records[rec.UserId] = rec
	s.mu.Unlock()

	s.stats.Incr("PresenceUpdates")
	s.notify(rec.UserId)
}

// UpdateFromRest writes a REST-sourced record unless the user already
// has a realtime one, in which case the data is discarded, not queued.
func (s *Store) UpdateFromRest(userId int, data types.RestPresence) {
	s.mu.Lock()
	if existing, ok := s.records[userId]; ok && existing.Source == types.SourceRealtime {
		s.mu.Unlock()
		s.stats.Incr("RestWritesSuppressed")
		return
	}

	s.records[userId] = types.PresenceRecord{
		UserId:          userId,
		IsOnline:        data.IsOnline,
		Status:          data.Status,
		LastSeenDisplay: data.LastSeenDisplay,
		Source:          types.SourceRest,
		ObservedAt:      time.Now(),
	}
	s.mu.Unlock()

	s.stats.Incr("PresenceUpdates")
	s.notify(userId)
}

func (s *Store) GetPresence(userId int) (types.PresenceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userId]
	return rec, ok
}

func (s *Store) IsOnline(userId int) bool {
	rec, ok := s.GetPresence(userId)
	return ok && rec.IsOnline
}

// Clear drops all records. Called by the lifecycle controller on
// logout; watchers are notified with user id 0.
func (s *Store) Clear() {
	s.mu.Lock()
	n := len(s.records)
	s.records = make(map[int]types.PresenceRecord)
	s.mu.Unlock()

	if n > 0 {
		s.log.Printf("cleared %d presence records", n)
	}
	s.notify(0)
}

// Watch registers fn to be called with the user id of every changed
// record (0 for a full clear). The returned unsubscribe function is
// safe to call multiple times and from within fn.
func (s *Store) Watch(fn func(userId int)) func() {
	s.mu.Lock()
	id := s.nextId
	s.nextId++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(userId int) {
	s.mu.RLock()
	fns := make([]func(int), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(userId)
	}
}
