package presence

import (
	"sync"

	"github.com/npezzotti/go-presence/internal/types"
)

// Resolution is the render-ready presence value for one user.
type Resolution struct {
	IsOnline        bool
	Status          types.Status
	LastSeenDisplay string
	Source          types.Source
}

// Resolver is the single read path consumers use to decide what to
// render for a user. The store already enforces arbitration, so a
// stored record is returned verbatim regardless of source.
type Resolver struct {
	store *Store
}

func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the presence value for userId. A zero userId means
// no subject and yields the neutral offline value. A supplied fallback
// is written through to the store so other consumers of the same user
// benefit from it.
func (r *Resolver) Resolve(userId int, fallback *types.RestPresence) Resolution {
	if userId == 0 {
		return offlineResolution()
	}

	if rec, ok := r.store.GetPresence(userId); ok {
		return Resolution{
			IsOnline:        rec.IsOnline,
			Status:          rec.Status,
			LastSeenDisplay: rec.LastSeenDisplay,
			Source:          rec.Source,
		}
	}

	if fallback != nil {
		r.store.UpdateFromRest(userId, *fallback)
		return Resolution{
			IsOnline:        fallback.IsOnline,
			Status:          fallback.Status,
			LastSeenDisplay: fallback.LastSeenDisplay,
			Source:          types.SourceRest,
		}
	}

	return offlineResolution()
}

func offlineResolution() Resolution {
	return Resolution{
		IsOnline: false,
		Status:   types.StatusOffline,
		Source:   types.SourceRest,
	}
}

// Subscription re-resolves a user's presence whenever the store's
// record for that user changes or the caller supplies a changed
// fallback, delivering each new value to the callback.
type Subscription struct {
	resolver *Resolver
	fn       func(Resolution)

	mu       sync.Mutex
	userId   int
	fallback *types.RestPresence
	last     Resolution
	started  bool

	cancelOnce  sync.Once
	cancelWatch func()
}

// Subscribe resolves immediately, delivers the initial value to fn,
// and keeps fn updated until the returned subscription is cancelled.
func (r *Resolver) Subscribe(userId int, fallback *types.RestPresence, fn func(Resolution)) *Subscription {
	sub := &Subscription{
		resolver: r,
		fn:       fn,
		userId:   userId,
		fallback: copyFallback(fallback),
	}

	sub.cancelWatch = r.store.Watch(func(changed int) {
		sub.mu.Lock()
		relevant := changed == 0 || changed == sub.userId
		sub.mu.Unlock()
		if relevant {
			sub.recompute()
		}
	})

	sub.recompute()
	return sub
}

// Update changes the subject or the fallback. Fallbacks are compared
// by value, since callers typically construct a fresh object from each
// REST response.
func (s *Subscription) Update(userId int, fallback *types.RestPresence) {
	s.mu.Lock()
	same := s.userId == userId && equalFallback(s.fallback, fallback)
	if !same {
		s.userId = userId
		s.fallback = copyFallback(fallback)
	}
	s.mu.Unlock()

	if !same {
		s.recompute()
	}
}

// Cancel stops change delivery. Safe to call multiple times.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(s.cancelWatch)
}

func (s *Subscription) recompute() {
	s.mu.Lock()
	userId := s.userId
	fallback := copyFallback(s.fallback)
	s.mu.Unlock()

	res := s.resolver.Resolve(userId, fallback)

	s.mu.Lock()
	changed := !s.started || res != s.last
	s.started = true
	s.last = res
	s.mu.Unlock()

	if changed {
		s.fn(res)
	}
}

func copyFallback(f *types.RestPresence) *types.RestPresence {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}

func equalFallback(a, b *types.RestPresence) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
