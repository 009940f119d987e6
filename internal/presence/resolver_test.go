package presence

import (
	"testing"

	"github.com/npezzotti/go-presence/internal/types"
	"github.com/stretchr/testify/assert"
)

func newTestResolver(t *testing.T) (*Resolver, *Store) {
	s, _ := newTestStore(t)
	return NewResolver(s), s
}

func TestResolver_Resolve(t *testing.T) {
	t.Run("no subject returns neutral offline", func(t *testing.T) {
		r, _ := newTestResolver(t)

		res := r.Resolve(0, &types.RestPresence{IsOnline: true, Status: types.StatusOnline})
		assert.False(t, res.IsOnline, "expected neutral value to be offline")
		assert.Equal(t, types.StatusOffline, res.Status, "expected neutral status to be offline")
		assert.Empty(t, res.LastSeenDisplay, "expected no last-seen text")
	})

	t.Run("store record wins over fallback", func(t *testing.T) {
		r, s := newTestResolver(t)
		s.UpdateFromRealtime(types.PresenceRecord{UserId: 4, IsOnline: true, Status: types.StatusOnline})

		res := r.Resolve(4, &types.RestPresence{IsOnline: false, Status: types.StatusOffline, LastSeenDisplay: "yesterday"})
		assert.True(t, res.IsOnline, "expected store record to be returned verbatim")
		assert.Equal(t, types.SourceRealtime, res.Source, "expected realtime source")
		assert.Empty(t, res.LastSeenDisplay, "expected fallback text to be ignored")
	})

	t.Run("fallback is returned and cached", func(t *testing.T) {
		r, s := newTestResolver(t)

		fallback := &types.RestPresence{IsOnline: false, Status: types.StatusRecently, LastSeenDisplay: "5 minutes ago"}
		res := r.Resolve(9, fallback)

		assert.False(t, res.IsOnline, "expected fallback value to be returned")
		assert.Equal(t, types.StatusRecently, res.Status, "expected fallback status")
		assert.Equal(t, "5 minutes ago", res.LastSeenDisplay, "expected fallback last-seen text")
		assert.Equal(t, types.SourceRest, res.Source, "expected rest source")

		rec, ok := s.GetPresence(9)
		assert.True(t, ok, "expected fallback to be written into the store")
		assert.Equal(t, types.SourceRest, rec.Source, "expected cached record to be rest-sourced")
		assert.Equal(t, "5 minutes ago", rec.LastSeenDisplay, "expected cached record to carry the fallback text")
	})

	t.Run("no record and no fallback returns neutral offline", func(t *testing.T) {
		r, _ := newTestResolver(t)

		res := r.Resolve(12, nil)
		assert.False(t, res.IsOnline, "expected offline default")
		assert.Equal(t, types.StatusOffline, res.Status, "expected offline status")
	})
}

func TestResolver_Subscribe(t *testing.T) {
	t.Run("delivers initial value and store changes", func(t *testing.T) {
		r, s := newTestResolver(t)

		var got []Resolution
		sub := r.Subscribe(8, nil, func(res Resolution) {
			got = append(got, res)
		})
		defer sub.Cancel()

		assert.Len(t, got, 1, "expected initial resolution to be delivered")
		assert.False(t, got[0].IsOnline, "expected initial value to be offline")

		s.UpdateFromRealtime(types.PresenceRecord{UserId: 8, IsOnline: true, Status: types.StatusOnline})
		assert.Len(t, got, 2, "expected recompute on store change")
		assert.True(t, got[1].IsOnline, "expected updated value to be online")
	})

	t.Run("ignores changes for other users", func(t *testing.T) {
		r, s := newTestResolver(t)

		var calls int
		sub := r.Subscribe(8, nil, func(Resolution) { calls++ })
		defer sub.Cancel()

		s.UpdateFromRealtime(types.PresenceRecord{UserId: 99, IsOnline: true, Status: types.StatusOnline})
		assert.Equal(t, 1, calls, "expected only the initial delivery")
	})

	t.Run("fallback change is value compared", func(t *testing.T) {
		r, _ := newTestResolver(t)

		var got []Resolution
		fallback := &types.RestPresence{IsOnline: false, Status: types.StatusOffline, LastSeenDisplay: "yesterday"}
		sub := r.Subscribe(15, fallback, func(res Resolution) {
			got = append(got, res)
		})
		defer sub.Cancel()

		assert.Len(t, got, 1, "expected initial delivery from fallback")

		// A fresh object with identical fields must not recompute.
		same := &types.RestPresence{IsOnline: false, Status: types.StatusOffline, LastSeenDisplay: "yesterday"}
		sub.Update(15, same)
		assert.Len(t, got, 1, "expected no recompute for value-equal fallback")

		// The store already holds the first fallback for user 15, so a
		// changed fallback is superseded by the cached record.
		changed := &types.RestPresence{IsOnline: false, Status: types.StatusRecently, LastSeenDisplay: "just now"}
		sub.Update(15, changed)
		assert.Len(t, got, 1, "expected cached record to keep resolution stable")
	})

	t.Run("subject change recomputes", func(t *testing.T) {
		r, s := newTestResolver(t)
		s.UpdateFromRealtime(types.PresenceRecord{UserId: 21, IsOnline: true, Status: types.StatusOnline})

		var got []Resolution
		sub := r.Subscribe(20, nil, func(res Resolution) {
			got = append(got, res)
		})
		defer sub.Cancel()

		sub.Update(21, nil)
		assert.Len(t, got, 2, "expected recompute when subject changes")
		assert.True(t, got[1].IsOnline, "expected new subject's record")
	})

	t.Run("clear recomputes to neutral", func(t *testing.T) {
		r, s := newTestResolver(t)
		s.UpdateFromRealtime(types.PresenceRecord{UserId: 8, IsOnline: true, Status: types.StatusOnline})

		var got []Resolution
		sub := r.Subscribe(8, nil, func(res Resolution) {
			got = append(got, res)
		})
		defer sub.Cancel()

		s.Clear()
		assert.True(t, got[0].IsOnline, "expected initial value from store")
		assert.False(t, got[len(got)-1].IsOnline, "expected neutral value after clear")
	})

	t.Run("cancel is idempotent", func(t *testing.T) {
		r, s := newTestResolver(t)

		var calls int
		sub := r.Subscribe(8, nil, func(Resolution) { calls++ })
		sub.Cancel()
		sub.Cancel()

		s.UpdateFromRealtime(types.PresenceRecord{UserId: 8, IsOnline: true, Status: types.StatusOnline})
		assert.Equal(t, 1, calls, "expected no delivery after cancel")
	})
}
