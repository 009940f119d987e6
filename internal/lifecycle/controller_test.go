package lifecycle

import (
	"testing"

	"github.com/npezzotti/go-presence/internal/testutil"
	"github.com/npezzotti/go-presence/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestController_SessionChanged(t *testing.T) {
	t.Run("login opens channel and subscribes", func(t *testing.T) {
		mc := &MockConnector{}
		defer mc.AssertExpectations(t)
		store := &MockPresenceCache{}
		defer store.AssertExpectations(t)

		mc.On("OnPresence", mock.AnythingOfType("func(types.PresenceRecord)")).Return(func() {}).Once()
		mc.On("Connect", "tok").Once()

		c := NewController(testutil.TestLogger(t), mc, store)
		c.SessionChanged("tok", true)

		assert.True(t, c.Active(), "expected controller to be active after login")
	})

	t.Run("forwards presence events into the store", func(t *testing.T) {
		mc := &MockConnector{}
		store := &MockPresenceCache{}
		defer store.AssertExpectations(t)

		var handler func(types.PresenceRecord)
		mc.On("OnPresence", mock.AnythingOfType("func(types.PresenceRecord)")).
			Run(func(args mock.Arguments) {
				handler = args.Get(0).(func(types.PresenceRecord))
			}).
			Return(func() {}).Once()
		mc.On("Connect", "tok").Once()

		c := NewController(testutil.TestLogger(t), mc, store)
		c.SessionChanged("tok", true)

		rec := types.PresenceRecord{UserId: 3, IsOnline: true, Status: types.StatusOnline}
		store.On("UpdateFromRealtime", rec).Once()
		handler(rec)
	})

	t.Run("logout disconnects, unsubscribes and clears the store", func(t *testing.T) {
		mc := &MockConnector{}
		defer mc.AssertExpectations(t)
		store := &MockPresenceCache{}
		defer store.AssertExpectations(t)

		var unsubscribed int
		mc.On("OnPresence", mock.AnythingOfType("func(types.PresenceRecord)")).
			Return(func() { unsubscribed++ }).Once()
		mc.On("Connect", "tok").Once()
		mc.On("Disconnect").Once()
		store.On("Clear").Once()

		c := NewController(testutil.TestLogger(t), mc, store)
		c.SessionChanged("tok", true)
		c.SessionChanged("", false)

		assert.False(t, c.Active(), "expected controller to be inactive after logout")
		assert.Equal(t, 1, unsubscribed, "expected presence subscription to be torn down")
	})

	t.Run("logout while inactive is a no-op", func(t *testing.T) {
		mc := &MockConnector{}
		defer mc.AssertExpectations(t)
		store := &MockPresenceCache{}
		defer store.AssertExpectations(t)

		c := NewController(testutil.TestLogger(t), mc, store)
		c.SessionChanged("", false)

		assert.False(t, c.Active(), "expected controller to stay inactive")
	})

	t.Run("unauthenticated token deactivates", func(t *testing.T) {
		mc := &MockConnector{}
		defer mc.AssertExpectations(t)
		store := &MockPresenceCache{}
		defer store.AssertExpectations(t)

		mc.On("OnPresence", mock.AnythingOfType("func(types.PresenceRecord)")).Return(func() {}).Once()
		mc.On("Connect", "tok").Once()
		mc.On("Disconnect").Once()
		store.On("Clear").Once()

		c := NewController(testutil.TestLogger(t), mc, store)
		c.SessionChanged("tok", true)
		// Token still present but expired.
		c.SessionChanged("tok", false)

		assert.False(t, c.Active(), "expected controller to deactivate on unusable session")
	})

	t.Run("repeated logins never stack subscriptions", func(t *testing.T) {
		mc := &MockConnector{}
		defer mc.AssertExpectations(t)
		store := &MockPresenceCache{}
		defer store.AssertExpectations(t)

		var unsubscribed int
		mc.On("OnPresence", mock.AnythingOfType("func(types.PresenceRecord)")).
			Return(func() { unsubscribed++ }).Times(2)
		mc.On("Connect", mock.AnythingOfType("string")).Times(3)
		mc.On("Disconnect").Once()
		store.On("Clear").Once()

		c := NewController(testutil.TestLogger(t), mc, store)
		c.SessionChanged("tok-1", true)
		// Re-activation with a refreshed token subscribes nothing new.
		c.SessionChanged("tok-2", true)
		c.SessionChanged("", false)
		c.SessionChanged("tok-3", true)

		assert.Equal(t, 1, unsubscribed, "expected exactly one teardown per active cycle")
		assert.True(t, c.Active(), "expected controller to be active again")
	})
}

func TestController_AppStateChanged(t *testing.T) {
	t.Run("foreground reconnects when channel is down", func(t *testing.T) {
		mc := &MockConnector{}
		defer mc.AssertExpectations(t)
		store := &MockPresenceCache{}

		mc.On("OnPresence", mock.AnythingOfType("func(types.PresenceRecord)")).Return(func() {}).Once()
		mc.On("Connect", "tok").Times(2)
		mc.On("IsConnected").Return(false).Once()

		c := NewController(testutil.TestLogger(t), mc, store)
		c.SessionChanged("tok", true)
		c.AppStateChanged(true)
	})

	t.Run("foreground with live channel does nothing", func(t *testing.T) {
		mc := &MockConnector{}
		defer mc.AssertExpectations(t)
		store := &MockPresenceCache{}

		mc.On("OnPresence", mock.AnythingOfType("func(types.PresenceRecord)")).Return(func() {}).Once()
		mc.On("Connect", "tok").Once()
		mc.On("IsConnected").Return(true).Once()

		c := NewController(testutil.TestLogger(t), mc, store)
		c.SessionChanged("tok", true)
		c.AppStateChanged(true)
	})

	t.Run("background is a no-op", func(t *testing.T) {
		mc := &MockConnector{}
		defer mc.AssertExpectations(t)
		store := &MockPresenceCache{}

		mc.On("OnPresence", mock.AnythingOfType("func(types.PresenceRecord)")).Return(func() {}).Once()
		mc.On("Connect", "tok").Once()

		c := NewController(testutil.TestLogger(t), mc, store)
		c.SessionChanged("tok", true)
		// The channel stays open while backgrounded.
		c.AppStateChanged(false)
	})

	t.Run("foreground while inactive does nothing", func(t *testing.T) {
		mc := &MockConnector{}
		defer mc.AssertExpectations(t)
		store := &MockPresenceCache{}

		c := NewController(testutil.TestLogger(t), mc, store)
		c.AppStateChanged(true)
	})
}
