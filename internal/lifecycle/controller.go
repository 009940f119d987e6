package lifecycle

import (
	"log"
	"sync"

	"github.com/npezzotti/go-presence/internal/types"
)

// Connector is the slice of the connection manager the controller
// drives.
type Connector interface {
	Connect(token string)
	Disconnect()
	IsConnected() bool
	OnPresence(fn func(types.PresenceRecord)) func()
}

// PresenceCache is the slice of the presence store the controller
// feeds and owns the clearing of.
type PresenceCache interface {
	UpdateFromRealtime(rec types.PresenceRecord)
	Clear()
}

// Controller binds the connection manager to the session state and to
// foreground/background transitions: the channel is open exactly when
// a usable session exists. It owns forwarding realtime events into the
// presence store and clearing the store on logout, keeping the
// connection manager ignorant of the presence data model.
type Controller struct {
	log   *log.Logger
	conn  Connector
	store PresenceCache

	mu          sync.Mutex
	active      bool
	token       string
	unsubscribe func()
}

func NewController(logger *log.Logger, conn Connector, store PresenceCache) *Controller {
	return &Controller{
		log:   logger,
		conn:  conn,
		store: store,
	}
}

// SessionChanged reacts to the session store: a usable token activates
// the controller, an empty or unusable one deactivates it. Repeated
// activations never stack presence subscriptions.
func (c *Controller) SessionChanged(token string, authenticated bool) {
	if token == "" || !authenticated {
		c.deactivate()
		return
	}
	c.activate(token)
}

// AppStateChanged reacts to foreground/background transitions. On
// foreground, a connection lost while backgrounded (automatic retries
// exhausted) is reopened. Backgrounding leaves the channel open so the
// user's own presence does not flicker offline for others.
func (c *Controller) AppStateChanged(foreground bool) {
	if !foreground {
		return
	}

	c.mu.Lock()
	active := c.active
	token := c.token
	c.mu.Unlock()

	if active && !c.conn.IsConnected() {
		c.log.Println("foregrounded while disconnected, reconnecting")
		c.conn.Connect(token)
	}
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) activate(token string) {
	c.mu.Lock()
	if c.active {
		c.token = token
		c.mu.Unlock()
		// Idempotent when already connected; re-establishes the
		// channel if automatic retries were exhausted.
		c.conn.Connect(token)
		return
	}
	c.active = true
	c.token = token
	c.unsubscribe = c.conn.OnPresence(c.store.UpdateFromRealtime)
	c.mu.Unlock()

	c.log.Println("session active, opening realtime channel")
	c.conn.Connect(token)
}

func (c *Controller) deactivate() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.token = ""
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.conn.Disconnect()
	c.store.Clear()
	c.log.Println("session cleared, realtime channel closed")
}
