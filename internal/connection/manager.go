package connection

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-presence/internal/stats"
	"github.com/npezzotti/go-presence/internal/types"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 75 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 64

	defaultHeartbeatInterval  = 30 * time.Second
	defaultMaxConnectAttempts = 5
	defaultInitialRetryDelay  = time.Second
	defaultMaxRetryDelay      = 5 * time.Second
)

// Manager owns the single realtime channel to the server. It handles
// the authentication handshake, bounded automatic reconnection, the
// periodic heartbeat, and fan-out of inbound events to subscribers.
// Connection failures are retried internally and never surfaced to
// callers; after retries are exhausted the manager stays disconnected
// until Connect is called again.
type Manager struct {
	log    *log.Logger
	stats  stats.StatsProvider
	url    string
	connId string

	heartbeatInterval  time.Duration
	maxConnectAttempts int
	initialRetryDelay  time.Duration
	maxRetryDelay      time.Duration

	// mu guards connection state. gen increments on every connect
	// cycle and on disconnect; pumps belonging to an older gen must
	// never deliver frames or trigger reconnects.
	mu    sync.Mutex
	state types.ConnectionState
	gen   int
	token string
	ws    *wsConn

	subMu        sync.Mutex
	nextSubId    int
	presenceSubs map[int]func(types.PresenceRecord)
	messageSubs  map[int]func(json.RawMessage)
	typingSubs   map[int]func(TypingEvent)
}

// wsConn is the per-connection state torn down as a unit.
type wsConn struct {
	gen  int
	conn *websocket.Conn
	send chan *ClientMessage
	stop chan struct{}
}

func NewManager(serverURL string, logger *log.Logger, su stats.StatsProvider) (*Manager, error) {
	if _, err := url.Parse(serverURL); err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}

	connId, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate connection id: %w", err)
	}

	for _, name := range []string{"ConnectionAttempts", "Reconnects", "HeartbeatsSent", "PresenceEvents", "MalformedEvents"} {
		su.RegisterMetric(name)
	}

	return &Manager{
		log:                logger,
		stats:              su,
		url:                serverURL,
		connId:             connId,
		heartbeatInterval:  defaultHeartbeatInterval,
		maxConnectAttempts: defaultMaxConnectAttempts,
		initialRetryDelay:  defaultInitialRetryDelay,
		maxRetryDelay:      defaultMaxRetryDelay,
		presenceSubs:       make(map[int]func(types.PresenceRecord)),
		messageSubs:        make(map[int]func(json.RawMessage)),
		typingSubs:         make(map[int]func(TypingEvent)),
	}, nil
}

// Connect opens the channel authenticated with token. Idempotent: a
// call while connecting or connected is a no-op.
func (m *Manager) Connect(token string) {
	m.mu.Lock()
	if m.state != types.StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = types.StateConnecting
	m.token = token
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.run(gen, token)
}

// Disconnect stops the heartbeat and closes the channel. Safe to call
// when already disconnected. The presence store is owned by the
// lifecycle controller and deliberately not touched here.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.token = ""
	w := m.ws
	m.ws = nil
	wasDown := m.state == types.StateDisconnected
	m.state = types.StateDisconnected
	m.mu.Unlock()

	if w != nil {
		close(w.stop)
		w.conn.Close()
	}
	if !wasDown {
		m.log.Println("disconnected from realtime channel")
	}
}

func (m *Manager) IsConnected() bool {
	return m.State() == types.StateConnected
}

func (m *Manager) State() types.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// run executes one bounded connect cycle for generation gen.
func (m *Manager) run(gen int, token string) {
	for attempt := 1; attempt <= m.maxConnectAttempts; attempt++ {
		if !m.isCurrent(gen) {
			return
		}

		m.stats.Incr("ConnectionAttempts")
		conn, err := m.dial(token)
		if err == nil {
			if !m.install(gen, conn, token) {
				conn.Close()
			}
			return
		}

		m.log.Printf("connect attempt %d: %v", attempt, err)
		if attempt < m.maxConnectAttempts {
			time.Sleep(m.retryDelay(attempt))
		}
	}

	m.log.Println("connection attempts exhausted")
	m.mu.Lock()
	if m.gen == gen {
		m.state = types.StateDisconnected
	}
	m.mu.Unlock()
}

func (m *Manager) retryDelay(attempt int) time.Duration {
	d := m.initialRetryDelay << (attempt - 1)
	if d > m.maxRetryDelay {
		d = m.maxRetryDelay
	}
	return d
}

// dial opens the websocket and performs the auth handshake. The token
// travels both in the query string (for proxies and load balancers
// that only see the handshake URL) and in the auth frame.
func (m *Manager) dial(token string) (*websocket.Conn, error) {
	u, err := url.Parse(m.url)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("conn_id", m.connId)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(&ClientMessage{Auth: &Auth{Token: token, ConnId: m.connId}}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("auth handshake: %w", err)
	}

	return conn, nil
}

func (m *Manager) install(gen int, conn *websocket.Conn, token string) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	w := &wsConn{
		gen:  gen,
		conn: conn,
		send: make(chan *ClientMessage, sendBufferSize),
		stop: make(chan struct{}),
	}
	m.ws = w
	m.state = types.StateConnected
	m.mu.Unlock()

	m.log.Println("connected to realtime channel")
	go m.writePump(w, token)
	go m.readPump(w)
	return true
}

// connectionLost starts a fresh reconnect cycle unless the connection
// was superseded or deliberately closed.
func (m *Manager) connectionLost(w *wsConn) {
	m.mu.Lock()
	if m.gen != w.gen || m.state != types.StateConnected {
		m.mu.Unlock()
		return
	}
	close(w.stop)
	m.ws = nil
	m.state = types.StateConnecting
	m.gen++
	gen := m.gen
	token := m.token
	m.mu.Unlock()

	m.stats.Incr("Reconnects")
	m.log.Println("realtime channel lost, reconnecting")
	go m.run(gen, token)
}

func (m *Manager) writePump(w *wsConn, token string) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer func() {
		ticker.Stop()
		w.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-w.send:
			if !ok {
				return
			}

			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteJSON(msg); err != nil {
				m.log.Println("write message:", err)
				return
			}
		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteJSON(&ClientMessage{Heartbeat: &Heartbeat{Token: token}}); err != nil {
				m.log.Println("write heartbeat:", err)
				return
			}
			m.stats.Incr("HeartbeatsSent")

			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-w.stop:
			return
		}
	}
}

func (m *Manager) readPump(w *wsConn) {
	defer func() {
		w.conn.Close()
		m.connectionLost(w)
	}()

	w.conn.SetReadLimit(maxMessageSize)
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error { w.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				m.log.Printf("ws: read: %v", err)
			}
			return
		}

		// A superseded connection must not deliver late frames.
		if !m.isCurrent(w.gen) {
			return
		}

		var msg ServerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			m.log.Println("error parsing message:", err)
			m.stats.Incr("MalformedEvents")
			continue
		}

		m.dispatch(&msg)
	}
}

func (m *Manager) dispatch(msg *ServerMessage) {
	switch {
	case msg.Presence != nil:
		m.stats.Incr("PresenceEvents")
		rec := msg.Presence.Record()
		rec.ObservedAt = time.Now()
		for _, fn := range m.presenceHandlers() {
			fn(rec)
		}
	case msg.Message != nil:
		for _, fn := range m.messageHandlers() {
			fn(msg.Message)
		}
	case msg.Typing != nil:
		for _, fn := range m.typingHandlers() {
			fn(*msg.Typing)
		}
	default:
		m.stats.Incr("MalformedEvents")
		m.log.Println("dropping frame with no recognized event")
	}
}

// OnPresence subscribes to inbound presence events. The returned
// unsubscribe function is safe to call multiple times, at any point,
// including from within the handler.
func (m *Manager) OnPresence(fn func(types.PresenceRecord)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSubId
	m.nextSubId++
	m.presenceSubs[id] = fn

	return func() {
		m.subMu.Lock()
		delete(m.presenceSubs, id)
		m.subMu.Unlock()
	}
}

// OnMessage subscribes to inbound message events. Payloads are opaque
// to this subsystem and forwarded as-is.
func (m *Manager) OnMessage(fn func(json.RawMessage)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSubId
	m.nextSubId++
	m.messageSubs[id] = fn

	return func() {
		m.subMu.Lock()
		delete(m.messageSubs, id)
		m.subMu.Unlock()
	}
}

// OnTyping subscribes to typing indicators.
func (m *Manager) OnTyping(fn func(TypingEvent)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSubId
	m.nextSubId++
	m.typingSubs[id] = fn

	return func() {
		m.subMu.Lock()
		delete(m.typingSubs, id)
		m.subMu.Unlock()
	}
}

func (m *Manager) presenceHandlers() []func(types.PresenceRecord) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	fns := make([]func(types.PresenceRecord), 0, len(m.presenceSubs))
	for _, fn := range m.presenceSubs {
		fns = append(fns, fn)
	}
	return fns
}

func (m *Manager) messageHandlers() []func(json.RawMessage) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	fns := make([]func(json.RawMessage), 0, len(m.messageSubs))
	for _, fn := range m.messageSubs {
		fns = append(fns, fn)
	}
	return fns
}

func (m *Manager) typingHandlers() []func(TypingEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	fns := make([]func(TypingEvent), 0, len(m.typingSubs))
	for _, fn := range m.typingSubs {
		fns = append(fns, fn)
	}
	return fns
}

// RequestPresence asks the server to emit current presence for a batch
// of users. Fire-and-forget: the answer arrives on the presence event
// stream.
func (m *Manager) RequestPresence(userIds []int) {
	if len(userIds) == 0 {
		return
	}
	m.queue(&ClientMessage{GetPresence: &GetPresence{UserIds: userIds}})
}

// JoinConversation subscribes this connection to a conversation's
// events. Best-effort: a silent no-op while disconnected.
func (m *Manager) JoinConversation(conversationId int) {
	m.queue(&ClientMessage{Join: &Join{ConversationId: conversationId, Token: m.currentToken()}})
}

func (m *Manager) LeaveConversation(conversationId int) {
	m.queue(&ClientMessage{Leave: &Leave{ConversationId: conversationId}})
}

func (m *Manager) SendTyping(conversationId int, isTyping bool) {
	m.queue(&ClientMessage{Typing: &Typing{ConversationId: conversationId, IsTyping: isTyping, Token: m.currentToken()}})
}

func (m *Manager) queue(msg *ClientMessage) {
	m.mu.Lock()
	w := m.ws
	connected := m.state == types.StateConnected
	m.mu.Unlock()

	// Advisory commands have no correctness impact on presence
	// arbitration, so a transient disconnect is not an error.
	if !connected || w == nil {
		return
	}

	select {
	case w.send <- msg:
	default:
		m.log.Println("send queue full, dropping frame")
	}
}

func (m *Manager) currentToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *Manager) isCurrent(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}
