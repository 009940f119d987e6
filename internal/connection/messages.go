package connection

import (
	"encoding/json"
	"time"

	"github.com/npezzotti/go-presence/internal/types"
)

// ClientMessage is the envelope for every client-to-server frame.
// Exactly one field is set per frame.
type ClientMessage struct {
	Auth        *Auth        `json:"auth,omitempty"`
	Heartbeat   *Heartbeat   `json:"heartbeat,omitempty"`
	GetPresence *GetPresence `json:"get_presence,omitempty"`
	Join        *Join        `json:"join,omitempty"`
	Leave       *Leave       `json:"leave,omitempty"`
	Typing      *Typing      `json:"typing,omitempty"`
}

// Auth is sent once immediately after the channel opens. The token is
// also carried in the handshake query string for proxies that only see
// the URL.
type Auth struct {
	Token  string `json:"token"`
	ConnId string `json:"conn_id,omitempty"`
}

// Heartbeat keeps the server-side last-seen timestamp fresh without
// requiring user activity.
type Heartbeat struct {
	Token string `json:"token"`
}

type GetPresence struct {
	UserIds []int `json:"user_ids"`
}

type Join struct {
	ConversationId int    `json:"conversation_id"`
	Token          string `json:"token"`
}

type Leave struct {
	ConversationId int `json:"conversation_id"`
}

type Typing struct {
	ConversationId int    `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
	Token          string `json:"token"`
}

// ServerMessage is the envelope for every server-to-client frame.
type ServerMessage struct {
	Presence *PresenceEvent  `json:"presence,omitempty"`
	Message  json.RawMessage `json:"message,omitempty"`
	Typing   *TypingEvent    `json:"typing,omitempty"`
}

// PresenceEvent carries a user's current status as the server knows
// it. The online_status enumeration is server-owned.
type PresenceEvent struct {
	UserId          int          `json:"user_id"`
	IsOnline        bool         `json:"is_online"`
	OnlineStatus    types.Status `json:"online_status"`
	LastSeen        *time.Time   `json:"last_seen,omitempty"`
	LastSeenDisplay string       `json:"last_seen_display,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
}

// TypingEvent is informational only; it is never persisted in the
// presence store.
type TypingEvent struct {
	ConversationId int  `json:"conversation_id"`
	UserId         int  `json:"user_id"`
	IsTyping       bool `json:"is_typing"`
}

// Record converts a presence event into a store record.
func (e *PresenceEvent) Record() types.PresenceRecord {
	return types.PresenceRecord{
		UserId:          e.UserId,
		IsOnline:        e.IsOnline,
		Status:          e.OnlineStatus,
		LastSeenAt:      e.LastSeen,
		LastSeenDisplay: e.LastSeenDisplay,
		Source:          types.SourceRealtime,
	}
}
