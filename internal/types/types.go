package types

import "time"

// Status is a user's displayed online status. The server owns the
// boundary between "recently" and "offline", so clients treat the
// value as opaque rather than re-deriving it from timestamps.
type Status string

const (
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
	StatusRecently Status = "recently"
)

// Source records how a presence value was obtained. Arbitration in the
// presence store is by source, not by recency: realtime always wins.
type Source string

const (
	SourceRealtime Source = "realtime"
	SourceRest     Source = "rest"
)

// PresenceRecord is the best-known online status of one user.
type PresenceRecord struct {
	UserId          int        `json:"user_id"`
	IsOnline        bool       `json:"is_online"`
	Status          Status     `json:"status"`
	LastSeenAt      *time.Time `json:"last_seen_at,omitempty"`
	LastSeenDisplay string     `json:"last_seen_display,omitempty"`
	Source          Source     `json:"source"`
	// ObservedAt is when the record was written locally. Diagnostics
	// only, never used for arbitration.
	ObservedAt time.Time `json:"observed_at"`
}

// RestPresence is the presence shape returned by the REST API, used
// only as a fallback input when no realtime data exists.
type RestPresence struct {
	IsOnline        bool   `json:"is_online"`
	Status          Status `json:"online_status"`
	LastSeenDisplay string `json:"last_seen_display,omitempty"`
}

// ConnectionState is the transient state of the realtime channel,
// owned exclusively by the connection manager.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}
