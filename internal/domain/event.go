package domain

type SessionEventType string

const (
	EventAdded     SessionEventType = "added"
	EventReady     SessionEventType = "ready"
	EventPaused    SessionEventType = "paused"
	EventResumed   SessionEventType = "resumed"
	EventCompleted SessionEventType = "completed"
	EventRemoved   SessionEventType = "removed"
	EventError     SessionEventType = "error"
)

// SessionEvent is published by the session manager on every lifecycle
// transition.
type SessionEvent struct {
	Type     SessionEventType `json:"type"`
	InfoHash string           `json:"infoHash"`
	Session  *TorrentSession  `json:"session,omitempty"`
	Error    string           `json:"error,omitempty"`
}
