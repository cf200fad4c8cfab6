package domain

import (
	"errors"
	"strings"
)

// PersistedRecord is the durable part of a session. Everything else is
// rebuilt from the engine after a restart.
type PersistedRecord struct {
	MagnetURI string           `json:"magnetURI"`
	Paused    bool             `json:"paused"`
	Done      bool             `json:"done"`
	AddedAt   int64            `json:"addedAt"`
	Metadata  *SessionMetadata `json:"metadata,omitempty"`
}

type PersistedState struct {
	Torrents map[string]PersistedRecord `json:"torrents"`
}

func NewPersistedState() PersistedState {
	return PersistedState{Torrents: make(map[string]PersistedRecord)}
}

// Validate rejects records that cannot be restored.
func (r PersistedRecord) Validate() error {
	if strings.TrimSpace(r.MagnetURI) == "" {
		return errors.New("magnetURI is required")
	}
	if r.AddedAt < 0 {
		return errors.New("addedAt must not be negative")
	}
	return nil
}
