package domain

// PlaceholderName is reported until the engine resolves the torrent name.
const PlaceholderName = "Loading..."

// SessionMetadata cross-references a session with the search result it was
// started from. It is never derived from the engine.
type SessionMetadata struct {
	Title    string `json:"title"`
	Provider string `json:"provider"`
	Size     string `json:"size"`
}

func (m SessionMetadata) IsZero() bool {
	return m.Title == "" && m.Provider == "" && m.Size == ""
}

type TorrentSession struct {
	InfoHash      string           `json:"infoHash"`
	Name          string           `json:"name"`
	MagnetURI     string           `json:"magnetURI"`
	State         SessionState     `json:"state"`
	Progress      float64          `json:"progress"`
	Downloaded    int64            `json:"downloaded"`
	Uploaded      int64            `json:"uploaded"`
	TotalSize     int64            `json:"totalSize"`
	DownloadSpeed int64            `json:"downloadSpeed"`
	UploadSpeed   int64            `json:"uploadSpeed"`
	NumPeers      int              `json:"numPeers"`
	TimeRemaining *int64           `json:"timeRemaining"`
	Paused        bool             `json:"paused"`
	Done          bool             `json:"done"`
	Files         []FileInfo       `json:"files"`
	Metadata      *SessionMetadata `json:"metadata,omitempty"`
	LastError     string           `json:"lastError,omitempty"`
	AddedAt       int64            `json:"addedAt"`
}
