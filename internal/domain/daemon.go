package domain

// RemoteStatus is the remote daemon's own status vocabulary.
type RemoteStatus string

const (
	RemoteQueued      RemoteStatus = "queued"
	RemoteChecking    RemoteStatus = "checking"
	RemoteDownloading RemoteStatus = "downloading"
	RemoteSeeding     RemoteStatus = "seeding"
	RemoteStopped     RemoteStatus = "stopped"
)

// RemoteTorrent is a torrent owned by a remote daemon. ID is the daemon's
// numeric id, not an infohash.
type RemoteTorrent struct {
	ID             int64        `json:"id"`
	Name           string       `json:"name"`
	HashString     string       `json:"hashString"`
	Status         RemoteStatus `json:"status"`
	Progress       float64      `json:"progress"`
	TotalSize      int64        `json:"totalSize"`
	DownloadSpeed  int64        `json:"downloadSpeed"`
	UploadSpeed    int64        `json:"uploadSpeed"`
	PeersConnected int          `json:"peersConnected"`
	ETA            int64        `json:"eta"`
	DownloadDir    string       `json:"downloadDir"`
	Error          string       `json:"error,omitempty"`
}
