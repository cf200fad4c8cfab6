package ports

import (
	"context"

	"bitfinder/internal/domain"
)

// Engine is the torrent engine a session manager drives. It knows nothing
// about persistence or lifecycle policy.
type Engine interface {
	// Add registers a magnet and returns immediately; metadata resolution
	// is signalled through Torrent.GotInfo.
	Add(ctx context.Context, magnetURI string) (Torrent, error)
	Close() error
}

type Torrent interface {
	InfoHash() string
	Name() string
	GotInfo() <-chan struct{}
	// Completed is closed once every wanted byte is on disk and verified.
	Completed() <-chan struct{}
	// Failed delivers at most one error if the engine gives up on the torrent.
	Failed() <-chan error
	Files() []domain.FileInfo
	// SelectFile restricts downloading to a single file, read sequentially.
	SelectFile(index int) error
	Pause()
	Resume()
	Stats() TorrentStats
	NewReader(index int) (StreamReader, error)
	Drop(deleteData bool) error
}

type TorrentStats struct {
	TotalSize       int64
	BytesCompleted  int64
	Wanted          int64
	WantedCompleted int64
	Uploaded        int64
	DownloadSpeed   int64
	UploadSpeed     int64
	Peers           int
}
