package session

import (
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"bitfinder/internal/domain"
	"bitfinder/internal/domain/ports"
)

type entry struct {
	hash      string
	magnetURI string
	addedAt   int64

	// Guarded by Manager.mu.
	torrent       ports.Torrent
	state         domain.SessionState
	paused        bool
	done          bool
	knownComplete bool
	fileSelected  bool
	metadata      *domain.SessionMetadata
	lastError     string

	ready     chan struct{}
	readyErr  error
	readyOnce sync.Once
	stop      chan struct{}
	stopOnce  sync.Once
}

func newEntry(hash, magnetURI string, opts AddOptions, addedAt int64) *entry {
	e := &entry{
		hash:          hash,
		magnetURI:     magnetURI,
		addedAt:       addedAt,
		state:         domain.StateFetchingMetadata,
		paused:        opts.Paused || opts.WasComplete,
		done:          opts.WasComplete,
		knownComplete: opts.WasComplete,
		ready:         make(chan struct{}),
		stop:          make(chan struct{}),
	}
	if opts.Metadata != nil && !opts.Metadata.IsZero() {
		md := *opts.Metadata
		e.metadata = &md
	}
	return e
}

// resolve releases everyone waiting on metadata. Only the first call counts.
func (e *entry) resolve(err error) {
	e.readyOnce.Do(func() {
		e.readyErr = err
		close(e.ready)
	})
}

func (e *entry) stopWatching() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// entryView is a copy of an entry's guarded fields, taken under the lock so
// engine calls can happen outside it.
type entryView struct {
	hash          string
	magnetURI     string
	addedAt       int64
	torrent       ports.Torrent
	state         domain.SessionState
	paused        bool
	done          bool
	knownComplete bool
	metadata      *domain.SessionMetadata
	lastError     string
}

func (m *Manager) view(e *entry) entryView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return viewLocked(e)
}

func viewLocked(e *entry) entryView {
	v := entryView{
		hash:          e.hash,
		magnetURI:     e.magnetURI,
		addedAt:       e.addedAt,
		torrent:       e.torrent,
		state:         e.state,
		paused:        e.paused,
		done:          e.done,
		knownComplete: e.knownComplete,
		lastError:     e.lastError,
	}
	if e.metadata != nil {
		md := *e.metadata
		v.metadata = &md
	}
	return v
}

func (m *Manager) views() []entryView {
	m.mu.RLock()
	out := make([]entryView, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, viewLocked(e))
	}
	m.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b entryView) int {
		if a.addedAt != b.addedAt {
			if a.addedAt < b.addedAt {
				return -1
			}
			return 1
		}
		return strings.Compare(a.hash, b.hash)
	})
	return out
}

// project renders the public session shape from live engine state.
// Known-complete sessions are pinned at full progress with no transfer.
func (m *Manager) project(v entryView) domain.TorrentSession {
	s := domain.TorrentSession{
		InfoHash:  v.hash,
		Name:      domain.PlaceholderName,
		MagnetURI: v.magnetURI,
		State:     v.state,
		Paused:    v.paused,
		Done:      v.done,
		Files:     []domain.FileInfo{},
		Metadata:  v.metadata,
		LastError: v.lastError,
		AddedAt:   v.addedAt,
	}

	t := v.torrent
	if t != nil {
		if v.state != domain.StateFetchingMetadata {
			if name := t.Name(); name != "" {
				s.Name = name
			}
		}
		if files := t.Files(); files != nil {
			s.Files = files
		}
		stats := t.Stats()
		s.TotalSize = stats.TotalSize
		s.Downloaded = stats.BytesCompleted
		s.Uploaded = stats.Uploaded
		s.DownloadSpeed = stats.DownloadSpeed
		s.UploadSpeed = stats.UploadSpeed
		s.NumPeers = stats.Peers
		if stats.Wanted > 0 {
			s.Progress = min(float64(stats.WantedCompleted)/float64(stats.Wanted), 1)
		}
		s.TimeRemaining = timeRemaining(stats, v.paused)
	}

	if v.knownComplete {
		s.Progress = 1
		s.Downloaded = s.TotalSize
		s.DownloadSpeed = 0
		s.UploadSpeed = 0
		zero := int64(0)
		s.TimeRemaining = &zero
		for i := range s.Files {
			s.Files[i].Downloaded = s.Files[i].Size
			s.Files[i].Progress = 1
		}
	}
	return s
}

// timeRemaining estimates milliseconds left. It is nil when the rate is
// unknown.
func timeRemaining(stats ports.TorrentStats, paused bool) *int64 {
	if stats.Wanted > 0 && stats.WantedCompleted >= stats.Wanted {
		zero := int64(0)
		return &zero
	}
	if paused || stats.DownloadSpeed <= 0 || stats.Wanted <= 0 {
		return nil
	}
	ms := (stats.Wanted - stats.WantedCompleted) * 1000 / stats.DownloadSpeed
	return &ms
}

func (m *Manager) List() []domain.TorrentSession {
	views := m.views()
	out := make([]domain.TorrentSession, 0, len(views))
	for _, v := range views {
		out = append(out, m.project(v))
	}
	return out
}

func (m *Manager) Get(infoHash string) (domain.TorrentSession, error) {
	m.mu.RLock()
	e, ok := m.sessions[normalizeHash(infoHash)]
	if !ok {
		m.mu.RUnlock()
		return domain.TorrentSession{}, domain.ErrNotFound
	}
	v := viewLocked(e)
	m.mu.RUnlock()
	return m.project(v), nil
}

var videoExtensions = []string{".mp4", ".mkv", ".avi", ".webm", ".mov", ".m4v"}

func isVideoFile(name string) bool {
	return slices.Contains(videoExtensions, strings.ToLower(filepath.Ext(name)))
}

// largestFile returns the index of the biggest file, or -1 for none.
func largestFile(files []domain.FileInfo) int {
	best := -1
	for i, f := range files {
		if best < 0 || f.Size > files[best].Size {
			best = i
		}
	}
	if best < 0 {
		return -1
	}
	return files[best].Index
}

// largestVideoFile is the default stream target.
func largestVideoFile(files []domain.FileInfo) (domain.FileInfo, bool) {
	var (
		best  domain.FileInfo
		found bool
	)
	for _, f := range files {
		if !isVideoFile(f.Name) && !isVideoFile(f.Path) {
			continue
		}
		if !found || f.Size > best.Size {
			best = f
			found = true
		}
	}
	return best, found
}
