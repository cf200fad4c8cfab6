package anacrolix

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"bitfinder/internal/domain"
	"bitfinder/internal/domain/ports"
)

const completionPollInterval = time.Second

var errClosedByClient = errors.New("torrent closed by client")

// Torrent is the engine's handle for one magnet. Lifecycle policy lives in
// the session manager; this type only translates calls to the client.
type Torrent struct {
	engine *Engine
	t      *torrent.Torrent
	hash   string

	gotInfo   chan struct{}
	completed chan struct{}
	failed    chan error
	dropped   chan struct{}
	dropOnce  sync.Once

	mu            sync.Mutex
	selected      int
	peakCompleted int64
	speed         speedSample
}

func newTorrent(e *Engine, t *torrent.Torrent, hash string) *Torrent {
	return &Torrent{
		engine:    e,
		t:         t,
		hash:      hash,
		gotInfo:   make(chan struct{}),
		completed: make(chan struct{}),
		failed:    make(chan error, 1),
		dropped:   make(chan struct{}),
		selected:  -1,
	}
}

func (t *Torrent) InfoHash() string { return t.hash }

func (t *Torrent) Name() string {
	if t.t == nil {
		return ""
	}
	return t.t.Name()
}

func (t *Torrent) GotInfo() <-chan struct{}   { return t.gotInfo }
func (t *Torrent) Completed() <-chan struct{} { return t.completed }
func (t *Torrent) Failed() <-chan error       { return t.failed }

// watch signals metadata arrival, then polls until the wanted bytes are
// complete. A client-side close that was not requested through Drop is
// reported on Failed.
func (t *Torrent) watch() {
	select {
	case <-t.t.GotInfo():
		close(t.gotInfo)
	case <-t.t.Closed():
		t.reportClosed()
		return
	case <-t.dropped:
		return
	}

	ticker := time.NewTicker(completionPollInterval)
	defer ticker.Stop()
	for {
		if t.wantedComplete() {
			close(t.completed)
			return
		}
		select {
		case <-t.dropped:
			return
		case <-t.t.Closed():
			t.reportClosed()
			return
		case <-ticker.C:
		}
	}
}

func (t *Torrent) reportClosed() {
	select {
	case <-t.dropped:
	default:
		t.failed <- errClosedByClient
	}
}

func (t *Torrent) wantedComplete() bool {
	wanted, done := t.wanted()
	return wanted > 0 && done >= wanted
}

// wanted returns the byte total of the selected file, or of the whole
// torrent when nothing is selected, and how much of it is complete.
func (t *Torrent) wanted() (int64, int64) {
	if !torrentInfoReady(t.t) {
		return 0, 0
	}
	t.mu.Lock()
	selected := t.selected
	t.mu.Unlock()

	files := t.t.Files()
	if selected >= 0 && selected < len(files) {
		f := files[selected]
		return f.Length(), f.BytesCompleted()
	}
	return t.t.Length(), t.t.BytesCompleted()
}

func (t *Torrent) Files() []domain.FileInfo {
	return mapFiles(t.t)
}

// SelectFile downloads only the file at index, head first.
func (t *Torrent) SelectFile(index int) error {
	if !torrentInfoReady(t.t) {
		return fmt.Errorf("%w: metadata not ready", domain.ErrNotFound)
	}
	files := t.t.Files()
	if index < 0 || index >= len(files) {
		return fmt.Errorf("%w: file index %d", domain.ErrNotFound, index)
	}
	t.mu.Lock()
	t.selected = index
	t.mu.Unlock()
	t.applySelection()
	return nil
}

func (t *Torrent) applySelection() {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("applySelection recovered from panic",
				slog.Any("panic", rec),
				slog.String("infoHash", t.hash),
			)
		}
	}()

	t.mu.Lock()
	selected := t.selected
	t.mu.Unlock()

	files := t.t.Files()
	for i, f := range files {
		if i != selected {
			f.SetPriority(torrent.PiecePriorityNone)
		}
	}
	f := files[selected]
	f.Download()
	prioritizeHead(t.t, f, t.engine.readahead)
}

// Pause stops all network activity for the torrent.
func (t *Torrent) Pause() {
	hardPauseTorrent(t.t)
}

func (t *Torrent) Resume() {
	if t.t == nil {
		return
	}
	t.t.SetMaxEstablishedConns(defaultMaxConns)
	t.t.AllowDataUpload()
	t.t.AllowDataDownload()
	if !torrentInfoReady(t.t) {
		return
	}
	t.mu.Lock()
	selected := t.selected
	t.mu.Unlock()
	if selected >= 0 {
		t.applySelection()
		return
	}
	t.t.DownloadAll()
}

func (t *Torrent) Stats() ports.TorrentStats {
	if t.t == nil {
		return ports.TorrentStats{}
	}
	stats := t.t.Stats()
	down, up := t.sampleSpeed(stats, time.Now())
	out := ports.TorrentStats{
		Uploaded:      stats.BytesWrittenData.Int64(),
		DownloadSpeed: down,
		UploadSpeed:   up,
		Peers:         stats.ActivePeers,
	}
	if !torrentInfoReady(t.t) {
		return out
	}
	out.TotalSize = t.t.Length()
	out.BytesCompleted = t.stableCompleted(t.t.BytesCompleted())
	out.Wanted, out.WantedCompleted = t.wanted()
	return out
}

// stableCompleted keeps a high-water mark: after a restart the client
// re-verifies pieces from disk and BytesCompleted temporarily drops.
func (t *Torrent) stableCompleted(completed int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if completed > t.peakCompleted {
		t.peakCompleted = completed
	}
	return t.peakCompleted
}

func (t *Torrent) NewReader(index int) (ports.StreamReader, error) {
	if !torrentInfoReady(t.t) {
		return nil, fmt.Errorf("%w: metadata not ready", domain.ErrNotFound)
	}
	files := t.t.Files()
	if index < 0 || index >= len(files) {
		return nil, fmt.Errorf("%w: file index %d", domain.ErrNotFound, index)
	}
	reader := files[index].NewReader()
	reader.SetReadahead(t.engine.readahead)
	return reader, nil
}

// Drop removes the torrent from the client and, when deleteData is set,
// deletes its files from the data directory.
func (t *Torrent) Drop(deleteData bool) error {
	var files []domain.FileInfo
	if deleteData {
		files = mapFiles(t.t)
	}
	t.markDropped()
	t.engine.forget(t.hash)
	if t.t != nil {
		t.t.Drop()
	}
	if !deleteData || len(files) == 0 {
		return nil
	}
	return removeTorrentFiles(t.engine.dataDir, files)
}

func (t *Torrent) markDropped() {
	t.dropOnce.Do(func() { close(t.dropped) })
}

// hardPauseTorrent disallows transfer and drops every peer connection.
func hardPauseTorrent(t *torrent.Torrent) {
	if t == nil {
		return
	}
	t.DisallowDataDownload()
	t.DisallowDataUpload()
	t.SetMaxEstablishedConns(0)
}

func mapFiles(t *torrent.Torrent) (mapped []domain.FileInfo) {
	if !torrentInfoReady(t) {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("mapFiles panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			mapped = nil
		}
	}()

	files := t.Files()
	mapped = make([]domain.FileInfo, 0, len(files))
	for i, f := range files {
		length := f.Length()
		done := f.BytesCompleted()
		progress := 0.0
		if length > 0 {
			progress = float64(done) / float64(length)
		}
		mapped = append(mapped, domain.FileInfo{
			Index:      i,
			Name:       path.Base(f.DisplayPath()),
			Path:       f.Path(),
			Size:       length,
			Downloaded: done,
			Progress:   progress,
		})
	}
	return mapped
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}

type speedSample struct {
	at           time.Time
	bytesRead    int64
	bytesWritten int64
}

func (t *Torrent) sampleSpeed(stats torrent.TorrentStats, now time.Time) (int64, int64) {
	currentRead := stats.BytesReadUsefulData.Int64()
	currentWritten := stats.BytesWrittenData.Int64()

	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.speed
	t.speed = speedSample{at: now, bytesRead: currentRead, bytesWritten: currentWritten}
	if prev.at.IsZero() {
		return 0, 0
	}

	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0, 0
	}
	deltaRead := max(currentRead-prev.bytesRead, 0)
	deltaWritten := max(currentWritten-prev.bytesWritten, 0)
	return int64(float64(deltaRead) / dt), int64(float64(deltaWritten) / dt)
}
