package apihttp

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"bitfinder/internal/domain"
	"bitfinder/internal/domain/ports"
	"bitfinder/internal/services/session"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer builds a Server around the given fakes and closes it when
// the test ends.
func newTestServer(t *testing.T, sessions SessionService, opts ...ServerOption) *Server {
	t.Helper()
	opts = append([]ServerOption{WithLogger(quietLogger())}, opts...)
	s := NewServer(sessions, opts...)
	t.Cleanup(s.Close)
	return s
}

// --- sessions ---

type fakeSessions struct {
	mu sync.Mutex

	torrents []domain.TorrentSession

	addCalls  int
	addMagnet string
	addOpts   session.AddOptions
	addResult domain.TorrentSession
	addErr    error

	pauseCalls  int
	resumeCalls int
	lastHash    string
	controlErr  error

	removeCalls int
	removeData  bool
	removed     bool
	removeErr   error

	matchCalls int
	candidate  domain.SessionMetadata
	match      *domain.TorrentSession

	openIndex *int
	openErr   error
	file      domain.FileInfo
	data      []byte
	reader    *fakeStreamReader

	events      chan domain.SessionEvent
	cancelOnce  sync.Once
	unsubscribe int
}

func (f *fakeSessions) Add(_ context.Context, magnetURI string, opts session.AddOptions) (domain.TorrentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	f.addMagnet = magnetURI
	f.addOpts = opts
	return f.addResult, f.addErr
}

func (f *fakeSessions) List() []domain.TorrentSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TorrentSession(nil), f.torrents...)
}

func (f *fakeSessions) Get(infoHash string) (domain.TorrentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.torrents {
		if t.InfoHash == infoHash {
			return t, nil
		}
	}
	return domain.TorrentSession{}, domain.ErrNotFound
}

func (f *fakeSessions) Pause(_ context.Context, infoHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCalls++
	f.lastHash = infoHash
	return f.controlErr
}

func (f *fakeSessions) Resume(_ context.Context, infoHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeCalls++
	f.lastHash = infoHash
	return f.controlErr
}

func (f *fakeSessions) Remove(_ context.Context, infoHash string, deleteData bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeCalls++
	f.lastHash = infoHash
	f.removeData = deleteData
	return f.removed, f.removeErr
}

func (f *fakeSessions) FindByMetadata(candidate domain.SessionMetadata) (domain.TorrentSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matchCalls++
	f.candidate = candidate
	if f.match == nil {
		return domain.TorrentSession{}, false
	}
	return *f.match, true
}

func (f *fakeSessions) OpenFile(_ context.Context, infoHash string, index *int) (ports.StreamReader, domain.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastHash = infoHash
	f.openIndex = index
	if f.openErr != nil {
		return nil, domain.FileInfo{}, f.openErr
	}
	f.reader = &fakeStreamReader{Reader: bytes.NewReader(f.data)}
	return f.reader, f.file, nil
}

func (f *fakeSessions) Subscribe() (<-chan domain.SessionEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events == nil {
		f.events = make(chan domain.SessionEvent, 8)
	}
	ch := f.events
	return ch, func() {
		f.cancelOnce.Do(func() {
			f.mu.Lock()
			f.unsubscribe++
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *fakeSessions) emit(ev domain.SessionEvent) {
	f.mu.Lock()
	ch := f.events
	f.mu.Unlock()
	ch <- ev
}

type fakeStreamReader struct {
	*bytes.Reader
	mu          sync.Mutex
	ctxSet      bool
	readahead   int64
	closeCalled int
}

func (r *fakeStreamReader) SetContext(context.Context) {
	r.mu.Lock()
	r.ctxSet = true
	r.mu.Unlock()
}

func (r *fakeStreamReader) SetReadahead(n int64) {
	r.mu.Lock()
	r.readahead = n
	r.mu.Unlock()
}

func (r *fakeStreamReader) Close() error {
	r.mu.Lock()
	r.closeCalled++
	r.mu.Unlock()
	return nil
}

// --- search ---

type fakeSearch struct {
	mu        sync.Mutex
	calls     int
	request   domain.SearchRequest
	results   []domain.SearchResult
	searchErr error

	magnetCalls int
	raw         domain.RawPayload
	magnet      string
	magnetErr   error
}

func (f *fakeSearch) Search(_ context.Context, request domain.SearchRequest) ([]domain.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.request = request
	return f.results, f.searchErr
}

func (f *fakeSearch) Magnet(_ context.Context, raw domain.RawPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.magnetCalls++
	f.raw = raw
	return f.magnet, f.magnetErr
}

func (f *fakeSearch) Providers() []string { return []string{"piratebay", "yts", "1337x"} }

// --- remote daemon ---

type fakeRemote struct {
	mu         sync.Mutex
	torrents   []domain.RemoteTorrent
	added      string
	lastID     int64
	lastAction string
	deleteData bool
	err        error
}

func (f *fakeRemote) Add(_ context.Context, magnet string) (domain.RemoteTorrent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = magnet
	f.lastAction = "add"
	if f.err != nil {
		return domain.RemoteTorrent{}, f.err
	}
	return domain.RemoteTorrent{ID: 42, Name: "added", Status: domain.RemoteQueued}, nil
}

func (f *fakeRemote) List(context.Context) ([]domain.RemoteTorrent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAction = "list"
	return f.torrents, f.err
}

func (f *fakeRemote) Pause(_ context.Context, id int64) error {
	return f.record("pause", id, false)
}

func (f *fakeRemote) Resume(_ context.Context, id int64) error {
	return f.record("resume", id, false)
}

func (f *fakeRemote) Remove(_ context.Context, id int64, deleteData bool) error {
	return f.record("remove", id, deleteData)
}

func (f *fakeRemote) record(action string, id int64, deleteData bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAction = action
	f.lastID = id
	f.deleteData = deleteData
	return f.err
}
