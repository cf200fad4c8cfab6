package session

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"bitfinder/internal/domain"
	"bitfinder/internal/domain/ports"
)

// ---------------------------------------------------------------------------
// fakeTorrent
// ---------------------------------------------------------------------------

type fakeTorrent struct {
	mu sync.Mutex

	hash  string
	name  string
	files []domain.FileInfo
	stats ports.TorrentStats
	data  map[int][]byte

	gotInfo      chan struct{}
	completed    chan struct{}
	failed       chan error
	infoOnce     sync.Once
	completeOnce sync.Once

	selected    int
	selectCalls int
	pauseCalls  int
	resumeCalls int
	dropCalls   int
	dropData    bool
	dropErr     error
}

func newFakeTorrent(hash string) *fakeTorrent {
	return &fakeTorrent{
		hash:      hash,
		name:      "Fake.Torrent." + hash[:6],
		gotInfo:   make(chan struct{}),
		completed: make(chan struct{}),
		failed:    make(chan error, 1),
		selected:  -1,
	}
}

func (f *fakeTorrent) resolveInfo()     { f.infoOnce.Do(func() { close(f.gotInfo) }) }
func (f *fakeTorrent) complete()        { f.completeOnce.Do(func() { close(f.completed) }) }
func (f *fakeTorrent) fail(e error)     { f.failed <- e }
func (f *fakeTorrent) InfoHash() string { return f.hash }

func (f *fakeTorrent) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name
}

func (f *fakeTorrent) GotInfo() <-chan struct{}   { return f.gotInfo }
func (f *fakeTorrent) Completed() <-chan struct{} { return f.completed }
func (f *fakeTorrent) Failed() <-chan error       { return f.failed }

func (f *fakeTorrent) Files() []domain.FileInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.FileInfo(nil), f.files...)
}

func (f *fakeTorrent) SelectFile(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectCalls++
	f.selected = index
	return nil
}

func (f *fakeTorrent) Pause() {
	f.mu.Lock()
	f.pauseCalls++
	f.mu.Unlock()
}

func (f *fakeTorrent) Resume() {
	f.mu.Lock()
	f.resumeCalls++
	f.mu.Unlock()
}

func (f *fakeTorrent) Stats() ports.TorrentStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeTorrent) NewReader(index int) (ports.StreamReader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[index]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &fakeReader{Reader: bytes.NewReader(data)}, nil
}

func (f *fakeTorrent) Drop(deleteData bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropCalls++
	f.dropData = deleteData
	return f.dropErr
}

func (f *fakeTorrent) counts() (selectCalls, pauses, resumes, drops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selectCalls, f.pauseCalls, f.resumeCalls, f.dropCalls
}

type fakeReader struct {
	*bytes.Reader
}

func (r *fakeReader) Close() error               { return nil }
func (r *fakeReader) SetContext(context.Context) {}
func (r *fakeReader) SetReadahead(int64)         {}

// ---------------------------------------------------------------------------
// fakeEngine
// ---------------------------------------------------------------------------

type fakeEngine struct {
	mu       sync.Mutex
	torrents map[string]*fakeTorrent
	addCalls int
	addErr   error
	// autoInfo resolves metadata as soon as a torrent is added.
	autoInfo bool
	// setup customises torrents created on demand.
	setup func(*fakeTorrent)
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{torrents: make(map[string]*fakeTorrent), autoInfo: true}
}

func (e *fakeEngine) Add(_ context.Context, magnetURI string) (ports.Torrent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.addCalls++
	if e.addErr != nil {
		return nil, e.addErr
	}
	hash, err := InfoHashFromMagnet(magnetURI)
	if err != nil {
		return nil, err
	}
	t, ok := e.torrents[hash]
	if !ok {
		t = newFakeTorrent(hash)
		if e.setup != nil {
			e.setup(t)
		}
		e.torrents[hash] = t
	}
	if e.autoInfo {
		t.resolveInfo()
	}
	return t, nil
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) torrent(hash string) *fakeTorrent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.torrents[hash]
}

// preload registers a torrent before it is added.
func (e *fakeEngine) preload(t *fakeTorrent) {
	e.mu.Lock()
	e.torrents[t.hash] = t
	e.mu.Unlock()
}

func (e *fakeEngine) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addCalls
}

// ---------------------------------------------------------------------------
// fakeStore
// ---------------------------------------------------------------------------

type fakeStore struct {
	mu      sync.Mutex
	state   domain.PersistedState
	saves   int
	saveErr error
	loadErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: domain.NewPersistedState()}
}

func (s *fakeStore) Load(context.Context) (domain.PersistedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return domain.PersistedState{}, s.loadErr
	}
	return copyState(s.state), nil
}

func (s *fakeStore) Save(_ context.Context, state domain.PersistedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.state = copyState(state)
	return nil
}

func (s *fakeStore) record(hash string) (domain.PersistedRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.Torrents[hash]
	return r, ok
}

func copyState(in domain.PersistedState) domain.PersistedState {
	out := domain.NewPersistedState()
	for k, v := range in.Torrents {
		out.Torrents[k] = v
	}
	return out
}

var errBoom = errors.New("boom")
