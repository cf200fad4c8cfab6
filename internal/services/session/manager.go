package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent/metainfo"

	"bitfinder/internal/domain"
	"bitfinder/internal/domain/ports"
	"bitfinder/internal/metrics"
)

const (
	DefaultMetadataTimeout = 60 * time.Second
	DefaultRestoreDelay    = time.Second
	persistTimeout         = 10 * time.Second
)

type Config struct {
	MetadataTimeout time.Duration
	RestoreDelay    time.Duration
}

type AddOptions struct {
	Paused      bool
	WasComplete bool
	Metadata    *domain.SessionMetadata
}

// Manager owns every local torrent session. All mutation goes through its
// methods so the persisted view and the engine never diverge.
type Manager struct {
	engine ports.Engine
	store  ports.StateStore
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry

	persistMu sync.Mutex
	events    broker

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(engine ports.Engine, store ports.StateStore, cfg Config, opts ...Option) *Manager {
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = DefaultMetadataTimeout
	}
	if cfg.RestoreDelay < 0 {
		cfg.RestoreDelay = 0
	}
	m := &Manager{
		engine:   engine,
		store:    store,
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
		sessions: make(map[string]*entry),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.events.subscribers = make(map[chan domain.SessionEvent]struct{})
	return m
}

// InfoHashFromMagnet returns the lowercase hex infohash of a magnet link.
func InfoHashFromMagnet(magnetURI string) (string, error) {
	trimmed := strings.TrimSpace(magnetURI)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", domain.ErrInvalidMagnet)
	}
	m, err := metainfo.ParseMagnetUri(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidMagnet, err)
	}
	return strings.ToLower(m.InfoHash.HexString()), nil
}

// Add starts a session for magnetURI, or returns the existing one with the
// same infohash. It waits for metadata up to the configured timeout; on
// timeout the session stays registered and keeps resolving in the background.
func (m *Manager) Add(ctx context.Context, magnetURI string, opts AddOptions) (domain.TorrentSession, error) {
	hash, err := InfoHashFromMagnet(magnetURI)
	if err != nil {
		return domain.TorrentSession{}, err
	}
	e, created, err := m.register(hash, strings.TrimSpace(magnetURI), opts, m.now().UnixMilli())
	if err != nil {
		return domain.TorrentSession{}, err
	}
	if created {
		m.persist()
		if err := m.start(ctx, e); err != nil {
			return domain.TorrentSession{}, err
		}
	} else if opts.Metadata != nil {
		m.persist()
	}
	return m.awaitReady(ctx, e)
}

// register finds or creates the entry for hash. Metadata supplied for an
// existing session replaces the stored cross-reference.
func (m *Manager) register(hash, magnetURI string, opts AddOptions, addedAt int64) (*entry, bool, error) {
	select {
	case <-m.closed:
		return nil, false, ErrClosed
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[hash]; ok {
		if opts.Metadata != nil && !opts.Metadata.IsZero() {
			md := *opts.Metadata
			existing.metadata = &md
		}
		return existing, false, nil
	}
	e := newEntry(hash, magnetURI, opts, addedAt)
	m.sessions[hash] = e
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return e, true, nil
}

// start hands the entry to the engine and launches its watcher.
func (m *Manager) start(ctx context.Context, e *entry) error {
	t, err := m.engine.Add(ctx, e.magnetURI)
	if err != nil {
		m.drop(e, err)
		if errors.Is(err, domain.ErrInvalidMagnet) {
			return err
		}
		return wrapEngine(err)
	}

	m.mu.Lock()
	if e.state == domain.StateRemoved {
		m.mu.Unlock()
		_ = t.Drop(false)
		return ErrRemoved
	}
	e.torrent = t
	paused := e.paused
	m.mu.Unlock()

	if paused {
		t.Pause()
	}
	m.publish(domain.EventAdded, e, "")
	m.wg.Add(1)
	go m.watch(e, t)
	return nil
}

func (m *Manager) awaitReady(ctx context.Context, e *entry) (domain.TorrentSession, error) {
	timer := time.NewTimer(m.cfg.MetadataTimeout)
	defer timer.Stop()

	select {
	case <-e.ready:
		if e.readyErr != nil {
			return domain.TorrentSession{}, e.readyErr
		}
		return m.project(m.view(e)), nil
	case <-timer.C:
		metrics.MetadataTimeoutsTotal.Inc()
		m.logger.Warn("metadata timeout",
			slog.String("infoHash", e.hash),
			slog.Duration("timeout", m.cfg.MetadataTimeout),
		)
		return domain.TorrentSession{}, fmt.Errorf("%w: %s", domain.ErrMetadataTimeout, e.hash)
	case <-ctx.Done():
		return domain.TorrentSession{}, ctx.Err()
	}
}

// watch follows one torrent from metadata to completion. It exits when the
// session is removed, the manager closes, or the engine fails the torrent.
func (m *Manager) watch(e *entry, t ports.Torrent) {
	defer m.wg.Done()

	select {
	case <-t.GotInfo():
		m.onReady(e, t)
	case err := <-t.Failed():
		m.onPendingFailure(e, t, err)
		return
	case <-e.stop:
		return
	case <-m.closed:
		return
	}

	completed := t.Completed()
	for {
		select {
		case <-completed:
			m.onDone(e, t)
			completed = nil
		case err := <-t.Failed():
			m.onFailure(e, err)
			return
		case <-e.stop:
			return
		case <-m.closed:
			return
		}
	}
}

func (m *Manager) onReady(e *entry, t ports.Torrent) {
	m.mu.RLock()
	paused, knownComplete := e.paused, e.knownComplete
	m.mu.RUnlock()

	if paused {
		t.Pause()
	}
	if !knownComplete {
		m.selectLargest(e, t)
	}
	if !paused {
		t.Resume()
	}

	m.mu.Lock()
	if e.state == domain.StateRemoved {
		m.mu.Unlock()
		return
	}
	next := domain.StateActive
	if e.paused {
		next = domain.StatePaused
		if e.done {
			next = domain.StateCompleted
		}
	}
	m.transitionLocked(e, next)
	m.mu.Unlock()

	e.resolve(nil)
	m.persist()
	m.publish(domain.EventReady, e, "")
	m.logger.Info("torrent ready",
		slog.String("infoHash", e.hash),
		slog.String("name", t.Name()),
	)
}

// selectLargest narrows the download to the biggest file.
func (m *Manager) selectLargest(e *entry, t ports.Torrent) {
	idx := largestFile(t.Files())
	if idx < 0 {
		return
	}
	if err := t.SelectFile(idx); err != nil {
		m.logger.Warn("select largest file failed",
			slog.String("infoHash", e.hash),
			slog.Int("file", idx),
			slog.String("error", err.Error()),
		)
		return
	}
	m.mu.Lock()
	e.fileSelected = true
	m.mu.Unlock()
}

// onDone force-pauses a freshly completed session. Sessions already known
// to be done, such as restored ones, are left as they are.
func (m *Manager) onDone(e *entry, t ports.Torrent) {
	m.mu.Lock()
	if e.state == domain.StateRemoved || e.done {
		m.mu.Unlock()
		return
	}
	e.done = true
	e.paused = true
	m.transitionLocked(e, domain.StateCompleted)
	m.mu.Unlock()

	t.Pause()
	m.persist()
	m.publish(domain.EventCompleted, e, "")
	m.logger.Info("torrent completed", slog.String("infoHash", e.hash))
}

func (m *Manager) onPendingFailure(e *entry, t ports.Torrent, err error) {
	m.logger.Error("torrent failed before metadata",
		slog.String("infoHash", e.hash),
		slog.String("error", err.Error()),
	)
	m.drop(e, wrapEngine(err))
	_ = t.Drop(false)
}

func (m *Manager) onFailure(e *entry, err error) {
	m.mu.Lock()
	e.lastError = err.Error()
	m.mu.Unlock()
	m.logger.Error("torrent error",
		slog.String("infoHash", e.hash),
		slog.String("error", err.Error()),
	)
	m.publish(domain.EventError, e, err.Error())
}

// drop forgets an entry that never became ready and fails its waiters.
func (m *Manager) drop(e *entry, cause error) {
	m.mu.Lock()
	if current, ok := m.sessions[e.hash]; ok && current == e {
		delete(m.sessions, e.hash)
	}
	e.state = domain.StateRemoved
	e.stopWatching()
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	e.resolve(cause)
	m.persist()
	m.publish(domain.EventError, e, cause.Error())
}

func (m *Manager) Pause(_ context.Context, infoHash string) error {
	m.mu.Lock()
	e, ok := m.sessions[normalizeHash(infoHash)]
	if !ok {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	e.paused = true
	if e.state == domain.StateActive {
		m.transitionLocked(e, domain.StatePaused)
	}
	t := e.torrent
	m.mu.Unlock()

	if t != nil {
		t.Pause()
	}
	m.persist()
	m.publish(domain.EventPaused, e, "")
	return nil
}

// Resume restarts network activity. It also drops the known-complete
// override so live progress is reported again. A restored completed
// session never had a file selected; it gets the largest one first so
// resuming does not pull in every file of the torrent.
func (m *Manager) Resume(_ context.Context, infoHash string) error {
	m.mu.Lock()
	e, ok := m.sessions[normalizeHash(infoHash)]
	if !ok {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	e.paused = false
	e.knownComplete = false
	if e.state == domain.StatePaused || e.state == domain.StateCompleted {
		m.transitionLocked(e, domain.StateActive)
	}
	t := e.torrent
	needsSelection := !e.fileSelected
	m.mu.Unlock()

	if t != nil {
		if needsSelection && hasInfo(t) {
			m.selectLargest(e, t)
		}
		t.Resume()
	}
	m.persist()
	m.publish(domain.EventResumed, e, "")
	return nil
}

// Remove drops the session and its persisted record. It reports false
// without error when the infohash is unknown. Once the session is gone the
// removal counts as done: a failure to delete its data is logged and sent
// with the removed event, and files stay on disk.
func (m *Manager) Remove(_ context.Context, infoHash string, deleteData bool) (bool, error) {
	select {
	case <-m.closed:
		return false, ErrClosed
	default:
	}

	m.mu.Lock()
	e, ok := m.sessions[normalizeHash(infoHash)]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	delete(m.sessions, e.hash)
	m.transitionLocked(e, domain.StateRemoved)
	e.stopWatching()
	t := e.torrent
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	e.resolve(ErrRemoved)
	var dropErr string
	if t != nil {
		if err := t.Drop(deleteData); err != nil {
			dropErr = fmt.Sprintf("delete torrent data: %v", err)
			m.logger.Error("torrent data left on disk",
				slog.String("infoHash", e.hash),
				slog.Bool("deleteData", deleteData),
				slog.String("error", err.Error()),
			)
		}
	}
	m.persist()
	m.publish(domain.EventRemoved, e, dropErr)
	return true, nil
}

func (m *Manager) transitionLocked(e *entry, to domain.SessionState) {
	if e.state == to {
		return
	}
	if !domain.CanTransition(e.state, to) {
		m.logger.Warn("ignored session transition",
			slog.String("infoHash", e.hash),
			slog.String("error", fmt.Sprintf("%v: %s -> %s", domain.ErrInvalidTransition, e.state, to)),
		)
		return
	}
	e.state = to
	metrics.SessionTransitionsTotal.WithLabelValues(string(to)).Inc()
}

// persist writes a snapshot of the current session set. Failures are logged
// and counted, never returned.
func (m *Manager) persist() {
	if m.store == nil {
		return
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	state := m.snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.store.Save(ctx, state); err != nil {
		metrics.PersistFailuresTotal.Inc()
		m.logger.Error("persist session state failed",
			slog.String("error", fmt.Errorf("%w: %v", domain.ErrPersistenceWrite, err).Error()),
		)
	}
}

func (m *Manager) snapshot() domain.PersistedState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state := domain.NewPersistedState()
	for hash, e := range m.sessions {
		record := domain.PersistedRecord{
			MagnetURI: e.magnetURI,
			Paused:    e.paused,
			Done:      e.done,
			AddedAt:   e.addedAt,
		}
		if e.metadata != nil {
			md := *e.metadata
			record.Metadata = &md
		}
		state.Torrents[hash] = record
	}
	return state
}

// Close stops every watcher. Engine handles stay with the engine, which the
// caller closes separately.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
	})
	m.wg.Wait()
	m.events.closeAll()
	return nil
}

func hasInfo(t ports.Torrent) bool {
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}

func normalizeHash(infoHash string) string {
	return strings.ToLower(strings.TrimSpace(infoHash))
}
