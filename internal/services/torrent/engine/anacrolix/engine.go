package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"bitfinder/internal/domain"
	"bitfinder/internal/domain/ports"
)

// defaultMaxConns is restored when resuming a hard-paused torrent.
const defaultMaxConns = 35

// addMagnetTimeout caps the wait for the client to accept a magnet. AddMagnet
// can block on the client mutex while another torrent resolves metadata.
const addMagnetTimeout = 10 * time.Second

const defaultReadahead = 16 << 20

var ErrClientBusy = errors.New("torrent client busy, try again later")

type Config struct {
	DataDir    string
	ListenPort int
	Seed       bool
	// Readahead is how many bytes at the head of a selected file are
	// fetched ahead of the rest.
	Readahead int64
}

type Engine struct {
	client    *torrent.Client
	dataDir   string
	readahead int64

	mu       sync.Mutex
	torrents map[string]*Torrent
}

func New(cfg Config) (*Engine, error) {
	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	}
	if cfg.ListenPort > 0 {
		clientConfig.ListenPort = cfg.ListenPort
	}
	clientConfig.Seed = cfg.Seed

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}
	e := NewWithClient(client, cfg.DataDir)
	if cfg.Readahead > 0 {
		e.readahead = cfg.Readahead
	}
	return e, nil
}

func NewWithClient(client *torrent.Client, dataDir string) *Engine {
	return &Engine{
		client:    client,
		dataDir:   dataDir,
		readahead: defaultReadahead,
		torrents:  make(map[string]*Torrent),
	}
}

// Add hands the magnet to the client and returns without waiting for
// metadata. Adding a magnet that is already tracked returns the same handle.
func (e *Engine) Add(ctx context.Context, magnetURI string) (ports.Torrent, error) {
	if e.client == nil {
		return nil, errors.New("torrent client not configured")
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(magnetURI)), "magnet:") {
		return nil, fmt.Errorf("%w: not a magnet link", domain.ErrInvalidMagnet)
	}

	ch := make(chan addResult, 1)
	go func() {
		t, err := e.client.AddMagnet(magnetURI)
		ch <- addResult{t, err}
	}()

	var t *torrent.Torrent
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMagnet, res.err)
		}
		t = res.t
	case <-time.After(addMagnetTimeout):
		go dropLate(ch)
		return nil, ErrClientBusy
	case <-ctx.Done():
		go dropLate(ch)
		return nil, ctx.Err()
	}

	hash := t.InfoHash().HexString()

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.torrents[hash]; ok {
		return existing, nil
	}
	handle := newTorrent(e, t, hash)
	e.torrents[hash] = handle
	go handle.watch()
	return handle, nil
}

type addResult struct {
	t   *torrent.Torrent
	err error
}

// dropLate releases a torrent whose AddMagnet finished after the caller gave up.
func dropLate(ch <-chan addResult) {
	if res := <-ch; res.t != nil {
		res.t.Drop()
	}
}

func (e *Engine) forget(hash string) {
	e.mu.Lock()
	delete(e.torrents, hash)
	e.mu.Unlock()
}

func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	e.mu.Lock()
	for _, handle := range e.torrents {
		handle.markDropped()
	}
	e.torrents = make(map[string]*Torrent)
	e.mu.Unlock()
	return errors.Join(e.client.Close()...)
}
