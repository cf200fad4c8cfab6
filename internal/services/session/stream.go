package session

import (
	"context"
	"fmt"

	"bitfinder/internal/domain"
	"bitfinder/internal/domain/ports"
)

// OpenFile returns a reader for one file of a ready session. Without an
// explicit index the largest video file is used.
func (m *Manager) OpenFile(_ context.Context, infoHash string, index *int) (ports.StreamReader, domain.FileInfo, error) {
	m.mu.RLock()
	e, ok := m.sessions[normalizeHash(infoHash)]
	var t ports.Torrent
	var state domain.SessionState
	if ok {
		t, state = e.torrent, e.state
	}
	m.mu.RUnlock()
	if !ok || t == nil || state == domain.StateFetchingMetadata {
		return nil, domain.FileInfo{}, domain.ErrNotFound
	}

	files := t.Files()
	var target domain.FileInfo
	if index != nil {
		found := false
		for _, f := range files {
			if f.Index == *index {
				target, found = f, true
				break
			}
		}
		if !found {
			return nil, domain.FileInfo{}, fmt.Errorf("%w: file %d", domain.ErrNotFound, *index)
		}
	} else {
		var found bool
		target, found = largestVideoFile(files)
		if !found {
			return nil, domain.FileInfo{}, fmt.Errorf("%w: no video file", domain.ErrNotFound)
		}
	}

	reader, err := t.NewReader(target.Index)
	if err != nil {
		return nil, domain.FileInfo{}, err
	}
	return reader, target, nil
}
