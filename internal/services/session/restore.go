package session

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"bitfinder/internal/domain"
)

// Restore replays the persisted session set after the configured delay.
// Records that finished before are restored paused and known-complete.
// One failing record never blocks the others.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	state, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Error("load session state failed", slog.String("error", err.Error()))
		return err
	}
	if len(state.Torrents) == 0 {
		return nil
	}

	if m.cfg.RestoreDelay > 0 {
		timer := time.NewTimer(m.cfg.RestoreDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-m.closed:
			timer.Stop()
			return ErrClosed
		case <-timer.C:
		}
	}

	type pending struct {
		hash   string
		record domain.PersistedRecord
	}
	records := make([]pending, 0, len(state.Torrents))
	for hash, record := range state.Torrents {
		records = append(records, pending{hash: hash, record: record})
	}
	slices.SortFunc(records, func(a, b pending) int { return cmp.Compare(a.record.AddedAt, b.record.AddedAt) })

	// Register everything first so snapshots written while the engine
	// resolves keep the records that have not come back yet.
	var started []*entry
	for _, p := range records {
		if err := p.record.Validate(); err != nil {
			m.logger.Warn("skipping invalid session record",
				slog.String("infoHash", p.hash),
				slog.String("error", err.Error()),
			)
			continue
		}
		hash, err := InfoHashFromMagnet(p.record.MagnetURI)
		if err != nil {
			m.logger.Warn("skipping session record with bad magnet",
				slog.String("infoHash", p.hash),
				slog.String("error", err.Error()),
			)
			continue
		}
		opts := AddOptions{
			Paused:      p.record.Paused || p.record.Done,
			WasComplete: p.record.Done,
			Metadata:    p.record.Metadata,
		}
		e, created, err := m.register(hash, p.record.MagnetURI, opts, p.record.AddedAt)
		if err != nil {
			return err
		}
		if created {
			started = append(started, e)
		}
	}

	var wg sync.WaitGroup
	for _, e := range started {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.start(ctx, e); err != nil {
				m.logger.Error("restore session failed",
					slog.String("infoHash", e.hash),
					slog.String("error", err.Error()),
				)
				return
			}
			if _, err := m.awaitReady(ctx, e); err != nil {
				m.logger.Warn("restored session not ready",
					slog.String("infoHash", e.hash),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
	wg.Wait()
	m.logger.Info("sessions restored", slog.Int("count", len(started)))
	return nil
}
