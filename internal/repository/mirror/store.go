package mirror

import (
	"context"
	"log/slog"

	"bitfinder/internal/domain"
	"bitfinder/internal/domain/ports"
)

// Store writes through to a primary state store and replicates every
// snapshot to a secondary one. Secondary failures are logged and never
// surface to the caller.
type Store struct {
	primary   ports.StateStore
	secondary ports.StateStore
	logger    *slog.Logger
}

func New(primary, secondary ports.StateStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{primary: primary, secondary: secondary, logger: logger}
}

// Load reads the primary. When the primary is unreadable the secondary is
// used instead, so a corrupt state file does not lose the session set.
func (s *Store) Load(ctx context.Context) (domain.PersistedState, error) {
	state, err := s.primary.Load(ctx)
	if err == nil || s.secondary == nil {
		return state, err
	}
	s.logger.Warn("primary state load failed, reading mirror", slog.String("error", err.Error()))
	fallback, mirrorErr := s.secondary.Load(ctx)
	if mirrorErr != nil {
		s.logger.Error("mirror state load failed", slog.String("error", mirrorErr.Error()))
		return domain.PersistedState{}, err
	}
	return fallback, nil
}

func (s *Store) Save(ctx context.Context, state domain.PersistedState) error {
	if err := s.primary.Save(ctx, state); err != nil {
		return err
	}
	if s.secondary == nil {
		return nil
	}
	if err := s.secondary.Save(ctx, state); err != nil {
		s.logger.Warn("mirror state save failed",
			slog.Int("sessions", len(state.Torrents)),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
