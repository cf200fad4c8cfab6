package ports

import (
	"context"

	"bitfinder/internal/domain"
)

// StateStore persists the whole session snapshot at once.
type StateStore interface {
	Load(ctx context.Context) (domain.PersistedState, error)
	Save(ctx context.Context, state domain.PersistedState) error
}
