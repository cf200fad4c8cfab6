package search

import (
	"context"
	"errors"
	"strings"

	"bitfinder/internal/domain"
)

var (
	ErrInvalidQuery = errors.New("query is required")
	ErrUnknownKind  = errors.New("no backend for raw payload kind")
	// ErrPartialResults accompanies results from a backend that lost some of
	// its providers. The results are usable but must not be cached.
	ErrPartialResults = errors.New("partial results")
)

// Backend is one independent search source. Results come back raw: the
// aggregator parses, filters and sorts them.
type Backend interface {
	Name() string
	// Providers lists the provider names this backend can serve.
	Providers() []string
	// Kinds lists the raw payload kinds this backend can resolve to magnets.
	Kinds() []domain.RawKind
	Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchResult, error)
	Magnet(ctx context.Context, raw domain.RawPayload) (string, error)
}

// selectProviders returns the subset of wanted that backend serves, and
// whether the backend is enabled at all. An empty filter enables every
// backend with all of its providers.
func selectProviders(backend Backend, wanted []string) ([]string, bool) {
	if len(wanted) == 0 {
		return nil, true
	}
	var selected []string
	for _, name := range wanted {
		for _, own := range backend.Providers() {
			if strings.EqualFold(strings.TrimSpace(name), own) {
				selected = append(selected, own)
				break
			}
		}
	}
	return selected, len(selected) > 0
}
