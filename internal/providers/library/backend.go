// Package library serves searches from in-process providers that talk to
// public JSON APIs directly.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"bitfinder/internal/domain"
	"bitfinder/internal/services/search"
)

// Provider is a single index reachable from the library backend.
type Provider interface {
	Name() string
	Kind() domain.RawKind
	Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchResult, error)
	Magnet(raw domain.RawPayload) (string, error)
}

type Backend struct {
	providers []Provider
	sem       *semaphore.Weighted
	logger    *slog.Logger
}

type Option func(*Backend)

func WithConcurrency(n int64) Option {
	return func(b *Backend) {
		if n > 0 {
			b.sem = semaphore.NewWeighted(n)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func New(providers []Provider, opts ...Option) *Backend {
	b := &Backend{
		providers: providers,
		sem:       semaphore.NewWeighted(4),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return "library" }

func (b *Backend) Providers() []string {
	names := make([]string, 0, len(b.providers))
	for _, p := range b.providers {
		names = append(names, p.Name())
	}
	return names
}

func (b *Backend) Kinds() []domain.RawKind {
	kinds := make([]domain.RawKind, 0, len(b.providers))
	for _, p := range b.providers {
		kinds = append(kinds, p.Kind())
	}
	return kinds
}

// Search queries the selected providers in parallel, once each; the
// aggregator owns retries. It fails only when every selected provider
// failed. When some failed, the remaining results come back with an error
// wrapping search.ErrPartialResults.
func (b *Backend) Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchResult, error) {
	selected := b.selected(request.Providers)
	if len(selected) == 0 {
		return nil, nil
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []domain.SearchResult
		errs    []error
	)
	for _, provider := range selected {
		if err := b.sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer b.sem.Release(1)

			items, err := provider.Search(ctx, request)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				b.logger.Warn("library provider failed",
					slog.String("provider", provider.Name()),
					slog.String("error", err.Error()),
				)
				errs = append(errs, fmt.Errorf("%s: %w", provider.Name(), err))
				return
			}
			results = append(results, items...)
		}()
	}
	wg.Wait()

	switch {
	case len(errs) == 0:
		return results, nil
	case len(errs) >= len(selected):
		return nil, errors.Join(errs...)
	default:
		return results, fmt.Errorf("%w: %w", search.ErrPartialResults, errors.Join(errs...))
	}
}

func (b *Backend) Magnet(_ context.Context, raw domain.RawPayload) (string, error) {
	for _, p := range b.providers {
		if p.Kind() == raw.Kind {
			return p.Magnet(raw)
		}
	}
	return "", fmt.Errorf("%w: %s", search.ErrUnknownKind, raw.Kind)
}

func (b *Backend) selected(names []string) []Provider {
	if len(names) == 0 {
		return b.providers
	}
	var out []Provider
	for _, p := range b.providers {
		for _, name := range names {
			if strings.EqualFold(name, p.Name()) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
