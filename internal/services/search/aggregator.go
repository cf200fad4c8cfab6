package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"bitfinder/internal/domain"
	"bitfinder/internal/metrics"
	"bitfinder/internal/telemetry"
)

const (
	defaultBackendTimeout = 45 * time.Second
	defaultLimit          = 50
	maxLimit              = 200
)

type Aggregator struct {
	backends []Backend
	timeout  time.Duration
	cache    CacheBackend
	cacheTTL time.Duration
	retry    RetryConfig
	logger   *slog.Logger
}

type Option func(*Aggregator)

func WithCache(cache CacheBackend, ttl time.Duration) Option {
	return func(a *Aggregator) {
		a.cache = cache
		if ttl > 0 {
			a.cacheTTL = ttl
		}
	}
}

func WithRetry(cfg RetryConfig) Option {
	return func(a *Aggregator) {
		a.retry = cfg
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewAggregator(backends []Backend, timeout time.Duration, opts ...Option) *Aggregator {
	filtered := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b != nil {
			filtered = append(filtered, b)
		}
	}
	if timeout <= 0 {
		timeout = defaultBackendTimeout
	}
	a := &Aggregator{
		backends: filtered,
		timeout:  timeout,
		cacheTTL: 15 * time.Minute,
		retry:    DefaultRetryConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Search queries every enabled backend concurrently. A failing backend
// contributes no results; it never fails the search as a whole. Degraded
// results are returned but not cached, so a recovered backend is queried
// again on the next search.
func (a *Aggregator) Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchResult, error) {
	request.Query = strings.TrimSpace(request.Query)
	if request.Query == "" {
		return nil, ErrInvalidQuery
	}
	if request.Limit <= 0 {
		request.Limit = defaultLimit
	}
	if request.Limit > maxLimit {
		request.Limit = maxLimit
	}
	if request.Category == "" {
		request.Category = "all"
	}

	key := cacheKey(request)
	if a.cache != nil && !request.NoCache {
		cached, ok, err := a.cache.Get(ctx, key)
		if err != nil {
			a.logger.Warn("search cache read failed", slog.String("error", err.Error()))
		}
		if ok {
			metrics.CacheHitsTotal.Inc()
			return cached, nil
		}
		metrics.CacheMissesTotal.Inc()
	}

	perBackend := make([][]domain.SearchResult, len(a.backends))
	healthy := make([]bool, len(a.backends))
	var g errgroup.Group
	for i, backend := range a.backends {
		providers, enabled := selectProviders(backend, request.Providers)
		if !enabled {
			continue
		}
		sub := request
		sub.Providers = providers
		g.Go(func() error {
			perBackend[i], healthy[i] = a.searchBackend(ctx, backend, sub)
			return nil
		})
	}
	_ = g.Wait()

	complete := true
	for i, backend := range a.backends {
		if _, enabled := selectProviders(backend, request.Providers); enabled && !healthy[i] {
			complete = false
		}
	}

	var merged []domain.SearchResult
	for _, items := range perBackend {
		merged = append(merged, items...)
	}
	results := Normalize(merged)

	if a.cache != nil && complete {
		if err := a.cache.Set(ctx, key, results, a.cacheTTL); err != nil {
			a.logger.Warn("search cache write failed", slog.String("error", err.Error()))
		}
	}
	return results, nil
}

// searchBackend reports false when the backend failed or returned partial
// results.
func (a *Aggregator) searchBackend(ctx context.Context, backend Backend, request domain.SearchRequest) ([]domain.SearchResult, bool) {
	ctx, span := telemetry.Tracer("search").Start(ctx, "search.backend",
		trace.WithAttributes(attribute.String("backend", backend.Name())))
	defer span.End()
	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	startedAt := time.Now()
	var (
		items   []domain.SearchResult
		partial error
	)
	err := RetryWithBackoff(runCtx, a.retry, func() error {
		var searchErr error
		items, searchErr = backend.Search(runCtx, request)
		if errors.Is(searchErr, ErrPartialResults) {
			partial = searchErr
			return nil
		}
		partial = nil
		return searchErr
	})
	metrics.BackendRequestDuration.WithLabelValues(backend.Name()).Observe(time.Since(startedAt).Seconds())
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(backend.Name(), "error").Inc()
		span.SetStatus(codes.Error, err.Error())
		a.logger.Warn("search backend unavailable",
			slog.String("backend", backend.Name()),
			slog.String("query", request.Query),
			slog.String("error", fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err).Error()),
		)
		return nil, false
	}
	span.SetAttributes(attribute.Int("results", len(items)))
	if partial != nil {
		metrics.BackendRequestsTotal.WithLabelValues(backend.Name(), "partial").Inc()
		a.logger.Warn("search backend returned partial results",
			slog.String("backend", backend.Name()),
			slog.String("query", request.Query),
			slog.String("error", partial.Error()),
		)
		return items, false
	}
	metrics.BackendRequestsTotal.WithLabelValues(backend.Name(), "ok").Inc()
	return items, true
}

// Magnet resolves a magnet link through the backend that produced raw.
func (a *Aggregator) Magnet(ctx context.Context, raw domain.RawPayload) (string, error) {
	if err := raw.Validate(); err != nil {
		return "", err
	}
	for _, backend := range a.backends {
		for _, kind := range backend.Kinds() {
			if kind != raw.Kind {
				continue
			}
			runCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			magnet, err := backend.Magnet(runCtx, raw)
			if err != nil {
				return "", fmt.Errorf("%w: %s: %v", domain.ErrBackendUnavailable, backend.Name(), err)
			}
			if magnet == "" {
				return "", fmt.Errorf("%w: %s returned no magnet", domain.ErrNotFound, backend.Name())
			}
			return magnet, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownKind, raw.Kind)
}

// Providers lists every provider name across backends.
func (a *Aggregator) Providers() []string {
	var names []string
	for _, backend := range a.backends {
		names = append(names, backend.Providers()...)
	}
	return names
}
