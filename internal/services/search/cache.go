package search

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"
	"time"

	"bitfinder/internal/domain"
)

// CacheBackend stores normalized result lists keyed by request.
type CacheBackend interface {
	Get(ctx context.Context, key string) ([]domain.SearchResult, bool, error)
	Set(ctx context.Context, key string, results []domain.SearchResult, ttl time.Duration) error
}

func cacheKey(request domain.SearchRequest) string {
	providers := make([]string, 0, len(request.Providers))
	for _, p := range request.Providers {
		providers = append(providers, strings.ToLower(strings.TrimSpace(p)))
	}
	slices.Sort(providers)
	raw := strings.Join([]string{
		strings.ToLower(request.Query),
		strings.ToLower(request.Category),
		strconv.Itoa(request.Limit),
		strings.Join(providers, ","),
	}, "|")
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
