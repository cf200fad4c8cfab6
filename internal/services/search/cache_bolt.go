package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	bolt "go.etcd.io/bbolt"

	"bitfinder/internal/domain"
)

const boltCacheBucket = "search_cache"

type boltEntry struct {
	ExpiresAt time.Time             `json:"expiresAt"`
	Results   []domain.SearchResult `json:"results"`
}

// BoltCache is the on-disk fallback used when no Redis address is configured.
// Expired entries are ignored on read and swept by a cron job.
type BoltCache struct {
	db        *bolt.DB
	scheduler *cron.Cron
	logger    *slog.Logger
	now       func() time.Time
}

func OpenBoltCache(path string, logger *slog.Logger) (*BoltCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltCacheBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache bucket: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BoltCache{db: db, logger: logger, now: time.Now}, nil
}

func (c *BoltCache) Get(_ context.Context, key string) ([]domain.SearchResult, bool, error) {
	var entry *boltEntry
	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltCacheBucket))
		if bucket == nil {
			return errors.New("cache bucket is missing")
		}
		raw := bucket.Get([]byte(key))
		if len(raw) == 0 {
			return nil
		}
		var decoded boltEntry
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return err
		}
		entry = &decoded
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if entry == nil || !c.now().Before(entry.ExpiresAt) {
		return nil, false, nil
	}
	return entry.Results, true, nil
}

func (c *BoltCache) Set(_ context.Context, key string, results []domain.SearchResult, ttl time.Duration) error {
	payload, err := json.Marshal(boltEntry{ExpiresAt: c.now().Add(ttl), Results: results})
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltCacheBucket))
		if bucket == nil {
			return errors.New("cache bucket is missing")
		}
		return bucket.Put([]byte(key), payload)
	})
}

// Purge deletes expired entries and returns how many were removed.
func (c *BoltCache) Purge() (int, error) {
	now := c.now()
	removed := 0
	err := c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltCacheBucket))
		if bucket == nil {
			return nil
		}
		var stale [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			var entry boltEntry
			if err := json.Unmarshal(v, &entry); err != nil || !now.Before(entry.ExpiresAt) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// StartPurge schedules Purge with a cron spec such as "@every 10m".
func (c *BoltCache) StartPurge(spec string) error {
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(spec, func() {
		removed, err := c.Purge()
		if err != nil {
			c.logger.Warn("search cache purge failed", slog.String("error", err.Error()))
			return
		}
		if removed > 0 {
			c.logger.Debug("search cache purged", slog.Int("entries", removed))
		}
	}); err != nil {
		return fmt.Errorf("schedule cache purge: %w", err)
	}
	scheduler.Start()
	c.scheduler = scheduler
	return nil
}

func (c *BoltCache) Close() error {
	if c.scheduler != nil {
		<-c.scheduler.Stop().Done()
	}
	return c.db.Close()
}
