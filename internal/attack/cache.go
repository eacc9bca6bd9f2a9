package attack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"

	"attackmap/internal/config"
)

var (
	bucketCorpus = []byte("corpus")
	bucketMeta   = []byte("meta")
)

// cacheMeta is the sidecar metadata record stored alongside each corpus blob.
type cacheMeta struct {
	CachedAt  time.Time `json:"cached_at"`
	Matrix    string    `json:"matrix"`
	SizeBytes int       `json:"size_bytes"`
}

// Cache persists one raw corpus blob per matrix type with a TTL freshness
// contract. All entries live in a single Bolt file so concurrent readers
// get file-level locking for free.
type Cache struct {
	cfg    config.CacheConfig
	db     *bolt.DB
	logger *zap.Logger

	// now is swappable in tests.
	now func() time.Time
}

// OpenCache opens (or creates) the cache database. When caching is disabled
// in configuration no file is touched and every lookup is a miss.
func OpenCache(cfg config.CacheConfig, logger *zap.Logger) (*Cache, error) {
	c := &Cache{cfg: cfg, logger: logger, now: time.Now}
	if !cfg.Enabled {
		logger.Info("corpus cache disabled")
		return c, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(cfg.Dir, "attack_cache.db"), 0o600,
		&bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCorpus); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache buckets: %w", err)
	}

	c.db = db
	logger.Info("corpus cache initialized", zap.String("dir", cfg.Dir))
	return c, nil
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// IsCached reports whether a fresh entry exists for the matrix. Read errors
// while checking freshness count as a miss, never as an error.
func (c *Cache) IsCached(matrix config.MatrixType) bool {
	if c.db == nil {
		return false
	}

	var meta cacheMeta
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get([]byte(matrix))
		if raw == nil {
			return fmt.Errorf("no metadata for %s", matrix)
		}
		return json.Unmarshal(raw, &meta)
	})
	if err != nil {
		c.logger.Debug("cache miss", zap.String("matrix", string(matrix)))
		return false
	}

	if c.now().Sub(meta.CachedAt) > c.cfg.TTL {
		c.logger.Info("cache expired", zap.String("matrix", string(matrix)))
		return false
	}
	return true
}

// Get returns the cached corpus blob for the matrix, or nil/false on a
// miss. Get never fetches; it is purely local.
func (c *Cache) Get(matrix config.MatrixType) ([]byte, bool) {
	if !c.IsCached(matrix) {
		return nil, false
	}

	var data []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCorpus).Get([]byte(matrix))
		if raw == nil {
			return fmt.Errorf("no corpus blob for %s", matrix)
		}
		data = append(data, raw...)
		return nil
	})
	if err != nil {
		c.logger.Error("error reading cache entry", zap.Error(err))
		return nil, false
	}

	c.logger.Info("loaded cached corpus", zap.String("matrix", string(matrix)))
	return data, true
}

// Put stores a corpus blob for the matrix, recording the fetch time as now.
// Existing entries are always overwritten. Returns false (not an error) when
// caching is disabled or the write fails.
func (c *Cache) Put(matrix config.MatrixType, data []byte) bool {
	if c.db == nil {
		return false
	}

	meta, err := json.Marshal(cacheMeta{
		CachedAt:  c.now(),
		Matrix:    string(matrix),
		SizeBytes: len(data),
	})
	if err != nil {
		c.logger.Error("error encoding cache metadata", zap.Error(err))
		return false
	}

	err = c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketCorpus).Put([]byte(matrix), data); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte(matrix), meta)
	})
	if err != nil {
		c.logger.Error("error writing cache", zap.Error(err))
		return false
	}

	c.logger.Info("cached corpus",
		zap.String("matrix", string(matrix)), zap.Int("bytes", len(data)))
	return true
}

// Clear removes the entry for one matrix. Missing entries are not errors.
func (c *Cache) Clear(matrix config.MatrixType) error {
	if c.db == nil {
		return nil
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketCorpus).Delete([]byte(matrix)); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Delete([]byte(matrix))
	})
}

// ClearAll removes every cached entry.
func (c *Cache) ClearAll() error {
	if c.db == nil {
		return nil
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketCorpus, bucketMeta} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}
