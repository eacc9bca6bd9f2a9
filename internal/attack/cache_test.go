package attack

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"attackmap/internal/config"
)

func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c, err := OpenCache(config.CacheConfig{
		Enabled: true,
		Dir:     t.TempDir(),
		TTL:     ttl,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("opening cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCachePutGet(t *testing.T) {
	c := newTestCache(t, 24*time.Hour)
	blob := []byte(`{"type":"bundle","objects":[{"type":"attack-pattern"}]}`)

	if c.IsCached(config.MatrixEnterprise) {
		t.Fatal("fresh cache should be empty")
	}
	if !c.Put(config.MatrixEnterprise, blob) {
		t.Fatal("Put returned false on an enabled cache")
	}

	got, hit := c.Get(config.MatrixEnterprise)
	if !hit {
		t.Fatal("expected cache hit after Put")
	}
	if string(got) != string(blob) {
		t.Errorf("cached blob mismatch: got %q", got)
	}

	// Entries are per matrix.
	if _, hit := c.Get(config.MatrixMobile); hit {
		t.Error("mobile matrix should be a miss")
	}
}

func TestCacheTTL(t *testing.T) {
	c := newTestCache(t, time.Hour)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Put(config.MatrixEnterprise, []byte("data"))

	t.Run("fresh entry hits", func(t *testing.T) {
		c.now = func() time.Time { return base.Add(59 * time.Minute) }
		if !c.IsCached(config.MatrixEnterprise) {
			t.Error("entry within TTL should hit")
		}
	})

	t.Run("entry at exactly TTL still hits", func(t *testing.T) {
		c.now = func() time.Time { return base.Add(time.Hour) }
		if !c.IsCached(config.MatrixEnterprise) {
			t.Error("entry aged exactly TTL should still hit")
		}
	})

	t.Run("entry past TTL misses", func(t *testing.T) {
		c.now = func() time.Time { return base.Add(time.Hour + time.Second) }
		if c.IsCached(config.MatrixEnterprise) {
			t.Error("entry older than TTL should miss")
		}
		if _, hit := c.Get(config.MatrixEnterprise); hit {
			t.Error("Get must not return an expired entry")
		}
	})

	t.Run("overwrite refreshes the entry", func(t *testing.T) {
		c.now = func() time.Time { return base.Add(2 * time.Hour) }
		c.Put(config.MatrixEnterprise, []byte("newer"))
		if !c.IsCached(config.MatrixEnterprise) {
			t.Error("rewritten entry should be fresh again")
		}
	})
}

func TestCacheDisabled(t *testing.T) {
	c, err := OpenCache(config.CacheConfig{Enabled: false}, zap.NewNop())
	if err != nil {
		t.Fatalf("opening disabled cache: %v", err)
	}
	defer c.Close()

	if c.Put(config.MatrixEnterprise, []byte("data")) {
		t.Error("Put on a disabled cache must return false")
	}
	if _, hit := c.Get(config.MatrixEnterprise); hit {
		t.Error("disabled cache must always miss")
	}
	if err := c.Clear(config.MatrixEnterprise); err != nil {
		t.Errorf("Clear on disabled cache: %v", err)
	}
	if err := c.ClearAll(); err != nil {
		t.Errorf("ClearAll on disabled cache: %v", err)
	}
}

func TestCacheClear(t *testing.T) {
	c := newTestCache(t, time.Hour)
	c.Put(config.MatrixEnterprise, []byte("a"))
	c.Put(config.MatrixMobile, []byte("b"))

	if err := c.Clear(config.MatrixEnterprise); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if c.IsCached(config.MatrixEnterprise) {
		t.Error("cleared entry should miss")
	}
	if !c.IsCached(config.MatrixMobile) {
		t.Error("Clear must not touch other matrices")
	}

	// Clearing an absent entry is not an error.
	if err := c.Clear(config.MatrixICS); err != nil {
		t.Errorf("Clear of missing entry: %v", err)
	}

	if err := c.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if c.IsCached(config.MatrixMobile) {
		t.Error("ClearAll should remove every entry")
	}
}
