package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ultrazend/ultrazend/internal/config"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func setupTestDB(t *testing.T) *bolt.DB {
	t.Helper()

	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestLimiter(t *testing.T, db *bolt.DB, cfg config.RateLimitConfig, clock *fakeClock) *Limiter {
	t.Helper()

	limiter, err := New(db, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	limiter.now = clock.now
	return limiter
}

func TestNewDefaultFlushInterval(t *testing.T) {
	limiter, err := New(setupTestDB(t), config.RateLimitConfig{}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if limiter.cfg.FlushInterval != 10*time.Second {
		t.Errorf("FlushInterval = %v, want 10s", limiter.cfg.FlushInterval)
	}
}

func TestAllowGlobalLimit(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	limiter := newTestLimiter(t, setupTestDB(t), config.RateLimitConfig{
		Global: &config.LimitValues{MessagesPerHour: 3, MessagesPerDay: 10},
	}, clock)
	ctx := context.Background()
	req := Request{Domain: "example.com"}

	for i := 0; i < 3; i++ {
		if result := limiter.Allow(ctx, req); !result.Allowed {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	clock.advance(20 * time.Minute)
	result := limiter.Allow(ctx, req)
	if result.Allowed {
		t.Fatal("request 4 should be denied")
	}
	if result.DeniedBy != LevelGlobal {
		t.Errorf("DeniedBy = %s, want global", result.DeniedBy)
	}
	if result.RetryAfter != 40*time.Minute {
		t.Errorf("RetryAfter = %v, want 40m", result.RetryAfter)
	}

	clock.advance(40 * time.Minute)
	if result := limiter.Allow(ctx, req); !result.Allowed {
		t.Error("request should be allowed once the hour rolls over")
	}
}

func TestAllowDailyLimit(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	limiter := newTestLimiter(t, setupTestDB(t), config.RateLimitConfig{
		DefaultDomain: &config.LimitValues{MessagesPerDay: 2},
	}, clock)
	ctx := context.Background()
	req := Request{Domain: "example.com"}

	limiter.Allow(ctx, req)
	clock.advance(2 * time.Hour)
	limiter.Allow(ctx, req)

	clock.advance(2 * time.Hour)
	result := limiter.Allow(ctx, req)
	if result.Allowed {
		t.Fatal("third message of the day should be denied")
	}
	if result.DeniedBy != LevelDomain || result.DeniedKey != "domain:example.com" {
		t.Errorf("denied by %s/%s", result.DeniedBy, result.DeniedKey)
	}
	if result.RetryAfter != 20*time.Hour {
		t.Errorf("RetryAfter = %v, want 20h", result.RetryAfter)
	}
}

func TestAllowLevelsAreIndependent(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	limiter := newTestLimiter(t, setupTestDB(t), config.RateLimitConfig{
		DefaultIP:     &config.LimitValues{MessagesPerHour: 2},
		DefaultAPIKey: &config.LimitValues{MessagesPerHour: 1},
	}, clock)
	ctx := context.Background()

	if !limiter.Allow(ctx, Request{IP: "10.0.0.1"}).Allowed {
		t.Error("first IP request should be allowed")
	}
	if !limiter.Allow(ctx, Request{IP: "10.0.0.1"}).Allowed {
		t.Error("second IP request should be allowed")
	}
	if limiter.Allow(ctx, Request{IP: "10.0.0.1"}).Allowed {
		t.Error("third IP request should be denied")
	}
	if !limiter.Allow(ctx, Request{IP: "10.0.0.2"}).Allowed {
		t.Error("other IP should have its own quota")
	}

	if !limiter.Allow(ctx, Request{APIKey: "abc"}).Allowed {
		t.Error("first key request should be allowed")
	}
	result := limiter.Allow(ctx, Request{APIKey: "abc"})
	if result.Allowed || result.DeniedBy != LevelAPIKey {
		t.Errorf("second key request = %+v, want denied by api_key", result)
	}
}

func TestDeniedMessageIsNotCounted(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	limiter := newTestLimiter(t, setupTestDB(t), config.RateLimitConfig{
		Global:        &config.LimitValues{MessagesPerHour: 10},
		DefaultDomain: &config.LimitValues{MessagesPerHour: 1},
	}, clock)
	ctx := context.Background()

	limiter.Allow(ctx, Request{Domain: "a.com"})
	limiter.Allow(ctx, Request{Domain: "a.com"})
	limiter.Allow(ctx, Request{Domain: "a.com"})

	if got := limiter.Usage(LevelGlobal, "global").HourlyCount; got != 1 {
		t.Errorf("global hourly count = %d, want 1", got)
	}
	if got := limiter.Usage(LevelDomain, "a.com").HourlyCount; got != 1 {
		t.Errorf("domain hourly count = %d, want 1", got)
	}
}

func TestNoLimitsConfigured(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), config.RateLimitConfig{}, &fakeClock{t: time.Now()})

	for i := 0; i < 100; i++ {
		if !limiter.Allow(context.Background(), Request{Domain: "a.com", IP: "10.0.0.1"}).Allowed {
			t.Fatalf("request %d denied without limits", i+1)
		}
	}
}

func TestUsage(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	limiter := newTestLimiter(t, setupTestDB(t), config.RateLimitConfig{
		DefaultDomain: &config.LimitValues{MessagesPerHour: 10, MessagesPerDay: 100},
	}, clock)

	if u := limiter.Usage(LevelDomain, "a.com"); u.HourlyCount != 0 || !u.HourStart.IsZero() {
		t.Errorf("Usage() for unknown key = %+v", u)
	}

	limiter.Allow(context.Background(), Request{Domain: "a.com"})
	limiter.Allow(context.Background(), Request{Domain: "a.com"})

	u := limiter.Usage(LevelDomain, "a.com")
	if u.HourlyCount != 2 || u.DailyCount != 2 {
		t.Errorf("Usage() = %+v, want 2/2", u)
	}

	clock.advance(90 * time.Minute)
	u = limiter.Usage(LevelDomain, "a.com")
	if u.HourlyCount != 0 || u.DailyCount != 2 {
		t.Errorf("Usage() after an hour = %+v, want 0/2", u)
	}
}

func TestPersistence(t *testing.T) {
	db := setupTestDB(t)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	cfg := config.RateLimitConfig{DefaultDomain: &config.LimitValues{MessagesPerHour: 2}}

	limiter := newTestLimiter(t, db, cfg, clock)
	limiter.Allow(context.Background(), Request{Domain: "a.com"})
	limiter.Allow(context.Background(), Request{Domain: "a.com"})
	if err := limiter.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := limiter.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}

	reloaded := newTestLimiter(t, db, cfg, clock)
	if reloaded.Allow(context.Background(), Request{Domain: "a.com"}).Allowed {
		t.Error("quota was not restored from storage")
	}
}

func TestPersistDropsExpiredWindows(t *testing.T) {
	db := setupTestDB(t)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	limiter := newTestLimiter(t, db, config.RateLimitConfig{
		DefaultIP: &config.LimitValues{MessagesPerHour: 5},
	}, clock)

	limiter.Allow(context.Background(), Request{IP: "10.0.0.1"})
	clock.advance(25 * time.Hour)

	if err := limiter.persist(); err != nil {
		t.Fatalf("persist() error = %v", err)
	}

	if len(limiter.windows) != 0 {
		t.Errorf("windows = %d, want 0", len(limiter.windows))
	}
	err := db.View(func(tx *bolt.Tx) error {
		if n := tx.Bucket(bucketRateLimits).Stats().KeyN; n != 0 {
			t.Errorf("stored entries = %d, want 0", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"global", "domain", "ip", "api_key"} {
		level, err := ParseLevel(s)
		if err != nil {
			t.Errorf("ParseLevel(%q) error = %v", s, err)
		}
		if string(level) != s {
			t.Errorf("ParseLevel(%q) = %q", s, level)
		}
	}

	if _, err := ParseLevel("tenant"); err == nil {
		t.Error("ParseLevel(tenant) expected error")
	}
}

func TestUsageAfterReload(t *testing.T) {
	db := setupTestDB(t)
	clock := &fakeClock{t: time.Now()}
	cfg := config.RateLimitConfig{DefaultIP: &config.LimitValues{MessagesPerHour: 5}}

	limiter := newTestLimiter(t, db, cfg, clock)
	limiter.Allow(context.Background(), Request{IP: "10.0.0.1"})
	limiter.Allow(context.Background(), Request{IP: "10.0.0.1"})
	if err := limiter.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	reloaded := newTestLimiter(t, db, cfg, clock)
	usage := reloaded.Usage(LevelIP, "10.0.0.1")
	if usage.HourlyCount != 2 || usage.DailyCount != 2 {
		t.Errorf("Usage() = %+v, want 2 hourly and 2 daily", usage)
	}
	if got := reloaded.Limit(LevelIP); got == nil || got.MessagesPerHour != 5 {
		t.Errorf("Limit(ip) = %+v", got)
	}
	if got := reloaded.Limit(LevelDomain); got != nil {
		t.Errorf("Limit(domain) = %+v, want nil", got)
	}
}
