package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ultrazend/ultrazend/internal/config"
)

var bucketRateLimits = []byte("rate_limits")

// Level is the scope a quota applies to
type Level string

const (
	LevelGlobal Level = "global"
	LevelDomain Level = "domain"
	LevelIP     Level = "ip"
	LevelAPIKey Level = "api_key"
)

// GlobalKey is the single key counted at LevelGlobal
const GlobalKey = "global"

// ParseLevel validates a level name
func ParseLevel(s string) (Level, error) {
	switch level := Level(s); level {
	case LevelGlobal, LevelDomain, LevelIP, LevelAPIKey:
		return level, nil
	}
	return "", fmt.Errorf("unknown rate limit level %q", s)
}

// Request identifies one outgoing message
type Request struct {
	Domain string // sender domain
	IP     string // client IP
	APIKey string // key fingerprint, empty when the API is open
}

// Result is the outcome of Allow
type Result struct {
	Allowed    bool
	DeniedBy   Level
	DeniedKey  string
	RetryAfter time.Duration
}

// Usage reports the current counts for one key
type Usage struct {
	Level       Level     `json:"level"`
	Key         string    `json:"key"`
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// window holds fixed hourly and daily counting windows
type window struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

func (w *window) roll(now time.Time) {
	if now.Sub(w.HourStart) >= time.Hour {
		w.HourlyCount = 0
		w.HourStart = now
	}
	if now.Sub(w.DayStart) >= 24*time.Hour {
		w.DailyCount = 0
		w.DayStart = now
	}
}

func (w *window) expired(now time.Time) bool {
	return now.Sub(w.HourStart) >= time.Hour && now.Sub(w.DayStart) >= 24*time.Hour
}

// Limiter enforces send quotas per level. Counters live in memory and
// are flushed to bbolt so restarts keep the current windows.
type Limiter struct {
	db     *bolt.DB
	cfg    config.RateLimitConfig
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a limiter and loads persisted windows
func New(db *bolt.DB, cfg config.RateLimitConfig, logger *slog.Logger) (*Limiter, error) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRateLimits)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limits bucket: %w", err)
	}

	l := &Limiter{
		db:      db,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		windows: make(map[string]*window),
		stopCh:  make(chan struct{}),
	}

	if err := l.load(); err != nil {
		return nil, fmt.Errorf("failed to load rate limit counters: %w", err)
	}

	return l, nil
}

// Allow checks every applicable quota and counts the message against all
// of them when none is exhausted. A denied message is not counted.
func (l *Limiter) Allow(ctx context.Context, req Request) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	checks := l.checks(req)

	for _, c := range checks {
		w, ok := l.windows[c.key]
		if !ok {
			w = &window{HourStart: now, DayStart: now}
			l.windows[c.key] = w
		}
		w.roll(now)

		if c.limit.MessagesPerHour > 0 && w.HourlyCount >= c.limit.MessagesPerHour {
			return Result{DeniedBy: c.level, DeniedKey: c.key, RetryAfter: w.HourStart.Add(time.Hour).Sub(now)}
		}
		if c.limit.MessagesPerDay > 0 && w.DailyCount >= c.limit.MessagesPerDay {
			return Result{DeniedBy: c.level, DeniedKey: c.key, RetryAfter: w.DayStart.Add(24 * time.Hour).Sub(now)}
		}
	}

	for _, c := range checks {
		w := l.windows[c.key]
		w.HourlyCount++
		w.DailyCount++
	}

	return Result{Allowed: true}
}

// Usage returns the live counts for key at level
func (l *Limiter) Usage(level Level, key string) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	u := Usage{Level: level, Key: key}
	w, ok := l.windows[makeKey(level, key)]
	if !ok {
		return u
	}

	now := l.now()
	u.HourStart, u.DayStart = w.HourStart, w.DayStart
	if now.Sub(w.HourStart) < time.Hour {
		u.HourlyCount = w.HourlyCount
	}
	if now.Sub(w.DayStart) < 24*time.Hour {
		u.DailyCount = w.DailyCount
	}
	return u
}

// Limit returns the configured quota for level, nil when unlimited
func (l *Limiter) Limit(level Level) *config.LimitValues {
	switch level {
	case LevelGlobal:
		return l.cfg.Global
	case LevelDomain:
		return l.cfg.DefaultDomain
	case LevelIP:
		return l.cfg.DefaultIP
	case LevelAPIKey:
		return l.cfg.DefaultAPIKey
	}
	return nil
}

// Start flushes counters every flush interval until Stop or ctx is done
func (l *Limiter) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(l.cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case <-ticker.C:
				if err := l.persist(); err != nil {
					l.logger.Error("failed to persist rate limit counters", "error", err)
				}
			}
		}
	}()
}

// Stop ends the flush loop, if started, and persists the counters
func (l *Limiter) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		close(l.stopCh)
		err = l.persist()
	})
	return err
}

type check struct {
	level Level
	key   string
	limit *config.LimitValues
}

func (l *Limiter) checks(req Request) []check {
	var checks []check

	add := func(level Level, key string, limit *config.LimitValues) {
		if limit == nil || key == "" {
			return
		}
		checks = append(checks, check{level: level, key: makeKey(level, key), limit: limit})
	}

	add(LevelGlobal, GlobalKey, l.Limit(LevelGlobal))
	add(LevelDomain, req.Domain, l.Limit(LevelDomain))
	add(LevelIP, req.IP, l.Limit(LevelIP))
	add(LevelAPIKey, req.APIKey, l.Limit(LevelAPIKey))

	return checks
}

func (l *Limiter) load() error {
	return l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRateLimits).ForEach(func(k, v []byte) error {
			var w window
			if err := json.Unmarshal(v, &w); err != nil {
				l.logger.Warn("skipping invalid rate limit entry", "key", string(k), "error", err)
				return nil
			}
			l.windows[string(k)] = &w
			return nil
		})
	})
}

// persist writes live windows and drops the ones whose hour and day have
// both elapsed
func (l *Limiter) persist() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)

		for key, w := range l.windows {
			if w.expired(now) {
				delete(l.windows, key)
				if err := bucket.Delete([]byte(key)); err != nil {
					return err
				}
				continue
			}

			data, err := json.Marshal(w)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func makeKey(level Level, key string) string {
	return string(level) + ":" + key
}
