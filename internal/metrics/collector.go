package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"

	"github.com/ultrazend/ultrazend/internal/template"
)

var (
	bucketMetrics = []byte("metrics")
	keyCounters   = []byte("counters")
)

// StatsProvider reports catalogue statistics
type StatsProvider interface {
	Stats(ctx context.Context) (*template.Stats, error)
}

// counterSample is one persisted counter series
type counterSample struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Collector persists counters across restarts and refreshes gauges
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	stats         StatsProvider
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a collector and restores persisted counter values
func NewCollector(db *bolt.DB, m *Metrics, stats StatsProvider, storagePath string, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics bucket: %w", err)
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		stats:         stats,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		stopCh:        make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.collect(ctx)

	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return c.persistCounters()
}

// loadCounters adds persisted values back onto the registered counters
func (c *Collector) loadCounters() error {
	var samples []counterSample

	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMetrics).Get(keyCounters)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &samples); err != nil {
			samples = nil // unreadable snapshot, start from zero
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, s := range samples {
		vec, ok := c.metrics.counters[s.Name]
		if !ok || s.Value <= 0 {
			continue
		}
		counter, err := vec.GetMetricWith(prometheus.Labels(s.Labels))
		if err != nil {
			continue
		}
		counter.Add(s.Value)
	}

	return nil
}

// snapshot reads the current value of every persisted counter series
func (c *Collector) snapshot() ([]counterSample, error) {
	families, err := c.metrics.registry.Gather()
	if err != nil {
		return nil, err
	}

	var samples []counterSample
	for _, mf := range families {
		if _, ok := c.metrics.counters[mf.GetName()]; !ok {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := make(map[string]string, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			samples = append(samples, counterSample{
				Name:   mf.GetName(),
				Labels: labels,
				Value:  metric.GetCounter().GetValue(),
			})
		}
	}

	return samples, nil
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	samples, err := c.snapshot()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	data, err := json.Marshal(samples)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetrics).Put(keyCounters, data)
	})
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	gauges := time.NewTicker(5 * time.Second)
	defer gauges.Stop()
	flush := time.NewTicker(c.flushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-gauges.C:
			c.collect(ctx)
		case <-flush.C:
			c.persistCounters()
		}
	}
}

// collect refreshes system and catalogue gauges
func (c *Collector) collect(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.stats != nil {
		if stats, err := c.stats.Stats(ctx); err == nil {
			c.metrics.TemplatesTotal.Set(float64(stats.Total))
		}
	}
}
