// Package metrics counts what each pipeline stage does with its messages. Snapshots are
// published to Redis per instance, and the same counters back the Prometheus endpoint.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// MetricsKeyPrefix prefixes every snapshot key: metrics:<service>:<instance>.
	MetricsKeyPrefix = "metrics:"
	// MetricsTTL lets a snapshot expire once its instance stops refreshing it.
	MetricsTTL = 2 * time.Minute
	// DefaultReportInterval is how often a snapshot is written.
	DefaultReportInterval = 30 * time.Second
)

// ServiceMetrics is the snapshot written to Redis for one instance.
type ServiceMetrics struct {
	ServiceName string    `json:"service_name"`
	InstanceID  string    `json:"instance_id"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`
	Status      string    `json:"status"`

	MessagesReceived  uint64 `json:"messages_received"`
	MessagesProcessed uint64 `json:"messages_processed"`
	MessagesPublished uint64 `json:"messages_published"`
	ProcessingErrors  uint64 `json:"processing_errors"`

	// MessagesPerSecond is the processed rate since the previous snapshot.
	MessagesPerSecond      float64 `json:"messages_per_second"`
	AvgProcessingLatencyNs float64 `json:"avg_processing_latency_ns"`

	// CustomCounters holds stage specific counts such as alerts_freq_cancel or
	// audit_rows_duplicate.
	CustomCounters map[string]uint64 `json:"custom_counters,omitempty"`
}

// Collector implements the processors' MetricsRecorder. A nil Redis client disables
// snapshots; counting still happens for Prometheus.
type Collector struct {
	serviceName    string
	instanceID     string
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	received, processed, published, errs atomic.Uint64
	latencySumNs, latencySamples         atomic.Uint64

	// custom maps counter name to *atomic.Uint64.
	custom sync.Map

	// Rate bookkeeping, owned by the reporting goroutine.
	prevReport    time.Time
	prevProcessed uint64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a collector for one instance of serviceName.
func NewCollector(serviceName string, redisClient *redis.Client) *Collector {
	now := time.Now().UTC()
	return &Collector{
		serviceName:    serviceName,
		instanceID:     uuid.NewString(),
		redis:          redisClient,
		startedAt:      now,
		reportInterval: DefaultReportInterval,
		prevReport:     now,
		stopCh:         make(chan struct{}),
	}
}

func (c *Collector) ServiceName() string { return c.serviceName }

func (c *Collector) InstanceID() string { return c.instanceID }

// SetReportInterval must be called before Start.
func (c *Collector) SetReportInterval(interval time.Duration) {
	c.reportInterval = interval
}

// Start writes a snapshot every report interval, plus a last one on ctx cancellation or Stop.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.writeMetrics(ctx)
				continue
			case <-ctx.Done():
			case <-c.stopCh:
			}
			c.writeMetrics(context.Background())
			return
		}
	}()
}

// Stop ends reporting. It may be called more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) RecordReceived() { c.received.Add(1) }

func (c *Collector) RecordPublished() { c.published.Add(1) }

func (c *Collector) RecordError() { c.errs.Add(1) }

// RecordProcessed counts a finished message and its end-to-end latency.
func (c *Collector) RecordProcessed(latency time.Duration) {
	c.processed.Add(1)
	c.latencySumNs.Add(uint64(latency.Nanoseconds()))
	c.latencySamples.Add(1)
}

func (c *Collector) IncrementCustom(name string) { c.AddCustom(name, 1) }

func (c *Collector) AddCustom(name string, value uint64) {
	counter, _ := c.custom.LoadOrStore(name, new(atomic.Uint64))
	counter.(*atomic.Uint64).Add(value)
}

// customNames returns the custom counter names, sorted.
func (c *Collector) customNames() []string {
	var names []string
	c.custom.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// GetSnapshot reads every counter without publishing.
func (c *Collector) GetSnapshot() *ServiceMetrics {
	now := time.Now().UTC()
	snap := &ServiceMetrics{
		ServiceName:       c.serviceName,
		InstanceID:        c.instanceID,
		StartedAt:         c.startedAt,
		LastUpdated:       now,
		Status:            "healthy",
		MessagesReceived:  c.received.Load(),
		MessagesProcessed: c.processed.Load(),
		MessagesPublished: c.published.Load(),
		ProcessingErrors:  c.errs.Load(),
		CustomCounters:    make(map[string]uint64),
	}

	if secs := now.Sub(c.prevReport).Seconds(); secs > 0 {
		snap.MessagesPerSecond = float64(snap.MessagesProcessed-c.prevProcessed) / secs
	}
	if n := c.latencySamples.Load(); n > 0 {
		snap.AvgProcessingLatencyNs = float64(c.latencySumNs.Load()) / float64(n)
	}
	c.custom.Range(func(key, value any) bool {
		snap.CustomCounters[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return snap
}

// Key is the Redis key for this instance's snapshot.
func (c *Collector) Key() string {
	return MetricsKeyPrefix + c.serviceName + ":" + c.instanceID
}

func (c *Collector) writeMetrics(ctx context.Context) {
	if c.redis == nil {
		return
	}

	snap := c.GetSnapshot()
	c.prevReport = snap.LastUpdated
	c.prevProcessed = snap.MessagesProcessed

	data, err := json.Marshal(snap)
	if err != nil {
		slog.Error("Failed to marshal metrics", "service", c.serviceName, "error", err)
		return
	}
	if err := c.redis.Set(ctx, c.Key(), data, MetricsTTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "service", c.serviceName, "error", fmt.Errorf("set %s: %w", c.Key(), err))
		return
	}
	slog.Debug("Metrics written to Redis", "service", c.serviceName, "key", c.Key())
}
