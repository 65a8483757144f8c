package processor

import (
	"context"
	"sync"
	"time"

	"github.com/afikmenashe/orderflow-pipeline/pkg/events"
	"github.com/afikmenashe/orderflow-pipeline/services/normalizer/internal/ledger"
)

// FakeSource is a test fake for LogSource that replays a fixed list of notifications.
type FakeSource struct {
	Notifications []ledger.Notification
	SubscribeErr  error
	// KeepOpen leaves the channel open after the last notification.
	KeepOpen bool
}

func (f *FakeSource) Subscribe(ctx context.Context) (<-chan ledger.Notification, error) {
	if f.SubscribeErr != nil {
		return nil, f.SubscribeErr
	}
	ch := make(chan ledger.Notification, len(f.Notifications))
	for _, n := range f.Notifications {
		ch <- n
	}
	if !f.KeepOpen {
		close(ch)
	}
	return ch, nil
}

// FakePublisher is a test fake for EventPublisher.
type FakePublisher struct {
	mu          sync.Mutex
	Published   []events.NormalizedEvent
	PublishFunc func(ev *events.NormalizedEvent) error
	Contexts    []context.Context
}

func (f *FakePublisher) Publish(ctx context.Context, ev *events.NormalizedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Contexts = append(f.Contexts, ctx)
	if f.PublishFunc != nil {
		if err := f.PublishFunc(ev); err != nil {
			return err
		}
	}
	f.Published = append(f.Published, *ev)
	return nil
}

func (f *FakePublisher) Close() error { return nil }

// FakeMetrics is a test fake for MetricsRecorder that tracks calls.
type FakeMetrics struct {
	ReceivedCount    int
	ProcessedCount   int
	PublishedCount   int
	ErrorCount       int
	CustomIncrements map[string]int
}

func NewFakeMetrics() *FakeMetrics {
	return &FakeMetrics{CustomIncrements: make(map[string]int)}
}

func (f *FakeMetrics) RecordReceived()                 { f.ReceivedCount++ }
func (f *FakeMetrics) RecordProcessed(_ time.Duration) { f.ProcessedCount++ }
func (f *FakeMetrics) RecordPublished()                { f.PublishedCount++ }
func (f *FakeMetrics) RecordError()                    { f.ErrorCount++ }
func (f *FakeMetrics) IncrementCustom(name string)     { f.CustomIncrements[name]++ }
