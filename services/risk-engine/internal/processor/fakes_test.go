package processor

import (
	"context"
	"sync"
	"time"

	"github.com/afikmenashe/orderflow-pipeline/pkg/events"

	"github.com/segmentio/kafka-go"
)

// FakeItem is one message served by FakeReader. Err simulates a decode failure.
type FakeItem struct {
	Event *events.NormalizedEvent
	Err   error
}

// FakeReader is a test fake for MessageReader. After the last item it blocks until ctx is done.
type FakeReader struct {
	mu        sync.Mutex
	Items     []FakeItem
	next      int
	Committed []int64
	ReadErrs  int // transport errors returned before the first item
}

func (f *FakeReader) ReadMessage(ctx context.Context) (*events.NormalizedEvent, *kafka.Message, error) {
	f.mu.Lock()
	if f.ReadErrs > 0 {
		f.ReadErrs--
		f.mu.Unlock()
		return nil, nil, context.DeadlineExceeded
	}
	if f.next < len(f.Items) {
		item := f.Items[f.next]
		msg := &kafka.Message{Offset: int64(f.next)}
		f.next++
		f.mu.Unlock()
		return item.Event, msg, item.Err
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, nil, ctx.Err()
}

func (f *FakeReader) CommitMessage(_ context.Context, msg *kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Committed = append(f.Committed, msg.Offset)
	return nil
}

func (f *FakeReader) CommittedOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.Committed...)
}

// Served returns how many items have been handed out.
func (f *FakeReader) Served() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next
}

func (f *FakeReader) Close() error { return nil }

// FakePublisher is a test fake for AlertPublisher.
type FakePublisher struct {
	mu         sync.Mutex
	Published  []events.AlertEvent
	PublishErr error
}

func (f *FakePublisher) Publish(_ context.Context, alert *events.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishErr != nil {
		return f.PublishErr
	}
	f.Published = append(f.Published, *alert)
	return nil
}

func (f *FakePublisher) Alerts() []events.AlertEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.AlertEvent(nil), f.Published...)
}

func (f *FakePublisher) Close() error { return nil }

// FlakyDedup fails the first Failures calls, then delegates.
type FlakyDedup struct {
	mu       sync.Mutex
	Inner    AlertDedup
	Failures int
	Err      error
}

func (f *FlakyDedup) MarkIfNew(ctx context.Context, alertID string) (bool, error) {
	f.mu.Lock()
	if f.Failures != 0 {
		if f.Failures > 0 {
			f.Failures--
		}
		f.mu.Unlock()
		return false, f.Err
	}
	f.mu.Unlock()
	return f.Inner.MarkIfNew(ctx, alertID)
}

// FakeMetrics is a test fake for MetricsRecorder that tracks calls.
type FakeMetrics struct {
	mu               sync.Mutex
	ReceivedCount    int
	ProcessedCount   int
	PublishedCount   int
	ErrorCount       int
	CustomIncrements map[string]int
}

func NewFakeMetrics() *FakeMetrics {
	return &FakeMetrics{CustomIncrements: make(map[string]int)}
}

func (f *FakeMetrics) RecordReceived() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ReceivedCount++
}

func (f *FakeMetrics) RecordProcessed(_ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ProcessedCount++
}

func (f *FakeMetrics) RecordPublished() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PublishedCount++
}

func (f *FakeMetrics) RecordError() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ErrorCount++
}

func (f *FakeMetrics) IncrementCustom(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CustomIncrements[name]++
}

func (f *FakeMetrics) Custom(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CustomIncrements[name]
}
