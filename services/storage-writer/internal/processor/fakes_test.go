package processor

import (
	"context"
	"sync"
	"time"

	"github.com/afikmenashe/orderflow-pipeline/pkg/events"
	"github.com/afikmenashe/orderflow-pipeline/services/storage-writer/internal/database"
	"github.com/afikmenashe/orderflow-pipeline/services/storage-writer/internal/projection"

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

func (f *FakeReader) Close() error { return nil }

// FakeStorage is an in-memory EventStorage with the same semantics as the database:
// an audit set keyed by event id and offers folded with projection.Apply.
type FakeStorage struct {
	mu       sync.Mutex
	Audit    map[string]*events.NormalizedEvent
	Offers   map[string]*projection.Offer
	Failures int // errors returned before the first success; -1 fails forever
	Err      error
	Calls    int
}

func NewFakeStorage() *FakeStorage {
	return &FakeStorage{
		Audit:  make(map[string]*events.NormalizedEvent),
		Offers: make(map[string]*projection.Offer),
	}
}

func (f *FakeStorage) ApplyEvent(_ context.Context, ev *events.NormalizedEvent) (database.ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.Failures != 0 {
		if f.Failures > 0 {
			f.Failures--
		}
		return database.ApplyResult{}, f.Err
	}

	var result database.ApplyResult
	if _, ok := f.Audit[ev.EventID]; !ok {
		f.Audit[ev.EventID] = ev
		result.AuditInserted = true
	}
	next, changed := projection.Apply(f.Offers[ev.OfferID], ev)
	f.Offers[ev.OfferID] = next
	result.ProjectionApplied = changed
	return result, nil
}

func (f *FakeStorage) Offer(id string) *projection.Offer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o := f.Offers[id]; o != nil {
		cp := *o
		return &cp
	}
	return nil
}

func (f *FakeStorage) AuditLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Audit)
}

func (f *FakeStorage) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls
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
