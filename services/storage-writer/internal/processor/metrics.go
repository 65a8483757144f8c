package processor

import "time"

// MetricsRecorder defines the metrics operations needed by the processor.
type MetricsRecorder interface {
	RecordReceived()
	RecordProcessed(latency time.Duration)
	RecordPublished()
	RecordError()
	IncrementCustom(name string)
}

// NoOpMetrics is a null-object implementation of MetricsRecorder.
type NoOpMetrics struct{}

var _ MetricsRecorder = (*NoOpMetrics)(nil)

func (n *NoOpMetrics) RecordReceived()                 {}
func (n *NoOpMetrics) RecordProcessed(_ time.Duration) {}
func (n *NoOpMetrics) RecordPublished()                {}
func (n *NoOpMetrics) RecordError()                    {}
func (n *NoOpMetrics) IncrementCustom(_ string)        {}
