package kafka

import "time"

const (
	// MaxPollWait is the maximum time a fetch waits for new data before returning.
	MaxPollWait = 500 * time.Millisecond
	// CommitInterval is how often committed offsets are flushed to the broker.
	CommitInterval = 1 * time.Second
	// WriteTimeout is the maximum time to wait for a Kafka write operation.
	WriteTimeout = 10 * time.Second
	// DefaultPartitions is the partition count used when a topic is bootstrapped.
	DefaultPartitions = 3
)
