// Package config provides configuration parsing and validation for the storage-writer service.
package config

import (
	"fmt"
	"time"
)

// Config holds all configuration parameters for the storage-writer service.
type Config struct {
	KafkaBrokers        string
	EventsTopic         string
	ConsumerGroupID     string
	PostgresDSN         string
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RedisAddr           string
	MetricsAddr         string
	LogLevel            string
}

// Validate checks that all required configuration fields are set and have valid values.
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.EventsTopic == "" {
		return fmt.Errorf("events-topic cannot be empty")
	}
	if c.ConsumerGroupID == "" {
		return fmt.Errorf("consumer-group-id cannot be empty")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.RetryInitialBackoff <= 0 {
		return fmt.Errorf("retry-initial-backoff must be > 0")
	}
	if c.RetryMaxBackoff < c.RetryInitialBackoff {
		return fmt.Errorf("retry-max-backoff must be >= retry-initial-backoff")
	}
	return nil
}
