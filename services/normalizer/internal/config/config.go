// Package config provides configuration parsing and validation for the normalizer service.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds all configuration parameters for the normalizer service.
type Config struct {
	LedgerWSURL     string
	ContractID      string
	Network         string
	Commitment      string
	RecordPrefix    string
	KafkaBrokers    string
	EventsTopic     string
	PublishAttempts int
	PublishTimeout  time.Duration
	RedisAddr       string
	MetricsAddr     string
	LogLevel        string
}

// Validate checks that all required configuration fields are set and have valid values.
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.LedgerWSURL == "" {
		return fmt.Errorf("ledger-ws-url cannot be empty")
	}
	if !strings.HasPrefix(c.LedgerWSURL, "ws://") && !strings.HasPrefix(c.LedgerWSURL, "wss://") {
		return fmt.Errorf("ledger-ws-url must be a ws:// or wss:// URL")
	}
	if c.ContractID == "" {
		return fmt.Errorf("contract-id cannot be empty")
	}
	if c.Network == "" {
		return fmt.Errorf("network cannot be empty")
	}
	switch c.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("commitment must be one of processed, confirmed, finalized")
	}
	if c.RecordPrefix == "" {
		return fmt.Errorf("record-prefix cannot be empty")
	}
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.EventsTopic == "" {
		return fmt.Errorf("events-topic cannot be empty")
	}
	if c.PublishAttempts < 1 {
		return fmt.Errorf("publish-attempts must be >= 1")
	}
	if c.PublishTimeout <= 0 {
		return fmt.Errorf("publish-timeout must be > 0")
	}
	return nil
}
