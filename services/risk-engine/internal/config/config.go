// Package config provides configuration parsing and validation for the risk-engine service.
package config

import (
	"fmt"
	"time"
)

// State backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// Config holds all configuration parameters for the risk-engine service.
type Config struct {
	KafkaBrokers         string
	EventsTopic          string
	AlertsTopic          string
	ConsumerGroupID      string
	CancelWindow         time.Duration
	CancelThreshold      int
	LargeAmountThreshold uint64
	StateBackend         string
	BadgerDir            string
	DedupTTL             time.Duration
	RedisAddr            string
	MetricsAddr          string
	LogLevel             string
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
	if c.AlertsTopic == "" {
		return fmt.Errorf("alerts-topic cannot be empty")
	}
	if c.ConsumerGroupID == "" {
		return fmt.Errorf("consumer-group-id cannot be empty")
	}
	if c.CancelWindow <= 0 {
		return fmt.Errorf("cancel-window must be > 0")
	}
	if c.CancelThreshold < 1 {
		return fmt.Errorf("cancel-threshold must be >= 1")
	}
	if c.LargeAmountThreshold == 0 {
		return fmt.Errorf("large-amount-threshold must be > 0")
	}
	switch c.StateBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis-addr cannot be empty when state-backend is redis")
		}
	case BackendBadger:
		if c.BadgerDir == "" {
			return fmt.Errorf("badger-dir cannot be empty when state-backend is badger")
		}
	default:
		return fmt.Errorf("state-backend must be one of memory, redis, badger")
	}
	if c.DedupTTL < c.CancelWindow {
		return fmt.Errorf("dedup-ttl must be >= cancel-window")
	}
	return nil
}
