package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/afikmenashe/orderflow-pipeline/pkg/kafka"
	"github.com/afikmenashe/orderflow-pipeline/pkg/metrics"
	"github.com/afikmenashe/orderflow-pipeline/pkg/shared"
	"github.com/afikmenashe/orderflow-pipeline/services/risk-engine/internal/config"
	"github.com/afikmenashe/orderflow-pipeline/services/risk-engine/internal/processor"
	"github.com/afikmenashe/orderflow-pipeline/services/risk-engine/internal/producer"
	"github.com/afikmenashe/orderflow-pipeline/services/risk-engine/internal/rules"
	"github.com/afikmenashe/orderflow-pipeline/services/risk-engine/internal/state"
)

const serviceName = "risk-engine"

func main() {
	// Parse command-line flags with environment variable fallbacks
	cfg := &config.Config{}
	flag.StringVar(&cfg.KafkaBrokers, "kafka-brokers", shared.GetEnvOrDefault("KAFKA_BROKERS", "localhost:9092"), "Kafka broker addresses (comma-separated)")
	flag.StringVar(&cfg.EventsTopic, "events-topic", shared.GetEnvOrDefault("EVENTS_TOPIC", "escrow.events.v1"), "Kafka topic for normalized events")
	flag.StringVar(&cfg.AlertsTopic, "alerts-topic", shared.GetEnvOrDefault("ALERTS_TOPIC", "escrow.alerts.v1"), "Kafka topic for alerts")
	flag.StringVar(&cfg.ConsumerGroupID, "consumer-group-id", shared.GetEnvOrDefault("CONSUMER_GROUP_ID", "risk-engine-v1"), "Kafka consumer group ID")
	flag.DurationVar(&cfg.CancelWindow, "cancel-window", shared.GetEnvDurationOrDefault("CANCEL_WINDOW", rules.DefaultCancelWindow), "Sliding window for the freq_cancel rule")
	flag.IntVar(&cfg.CancelThreshold, "cancel-threshold", shared.GetEnvIntOrDefault("CANCEL_THRESHOLD", rules.DefaultCancelThreshold), "Cancellations within the window that fire freq_cancel")
	flag.Uint64Var(&cfg.LargeAmountThreshold, "large-amount-threshold", shared.GetEnvUint64OrDefault("LARGE_AMOUNT_THRESHOLD", rules.DefaultLargeAmountThreshold), "Amount that fires large_amount")
	flag.StringVar(&cfg.StateBackend, "state-backend", shared.GetEnvOrDefault("STATE_BACKEND", config.BackendRedis), "Rule state backend (memory|redis|badger)")
	flag.StringVar(&cfg.BadgerDir, "badger-dir", shared.GetEnvOrDefault("BADGER_DIR", "./data/risk-engine"), "Directory for the badger state backend")
	flag.DurationVar(&cfg.DedupTTL, "dedup-ttl", shared.GetEnvDurationOrDefault("DEDUP_TTL", 24*time.Hour), "How long emitted alert ids and idle windows are remembered")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", shared.GetEnvOrDefault("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", shared.GetEnvOrDefault("METRICS_ADDR", ""), "Listen address for /metrics (empty disables)")
	flag.StringVar(&cfg.LogLevel, "log-level", shared.GetEnvOrDefault("LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")
	flag.Parse()

	shared.SetupLogging(cfg.LogLevel)

	slog.Info("Starting risk-engine service",
		"kafka_brokers", cfg.KafkaBrokers,
		"events_topic", cfg.EventsTopic,
		"alerts_topic", cfg.AlertsTopic,
		"consumer_group_id", cfg.ConsumerGroupID,
		"cancel_window", cfg.CancelWindow,
		"cancel_threshold", cfg.CancelThreshold,
		"large_amount_threshold", cfg.LargeAmountThreshold,
		"state_backend", cfg.StateBackend,
		"dedup_ttl", cfg.DedupTTL,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open rule state store", "backend", cfg.StateBackend, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	if cfg.StateBackend == config.BackendMemory {
		slog.Warn("Using in-memory rule state: windows and alert de-duplication reset on restart")
	}

	metricsCollector, stopMetrics := metrics.Setup(ctx, serviceName, cfg.RedisAddr, cfg.MetricsAddr)
	defer stopMetrics()

	kafkaConsumer, err := kafka.NewEventConsumer(cfg.KafkaBrokers, cfg.EventsTopic, cfg.ConsumerGroupID)
	if err != nil {
		slog.Error("Failed to create Kafka consumer", "error", err)
		slog.Info("Tip: Start Kafka with 'docker compose up -d kafka'")
		os.Exit(1)
	}
	defer kafkaConsumer.Close()

	if brokers := kafka.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		kafka.EnsureTopic(brokers[0], cfg.AlertsTopic)
	}
	kafkaProducer, err := producer.NewProducer(cfg.KafkaBrokers, cfg.AlertsTopic)
	if err != nil {
		slog.Error("Failed to create Kafka producer", "error", err)
		os.Exit(1)
	}
	defer kafkaProducer.Close()

	// Windows outlive their rule window so counts survive consumer downtime up to dedup-ttl.
	engine := rules.NewEngine(rules.Config{
		CancelWindow:         cfg.CancelWindow,
		CancelThreshold:      cfg.CancelThreshold,
		LargeAmountThreshold: cfg.LargeAmountThreshold,
	}, state.NewWindows(store, cfg.DedupTTL))
	dedup := state.NewDedup(store, cfg.DedupTTL)

	proc := processor.NewProcessorWithMetrics(kafkaConsumer, engine, dedup, kafkaProducer, metricsCollector)
	if err := proc.ProcessEvents(ctx); err != nil {
		slog.Error("Risk evaluation failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Risk-engine service stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (state.Store, error) {
	switch cfg.StateBackend {
	case config.BackendMemory:
		return state.NewMemoryStore(), nil
	case config.BackendRedis:
		client, err := shared.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		return state.NewRedisStore(client), nil
	case config.BackendBadger:
		return state.OpenBadgerStore(cfg.BadgerDir)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
}
