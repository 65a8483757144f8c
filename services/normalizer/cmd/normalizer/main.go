package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/afikmenashe/orderflow-pipeline/pkg/kafka"
	"github.com/afikmenashe/orderflow-pipeline/pkg/metrics"
	"github.com/afikmenashe/orderflow-pipeline/pkg/shared"
	"github.com/afikmenashe/orderflow-pipeline/services/normalizer/internal/config"
	"github.com/afikmenashe/orderflow-pipeline/services/normalizer/internal/ledger"
	"github.com/afikmenashe/orderflow-pipeline/services/normalizer/internal/normalize"
	"github.com/afikmenashe/orderflow-pipeline/services/normalizer/internal/processor"
	"github.com/afikmenashe/orderflow-pipeline/services/normalizer/internal/producer"
)

func main() {
	// Parse command-line flags with environment variable fallbacks
	cfg := &config.Config{}
	flag.StringVar(&cfg.LedgerWSURL, "ledger-ws-url", shared.GetEnvOrDefault("LEDGER_WS_URL", "ws://127.0.0.1:8900"), "Ledger JSON-RPC WebSocket endpoint")
	flag.StringVar(&cfg.ContractID, "contract-id", shared.GetEnvOrDefault("CONTRACT_ID", ""), "Escrow contract id to subscribe to")
	flag.StringVar(&cfg.Network, "network", shared.GetEnvOrDefault("NETWORK", "localnet"), "Network name stamped on every event")
	flag.StringVar(&cfg.Commitment, "commitment", shared.GetEnvOrDefault("COMMITMENT", "finalized"), "Subscription commitment (processed|confirmed|finalized)")
	flag.StringVar(&cfg.RecordPrefix, "record-prefix", shared.GetEnvOrDefault("RECORD_PREFIX", normalize.DefaultRecordPrefix), "Log line prefix that carries contract records")
	flag.StringVar(&cfg.KafkaBrokers, "kafka-brokers", shared.GetEnvOrDefault("KAFKA_BROKERS", "localhost:9092"), "Kafka broker addresses (comma-separated)")
	flag.StringVar(&cfg.EventsTopic, "events-topic", shared.GetEnvOrDefault("EVENTS_TOPIC", "escrow.events.v1"), "Kafka topic for normalized events")
	flag.IntVar(&cfg.PublishAttempts, "publish-attempts", shared.GetEnvIntOrDefault("PUBLISH_ATTEMPTS", 3), "Attempts per event before it is dropped")
	flag.DurationVar(&cfg.PublishTimeout, "publish-timeout", shared.GetEnvDurationOrDefault("PUBLISH_TIMEOUT", defaultPublishTimeout), "Deadline for a single publish attempt")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", shared.GetEnvOrDefault("REDIS_ADDR", ""), "Redis address for service metrics (empty disables)")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", shared.GetEnvOrDefault("METRICS_ADDR", ""), "Listen address for /metrics (empty disables)")
	flag.StringVar(&cfg.LogLevel, "log-level", shared.GetEnvOrDefault("LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")
	flag.Parse()

	shared.SetupLogging(cfg.LogLevel)

	slog.Info("Starting normalizer service",
		"ledger_ws_url", cfg.LedgerWSURL,
		"contract_id", cfg.ContractID,
		"network", cfg.Network,
		"commitment", cfg.Commitment,
		"kafka_brokers", cfg.KafkaBrokers,
		"events_topic", cfg.EventsTopic,
		"publish_attempts", cfg.PublishAttempts,
		"publish_timeout", cfg.PublishTimeout,
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

	metricsCollector, stopMetrics := metrics.Setup(ctx, serviceName, cfg.RedisAddr, cfg.MetricsAddr)
	defer stopMetrics()

	if brokers := kafka.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		kafka.EnsureTopic(brokers[0], cfg.EventsTopic)
	}

	kafkaProducer, err := producer.NewProducer(cfg.KafkaBrokers, cfg.EventsTopic, cfg.PublishAttempts, cfg.PublishTimeout)
	if err != nil {
		slog.Error("Failed to create Kafka producer", "error", err)
		os.Exit(1)
	}
	defer kafkaProducer.Close()

	normalizer := &normalize.Normalizer{
		Network:    cfg.Network,
		ContractID: cfg.ContractID,
		Commitment: cfg.Commitment,
		Prefix:     cfg.RecordPrefix,
	}
	client := ledger.NewClient(cfg.LedgerWSURL, cfg.ContractID, cfg.Commitment)

	proc := processor.NewProcessorWithMetrics(client, normalizer, kafkaProducer, metricsCollector)
	if err := proc.Run(ctx); err != nil {
		slog.Error("Normalizer failed", "error", err)
		slog.Info("Tip: make sure the ledger validator is running and reachable at -ledger-ws-url")
		os.Exit(1)
	}

	slog.Info("Normalizer service stopped")
}
