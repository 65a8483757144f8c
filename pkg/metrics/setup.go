package metrics

import (
	"context"
	"log/slog"

	"github.com/afikmenashe/orderflow-pipeline/pkg/shared"
	"github.com/redis/go-redis/v9"
)

// Setup starts a collector for serviceName. Snapshots go to Redis when redisAddr is set and
// reachable; /metrics is served when metricsAddr is set. The returned func stops both and
// must be called on shutdown.
func Setup(ctx context.Context, serviceName, redisAddr, metricsAddr string) (*Collector, func()) {
	var redisClient *redis.Client
	if redisAddr != "" {
		client, err := shared.ConnectRedis(ctx, redisAddr)
		if err != nil {
			slog.Warn("Redis unavailable, metrics snapshots disabled", "error", err)
		} else {
			redisClient = client
		}
	}

	collector := NewCollector(serviceName, redisClient)
	collector.Start(ctx)

	serveCtx, stopServe := context.WithCancel(ctx)
	go func() {
		if err := Serve(serveCtx, metricsAddr, collector); err != nil {
			slog.Error("Metrics endpoint failed", "addr", metricsAddr, "error", err)
		}
	}()

	return collector, func() {
		stopServe()
		collector.Stop()
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}
}
