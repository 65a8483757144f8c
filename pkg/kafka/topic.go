package kafka

import (
	"log/slog"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// EnsureTopic creates the topic if it doesn't exist yet.
// This is best effort: failures are logged and the caller proceeds, since the topic may
// be provisioned out of band.
func EnsureTopic(broker, topic string) {
	conn, err := kafka.Dial("tcp", broker)
	if err != nil {
		slog.Warn("Could not connect to Kafka to check/create topic",
			"broker", broker,
			"topic", topic,
			"error", err,
		)
		return
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(topic)
	if err == nil && len(partitions) > 0 {
		slog.Info("Topic already exists",
			"topic", topic,
			"partitions", len(partitions),
		)
		return
	}

	// Topic creation must go through the controller.
	controller, err := conn.Controller()
	if err != nil {
		slog.Warn("Could not look up Kafka controller", "topic", topic, "error", err)
		return
	}
	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		slog.Warn("Could not connect to Kafka controller", "topic", topic, "error", err)
		return
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     DefaultPartitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		slog.Warn("Could not create topic (may need to be created manually)",
			"topic", topic,
			"error", err,
		)
		return
	}

	slog.Info("Created topic",
		"topic", topic,
		"partitions", DefaultPartitions,
		"replication_factor", 1,
	)
}
