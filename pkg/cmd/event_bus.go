// Package cmd provides common initialization shared by the kestrel binaries.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/kestrelflow/kestrel/pkg/channels/gochannel"
	"github.com/kestrelflow/kestrel/pkg/channels/kafka"
	"github.com/kestrelflow/kestrel/pkg/queue"
)

// NewEventBus builds the event bus for the given provider. The memory
// provider only makes sense when every service runs in the same process.
func NewEventBus(provider, serviceName string, logger *slog.Logger) queue.EventBus {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, serviceName)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return queue.NewWatermillEventBus(pub, sub)
	case "memory":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create in-memory pub/sub: %w", err))
		}

		return queue.NewWatermillEventBus(pub, sub)
	default:
		panic("unsupported event bus provider: " + provider)
	}
}
