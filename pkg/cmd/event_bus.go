package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/mesworks/mescore/pkg/channels/gochannel"
	"github.com/mesworks/mescore/pkg/eventbus"
)

// NewEventBus creates the in-process event bus feeding the monitoring
// subscribers.
func NewEventBus(logger *slog.Logger) eventbus.EventBus {
	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	if err != nil {
		panic(fmt.Errorf("failed to create gochannel pub/sub: %w", err))
	}

	return eventbus.NewWatermillEventBus(pub, sub)
}
