package mq

import (
	"context"
)

// PublisherInterface defines the interface for publishing import
// notifications. It enables testing through lightweight fakes.
type PublisherInterface interface {
	// Publish pushes data onto the queue and waits for a broker
	// confirmation. The context is used for cancellation and timeout.
	Publish(ctx context.Context, data []byte) error

	// Close will cleanly shut down the channel and connection.
	Close() error
}

// Ensure Publisher implements PublisherInterface.
var _ PublisherInterface = (*Publisher)(nil)
