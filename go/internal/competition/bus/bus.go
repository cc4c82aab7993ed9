package bus

//go:generate mockgen -package=mocks -destination=mocks/mock_bus.go github.com/PTMAbellana/polegion/go/internal/competition/bus Bus

import (
	"context"
)

// Bus is a topic-keyed publish/subscribe channel.
// Messages on one topic from one publisher are delivered to each subscriber in publish order.
// There is no ordering relationship across topics.
type Bus interface {
	Publish(ctx context.Context, topic string, data []byte) error
	// Subscribe returns a stream of messages on topic. The stream is closed when ctx ends or the bus closes.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	Close() error
}

// Publisher is the write half of Bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// subscriberBuffer is the per-subscription stream buffer used by both implementations.
const subscriberBuffer = 256
