package bus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// Local is an in-process bus backed by a watermill go channel.
// Publish blocks until every subscriber has taken the message, which keeps per-topic FIFO.
type Local struct {
	pubsub *gochannel.GoChannel
}

// NewLocal creates an in-process bus
func NewLocal() *Local {
	return &Local{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            subscriberBuffer,
			BlockPublishUntilSubscriberAck: true,
		}, NewZerologAdapter()),
	}
}

// Publish hands data to every current subscriber of topic. It returns ctx's error
// if a subscriber has not taken the message before ctx ends; delivery then
// continues in the background.
func (b *Local) Publish(ctx context.Context, topic string, data []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)

	// gochannel waits for the ack without watching the message context.
	done := make(chan error, 1)
	go func() { done <- b.pubsub.Publish(topic, msg) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
}

// Subscribe registers a subscriber that lives until ctx ends.
func (b *Local) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range msgs {
			select {
			case out <- msg.Payload:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close closes the underlying go channel and all subscriptions.
func (b *Local) Close() error {
	if err := b.pubsub.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close local bus")
		return err
	}
	return nil
}
