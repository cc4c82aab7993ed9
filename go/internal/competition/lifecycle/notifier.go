package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/PTMAbellana/polegion/go/internal/competition/bus"
	"github.com/PTMAbellana/polegion/go/internal/competition/events"
)

// Notifier announces lifecycle transitions on a competition's topic.
type Notifier interface {
	Notify(ctx context.Context, competitionID uuid.UUID, payload events.CompetitionStatusPayload) error
}

// BusNotifier publishes competition_status straight to the bus.
// Used when there is no durable outbox (memory storage).
type BusNotifier struct {
	pub         bus.Publisher
	topicPrefix string
	clock       clockwork.Clock
}

// NewBusNotifier creates a notifier that publishes directly
func NewBusNotifier(pub bus.Publisher, topicPrefix string, clk clockwork.Clock) *BusNotifier {
	return &BusNotifier{pub: pub, topicPrefix: topicPrefix, clock: clk}
}

func (n *BusNotifier) Notify(ctx context.Context, competitionID uuid.UUID, payload events.CompetitionStatusPayload) error {
	data, err := events.Encode(events.EventTypeCompetitionStatus, competitionID, payload, n.clock.Now())
	if err != nil {
		return err
	}
	if err := n.pub.Publish(ctx, events.Topic(n.topicPrefix, competitionID), data); err != nil {
		return fmt.Errorf("publish competition status: %w", err)
	}
	return nil
}
