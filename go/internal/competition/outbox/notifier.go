package outbox

import (
	"context"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/PTMAbellana/polegion/go/internal/competition/events"
)

// Inserter queues outbox rows.
type Inserter interface {
	Insert(ctx context.Context, competitionID uuid.UUID, eventType string, payload []byte) (uuid.UUID, error)
}

// Notifier queues competition_status envelopes in the outbox for the relay to publish.
type Notifier struct {
	repo  Inserter
	clock clockwork.Clock
}

func NewNotifier(repo Inserter, clk clockwork.Clock) *Notifier {
	return &Notifier{repo: repo, clock: clk}
}

func (n *Notifier) Notify(ctx context.Context, competitionID uuid.UUID, payload events.CompetitionStatusPayload) error {
	data, err := events.Encode(events.EventTypeCompetitionStatus, competitionID, payload, n.clock.Now())
	if err != nil {
		return err
	}
	id, err := n.repo.Insert(ctx, competitionID, string(events.EventTypeCompetitionStatus), data)
	if err != nil {
		return err
	}
	log.Debug().
		Str("event_id", id.String()).
		Str("competition_id", competitionID.String()).
		Str("status", payload.Status).
		Msg("queued competition status in outbox")
	return nil
}
