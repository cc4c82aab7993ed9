package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PTMAbellana/polegion/go/internal/competition/bus"
	"github.com/PTMAbellana/polegion/go/internal/competition/events"
)

func TestBusNotifier_PublishesCompetitionStatus(t *testing.T) {
	local := bus.NewLocal()
	defer local.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := uuid.New()
	stream, err := local.Subscribe(ctx, events.Topic("competition", id))
	require.NoError(t, err)

	n := NewBusNotifier(local, "competition", clockwork.NewFakeClock())
	require.NoError(t, n.Notify(ctx, id, events.CompetitionStatusPayload{
		CompetitionID: id.String(),
		Status:        "PAUSED",
	}))

	select {
	case raw := <-stream:
		ev, err := events.Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, events.EventTypeCompetitionStatus, ev.Type)
		payload, err := events.ParsePayload(ev)
		require.NoError(t, err)
		assert.Equal(t, "PAUSED", payload.(events.CompetitionStatusPayload).Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no competition_status received")
	}
}
