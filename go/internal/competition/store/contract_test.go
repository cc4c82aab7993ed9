package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PTMAbellana/polegion/go/internal/models"
)

var contractNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newCompetition(roomID uuid.UUID, problems int) *models.Competition {
	c := &models.Competition{
		RoomID:            roomID,
		Title:             "Triangles",
		CreatedBy:         uuid.New(),
		Status:            models.CompetitionStatusNew,
		GameplayIndicator: models.GameplayPause,
		CreatedAt:         contractNow,
	}
	for i := 0; i < problems; i++ {
		c.Problems = append(c.Problems, models.CompetitionProblem{
			ProblemID: uuid.New(),
			Position:  i,
			TimerSec:  60,
			Problem: models.ProblemSpec{
				Kind:   models.ProblemKindNumeric,
				Answer: json.RawMessage(`{"value": 12}`),
				MaxXP:  100,
			},
		})
	}
	return c
}

func newOngoingCompetition(roomID uuid.UUID, problems int) *models.Competition {
	c := newCompetition(roomID, problems)
	c.Status = models.CompetitionStatusOngoing
	c.GameplayIndicator = models.GameplayPlay
	return c
}

func newAttempt(c *models.Competition, p *models.RoomParticipant, problem int, xp int) (*models.CompetitionAttempt, *models.XPTransaction) {
	submitted := contractNow.Add(time.Duration(problem) * time.Minute)
	a := &models.CompetitionAttempt{
		RoomParticipantID:    p.ID,
		CompetitionID:        c.ID,
		CompetitionProblemID: c.Problems[problem].ID,
		Solution:             json.RawMessage(`{"value": 12}`),
		TimeTaken:            45,
		AttemptedAt:          submitted.Add(-45 * time.Second),
		SubmittedAt:          submitted,
		Correct:              xp > 0,
		XPGained:             xp,
		Feedback:             "correct",
	}
	tx := &models.XPTransaction{
		RoomParticipantID: p.ID,
		CompetitionID:     c.ID,
		XPDelta:           xp,
	}
	return a, tx
}

// runStoreContract exercises the behavior every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and get competition", func(t *testing.T) {
		s := newStore(t)
		c := newCompetition(uuid.New(), 3)
		require.NoError(t, s.CreateCompetition(ctx, c))
		require.NotEqual(t, uuid.Nil, c.ID)

		got, err := s.GetCompetition(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.Title, got.Title)
		assert.Equal(t, models.CompetitionStatusNew, got.Status)
		require.Len(t, got.Problems, 3)
		for i, p := range got.Problems {
			assert.Equal(t, i, p.Position)
			assert.Equal(t, c.Problems[i].ID, p.ID)
			assert.Equal(t, c.ID, p.CompetitionID)
			assert.Equal(t, models.ProblemKindNumeric, p.Problem.Kind)
			assert.JSONEq(t, `{"value": 12}`, string(p.Problem.Answer))
		}

		problem, err := s.GetProblem(ctx, c.ID, c.Problems[1].ID)
		require.NoError(t, err)
		assert.Equal(t, 1, problem.Position)
	})

	t.Run("not found errors", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetCompetition(ctx, uuid.New())
		assert.ErrorIs(t, err, models.ErrCompetitionNotFound)

		c := newCompetition(uuid.New(), 1)
		require.NoError(t, s.CreateCompetition(ctx, c))
		_, err = s.GetProblem(ctx, c.ID, uuid.New())
		assert.ErrorIs(t, err, models.ErrProblemNotFound)

		_, err = s.GetParticipant(ctx, c.RoomID, uuid.New())
		assert.ErrorIs(t, err, models.ErrParticipantNotFound)

		_, err = s.FindActiveCompetition(ctx, c.RoomID)
		assert.ErrorIs(t, err, models.ErrNoActiveCompetition)

		_, err = s.GetAttempt(ctx, uuid.New(), uuid.New())
		assert.ErrorIs(t, err, models.ErrAttemptNotFound)
	})

	t.Run("join room is idempotent", func(t *testing.T) {
		s := newStore(t)
		roomID, userID := uuid.New(), uuid.New()

		first, err := s.JoinRoom(ctx, roomID, userID)
		require.NoError(t, err)
		second, err := s.JoinRoom(ctx, roomID, userID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		_, err = s.JoinRoom(ctx, roomID, uuid.New())
		require.NoError(t, err)

		list, err := s.ListParticipants(ctx, roomID)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("transition is compare-and-set on status", func(t *testing.T) {
		s := newStore(t)
		c := newCompetition(uuid.New(), 2)
		require.NoError(t, s.CreateCompetition(ctx, c))

		started := contractNow.Add(time.Minute)
		up := UpdateFrom(c)
		up.Status = models.CompetitionStatusOngoing
		up.GameplayIndicator = models.GameplayPlay
		up.TimerStartedAt = &started
		up.TimerDurationSec = 60
		up.UpdatedAt = started

		got, err := s.TransitionCompetition(ctx, c.ID, models.CompetitionStatusNew, up)
		require.NoError(t, err)
		assert.Equal(t, models.CompetitionStatusOngoing, got.Status)
		require.NotNil(t, got.TimerStartedAt)
		assert.True(t, started.Equal(*got.TimerStartedAt))
		assert.Len(t, got.Problems, 2)

		_, err = s.TransitionCompetition(ctx, c.ID, models.CompetitionStatusNew, up)
		assert.ErrorIs(t, err, models.ErrInvalidCompetitionState)

		active, err := s.FindActiveCompetition(ctx, c.RoomID)
		require.NoError(t, err)
		assert.Equal(t, c.ID, active.ID)

		list, err := s.ListActiveCompetitions(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)

		done := UpdateFrom(got)
		done.Status = models.CompetitionStatusDone
		_, err = s.TransitionCompetition(ctx, c.ID, models.CompetitionStatusOngoing, done)
		require.NoError(t, err)

		// DONE is terminal even when the caller claims it as the expected state.
		again := done
		again.Status = models.CompetitionStatusOngoing
		_, err = s.TransitionCompetition(ctx, c.ID, models.CompetitionStatusDone, again)
		assert.ErrorIs(t, err, models.ErrInvalidCompetitionState)

		_, err = s.TransitionCompetition(ctx, uuid.New(), models.CompetitionStatusNew, up)
		assert.ErrorIs(t, err, models.ErrCompetitionNotFound)
	})

	t.Run("record attempt rejects duplicates", func(t *testing.T) {
		s := newStore(t)
		c := newOngoingCompetition(uuid.New(), 1)
		require.NoError(t, s.CreateCompetition(ctx, c))
		p, err := s.JoinRoom(ctx, c.RoomID, uuid.New())
		require.NoError(t, err)

		a, tx := newAttempt(c, p, 0, 100)
		require.NoError(t, s.RecordAttempt(ctx, a, tx))
		assert.Equal(t, a.ID, tx.AttemptID)

		dup, dupTx := newAttempt(c, p, 0, 100)
		assert.ErrorIs(t, s.RecordAttempt(ctx, dup, dupTx), models.ErrDuplicateAttempt)

		stored, err := s.GetAttempt(ctx, p.ID, c.Problems[0].ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, stored.ID)
		assert.True(t, a.AttemptedAt.Equal(stored.AttemptedAt))

		attempts, err := s.ListAttempts(ctx, ForCompetition(c.ID))
		require.NoError(t, err)
		assert.Len(t, attempts, 1)
		txs, err := s.ListTransactions(ctx, ForCompetition(c.ID))
		require.NoError(t, err)
		assert.Len(t, txs, 1)
	})

	t.Run("concurrent identical attempts persist once", func(t *testing.T) {
		s := newStore(t)
		c := newOngoingCompetition(uuid.New(), 1)
		require.NoError(t, s.CreateCompetition(ctx, c))
		p, err := s.JoinRoom(ctx, c.RoomID, uuid.New())
		require.NoError(t, err)

		const n = 20
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				a, tx := newAttempt(c, p, 0, 100)
				errs[i] = s.RecordAttempt(ctx, a, tx)
			}(i)
		}
		wg.Wait()

		ok, dup := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, models.ErrDuplicateAttempt):
				dup++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, n-1, dup)

		txs, err := s.ListTransactions(ctx, ForCompetition(c.ID))
		require.NoError(t, err)
		assert.Len(t, txs, 1)
	})

	t.Run("ledger filters by room and competition", func(t *testing.T) {
		s := newStore(t)
		roomID := uuid.New()
		first := newOngoingCompetition(roomID, 1)
		second := newOngoingCompetition(roomID, 1)
		other := newOngoingCompetition(uuid.New(), 1)
		for _, c := range []*models.Competition{first, second, other} {
			require.NoError(t, s.CreateCompetition(ctx, c))
		}
		p, err := s.JoinRoom(ctx, roomID, uuid.New())
		require.NoError(t, err)
		outsider, err := s.JoinRoom(ctx, other.RoomID, uuid.New())
		require.NoError(t, err)

		for _, pair := range []struct {
			c *models.Competition
			p *models.RoomParticipant
		}{{first, p}, {second, p}, {other, outsider}} {
			a, tx := newAttempt(pair.c, pair.p, 0, 10)
			require.NoError(t, s.RecordAttempt(ctx, a, tx))
		}

		room, err := s.ListTransactions(ctx, ForRoom(roomID))
		require.NoError(t, err)
		assert.Len(t, room, 2)

		comp, err := s.ListAttempts(ctx, ForCompetition(second.ID))
		require.NoError(t, err)
		require.Len(t, comp, 1)
		assert.Equal(t, second.ID, comp[0].CompetitionID)

		_, err = s.ListAttempts(ctx, Filter{})
		assert.ErrorIs(t, err, ErrInvalidFilter)
		_, err = s.ListTransactions(ctx, Filter{RoomID: roomID, CompetitionID: first.ID})
		assert.ErrorIs(t, err, ErrInvalidFilter)

		ledger, err := s.ReadLedger(ctx, ForRoom(roomID))
		require.NoError(t, err)
		assert.Len(t, ledger.Attempts, 2)
		assert.Len(t, ledger.Transactions, 2)
		for _, tx := range ledger.Transactions {
			assert.NotEqual(t, other.ID, tx.CompetitionID)
		}
		_, err = s.ReadLedger(ctx, Filter{})
		assert.ErrorIs(t, err, ErrInvalidFilter)
	})

	t.Run("record attempt requires an ongoing competition", func(t *testing.T) {
		s := newStore(t)
		c := newCompetition(uuid.New(), 3)
		require.NoError(t, s.CreateCompetition(ctx, c))
		p, err := s.JoinRoom(ctx, c.RoomID, uuid.New())
		require.NoError(t, err)

		a, tx := newAttempt(c, p, 0, 100)
		assert.ErrorIs(t, s.RecordAttempt(ctx, a, tx), models.ErrInvalidCompetitionState)

		move := func(from, to models.CompetitionStatus) {
			current, err := s.GetCompetition(ctx, c.ID)
			require.NoError(t, err)
			up := UpdateFrom(current)
			up.Status = to
			_, err = s.TransitionCompetition(ctx, c.ID, from, up)
			require.NoError(t, err)
		}

		move(models.CompetitionStatusNew, models.CompetitionStatusOngoing)
		a, tx = newAttempt(c, p, 0, 100)
		require.NoError(t, s.RecordAttempt(ctx, a, tx))

		move(models.CompetitionStatusOngoing, models.CompetitionStatusPaused)
		a, tx = newAttempt(c, p, 1, 100)
		assert.ErrorIs(t, s.RecordAttempt(ctx, a, tx), models.ErrInvalidCompetitionState)

		move(models.CompetitionStatusPaused, models.CompetitionStatusDone)
		a, tx = newAttempt(c, p, 2, 100)
		assert.ErrorIs(t, s.RecordAttempt(ctx, a, tx), models.ErrInvalidCompetitionState)

		ledger, err := s.ReadLedger(ctx, ForCompetition(c.ID))
		require.NoError(t, err)
		assert.Len(t, ledger.Attempts, 1)
		assert.Len(t, ledger.Transactions, 1)

		stray := newOngoingCompetition(c.RoomID, 1)
		a, tx = newAttempt(stray, p, 0, 100)
		assert.ErrorIs(t, s.RecordAttempt(ctx, a, tx), models.ErrCompetitionNotFound)
	})
}
