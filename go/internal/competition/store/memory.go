package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/PTMAbellana/polegion/go/internal/models"
)

type attemptKey struct {
	participantID uuid.UUID
	problemID     uuid.UUID
}

type roomUserKey struct {
	roomID uuid.UUID
	userID uuid.UUID
}

// Memory is an in-process Store with the same constraints as the Postgres schema.
type Memory struct {
	clock clockwork.Clock

	mu           sync.RWMutex
	competitions map[uuid.UUID]*models.Competition
	participants map[uuid.UUID]*models.RoomParticipant
	byRoomUser   map[roomUserKey]uuid.UUID
	attempts     []models.CompetitionAttempt
	attemptIndex map[attemptKey]int
	transactions []models.XPTransaction
}

// NewMemory creates an empty in-memory store.
func NewMemory(clock clockwork.Clock) *Memory {
	return &Memory{
		clock:        clock,
		competitions: make(map[uuid.UUID]*models.Competition),
		participants: make(map[uuid.UUID]*models.RoomParticipant),
		byRoomUser:   make(map[roomUserKey]uuid.UUID),
		attemptIndex: make(map[attemptKey]int),
	}
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Competitions

func (m *Memory) CreateCompetition(ctx context.Context, c *models.Competition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, exists := m.competitions[c.ID]; exists {
		return fmt.Errorf("competition %s already exists", c.ID)
	}
	now := m.clock.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	for i := range c.Problems {
		if c.Problems[i].ID == uuid.Nil {
			c.Problems[i].ID = uuid.New()
		}
		c.Problems[i].CompetitionID = c.ID
	}

	m.competitions[c.ID] = cloneCompetition(c)
	return nil
}

func (m *Memory) GetCompetition(ctx context.Context, id uuid.UUID) (*models.Competition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.competitions[id]
	if !ok {
		return nil, models.ErrCompetitionNotFound
	}
	return cloneCompetition(c), nil
}

func (m *Memory) GetProblem(ctx context.Context, competitionID, problemID uuid.UUID) (*models.CompetitionProblem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.competitions[competitionID]
	if !ok {
		return nil, models.ErrCompetitionNotFound
	}
	p := c.Problem(problemID)
	if p == nil {
		return nil, models.ErrProblemNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) FindActiveCompetition(ctx context.Context, roomID uuid.UUID) (*models.Competition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *models.Competition
	for _, c := range m.competitions {
		if c.RoomID != roomID || !c.IsActive() {
			continue
		}
		if found == nil || c.CreatedAt.After(found.CreatedAt) {
			found = c
		}
	}
	if found == nil {
		return nil, models.ErrNoActiveCompetition
	}
	return cloneCompetition(found), nil
}

func (m *Memory) ListActiveCompetitions(ctx context.Context) ([]*models.Competition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Competition
	for _, c := range m.competitions {
		if c.IsActive() {
			out = append(out, cloneCompetition(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) TransitionCompetition(ctx context.Context, id uuid.UUID, from models.CompetitionStatus, update CompetitionUpdate) (*models.Competition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.competitions[id]
	if !ok {
		return nil, models.ErrCompetitionNotFound
	}
	if c.Status != from || c.Status == models.CompetitionStatusDone {
		return nil, fmt.Errorf("competition %s is %s, expected %s: %w", id, c.Status, from, models.ErrInvalidCompetitionState)
	}

	c.Status = update.Status
	c.GameplayIndicator = update.GameplayIndicator
	c.CurrentProblemIndex = update.CurrentProblemIndex
	c.TimerStartedAt = copyTime(update.TimerStartedAt)
	c.TimerDurationSec = update.TimerDurationSec
	c.PausedRemainingSec = copyInt(update.PausedRemainingSec)
	c.UpdatedAt = update.UpdatedAt
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = m.clock.Now().UTC()
	}
	return cloneCompetition(c), nil
}

// Participants

func (m *Memory) JoinRoom(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := roomUserKey{roomID: roomID, userID: userID}
	if id, ok := m.byRoomUser[key]; ok {
		p := *m.participants[id]
		return &p, nil
	}

	p := &models.RoomParticipant{
		ID:       uuid.New(),
		RoomID:   roomID,
		UserID:   userID,
		JoinedAt: m.clock.Now().UTC(),
	}
	m.participants[p.ID] = p
	m.byRoomUser[key] = p.ID
	out := *p
	return &out, nil
}

func (m *Memory) GetParticipant(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomParticipant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byRoomUser[roomUserKey{roomID: roomID, userID: userID}]
	if !ok {
		return nil, models.ErrParticipantNotFound
	}
	p := *m.participants[id]
	return &p, nil
}

func (m *Memory) ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.RoomParticipant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.RoomParticipant
	for _, p := range m.participants {
		if p.RoomID == roomID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Attempts

func (m *Memory) RecordAttempt(ctx context.Context, attempt *models.CompetitionAttempt, xp *models.XPTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.competitions[attempt.CompetitionID]
	if !ok {
		return models.ErrCompetitionNotFound
	}
	if c.Status != models.CompetitionStatusOngoing {
		return fmt.Errorf("cannot record attempt while competition is %s: %w", c.Status, models.ErrInvalidCompetitionState)
	}
	if _, ok := m.participants[attempt.RoomParticipantID]; !ok {
		return models.ErrParticipantNotFound
	}
	key := attemptKey{participantID: attempt.RoomParticipantID, problemID: attempt.CompetitionProblemID}
	if _, exists := m.attemptIndex[key]; exists {
		return models.ErrDuplicateAttempt
	}

	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if xp.ID == uuid.Nil {
		xp.ID = uuid.New()
	}
	xp.AttemptID = attempt.ID
	if xp.CreatedAt.IsZero() {
		xp.CreatedAt = attempt.SubmittedAt
	}

	m.attemptIndex[key] = len(m.attempts)
	m.attempts = append(m.attempts, *attempt)
	m.transactions = append(m.transactions, *xp)
	return nil
}

func (m *Memory) GetAttempt(ctx context.Context, participantID, problemID uuid.UUID) (*models.CompetitionAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.attemptIndex[attemptKey{participantID: participantID, problemID: problemID}]
	if !ok {
		return nil, models.ErrAttemptNotFound
	}
	a := m.attempts[i]
	return &a, nil
}

// Ledger

func (m *Memory) ListAttempts(ctx context.Context, f Filter) ([]models.CompetitionAttempt, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attemptsLocked(f), nil
}

func (m *Memory) ListTransactions(ctx context.Context, f Filter) ([]models.XPTransaction, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transactionsLocked(f), nil
}

func (m *Memory) ReadLedger(ctx context.Context, f Filter) (Ledger, error) {
	if err := f.Validate(); err != nil {
		return Ledger{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Ledger{Attempts: m.attemptsLocked(f), Transactions: m.transactionsLocked(f)}, nil
}

func (m *Memory) attemptsLocked(f Filter) []models.CompetitionAttempt {
	var out []models.CompetitionAttempt
	for _, a := range m.attempts {
		if m.matchesLocked(f, a.RoomParticipantID, a.CompetitionID) {
			out = append(out, a)
		}
	}
	return out
}

func (m *Memory) transactionsLocked(f Filter) []models.XPTransaction {
	var out []models.XPTransaction
	for _, t := range m.transactions {
		if m.matchesLocked(f, t.RoomParticipantID, t.CompetitionID) {
			out = append(out, t)
		}
	}
	return out
}

func (m *Memory) matchesLocked(f Filter, participantID, competitionID uuid.UUID) bool {
	if f.CompetitionID != uuid.Nil {
		return competitionID == f.CompetitionID
	}
	p, ok := m.participants[participantID]
	return ok && p.RoomID == f.RoomID
}

func cloneCompetition(c *models.Competition) *models.Competition {
	out := *c
	out.TimerStartedAt = copyTime(c.TimerStartedAt)
	out.PausedRemainingSec = copyInt(c.PausedRemainingSec)
	out.Problems = append([]models.CompetitionProblem(nil), c.Problems...)
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
