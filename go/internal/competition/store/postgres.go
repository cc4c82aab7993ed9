package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/PTMAbellana/polegion/go/internal/models"
	"github.com/PTMAbellana/polegion/go/internal/sqlutil"
)

const attemptUniqueConstraint = "competition_attempts_participant_problem_key"

// Postgres implements Store on a pgx pool with hand-written SQL.
type Postgres struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

// NewPostgres constructs a store backed by Postgres.
func NewPostgres(pool *pgxpool.Pool, clock clockwork.Clock) *Postgres {
	return &Postgres{pool: pool, clock: clock}
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Competitions

const competitionColumns = `
	id, room_id, title, created_by, status, gameplay_indicator, current_problem_index,
	timer_started_at, timer_duration_sec, paused_remaining_sec, created_at, updated_at`

func scanCompetition(row pgx.Row) (*models.Competition, error) {
	var c models.Competition
	err := row.Scan(
		&c.ID, &c.RoomID, &c.Title, &c.CreatedBy, &c.Status, &c.GameplayIndicator, &c.CurrentProblemIndex,
		&c.TimerStartedAt, &c.TimerDurationSec, &c.PausedRemainingSec, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Postgres) CreateCompetition(ctx context.Context, c *models.Competition) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.clock.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt

	const insertCompetition = `
		INSERT INTO competitions (id, room_id, title, created_by, status, gameplay_indicator,
			current_problem_index, timer_started_at, timer_duration_sec, paused_remaining_sec, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	const insertProblem = `
		INSERT INTO competition_problems (id, competition_id, problem_id, position, timer_sec, kind, answer, max_xp, tolerance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	return sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertCompetition,
			c.ID, c.RoomID, c.Title, c.CreatedBy, c.Status, c.GameplayIndicator,
			c.CurrentProblemIndex, c.TimerStartedAt, c.TimerDurationSec, c.PausedRemainingSec, c.CreatedAt, c.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert competition: %w", err)
		}

		for i := range c.Problems {
			p := &c.Problems[i]
			if p.ID == uuid.Nil {
				p.ID = uuid.New()
			}
			p.CompetitionID = c.ID
			if _, err := tx.Exec(ctx, insertProblem,
				p.ID, p.CompetitionID, p.ProblemID, p.Position, p.TimerSec,
				p.Problem.Kind, p.Problem.Answer, p.Problem.MaxXP, p.Problem.Tolerance,
			); err != nil {
				return fmt.Errorf("failed to insert competition problem %d: %w", p.Position, err)
			}
		}
		return nil
	})
}

func (s *Postgres) GetCompetition(ctx context.Context, id uuid.UUID) (*models.Competition, error) {
	q := `SELECT` + competitionColumns + ` FROM competitions WHERE id = $1`
	c, err := scanCompetition(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrCompetitionNotFound
		}
		return nil, fmt.Errorf("failed to get competition: %w", err)
	}
	if err := s.loadProblems(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Postgres) loadProblems(ctx context.Context, c *models.Competition) error {
	const q = `
		SELECT id, competition_id, problem_id, position, timer_sec, kind, answer, max_xp, tolerance
		FROM competition_problems
		WHERE competition_id = $1
		ORDER BY position
	`
	rows, err := s.pool.Query(ctx, q, c.ID)
	if err != nil {
		return fmt.Errorf("failed to query competition problems: %w", err)
	}
	defer rows.Close()

	c.Problems = nil
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return fmt.Errorf("failed to scan competition problem: %w", err)
		}
		c.Problems = append(c.Problems, *p)
	}
	return rows.Err()
}

func scanProblem(row pgx.Row) (*models.CompetitionProblem, error) {
	var p models.CompetitionProblem
	err := row.Scan(
		&p.ID, &p.CompetitionID, &p.ProblemID, &p.Position, &p.TimerSec,
		&p.Problem.Kind, &p.Problem.Answer, &p.Problem.MaxXP, &p.Problem.Tolerance,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) GetProblem(ctx context.Context, competitionID, problemID uuid.UUID) (*models.CompetitionProblem, error) {
	const q = `
		SELECT id, competition_id, problem_id, position, timer_sec, kind, answer, max_xp, tolerance
		FROM competition_problems
		WHERE competition_id = $1 AND id = $2
	`
	p, err := scanProblem(s.pool.QueryRow(ctx, q, competitionID, problemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrProblemNotFound
		}
		return nil, fmt.Errorf("failed to get competition problem: %w", err)
	}
	return p, nil
}

func (s *Postgres) FindActiveCompetition(ctx context.Context, roomID uuid.UUID) (*models.Competition, error) {
	q := `SELECT` + competitionColumns + `
		FROM competitions
		WHERE room_id = $1 AND status IN ('ONGOING', 'PAUSED')
		ORDER BY created_at DESC
		LIMIT 1`
	c, err := scanCompetition(s.pool.QueryRow(ctx, q, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNoActiveCompetition
		}
		return nil, fmt.Errorf("failed to find active competition: %w", err)
	}
	if err := s.loadProblems(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Postgres) ListActiveCompetitions(ctx context.Context) ([]*models.Competition, error) {
	q := `SELECT` + competitionColumns + `
		FROM competitions
		WHERE status IN ('ONGOING', 'PAUSED')
		ORDER BY created_at`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list active competitions: %w", err)
	}

	var out []*models.Competition
	for rows.Next() {
		c, err := scanCompetition(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan competition: %w", err)
		}
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range out {
		if err := s.loadProblems(ctx, c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Postgres) TransitionCompetition(ctx context.Context, id uuid.UUID, from models.CompetitionStatus, update CompetitionUpdate) (*models.Competition, error) {
	if update.UpdatedAt.IsZero() {
		update.UpdatedAt = s.clock.Now().UTC()
	}

	q := `
		UPDATE competitions
		SET status = $3, gameplay_indicator = $4, current_problem_index = $5,
			timer_started_at = $6, timer_duration_sec = $7, paused_remaining_sec = $8, updated_at = $9
		WHERE id = $1 AND status = $2 AND status <> 'DONE'
		RETURNING` + competitionColumns

	c, err := scanCompetition(s.pool.QueryRow(ctx, q,
		id, from, update.Status, update.GameplayIndicator, update.CurrentProblemIndex,
		update.TimerStartedAt, update.TimerDurationSec, update.PausedRemainingSec, update.UpdatedAt,
	))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to transition competition: %w", err)
		}
		current, getErr := s.GetCompetition(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("competition %s is %s, expected %s: %w", id, current.Status, from, models.ErrInvalidCompetitionState)
	}
	if err := s.loadProblems(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Participants

func (s *Postgres) JoinRoom(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomParticipant, error) {
	const q = `
		INSERT INTO room_participants (id, room_id, user_id, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, q, uuid.New(), roomID, userID, s.clock.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to join room: %w", err)
	}
	return s.GetParticipant(ctx, roomID, userID)
}

func (s *Postgres) GetParticipant(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomParticipant, error) {
	const q = `
		SELECT id, room_id, user_id, joined_at
		FROM room_participants
		WHERE room_id = $1 AND user_id = $2
	`
	var p models.RoomParticipant
	if err := s.pool.QueryRow(ctx, q, roomID, userID).Scan(&p.ID, &p.RoomID, &p.UserID, &p.JoinedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return &p, nil
}

func (s *Postgres) ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.RoomParticipant, error) {
	const q = `
		SELECT id, room_id, user_id, joined_at
		FROM room_participants
		WHERE room_id = $1
		ORDER BY joined_at, id
	`
	rows, err := s.pool.Query(ctx, q, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var out []models.RoomParticipant
	for rows.Next() {
		var p models.RoomParticipant
		if err := rows.Scan(&p.ID, &p.RoomID, &p.UserID, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Attempts

const attemptColumns = `
	a.id, a.room_participant_id, a.competition_id, a.competition_problem_id, a.solution, a.time_taken,
	a.attempted_at, a.submitted_at, a.correct, a.xp_gained, a.feedback, a.late`

func scanAttempt(row pgx.Row) (*models.CompetitionAttempt, error) {
	var a models.CompetitionAttempt
	err := row.Scan(
		&a.ID, &a.RoomParticipantID, &a.CompetitionID, &a.CompetitionProblemID, &a.Solution, &a.TimeTaken,
		&a.AttemptedAt, &a.SubmittedAt, &a.Correct, &a.XPGained, &a.Feedback, &a.Late,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Postgres) RecordAttempt(ctx context.Context, attempt *models.CompetitionAttempt, xp *models.XPTransaction) error {
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

	const insertAttempt = `
		INSERT INTO competition_attempts (id, room_participant_id, competition_id, competition_problem_id, solution,
			time_taken, attempted_at, submitted_at, correct, xp_gained, feedback, late)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	const insertTransaction = `
		INSERT INTO xp_transactions (id, room_participant_id, competition_id, attempt_id, xp_delta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	return sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) error {
		// FOR SHARE holds off a concurrent status transition until this tx ends.
		var status models.CompetitionStatus
		if err := tx.QueryRow(ctx, `SELECT status FROM competitions WHERE id = $1 FOR SHARE`, attempt.CompetitionID).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrCompetitionNotFound
			}
			return fmt.Errorf("failed to lock competition: %w", err)
		}
		if status != models.CompetitionStatusOngoing {
			return fmt.Errorf("cannot record attempt while competition is %s: %w", status, models.ErrInvalidCompetitionState)
		}

		if _, err := tx.Exec(ctx, insertAttempt,
			attempt.ID, attempt.RoomParticipantID, attempt.CompetitionID, attempt.CompetitionProblemID, attempt.Solution,
			attempt.TimeTaken, attempt.AttemptedAt, attempt.SubmittedAt, attempt.Correct, attempt.XPGained, attempt.Feedback, attempt.Late,
		); err != nil {
			if sqlutil.IsUniqueViolation(err, attemptUniqueConstraint) {
				return models.ErrDuplicateAttempt
			}
			return fmt.Errorf("failed to insert attempt: %w", err)
		}

		if _, err := tx.Exec(ctx, insertTransaction,
			xp.ID, xp.RoomParticipantID, xp.CompetitionID, xp.AttemptID, xp.XPDelta, xp.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert xp transaction: %w", err)
		}
		return nil
	})
}

func (s *Postgres) GetAttempt(ctx context.Context, participantID, problemID uuid.UUID) (*models.CompetitionAttempt, error) {
	q := `SELECT` + attemptColumns + `
		FROM competition_attempts a
		WHERE a.room_participant_id = $1 AND a.competition_problem_id = $2`
	a, err := scanAttempt(s.pool.QueryRow(ctx, q, participantID, problemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return a, nil
}

// Ledger

// queryer is satisfied by *pgxpool.Pool and pgx.Tx.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Postgres) ListAttempts(ctx context.Context, f Filter) ([]models.CompetitionAttempt, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return listAttempts(ctx, s.pool, f)
}

func (s *Postgres) ListTransactions(ctx context.Context, f Filter) ([]models.XPTransaction, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return listTransactions(ctx, s.pool, f)
}

// ReadLedger reads both tables inside one read-only REPEATABLE READ tx.
func (s *Postgres) ReadLedger(ctx context.Context, f Filter) (Ledger, error) {
	if err := f.Validate(); err != nil {
		return Ledger{}, err
	}

	var ledger Ledger
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := sqlutil.RunWith(ctx, s.pool, opts, func(tx pgx.Tx) error {
		var err error
		if ledger.Attempts, err = listAttempts(ctx, tx, f); err != nil {
			return err
		}
		ledger.Transactions, err = listTransactions(ctx, tx, f)
		return err
	})
	if err != nil {
		return Ledger{}, err
	}
	return ledger, nil
}

func listAttempts(ctx context.Context, db queryer, f Filter) ([]models.CompetitionAttempt, error) {
	q := `SELECT` + attemptColumns + ` FROM competition_attempts a `
	arg := f.CompetitionID
	if f.CompetitionID != uuid.Nil {
		q += `WHERE a.competition_id = $1 ORDER BY a.seq`
	} else {
		q += `JOIN room_participants p ON p.id = a.room_participant_id WHERE p.room_id = $1 ORDER BY a.seq`
		arg = f.RoomID
	}

	rows, err := db.Query(ctx, q, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var out []models.CompetitionAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func listTransactions(ctx context.Context, db queryer, f Filter) ([]models.XPTransaction, error) {
	q := `SELECT t.id, t.room_participant_id, t.competition_id, t.attempt_id, t.xp_delta, t.created_at FROM xp_transactions t `
	arg := f.CompetitionID
	if f.CompetitionID != uuid.Nil {
		q += `WHERE t.competition_id = $1 ORDER BY t.seq`
	} else {
		q += `JOIN room_participants p ON p.id = t.room_participant_id WHERE p.room_id = $1 ORDER BY t.seq`
		arg = f.RoomID
	}

	rows, err := db.Query(ctx, q, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list xp transactions: %w", err)
	}
	defer rows.Close()

	var out []models.XPTransaction
	for rows.Next() {
		var t models.XPTransaction
		if err := rows.Scan(&t.ID, &t.RoomParticipantID, &t.CompetitionID, &t.AttemptID, &t.XPDelta, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan xp transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
