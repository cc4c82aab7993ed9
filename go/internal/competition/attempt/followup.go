package attempt

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/PTMAbellana/polegion/go/internal/competition/bus"
	"github.com/PTMAbellana/polegion/go/internal/competition/events"
	"github.com/PTMAbellana/polegion/go/internal/competition/leaderboard"
	"github.com/PTMAbellana/polegion/go/internal/competition/metrics"
)

// FollowUp is the work left after an attempt is durable: recompute, then announce.
type FollowUp struct {
	RoomID        uuid.UUID
	CompetitionID uuid.UUID
	Submission    events.SubmissionUpdatePayload
}

// Dispatcher schedules follow-ups. Dispatch never blocks the submitting request.
type Dispatcher interface {
	Dispatch(f FollowUp)
}

// Rebuilder re-derives a leaderboard view.
type Rebuilder interface {
	Rebuild(ctx context.Context, scope leaderboard.Scope) (*leaderboard.View, error)
}

// Processor runs one follow-up: rebuild room, rebuild competition, publish submission_update
// and leaderboard_updated. Failures are logged and never surface to the submitter.
type Processor struct {
	rebuilder   Rebuilder
	pub         bus.Publisher
	topicPrefix string
	clock       clockwork.Clock
	metrics     *metrics.Metrics
}

// NewProcessor creates a follow-up processor
func NewProcessor(rebuilder Rebuilder, pub bus.Publisher, topicPrefix string, clk clockwork.Clock, m *metrics.Metrics) *Processor {
	return &Processor{rebuilder: rebuilder, pub: pub, topicPrefix: topicPrefix, clock: clk, metrics: m}
}

// Process runs f to completion.
func (p *Processor) Process(ctx context.Context, f FollowUp) {
	logger := log.With().
		Str("competition_id", f.CompetitionID.String()).
		Str("participant_id", f.Submission.ParticipantID).
		Logger()

	var rebuilt []leaderboard.Scope
	for _, scope := range []leaderboard.Scope{leaderboard.RoomScope(f.RoomID), leaderboard.CompetitionScope(f.CompetitionID)} {
		if _, err := p.rebuilder.Rebuild(ctx, scope); err != nil {
			logger.Error().Err(err).Str("scope", scope.Key()).Msg("Leaderboard rebuild failed")
			continue
		}
		rebuilt = append(rebuilt, scope)
	}

	topic := events.Topic(p.topicPrefix, f.CompetitionID)
	p.publish(ctx, topic, events.EventTypeSubmissionUpdate, f.CompetitionID, f.Submission)

	now := p.clock.Now().UTC()
	for _, scope := range rebuilt {
		p.publish(ctx, topic, events.EventTypeLeaderboardUpdated, f.CompetitionID, events.LeaderboardUpdatedPayload{
			Scope:     string(scope.Kind),
			ScopeID:   scope.ID.String(),
			RebuiltAt: now,
		})
	}
}

func (p *Processor) publish(ctx context.Context, topic string, eventType events.EventType, competitionID uuid.UUID, payload interface{}) {
	data, err := events.Encode(eventType, competitionID, payload, p.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to encode event")
		return
	}
	if err := p.pub.Publish(ctx, topic, data); err != nil {
		p.metrics.RecordBroadcastFailure()
		log.Error().Err(err).
			Str("topic", topic).
			Str("event_type", string(eventType)).
			Msg("Broadcast unavailable, clients will resync on next fetch")
		return
	}
	log.Debug().Str("topic", topic).Str("event_type", string(eventType)).Msg("Event published")
}

// Inline runs follow-ups on the caller's goroutine. Used by tests and small deployments.
type Inline struct {
	processor *Processor
}

// NewInline creates a synchronous dispatcher
func NewInline(p *Processor) *Inline {
	return &Inline{processor: p}
}

func (d *Inline) Dispatch(f FollowUp) {
	d.processor.Process(context.Background(), f)
}

// WorkerPool runs follow-ups on a fixed set of workers fed by a bounded queue.
// When the queue is full the follow-up is dropped; the leaderboard stays rebuildable from the ledger.
type WorkerPool struct {
	processor  *Processor
	metrics    *metrics.Metrics
	numWorkers int
	timeout    time.Duration

	mu     sync.RWMutex
	closed bool
	workCh chan FollowUp
}

// NewWorkerPool creates a pool with numWorkers workers and a queue of queueSize.
func NewWorkerPool(p *Processor, m *metrics.Metrics, numWorkers, queueSize int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = numWorkers * 2
	}
	return &WorkerPool{
		processor:  p,
		metrics:    m,
		numWorkers: numWorkers,
		timeout:    30 * time.Second,
		workCh:     make(chan FollowUp, queueSize),
	}
}

// Dispatch enqueues f without blocking.
func (w *WorkerPool) Dispatch(f FollowUp) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.drop(f, "worker pool stopped")
		return
	}
	select {
	case w.workCh <- f:
	default:
		w.drop(f, "follow-up queue full")
	}
}

func (w *WorkerPool) drop(f FollowUp, reason string) {
	w.metrics.RecordFollowUpDropped()
	log.Warn().
		Str("competition_id", f.CompetitionID.String()).
		Str("participant_id", f.Submission.ParticipantID).
		Msg(reason + ", follow-up dropped")
}

// Run starts the workers and blocks until ctx is cancelled. Queued follow-ups are drained before it returns.
func (w *WorkerPool) Run(ctx context.Context) error {
	log.Info().Int("workers", w.numWorkers).Int("queue", cap(w.workCh)).Msg("follow-up worker pool started")

	var wg sync.WaitGroup
	for i := 0; i < w.numWorkers; i++ {
		wg.Add(1)
		go w.worker(&wg, i)
	}

	<-ctx.Done()
	log.Info().Msg("shutting down follow-up workers")

	w.mu.Lock()
	w.closed = true
	close(w.workCh)
	w.mu.Unlock()

	wg.Wait()
	log.Info().Msg("all follow-up workers shut down")
	return nil
}

func (w *WorkerPool) worker(wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for f := range w.workCh {
		log.Debug().
			Str("competition_id", f.CompetitionID.String()).
			Int("worker_id", workerID).
			Msg("worker handling follow-up")

		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		w.processor.Process(ctx, f)
		cancel()
	}
}
