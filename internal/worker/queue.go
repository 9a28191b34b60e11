package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"secsync/internal/domain"
	"secsync/internal/events"
	"secsync/internal/metrics"
	"secsync/internal/models"
	"secsync/internal/remote"
	"secsync/internal/scheduler"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("sync queue is closed")

// Outcome is the result of one delivery attempt.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeRetrying
	OutcomeDropped
	// OutcomeBusy means another attempt for the same item was already in flight.
	OutcomeBusy
	// OutcomeGone means the item was no longer in the store.
	OutcomeGone
	// OutcomeAborted means the caller's context ended mid-attempt; the
	// attempt does not count toward the retry ceiling and any pending retry
	// is re-armed.
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeRetrying:
		return "retrying"
	case OutcomeDropped:
		return "dropped"
	case OutcomeBusy:
		return "busy"
	case OutcomeGone:
		return "gone"
	case OutcomeAborted:
		return "aborted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Request is what callers hand to Enqueue.
type Request struct {
	Operation  models.Operation  `json:"operation"`
	TargetType models.TargetType `json:"target_type"`
	Payload    json.RawMessage   `json:"payload"`
}

// FlushReport tallies one FlushAll run.
type FlushReport struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Dropped   int `json:"dropped"`
	Skipped   int `json:"skipped"`
}

// Options wires a Queue. Store and Sender are required.
type Options struct {
	Store            domain.ItemStore
	Sender           domain.Sender
	Policy           RetryPolicy
	Publisher        domain.EventPublisher
	Logger           *zerolog.Logger
	FlushConcurrency int
	Online           bool
}

// Queue persists pending writes and delivers them to the remote API.
// Deliveries for different items run concurrently with no ordering between them.
type Queue struct {
	store      domain.ItemStore
	sender     domain.Sender
	policy     RetryPolicy
	publisher  domain.EventPublisher
	logger     zerolog.Logger
	sched      *scheduler.Scheduler
	flushLimit int

	online atomic.Bool
	closed atomic.Bool

	mu       sync.Mutex
	inflight map[string]struct{}

	// baseCtx outlives individual requests; background deliveries use it.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewQueue(opts Options) (*Queue, error) {
	if opts.Store == nil {
		return nil, errors.New("item store is required")
	}
	if opts.Sender == nil {
		return nil, errors.New("sender is required")
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "sync_queue").Logger()
	}
	limit := opts.FlushConcurrency
	if limit <= 0 {
		limit = models.DefaultFlushConcurrency
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		store:      opts.Store,
		sender:     opts.Sender,
		policy:     opts.Policy.withDefaults(),
		publisher:  opts.Publisher,
		logger:     logger,
		sched:      scheduler.New(),
		flushLimit: limit,
		inflight:   make(map[string]struct{}),
		baseCtx:    ctx,
		cancel:     cancel,
	}
	q.online.Store(opts.Online)
	metrics.SetOnline(opts.Online)
	return q, nil
}

// Enqueue validates and persists a write. When online, delivery starts
// immediately in the background.
func (q *Queue) Enqueue(ctx context.Context, req Request) (*models.SyncItem, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}

	item := &models.SyncItem{
		ID:         uuid.NewString(),
		Payload:    req.Payload,
		Operation:  req.Operation,
		TargetType: req.TargetType,
		CreatedAt:  time.Now().UTC(),
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}

	q.warnSameEntity(ctx, item)

	if err := q.store.Put(ctx, item); err != nil {
		return nil, fmt.Errorf("persist sync item: %w", err)
	}

	metrics.IncEnqueued(string(item.TargetType))
	q.refreshLength(ctx)
	q.publish(events.EventItemEnqueued, item, nil, nil)
	q.logger.Debug().Str("item_id", item.ID).Str("target", string(item.TargetType)).Str("operation", string(item.Operation)).Msg("item enqueued")

	if q.online.Load() {
		q.goDeliver(item.ID)
	}
	return item, nil
}

// warnSameEntity logs when an update targets an entity that already has a
// queued write; the two may reach the remote API in either order.
func (q *Queue) warnSameEntity(ctx context.Context, item *models.SyncItem) {
	entity := item.EntityID()
	if entity == "" {
		return
	}
	pending, err := q.store.List(ctx)
	if err != nil {
		return
	}
	for i := range pending {
		if pending[i].TargetType == item.TargetType && pending[i].EntityID() == entity {
			q.logger.Warn().
				Str("target", string(item.TargetType)).
				Str("entity_id", entity).
				Str("queued_item_id", pending[i].ID).
				Msg("entity already has a queued write; delivery order is not guaranteed")
			return
		}
	}
}

// AttemptDelivery sends one item. On success the item is removed; on failure
// its retry count is incremented and a retry is scheduled, or the item is
// dropped once the retry ceiling is reached.
func (q *Queue) AttemptDelivery(ctx context.Context, id string) (Outcome, error) {
	if !q.acquire(id) {
		return OutcomeBusy, nil
	}
	defer q.release(id)

	item, err := q.store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		q.sched.Cancel(id)
		return OutcomeGone, nil
	}
	if err != nil {
		return OutcomeGone, fmt.Errorf("load sync item %s: %w", id, err)
	}

	q.sched.Cancel(id)

	sendErr := q.sender.Send(ctx, item)
	if sendErr == nil {
		return q.markDelivered(context.WithoutCancel(ctx), item)
	}
	if ctx.Err() != nil {
		// The pending retry was cancelled above; put one back so the item is not stranded.
		q.scheduleRetry(id, q.policy.NextDelay(max(item.RetryCount, 1)))
		q.logger.Debug().Err(sendErr).Str("item_id", id).Msg("attempt aborted")
		return OutcomeAborted, ctx.Err()
	}
	return q.markFailed(ctx, item, sendErr)
}

func (q *Queue) markDelivered(ctx context.Context, item *models.SyncItem) (Outcome, error) {
	if _, err := q.store.Delete(ctx, item.ID); err != nil {
		// Left in the store, the item will be sent again; the idempotency key lets the remote dedupe.
		q.logger.Error().Err(err).Str("item_id", item.ID).Msg("delivered item could not be removed")
		return OutcomeDelivered, fmt.Errorf("remove delivered item: %w", err)
	}

	metrics.IncDelivered(string(item.TargetType))
	q.refreshLength(ctx)
	q.publish(events.EventItemDelivered, item, nil, nil)
	q.logger.Info().Str("item_id", item.ID).Str("target", string(item.TargetType)).Int("retry_count", item.RetryCount).Msg("item delivered")
	return OutcomeDelivered, nil
}

func (q *Queue) markFailed(ctx context.Context, item *models.SyncItem, cause error) (Outcome, error) {
	metrics.IncDeliveryFailure(string(item.TargetType))

	attempt := item.RetryCount + 1
	var nextRetryAt *time.Time
	delay := q.policy.NextDelay(attempt)
	if !q.policy.Exhausted(attempt) {
		t := time.Now().Add(delay).UTC()
		nextRetryAt = &t
	}

	count, err := q.store.IncrementRetry(ctx, item.ID, cause.Error(), nextRetryAt)
	if errors.Is(err, domain.ErrNotFound) {
		return OutcomeGone, cause
	}
	if err != nil {
		q.scheduleRetry(item.ID, delay)
		q.logger.Error().Err(err).Str("item_id", item.ID).Dur("retry_in", delay).Msg("retry count could not be stored")
		return OutcomeRetrying, fmt.Errorf("record failed attempt: %w", err)
	}
	item.RetryCount = count
	msg := cause.Error()
	item.LastError = &msg

	if q.policy.Exhausted(count) {
		if _, err := q.store.Delete(ctx, item.ID); err != nil {
			q.logger.Error().Err(err).Str("item_id", item.ID).Msg("exhausted item could not be removed")
		}
		metrics.IncDropped(string(item.TargetType))
		q.refreshLength(ctx)
		q.publish(events.EventItemDropped, item, cause, nil)
		q.logger.Error().
			Err(cause).
			Str("item_id", item.ID).
			Str("target", string(item.TargetType)).
			Str("operation", string(item.Operation)).
			Int("retry_count", count).
			Bool("client_error", remote.IsClientError(cause)).
			Msg("sync item dropped after retry ceiling")
		return OutcomeDropped, cause
	}

	delay = q.policy.NextDelay(count)
	q.scheduleRetry(item.ID, delay)
	next := time.Now().Add(delay)
	q.publish(events.EventItemRetryScheduled, item, cause, &next)
	q.logger.Warn().
		Err(cause).
		Str("item_id", item.ID).
		Int("retry_count", count).
		Dur("retry_in", delay).
		Bool("client_error", remote.IsClientError(cause)).
		Msg("delivery failed, retry scheduled")
	return OutcomeRetrying, cause
}

func (q *Queue) scheduleRetry(id string, delay time.Duration) {
	q.sched.Schedule(id, delay, func() {
		if q.closed.Load() {
			return
		}
		if !q.online.Load() {
			// picked up by the flush that follows reconnection
			q.logger.Debug().Str("item_id", id).Msg("offline, retry deferred to next flush")
			return
		}
		_, _ = q.AttemptDelivery(q.baseCtx, id)
	})
}

// FlushAll attempts delivery of every queued item concurrently. Individual
// failures never stop the flush.
func (q *Queue) FlushAll(ctx context.Context) (FlushReport, error) {
	items, err := q.store.List(ctx)
	if err != nil {
		return FlushReport{}, fmt.Errorf("list queued items: %w", err)
	}

	var (
		report FlushReport
		mu     sync.Mutex
		g      errgroup.Group
	)
	g.SetLimit(q.flushLimit)

	for i := range items {
		id := items[i].ID
		g.Go(func() error {
			outcome, _ := q.AttemptDelivery(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			report.Attempted++
			switch outcome {
			case OutcomeDelivered:
				report.Delivered++
			case OutcomeRetrying:
				report.Failed++
			case OutcomeDropped:
				report.Dropped++
			default:
				report.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	q.logger.Info().
		Int("attempted", report.Attempted).
		Int("delivered", report.Delivered).
		Int("failed", report.Failed).
		Int("dropped", report.Dropped).
		Msg("flush finished")
	return report, nil
}

// SetOnline records a connectivity change. Going from offline to online
// flushes the queue before returning.
func (q *Queue) SetOnline(ctx context.Context, online bool) {
	prev := q.online.Swap(online)
	metrics.SetOnline(online)
	if prev == online {
		return
	}

	q.logger.Info().Bool("online", online).Msg("connectivity changed")
	if q.publisher != nil {
		_ = q.publisher.PublishJSON(events.EventConnectivity, events.ConnectivityPayload{Online: online, At: time.Now()})
	}

	if online && !q.closed.Load() {
		if _, err := q.FlushAll(ctx); err != nil {
			q.logger.Error().Err(err).Msg("flush after reconnect failed")
		}
	}
}

func (q *Queue) Online() bool {
	return q.online.Load()
}

// Discard removes an item without delivering it and withdraws its retry.
func (q *Queue) Discard(ctx context.Context, id string) (bool, error) {
	q.sched.Cancel(id)
	item, err := q.store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	removed, err := q.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if removed {
		q.refreshLength(ctx)
		q.publish(events.EventItemDiscarded, item, nil, nil)
		q.logger.Info().Str("item_id", id).Msg("item discarded by operator")
	}
	return removed, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*models.SyncItem, error) {
	return q.store.Get(ctx, id)
}

func (q *Queue) List(ctx context.Context) ([]models.SyncItem, error) {
	return q.store.List(ctx)
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.store.Count(ctx)
}

// ScheduledRetries returns the number of retry timers currently pending.
func (q *Queue) ScheduledRetries() int {
	return q.sched.Pending()
}

// Close stops retry timers and waits for background deliveries to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed.Swap(true) {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	q.sched.Stop()
	q.wg.Wait()
	q.cancel()
}

func (q *Queue) goDeliver(id string) {
	// closed and wg.Add share q.mu so Close never waits on a group that is still growing.
	q.mu.Lock()
	if q.closed.Load() {
		q.mu.Unlock()
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()
	go func() {
		defer q.wg.Done()
		_, _ = q.AttemptDelivery(q.baseCtx, id)
	}()
}

func (q *Queue) acquire(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, busy := q.inflight[id]; busy {
		return false
	}
	q.inflight[id] = struct{}{}
	return true
}

func (q *Queue) release(id string) {
	q.mu.Lock()
	delete(q.inflight, id)
	q.mu.Unlock()
}

func (q *Queue) refreshLength(ctx context.Context) {
	if n, err := q.store.Count(ctx); err == nil {
		metrics.SetQueueLength(n)
	}
}

func (q *Queue) publish(eventType string, item *models.SyncItem, cause error, next *time.Time) {
	if q.publisher == nil {
		return
	}
	payload := events.ItemEventPayload{
		ItemID:     item.ID,
		Operation:  string(item.Operation),
		TargetType: string(item.TargetType),
		EntityID:   item.EntityID(),
		RetryCount: item.RetryCount,
		NextRetry:  next,
	}
	if cause != nil {
		payload.Error = cause.Error()
	}
	if err := q.publisher.PublishJSON(eventType, payload); err != nil {
		q.logger.Warn().Err(err).Str("event", eventType).Msg("publish event")
	}
}
