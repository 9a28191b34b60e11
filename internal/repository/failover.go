package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"secsync/internal/domain"
	"secsync/internal/models"

	"github.com/rs/zerolog"
)

// FailoverItemStore serves from primary until it errors, then from fallback
// until the recheck interval passes and primary answers again.
// Items written to the fallback are not migrated back to primary.
type FailoverItemStore struct {
	primary   domain.ItemStore
	fallback  domain.ItemStore
	logger    *zerolog.Logger
	recheck   time.Duration
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverItemStore(primary, fallback domain.ItemStore, logger *zerolog.Logger) *FailoverItemStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverItemStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		recheck:  models.StoreFailoverRecheck,
	}
}

// usePrimary reports whether the next call should try the primary store.
func (r *FailoverItemStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastCheck) > r.recheck
}

func (r *FailoverItemStore) markDown(err error) {
	if !r.isDown.Load() {
		r.logger.Error().Err(err).Msg("Primary item store failed, falling back")
	}
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverItemStore) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary item store recovered")
	}
}

// call runs op against primary when healthy, otherwise against fallback.
// Not-found answers are not treated as outages.
func call[T any](r *FailoverItemStore, op func(domain.ItemStore) (T, error)) (T, error) {
	if r.usePrimary() {
		v, err := op(r.primary)
		if err == nil || errors.Is(err, domain.ErrNotFound) {
			r.markUp()
			if err != nil && r.fallback != nil {
				// the item may have been written while primary was down
				if fv, ferr := op(r.fallback); ferr == nil {
					return fv, nil
				}
			}
			return v, err
		}
		r.markDown(err)
	}
	return op(r.fallback)
}

func (r *FailoverItemStore) Put(ctx context.Context, item *models.SyncItem) error {
	_, err := call(r, func(s domain.ItemStore) (struct{}, error) {
		return struct{}{}, s.Put(ctx, item)
	})
	return err
}

func (r *FailoverItemStore) Get(ctx context.Context, id string) (*models.SyncItem, error) {
	return call(r, func(s domain.ItemStore) (*models.SyncItem, error) {
		return s.Get(ctx, id)
	})
}

func (r *FailoverItemStore) Delete(ctx context.Context, id string) (bool, error) {
	removed, err := call(r, func(s domain.ItemStore) (bool, error) {
		return s.Delete(ctx, id)
	})
	if err == nil && !removed && !r.isDown.Load() {
		return r.fallback.Delete(ctx, id)
	}
	return removed, err
}

func (r *FailoverItemStore) IncrementRetry(ctx context.Context, id string, lastErr string, nextRetryAt *time.Time) (int, error) {
	return call(r, func(s domain.ItemStore) (int, error) {
		return s.IncrementRetry(ctx, id, lastErr, nextRetryAt)
	})
}

// List merges both stores while primary is healthy so items parked in the
// fallback during an outage are still flushed.
func (r *FailoverItemStore) List(ctx context.Context) ([]models.SyncItem, error) {
	items, err := call(r, func(s domain.ItemStore) ([]models.SyncItem, error) {
		return s.List(ctx)
	})
	if err != nil || r.isDown.Load() {
		return items, err
	}

	parked, ferr := r.fallback.List(ctx)
	if ferr != nil || len(parked) == 0 {
		return items, nil
	}
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		seen[item.ID] = struct{}{}
	}
	for _, item := range parked {
		if _, ok := seen[item.ID]; !ok {
			items = append(items, item)
		}
	}
	sortItems(items)
	return items, nil
}

func (r *FailoverItemStore) Count(ctx context.Context) (int, error) {
	items, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}
