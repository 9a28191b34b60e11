package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"secsync/internal/domain"
	"secsync/internal/models"
)

// MemoryItemStore keeps sync items in process memory. Nothing survives a restart.
type MemoryItemStore struct {
	mu    sync.RWMutex
	items map[string]models.SyncItem
}

func NewMemoryItemStore() *MemoryItemStore {
	return &MemoryItemStore{items: make(map[string]models.SyncItem)}
}

func (r *MemoryItemStore) Put(ctx context.Context, item *models.SyncItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = cloneItem(*item)
	return nil
}

func (r *MemoryItemStore) Get(ctx context.Context, id string) (*models.SyncItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneItem(item)
	return &out, nil
}

func (r *MemoryItemStore) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return false, nil
	}
	delete(r.items, id)
	return true, nil
}

func (r *MemoryItemStore) IncrementRetry(ctx context.Context, id string, lastErr string, nextRetryAt *time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	item.RetryCount++
	msg := lastErr
	item.LastError = &msg
	if nextRetryAt != nil {
		t := *nextRetryAt
		item.NextRetryAt = &t
	} else {
		item.NextRetryAt = nil
	}
	r.items[id] = item
	return item.RetryCount, nil
}

func (r *MemoryItemStore) List(ctx context.Context) ([]models.SyncItem, error) {
	r.mu.RLock()
	items := make([]models.SyncItem, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, cloneItem(item))
	}
	r.mu.RUnlock()

	sortItems(items)
	return items, nil
}

func (r *MemoryItemStore) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), nil
}

func sortItems(items []models.SyncItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

func cloneItem(item models.SyncItem) models.SyncItem {
	out := item
	if item.Payload != nil {
		out.Payload = append([]byte(nil), item.Payload...)
	}
	if item.LastError != nil {
		s := *item.LastError
		out.LastError = &s
	}
	if item.NextRetryAt != nil {
		t := *item.NextRetryAt
		out.NextRetryAt = &t
	}
	return out
}
