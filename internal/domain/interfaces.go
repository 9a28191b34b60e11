package domain

import (
	"context"
	"errors"
	"time"

	"secsync/internal/models"
)

// ErrNotFound is returned by stores when no item has the requested id.
var ErrNotFound = errors.New("sync item not found")

// ItemStore is the durable keyed object store behind the sync queue.
type ItemStore interface {
	Put(ctx context.Context, item *models.SyncItem) error
	Get(ctx context.Context, id string) (*models.SyncItem, error)
	Delete(ctx context.Context, id string) (bool, error)
	IncrementRetry(ctx context.Context, id string, lastErr string, nextRetryAt *time.Time) (int, error)
	List(ctx context.Context) ([]models.SyncItem, error)
	Count(ctx context.Context) (int, error)
}

// Sender delivers one item to the remote API.
type Sender interface {
	Send(ctx context.Context, item *models.SyncItem) error
}

// Pinger reports whether the remote API is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// ConnectivitySink receives online/offline transitions.
type ConnectivitySink interface {
	SetOnline(ctx context.Context, online bool)
}
