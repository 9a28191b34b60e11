package database

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"secsync/internal/domain"
	"secsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newItem(id string, createdAt time.Time) *models.SyncItem {
	return &models.SyncItem{
		ID:         id,
		Payload:    json.RawMessage(`{"id":"m-1","name":"Ayşe"}`),
		Operation:  models.OperationUpdate,
		TargetType: models.TargetMember,
		CreatedAt:  createdAt,
	}
}

func TestSyncItemsCRUD(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, db.Put(ctx, newItem("b", now.Add(time.Second))))
	require.NoError(t, db.Put(ctx, newItem("a", now)))

	got, err := db.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.OperationUpdate, got.Operation)
	assert.Equal(t, models.TargetMember, got.TargetType)
	assert.JSONEq(t, `{"id":"m-1","name":"Ayşe"}`, string(got.Payload))
	assert.True(t, got.CreatedAt.Equal(now))
	assert.Nil(t, got.LastError)
	assert.Nil(t, got.NextRetryAt)

	items, err := db.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "b", items[1].ID)

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	removed, err := db.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = db.Delete(ctx, "a")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = db.Get(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSyncItemsIncrementRetry(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Put(ctx, newItem("r", time.Now())))

	next := time.Now().Add(time.Minute)
	count, err := db.IncrementRetry(ctx, "r", "connection refused", &next)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = db.IncrementRetry(ctx, "r", "http 503", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := db.Get(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "http 503", *got.LastError)
	assert.Nil(t, got.NextRetryAt)

	_, err = db.IncrementRetry(ctx, "missing", "x", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSyncItemsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	db, err := NewDB(path, nil)
	require.NoError(t, err)
	require.NoError(t, db.Put(ctx, newItem("persisted", time.Now())))
	require.NoError(t, db.Close())

	reopened, err := NewDB(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "persisted")
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.ID)
}

func TestSyncItemsImplementsStore(t *testing.T) {
	var _ domain.ItemStore = (*DB)(nil)
}
