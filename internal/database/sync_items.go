package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"secsync/internal/domain"
	"secsync/internal/models"
)

const itemColumns = `id, operation, target_type, payload, retry_count, last_error, created_at, next_retry_at`

func (db *DB) Put(ctx context.Context, item *models.SyncItem) error {
	query := `INSERT OR REPLACE INTO sync_items (` + itemColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		item.ID,
		string(item.Operation),
		string(item.TargetType),
		string(item.Payload),
		item.RetryCount,
		item.LastError,
		item.CreatedAt.UTC(),
		nullableTime(item.NextRetryAt),
	)
	if err != nil {
		return fmt.Errorf("failed to put sync item: %w", err)
	}
	return nil
}

func (db *DB) Get(ctx context.Context, id string) (*models.SyncItem, error) {
	query := `SELECT ` + itemColumns + ` FROM sync_items WHERE id = ?`
	item, err := scanItem(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync item: %w", err)
	}
	return item, nil
}

func (db *DB) Delete(ctx context.Context, id string) (bool, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM sync_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete sync item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// IncrementRetry bumps retry_count in a single statement and returns the new value.
func (db *DB) IncrementRetry(ctx context.Context, id string, lastErr string, nextRetryAt *time.Time) (int, error) {
	query := `UPDATE sync_items SET retry_count = retry_count + 1, last_error = ?, next_retry_at = ?
              WHERE id = ? RETURNING retry_count`
	var count int
	err := db.QueryRowContext(ctx, query, lastErr, nullableTime(nextRetryAt), id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment retry: %w", err)
	}
	return count, nil
}

func (db *DB) List(ctx context.Context) ([]models.SyncItem, error) {
	query := `SELECT ` + itemColumns + ` FROM sync_items ORDER BY created_at ASC, id ASC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync items: %w", err)
	}
	defer rows.Close()

	var items []models.SyncItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync items: %w", err)
	}
	return items, nil
}

func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sync items: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.SyncItem, error) {
	var (
		item        models.SyncItem
		operation   string
		targetType  string
		payload     string
		lastError   sql.NullString
		nextRetryAt sql.NullTime
	)
	err := row.Scan(&item.ID, &operation, &targetType, &payload, &item.RetryCount, &lastError, &item.CreatedAt, &nextRetryAt)
	if err != nil {
		return nil, err
	}
	item.Operation = models.Operation(operation)
	item.TargetType = models.TargetType(targetType)
	item.Payload = []byte(payload)
	if lastError.Valid {
		item.LastError = &lastError.String
	}
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		item.NextRetryAt = &t
	}
	return &item, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
