package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultEventRetention = 30 * 24 * time.Hour
	defaultCleanupBatch   = 500
)

// Repository stores the auth audit trail in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) RecordEvent(ctx context.Context, event Event) error {
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var shopID any
	if event.ShopID != nil {
		shopID = *event.ShopID
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_events (shop_id, phone, event, detail, ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, shopID, event.Phone, event.Kind, nullable(event.Detail), nullable(event.IP), createdAt.UTC()); err != nil {
		return fmt.Errorf("insert auth event: %w", err)
	}

	return nil
}

// CleanupStaleEvents deletes at most batchSize events older than retention,
// oldest first. Callers re-run it until nothing is left to delete.
func (r *Repository) CleanupStaleEvents(ctx context.Context, retention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = defaultCleanupBatch
	}
	if retention <= 0 {
		retention = defaultEventRetention
	}

	cutoff := time.Now().UTC().Add(-retention)
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM auth_events
			WHERE created_at < $1
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM auth_events e
		USING stale
		WHERE e.id = stale.id
	`, cutoff, batchSize)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("delete stale auth events: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return CleanupResult{}, fmt.Errorf("stale auth events rows affected: %w", err)
	}

	return CleanupResult{DeletedEvents: affected}, nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
