package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)
	shopID := int64(11)

	mock.ExpectExec(`INSERT INTO auth_events \(shop_id, phone, event, detail, ip, created_at\)`).
		WithArgs(int64(11), testPhone, EventSessionIssued, nil, "203.0.113.7", at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO auth_events`).
		WithArgs(nil, testPhone, EventOTPFailed, "mismatch", nil, sqlmock.AnyArg()).
		WillReturnError(errors.New("relation does not exist"))

	repo := NewRepository(db)
	require.NoError(t, repo.RecordEvent(context.Background(), Event{
		ShopID:    &shopID,
		Phone:     testPhone,
		Kind:      EventSessionIssued,
		IP:        "203.0.113.7",
		CreatedAt: at,
	}))

	err = repo.RecordEvent(context.Background(), Event{Phone: testPhone, Kind: EventOTPFailed, Detail: "mismatch"})
	require.ErrorContains(t, err, "insert auth event")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupStaleEventsDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`WITH stale AS \( SELECT id FROM auth_events WHERE created_at < \$1`).
		WithArgs(sqlmock.AnyArg(), defaultCleanupBatch).
		WillReturnResult(sqlmock.NewResult(0, 42))

	result, err := NewRepository(db).CleanupStaleEvents(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.DeletedEvents)
	assert.NoError(t, mock.ExpectationsWereMet())
}
