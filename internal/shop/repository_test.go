package shop

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"id", "phone", "name", "email", "telegram_id", "is_active", "plan", "last_login_at", "created_at", "updated_at"}

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewRepository(db), mock
}

func TestGetByID(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM shops WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(7, "+77011234567", "Rosa Bloom", "rosa@example.com", nil, true, "pro", nil, created, created))

	s, err := repo.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), s.ID)
	assert.Equal(t, "Rosa Bloom", s.Name)
	assert.Equal(t, "rosa@example.com", s.Email)
	assert.Empty(t, s.TelegramID)
	assert.Nil(t, s.LastLoginAt)
	assert.True(t, s.IsActive)
}

func TestGetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT .+ FROM shops WHERE id = \$1`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), 9)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetByPhone(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM shops WHERE phone = \$1`).
		WithArgs("+77011234567").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(3, "+77011234567", "Shop 4567", nil, "1001", true, "trial", now, now, now))

	s, err := repo.GetByPhone(context.Background(), "+77011234567")
	require.NoError(t, err)
	assert.Equal(t, "1001", s.TelegramID)
	require.NotNil(t, s.LastLoginAt)
}

func TestEnsureByPhoneCreatesWithDefaults(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO shops .+ ON CONFLICT \(phone\) DO UPDATE .+ RETURNING .+ \(xmax = 0\) AS created`).
		WithArgs("+77011234567", "Shop 4567", "1001", DefaultPlan, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(append(append([]string{}, columns...), "created")).
			AddRow(11, "+77011234567", "Shop 4567", nil, "1001", true, DefaultPlan, nil, now, now, true))

	s, created, err := repo.EnsureByPhone(context.Background(), NewShop{Phone: "+77011234567", TelegramID: "1001"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(11), s.ID)
	assert.Equal(t, DefaultPlan, s.Plan)
}

func TestEnsureByPhoneReusesExisting(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO shops`).
		WithArgs("+77011234567", "Shop 4567", nil, DefaultPlan, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(append(append([]string{}, columns...), "created")).
			AddRow(11, "+77011234567", "Rosa Bloom", nil, nil, false, "pro", nil, now, now, false))

	s, created, err := repo.EnsureByPhone(context.Background(), NewShop{Phone: "+77011234567"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Rosa Bloom", s.Name)
	assert.False(t, s.IsActive)
}

func TestEnsureByPhoneRequiresPhone(t *testing.T) {
	repo, _ := newMockRepo(t)

	_, _, err := repo.EnsureByPhone(context.Background(), NewShop{Phone: " "})
	require.Error(t, err)
}

func TestTouchLastLogin(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE shops SET last_login_at = \$2`).
		WithArgs(int64(11), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.TouchLastLogin(context.Background(), 11, at))

	mock.ExpectExec(`UPDATE shops SET last_login_at = \$2`).
		WithArgs(int64(12), at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.TouchLastLogin(context.Background(), 12, at), ErrNotFound)
}

func TestSetActive(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE shops SET is_active = \$2`).
		WithArgs(int64(11), false, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(11, "+77011234567", "Rosa Bloom", nil, nil, false, "pro", nil, now, now))

	s, err := repo.SetActive(context.Background(), 11, false)
	require.NoError(t, err)
	assert.False(t, s.IsActive)
}

func TestUpdateProfile(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE shops SET name = \$2, email = \$3`).
		WithArgs(int64(11), "Peony Place", nil, sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)
	_, err := repo.UpdateProfile(context.Background(), 11, ProfileInput{Name: "Peony Place"})
	require.ErrorIs(t, err, ErrNotFound)

	mock.ExpectQuery(`UPDATE shops SET name = \$2, email = \$3`).
		WithArgs(int64(11), "Peony Place", "hi@peony.example", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(11, "+77011234567", "Peony Place", "hi@peony.example", nil, true, "pro", nil, now, now))
	s, err := repo.UpdateProfile(context.Background(), 11, ProfileInput{Name: "Peony Place", Email: "hi@peony.example"})
	require.NoError(t, err)
	assert.Equal(t, "hi@peony.example", s.Email)
}

func TestDefaultName(t *testing.T) {
	assert.Equal(t, "Shop 4567", DefaultName("+77011234567"))
	assert.Equal(t, "Shop 12", DefaultName("12"))
}
