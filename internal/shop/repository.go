package shop

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const shopColumns = `id, phone, name, email, telegram_id, is_active, plan, last_login_at, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShop(row rowScanner, extra ...any) (Shop, error) {
	var (
		s           Shop
		email       sql.NullString
		telegramID  sql.NullString
		lastLoginAt sql.NullTime
	)

	dest := []any{&s.ID, &s.Phone, &s.Name, &email, &telegramID, &s.IsActive, &s.Plan, &lastLoginAt, &s.CreatedAt, &s.UpdatedAt}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return Shop{}, err
	}

	s.Email = email.String
	s.TelegramID = telegramID.String
	if lastLoginAt.Valid {
		value := lastLoginAt.Time.UTC()
		s.LastLoginAt = &value
	}

	return s, nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (Shop, error) {
	s, err := scanShop(r.db.QueryRowContext(ctx, `
		SELECT `+shopColumns+`
		FROM shops
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Shop{}, ErrNotFound
		}
		return Shop{}, fmt.Errorf("query shop by id: %w", err)
	}

	return s, nil
}

func (r *Repository) GetByPhone(ctx context.Context, phone string) (Shop, error) {
	s, err := scanShop(r.db.QueryRowContext(ctx, `
		SELECT `+shopColumns+`
		FROM shops
		WHERE phone = $1
	`, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Shop{}, ErrNotFound
		}
		return Shop{}, fmt.Errorf("query shop by phone: %w", err)
	}

	return s, nil
}

// EnsureByPhone returns the shop owning phone, creating it when absent. The
// upsert is a single statement, so concurrent first logins share one row;
// created reports whether this call inserted it.
func (r *Repository) EnsureByPhone(ctx context.Context, input NewShop) (Shop, bool, error) {
	input.Phone = strings.TrimSpace(input.Phone)
	if input.Phone == "" {
		return Shop{}, false, fmt.Errorf("phone is required")
	}
	if strings.TrimSpace(input.Name) == "" {
		input.Name = DefaultName(input.Phone)
	}
	if strings.TrimSpace(input.Plan) == "" {
		input.Plan = DefaultPlan
	}

	var telegramID any
	if input.TelegramID != "" {
		telegramID = input.TelegramID
	}

	now := time.Now().UTC()
	var created bool
	s, err := scanShop(r.db.QueryRowContext(ctx, `
		INSERT INTO shops (phone, name, telegram_id, is_active, plan, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $5, $5)
		ON CONFLICT (phone) DO UPDATE
		SET phone = EXCLUDED.phone
		RETURNING `+shopColumns+`, (xmax = 0) AS created
	`, input.Phone, input.Name, telegramID, input.Plan, now), &created)
	if err != nil {
		return Shop{}, false, fmt.Errorf("upsert shop: %w", err)
	}

	return s, created, nil
}

func (r *Repository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE shops
		SET last_login_at = $2, updated_at = $2
		WHERE id = $1
	`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("update shop last login: %w", err)
	}

	return requireAffected(res)
}

func (r *Repository) SetActive(ctx context.Context, id int64, active bool) (Shop, error) {
	s, err := scanShop(r.db.QueryRowContext(ctx, `
		UPDATE shops
		SET is_active = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+shopColumns+`
	`, id, active, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Shop{}, ErrNotFound
		}
		return Shop{}, fmt.Errorf("update shop status: %w", err)
	}

	return s, nil
}

// UpdateProfile edits the fields a shop may change about itself. The id must
// come from the authenticated session, never from the request body.
func (r *Repository) UpdateProfile(ctx context.Context, id int64, input ProfileInput) (Shop, error) {
	var email any
	if input.Email != "" {
		email = input.Email
	}

	s, err := scanShop(r.db.QueryRowContext(ctx, `
		UPDATE shops
		SET name = $2, email = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+shopColumns+`
	`, id, input.Name, email, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Shop{}, ErrNotFound
		}
		return Shop{}, fmt.Errorf("update shop profile: %w", err)
	}

	return s, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
