package shop

import (
	"errors"
	"time"
)

const (
	DefaultPlan = "trial"
)

var ErrNotFound = errors.New("shop not found")

// Shop is a tenant. Phone is globally unique and shops are only ever
// deactivated, never deleted.
type Shop struct {
	ID          int64      `json:"id"`
	Phone       string     `json:"phone"`
	Name        string     `json:"name"`
	Email       string     `json:"email,omitempty"`
	TelegramID  string     `json:"telegram_id,omitempty"`
	IsActive    bool       `json:"is_active"`
	Plan        string     `json:"plan"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type NewShop struct {
	Phone      string
	Name       string
	Plan       string
	TelegramID string
}

type ProfileInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// DefaultName is used for shops created by their first OTP login.
func DefaultName(phone string) string {
	suffix := phone
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "Shop " + suffix
}
