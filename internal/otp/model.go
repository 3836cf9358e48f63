package otp

import (
	"errors"
	"fmt"
	"time"
)

// Record is the pending code for one phone. Attempts is read from its own
// counter and is not part of the stored payload.
type Record struct {
	Phone     string    `json:"phone"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"-"`
}

type GenerateStatus int

const (
	StatusIssued GenerateStatus = iota + 1
	StatusRateLimited
)

func (s GenerateStatus) String() string {
	switch s {
	case StatusIssued:
		return "issued"
	case StatusRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// GenerateResult is either an issued code or a rate-limit refusal. Transport
// failures are returned as errors instead.
type GenerateResult struct {
	Status     GenerateStatus
	Code       string
	ExpiresIn  time.Duration
	RetryAfter time.Duration

	// Delivered is false when the notification failed; the code stays valid.
	Delivered   bool
	DeliveryErr error
}

type Status struct {
	Pending   bool          `json:"pending"`
	ExpiresIn time.Duration `json:"-"`
	Attempts  int           `json:"attempts"`
}

var (
	ErrInvalidPhone         = errors.New("phone is required")
	ErrNotFound             = errors.New("no pending code for this phone")
	ErrMismatch             = errors.New("code does not match")
	ErrTooManyAttempts      = errors.New("too many wrong codes")
	ErrTelegramUnregistered = errors.New("phone has no linked telegram account")
	ErrUnavailable          = errors.New("otp service unavailable")
)

// MismatchError is a wrong code with attempts still left on the record.
type MismatchError struct {
	Remaining int
}

func (e MismatchError) Error() string {
	return fmt.Sprintf("code does not match, %d attempts left", e.Remaining)
}

func (e MismatchError) Is(target error) bool {
	return target == ErrMismatch
}
