package auth

import (
	"errors"
	"time"

	"flowers-serverless/internal/shop"
)

const (
	EventOTPRequested    = "otp_requested"
	EventOTPRateLimited  = "otp_rate_limited"
	EventOTPVerified     = "otp_verified"
	EventOTPFailed       = "otp_failed"
	EventSessionIssued   = "session_issued"
	EventSessionRejected = "session_rejected"
)

// Session is returned by verify-otp. The token is never stored server-side.
type Session struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	ShopID      int64  `json:"shop_id"`
	ShopName    string `json:"shop_name"`
	NewShop     bool   `json:"new_shop"`
}

// Event is one row of the auth audit trail.
type Event struct {
	ShopID    *int64
	Phone     string
	Kind      string
	Detail    string
	IP        string
	CreatedAt time.Time
}

type CleanupResult struct {
	DeletedEvents int64 `json:"deleted_auth_events"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrShopInactive = errors.New("shop is inactive")
	ErrShopNotFound = shop.ErrNotFound
)

type ErrRateLimited struct {
	RetryAfter time.Duration
}

func (e ErrRateLimited) Error() string {
	return "too many requests"
}
