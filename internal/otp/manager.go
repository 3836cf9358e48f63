package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"flowers-serverless/internal/kvstore"
	"flowers-serverless/internal/telegram"
)

const (
	codeDigits = 6

	defaultTTL         = 5 * time.Minute
	defaultMaxRequests = 10
	defaultWindow      = time.Minute
	defaultMaxAttempts = 5
	defaultOpTimeout   = 2 * time.Second
	deliveryTimeout    = 10 * time.Second
)

var codeSpace = big.NewInt(1_000_000)

type IdentityResolver interface {
	Lookup(ctx context.Context, phone string) (telegram.Identity, error)
}

type Notifier interface {
	Send(ctx context.Context, chatID, text string) error
}

type Config struct {
	TTL         time.Duration
	MaxRequests int
	Window      time.Duration
	MaxAttempts int
	OpTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = defaultMaxRequests
	}
	if c.Window <= 0 {
		c.Window = defaultWindow
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = defaultOpTimeout
	}
	return c
}

// Manager issues and verifies one-time login codes. All state lives in the
// TTL store; the manager itself holds no per-phone data.
type Manager struct {
	store      kvstore.Store
	identities IdentityResolver
	notifier   Notifier
	cfg        Config
	now        func() time.Time
	random     io.Reader
}

func NewManager(store kvstore.Store, identities IdentityResolver, notifier Notifier, cfg Config) *Manager {
	return &Manager{
		store:      store,
		identities: identities,
		notifier:   notifier,
		cfg:        cfg.withDefaults(),
		now:        time.Now,
		random:     rand.Reader,
	}
}

func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *Manager) WithRandom(r io.Reader) *Manager {
	if r != nil {
		m.random = r
	}
	return m
}

func (m *Manager) Config() Config {
	return m.cfg
}

func otpKey(phone string) string      { return "otp:" + phone }
func attemptsKey(phone string) string { return "otp_attempts:" + phone }

// rateKey names the fixed window that contains now, so a new window starts
// with a fresh counter even if the previous key has not expired yet.
func rateKey(phone string, windowStart time.Time) string {
	return "rate:" + phone + ":" + strconv.FormatInt(windowStart.Unix(), 10)
}

func (m *Manager) Generate(ctx context.Context, phone string) (GenerateResult, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return GenerateResult{}, ErrInvalidPhone
	}

	now := m.now().UTC()
	windowStart := now.Truncate(m.cfg.Window)

	count, err := m.increment(ctx, rateKey(phone, windowStart), m.cfg.Window)
	if err != nil {
		return GenerateResult{}, unavailable("count otp request", err)
	}
	if count > int64(m.cfg.MaxRequests) {
		retryAfter := windowStart.Add(m.cfg.Window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return GenerateResult{Status: StatusRateLimited, RetryAfter: retryAfter}, nil
	}

	identity, err := m.lookup(ctx, phone)
	if err != nil {
		if errors.Is(err, telegram.ErrNotLinked) {
			return GenerateResult{}, ErrTelegramUnregistered
		}
		return GenerateResult{}, unavailable("resolve telegram identity", err)
	}

	code, err := m.newCode()
	if err != nil {
		return GenerateResult{}, fmt.Errorf("generate code: %w", err)
	}

	record := Record{
		Phone:     phone,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.TTL),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("encode otp record: %w", err)
	}

	if _, err := m.delete(ctx, attemptsKey(phone)); err != nil {
		return GenerateResult{}, unavailable("reset otp attempts", err)
	}
	if err := m.set(ctx, otpKey(phone), string(encoded), m.cfg.TTL); err != nil {
		return GenerateResult{}, unavailable("store otp", err)
	}

	result := GenerateResult{
		Status:    StatusIssued,
		Code:      code,
		ExpiresIn: m.cfg.TTL,
	}

	sendCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()
	if err := m.notifier.Send(sendCtx, identity.ChatID, m.message(code)); err != nil {
		result.DeliveryErr = err
	} else {
		result.Delivered = true
	}

	return result, nil
}

func (m *Manager) Verify(ctx context.Context, phone, code string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ErrInvalidPhone
	}

	record, err := m.load(ctx, phone)
	if err != nil {
		return err
	}

	now := m.now().UTC()
	if !now.Before(record.ExpiresAt) {
		_, _ = m.delete(ctx, otpKey(phone))
		return ErrNotFound
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(record.Code)) != 1 {
		failures, err := m.increment(ctx, attemptsKey(phone), record.ExpiresAt.Sub(now))
		if err != nil {
			return unavailable("count otp attempt", err)
		}
		if failures >= int64(m.cfg.MaxAttempts) {
			if _, err := m.delete(ctx, otpKey(phone)); err != nil {
				return unavailable("invalidate otp", err)
			}
			_, _ = m.delete(ctx, attemptsKey(phone))
			return ErrTooManyAttempts
		}
		return MismatchError{Remaining: m.cfg.MaxAttempts - int(failures)}
	}

	// Only the caller that actually removes the record wins a concurrent race.
	consumed, err := m.delete(ctx, otpKey(phone))
	if err != nil {
		return unavailable("consume otp", err)
	}
	if !consumed {
		return ErrNotFound
	}
	_, _ = m.delete(ctx, attemptsKey(phone))

	return nil
}

// Status is a read-only diagnostic view; it never gates authentication.
func (m *Manager) Status(ctx context.Context, phone string) (Status, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return Status{}, ErrInvalidPhone
	}

	record, err := m.load(ctx, phone)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Status{}, nil
		}
		return Status{}, err
	}

	remaining := record.ExpiresAt.Sub(m.now().UTC())
	if remaining <= 0 {
		return Status{}, nil
	}

	return Status{
		Pending:   true,
		ExpiresIn: remaining,
		Attempts:  record.Attempts,
	}, nil
}

func (m *Manager) load(ctx context.Context, phone string) (Record, error) {
	raw, err := m.get(ctx, otpKey(phone))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, unavailable("load otp", err)
	}

	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return Record{}, fmt.Errorf("decode otp record: %w", err)
	}

	attempts, err := m.get(ctx, attemptsKey(phone))
	switch {
	case err == nil:
		record.Attempts, _ = strconv.Atoi(attempts)
	case !errors.Is(err, kvstore.ErrNotFound):
		return Record{}, unavailable("load otp attempts", err)
	}

	return record, nil
}

func (m *Manager) newCode() (string, error) {
	n, err := rand.Int(m.random, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func (m *Manager) message(code string) string {
	minutes := int(m.cfg.TTL.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Your login code: %s\nIt expires in %d min. Never share it with anyone.", code, minutes)
}

func (m *Manager) lookup(ctx context.Context, phone string) (telegram.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	defer cancel()
	return m.identities.Lookup(ctx, phone)
}

func (m *Manager) get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	defer cancel()
	return m.store.Get(ctx, key)
}

func (m *Manager) set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	defer cancel()
	return m.store.Set(ctx, key, value, ttl)
}

func (m *Manager) increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	defer cancel()
	return m.store.Increment(ctx, key, ttl)
}

func (m *Manager) delete(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	defer cancel()
	return m.store.Delete(ctx, key)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
