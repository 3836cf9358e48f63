package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"flowers-serverless/internal/kvstore"
)

var ErrNotLinked = errors.New("telegram account not linked")

// Identity maps a phone number to the chat that receives its login codes.
type Identity struct {
	Phone       string    `json:"phone"`
	ChatID      string    `json:"chat_id"`
	Username    string    `json:"username,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	LinkedAt    time.Time `json:"linked_at"`
}

// Registry keeps identities in the TTL store. Entries expire so that a user
// who stops talking to the bot has to link again.
type Registry struct {
	store kvstore.Store
	ttl   time.Duration
}

func NewRegistry(store kvstore.Store, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Registry{store: store, ttl: ttl}
}

func IdentityKey(phone string) string {
	return "telegram:" + phone
}

func (r *Registry) Link(ctx context.Context, identity Identity) error {
	identity.Phone = strings.TrimSpace(identity.Phone)
	identity.ChatID = strings.TrimSpace(identity.ChatID)
	if identity.Phone == "" || identity.ChatID == "" {
		return fmt.Errorf("identity requires phone and chat id")
	}
	if identity.LinkedAt.IsZero() {
		identity.LinkedAt = time.Now().UTC()
	}

	encoded, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}

	if err := r.store.Set(ctx, IdentityKey(identity.Phone), string(encoded), r.ttl); err != nil {
		return fmt.Errorf("store identity: %w", err)
	}

	return nil
}

func (r *Registry) Lookup(ctx context.Context, phone string) (Identity, error) {
	raw, err := r.store.Get(ctx, IdentityKey(phone))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return Identity{}, ErrNotLinked
		}
		return Identity{}, fmt.Errorf("load identity: %w", err)
	}

	var identity Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		return Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	if identity.ChatID == "" {
		return Identity{}, ErrNotLinked
	}

	return identity, nil
}

// NormalizePhone turns the digits Telegram reports for a shared contact into
// E.164 form ("+" followed by digits only).
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}
