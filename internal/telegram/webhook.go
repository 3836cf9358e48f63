package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"

	"flowers-serverless/internal/observability"
)

const (
	secretTokenHeader   = "X-Telegram-Bot-Api-Secret-Token"
	maxUpdateBodyBytes  = 1 << 20
	shareContactCaption = "Share phone number"
)

type Messenger interface {
	SendMessage(ctx context.Context, chatID, text string, markup any) error
}

// WebhookHandler receives bot updates. A user links a phone by sharing their
// own contact with the bot.
type WebhookHandler struct {
	registry  *Registry
	messenger Messenger
	logger    *observability.Logger
	secret    string
}

func NewWebhookHandler(registry *Registry, messenger Messenger, logger *observability.Logger, secret string) *WebhookHandler {
	return &WebhookHandler{
		registry:  registry,
		messenger: messenger,
		logger:    logger,
		secret:    strings.TrimSpace(secret),
	}
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(r.Header.Get(secretTokenHeader)), []byte(h.secret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUpdateBodyBytes)
	var update models.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid update"})
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	switch {
	case msg.Contact != nil:
		if !h.linkContact(w, r, msg, chatID) {
			return
		}
	case strings.HasPrefix(strings.TrimSpace(msg.Text), "/start"):
		h.reply(r.Context(), chatID, "Welcome! Share your phone number to receive login codes for your shop.", &models.ReplyKeyboardMarkup{
			Keyboard:        [][]models.KeyboardButton{{{Text: shareContactCaption, RequestContact: true}}},
			OneTimeKeyboard: true,
			ResizeKeyboard:  true,
		})
	default:
		h.reply(r.Context(), chatID, "Send /start to link your phone number.", nil)
	}

	w.WriteHeader(http.StatusOK)
}

// linkContact reports false when it already wrote an error response.
func (h *WebhookHandler) linkContact(w http.ResponseWriter, r *http.Request, msg *models.Message, chatID string) bool {
	if msg.Contact.UserID != msg.From.ID {
		h.reply(r.Context(), chatID, "Please share your own contact using the button below.", nil)
		return true
	}

	phone := NormalizePhone(msg.Contact.PhoneNumber)
	if phone == "" {
		h.reply(r.Context(), chatID, "This contact has no phone number.", nil)
		return true
	}

	identity := Identity{
		Phone:       phone,
		ChatID:      chatID,
		Username:    msg.From.Username,
		DisplayName: strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		LinkedAt:    time.Now().UTC(),
	}
	if err := h.registry.Link(r.Context(), identity); err != nil {
		h.logger.Error("telegram_link_failed", map[string]any{"error": err.Error()})
		// non-2xx makes Telegram redeliver the update
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable"})
		return false
	}

	h.logger.Info("telegram_linked", map[string]any{"chat_id": chatID})
	h.reply(r.Context(), chatID, "Your phone "+phone+" is linked. Return to the app and request a login code.", &models.ReplyKeyboardRemove{RemoveKeyboard: true})
	return true
}

func (h *WebhookHandler) reply(ctx context.Context, chatID, text string, markup any) {
	if err := h.messenger.SendMessage(ctx, chatID, text, markup); err != nil {
		h.logger.Warn("telegram_reply_failed", map[string]any{"chat_id": chatID, "error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
