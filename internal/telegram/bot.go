package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"flowers-serverless/internal/observability"
)

// Bot sends messages through the Telegram Bot API.
type Bot struct {
	api *tgbot.Bot
}

func NewBot(token, apiBaseURL string) (*Bot, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("missing telegram bot token")
	}

	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(apiBaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse telegram api url: %w", err)
	}
	if base.Scheme != "https" && base.Scheme != "http" {
		return nil, fmt.Errorf("invalid telegram api scheme")
	}

	// getMe is skipped so a cold start never waits on Telegram.
	api, err := tgbot.New(token,
		tgbot.WithServerURL(base.String()),
		tgbot.WithHTTPClient(time.Minute, &http.Client{Timeout: 10 * time.Second}),
		tgbot.WithSkipGetMe(),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}

	return &Bot{api: api}, nil
}

// Send delivers a plain text message to chatID.
func (b *Bot) Send(ctx context.Context, chatID, text string) error {
	return b.SendMessage(ctx, chatID, text, nil)
}

// SendMessage accepts any models.ReplyMarkup as markup; other values are ignored.
func (b *Bot) SendMessage(ctx context.Context, chatID, text string, markup any) error {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q", chatID)
	}

	params := &tgbot.SendMessageParams{ChatID: id, Text: text}
	if replyMarkup, ok := markup.(models.ReplyMarkup); ok {
		params.ReplyMarkup = replyMarkup
	}

	if _, err := b.api.SendMessage(ctx, params); err != nil {
		// the request URL embeds the bot token
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return fmt.Errorf("telegram request failed: %w", urlErr.Err)
		}
		return fmt.Errorf("telegram sendMessage failed: %w", err)
	}
	return nil
}

// LogNotifier writes messages to the log instead of Telegram. Development only:
// it logs OTP codes in clear text.
type LogNotifier struct {
	logger *observability.Logger
}

func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, chatID, text string) error {
	return n.SendMessage(ctx, chatID, text, nil)
}

func (n *LogNotifier) SendMessage(_ context.Context, chatID, text string, _ any) error {
	n.logger.Warn("telegram_message_not_sent", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	return nil
}
