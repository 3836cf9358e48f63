package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowers-serverless/internal/kvstore"
	"flowers-serverless/internal/observability"
)

func TestBotSendMessage(t *testing.T) {
	var chatID, text, markup string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.Contains(t, r.Header.Get("Content-Type"), "multipart/form-data")
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		chatID, text, markup = r.FormValue("chat_id"), r.FormValue("text"), r.FormValue("reply_markup")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":12345,"type":"private"}}}`))
	}))
	defer server.Close()

	bot, err := NewBot("TOKEN", server.URL)
	require.NoError(t, err)

	require.NoError(t, bot.Send(context.Background(), "12345", "Your code: 042317"))
	assert.Equal(t, "12345", chatID)
	assert.Equal(t, "Your code: 042317", text)

	require.NoError(t, bot.SendMessage(context.Background(), "12345", "Linked", &models.ReplyKeyboardRemove{RemoveKeyboard: true}))
	assert.Contains(t, markup, `"remove_keyboard":true`)

	require.Error(t, bot.Send(context.Background(), "not-a-chat", "hi"))
}

func TestBotSendMessageAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
	}))
	defer server.Close()

	bot, err := NewBot("TOKEN", server.URL)
	require.NoError(t, err)

	err = bot.Send(context.Background(), "12345", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot was blocked")
}

func TestBotTransportErrorHidesToken(t *testing.T) {
	bot, err := NewBot("SECRET-TOKEN", "http://127.0.0.1:1")
	require.NoError(t, err)

	err = bot.Send(context.Background(), "12345", "hi")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-TOKEN")
}

func TestNewBotValidation(t *testing.T) {
	_, err := NewBot("", "https://api.telegram.org")
	require.Error(t, err)

	_, err = NewBot("TOKEN", "ftp://api.telegram.org")
	require.Error(t, err)
}

func TestRegistryLinkLookup(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(kvstore.NewMemory(""), time.Hour)

	_, err := registry.Lookup(ctx, "+77011234567")
	require.ErrorIs(t, err, ErrNotLinked)

	require.NoError(t, registry.Link(ctx, Identity{Phone: "+77011234567", ChatID: "555", Username: "rosa"}))

	identity, err := registry.Lookup(ctx, "+77011234567")
	require.NoError(t, err)
	assert.Equal(t, "555", identity.ChatID)
	assert.Equal(t, "rosa", identity.Username)
	assert.False(t, identity.LinkedAt.IsZero())

	require.Error(t, registry.Link(ctx, Identity{Phone: "+77011234567"}))
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+77011234567", NormalizePhone("77011234567"))
	assert.Equal(t, "+77011234567", NormalizePhone("+7 (701) 123-45-67"))
	assert.Equal(t, "", NormalizePhone("n/a"))
}

type sentMessage struct {
	chatID string
	text   string
	markup any
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeMessenger) SendMessage(_ context.Context, chatID, text string, markup any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, markup: markup})
	return nil
}

func postUpdate(t *testing.T, handler http.Handler, secret, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(secretTokenHeader, secret)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhookLinksOwnContact(t *testing.T) {
	registry := NewRegistry(kvstore.NewMemory(""), time.Hour)
	messenger := &fakeMessenger{}
	handler := http.HandlerFunc(NewWebhookHandler(registry, messenger, observability.NewNopLogger(), "hook-secret").Handle)

	rec := postUpdate(t, handler, "hook-secret", `{
		"update_id": 1,
		"message": {
			"message_id": 10,
			"from": {"id": 987, "username": "rosa", "first_name": "Rosa", "last_name": "Florist"},
			"chat": {"id": 987},
			"contact": {"phone_number": "77011234567", "user_id": 987}
		}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	identity, err := registry.Lookup(context.Background(), "+77011234567")
	require.NoError(t, err)
	assert.Equal(t, "987", identity.ChatID)
	assert.Equal(t, "Rosa Florist", identity.DisplayName)

	require.Len(t, messenger.sent, 1)
	assert.Contains(t, messenger.sent[0].text, "+77011234567")
}

func TestWebhookRejectsForeignContact(t *testing.T) {
	registry := NewRegistry(kvstore.NewMemory(""), time.Hour)
	messenger := &fakeMessenger{}
	handler := http.HandlerFunc(NewWebhookHandler(registry, messenger, observability.NewNopLogger(), "hook-secret").Handle)

	rec := postUpdate(t, handler, "hook-secret", `{
		"update_id": 2,
		"message": {
			"message_id": 11,
			"from": {"id": 987},
			"chat": {"id": 987},
			"contact": {"phone_number": "77019999999", "user_id": 123}
		}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := registry.Lookup(context.Background(), "+77019999999")
	require.ErrorIs(t, err, ErrNotLinked)
}

func TestWebhookStartAsksForContact(t *testing.T) {
	messenger := &fakeMessenger{}
	handler := http.HandlerFunc(NewWebhookHandler(NewRegistry(kvstore.NewMemory(""), time.Hour), messenger, observability.NewNopLogger(), "hook-secret").Handle)

	rec := postUpdate(t, handler, "hook-secret", `{"update_id":3,"message":{"message_id":1,"from":{"id":5},"chat":{"id":5},"text":"/start"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, messenger.sent, 1)

	keyboard, ok := messenger.sent[0].markup.(*models.ReplyKeyboardMarkup)
	require.True(t, ok)
	assert.True(t, keyboard.Keyboard[0][0].RequestContact)
}

func TestWebhookSecret(t *testing.T) {
	registry := NewRegistry(kvstore.NewMemory(""), time.Hour)

	disabled := http.HandlerFunc(NewWebhookHandler(registry, &fakeMessenger{}, observability.NewNopLogger(), "").Handle)
	assert.Equal(t, http.StatusNotFound, postUpdate(t, disabled, "anything", `{}`).Code)

	enabled := http.HandlerFunc(NewWebhookHandler(registry, &fakeMessenger{}, observability.NewNopLogger(), "hook-secret").Handle)
	assert.Equal(t, http.StatusUnauthorized, postUpdate(t, enabled, "wrong", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, postUpdate(t, enabled, "hook-secret", `not json`).Code)
	assert.Equal(t, http.StatusOK, postUpdate(t, enabled, "hook-secret", `{"update_id":4}`).Code)
}
