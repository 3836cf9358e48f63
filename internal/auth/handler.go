package auth

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"flowers-serverless/internal/observability"
	"flowers-serverless/internal/otp"
	"flowers-serverless/internal/shop"
)

var (
	phoneRegex = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)
	codeRegex  = regexp.MustCompile(`^[0-9]{4,8}$`)
)

const (
	maxJSONBodyBytes = 1 << 16
	maxShopNameLen   = 120
	eventTimeout     = 2 * time.Second
)

type OTPService interface {
	Generate(ctx context.Context, phone string) (otp.GenerateResult, error)
	Verify(ctx context.Context, phone, code string) error
	Status(ctx context.Context, phone string) (otp.Status, error)
}

type EventRecorder interface {
	RecordEvent(ctx context.Context, event Event) error
}

type Handler struct {
	otp         OTPService
	issuer      *Issuer
	shops       ShopStore
	events      EventRecorder
	metrics     *observability.Metrics
	logger      *observability.Logger
	otpWindow   time.Duration
	botUsername string
}

func NewHandler(otpService OTPService, issuer *Issuer, shops ShopStore) *Handler {
	return &Handler{
		otp:       otpService,
		issuer:    issuer,
		shops:     shops,
		logger:    observability.NewNopLogger(),
		otpWindow: time.Minute,
	}
}

func (h *Handler) WithObservability(logger *observability.Logger, metrics *observability.Metrics) *Handler {
	if logger != nil {
		h.logger = logger
	}
	h.metrics = metrics
	return h
}

func (h *Handler) WithEvents(events EventRecorder) *Handler {
	h.events = events
	return h
}

func (h *Handler) WithOTPWindow(window time.Duration) *Handler {
	if window > 0 {
		h.otpWindow = window
	}
	return h
}

func (h *Handler) WithBotUsername(username string) *Handler {
	h.botUsername = strings.TrimPrefix(strings.TrimSpace(username), "@")
	return h
}

type requestOTPRequest struct {
	Phone string `json:"phone"`
}

type verifyOTPRequest struct {
	Phone   string `json:"phone"`
	OTPCode string `json:"otp_code"`
}

type requestOTPResponse struct {
	Status    string `json:"status"`
	ExpiresIn int64  `json:"expires_in"`
}

type otpStatusResponse struct {
	Phone     string `json:"phone"`
	Pending   bool   `json:"pending"`
	ExpiresIn int64  `json:"expires_in"`
	Attempts  int    `json:"attempts"`
}

func (h *Handler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var body requestOTPRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	phone := strings.TrimSpace(body.Phone)
	if !phoneRegex.MatchString(phone) {
		writeError(w, http.StatusBadRequest, "phone format is invalid")
		return
	}

	result, err := h.otp.Generate(r.Context(), phone)
	if err != nil {
		switch {
		case errors.Is(err, otp.ErrInvalidPhone):
			h.countOTPRequest("invalid")
			writeError(w, http.StatusBadRequest, "phone format is invalid")
		case errors.Is(err, otp.ErrTelegramUnregistered):
			h.countOTPRequest("unregistered")
			writeError(w, http.StatusNotFound, h.unregisteredMessage())
		case errors.Is(err, otp.ErrUnavailable):
			h.countOTPRequest("unavailable")
			h.logger.Error("otp_store_unavailable", map[string]any{"op": "generate", "error": err.Error()})
			writeError(w, http.StatusServiceUnavailable, "login is temporarily unavailable")
		default:
			h.countOTPRequest("error")
			observability.CaptureError(r.Context(), err, map[string]string{"component": "otp"})
			writeError(w, http.StatusInternalServerError, "failed to request otp")
		}
		return
	}

	if result.Status == otp.StatusRateLimited {
		h.countOTPRequest("rate_limited")
		h.record(r, Event{Phone: phone, Kind: EventOTPRateLimited})
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(result.RetryAfter)))
		writeError(w, http.StatusTooManyRequests, "too many otp requests")
		return
	}

	h.record(r, Event{Phone: phone, Kind: EventOTPRequested, Detail: deliveryDetail(result)})
	if !result.Delivered {
		h.countOTPRequest("delivery_failed")
		h.logger.Warn("otp_delivery_failed", map[string]any{"phone": maskPhone(phone), "error": errString(result.DeliveryErr)})
		writeError(w, http.StatusServiceUnavailable, "failed to deliver otp via telegram, try again")
		return
	}

	h.countOTPRequest("sent")
	writeJSON(w, http.StatusOK, requestOTPResponse{
		Status:    "sent",
		ExpiresIn: int64(result.ExpiresIn.Seconds()),
	})
}

func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var body verifyOTPRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	phone := strings.TrimSpace(body.Phone)
	code := strings.TrimSpace(body.OTPCode)
	if !phoneRegex.MatchString(phone) {
		writeError(w, http.StatusBadRequest, "phone format is invalid")
		return
	}
	if !codeRegex.MatchString(code) {
		writeError(w, http.StatusBadRequest, "otp code format is invalid")
		return
	}

	if err := h.otp.Verify(r.Context(), phone, code); err != nil {
		h.verifyFailed(w, r, phone, err)
		return
	}
	h.countOTPVerification("ok")
	h.record(r, Event{Phone: phone, Kind: EventOTPVerified})

	session, err := h.issuer.IssueSession(r.Context(), phone)
	if err != nil {
		if errors.Is(err, ErrShopInactive) {
			h.countSession("inactive")
			h.record(r, Event{Phone: phone, Kind: EventSessionRejected, Detail: "shop_inactive"})
			writeError(w, http.StatusForbidden, "shop is inactive")
			return
		}

		h.countSession("error")
		observability.CaptureError(r.Context(), err, map[string]string{"component": "session"})
		writeError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}

	h.countSession("ok")
	shopID := session.ShopID
	h.record(r, Event{ShopID: &shopID, Phone: phone, Kind: EventSessionIssued})
	h.logger.Info("session_issued", map[string]any{
		"shop_id":  session.ShopID,
		"new_shop": session.NewShop,
	})

	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) verifyFailed(w http.ResponseWriter, r *http.Request, phone string, err error) {
	var mismatch otp.MismatchError
	switch {
	case errors.As(err, &mismatch):
		h.countOTPVerification("mismatch")
		h.record(r, Event{Phone: phone, Kind: EventOTPFailed, Detail: "mismatch"})
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":              "invalid otp code",
			"remaining_attempts": mismatch.Remaining,
		})
	case errors.Is(err, otp.ErrTooManyAttempts):
		h.countOTPVerification("too_many_attempts")
		h.record(r, Event{Phone: phone, Kind: EventOTPFailed, Detail: "too_many_attempts"})
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(h.otpWindow)))
		writeError(w, http.StatusTooManyRequests, "too many invalid attempts, request a new code")
	case errors.Is(err, otp.ErrNotFound):
		h.countOTPVerification("not_found")
		h.record(r, Event{Phone: phone, Kind: EventOTPFailed, Detail: "not_found"})
		writeError(w, http.StatusBadRequest, "no pending otp, request a new code")
	case errors.Is(err, otp.ErrInvalidPhone):
		writeError(w, http.StatusBadRequest, "phone format is invalid")
	case errors.Is(err, otp.ErrUnavailable):
		h.countOTPVerification("unavailable")
		h.logger.Error("otp_store_unavailable", map[string]any{"op": "verify", "error": err.Error()})
		writeError(w, http.StatusServiceUnavailable, "login is temporarily unavailable")
	default:
		h.countOTPVerification("error")
		observability.CaptureError(r.Context(), err, map[string]string{"component": "otp"})
		writeError(w, http.StatusInternalServerError, "failed to verify otp")
	}
}

// OTPStatus is a diagnostic view for operators; mount it behind the admin key.
func (h *Handler) OTPStatus(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if !phoneRegex.MatchString(phone) {
		writeError(w, http.StatusBadRequest, "phone format is invalid")
		return
	}

	status, err := h.otp.Status(r.Context(), phone)
	if err != nil {
		if errors.Is(err, otp.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "otp store is unavailable")
			return
		}
		observability.CaptureError(r.Context(), err, map[string]string{"component": "otp"})
		writeError(w, http.StatusInternalServerError, "failed to load otp status")
		return
	}

	writeJSON(w, http.StatusOK, otpStatusResponse{
		Phone:     phone,
		Pending:   status.Pending,
		ExpiresIn: int64(status.ExpiresIn.Seconds()),
		Attempts:  status.Attempts,
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	current, ok := ShopFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	writeJSON(w, http.StatusOK, current)
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	current, ok := ShopFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	var body shop.ProfileInput
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Name = strings.TrimSpace(body.Name)
	body.Email = strings.TrimSpace(body.Email)
	if body.Name == "" || len(body.Name) > maxShopNameLen {
		writeError(w, http.StatusBadRequest, "name is required and must be at most 120 characters")
		return
	}
	if body.Email != "" {
		if _, err := mail.ParseAddress(body.Email); err != nil {
			writeError(w, http.StatusBadRequest, "email format is invalid")
			return
		}
	}

	updated, err := h.shops.UpdateProfile(r.Context(), current.ID, body)
	if err != nil {
		if errors.Is(err, shop.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "shop not found")
			return
		}
		observability.CaptureError(r.Context(), err, map[string]string{"component": "shop"})
		writeError(w, http.StatusInternalServerError, "failed to update shop")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// record writes an audit event without ever failing the request.
func (h *Handler) record(r *http.Request, event Event) {
	if h.events == nil {
		return
	}
	event.IP = observability.ClientIP(r)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), eventTimeout)
	defer cancel()
	if err := h.events.RecordEvent(ctx, event); err != nil {
		h.logger.Warn("auth_event_not_recorded", map[string]any{"event": event.Kind, "error": err.Error()})
	}
}

func (h *Handler) unregisteredMessage() string {
	if h.botUsername == "" {
		return "phone is not linked to telegram, open the bot and share your contact first"
	}
	return "phone is not linked to telegram, open @" + h.botUsername + " and share your contact first"
}

func (h *Handler) countOTPRequest(result string) {
	if h.metrics != nil {
		h.metrics.OTPRequested(result)
	}
}

func (h *Handler) countOTPVerification(result string) {
	if h.metrics != nil {
		h.metrics.OTPVerified(result)
	}
}

func (h *Handler) countSession(result string) {
	if h.metrics != nil {
		h.metrics.SessionIssued(result)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func deliveryDetail(result otp.GenerateResult) string {
	if result.Delivered {
		return "delivered"
	}
	return "delivery_failed"
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
