package api

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/minimal-api/internal/logging"
)

// Version is reported by GET /version.
const Version = "0.3.0"

// Bounds of the /delay wait in milliseconds, lower inclusive, upper exclusive.
const (
	MinDelay = 1000
	MaxDelay = 5000
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// Handler serves the service endpoints. Every request obtains a named logger
// from the shared factory.
type Handler struct {
	loggers *logging.Factory

	delay func() int
	sleep func(time.Duration)
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithDelaySource overrides how /delay picks its wait, primarily for tests.
func WithDelaySource(delay func() int) HandlerOption {
	return func(h *Handler) {
		h.delay = delay
	}
}

// WithSleeper overrides the blocking wait used by /delay, primarily for tests.
func WithSleeper(sleep func(time.Duration)) HandlerOption {
	return func(h *Handler) {
		h.sleep = sleep
	}
}

// NewHandler constructs a Handler with the provided logger factory.
func NewHandler(loggers *logging.Factory, opts ...HandlerOption) *Handler {
	if loggers == nil {
		loggers = logging.NewFactory(nil)
	}
	h := &Handler{
		loggers: loggers,
		delay:   randomDelay,
		sleep:   time.Sleep,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// randomDelay draws uniformly from [MinDelay, MaxDelay).
func randomDelay() int {
	return MinDelay + rand.IntN(MaxDelay-MinDelay)
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	h.loggers.Logger(r.Context(), "Root").Info("Application Root called!")
	writeText(w, http.StatusOK, "Hello World!")
}

func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	h.loggers.Logger(r.Context(), "Version").Info("Application Version API!")
	writeJSON(w, http.StatusOK, "Version: "+Version+"!")
}

// handleDelay stalls the serving goroutine for a random number of
// milliseconds. It simulates a slow endpoint and is not cancelled when the
// client goes away.
func (h *Handler) handleDelay(w http.ResponseWriter, r *http.Request) {
	logger := h.loggers.Logger(r.Context(), "Delayed")
	logger.Info("Delayed API!")

	delay := h.delay()
	logger.Warn("Delaying response", zap.Int("delay_ms", delay))
	h.sleep(time.Duration(delay) * time.Millisecond)

	writeJSON(w, http.StatusOK, delayResponse{Message: "Delay of " + strconv.Itoa(delay)})
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type delayResponse struct {
	Message string `json:"Message"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{
		Error:   message,
		Details: details,
	})
}
