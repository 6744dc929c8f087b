package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lumenmart/api/internal/platform/httpx"
)

const (
	defaultHeaderName   = "Idempotency-Key"
	replayHeaderName    = "X-Idempotent-Replay"
	defaultWaitTimeout  = 5 * time.Second
	defaultPollInterval = 100 * time.Millisecond
	maxKeyLength        = 255
)

// Logger abstracts the logging dependency used inside the middleware.
type Logger interface {
	Printf(format string, args ...any)
}

type middlewareConfig struct {
	headerName   string
	ttl          time.Duration
	waitTimeout  time.Duration
	pollInterval time.Duration
	clock        func() time.Time
	logger       Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header name used to extract the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed responses are replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithWait sets how long a request waits for a concurrent holder of the same key to finish
// before answering 409. A zero timeout disables waiting.
func WithWait(timeout, poll time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if timeout >= 0 {
			cfg.waitTimeout = timeout
		}
		if poll > 0 {
			cfg.pollInterval = poll
		}
	}
}

// WithLogger injects a logger for persistence errors.
func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

// WithClock overrides the time source, primarily for testing.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware executes a request at most once per idempotency key. The first request holding a
// key runs the handler and stores its response; later requests with the same key and payload
// wait for and replay that response byte for byte. 5xx responses are not stored so that
// retries can succeed.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName:   defaultHeaderName,
		ttl:          DefaultTTL,
		waitTimeout:  defaultWaitTimeout,
		pollInterval: defaultPollInterval,
		clock:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" {
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+cfg.headerName+" header", http.StatusBadRequest))
				return
			}
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_invalid", "idempotency key too long", http.StatusBadRequest))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read request body", http.StatusBadRequest))
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			scoped := r.Method + " " + r.URL.Path + "|" + key
			fingerprint := Fingerprint([]byte(r.Method), []byte(r.URL.Path), []byte(r.URL.RawQuery), body)

			reservation, err := reserveOrWait(r, store, cfg, scoped, fingerprint)
			if err != nil {
				writeStoreError(w, r, cfg.logger, err)
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				writeStoredResponse(w, reservation.Record)
				return
			case ReservationStatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
				return
			}

			recorder := &bufferedWriter{header: make(http.Header)}
			next.ServeHTTP(recorder, r)

			resp := Response{Status: recorder.statusCode(), Headers: recorder.header.Clone(), Body: recorder.body.Bytes()}
			if resp.Status >= http.StatusInternalServerError {
				if err := store.Release(ctx, scoped, fingerprint); err != nil && cfg.logger != nil {
					cfg.logger.Printf("idempotency: release key %q after %d: %v", key, resp.Status, err)
				}
			} else if err := store.SaveResponse(ctx, scoped, fingerprint, resp, cfg.clock().UTC(), cfg.ttl); err != nil {
				if cfg.logger != nil {
					cfg.logger.Printf("idempotency: persist response for key %q: %v", key, err)
				}
				_ = store.Release(ctx, scoped, fingerprint)
			}

			recorder.flushTo(w)
		})
	}
}

// reserveOrWait polls the store while another request holds the key.
func reserveOrWait(r *http.Request, store Store, cfg middlewareConfig, key, fingerprint string) (Reservation, error) {
	ctx := r.Context()
	deadline := time.NewTimer(cfg.waitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(cfg.pollInterval)
	defer ticker.Stop()

	for {
		reservation, err := store.Reserve(ctx, key, fingerprint, cfg.clock().UTC(), cfg.ttl)
		if err != nil || reservation.State != ReservationStatePending || cfg.waitTimeout == 0 {
			return reservation, err
		}
		select {
		case <-ctx.Done():
			return reservation, nil
		case <-deadline.C:
			return reservation, nil
		case <-ticker.C:
		}
	}
}

func writeStoreError(w http.ResponseWriter, r *http.Request, logger Logger, err error) {
	if errors.Is(err, ErrFingerprintMismatch) {
		httpx.WriteError(r.Context(), w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
		return
	}
	if logger != nil {
		logger.Printf("idempotency: store error: %v", err)
	}
	httpx.WriteError(r.Context(), w, httpx.NewError("idempotency_store_error", "unable to process idempotency key", http.StatusInternalServerError))
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	for key, values := range headersFromRecord(record.ResponseHeaders) {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

// bufferedWriter holds the handler output until the store has the response.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(data []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedWriter) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	for key, values := range b.header {
		w.Header()[key] = values
	}
	w.WriteHeader(b.statusCode())
	_, _ = w.Write(b.body.Bytes())
}
