package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lumenmart/api/internal/platform/observability"
	"github.com/lumenmart/api/internal/services"
)

const (
	maxCarrierWebhookBodySize = 32 * 1024
	carrierWebhookTokenHeader = "X-Webhook-Token"
)

// CarrierWebhookHandlers receives carrier status pushes. The carrier retries anything but a
// 200, so every request is acknowledged and problems are only logged.
type CarrierWebhookHandlers struct {
	reconciler services.WebhookReconciler
	token      string
}

// CarrierWebhookOption customises CarrierWebhookHandlers.
type CarrierWebhookOption func(*CarrierWebhookHandlers)

// WithCarrierWebhookToken requires pushes to present the shared token.
func WithCarrierWebhookToken(token string) CarrierWebhookOption {
	return func(h *CarrierWebhookHandlers) {
		h.token = strings.TrimSpace(token)
	}
}

// NewCarrierWebhookHandlers constructs the carrier webhook endpoint.
func NewCarrierWebhookHandlers(reconciler services.WebhookReconciler, opts ...CarrierWebhookOption) *CarrierWebhookHandlers {
	h := &CarrierWebhookHandlers{reconciler: reconciler}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers POST /webhook/carrier.
func (h *CarrierWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/webhook/carrier", h.handleCarrier)
}

func (h *CarrierWebhookHandlers) handleCarrier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx).Named("webhook.carrier")
	defer writeJSONResponse(w, http.StatusOK, map[string]any{"ok": true})

	if h.token != "" && !h.tokenMatches(r) {
		logger.Warn("carrier push ignored", zap.String("reason", "token_mismatch"))
		return
	}
	if h.reconciler == nil {
		logger.Error("carrier push dropped", zap.String("reason", "reconciler_unavailable"))
		return
	}

	body, err := readLimitedBody(r, maxCarrierWebhookBodySize)
	if err != nil {
		logger.Warn("carrier push unreadable", zap.Error(err))
		return
	}
	fields, err := parseCarrierPush(r.Header.Get("Content-Type"), body)
	if err != nil {
		logger.Warn("carrier push unparsable", zap.Error(err))
		return
	}

	input := services.CarrierEventInput{
		Type:       fields.first("type"),
		Code:       fields.first("label_id", "tracking_code", "label", "code", "order_code"),
		Status:     fields.first("status_id", "status"),
		StatusName: fields.first("status_name", "status_text"),
		ReasonCode: fields.first("reason_code"),
		ReasonText: fields.first("reason"),
		PushedAt:   parseActionTime(fields.first("action_time")),
	}
	if input.Code == "" {
		logger.Warn("carrier push ignored", zap.String("reason", "missing_code"))
		return
	}

	result, err := h.reconciler.Reconcile(ctx, input)
	if err != nil {
		logger.Error("carrier push failed",
			zap.String("code", observability.SanitizeIdentifier(input.Code)),
			zap.String("status", input.Status),
			zap.Error(err),
		)
		return
	}
	logger.Info("carrier push reconciled",
		zap.String("code", observability.SanitizeIdentifier(input.Code)),
		zap.Bool("matched", result.Matched),
		zap.String("orderId", result.OrderID),
		zap.String("status", string(result.Status)),
		zap.Bool("applied", result.Applied),
	)
}

func (h *CarrierWebhookHandlers) tokenMatches(r *http.Request) bool {
	presented := strings.TrimSpace(r.Header.Get(carrierWebhookTokenHeader))
	if presented == "" {
		presented = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) == 1
}

// parseActionTime reads carrier timestamps, which are local time when no offset is given.
func parseActionTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if ts, err := time.ParseInLocation(layout, raw, vietnamTime); err == nil {
			return &ts
		}
	}
	return nil
}

var vietnamTime = time.FixedZone("ICT", 7*60*60)

type carrierPushFields map[string]string

func (f carrierPushFields) first(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(f[key]); value != "" {
			return value
		}
	}
	return ""
}

// parseCarrierPush accepts JSON objects and urlencoded forms. Numeric JSON values such as
// status_id are kept in their decimal form.
func parseCarrierPush(contentType string, body []byte) (carrierPushFields, error) {
	fields := carrierPushFields{}
	trimmed := strings.TrimSpace(string(body))
	if strings.Contains(strings.ToLower(contentType), "json") || strings.HasPrefix(trimmed, "{") {
		decoder := json.NewDecoder(strings.NewReader(trimmed))
		decoder.UseNumber()
		var raw map[string]any
		if err := decoder.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode json push: %w", err)
		}
		for key, value := range raw {
			switch v := value.(type) {
			case nil:
			case string:
				fields[strings.ToLower(key)] = v
			case json.Number:
				fields[strings.ToLower(key)] = v.String()
			case bool:
				fields[strings.ToLower(key)] = fmt.Sprintf("%t", v)
			}
		}
		return fields, nil
	}

	values, err := url.ParseQuery(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode form push: %w", err)
	}
	for key := range values {
		fields[strings.ToLower(key)] = values.Get(key)
	}
	return fields, nil
}
