package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lumenmart/api/internal/channels"
	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/platform/auth"
	"github.com/lumenmart/api/internal/platform/httpx"
	"github.com/lumenmart/api/internal/platform/observability"
	"github.com/lumenmart/api/internal/services"
)

const maxChannelPushBodySize = 1024 * 1024

type channelPushRequest struct {
	Orders []channels.Order `json:"orders"`
}

type channelSyncRequest struct {
	Since string `json:"since"`
}

type importFailurePayload struct {
	OrderSN string `json:"order_sn"`
	Reason  string `json:"reason"`
}

type importResultResponse struct {
	OK         bool                   `json:"ok"`
	BatchID    string                 `json:"batch_id"`
	Channel    string                 `json:"channel"`
	Created    []string               `json:"created"`
	Duplicates []string               `json:"duplicates"`
	Failed     []importFailurePayload `json:"failed"`
}

// ChannelHandlers accepts marketplace orders pushed by the channel relay and triggers pull
// syncs. Requests are signed per channel.
type ChannelHandlers struct {
	importer services.ChannelImporter
	signed   func(http.Handler) http.Handler
	clock    func() time.Time
}

// NewChannelHandlers constructs channel handlers. signed verifies the request signature,
// typically HMACValidator.RequireHMACResolver(ChannelSecretName).
func NewChannelHandlers(importer services.ChannelImporter, signed func(http.Handler) http.Handler, clock func() time.Time) *ChannelHandlers {
	if clock == nil {
		clock = time.Now
	}
	return &ChannelHandlers{importer: importer, signed: signed, clock: clock}
}

// ChannelSecretName resolves the HMAC secret name from the channel path segment.
func ChannelSecretName(r *http.Request) (string, bool) {
	channel, err := channels.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		return "", false
	}
	return string(channel), true
}

// Routes registers the /internal/channels endpoints.
func (h *ChannelHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.signed != nil {
		group = r.With(h.signed)
	}
	group.Post("/channels/{channel}/orders", h.pushOrders)
	group.Post("/channels/{channel}/sync", h.syncOrders)
}

func (h *ChannelHandlers) pushOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channel, ok := h.channel(w, r)
	if !ok {
		return
	}

	var req channelPushRequest
	if !decodeJSONBody(w, r, maxChannelPushBodySize, false, &req) {
		return
	}

	result, err := h.importer.Import(ctx, channel, req.Orders)
	if err != nil {
		writeChannelError(w, r, err)
		return
	}
	logChannelImport(r, "channel push imported", result)
	writeJSONResponse(w, http.StatusOK, buildImportResponse(result))
}

func (h *ChannelHandlers) syncOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channel, ok := h.channel(w, r)
	if !ok {
		return
	}

	var req channelSyncRequest
	if !decodeJSONBody(w, r, maxChannelPushBodySize, true, &req) {
		return
	}

	since := h.clock().Add(-24 * time.Hour)
	if raw := strings.TrimSpace(req.Since); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "since must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		since = parsed
	}

	result, err := h.importer.Sync(ctx, channel, since)
	if err != nil {
		writeChannelError(w, r, err)
		return
	}
	logChannelImport(r, "channel sync imported", result)
	writeJSONResponse(w, http.StatusOK, buildImportResponse(result))
}

// logChannelImport records the batch along with the signature nonce that admitted it.
func logChannelImport(r *http.Request, msg string, result services.ImportResult) {
	fields := []zap.Field{
		zap.String("channel", string(result.Channel)),
		zap.String("batchId", result.BatchID),
		zap.Int("created", len(result.Created)),
		zap.Int("duplicates", len(result.Duplicates)),
		zap.Int("failed", len(result.Failed)),
	}
	if meta, ok := auth.HMACMetadataFromContext(r.Context()); ok {
		fields = append(fields,
			zap.String("nonce", observability.SanitizeIdentifier(meta.Nonce)),
			zap.Time("signedAt", meta.Timestamp),
		)
	}
	observability.FromContext(r.Context()).Named("channels").Info(msg, fields...)
}

func (h *ChannelHandlers) channel(w http.ResponseWriter, r *http.Request) (domain.SourceChannel, bool) {
	ctx := r.Context()
	if h.importer == nil {
		httpx.WriteError(ctx, w, httpx.NewError("channel_import_unavailable", "channel import unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	channel, err := channels.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("unknown_channel", "channel not recognised", http.StatusNotFound))
		return "", false
	}
	return channel, true
}

func writeChannelError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrChannelInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrChannelNotConfigured):
		httpx.WriteError(ctx, w, httpx.NewError("channel_not_configured", "channel credentials are not configured", http.StatusConflict))
	case errors.Is(err, channels.ErrRequestFailed):
		httpx.WriteError(ctx, w, httpx.NewError("channel_rejected", err.Error(), http.StatusBadGateway))
	case errors.Is(err, channels.ErrUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("channel_unavailable", "marketplace unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("channel_import_error", "failed to import channel orders", http.StatusInternalServerError))
	}
}

func buildImportResponse(result services.ImportResult) importResultResponse {
	failed := make([]importFailurePayload, 0, len(result.Failed))
	for _, failure := range result.Failed {
		failed = append(failed, importFailurePayload{OrderSN: failure.OrderSN, Reason: failure.Reason})
	}
	return importResultResponse{
		OK:         true,
		BatchID:    result.BatchID,
		Channel:    string(result.Channel),
		Created:    nonNilStrings(result.Created),
		Duplicates: nonNilStrings(result.Duplicates),
		Failed:     failed,
	}
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
