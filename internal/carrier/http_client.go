package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/platform/config"
)

const (
	maxResponseSize = 1 << 20
	defaultTimeout  = 15 * time.Second

	createPath = "/orders/create"
	cancelPath = "/orders/cancel"

	FormatJSON = "json"
	FormatForm = "form"
)

// trackingCodePattern matches carrier label ids such as "VN123" or "S19.A2-7788"; a code
// must also carry a digit so words like "ERROR" are never taken as one.
var trackingCodePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{3,39}$`)

var (
	trackingKeys = []string{"tracking_code", "label", "label_id", "tracking_id", "order_code"}
	carrierKeys  = []string{"carrier_code", "partner_id", "order_id", "id"}
	nestedKeys   = []string{"order", "data", "result"}
)

// HTTPClient is the carrier REST client authenticated with a static token header.
type HTTPClient struct {
	baseURL    string
	token      string
	format     string
	httpClient *http.Client
	newID      func() string
}

// HTTPClientOption customises the client.
type HTTPClientOption func(*HTTPClient)

// WithHTTPClient swaps the underlying http.Client, mainly for tests.
func WithHTTPClient(client *http.Client) HTTPClientOption {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRequestIDGenerator overrides the generator used for the X-Request-ID header.
func WithRequestIDGenerator(fn func() string) HTTPClientOption {
	return func(c *HTTPClient) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// NewHTTPClient builds a client from configuration.
func NewHTTPClient(cfg config.CarrierConfig, opts ...HTTPClientOption) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("carrier: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("carrier: invalid base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format != FormatForm {
		format = FormatJSON
	}
	client := &HTTPClient{
		baseURL:    base,
		token:      cfg.Token,
		format:     format,
		httpClient: &http.Client{Timeout: timeout},
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// CreateWaybill validates the payload and posts it. Validation failures never reach the
// network.
func (c *HTTPClient) CreateWaybill(ctx context.Context, req WaybillRequest) (domain.Waybill, error) {
	if err := Validate(req); err != nil {
		return domain.Waybill{}, err
	}
	raw, err := c.post(ctx, createPath, req)
	if err != nil {
		return domain.Waybill{}, err
	}
	waybill := domain.Waybill{
		OK:           true,
		TrackingCode: lookupString(raw, trackingKeys),
		CarrierCode:  lookupString(raw, carrierKeys),
		Raw:          raw,
	}
	if waybill.TrackingCode == "" {
		return domain.Waybill{}, &Error{Code: CodeRejected, Message: "response carried no tracking code", Raw: raw}
	}
	return waybill, nil
}

// CancelWaybill asks the carrier to void a waybill.
func (c *HTTPClient) CancelWaybill(ctx context.Context, trackingCode string) error {
	trackingCode = strings.TrimSpace(trackingCode)
	if trackingCode == "" {
		return &Error{Code: CodeValidationFailed, Message: "tracking code required", Missing: []string{"tracking_code"}}
	}
	_, err := c.post(ctx, cancelPath, map[string]any{"tracking_code": trackingCode})
	return err
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) (map[string]any, error) {
	body, contentType, err := c.encode(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("carrier: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json, text/plain")
	req.Header.Set("X-Request-ID", c.newID())
	if c.token != "" {
		req.Header.Set("Token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Code: CodeUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &Error{Code: CodeUnavailable, Message: fmt.Sprintf("read response: %v", err), Status: resp.StatusCode}
	}
	raw := decodeResponse(data)

	switch {
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Code: CodeUnavailable, Message: responseMessage(raw, resp.Status), Status: resp.StatusCode, Raw: raw}
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, &Error{Code: CodeRejected, Message: responseMessage(raw, resp.Status), Status: resp.StatusCode, Raw: raw}
	case !responseOK(raw):
		return nil, &Error{Code: CodeRejected, Message: responseMessage(raw, "carrier reported failure"), Status: resp.StatusCode, Raw: raw}
	}
	return raw, nil
}

func (c *HTTPClient) encode(payload any) (io.Reader, string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("carrier: encode payload: %w", err)
	}
	if c.format != FormatForm {
		return bytes.NewReader(data), "application/json", nil
	}
	var fields map[string]any
	if err := decodeJSON(data, &fields); err != nil {
		return nil, "", fmt.Errorf("carrier: encode form: %w", err)
	}
	values := url.Values{}
	for key, value := range fields {
		switch v := value.(type) {
		case string:
			values.Set(key, v)
		case json.Number:
			values.Set(key, v.String())
		case bool:
			values.Set(key, strconv.FormatBool(v))
		case nil:
		default:
			nested, err := json.Marshal(v)
			if err != nil {
				return nil, "", fmt.Errorf("carrier: encode form field %s: %w", key, err)
			}
			values.Set(key, string(nested))
		}
	}
	return strings.NewReader(values.Encode()), "application/x-www-form-urlencoded", nil
}

// decodeResponse accepts a JSON object or plain text. Plain text of the form "OK|<code>" or a
// bare code is treated as a tracking code when it looks like one.
func decodeResponse(data []byte) map[string]any {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return map[string]any{}
	}
	var obj map[string]any
	if trimmed[0] == '{' && decodeJSON(trimmed, &obj) == nil {
		return obj
	}
	text := string(trimmed)
	raw := map[string]any{"text": text}
	status, rest, found := strings.Cut(text, "|")
	switch {
	case found && strings.EqualFold(strings.TrimSpace(status), "ok"):
		raw["success"] = true
		if code := strings.TrimSpace(rest); plausibleTrackingCode(code) {
			raw["tracking_code"] = code
		}
	case found:
		raw["success"] = false
		raw["message"] = strings.TrimSpace(rest)
	case plausibleTrackingCode(text):
		raw["tracking_code"] = text
	}
	return raw
}

func plausibleTrackingCode(code string) bool {
	return trackingCodePattern.MatchString(code) && strings.ContainsAny(code, "0123456789")
}

// decodeJSON keeps numbers as json.Number so long numeric ids survive intact.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// responseOK honours the success flags carriers commonly return; absent flags mean success.
func responseOK(raw map[string]any) bool {
	for _, key := range []string{"success", "ok"} {
		if v, ok := raw[key].(bool); ok {
			return v
		}
	}
	if v, ok := raw["error"].(bool); ok {
		return !v
	}
	switch status := raw["status"].(type) {
	case json.Number:
		return status == "200" || status == "1"
	case string:
		s := strings.ToLower(status)
		return s == "" || s == "ok" || s == "success" || s == "200"
	}
	return true
}

func responseMessage(raw map[string]any, fallback string) string {
	for _, key := range []string{"message", "msg", "error_message"} {
		if s, ok := raw[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	if s, ok := raw["text"].(string); ok && s != "" {
		return s
	}
	return fallback
}

func lookupString(raw map[string]any, keys []string) string {
	if s := firstString(raw, keys); s != "" {
		return s
	}
	for _, nested := range nestedKeys {
		if obj, ok := raw[nested].(map[string]any); ok {
			if s := firstString(obj, keys); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstString(obj map[string]any, keys []string) string {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}
