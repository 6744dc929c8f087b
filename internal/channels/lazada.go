package channels

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/platform/config"
)

const (
	lazadaOrdersPath     = "/orders/get"
	lazadaOrderItemsPath = "/order/items/get"
	lazadaPageSize       = 100
	lazadaTimeLayout     = "2006-01-02 15:04:05 -0700"
)

// LazadaAdapter calls the Lazada Open Platform REST APIs.
type LazadaAdapter struct {
	cfg        config.LazadaConfig
	httpClient *http.Client
	clock      func() time.Time
}

// NewLazadaAdapter validates credentials and builds the adapter.
func NewLazadaAdapter(cfg config.LazadaConfig, client *http.Client, clock func() time.Time) (*LazadaAdapter, error) {
	if strings.TrimSpace(cfg.AppKey) == "" || strings.TrimSpace(cfg.AppSecret) == "" {
		return nil, fmt.Errorf("lazada: app key and app secret are required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("lazada: base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if clock == nil {
		clock = time.Now
	}
	return &LazadaAdapter{cfg: cfg, httpClient: client, clock: clock}, nil
}

// Channel implements Adapter.
func (a *LazadaAdapter) Channel() domain.SourceChannel { return domain.SourceLazada }

// Sign computes the upper-case HMAC-SHA256 over the API path and the sorted parameters.
func (a *LazadaAdapter) Sign(path string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		if key != "sign" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(path)
	for _, key := range keys {
		b.WriteString(key)
		b.WriteString(params.Get(key))
	}
	mac := hmac.New(sha256.New, []byte(a.cfg.AppSecret))
	mac.Write([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

type lazadaEnvelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type lazadaOrders struct {
	Count  int           `json:"count"`
	Orders []lazadaOrder `json:"orders"`
}

type lazadaOrder struct {
	OrderID       json.Number `json:"order_id"`
	CreatedAt     string      `json:"created_at"`
	Statuses      []string    `json:"statuses"`
	ShippingFee   string      `json:"shipping_fee"`
	Remarks       string      `json:"remarks"`
	CustomerFirst string      `json:"customer_first_name"`
	CustomerLast  string      `json:"customer_last_name"`
	Address       struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Phone     string `json:"phone"`
		Address1  string `json:"address1"`
		Address3  string `json:"address3"`
		Address4  string `json:"address4"`
		Address5  string `json:"address5"`
	} `json:"address_shipping"`
}

type lazadaOrderItem struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Variation string `json:"variation"`
	PaidPrice string `json:"paid_price"`
	ItemPrice string `json:"item_price"`
}

// FetchOrders pages through orders created after since and loads their items. Lazada
// returns one item row per unit, so rows are folded by SKU and price.
func (a *LazadaAdapter) FetchOrders(ctx context.Context, since time.Time) ([]Order, error) {
	if since.IsZero() {
		since = a.clock().Add(-24 * time.Hour)
	}
	var orders []Order
	for offset := 0; ; offset += lazadaPageSize {
		params := url.Values{}
		params.Set("created_after", since.Format(time.RFC3339))
		params.Set("sort_direction", "ASC")
		params.Set("offset", strconv.Itoa(offset))
		params.Set("limit", strconv.Itoa(lazadaPageSize))

		var page lazadaOrders
		if err := a.get(ctx, lazadaOrdersPath, params, &page); err != nil {
			return nil, err
		}
		for _, raw := range page.Orders {
			itemParams := url.Values{}
			itemParams.Set("order_id", raw.OrderID.String())
			var items []lazadaOrderItem
			if err := a.get(ctx, lazadaOrderItemsPath, itemParams, &items); err != nil {
				return nil, err
			}
			orders = append(orders, convertLazadaOrder(raw, items))
		}
		if len(page.Orders) < lazadaPageSize {
			return orders, nil
		}
	}
}

func (a *LazadaAdapter) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("app_key", a.cfg.AppKey)
	params.Set("timestamp", strconv.FormatInt(a.clock().UnixMilli(), 10))
	params.Set("sign_method", "sha256")
	if a.cfg.AccessToken != "" {
		params.Set("access_token", a.cfg.AccessToken)
	}
	params.Set("sign", a.Sign(path, params))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("lazada: build request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: lazada: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("lazada: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: lazada: HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	var envelope lazadaEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%w: lazada: decode response: %v", ErrRequestFailed, err)
	}
	if envelope.Code != "0" {
		return fmt.Errorf("%w: lazada: %s %s", ErrRequestFailed, envelope.Code, envelope.Message)
	}
	if len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: lazada: decode payload: %v", ErrRequestFailed, err)
	}
	return nil
}

func convertLazadaOrder(raw lazadaOrder, items []lazadaOrderItem) Order {
	name := strings.TrimSpace(raw.Address.FirstName + " " + raw.Address.LastName)
	if name == "" {
		name = strings.TrimSpace(raw.CustomerFirst + " " + raw.CustomerLast)
	}
	order := Order{
		OrderSN:      raw.OrderID.String(),
		BuyerName:    name,
		BuyerPhone:   raw.Address.Phone,
		Address:      raw.Address.Address1,
		ProvinceName: raw.Address.Address3,
		DistrictName: raw.Address.Address4,
		CommuneName:  raw.Address.Address5,
		ShippingFee:  ParseDecimal(raw.ShippingFee),
		Note:         raw.Remarks,
	}
	if len(raw.Statuses) > 0 {
		order.Status = raw.Statuses[0]
	}
	if t, err := time.Parse(lazadaTimeLayout, raw.CreatedAt); err == nil {
		order.CreatedAt = t.UTC()
	}

	index := map[string]int{}
	for _, item := range items {
		price := ParseDecimal(firstNonEmpty(item.PaidPrice, item.ItemPrice))
		key := item.SKU + "|" + price.String()
		if i, ok := index[key]; ok {
			order.Items[i].Quantity++
			continue
		}
		index[key] = len(order.Items)
		order.Items = append(order.Items, OrderItem{
			SKU:         item.SKU,
			Name:        item.Name,
			VariantName: item.Variation,
			Quantity:    1,
			Price:       price,
		})
	}
	return order
}
