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
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/platform/config"
)

const (
	shopeeOrderListPath   = "/api/v2/order/get_order_list"
	shopeeOrderDetailPath = "/api/v2/order/get_order_detail"
	shopeePageSize        = 50
	// Shopee rejects create_time ranges longer than fifteen days.
	shopeeMaxWindow = 15 * 24 * time.Hour
)

// ShopeeAdapter calls the Shopee Open Platform v2 shop APIs.
type ShopeeAdapter struct {
	cfg        config.ShopeeConfig
	httpClient *http.Client
	clock      func() time.Time
}

// NewShopeeAdapter validates credentials and builds the adapter.
func NewShopeeAdapter(cfg config.ShopeeConfig, client *http.Client, clock func() time.Time) (*ShopeeAdapter, error) {
	if cfg.PartnerID == 0 || strings.TrimSpace(cfg.PartnerKey) == "" || cfg.ShopID == 0 {
		return nil, fmt.Errorf("shopee: partner id, partner key and shop id are required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("shopee: base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if clock == nil {
		clock = time.Now
	}
	return &ShopeeAdapter{cfg: cfg, httpClient: client, clock: clock}, nil
}

// Channel implements Adapter.
func (a *ShopeeAdapter) Channel() domain.SourceChannel { return domain.SourceShopee }

// Sign computes the v2 shop-level signature.
func (a *ShopeeAdapter) Sign(path string, timestamp int64) string {
	base := strconv.FormatInt(a.cfg.PartnerID, 10) + path + strconv.FormatInt(timestamp, 10) +
		a.cfg.AccessToken + strconv.FormatInt(a.cfg.ShopID, 10)
	mac := hmac.New(sha256.New, []byte(a.cfg.PartnerKey))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

type shopeeEnvelope struct {
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Resp    json.RawMessage `json:"response"`
}

type shopeeOrderList struct {
	More       bool   `json:"more"`
	NextCursor string `json:"next_cursor"`
	OrderList  []struct {
		OrderSN string `json:"order_sn"`
	} `json:"order_list"`
}

type shopeeOrderDetail struct {
	OrderList []shopeeOrder `json:"order_list"`
}

type shopeeOrder struct {
	OrderSN          string          `json:"order_sn"`
	OrderStatus      string          `json:"order_status"`
	CreateTime       int64           `json:"create_time"`
	BuyerUsername    string          `json:"buyer_username"`
	MessageToSeller  string          `json:"message_to_seller"`
	EstimatedShipFee decimal.Decimal `json:"estimated_shipping_fee"`
	Recipient        struct {
		Name        string `json:"name"`
		Phone       string `json:"phone"`
		FullAddress string `json:"full_address"`
		State       string `json:"state"`
		City        string `json:"city"`
		District    string `json:"district"`
		Town        string `json:"town"`
	} `json:"recipient_address"`
	Items []struct {
		ItemName        string          `json:"item_name"`
		ItemSKU         string          `json:"item_sku"`
		ModelName       string          `json:"model_name"`
		ModelSKU        string          `json:"model_sku"`
		Quantity        int             `json:"model_quantity_purchased"`
		DiscountedPrice decimal.Decimal `json:"model_discounted_price"`
	} `json:"item_list"`
}

// FetchOrders lists orders created since the given time and loads their details. The
// window is clamped to what Shopee accepts.
func (a *ShopeeAdapter) FetchOrders(ctx context.Context, since time.Time) ([]Order, error) {
	now := a.clock()
	if since.IsZero() || now.Sub(since) > shopeeMaxWindow {
		since = now.Add(-shopeeMaxWindow)
	}

	var serials []string
	cursor := ""
	for {
		params := url.Values{}
		params.Set("time_range_field", "create_time")
		params.Set("time_from", strconv.FormatInt(since.Unix(), 10))
		params.Set("time_to", strconv.FormatInt(now.Unix(), 10))
		params.Set("page_size", strconv.Itoa(shopeePageSize))
		params.Set("cursor", cursor)

		var page shopeeOrderList
		if err := a.get(ctx, shopeeOrderListPath, params, &page); err != nil {
			return nil, err
		}
		for _, entry := range page.OrderList {
			serials = append(serials, entry.OrderSN)
		}
		if !page.More || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	orders := make([]Order, 0, len(serials))
	for start := 0; start < len(serials); start += shopeePageSize {
		end := min(start+shopeePageSize, len(serials))
		params := url.Values{}
		params.Set("order_sn_list", strings.Join(serials[start:end], ","))
		params.Set("response_optional_fields", "buyer_username,recipient_address,item_list,estimated_shipping_fee,message_to_seller")

		var detail shopeeOrderDetail
		if err := a.get(ctx, shopeeOrderDetailPath, params, &detail); err != nil {
			return nil, err
		}
		for _, raw := range detail.OrderList {
			orders = append(orders, convertShopeeOrder(raw))
		}
	}
	return orders, nil
}

func (a *ShopeeAdapter) get(ctx context.Context, path string, params url.Values, out any) error {
	timestamp := a.clock().Unix()
	params.Set("partner_id", strconv.FormatInt(a.cfg.PartnerID, 10))
	params.Set("shop_id", strconv.FormatInt(a.cfg.ShopID, 10))
	params.Set("access_token", a.cfg.AccessToken)
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))
	params.Set("sign", a.Sign(path, timestamp))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("shopee: build request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: shopee: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("shopee: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: shopee: HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	var envelope shopeeEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%w: shopee: decode response: %v", ErrRequestFailed, err)
	}
	if envelope.Error != "" || resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: shopee: %s %s", ErrRequestFailed, envelope.Error, envelope.Message)
	}
	if len(envelope.Resp) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Resp, out); err != nil {
		return fmt.Errorf("%w: shopee: decode payload: %v", ErrRequestFailed, err)
	}
	return nil
}

func convertShopeeOrder(raw shopeeOrder) Order {
	order := Order{
		OrderSN:      raw.OrderSN,
		Status:       raw.OrderStatus,
		BuyerName:    firstNonEmpty(raw.Recipient.Name, raw.BuyerUsername),
		BuyerPhone:   raw.Recipient.Phone,
		Address:      raw.Recipient.FullAddress,
		ProvinceName: raw.Recipient.State,
		DistrictName: firstNonEmpty(raw.Recipient.District, raw.Recipient.City),
		CommuneName:  raw.Recipient.Town,
		ShippingFee:  raw.EstimatedShipFee,
		Note:         raw.MessageToSeller,
		Items:        make([]OrderItem, 0, len(raw.Items)),
	}
	if raw.CreateTime > 0 {
		order.CreatedAt = time.Unix(raw.CreateTime, 0).UTC()
	}
	for _, item := range raw.Items {
		order.Items = append(order.Items, OrderItem{
			SKU:         firstNonEmpty(item.ModelSKU, item.ItemSKU),
			Name:        item.ItemName,
			VariantName: item.ModelName,
			Quantity:    item.Quantity,
			Price:       item.DiscountedPrice,
		})
	}
	return order
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
