// Package carrier talks to the shipping carrier: it builds and validates waybill payloads,
// creates and cancels waybills over HTTP and deduplicates creation per order.
package carrier

import (
	"context"

	domain "github.com/lumenmart/api/internal/domain"
)

// Gateway creates and cancels waybills. Implementations never retry on their own.
type Gateway interface {
	CreateWaybill(ctx context.Context, req WaybillRequest) (domain.Waybill, error)
	CancelWaybill(ctx context.Context, trackingCode string) error
}
