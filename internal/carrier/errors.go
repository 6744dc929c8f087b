package carrier

import (
	"errors"
	"fmt"
	"strings"
)

const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeRejected         = "CARRIER_REJECTED"
	CodeUnavailable      = "CARRIER_UNAVAILABLE"
)

// ErrInProgress is returned when another caller is already creating the waybill for an order.
var ErrInProgress = errors.New("carrier: waybill creation already in progress")

// Error is the classified failure of a carrier call. Missing is only set for
// VALIDATION_FAILED and lists payload fields by their wire names.
type Error struct {
	Code    string
	Message string
	Missing []string
	Status  int
	Raw     map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(e.Code, "_", " "))
	}
	if len(e.Missing) > 0 {
		return fmt.Sprintf("carrier: %s: missing %s", msg, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("carrier: %s", msg)
}

// AsError extracts a carrier error from err.
func AsError(err error) (*Error, bool) {
	var carrierErr *Error
	if errors.As(err, &carrierErr) {
		return carrierErr, true
	}
	return nil, false
}
