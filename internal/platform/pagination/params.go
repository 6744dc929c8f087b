package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps pageSize.
	DefaultMaxPageSize = 100
)

var (
	// ErrInvalidPageSize indicates pageSize is not a positive integer.
	ErrInvalidPageSize = errors.New("pagination: invalid page size")
	// ErrInvalidPageToken indicates the page token could not be decoded.
	ErrInvalidPageToken = errors.New("pagination: invalid page token")
)

// Params is the requested window over a newest-first list.
type Params struct {
	PageSize int
	Offset   int
}

// Page is one window of results with the token for the next one.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}

// ParseRequest reads pageSize and pageToken from the query string.
func ParseRequest(r *http.Request) (Params, error) {
	params := Params{PageSize: DefaultPageSize}
	query := r.URL.Query()

	if raw := strings.TrimSpace(query.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return Params{}, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
		}
		params.PageSize = min(size, DefaultMaxPageSize)
	}

	cursor, err := DecodeToken(query.Get("pageToken"))
	if err != nil {
		return Params{}, err
	}
	params.Offset = cursor.Offset
	return params, nil
}

// Slice cuts the window described by params out of ids and returns the token for the rest.
func Slice(ids []string, params Params) ([]string, string) {
	size := params.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if params.Offset >= len(ids) {
		return nil, ""
	}
	end := min(params.Offset+size, len(ids))
	next := ""
	if end < len(ids) {
		next = EncodeToken(Cursor{Offset: end})
	}
	return ids[params.Offset:end], next
}
