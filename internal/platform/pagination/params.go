// Package pagination parses page size and cursor tokens for list endpoints.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Params is what a list endpoint reads from the query string.
type Params struct {
	PageSize  int
	PageToken string
}

// FromRequest reads pageSize and pageToken. Sizes above MaxPageSize are clamped; a token that
// does not decode is rejected here rather than at the repository.
func FromRequest(r *http.Request) (Params, error) {
	query := r.URL.Query()
	params := Params{PageSize: DefaultPageSize, PageToken: strings.TrimSpace(query.Get("pageToken"))}

	if raw := strings.TrimSpace(query.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return Params{}, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
		}
		params.PageSize = min(size, MaxPageSize)
	}
	if _, err := DecodeToken(params.PageToken); err != nil {
		return Params{}, err
	}
	return params, nil
}
