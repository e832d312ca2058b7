// Package pagination reads limit/offset query parameters and builds the
// envelope every list endpoint returns.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Params struct {
	Limit  int
	Offset int
}

func intParam(c echo.Context, name string) int {
	n, err := strconv.Atoi(c.QueryParam(name))
	if err != nil {
		return 0
	}
	return n
}

// FromContext reads limit and offset. A page number (1-based) may stand in
// for offset. Out-of-range values are clamped rather than rejected.
func FromContext(c echo.Context) Params {
	p := Params{Limit: intParam(c, "limit"), Offset: intParam(c, "offset")}
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultLimit
	case p.Limit > MaxLimit:
		p.Limit = MaxLimit
	}
	if p.Offset <= 0 {
		p.Offset = 0
		if page := intParam(c, "page"); page > 1 {
			p.Offset = (page - 1) * p.Limit
		}
	}
	return p
}

type Response struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
	HasMore    bool        `json:"has_more"`
	NextOffset *int        `json:"next_offset,omitempty"`
}

// NewResponse wraps one page of items. A nil page is sent as [].
func NewResponse[T any](items []T, total, limit, offset int) *Response {
	if items == nil {
		items = []T{}
	}
	r := &Response{
		Success: true,
		Data:    items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
	if r.HasMore {
		next := offset + limit
		r.NextOffset = &next
	}
	return r
}
