package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params is the window a list endpoint should return.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads limit/offset or the page/page_size pair used by the
// front office. An explicit offset wins over page. Bad values fall back to
// the defaults rather than failing the request.
func FromContext(c echo.Context) Params {
	limit := firstPositive(c.QueryParam("limit"), c.QueryParam("page_size"))
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	offset := firstPositive(c.QueryParam("offset"))
	if offset == 0 {
		if page := firstPositive(c.QueryParam("page")); page > 1 {
			offset = (page - 1) * limit
		}
	}
	return Params{Limit: limit, Offset: offset}
}

func firstPositive(values ...string) int {
	for _, v := range values {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// Page is 1-based.
func (p Params) Page() int {
	if p.Limit <= 0 {
		return 1
	}
	return p.Offset/p.Limit + 1
}

// Response is the envelope of every list endpoint.
type Response[T any] struct {
	Data    []T  `json:"data"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Page    int  `json:"page"`
	HasMore bool `json:"has_more"`
}

// NewResponse never encodes a null data array.
func NewResponse[T any](items []T, total int, p Params) *Response[T] {
	if items == nil {
		items = []T{}
	}
	return &Response[T]{
		Data:    items,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		Page:    p.Page(),
		HasMore: p.Offset+len(items) < total,
	}
}
