package query

import (
	"fmt"
	"math"
	"net/url"
	"strconv"

	"github.com/drblury/xrayflow/internal/runtime/errors"
	"github.com/drblury/xrayflow/internal/xray"
)

// Pagination bounds.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// Page is a validated 1-based page request.
type Page struct {
	Page  int
	Limit int
}

// NewPage validates page and limit. Zero values take the defaults.
func NewPage(page, limit int) (Page, error) {
	if page == 0 {
		page = DefaultPage
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if page < 1 {
		return Page{}, fmt.Errorf("%w: page must be at least 1, got %d", errors.ErrInvalidPagination, page)
	}
	if limit < 1 || limit > MaxLimit {
		return Page{}, fmt.Errorf("%w: limit must be between 1 and %d, got %d", errors.ErrInvalidPagination, MaxLimit, limit)
	}
	if page-1 > math.MaxInt/limit {
		return Page{}, fmt.Errorf("%w: page %d is too large", errors.ErrInvalidPagination, page)
	}
	return Page{Page: page, Limit: limit}, nil
}

// Skip is the number of records before the page.
func (p Page) Skip() int {
	return (p.Page - 1) * p.Limit
}

// ParsePage reads page and limit from query values. The boolean reports
// whether either parameter was present.
func ParsePage(values url.Values) (Page, bool, error) {
	page, pageSet, err := intParam(values, "page")
	if err != nil {
		return Page{}, false, fmt.Errorf("%w: %v", errors.ErrInvalidPagination, err)
	}
	limit, limitSet, err := intParam(values, "limit")
	if err != nil {
		return Page{}, false, fmt.Errorf("%w: %v", errors.ErrInvalidPagination, err)
	}
	if pageSet && page == 0 {
		page = -1
	}
	if limitSet && limit == 0 {
		limit = -1
	}
	p, err := NewPage(page, limit)
	return p, pageSet || limitSet, err
}

func intParam(values url.Values, name string) (int, bool, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, true, fmt.Errorf("%s must be an integer, got %q", name, raw)
	}
	return v, true, nil
}

// Result is one page of records.
type Result struct {
	Items           []xray.Record `json:"items"`
	Total           int           `json:"total"`
	Page            int           `json:"page"`
	Limit           int           `json:"limit"`
	TotalPages      int           `json:"totalPages"`
	HasNextPage     bool          `json:"hasNextPage"`
	HasPreviousPage bool          `json:"hasPreviousPage"`
}

// Paginate wraps items, the page of a total-record listing.
func Paginate(items []xray.Record, total int, p Page) Result {
	if items == nil {
		items = []xray.Record{}
	}
	totalPages := (total + p.Limit - 1) / p.Limit
	return Result{
		Items:           items,
		Total:           total,
		Page:            p.Page,
		Limit:           p.Limit,
		TotalPages:      totalPages,
		HasNextPage:     p.Page < totalPages,
		HasPreviousPage: p.Page > 1,
	}
}
