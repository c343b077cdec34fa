// Package pagination extracts page parameters from URL query strings and
// applies them to in-memory listings.
package pagination

import (
	"math"
	"net/url"
	"strconv"
)

// Params represents pagination parameters extracted from a request.
type Params struct {
	Page   int    // Current page number (1-based)
	Limit  int    // Number of items per page
	Offset int    // Offset of the first item on the page
	Sort   string // "newest" or "oldest"
}

const (
	// MaxLimit is the maximum number of items allowed per page
	MaxLimit = 200
	// DefaultPage is the default page number when not specified
	DefaultPage = 1
	// DefaultLimit is the default number of items per page when not specified
	DefaultLimit = 50
	// DefaultSort is the default sort order when not specified
	DefaultSort = "newest"
)

// calculateOffset saturates instead of overflowing, so a huge page lands
// past the end of any listing.
func calculateOffset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		return 0
	}
	if page-1 > (math.MaxInt-limit)/limit {
		return math.MaxInt - limit
	}
	return (page - 1) * limit
}

func isValidSort(sort string) bool {
	switch sort {
	case "newest", "oldest":
		return true
	default:
		return false
	}
}

// Option configures the defaults applied before the query is read.
type Option func(*Params)

// WithDefaultLimit sets the default limit. Non-positive limits are ignored.
func WithDefaultLimit(limit int) Option {
	return func(p *Params) {
		if limit > 0 {
			p.Limit = limit
		}
	}
}

// WithDefaultSort sets the default sort order. Unknown orders are ignored.
func WithDefaultSort(sort string) Option {
	if !isValidSort(sort) {
		return func(p *Params) {}
	}
	return func(p *Params) {
		p.Sort = sort
	}
}

// FromQuery reads page, limit and sort from q. Invalid values fall back to
// the defaults and the limit is capped at MaxLimit.
func FromQuery(q url.Values, opts ...Option) Params {
	params := Params{
		Page:  DefaultPage,
		Limit: DefaultLimit,
		Sort:  DefaultSort,
	}

	for _, opt := range opts {
		opt(&params)
	}

	if pageStr := q.Get("page"); pageStr != "" {
		if val, err := strconv.Atoi(pageStr); err == nil && val > 0 {
			params.Page = val
		}
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		if val, err := strconv.Atoi(limitStr); err == nil && val > 0 {
			params.Limit = val
		}
	}

	if params.Limit > MaxLimit {
		params.Limit = MaxLimit
	}

	params.Offset = calculateOffset(params.Page, params.Limit)

	if sortStr := q.Get("sort"); sortStr != "" && isValidSort(sortStr) {
		params.Sort = sortStr
	}

	return params
}

// HasNext reports whether items remain after the page.
func (p Params) HasNext(count int) bool {
	return p.Offset >= 0 && p.Offset < count && p.Limit < count-p.Offset
}

// Slice returns the page of items selected by p. Items are expected newest
// first; the "oldest" order reverses them before paging.
func Slice[T any](items []T, p Params) []T {
	ordered := items
	if p.Sort == "oldest" {
		ordered = make([]T, len(items))
		for i, item := range items {
			ordered[len(items)-1-i] = item
		}
	}
	if p.Offset < 0 || p.Offset >= len(ordered) || p.Limit <= 0 {
		return []T{}
	}
	end := len(ordered)
	if p.Limit < end-p.Offset {
		end = p.Offset + p.Limit
	}
	return ordered[p.Offset:end]
}
