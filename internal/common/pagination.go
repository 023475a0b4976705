package common

import (
	"net/http"
	"strconv"
)

// Page is a 1-based page request.
type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Offset returns the row offset for the page.
func (p Page) Offset() int { return (p.Page - 1) * p.Limit }

// ParsePage reads page and limit query params, clamping limit to max.
func ParsePage(r *http.Request, defaultLimit, max int) Page {
	p := Page{Page: 1, Limit: defaultLimit}
	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		p.Limit = v
	}
	if max > 0 && p.Limit > max {
		p.Limit = max
	}
	return p
}

// PageMeta accompanies paginated list responses.
type PageMeta struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}
