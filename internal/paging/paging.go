// Package paging parses and applies page/per_page query parameters.
package paging

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPerPage = 10
	MaxPerPage     = 100
	// MaxPage keeps Offset within int for any per-page value.
	MaxPage        = math.MaxInt / MaxPerPage
)

// Page is a 1-based page request.
type Page struct {
	Number  int `json:"page"`
	PerPage int `json:"per_page"`
}

// New normalises a page request: number within [1, MaxPage], per-page within
// [1, MaxPerPage].
func New(number, perPage int) Page {
	if number < 1 {
		number = 1
	}
	if number > MaxPage {
		number = MaxPage
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return Page{Number: number, PerPage: perPage}
}

// FromQuery reads page and per_page. Unparseable values fall back to defaults.
func FromQuery(q url.Values) Page {
	return New(atoi(q.Get("page")), atoi(q.Get("per_page")))
}

// Offset is the number of rows to skip.
func (p Page) Offset() int {
	return (p.Number - 1) * p.PerPage
}

// Limit is the number of rows to return.
func (p Page) Limit() int {
	return p.PerPage
}

// Window returns the [start, end) bounds of p within a slice of length n.
func (p Page) Window(n int) (int, int) {
	start := p.Offset()
	if start > n {
		start = n
	}
	end := start + p.Limit()
	if end > n {
		end = n
	}
	return start, end
}

func atoi(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}
