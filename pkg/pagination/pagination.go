// Package pagination windows in-memory result lists (section records,
// timeline events, automation rules) for the HTTP API.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Window is a limit/offset pair read from the query string.
type Window struct {
	Limit  int
	Offset int
}

// FromQuery reads ?limit= and ?offset=, clamping both into range.
// Unparsable values fall back to the defaults.
func FromQuery(c echo.Context) Window {
	w := Window{Limit: DefaultLimit}
	if n, err := strconv.Atoi(c.QueryParam("limit")); err == nil && n > 0 {
		w.Limit = min(n, MaxLimit)
	}
	if n, err := strconv.Atoi(c.QueryParam("offset")); err == nil && n > 0 {
		w.Offset = n
	}
	return w
}

// Page is one window of a list together with the list's full size.
type Page[T any] struct {
	Data    []T  `json:"data"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// Slice cuts w out of items. Data is never nil so an empty page encodes
// as [].
func Slice[T any](items []T, w Window) Page[T] {
	p := Page[T]{Data: []T{}, Total: len(items), Limit: w.Limit, Offset: w.Offset}
	if w.Offset >= len(items) {
		return p
	}
	end := len(items)
	if w.Limit > 0 && w.Offset+w.Limit < end {
		end = w.Offset + w.Limit
	}
	p.Data = items[w.Offset:end]
	p.HasMore = end < len(items)
	return p
}
