// Package pagination reads offset paging parameters and builds page
// envelopes with navigation links.
package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Page is one offset window of a listing. Query holds the request's other
// query parameters so links keep the caller's filters.
type Page struct {
	Limit  int
	Offset int
	Path   string
	Query  url.Values
}

// FromContext reads limit and offset, clamping limit to (0, MaxLimit] and
// offset to >= 0.
func FromContext(c echo.Context) Page {
	q := c.QueryParams()
	p := Page{
		Limit:  atoiOr(q.Get("limit"), DefaultLimit),
		Offset: atoiOr(q.Get("offset"), 0),
		Path:   c.Request().URL.Path,
		Query:  url.Values{},
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	p.Limit = min(p.Limit, MaxLimit)
	p.Offset = max(p.Offset, 0)

	for k, v := range q {
		if k != "limit" && k != "offset" {
			p.Query[k] = v
		}
	}
	return p
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// Response is the envelope for paged listings.
type Response struct {
	Data    interface{}       `json:"data"`
	Total   int               `json:"total"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
	HasMore bool              `json:"has_more"`
	Links   map[string]string `json:"links,omitempty"`
}

// Respond wraps data, one page of total items, with self, next and
// previous links. Pages that do not exist get no link.
func (p Page) Respond(data interface{}, total int) *Response {
	links := map[string]string{"self": p.url(p.Offset)}
	if p.hasNext(total) {
		links["next"] = p.url(p.Offset + p.Limit)
	}
	if p.Offset > 0 {
		links["previous"] = p.url(max(p.Offset-p.Limit, 0))
	}
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.hasNext(total),
		Links:   links,
	}
}

func (p Page) hasNext(total int) bool {
	return p.Offset+p.Limit < total
}

func (p Page) url(offset int) string {
	q := url.Values{}
	for k, v := range p.Query {
		q[k] = v
	}
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(offset))
	return p.Path + "?" + q.Encode()
}
