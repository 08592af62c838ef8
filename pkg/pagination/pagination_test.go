package pagination

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithQuery(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cohort/queries?"+query, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{"", DefaultLimit, 0},
		{"limit=50&offset=10", 50, 10},
		{"limit=500", MaxLimit, 0},
		{"limit=-3&offset=-5", DefaultLimit, 0},
		{"limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := FromContext(contextWithQuery(tt.query))
			if p.Limit != tt.limit {
				t.Errorf("expected limit %d, got %d", tt.limit, p.Limit)
			}
			if p.Offset != tt.offset {
				t.Errorf("expected offset %d, got %d", tt.offset, p.Offset)
			}
			if p.Path != "/api/v1/cohort/queries" {
				t.Errorf("unexpected path %q", p.Path)
			}
		})
	}
}

func TestRespond_Links(t *testing.T) {
	p := FromContext(contextWithQuery("owner=alice&limit=10&offset=5"))
	resp := p.Respond([]string{"a"}, 30)

	if !resp.HasMore || resp.Total != 30 || resp.Limit != 10 || resp.Offset != 5 {
		t.Errorf("unexpected response fields: %+v", resp)
	}
	want := map[string]string{
		"self":     "offset=5",
		"next":     "offset=15",
		"previous": "offset=0",
	}
	for name, offset := range want {
		link, ok := resp.Links[name]
		if !ok {
			t.Fatalf("missing %s link", name)
		}
		u, err := url.Parse(link)
		if err != nil {
			t.Fatalf("parse %s link: %v", name, err)
		}
		if u.Path != "/api/v1/cohort/queries" {
			t.Errorf("%s link path = %q", name, u.Path)
		}
		if got := "offset=" + u.Query().Get("offset"); got != offset {
			t.Errorf("%s link %s, want %s", name, got, offset)
		}
		if u.Query().Get("owner") != "alice" {
			t.Errorf("%s link dropped owner filter: %s", name, link)
		}
	}
}

func TestRespond_FirstAndLastPage(t *testing.T) {
	first := Page{Limit: 10, Path: "/q", Query: url.Values{}}.Respond(nil, 25)
	if _, ok := first.Links["previous"]; ok {
		t.Error("first page should have no previous link")
	}

	last := Page{Limit: 10, Offset: 20, Path: "/q", Query: url.Values{}}.Respond(nil, 25)
	if last.HasMore {
		t.Error("expected HasMore=false on the last page")
	}
	if _, ok := last.Links["next"]; ok {
		t.Error("last page should have no next link")
	}
	if last.Links["previous"] != "/q?limit=10&offset=10" {
		t.Errorf("previous = %q", last.Links["previous"])
	}
}
