package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithQuery(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"?limit=5&offset=10", 5, 10},
		{"?limit=500", MaxLimit, 0},
		{"?limit=-1&offset=-3", DefaultLimit, 0},
		{"?limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		p := FromContext(contextWithQuery(tt.query))
		if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
			t.Errorf("%q: got limit=%d offset=%d, want %d/%d", tt.query, p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	r := Page(items, Params{Limit: 2, Offset: 2})
	got := r.Data.([]int)
	if len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Errorf("unexpected window %v", got)
	}
	if r.Total != 5 || !r.HasMore {
		t.Errorf("expected total 5 with more, got %d %v", r.Total, r.HasMore)
	}

	r = Page(items, Params{Limit: 10, Offset: 4})
	if got := r.Data.([]int); len(got) != 1 || r.HasMore {
		t.Errorf("last page: got %v has_more=%v", got, r.HasMore)
	}

	r = Page(items, Params{Limit: 10, Offset: 50})
	if got := r.Data.([]int); got == nil || len(got) != 0 {
		t.Errorf("past the end: expected empty non-nil slice, got %#v", got)
	}

	var none []string
	if got := Page(none, Params{Limit: 10}).Data.([]string); got == nil {
		t.Error("expected non-nil data for an empty list")
	}
}
