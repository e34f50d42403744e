package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(target string) Params {
	e := echo.New()
	return FromContext(e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder()))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor("/")
	if p.Limit != DefaultLimit || p.Offset != 0 {
		t.Errorf("expected defaults, got %+v", p)
	}
	if p.Page() != 1 {
		t.Errorf("expected page 1, got %d", p.Page())
	}
}

func TestFromContext_Page(t *testing.T) {
	p := paramsFor("/?page=3&page_size=10")
	if p.Limit != 10 || p.Offset != 20 {
		t.Errorf("expected limit 10 offset 20, got %+v", p)
	}
	if p.Page() != 3 {
		t.Errorf("expected page 3, got %d", p.Page())
	}
}

func TestFromContext_LimitOffset(t *testing.T) {
	p := paramsFor("/?limit=5&offset=15")
	if p.Limit != 5 || p.Offset != 15 {
		t.Errorf("expected limit 5 offset 15, got %+v", p)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	if p := paramsFor("/?page_size=1000"); p.Limit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_NegativeOffset(t *testing.T) {
	if p := paramsFor("/?offset=-4"); p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]int{1, 2}, 25, Params{Limit: 10, Offset: 10})
	if resp.Page != 2 || resp.PageSize != 10 || resp.Total != 25 {
		t.Errorf("unexpected response %+v", resp)
	}
	if !resp.HasMore {
		t.Error("expected has_more on page 2 of 3")
	}
	if NewResponse(nil, 20, Params{Limit: 10, Offset: 10}).HasMore {
		t.Error("expected no more results on last page")
	}
}
