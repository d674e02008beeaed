package pagination

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextFor(target string) echo.Context {
	e := echo.New()
	return e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "/", DefaultLimit, 0},
		{"custom", "/?limit=50&offset=10", 50, 10},
		{"clamped limit", "/?limit=500", MaxLimit, 0},
		{"negative offset", "/?offset=-5", DefaultLimit, 0},
		{"garbage", "/?limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := FromContext(contextFor(tt.target))
			if p.Limit != tt.wantLimit {
				t.Errorf("expected limit %d, got %d", tt.wantLimit, p.Limit)
			}
			if p.Offset != tt.wantOffset {
				t.Errorf("expected offset %d, got %d", tt.wantOffset, p.Offset)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 50, Params{Limit: 20, Offset: 0})
	if resp.Total != 50 || resp.Limit != 20 || resp.Offset != 0 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if !resp.HasMore {
		t.Error("expected HasMore to be true")
	}

	last := NewResponse([]string{}, 50, Params{Limit: 20, Offset: 40})
	if last.HasMore {
		t.Error("expected HasMore to be false on the last page")
	}
}

func TestParams_Offsets(t *testing.T) {
	p := Params{Limit: 10, Offset: 5}
	if p.NextOffset() != 15 {
		t.Errorf("expected next offset 15, got %d", p.NextOffset())
	}
	if p.PreviousOffset() != 0 {
		t.Errorf("expected previous offset clamped to 0, got %d", p.PreviousOffset())
	}
	if !p.HasPrevious() {
		t.Error("expected HasPrevious at offset 5")
	}
	if (Params{Limit: 10}).HasPrevious() {
		t.Error("expected no previous page at offset 0")
	}
}

func TestParams_Links(t *testing.T) {
	u, _ := url.Parse("/api/v1/appointments?patient_id=p1&limit=10&offset=10")
	p := Params{Limit: 10, Offset: 10}

	links := p.Links(u, 25)
	if links.Self != "/api/v1/appointments?limit=10&offset=10&patient_id=p1" {
		t.Errorf("unexpected self link: %s", links.Self)
	}
	if links.Next != "/api/v1/appointments?limit=10&offset=20&patient_id=p1" {
		t.Errorf("unexpected next link: %s", links.Next)
	}
	if links.Prev != "/api/v1/appointments?limit=10&offset=0&patient_id=p1" {
		t.Errorf("unexpected prev link: %s", links.Prev)
	}

	lastPage := Params{Limit: 10, Offset: 20}.Links(u, 25)
	if lastPage.Next != "" {
		t.Errorf("expected no next link on last page, got %s", lastPage.Next)
	}
}
