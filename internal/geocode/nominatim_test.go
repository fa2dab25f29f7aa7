package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseReverseItemPrefersStructuredAddress(t *testing.T) {
	item := nominatimReverseItem{
		DisplayName: "OXXO, Avenida Constitución, Centro, Monterrey, Nuevo León, México",
		Address: map[string]string{
			"road":         "Avenida Constitución",
			"house_number": "100",
			"suburb":       "Centro",
			"city":         "Monterrey",
		},
	}
	got, err := parseReverseItem(item)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Avenida Constitución 100, Centro, Monterrey" {
		t.Fatalf("unexpected address: %s", got)
	}
}

func TestParseReverseItemFallsBackToDisplayName(t *testing.T) {
	got, err := parseReverseItem(nominatimReverseItem{DisplayName: "Centro, Monterrey, Nuevo León, México"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Centro, Monterrey, Nuevo León" {
		t.Fatalf("unexpected address: %s", got)
	}
	if _, err := parseReverseItem(nominatimReverseItem{Error: "Unable to geocode"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReverseCachesByRoundedCoordinates(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/reverse" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("missing user agent")
		}
		_, _ = w.Write([]byte(`{"display_name":"Calle 5, Apodaca, Nuevo León, México"}`))
	}))
	defer srv.Close()

	g := &NominatimGeocoder{BaseURL: srv.URL, UserAgent: "test-agent"}
	first, err := g.Reverse(context.Background(), 25.68661, -100.31611)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := g.Reverse(context.Background(), 25.68662, -100.31612)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second || calls != 1 {
		t.Fatalf("expected cached lookup, calls=%d", calls)
	}
}

func TestReverseRejectsNullIsland(t *testing.T) {
	g := &NominatimGeocoder{BaseURL: "http://127.0.0.1:0"}
	if _, err := g.Reverse(context.Background(), 0, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
