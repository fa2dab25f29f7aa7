package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAICompatSendsSettings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing bearer key")
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "m" || req.MaxTokens != 1000 || len(req.Messages) != 1 {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	a := OpenAICompatAdapter{BaseURL: srv.URL + "/v1/", Model: "m", APIKey: "k", Config: DefaultGenerationConfig()}
	out, err := a.Generate(context.Background(), "hola")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != `{"ok":true}` {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestOpenAICompatRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := OpenAICompatAdapter{BaseURL: srv.URL, Model: "m"}
	_, err := a.Generate(context.Background(), "hola")
	var rl RateLimitError
	if !errors.As(err, &rl) || rl.RetryAfter != 7*time.Second {
		t.Fatalf("expected a 7s rate limit error, got %v", err)
	}
}
