package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiAdapter calls the generateContent REST endpoint.
type GeminiAdapter struct {
	BaseURL string
	Model   string
	APIKey  string
	Config  GenerationConfig
	Client  *http.Client
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		TopP            float64 `json:"topP"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

func (g GeminiAdapter) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(g.APIKey) == "" {
		return "", fmt.Errorf("AI_API_KEY is not set")
	}
	if strings.TrimSpace(g.Model) == "" {
		return "", fmt.Errorf("AI_MODEL is not set")
	}
	base := g.BaseURL
	if base == "" {
		base = defaultGeminiBaseURL
	}
	client := g.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	var payload geminiRequest
	payload.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}}
	payload.GenerationConfig.Temperature = g.Config.Temperature
	payload.GenerationConfig.TopP = g.Config.TopP
	payload.GenerationConfig.MaxOutputTokens = g.Config.MaxOutputTokens

	b, _ := json.Marshal(payload)
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(base, "/"), url.PathEscape(g.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("gemini request timed out")
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", fmt.Errorf("gemini request timed out")
		}
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if resp.StatusCode == http.StatusTooManyRequests {
			return "", RateLimitError{RetryAfter: extractRetryAfter(errBody)}
		}
		return "", fmt.Errorf("gemini http error: %s", resp.Status)
	}

	var res geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", err
	}
	if len(res.Candidates) == 0 {
		return "", fmt.Errorf("empty gemini response")
	}
	var sb strings.Builder
	for _, p := range res.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text (finish reason %q)", res.Candidates[0].FinishReason)
	}
	return sb.String(), nil
}

// extractRetryAfter reads google.rpc.RetryInfo from an error body.
func extractRetryAfter(errBody map[string]any) time.Duration {
	errObj, ok := errBody["error"].(map[string]any)
	if !ok {
		return 0
	}
	details, ok := errObj["details"].([]any)
	if !ok {
		return 0
	}
	for _, d := range details {
		m, ok := d.(map[string]any)
		if !ok {
			continue
		}
		if t, ok := m["@type"].(string); ok && strings.Contains(t, "RetryInfo") {
			if s, ok := m["retryDelay"].(string); ok {
				if dur, err := time.ParseDuration(s); err == nil {
					return dur
				}
			}
		}
	}
	return 0
}
