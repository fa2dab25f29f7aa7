package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// OpenAICompatAdapter talks to any /chat/completions endpoint.
type OpenAICompatAdapter struct {
	BaseURL string
	Model   string
	APIKey  string
	Config  GenerationConfig
	Client  *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a OpenAICompatAdapter) Generate(ctx context.Context, prompt string) (string, error) {
	switch {
	case strings.TrimSpace(a.BaseURL) == "":
		return "", fmt.Errorf("AI_BASE_URL is not set")
	case strings.TrimSpace(a.Model) == "":
		return "", fmt.Errorf("AI_MODEL is not set")
	}
	client := a.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	body, err := json.Marshal(chatRequest{
		Model:       a.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: a.Config.Temperature,
		TopP:        a.Config.TopP,
		MaxTokens:   a.Config.MaxOutputTokens,
	})
	if err != nil {
		return "", err
	}
	endpoint := strings.TrimRight(a.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(a.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return "", RateLimitError{RetryAfter: time.Duration(secs) * time.Second}
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("completion http %d: undecodable body", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		if out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("completion http %d: %s", resp.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("completion http %d", resp.StatusCode)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("empty completion response")
	}
	return out.Choices[0].Message.Content, nil
}
