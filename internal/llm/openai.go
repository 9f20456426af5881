package llm

import (
	"context"
	"net/http"
)

const GroqBaseURL = "https://api.groq.com/openai"

// OpenAICompatible calls an OpenAI-style chat completions endpoint (Groq).
type OpenAICompatible struct {
	upstream    Upstream
	client      *http.Client
	Temperature float64
	MaxTokens   int
}

// NewGroq returns the Groq client with the sampling settings used for
// fallback completions.
func NewGroq(baseURL, apiKey string, client *http.Client) *OpenAICompatible {
	if baseURL == "" {
		baseURL = GroqBaseURL
	}
	if client == nil {
		client = defaultHTTPClient
	}
	return &OpenAICompatible{
		upstream:    Upstream{Name: "groq", BaseURL: baseURL, AuthStyle: AuthBearer, APIKey: apiKey},
		client:      client,
		Temperature: 0.5,
		MaxTokens:   4096,
	}
}

func (o *OpenAICompatible) Name() string { return o.upstream.Name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (o *OpenAICompatible) Complete(ctx context.Context, model string, req Request) (string, error) {
	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: o.Temperature,
		MaxTokens:   o.MaxTokens,
	}
	var resp chatResponse
	if err := postJSON(ctx, o.client, o.upstream, "/v1/chat/completions", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
