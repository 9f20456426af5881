package llm

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

const GeminiBaseURL = "https://generativelanguage.googleapis.com"

// Gemini calls the Generative Language generateContent endpoint.
type Gemini struct {
	upstream Upstream
	client   *http.Client
}

func NewGemini(baseURL, apiKey string, client *http.Client) *Gemini {
	if baseURL == "" {
		baseURL = GeminiBaseURL
	}
	if client == nil {
		client = defaultHTTPClient
	}
	return &Gemini{
		upstream: Upstream{Name: "gemini", BaseURL: baseURL, AuthStyle: AuthGoogAPIKey, APIKey: apiKey},
		client:   client,
	}
}

func (g *Gemini) Name() string { return g.upstream.Name }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) Complete(ctx context.Context, model string, req Request) (string, error) {
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
	}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	var resp geminiResponse
	path := "/v1beta/models/" + url.PathEscape(model) + ":generateContent"
	if err := postJSON(ctx, g.client, g.upstream, path, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}
