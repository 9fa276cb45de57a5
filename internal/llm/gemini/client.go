// Package gemini implements triage.Provider on the Google Gemini API.
package gemini

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/genai"

	"github.com/linnemanlabs/sift/internal/triage"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

// Client implements the Provider interface for the Gemini API.
type Client struct {
	client *genai.Client
	model  string
}

// Options configures New. BaseURL overrides the API endpoint.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
}

// New creates a Gemini API client.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Client{client: client, model: opts.Model}, nil
}

// Model reports the configured model name.
func (c *Client) Model() string { return c.model }

// Send makes one generateContent call.
func (c *Client) Send(ctx context.Context, req *triage.LLMRequest) (*triage.LLMResponse, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, toContents(req.Messages), &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens), //nolint:gosec // bounded by triage.ResponseTokens
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return fromResponse(resp, c.model), nil
}

func toContents(msgs []triage.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.Role(genai.RoleUser)
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}

func fromResponse(resp *genai.GenerateContentResponse, model string) *triage.LLMResponse {
	out := &triage.LLMResponse{Text: resp.Text(), Model: resp.ModelVersion}
	if out.Model == "" {
		out.Model = model
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = triage.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
		}
	}
	return out
}
