package hosted

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Payload is one piece of provider output or input.
type Payload struct {
	MIMEType string
	Data     []byte
	Text     string
}

// GenerateRequest is a single multimodal call.
type GenerateRequest struct {
	Model       string
	Prompt      string
	Image       Payload
	Temperature float64
}

// Provider calls a hosted model.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) ([]Payload, error)
}

// Gemini calls Google's Gemini API through the genai SDK.
type Gemini struct {
	client *genai.Client
}

// NewGemini builds a Gemini provider. baseURL is optional.
func NewGemini(ctx context.Context, apiKey, baseURL string) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize genai client: %w", err)
	}
	return &Gemini{client: client}, nil
}

// Name implements Provider.
func (g *Gemini) Name() string { return "gemini" }

// Generate sends the prompt and image and returns every inline blob and text
// part of the first candidate that has content.
func (g *Gemini) Generate(ctx context.Context, req GenerateRequest) ([]Payload, error) {
	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	if len(req.Image.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Image.Data, req.Image.MIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		Temperature:        genai.Ptr(float32(req.Temperature)),
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}
	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	var out []Payload
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				switch {
				case part.InlineData != nil && len(part.InlineData.Data) > 0:
					out = append(out, Payload{MIMEType: part.InlineData.MIMEType, Data: part.InlineData.Data})
				case part.Text != "":
					out = append(out, Payload{MIMEType: "text/plain", Text: part.Text})
				}
			}
			if len(out) > 0 {
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no content generated by %s", req.Model)
	}
	return out, nil
}
