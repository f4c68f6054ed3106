package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"annualreports/pkg/core/errs"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider implements the Provider interface for Google's Gemini models.
type GeminiProvider struct {
	APIKey    string
	ModelName string // e.g. "gemini-2.0-flash"

	mu     sync.Mutex
	client *genai.Client
}

// Ensure interface compliance
var _ Provider = (*GeminiProvider)(nil)

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Model() string {
	if p.ModelName == "" {
		return defaultGeminiModel
	}
	return p.ModelName
}

// GenerateResponse sends a generateContent request to the Gemini API using the official GenAI SDK.
func (p *GeminiProvider) GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return "", err
	}

	model := p.Model()
	if val := optionString(options, "model"); val != "" {
		model = val
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0.1)),
	}
	if val, ok := options["json"].(bool); ok && val {
		config.ResponseMIMEType = "application/json"
	}
	if systemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}

	result, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), config)
	if err != nil {
		return "", classifyGeminiError(err)
	}

	text := result.Text()
	if text == "" {
		return "", eris.Wrap(errs.ErrMalformedResponse, "gemini returned no text")
	}
	return text, nil
}

func (p *GeminiProvider) getClient(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	if p.APIKey == "" {
		return nil, eris.Wrap(errs.ErrAuthentication, "GEMINI_API_KEY not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to create GenAI client")
	}
	p.client = client
	return client, nil
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return eris.Wrapf(errs.ErrAuthentication, "gemini: %s", apiErr.Message)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED":
			return eris.Wrapf(errs.ErrRateLimit, "gemini: %s", apiErr.Message)
		case apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Message, "API key not valid"):
			return eris.Wrapf(errs.ErrAuthentication, "gemini: %s", apiErr.Message)
		}
		return eris.Wrapf(errs.ErrExtractionService, "gemini status=%d: %s", apiErr.Code, apiErr.Message)
	}
	return transportError("gemini", err)
}
