// Package llm wraps the hosted language-model services used as the extraction service.
package llm

import (
	"context"
	"net/http"
	"strings"

	"annualreports/pkg/core/errs"

	"github.com/rotisserie/eris"
)

// Provider is the interface for all LLM providers.
type Provider interface {
	GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error)
	// Name is the provider identifier recorded as ai_provider.
	Name() string
	// Model is the model identifier recorded as model_used.
	Model() string
}

// Keys carries provider credentials.
type Keys struct {
	Gemini   string
	DeepSeek string
	Qwen     string
}

// New returns the provider registered under name. An empty model selects the
// provider default.
func New(name, model string, keys Keys) (Provider, error) {
	switch strings.ToLower(name) {
	case "gemini", "":
		return &GeminiProvider{APIKey: keys.Gemini, ModelName: model}, nil
	case "deepseek":
		return &DeepSeekProvider{APIKey: keys.DeepSeek, ModelName: model}, nil
	case "qwen":
		return &QwenProvider{APIKey: keys.Qwen, ModelName: model}, nil
	}
	return nil, eris.Errorf("provider %s not found", name)
}

// classifyStatus maps a non-200 HTTP status onto the extraction error taxonomy.
func classifyStatus(provider string, status int, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return eris.Wrapf(errs.ErrAuthentication, "%s status=%d: %s", provider, status, truncate(body, 300))
	case status == http.StatusTooManyRequests:
		return eris.Wrapf(errs.ErrRateLimit, "%s status=%d: %s", provider, status, truncate(body, 300))
	}
	return eris.Wrapf(errs.ErrExtractionService, "%s status=%d: %s", provider, status, truncate(body, 300))
}

// transportError classifies a failed round trip (timeouts, resets) as a per-call failure.
func transportError(provider string, err error) error {
	return eris.Wrapf(errs.ErrExtractionService, "%s api call failed: %v", provider, err)
}

func optionString(options map[string]interface{}, key string) string {
	if val, ok := options[key].(string); ok {
		return val
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
