package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"annualreports/pkg/core/errs"

	"github.com/rotisserie/eris"
)

const deepSeekURL = "https://api.deepseek.com/chat/completions"

type DeepSeekProvider struct {
	APIKey    string
	ModelName string
	// BaseURL overrides the API endpoint (tests).
	BaseURL string
	Client  *http.Client
}

// DeepSeekRequest is the chat completions request body.
type DeepSeekRequest struct {
	Messages       []Message      `json:"messages"`
	Model          string         `json:"model"`
	MaxTokens      int            `json:"max_tokens"`
	ResponseFormat ResponseFormat `json:"response_format"`
	Stream         bool           `json:"stream"`
	Temperature    float64        `json:"temperature"`
}

type Message struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

type DeepSeekResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *DeepSeekProvider) Name() string { return "deepseek" }

func (p *DeepSeekProvider) Model() string {
	if p.ModelName == "" {
		return "deepseek-chat"
	}
	return p.ModelName
}

func (p *DeepSeekProvider) GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error) {
	if p.APIKey == "" {
		return "", eris.Wrap(errs.ErrAuthentication, "DEEPSEEK_API_KEY_MISSING: Please set DEEPSEEK_API_KEY env var")
	}

	model := p.Model()
	if val := optionString(options, "model"); val != "" {
		model = val
	}

	format := "text"
	if val, ok := options["json"].(bool); ok && val {
		format = "json_object"
	}

	reqBody := DeepSeekRequest{
		Messages: []Message{
			{Content: systemPrompt, Role: "system"},
			{Content: prompt, Role: "user"},
		},
		Model:          model,
		MaxTokens:      8192,
		ResponseFormat: ResponseFormat{Type: format},
		Temperature:    0.0,
	}

	jsonBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", eris.Wrap(err, "DEEPSEEK_MARSHAL_ERROR")
	}

	url := deepSeekURL
	if p.BaseURL != "" {
		url = p.BaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBytes))
	if err != nil {
		return "", eris.Wrap(err, "DEEPSEEK_REQ_CREATE_ERROR")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	res, err := httpClient(p.Client).Do(req)
	if err != nil {
		return "", transportError("deepseek", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", transportError("deepseek", err)
	}

	if res.StatusCode != http.StatusOK {
		return "", classifyStatus("deepseek", res.StatusCode, string(body))
	}

	var response DeepSeekResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", eris.Wrapf(errs.ErrMalformedResponse, "DEEPSEEK_UNMARSHAL_ERROR: %v", err)
	}
	if len(response.Choices) == 0 {
		return "", eris.Wrapf(errs.ErrMalformedResponse, "DEEPSEEK_NO_CHOICES: %s", truncate(string(body), 300))
	}

	return response.Choices[0].Message.Content, nil
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}
