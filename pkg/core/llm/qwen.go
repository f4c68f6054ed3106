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

const qwenURL = "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation"

type QwenProvider struct {
	APIKey    string
	ModelName string
	BaseURL   string
	Client    *http.Client
}

func (p *QwenProvider) Name() string { return "qwen" }

func (p *QwenProvider) Model() string {
	if p.ModelName == "" {
		return "qwen-max"
	}
	return p.ModelName
}

func (p *QwenProvider) GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error) {
	if p.APIKey == "" {
		return "", eris.Wrap(errs.ErrAuthentication, "QWEN_API_KEY_MISSING: Please set DASHSCOPE_API_KEY or QWEN_API_KEY")
	}

	model := p.Model()
	if val := optionString(options, "model"); val != "" {
		model = val
	}

	// Native DashScope API format
	reqBody := map[string]interface{}{
		"model": model,
		"input": map[string]interface{}{
			"messages": []map[string]string{
				{"role": "system", "content": systemPrompt},
				{"role": "user", "content": prompt},
			},
		},
		"parameters": map[string]interface{}{
			"result_format": "message",
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", eris.Wrap(err, "failed to marshal qwen request")
	}

	url := qwenURL
	if p.BaseURL != "" {
		url = p.BaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", eris.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := httpClient(p.Client).Do(req)
	if err != nil {
		return "", transportError("qwen", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", classifyStatus("qwen", resp.StatusCode, string(bodyBytes))
	}

	var result struct {
		Output struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
			// Some DashScope endpoints return 'text' directly in output
			Text string `json:"text"`
		} `json:"output"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", eris.Wrapf(errs.ErrMalformedResponse, "failed to decode qwen response: %v", err)
	}

	switch result.Code {
	case "":
	case "InvalidApiKey":
		return "", eris.Wrapf(errs.ErrAuthentication, "qwen api error: %s", result.Message)
	case "Throttling", "Throttling.RateQuota":
		return "", eris.Wrapf(errs.ErrRateLimit, "qwen api error: %s", result.Message)
	default:
		return "", eris.Wrapf(errs.ErrExtractionService, "qwen api error: %s - %s", result.Code, result.Message)
	}

	if len(result.Output.Choices) > 0 {
		return result.Output.Choices[0].Message.Content, nil
	}
	if result.Output.Text != "" {
		return result.Output.Text, nil
	}

	return "", eris.Wrap(errs.ErrMalformedResponse, "empty response from qwen api")
}
