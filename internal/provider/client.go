package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rfalcao/conceptminer/internal/dispatch"
	"github.com/rfalcao/conceptminer/internal/domain"
)

const extractionInstructions = `Extract the knowledge concepts from the segment below.
Respond with a JSON array of objects with fields: name, type, definition, confidence (0..1).
Respond with JSON only, no prose.`

type HTTPClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	// Models maps each paid tier to the model identifier sent upstream.
	Models map[domain.Tier]string
	// CostPerCall is the accounting price charged per tier call when the
	// upstream response carries no usage data.
	CostPerCall map[domain.Tier]float64
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
// It is the concrete reasoning-service collaborator behind the
// dispatcher's Provider boundary.
type HTTPClient struct {
	config HTTPClientConfig
}

func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 2
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.Models == nil {
		config.Models = map[domain.Tier]string{
			domain.TierSmall: "gpt-4.1-mini",
			domain.TierBig:   "gpt-4.1",
		}
	}
	if config.CostPerCall == nil {
		config.CostPerCall = map[domain.Tier]float64{
			domain.TierSmall: 0.002,
			domain.TierBig:   0.03,
		}
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	config.APIKey = strings.TrimSpace(config.APIKey)
	return &HTTPClient{config: config}
}

func (c *HTTPClient) Available() bool {
	return c.config.APIKey != ""
}

func (c *HTTPClient) Call(ctx context.Context, tier domain.Tier, payload []byte) (dispatch.ProviderResult, error) {
	model, ok := c.config.Models[tier]
	if !ok {
		return dispatch.ProviderResult{}, &dispatch.Error{
			Code: dispatch.CodeMalformedRequest, Tier: tier, Message: "no model configured for tier",
		}
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return dispatch.ProviderResult{}, &dispatch.Error{
			Code: dispatch.CodeMalformedRequest, Tier: tier, Message: "empty payload",
		}
	}

	request := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": extractionInstructions},
			{"role": "user", "content": string(payload)},
		},
		"temperature": 0.1,
	}
	encoded, err := json.Marshal(request)
	if err != nil {
		return dispatch.ProviderResult{}, &dispatch.Error{
			Code: dispatch.CodeMalformedRequest, Tier: tier, Message: "marshal request", Err: err,
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		result, callErr := c.post(ctx, tier, encoded)
		if callErr == nil {
			return result, nil
		}
		lastErr = callErr

		if dispatch.CodeOf(callErr) != dispatch.CodeProviderError || attempt == c.config.MaxRetries {
			break
		}

		backoff := time.Duration(350*(attempt+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return dispatch.ProviderResult{}, &dispatch.Error{
				Code: dispatch.CodeTimeout, Tier: tier, Message: "retry interrupted", Err: ctx.Err(),
			}
		case <-time.After(backoff):
		}
	}
	return dispatch.ProviderResult{}, lastErr
}

func (c *HTTPClient) post(ctx context.Context, tier domain.Tier, body []byte) (dispatch.ProviderResult, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		c.config.BaseURL+"/chat/completions",
		bytes.NewReader(body),
	)
	if err != nil {
		return dispatch.ProviderResult{}, &dispatch.Error{
			Code: dispatch.CodeMalformedRequest, Tier: tier, Message: "create request", Err: err,
		}
	}
	httpRequest.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")

	started := time.Now()
	httpResponse, err := c.config.HTTPClient.Do(httpRequest)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return dispatch.ProviderResult{}, &dispatch.Error{
				Code: dispatch.CodeTimeout, Tier: tier, Message: "provider timeout", Err: err,
			}
		}
		return dispatch.ProviderResult{}, &dispatch.Error{
			Code: dispatch.CodeProviderError, Tier: tier, Message: "transport error", Err: err,
		}
	}
	defer httpResponse.Body.Close()

	responseBody, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return dispatch.ProviderResult{}, &dispatch.Error{
			Code: dispatch.CodeProviderError, Tier: tier, Message: "read response", Err: err,
		}
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		message := strings.TrimSpace(string(responseBody))
		if len(message) > 700 {
			message = message[:700]
		}
		code := dispatch.CodeProviderError
		if httpResponse.StatusCode == http.StatusBadRequest ||
			httpResponse.StatusCode == http.StatusUnprocessableEntity {
			code = dispatch.CodeMalformedRequest
		}
		return dispatch.ProviderResult{}, &dispatch.Error{
			Code: code, Tier: tier,
			Message: fmt.Sprintf("status %d: %s", httpResponse.StatusCode, message),
		}
	}

	var raw chatCompletionsResponse
	if err := json.Unmarshal(responseBody, &raw); err != nil {
		return dispatch.ProviderResult{}, &dispatch.Error{
			Code: dispatch.CodeProviderError, Tier: tier, Message: "decode response", Err: err,
		}
	}

	text := raw.text()
	if text == "" {
		return dispatch.ProviderResult{}, &dispatch.Error{
			Code: dispatch.CodeProviderError, Tier: tier, Message: "response without text output",
		}
	}

	return dispatch.ProviderResult{
		Output:  []byte(text),
		Cost:    c.cost(tier, raw.Usage.TotalTokens),
		Latency: time.Since(started),
	}, nil
}

func (c *HTTPClient) cost(tier domain.Tier, totalTokens int) float64 {
	base := c.config.CostPerCall[tier]
	if totalTokens <= 0 {
		return base
	}
	return base * float64(totalTokens) / 1000.0
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (r chatCompletionsResponse) text() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Choices[0].Message.Content)
}
