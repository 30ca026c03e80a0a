package agentapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentflow/orchestrator/pkg/model"
)

// codec builds a provider-specific request body/headers/path and parses that
// provider's response shape back into content + token usage. One codec
// instance is stateless and shared across calls.
type codec interface {
	buildPath(endpoint EndpointConfig) string
	buildBody(endpoint EndpointConfig, prompt string, maxTokens int, temperature float64) (interface{}, error)
	applyAuth(req *http.Request, apiKey string)
	parseResponse(body []byte) (content string, usage model.TokenUsage, err error)
}

func codecFor(format Format) (codec, error) {
	switch format {
	case FormatOpenAI:
		return openAICodec{}, nil
	case FormatAnthropic:
		return anthropicCodec{}, nil
	case FormatGoogle:
		return googleCodec{}, nil
	case FormatCustom:
		return customCodec{}, nil
	default:
		return nil, fmt.Errorf("agentapi: unknown format %q", format)
	}
}

// --- OpenAI-style: POST {base}/chat/completions ---

type openAICodec struct{}

func (openAICodec) buildPath(endpoint EndpointConfig) string {
	if endpoint.Path != "" {
		return endpoint.Path
	}
	return "/chat/completions"
}

func (openAICodec) buildBody(endpoint EndpointConfig, prompt string, maxTokens int, temperature float64) (interface{}, error) {
	return map[string]interface{}{
		"model":       endpoint.Model,
		"messages":    []map[string]string{{"role": "user", "content": prompt}},
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}, nil
}

func (openAICodec) applyAuth(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
}

func (openAICodec) parseResponse(body []byte) (string, model.TokenUsage, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", model.TokenUsage{}, fmt.Errorf("decoding openai response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", model.TokenUsage{}, fmt.Errorf("openai response has no choices")
	}
	usage := model.TokenUsage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens}
	return resp.Choices[0].Message.Content, usage, nil
}

// --- Anthropic-style: POST {base}/messages ---

type anthropicCodec struct{}

func (anthropicCodec) buildPath(endpoint EndpointConfig) string {
	if endpoint.Path != "" {
		return endpoint.Path
	}
	return "/messages"
}

func (anthropicCodec) buildBody(endpoint EndpointConfig, prompt string, maxTokens int, _ float64) (interface{}, error) {
	return map[string]interface{}{
		"model":      endpoint.Model,
		"messages":   []map[string]string{{"role": "user", "content": prompt}},
		"max_tokens": maxTokens,
	}, nil
}

func (anthropicCodec) applyAuth(req *http.Request, apiKey string) {
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
}

func (anthropicCodec) parseResponse(body []byte) (string, model.TokenUsage, error) {
	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", model.TokenUsage{}, fmt.Errorf("decoding anthropic response: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", model.TokenUsage{}, fmt.Errorf("anthropic response has no content blocks")
	}
	usage := model.TokenUsage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	return resp.Content[0].Text, usage, nil
}

// --- Google-style: POST {base}/models/{model}:generateContent ---

type googleCodec struct{}

func (googleCodec) buildPath(endpoint EndpointConfig) string {
	if endpoint.Path != "" {
		return endpoint.Path
	}
	return "/models/" + endpoint.Model + ":generateContent"
}

func (googleCodec) buildBody(_ EndpointConfig, prompt string, maxTokens int, temperature float64) (interface{}, error) {
	return map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]interface{}{
			"maxOutputTokens": maxTokens,
			"temperature":     temperature,
		},
	}, nil
}

func (googleCodec) applyAuth(req *http.Request, apiKey string) {
	q := req.URL.Query()
	q.Set("key", apiKey)
	req.URL.RawQuery = q.Encode()
}

func (googleCodec) parseResponse(body []byte) (string, model.TokenUsage, error) {
	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", model.TokenUsage{}, fmt.Errorf("decoding google response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", model.TokenUsage{}, fmt.Errorf("google response has no candidate parts")
	}
	usage := model.TokenUsage{
		PromptTokens:     resp.UsageMetadata.PromptTokenCount,
		CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      resp.UsageMetadata.TotalTokenCount,
	}
	return resp.Candidates[0].Content.Parts[0].Text, usage, nil
}

// --- Custom: {prompt, max_tokens, temperature} -> content||message||text||output ---

type customCodec struct{}

func (customCodec) buildPath(endpoint EndpointConfig) string {
	return endpoint.Path
}

func (customCodec) buildBody(_ EndpointConfig, prompt string, maxTokens int, temperature float64) (interface{}, error) {
	return map[string]interface{}{
		"prompt":      prompt,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}, nil
}

func (customCodec) applyAuth(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
}

func (customCodec) parseResponse(body []byte) (string, model.TokenUsage, error) {
	var resp map[string]interface{}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", model.TokenUsage{}, fmt.Errorf("decoding custom response: %w", err)
	}
	for _, key := range []string{"content", "message", "text", "output"} {
		if v, ok := resp[key].(string); ok && v != "" {
			return v, model.TokenUsage{}, nil
		}
	}
	return "", model.TokenUsage{}, fmt.Errorf("custom response has none of content/message/text/output")
}

// parseRateLimitHeaders extracts the provider's x-ratelimit-* triplet
// (limit/remaining/reset), returning nil if none were present.
func parseRateLimitHeaders(h http.Header) *model.RateLimitInfo {
	limitStr := firstHeader(h, "x-ratelimit-limit-requests", "x-ratelimit-limit-tokens", "x-ratelimit-limit")
	if limitStr == "" {
		return nil
	}
	limit, _ := strconv.Atoi(limitStr)
	remaining, _ := strconv.Atoi(firstHeader(h, "x-ratelimit-remaining-requests", "x-ratelimit-remaining-tokens", "x-ratelimit-remaining"))

	var resetAt time.Time
	if reset := firstHeader(h, "x-ratelimit-reset-requests", "x-ratelimit-reset-tokens", "x-ratelimit-reset"); reset != "" {
		if t, err := time.Parse(time.RFC3339, reset); err == nil {
			resetAt = t
		} else if secs, err := strconv.ParseFloat(strings.TrimSuffix(reset, "s"), 64); err == nil {
			resetAt = time.Now().Add(time.Duration(secs * float64(time.Second)))
		}
	}

	return &model.RateLimitInfo{Limit: limit, Remaining: remaining, ResetAt: resetAt}
}

func firstHeader(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return ""
}
