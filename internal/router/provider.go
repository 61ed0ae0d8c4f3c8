package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/scout/internal/retry"
)

// Provider executes one model call against one concrete model.
type Provider interface {
	// Name is the provider label used for cost attribution, e.g. "anthropic".
	Name() string
	// Model is the full model id, e.g. "anthropic/claude-sonnet-4-5".
	Model() string
	// Complete performs the call. Errors must be classified with the retry
	// wrappers so the router can tell transient from terminal.
	Complete(ctx context.Context, req Request) (Result, error)
}

// normalizeBaseURL strips trailing slashes and a "/chat/completions" suffix
// so the path is never doubled when the client appends it.
func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")

	return strings.TrimSuffix(s, "/chat/completions")
}

// ProviderName derives the provider label from a model id of the
// "provider/model" form. Ids without a slash are their own label.
func ProviderName(model string) string {
	if i := strings.IndexByte(model, '/'); i > 0 {
		return model[:i]
	}

	return model
}

// HTTPProvider talks to an OpenAI-compatible chat completions endpoint.
type HTTPProvider struct {
	name    string
	model   string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider creates a provider for one model behind an
// OpenAI-compatible endpoint. The timeout bounds a single attempt.
func NewHTTPProvider(model, baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:    ProviderName(model),
		model:   model,
		baseURL: normalizeBaseURL(baseURL),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements Provider.
func (p *HTTPProvider) Name() string { return p.name }

// Model implements Provider.
func (p *HTTPProvider) Model() string { return p.model }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage chatUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete implements Provider over the chat completions wire format.
func (p *HTTPProvider) Complete(ctx context.Context, req Request) (Result, error) {
	payload := chatRequest{
		Model:       p.model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, retry.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if reqErr != nil {
		return Result{}, retry.Permanent(fmt.Errorf("create request: %w", reqErr))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	started := time.Now()

	resp, doErr := p.client.Do(httpReq)
	if doErr != nil {
		// Network and timeout failures are worth another attempt.
		return Result{}, retry.Transient(fmt.Errorf("http request: %w", doErr))
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return Result{}, retry.Transient(fmt.Errorf("read response: %w", readErr))
	}

	classifyErr := classifyStatus(resp.StatusCode, respBody)
	if classifyErr != nil {
		return Result{}, classifyErr
	}

	var chatResp chatResponse

	unmarshalErr := json.Unmarshal(respBody, &chatResp)
	if unmarshalErr != nil {
		return Result{}, retry.Transient(fmt.Errorf("unmarshal response: %w", unmarshalErr))
	}

	if chatResp.Error != nil {
		return Result{}, retry.Permanent(fmt.Errorf("api error: %s", chatResp.Error.Message))
	}

	if len(chatResp.Choices) == 0 {
		return Result{}, retry.Permanent(fmt.Errorf("no choices in response"))
	}

	return Result{
		Text:         chatResp.Choices[0].Message.Content,
		InputTokens:  chatResp.Usage.PromptTokens,
		OutputTokens: chatResp.Usage.CompletionTokens,
		Provider:     p.name,
		Model:        p.model,
		LatencyMS:    time.Since(started).Milliseconds(),
	}, nil
}

// classifyStatus maps HTTP status codes onto the retry taxonomy: 429 rate
// limited, 5xx transient, remaining non-2xx permanent.
func classifyStatus(status int, body []byte) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		return retry.RateLimited(fmt.Errorf("http 429: %s", truncate(body, 200)))
	case status >= 500:
		return retry.Transient(fmt.Errorf("http %d: %s", status, truncate(body, 200)))
	default:
		return retry.Permanent(fmt.Errorf("http %d: %s", status, truncate(body, 200)))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}

	return string(b[:n]) + "..."
}
