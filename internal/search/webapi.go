package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Sumatoshi-tech/scout/internal/retry"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// Provider returns scored hits for one query. Implementations classify
// their errors with the retry wrappers.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]state.SearchResult, error)
}

// WebProvider queries a JSON search API: POST {query, max_results,
// search_depth} with bearer auth, results scored in [0,1].
type WebProvider struct {
	baseURL string
	apiKey  string
	depth   string
	client  *http.Client
}

// NewWebProvider creates a provider for the configured search endpoint.
func NewWebProvider(baseURL, apiKey, depth string, timeout time.Duration) *WebProvider {
	if depth == "" {
		depth = "advanced"
	}

	return &WebProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		depth:   depth,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements Provider.
func (p *WebProvider) Name() string { return "web" }

type webSearchRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type webSearchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search implements Provider.
func (p *WebProvider) Search(ctx context.Context, query string, maxResults int) ([]state.SearchResult, error) {
	body, err := json.Marshal(webSearchRequest{
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: p.depth,
	})
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("marshal search request: %w", err))
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/search", bytes.NewReader(body))
	if reqErr != nil {
		return nil, retry.Permanent(fmt.Errorf("create search request: %w", reqErr))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, doErr := p.client.Do(req)
	if doErr != nil {
		return nil, retry.Transient(fmt.Errorf("search request: %w", doErr))
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, retry.Transient(fmt.Errorf("read search response: %w", readErr))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, retry.RateLimited(fmt.Errorf("search http 429"))
	case resp.StatusCode >= 500:
		return nil, retry.Transient(fmt.Errorf("search http %d", resp.StatusCode))
	default:
		return nil, retry.Permanent(fmt.Errorf("search http %d: %s", resp.StatusCode, respBody))
	}

	var parsed webSearchResponse

	unmarshalErr := json.Unmarshal(respBody, &parsed)
	if unmarshalErr != nil {
		return nil, retry.Transient(fmt.Errorf("parse search response: %w", unmarshalErr))
	}

	results := make([]state.SearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, state.SearchResult{
			URL:     r.URL,
			Title:   r.Title,
			Snippet: r.Content,
			Score:   r.Score,
		})
	}

	return results, nil
}
