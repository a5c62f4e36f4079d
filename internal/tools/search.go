package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// defaultSearchURL is the Tavily search endpoint.
const defaultSearchURL = "https://api.tavily.com/search"

// SearchInput is the argument object of the web search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the search query"`
}

// SearchConfig configures the web search tool.
type SearchConfig struct {
	APIKey     string
	BaseURL    string // defaults to the Tavily API
	MaxResults int    // defaults to 5
	HTTPClient *http.Client
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// NewSearchTool builds the local web search tool backed by the Tavily API.
// The caller decides whether to include it at all; an empty key never
// reaches this constructor.
func NewSearchTool(cfg SearchConfig) (Tool, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSearchURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}

	schema, err := jsonschema.For[SearchInput](nil)
	if err != nil {
		return Tool{}, fmt.Errorf("building search schema: %w", err)
	}
	params, err := marshalSchema(schema)
	if err != nil {
		return Tool{}, err
	}

	return Tool{
		Name:        "web_search",
		Description: "Search the web for current information. Use for questions about recent events or facts you are unsure about.",
		Parameters:  params,
		Call: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("web_search requires a query")
			}
			return runSearch(ctx, cfg, query)
		},
	}, nil
}

func runSearch(ctx context.Context, cfg SearchConfig, query string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"api_key":     cfg.APIKey,
		"query":       query,
		"max_results": cfg.MaxResults,
	})
	if err != nil {
		return "", fmt.Errorf("encoding search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("search provider returned %d: %s", resp.StatusCode, detail)
	}

	var body struct {
		Results []searchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding search response: %w", err)
	}

	// The model consumes JSON results directly.
	out, err := json.Marshal(body.Results)
	if err != nil {
		return "", fmt.Errorf("encoding search results: %w", err)
	}
	return string(out), nil
}
