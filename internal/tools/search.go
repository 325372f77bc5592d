package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/jsonschema-go/jsonschema"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 10
)

// searchResult is one entry in the search tool output.
type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Search returns the web search tool descriptor backed by a SearXNG
// instance at baseURL (JSON API).
func Search(client *http.Client, baseURL string) (*Descriptor, error) {
	schema, err := jsonschema.For[SearchInput](nil)
	if err != nil {
		return nil, fmt.Errorf("search schema: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		return nil, fmt.Errorf("search: base URL is required")
	}

	return &Descriptor{
		Name:        "search",
		Description: "Searches the web and returns the top results with title, URL and snippet.",
		Schema:      schema,
		Enabled:     true,
		Options:     map[string]any{"base_url": baseURL},
		Handler: func(ctx context.Context, input map[string]any) (any, error) {
			query, _ := input["query"].(string)
			if query == "" {
				return nil, fmt.Errorf("query is required")
			}

			limit := defaultSearchLimit
			// JSON numbers arrive as float64.
			if raw, ok := input["limit"].(float64); ok && raw >= 1 {
				limit = min(int(raw), maxSearchLimit)
			}

			u := fmt.Sprintf("%s/search?q=%s&format=json", baseURL, url.QueryEscape(query))

			var payload struct {
				Results []struct {
					Title   string `json:"title"`
					URL     string `json:"url"`
					Content string `json:"content"`
				} `json:"results"`
			}
			if err := getJSON(ctx, client, u, &payload); err != nil {
				return nil, fmt.Errorf("search %q: %w", query, err)
			}

			results := make([]searchResult, 0, limit)
			for _, r := range payload.Results {
				if len(results) == limit {
					break
				}
				results = append(results, searchResult{
					Title:   r.Title,
					URL:     r.URL,
					Snippet: r.Content,
				})
			}
			return map[string]any{"query": query, "results": results}, nil
		},
	}, nil
}
