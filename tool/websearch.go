package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultWebSearchURL = "https://api.search.brave.com/res/v1/web/search"

// WebSearchArgs are the arguments of web_search.
type WebSearchArgs struct {
	Query string `json:"query" jsonschema:"description=Search query"`
}

// WebSearchOptions configures NewWebSearch.
type WebSearchOptions struct {
	APIKey  string
	BaseURL string
	// Count is clamped to 1..20.
	Count   int
	Country string
	Lang    string
	Client  *http.Client
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// NewWebSearch returns a web search tool backed by the Brave Search API.
func NewWebSearch(opts WebSearchOptions) (*Func[WebSearchArgs], error) {
	if opts.APIKey == "" {
		return nil, errors.New("web search requires an api key")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultWebSearchURL
	}
	opts.Count = min(max(opts.Count, 1), 20)
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 15 * time.Second}
	}

	return NewFunc("web_search", "Search the web for current information. Input is a search query.",
		func(ctx context.Context, args WebSearchArgs) (string, error) {
			return braveSearch(ctx, opts, strings.TrimSpace(args.Query))
		}), nil
}

func braveSearch(ctx context.Context, opts WebSearchOptions, query string) (string, error) {
	if query == "" {
		return "", errors.New("query is required")
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(opts.Count))
	if opts.Country != "" {
		params.Set("country", opts.Country)
	}
	if opts.Lang != "" {
		params.Set("search_lang", opts.Lang)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("web search: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", opts.APIKey)

	resp, err := opts.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("web search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("web search: status %d", resp.StatusCode)
	}

	var result braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("web search: decode response: %w", err)
	}
	if len(result.Web.Results) == 0 {
		return "No results found", nil
	}

	var sb strings.Builder
	for i, r := range result.Web.Results {
		fmt.Fprintf(&sb, "%d. %s\nURL: %s\n%s\n\n", i+1, r.Title, r.URL, r.Description)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
