package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
)

const (
	defaultSearchCount   = 5
	maxSearchCount       = 10
	searchTimeoutSeconds = 15
	braveSearchEndpoint  = "https://api.search.brave.com/res/v1/web/search"
	duckDuckGoEndpoint   = "https://html.duckduckgo.com/html/"
	searchUserAgent      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	webCacheTTL          = 5 * time.Minute
)

type searchResult struct {
	Title       string
	URL         string
	Description string
}

// searchProvider abstracts a web search backend so WebSearchTool can fall
// through Brave -> DuckDuckGo without the caller knowing which answered.
type searchProvider interface {
	Name() string
	Search(ctx context.Context, query string, count int) ([]searchResult, error)
}

type braveSearchProvider struct {
	apiKey string
	client *http.Client
}

func newBraveSearchProvider(apiKey string) *braveSearchProvider {
	return &braveSearchProvider{apiKey: apiKey, client: &http.Client{Timeout: searchTimeoutSeconds * time.Second}}
}

func (p *braveSearchProvider) Name() string { return "brave" }

func (p *braveSearchProvider) Search(ctx context.Context, query string, count int) ([]searchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", count))

	req, err := http.NewRequestWithContext(ctx, "GET", braveSearchEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave API returned %d: %s", resp.StatusCode, truncateText(string(body), 200))
	}

	var braveResp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &braveResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	results := make([]searchResult, 0, len(braveResp.Web.Results))
	for _, r := range braveResp.Web.Results {
		results = append(results, searchResult{Title: r.Title, URL: r.URL, Description: r.Description})
	}
	return results, nil
}

type duckDuckGoSearchProvider struct {
	client *http.Client
}

func newDuckDuckGoSearchProvider() *duckDuckGoSearchProvider {
	return &duckDuckGoSearchProvider{client: &http.Client{Timeout: searchTimeoutSeconds * time.Second}}
}

func (p *duckDuckGoSearchProvider) Name() string { return "duckduckgo" }

func (p *duckDuckGoSearchProvider) Search(ctx context.Context, query string, count int) ([]searchResult, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, "POST", duckDuckGoEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned %d", resp.StatusCode)
	}

	return extractDDGResults(string(body), count)
}

func extractDDGResults(body string, count int) ([]searchResult, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	var results []searchResult
	walkDDGResults(doc, &results)
	if len(results) > count {
		results = results[:count]
	}
	return results, nil
}

// walkDDGResults descends the DuckDuckGo HTML results page looking for
// `<a class="result__a" href="...">title</a>` / `<a class="result__snippet">`
// pairs, each wrapped in a `div.result`.
func walkDDGResults(n *html.Node, results *[]searchResult) {
	if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") && !hasClass(n, "result--ad") {
		var r searchResult
		findDDGFields(n, &r)
		if r.URL != "" {
			*results = append(*results, r)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkDDGResults(c, results)
	}
}

func findDDGFields(n *html.Node, r *searchResult) {
	if n.Type == html.ElementNode && n.Data == "a" {
		if hasClass(n, "result__a") {
			r.URL = resolveDDGRedirect(attrVal(n, "href"))
			r.Title = strings.TrimSpace(textContent(n))
		} else if hasClass(n, "result__snippet") {
			r.Description = strings.TrimSpace(textContent(n))
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		findDDGFields(c, r)
	}
}

func resolveDDGRedirect(href string) string {
	if !strings.Contains(href, "uddg=") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

// WebSearchTool implements the web_search tool: it tries each configured
// provider in order (Brave before DuckDuckGo, matching the priority the
// respective API keys imply) and returns the first successful result set.
type WebSearchTool struct {
	providers []searchProvider
	maxItems  int
	cache     *webResultCache
}

func NewWebSearchTool(brave, duckduckgo bool, braveAPIKey string, maxItems int) *WebSearchTool {
	if maxItems <= 0 {
		maxItems = defaultSearchCount
	}
	var providers []searchProvider
	if brave && braveAPIKey != "" {
		providers = append(providers, newBraveSearchProvider(braveAPIKey))
	}
	if duckduckgo {
		providers = append(providers, newDuckDuckGoSearchProvider())
	}
	return &WebSearchTool{providers: providers, maxItems: maxItems, cache: newWebResultCache(webCacheTTL)}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Returns titles, URLs, and snippets."
}

func (t *WebSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query string",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Number of results to return (1-10)",
				"minimum":     1.0,
				"maximum":     float64(maxSearchCount),
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) DeclaredDomains() []string {
	return []string{"api.search.brave.com", "html.duckduckgo.com"}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrorResult("query is required")
	}

	if len(t.providers) == 0 {
		return ErrorResult("no search providers configured (enable web.brave or web.duckduckgo)")
	}

	count := t.maxItems
	if c, ok := args["count"].(float64); ok && int(c) >= 1 && int(c) <= maxSearchCount {
		count = int(c)
	}

	cacheKey := fmt.Sprintf("%s:%d", query, count)
	if cached, ok := t.cache.get(cacheKey); ok {
		return SilentResult(cached)
	}

	var lastErr error
	for _, p := range t.providers {
		results, err := p.Search(ctx, query, count)
		if err != nil {
			lastErr = err
			continue
		}
		formatted := formatSearchResults(query, results, p.Name())
		t.cache.set(cacheKey, formatted)
		return SilentResult(formatted)
	}

	return ErrorResult(fmt.Sprintf("all search providers failed: %v", lastErr))
}

func formatSearchResults(query string, results []searchResult, provider string) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for: %s", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for: %s (via %s)\n\n", query, provider)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&b, "   %s\n", r.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// webResultCache is a small TTL cache shared by web_search and web_fetch so
// repeated tool calls within the same conversation turn don't re-hit the
// network for an identical query/URL.
type webResultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value   string
	expires time.Time
}

func newWebResultCache(ttl time.Duration) *webResultCache {
	return &webResultCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *webResultCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		return "", false
	}
	return e.value, true
}

func (c *webResultCache) set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expires: time.Now().Add(c.ttl)}
}
