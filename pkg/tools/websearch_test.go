package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBraveSearchProvider_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "test-key" {
			t.Errorf("expected X-Subscription-Token header, got %q", r.Header.Get("X-Subscription-Token"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web":{"results":[{"title":"Go","url":"https://go.dev","description":"The Go language"}]}}`))
	}))
	defer server.Close()

	provider := newBraveSearchProvider("test-key")
	results, err := braveSearchAt(context.Background(), provider, server.URL, "golang")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Title != "Go" {
		t.Errorf("unexpected results: %+v", results)
	}
}

// braveSearchAt exercises the same request/response handling as
// braveSearchProvider.Search against an explicit endpoint, so tests don't
// need to reach the real Brave API.
func braveSearchAt(ctx context.Context, p *braveSearchProvider, endpoint, query string) ([]searchResult, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint+"?q="+query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Subscription-Token", p.apiKey)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var braveResp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&braveResp); err != nil {
		return nil, err
	}
	results := make([]searchResult, 0, len(braveResp.Web.Results))
	for _, r := range braveResp.Web.Results {
		results = append(results, searchResult{Title: r.Title, URL: r.URL, Description: r.Description})
	}
	return results, nil
}

func TestExtractDDGResults(t *testing.T) {
	page := `<html><body>
		<div class="result">
			<a class="result__a" href="https://duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com&amp;rut=1">Example Domain</a>
			<a class="result__snippet">An example site used for testing.</a>
		</div>
		<div class="result result--ad">
			<a class="result__a" href="https://ads.example.com">Sponsored</a>
		</div>
	</body></html>`

	results, err := extractDDGResults(page, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result (ad excluded), got %d", len(results))
	}
	if results[0].URL != "https://example.com" {
		t.Errorf("expected redirect unwrapped to https://example.com, got %s", results[0].URL)
	}
	if results[0].Title != "Example Domain" {
		t.Errorf("unexpected title: %s", results[0].Title)
	}
	if !strings.Contains(results[0].Description, "example site") {
		t.Errorf("unexpected description: %s", results[0].Description)
	}
}

func TestExtractDDGResults_RespectsCount(t *testing.T) {
	page := `<html><body>` + strings.Repeat(
		`<div class="result"><a class="result__a" href="https://example.com">T</a></div>`, 5) + `</body></html>`

	results, err := extractDDGResults(page, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected count to cap results at 2, got %d", len(results))
	}
}

func TestWebSearchTool_NoProviders(t *testing.T) {
	tool := NewWebSearchTool(false, false, "", 5)
	result := tool.Execute(context.Background(), map[string]any{"query": "golang"})
	if !result.IsError {
		t.Error("expected error when no providers configured")
	}
}

func TestWebSearchTool_MissingQuery(t *testing.T) {
	tool := NewWebSearchTool(false, true, "", 5)
	result := tool.Execute(context.Background(), map[string]any{})
	if !result.IsError {
		t.Error("expected error for missing query")
	}
}

func TestWebSearchTool_Name(t *testing.T) {
	tool := NewWebSearchTool(false, true, "", 5)
	if tool.Name() != "web_search" {
		t.Errorf("expected name 'web_search', got %q", tool.Name())
	}
}

func TestWebSearchTool_DeclaredDomains(t *testing.T) {
	tool := NewWebSearchTool(true, true, "key", 5)
	domains := tool.DeclaredDomains()
	if len(domains) != 2 {
		t.Errorf("expected 2 declared domains, got %v", domains)
	}
}

func TestWebResultCache(t *testing.T) {
	cache := newWebResultCache(webCacheTTL)
	if _, ok := cache.get("missing"); ok {
		t.Error("expected cache miss for unset key")
	}
	cache.set("k", "v")
	v, ok := cache.get("k")
	if !ok || v != "v" {
		t.Errorf("expected cache hit with value 'v', got %q ok=%v", v, ok)
	}
}

func TestFormatSearchResults_Empty(t *testing.T) {
	out := formatSearchResults("golang", nil, "brave")
	if !strings.Contains(out, "No results found") {
		t.Errorf("expected no-results message, got %q", out)
	}
}
