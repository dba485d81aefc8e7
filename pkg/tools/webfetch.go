package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	defaultFetchMaxChars = 20000
	maxFetchRedirects    = 3
	fetchTimeoutSeconds  = 20
)

// WebFetchTool retrieves a URL and extracts readable text from it, guarding
// against requests aimed at the host's own network (SSRF).
type WebFetchTool struct {
	maxChars int
	cache    *webResultCache
}

func NewWebFetchTool(maxChars int) *WebFetchTool {
	if maxChars <= 0 {
		maxChars = defaultFetchMaxChars
	}
	return &WebFetchTool{maxChars: maxChars, cache: newWebResultCache(webCacheTTL)}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL and extract its readable text content. Supports HTML, JSON, and plain text."
}

func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch",
			},
			"max_chars": map[string]any{
				"type":        "integer",
				"description": "Maximum characters to return (truncates when exceeded)",
				"minimum":     100.0,
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	rawURL, _ := args["url"].(string)
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ErrorResult("url is required")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid url: %v", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrorResult("only http and https URLs are supported")
	}
	if parsed.Host == "" {
		return ErrorResult("missing hostname in url")
	}

	if err := guardAgainstSSRF(parsed.Hostname()); err != nil {
		return ErrorResult(fmt.Sprintf("refused: %v", err))
	}

	maxChars := t.maxChars
	if mc, ok := args["max_chars"].(float64); ok && int(mc) >= 100 {
		maxChars = int(mc)
	}

	cacheKey := fmt.Sprintf("%s:%d", rawURL, maxChars)
	if cached, ok := t.cache.get(cacheKey); ok {
		return SilentResult(cached)
	}

	result, err := t.fetch(ctx, rawURL, maxChars)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch failed: %v", err))
	}

	t.cache.set(cacheKey, result)
	return SilentResult(result)
}

func (t *WebFetchTool) fetch(ctx context.Context, rawURL string, maxChars int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", searchUserAgent)
	req.Header.Set("Accept", "text/html,application/json,text/plain;q=0.9,*/*;q=0.8")

	redirects := 0
	client := &http.Client{
		Timeout: fetchTimeoutSeconds * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			redirects++
			if redirects > maxFetchRedirects {
				return fmt.Errorf("stopped after %d redirects", maxFetchRedirects)
			}
			return guardAgainstSSRF(req.URL.Hostname())
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, int64(maxChars*4))
	body, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	var text, extractor string
	switch {
	case strings.Contains(contentType, "application/json"):
		text, extractor = formatJSONForDisplay(body)
	case strings.Contains(contentType, "text/html"), strings.Contains(contentType, "application/xhtml"):
		text, extractor = htmlToText(string(body)), "html-to-text"
	default:
		text, extractor = string(body), "raw"
	}

	truncated := false
	if len(text) > maxChars {
		text = text[:maxChars]
		truncated = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", resp.Request.URL.String())
	fmt.Fprintf(&b, "Status: %d\n", resp.StatusCode)
	fmt.Fprintf(&b, "Extractor: %s\n", extractor)
	if truncated {
		fmt.Fprintf(&b, "Truncated: true (limit: %d chars)\n", maxChars)
	}
	b.WriteString("\n")
	b.WriteString(text)
	return b.String(), nil
}

func formatJSONForDisplay(body []byte) (string, string) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body), "raw"
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(body), "raw"
	}
	return string(pretty), "json"
}

func htmlToText(body string) string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return body
	}
	var b strings.Builder
	collectVisibleText(doc, &b)
	return strings.Join(strings.Fields(b.String()), " ")
}

func collectVisibleText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
		return
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteString(" ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectVisibleText(c, b)
	}
}

// guardAgainstSSRF rejects hostnames that resolve to loopback, link-local,
// or private address space, so web_fetch cannot be used to reach internal
// services the host can see but the public internet cannot.
func guardAgainstSSRF(host string) error {
	if host == "" {
		return fmt.Errorf("empty host")
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("refusing to fetch localhost")
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// Let the HTTP client surface the real DNS error; resolution
		// failures aren't themselves an SSRF signal.
		return nil
	}
	for _, ip := range ips {
		if isDisallowedFetchTarget(ip) {
			return fmt.Errorf("%s resolves to a non-routable address", host)
		}
	}
	return nil
}

func isDisallowedFetchTarget(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified()
}
