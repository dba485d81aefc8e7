package tools

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func mustParseIP(t *testing.T, s string) net.IP {
	t.Helper()
	ip := net.ParseIP(s)
	if ip == nil {
		t.Fatalf("failed to parse IP %q", s)
	}
	return ip
}

func TestWebFetchTool_HTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><style>.x{}</style></head><body><h1>Hello</h1><script>evil()</script><p>World</p></body></html>`))
	}))
	defer server.Close()

	tool := NewWebFetchTool(0)
	result := tool.Execute(context.Background(), map[string]any{"url": server.URL})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	if !strings.Contains(result.ForLLM, "Hello World") {
		t.Errorf("expected extracted text to contain 'Hello World', got %q", result.ForLLM)
	}
	if strings.Contains(result.ForLLM, "evil()") {
		t.Errorf("expected script contents to be excluded, got %q", result.ForLLM)
	}
}

func TestWebFetchTool_JSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"a":1}`))
	}))
	defer server.Close()

	tool := NewWebFetchTool(0)
	result := tool.Execute(context.Background(), map[string]any{"url": server.URL})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	if !strings.Contains(result.ForLLM, `"a": 1`) {
		t.Errorf("expected pretty-printed JSON, got %q", result.ForLLM)
	}
}

func TestWebFetchTool_Truncation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("a", 500)))
	}))
	defer server.Close()

	tool := NewWebFetchTool(100)
	result := tool.Execute(context.Background(), map[string]any{"url": server.URL})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	if !strings.Contains(result.ForLLM, "Truncated: true") {
		t.Errorf("expected truncation notice, got %q", result.ForLLM)
	}
}

func TestWebFetchTool_MissingURL(t *testing.T) {
	tool := NewWebFetchTool(0)
	result := tool.Execute(context.Background(), map[string]any{})
	if !result.IsError {
		t.Error("expected error for missing url")
	}
}

func TestWebFetchTool_RejectsNonHTTPScheme(t *testing.T) {
	tool := NewWebFetchTool(0)
	result := tool.Execute(context.Background(), map[string]any{"url": "ftp://example.com/file"})
	if !result.IsError {
		t.Error("expected error for non-http(s) scheme")
	}
}

func TestWebFetchTool_RejectsLoopback(t *testing.T) {
	tool := NewWebFetchTool(0)
	result := tool.Execute(context.Background(), map[string]any{"url": "http://127.0.0.1:9999/secret"})
	if !result.IsError {
		t.Error("expected error for loopback target")
	}
	if !strings.Contains(result.ForLLM, "refused") {
		t.Errorf("expected refusal message, got %q", result.ForLLM)
	}
}

func TestWebFetchTool_RejectsLocalhostName(t *testing.T) {
	tool := NewWebFetchTool(0)
	result := tool.Execute(context.Background(), map[string]any{"url": "http://localhost/secret"})
	if !result.IsError {
		t.Error("expected error for localhost target")
	}
}

func TestGuardAgainstSSRF_UnresolvableHost(t *testing.T) {
	// A hostname that fails to resolve should not itself be treated as an
	// SSRF signal; the HTTP client surfaces the DNS failure instead.
	if err := guardAgainstSSRF("this-host-should-not-exist.invalid"); err != nil {
		t.Errorf("expected nil error for unresolvable host, got %v", err)
	}
}

func TestIsDisallowedFetchTarget(t *testing.T) {
	cases := []struct {
		ip       string
		disallow bool
	}{
		{"127.0.0.1", true},
		{"169.254.1.1", true},
		{"10.0.0.5", true},
		{"192.168.1.1", true},
		{"0.0.0.0", true},
		{"8.8.8.8", false},
	}
	for _, c := range cases {
		ip := mustParseIP(t, c.ip)
		if got := isDisallowedFetchTarget(ip); got != c.disallow {
			t.Errorf("isDisallowedFetchTarget(%s) = %v, want %v", c.ip, got, c.disallow)
		}
	}
}
