package builtin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const fixtureHTML = `<html>
<head><title>Test Page</title><script>evil()</script></head>
<body>
<nav>skip this</nav>
<h1>Welcome</h1>
<p>Some <strong>bold</strong> text with a <a href="https://example.com/doc">link</a>.</p>
<ul><li>first</li><li>second</li></ul>
<pre>code block</pre>
</body>
</html>`

func TestWebFetchTool_Execute_ConvertsHTML(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(fixtureHTML))
	}))
	defer srv.Close()

	result, err := executeWebFetch(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("executeWebFetch error: %v", err)
	}

	for _, want := range []string{"# Test Page", "# Welcome", "**bold**", "[link](https://example.com/doc)", "- first", "```"} {
		if !strings.Contains(result, want) {
			t.Errorf("missing %q in:\n%s", want, result)
		}
	}
	for _, banned := range []string{"evil()", "skip this"} {
		if strings.Contains(result, banned) {
			t.Errorf("should have stripped %q:\n%s", banned, result)
		}
	}
}

func TestWebFetchTool_Execute_LinksExcluded(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(fixtureHTML))
	}))
	defer srv.Close()

	result, err := executeWebFetch(context.Background(), map[string]any{
		"url":           srv.URL,
		"include_links": false,
	})
	if err != nil {
		t.Fatalf("executeWebFetch error: %v", err)
	}
	if strings.Contains(result, "](https://example.com/doc)") {
		t.Errorf("links should be omitted:\n%s", result)
	}
	if !strings.Contains(result, "link") {
		t.Errorf("link text should survive:\n%s", result)
	}
}

func TestWebFetchTool_Execute_PlainTextPassthrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("raw text body"))
	}))
	defer srv.Close()

	result, err := executeWebFetch(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("executeWebFetch error: %v", err)
	}
	if result != "raw text body" {
		t.Errorf("plain text should pass through untouched: %q", result)
	}
}

func TestWebFetchTool_Execute_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := executeWebFetch(context.Background(), map[string]any{"url": srv.URL})
	if err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("expected HTTP 404 error, got %v", err)
	}
}

func TestWebFetchTool_Execute_Truncation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("x", 500)))
	}))
	defer srv.Close()

	result, err := executeWebFetch(context.Background(), map[string]any{
		"url":        srv.URL,
		"max_length": float64(100),
	})
	if err != nil {
		t.Fatalf("executeWebFetch error: %v", err)
	}
	if !strings.HasSuffix(result, "[...truncated...]") {
		t.Errorf("expected truncation marker: %q", result)
	}
	if len(result) > 150 {
		t.Errorf("truncation did not shrink the body: %d chars", len(result))
	}
}

func TestWebFetchTool_Execute_MissingURL(t *testing.T) {
	t.Parallel()

	if _, err := executeWebFetch(context.Background(), map[string]any{}); err == nil {
		t.Error("expected error for missing url")
	}
}
