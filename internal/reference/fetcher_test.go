package reference

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchExtractsVisibleText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Ignored</title><script>var x = 1;</script></head>
<body><nav>Menu</nav><h1>Backend Engineer</h1><p>Build   services in Go.</p>
<ul><li>Kubernetes</li><li>PostgreSQL</li></ul></body></html>`))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), Config{}, nil)
	text, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	for _, want := range []string{"Backend Engineer", "Build services in Go.", "- Kubernetes"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in %q", want, text)
		}
	}
	for _, unwanted := range []string{"var x", "Menu", "Ignored"} {
		if strings.Contains(text, unwanted) {
			t.Fatalf("did not expect %q in %q", unwanted, text)
		}
	}
}

func TestFetchTruncatesToMaxChars(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("word ", 1000)))
	}))
	defer srv.Close()

	text, err := NewFetcher(srv.Client(), Config{MaxChars: 50}, nil).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len([]rune(text)) != 50 {
		t.Fatalf("expected 50 runes, got %d", len([]rune(text)))
	}
}

func TestFetchRejectsBadInput(t *testing.T) {
	t.Parallel()

	f := NewFetcher(nil, Config{}, nil)
	if _, err := f.Fetch(context.Background(), "file:///etc/passwd"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if _, err := NewFetcher(srv.Client(), Config{}, nil).Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error on 404")
	}
}
