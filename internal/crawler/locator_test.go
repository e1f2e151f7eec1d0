package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLocator(t *testing.T, baseURL string) *Locator {
	t.Helper()
	l, err := NewLocator(baseURL, 5*time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestNewLocatorRejectsBadURLs(t *testing.T) {
	tests := []string{
		"",
		"docs.example.com/no-scheme",
		"ftp://docs.example.com",
		"https://",
	}
	for _, raw := range tests {
		if _, err := NewLocator(raw, time.Second, nil); !errors.Is(err, ErrInvalidBaseURL) {
			t.Errorf("NewLocator(%q) error = %v, want ErrInvalidBaseURL", raw, err)
		}
	}
}

func TestDiscoverFromSitemap(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%[1]s/guide</loc></url>
  <url><loc>%[1]s/guide</loc></url>
  <url><loc>%[1]s/api?version=2#section</loc></url>
  <url><loc>https://elsewhere.example.com/other</loc></url>
</urlset>`, srv.URL)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	urls, err := newTestLocator(t, srv.URL).Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	want := []string{srv.URL + "/api", srv.URL + "/guide"}
	if len(urls) != len(want) {
		t.Fatalf("got %v, want %v", urls, want)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("urls[%d] = %q, want %q", i, urls[i], want[i])
		}
	}
}

func TestDiscoverFallsBackToCrawl(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap.xml":
			http.NotFound(w, r)
		case "/":
			fmt.Fprintf(w, `<html><body>
<a href="/install">install</a>
<a href="/install#quick">quick</a>
<a href="https://elsewhere.example.com/away">away</a>
<a href="/logo.png">logo</a>
</body></html>`)
		case "/install":
			fmt.Fprintf(w, `<html><body><a href="/">home</a><a href="/config">config</a></body></html>`)
		default:
			fmt.Fprintf(w, `<html><body>leaf</body></html>`)
		}
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	urls, err := newTestLocator(t, srv.URL).Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	want := map[string]bool{
		srv.URL:              false,
		srv.URL + "/install": false,
		srv.URL + "/config":  false,
	}
	for _, u := range urls {
		if _, ok := want[u]; !ok {
			t.Errorf("unexpected URL discovered: %q", u)
			continue
		}
		want[u] = true
	}
	for u, seen := range want {
		if !seen {
			t.Errorf("URL not discovered: %q", u)
		}
	}
}

func TestDiscoverNoPagesIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := newTestLocator(t, srv.URL).Discover(context.Background()); err == nil {
		t.Fatal("Discover() succeeded against a dead site, want error")
	}
}

func TestNormalizeScopesToBasePath(t *testing.T) {
	l := newTestLocator(t, "https://docs.example.com/en")

	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"https://docs.example.com/en/guide", "https://docs.example.com/en/guide", true},
		{"https://docs.example.com/en/guide/", "https://docs.example.com/en/guide", true},
		{"https://docs.example.com/fr/guide", "", false},
		{"https://docs.example.com/en/logo.svg", "", false},
		{"mailto:team@example.com", "", false},
	}
	for _, tt := range tests {
		got, ok := l.normalize(tt.raw)
		if ok != tt.ok || got != tt.want {
			t.Errorf("normalize(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}
