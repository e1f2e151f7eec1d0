// Package crawler discovers documentation page URLs and extracts their
// content for chunking.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/docpipe/docpipe/internal/log"
)

var (
	ErrInvalidBaseURL = errors.New("crawler: base URL must be absolute http or https")
	ErrNoPages        = errors.New("crawler: no pages discovered under base URL")
)

// Locator discovers the page URLs of a documentation corpus. It tries the
// site's sitemap first and falls back to a bounded same-domain crawl.
type Locator struct {
	base     *url.URL
	timeout  time.Duration
	maxDepth int
	logger   log.Logger
}

func NewLocator(baseURL string, timeout time.Duration, logger log.Logger) (*Locator, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Locator{base: u, timeout: timeout, maxDepth: 3, logger: logger}, nil
}

// Discover returns the sorted, deduplicated page URLs of the corpus.
// An empty result is an error: ingestion has nothing to do without pages.
func (l *Locator) Discover(ctx context.Context) ([]string, error) {
	urls, err := l.fromSitemap(ctx)
	if err != nil {
		l.logger.Warn("sitemap fetch failed, falling back to crawl", "error", err)
	} else if len(urls) == 0 {
		l.logger.Info("sitemap empty or absent, falling back to crawl")
	} else {
		l.logger.Info("discovered pages from sitemap", "count", len(urls))
		return urls, nil
	}

	urls, err = l.crawl(ctx)
	if err != nil {
		return nil, fmt.Errorf("crawl %s: %w", l.base, err)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPages, l.base)
	}
	l.logger.Info("discovered pages by crawling", "count", len(urls))
	return urls, nil
}

func (l *Locator) fromSitemap(ctx context.Context) ([]string, error) {
	c := l.newCollector(ctx)

	seen := make(map[string]struct{})
	c.OnXML("//urlset/url/loc", func(e *colly.XMLElement) {
		if u, ok := l.normalize(e.Text); ok {
			seen[u] = struct{}{}
		}
	})

	var fetchErr error
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	sitemapURL := l.base.JoinPath("/sitemap.xml").String()
	if err := c.Visit(sitemapURL); err != nil {
		return nil, err
	}
	c.Wait()
	if fetchErr != nil {
		// A missing sitemap is the normal case for many sites; the caller
		// logs and falls back.
		return nil, fetchErr
	}
	return sortedKeys(seen), nil
}

func (l *Locator) crawl(ctx context.Context) ([]string, error) {
	c := l.newCollector(ctx, colly.MaxDepth(l.maxDepth))

	// Only successfully fetched pages count as discovered; links alone do
	// not prove a page exists.
	seen := make(map[string]struct{})
	c.OnResponse(func(r *colly.Response) {
		if u, ok := l.normalize(r.Request.URL.String()); ok {
			seen[u] = struct{}{}
		}
	})
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		u, ok := l.normalize(link)
		if !ok {
			return
		}
		// Revisits and filtered links surface as errors here; they are
		// expected and not failures of the crawl.
		_ = e.Request.Visit(u)
	})

	if err := c.Visit(l.base.String()); err != nil {
		return nil, err
	}
	c.Wait()
	return sortedKeys(seen), nil
}

func (l *Locator) newCollector(ctx context.Context, opts ...colly.CollectorOption) *colly.Collector {
	opts = append(opts,
		colly.AllowedDomains(l.base.Hostname()),
		colly.StdlibContext(ctx),
		colly.UserAgent("docpipe/1.0"),
	)
	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(l.timeout)
	return c
}

// normalize reports the canonical form of a discovered link: same host as the
// base, under its path prefix, fragment and query stripped. Links to obvious
// non-page assets are rejected.
func (l *Locator) normalize(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if !strings.EqualFold(u.Hostname(), l.base.Hostname()) {
		return "", false
	}
	if !strings.HasPrefix(u.Path, l.base.Path) {
		return "", false
	}
	if isAssetPath(u.Path) {
		return "", false
	}
	u.Fragment = ""
	u.RawQuery = ""
	u.Scheme = l.base.Scheme
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String(), true
}

func isAssetPath(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case "", ".html", ".htm":
		return false
	}
	return true
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
