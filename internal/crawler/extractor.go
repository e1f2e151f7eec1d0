package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/docpipe/docpipe/internal/chunk"
	"github.com/docpipe/docpipe/internal/log"
)

// maxPageBytes bounds how much of a response body is read. Documentation
// pages past this size are truncated, not rejected.
const maxPageBytes = 10 << 20

// contentSelectors are tried in order; the first non-empty match wins.
// Readability and finally the raw body text back them up.
var contentSelectors = []string{"article", ".markdown", "main"}

// chromeSelectors are stripped before any text extraction.
const chromeSelectors = "script, style, noscript, nav, header, footer, aside"

// FetchError reports a page that answered with a non-success status. It is a
// per-page failure: the caller records it and moves on.
type FetchError struct {
	URL        string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

// Page is one extracted documentation page.
type Page struct {
	URL      string
	Title    string
	Text     string
	Headings []chunk.Heading
}

// Extractor fetches pages and pulls out their main textual content.
type Extractor struct {
	client *http.Client
	logger log.Logger
}

func NewExtractor(timeout time.Duration, logger log.Logger) *Extractor {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Extractor{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Extract fetches pageURL and returns its content. Transport failures and
// non-2xx statuses are returned as errors scoped to this one page.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (*Page, error) {
	body, err := e.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	doc.Find(chromeSelectors).Remove()

	for _, selector := range contentSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		text := normalizeSpace(sel.Text())
		if text == "" {
			continue
		}
		return &Page{
			URL:      pageURL,
			Title:    pageTitle(doc, pageURL),
			Text:     text,
			Headings: collectHeadings(sel),
		}, nil
	}

	if page, ok := e.fromReadability(doc, body, pageURL); ok {
		return page, nil
	}

	// Last resort: whatever text the body holds after chrome removal.
	text := normalizeSpace(doc.Find("body").Text())
	if text == "" {
		return nil, fmt.Errorf("extract %s: no textual content", pageURL)
	}
	e.logger.Debug("content selectors missed, using body text", "url", pageURL)
	return &Page{
		URL:      pageURL,
		Title:    pageTitle(doc, pageURL),
		Text:     text,
		Headings: collectHeadings(doc.Selection),
	}, nil
}

func (e *Extractor) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", "docpipe/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", pageURL, err)
	}
	return body, nil
}

func (e *Extractor) fromReadability(doc *goquery.Document, body []byte, pageURL string) (*Page, bool) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, false
	}
	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err != nil {
		e.logger.Debug("readability extraction failed", "url", pageURL, "error", err)
		return nil, false
	}
	text := normalizeSpace(article.TextContent)
	if text == "" {
		return nil, false
	}

	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = pageTitle(doc, pageURL)
	}
	e.logger.Debug("content selectors missed, using readability", "url", pageURL)
	return &Page{
		URL:      pageURL,
		Title:    title,
		Text:     text,
		Headings: collectHeadings(doc.Selection),
	}, true
}

// collectHeadings returns H1 and H2 headings in document order, whitespace
// normalized so their text matches occurrences in extracted page text.
func collectHeadings(sel *goquery.Selection) []chunk.Heading {
	var headings []chunk.Heading
	sel.Find("h1, h2").Each(func(_ int, h *goquery.Selection) {
		text := normalizeSpace(h.Text())
		if text == "" {
			return
		}
		level := 1
		if goquery.NodeName(h) == "h2" {
			level = 2
		}
		headings = append(headings, chunk.Heading{Level: level, Text: text})
	})
	return headings
}

func pageTitle(doc *goquery.Document, pageURL string) string {
	if t := normalizeSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t := normalizeSpace(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	if u, err := url.Parse(pageURL); err == nil {
		if seg := path.Base(u.Path); seg != "" && seg != "/" && seg != "." {
			return seg
		}
	}
	return pageURL
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
