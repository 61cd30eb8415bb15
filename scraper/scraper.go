// Package scraper fetches product pages and writes the document files the
// loader consumes.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	UserAgent      = "Mozilla/5.0 (compatible; RAG-Scraper/1.0)"
	DefaultTimeout = 10 * time.Second
)

type Scraper struct {
	client *http.Client
}

func New(timeout time.Duration) *Scraper {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Scraper{client: &http.Client{Timeout: timeout}}
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// FetchPage returns the body of url.
func (s *Scraper) FetchPage(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}
	return string(body), nil
}

// DiscoverURLs returns the text of every <loc> element of a sitemap, in
// document order.
func (s *Scraper) DiscoverURLs(ctx context.Context, sitemapURL string) ([]string, error) {
	body, err := s.FetchPage(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	return parseSitemap(strings.NewReader(body))
}

func parseSitemap(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	var (
		urls  []string
		inLoc bool
		text  strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse sitemap: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "loc" {
				inLoc = true
				text.Reset()
			}
		case xml.CharData:
			if inLoc {
				text.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == "loc" && inLoc {
				inLoc = false
				if u := strings.TrimSpace(text.String()); u != "" {
					urls = append(urls, u)
				}
			}
		}
	}
	return urls, nil
}

// WriteJSON writes v as indented UTF-8 JSON. Non-ASCII and HTML characters are
// written as is.
func WriteJSON(v any, path string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Product is the document format written for the loader.
type Product struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Price  float64  `json:"price"`
	Chunks []string `json:"chunks"`
}
