// Package marketsearch provides the web-search capability used to gather
// current market prices for a material.
//
// It queries the DuckDuckGo HTML endpoint and parses the result page. Search
// is best-effort: callers are expected to treat any error as an empty result
// set and continue without market data.
package marketsearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Result is one search hit.
type Result struct {
	Title   string
	Snippet string
	URL     string
}

// DefaultMaxResults limits how many hits a search returns.
const DefaultMaxResults = 5

const defaultBaseURL = "https://html.duckduckgo.com/html/"

// Client searches the DuckDuckGo HTML endpoint.
type Client struct {
	baseURL    string
	maxResults int
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// NewClient creates a search client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		maxResults: DefaultMaxResults,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithBaseURL overrides the search endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithMaxResults caps the number of results returned.
func WithMaxResults(n int) Option {
	return func(c *Client) { c.maxResults = n }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// BuildQuery forms a market-price query from the material fields.
// Empty fields are skipped.
func BuildQuery(material, brand, unit, city string) string {
	parts := []string{"what is the current price of " + material}
	if brand != "" {
		parts = append(parts, "of "+brand)
	}
	if unit != "" {
		parts = append(parts, "per "+unit)
	}
	if city != "" {
		parts = append(parts, "in "+city+" city")
	}
	return strings.Join(parts, " ")
}

// Search runs the query and returns up to maxResults hits.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	reqURL := c.baseURL + "?q=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; rfqflow/1.0)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request: status %d", resp.StatusCode)
	}

	results, err := parseResults(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}
	if len(results) > c.maxResults {
		results = results[:c.maxResults]
	}
	return results, nil
}

// parseResults walks the result page. Each hit is a "result" block whose
// title link carries class "result__a" and snippet class "result__snippet".
func parseResults(r io.Reader) ([]Result, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var results []Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "result") {
			if res, ok := extractResult(n); ok {
				results = append(results, res)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	return results, nil
}

func extractResult(block *html.Node) (Result, bool) {
	var res Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			switch {
			case hasClass(n, "result__a"):
				res.Title = strings.TrimSpace(textContent(n))
				res.URL = resolveRedirect(attr(n, "href"))
			case hasClass(n, "result__snippet"):
				res.Snippet = strings.TrimSpace(textContent(n))
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(block)

	return res, res.Title != ""
}

// resolveRedirect unwraps DuckDuckGo's redirect links, which carry the real
// destination in the "uddg" query parameter.
func resolveRedirect(href string) string {
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
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}
