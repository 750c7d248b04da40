package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/pageqa/backend/internal/domain"
	"github.com/pageqa/backend/pkg/logger"
)

// TextTags are extracted in this order, one group per tag.
var TextTags = []string{"h1", "h2", "h3", "h4", "h5", "h6", "p", "li", "a"}

const (
	defaultTimeout   = 15 * time.Second
	maxBodyBytes     = 10 << 20
	defaultUserAgent = "Mozilla/5.0 (compatible; pageqa/1.0)"
)

type Client struct {
	httpClient *http.Client
	userAgent  string
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		userAgent: defaultUserAgent,
	}
}

// FetchText downloads url and returns its readable text. Any transport error
// or non-2xx status wraps domain.ErrFetch.
func (c *Client) FetchText(ctx context.Context, url string) (string, error) {
	logger.Info("Scraping page", zap.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %w", domain.ErrFetch, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s returned status %d", domain.ErrFetch, url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: failed to parse HTML: %w", domain.ErrFetch, err)
	}

	text := ExtractText(doc)

	logger.Info("Page scraped",
		zap.String("url", url),
		zap.String("title", extractTitle(doc)),
		zap.Int("chars", len([]rune(text))),
	)

	return text, nil
}

// ExtractText joins the trimmed text of every element of each tag group with
// a newline, and the groups with a blank line.
func ExtractText(doc *goquery.Document) string {
	groups := make([]string, len(TextTags))
	for i, tag := range TextTags {
		var parts []string
		doc.Find(tag).Each(func(_ int, s *goquery.Selection) {
			parts = append(parts, strings.TrimSpace(s.Text()))
		})
		groups[i] = strings.Join(parts, "\n")
	}

	return strings.TrimSpace(strings.Join(groups, "\n\n"))
}

func extractTitle(doc *goquery.Document) string {
	title := doc.Find("title").First().Text()
	if title == "" {
		title = doc.Find("h1").First().Text()
	}
	if title == "" {
		title = "Untitled"
	}
	return strings.TrimSpace(title)
}
