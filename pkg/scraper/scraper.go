package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/pkg/logger"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/110.0.5481.177 Safari/537.36"

type ScraperConfig struct {
	MaxDepth          int
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	UserAgent         string
	OnProgress        func(url string)
}

// Scraper acquires raw text from web pages and local files.
type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *logrus.Entry
}

func NewWithConfig(config ScraperConfig) *Scraper {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 1
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		log:     logger.For("scraper"),
	}
}

func New() *Scraper {
	return NewWithConfig(ScraperConfig{})
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// Fetch returns the text of a URL or a local file. Failures come back as
// errors; an unreadable or textless source is never silently turned into
// partial content.
func (s *Scraper) Fetch(ctx context.Context, source string) (string, error) {
	if isURL(source) {
		document, _, err := s.fetchPage(ctx, source)
		if err != nil {
			return "", err
		}
		return document.Content, nil
	}
	return readFile(source)
}

func (s *Scraper) fetchPage(ctx context.Context, urlStr string) (models.Document, *goquery.Document, error) {
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return models.Document{}, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return models.Document{}, nil, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return models.Document{}, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Document{}, nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return models.Document{}, nil, err
	}

	document := models.Document{
		URL:     urlStr,
		Title:   strings.TrimSpace(doc.Find("title").Text()),
		Content: extractText(doc),
		Metadata: map[string]interface{}{
			"time":         time.Now(),
			"contentType":  resp.Header.Get("Content-Type"),
			"lastModified": resp.Header.Get("Last-Modified"),
		},
	}
	return document, doc, nil
}

// extractText joins the non-empty paragraphs of a page with newlines. Pages
// without paragraphs fall back to the main content area or the body.
func extractText(doc *goquery.Document) string {
	var paragraphs []string
	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) > 0 {
		return strings.Join(paragraphs, "\n")
	}
	return extractMainContent(doc)
}

func extractMainContent(doc *goquery.Document) string {
	// Try to find main content area
	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".documentation",
		"#documentation",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}

	// Fallback to body if no main content found
	if content == "" {
		content = doc.Find("body").Text()
	}

	return cleanContent(content)
}

func cleanContent(content string) string {
	// Remove extra whitespace
	content = strings.Join(strings.Fields(content), " ")

	// Remove common noise
	noisePatterns := []string{
		"Cookie Policy",
		"Accept Cookies",
		"Privacy Policy",
		"Terms of Service",
	}

	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	return strings.TrimSpace(content)
}

// Crawl fetches startURL and follows same-host links up to MaxDepth. Pages
// that fail are logged and skipped.
func (s *Scraper) Crawl(ctx context.Context, startURL string) ([]models.Document, error) {
	base, err := url.Parse(startURL)
	if err != nil {
		return nil, err
	}

	var documents []models.Document
	visited := make(map[string]bool)
	if err := s.crawl(ctx, base.Host, startURL, 0, visited, &documents); err != nil {
		return documents, err
	}
	return documents, nil
}

func (s *Scraper) crawl(ctx context.Context, host, urlStr string, depth int, visited map[string]bool, documents *[]models.Document) error {
	if depth > s.config.MaxDepth || visited[urlStr] {
		return nil
	}
	if !s.shouldProcessURL(host, urlStr) {
		return nil
	}
	visited[urlStr] = true

	document, doc, err := s.fetchPage(ctx, urlStr)
	if err != nil {
		if depth == 0 {
			return err
		}
		s.log.WithError(err).WithField("url", urlStr).Warn("skipping page")
		return nil
	}
	*documents = append(*documents, document)

	var links []string
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(href)
		if err != nil {
			s.log.WithError(err).Debug("error parsing URL")
			return
		}
		page, _ := url.Parse(urlStr)
		abs := page.ResolveReference(ref)
		abs.Fragment = ""
		links = append(links, abs.String())
	})

	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.crawl(ctx, host, link, depth+1, visited, documents); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scraper) shouldProcessURL(host, urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	// Check if URL is from the same host
	if parsedURL.Host != host {
		return false
	}

	// Check extensions
	ext := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, allowedExt := range s.config.AllowedExtensions {
		if strings.HasSuffix(ext, allowedExt) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	// Check ignore patterns
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}
