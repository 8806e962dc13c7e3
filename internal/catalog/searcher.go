package catalog

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shopping-assistant/internal/models"
	"shopping-assistant/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	MinResults     = 1
	MaxResults     = 10
	DefaultResults = 5
)

// Searcher finds products matching a free-text query
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]models.Product, error)
}

// FetchError is returned when the catalog responds with a non-success status
type FetchError struct {
	StatusCode int
	Status     string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("HTTP Error: %d - %s", e.StatusCode, e.Status)
}

// browserHeaders make the request look like a regular desktop browser so
// basic bot filters let it through. Best effort only.
var browserHeaders = map[string]string{
	"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.5",
	"Accept-Encoding":           "gzip, deflate",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
}

// AmazonSearcher scrapes the marketplace search results page
type AmazonSearcher struct {
	origin  *url.URL
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewAmazonSearcher creates a searcher for the marketplace at baseURL.
// rps <= 0 disables pacing.
func NewAmazonSearcher(baseURL string, timeout time.Duration, rps float64, burst int) (*AmazonSearcher, error) {
	origin, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid catalog base url: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid catalog base url: %q", baseURL)
	}

	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}

	return &AmazonSearcher{
		origin:  origin,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  util.GetLogger(),
	}, nil
}

// Search fetches and parses the results page for query
func (s *AmazonSearcher) Search(ctx context.Context, query string, maxResults int) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "AmazonSearcher.Search", attribute.String("query", query))
	defer span.End()

	maxResults = ClampResults(maxResults)

	searchURL := *s.origin
	searchURL.Path = "/s"
	searchURL.RawQuery = url.Values{"k": {query}}.Encode()

	body, err := s.fetch(ctx, searchURL.String())
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	defer body.Close()

	products, err := ExtractSearchResults(body, s.origin, maxResults)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Catalog search completed",
		zap.String("query", query),
		zap.Int("results", len(products)))

	return products, nil
}

func (s *AmazonSearcher) fetch(ctx context.Context, target string) (io.ReadCloser, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("catalog rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request: %w", err)
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	util.CatalogFetchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.CatalogFetchErrorsTotal.WithLabelValues("network").Inc()
		return nil, fmt.Errorf("failed to fetch catalog page: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		util.CatalogFetchErrorsTotal.WithLabelValues("status").Inc()
		return nil, &FetchError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}

	return decodeBody(resp)
}

// decodeBody undoes the content encoding we asked for explicitly; the
// transport only decompresses transparently when it set the header itself.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to read gzip body: %w", err)
		}
		return &wrappedBody{Reader: zr, closers: []io.Closer{zr, resp.Body}}, nil
	case "deflate":
		fr := flate.NewReader(resp.Body)
		return &wrappedBody{Reader: fr, closers: []io.Closer{fr, resp.Body}}, nil
	default:
		return resp.Body, nil
	}
}

type wrappedBody struct {
	io.Reader
	closers []io.Closer
}

func (w *wrappedBody) Close() error {
	var first error
	for _, c := range w.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ClampResults bounds a requested result count to 1..10, defaulting when unset
func ClampResults(n int) int {
	switch {
	case n == 0:
		return DefaultResults
	case n < MinResults:
		return MinResults
	case n > MaxResults:
		return MaxResults
	default:
		return n
	}
}
