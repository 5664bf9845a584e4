package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"finitefield.org/bookfinder/internal/platform/observability"
)

const (
	defaultSearchEndpoint = "https://openlibrary.org/search.json"
	defaultImageHost      = "https://covers.openlibrary.org"
	defaultTimeout        = 10 * time.Second
	instrumentationName   = "finitefield.org/bookfinder/internal/catalog"
)

// ErrNetwork classifies every search failure: transport errors, non-2xx
// statuses and undecodable bodies.
var ErrNetwork = errors.New("catalog: network failure")

// HTTPClient captures the subset of http.Client used by the search client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Config configures the search client.
type Config struct {
	SearchEndpoint string
	ImageHost      string
	Timeout        time.Duration
	UserAgent      string
	HTTPClient     HTTPClient
}

// Client queries the Open Library search API.
type Client struct {
	endpoint  *url.URL
	imageHost string
	userAgent string
	http      HTTPClient

	latency metric.Float64Histogram
}

// NewClient constructs a search client with defaults for unset fields.
func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.SearchEndpoint)
	if endpoint == "" {
		endpoint = defaultSearchEndpoint
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("catalog: invalid search endpoint %q", endpoint)
	}

	imageHost := strings.TrimRight(strings.TrimSpace(cfg.ImageHost), "/")
	if imageHost == "" {
		imageHost = defaultImageHost
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	latency, err := otel.Meter(instrumentationName).Float64Histogram(
		"catalog.search.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of catalog search requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("catalog: register metric: %w", err)
	}

	return &Client{
		endpoint:  parsed,
		imageHost: imageHost,
		userAgent: strings.TrimSpace(cfg.UserAgent),
		http:      httpClient,
		latency:   latency,
	}, nil
}

type searchResponse struct {
	Docs []searchDoc `json:"docs"`
}

type searchDoc struct {
	CoverID    int64    `json:"cover_i"`
	Title      string   `json:"title"`
	AuthorName []string `json:"author_name"`
}

// Search issues one GET for query and maps every returned record to a Book.
// Failures are logged and yield an empty result together with an error
// wrapping ErrNetwork; there are no retries and no partial results.
func (c *Client) Search(ctx context.Context, query string) ([]Book, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "catalog.Search")
	defer span.End()
	span.SetAttributes(attribute.String("catalog.query", query))

	start := time.Now()
	books, err := c.search(ctx, query)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		observability.FromContext(ctx).Error("catalog search failed",
			zap.String("query", query),
			zap.Error(err),
		)
		books = []Book{}
	}
	span.SetAttributes(attribute.Int("catalog.results", len(books)))
	c.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("outcome", outcome)))

	return books, err
}

func (c *Client) search(ctx context.Context, query string) ([]Book, error) {
	u := *c.endpoint
	values := u.Query()
	values.Set("q", query)
	u.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrNetwork, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: unexpected status %d", ErrNetwork, resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrNetwork, err)
	}

	books := make([]Book, 0, len(payload.Docs))
	for i, doc := range payload.Docs {
		books = append(books, c.toBook(i, doc))
	}
	return books, nil
}

func (c *Client) toBook(index int, doc searchDoc) Book {
	author := ""
	if len(doc.AuthorName) > 0 {
		author = normalizeText(doc.AuthorName[0])
	}
	return Book{
		ID:       index,
		ImageURL: c.CoverURL(doc.CoverID),
		Title:    normalizeText(doc.Title),
		Author:   author,
	}
}

// CoverURL returns the medium cover image for coverID, or DefaultImage when
// the record has none.
func (c *Client) CoverURL(coverID int64) string {
	if coverID == 0 {
		return DefaultImage
	}
	return fmt.Sprintf("%s/b/id/%d-M.jpg", c.imageHost, coverID)
}
