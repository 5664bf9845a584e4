package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"finitefield.org/bookfinder/internal/catalog"
	"finitefield.org/bookfinder/internal/home"
	"finitefield.org/bookfinder/internal/httpserver"
	"finitefield.org/bookfinder/internal/identity"
	"finitefield.org/bookfinder/internal/live"
	appsession "finitefield.org/bookfinder/internal/session"
	"finitefield.org/bookfinder/internal/wishlist"
)

// ServerOption customises the HTTP server configuration for tests.
type ServerOption func(*httpserver.Config)

// WithIdentity overrides the identity provider.
func WithIdentity(provider identity.Provider) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Identity = provider
	}
}

// WithCatalog overrides the book search.
func WithCatalog(searcher home.Searcher) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Catalog = searcher
	}
}

// WithWishlist overrides the wishlist store.
func WithWishlist(store home.Wishlist) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Wishlist = store
	}
}

// WithHub shares a live hub with the test.
func WithHub(hub *live.Hub) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Hub = hub
	}
}

// StaticCatalog answers searches from a fixed map and records the queries.
type StaticCatalog struct {
	mu      sync.Mutex
	Results map[string][]catalog.Book
	queries []string
}

// NewStaticCatalog returns a catalog serving n generated books per genre.
func NewStaticCatalog(n int) *StaticCatalog {
	results := make(map[string][]catalog.Book)
	for _, genre := range catalog.Genres().Genres {
		books := make([]catalog.Book, n)
		for i := range books {
			books[i] = catalog.Book{
				ID:       i,
				Title:    fmt.Sprintf("%s %02d", genre, i),
				Author:   "Author " + genre,
				ImageURL: catalog.DefaultImage,
			}
		}
		results[genre] = books
	}
	return &StaticCatalog{Results: results}
}

// Search implements home.Searcher.
func (c *StaticCatalog) Search(_ context.Context, query string) ([]catalog.Book, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, query)
	return append([]catalog.Book(nil), c.Results[query]...), nil
}

// Queries returns the queries seen so far.
func (c *StaticCatalog) Queries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.queries...)
}

// NewServer constructs an httptest server running the full HTTP stack on
// in-memory backends.
func NewServer(t testing.TB, opts ...ServerOption) *httptest.Server {
	t.Helper()

	sessions, err := appsession.NewManager(appsession.Config{
		CookieName: "bookfinder_session",
		HashKey:    []byte("0123456789abcdef0123456789abcdef"),
		BlockKey:   []byte("fedcba9876543210fedcba9876543210"),
		Lifetime:   time.Hour,
	})
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}
	store, err := wishlist.NewStore(wishlist.NewMemoryRepository())
	if err != nil {
		t.Fatalf("wishlist store: %v", err)
	}

	cfg := httpserver.Config{
		Address:  ":0",
		Sessions: sessions,
		Identity: identity.NewMemoryProvider([]byte("test-signing-secret"), identity.WithBcryptCost(4)),
		Catalog:  NewStaticCatalog(35),
		Wishlist: store,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := httpserver.New(cfg)
	if err != nil {
		t.Fatalf("httpserver.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}
