// Package home is the view model behind the Home screen: search results,
// the wishlist cache and the current session, gated on identity.
package home

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"finitefield.org/bookfinder/internal/catalog"
	"finitefield.org/bookfinder/internal/gate"
	"finitefield.org/bookfinder/internal/identity"
	"finitefield.org/bookfinder/internal/platform/observability"
	"finitefield.org/bookfinder/internal/wishlist"
)

// Searcher queries the book catalogue; *catalog.Client satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string) ([]catalog.Book, error)
}

// Wishlist is the owner-scoped wishlist store; *wishlist.Store satisfies it.
type Wishlist interface {
	Load(ctx context.Context, ownerID string) []wishlist.Entry
	Add(ctx context.Context, ownerID string, book catalog.Book) (wishlist.Entry, error)
}

// Identity is the per-screen identity client; *identity.Client satisfies it.
type Identity interface {
	gate.Subscriber
	SignOut(ctx context.Context) error
}

// Deps are the collaborators of a screen.
type Deps struct {
	Identity Identity
	Catalog  Searcher
	Wishlist Wishlist
	Genres   catalog.GenreList
	Rand     catalog.Rand
	// Searches and Tab order searches issued by the same page across
	// requests. Both are optional.
	Searches *SearchLedger
	Tab      string
}

// View is a snapshot of the screen for rendering.
type View struct {
	Query    string
	Genres   []catalog.Option
	Books    []catalog.Book
	Wishlist []wishlist.Entry
	User     *identity.User
}

// Screen holds Home state for one mounted view.
type Screen struct {
	deps Deps
	gate *gate.Gate

	mu       sync.Mutex
	query    string
	books    []catalog.Book
	entries  []wishlist.Entry
	redirect string
	token    uint64
}

// Mount creates the screen and subscribes it to identity changes. When the
// identity state is already known the redirect or wishlist load has happened
// by the time Mount returns.
func Mount(ctx context.Context, deps Deps) (*Screen, error) {
	if deps.Identity == nil || deps.Catalog == nil || deps.Wishlist == nil {
		return nil, errors.New("home: identity, catalog and wishlist are required")
	}
	if len(deps.Genres.Genres) == 0 {
		deps.Genres = catalog.Genres()
	}
	s := &Screen{deps: deps}
	s.gate = gate.New(s, s)
	s.gate.Attach(ctx, deps.Identity)
	return s, nil
}

// Navigate records the route the screen must move to.
func (s *Screen) Navigate(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirect = route
	s.entries = nil
}

// Reload invalidates the wishlist cache and loads user's entries.
func (s *Screen) Reload(ctx context.Context, user *identity.User) {
	s.mu.Lock()
	s.entries = nil
	s.redirect = ""
	s.mu.Unlock()

	entries := s.deps.Wishlist.Load(ctx, user.UID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if current := s.gate.Identity(); current == nil || current.UID != user.UID {
		return
	}
	s.entries = entries
}

// Search runs query and replaces the displayed books with a sample of the
// results. The placeholder issues no request. When searches overlap, on this
// screen or from the same tab, only the most recently started one updates
// the books; superseded reports that this one lost.
func (s *Screen) Search(ctx context.Context, query string) (superseded bool) {
	if s.deps.Genres.IsPlaceholder(query) {
		return false
	}

	s.mu.Lock()
	s.token++
	token := s.token
	s.query = query
	s.mu.Unlock()

	key := s.searchKey()
	ticket := s.deps.Searches.begin(key)

	// Failures are logged by the catalog client and arrive as an empty list.
	books, _ := s.deps.Catalog.Search(ctx, query)
	sampled := catalog.Sample(books, catalog.SampleSize, s.deps.Rand)
	latest := s.deps.Searches.settle(key, ticket)

	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.token || !latest {
		observability.FromContext(ctx).Debug("discarding stale search results",
			zap.String("query", query),
			zap.Uint64("token", token),
			zap.Uint64("ticket", ticket),
		)
		return true
	}
	s.books = sampled
	return false
}

// searchKey scopes the tab to the signed-in user so tabs of different
// users never share an entry.
func (s *Screen) searchKey() string {
	if s.deps.Tab == "" {
		return ""
	}
	user := s.gate.Identity()
	if user == nil {
		return ""
	}
	return user.UID + "/" + s.deps.Tab
}

// AddToWishlist saves book for the current identity and appends it to the
// cache on success. Without an identity, or on failure, nothing changes.
func (s *Screen) AddToWishlist(ctx context.Context, book catalog.Book) {
	user := s.gate.Identity()
	if user == nil {
		return
	}
	entry, err := s.deps.Wishlist.Add(ctx, user.UID, book)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if current := s.gate.Identity(); current == nil || current.UID != user.UID {
		return
	}
	s.entries = append(s.entries, entry)
}

// SignOut signs out through the identity client. Success moves the gate to
// Unauthenticated, which redirects to the login route. Failures are logged
// and leave the screen as it was.
func (s *Screen) SignOut(ctx context.Context) error {
	if err := s.deps.Identity.SignOut(ctx); err != nil {
		observability.FromContext(ctx).Error("sign out failed",
			zap.String("code", identity.ErrorCode(err)),
			zap.String("message", identity.ErrorMessage(err)),
		)
		return err
	}
	return nil
}

// Redirect returns the route the screen navigated to, or "".
func (s *Screen) Redirect() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redirect
}

// Identity returns the session user, or nil.
func (s *Screen) Identity() *identity.User {
	return s.gate.Identity()
}

// View snapshots the screen.
func (s *Screen) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		Query:    s.query,
		Genres:   s.deps.Genres.Options(),
		Books:    append([]catalog.Book(nil), s.books...),
		Wishlist: append([]wishlist.Entry(nil), s.entries...),
		User:     s.gate.Identity(),
	}
}

// Close releases the identity subscription.
func (s *Screen) Close() {
	s.gate.Close()
}
