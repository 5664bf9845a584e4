package httpserver

import (
	"context"
	"net/http"

	"finitefield.org/bookfinder/internal/catalog"
	"finitefield.org/bookfinder/internal/home"
	custommw "finitefield.org/bookfinder/internal/httpserver/middleware"
	"finitefield.org/bookfinder/internal/identity"
	appsession "finitefield.org/bookfinder/internal/session"
)

// screenFactory mounts a Home screen per request, restoring the identity
// stored in the session cookie.
type screenFactory struct {
	identity identity.Provider
	catalog  home.Searcher
	wishlist home.Wishlist
	rand     catalog.Rand
	genres   catalog.GenreList
	searches *home.SearchLedger
}

type mountedScreen struct {
	*home.Screen
	session *appsession.Session
}

// mount subscribes a fresh screen to a fresh identity client, then resumes
// the session's tokens so the gate sees the startup transition. Tokens
// renewed on the way are written back to the session; a rejected session
// clears the stored identity.
func (f *screenFactory) mount(ctx context.Context, r *http.Request) (*mountedScreen, error) {
	client := identity.NewClient(f.identity)
	screen, err := home.Mount(ctx, home.Deps{
		Identity: client,
		Catalog:  f.catalog,
		Wishlist: f.wishlist,
		Genres:   f.genres,
		Rand:     f.rand,
		Searches: f.searches,
		Tab:      r.URL.Query().Get("tab"),
	})
	if err != nil {
		return nil, err
	}

	sess, _ := custommw.SessionFromContext(r.Context())
	var stored appsession.Identity
	if sess != nil {
		if id := sess.Identity(); id != nil {
			stored = *id
		}
	}
	ev := client.Resume(ctx, stored.IDToken, stored.RefreshToken)
	if sess != nil {
		if ev.State == identity.StateAuthenticated {
			sess.SetIdentity(&appsession.Identity{
				UID:          ev.User.UID,
				Email:        ev.User.Email,
				IDToken:      ev.User.IDToken,
				RefreshToken: ev.User.RefreshToken,
			})
		} else {
			sess.SetIdentity(nil)
		}
	}
	return &mountedScreen{Screen: screen, session: sess}, nil
}
